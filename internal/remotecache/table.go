package remotecache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/any-hub/any-repo/internal/pathkey"
)

// DefaultMaxOutcomes 是单个远程仓库结论表的默认容量。
const DefaultMaxOutcomes = 100_000

// OutcomeRecorder 接收结论写入事件，通常由 metrics.Recorder 实现。
type OutcomeRecorder interface {
	RemoteOutcome(remote, outcome string)
}

// Table 保存单个远程仓库的结论。容量有限，被淘汰的结论只意味着下一次需要重新验证。
type Table struct {
	remote   string
	ttls     TTLs
	now      func() time.Time
	recorder OutcomeRecorder

	// mu 串行化“读取旧结论再写入新结论”的组合操作；单次读取直接走 lru 内部锁。
	mu       sync.Mutex
	outcomes *lru.Cache[string, Outcome]
}

func newTable(remote string, ttls TTLs, capacity int, now func() time.Time, recorder OutcomeRecorder) *Table {
	if capacity <= 0 {
		capacity = DefaultMaxOutcomes
	}
	outcomes, err := lru.New[string, Outcome](capacity)
	if err != nil {
		// 只有 capacity<=0 时才会出错，上面已排除。
		panic(err)
	}
	return &Table{
		remote:   remote,
		ttls:     ttls,
		now:      now,
		recorder: recorder,
		outcomes: outcomes,
	}
}

// Remote 返回所属远程仓库的 key。
func (t *Table) Remote() string { return t.remote }

// TTLs 返回当前生效的有效期配置。
func (t *Table) TTLs() TTLs { return t.ttls }

// Lookup 返回路径当前的结论；不存在时 Kind 为 KindUnknown。
func (t *Table) Lookup(p string) Outcome {
	if o, ok := t.outcomes.Peek(normalizePath(p)); ok {
		return o
	}
	return Outcome{Kind: KindUnknown}
}

// Decide 依据当前结论给出下一步动作，同时返回结论本身。
func (t *Table) Decide(p string) (Action, Outcome) {
	o, ok := t.outcomes.Get(normalizePath(p))
	if !ok {
		return ActionFetch, Outcome{Kind: KindUnknown}
	}
	if o.Expired(t.now()) {
		return ActionFetch, o
	}
	switch o.Kind {
	case KindHit:
		return ActionServeCached, o
	case KindMissed:
		return ActionNotFound, o
	case KindFailed:
		return ActionFailed, o
	default:
		return ActionFetch, o
	}
}

// Validators 返回可用于条件请求的校验头（来自 Hit，或 Failed 中保留的值）。
func (t *Table) Validators(p string) Conditional {
	o := t.Lookup(p)
	return Conditional{ETag: o.ETag, LastModified: o.LastModified}
}

// RecordHit 在成功写入本地副本后记录 Hit。
func (t *Table) RecordHit(p string, etag, lastModified string) Outcome {
	o := Outcome{
		Kind:         KindHit,
		At:           t.now(),
		TTL:          t.ttls.Retrieval,
		ETag:         etag,
		LastModified: lastModified,
	}
	t.store(p, o)
	return o
}

// RefreshHit 处理 304：重置 StoredAt，沿用已知的校验头（上游给出新值时覆盖）。
func (t *Table) RefreshHit(p string, etag, lastModified string) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.Lookup(p)
	if etag == "" {
		etag = prev.ETag
	}
	if lastModified == "" {
		lastModified = prev.LastModified
	}
	o := Outcome{
		Kind:         KindHit,
		At:           t.now(),
		TTL:          t.ttls.Retrieval,
		ETag:         etag,
		LastModified: lastModified,
	}
	t.storeLocked(p, o)
	return o
}

// RecordMissed 记录上游 404。
func (t *Table) RecordMissed(p string) Outcome {
	o := Outcome{Kind: KindMissed, At: t.now(), TTL: t.ttls.Missed}
	t.store(p, o)
	return o
}

// RecordFailed 记录上游错误。连续失败时保留首次失败时间，避免 TTL 被不断顺延。
func (t *Table) RecordFailed(p string, cause error) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	prev := t.Lookup(p)
	o := Outcome{
		Kind:         KindFailed,
		At:           now,
		TTL:          t.ttls.Failed,
		ETag:         prev.ETag,
		LastModified: prev.LastModified,
		Err:          cause,
	}
	if prev.Kind == KindFailed && !prev.Expired(now) {
		o.At = prev.At
		o.Err = prev.Err
	}
	t.storeLocked(p, o)
	return o
}

// Remove 清除单个路径的结论；subPaths 为 true 时同时清除其下所有路径。
// 返回被清除的条目数。
func (t *Table) Remove(p string, subPaths bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	target := pathkey.New(t.remote, p)
	removed := 0
	if t.outcomes.Remove(target.Path()) {
		removed++
	}
	if !subPaths {
		return removed
	}
	for _, k := range t.outcomes.Keys() {
		if target.IsAncestorOf(pathkey.New(t.remote, k)) && t.outcomes.Remove(k) {
			removed++
		}
	}
	return removed
}

// Clear 清空全部结论。
func (t *Table) Clear() {
	t.outcomes.Purge()
}

// Stats 统计各类结论数量，过期结论单独计数。
func (t *Table) Stats() Stats {
	now := t.now()
	stats := Stats{Remote: t.remote, Counts: map[Kind]int{}}
	for _, k := range t.outcomes.Keys() {
		o, ok := t.outcomes.Peek(k)
		if !ok {
			continue
		}
		if o.Expired(now) {
			stats.Expired++
			continue
		}
		stats.Counts[o.Kind]++
	}
	stats.Total = t.outcomes.Len()
	return stats
}

func (t *Table) store(p string, o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.storeLocked(p, o)
}

func (t *Table) storeLocked(p string, o Outcome) {
	t.outcomes.Add(normalizePath(p), o)
	if t.recorder != nil {
		t.recorder.RemoteOutcome(t.remote, string(o.Kind))
	}
}

func normalizePath(p string) string {
	return pathkey.New("", p).Path()
}

// Stats 是单个结论表的统计快照。
type Stats struct {
	Remote  string       `json:"remote"`
	Total   int          `json:"total"`
	Expired int          `json:"expired"`
	Counts  map[Kind]int `json:"counts"`
}
