package remotecache

import (
	"sort"
	"sync"
	"time"

	"github.com/any-hub/any-repo/internal/pathkey"
)

// Options 配置 Manager。
type Options struct {
	// MaxOutcomesPerRemote 限制每个远程仓库保留的结论数量。
	MaxOutcomesPerRemote int
	Now                  func() time.Time
	Recorder             OutcomeRecorder
}

// Manager 持有全部远程仓库的结论表，由引擎实例独占。
type Manager struct {
	capacity int
	now      func() time.Time
	recorder OutcomeRecorder

	mu     sync.RWMutex
	tables map[string]*Table
}

// NewManager 创建 Manager。
func NewManager(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		capacity: opts.MaxOutcomesPerRemote,
		now:      now,
		recorder: opts.Recorder,
		tables:   make(map[string]*Table),
	}
}

// Register 为远程仓库创建（或替换 TTL 配置后重建）结论表。
func (m *Manager) Register(remote string, ttls TTLs) *Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[remote]; ok && t.ttls == ttls {
		return t
	}
	t := newTable(remote, ttls, m.capacity, m.now, m.recorder)
	m.tables[remote] = t
	return t
}

// Table 返回远程仓库的结论表，未注册时返回 false。
func (m *Manager) Table(remote string) (*Table, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[remote]
	return t, ok
}

// RemoveFromCaches 清除 key 指向的结论。RepoKey 为 pathkey.Any 时作用于全部远程仓库；
// removeSubPaths 为 true 时同时清除子路径。返回清除的条目总数。
func (m *Manager) RemoveFromCaches(key pathkey.PathKey, removeSubPaths bool) int {
	removed := 0
	for _, t := range m.matching(key.RepoKey()) {
		removed += t.Remove(key.Path(), removeSubPaths)
	}
	return removed
}

// ClearCaches 清空 remote 的结论表；remote 为空或 pathkey.Any 时清空全部。
func (m *Manager) ClearCaches(remote string) {
	if remote == "" {
		remote = pathkey.Any
	}
	for _, t := range m.matching(remote) {
		t.Clear()
	}
}

// Stats 返回各远程仓库的统计信息，按名称排序。
func (m *Manager) Stats() []Stats {
	tables := m.matching(pathkey.Any)
	out := make([]Stats, 0, len(tables))
	for _, t := range tables {
		out = append(out, t.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Remote < out[j].Remote })
	return out
}

func (m *Manager) matching(remote string) []*Table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if remote == pathkey.Any {
		out := make([]*Table, 0, len(m.tables))
		for _, t := range m.tables {
			out = append(out, t)
		}
		return out
	}
	if t, ok := m.tables[remote]; ok {
		return []*Table{t}
	}
	return nil
}
