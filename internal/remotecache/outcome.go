// Package remotecache records, per remote repository and path, the outcome of
// the last upstream interaction (Hit, Failed or Missed) together with the time
// it happened. Each kind has its own TTL; an expired or unknown outcome means
// the caller must contact the upstream again.
package remotecache

import (
	"time"
)

// Kind 是缓存结论的类型。
type Kind string

const (
	KindUnknown Kind = "unknown"
	KindHit     Kind = "hit"
	KindFailed  Kind = "failed"
	KindMissed  Kind = "missed"
)

// Outcome 是某个路径最近一次上游交互的结论。
//
//	Hit:    At=StoredAt，携带 ETag/LastModified 供条件请求复用
//	Failed: At=FirstFailedAt，Err 为首个错误；保留先前 Hit 的校验头
//	Missed: At=CheckedAt
type Outcome struct {
	Kind         Kind
	At           time.Time
	TTL          time.Duration
	ETag         string
	LastModified string
	Err          error
}

// Expired 判断结论是否过期：TTL<=0 视为永不缓存，即始终过期。
func (o Outcome) Expired(now time.Time) bool {
	if o.Kind == KindUnknown {
		return true
	}
	if o.TTL <= 0 {
		return true
	}
	return now.Sub(o.At) > o.TTL
}

// Age 返回结论产生至今的时长。
func (o Outcome) Age(now time.Time) time.Duration {
	if o.At.IsZero() {
		return 0
	}
	return now.Sub(o.At)
}

// Action 是 Decide 给出的下一步动作。
type Action int

const (
	// ActionFetch 需要联系上游（首次、过期或被清除）。
	ActionFetch Action = iota
	// ActionServeCached Hit 仍然新鲜，直接使用本地副本。
	ActionServeCached
	// ActionNotFound Missed 仍然新鲜，直接返回 NotFound。
	ActionNotFound
	// ActionFailed Failed 仍然新鲜，不再请求上游。
	ActionFailed
)

func (a Action) String() string {
	switch a {
	case ActionServeCached:
		return "serve-cached"
	case ActionNotFound:
		return "not-found"
	case ActionFailed:
		return "failed"
	default:
		return "fetch"
	}
}

// TTLs 是单个远程仓库三类结论各自的有效期。
type TTLs struct {
	Retrieval time.Duration
	Failed    time.Duration
	Missed    time.Duration
}

// Conditional 是发起条件请求时可复用的校验头。
type Conditional struct {
	ETag         string
	LastModified string
}

// IsZero 表示没有可用的校验头。
func (c Conditional) IsZero() bool {
	return c.ETag == "" && c.LastModified == ""
}
