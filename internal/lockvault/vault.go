// Package lockvault provides per-key mutual exclusion for the resolution
// engine. Entries are created on demand (compute-if-absent), are re-entrant for
// the owner carried in the context, and are evicted once they have been idle
// for longer than the configured timeout with no holder or waiter.
package lockvault

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/any-hub/any-repo/internal/pathkey"
)

// DefaultIdleTimeout 是未配置时的空闲淘汰时间。
const DefaultIdleTimeout = 5 * time.Minute

type ownerKey struct{}

// WithOwner 为 ctx 绑定一个新的锁持有者标识，覆盖 ctx 上已有的标识。
// 同一标识下的重复 Acquire 可重入；共享父 ctx 的多次调用互不重入。
func WithOwner(ctx context.Context) context.Context {
	return context.WithValue(ctx, ownerKey{}, uuid.NewString())
}

// Owner 返回 ctx 携带的持有者标识。
func Owner(ctx context.Context) string {
	owner, _ := ownerFrom(ctx)
	return owner
}

func ownerFrom(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}

// Options 配置 Vault。
type Options struct {
	IdleTimeout time.Duration
	Now         func() time.Time
}

// Vault 以 PathKey 为粒度提供互斥。
type Vault struct {
	idle time.Duration
	now  func() time.Time

	mu        sync.Mutex
	entries   map[pathkey.PathKey]*entry
	lastSweep time.Time
}

type entry struct {
	sem chan struct{}

	// 以下字段受 entry.mu 保护。
	mu    sync.Mutex
	owner string
	holds int

	// 以下字段受 Vault.mu 保护。
	refs     int
	lastUsed time.Time
}

// New 创建 Vault。
func New(opts Options) *Vault {
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Vault{
		idle:    idle,
		now:     now,
		entries: make(map[pathkey.PathKey]*entry),
	}
}

// Handle 是一次 Acquire 的持有凭证。
type Handle struct {
	Key     pathkey.PathKey
	release func()
}

// Release 释放锁；重复调用是安全的。
func (h *Handle) Release() {
	if h != nil {
		h.release()
	}
}

// Acquire 获取 key 对应的锁。ctx 未绑定持有者时不可重入；
// 等待期间 ctx 取消会返回 ctx.Err()。
func (v *Vault) Acquire(ctx context.Context, key pathkey.PathKey) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	owner, hasOwner := ownerFrom(ctx)

	v.mu.Lock()
	// 访问触发的清理按 idle/2 限频，其余交给 Run。
	if v.now().Sub(v.lastSweep) > v.idle/2 {
		v.sweepLocked()
	}
	e := v.entries[key]
	if e == nil {
		e = &entry{sem: make(chan struct{}, 1)}
		v.entries[key] = e
	}
	e.refs++
	v.mu.Unlock()

	if hasOwner {
		e.mu.Lock()
		if e.holds > 0 && e.owner == owner {
			e.holds++
			e.mu.Unlock()
			return &Handle{Key: key, release: v.releaser(e)}, nil
		}
		e.mu.Unlock()
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		v.unref(e)
		return nil, ctx.Err()
	}

	e.mu.Lock()
	e.owner = owner
	e.holds = 1
	e.mu.Unlock()
	return &Handle{Key: key, release: v.releaser(e)}, nil
}

// With 在持有 key 的锁期间执行 fn。
func (v *Vault) With(ctx context.Context, key pathkey.PathKey, fn func() error) error {
	h, err := v.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn()
}

func (v *Vault) releaser(e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.holds--
			if e.holds == 0 {
				e.owner = ""
				<-e.sem
			}
			e.mu.Unlock()
			v.unref(e)
		})
	}
}

func (v *Vault) unref(e *entry) {
	v.mu.Lock()
	e.refs--
	e.lastUsed = v.now()
	v.mu.Unlock()
}

// Sweep 淘汰空闲条目，返回淘汰数量。
func (v *Vault) Sweep() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sweepLocked()
}

func (v *Vault) sweepLocked() int {
	now := v.now()
	v.lastSweep = now
	cutoff := now.Add(-v.idle)
	evicted := 0
	for key, e := range v.entries {
		if e.refs == 0 && e.lastUsed.Before(cutoff) {
			delete(v.entries, key)
			evicted++
		}
	}
	return evicted
}

// Len 返回当前保留的条目数。
func (v *Vault) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// Run 周期性执行 Sweep，直到 ctx 结束。
func (v *Vault) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = v.idle
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Sweep()
		}
	}
}
