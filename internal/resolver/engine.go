// Package resolver is the entry point of the resolution engine. An Engine owns
// the outcome tables, the lock vault and the per-repository policies of one
// configuration; it resolves (repoKey, path) requests against Local, Remote and
// Virtual repositories and deploys content into Local repositories.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-repo/internal/checksum"
	"github.com/any-hub/any-repo/internal/layout"
	"github.com/any-hub/any-repo/internal/lockvault"
	"github.com/any-hub/any-repo/internal/logging"
	"github.com/any-hub/any-repo/internal/metrics"
	"github.com/any-hub/any-repo/internal/pathkey"
	"github.com/any-hub/any-repo/internal/pathmatch"
	"github.com/any-hub/any-repo/internal/remotecache"
	"github.com/any-hub/any-repo/internal/repository"
	"github.com/any-hub/any-repo/internal/snapshot"
	"github.com/any-hub/any-repo/internal/storage"
	"github.com/any-hub/any-repo/internal/transport"
)

// Options 汇总引擎依赖。Registry、Store 与 Fetcher 必填，其余为空时使用默认实现。
type Options struct {
	Registry *repository.Registry
	Store    storage.Store
	Fetcher  transport.Fetcher

	Vault   *lockvault.Vault
	Caches  *remotecache.Manager
	Matcher *pathmatch.Matcher
	Metrics *metrics.Recorder
	Logger  *logrus.Logger
	Now     func() time.Time

	// MaxOutcomesPerRemote 仅在 Caches 为空、由引擎自行创建时生效。
	MaxOutcomesPerRemote int
}

// Engine 是解析引擎实例；所有方法可并发调用。
type Engine struct {
	registry *repository.Registry
	store    storage.Store
	fetcher  transport.Fetcher
	vault    *lockvault.Vault
	caches   *remotecache.Manager
	matcher  *pathmatch.Matcher
	metrics  *metrics.Recorder
	logger   *logrus.Logger
	now      func() time.Time

	policies map[string]checksum.Policy
	adapters map[string]snapshot.Adapter
	layouts  map[string]layout.Layout
	offline  map[string]*atomic.Bool
	tables   map[string]*remotecache.Table
}

// New 根据注册表构造引擎：为每个远程仓库注册结论表，按名称选定校验策略与快照改写器。
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.New("resolver: registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("resolver: store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("resolver: fetcher is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	vault := opts.Vault
	if vault == nil {
		vault = lockvault.New(lockvault.Options{Now: now})
	}
	caches := opts.Caches
	if caches == nil {
		caches = remotecache.NewManager(remotecache.Options{
			MaxOutcomesPerRemote: opts.MaxOutcomesPerRemote,
			Now:                  now,
			Recorder:             opts.Metrics,
		})
	}
	matcher := opts.Matcher
	if matcher == nil {
		matcher = pathmatch.NewMatcher()
	}
	e := &Engine{
		registry: opts.Registry,
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		vault:    vault,
		caches:   caches,
		matcher:  matcher,
		metrics:  opts.Metrics,
		logger:   logger,
		now:      now,
		policies: make(map[string]checksum.Policy),
		adapters: make(map[string]snapshot.Adapter),
		layouts:  make(map[string]layout.Layout),
		offline:  make(map[string]*atomic.Bool),
		tables:   make(map[string]*remotecache.Table),
	}

	for _, d := range opts.Registry.List() {
		key := d.RepoKey()
		switch repo := d.(type) {
		case *repository.Local:
			if err := e.bindPolicy(key, repo.ChecksumPolicy); err != nil {
				return nil, err
			}
			l, err := resolveLayout(key, repo.Layout)
			if err != nil {
				return nil, err
			}
			e.layouts[key] = l
			behavior := snapshot.Deployer
			if l.SnapshotAware {
				behavior = repo.SnapshotBehavior
			}
			e.adapters[key] = snapshot.New(behavior)
		case *repository.Remote:
			if err := e.bindPolicy(key, repo.ChecksumPolicy); err != nil {
				return nil, err
			}
			l, err := resolveLayout(key, repo.Layout)
			if err != nil {
				return nil, err
			}
			e.layouts[key] = l
			flag := &atomic.Bool{}
			flag.Store(repo.Offline)
			e.offline[key] = flag
			e.tables[key] = caches.Register(key, remotecache.TTLs{
				Retrieval: repo.RetrievalTTL,
				Failed:    repo.FailedTTL,
				Missed:    repo.MissedTTL,
			})
		}
	}
	return e, nil
}

func (e *Engine) bindPolicy(key, name string) error {
	p, err := checksum.ForName(name)
	if err != nil {
		return fmt.Errorf("repository %q: %w", key, err)
	}
	e.policies[key] = p
	return nil
}

func resolveLayout(key, name string) (layout.Layout, error) {
	l, ok := layout.Resolve(name)
	if !ok {
		return layout.Layout{}, fmt.Errorf("repository %q: unknown layout %q", key, name)
	}
	return l, nil
}

// Registry 返回引擎使用的注册表。
func (e *Engine) Registry() *repository.Registry { return e.registry }

// Vault 返回引擎持有的锁表。
func (e *Engine) Vault() *lockvault.Vault { return e.vault }

// Resolve 解析一个 (repoKey, path) 请求，返回资源或一个类型化错误。
// 路径包含 "!/" 时解析压缩包内条目；校验文件缺失时由制品的已知校验和生成。
func (e *Engine) Resolve(ctx context.Context, key pathkey.PathKey) (*repository.Resource, error) {
	ctx = lockvault.WithOwner(ctx)
	started := e.now()

	res, err := e.resolve(ctx, key)

	outcome := resultLabel(res, err)
	e.metrics.Resolution(key.RepoKey(), outcome)
	fields := logging.ResolveFields(key.RepoKey(), key.Path(), servedBy(res), outcome)
	fields["elapsed_ms"] = e.now().Sub(started).Milliseconds()
	switch {
	case err == nil:
		e.logger.WithFields(fields).Debug("resolve")
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, context.Canceled):
		e.logger.WithFields(fields).Debug("resolve")
	default:
		fields["error"] = err.Error()
		e.logger.WithFields(fields).Warn("resolve_failed")
	}
	return res, err
}

func (e *Engine) resolve(ctx context.Context, key pathkey.PathKey) (*repository.Resource, error) {
	if archive, entry, ok := repository.SplitZipEntry(key.Path()); ok {
		res, err := e.resolvePath(ctx, key.RepoKey(), archive)
		if err != nil {
			return nil, err
		}
		return openZipEntry(res, entry)
	}

	res, err := e.resolvePath(ctx, key.RepoKey(), key.Path())
	if err == nil || !errors.Is(err, repository.ErrNotFound) {
		return res, err
	}
	if t, artifact, ok := checksum.TypeOfPath(key.Path()); ok {
		if base, baseErr := e.resolveStored(ctx, key.RepoKey(), artifact); baseErr == nil {
			if synthetic := checksumResource(base, key.Path(), t); synthetic != nil {
				return synthetic, nil
			}
		}
	}
	return nil, err
}

func (e *Engine) resolvePath(ctx context.Context, repoKey, p string) (*repository.Resource, error) {
	d, err := e.registry.Get(repoKey)
	if err != nil {
		return nil, err
	}
	switch repo := d.(type) {
	case *repository.Local:
		return e.resolveLocal(ctx, repo, p)
	case *repository.Remote:
		return e.resolveRemote(ctx, repo, p)
	case *repository.Virtual:
		if err := e.registry.CheckCycles(repo.Key); err != nil {
			return nil, err
		}
		return e.resolveVirtual(ctx, repo, p, true, nil)
	default:
		return nil, fmt.Errorf("%w: %q", repository.ErrUnknownRepository, repoKey)
	}
}

// resolveStored 只查找已存储的内容，不访问任何远程仓库。
func (e *Engine) resolveStored(ctx context.Context, repoKey, p string) (*repository.Resource, error) {
	d, err := e.registry.Get(repoKey)
	if err != nil {
		return nil, err
	}
	switch repo := d.(type) {
	case *repository.Local:
		return e.resolveLocal(ctx, repo, p)
	case *repository.Remote:
		return e.storedOnly(ctx, repo, p)
	case *repository.Virtual:
		return e.resolveVirtual(ctx, repo, p, false, nil)
	}
	return nil, notFound(repoKey, p)
}

// RemoveFromCaches 清除 key 对应的 Hit/Failed/Missed 结论，不删除已存储的副本。
// key.RepoKey() 为 pathkey.Any 时作用于全部远程仓库。
func (e *Engine) RemoveFromCaches(key pathkey.PathKey, removeSubPaths bool) (int, error) {
	if key.RepoKey() != pathkey.Any {
		if _, ok := e.registry.Remote(key.RepoKey()); !ok {
			return 0, fmt.Errorf("%w: %q is not a remote repository", repository.ErrUnknownRepository, key.RepoKey())
		}
	}
	removed := e.caches.RemoveFromCaches(key, removeSubPaths)
	e.logger.WithFields(logrus.Fields{
		"action":    "remove_from_caches",
		"remote":    key.RepoKey(),
		"path":      key.Path(),
		"sub_paths": removeSubPaths,
		"removed":   removed,
	}).Info("cache_outcomes_removed")
	return removed, nil
}

// ClearCaches 清空一个远程仓库（remote 为空或 pathkey.Any 时为全部）的结论表。
func (e *Engine) ClearCaches(remote string) error {
	if remote != "" && remote != pathkey.Any {
		if _, ok := e.registry.Remote(remote); !ok {
			return fmt.Errorf("%w: %q is not a remote repository", repository.ErrUnknownRepository, remote)
		}
	}
	e.caches.ClearCaches(remote)
	e.logger.WithFields(logrus.Fields{"action": "clear_caches", "remote": remote}).Info("cache_outcomes_cleared")
	return nil
}

// SetOffline 在运行时切换远程仓库的离线状态。尚未发起网络请求的调用会立即失败或改用本地副本。
func (e *Engine) SetOffline(remote string, offline bool) error {
	flag, ok := e.offline[remote]
	if !ok {
		return fmt.Errorf("%w: %q is not a remote repository", repository.ErrUnknownRepository, remote)
	}
	flag.Store(offline)
	e.logger.WithFields(logrus.Fields{"action": "set_offline", "remote": remote, "offline": offline}).Info("remote_offline_toggled")
	return nil
}

// IsOffline 返回远程仓库当前是否离线。
func (e *Engine) IsOffline(remote string) bool {
	flag, ok := e.offline[remote]
	return ok && flag.Load()
}

// CacheStats 返回全部远程仓库的结论统计。
func (e *Engine) CacheStats() []remotecache.Stats {
	return e.caches.Stats()
}

func resultLabel(res *repository.Resource, err error) string {
	switch {
	case err == nil && res != nil && res.FromCache:
		return "cached"
	case err == nil:
		return "found"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	case errors.Is(err, repository.ErrHardFailure):
		return "hard_failure"
	case errors.Is(err, repository.ErrRemoteOffline):
		return "offline"
	case errors.Is(err, repository.ErrRemoteUnavailable):
		return "unavailable"
	default:
		var mismatch *checksum.MismatchError
		if errors.As(err, &mismatch) {
			return "checksum_mismatch"
		}
		var cyc *repository.CyclicCompositionError
		if errors.As(err, &cyc) {
			return "cyclic"
		}
		return "error"
	}
}

func servedBy(res *repository.Resource) string {
	if res == nil {
		return ""
	}
	return res.ServedBy
}
