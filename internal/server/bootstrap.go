package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-repo/internal/config"
	"github.com/any-hub/any-repo/internal/lockvault"
	"github.com/any-hub/any-repo/internal/metrics"
	"github.com/any-hub/any-repo/internal/remotecache"
	"github.com/any-hub/any-repo/internal/resolver"
	"github.com/any-hub/any-repo/internal/storage"
	"github.com/any-hub/any-repo/internal/transport"
)

// Runtime 聚合一次配置对应的全部长生命周期组件，供 serve/resolve 等入口共享。
type Runtime struct {
	Config  *config.Config
	Logger  *logrus.Logger
	Engine  *resolver.Engine
	Vault   *lockvault.Vault
	Metrics *metrics.Recorder
	Store   storage.Store
}

// NewRuntime 按 "配置 → 注册表 → 锁表 → 磁盘存储 → 上游客户端 → 引擎" 的顺序装配组件。
// 引擎与存储共享同一个锁表，存储写入会重入引擎在解析时持有的锁。
func NewRuntime(cfg *config.Config, logger *logrus.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("构建仓库注册表失败: %w", err)
	}
	if err := registry.CheckAllCycles(); err != nil {
		return nil, err
	}

	vault := lockvault.New(lockvault.Options{IdleTimeout: cfg.Global.LockIdleTimeout.DurationValue()})
	store, err := storage.NewFSStore(cfg.Global.StoragePath, vault)
	if err != nil {
		return nil, fmt.Errorf("初始化存储目录失败: %w", err)
	}

	recorder := metrics.New(vault.Len)
	caches := remotecache.NewManager(remotecache.Options{
		MaxOutcomesPerRemote: cfg.Global.MaxOutcomesPerRemote,
		Recorder:             recorder,
	})
	client := transport.NewUpstreamClient(cfg.Global.UpstreamTimeout.DurationValue())

	engine, err := resolver.New(resolver.Options{
		Registry: registry,
		Store:    store,
		Fetcher:  transport.NewHTTPFetcher(client, logger),
		Vault:    vault,
		Caches:   caches,
		Metrics:  recorder,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		Engine:  engine,
		Vault:   vault,
		Metrics: recorder,
		Store:   store,
	}, nil
}

// RunMaintenance 周期性淘汰空闲锁，直到 ctx 结束。
func (r *Runtime) RunMaintenance(ctx context.Context) {
	r.Vault.Run(ctx, 0)
}
