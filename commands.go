package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/any-repo/internal/config"
	"github.com/any-hub/any-repo/internal/logging"
	"github.com/any-hub/any-repo/internal/pathkey"
	"github.com/any-hub/any-repo/internal/repository"
	"github.com/any-hub/any-repo/internal/server"
	"github.com/any-hub/any-repo/internal/server/routes"
	"github.com/any-hub/any-repo/internal/version"
)

// resolveConcurrency 限制 resolve 子命令同时进行的解析数量。
const resolveConcurrency = 4

// loadConfig 加载配置并初始化日志；失败时输出原因并返回非零退出码。
func loadConfig(opts cliOptions) (*config.Config, *logrus.Logger, int) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return nil, nil, 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return nil, nil, 1
	}
	return cfg, logger, 0
}

func runCheckConfig(opts cliOptions) int {
	cfg, logger, code := loadConfig(opts)
	if code != 0 {
		return code
	}

	registry, err := cfg.Registry()
	if err == nil {
		err = registry.CheckAllCycles()
	}
	fields := logging.BaseFields("check_config", opts.configPath)
	fields["repositories"] = cfg.RepositoryCount()
	fields["credentials"] = config.CredentialModes(cfg.Remotes)
	if err != nil {
		fields["result"] = "invalid"
		logger.WithFields(fields).WithError(err).Error("配置校验失败")
		fmt.Fprintf(stdErr, "配置校验失败: %v\n", err)
		return 1
	}
	fields["result"] = "ok"
	logger.WithFields(fields).Info("配置校验通过")
	return 0
}

// runServe 遵循 "配置 → Runtime → Fiber server" 顺序启动服务，收到 SIGINT/SIGTERM 后优雅退出。
func runServe(ctx context.Context, opts cliOptions) int {
	cfg, logger, code := loadConfig(opts)
	if code != 0 {
		return code
	}

	rt, err := server.NewRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
		return 1
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:    logger,
		Registry:  rt.Engine.Registry(),
		Artifacts: server.NewHandler(rt.Engine, logger),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建 HTTP 服务失败: %v\n", err)
		return 1
	}
	routes.RegisterAdminRoutes(app, rt.Engine, rt.Metrics.Handler())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go rt.RunMaintenance(ctx)
	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Warn("shutdown_failed")
		}
	}()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["repositories"] = cfg.RepositoryCount()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["credentials"] = config.CredentialModes(cfg.Remotes)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := app.Listen(fmt.Sprintf(":%d", cfg.Global.ListenPort), fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("服务已停止")
	return 0
}

// resolveOutput 是 resolve 子命令对单个路径的输出。
type resolveOutput struct {
	ID       string               `json:"id"`
	Resource *repository.Resource `json:"resource,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// runResolve 并发解析给定的 repoKey:path，按输入顺序输出 JSON；任何一个失败时退出码为 1。
func runResolve(ctx context.Context, opts cliOptions, ids []string) int {
	cfg, logger, code := loadConfig(opts)
	if code != 0 {
		return code
	}
	if cfg.Global.LogFilePath == "" {
		logger.SetOutput(stdErr)
	}

	keys := make([]pathkey.PathKey, len(ids))
	for i, id := range ids {
		key, err := pathkey.Parse(id)
		if err != nil {
			fmt.Fprintf(stdErr, "无效路径 %q: %v\n", id, err)
			return 2
		}
		keys[i] = key
	}

	rt, err := server.NewRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
		return 1
	}

	results := make([]resolveOutput, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			out := resolveOutput{ID: key.ID()}
			res, err := rt.Engine.Resolve(gctx, key)
			if err != nil {
				out.Error = err.Error()
			} else {
				out.Resource = res
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		fmt.Fprintf(stdErr, "输出结果失败: %v\n", err)
		return 1
	}
	for _, out := range results {
		if out.Error != "" {
			return 1
		}
	}
	return 0
}
