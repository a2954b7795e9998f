package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-repo/internal/repository"
)

// ArtifactHandler 处理落在某个仓库下的制品请求，测试中可注入假实现。
type ArtifactHandler interface {
	Handle(fiber.Ctx, *RepoRoute) error
}

// ArtifactHandlerFunc adapts a function to the ArtifactHandler interface.
type ArtifactHandlerFunc func(fiber.Ctx, *RepoRoute) error

// Handle makes ArtifactHandlerFunc satisfy ArtifactHandler.
func (f ArtifactHandlerFunc) Handle(c fiber.Ctx, route *RepoRoute) error {
	return f(c, route)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger    *logrus.Logger
	Registry  *repository.Registry
	Artifacts ArtifactHandler
	// BodyLimit 限制 PUT 请求体大小，<=0 时使用 Fiber 默认值。
	BodyLimit int
}

const (
	contextKeyRoute     = "_anyrepo_route"
	contextKeyRequestID = "_anyrepo_request_id"
)

// AdminPrefix 是诊断与管理接口的路径前缀；仓库键不允许为 "-"，因此不会冲突。
const AdminPrefix = "/-/"

// NewApp builds a Fiber application with repository routing middleware and
// structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("repository registry is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("artifact handler is required")
	}

	cfg := fiber.Config{
		CaseSensitive: true,
		StrictRouting: true,
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = opts.BodyLimit
	}
	app := fiber.New(cfg)

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isAdminPath(requestPath(c)) {
			return c.Next()
		}
		route, _ := getRouteFromContext(c)
		if route == nil {
			return renderRepoUnknown(c, opts.Logger, "")
		}
		return opts.Artifacts.Handle(c, route)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并基于路径首段查找目标仓库。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		raw := requestPath(c)
		if isAdminPath(raw) {
			return c.Next()
		}

		route, ok := lookupRoute(opts.Registry, raw)
		if !ok {
			return renderRepoUnknown(c, opts.Logger, route.RepoKey())
		}

		c.Locals(contextKeyRoute, route)
		return c.Next()
	}
}

func renderRepoUnknown(c fiber.Ctx, logger *logrus.Logger, repo string) error {
	logger.WithFields(logrus.Fields{
		"action": "repo_lookup",
		"repo":   repo,
		"path":   requestPath(c),
	}).Debug("repository unknown")

	if repo != "" {
		c.Set("X-Any-Repo-Repository", repo)
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "repository_unknown",
	})
}

func requestPath(c fiber.Ctx) string {
	return string(c.Request().URI().Path())
}

func getRouteFromContext(c fiber.Ctx) (*RepoRoute, bool) {
	if value := c.Locals(contextKeyRoute); value != nil {
		if route, ok := value.(*RepoRoute); ok {
			return route, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isAdminPath(path string) bool {
	return strings.HasPrefix(path, AdminPrefix)
}
