package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-repo/internal/checksum"
	"github.com/any-hub/any-repo/internal/logging"
	"github.com/any-hub/any-repo/internal/pathkey"
	"github.com/any-hub/any-repo/internal/repository"
)

// Engine 是 HTTP 层依赖的解析引擎能力子集。
type Engine interface {
	Resolve(ctx context.Context, key pathkey.PathKey) (*repository.Resource, error)
	Deploy(ctx context.Context, key pathkey.PathKey, body io.Reader, claimed checksum.Sums) (*repository.Resource, error)
}

const (
	headerServedBy = "X-Any-Repo-Served-By"
	headerCacheHit = "X-Any-Repo-Cache-Hit"
	headerCacheAge = "X-Any-Repo-Cache-Age"
	headerKind     = "X-Any-Repo-Kind"
)

// Handler 将 GET/HEAD/PUT /<repoKey>/<path> 映射到引擎的 Resolve 与 Deploy，
// 负责响应头、条件请求与流式输出。
type Handler struct {
	engine Engine
	logger *logrus.Logger
}

// NewHandler constructs an artifact handler around the engine.
func NewHandler(engine Engine, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{engine: engine, logger: logger}
}

// Handle 按方法分派请求，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *RepoRoute) error {
	switch c.Method() {
	case fiber.MethodGet, fiber.MethodHead:
		return h.serve(c, route)
	case fiber.MethodPut:
		return h.deploy(c, route)
	}
	c.Set(fiber.HeaderAllow, "GET, HEAD, PUT")
	return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "method_not_allowed"})
}

func (h *Handler) serve(c fiber.Ctx, route *RepoRoute) error {
	started := time.Now()
	res, err := h.engine.Resolve(requestContext(c), route.Key)
	if err != nil {
		status, _ := StatusFor(err)
		h.logResult(c, route, status, nil, started, err)
		return writeError(c, err)
	}

	setResourceHeaders(c, res)
	if res.ETag != "" && c.Get(fiber.HeaderIfNoneMatch) == res.ETag {
		h.logResult(c, route, fiber.StatusNotModified, res, started, nil)
		return c.SendStatus(fiber.StatusNotModified)
	}

	c.Status(fiber.StatusOK)
	if c.Method() == fiber.MethodHead {
		h.logResult(c, route, fiber.StatusOK, res, started, nil)
		return nil
	}

	reader, err := res.Open()
	if err != nil {
		h.logResult(c, route, fiber.StatusInternalServerError, res, started, err)
		c.Response().Header.Del(fiber.HeaderContentLength)
		return writeError(c, err)
	}
	_, err = io.Copy(c.Response().BodyWriter(), reader)
	reader.Close()
	h.logResult(c, route, fiber.StatusOK, res, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read content failed: %v", err))
	}
	return nil
}

func (h *Handler) deploy(c fiber.Ctx, route *RepoRoute) error {
	started := time.Now()
	claimed := checksum.FromHeader(checksumHeaders(c))
	res, err := h.engine.Deploy(requestContext(c), route.Key, bytes.NewReader(c.Body()), claimed)
	if err != nil {
		status, _ := StatusFor(err)
		if errors.Is(err, repository.ErrReadOnly) {
			c.Set(fiber.HeaderAllow, "GET, HEAD")
		}
		h.logResult(c, route, status, nil, started, err)
		return writeError(c, err)
	}

	setResourceHeaders(c, res)
	c.Response().Header.Del(fiber.HeaderContentLength)
	h.logResult(c, route, fiber.StatusCreated, res, started, nil)
	return c.Status(fiber.StatusCreated).JSON(res)
}

// setResourceHeaders 输出内容类型、长度、校验和以及命中信息。
func setResourceHeaders(c fiber.Ctx, res *repository.Resource) {
	contentType := res.MimeType
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Response().Header.SetContentLength(int(res.Size))
	if !res.LastModified.IsZero() {
		c.Set(fiber.HeaderLastModified, res.LastModified.UTC().Format(http.TimeFormat))
	}
	if res.ETag != "" {
		c.Set(fiber.HeaderETag, res.ETag)
	}
	for _, t := range checksum.All() {
		if v := res.Checksums.Get(t); v != "" {
			c.Set(t.Header(), v)
		}
	}
	c.Set(headerServedBy, res.ServedBy)
	c.Set(headerCacheHit, strconv.FormatBool(res.FromCache))
	c.Set(headerKind, string(res.Kind))
	if res.CacheAge != nil {
		c.Set(headerCacheAge, strconv.FormatInt(int64(res.CacheAge.Seconds()), 10))
	}
}

func checksumHeaders(c fiber.Ctx) http.Header {
	header := http.Header{}
	for _, t := range checksum.All() {
		if v := c.Get(t.Header()); v != "" {
			header.Set(t.Header(), v)
		}
	}
	return header
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (h *Handler) logResult(c fiber.Ctx, route *RepoRoute, status int, res *repository.Resource, started time.Time, err error) {
	cacheHit := res != nil && res.FromCache
	fields := logging.RequestFields(route.RepoKey(), route.Path(), c.Method(), status, cacheHit)
	fields["action"] = "artifact"
	fields["request_id"] = RequestID(c)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if res != nil {
		fields["served_by"] = res.ServedBy
		fields["size"] = res.Size
	}

	entry := h.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	if status >= fiber.StatusInternalServerError {
		entry.Warn("artifact_request_failed")
		return
	}
	entry.Info("artifact_request")
}
