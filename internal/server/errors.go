package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-repo/internal/checksum"
	"github.com/any-hub/any-repo/internal/repository"
)

// StatusFor 将引擎错误映射为 HTTP 状态码与稳定的错误代码。
func StatusFor(err error) (int, string) {
	var (
		cyclic   *repository.CyclicCompositionError
		mismatch *checksum.MismatchError
	)
	switch {
	case err == nil:
		return fiber.StatusOK, ""
	case errors.Is(err, repository.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrUnknownRepository):
		return fiber.StatusNotFound, "repository_unknown"
	case errors.Is(err, repository.ErrMalformedID):
		return fiber.StatusBadRequest, "malformed_path"
	case errors.Is(err, repository.ErrHardFailure):
		return fiber.StatusBadGateway, "remote_hard_failure"
	case errors.Is(err, repository.ErrRemoteOffline):
		return fiber.StatusServiceUnavailable, "remote_offline"
	case errors.Is(err, repository.ErrRemoteUnavailable):
		return fiber.StatusServiceUnavailable, "remote_unavailable"
	case errors.As(err, &mismatch):
		return fiber.StatusConflict, "checksum_mismatch"
	case errors.As(err, &cyclic):
		return fiber.StatusInternalServerError, "cyclic_composition"
	case errors.Is(err, repository.ErrReadOnly):
		return fiber.StatusMethodNotAllowed, "repository_read_only"
	case errors.Is(err, repository.ErrPathRejected):
		return fiber.StatusForbidden, "path_rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	}
	return fiber.StatusInternalServerError, "internal_error"
}

// writeError 以 JSON 输出错误；HEAD 请求只写状态码。
func writeError(c fiber.Ctx, err error) error {
	status, code := StatusFor(err)
	c.Status(status)
	if c.Method() == fiber.MethodHead {
		return nil
	}
	body := fiber.Map{"error": code}
	if status >= fiber.StatusInternalServerError || status == fiber.StatusConflict {
		body["detail"] = err.Error()
	}
	return c.JSON(body)
}
