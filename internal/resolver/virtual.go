package resolver

import (
	"context"
	"errors"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-repo/internal/checksum"
	"github.com/any-hub/any-repo/internal/pathkey"
	"github.com/any-hub/any-repo/internal/repository"
)

// resolveVirtual 按声明顺序深度优先遍历成员，第一个能解析路径的成员胜出。
// allowRemote 为 false 时远程成员只提供已存储的副本，不访问网络。
func (e *Engine) resolveVirtual(ctx context.Context, v *repository.Virtual, p string, allowRemote bool, stack []string) (*repository.Resource, error) {
	if slices.Contains(stack, v.Key) {
		return nil, &repository.CyclicCompositionError{Path: append(slices.Clone(stack), v.Key)}
	}
	if !e.accepts(v, p) {
		return nil, notFound(v.Key, p)
	}
	stack = append(stack, v.Key)
	allowRemote = allowRemote && v.CanFetchRemoteOnDeploy

	for _, member := range v.Members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := e.registry.Get(member)
		if err != nil {
			return nil, err
		}

		var res *repository.Resource
		switch m := d.(type) {
		case *repository.Local:
			res, err = e.resolveLocal(ctx, m, p)
		case *repository.Remote:
			if allowRemote {
				res, err = e.resolveRemote(ctx, m, p)
			} else {
				res, err = e.storedOnly(ctx, m, p)
			}
		case *repository.Virtual:
			res, err = e.resolveVirtual(ctx, m, p, allowRemote, stack)
		}
		if err == nil && res != nil {
			return res, nil
		}
		if !skippable(err) {
			return nil, err
		}
		e.logger.WithFields(logrus.Fields{
			"action":  "resolve_member",
			"virtual": v.Key,
			"member":  member,
			"path":    p,
			"reason":  resultLabel(nil, err),
		}).Debug("member_skipped")
	}
	return nil, notFound(v.Key, p)
}

// storedOnly 检查远程成员的缓存仓库中是否已有副本。
func (e *Engine) storedOnly(ctx context.Context, r *repository.Remote, p string) (*repository.Resource, error) {
	if p == "" || !r.StoreLocally || !e.accepts(r, p) {
		return nil, notFound(r.Key, p)
	}
	return e.cachedCopy(ctx, r, pathkey.New(r.CacheRepo, p), p)
}

// skippable 判断成员错误是否允许继续尝试下一个成员。
// HardFailure、循环组合与上下文取消会终止整个虚拟仓库的解析。
func skippable(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, repository.ErrHardFailure):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrRemoteUnavailable),
		errors.Is(err, repository.ErrRemoteOffline):
		return true
	}
	var mismatch *checksum.MismatchError
	return errors.As(err, &mismatch)
}
