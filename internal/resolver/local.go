package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-repo/internal/checksum"
	"github.com/any-hub/any-repo/internal/layout"
	"github.com/any-hub/any-repo/internal/lockvault"
	"github.com/any-hub/any-repo/internal/pathkey"
	"github.com/any-hub/any-repo/internal/repository"
	"github.com/any-hub/any-repo/internal/snapshot"
	"github.com/any-hub/any-repo/internal/storage"
)

func (e *Engine) resolveLocal(ctx context.Context, repo *repository.Local, p string) (*repository.Resource, error) {
	if !e.accepts(repo, p) {
		return nil, notFound(repo.Key, p)
	}
	adapted, err := e.adapters[repo.Key].Adapt(p, e.catalog(ctx, repo.Key))
	if err != nil {
		return nil, err
	}
	target := pathkey.New(repo.Key, adapted)
	entry, err := e.store.Stat(ctx, target)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFound(repo.Key, p)
		}
		return nil, err
	}
	return e.storedResource(ctx, e.layouts[repo.Key], target, entry, repo.Key), nil
}

// Deploy 将内容写入本地仓库。目标必须是 Local 仓库，路径需通过仓库过滤规则；
// 写入前按仓库校验策略比对 claimed 与实际校验和，策略拒绝时不改动已有内容。
func (e *Engine) Deploy(ctx context.Context, key pathkey.PathKey, body io.Reader, claimed checksum.Sums) (*repository.Resource, error) {
	ctx = lockvault.WithOwner(ctx)
	res, err := e.deploy(ctx, key, body, claimed)

	outcome := "stored"
	fields := logrus.Fields{"action": "deploy", "repo": key.RepoKey(), "path": key.Path()}
	if err != nil {
		outcome = resultLabel(nil, err)
		if errors.Is(err, repository.ErrReadOnly) || errors.Is(err, repository.ErrPathRejected) {
			outcome = "rejected"
		}
		fields["error"] = err.Error()
		e.logger.WithFields(fields).Warn("deploy_failed")
	} else {
		fields["stored_path"] = res.RepoPath.Path()
		fields["size"] = res.Size
		e.logger.WithFields(fields).Info("deploy")
	}
	e.metrics.Deploy(key.RepoKey(), outcome)
	return res, err
}

func (e *Engine) deploy(ctx context.Context, key pathkey.PathKey, body io.Reader, claimed checksum.Sums) (*repository.Resource, error) {
	d, err := e.registry.Get(key.RepoKey())
	if err != nil {
		return nil, err
	}
	local, ok := d.(*repository.Local)
	if !ok {
		return nil, fmt.Errorf("%w: %q is a %s repository", repository.ErrReadOnly, key.RepoKey(), d.Kind())
	}
	if key.IsRoot() || key.Path() == pathkey.Any || !e.accepts(local, key.Path()) {
		return nil, fmt.Errorf("%w: %s", repository.ErrPathRejected, key)
	}

	// 版本目录锁保证同目录的部署按顺序确定快照构建号。
	dirHandle, err := e.vault.Acquire(ctx, key.Parent())
	if err != nil {
		return nil, err
	}
	defer dirHandle.Release()

	adapted, err := e.adapters[local.Key].AdaptDeploy(key.Path(), e.catalog(ctx, local.Key), e.now())
	if err != nil {
		return nil, err
	}
	target := pathkey.New(local.Key, adapted)
	handle, err := e.vault.Acquire(ctx, target)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	l := e.layouts[local.Key]
	policy := e.policies[local.Key]
	var tolerated []checksum.MismatchError
	entry, err := e.store.Write(ctx, target, body, storage.WriteOptions{
		ModTime:     e.now(),
		ContentType: l.TypeFor(target.Path()),
		Verify: func(actual checksum.Sums, _ int64) (checksum.Sums, error) {
			result, err := checksum.Check(policy, claimed, actual)
			if err != nil {
				return nil, err
			}
			tolerated = result.Mismatches
			return result.Accepted, nil
		},
	})
	if err != nil {
		return nil, err
	}
	e.warnMismatches(local.Key, target.Path(), tolerated)
	return e.storedResource(ctx, l, target, entry, local.Key), nil
}

// catalog 以存储目录列表作为快照戳来源，重启后无需额外状态。
func (e *Engine) catalog(ctx context.Context, repoKey string) snapshot.Catalog {
	return func(dir string) ([]string, error) {
		return e.store.List(ctx, pathkey.New(repoKey, dir))
	}
}

// accepts 组合进程级默认排除与仓库自身的 include/exclude 规则。
func (e *Engine) accepts(d repository.Descriptor, p string) bool {
	if e.matcher.IsInDefaultExcludes(p) {
		return false
	}
	includes, excludes := d.Filters()
	return e.matcher.Matches(p, includes, excludes)
}

func (e *Engine) warnMismatches(repo, p string, mismatches []checksum.MismatchError) {
	for _, m := range mismatches {
		e.logger.WithFields(logrus.Fields{
			"action":    "checksum_verify",
			"repo":      repo,
			"path":      p,
			"algorithm": string(m.Type),
			"claimed":   m.Claimed,
			"actual":    m.Actual,
			"policy":    m.Policy,
		}).Warn("checksum_mismatch_tolerated")
	}
}

// storedResource 把存储条目包装为 Resource，内容在 Open 时才读取。
func (e *Engine) storedResource(ctx context.Context, l layout.Layout, key pathkey.PathKey, entry *storage.Entry, servedBy string) *repository.Resource {
	kind := repository.ResourceFile
	if l.Metadata(key.Path()) {
		kind = repository.ResourceMetadata
	}
	mime := entry.ContentType
	if typed := l.TypeFor(key.Path()); typed != "" {
		mime = typed
	}
	store := e.store
	detached := context.WithoutCancel(ctx)
	return &repository.Resource{
		Kind:         kind,
		RepoPath:     key,
		Size:         entry.SizeBytes,
		LastModified: entry.ModTime,
		MimeType:     mime,
		Found:        true,
		Checksums:    entry.Checksums,
		ServedBy:     servedBy,
		ETag:         entry.ETag,
		Content: func() (io.ReadSeekCloser, error) {
			result, err := store.Read(detached, key)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, notFound(key.RepoKey(), key.Path())
				}
				return nil, err
			}
			return result.Reader, nil
		},
	}
}

func notFound(repo, p string) error {
	return fmt.Errorf("%w: %s:%s", repository.ErrNotFound, repo, p)
}
