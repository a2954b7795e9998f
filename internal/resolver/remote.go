package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-repo/internal/checksum"
	"github.com/any-hub/any-repo/internal/pathkey"
	"github.com/any-hub/any-repo/internal/remotecache"
	"github.com/any-hub/any-repo/internal/repository"
	"github.com/any-hub/any-repo/internal/storage"
	"github.com/any-hub/any-repo/internal/transport"
)

// resolveRemote 先在无锁状态下读取结论表；需要访问上游时获取路径锁，
// 拿到锁后重新检查结论，保证同一路径最多只有一次并发拉取。
func (e *Engine) resolveRemote(ctx context.Context, r *repository.Remote, p string) (*repository.Resource, error) {
	if p == "" || p == pathkey.Any || !e.accepts(r, p) {
		return nil, notFound(r.Key, p)
	}
	table := e.tables[r.Key]
	target := pathkey.New(r.CacheRepo, p)

	if res, done, err := e.fromOutcome(ctx, r, table, target, p); done {
		return res, err
	}
	if e.IsOffline(r.Key) {
		return e.offlineResult(ctx, r, target, p)
	}

	handle, err := e.vault.Acquire(ctx, target)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	if res, done, err := e.fromOutcome(ctx, r, table, target, p); done {
		return res, err
	}
	if e.IsOffline(r.Key) {
		return e.offlineResult(ctx, r, target, p)
	}
	return e.fetch(ctx, r, table, target, p)
}

// fromOutcome 依据仍然新鲜的结论直接作答；done 为 false 表示需要访问上游。
func (e *Engine) fromOutcome(ctx context.Context, r *repository.Remote, table *remotecache.Table, target pathkey.PathKey, p string) (*repository.Resource, bool, error) {
	action, outcome := table.Decide(p)
	switch action {
	case remotecache.ActionServeCached:
		if !r.StoreLocally {
			return nil, false, nil
		}
		res, err := e.cachedCopy(ctx, r, target, p)
		if errors.Is(err, repository.ErrNotFound) {
			// 副本被外部删除，重新拉取。
			return nil, false, nil
		}
		return res, true, err
	case remotecache.ActionNotFound:
		return nil, true, notFound(r.Key, p)
	case remotecache.ActionFailed:
		res, err := e.failedResult(ctx, r, target, p, outcome.Err)
		return res, true, err
	}
	return nil, false, nil
}

func (e *Engine) fetch(ctx context.Context, r *repository.Remote, table *remotecache.Table, target pathkey.PathKey, p string) (*repository.Resource, error) {
	url, err := transport.JoinURL(r.URL, p)
	if err != nil {
		return nil, fmt.Errorf("remote %q: %w", r.Key, err)
	}

	var existing *storage.Entry
	var cond transport.Conditional
	if r.StoreLocally {
		if entry, statErr := e.store.Stat(ctx, target); statErr == nil {
			existing = entry
			v := table.Validators(p)
			cond = transport.Conditional{ETag: v.ETag, LastModified: v.LastModified}
			if cond.ETag == "" {
				cond.ETag = entry.ETag
			}
			if cond.LastModified == "" {
				cond.LastModified = entry.LastModified
			}
		}
	}

	started := time.Now()
	resp, err := e.fetcher.Fetch(ctx, transport.Request{
		Remote:      r.Key,
		URL:         url,
		Username:    r.Username,
		Password:    r.Password,
		Proxy:       r.Proxy,
		Conditional: cond,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.metrics.RemoteFetch(r.Key, 0, time.Since(started))
		return e.recordFailure(ctx, r, table, target, p, fmt.Errorf("%w: %v", repository.ErrRemoteUnavailable, err))
	}
	defer resp.Close()
	e.metrics.RemoteFetch(r.Key, resp.Status, time.Since(started))

	switch {
	case resp.Status == http.StatusOK:
		return e.populate(ctx, r, table, target, p, resp)
	case resp.Status == http.StatusNotModified && existing != nil:
		table.RefreshHit(p, resp.ETag(), resp.LastModified())
		return e.remoteResource(ctx, r, target, p, existing, true), nil
	case resp.Status == http.StatusNotFound || resp.Status == http.StatusGone:
		table.RecordMissed(p)
		return nil, notFound(r.Key, p)
	default:
		return e.recordFailure(ctx, r, table, target, p, fmt.Errorf("%w: upstream status %d", repository.ErrRemoteUnavailable, resp.Status))
	}
}

// populate 处理 200 响应：校验通过后才落盘并记录 Hit，校验失败不改动已有副本。
func (e *Engine) populate(ctx context.Context, r *repository.Remote, table *remotecache.Table, target pathkey.PathKey, p string, resp *transport.Response) (*repository.Resource, error) {
	claimed := checksum.FromHeader(resp.Header)
	policy := e.policies[r.Key]
	var tolerated []checksum.MismatchError
	verify := func(actual checksum.Sums, _ int64) (checksum.Sums, error) {
		result, err := checksum.Check(policy, claimed, actual)
		if err != nil {
			return nil, err
		}
		tolerated = result.Mismatches
		return result.Accepted, nil
	}

	if !r.StoreLocally {
		return e.transient(ctx, r, table, target, p, resp, verify)
	}

	entry, err := e.store.Write(ctx, target, resp.Body, storage.WriteOptions{
		ModTime:      resp.ModTime(),
		ETag:         resp.ETag(),
		LastModified: resp.LastModified(),
		ContentType:  e.layouts[r.Key].TypeFor(p),
		Verify:       verify,
	})
	if err != nil {
		return e.populateFailed(ctx, r, table, target, p, err)
	}
	e.warnMismatches(r.Key, p, tolerated)
	table.RecordHit(p, resp.ETag(), resp.LastModified())
	return e.remoteResource(ctx, r, target, p, entry, false), nil
}

// transient 服务 StoreLocally=false 的远程仓库：内容只在内存中校验并返回，不记录 Hit。
func (e *Engine) transient(ctx context.Context, r *repository.Remote, table *remotecache.Table, target pathkey.PathKey, p string, resp *transport.Response, verify storage.VerifyFunc) (*repository.Resource, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return e.populateFailed(ctx, r, table, target, p, err)
	}
	actual, size, _ := checksum.Compute(bytes.NewReader(body))
	accepted, err := verify(actual, size)
	if err != nil {
		return e.populateFailed(ctx, r, table, target, p, err)
	}
	l := e.layouts[r.Key]
	kind := repository.ResourceFile
	if l.Metadata(p) {
		kind = repository.ResourceMetadata
	}
	mime := l.TypeFor(p)
	if mime == "" {
		mime = http.DetectContentType(body)
	}
	return &repository.Resource{
		Kind:         kind,
		RepoPath:     pathkey.New(r.Key, p),
		Size:         size,
		LastModified: resp.ModTime(),
		MimeType:     mime,
		Found:        true,
		Checksums:    accepted,
		ServedBy:     r.Key,
		ETag:         resp.ETag(),
		Content: func() (io.ReadSeekCloser, error) {
			return nopCloser{bytes.NewReader(body)}, nil
		},
	}, nil
}

func (e *Engine) populateFailed(ctx context.Context, r *repository.Remote, table *remotecache.Table, target pathkey.PathKey, p string, err error) (*repository.Resource, error) {
	var mismatch *checksum.MismatchError
	if errors.As(err, &mismatch) {
		e.logger.WithFields(logrus.Fields{
			"action":    "checksum_verify",
			"repo":      r.Key,
			"path":      p,
			"algorithm": string(mismatch.Type),
			"claimed":   mismatch.Claimed,
			"actual":    mismatch.Actual,
			"policy":    mismatch.Policy,
		}).Warn("checksum_mismatch_rejected")
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return e.recordFailure(ctx, r, table, target, p, fmt.Errorf("%w: %v", repository.ErrRemoteUnavailable, err))
}

func (e *Engine) recordFailure(ctx context.Context, r *repository.Remote, table *remotecache.Table, target pathkey.PathKey, p string, cause error) (*repository.Resource, error) {
	outcome := table.RecordFailed(p, cause)
	e.logger.WithFields(logrus.Fields{
		"action":    "remote_fetch",
		"repo":      r.Key,
		"path":      p,
		"hard_fail": r.HardFail,
		"retry_in":  outcome.TTL.String(),
		"error":     cause.Error(),
	}).Warn("remote_fetch_failed")
	return e.failedResult(ctx, r, target, p, cause)
}

// failedResult 处理 Failed 结论：hardFail 远程直接返回终止错误，
// 否则优先返回之前的本地副本（stale-on-error），没有副本时返回 RemoteUnavailable。
func (e *Engine) failedResult(ctx context.Context, r *repository.Remote, target pathkey.PathKey, p string, cause error) (*repository.Resource, error) {
	if cause == nil {
		cause = repository.ErrRemoteUnavailable
	}
	if r.HardFail {
		return nil, &repository.HardFailureError{Remote: r.Key, Err: cause}
	}
	if r.StoreLocally {
		res, err := e.cachedCopy(ctx, r, target, p)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if errors.Is(cause, repository.ErrRemoteUnavailable) {
		return nil, cause
	}
	return nil, fmt.Errorf("%w: %v", repository.ErrRemoteUnavailable, cause)
}

// offlineResult 离线远程仓库只能提供已存储的副本。
func (e *Engine) offlineResult(ctx context.Context, r *repository.Remote, target pathkey.PathKey, p string) (*repository.Resource, error) {
	if r.StoreLocally {
		res, err := e.cachedCopy(ctx, r, target, p)
		if err == nil || !errors.Is(err, repository.ErrNotFound) {
			return res, err
		}
	}
	return nil, fmt.Errorf("%w: %s", repository.ErrRemoteOffline, r.Key)
}

func (e *Engine) cachedCopy(ctx context.Context, r *repository.Remote, target pathkey.PathKey, p string) (*repository.Resource, error) {
	entry, err := e.store.Stat(ctx, target)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFound(r.Key, p)
		}
		return nil, err
	}
	return e.remoteResource(ctx, r, target, p, entry, true), nil
}

func (e *Engine) remoteResource(ctx context.Context, r *repository.Remote, target pathkey.PathKey, p string, entry *storage.Entry, fromCache bool) *repository.Resource {
	res := e.storedResource(ctx, e.layouts[r.Key], target, entry, r.Key)
	res.RepoPath = pathkey.New(r.Key, p)
	res.FromCache = fromCache
	var age time.Duration
	if fromCache {
		if o := e.tables[r.Key].Lookup(p); o.Kind == remotecache.KindHit {
			age = o.Age(e.now())
		} else if !entry.StoredAt.IsZero() {
			age = e.now().Sub(entry.StoredAt)
		}
		if age < 0 {
			age = 0
		}
	}
	res.CacheAge = &age
	return res
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
