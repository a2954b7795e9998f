package server

import (
	"strings"

	"github.com/any-hub/any-repo/internal/pathkey"
	"github.com/any-hub/any-repo/internal/repository"
)

// RepoRoute 是一次请求解析出的目标仓库与仓库内路径。
type RepoRoute struct {
	// Descriptor 为注册表中的仓库描述副本；未知仓库时为 nil。
	Descriptor repository.Descriptor
	Key        pathkey.PathKey
}

// RepoKey 返回目标仓库键，可对 nil 调用。
func (r *RepoRoute) RepoKey() string {
	if r == nil {
		return ""
	}
	return r.Key.RepoKey()
}

// Path 返回仓库内相对路径，可对 nil 调用。
func (r *RepoRoute) Path() string {
	if r == nil {
		return ""
	}
	return r.Key.Path()
}

// Kind 返回目标仓库类型，未知仓库时为空串。
func (r *RepoRoute) Kind() repository.Kind {
	if r == nil || r.Descriptor == nil {
		return ""
	}
	return r.Descriptor.Kind()
}

// lookupRoute 将 /<repoKey>/<path> 拆分为 PathKey 并在注册表中查找仓库。
// 仓库不存在时仍返回带仓库键的 route，便于调用方输出诊断信息。
func lookupRoute(registry *repository.Registry, raw string) (*RepoRoute, bool) {
	repoKey, p := splitRepoPath(raw)
	route := &RepoRoute{Key: pathkey.New(repoKey, p)}
	if repoKey == "" {
		return route, false
	}
	desc, err := registry.Get(repoKey)
	if err != nil {
		return route, false
	}
	route.Descriptor = desc
	return route, true
}

func splitRepoPath(raw string) (repoKey, p string) {
	trimmed := strings.TrimLeft(raw, "/")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx], trimmed[idx+1:]
	}
	return trimmed, ""
}
