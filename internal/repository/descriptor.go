// Package repository describes the repositories an engine serves: Local
// stores, Remote caches of an upstream URL and Virtual compositions of other
// repositories. It also carries the resolved-resource value and the error
// taxonomy shared by the resolver and the HTTP surface.
package repository

import (
	"time"

	"github.com/any-hub/any-repo/internal/snapshot"
)

// Kind 区分仓库描述的三种变体。
type Kind string

const (
	KindLocal   Kind = "local"
	KindRemote  Kind = "remote"
	KindVirtual Kind = "virtual"
)

// Descriptor 是所有仓库描述的公共接口。
type Descriptor interface {
	RepoKey() string
	Kind() Kind
	// Filters 返回仓库级 include/exclude 模式。
	Filters() (includes, excludes []string)
}

// Local 是可部署的本地仓库。
type Local struct {
	Key              string
	Includes         []string
	Excludes         []string
	Layout           string
	SnapshotBehavior snapshot.Behavior
	ChecksumPolicy   string
	// Implicit 标记由 Remote 自动派生出的缓存仓库。
	Implicit bool
}

func (l *Local) RepoKey() string                        { return l.Key }
func (l *Local) Kind() Kind                             { return KindLocal }
func (l *Local) Filters() (includes, excludes []string) { return l.Includes, l.Excludes }

// Remote 代理一个上游 URL，并把拉取到的内容落到 CacheRepo 指定的本地仓库。
type Remote struct {
	Key            string
	URL            string
	Includes       []string
	Excludes       []string
	Layout         string
	RetrievalTTL   time.Duration
	FailedTTL      time.Duration
	MissedTTL      time.Duration
	HardFail       bool
	Offline        bool
	StoreLocally   bool
	CacheRepo      string
	ChecksumPolicy string
	Username       string
	Password       string
	Proxy          string
}

func (r *Remote) RepoKey() string                        { return r.Key }
func (r *Remote) Kind() Kind                             { return KindRemote }
func (r *Remote) Filters() (includes, excludes []string) { return r.Includes, r.Excludes }

// HasCredentials 表示是否配置了完整的上游凭证。
func (r *Remote) HasCredentials() bool {
	return r.Username != "" && r.Password != ""
}

// Virtual 按声明顺序组合其它仓库，自身不存储内容。
type Virtual struct {
	Key                    string
	Members                []string
	CanFetchRemoteOnDeploy bool
	Includes               []string
	Excludes               []string
}

func (v *Virtual) RepoKey() string                        { return v.Key }
func (v *Virtual) Kind() Kind                             { return KindVirtual }
func (v *Virtual) Filters() (includes, excludes []string) { return v.Includes, v.Excludes }

// ImplicitCacheKey 返回未显式配置 CacheRepo 时派生出的缓存仓库键。
func ImplicitCacheKey(remoteKey string) string {
	return remoteKey + "-cache"
}
