// Package layout keeps the table of repository layouts (maven, npm, generic).
// A layout decides which paths are metadata descriptors, whether Maven
// snapshot naming applies and which content type to advertise when the stored
// bytes do not say so. Layouts register themselves from init(), the same way
// hub modules used to.
package layout

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultKey 是未配置 Layout 时使用的布局。
const DefaultKey = "generic"

// Layout 描述一种仓库布局。
type Layout struct {
	Key         string
	Description string
	// SnapshotAware 为 true 时本地仓库会应用快照命名改写。
	SnapshotAware bool
	// IsMetadata 判断路径是否为元数据描述文件。
	IsMetadata func(p string) bool
	// ContentType 根据路径推断 Content-Type，无法判断时返回空串。
	ContentType func(p string) string
}

// Metadata 对 nil 回调做兜底。
func (l Layout) Metadata(p string) bool {
	if l.IsMetadata == nil {
		return false
	}
	return l.IsMetadata(strings.TrimLeft(p, "/"))
}

// TypeFor 优先使用布局自己的推断，再退回通用扩展名表。
func (l Layout) TypeFor(p string) string {
	clean := strings.TrimLeft(p, "/")
	if l.ContentType != nil {
		if ct := l.ContentType(clean); ct != "" {
			return ct
		}
	}
	return inferContentType(clean)
}

var globalRegistry = &registry{layouts: make(map[string]Layout)}

type registry struct {
	mu      sync.RWMutex
	layouts map[string]Layout
}

// Register 登记布局，重复键返回错误。
func Register(l Layout) error {
	key := normalizeKey(l.Key)
	if key == "" {
		return fmt.Errorf("layout key is required")
	}
	l.Key = key

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	if _, exists := globalRegistry.layouts[key]; exists {
		return fmt.Errorf("layout %s already registered", key)
	}
	globalRegistry.layouts[key] = l
	return nil
}

// MustRegister 在注册失败时 panic，供 init() 使用。
func MustRegister(l Layout) {
	if err := Register(l); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的布局；空键解析为 DefaultKey。
func Resolve(key string) (Layout, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		normalized = DefaultKey
	}
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	l, ok := globalRegistry.layouts[normalized]
	return l, ok
}

// MustResolve 与 Resolve 相同，未知键回退到 DefaultKey。
func MustResolve(key string) Layout {
	if l, ok := Resolve(key); ok {
		return l
	}
	l, _ := Resolve(DefaultKey)
	return l
}

// Keys 返回已注册布局键（排序后），供配置校验与诊断使用。
func Keys() []string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	keys := make([]string, 0, len(globalRegistry.layouts))
	for key := range globalRegistry.layouts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func inferContentType(clean string) string {
	switch {
	case strings.HasSuffix(clean, ".jar"), strings.HasSuffix(clean, ".war"), strings.HasSuffix(clean, ".ear"):
		return "application/java-archive"
	case strings.HasSuffix(clean, ".pom"), strings.HasSuffix(clean, ".xml"):
		return "application/xml"
	case strings.HasSuffix(clean, ".zip"):
		return "application/zip"
	case strings.HasSuffix(clean, ".json"):
		return "application/json"
	case strings.HasSuffix(clean, ".sha1"), strings.HasSuffix(clean, ".md5"), strings.HasSuffix(clean, ".sha256"):
		return "text/plain"
	case strings.HasSuffix(clean, ".tgz"):
		return "application/octet-stream"
	case strings.HasSuffix(clean, ".tar.gz"), strings.HasSuffix(clean, ".tar.bz2"):
		return "application/x-tar"
	}
	return ""
}
