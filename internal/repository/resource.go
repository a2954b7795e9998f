package repository

import (
	"io"
	"strings"
	"time"

	"github.com/any-hub/any-repo/internal/checksum"
	"github.com/any-hub/any-repo/internal/pathkey"
)

// ResourceKind 区分普通文件、元数据描述文件与压缩包内条目。
type ResourceKind string

const (
	ResourceFile     ResourceKind = "file"
	ResourceMetadata ResourceKind = "metadata"
	ResourceZipEntry ResourceKind = "zip-entry"
)

// ZipEntrySeparator 分隔压缩包路径与包内条目，例如 a/b.zip!/META-INF/MANIFEST.MF。
const ZipEntrySeparator = "!/"

// SplitZipEntry 拆分 archive!/entry 形式的路径。
func SplitZipEntry(p string) (archive, entry string, ok bool) {
	idx := strings.Index(p, ZipEntrySeparator)
	if idx <= 0 {
		return p, "", false
	}
	entry = strings.TrimLeft(p[idx+len(ZipEntrySeparator):], "/")
	if entry == "" {
		return p, "", false
	}
	return p[:idx], entry, true
}

// Opener 按需打开资源内容，调用方负责 Close。
type Opener func() (io.ReadSeekCloser, error)

// Resource 是一次成功解析的结果。
type Resource struct {
	Kind         ResourceKind    `json:"kind"`
	RepoPath     pathkey.PathKey `json:"repoPath"`
	Size         int64           `json:"size"`
	LastModified time.Time       `json:"lastModified"`
	MimeType     string          `json:"mimeType,omitempty"`
	Found        bool            `json:"found"`
	// CacheAge 仅对来自远程缓存的资源有意义。
	CacheAge  *time.Duration `json:"cacheAge,omitempty"`
	FromCache bool           `json:"fromCache"`
	Checksums checksum.Sums  `json:"checksums,omitempty"`
	// ServedBy 是实际提供内容的仓库（成员）键。
	ServedBy string `json:"servedBy"`
	ETag     string `json:"etag,omitempty"`

	Content Opener `json:"-"`
}

// Open 打开资源内容。
func (r *Resource) Open() (io.ReadSeekCloser, error) {
	if r == nil || r.Content == nil {
		return nil, ErrNotFound
	}
	return r.Content()
}
