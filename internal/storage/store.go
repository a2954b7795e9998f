package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/any-hub/any-repo/internal/checksum"
	"github.com/any-hub/any-repo/internal/pathkey"
)

// Store 负责仓库内容的读写。磁盘布局遵循：
//
//	<StoragePath>/<repoKey>/<path>              # 实际正文
//	<StoragePath>/.meta/<repoKey>/<path>.json   # 元数据（校验和、ETag、Content-Type）
//
// 仓库键不允许以 '.' 开头，因此 .meta 不会与任何仓库目录冲突。
type Store interface {
	// Exists 判断正文是否存在。
	Exists(ctx context.Context, key pathkey.PathKey) (bool, error)

	// Stat 返回条目描述但不打开正文。不存在时返回 ErrNotFound。
	Stat(ctx context.Context, key pathkey.PathKey) (*Entry, error)

	// Read 返回一个可流式读取的条目。若不存在则返回 ErrNotFound。
	Read(ctx context.Context, key pathkey.PathKey) (*ReadResult, error)

	// Write 通过临时文件 + rename 写入正文，写入过程中计算校验和；
	// opts.Verify 拒绝时不会改动已有内容。
	Write(ctx context.Context, key pathkey.PathKey, body io.Reader, opts WriteOptions) (*Entry, error)

	// Delete 删除正文与元数据；recursive 为 true 时删除整个子树。
	Delete(ctx context.Context, key pathkey.PathKey, recursive bool) error

	// List 返回目录 key 下直接包含的正文文件名（按名称排序），不含子目录与写入中的临时文件。
	// 目录不存在时返回空结果。
	List(ctx context.Context, key pathkey.PathKey) ([]string, error)
}

// VerifyFunc 在正文落盘前、rename 之前被调用，返回错误即放弃本次写入。
// 返回的 Sums 为最终持久化的校验和。
type VerifyFunc func(actual checksum.Sums, size int64) (checksum.Sums, error)

// WriteOptions 控制写入过程中的可选属性。
type WriteOptions struct {
	ModTime      time.Time
	ETag         string
	LastModified string
	ContentType  string
	Verify       VerifyFunc
}

// Entry 描述一个已存储的条目。
type Entry struct {
	Key          pathkey.PathKey `json:"key"`
	FilePath     string          `json:"-"`
	SizeBytes    int64           `json:"size"`
	ModTime      time.Time       `json:"modTime"`
	StoredAt     time.Time       `json:"storedAt"`
	Checksums    checksum.Sums   `json:"checksums,omitempty"`
	ETag         string          `json:"etag,omitempty"`
	LastModified string          `json:"lastModified,omitempty"`
	ContentType  string          `json:"contentType,omitempty"`
}

// ReadResult 组合 Entry 与正文 Reader，便于上层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示条目不存在。
var ErrNotFound = errors.New("storage entry not found")
