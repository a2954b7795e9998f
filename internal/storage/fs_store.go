package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/any-hub/any-repo/internal/checksum"
	"github.com/any-hub/any-repo/internal/lockvault"
	"github.com/any-hub/any-repo/internal/pathkey"
)

const (
	metaDirName = ".meta"
	tempPrefix  = ".write-"
)

// NewFSStore 以 basePath 为根目录构建磁盘存储，整站复用一份实例。
// 写入与删除通过 vault 串行化；vault 为空时使用私有实例。
func NewFSStore(basePath string, vault *lockvault.Vault) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	if vault == nil {
		vault = lockvault.New(lockvault.Options{})
	}
	return &fileStore{basePath: abs, vault: vault}, nil
}

// fileStore 的写入与引擎共用同一个 Vault：解析流程已持有路径锁时，
// 同一 owner 的写入可重入，不会自锁。
type fileStore struct {
	basePath string
	vault    *lockvault.Vault
}

type sidecar struct {
	SizeBytes    int64         `json:"size"`
	ModTime      time.Time     `json:"modTime"`
	StoredAt     time.Time     `json:"storedAt"`
	Checksums    checksum.Sums `json:"checksums,omitempty"`
	ETag         string        `json:"etag,omitempty"`
	LastModified string        `json:"lastModified,omitempty"`
	ContentType  string        `json:"contentType,omitempty"`
}

func (s *fileStore) Exists(ctx context.Context, key pathkey.PathKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	filePath, err := s.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (s *fileStore) Stat(ctx context.Context, key pathkey.PathKey) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	entry := s.entryFor(key, filePath, info)
	return &entry, nil
}

func (s *fileStore) Read(ctx context.Context, key pathkey.PathKey) (*ReadResult, error) {
	entry, err := s.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(entry.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ReadResult{Entry: *entry, Reader: f}, nil
}

func (s *fileStore) Write(ctx context.Context, key pathkey.PathKey, body io.Reader, opts WriteOptions) (*Entry, error) {
	if key.IsRoot() {
		return nil, errors.New("cannot write repository root")
	}
	h, err := s.vault.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	filePath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	metaPath, err := s.metaPath(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), tempPrefix+"*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tempName)
		}
	}()

	hasher := checksum.NewHasher()
	written, err := copyWithContext(ctx, io.MultiWriter(tempFile, hasher), body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}

	sums := hasher.Sums()
	if opts.Verify != nil {
		accepted, err := opts.Verify(sums, written)
		if err != nil {
			return nil, err
		}
		if len(accepted) > 0 {
			sums = accepted
		}
	}

	contentType := opts.ContentType
	if contentType == "" {
		if mtype, err := mimetype.DetectFile(tempName); err == nil {
			contentType = mtype.String()
		}
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := os.Chtimes(tempName, modTime, modTime); err != nil {
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		return nil, err
	}
	committed = true

	meta := sidecar{
		SizeBytes:    written,
		ModTime:      modTime,
		StoredAt:     time.Now().UTC(),
		Checksums:    sums,
		ETag:         opts.ETag,
		LastModified: opts.LastModified,
		ContentType:  contentType,
	}
	if err := writeSidecar(metaPath, meta); err != nil {
		return nil, err
	}

	return &Entry{
		Key:          key,
		FilePath:     filePath,
		SizeBytes:    written,
		ModTime:      modTime,
		StoredAt:     meta.StoredAt,
		Checksums:    sums,
		ETag:         opts.ETag,
		LastModified: opts.LastModified,
		ContentType:  contentType,
	}, nil
}

func (s *fileStore) Delete(ctx context.Context, key pathkey.PathKey, recursive bool) error {
	h, err := s.vault.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer h.Release()

	filePath, err := s.path(key)
	if err != nil {
		return err
	}
	metaPath, err := s.metaPath(key)
	if err != nil {
		return err
	}

	if recursive {
		if err := os.RemoveAll(filePath); err != nil {
			return err
		}
		if err := os.RemoveAll(strings.TrimSuffix(metaPath, ".json")); err != nil {
			return err
		}
	} else if info, err := os.Stat(filePath); err == nil && info.IsDir() {
		return nil
	} else if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) List(ctx context.Context, key pathkey.PathKey) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirPath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// entryFor 合并文件信息与元数据；元数据缺失或与正文大小不一致时重新计算校验和。
func (s *fileStore) entryFor(key pathkey.PathKey, filePath string, info fs.FileInfo) Entry {
	entry := Entry{
		Key:       key,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
		StoredAt:  info.ModTime(),
	}
	metaPath, err := s.metaPath(key)
	if err == nil {
		if meta, err := readSidecar(metaPath); err == nil && meta.matches(info) {
			entry.StoredAt = meta.StoredAt
			entry.Checksums = meta.Checksums
			entry.ETag = meta.ETag
			entry.LastModified = meta.LastModified
			entry.ContentType = meta.ContentType
			return entry
		}
	}
	if f, err := os.Open(filePath); err == nil {
		if sums, _, err := checksum.Compute(f); err == nil {
			entry.Checksums = sums
		}
		f.Close()
	}
	if mtype, err := mimetype.DetectFile(filePath); err == nil {
		entry.ContentType = mtype.String()
	}
	return entry
}

func (s *fileStore) path(key pathkey.PathKey) (string, error) {
	rel, err := relativePath(key)
	if err != nil {
		return "", err
	}
	root := filepath.Join(s.basePath, key.RepoKey())
	filePath := filepath.Join(root, filepath.FromSlash(rel))
	if filePath != root && !strings.HasPrefix(filePath, root+string(filepath.Separator)) {
		return "", errors.New("invalid storage path")
	}
	return filePath, nil
}

func (s *fileStore) metaPath(key pathkey.PathKey) (string, error) {
	rel, err := relativePath(key)
	if err != nil {
		return "", err
	}
	if rel == "" {
		rel = "."
	}
	root := filepath.Join(s.basePath, metaDirName, key.RepoKey())
	return filepath.Join(root, filepath.FromSlash(rel)) + ".json", nil
}

func relativePath(key pathkey.PathKey) (string, error) {
	repo := key.RepoKey()
	if repo == "" || repo == pathkey.Any || strings.HasPrefix(repo, ".") || strings.ContainsAny(repo, `/\`) {
		return "", fmt.Errorf("invalid repository key %q", repo)
	}
	rel := path.Clean("/" + key.Path())
	return strings.TrimPrefix(rel, "/"), nil
}

// matches 以大小和秒级修改时间判断元数据是否对应当前正文。
func (m sidecar) matches(info fs.FileInfo) bool {
	return m.SizeBytes == info.Size() && m.ModTime.Unix() == info.ModTime().Unix()
}

func readSidecar(metaPath string) (sidecar, error) {
	var meta sidecar
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

func writeSidecar(metaPath string, meta sidecar) error {
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(metaPath), ".meta-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, metaPath); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
