package resolver

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/any-hub/any-repo/internal/checksum"
	"github.com/any-hub/any-repo/internal/pathkey"
	"github.com/any-hub/any-repo/internal/repository"
)

// maxZipEntrySize 限制单个压缩包条目解压后的大小。
const maxZipEntrySize = 64 << 20

// openZipEntry 在已解析的压缩包中定位条目，条目内容读入内存后返回。
func openZipEntry(archive *repository.Resource, name string) (*repository.Resource, error) {
	rc, err := archive.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	ra, ok := rc.(io.ReaderAt)
	if !ok {
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		ra = bytes.NewReader(data)
	}
	zr, err := zip.NewReader(ra, archive.Size)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, fmt.Errorf("%w: %s is not a zip archive", repository.ErrNotFound, archive.RepoPath)
		}
		return nil, err
	}

	name = strings.TrimSuffix(name, "/")
	for _, f := range zr.File {
		if f.Name != name || f.FileInfo().IsDir() {
			continue
		}
		if f.UncompressedSize64 > maxZipEntrySize {
			return nil, fmt.Errorf("zip entry %s exceeds %d bytes", name, maxZipEntrySize)
		}
		body, err := readZipFile(f, maxZipEntrySize)
		if err != nil {
			return nil, err
		}
		sums, _, _ := checksum.Compute(bytes.NewReader(body))
		return &repository.Resource{
			Kind:         repository.ResourceZipEntry,
			RepoPath:     pathkey.New(archive.RepoPath.RepoKey(), archive.RepoPath.Path()+repository.ZipEntrySeparator+name),
			Size:         int64(len(body)),
			LastModified: f.Modified,
			MimeType:     mimetype.Detect(body).String(),
			Found:        true,
			CacheAge:     archive.CacheAge,
			FromCache:    archive.FromCache,
			Checksums:    sums,
			ServedBy:     archive.ServedBy,
			Content: func() (io.ReadSeekCloser, error) {
				return nopCloser{bytes.NewReader(body)}, nil
			},
		}, nil
	}
	return nil, fmt.Errorf("%w: %s%s%s", repository.ErrNotFound, archive.RepoPath, repository.ZipEntrySeparator, name)
}

// readZipFile 读取条目正文；实际解压大小超过 limit 时返回错误而不是截断。
func readZipFile(f *zip.File, limit int64) ([]byte, error) {
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("zip entry %s exceeds %d bytes", f.Name, limit)
	}
	return body, nil
}

// checksumResource 用制品已记录的校验和生成 .sha1/.md5/.sha256 文件内容。
func checksumResource(artifact *repository.Resource, p string, t checksum.Type) *repository.Resource {
	value := artifact.Checksums.Get(t)
	if value == "" {
		return nil
	}
	body := []byte(value)
	return &repository.Resource{
		Kind:         repository.ResourceFile,
		RepoPath:     pathkey.New(artifact.RepoPath.RepoKey(), p),
		Size:         int64(len(body)),
		LastModified: artifact.LastModified,
		MimeType:     "text/plain",
		Found:        true,
		CacheAge:     artifact.CacheAge,
		FromCache:    artifact.FromCache,
		ServedBy:     artifact.ServedBy,
		Content: func() (io.ReadSeekCloser, error) {
			return nopCloser{bytes.NewReader(body)}, nil
		},
	}
}
