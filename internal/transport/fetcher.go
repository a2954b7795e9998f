// Package transport is the network collaborator of the resolution engine.
// It issues conditional GET requests against remote repositories, applies
// per-remote credentials and proxies, and retries once with a bearer token
// when the upstream answers with a bearer challenge.
package transport

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Conditional 携带条件请求所需的校验头。
type Conditional struct {
	ETag         string
	LastModified string
}

// Request 描述一次上游拉取。
type Request struct {
	// Remote 是远程仓库键，仅用于日志与指标。
	Remote   string
	URL      string
	Username string
	Password string
	// Proxy 为空时使用环境变量中的代理设置。
	Proxy       string
	Conditional Conditional
}

// Response 是上游响应；调用方负责关闭 Body。
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Close 关闭 Body，可对 nil 调用。
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// ETag 返回规范化后的 ETag。
func (r *Response) ETag() string {
	if r == nil {
		return ""
	}
	return NormalizeETag(r.Header.Get("Etag"))
}

// LastModified 返回原始的 Last-Modified 头。
func (r *Response) LastModified() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Header.Get("Last-Modified"))
}

// ModTime 解析 Last-Modified，缺失或非法时返回当前时间。
func (r *Response) ModTime() time.Time {
	if r != nil {
		if last := r.Header.Get("Last-Modified"); last != "" {
			if parsed, err := http.ParseTime(last); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Now().UTC()
}

// Fetcher 抽象网络访问，测试中可替换为计数桩。
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// FetcherFunc 让普通函数实现 Fetcher。
type FetcherFunc func(ctx context.Context, req Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// JoinURL 将仓库相对路径拼接到远程基础 URL 上，保留基础 URL 的路径前缀。
func JoinURL(base, p string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	rel := strings.TrimLeft(p, "/")
	prefix := strings.TrimSuffix(u.Path, "/")
	u.Path = prefix + "/" + rel
	u.RawPath = ""
	return u.String(), nil
}

// NormalizeETag 去除首尾空白，弱校验前缀保留原样。
func NormalizeETag(value string) string {
	return strings.TrimSpace(value)
}
