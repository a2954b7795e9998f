package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-repo/internal/logging"
)

// DefaultTimeout 是未配置 UpstreamTimeout 时的请求超时。
const DefaultTimeout = 30 * time.Second

const userAgent = "any-repo"

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 http.Client，用于所有上游请求。
func NewUpstreamClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// HTTPFetcher 是基于 net/http 的 Fetcher 实现。
type HTTPFetcher struct {
	client *http.Client
	logger *logrus.Logger

	// 按代理地址缓存派生出的 client，避免每次请求都克隆 Transport。
	proxied sync.Map
}

// NewHTTPFetcher 创建 HTTPFetcher；client 为空时使用 NewUpstreamClient(0)。
func NewHTTPFetcher(client *http.Client, logger *logrus.Logger) *HTTPFetcher {
	if client == nil {
		client = NewUpstreamClient(0)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTTPFetcher{client: client, logger: logger}
}

// Fetch 发起 GET 请求。带凭证的远程仓库在 401/429 时会按 bearer 质询重试一次。
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	client, err := f.clientFor(req.Proxy)
	if err != nil {
		return nil, err
	}

	resp, err := f.do(ctx, client, req, "")
	if err != nil {
		return nil, err
	}

	if hasCredentials(req) && isAuthFailure(resp.StatusCode) {
		challenge, ok := parseBearerChallenge(resp.Header.Values("Www-Authenticate"))
		f.logger.WithFields(logrus.Fields{
			"action":          "fetch_retry",
			"remote":          req.Remote,
			"upstream":        req.URL,
			"upstream_status": resp.StatusCode,
			"reason":          "auth_retry",
		}).Warn("upstream_auth_retry")
		resp.Body.Close()

		authHeader := ""
		if ok {
			token, err := f.fetchBearerToken(ctx, client, challenge, req)
			if err != nil {
				return nil, err
			}
			authHeader = "Bearer " + token
		}
		resp, err = f.do(ctx, client, req, authHeader)
		if err != nil {
			return nil, err
		}
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

func (f *HTTPFetcher) do(ctx context.Context, client *http.Client, req Request, overrideAuth string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", userAgent)
	if etag := NormalizeETag(req.Conditional.ETag); etag != "" {
		httpReq.Header.Set("If-None-Match", etag)
	}
	if lm := strings.TrimSpace(req.Conditional.LastModified); lm != "" {
		httpReq.Header.Set("If-Modified-Since", lm)
	}
	if overrideAuth != "" {
		httpReq.Header.Set("Authorization", overrideAuth)
	} else if authHeader := buildCredentialHeader(req.Username, req.Password); authHeader != "" {
		httpReq.Header.Set("Authorization", authHeader)
	}
	return client.Do(httpReq)
}

func (f *HTTPFetcher) clientFor(proxy string) (*http.Client, error) {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" {
		return f.client, nil
	}
	if cached, ok := f.proxied.Load(proxy); ok {
		return cached.(*http.Client), nil
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", proxy, err)
	}
	transport := http.Transport{}
	if base, ok := f.client.Transport.(*http.Transport); ok && base != nil {
		transport = *base.Clone()
	}
	transport.Proxy = http.ProxyURL(proxyURL)
	client := *f.client
	client.Transport = &transport
	actual, _ := f.proxied.LoadOrStore(proxy, &client)
	return actual.(*http.Client), nil
}

type bearerChallenge struct {
	Realm   string
	Service string
	Scope   string
}

func parseBearerChallenge(values []string) (bearerChallenge, bool) {
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			continue
		}
		params := parseAuthParams(raw[len("Bearer "):])
		challenge := bearerChallenge{
			Realm:   params["realm"],
			Service: params["service"],
			Scope:   params["scope"],
		}
		if challenge.Realm == "" {
			continue
		}
		return challenge, true
	}
	return bearerChallenge{}, false
}

func parseAuthParams(input string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		value := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		params[key] = value
	}
	return params
}

func (f *HTTPFetcher) fetchBearerToken(ctx context.Context, client *http.Client, challenge bearerChallenge, req Request) (string, error) {
	tokenURL, err := url.Parse(challenge.Realm)
	if err != nil {
		return "", fmt.Errorf("invalid bearer realm: %w", err)
	}
	query := tokenURL.Query()
	if challenge.Service != "" {
		query.Set("service", challenge.Service)
	}
	if challenge.Scope != "" {
		query.Set("scope", challenge.Scope)
	}
	tokenURL.RawQuery = query.Encode()

	tokenReq, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", err
	}
	tokenReq.SetBasicAuth(req.Username, req.Password)

	resp, err := client.Do(tokenReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("token request failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokenResp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	token := tokenResp.Token
	if token == "" {
		token = tokenResp.AccessToken
	}
	if token == "" {
		return "", errors.New("token response missing token value")
	}
	return token, nil
}

func buildCredentialHeader(username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func hasCredentials(req Request) bool {
	return req.Username != "" && req.Password != ""
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusTooManyRequests
}
