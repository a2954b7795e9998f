package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-repo/internal/config"
	"github.com/any-hub/any-repo/internal/logging"
	"github.com/any-hub/any-repo/internal/remotecache"
	"github.com/any-hub/any-repo/internal/server"
)

func TestRepositoriesEndpoint(t *testing.T) {
	env := newAdminEnv(t)

	resp := env.do(t, http.MethodGet, "/-/repositories")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Repositories []repositoryPayload `json:"repositories"`
		Caches       []remotecache.Stats `json:"caches"`
	}
	decode(t, resp, &payload)

	keys := make([]string, 0, len(payload.Repositories))
	for _, repo := range payload.Repositories {
		keys = append(keys, repo.Key)
	}
	if strings.Join(keys, ",") != "central,central-cache,libs,public" {
		t.Fatalf("unexpected repositories: %v", keys)
	}
	central := payload.Repositories[0]
	if central.Remote == nil || central.Remote.CacheRepo != "central-cache" || !central.Remote.StoreLocally {
		t.Fatalf("remote payload incomplete: %+v", central.Remote)
	}
	if central.Remote.RetrievalTTLSeconds != 3600 || central.Remote.AuthMode != "anonymous" {
		t.Fatalf("remote ttl/auth wrong: %+v", central.Remote)
	}
	if payload.Repositories[3].Virtual == nil || len(payload.Repositories[3].Virtual.Members) != 2 {
		t.Fatalf("virtual payload incomplete: %+v", payload.Repositories[3])
	}
	if len(payload.Caches) != 1 || payload.Caches[0].Remote != "central" {
		t.Fatalf("cache stats missing: %+v", payload.Caches)
	}

	resp = env.do(t, http.MethodGet, "/-/repositories/ghost")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("unknown repository should 404, got %d", resp.StatusCode)
	}
}

func TestOfflineToggle(t *testing.T) {
	env := newAdminEnv(t)

	resp := env.do(t, http.MethodPost, "/-/remotes/central/offline")
	var state struct {
		Remote  string `json:"remote"`
		Offline bool   `json:"offline"`
	}
	decode(t, resp, &state)
	if !state.Offline || !env.runtime.Engine.IsOffline("central") {
		t.Fatalf("remote should be offline")
	}

	resp = env.do(t, http.MethodGet, "/central/a/b.jar")
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("offline remote should 503, got %d", resp.StatusCode)
	}
	if env.hits.Load() != 0 {
		t.Fatalf("offline remote must not reach upstream")
	}

	resp = env.do(t, http.MethodDelete, "/-/remotes/central/offline")
	decode(t, resp, &state)
	if state.Offline {
		t.Fatalf("remote should be online again")
	}

	resp = env.do(t, http.MethodPost, "/-/remotes/libs/offline")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("local repository cannot be toggled, got %d", resp.StatusCode)
	}
}

func TestCacheEviction(t *testing.T) {
	env := newAdminEnv(t)

	env.do(t, http.MethodGet, "/central/a/missing.jar")
	env.do(t, http.MethodGet, "/central/a/missing.jar")
	if got := env.hits.Load(); got != 1 {
		t.Fatalf("missed outcome should suppress refetch, hits=%d", got)
	}

	resp := env.do(t, http.MethodDelete, "/-/caches/central/a?subpaths=true")
	var removed struct {
		Removed  int  `json:"removed"`
		SubPaths bool `json:"sub_paths"`
	}
	decode(t, resp, &removed)
	if removed.Removed != 1 || !removed.SubPaths {
		t.Fatalf("expected one outcome removed: %+v", removed)
	}

	env.do(t, http.MethodGet, "/central/a/missing.jar")
	if got := env.hits.Load(); got != 2 {
		t.Fatalf("evicted path should be refetched, hits=%d", got)
	}

	resp = env.do(t, http.MethodDelete, "/-/caches/central")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("clear should succeed, got %d", resp.StatusCode)
	}
	env.do(t, http.MethodGet, "/central/a/missing.jar")
	if got := env.hits.Load(); got != 3 {
		t.Fatalf("cleared table should refetch, hits=%d", got)
	}

	resp = env.do(t, http.MethodDelete, "/-/caches/libs")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("clearing a local repository should 404, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAdminEnv(t)
	env.do(t, http.MethodGet, "/central/a/missing.jar")

	resp := env.do(t, http.MethodGet, "/-/metrics")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("metrics should be served, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "anyrepo_resolutions_total") {
		t.Fatalf("metrics output missing resolution counter")
	}
}

type adminEnv struct {
	app     *fiber.App
	runtime *server.Runtime
	hits    *atomic.Int64
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()

	hits := &atomic.Int64{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:           5000,
			StoragePath:          t.TempDir(),
			RetrievalTTL:         config.Duration(time.Hour),
			FailedTTL:            config.Duration(time.Minute),
			MissedTTL:            config.Duration(time.Hour),
			LockIdleTimeout:      config.Duration(time.Minute),
			MaxOutcomesPerRemote: 100,
			UpstreamTimeout:      config.Duration(5 * time.Second),
		},
		Locals:   []config.LocalConfig{{Key: "libs", Layout: "maven"}},
		Remotes:  []config.RemoteConfig{{Key: "central", URL: upstream.URL, Layout: "maven"}},
		Virtuals: []config.VirtualConfig{{Key: "public", Members: []string{"libs", "central"}}},
	}

	rt, err := server.NewRuntime(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("failed to build runtime: %v", err)
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:    rt.Logger,
		Registry:  rt.Engine.Registry(),
		Artifacts: server.NewHandler(rt.Engine, rt.Logger),
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	RegisterAdminRoutes(app, rt.Engine, rt.Metrics.Handler())
	return &adminEnv{app: app, runtime: rt, hits: hits}
}

func (e *adminEnv) do(t *testing.T, method, target string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, "http://repo.local"+target, nil)
	resp, err := e.app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
