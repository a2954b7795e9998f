package routes

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/any-hub/any-repo/internal/pathkey"
	"github.com/any-hub/any-repo/internal/remotecache"
	"github.com/any-hub/any-repo/internal/repository"
	"github.com/any-hub/any-repo/internal/server"
)

// Admin 是管理接口依赖的引擎能力。
type Admin interface {
	Registry() *repository.Registry
	RemoveFromCaches(key pathkey.PathKey, removeSubPaths bool) (int, error)
	ClearCaches(remote string) error
	SetOffline(remote string, offline bool) error
	IsOffline(remote string) bool
	CacheStats() []remotecache.Stats
}

// RegisterAdminRoutes 暴露 /-/ 下的诊断与管理接口，供 SRE 查询仓库拓扑、清理结论缓存与切换离线状态。
// metrics 为空时不注册 /-/metrics。
func RegisterAdminRoutes(app *fiber.App, admin Admin, metrics http.Handler) {
	if app == nil || admin == nil {
		return
	}

	app.Get("/-/repositories", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"repositories": encodeRepositories(admin),
			"caches":       admin.CacheStats(),
		})
	})

	app.Get("/-/repositories/:repo", func(c fiber.Ctx) error {
		key := strings.TrimSpace(c.Params("repo"))
		desc, err := admin.Registry().Get(key)
		if err != nil {
			return writeAdminError(c, err)
		}
		return c.JSON(encodeRepository(desc, admin))
	})

	app.Delete("/-/caches/:repo", func(c fiber.Ctx) error {
		repo := c.Params("repo")
		if err := admin.ClearCaches(repo); err != nil {
			return writeAdminError(c, err)
		}
		return c.JSON(fiber.Map{"cleared": repo})
	})

	app.Delete("/-/caches/:repo/*", func(c fiber.Ctx) error {
		key := pathkey.New(c.Params("repo"), c.Params("*"))
		subPaths := c.Query("subpaths") == "true"
		removed, err := admin.RemoveFromCaches(key, subPaths)
		if err != nil {
			return writeAdminError(c, err)
		}
		return c.JSON(fiber.Map{
			"repo":      key.RepoKey(),
			"path":      key.Path(),
			"sub_paths": subPaths,
			"removed":   removed,
		})
	})

	app.Post("/-/remotes/:repo/offline", offlineHandler(admin, true))
	app.Delete("/-/remotes/:repo/offline", offlineHandler(admin, false))

	if metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(metrics))
	}
}

func offlineHandler(admin Admin, offline bool) fiber.Handler {
	return func(c fiber.Ctx) error {
		repo := c.Params("repo")
		if err := admin.SetOffline(repo, offline); err != nil {
			return writeAdminError(c, err)
		}
		return c.JSON(fiber.Map{"remote": repo, "offline": admin.IsOffline(repo)})
	}
}

func writeAdminError(c fiber.Ctx, err error) error {
	status, code := server.StatusFor(err)
	return c.Status(status).JSON(fiber.Map{"error": code, "detail": err.Error()})
}

type repositoryPayload struct {
	Key      string          `json:"key"`
	Kind     repository.Kind `json:"kind"`
	Includes []string        `json:"includes,omitempty"`
	Excludes []string        `json:"excludes,omitempty"`
	Layout   string          `json:"layout,omitempty"`
	Local    *localPayload   `json:"local,omitempty"`
	Remote   *remotePayload  `json:"remote,omitempty"`
	Virtual  *virtualPayload `json:"virtual,omitempty"`
}

type localPayload struct {
	SnapshotBehavior string `json:"snapshot_behavior"`
	ChecksumPolicy   string `json:"checksum_policy"`
	Implicit         bool   `json:"implicit"`
}

type remotePayload struct {
	URL                 string `json:"url"`
	CacheRepo           string `json:"cache_repo"`
	StoreLocally        bool   `json:"store_locally"`
	HardFail            bool   `json:"hard_fail"`
	Offline             bool   `json:"offline"`
	RetrievalTTLSeconds int64  `json:"retrieval_ttl_seconds"`
	FailedTTLSeconds    int64  `json:"failed_ttl_seconds"`
	MissedTTLSeconds    int64  `json:"missed_ttl_seconds"`
	ChecksumPolicy      string `json:"checksum_policy"`
	AuthMode            string `json:"auth_mode"`
	Proxied             bool   `json:"proxied"`
}

type virtualPayload struct {
	Members                []string `json:"members"`
	CanFetchRemoteOnDeploy bool     `json:"can_fetch_remote_on_deploy"`
}

func encodeRepositories(admin Admin) []repositoryPayload {
	descs := admin.Registry().List()
	if len(descs) == 0 {
		return nil
	}
	result := make([]repositoryPayload, 0, len(descs))
	for _, desc := range descs {
		result = append(result, encodeRepository(desc, admin))
	}
	return result
}

func encodeRepository(desc repository.Descriptor, admin Admin) repositoryPayload {
	includes, excludes := desc.Filters()
	payload := repositoryPayload{
		Key:      desc.RepoKey(),
		Kind:     desc.Kind(),
		Includes: includes,
		Excludes: excludes,
	}
	switch d := desc.(type) {
	case *repository.Local:
		payload.Layout = d.Layout
		payload.Local = &localPayload{
			SnapshotBehavior: string(d.SnapshotBehavior),
			ChecksumPolicy:   d.ChecksumPolicy,
			Implicit:         d.Implicit,
		}
	case *repository.Remote:
		payload.Layout = d.Layout
		payload.Remote = &remotePayload{
			URL:                 d.URL,
			CacheRepo:           d.CacheRepo,
			StoreLocally:        d.StoreLocally,
			HardFail:            d.HardFail,
			Offline:             admin.IsOffline(d.Key),
			RetrievalTTLSeconds: int64(d.RetrievalTTL.Seconds()),
			FailedTTLSeconds:    int64(d.FailedTTL.Seconds()),
			MissedTTLSeconds:    int64(d.MissedTTL.Seconds()),
			ChecksumPolicy:      d.ChecksumPolicy,
			AuthMode:            authMode(d),
			Proxied:             d.Proxy != "",
		}
	case *repository.Virtual:
		payload.Virtual = &virtualPayload{
			Members:                append([]string(nil), d.Members...),
			CanFetchRemoteOnDeploy: d.CanFetchRemoteOnDeploy,
		}
	}
	return payload
}

func authMode(r *repository.Remote) string {
	if r.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}
