package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/any-hub/any-repo/internal/checksum"
	"github.com/any-hub/any-repo/internal/layout"
	"github.com/any-hub/any-repo/internal/pathmatch"
	"github.com/any-hub/any-repo/internal/snapshot"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	for field, d := range map[string]Duration{
		"Global.RetrievalTTL": g.RetrievalTTL,
		"Global.FailedTTL":    g.FailedTTL,
		"Global.MissedTTL":    g.MissedTTL,
	} {
		if d.DurationValue() < 0 {
			return newFieldError(field, "不能为负数")
		}
	}
	if g.LockIdleTimeout.DurationValue() <= 0 {
		return newFieldError("Global.LockIdleTimeout", "必须大于 0")
	}
	if g.MaxOutcomesPerRemote <= 0 {
		return newFieldError("Global.MaxOutcomesPerRemote", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if c.RepositoryCount() == 0 {
		return errors.New("至少需要配置一个仓库")
	}

	kinds := map[string]string{}
	claim := func(section, key string) error {
		if err := validateKey(key); err != nil {
			return newFieldError(repoField(section, key, "Key"), err.Error())
		}
		if other, exists := kinds[key]; exists {
			return newFieldError(repoField(section, key, "Key"), fmt.Sprintf("与 %s[%s] 重复", other, key))
		}
		kinds[key] = section
		return nil
	}

	for i := range c.Locals {
		local := &c.Locals[i]
		if err := claim("Local", local.Key); err != nil {
			return err
		}
		if err := validateLayout("Local", local.Key, local.Layout); err != nil {
			return err
		}
		if _, err := snapshot.ParseBehavior(local.SnapshotBehavior); err != nil {
			return newFieldError(repoField("Local", local.Key, "SnapshotBehavior"), "仅支持 unique/non-unique/deployer")
		}
		if _, err := checksum.ForName(local.ChecksumPolicy); err != nil {
			return newFieldError(repoField("Local", local.Key, "ChecksumPolicy"), "仅支持 "+strings.Join(checksum.Names(), "/"))
		}
		if err := validatePatterns("Local", local.Key, local.Includes, local.Excludes); err != nil {
			return err
		}
	}

	for i := range c.Remotes {
		remote := &c.Remotes[i]
		if err := claim("Remote", remote.Key); err != nil {
			return err
		}
		if err := validateUpstream(remote.URL); err != nil {
			return fmt.Errorf("%s: %w", repoField("Remote", remote.Key, "URL"), err)
		}
		if remote.Proxy != "" {
			if err := validateUpstream(remote.Proxy); err != nil {
				return fmt.Errorf("%s: %w", repoField("Remote", remote.Key, "Proxy"), err)
			}
		}
		if (remote.Username == "") != (remote.Password == "") {
			return newFieldError(repoField("Remote", remote.Key, "Username/Password"), "必须同时提供或同时留空")
		}
		if err := validateLayout("Remote", remote.Key, remote.Layout); err != nil {
			return err
		}
		if _, err := checksum.ForName(remote.ChecksumPolicy); err != nil {
			return newFieldError(repoField("Remote", remote.Key, "ChecksumPolicy"), "仅支持 "+strings.Join(checksum.Names(), "/"))
		}
		if err := validatePatterns("Remote", remote.Key, remote.Includes, remote.Excludes); err != nil {
			return err
		}
	}

	// CacheRepo 与 Members 可以引用任意位置声明的仓库，因此在全部键登记后再检查。
	for _, remote := range c.Remotes {
		if remote.CacheRepo == "" {
			continue
		}
		if kinds[remote.CacheRepo] != "Local" {
			return newFieldError(repoField("Remote", remote.Key, "CacheRepo"), fmt.Sprintf("%q 必须是已声明的 Local 仓库", remote.CacheRepo))
		}
	}

	for i := range c.Virtuals {
		virtual := &c.Virtuals[i]
		if err := claim("Virtual", virtual.Key); err != nil {
			return err
		}
		if err := validatePatterns("Virtual", virtual.Key, virtual.Includes, virtual.Excludes); err != nil {
			return err
		}
	}
	for _, virtual := range c.Virtuals {
		if len(virtual.Members) == 0 {
			return newFieldError(repoField("Virtual", virtual.Key, "Members"), "至少需要一个成员")
		}
		seen := map[string]struct{}{}
		for _, member := range virtual.Members {
			if _, exists := kinds[member]; !exists && !c.isImplicitCache(member) {
				return newFieldError(repoField("Virtual", virtual.Key, "Members"), fmt.Sprintf("未知成员: %s", member))
			}
			if _, dup := seen[member]; dup {
				return newFieldError(repoField("Virtual", virtual.Key, "Members"), fmt.Sprintf("成员重复: %s", member))
			}
			seen[member] = struct{}{}
		}
	}

	return nil
}

// isImplicitCache 判断 key 是否为某个未声明 CacheRepo 的远程仓库的隐式缓存仓库。
func (c *Config) isImplicitCache(key string) bool {
	for _, remote := range c.Remotes {
		if remote.CacheRepo == "" && remote.Key+"-cache" == key {
			return true
		}
	}
	return false
}

func validateKey(key string) error {
	switch {
	case key == "":
		return errors.New("不能为空")
	case key == "-" || strings.HasPrefix(key, "."):
		return errors.New("不能为 '-' 或以 '.' 开头")
	case strings.ContainsAny(key, `:/\* `):
		return errors.New("不能包含 ':' '/' '\\' '*' 或空格")
	}
	return nil
}

func validateLayout(section, key, name string) error {
	if _, ok := layout.Resolve(name); !ok {
		return newFieldError(repoField(section, key, "Layout"), "仅支持 "+strings.Join(layout.Keys(), "/"))
	}
	return nil
}

func validatePatterns(section, key string, includes, excludes []string) error {
	for _, pattern := range includes {
		if err := pathmatch.Validate(pattern); err != nil {
			return fmt.Errorf("%s: %w", repoField(section, key, "Includes"), err)
		}
	}
	for _, pattern := range excludes {
		if err := pathmatch.Validate(pattern); err != nil {
			return fmt.Errorf("%s: %w", repoField(section, key, "Excludes"), err)
		}
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// EffectiveTTLs 返回远程仓库生效的三类 TTL：正值覆盖全局值，负值表示该类结论不缓存，
// 零值（未设置）回退至全局值。
func (c *Config) EffectiveTTLs(r RemoteConfig) (retrieval, failed, missed time.Duration) {
	pick := func(own, global Duration) time.Duration {
		switch v := own.DurationValue(); {
		case v > 0:
			return v
		case v < 0:
			return 0
		}
		return global.DurationValue()
	}
	return pick(r.RetrievalTTL, c.Global.RetrievalTTL),
		pick(r.FailedTTL, c.Global.FailedTTL),
		pick(r.MissedTTL, c.Global.MissedTTL)
}
