package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有仓库共享同一份参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`

	// 远程仓库未覆盖时使用的三类结论 TTL。
	RetrievalTTL Duration `mapstructure:"RetrievalTTL"`
	FailedTTL    Duration `mapstructure:"FailedTTL"`
	MissedTTL    Duration `mapstructure:"MissedTTL"`

	LockIdleTimeout      Duration `mapstructure:"LockIdleTimeout"`
	MaxOutcomesPerRemote int      `mapstructure:"MaxOutcomesPerRemote"`
	UpstreamTimeout      Duration `mapstructure:"UpstreamTimeout"`
}

// LocalConfig 对应 [[Local]]，部署目标与远程缓存都落在本地仓库中。
type LocalConfig struct {
	Key              string   `mapstructure:"Key"`
	Layout           string   `mapstructure:"Layout"`
	Includes         []string `mapstructure:"Includes"`
	Excludes         []string `mapstructure:"Excludes"`
	SnapshotBehavior string   `mapstructure:"SnapshotBehavior"`
	ChecksumPolicy   string   `mapstructure:"ChecksumPolicy"`
}

// RemoteConfig 对应 [[Remote]]。StoreLocally 缺省为 true。
type RemoteConfig struct {
	Key            string   `mapstructure:"Key"`
	URL            string   `mapstructure:"URL"`
	Layout         string   `mapstructure:"Layout"`
	Includes       []string `mapstructure:"Includes"`
	Excludes       []string `mapstructure:"Excludes"`
	RetrievalTTL   Duration `mapstructure:"RetrievalTTL"`
	FailedTTL      Duration `mapstructure:"FailedTTL"`
	MissedTTL      Duration `mapstructure:"MissedTTL"`
	HardFail       bool     `mapstructure:"HardFail"`
	Offline        bool     `mapstructure:"Offline"`
	StoreLocally   *bool    `mapstructure:"StoreLocally"`
	CacheRepo      string   `mapstructure:"CacheRepo"`
	ChecksumPolicy string   `mapstructure:"ChecksumPolicy"`
	Username       string   `mapstructure:"Username"`
	Password       string   `mapstructure:"Password"`
	Proxy          string   `mapstructure:"Proxy"`
}

// VirtualConfig 对应 [[Virtual]]，Members 的顺序即解析顺序。
type VirtualConfig struct {
	Key                    string   `mapstructure:"Key"`
	Members                []string `mapstructure:"Members"`
	Includes               []string `mapstructure:"Includes"`
	Excludes               []string `mapstructure:"Excludes"`
	CanFetchRemoteOnDeploy *bool    `mapstructure:"CanFetchRemoteOnDeploy"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig    `mapstructure:",squash"`
	Locals   []LocalConfig   `mapstructure:"Local"`
	Remotes  []RemoteConfig  `mapstructure:"Remote"`
	Virtuals []VirtualConfig `mapstructure:"Virtual"`
}

// HasCredentials 表示当前远程仓库是否配置了完整的上游凭证。
func (r RemoteConfig) HasCredentials() bool {
	return r.Username != "" && r.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (r RemoteConfig) AuthMode() string {
	if r.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// StoresLocally 返回 StoreLocally 的生效值。
func (r RemoteConfig) StoresLocally() bool {
	return r.StoreLocally == nil || *r.StoreLocally
}

// FetchesRemote 返回 CanFetchRemoteOnDeploy 的生效值。
func (v VirtualConfig) FetchesRemote() bool {
	return v.CanFetchRemoteOnDeploy == nil || *v.CanFetchRemoteOnDeploy
}

// CredentialModes 返回所有远程仓库的鉴权模式摘要，例如 central:anonymous。
func CredentialModes(remotes []RemoteConfig) []string {
	if len(remotes) == 0 {
		return nil
	}
	result := make([]string, len(remotes))
	for i, remote := range remotes {
		result[i] = fmt.Sprintf("%s:%s", remote.Key, remote.AuthMode())
	}
	return result
}

// RepositoryCount 返回三类仓库的总数。
func (c *Config) RepositoryCount() int {
	return len(c.Locals) + len(c.Remotes) + len(c.Virtuals)
}
