package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectLegacyHubs(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Locals {
		applyLocalDefaults(&cfg.Locals[i])
	}
	for i := range cfg.Remotes {
		applyRemoteDefaults(&cfg.Remotes[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析存储目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("RetrievalTTL", "12h")
	v.SetDefault("FailedTTL", "30s")
	v.SetDefault("MissedTTL", "2h")
	v.SetDefault("LockIdleTimeout", "5m")
	v.SetDefault("MaxOutcomesPerRemote", 100000)
	v.SetDefault("UpstreamTimeout", "30s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.RetrievalTTL.DurationValue() == 0 {
		g.RetrievalTTL = Duration(12 * time.Hour)
	}
	if g.LockIdleTimeout.DurationValue() == 0 {
		g.LockIdleTimeout = Duration(5 * time.Minute)
	}
	if g.MaxOutcomesPerRemote == 0 {
		g.MaxOutcomesPerRemote = 100000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyLocalDefaults(l *LocalConfig) {
	l.Layout = strings.ToLower(strings.TrimSpace(l.Layout))
	l.SnapshotBehavior = strings.ToLower(strings.TrimSpace(l.SnapshotBehavior))
	l.ChecksumPolicy = strings.ToLower(strings.TrimSpace(l.ChecksumPolicy))
}

func applyRemoteDefaults(r *RemoteConfig) {
	r.Layout = strings.ToLower(strings.TrimSpace(r.Layout))
	r.ChecksumPolicy = strings.ToLower(strings.TrimSpace(r.ChecksumPolicy))
	r.URL = strings.TrimSpace(r.URL)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectLegacyHubs 拒绝旧版 [[Hub]] 配置段，提示改写为仓库段。
func rejectLegacyHubs(v *viper.Viper) error {
	if v.IsSet("Hub") {
		return newFieldError("Hub", "配置段已弃用，请改用 [[Local]]/[[Remote]]/[[Virtual]]")
	}
	return nil
}
