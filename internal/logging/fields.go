package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ResolveFields 提供仓库/路径/实际提供者/结论字段，供解析与部署日志复用。
func ResolveFields(repo, path, servedBy, outcome string) logrus.Fields {
	fields := logrus.Fields{
		"repo":    repo,
		"path":    path,
		"outcome": outcome,
	}
	if servedBy != "" {
		fields["served_by"] = servedBy
	}
	return fields
}

// RequestFields 记录一次 HTTP 请求的仓库、路径、方法、状态码与命中状态。
func RequestFields(repo, path, method string, status int, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"repo":      repo,
		"path":      path,
		"method":    method,
		"status":    status,
		"cache_hit": cacheHit,
	}
}
