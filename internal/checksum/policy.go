// Package checksum 提供校验和计算与校验策略。策略是一个封闭的小集合，
// 由仓库描述在构造阶段按名称选定。
package checksum

import (
	"fmt"
	"sort"
	"strings"
)

// 策略名称，与配置文件中的 ChecksumPolicy 字段一致。
const (
	PolicyStrict            = "strict"
	PolicyGenerateIfAbsent  = "generate-if-absent"
	PolicyIgnoreAndGenerate = "ignore-and-generate"
)

// Policy 决定声明值（claimed）与实际计算值（actual）之间的接受关系。
type Policy interface {
	// Name 返回策略名称。
	Name() string
	// Verify 判断声明值能否被接受。
	Verify(claimed, actual string) bool
	// Accept 返回最终持久化/对外提供的校验和。
	Accept(claimed, actual string) string
}

type strictPolicy struct{}

// Strict 要求必须提供且与实际值一致的声明值。
var Strict Policy = strictPolicy{}

func (strictPolicy) Name() string { return PolicyStrict }

func (strictPolicy) Verify(claimed, actual string) bool {
	return equal(claimed, actual)
}

func (strictPolicy) Accept(_, actual string) string { return normalize(actual) }

type generateIfAbsentPolicy struct{}

// GenerateIfAbsent 在缺少声明值时直接生成；声明值存在但不一致时判定失败。
var GenerateIfAbsent Policy = generateIfAbsentPolicy{}

func (generateIfAbsentPolicy) Name() string { return PolicyGenerateIfAbsent }

func (generateIfAbsentPolicy) Verify(claimed, actual string) bool {
	if normalize(claimed) == "" {
		return true
	}
	return equal(claimed, actual)
}

func (generateIfAbsentPolicy) Accept(_, actual string) string { return normalize(actual) }

type ignoreAndGeneratePolicy struct{}

// IgnoreAndGenerate 从不拒绝，声明值不一致只作为告警上报。
var IgnoreAndGenerate Policy = ignoreAndGeneratePolicy{}

func (ignoreAndGeneratePolicy) Name() string { return PolicyIgnoreAndGenerate }

func (ignoreAndGeneratePolicy) Verify(_, _ string) bool { return true }

func (ignoreAndGeneratePolicy) Accept(_, actual string) string { return normalize(actual) }

var policies = map[string]Policy{
	PolicyStrict:            Strict,
	PolicyGenerateIfAbsent:  GenerateIfAbsent,
	PolicyIgnoreAndGenerate: IgnoreAndGenerate,
}

// ForName 根据名称返回策略，空名称回退到 GenerateIfAbsent。
func ForName(name string) (Policy, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return GenerateIfAbsent, nil
	}
	if p, ok := policies[normalized]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("unknown checksum policy %q (supported: %s)", name, strings.Join(Names(), "|"))
}

// Names 返回所有已知策略名称（排序后）。
func Names() []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func equal(claimed, actual string) bool {
	c := normalize(claimed)
	return c != "" && c == normalize(actual)
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
