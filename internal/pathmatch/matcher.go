// Package pathmatch evaluates Ant-style include/exclude patterns against
// repository-relative paths.
//
// Patterns support '?' (one character), '*' (any characters within a path
// segment) and '**' (any number of segments, including none). A pattern that
// ends with '/' is treated as if it ended with '/**'. Matching is backed by
// github.com/gobwas/glob compiled with '/' as the separator.
package pathmatch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// Matcher 负责 include/exclude 判定，并按模式字符串缓存编译结果。可并发使用。
type Matcher struct {
	mu       sync.RWMutex
	compiled map[string]compiledPattern
}

type compiledPattern struct {
	globs []glob.Glob
	err   error
}

// NewMatcher 创建一个空缓存的 Matcher。
func NewMatcher() *Matcher {
	return &Matcher{compiled: make(map[string]compiledPattern)}
}

// Matches 判断 path 是否被接受：任一 exclude 命中立即拒绝；includes 非空时至少命中一个；
// includes 为空（或仅含空白项）时接受所有未被排除的路径。
func (m *Matcher) Matches(p string, includes, excludes []string) bool {
	p = normalizePath(p)
	for _, pattern := range excludes {
		if m.match(pattern, p) {
			return false
		}
	}
	sawInclude := false
	for _, pattern := range includes {
		if strings.TrimSpace(pattern) == "" {
			continue
		}
		sawInclude = true
		if m.match(pattern, p) {
			return true
		}
	}
	return !sawInclude
}

// Match 判断单个模式是否命中 path。非法模式视为不命中。
func (m *Matcher) Match(pattern, p string) bool {
	return m.match(pattern, normalizePath(p))
}

// IsInDefaultExcludes 检查 path 是否命中进程级默认排除列表（VCS 目录、系统元数据文件）。
func (m *Matcher) IsInDefaultExcludes(p string) bool {
	return IsInDefaultExcludes(p)
}

func (m *Matcher) match(pattern, p string) bool {
	if strings.TrimSpace(pattern) == "" {
		return false
	}
	cp := m.lookup(pattern)
	if cp.err != nil {
		return false
	}
	for _, g := range cp.globs {
		if g.Match(p) {
			return true
		}
	}
	return false
}

func (m *Matcher) lookup(pattern string) compiledPattern {
	m.mu.RLock()
	cp, ok := m.compiled[pattern]
	m.mu.RUnlock()
	if ok {
		return cp
	}

	globs, err := compile(pattern)
	cp = compiledPattern{globs: globs, err: err}

	m.mu.Lock()
	m.compiled[pattern] = cp
	m.mu.Unlock()
	return cp
}

// Validate 检查模式能否编译，供配置校验使用。
func Validate(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("empty pattern")
	}
	_, err := compile(pattern)
	return err
}

// compile 将 Ant 模式展开为若干 gobwas glob：每个独立的 "**" 段既可保留，也可连同分隔符一起省略，
// 以表达 "零个或多个目录" 的语义。
func compile(pattern string) ([]glob.Glob, error) {
	normalized := normalizePattern(pattern)
	variants := expandDoubleStars(strings.Split(normalized, "/"))

	seen := make(map[string]struct{}, len(variants))
	globs := make([]glob.Glob, 0, len(variants))
	for _, variant := range variants {
		if _, dup := seen[variant]; dup {
			continue
		}
		seen[variant] = struct{}{}
		g, err := glob.Compile(escapeMeta(variant), '/')
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func expandDoubleStars(segments []string) []string {
	if len(segments) == 0 {
		return []string{""}
	}
	head, rest := segments[0], expandDoubleStars(segments[1:])
	out := make([]string, 0, len(rest)*2)
	for _, tail := range rest {
		out = append(out, joinSegment(head, tail))
		if head == "**" {
			out = append(out, tail)
		}
	}
	return out
}

func joinSegment(head, tail string) string {
	if tail == "" {
		return head
	}
	return head + "/" + tail
}

func normalizePattern(pattern string) string {
	pattern = strings.TrimSpace(strings.ReplaceAll(pattern, "\\", "/"))
	pattern = strings.TrimLeft(pattern, "/")
	if pattern == "" || strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}
	return pattern
}

func normalizePath(p string) string {
	return strings.TrimLeft(strings.ReplaceAll(p, "\\", "/"), "/")
}

// escapeMeta 转义 gobwas 额外支持、但 Ant 模式中属于字面量的字符。
func escapeMeta(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for _, r := range pattern {
		switch r {
		case '{', '}', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
