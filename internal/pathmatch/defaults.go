package pathmatch

import (
	"strings"

	"github.com/gobwas/glob"
)

var defaultExcludePatterns = []string{
	"**/*~",
	"**/#*#",
	"**/.#*",
	"**/%*%",
	"**/._*",
	"**/CVS",
	"**/CVS/**",
	"**/.cvsignore",
	"**/SCCS",
	"**/SCCS/**",
	"**/vssver.scc",
	"**/.svn",
	"**/.svn/**",
	"**/.DS_Store",
	"**/.git",
	"**/.git/**",
	"**/.gitattributes",
	"**/.gitignore",
	"**/.gitmodules",
	"**/.hg",
	"**/.hg/**",
	"**/.hgignore",
	"**/.hgsub",
	"**/.hgsubstate",
	"**/.hgtags",
	"**/.bzr",
	"**/.bzr/**",
	"**/.bzrignore",
}

// 默认排除列表在包初始化时编译一次，之后只读。
var defaultExcludeGlobs = mustCompileAll(defaultExcludePatterns)

// DefaultExcludes 返回默认排除模式的副本。
func DefaultExcludes() []string {
	return append([]string(nil), defaultExcludePatterns...)
}

// IsInDefaultExcludes 检查 path 是否命中默认排除列表，与调用方的 include/exclude 相互独立。
func IsInDefaultExcludes(p string) bool {
	p = normalizePath(p)
	if strings.TrimSpace(p) == "" {
		return false
	}
	for _, g := range defaultExcludeGlobs {
		if g.Match(p) {
			return true
		}
	}
	return false
}

func mustCompileAll(patterns []string) []glob.Glob {
	var out []glob.Glob
	for _, pattern := range patterns {
		globs, err := compile(pattern)
		if err != nil {
			panic(err)
		}
		out = append(out, globs...)
	}
	return out
}
