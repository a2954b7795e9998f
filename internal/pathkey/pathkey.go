// Package pathkey 定义请求路径的不可变身份 (repoKey, path)。
package pathkey

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Any 是通配哨兵值，可同时用于 repoKey 与 path。
const Any = "*"

// ErrMalformedID 表示 id 中缺少 ':' 分隔符或分隔符位于开头。
var ErrMalformedID = errors.New("malformed path id")

// PathKey 唯一标识一次请求的目标：仓库键 + 相对路径。值类型，可直接作为 map 键比较。
type PathKey struct {
	repoKey string
	path    string
}

// New 构造 PathKey，path 的前导 '/' 会被去除。
func New(repoKey, p string) PathKey {
	return PathKey{
		repoKey: repoKey,
		path:    normalizePath(p),
	}
}

// Parse 以第一个 ':' 拆分 id，得到 repoKey 与 path。
func Parse(id string) (PathKey, error) {
	idx := strings.Index(id, ":")
	if idx <= 0 {
		return PathKey{}, fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	return New(id[:idx], id[idx+1:]), nil
}

// ForRepo 返回指定仓库下任意路径的通配键。
func ForRepo(repoKey string) PathKey {
	return New(repoKey, Any)
}

// ForPath 返回任意仓库下指定路径的通配键。
func ForPath(p string) PathKey {
	return New(Any, p)
}

// RootOf 返回仓库根路径（空 path）。
func RootOf(repoKey string) PathKey {
	return New(repoKey, "")
}

// RepoKey 返回仓库键。
func (k PathKey) RepoKey() string { return k.repoKey }

// Path 返回不带前导 '/' 的相对路径。
func (k PathKey) Path() string { return k.path }

// ID 返回规范字符串形式 repoKey:path。
func (k PathKey) ID() string {
	return k.repoKey + ":" + k.path
}

func (k PathKey) String() string { return k.ID() }

// IsRoot 当 path 为空或全为空白时返回 true。
func (k PathKey) IsRoot() bool {
	return strings.TrimSpace(k.path) == ""
}

// Name 返回 path 的最后一段；根路径返回空串。
func (k PathKey) Name() string {
	if k.IsRoot() {
		return ""
	}
	return path.Base(k.path)
}

// Parent 返回上一级目录；根路径的 Parent 仍是根。
func (k PathKey) Parent() PathKey {
	if k.IsRoot() {
		return k
	}
	dir := path.Dir(k.path)
	if dir == "." {
		dir = ""
	}
	return PathKey{repoKey: k.repoKey, path: dir}
}

// Child 在当前路径下追加一段子路径。
func (k PathKey) Child(name string) PathKey {
	if k.IsRoot() {
		return New(k.repoKey, name)
	}
	return New(k.repoKey, k.path+"/"+strings.TrimPrefix(name, "/"))
}

// IsAncestorOf 判断 other 是否位于 k 之下（同仓库且路径前缀以目录边界对齐）。
// 根路径是同仓库所有非根路径的祖先。
func (k PathKey) IsAncestorOf(other PathKey) bool {
	if k.repoKey != other.repoKey || other.IsRoot() {
		return false
	}
	if k.IsRoot() {
		return true
	}
	return strings.HasPrefix(other.path, k.path+"/")
}

// Matches 比较两个键，任一侧的 Any 均视为通配。
func (k PathKey) Matches(other PathKey) bool {
	repoOK := k.repoKey == Any || other.repoKey == Any || k.repoKey == other.repoKey
	pathOK := k.path == Any || other.path == Any || k.path == other.path
	return repoOK && pathOK
}

// MarshalText 让 PathKey 在 JSON/日志中以 repoKey:path 形式输出。
func (k PathKey) MarshalText() ([]byte, error) {
	return []byte(k.ID()), nil
}

// UnmarshalText 是 MarshalText 的逆操作。
func (k *PathKey) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func normalizePath(p string) string {
	return strings.TrimLeft(p, "/")
}
