package repository

import (
	"fmt"
	"sort"
	"strings"
)

// Registry 保存一个引擎实例可见的全部仓库描述。构造后只读，可并发访问。
type Registry struct {
	repos map[string]Descriptor
	order []string
}

// NewRegistry 校验并登记描述：键唯一、CacheRepo 指向 Local、成员存在。
// 未声明 CacheRepo 的 Remote 会得到一个隐式的 <key>-cache 本地仓库。
// 描述会被复制，调用方后续修改不影响注册表。
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{repos: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d == nil {
			continue
		}
		copied := clone(d)
		key := strings.TrimSpace(copied.RepoKey())
		if key == "" {
			return nil, fmt.Errorf("%s repository key is required", copied.Kind())
		}
		if _, exists := r.repos[key]; exists {
			return nil, fmt.Errorf("duplicate repository key %q", key)
		}
		r.repos[key] = copied
	}

	for _, key := range r.sortedKeys() {
		remote, ok := r.repos[key].(*Remote)
		if !ok {
			continue
		}
		if remote.CacheRepo == "" {
			cacheKey := ImplicitCacheKey(remote.Key)
			if existing, exists := r.repos[cacheKey]; exists {
				if _, isLocal := existing.(*Local); !isLocal {
					return nil, fmt.Errorf("remote %q: implicit cache key %q is taken by a %s repository", remote.Key, cacheKey, existing.Kind())
				}
			} else {
				r.repos[cacheKey] = &Local{
					Key:            cacheKey,
					Layout:         remote.Layout,
					ChecksumPolicy: remote.ChecksumPolicy,
					Implicit:       true,
				}
			}
			remote.CacheRepo = cacheKey
			continue
		}
		cache, exists := r.repos[remote.CacheRepo]
		if !exists {
			return nil, fmt.Errorf("remote %q: cache repository %q: %w", remote.Key, remote.CacheRepo, ErrUnknownRepository)
		}
		if _, isLocal := cache.(*Local); !isLocal {
			return nil, fmt.Errorf("remote %q: cache repository %q must be local, got %s", remote.Key, remote.CacheRepo, cache.Kind())
		}
	}

	for _, key := range r.sortedKeys() {
		virtual, ok := r.repos[key].(*Virtual)
		if !ok {
			continue
		}
		for _, member := range virtual.Members {
			if _, exists := r.repos[member]; !exists {
				return nil, fmt.Errorf("virtual %q member %q: %w", virtual.Key, member, ErrUnknownRepository)
			}
		}
	}

	r.order = r.sortedKeys()
	return r, nil
}

// Get 返回指定键的描述。
func (r *Registry) Get(key string) (Descriptor, error) {
	d, ok := r.repos[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRepository, key)
	}
	return d, nil
}

// Local 返回本地仓库描述。
func (r *Registry) Local(key string) (*Local, bool) {
	l, ok := r.repos[key].(*Local)
	return l, ok
}

// Remote 返回远程仓库描述。
func (r *Registry) Remote(key string) (*Remote, bool) {
	rm, ok := r.repos[key].(*Remote)
	return rm, ok
}

// Virtual 返回虚拟仓库描述。
func (r *Registry) Virtual(key string) (*Virtual, bool) {
	v, ok := r.repos[key].(*Virtual)
	return v, ok
}

// Keys 返回按字母排序的全部仓库键。
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// List 返回按键排序的描述列表。
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.repos[key])
	}
	return out
}

// Remotes 返回全部远程仓库描述。
func (r *Registry) Remotes() []*Remote {
	var out []*Remote
	for _, key := range r.order {
		if rm, ok := r.repos[key].(*Remote); ok {
			out = append(out, rm)
		}
	}
	return out
}

// CheckCycles 沿虚拟仓库成员做深度优先遍历，发现环时返回 *CyclicCompositionError。
// 同一成员经由不同分支出现多次（菱形组合）不算环。
func (r *Registry) CheckCycles(key string) error {
	var stack []string
	onStack := map[string]bool{}
	done := map[string]bool{}

	var visit func(k string) error
	visit = func(k string) error {
		if onStack[k] {
			cycle := append([]string{}, stack[indexOf(stack, k):]...)
			return &CyclicCompositionError{Path: append(cycle, k)}
		}
		if done[k] {
			return nil
		}
		v, ok := r.repos[k].(*Virtual)
		if !ok {
			done[k] = true
			return nil
		}
		onStack[k] = true
		stack = append(stack, k)
		for _, member := range v.Members {
			if err := visit(member); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		onStack[k] = false
		done[k] = true
		return nil
	}
	return visit(key)
}

// CheckAllCycles 对每个虚拟仓库执行 CheckCycles，用于配置检查。
func (r *Registry) CheckAllCycles() error {
	for _, key := range r.order {
		if _, ok := r.repos[key].(*Virtual); !ok {
			continue
		}
		if err := r.CheckCycles(key); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) sortedKeys() []string {
	keys := make([]string, 0, len(r.repos))
	for key := range r.repos {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func indexOf(items []string, target string) int {
	for i, item := range items {
		if item == target {
			return i
		}
	}
	return 0
}

func clone(d Descriptor) Descriptor {
	switch v := d.(type) {
	case *Local:
		c := *v
		c.Includes = cloneStrings(v.Includes)
		c.Excludes = cloneStrings(v.Excludes)
		return &c
	case *Remote:
		c := *v
		c.Includes = cloneStrings(v.Includes)
		c.Excludes = cloneStrings(v.Excludes)
		return &c
	case *Virtual:
		c := *v
		c.Members = cloneStrings(v.Members)
		c.Includes = cloneStrings(v.Includes)
		c.Excludes = cloneStrings(v.Excludes)
		return &c
	default:
		return d
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
