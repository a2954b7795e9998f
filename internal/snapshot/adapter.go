// Package snapshot 在 Maven 快照的 unique（时间戳）与 non-unique（-SNAPSHOT）命名之间改写路径。
package snapshot

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Behavior 描述仓库期望的快照命名方式。
type Behavior string

const (
	// Unique 将 -SNAPSHOT 文件名改写为 时间戳-构建号 形式。
	Unique Behavior = "unique"
	// NonUnique 将时间戳文件名改写回 -SNAPSHOT 形式。
	NonUnique Behavior = "non-unique"
	// Deployer 保持部署方提交的命名，不做改写。
	Deployer Behavior = "deployer"
)

const (
	snapshotSuffix  = "-SNAPSHOT"
	snapshotMarker  = "SNAPSHOT"
	timestampLayout = "20060102.150405"
)

var (
	uniqueTail    = regexp.MustCompile(`^(\d{8}\.\d{6})-(\d+)(?:-([^.]+))?\.(.+)$`)
	nonUniqueTail = regexp.MustCompile(`^SNAPSHOT(?:-([^.]+))?\.(.+)$`)
)

// ParseBehavior 规范化配置值，空串视为 Deployer。
func ParseBehavior(raw string) (Behavior, error) {
	switch b := Behavior(strings.ToLower(strings.TrimSpace(raw))); b {
	case "":
		return Deployer, nil
	case Unique, NonUnique, Deployer:
		return b, nil
	default:
		return "", fmt.Errorf("unknown snapshot behavior %q (supported: unique|non-unique|deployer)", raw)
	}
}

// Catalog 返回版本目录下已存储的文件名；目录不存在时返回空。
type Catalog func(dir string) ([]string, error)

// Adapter 改写路径；对已符合当前命名方式的路径必须原样返回。
type Adapter interface {
	// Adapt 返回读取 p 时应查找的存储路径。
	Adapt(p string, files Catalog) (string, error)
	// AdaptDeploy 返回部署 p 时应写入的存储路径。
	AdaptDeploy(p string, files Catalog, now time.Time) (string, error)
}

// Stamp 是 unique 快照的 时间戳 + 构建号。
type Stamp struct {
	Timestamp   string
	BuildNumber int
}

func (s Stamp) newerThan(other Stamp) bool {
	if s.Timestamp != other.Timestamp {
		return s.Timestamp > other.Timestamp
	}
	return s.BuildNumber > other.BuildNumber
}

// Info 是对 Maven 快照文件路径的解析结果。
type Info struct {
	Dir         string // group/.../artifactId/version-SNAPSHOT
	ArtifactID  string
	BaseVersion string
	Unique      bool
	Stamp       Stamp
	Classifier  string
	Extension   string
	ChecksumExt string
}

// Parse 解析 group/.../artifactId/baseVersion-SNAPSHOT/filename 形式的路径。
// 非 Maven 结构、发布版本或无法识别的文件名（如 maven-metadata.xml）返回 false。
func Parse(p string) (Info, bool) {
	p = strings.Trim(p, "/")
	segments := strings.Split(p, "/")
	if len(segments) < 4 {
		return Info{}, false
	}
	filename := segments[len(segments)-1]
	versionDir := segments[len(segments)-2]
	artifactID := segments[len(segments)-3]
	if !strings.HasSuffix(versionDir, snapshotSuffix) {
		return Info{}, false
	}
	baseVersion := strings.TrimSuffix(versionDir, snapshotSuffix)
	if baseVersion == "" || artifactID == "" {
		return Info{}, false
	}
	prefix := artifactID + "-" + baseVersion + "-"
	if !strings.HasPrefix(filename, prefix) {
		return Info{}, false
	}

	info := Info{
		Dir:         path.Dir(p),
		ArtifactID:  artifactID,
		BaseVersion: baseVersion,
	}
	tail := filename[len(prefix):]
	for _, ext := range []string{".sha1", ".md5", ".sha256"} {
		if strings.HasSuffix(tail, ext) {
			info.ChecksumExt = ext
			tail = strings.TrimSuffix(tail, ext)
			break
		}
	}

	if m := nonUniqueTail.FindStringSubmatch(tail); m != nil {
		info.Classifier = m[1]
		info.Extension = m[2]
		return info, true
	}
	if m := uniqueTail.FindStringSubmatch(tail); m != nil {
		build, err := strconv.Atoi(m[2])
		if err != nil {
			return Info{}, false
		}
		info.Unique = true
		info.Stamp = Stamp{Timestamp: m[1], BuildNumber: build}
		info.Classifier = m[3]
		info.Extension = m[4]
		return info, true
	}
	return Info{}, false
}

// Filename 依据 Info 重建文件名；unique=false 时输出 -SNAPSHOT 形式。
func (i Info) Filename(unique bool) string {
	var b strings.Builder
	b.WriteString(i.ArtifactID)
	b.WriteString("-")
	b.WriteString(i.BaseVersion)
	b.WriteString("-")
	if unique {
		b.WriteString(i.Stamp.Timestamp)
		b.WriteString("-")
		b.WriteString(strconv.Itoa(i.Stamp.BuildNumber))
	} else {
		b.WriteString(snapshotMarker)
	}
	if i.Classifier != "" {
		b.WriteString("-")
		b.WriteString(i.Classifier)
	}
	b.WriteString(".")
	b.WriteString(i.Extension)
	b.WriteString(i.ChecksumExt)
	return b.String()
}

// Path 返回重建后的完整路径。
func (i Info) Path(unique bool) string {
	return i.Dir + "/" + i.Filename(unique)
}

// New 按 behavior 构造 Adapter。
func New(behavior Behavior) Adapter {
	switch behavior {
	case Unique:
		return uniqueAdapter{}
	case NonUnique:
		return nonUniqueAdapter{}
	default:
		return passThrough{}
	}
}

type passThrough struct{}

func (passThrough) Adapt(p string, _ Catalog) (string, error) { return p, nil }

func (passThrough) AdaptDeploy(p string, _ Catalog, _ time.Time) (string, error) { return p, nil }

type nonUniqueAdapter struct{}

func (nonUniqueAdapter) Adapt(p string, _ Catalog) (string, error) {
	info, ok := Parse(p)
	if !ok || !info.Unique {
		return p, nil
	}
	return withLeadingSlash(p, info.Path(false)), nil
}

func (a nonUniqueAdapter) AdaptDeploy(p string, files Catalog, _ time.Time) (string, error) {
	return a.Adapt(p, files)
}

// uniqueAdapter 的戳完全来自存储：读取时映射到已存储的最新构建，
// 部署时沿用最新构建，若该构建已包含同名文件则开始新构建。
type uniqueAdapter struct{}

func (uniqueAdapter) Adapt(p string, files Catalog) (string, error) {
	info, ok := Parse(p)
	if !ok || info.Unique {
		return p, nil
	}
	siblings, err := storedSiblings(info, files)
	if err != nil {
		return "", err
	}
	latest, found := newestStamp(siblings, func(c Info) bool {
		return c.ChecksumExt == "" && c.Classifier == info.Classifier && c.Extension == info.Extension
	})
	if !found {
		return p, nil
	}
	info.Stamp = latest
	return withLeadingSlash(p, info.Path(true)), nil
}

func (uniqueAdapter) AdaptDeploy(p string, files Catalog, now time.Time) (string, error) {
	info, ok := Parse(p)
	if !ok || info.Unique {
		return p, nil
	}
	siblings, err := storedSiblings(info, files)
	if err != nil {
		return "", err
	}
	timestamp := now.UTC().Format(timestampLayout)
	latest, found := newestStamp(siblings, func(Info) bool { return true })
	switch {
	case !found:
		info.Stamp = Stamp{Timestamp: timestamp, BuildNumber: 1}
	case containsFile(siblings, info, latest):
		if timestamp < latest.Timestamp {
			timestamp = latest.Timestamp
		}
		info.Stamp = Stamp{Timestamp: timestamp, BuildNumber: latest.BuildNumber + 1}
	default:
		info.Stamp = latest
	}
	return withLeadingSlash(p, info.Path(true)), nil
}

// storedSiblings 解析版本目录中属于同一制品的 unique 文件。
func storedSiblings(info Info, files Catalog) ([]Info, error) {
	if files == nil {
		return nil, nil
	}
	names, err := files(info.Dir)
	if err != nil {
		return nil, err
	}
	siblings := make([]Info, 0, len(names))
	for _, name := range names {
		candidate, ok := Parse(info.Dir + "/" + name)
		if ok && candidate.Unique && candidate.ArtifactID == info.ArtifactID {
			siblings = append(siblings, candidate)
		}
	}
	return siblings, nil
}

func newestStamp(siblings []Info, match func(Info) bool) (Stamp, bool) {
	var latest Stamp
	found := false
	for _, c := range siblings {
		if !match(c) {
			continue
		}
		if !found || c.Stamp.newerThan(latest) {
			latest = c.Stamp
			found = true
		}
	}
	return latest, found
}

func containsFile(siblings []Info, info Info, stamp Stamp) bool {
	for _, c := range siblings {
		if c.Stamp == stamp && c.Classifier == info.Classifier && c.Extension == info.Extension && c.ChecksumExt == info.ChecksumExt {
			return true
		}
	}
	return false
}

func withLeadingSlash(original, rewritten string) string {
	if strings.HasPrefix(original, "/") {
		return "/" + rewritten
	}
	return rewritten
}
