package layout

import (
	"path"
	"strings"
)

const mavenMetadataFile = "maven-metadata.xml"

func init() {
	MustRegister(Layout{
		Key:           "maven",
		Description:   "Maven 2 layout: group/artifact/version/file, snapshot aware",
		SnapshotAware: true,
		IsMetadata:    isMavenMetadata,
	})
	MustRegister(Layout{
		Key:         "npm",
		Description: "npm registry layout: package documents and /-/ tarballs",
		IsMetadata:  isNPMMetadata,
		ContentType: npmContentType,
	})
	MustRegister(Layout{
		Key:         DefaultKey,
		Description: "Plain file tree without metadata descriptors",
	})
}

// maven-metadata.xml 及其校验文件都属于元数据。
func isMavenMetadata(p string) bool {
	base := path.Base(p)
	for _, ext := range []string{".sha1", ".md5", ".sha256"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base == mavenMetadataFile
}

// npm 中 /-/ 下的 tarball 是不可变制品，其余路径均为包文档。
func isNPMMetadata(p string) bool {
	if p == "" {
		return false
	}
	if strings.Contains(p, "/-/") && strings.HasSuffix(p, ".tgz") {
		return false
	}
	return true
}

func npmContentType(p string) string {
	if isNPMMetadata(p) && !strings.Contains(path.Base(p), ".") {
		return "application/json"
	}
	return ""
}
