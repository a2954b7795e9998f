package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	nonUniqueJar = "org/acme/tool/1.0-SNAPSHOT/tool-1.0-SNAPSHOT.jar"
	uniqueJar    = "org/acme/tool/1.0-SNAPSHOT/tool-1.0-20081214.090217-4.jar"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC)
}

func TestParseNonUnique(t *testing.T) {
	info, ok := Parse("org/acme/tool/1.0-SNAPSHOT/tool-1.0-SNAPSHOT-sources.jar.sha1")
	require.True(t, ok)
	assert.False(t, info.Unique)
	assert.Equal(t, "org/acme/tool/1.0-SNAPSHOT", info.Dir)
	assert.Equal(t, "tool", info.ArtifactID)
	assert.Equal(t, "1.0", info.BaseVersion)
	assert.Equal(t, "sources", info.Classifier)
	assert.Equal(t, "jar", info.Extension)
	assert.Equal(t, ".sha1", info.ChecksumExt)
}

func TestParseUnique(t *testing.T) {
	info, ok := Parse("org/acme/tool/1.0-SNAPSHOT/tool-1.0-20081214.090217-4-bin.tar.gz.md5")
	require.True(t, ok)
	assert.True(t, info.Unique)
	assert.Equal(t, Stamp{Timestamp: "20081214.090217", BuildNumber: 4}, info.Stamp)
	assert.Equal(t, "bin", info.Classifier)
	assert.Equal(t, "tar.gz", info.Extension)
	assert.Equal(t, ".md5", info.ChecksumExt)
}

func TestParseRejectsNonMavenPaths(t *testing.T) {
	for _, p := range []string{
		"tool-1.0-SNAPSHOT.jar",
		"org/acme/tool/1.0/tool-1.0.jar",
		"org/acme/tool/1.0-SNAPSHOT/maven-metadata.xml",
		"org/acme/tool/1.0-SNAPSHOT/other-1.0-SNAPSHOT.jar",
		"org/acme/tool/1.0-SNAPSHOT/tool-1.0-garbage.jar",
	} {
		_, ok := Parse(p)
		assert.False(t, ok, p)
	}
}

// catalog 模拟存储中的版本目录，adapt 时按目录返回已存储的文件名。
type catalog map[string][]string

func (c catalog) files(dir string) ([]string, error) { return c[dir], nil }

const versionDir = "org/acme/tool/1.0-SNAPSHOT"

func adapt(t *testing.T, a Adapter, p string, c catalog) string {
	t.Helper()
	out, err := a.Adapt(p, c.files)
	require.NoError(t, err)
	return out
}

func adaptDeploy(t *testing.T, a Adapter, p string, c catalog) string {
	t.Helper()
	out, err := a.AdaptDeploy(p, c.files, fixedClock())
	require.NoError(t, err)
	return out
}

func TestNonUniqueAdapter(t *testing.T) {
	a := New(NonUnique)
	assert.Equal(t, nonUniqueJar, adapt(t, a, uniqueJar, nil))
	assert.Equal(t, nonUniqueJar, adapt(t, a, nonUniqueJar, nil))
	assert.Equal(t,
		"org/acme/tool/1.0-SNAPSHOT/tool-1.0-SNAPSHOT-sources.jar.sha1",
		adapt(t, a, "org/acme/tool/1.0-SNAPSHOT/tool-1.0-20081214.090217-4-sources.jar.sha1", nil))
	assert.Equal(t, "/"+nonUniqueJar, adapt(t, a, "/"+uniqueJar, nil))
	assert.Equal(t, nonUniqueJar, adaptDeploy(t, a, uniqueJar, nil))
}

func TestUniqueReadMapsToNewestStoredBuild(t *testing.T) {
	a := New(Unique)
	stored := catalog{versionDir: {
		"tool-1.0-20081214.090217-4.jar",
		"tool-1.0-20081214.090217-4.pom",
		"tool-1.0-20090101.000000-5.pom",
		"tool-1.0-20090101.000000-5.jar.sha1",
		"other-1.0-20300101.000000-9.jar",
	}}

	assert.Equal(t, uniqueJar, adapt(t, a, nonUniqueJar, stored), "newest build that holds the jar")
	assert.Equal(t,
		"org/acme/tool/1.0-SNAPSHOT/tool-1.0-20090101.000000-5.pom",
		adapt(t, a, "org/acme/tool/1.0-SNAPSHOT/tool-1.0-SNAPSHOT.pom", stored))
	assert.Equal(t,
		"org/acme/tool/1.0-SNAPSHOT/tool-1.0-20081214.090217-4.jar.sha1",
		adapt(t, a, nonUniqueJar+".sha1", stored), "checksum follows its artifact")
	assert.Equal(t, "/"+uniqueJar, adapt(t, a, "/"+nonUniqueJar, stored))
}

func TestUniqueReadWithoutStoredBuildPassesThrough(t *testing.T) {
	a := New(Unique)
	assert.Equal(t, nonUniqueJar, adapt(t, a, nonUniqueJar, nil))
	assert.Equal(t, nonUniqueJar, adapt(t, a, nonUniqueJar, catalog{versionDir: {"tool-1.0-20081214.090217-4.pom"}}))
}

func TestUniqueDeployStampsBuilds(t *testing.T) {
	a := New(Unique)

	first := adaptDeploy(t, a, nonUniqueJar, nil)
	assert.Equal(t, "org/acme/tool/1.0-SNAPSHOT/tool-1.0-20240305.101112-1.jar", first)

	// 同一构建的其他文件沿用最新戳。
	stored := catalog{versionDir: {"tool-1.0-20240305.101112-1.jar"}}
	assert.Equal(t,
		"org/acme/tool/1.0-SNAPSHOT/tool-1.0-20240305.101112-1.pom",
		adaptDeploy(t, a, "org/acme/tool/1.0-SNAPSHOT/tool-1.0-SNAPSHOT.pom", stored))
	assert.Equal(t,
		"org/acme/tool/1.0-SNAPSHOT/tool-1.0-20240305.101112-1.jar.sha1",
		adaptDeploy(t, a, nonUniqueJar+".sha1", stored))

	// 最新构建已有同名文件时开始新构建。
	assert.Equal(t,
		"org/acme/tool/1.0-SNAPSHOT/tool-1.0-20240305.101112-2.jar",
		adaptDeploy(t, a, nonUniqueJar, stored))

	// 时间戳不会早于已存储的最新构建。
	future := catalog{versionDir: {"tool-1.0-20300101.000000-7.jar"}}
	assert.Equal(t,
		"org/acme/tool/1.0-SNAPSHOT/tool-1.0-20300101.000000-8.jar",
		adaptDeploy(t, a, nonUniqueJar, future))
}

func TestUniqueAdapterPropagatesCatalogErrors(t *testing.T) {
	a := New(Unique)
	failing := func(string) ([]string, error) { return nil, assert.AnError }
	_, err := a.Adapt(nonUniqueJar, failing)
	assert.ErrorIs(t, err, assert.AnError)
	_, err = a.AdaptDeploy(nonUniqueJar, failing, fixedClock())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAdaptersPassThroughReleasesAndMetadata(t *testing.T) {
	stored := catalog{versionDir: {"tool-1.0-20081214.090217-4.jar"}}
	for _, behavior := range []Behavior{Unique, NonUnique, Deployer} {
		a := New(behavior)
		for _, p := range []string{
			"org/acme/tool/1.0/tool-1.0.jar",
			"org/acme/tool/1.0-SNAPSHOT/maven-metadata.xml",
			"plain/file.txt",
		} {
			assert.Equal(t, p, adapt(t, a, p, stored), "%s %s", behavior, p)
			assert.Equal(t, p, adaptDeploy(t, a, p, stored), "%s %s", behavior, p)
		}
	}
}

func TestAdaptIsIdempotent(t *testing.T) {
	paths := []string{
		nonUniqueJar,
		uniqueJar,
		"org/acme/tool/1.0-SNAPSHOT/tool-1.0-SNAPSHOT.pom.md5",
		"org/acme/tool/1.0-SNAPSHOT/tool-1.0-20081214.090217-4-javadoc.jar",
		"com/x/y/z/2.3.1-SNAPSHOT/z-2.3.1-SNAPSHOT-tests.jar",
	}
	stored := catalog{versionDir: {"tool-1.0-20081214.090217-4.jar", "tool-1.0-20081214.090217-4.pom"}}
	for _, behavior := range []Behavior{Unique, NonUnique, Deployer} {
		a := New(behavior)
		for _, p := range paths {
			once := adapt(t, a, p, stored)
			assert.Equal(t, once, adapt(t, a, once, stored), "%s %s", behavior, p)
			deployed := adaptDeploy(t, a, p, stored)
			assert.Equal(t, deployed, adaptDeploy(t, a, deployed, stored), "%s %s", behavior, p)
		}
	}
}

func TestParseBehavior(t *testing.T) {
	b, err := ParseBehavior("")
	require.NoError(t, err)
	assert.Equal(t, Deployer, b)

	b, err = ParseBehavior("Non-Unique")
	require.NoError(t, err)
	assert.Equal(t, NonUnique, b)

	_, err = ParseBehavior("timestamped")
	assert.Error(t, err)
}
