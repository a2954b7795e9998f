package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinLayoutsRegistered(t *testing.T) {
	assert.Equal(t, []string{"generic", "maven", "npm"}, Keys())

	l, ok := Resolve("")
	require.True(t, ok)
	assert.Equal(t, DefaultKey, l.Key)

	l, ok = Resolve(" Maven ")
	require.True(t, ok)
	assert.True(t, l.SnapshotAware)

	_, ok = Resolve("docker")
	assert.False(t, ok)
	assert.Equal(t, DefaultKey, MustResolve("docker").Key)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	assert.Error(t, Register(Layout{Key: "maven"}))
	assert.Error(t, Register(Layout{Key: " "}))
}

func TestMavenMetadata(t *testing.T) {
	maven := MustResolve("maven")
	assert.True(t, maven.Metadata("org/foo/maven-metadata.xml"))
	assert.True(t, maven.Metadata("/org/foo/1.0-SNAPSHOT/maven-metadata.xml.sha1"))
	assert.False(t, maven.Metadata("org/foo/1.0/foo-1.0.pom"))
}

func TestNPMMetadata(t *testing.T) {
	npm := MustResolve("npm")
	assert.True(t, npm.Metadata("lodash"))
	assert.True(t, npm.Metadata("@types/node"))
	assert.False(t, npm.Metadata("lodash/-/lodash-4.17.21.tgz"))
	assert.Equal(t, "application/json", npm.TypeFor("lodash"))
	assert.Equal(t, "application/octet-stream", npm.TypeFor("lodash/-/lodash-4.17.21.tgz"))
}

func TestGenericLayout(t *testing.T) {
	generic := MustResolve("generic")
	assert.False(t, generic.Metadata("anything/maven-metadata.xml"))
	assert.Equal(t, "application/java-archive", generic.TypeFor("a/b.jar"))
	assert.Equal(t, "text/plain", generic.TypeFor("a/b.jar.sha1"))
	assert.Equal(t, "", generic.TypeFor("a/b.unknown"))
}
