package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/any-repo/internal/checksum"
)

func TestRegistryCreatesImplicitCacheRepo(t *testing.T) {
	remote := &Remote{Key: "central", URL: "https://repo.example", Layout: "maven", ChecksumPolicy: "strict"}
	reg, err := NewRegistry(remote)
	require.NoError(t, err)

	got, ok := reg.Remote("central")
	require.True(t, ok)
	assert.Equal(t, "central-cache", got.CacheRepo)
	assert.Empty(t, remote.CacheRepo, "input descriptor must not be mutated")

	cache, ok := reg.Local("central-cache")
	require.True(t, ok)
	assert.True(t, cache.Implicit)
	assert.Equal(t, "maven", cache.Layout)
	assert.Equal(t, "strict", cache.ChecksumPolicy)
	assert.Equal(t, []string{"central", "central-cache"}, reg.Keys())
}

func TestRegistryExplicitCacheRepoMustBeLocal(t *testing.T) {
	_, err := NewRegistry(
		&Remote{Key: "central", URL: "https://x", CacheRepo: "missing"},
	)
	assert.ErrorIs(t, err, ErrUnknownRepository)

	_, err = NewRegistry(
		&Remote{Key: "central", URL: "https://x", CacheRepo: "v"},
		&Virtual{Key: "v"},
	)
	assert.Error(t, err)

	reg, err := NewRegistry(
		&Remote{Key: "central", URL: "https://x", CacheRepo: "store"},
		&Local{Key: "store"},
	)
	require.NoError(t, err)
	_, ok := reg.Local("central-cache")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicatesAndUnknownMembers(t *testing.T) {
	_, err := NewRegistry(&Local{Key: "a"}, &Local{Key: "a"})
	assert.Error(t, err)

	_, err = NewRegistry(&Local{Key: "a"}, &Virtual{Key: "v", Members: []string{"a", "b"}})
	assert.ErrorIs(t, err, ErrUnknownRepository)

	_, err = NewRegistry(&Local{Key: " "})
	assert.Error(t, err)
}

func TestRegistryGet(t *testing.T) {
	reg, err := NewRegistry(&Local{Key: "libs"})
	require.NoError(t, err)

	d, err := reg.Get("libs")
	require.NoError(t, err)
	assert.Equal(t, KindLocal, d.Kind())

	_, err = reg.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownRepository)
}

func TestCheckCycles(t *testing.T) {
	reg, err := NewRegistry(
		&Virtual{Key: "v1", Members: []string{"v2"}},
		&Virtual{Key: "v2", Members: []string{"libs", "v1"}},
		&Local{Key: "libs"},
	)
	require.NoError(t, err)

	err = reg.CheckCycles("v1")
	var cyc *CyclicCompositionError
	require.True(t, errors.As(err, &cyc))
	assert.Equal(t, []string{"v1", "v2", "v1"}, cyc.Path)
	assert.Contains(t, err.Error(), "v1 -> v2 -> v1")
	assert.Error(t, reg.CheckAllCycles())
	assert.NoError(t, reg.CheckCycles("libs"))
}

func TestCheckCyclesAllowsDiamond(t *testing.T) {
	reg, err := NewRegistry(
		&Virtual{Key: "top", Members: []string{"left", "right"}},
		&Virtual{Key: "left", Members: []string{"libs"}},
		&Virtual{Key: "right", Members: []string{"libs"}},
		&Local{Key: "libs"},
	)
	require.NoError(t, err)
	assert.NoError(t, reg.CheckCycles("top"))
	assert.NoError(t, reg.CheckAllCycles())
}

func TestSelfReferenceIsACycle(t *testing.T) {
	reg, err := NewRegistry(&Virtual{Key: "self", Members: []string{"self"}})
	require.NoError(t, err)
	var cyc *CyclicCompositionError
	assert.True(t, errors.As(reg.CheckCycles("self"), &cyc))
}

func TestErrorTaxonomy(t *testing.T) {
	hard := fmt.Errorf("resolve: %w", &HardFailureError{Remote: "central", Err: errors.New("502")})
	assert.ErrorIs(t, hard, ErrHardFailure)
	var hf *HardFailureError
	require.True(t, errors.As(hard, &hf))
	assert.Equal(t, "central", hf.Remote)

	var mismatch error = &ChecksumMismatchError{Type: checksum.SHA1, Claimed: "a", Actual: "b", Policy: checksum.PolicyStrict}
	var cm *checksum.MismatchError
	assert.True(t, errors.As(mismatch, &cm))
}

func TestSplitZipEntry(t *testing.T) {
	archive, entry, ok := SplitZipEntry("org/a/a.jar!/META-INF/MANIFEST.MF")
	require.True(t, ok)
	assert.Equal(t, "org/a/a.jar", archive)
	assert.Equal(t, "META-INF/MANIFEST.MF", entry)

	_, _, ok = SplitZipEntry("org/a/a.jar")
	assert.False(t, ok)
	_, _, ok = SplitZipEntry("org/a/a.jar!/")
	assert.False(t, ok)
}

func TestResourceOpenWithoutContent(t *testing.T) {
	var r *Resource
	_, err := r.Open()
	assert.ErrorIs(t, err, ErrNotFound)
}
