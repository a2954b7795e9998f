package remotecache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/any-repo/internal/pathkey"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RemoteOutcome(remote, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[remote+"/"+outcome]++
}

var defaultTTLs = TTLs{Retrieval: time.Hour, Failed: time.Minute, Missed: 10 * time.Minute}

func newTestManager(c *clock) *Manager {
	return NewManager(Options{Now: c.Now})
}

func TestUnknownPathRequiresFetch(t *testing.T) {
	table := newTestManager(newClock()).Register("central", defaultTTLs)
	action, o := table.Decide("org/foo/foo.jar")
	assert.Equal(t, ActionFetch, action)
	assert.Equal(t, KindUnknown, o.Kind)
	assert.True(t, table.Validators("org/foo/foo.jar").IsZero())
}

func TestHitIsFreshUntilRetrievalTTL(t *testing.T) {
	c := newClock()
	table := newTestManager(c).Register("central", defaultTTLs)
	table.RecordHit("/org/foo/foo.jar", `"abc"`, "Mon, 01 Jan 2024 00:00:00 GMT")

	action, o := table.Decide("org/foo/foo.jar")
	assert.Equal(t, ActionServeCached, action)
	assert.Equal(t, `"abc"`, o.ETag)

	c.Advance(time.Hour)
	action, _ = table.Decide("org/foo/foo.jar")
	assert.Equal(t, ActionServeCached, action, "expiry is strictly greater than ttl")

	c.Advance(time.Second)
	action, _ = table.Decide("org/foo/foo.jar")
	assert.Equal(t, ActionFetch, action)
	assert.Equal(t, Conditional{ETag: `"abc"`, LastModified: "Mon, 01 Jan 2024 00:00:00 GMT"}, table.Validators("org/foo/foo.jar"))
}

func TestRefreshHitKeepsValidators(t *testing.T) {
	c := newClock()
	table := newTestManager(c).Register("central", defaultTTLs)
	table.RecordHit("a.jar", `"v1"`, "lm")
	c.Advance(2 * time.Hour)

	o := table.RefreshHit("a.jar", "", "")
	assert.Equal(t, `"v1"`, o.ETag)
	assert.Equal(t, "lm", o.LastModified)
	assert.Equal(t, c.Now(), o.At)

	action, _ := table.Decide("a.jar")
	assert.Equal(t, ActionServeCached, action)
}

func TestMissedSuppressesRefetchUntilTTL(t *testing.T) {
	c := newClock()
	table := newTestManager(c).Register("central", defaultTTLs)
	table.RecordMissed("nope.jar")

	action, _ := table.Decide("nope.jar")
	assert.Equal(t, ActionNotFound, action)

	c.Advance(10*time.Minute + time.Nanosecond)
	action, _ = table.Decide("nope.jar")
	assert.Equal(t, ActionFetch, action)
}

func TestFailedKeepsFirstFailureAndValidators(t *testing.T) {
	c := newClock()
	table := newTestManager(c).Register("central", defaultTTLs)
	table.RecordHit("a.jar", `"v1"`, "")
	first := errors.New("boom")

	o := table.RecordFailed("a.jar", first)
	assert.Equal(t, KindFailed, o.Kind)
	assert.Equal(t, `"v1"`, o.ETag)
	start := o.At

	c.Advance(30 * time.Second)
	o = table.RecordFailed("a.jar", errors.New("again"))
	assert.Equal(t, start, o.At)
	assert.Same(t, first, o.Err)

	action, _ := table.Decide("a.jar")
	assert.Equal(t, ActionFailed, action)

	c.Advance(31 * time.Second)
	action, _ = table.Decide("a.jar")
	assert.Equal(t, ActionFetch, action)
}

func TestZeroTTLNeverCaches(t *testing.T) {
	table := newTestManager(newClock()).Register("central", TTLs{})
	table.RecordHit("a.jar", "", "")
	table.RecordMissed("b.jar")
	table.RecordFailed("c.jar", errors.New("x"))
	for _, p := range []string{"a.jar", "b.jar", "c.jar"} {
		action, _ := table.Decide(p)
		assert.Equal(t, ActionFetch, action, p)
	}
}

func TestRemoveFromCachesWithSubPaths(t *testing.T) {
	m := newTestManager(newClock())
	central := m.Register("central", defaultTTLs)
	other := m.Register("other", defaultTTLs)
	for _, p := range []string{"org/foo/1.0/foo.jar", "org/foo/2.0/foo.jar", "org/foobar/x.jar", "org/foo"} {
		central.RecordHit(p, "", "")
		other.RecordHit(p, "", "")
	}

	removed := m.RemoveFromCaches(pathkey.New("central", "org/foo"), true)
	assert.Equal(t, 3, removed)
	assert.Equal(t, KindHit, central.Lookup("org/foobar/x.jar").Kind, "prefix must align on segments")
	assert.Equal(t, KindUnknown, central.Lookup("org/foo/1.0/foo.jar").Kind)
	assert.Equal(t, KindHit, other.Lookup("org/foo/1.0/foo.jar").Kind)

	removed = m.RemoveFromCaches(pathkey.ForPath("org/foobar/x.jar"), false)
	assert.Equal(t, 2, removed)
}

func TestRemoveWithoutSubPathsOnlyDropsTarget(t *testing.T) {
	m := newTestManager(newClock())
	central := m.Register("central", defaultTTLs)
	central.RecordHit("org/foo", "", "")
	central.RecordHit("org/foo/a.jar", "", "")

	assert.Equal(t, 1, m.RemoveFromCaches(pathkey.New("central", "org/foo"), false))
	assert.Equal(t, KindHit, central.Lookup("org/foo/a.jar").Kind)
}

func TestClearCaches(t *testing.T) {
	m := newTestManager(newClock())
	central := m.Register("central", defaultTTLs)
	other := m.Register("other", defaultTTLs)
	central.RecordHit("a", "", "")
	other.RecordHit("a", "", "")

	m.ClearCaches("central")
	assert.Equal(t, KindUnknown, central.Lookup("a").Kind)
	assert.Equal(t, KindHit, other.Lookup("a").Kind)

	m.ClearCaches("")
	assert.Equal(t, KindUnknown, other.Lookup("a").Kind)
}

func TestTableIsBounded(t *testing.T) {
	m := NewManager(Options{MaxOutcomesPerRemote: 2, Now: newClock().Now})
	table := m.Register("central", defaultTTLs)
	table.RecordHit("a", "", "")
	table.RecordHit("b", "", "")
	table.RecordHit("c", "", "")

	assert.Equal(t, KindUnknown, table.Lookup("a").Kind)
	assert.Equal(t, 2, table.Stats().Total)
}

func TestStatsAndRecorder(t *testing.T) {
	c := newClock()
	rec := &countingRecorder{}
	m := NewManager(Options{Now: c.Now, Recorder: rec})
	table := m.Register("central", defaultTTLs)
	table.RecordHit("a", "", "")
	table.RecordMissed("b")
	table.RecordFailed("c", errors.New("x"))
	c.Advance(2 * time.Minute)

	stats := m.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "central", stats[0].Remote)
	assert.Equal(t, 3, stats[0].Total)
	assert.Equal(t, 1, stats[0].Expired)
	assert.Equal(t, 1, stats[0].Counts[KindHit])
	assert.Equal(t, 1, stats[0].Counts[KindMissed])

	assert.Equal(t, 1, rec.counts["central/hit"])
	assert.Equal(t, 1, rec.counts["central/missed"])
	assert.Equal(t, 1, rec.counts["central/failed"])
}

func TestRegisterReusesTableForSameTTLs(t *testing.T) {
	m := newTestManager(newClock())
	a := m.Register("central", defaultTTLs)
	a.RecordHit("x", "", "")
	assert.Same(t, a, m.Register("central", defaultTTLs))

	b := m.Register("central", TTLs{Retrieval: time.Second})
	assert.NotSame(t, a, b)
	got, ok := m.Table("central")
	require.True(t, ok)
	assert.Same(t, b, got)
}
