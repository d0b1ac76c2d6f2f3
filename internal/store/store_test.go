package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestStore opens a real sqlite store in a temp dir.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.GetRun("alice", "/items/setup.sh")
	require.NoError(t, err)
	require.Nil(t, rec)

	ranAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordRun("alice", "/items/setup.sh", ranAt))

	rec, err = s.GetRun("alice", "/items/setup.sh")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "alice", rec.Username)
	require.True(t, rec.RanAt.Equal(ranAt))
	require.NotEmpty(t, rec.ID)
}

func TestRunHistoryScopedPerUser(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordRun("root", "/items/setup.sh", time.Now()))

	rec, err := s.GetRun("alice", "/items/setup.sh")
	require.NoError(t, err)
	require.Nil(t, rec, "root's history must not shadow alice's")
}

func TestRunHistoryUpsertReplacesTimestamp(t *testing.T) {
	s := newTestStore(t)

	first := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)
	require.NoError(t, s.RecordRun("alice", "/items/setup.sh", first))
	require.NoError(t, s.RecordRun("alice", "/items/setup.sh", second))

	rec, err := s.GetRun("alice", "/items/setup.sh")
	require.NoError(t, err)
	require.True(t, rec.RanAt.Equal(second))

	all, err := s.GetAllRuns()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestOverrides(t *testing.T) {
	s := newTestStore(t)

	o, err := s.GetOverride("/items/setup.sh")
	require.NoError(t, err)
	require.Nil(t, o)

	addedAt := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddOverride("/items/setup.sh", addedAt))

	o, err = s.GetOverride("/items/setup.sh")
	require.NoError(t, err)
	require.NotNil(t, o)
	require.True(t, o.AddedAt.Equal(addedAt))

	require.NoError(t, s.RemoveOverride("/items/setup.sh"))
	o, err = s.GetOverride("/items/setup.sh")
	require.NoError(t, err)
	require.Nil(t, o)

	// Removing an absent override is not an error.
	require.NoError(t, s.RemoveOverride("/items/setup.sh"))
}

func TestChecksumsReplaceWholesale(t *testing.T) {
	s := newTestStore(t)

	n, err := s.ChecksumCount()
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, s.SetChecksum("/items/a.sh", "aaaa"))
	require.NoError(t, s.SetChecksum("/items/b.sh", "bbbb"))

	require.NoError(t, s.ReplaceChecksums([]Checksum{
		{ItemPath: "/items/c.sh", Digest: "cccc"},
	}))

	entries, err := s.GetAllChecksums()
	require.NoError(t, err)
	require.Equal(t, []Checksum{{ItemPath: "/items/c.sh", Digest: "cccc"}}, entries)

	digest, err := s.GetChecksum("/items/a.sh")
	require.NoError(t, err)
	require.Empty(t, digest)
}

func TestIgnoredUsers(t *testing.T) {
	s := newTestStore(t)

	ignored, err := s.IsUserIgnored("guest")
	require.NoError(t, err)
	require.False(t, ignored)

	require.NoError(t, s.AddIgnoredUser("guest"))
	require.NoError(t, s.AddIgnoredUser("guest")) // idempotent

	ignored, err = s.IsUserIgnored("guest")
	require.NoError(t, err)
	require.True(t, ignored)

	users, err := s.GetIgnoredUsers()
	require.NoError(t, err)
	require.Equal(t, []string{"guest"}, users)

	require.NoError(t, s.RemoveIgnoredUser("guest"))
	ignored, err = s.IsUserIgnored("guest")
	require.NoError(t, err)
	require.False(t, ignored)
}

func TestPreferenceDefaults(t *testing.T) {
	s := newTestStore(t)

	wait, err := s.NetworkWait()
	require.NoError(t, err)
	require.Equal(t, DefaultNetworkWait, wait)

	timeout, err := s.NetworkTimeout()
	require.NoError(t, err)
	require.Equal(t, DefaultNetworkTimeout, timeout)
}

func TestPreferenceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetNetworkWait(false))
	wait, err := s.NetworkWait()
	require.NoError(t, err)
	require.False(t, wait)

	require.NoError(t, s.SetNetworkTimeout(30))
	timeout, err := s.NetworkTimeout()
	require.NoError(t, err)
	require.Equal(t, 30, timeout)
}

func TestPreferenceBadValueFallsBack(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.setPref("network_timeout", "not-a-number"))
	timeout, err := s.NetworkTimeout()
	require.NoError(t, err)
	require.Equal(t, DefaultNetworkTimeout, timeout)
}
