package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveConflictAndRelease(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)

	br := l.Bridge("br0")
	br.Reserve("4", "c1", "10.0.0.10/24")

	assert.Equal(t, "c1", br.HolderOf("4", "10.0.0.10/24"))
	assert.Equal(t, "", br.HolderOf("4", "10.0.0.11/24"))

	br.Release("4", "c1")
	assert.Equal(t, "", br.HolderOf("4", "10.0.0.10/24"))
}

func TestSetRangeForClearsReservations(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)

	br := l.Bridge("br0")
	br.SetRangeFor("4", "10.1.0.0/24")
	br.Reserve("4", "c1", "10.1.0.10/24")
	require.Equal(t, "c1", br.HolderOf("4", "10.1.0.10/24"))

	br.SetRangeFor("4", "10.2.0.0/24")
	assert.Empty(t, br.HostsFor("4"))
	assert.Equal(t, "10.2.0.0/24", br.RangeFor("4"))
}

func TestSaveAndReopenRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	l, err := Open(path)
	require.NoError(t, err)

	br := l.Bridge("br0")
	br.SetRangeFor("4", "10.1.0.0/24")
	br.Reserve("4", "br0", "10.1.0.1/24")
	l.IncrementFailed()
	require.NoError(t, l.Save())

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Failed())
	br2 := reopened.Bridge("br0")
	assert.Equal(t, "10.1.0.1/24", br2.HostsFor("4")["br0"])
}

func TestFailedCounterResetAndIncrement(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)

	assert.Equal(t, 1, l.IncrementFailed())
	assert.Equal(t, 2, l.IncrementFailed())
	l.ResetFailed()
	assert.Equal(t, 0, l.Failed())
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange("10.0.0.5/24", "10.0.0.0/24"))
	assert.False(t, InRange("10.0.1.5/24", "10.0.0.0/24"))
	assert.False(t, InRange("not-an-ip", "10.0.0.0/24"))
}
