package ledger

import (
	"path/filepath"
	"testing"

	"github.com/raikou-net/netorch/internal/rerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoAllocate_SkipsFirstFiveHosts(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)
	br := l.Bridge("br0")

	addr, err := br.AutoAllocate("4", "c1", "10.0.0.0/24")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.6/24", addr)
}

func TestAutoAllocate_SkipsReserved(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)
	br := l.Bridge("br0")

	br.Reserve("4", "other", "10.0.0.6/24")
	addr, err := br.AutoAllocate("4", "c1", "10.0.0.0/24")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7/24", addr)
}

func TestAutoAllocate_ExhaustedOnTinySubnet(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)
	br := l.Bridge("br0")

	_, err = br.AutoAllocate("4", "c1", "10.0.0.0/30")
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.RangeExhausted))
}

func TestAutoAllocate_NoRange(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)
	br := l.Bridge("br0")

	_, err = br.AutoAllocate("4", "c1", "")
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.NoRange))
}
