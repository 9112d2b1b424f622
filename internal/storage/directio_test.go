package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latchtree/internal/base"
)

func TestDirectIOWriteThenReadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.direct")
	d, err := NewDirectIO(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	page := &base.Page{}
	page.Data[0] = 0x11
	page.Data[base.PageSize-1] = 0x22

	require.NoError(t, d.WritePage(5, page))

	got, err := d.ReadPage(5)
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), got.Data[0])
	assert.Equal(t, byte(0x22), got.Data[base.PageSize-1])
}

func TestDirectIOEmptyOnFreshFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.direct")
	d, err := NewDirectIO(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	empty, err := d.Empty()
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, d.WritePage(0, &base.Page{}))

	empty, err = d.Empty()
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestDirectIOStatsTrackReadsAndWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.direct")
	d, err := NewDirectIO(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.WritePage(0, &base.Page{}))
	_, err = d.ReadPage(0)
	require.NoError(t, err)

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Writes)
	assert.Equal(t, uint64(1), stats.Reads)
}
