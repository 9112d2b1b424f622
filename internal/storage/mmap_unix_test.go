//go:build linux || darwin

package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latchtree/internal/base"
)

func TestMMapEmptyOnFreshFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.mmap")
	m, err := NewMMap(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	empty, err := m.Empty()
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestMMapWriteThenReadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.mmap")
	m, err := NewMMap(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	page := &base.Page{}
	page.Data[0] = 0xAB
	page.Data[base.PageSize-1] = 0xCD

	require.NoError(t, m.WritePage(3, page))

	got, err := m.ReadPage(3)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), got.Data[0])
	assert.Equal(t, byte(0xCD), got.Data[base.PageSize-1])
}

func TestMMapWritePastInitialRegionGrows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.mmap")
	m, err := NewMMap(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	farID := base.PageID(2 * 1024 * 1024 * 1024 / base.PageSize)
	page := &base.Page{}
	page.Data[0] = 0x42

	require.NoError(t, m.WritePage(farID, page))

	got, err := m.ReadPage(farID)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), got.Data[0])
}

func TestMMapSyncSucceeds(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.mmap")
	m, err := NewMMap(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.WritePage(0, &base.Page{}))
	assert.NoError(t, m.Sync())
}
