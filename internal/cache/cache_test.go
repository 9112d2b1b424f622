package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latchtree/internal/base"
)

func TestAddAndGet(t *testing.T) {
	t.Parallel()

	c, err := New(4)
	require.NoError(t, err)

	page := &base.Page{}
	page.Data[0] = 7
	c.Add(1, page)

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, byte(7), got.Data[0])
}

func TestGetMissingReturnsFalse(t *testing.T) {
	t.Parallel()

	c, err := New(4)
	require.NoError(t, err)

	_, ok := c.Get(99)
	assert.False(t, ok)
}

func TestRemoveEvicts(t *testing.T) {
	t.Parallel()

	c, err := New(4)
	require.NoError(t, err)

	c.Add(1, &base.Page{})
	c.Remove(1)

	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestPurgeClearsAll(t *testing.T) {
	t.Parallel()

	c, err := New(4)
	require.NoError(t, err)

	c.Add(1, &base.Page{})
	c.Add(2, &base.Page{})
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestLenReflectsEviction(t *testing.T) {
	t.Parallel()

	c, err := New(2)
	require.NoError(t, err)

	c.Add(1, &base.Page{})
	c.Add(2, &base.Page{})
	c.Add(3, &base.Page{})

	assert.LessOrEqual(t, c.Len(), 2)
}
