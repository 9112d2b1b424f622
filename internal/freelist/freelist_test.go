package freelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latchtree/internal/base"
)

func TestFreelistPendingRelease(t *testing.T) {
	t.Parallel()

	fl := New()
	fl.Pending(10, []base.PageID{100, 101, 102})
	fl.Pending(11, []base.PageID{200, 201})
	fl.Pending(12, []base.PageID{300})

	assert.Equal(t, 0, len(fl.freed))

	released := fl.Release(11)
	assert.Equal(t, 3, released)
	assert.Equal(t, 3, len(fl.freed))

	released = fl.Release(100)
	assert.Equal(t, 3, released)
	assert.Equal(t, 6, len(fl.freed))
}

func TestFreelistAllocateRemovesFromPending(t *testing.T) {
	t.Parallel()

	fl := New()
	fl.Pending(5, []base.PageID{7})
	fl.Release(10)

	id := fl.Allocate()
	require.Equal(t, base.PageID(7), id)

	// Page 7 must no longer be trackable as pending; releasing again
	// must not double count it.
	assert.Equal(t, 0, fl.Release(100))
}

func TestFreelistAllocateEmpty(t *testing.T) {
	t.Parallel()

	fl := New()
	assert.Equal(t, base.PageID(0), fl.Allocate())
}

func TestFreelistSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	fl := New()
	fl.Free(1)
	fl.Free(2)
	fl.Free(3)
	fl.Pending(9, []base.PageID{50, 51})

	n := fl.PagesNeeded()
	require.Greater(t, n, 0)

	pages := make([]*base.Page, n)
	for i := range pages {
		pages[i] = &base.Page{}
	}
	fl.Serialize(pages)

	got := New()
	got.Deserialize(pages)

	assert.Equal(t, 3, len(got.freed))
	released := got.Release(100)
	assert.Equal(t, 2, released)
}
