package latchtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latchtree/internal/base"
)

func TestMergeIntoLeafAppendsEntriesAndRebindsFrames(t *testing.T) {
	t.Parallel()

	a := newNode(1, true)
	a.keys = [][]byte{[]byte("a")}
	a.values = [][]byte{[]byte("1")}

	b := newNode(2, true)
	b.keys = [][]byte{[]byte("b"), []byte("c")}
	b.values = [][]byte{[]byte("2"), []byte("3")}

	f := newCursorFrame(nil)
	f.bind(b, 0)

	tree := &BTree{}
	require.NoError(t, tree.mergeInto(a, b, nil))

	require.Equal(t, 3, a.NumKeys())
	assert.Equal(t, []byte("a"), a.Key(0))
	assert.Equal(t, []byte("b"), a.Key(1))
	assert.Equal(t, []byte("c"), a.Key(2))

	assert.Equal(t, a, f.node)
	assert.Equal(t, 2, f.nodePos)
}

func TestMergeIntoBranchPullsDownSeparatorKeepingChildrenOneMoreThanKeys(t *testing.T) {
	t.Parallel()

	a := newNode(1, false)
	a.keys = [][]byte{[]byte("f")}
	a.children = []base.PageID{10, 20}

	b := newNode(2, false)
	b.keys = [][]byte{[]byte("z")}
	b.children = []base.PageID{30, 40}
	b.SetHighExtremity(true)

	tree := &BTree{}
	require.NoError(t, tree.mergeInto(a, b, []byte("m")))

	require.Equal(t, 3, a.NumKeys())
	assert.Equal(t, []byte("f"), a.Key(0))
	assert.Equal(t, []byte("m"), a.Key(1))
	assert.Equal(t, []byte("z"), a.Key(2))
	assert.Equal(t, []base.PageID{10, 20, 30, 40}, a.children)
	assert.True(t, a.IsHighExtremity())
	require.Equal(t, len(a.children), len(a.keys)+1)
}

func TestMergeIntoLeafRebindsNotFoundFramePosition(t *testing.T) {
	t.Parallel()

	a := newNode(1, true)
	a.keys = [][]byte{[]byte("a")}
	a.values = [][]byte{[]byte("1")}

	b := newNode(2, true)
	b.keys = [][]byte{[]byte("b")}
	b.values = [][]byte{[]byte("2")}

	f := newCursorFrame(nil)
	f.bind(b, ^0) // not-found, would insert at b's index 0

	tree := &BTree{}
	require.NoError(t, tree.mergeInto(a, b, nil))

	assert.Equal(t, a, f.node)
	assert.True(t, f.isNotFound())
}
