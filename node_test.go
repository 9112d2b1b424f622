package latchtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latchtree/internal/base"
)

func TestBinarySearchExactAndMissingKeys(t *testing.T) {
	t.Parallel()

	n := newNode(1, true)
	n.keys = [][]byte{[]byte("b"), []byte("d"), []byte("f")}
	n.values = [][]byte{[]byte("1"), []byte("2"), []byte("3")}

	assert.Equal(t, 2, n.BinarySearch([]byte("d")))

	pos := n.BinarySearch([]byte("c"))
	assert.Less(t, pos, 0)
	assert.Equal(t, 1, n.ChildIndexForPos(pos))
}

func TestChildIndexForPosExactMatchRoutesRight(t *testing.T) {
	t.Parallel()

	n := newNode(1, false)
	n.keys = [][]byte{[]byte("m")}
	n.children = []base.PageID{10, 20}

	pos := n.BinarySearch([]byte("m"))
	require.GreaterOrEqual(t, pos, 0)
	assert.Equal(t, 1, n.ChildIndexForPos(pos))
}

func TestInsertAndRemoveKeyValueAt(t *testing.T) {
	t.Parallel()

	n := newNode(1, true)
	n.insertKeyValueAt(0, []byte("b"), []byte("2"))
	n.insertKeyValueAt(0, []byte("a"), []byte("1"))
	n.insertKeyValueAt(2, []byte("c"), []byte("3"))

	require.Equal(t, 3, n.NumKeys())
	assert.Equal(t, []byte("a"), n.Key(0))
	assert.Equal(t, []byte("b"), n.Key(1))
	assert.Equal(t, []byte("c"), n.Key(2))

	n.removeKeyValueAt(1)
	require.Equal(t, 2, n.NumKeys())
	assert.Equal(t, []byte("a"), n.Key(0))
	assert.Equal(t, []byte("c"), n.Key(1))
}

func TestInsertAndRemoveSeparatorAt(t *testing.T) {
	t.Parallel()

	n := newNode(1, false)
	n.keys = [][]byte{[]byte("m")}
	n.children = []base.PageID{10, 20}

	n.insertSeparatorAt(1, []byte("z"), 30)
	require.Equal(t, 2, n.NumKeys())
	assert.Equal(t, base.PageID(30), n.Child(2))

	n.removeSeparatorAt(0)
	require.Equal(t, 1, n.NumKeys())
	assert.Equal(t, []byte("z"), n.Key(0))
	assert.Equal(t, base.PageID(10), n.Child(0))
	assert.Equal(t, base.PageID(30), n.Child(1))
}

func TestSerializeDeserializeLeafRoundTrip(t *testing.T) {
	t.Parallel()

	n := newNode(5, true)
	n.insertKeyValueAt(0, []byte("alpha"), []byte("one"))
	n.insertKeyValueAt(1, []byte("beta"), []byte("two"))

	page, err := n.Serialize(42)
	require.NoError(t, err)

	got, err := Deserialize(page)
	require.NoError(t, err)

	require.True(t, got.IsLeaf())
	require.Equal(t, 2, got.NumKeys())
	assert.Equal(t, []byte("alpha"), got.Key(0))
	assert.Equal(t, []byte("one"), got.Value(0))
	assert.Equal(t, []byte("beta"), got.Key(1))
	assert.Equal(t, []byte("two"), got.Value(1))
}

func TestSerializeDeserializePreservesGhostVsEmptyValue(t *testing.T) {
	t.Parallel()

	n := newNode(5, true)
	n.insertKeyValueAt(0, []byte("ghost"), nil)
	n.insertKeyValueAt(1, []byte("empty"), []byte{})

	page, err := n.Serialize(1)
	require.NoError(t, err)

	got, err := Deserialize(page)
	require.NoError(t, err)

	assert.True(t, isGhost(got.Value(0)))
	assert.False(t, isGhost(got.Value(1)))
	assert.NotNil(t, got.Value(1))
}

func TestSerializeDeserializeBranchRoundTrip(t *testing.T) {
	t.Parallel()

	n := newNode(7, false)
	n.keys = [][]byte{[]byte("m")}
	n.children = []base.PageID{10, 20}

	page, err := n.Serialize(1)
	require.NoError(t, err)

	got, err := Deserialize(page)
	require.NoError(t, err)

	require.False(t, got.IsLeaf())
	require.Equal(t, 1, got.NumKeys())
	assert.Equal(t, []byte("m"), got.Key(0))
	assert.Equal(t, base.PageID(10), got.Child(0))
	assert.Equal(t, base.PageID(20), got.Child(1))
}

func TestIsFullDetectsOverflow(t *testing.T) {
	t.Parallel()

	n := newNode(1, true)
	bigValue := make([]byte, base.PageSize)
	assert.True(t, n.IsFull([]byte("k"), bigValue))
	assert.False(t, n.IsFull([]byte("k"), []byte("v")))
}

func TestBindAndUnbindFrame(t *testing.T) {
	t.Parallel()

	n := newNode(1, true)
	f1 := &CursorFrame{}
	f2 := &CursorFrame{}

	n.bindFrame(f1)
	n.bindFrame(f2)
	assert.Equal(t, n, f1.node)
	assert.Equal(t, n, f2.node)

	n.unbindFrame(f1)
	assert.Nil(t, f1.node)
	assert.Equal(t, f2, n.lastCursorFrame)
}
