package latchtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineSeparatorBytesAndFullKeyMatch(t *testing.T) {
	t.Parallel()

	s := InlineSeparator([]byte("m"))
	assert.False(t, s.IsFragmented())
	assert.Equal(t, []byte("m"), s.Bytes())
	assert.Equal(t, []byte("m"), s.FullKey())
}

func TestFragmentedSeparatorBytesIsPointerFullKeyIsLogical(t *testing.T) {
	t.Parallel()

	s := FragmentedSeparator([]byte("ptr"), []byte("logical-key"))
	assert.True(t, s.IsFragmented())
	assert.Equal(t, []byte("ptr"), s.Bytes())
	assert.Equal(t, []byte("logical-key"), s.FullKey())
}

func TestSplitCompareAgainstSeparator(t *testing.T) {
	t.Parallel()

	sibling := newNode(2, true)
	s := newSplit(true, sibling, InlineSeparator([]byte("m")))

	assert.Negative(t, s.compare([]byte("a")))
	assert.Zero(t, s.compare([]byte("m")))
	assert.Positive(t, s.compare([]byte("z")))
}

func TestSelectNodeRoutesBySeparatorSplitRight(t *testing.T) {
	t.Parallel()

	left := newNode(1, true)
	right := newNode(2, true)
	s := newSplit(true, right, InlineSeparator([]byte("m")))

	left.latch.AcquireShared()
	got := s.selectNode(left, []byte("a"))
	assert.Equal(t, left, got)
	got.latch.ReleaseShared()

	left.latch.AcquireShared()
	got = s.selectNode(left, []byte("z"))
	assert.Equal(t, right, got)
	got.latch.ReleaseShared()
}

func TestBinarySearchLeafAcrossSplitHalves(t *testing.T) {
	t.Parallel()

	left := newNode(1, true)
	left.keys = [][]byte{[]byte("a"), []byte("b")}
	left.values = [][]byte{[]byte("1"), []byte("2")}

	right := newNode(2, true)
	right.keys = [][]byte{[]byte("c"), []byte("d")}
	right.values = [][]byte{[]byte("3"), []byte("4")}

	s := newSplit(true, right, InlineSeparator([]byte("b")))

	pos := s.binarySearchLeaf(left, []byte("c"))
	require.GreaterOrEqual(t, pos, 0)

	highest := s.highestPos(left)
	assert.Equal(t, left.HighestPos()+2+right.HighestPos(), highest)
}
