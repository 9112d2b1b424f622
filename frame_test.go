package latchtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindJoinsNodeCousinList(t *testing.T) {
	t.Parallel()

	n := newNode(1, true)
	f := newCursorFrame(nil)
	f.bind(n, 4)

	assert.Equal(t, n, f.node)
	assert.Equal(t, 4, f.nodePos)
	assert.Equal(t, f, n.lastCursorFrame)
}

func TestRebindMovesFrameBetweenNodes(t *testing.T) {
	t.Parallel()

	n1 := newNode(1, true)
	n2 := newNode(2, true)
	f := newCursorFrame(nil)
	f.bind(n1, 0)

	f.rebind(n2, 2)

	assert.Equal(t, n2, f.node)
	assert.Equal(t, 2, f.nodePos)
	assert.Nil(t, n1.lastCursorFrame)
	assert.Equal(t, f, n2.lastCursorFrame)
}

func TestUnbindDetachesFromNode(t *testing.T) {
	t.Parallel()

	n := newNode(1, true)
	f := newCursorFrame(nil)
	f.bind(n, 0)

	f.unbind()
	assert.Nil(t, f.node)
	assert.Nil(t, n.lastCursorFrame)
}

func TestPopReturnsParentAndUnbinds(t *testing.T) {
	t.Parallel()

	n := newNode(1, true)
	parent := newCursorFrame(nil)
	child := newCursorFrame(parent)
	child.bind(n, 0)

	got := child.pop()
	assert.Equal(t, parent, got)
	assert.Nil(t, child.node)
}

func TestIsNotFoundAndInsertPoint(t *testing.T) {
	t.Parallel()

	n := newNode(1, true)
	f := newCursorFrame(nil)
	f.bind(n, ^3)

	require.True(t, f.isNotFound())
	assert.Equal(t, 3, f.insertPoint())

	f.rebind(n, 2)
	assert.False(t, f.isNotFound())
}
