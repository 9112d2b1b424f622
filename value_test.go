package latchtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotLoadedSentinelIdentity(t *testing.T) {
	t.Parallel()

	assert.True(t, IsNotLoaded(NotLoaded()))
	assert.False(t, IsNotLoaded(nil))
	assert.False(t, IsNotLoaded([]byte{}))
	assert.False(t, IsNotLoaded(append([]byte(nil), NotLoaded()...)))
}

func TestModifySentinelsAreDistinctFromEachOtherAndNotLoaded(t *testing.T) {
	t.Parallel()

	assert.True(t, isModifyInsert(ModifyInsert()))
	assert.True(t, isModifyReplace(ModifyReplace()))
	assert.False(t, isModifyInsert(ModifyReplace()))
	assert.False(t, isModifyReplace(ModifyInsert()))
	assert.False(t, isModifyInsert(NotLoaded()))
}

func TestIsGhostIsNilValue(t *testing.T) {
	t.Parallel()

	assert.True(t, isGhost(nil))
	assert.False(t, isGhost([]byte{}))
	assert.False(t, isGhost([]byte("x")))
}
