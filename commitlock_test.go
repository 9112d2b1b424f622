package latchtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommitLockSharedAllowsConcurrentHolders(t *testing.T) {
	t.Parallel()

	l := newCommitLock()
	assert.True(t, l.TryAcquireShared())
	assert.True(t, l.TryAcquireShared())
	l.ReleaseShared()
	l.ReleaseShared()
}

func TestCommitLockExclusiveExcludesShared(t *testing.T) {
	t.Parallel()

	l := newCommitLock()
	l.AcquireExclusive()
	assert.False(t, l.TryAcquireShared())
	l.ReleaseExclusive()
	assert.True(t, l.TryAcquireShared())
	l.ReleaseShared()
}
