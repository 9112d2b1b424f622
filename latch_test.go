package latchtree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatchSharedAllowsMultipleHolders(t *testing.T) {
	t.Parallel()

	l := NewLatch()
	require.True(t, l.TryAcquireShared())
	require.True(t, l.TryAcquireShared())

	assert.False(t, l.TryAcquireExclusive())

	l.ReleaseShared()
	l.ReleaseShared()
	assert.True(t, l.TryAcquireExclusive())
}

func TestLatchExclusiveExcludesEverything(t *testing.T) {
	t.Parallel()

	l := NewLatch()
	require.True(t, l.TryAcquireExclusive())

	assert.False(t, l.TryAcquireShared())
	assert.False(t, l.TryAcquireExclusive())

	l.ReleaseExclusive()
	assert.True(t, l.TryAcquireShared())
}

func TestLatchTryUpgradeRequiresSoleHolder(t *testing.T) {
	t.Parallel()

	l := NewLatch()
	l.AcquireShared()
	l.AcquireShared()

	assert.False(t, l.TryUpgrade())

	l.ReleaseShared()
	assert.True(t, l.TryUpgrade())
}

func TestLatchDowngradeAllowsNewSharedHolders(t *testing.T) {
	t.Parallel()

	l := NewLatch()
	l.AcquireExclusive()
	l.Downgrade()

	assert.True(t, l.TryAcquireShared())
}

func TestLatchAcquireExclusiveBlocksUntilReleased(t *testing.T) {
	t.Parallel()

	l := NewLatch()
	l.AcquireExclusive()

	done := make(chan struct{})
	go func() {
		l.AcquireExclusive()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second exclusive acquire should not have succeeded yet")
	case <-time.After(20 * time.Millisecond):
	}

	l.ReleaseExclusive()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up after release")
	}
}
