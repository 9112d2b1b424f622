package locks

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderSlotsMinTracksOldest(t *testing.T) {
	t.Parallel()

	rs := NewReaderSlots(4)
	assert.Equal(t, uint64(math.MaxUint64), rs.GetMinTxID())

	slotA, err := rs.Register(5)
	require.NoError(t, err)
	slotB, err := rs.Register(3)
	require.NoError(t, err)
	_, err = rs.Register(9)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), rs.GetMinTxID())

	rs.Unregister(slotB)
	assert.Equal(t, uint64(5), rs.GetMinTxID())

	rs.Unregister(slotA)
	assert.Equal(t, uint64(9), rs.GetMinTxID())
}

func TestReaderSlotsExhaustion(t *testing.T) {
	t.Parallel()

	rs := NewReaderSlots(2)
	_, err := rs.Register(1)
	require.NoError(t, err)
	_, err = rs.Register(2)
	require.NoError(t, err)

	_, err = rs.Register(3)
	assert.ErrorIs(t, err, ErrTooManyReaders)
}

func TestReaderSlotsEmptyAfterLastUnregister(t *testing.T) {
	t.Parallel()

	rs := NewReaderSlots(1)
	slot, err := rs.Register(42)
	require.NoError(t, err)

	rs.Unregister(slot)
	assert.Equal(t, uint64(math.MaxUint64), rs.GetMinTxID())
}
