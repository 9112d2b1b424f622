package locks

import (
	"errors"
	"math"
	"sync/atomic"
)

// ErrTooManyReaders is returned by ReaderSlots.Register when every slot is
// already claimed.
var ErrTooManyReaders = errors.New("too many concurrent readers (increase maxReaders)")

// ReaderSlots tracks every active transaction's id in a fixed-size array
// sized to a concurrency bound rather than to the number of transactions
// ever opened, giving O(1) register/unregister with no allocation and an
// O(1) cached read of the oldest active transaction. The free-list and
// checkpointer use that minimum to bound what a page release may reclaim:
// a page freed by a transaction newer than the oldest active reader must
// stay pending until that reader finishes.
type ReaderSlots struct {
	slots       []atomic.Uint64 // fixed-size array of txn ids (0 = empty slot)
	maxSize     int
	activeCount atomic.Int32
	minTxID     atomic.Uint64 // cached minimum id (MaxUint64 when no readers)
}

// NewReaderSlots creates a fixed-size slot array for reader tracking.
func NewReaderSlots(maxReaders int) *ReaderSlots {
	rs := &ReaderSlots{
		slots:   make([]atomic.Uint64, maxReaders),
		maxSize: maxReaders,
	}
	rs.minTxID.Store(math.MaxUint64)
	return rs
}

// Register finds an empty slot and atomically assigns it to txID, returning
// the slot index on success or ErrTooManyReaders if every slot is full.
func (rs *ReaderSlots) Register(txID uint64) (int, error) {
	for i := 0; i < rs.maxSize; i++ {
		if rs.slots[i].CompareAndSwap(0, txID) {
			rs.activeCount.Add(1)

			for {
				current := rs.minTxID.Load()
				if txID >= current {
					break
				}
				if rs.minTxID.CompareAndSwap(current, txID) {
					break
				}
			}

			return i, nil
		}
	}
	return -1, ErrTooManyReaders
}

// Unregister clears slot and, if it held the cached minimum, rescans.
func (rs *ReaderSlots) Unregister(slot int) {
	txID := rs.slots[slot].Swap(0)

	if rs.activeCount.Add(-1) == 0 {
		rs.minTxID.Store(math.MaxUint64)
	} else if txID == rs.minTxID.Load() {
		rs.rescanMin()
	}
}

func (rs *ReaderSlots) rescanMin() {
	minTxID := uint64(math.MaxUint64)
	for i := 0; i < rs.maxSize; i++ {
		if txID := rs.slots[i].Load(); txID != 0 && txID < minTxID {
			minTxID = txID
		}
	}
	rs.minTxID.Store(minTxID)
}

// GetMinTxID returns the cached minimum active transaction id, or
// math.MaxUint64 if there are no active readers.
func (rs *ReaderSlots) GetMinTxID() uint64 {
	if rs.activeCount.Load() == 0 {
		return math.MaxUint64
	}
	return rs.minTxID.Load()
}
