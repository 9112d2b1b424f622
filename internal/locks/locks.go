// Package locks implements the key-level lock manager latchtree's BTree
// delegates to: a fixed-size striped table of per-key wait queues, hashed
// by (treeID, key) the way the teacher's reader-slot registry hashes
// transaction ids into a fixed array instead of a map.
package locks

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Mode mirrors the LockMode enum the core package defines; duplicated here
// (rather than imported) to keep this package free of a dependency on the
// root module, avoiding an import cycle with the default wiring in db.go.
type Mode int

const (
	ReadUncommitted Mode = iota
	ReadCommitted
	RepeatableRead
	Upgradable
	Exclusive
	Unsafe
)

func (m Mode) exclusive() bool { return m == Upgradable || m == Exclusive }

// Txn is the minimal transaction handle the lock table tracks ownership by.
type Txn interface {
	ID() uint64
}

// ErrDeadlock reports a wait-for cycle. Manager has no deadlock detection
// and none of its methods return it.
var ErrDeadlock = errLock("deadlock detected")

// ErrTimeout is returned when a lock could not be acquired within the
// caller's timeout.
var ErrTimeout = errLock("lock acquisition timed out")

type errLock string

func (e errLock) Error() string { return string(e) }

const stripeCount = 256

// Manager is the concrete LockManager: a fixed array of stripes, each
// guarding a map of currently held/waited-on keys. The stripe count is
// fixed (not proportional to key cardinality) the same way the teacher
// sizes its reader-slot array to a worst-case concurrency bound rather than
// to the data volume.
type Manager struct {
	stripes [stripeCount]stripe
}

type stripe struct {
	mu    sync.Mutex
	held  map[string]*heldLock
	queue map[string][]chan struct{}
}

type heldLock struct {
	owner  uint64
	mode   Mode
	shared map[uint64]struct{}
}

// NewManager constructs a lock manager with all stripes ready.
func NewManager() *Manager {
	m := &Manager{}
	for i := range m.stripes {
		m.stripes[i].held = make(map[string]*heldLock)
		m.stripes[i].queue = make(map[string][]chan struct{})
	}
	return m
}

// Hash computes the (treeID, key) stripe-and-identity hash the core
// package threads through every lock call so it is computed once per
// cursor operation instead of once per lock/unlock pair.
func (m *Manager) Hash(treeID uint64, key []byte) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], treeID)
	h := xxhash.New()
	h.Write(buf[:])
	h.Write(key)
	return h.Sum64()
}

func (m *Manager) stripeFor(hash uint64) *stripe {
	return &m.stripes[hash%stripeCount]
}

func lockKey(treeID uint64, key []byte) string {
	buf := make([]byte, 8+len(key))
	binary.LittleEndian.PutUint64(buf, treeID)
	copy(buf[8:], key)
	return string(buf)
}

// IsLockAvailable reports whether txn could acquire the lock on key right
// now without blocking, without actually acquiring it.
func (m *Manager) IsLockAvailable(txn Txn, treeID uint64, key []byte, hash uint64) bool {
	s := m.stripeFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()

	lk := lockKey(treeID, key)
	held, exists := s.held[lk]
	if !exists {
		return true
	}
	if held.shared != nil {
		return true
	}
	return held.owner == txn.ID()
}

// TryLock attempts to acquire the lock without blocking.
func (m *Manager) TryLock(mode Mode, txn Txn, treeID uint64, key []byte, hash uint64) (bool, error) {
	s := m.stripeFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.tryAcquireLocked(s, mode, txn, treeID, key)
}

func (m *Manager) tryAcquireLocked(s *stripe, mode Mode, txn Txn, treeID uint64, key []byte) (bool, error) {
	lk := lockKey(treeID, key)
	held, exists := s.held[lk]

	if !exists {
		if mode.exclusive() {
			s.held[lk] = &heldLock{owner: txn.ID(), mode: mode}
		} else {
			s.held[lk] = &heldLock{mode: mode, shared: map[uint64]struct{}{txn.ID(): {}}}
		}
		return true, nil
	}

	if mode.exclusive() {
		if held.owner == txn.ID() {
			return true, nil
		}
		if held.owner == 0 && len(held.shared) == 1 {
			if _, ok := held.shared[txn.ID()]; ok {
				held.owner = txn.ID()
				held.mode = mode
				held.shared = nil
				return true, nil
			}
		}
		return false, nil
	}

	if held.owner != 0 {
		return held.owner == txn.ID(), nil
	}
	held.shared[txn.ID()] = struct{}{}
	return true, nil
}

// Lock blocks until the lock is acquired or timeout elapses (0 means wait
// indefinitely).
func (m *Manager) Lock(txn Txn, mode Mode, treeID uint64, key []byte, hash uint64, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		s := m.stripeFor(hash)
		s.mu.Lock()
		ok, err := m.tryAcquireLocked(s, mode, txn, treeID, key)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if ok {
			s.mu.Unlock()
			return nil
		}

		wait := make(chan struct{})
		lk := lockKey(treeID, key)
		s.queue[lk] = append(s.queue[lk], wait)
		s.mu.Unlock()

		if deadline == nil {
			<-wait
			continue
		}
		select {
		case <-wait:
		case <-deadline:
			return ErrTimeout
		}
	}
}

// LockShared is the ReadCommitted/RepeatableRead convenience entry point.
func (m *Manager) LockShared(txn Txn, treeID uint64, key []byte, hash uint64, timeout time.Duration) error {
	return m.Lock(txn, ReadCommitted, treeID, key, hash, timeout)
}

// LockExclusive is the write-path convenience entry point.
func (m *Manager) LockExclusive(txn Txn, treeID uint64, key []byte, hash uint64, timeout time.Duration) error {
	return m.Lock(txn, Exclusive, treeID, key, hash, timeout)
}

// Unlock releases every lock txn holds on key and wakes one waiter.
func (m *Manager) Unlock(txn Txn, treeID uint64, key []byte, hash uint64) {
	s := m.stripeFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()

	lk := lockKey(treeID, key)
	held, exists := s.held[lk]
	if !exists {
		return
	}

	if held.owner == txn.ID() {
		delete(s.held, lk)
	} else if held.shared != nil {
		delete(held.shared, txn.ID())
		if len(held.shared) == 0 {
			delete(s.held, lk)
		}
	}

	m.wakeOneLocked(s, lk)
}

// UnlockToUpgradable downgrades an exclusive holder back to a single shared
// holder, used when a transaction commits but other readers should still
// be able to observe the pre-commit value until it does.
func (m *Manager) UnlockToUpgradable(txn Txn, treeID uint64, key []byte, hash uint64) {
	s := m.stripeFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()

	lk := lockKey(treeID, key)
	held, exists := s.held[lk]
	if !exists || held.owner != txn.ID() {
		return
	}
	held.owner = 0
	held.mode = Upgradable
	held.shared = map[uint64]struct{}{txn.ID(): {}}
}

func (m *Manager) wakeOneLocked(s *stripe, lk string) {
	waiters := s.queue[lk]
	if len(waiters) == 0 {
		return
	}
	close(waiters[0])
	rest := waiters[1:]
	if len(rest) == 0 {
		delete(s.queue, lk)
	} else {
		s.queue[lk] = rest
	}
}
