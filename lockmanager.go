package latchtree

import (
	"time"

	"latchtree/internal/locks"
)

// lockManagerAdapter satisfies LockManager by delegating to internal/locks,
// translating between the root package's LockMode/Txn and the lock table's
// own narrower Mode/Txn, which intentionally doesn't import this package
// (it would otherwise create an import cycle through db.go's wiring).
type lockManagerAdapter struct {
	mgr *locks.Manager
}

// newLockManager wires the default LockManager implementation.
func newLockManager() LockManager {
	return &lockManagerAdapter{mgr: locks.NewManager()}
}

func toLocksMode(m LockMode) locks.Mode { return locks.Mode(m) }

type txnAdapter struct{ Txn }

func (a *lockManagerAdapter) Hash(treeID uint64, key []byte) uint64 {
	return a.mgr.Hash(treeID, key)
}

func (a *lockManagerAdapter) IsLockAvailable(txn Txn, treeID uint64, key []byte, hash uint64) bool {
	return a.mgr.IsLockAvailable(txnAdapter{txn}, treeID, key, hash)
}

func (a *lockManagerAdapter) TryLock(mode LockMode, txn Txn, treeID uint64, key []byte, hash uint64) (bool, error) {
	return a.mgr.TryLock(toLocksMode(mode), txnAdapter{txn}, treeID, key, hash)
}

func (a *lockManagerAdapter) Lock(txn Txn, mode LockMode, treeID uint64, key []byte, hash uint64, timeout time.Duration) error {
	return a.mgr.Lock(txnAdapter{txn}, toLocksMode(mode), treeID, key, hash, timeout)
}

func (a *lockManagerAdapter) LockShared(txn Txn, treeID uint64, key []byte, hash uint64, timeout time.Duration) error {
	return a.mgr.LockShared(txnAdapter{txn}, treeID, key, hash, timeout)
}

func (a *lockManagerAdapter) LockExclusive(txn Txn, treeID uint64, key []byte, hash uint64, timeout time.Duration) error {
	return a.mgr.LockExclusive(txnAdapter{txn}, treeID, key, hash, timeout)
}

func (a *lockManagerAdapter) Unlock(txn Txn, treeID uint64, key []byte, hash uint64) {
	a.mgr.Unlock(txnAdapter{txn}, treeID, key, hash)
}

func (a *lockManagerAdapter) UnlockToUpgradable(txn Txn, treeID uint64, key []byte, hash uint64) {
	a.mgr.UnlockToUpgradable(txnAdapter{txn}, treeID, key, hash)
}
