package latchtree

import (
	"time"

	"latchtree/internal/base"
)

// LoadOptions parameterizes NodeLoader.LoadChild's latch hand-off.
type LoadOptions struct {
	// Shared requests a shared latch on the returned child; exclusive otherwise.
	Shared bool
	// ReleaseParent releases the parent's latch once the child is secured,
	// honoring the coupling discipline of §5.1.
	ReleaseParent bool
}

// NodeLoader is the buffer cache / node loader collaborator of §7. The
// default implementation is nodeCache (nodecache.go), which keeps clean
// pages in internal/cache's go-freelru ring.
type NodeLoader interface {
	// NodeMapGet is a non-blocking hash lookup; id may race with eviction.
	NodeMapGet(id base.PageID) (*Node, bool)
	// LoadChild loads or allocates the child, latched per opts, and
	// releases the parent's latch when opts.ReleaseParent is set.
	LoadChild(parent *Node, childID base.PageID, opts LoadOptions) (*Node, error)
	// Allocate reserves a fresh page id for a brand new node.
	Allocate(leaf bool) (*Node, error)
	MarkDirty(tree *BTree, node *Node) error
	ShouldMarkDirty(node *Node) bool
	PrepareToDelete(node *Node)
	DeleteNode(node *Node) error
	Flush(node *Node) error
}

// CommitLock is the tree-wide lock separating structural mutations
// (shared) from checkpoint snapshots (exclusive).
type CommitLock interface {
	TryAcquireShared() bool
	AcquireShared()
	ReleaseShared()
	AcquireExclusive()
	ReleaseExclusive()
}

// LockMode enumerates the isolation levels the lock manager honors.
type LockMode int

const (
	ReadUncommitted LockMode = iota
	ReadCommitted
	RepeatableRead
	Upgradable
	Exclusive
	Unsafe
)

// NoReadLock reports whether mode never needs a read-time lock acquisition.
func (m LockMode) NoReadLock() bool { return m == ReadUncommitted || m == Unsafe }

// Repeatable reports whether mode holds its locks until commit.
func (m LockMode) Repeatable() bool {
	return m == RepeatableRead || m == Upgradable || m == Exclusive
}

// Txn is the minimal transaction handle the lock manager and redo log
// operate on; the concrete implementation lives in internal/locks.
type Txn interface {
	ID() uint64
	Mode() LockMode
}

// LockManager is the key-level lock manager collaborator of §7, keyed by
// (treeID, key) via Hash.
type LockManager interface {
	Hash(treeID uint64, key []byte) uint64
	IsLockAvailable(txn Txn, treeID uint64, key []byte, hash uint64) bool
	TryLock(mode LockMode, txn Txn, treeID uint64, key []byte, hash uint64) (bool, error)
	Lock(txn Txn, mode LockMode, treeID uint64, key []byte, hash uint64, timeout time.Duration) error
	LockShared(txn Txn, treeID uint64, key []byte, hash uint64, timeout time.Duration) error
	LockExclusive(txn Txn, treeID uint64, key []byte, hash uint64, timeout time.Duration) error
	Unlock(txn Txn, treeID uint64, key []byte, hash uint64)
	UnlockToUpgradable(txn Txn, treeID uint64, key []byte, hash uint64)
}

// CommitPosition is a position in the redo log's total order; always
// non-negative and non-decreasing.
type CommitPosition int64

// RedoLog is the redo/undo log collaborator of §7.
type RedoLog interface {
	RedoStore(treeID uint64, key, value []byte) (CommitPosition, error)
	RedoStoreNoLock(treeID uint64, key, value []byte) error
	StoreCommit(txn Txn, position CommitPosition, timeout time.Duration) error
}

// Replication is the log-position-based replay collaborator of §7.
type Replication interface {
	Start(position int64) error
	Recover(listener func([]byte) error) error
	ReadPosition() int64
	WritePosition() int64
	Read(buf []byte, off, length int) (int, error)
	Flip() error
	Write(buf []byte, off, length int) (int, error)
	Commit() (int64, error)
	Confirm(position int64, timeout time.Duration) error
	SyncConfirm(position int64, timeout time.Duration) error
	Sync() error
}

// ReplicationCheckpointer is an optional extension; the core type-asserts
// for it instead of requiring it, resolving the open question of whether
// checkpointed/truncate/forward belong to the required interface.
type ReplicationCheckpointer interface {
	Checkpointed(position int64) error
	Truncate(position int64) error
	Forward(position int64) error
}

// BlobStore stores and loads values too large to fit inline in a leaf
// entry, fragmenting them across overflow pages. The default
// implementation shares its page pool with the NodeLoader.
type BlobStore interface {
	Store(txnID uint64, value []byte) (base.PageID, error)
	Load(firstID base.PageID, totalSize int) ([]byte, error)
	Free(firstID base.PageID) error
}
