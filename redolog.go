package latchtree

import (
	"time"

	"latchtree/internal/redo"
	"latchtree/internal/wal"
)

// redoLogAdapter satisfies RedoLog by delegating to internal/redo, which
// wraps the teacher's write-ahead log. Kept separate from internal/redo so
// that package stays free of a dependency on this one.
type redoLogAdapter struct {
	log *redo.Log
}

// newRedoLog opens the default RedoLog implementation at path. The
// concrete return type exposes Close and Replay, used during startup
// recovery and shutdown, beyond what the RedoLog interface requires.
func newRedoLog(path string, mode wal.SyncMode, bytesPerSync int) (*redoLogAdapter, error) {
	log, err := redo.Open(path, mode, bytesPerSync)
	if err != nil {
		return nil, err
	}
	return &redoLogAdapter{log: log}, nil
}

func (a *redoLogAdapter) RedoStore(treeID uint64, key, value []byte) (CommitPosition, error) {
	pos, err := a.log.RedoStore(treeID, key, value)
	return CommitPosition(pos), err
}

func (a *redoLogAdapter) RedoStoreNoLock(treeID uint64, key, value []byte) error {
	return a.log.RedoStoreNoLock(treeID, key, value)
}

func (a *redoLogAdapter) StoreCommit(txn Txn, position CommitPosition, timeout time.Duration) error {
	return a.log.StoreCommit(txnAdapter{txn}, int64(position), timeout)
}

// Close flushes and closes the underlying log, used during DB shutdown.
func (a *redoLogAdapter) Close() error { return a.log.Close() }

// Replay applies every committed record after fromTxnID during recovery.
func (a *redoLogAdapter) Replay(fromTxnID uint64, apply func(treeID uint64, key, value []byte) error) error {
	return a.log.Replay(fromTxnID, apply)
}
