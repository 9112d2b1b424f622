// Package redo adapts the teacher's write-ahead log into latchtree's
// RedoLog collaborator: every Store call is durably recorded before the
// in-memory tree is mutated, and StoreCommit blocks a committing
// transaction until its position has reached disk per the configured
// SyncMode.
package redo

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"latchtree/internal/base"
	"latchtree/internal/wal"
)

// Txn is the minimal transaction handle StoreCommit needs.
type Txn interface {
	ID() uint64
}

// Log is the concrete RedoLog: a running position counter over the
// underlying WAL plus a condition variable that StoreCommit broadcasts on
// after each sync; nothing in this package waits on it.
type Log struct {
	w *wal.WAL

	mu       sync.Mutex
	cond     *sync.Cond
	position atomic.Int64
	synced   int64
}

// Open creates or reopens a redo log at path.
func Open(path string, mode wal.SyncMode, bytesPerSync int) (*Log, error) {
	w, err := wal.NewWAL(path, mode, bytesPerSync)
	if err != nil {
		return nil, err
	}
	l := &Log{w: w}
	l.cond = sync.NewCond(&l.mu)
	return l, nil
}

// RedoStore appends a logical key/value write to the log under the calling
// transaction's lock and returns the position it landed at.
func (l *Log) RedoStore(treeID uint64, key, value []byte) (int64, error) {
	page := encodeStoreRecord(treeID, key, value)
	pos := l.position.Add(1)
	if err := l.w.AppendPage(uint64(pos), base.PageID(treeID), page); err != nil {
		return 0, err
	}
	return pos, nil
}

// RedoStoreNoLock appends a write the caller has already serialized
// against (e.g. a ghost cleanup that doesn't need a fresh lock).
func (l *Log) RedoStoreNoLock(treeID uint64, key, value []byte) error {
	_, err := l.RedoStore(treeID, key, value)
	return err
}

// StoreCommit appends a commit marker for txn, syncs the WAL as its
// SyncMode dictates, and records position as synced before returning.
// It does not wait for other writers, and timeout is not used.
func (l *Log) StoreCommit(txn Txn, position int64, timeout time.Duration) error {
	if err := l.w.AppendCommit(txn.ID()); err != nil {
		return err
	}
	if err := l.w.Sync(); err != nil {
		return err
	}

	l.mu.Lock()
	l.synced = position
	l.cond.Broadcast()
	l.mu.Unlock()
	return nil
}

// Position returns the highest position appended so far.
func (l *Log) Position() int64 { return l.position.Load() }

// Truncate discards log records for transactions already reflected in a
// checkpoint up to and including upToTxnID, keeping the log from growing
// without bound between checkpoints.
func (l *Log) Truncate(upToTxnID uint64) error {
	return l.w.Truncate(upToTxnID)
}

// Close flushes and closes the underlying log file.
func (l *Log) Close() error {
	if err := l.w.ForceSync(); err != nil {
		return err
	}
	return l.w.Close()
}

// Replay applies every committed record after fromTxnID, used during
// recovery before the tree is opened for traffic.
func (l *Log) Replay(fromTxnID uint64, apply func(treeID uint64, key, value []byte) error) error {
	return l.w.Replay(fromTxnID, func(pageID base.PageID, page *base.Page) error {
		treeID, key, value := decodeStoreRecord(page)
		_ = pageID
		return apply(treeID, key, value)
	})
}

// encodeStoreRecord packs a logical (treeID, key, value) triple into a
// page-sized buffer so it can ride through the teacher's page-oriented WAL
// format unchanged.
func encodeStoreRecord(treeID uint64, key, value []byte) *base.Page {
	page := &base.Page{}
	binary.LittleEndian.PutUint64(page.Data[0:8], treeID)
	binary.LittleEndian.PutUint32(page.Data[8:12], uint32(len(key)))
	binary.LittleEndian.PutUint32(page.Data[12:16], uint32(len(value)))
	offset := 16
	copy(page.Data[offset:], key)
	offset += len(key)
	copy(page.Data[offset:], value)
	return page
}

func decodeStoreRecord(page *base.Page) (uint64, []byte, []byte) {
	treeID := binary.LittleEndian.Uint64(page.Data[0:8])
	keyLen := binary.LittleEndian.Uint32(page.Data[8:12])
	valueLen := binary.LittleEndian.Uint32(page.Data[12:16])
	offset := 16
	key := append([]byte(nil), page.Data[offset:offset+int(keyLen)]...)
	offset += int(keyLen)
	value := append([]byte(nil), page.Data[offset:offset+int(valueLen)]...)
	return treeID, key, value
}
