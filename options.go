package latchtree

import (
	"time"

	"latchtree/internal/wal"
)

// DBOptions configures database behavior. Populate it via DBOption
// functions rather than setting fields directly.
type DBOptions struct {
	syncMode       wal.SyncMode
	syncBytes      int
	cleanPageCache uint32
	lockTimeout    time.Duration
	maxReaders     int
	replicationDir string
	log            Logger
}

// DefaultDBOptions returns safe default configuration.
func DefaultDBOptions() DBOptions {
	return DBOptions{
		syncMode:       wal.SyncEveryCommit,
		syncBytes:      1024 * 1024,
		cleanPageCache: 16384,
		lockTimeout:    5 * time.Second,
		maxReaders:     4096,
		log:            DiscardLogger{},
	}
}

// DBOption configures DBOptions using the functional options pattern.
type DBOption func(*DBOptions)

// WithSyncEveryCommit fsyncs the redo log on every commit: maximum
// durability, lower throughput.
func WithSyncEveryCommit() DBOption {
	return func(o *DBOptions) { o.syncMode = wal.SyncEveryCommit }
}

// WithSyncBytes fsyncs the redo log once bytesPerSync bytes have
// accumulated since the last sync.
func WithSyncBytes(bytesPerSync int) DBOption {
	return func(o *DBOptions) {
		o.syncMode = wal.SyncBytes
		o.syncBytes = bytesPerSync
	}
}

// WithSyncOff disables fsync entirely. Testing and bulk loads only.
func WithSyncOff() DBOption {
	return func(o *DBOptions) { o.syncMode = wal.SyncOff }
}

// WithCleanPageCache sets the capacity, in pages, of the clean-page LRU
// that sits in front of the storage backend.
func WithCleanPageCache(pages uint32) DBOption {
	return func(o *DBOptions) { o.cleanPageCache = pages }
}

// WithLockTimeout records d in DBOptions. The tree's lock acquisitions do
// not read this setting: they pass a zero timeout and wait without a
// deadline whatever d is.
func WithLockTimeout(d time.Duration) DBOption {
	return func(o *DBOptions) { o.lockTimeout = d }
}

// WithMaxReaders bounds how many concurrent read transactions the reader
// slot table can track at once; Begin fails once it is exhausted.
func WithMaxReaders(n int) DBOption {
	return func(o *DBOptions) { o.maxReaders = n }
}

// WithReplication points the database at a directory for its default
// local-file Replication log. Without this option replication is disabled.
func WithReplication(dir string) DBOption {
	return func(o *DBOptions) { o.replicationDir = dir }
}

// WithLogger installs a Logger; components log only at decision points
// worth an audit trail (checkpoint start/end, large split/merge,
// crash-recovery summaries, lock-timeout diagnostics).
func WithLogger(l Logger) DBOption {
	return func(o *DBOptions) {
		if l != nil {
			o.log = l
		}
	}
}
