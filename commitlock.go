package latchtree

import "sync"

// rwCommitLock is the default CommitLock: structural mutations (splits,
// merges, inserts, deletes) take it shared; checkpoints and shutdown take
// it exclusive to get a consistent snapshot of the dirty set.
type rwCommitLock struct {
	mu sync.RWMutex
}

func newCommitLock() CommitLock { return &rwCommitLock{} }

func (l *rwCommitLock) TryAcquireShared() bool {
	return l.mu.TryRLock()
}

func (l *rwCommitLock) AcquireShared() { l.mu.RLock() }

func (l *rwCommitLock) ReleaseShared() { l.mu.RUnlock() }

func (l *rwCommitLock) AcquireExclusive() { l.mu.Lock() }

func (l *rwCommitLock) ReleaseExclusive() { l.mu.Unlock() }
