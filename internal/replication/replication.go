// Package replication provides the default local-file Replication
// collaborator: a single-writer, append-only log addressed by byte
// position, with Confirm/SyncConfirm blocking callers until a position has
// been made durable. There is no corpus file this is ported from — the
// core's Replication interface has no direct analogue in the teacher, so
// this is built straight from that interface, styled after internal/wal's
// offset bookkeeping and internal/redo's position-wait convention.
package replication

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

// ErrLeadershipLost is returned by Read when the log has been Flip'd away
// from leader mode mid-read.
var ErrLeadershipLost = errors.New("replication: leadership lost")

// File is the default Replication implementation: a local file standing in
// for a replicated log. It never talks to a peer; Confirm is satisfied the
// moment a position has been fsynced locally.
type File struct {
	path string
	file *os.File

	mu        sync.Mutex
	cond      *sync.Cond
	writePos  int64
	readPos   int64
	confirmed int64
	leader    bool
}

// Open creates or reopens a replication log at path, starting as leader.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r := &File{path: path, file: f, writePos: info.Size(), leader: true}
	r.cond = sync.NewCond(&r.mu)
	return r, nil
}

// Start seeks the log to position and resumes accepting writes there,
// called when a node is promoted to leader at a known log position.
func (r *File) Start(position int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.file.Seek(position, io.SeekStart); err != nil {
		return err
	}
	r.writePos = position
	r.leader = true
	return nil
}

// Recover replays every byte from the start of the log to listener,
// used by a freshly-promoted leader to catch its in-memory state up.
func (r *File) Recover(listener func([]byte) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, 64*1024)
	for {
		n, err := r.file.Read(buf)
		if n > 0 {
			if lerr := listener(buf[:n]); lerr != nil {
				return lerr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	_, err := r.file.Seek(r.writePos, io.SeekStart)
	return err
}

// ReadPosition returns the position a follower has consumed up to.
func (r *File) ReadPosition() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readPos
}

// WritePosition returns the position the leader has written up to.
func (r *File) WritePosition() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writePos
}

// Read reads length bytes starting at off into buf, returning -1 if
// leadership was lost since the caller began following.
func (r *File) Read(buf []byte, off, length int) (int, error) {
	r.mu.Lock()
	if !r.leader {
		r.mu.Unlock()
		return -1, ErrLeadershipLost
	}
	r.mu.Unlock()

	n, err := r.file.ReadAt(buf[:length], int64(off))
	if err != nil && err != io.EOF {
		return 0, err
	}

	r.mu.Lock()
	r.readPos = int64(off + n)
	r.mu.Unlock()
	return n, nil
}

// Flip demotes this log from leader to follower, used on a leadership
// change; in-flight Read calls observe ErrLeadershipLost.
func (r *File) Flip() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leader = false
	r.cond.Broadcast()
	return nil
}

// Write appends length bytes from buf at the log's current write position.
func (r *File) Write(buf []byte, off, length int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.file.WriteAt(buf[off:off+length], r.writePos)
	if err != nil {
		return 0, err
	}
	r.writePos += int64(n)
	return n, nil
}

// Commit fsyncs the log and returns the position now confirmed durable.
func (r *File) Commit() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.file.Sync(); err != nil {
		return 0, err
	}
	r.confirmed = r.writePos
	r.cond.Broadcast()
	return r.confirmed, nil
}

// Confirm blocks until position has been confirmed durable or timeout
// elapses (a negative timeout means wait indefinitely).
func (r *File) Confirm(position int64, timeout time.Duration) error {
	return r.waitConfirmed(position, timeout)
}

// SyncConfirm is Confirm plus an explicit fsync first, for callers that
// need the confirmation to reflect a write they just made themselves.
func (r *File) SyncConfirm(position int64, timeout time.Duration) error {
	if err := r.Sync(); err != nil {
		return err
	}
	return r.waitConfirmed(position, timeout)
}

func (r *File) waitConfirmed(position int64, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timeout < 0 {
		for r.confirmed < position {
			r.cond.Wait()
		}
		return nil
	}

	deadline := time.Now().Add(timeout)
	for r.confirmed < position {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errTimeout
		}
		timer := time.AfterFunc(remaining, r.cond.Broadcast)
		r.cond.Wait()
		timer.Stop()
	}
	return nil
}

var errTimeout = errors.New("replication: confirm timed out")

// Sync unconditionally fsyncs the log.
func (r *File) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Sync()
}

// Close closes the underlying log file.
func (r *File) Close() error {
	return r.file.Close()
}
