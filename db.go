package latchtree

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"latchtree/internal/base"
	"latchtree/internal/freelist"
	"latchtree/internal/locks"
	"latchtree/internal/storage"
	"latchtree/internal/wal"
)

// DB is the top-level handle: one open data file, one redo log, one
// optional replication stream, and the single BTree those collaborators
// back. Mutating transactions serialize through writeMu (single-writer,
// multi-reader, matching the commit lock's shared/exclusive split at the
// tree level); read transactions register in readers so the background
// releaser knows which freed pages are still visible to somebody.
type DB struct {
	path string
	opts DBOptions

	pager    storage.Pager
	cache    *nodeCache
	freelist *freelist.Freelist
	readers  *locks.ReaderSlots

	tree *BTree
	redo *redoLogAdapter
	repl Replication

	metaMu  sync.Mutex
	meta    base.MetaPage
	writeMu sync.Mutex

	nextTxnID atomic.Uint64

	closed   atomic.Bool
	stopC    chan struct{}
	wg       sync.WaitGroup
}

// Open opens or creates the database file at path, replaying its redo log
// before returning a handle ready for transactions.
func Open(path string, options ...DBOption) (*DB, error) {
	opts := DefaultDBOptions()
	for _, opt := range options {
		opt(&opts)
	}

	pager, err := openPager(path, opts.syncMode)
	if err != nil {
		return nil, err
	}

	fresh, err := pager.Empty()
	if err != nil {
		pager.Close()
		return nil, err
	}

	fl := freelist.New()
	db := &DB{
		path:     path,
		opts:     opts,
		pager:    pager,
		freelist: fl,
		readers:  locks.NewReaderSlots(opts.maxReaders),
		stopC:    make(chan struct{}),
	}

	var rootID base.PageID
	if fresh {
		rootID, err = db.bootstrap()
	} else {
		rootID, err = db.loadMeta()
	}
	if err != nil {
		pager.Close()
		return nil, err
	}

	cache, err := newNodeCache(pager, opts.cleanPageCache, fl, base.PageID(db.meta.NumPages))
	if err != nil {
		pager.Close()
		return nil, err
	}
	db.cache = cache

	root, err := cache.getOrLoad(rootID)
	if err != nil {
		pager.Close()
		return nil, err
	}

	redo, err := newRedoLog(path+".wal", opts.syncMode, opts.syncBytes)
	if err != nil {
		pager.Close()
		return nil, err
	}
	db.redo = redo

	var repl Replication
	if opts.replicationDir != "" {
		repl, err = newReplication(opts.replicationDir)
		if err != nil {
			redo.Close()
			pager.Close()
			return nil, err
		}
	}
	db.repl = repl

	blobs := newBlobStore(cache)
	db.tree = NewBTree(0, root, cache, blobs, newCommitLock(), newLockManager(), redo, repl, opts.log)
	db.nextTxnID.Store(db.meta.TxnID + 1)

	if !fresh {
		if err := db.recover(); err != nil {
			redo.Close()
			pager.Close()
			return nil, err
		}
	}

	db.wg.Add(2)
	go db.backgroundCheckpointer()
	go db.backgroundReleaser()

	return db, nil
}

// openPager picks mmap for fsync-off deployments, where durability is
// already given up and the kernel's own write-back is good enough, and
// direct I/O otherwise, so an explicit sync mode actually controls when
// bytes reach the platter instead of racing the page cache.
func openPager(path string, mode wal.SyncMode) (storage.Pager, error) {
	if mode == wal.SyncOff {
		return storage.NewMMap(path)
	}
	return storage.NewDirectIO(path)
}

func (db *DB) bootstrap() (base.PageID, error) {
	root := newNode(1, true)
	root.SetLowExtremity(true)
	root.SetHighExtremity(true)
	rootPage, err := root.Serialize(0)
	if err != nil {
		return 0, err
	}
	if err := db.pager.WritePage(1, rootPage); err != nil {
		return 0, err
	}

	db.meta = base.MetaPage{
		Magic:      base.MagicNumber,
		Version:    base.FormatVersion,
		PageSize:   base.PageSize,
		RootPageID: 1,
		NumPages:   2,
	}
	if err := db.writeMeta(); err != nil {
		return 0, err
	}
	return 1, nil
}

func (db *DB) loadMeta() (base.PageID, error) {
	page, err := db.pager.ReadPage(0)
	if err != nil {
		return 0, err
	}
	meta := page.ReadMeta()
	if err := meta.Validate(); err != nil {
		return 0, err
	}
	db.meta = *meta

	if db.meta.FreelistPages > 0 {
		pages := make([]*base.Page, db.meta.FreelistPages)
		for i := range pages {
			p, err := db.pager.ReadPage(db.meta.FreelistID + base.PageID(i))
			if err != nil {
				return 0, err
			}
			pages[i] = p
		}
		db.freelist.Deserialize(pages)
	}
	return db.meta.RootPageID, nil
}

// writeMeta recomputes the checksum and persists the meta page at page 0.
// Callers must hold metaMu.
func (db *DB) writeMeta() error {
	db.meta.Checksum = db.meta.CalculateChecksum()
	page := &base.Page{}
	page.WriteMeta(&db.meta)
	return db.pager.WritePage(0, page)
}

// recover replays every redo record committed after the meta page's last
// checkpointed transaction, re-applying it to the tree under a fresh
// internal transaction id so a crash between a commit and the next
// checkpoint never loses data.
func (db *DB) recover() error {
	tx := db.newInternalTx()
	defer db.readers.Unregister(tx.slot)

	return db.redo.Replay(db.meta.CheckpointTxnID+1, func(treeID uint64, key, value []byte) error {
		cur := db.tree.NewCursor(tx)
		defer cur.close()
		return cur.storeAt(key, value)
	})
}

func (db *DB) newInternalTx() *Tx {
	id := db.nextTxnID.Add(1)
	slot, _ := db.readers.Register(id)
	return &Tx{db: db, id: id, mode: Exclusive, slot: slot, writable: true}
}

// backgroundCheckpointer periodically flushes dirty nodes and the
// freelist to the main file and truncates the redo log up to the last
// flushed transaction, mirroring the teacher's ticker-driven
// backgroundCheckpointer but without any page-relocation bookkeeping: this
// design keeps one current version of every page in place, so there is
// nothing to relocate for readers that started before the checkpoint.
func (db *DB) backgroundCheckpointer() {
	defer db.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-db.stopC:
			return
		case <-ticker.C:
			if err := db.checkpoint(); err != nil {
				db.opts.log.Error("checkpoint failed", "error", err)
			}
		}
	}
}

func (db *DB) checkpoint() error {
	db.tree.commit.AcquireExclusive()
	defer db.tree.commit.ReleaseExclusive()

	if err := db.cache.FlushAll(); err != nil {
		return err
	}

	db.metaMu.Lock()
	defer db.metaMu.Unlock()

	db.meta.RootPageID = db.tree.Root().id
	db.meta.TxnID = db.nextTxnID.Load() - 1
	db.meta.CheckpointTxnID = db.meta.TxnID
	db.meta.NumPages = uint64(db.cache.nextPageID)

	if err := db.persistFreelist(); err != nil {
		return err
	}
	if err := db.writeMeta(); err != nil {
		return err
	}
	if err := db.pager.Sync(); err != nil {
		return err
	}
	return db.redo.log.Truncate(db.meta.CheckpointTxnID)
}

// persistFreelist writes the freelist to a contiguous run of pages,
// allocating a fresh run past the current end of the file on every call
// so a crash mid-write never tears the list the previous meta page
// points at.
func (db *DB) persistFreelist() error {
	n := db.freelist.PagesNeeded()
	db.cache.mu.Lock()
	firstID := db.cache.nextPageID
	db.cache.nextPageID += base.PageID(n)
	db.cache.mu.Unlock()

	pages := make([]*base.Page, n)
	for i := range pages {
		pages[i] = &base.Page{}
	}
	db.freelist.Serialize(pages)
	for i, p := range pages {
		if err := db.pager.WritePage(firstID+base.PageID(i), p); err != nil {
			return err
		}
	}
	db.meta.FreelistID = firstID
	db.meta.FreelistPages = uint64(n)
	db.meta.NumPages = uint64(firstID) + uint64(n)
	return nil
}

// backgroundReleaser moves pages freed by committed transactions out of
// the pending set once no active reader could still be looking at them.
func (db *DB) backgroundReleaser() {
	defer db.wg.Done()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-db.stopC:
			return
		case <-ticker.C:
			db.freelist.Release(db.readers.GetMinTxID())
		}
	}
}

// Tx is a bound transaction handle satisfying the root Txn interface.
type Tx struct {
	db       *DB
	id       uint64
	mode     LockMode
	slot     int
	writable bool
	done     bool
}

func (tx *Tx) ID() uint64     { return tx.id }
func (tx *Tx) Mode() LockMode { return tx.mode }

// Begin starts a transaction. Writable transactions serialize against
// every other writer; read-only transactions register a reader slot so
// the background releaser knows not to reclaim pages they might still
// see.
func (db *DB) Begin(writable bool) (*Tx, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}

	if writable {
		db.writeMu.Lock()
	}

	id := db.nextTxnID.Add(1)
	slot, err := db.readers.Register(id)
	if err != nil {
		if writable {
			db.writeMu.Unlock()
		}
		if err == locks.ErrTooManyReaders {
			err = ErrTooManyReaders
		}
		return nil, err
	}

	mode := RepeatableRead
	if writable {
		mode = Exclusive
	}
	return &Tx{db: db, id: id, mode: mode, slot: slot, writable: writable}, nil
}

// Cursor opens a cursor bound to tx over the database's sole tree.
func (tx *Tx) Cursor() *Cursor { return tx.db.tree.NewCursor(tx) }

// Get returns the value stored for key, or ErrKeyNotFound.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	c := tx.Cursor()
	defer c.close()
	if err := c.Find(key); err != nil {
		return nil, err
	}
	if c.Value() == nil {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(c.Value()), nil
}

// Set stores value for key, returning the previous value if any.
func (tx *Tx) Set(key, value []byte) ([]byte, error) {
	if !tx.writable {
		return nil, ErrTxNotWritable
	}
	c := tx.Cursor()
	defer c.close()
	return c.FindAndStore(key, value)
}

// Delete removes key, a no-op if it is already absent.
func (tx *Tx) Delete(key []byte) error {
	if !tx.writable {
		return ErrTxNotWritable
	}
	c := tx.Cursor()
	defer c.close()
	if err := c.Find(key); err != nil {
		return err
	}
	if c.Value() == nil {
		return nil
	}
	return c.DeleteGhost()
}

// Commit releases the transaction's locks and reader slot. Writers also
// release the single-writer admission lock.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.db.readers.Unregister(tx.slot)
	if tx.writable {
		tx.db.writeMu.Unlock()
	}
	return nil
}

// Rollback is Commit's synonym: structural mutations in this design take
// effect immediately under latch coupling rather than buffering until
// commit, so there is nothing to undo beyond releasing admission.
func (tx *Tx) Rollback() error { return tx.Commit() }

// View runs fn inside a read-only transaction, always releasing it
// afterward regardless of fn's outcome.
func (db *DB) View(fn func(*Tx) error) error {
	tx, err := db.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Commit()
	return fn(tx)
}

// Update runs fn inside a writable transaction, always releasing it
// afterward regardless of fn's outcome.
func (db *DB) Update(fn func(*Tx) error) error {
	tx, err := db.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Commit()
	return fn(tx)
}

// Close stops background goroutines, flushes every dirty page, and
// releases the file handles. Close is idempotent.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	close(db.stopC)
	db.wg.Wait()

	if err := db.checkpoint(); err != nil {
		return err
	}
	if err := db.redo.Close(); err != nil {
		return err
	}
	if db.repl != nil {
		if closer, ok := db.repl.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				return err
			}
		}
	}
	return db.pager.Close()
}
