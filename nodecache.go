package latchtree

import (
	"sync"
	"sync/atomic"

	"latchtree/internal/base"
	"latchtree/internal/blob"
	"latchtree/internal/cache"
	"latchtree/internal/freelist"
	"latchtree/internal/storage"
)

// nodeCache is the default NodeLoader: a live map of instantiated Nodes
// backed by a bounded go-freelru ring of clean, already-serialized pages,
// a free-page allocator, and a raw page store. The coordination used to
// avoid duplicate concurrent disk loads of the same page mirrors the
// teacher's GetOrLoad idiom, simplified from per-transaction versions down
// to a single current version per page id, matching the in-place mutation
// design.
type nodeCache struct {
	pager    storage.Pager
	pages    *cache.PageCache
	freelist *freelist.Freelist

	mu         sync.Mutex
	nextPageID base.PageID

	nodes      sync.Map // base.PageID -> *Node, every resident node (clean or dirty)
	dirty      sync.Map // base.PageID -> *Node, subset of nodes awaiting checkpoint
	loadStates sync.Map // base.PageID -> *loadState, in-flight disk loads

	allocated atomic.Uint64
}

type loadState struct {
	done chan struct{}
	node *Node
	err  error
}

// newNodeCache wires a NodeLoader over pager, with a clean-page cache sized
// to hold cleanPageCapacity pages.
func newNodeCache(pager storage.Pager, cleanPageCapacity uint32, fl *freelist.Freelist, nextPageID base.PageID) (*nodeCache, error) {
	pages, err := cache.New(cleanPageCapacity)
	if err != nil {
		return nil, err
	}
	return &nodeCache{
		pager:      pager,
		pages:      pages,
		freelist:   fl,
		nextPageID: nextPageID,
	}, nil
}

func (c *nodeCache) NodeMapGet(id base.PageID) (*Node, bool) {
	v, ok := c.nodes.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Node), true
}

func (c *nodeCache) LoadChild(parent *Node, childID base.PageID, opts LoadOptions) (*Node, error) {
	node, err := c.getOrLoad(childID)
	if err != nil {
		if opts.ReleaseParent {
			if opts.Shared {
				parent.latch.ReleaseShared()
			} else {
				parent.latch.ReleaseExclusive()
			}
		}
		return nil, err
	}

	if opts.Shared {
		node.latch.AcquireShared()
	} else {
		node.latch.AcquireExclusive()
	}

	if opts.ReleaseParent {
		if opts.Shared {
			parent.latch.ReleaseShared()
		} else {
			parent.latch.ReleaseExclusive()
		}
	}

	return node, nil
}

func (c *nodeCache) getOrLoad(id base.PageID) (*Node, error) {
	if v, ok := c.nodes.Load(id); ok {
		return v.(*Node), nil
	}

	stateVal, loaded := c.loadStates.LoadOrStore(id, &loadState{done: make(chan struct{})})
	state := stateVal.(*loadState)
	if loaded {
		<-state.done
		return state.node, state.err
	}
	defer c.loadStates.Delete(id)
	defer close(state.done)

	page, ok := c.pages.Get(id)
	if !ok {
		var err error
		page, err = c.pager.ReadPage(id)
		if err != nil {
			state.err = err
			return nil, err
		}
		c.pages.Add(id, page)
	}

	node, err := Deserialize(page)
	if err != nil {
		state.err = err
		return nil, err
	}

	actual, _ := c.nodes.LoadOrStore(id, node)
	state.node = actual.(*Node)
	return state.node, nil
}

func (c *nodeCache) Allocate(leaf bool) (*Node, error) {
	c.mu.Lock()
	id := c.freelist.Allocate()
	if id == 0 {
		id = c.nextPageID
		c.nextPageID++
	}
	c.mu.Unlock()

	node := newNode(id, leaf)
	node.cachedState = stateDirtyA
	c.nodes.Store(id, node)
	c.dirty.Store(id, node)
	c.allocated.Add(1)
	return node, nil
}

func (c *nodeCache) MarkDirty(tree *BTree, node *Node) error {
	if node.cachedState == stateClean {
		node.cachedState = stateDirtyA
	}
	c.dirty.Store(node.id, node)
	return nil
}

func (c *nodeCache) ShouldMarkDirty(node *Node) bool {
	return node.cachedState == stateClean
}

func (c *nodeCache) PrepareToDelete(node *Node) {
	c.dirty.Delete(node.id)
}

func (c *nodeCache) DeleteNode(node *Node) error {
	c.nodes.Delete(node.id)
	c.pages.Remove(node.id)
	c.mu.Lock()
	c.freelist.Free(node.id)
	c.mu.Unlock()
	return nil
}

// Flush serializes and writes a single dirty node to disk, then marks it
// clean and seeds the page cache with the freshly written bytes.
func (c *nodeCache) Flush(node *Node) error {
	page, err := node.Serialize(0)
	if err != nil {
		return err
	}
	if err := c.pager.WritePage(node.id, page); err != nil {
		return err
	}
	node.cachedState = stateClean
	c.dirty.Delete(node.id)
	c.pages.Add(node.id, page)
	return nil
}

// FlushAll flushes every currently dirty node, used by the checkpointer.
func (c *nodeCache) FlushAll() error {
	var firstErr error
	c.dirty.Range(func(_, v interface{}) bool {
		node := v.(*Node)
		node.latch.AcquireShared()
		err := c.Flush(node)
		node.latch.ReleaseShared()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// blobStore adapts nodeCache's raw page allocator to internal/blob's
// PageStore, letting fragmented values share the same free-page pool as
// tree nodes instead of a separate overflow allocator.
type blobStore struct{ c *nodeCache }

func (b blobStore) Allocate() (base.PageID, error) {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	id := b.c.freelist.Allocate()
	if id == 0 {
		id = b.c.nextPageID
		b.c.nextPageID++
	}
	return id, nil
}

func (b blobStore) Free(id base.PageID) {
	b.c.mu.Lock()
	b.c.freelist.Free(id)
	b.c.mu.Unlock()
	b.c.pages.Remove(id)
}

func (b blobStore) Write(id base.PageID, page *base.Page) error {
	if err := b.c.pager.WritePage(id, page); err != nil {
		return err
	}
	b.c.pages.Add(id, page)
	return nil
}

func (b blobStore) Read(id base.PageID) (*base.Page, error) {
	if page, ok := b.c.pages.Get(id); ok {
		return page, nil
	}
	page, err := b.c.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	b.c.pages.Add(id, page)
	return page, nil
}

// blobStoreAdapter satisfies BlobStore by delegating to internal/blob over
// the same page pool as the node cache.
type blobStoreAdapter struct{ c *nodeCache }

// newBlobStore wires the default BlobStore implementation over cache.
func newBlobStore(cache *nodeCache) BlobStore { return blobStoreAdapter{c: cache} }

func (a blobStoreAdapter) Store(txnID uint64, value []byte) (base.PageID, error) {
	return blob.Store(blobStore{c: a.c}, txnID, value)
}

func (a blobStoreAdapter) Load(firstID base.PageID, totalSize int) ([]byte, error) {
	return blob.Load(blobStore{c: a.c}, firstID, totalSize)
}

func (a blobStoreAdapter) Free(firstID base.PageID) error {
	return blob.FreeChain(blobStore{c: a.c}, firstID)
}
