package latchtree

import (
	"errors"
	"sync"

	"latchtree/internal/base"
)

// errRetrySplit signals that finishSplitShared could not upgrade its
// shared latch to exclusive without blocking. Per the coupling discipline,
// a reader that cannot upgrade releases and retries the whole operation
// from its starting point rather than waiting on the writer.
var errRetrySplit = errors.New("latchtree: split upgrade contended, retry")

// BTree is the root holder and structural-change coordinator: it finishes
// splits and merges, marks nodes dirty, and mediates with the buffer
// cache and commit lock. One BTree instance corresponds to one logical
// tree (keyed by ID for the lock manager's (treeID, key) hashing).
type BTree struct {
	id uint64

	rootMu sync.Mutex
	root   *Node

	cache  NodeLoader
	blobs  BlobStore
	commit CommitLock
	locks  LockManager
	redo   RedoLog
	repl   Replication
	log    Logger
}

// NewBTree wires a tree over its external collaborators and an existing
// or freshly allocated root node. blobs may be nil, in which case values
// at or above base.OverflowThreshold are rejected rather than fragmented.
func NewBTree(id uint64, root *Node, cache NodeLoader, blobs BlobStore, commit CommitLock, locks LockManager, redo RedoLog, repl Replication, log Logger) *BTree {
	if log == nil {
		log = DiscardLogger{}
	}
	root.SetLowExtremity(true)
	root.SetHighExtremity(true)
	return &BTree{id: id, root: root, cache: cache, blobs: blobs, commit: commit, locks: locks, redo: redo, repl: repl, log: log}
}

// Root returns the tree's current root node pointer. Callers must latch
// it themselves before inspecting or descending from it; the pointer can
// change out from under an unlatched caller after a root split/collapse.
func (t *BTree) Root() *Node {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	return t.root
}

func (t *BTree) setRoot(n *Node) {
	t.rootMu.Lock()
	t.root = n
	t.rootMu.Unlock()
}

// markDirty delegates to the buffer cache, recording this node as part of
// the current checkpoint's dirty set.
func (t *BTree) markDirty(node *Node) error {
	if !t.cache.ShouldMarkDirty(node) {
		return nil
	}
	return t.cache.MarkDirty(t, node)
}

// finishSplit promotes a node's pending separator into its parent,
// recursing (as an explicit loop, per the design notes) up through
// however many ancestor splits cascade from the insert. frame identifies
// node's position in the current cursor's frame stack.
func (t *BTree) finishSplit(frame *CursorFrame, node *Node) (*Node, error) {
	for node.split != nil {
		split := node.split
		parentFrame := frame.parentFrame

		if parentFrame == nil {
			newRoot, err := t.splitRoot(node, split)
			if err != nil {
				return nil, err
			}
			frame.parentFrame = newCursorFrame(nil)
			frame.parentFrame.bind(newRoot, 0)
			return node, nil
		}

		parent := parentFrame.node
		if parent == nil {
			parent = t.reacquireFrameNode(parentFrame)
		}
		if !parent.latch.TryAcquireExclusive() {
			node.latch.ReleaseExclusive()
			parent.latch.AcquireExclusive()
			node.latch.AcquireExclusive()
			if node.split != split {
				// Raced with another finisher; loop and re-evaluate.
				parent.latch.ReleaseExclusive()
				continue
			}
		}

		childPos := parent.ChildIndexForPos(parentFrame.nodePos)
		if err := t.insertSplitChildRef(parent, childPos, split); err != nil {
			parent.latch.ReleaseExclusive()
			return nil, err
		}
		node.split = nil

		if parent.IsFull(nil, nil) || parent.split != nil {
			// insertSplitChildRef may have overflowed the parent itself;
			// continue the loop one level up with parent as the new node.
			node = parent
			frame = parentFrame
			continue
		}

		parent.latch.ReleaseExclusive()
		return node, nil
	}
	return node, nil
}

// finishSplitShared upgrades a shared latch to exclusive long enough to
// finish a pending split, then downgrades back to shared. If the upgrade
// is contended, it releases the shared latch and returns errRetrySplit
// rather than blocking on the writer; callers must release whatever else
// they hold and retry the whole operation from its starting point.
func (t *BTree) finishSplitShared(frame *CursorFrame, node *Node) (*Node, error) {
	if node.split == nil {
		return node, nil
	}
	if !node.latch.TryUpgrade() {
		node.latch.ReleaseShared()
		return nil, errRetrySplit
	}
	result, err := t.finishSplit(frame, node)
	if err != nil {
		result.latch.ReleaseExclusive()
		return nil, err
	}
	result.latch.Downgrade()
	return result, nil
}

// splitRoot allocates a new root with two children, promoting the old
// root (now split) and its fresh sibling underneath it.
func (t *BTree) splitRoot(node *Node, split *Split) (*Node, error) {
	newRoot, err := t.cache.Allocate(false)
	if err != nil {
		return nil, err
	}
	newRoot.latch.AcquireExclusive()
	defer newRoot.latch.ReleaseExclusive()

	sibling := split.sibling
	var left, right *Node
	if split.splitRight {
		left, right = node, sibling
	} else {
		left, right = sibling, node
	}

	newRoot.keys = [][]byte{cloneBytes(split.key.FullKey())}
	newRoot.children = []base.PageID{left.id, right.id}
	newRoot.SetLowExtremity(true)
	newRoot.SetHighExtremity(true)
	newRoot.SetBottomInternal(node.IsLeaf())

	left.SetHighExtremity(false)
	right.SetLowExtremity(false)

	if err := t.cache.MarkDirty(t, newRoot); err != nil {
		return nil, err
	}
	node.split = nil
	t.setRoot(newRoot)
	t.log.Info("root split", "tree", t.id, "newRoot", newRoot.id)
	return newRoot, nil
}

// insertSplitChildRef inserts a promoted separator into parent at
// childPos, possibly overflowing parent into its own split.
func (t *BTree) insertSplitChildRef(parent *Node, childPos int, split *Split) error {
	keyIdx := childPos - 1
	if keyIdx < 0 {
		keyIdx = 0
	}

	sep := cloneBytes(split.key.Bytes())
	sibling := split.sibling

	if parent.IsFull(sep, nil) {
		return t.splitInternal(parent, keyIdx, sep, sibling.id)
	}

	parent.insertSeparatorAt(keyIdx, sep, sibling.id)
	return t.markDirty(parent)
}

// splitInternal splits an overflowing internal node, balancing the
// existing entries plus the one being inserted across original/sibling.
func (t *BTree) splitInternal(node *Node, insertIdx int, insertKey []byte, insertChild base.PageID) error {
	allKeys := make([][]byte, 0, len(node.keys)+1)
	allChildren := make([]base.PageID, 0, len(node.children)+1)
	allChildren = append(allChildren, node.children[0])
	for i, k := range node.keys {
		if i == insertIdx {
			allKeys = append(allKeys, insertKey)
			allChildren = append(allChildren, insertChild)
		}
		allKeys = append(allKeys, k)
		allChildren = append(allChildren, node.children[i+1])
	}
	if insertIdx >= len(node.keys) {
		allKeys = append(allKeys, insertKey)
		allChildren = append(allChildren, insertChild)
	}

	mid := len(allKeys) / 2
	sepKey := allKeys[mid]

	sibling, err := t.cache.Allocate(false)
	if err != nil {
		return err
	}
	sibling.SetBottomInternal(node.IsBottomInternal())
	sibling.keys = allKeys[mid+1:]
	sibling.children = allChildren[mid+1:]
	sibling.SetHighExtremity(node.IsHighExtremity())
	node.SetHighExtremity(false)

	node.keys = allKeys[:mid]
	node.children = allChildren[:mid+1]

	if err := t.cache.MarkDirty(t, sibling); err != nil {
		return err
	}
	node.split = newSplit(true, sibling, InlineSeparator(sepKey))
	return t.markDirty(node)
}

// notSplitDirty finishes any pending split on the leaf, marks it dirty,
// and walks upward ensuring every ancestor is already dirty or is
// dirtied before returning, per §5.6 step 2.
func (t *BTree) notSplitDirty(frame *CursorFrame) (*Node, error) {
	node := frame.node
	node, err := t.finishSplit(frame, node)
	if err != nil {
		return nil, err
	}
	if err := t.markDirty(node); err != nil {
		return nil, err
	}

	for pf := frame.parentFrame; pf != nil; pf = pf.parentFrame {
		parent := pf.node
		if parent == nil {
			break
		}
		parent.latch.AcquireExclusive()
		if parent.split != nil {
			var ferr error
			parent, ferr = t.finishSplit(pf, parent)
			if ferr != nil {
				parent.latch.ReleaseExclusive()
				return nil, ferr
			}
		}
		dirty := t.cache.ShouldMarkDirty(parent)
		if dirty {
			if err := t.cache.MarkDirty(t, parent); err != nil {
				parent.latch.ReleaseExclusive()
				return nil, err
			}
		}
		parent.latch.ReleaseExclusive()
		if !dirty {
			break
		}
	}

	return node, nil
}

// reacquireFrameNode handles the rare case where a parent frame's node
// pointer was cleared by a concurrent unbind; it re-descends from the
// tree root using the frame's own stack of positions is not possible
// without the original key, so this is a last-resort panic guard: the
// caller is expected to have kept the ancestor latched across the
// mutation that triggered finishSplit, making this path unreachable in
// the supported call pattern.
func (t *BTree) reacquireFrameNode(frame *CursorFrame) *Node {
	panic("latchtree: lost parent frame during finishSplit")
}

// deleteNode removes an emptied, dirty node from the tree's bookkeeping.
// The node must already be unlinked from its parent by the caller.
func (t *BTree) deleteNode(node *Node) error {
	t.cache.PrepareToDelete(node)
	return t.cache.DeleteNode(node)
}

// descendLeftmostExclusiveFrom follows child[0] at every level below an
// already exclusively-latched node, building a fresh exclusively-latched
// frame stack, finishing any split it crosses since a write descent
// needs every ancestor reference settled. Used by DeleteAll to resume
// deletion at the new leftmost leaf after a cascade collapses one or
// more ancestors.
func (t *BTree) descendLeftmostExclusiveFrom(frame *CursorFrame, node *Node) (*CursorFrame, error) {
	for {
		if node.split != nil {
			var err error
			node, err = t.finishSplit(frame, node)
			if err != nil {
				return nil, err
			}
		}
		if node.IsLeaf() {
			frame.bind(node, 0)
			return frame, nil
		}
		frame.bind(node, 0)
		childID := node.children[0]
		child, err := t.cache.LoadChild(node, childID, LoadOptions{Shared: false, ReleaseParent: true})
		if err != nil {
			return nil, err
		}
		frame = newCursorFrame(frame)
		node = child
	}
}

// cascadeDeleteEmptyNode removes an already-emptied, exclusively latched
// node from the tree, walking upward through however many ancestors also
// become empty as a result, and returns the leaf frame (exclusively
// latched) the caller should resume deleting from, or nil if the tree is
// now completely empty.
func (t *BTree) cascadeDeleteEmptyNode(frame *CursorFrame, node *Node) (*CursorFrame, error) {
	for {
		parentFrame := frame.parentFrame
		if parentFrame == nil {
			// node is the root: trim it in place instead of deleting the
			// page, leaving an empty tree rather than no tree at all.
			node.keys = nil
			node.values = nil
			node.children = nil
			node.invalidateEntryCount()
			err := t.markDirty(node)
			node.latch.ReleaseExclusive()
			return nil, err
		}

		if err := t.deleteNode(node); err != nil {
			node.latch.ReleaseExclusive()
			return nil, err
		}
		node.latch.ReleaseExclusive()
		frame.unbind()

		parent := parentFrame.node
		parent.latch.AcquireExclusive()
		parent.keys = parent.keys[1:]
		parent.children = parent.children[1:]

		if len(parent.children) == 0 {
			// Parent itself is now childless; cascade up one more level.
			node = parent
			frame = parentFrame
			continue
		}

		if err := t.markDirty(parent); err != nil {
			parent.latch.ReleaseExclusive()
			return nil, err
		}

		nextID := parent.children[0]
		next, err := t.cache.LoadChild(parent, nextID, LoadOptions{Shared: false, ReleaseParent: true})
		if err != nil {
			return nil, err
		}
		next.SetLowExtremity(true)
		return t.descendLeftmostExclusiveFrom(newCursorFrame(parentFrame), next)
	}
}

// rootDelete collapses a tree level when the root has been reduced to a
// single child with no keys of its own (the result of an internal merge
// emptying every separator at the top level).
func (t *BTree) rootDelete(root *Node, onlyChild *Node) error {
	root.keys = onlyChild.keys
	root.values = onlyChild.values
	root.children = onlyChild.children
	root.setFlag(flagLeaf, onlyChild.IsLeaf())
	root.SetBottomInternal(onlyChild.IsBottomInternal())
	root.SetLowExtremity(true)
	root.SetHighExtremity(true)
	root.split = onlyChild.split

	for f := onlyChild.lastCursorFrame; f != nil; {
		next := f.nextCousin
		f.rebind(root, f.nodePos)
		f = next
	}

	if err := t.markDirty(root); err != nil {
		return err
	}
	return t.deleteNode(onlyChild)
}
