package latchtree

import (
	"bytes"
	"math/rand"
)

// Cursor is a traversal and mutation handle into a BTree. A zero Cursor is
// not usable; obtain one via BTree.NewCursor. Cursors are not safe for
// concurrent use by multiple goroutines.
//
// leaf anchors the bottom of the current frame stack; ancestor frames are
// reached via leaf.parentFrame up to a root frame with parentFrame == nil.
// A Cursor with leaf == nil is unpositioned.
type Cursor struct {
	tree *BTree
	txn  Txn

	leaf *CursorFrame

	key     []byte
	value   []byte
	keyHash uint64

	// keyOnly suppresses value loading; set by callers that only need
	// key order (e.g. Compact, Verify).
	keyOnly bool
}

// NewCursor opens a new, unpositioned cursor over the tree under txn. A nil
// txn is permitted for lock-free/snapshot reads.
func (t *BTree) NewCursor(txn Txn) *Cursor {
	return &Cursor{tree: t, txn: txn}
}

// Key returns the cursor's current key, or nil if unpositioned.
func (c *Cursor) Key() []byte { return c.key }

// Value returns the cursor's current value. It may be NotLoaded if the
// cursor was positioned without copying the value out.
func (c *Cursor) Value() []byte { return c.value }

// reset unbinds every frame in the stack and clears position state.
func (c *Cursor) reset() {
	for f := c.leaf; f != nil; {
		parent := f.parentFrame
		f.unbind()
		f = parent
	}
	c.leaf = nil
	c.key = nil
	c.value = nil
}

// close releases all resources held by the cursor. A closed cursor must not
// be reused.
func (c *Cursor) close() {
	c.reset()
	c.tree = nil
	c.txn = nil
}

// height returns the number of frames currently in the stack, 0 if unpositioned.
func (c *Cursor) height() int {
	n := 0
	for f := c.leaf; f != nil; f = f.parentFrame {
		n++
	}
	return n
}

// descend walks from the root to the leaf that would contain key, building
// a fresh frame stack in c.leaf. exclusive controls whether leaf-level (and
// any split-finishing) latches are acquired exclusively or shared; internal
// node latches are always released once the next level down is secured,
// per the coupling discipline of §5.1.
func (c *Cursor) descend(key []byte, exclusive bool) error {
	for {
		err := c.descendOnce(key, exclusive)
		if err == errRetrySplit {
			continue
		}
		return err
	}
}

// descendOnce is descend's single-attempt body. A shared-latch descent
// that finds an internal node split continues through it via
// Split.selectChild rather than finishing the split, per the lock-free
// continuation the coupling discipline allows readers; a split leaf is
// searched with Split.binarySearchLeaf and the split is finished
// immediately, since a leaf position must name a single settled node. An
// exclusive-latch (write) descent always finishes splits it crosses,
// since it is about to mutate and needs the parent reference settled.
func (c *Cursor) descendOnce(key []byte, exclusive bool) error {
	c.reset()

	node := c.tree.Root()
	if exclusive {
		node.latch.AcquireExclusive()
	} else {
		node.latch.AcquireShared()
	}

	return c.descendFrom(newCursorFrame(nil), node, key, exclusive)
}

// descendFrom runs descendOnce's inner search loop starting from an
// already-shared-or-exclusively-latched node and an already-allocated
// frame for it, rather than always starting at the root. FindNearby uses
// this to resume descent from an ancestor frame still on the cursor's
// stack instead of paying for a fresh root descent.
func (c *Cursor) descendFrom(frame *CursorFrame, node *Node, key []byte, exclusive bool) error {
	for {
		if node.split != nil {
			if exclusive {
				var err error
				node, err = c.tree.finishSplit(frame, node)
				if err != nil {
					return err
				}
			} else if node.IsLeaf() {
				split := node.split
				pos := split.binarySearchLeaf(node, key)
				frame.bind(node, pos)
				if pos < 0 {
					frame.notFoundKey = cloneBytes(key)
				}
				// Move the frame onto whichever physical half actually
				// holds the position binarySearchLeaf computed, using the
				// same merged-position convention rebindFrame expects.
				split.sibling.latch.AcquireExclusive()
				split.rebindFrame(frame, split.sibling)
				split.sibling.latch.ReleaseExclusive()
				if _, err := c.tree.finishSplitShared(frame, node); err != nil {
					return err
				}
				c.leaf = frame
				return nil
			} else {
				selected, mergedPos := node.split.selectChild(node, key)
				frame.bind(node, mergedPos)
				childPos := selected.ChildIndexForPos(selected.BinarySearch(key))
				childID := selected.children[childPos]
				child, err := c.tree.cache.LoadChild(selected, childID, LoadOptions{Shared: true, ReleaseParent: true})
				if err != nil {
					return err
				}
				node = child
				frame = newCursorFrame(frame)
				continue
			}
		}

		pos := node.BinarySearch(key)

		if node.IsLeaf() {
			frame.bind(node, pos)
			if pos < 0 {
				frame.notFoundKey = cloneBytes(key)
			}
			c.leaf = frame
			return nil
		}

		frame.bind(node, pos)
		childPos := node.ChildIndexForPos(pos)
		childID := node.children[childPos]

		child, err := c.tree.cache.LoadChild(node, childID, LoadOptions{Shared: !exclusive, ReleaseParent: true})
		if err != nil {
			return err
		}

		node = child
		frame = newCursorFrame(frame)
	}
}

// descendLeftmost and descendRightmost are the First/Last equivalents of
// descend: they follow child[0] or child[len-1] at every level instead of
// comparing against a search key.
func (c *Cursor) descendLeftmost(exclusive bool) error {
	for {
		err := c.descendLeftmostOnce(exclusive)
		if err == errRetrySplit {
			continue
		}
		return err
	}
}

func (c *Cursor) descendLeftmostOnce(exclusive bool) error {
	c.reset()
	node := c.tree.Root()
	if exclusive {
		node.latch.AcquireExclusive()
	} else {
		node.latch.AcquireShared()
	}
	frame := newCursorFrame(nil)
	for {
		if node.split != nil {
			if exclusive {
				var err error
				node, err = c.tree.finishSplit(frame, node)
				if err != nil {
					return err
				}
			} else if !node.split.splitRight {
				// The sibling holds the lower half; the leftmost entry
				// moved there without needing to finish the split.
				sibling := node.split.latchSibling()
				node.latch.ReleaseShared()
				node = sibling
			}
		}
		if node.IsLeaf() {
			pos := 0
			if len(node.keys) == 0 {
				pos = ^0
			}
			frame.bind(node, pos)
			c.leaf = frame
			return nil
		}
		frame.bind(node, 0)
		childID := node.children[0]
		child, err := c.tree.cache.LoadChild(node, childID, LoadOptions{Shared: !exclusive, ReleaseParent: true})
		if err != nil {
			return err
		}
		node = child
		frame = newCursorFrame(frame)
	}
}

func (c *Cursor) descendRightmost(exclusive bool) error {
	for {
		err := c.descendRightmostOnce(exclusive)
		if err == errRetrySplit {
			continue
		}
		return err
	}
}

func (c *Cursor) descendRightmostOnce(exclusive bool) error {
	c.reset()
	node := c.tree.Root()
	if exclusive {
		node.latch.AcquireExclusive()
	} else {
		node.latch.AcquireShared()
	}
	frame := newCursorFrame(nil)
	for {
		if node.split != nil {
			if exclusive {
				var err error
				node, err = c.tree.finishSplit(frame, node)
				if err != nil {
					return err
				}
			} else if node.split.splitRight {
				// The sibling holds the upper half; the rightmost entry
				// moved there without needing to finish the split.
				sibling := node.split.latchSibling()
				node.latch.ReleaseShared()
				node = sibling
			}
		}
		last := len(node.keys) - 1
		if node.IsLeaf() {
			pos := last << 1
			if last < 0 {
				pos = ^0
			}
			frame.bind(node, pos)
			c.leaf = frame
			return nil
		}
		childPos := len(node.children) - 1
		frame.bind(node, last<<1)
		childID := node.children[childPos]
		child, err := c.tree.cache.LoadChild(node, childID, LoadOptions{Shared: !exclusive, ReleaseParent: true})
		if err != nil {
			return err
		}
		node = child
		frame = newCursorFrame(frame)
	}
}

// First positions the cursor at the tree's lowest key.
func (c *Cursor) First() error { return c.toFirst() }

func (c *Cursor) toFirst() error {
	if err := c.descendLeftmost(false); err != nil {
		return err
	}
	return c.skipEmptyForward()
}

// Last positions the cursor at the tree's highest key.
func (c *Cursor) Last() error { return c.toLast() }

func (c *Cursor) toLast() error {
	if err := c.descendRightmost(false); err != nil {
		return err
	}
	return c.skipEmptyBackward()
}

// skipEmptyForward advances past an empty leaf reached by descendLeftmost
// (possible immediately after the tree has been emptied by deletes),
// copying out the resulting position's key/value.
func (c *Cursor) skipEmptyForward() error {
	if len(c.leaf.node.keys) == 0 {
		if err := c.toNextLeaf(); err != nil {
			return err
		}
		if c.leaf == nil {
			c.key, c.value = nil, nil
			return nil
		}
	}
	return c.loadCurrent()
}

func (c *Cursor) skipEmptyBackward() error {
	if len(c.leaf.node.keys) == 0 {
		if err := c.toPreviousLeaf(); err != nil {
			return err
		}
		if c.leaf == nil {
			c.key, c.value = nil, nil
			return nil
		}
	}
	return c.loadCurrent()
}

// loadCurrent copies the key and (unless keyOnly) value out of the leaf at
// the cursor's current position into c.key/c.value.
func (c *Cursor) loadCurrent() error {
	frame := c.leaf
	frame.node.latch.AcquireShared()
	defer frame.node.latch.ReleaseShared()

	if frame.nodePos < 0 || frame.nodePos>>1 >= len(frame.node.keys) {
		c.key, c.value = nil, nil
		return nil
	}
	idx := frame.nodePos >> 1
	c.key = cloneBytes(frame.node.Key(idx))
	if c.keyOnly {
		c.value = NotLoaded()
		return nil
	}
	v := frame.node.Value(idx)
	if isGhost(v) {
		c.value = nil
		return nil
	}
	c.value = cloneBytes(v)
	return nil
}

// toNextLeaf ascends and descends to the leaf immediately following the
// current one, per nextNode. It leaves c.leaf nil if the tree is exhausted.
func (c *Cursor) toNextLeaf() error {
	leaf := c.leaf
	leaf.node.latch.ReleaseShared()
	next, err := c.tree.nextNode(leaf)
	if err != nil {
		return err
	}
	c.leaf = next
	return nil
}

func (c *Cursor) toPreviousLeaf() error {
	leaf := c.leaf
	leaf.node.latch.ReleaseShared()
	prev, err := c.tree.previousNode(leaf)
	if err != nil {
		return err
	}
	c.leaf = prev
	return nil
}

// nextNode finds the leaf immediately after frame's leaf in key order,
// ascending through ancestor frames until an unexhausted sibling subtree
// is found, then descending its leftmost path. frame is assumed already
// unbound/unlatched by the caller; its ancestor chain is still intact.
func (t *BTree) nextNode(frame *CursorFrame) (*CursorFrame, error) {
	for {
		parentFrame := frame.parentFrame
		if parentFrame == nil {
			return nil, nil
		}
		parent := parentFrame.node
		parent.latch.AcquireShared()
		if parent.split != nil {
			var err error
			parent, err = t.finishSplitShared(parentFrame, parent)
			if err == errRetrySplit {
				continue
			}
			if err != nil {
				return nil, err
			}
		}
		childPos := parent.ChildIndexForPos(parentFrame.nodePos)
		if childPos+1 >= len(parent.children) {
			parent.latch.ReleaseShared()
			frame = parentFrame
			continue
		}

		nextChildPos := childPos + 1
		parentFrame.rebind(parent, (nextChildPos-1)<<1)
		childID := parent.children[nextChildPos]
		child, err := t.cache.LoadChild(parent, childID, LoadOptions{Shared: true, ReleaseParent: true})
		if err != nil {
			return nil, err
		}
		return t.descendLeftmostFrom(parentFrame, child)
	}
}

func (t *BTree) previousNode(frame *CursorFrame) (*CursorFrame, error) {
	for {
		parentFrame := frame.parentFrame
		if parentFrame == nil {
			return nil, nil
		}
		parent := parentFrame.node
		parent.latch.AcquireShared()
		if parent.split != nil {
			var err error
			parent, err = t.finishSplitShared(parentFrame, parent)
			if err == errRetrySplit {
				continue
			}
			if err != nil {
				return nil, err
			}
		}
		childPos := parent.ChildIndexForPos(parentFrame.nodePos)
		if childPos == 0 {
			parent.latch.ReleaseShared()
			frame = parentFrame
			continue
		}

		prevChildPos := childPos - 1
		parentFrame.rebind(parent, (prevChildPos-1)<<1)
		childID := parent.children[prevChildPos]
		child, err := t.cache.LoadChild(parent, childID, LoadOptions{Shared: true, ReleaseParent: true})
		if err != nil {
			return nil, err
		}
		return t.descendRightmostFrom(parentFrame, child)
	}
}

func (t *BTree) descendLeftmostFrom(parentFrame *CursorFrame, node *Node) (*CursorFrame, error) {
	frame := parentFrame
	for {
		if node.split != nil && !node.split.splitRight {
			// The sibling holds the lower half; the leftmost entry moved
			// there without needing to finish the split.
			sibling := node.split.latchSibling()
			node.latch.ReleaseShared()
			node = sibling
		}
		if node.IsLeaf() {
			pos := 0
			if len(node.keys) == 0 {
				pos = ^0
			}
			leafFrame := newCursorFrame(frame)
			leafFrame.bind(node, pos)
			if len(node.keys) == 0 {
				node.latch.ReleaseShared()
				return t.nextNode(leafFrame)
			}
			return leafFrame, nil
		}
		newFrame := newCursorFrame(frame)
		newFrame.bind(node, 0)
		childID := node.children[0]
		child, err := t.cache.LoadChild(node, childID, LoadOptions{Shared: true, ReleaseParent: true})
		if err != nil {
			return nil, err
		}
		frame = newFrame
		node = child
	}
}

func (t *BTree) descendRightmostFrom(parentFrame *CursorFrame, node *Node) (*CursorFrame, error) {
	frame := parentFrame
	for {
		if node.split != nil && node.split.splitRight {
			// The sibling holds the upper half; the rightmost entry moved
			// there without needing to finish the split.
			sibling := node.split.latchSibling()
			node.latch.ReleaseShared()
			node = sibling
		}
		last := len(node.keys) - 1
		if node.IsLeaf() {
			pos := last << 1
			if last < 0 {
				pos = ^0
			}
			leafFrame := newCursorFrame(frame)
			leafFrame.bind(node, pos)
			if last < 0 {
				node.latch.ReleaseShared()
				return t.previousNode(leafFrame)
			}
			return leafFrame, nil
		}
		childPos := len(node.children) - 1
		newFrame := newCursorFrame(frame)
		newFrame.bind(node, last<<1)
		childID := node.children[childPos]
		child, err := t.cache.LoadChild(node, childID, LoadOptions{Shared: true, ReleaseParent: true})
		if err != nil {
			return nil, err
		}
		frame = newFrame
		node = child
	}
}

// Next advances the cursor to the next key in order.
func (c *Cursor) Next() error { return c.toNext() }

func (c *Cursor) toNext() error {
	if c.leaf == nil {
		return c.toFirst()
	}
	frame := c.leaf
	frame.node.latch.AcquireShared()
	pos := frame.nodePos
	if pos < 0 {
		pos = ^pos
	} else {
		pos += 2
	}
	if pos>>1 < len(frame.node.keys) {
		frame.nodePos = pos
		frame.node.latch.ReleaseShared()
		return c.loadCurrent()
	}
	if err := c.toNextLeaf(); err != nil {
		return err
	}
	if c.leaf == nil {
		c.key, c.value = nil, nil
		return nil
	}
	return c.loadCurrent()
}

// Previous moves the cursor to the previous key in order.
func (c *Cursor) Previous() error { return c.toPrevious() }

func (c *Cursor) toPrevious() error {
	if c.leaf == nil {
		return c.toLast()
	}
	frame := c.leaf
	frame.node.latch.AcquireShared()
	pos := frame.nodePos
	if pos < 0 {
		pos = ^pos - 2
	} else {
		pos -= 2
	}
	if pos >= 0 {
		frame.nodePos = pos
		frame.node.latch.ReleaseShared()
		return c.loadCurrent()
	}
	if err := c.toPreviousLeaf(); err != nil {
		return err
	}
	if c.leaf == nil {
		c.key, c.value = nil, nil
		return nil
	}
	return c.loadCurrent()
}

// Skip advances (n > 0) or retreats (n < 0) by n positions.
func (c *Cursor) Skip(n int64) error { return c.SkipLimit(n, nil, false) }

// SkipLimit advances (n > 0) or retreats (n < 0) by n positions, stopping
// at limitKey if given: the final step of the move is checked against
// limitKey the way FindGt/FindLt check their key, and if it falls on the
// wrong side (or exactly on limitKey with inclusive=false) the cursor
// resets to unowned instead of landing past the limit. The n-1 (or
// n+1, moving backward) interior steps are taken via skipGap's batched
// within-node jump rather than one toNext/toPrevious call per position.
func (c *Cursor) SkipLimit(n int64, limitKey []byte, inclusive bool) error {
	if n == 0 {
		return nil
	}
	if n > 0 {
		if n > 1 {
			if err := c.skipGap(n - 1); err != nil {
				return err
			}
			if c.leaf == nil {
				c.key, c.value = nil, nil
				return nil
			}
		}
		if err := c.toNext(); err != nil {
			return err
		}
		return c.applyForwardLimit(limitKey, inclusive)
	}

	n = -n
	if n > 1 {
		if err := c.skipGap(-(n - 1)); err != nil {
			return err
		}
		if c.leaf == nil {
			c.key, c.value = nil, nil
			return nil
		}
	}
	if err := c.toPrevious(); err != nil {
		return err
	}
	return c.applyBackwardLimit(limitKey, inclusive)
}

func (c *Cursor) applyForwardLimit(limitKey []byte, inclusive bool) error {
	if limitKey == nil || c.leaf == nil || c.key == nil {
		return nil
	}
	cmp := bytes.Compare(c.key, limitKey)
	if cmp > 0 || (cmp == 0 && !inclusive) {
		c.reset()
	}
	return nil
}

func (c *Cursor) applyBackwardLimit(limitKey []byte, inclusive bool) error {
	if limitKey == nil || c.leaf == nil || c.key == nil {
		return nil
	}
	cmp := bytes.Compare(c.key, limitKey)
	if cmp < 0 || (cmp == 0 && !inclusive) {
		c.reset()
	}
	return nil
}

// skipGap moves by amount positions (forward if positive, backward if
// negative) without loading a value at every intermediate stop: within a
// single leaf it jumps the node position directly by however many
// entries are available, and it crosses into adjacent leaves one at a
// time through toNextLeaf/toPreviousLeaf, counting the crossing itself
// as one step. It does not use a cached entry count to skip a whole leaf
// without descending into it.
func (c *Cursor) skipGap(amount int64) error {
	if amount > 0 {
		return c.skipNextGap(amount)
	}
	return c.skipPreviousGap(-amount)
}

func (c *Cursor) skipNextGap(amount int64) error {
	for amount > 0 {
		if c.leaf == nil {
			return nil
		}
		frame := c.leaf
		node := frame.node
		node.latch.AcquireShared()

		pos := frame.nodePos
		if pos < 0 {
			pos = frame.insertPoint() - 2
		}
		highest := node.HighestPos()
		if pos <= highest {
			avail := int64(highest-pos) >> 1
			if avail >= amount {
				frame.nodePos = pos + int(amount)<<1
				frame.notFoundKey = nil
				node.latch.ReleaseShared()
				return nil
			}
			amount -= avail + 1
		}
		node.latch.ReleaseShared()

		node.latch.AcquireExclusive()
		node.cachedEntryCount = int64(len(node.keys))
		node.entryCountFresh = true
		node.latch.ReleaseExclusive()

		if err := c.toNextLeaf(); err != nil {
			return err
		}
		if c.leaf == nil {
			return nil
		}
	}
	return nil
}

func (c *Cursor) skipPreviousGap(amount int64) error {
	for amount > 0 {
		if c.leaf == nil {
			return nil
		}
		frame := c.leaf
		node := frame.node
		node.latch.AcquireShared()

		pos := frame.nodePos
		if pos < 0 {
			pos = frame.insertPoint()
		}
		if pos >= 0 {
			avail := int64(pos >> 1)
			if avail >= amount {
				frame.nodePos = pos - int(amount)<<1
				frame.notFoundKey = nil
				node.latch.ReleaseShared()
				return nil
			}
			amount -= avail + 1
		}
		node.latch.ReleaseShared()

		node.latch.AcquireExclusive()
		node.cachedEntryCount = int64(len(node.keys))
		node.entryCountFresh = true
		node.latch.ReleaseExclusive()

		if err := c.toPreviousLeaf(); err != nil {
			return err
		}
		if c.leaf == nil {
			return nil
		}
	}
	return nil
}

// Find positions the cursor at key, loading its value if present.
func (c *Cursor) Find(key []byte) error { return c.findVariant(key, variantRegular) }

// FindNearby behaves like Find, but is optimized for callers that expect
// key to be near the cursor's current position: it binary-searches the
// current leaf first, and if key falls outside the leaf's certain range
// pops up the frame stack checking each ancestor's extremity-bounded
// range before resorting to a fresh descent from the root.
func (c *Cursor) FindNearby(key []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if c.leaf == nil {
		return c.findVariant(key, variantRegular)
	}
	for {
		found, err := c.findNearbyOnce(key)
		if err == errRetrySplit {
			continue
		}
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		return c.findVariant(key, variantRegular)
	}
}

// findNearbyOnce attempts the frame-stack-reuse fast path. found reports
// whether it fully positioned and loaded the cursor; when found is false
// (and err is nil) the caller must fall back to a root descent.
func (c *Cursor) findNearbyOnce(key []byte) (bool, error) {
	leaf := c.leaf
	node := leaf.node
	node.latch.AcquireShared()
	if node.split != nil {
		var err error
		node, err = c.tree.finishSplitShared(leaf, node)
		if err != nil {
			return false, err
		}
	}

	pos := node.BinarySearch(key)
	if pos >= 0 {
		leaf.nodePos = pos
		leaf.notFoundKey = nil
		node.latch.ReleaseShared()
		c.keyHash = c.tree.locks.Hash(c.tree.id, key)
		return true, c.loadCurrent()
	}

	inBounds := (pos != ^0 || node.IsLowExtremity()) &&
		(^pos <= node.HighestPos() || node.IsHighExtremity())
	if inBounds {
		leaf.nodePos = pos
		leaf.notFoundKey = cloneBytes(key)
		node.latch.ReleaseShared()
		c.keyHash = c.tree.locks.Hash(c.tree.id, key)
		c.key, c.value = nil, nil
		return true, nil
	}
	node.latch.ReleaseShared()

	// Cannot be certain key lives under this leaf; pop up the stack
	// looking for an ancestor whose range certainly contains it.
	c.leaf = nil
	frame := leaf.pop()
	for {
		if frame == nil {
			// Root frame is gone (tree height changed underneath us);
			// caller falls back to a full root descent.
			return false, nil
		}

		parent := frame.node
		parent.latch.AcquireShared()
		if parent.split != nil {
			var err error
			parent, err = c.tree.finishSplitShared(frame, parent)
			if err == errRetrySplit {
				// The cursor's frame stack below this point is already
				// unbound; it is simpler and just as correct to fall back
				// to a fresh root descent than to resume the reuse path.
				return false, nil
			}
			if err != nil {
				return false, err
			}
		}

		searchPos := parent.BinarySearch(key)
		internalPos := searchPos
		if searchPos < 0 {
			internalPos = ^searchPos
		}

		uncertain := (internalPos == 0 && !parent.IsLowExtremity()) ||
			(internalPos >= parent.HighestPos() && !parent.IsHighExtremity())
		if uncertain {
			parent.latch.ReleaseShared()
			next := frame.pop()
			frame = next
			continue
		}

		frame.nodePos = internalPos
		childPos := parent.ChildIndexForPos(internalPos)
		childID := parent.children[childPos]
		child, err := c.tree.cache.LoadChild(parent, childID, LoadOptions{Shared: true, ReleaseParent: true})
		if err != nil {
			return false, err
		}

		if err := c.descendFrom(newCursorFrame(frame), child, key, false); err != nil {
			if err == errRetrySplit {
				return false, nil
			}
			return false, err
		}
		c.keyHash = c.tree.locks.Hash(c.tree.id, key)
		return true, c.loadCurrent()
	}
}

func (c *Cursor) findVariant(key []byte, variant descentVariant) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if err := c.descend(key, false); err != nil {
		return err
	}
	c.keyHash = c.tree.locks.Hash(c.tree.id, key)
	if variant == variantCheck {
		c.key = cloneBytes(key)
		c.value = NotLoaded()
		c.leaf.node.latch.ReleaseShared()
		return nil
	}
	return c.loadCurrent()
}

// FindGe positions at the least key >= key.
func (c *Cursor) FindGe(key []byte) error {
	if err := c.descend(key, false); err != nil {
		return err
	}
	if c.leaf.isNotFound() {
		ip := c.leaf.insertPoint()
		if ip>>1 >= len(c.leaf.node.keys) {
			if err := c.toNextLeaf(); err != nil {
				return err
			}
			if c.leaf == nil {
				c.key, c.value = nil, nil
				return nil
			}
			return c.loadCurrent()
		}
		c.leaf.nodePos = ip
	}
	return c.loadCurrent()
}

// FindGt positions at the least key > key.
func (c *Cursor) FindGt(key []byte) error {
	if err := c.FindGe(key); err != nil {
		return err
	}
	if c.key != nil && bytes.Equal(c.key, key) {
		return c.toNext()
	}
	return nil
}

// FindLe positions at the greatest key <= key.
func (c *Cursor) FindLe(key []byte) error {
	if err := c.descend(key, false); err != nil {
		return err
	}
	if c.leaf.isNotFound() {
		ip := c.leaf.insertPoint()
		if ip == 0 {
			if err := c.toPreviousLeaf(); err != nil {
				return err
			}
			if c.leaf == nil {
				c.key, c.value = nil, nil
				return nil
			}
			return c.loadCurrent()
		}
		c.leaf.nodePos = ip - 2
	}
	return c.loadCurrent()
}

// FindLt positions at the greatest key < key.
func (c *Cursor) FindLt(key []byte) error {
	if err := c.FindLe(key); err != nil {
		return err
	}
	if c.key != nil && bytes.Equal(c.key, key) {
		return c.toPrevious()
	}
	return nil
}

// Random positions the cursor at an approximately uniformly selected key,
// by taking a random child at every level of the descent.
func (c *Cursor) Random() error {
	for {
		err := c.randomOnce()
		if err == errRetrySplit {
			continue
		}
		return err
	}
}

func (c *Cursor) randomOnce() error {
	c.reset()
	node := c.tree.Root()
	node.latch.AcquireShared()
	frame := newCursorFrame(nil)
	for {
		if node.split != nil {
			var err error
			node, err = c.tree.finishSplitShared(frame, node)
			if err != nil {
				return err
			}
		}
		if node.IsLeaf() {
			pos := 0
			if len(node.keys) > 0 {
				pos = rand.Intn(len(node.keys)) << 1
			} else {
				pos = ^0
			}
			frame.bind(node, pos)
			c.leaf = frame
			return c.skipEmptyForward()
		}
		childPos := rand.Intn(len(node.children))
		frame.bind(node, clampPos(childPos, len(node.keys)))
		childID := node.children[childPos]
		child, err := c.tree.cache.LoadChild(node, childID, LoadOptions{Shared: true, ReleaseParent: true})
		if err != nil {
			return err
		}
		node = child
		frame = newCursorFrame(frame)
	}
}

func clampPos(childPos, numKeys int) int {
	idx := childPos - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= numKeys {
		idx = numKeys - 1
	}
	if idx < 0 {
		return ^0
	}
	return idx << 1
}

// RandomNode positions the cursor at the highest key of a randomly
// sampled leaf, biasing the sample toward subtrees that are not already
// resident in the node cache (so repeated sampling tends to pull cold
// pages in rather than repeatedly hitting the same hot ones). Useful for
// sampling-based statistics that only need node-level granularity.
func (c *Cursor) RandomNode() error {
	for {
		err := c.randomNodeOnce()
		if err == errRetrySplit {
			continue
		}
		return err
	}
}

func (c *Cursor) randomNodeOnce() error {
	c.reset()
	node := c.tree.Root()
	node.latch.AcquireShared()
	frame := newCursorFrame(nil)

	remainingBIN := 2 // retries picking an uncached bottom-internal child
	remainingLN := 2  // retries picking an uncached leaf child

	for {
		if node.split != nil {
			var err error
			node, err = c.tree.finishSplitShared(frame, node)
			if err != nil {
				return err
			}
		}

		if node.IsLeaf() {
			pos := 0
			if len(node.keys) > 0 {
				pos = node.HighestPos()
			} else {
				pos = ^0
			}
			frame.bind(node, pos)
			c.leaf = frame
			return c.skipEmptyForward()
		}

		pos := rand.Intn(len(node.children))

		if node.IsBottomInternal() {
			childID := node.children[pos]
			if _, cached := c.tree.cache.NodeMapGet(childID); cached && remainingLN > 0 {
				remainingLN--
				continue
			}
		} else {
			childID := node.children[pos]
			if child, cached := c.tree.cache.NodeMapGet(childID); cached {
				isBIN := func() bool {
					child.latch.AcquireShared()
					defer child.latch.ReleaseShared()
					return child.IsBottomInternal()
				}()
				if isBIN && remainingBIN > 0 {
					remainingBIN--
					continue
				}
			}
		}

		frame.bind(node, clampPos(pos, len(node.keys)))
		childID := node.children[pos]
		child, err := c.tree.cache.LoadChild(node, childID, LoadOptions{Shared: true, ReleaseParent: true})
		if err != nil {
			return err
		}
		node = child
		frame = newCursorFrame(frame)
	}
}

// Load refreshes c.value from the cursor's current position, re-locking
// through the lock manager if a transaction is attached.
func (c *Cursor) Load() error {
	if c.leaf == nil {
		return ErrCursorNotPositioned
	}
	if c.txn != nil && !c.txn.Mode().NoReadLock() {
		if err := c.tree.locks.LockShared(c.txn, c.tree.id, c.key, c.keyHash, 0); err != nil {
			return err
		}
	}
	return c.loadCurrent()
}

// TryCopyCurrent copies out the value at the cursor's position without
// blocking on the lock manager; it reports false if the lock is not
// immediately available, leaving c.value as NotLoaded.
func (c *Cursor) TryCopyCurrent() (bool, error) {
	if c.leaf == nil {
		return false, ErrCursorNotPositioned
	}
	if c.txn != nil && !c.txn.Mode().NoReadLock() {
		ok, err := c.tree.locks.TryLock(ReadCommitted, c.txn, c.tree.id, c.key, c.keyHash)
		if err != nil {
			return false, err
		}
		if !ok {
			c.value = NotLoaded()
			return false, nil
		}
	}
	if err := c.loadCurrent(); err != nil {
		return false, err
	}
	return true, nil
}

// LockAndCopyIfExists locks the current key and copies its value only if
// the key still exists at the cursor's position, leaving c.value nil
// otherwise (as opposed to copying a ghost's nil value unconditionally).
func (c *Cursor) LockAndCopyIfExists() error {
	if c.leaf == nil {
		return ErrCursorNotPositioned
	}
	if c.txn != nil {
		if err := c.tree.locks.LockShared(c.txn, c.tree.id, c.key, c.keyHash, 0); err != nil {
			return err
		}
	}
	c.leaf.node.latch.AcquireShared()
	pos := c.leaf.nodePos
	if pos < 0 || pos>>1 >= len(c.leaf.node.keys) {
		c.leaf.node.latch.ReleaseShared()
		c.value = nil
		return nil
	}
	v := c.leaf.node.Value(pos >> 1)
	c.leaf.node.latch.ReleaseShared()
	if isGhost(v) {
		c.value = nil
		return nil
	}
	c.value = cloneBytes(v)
	return nil
}

// Store writes value for the cursor's current key, inserting if absent.
// A nil value deletes the key (leaving a ghost if the transaction still
// holds the lock, per §5.7).
func (c *Cursor) Store(value []byte) error {
	if c.leaf == nil {
		return ErrCursorNotPositioned
	}
	return c.storeAt(c.key, value)
}

func (c *Cursor) storeAt(key, value []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if err := c.descend(key, true); err != nil {
		return err
	}
	leafFrame := c.leaf
	node := leafFrame.node
	defer node.latch.ReleaseExclusive()

	if c.txn != nil {
		if err := c.tree.locks.LockExclusive(c.txn, c.tree.id, key, c.tree.locks.Hash(c.tree.id, key), 0); err != nil {
			return err
		}
	}

	if c.tree.redo != nil {
		if _, err := c.tree.redo.RedoStore(c.tree.id, key, value); err != nil {
			return err
		}
	}

	if leafFrame.isNotFound() {
		idx := leafFrame.insertPoint() >> 1
		if node.IsFull(key, value) {
			if err := c.splitLeaf(leafFrame, node, idx, key, value); err != nil {
				return err
			}
		} else {
			node.insertKeyValueAt(idx, cloneBytes(key), cloneBytes(value))
			leafFrame.nodePos = idx << 1
		}
		if _, err := c.tree.notSplitDirty(leafFrame); err != nil {
			return err
		}
	} else {
		idx := leafFrame.nodePos >> 1
		node.values[idx] = cloneBytes(value)
		if err := c.tree.markDirty(node); err != nil {
			return err
		}
		if node.IsUnderflow() && !node.IsLowExtremity() {
			if err := c.tree.mergeLeaf(leafFrame, node); err != nil {
				return err
			}
		}
	}

	c.value = cloneBytes(value)
	return nil
}

// splitLeaf splits an overflowing leaf, inserting key/value into whichever
// half it belongs in and recording the pending Split on node.
func (c *Cursor) splitLeaf(frame *CursorFrame, node *Node, insertIdx int, key, value []byte) error {
	allKeys := make([][]byte, 0, len(node.keys)+1)
	allValues := make([][]byte, 0, len(node.values)+1)
	for i := range node.keys {
		if i == insertIdx {
			allKeys = append(allKeys, cloneBytes(key))
			allValues = append(allValues, cloneBytes(value))
		}
		allKeys = append(allKeys, node.keys[i])
		allValues = append(allValues, node.values[i])
	}
	if insertIdx >= len(node.keys) {
		allKeys = append(allKeys, cloneBytes(key))
		allValues = append(allValues, cloneBytes(value))
	}

	mid := len(allKeys) / 2

	sibling, err := c.tree.cache.Allocate(true)
	if err != nil {
		return err
	}
	sibling.keys = allKeys[mid:]
	sibling.values = allValues[mid:]
	sibling.SetHighExtremity(node.IsHighExtremity())
	node.SetHighExtremity(false)

	node.keys = allKeys[:mid]
	node.values = allValues[:mid]

	if err := c.tree.cache.MarkDirty(c.tree, sibling); err != nil {
		return err
	}

	node.split = newSplit(true, sibling, InlineSeparator(cloneBytes(sibling.keys[0])))

	if insertIdx < mid {
		frame.nodePos = insertIdx << 1
	} else {
		node.split.rebindFrame(frame, sibling)
	}
	return nil
}

// FindAndStore combines Find and Store under a single descent, returning
// the previous value (or nil if the key was absent).
func (c *Cursor) FindAndStore(key, value []byte) ([]byte, error) {
	if err := c.Find(key); err != nil {
		return nil, err
	}
	old := c.value
	if err := c.storeAt(key, value); err != nil {
		return nil, err
	}
	return old, nil
}

// FindAndModify performs a compare-and-swap style update: expected must be
// ModifyInsert, ModifyReplace, or a specific expected value; the store only
// takes effect if the current value matches. It reports whether the store
// happened.
func (c *Cursor) FindAndModify(key, expected, value []byte) (bool, error) {
	if err := c.Find(key); err != nil {
		return false, err
	}

	switch {
	case isModifyInsert(expected):
		if c.value != nil {
			return false, nil
		}
	case isModifyReplace(expected):
		if c.value == nil {
			return false, nil
		}
	default:
		if !bytes.Equal(c.value, expected) {
			return false, nil
		}
	}

	if err := c.storeAt(key, value); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteGhost stores a nil value at the cursor's current key through the
// ordinary store path. The entry stays in the leaf as a ghost (nil
// value); this call does not physically remove it.
func (c *Cursor) DeleteGhost() error {
	if c.leaf == nil {
		return ErrCursorNotPositioned
	}
	return c.storeAt(c.key, nil)
}

// DeleteRange removes every key in [startKey, endKey) through the
// ordinary transactional store path: each key is locked, redo-logged,
// and ghosted the same as any other Store(nil) call. Use this when the
// deletes need to be undoable or participate in a transaction; use
// DeleteAll to cheaply clear an entire tree.
func (t *BTree) DeleteRange(txn Txn, startKey, endKey []byte) error {
	c := t.NewCursor(txn)
	defer c.close()

	if err := c.FindGe(startKey); err != nil {
		return err
	}
	for c.leaf != nil {
		if endKey != nil && bytes.Compare(c.key, endKey) >= 0 {
			return nil
		}
		key := c.key
		if err := c.Store(nil); err != nil {
			return err
		}
		if err := c.FindGt(key); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAll clears every entry in the tree directly, rather than through
// ordinary Store(nil) calls: it descends leftmost once, then repeatedly
// empties the current leaf's first entry and cascades deleteNode upward
// through any ancestor that becomes empty as a result, resuming at the
// new leftmost leaf each time. There is no lock acquisition, no redo
// logging, and no ghost semantics; this is for whole-tree clears (e.g.
// dropping a table), not filtered or undoable deletes.
func (t *BTree) DeleteAll() error {
	root := t.Root()
	root.latch.AcquireExclusive()

	frame, err := t.descendLeftmostExclusiveFrom(newCursorFrame(nil), root)
	if err != nil {
		return err
	}

	for frame != nil {
		node := frame.node
		if len(node.keys) > 0 {
			node.removeKeyValueAt(0)
			if len(node.keys) > 0 {
				if err := t.markDirty(node); err != nil {
					node.latch.ReleaseExclusive()
					return err
				}
				continue
			}
		}

		frame, err = t.cascadeDeleteEmptyNode(frame, node)
		if err != nil {
			return err
		}
	}
	return nil
}

// Compact rewrites every leaf touching [lowKey, highKey] that has fallen
// below the fill threshold, merging adjacent underflowing leaves to reclaim
// space without waiting for further deletes to trigger it.
func (t *BTree) Compact(lowKey, highKey []byte) error {
	c := t.NewCursor(nil)
	c.keyOnly = true
	defer c.close()

	if lowKey == nil {
		if err := c.toFirst(); err != nil {
			return err
		}
	} else if err := c.FindGe(lowKey); err != nil {
		return err
	}

	for c.leaf != nil {
		if highKey != nil && bytes.Compare(c.key, highKey) > 0 {
			return nil
		}
		leaf := c.leaf
		leaf.node.latch.AcquireShared()
		underflow := leaf.node.IsUnderflow() && !leaf.node.IsLowExtremity()
		leaf.node.latch.ReleaseShared()
		if underflow {
			leaf.node.latch.AcquireExclusive()
			if err := t.mergeLeaf(leaf, leaf.node); err != nil {
				leaf.node.latch.ReleaseExclusive()
				return err
			}
			leaf.node.latch.ReleaseExclusive()
		}
		if err := c.toNextLeaf(); err != nil {
			return err
		}
		if c.leaf != nil {
			if err := c.loadCurrent(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Verify walks the whole tree checking key ordering, extremity bits, and
// parent/child consistency, returning the first violation found.
func (t *BTree) Verify() error {
	root := t.Root()
	root.latch.AcquireShared()
	defer root.latch.ReleaseShared()
	return t.verifyNode(root, nil, nil)
}

func (t *BTree) verifyNode(node *Node, low, high []byte) error {
	var prev []byte
	for i, k := range node.keys {
		if low != nil && bytes.Compare(k, low) < 0 {
			return ErrCorruption
		}
		if high != nil && bytes.Compare(k, high) > 0 {
			return ErrCorruption
		}
		if i > 0 && bytes.Compare(prev, k) >= 0 {
			return ErrCorruption
		}
		prev = k
	}

	if node.IsLeaf() {
		if len(node.values) != len(node.keys) {
			return ErrCorruption
		}
		if node.entryCountFresh && node.cachedEntryCount != int64(len(node.keys)) {
			return ErrCorruption
		}
		return nil
	}

	if len(node.children) != len(node.keys)+1 {
		return ErrCorruption
	}
	for i, childID := range node.children {
		child, err := t.cache.LoadChild(node, childID, LoadOptions{Shared: true, ReleaseParent: false})
		if err != nil {
			return err
		}

		// A bottom-internal node's children must all be leaves; any other
		// internal node's children must all be non-leaves. A leaf parent
		// is impossible here since IsLeaf() already returned above.
		if node.IsBottomInternal() != child.IsLeaf() {
			child.latch.ReleaseShared()
			return ErrCorruption
		}

		// Extremity bits only ever widen going down the spine: if a
		// child carries one, its parent must carry it too.
		if child.IsLowExtremity() && !node.IsLowExtremity() {
			child.latch.ReleaseShared()
			return ErrCorruption
		}
		if child.IsHighExtremity() && !node.IsHighExtremity() {
			child.latch.ReleaseShared()
			return ErrCorruption
		}

		var lo, hi []byte
		if i > 0 {
			lo = node.keys[i-1]
		} else {
			lo = low
		}
		if i < len(node.keys) {
			hi = node.keys[i]
		} else {
			hi = high
		}
		err = t.verifyNode(child, lo, hi)
		child.latch.ReleaseShared()
		if err != nil {
			return err
		}
	}
	return nil
}
