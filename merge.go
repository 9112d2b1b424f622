package latchtree

import "latchtree/internal/base"

// mergeLeaf is invoked when a leaf mutation leaves the leaf below the
// merge threshold. leafFrame identifies the leaf's position in the
// current cursor's frame stack.
func (t *BTree) mergeLeaf(leafFrame *CursorFrame, node *Node) error {
	return t.merge(leafFrame, node)
}

// mergeInternal is the higher-level counterpart of mergeLeaf, invoked
// when an internal node falls below threshold after a cascade.
func (t *BTree) mergeInternal(frame *CursorFrame, node *Node) error {
	return t.merge(frame, node)
}

// merge implements §5.3 for both leaves and internal nodes: it is
// written as an explicit loop bounded by tree height rather than
// recursion, per the design notes.
func (t *BTree) merge(frame *CursorFrame, node *Node) error {
	for {
		parentFrame := frame.parentFrame
		if parentFrame == nil {
			// node is the root; nothing above it to merge with.
			return nil
		}

		parent := parentFrame.node
		if parent == nil {
			return nil
		}
		parent.latch.AcquireExclusive()
		if parent.split != nil {
			var err error
			parent, err = t.finishSplit(parentFrame, parent)
			if err != nil {
				parent.latch.ReleaseExclusive()
				return err
			}
		}

		childPos := parent.ChildIndexForPos(parentFrame.nodePos)

		if !node.IsUnderflow() {
			parent.latch.ReleaseExclusive()
			return nil
		}

		var left, right *Node
		var leftPos int
		if childPos > 0 {
			leftID := parent.children[childPos-1]
			left = t.latchSibling(parent, leftID)
			leftPos = childPos - 1
		}
		if childPos < len(parent.children)-1 {
			rightID := parent.children[childPos+1]
			right = t.latchSibling(parent, rightID)
		}

		mergedInto, removedPos, err := t.pickAndMerge(parent, node, left, right, leftPos, childPos)
		if err != nil {
			if left != nil {
				left.latch.ReleaseExclusive()
			}
			if right != nil {
				right.latch.ReleaseExclusive()
			}
			parent.latch.ReleaseExclusive()
			return err
		}
		if left != nil && left != mergedInto {
			left.latch.ReleaseExclusive()
		}
		if right != nil && right != mergedInto {
			right.latch.ReleaseExclusive()
		}

		if removedPos < 0 {
			// Nothing fit together; leave the tree unbalanced and stop.
			parent.latch.ReleaseExclusive()
			return nil
		}

		parent.removeSeparatorAt(removedPos)
		if err := t.markDirty(parent); err != nil {
			parent.latch.ReleaseExclusive()
			return err
		}

		if len(parent.keys) == 0 && parentFrame.parentFrame == nil {
			// Root reduced to a single child: collapse the tree level.
			err := t.rootDelete(parent, mergedInto)
			parent.latch.ReleaseExclusive()
			return err
		}

		if !parent.IsUnderflow() {
			parent.latch.ReleaseExclusive()
			return nil
		}

		// Cascade upward: parent itself is now the underflowing node.
		node = parent
		frame = parentFrame
	}
}

func (t *BTree) latchSibling(parent *Node, id base.PageID) *Node {
	n, ok := t.cache.NodeMapGet(id)
	if !ok {
		loaded, err := t.cache.LoadChild(parent, id, LoadOptions{Shared: false, ReleaseParent: false})
		if err != nil {
			return nil
		}
		return loaded
	}
	n.latch.AcquireExclusive()
	return n
}

// pickAndMerge chooses the adjacent pair with the most combined free
// space and, if both halves fit in one page, moves all of the right
// side's entries into the left side. It returns the surviving node and
// the parent key-index that must be removed, or removedPos=-1 if no
// pair fit together.
func (t *BTree) pickAndMerge(parent, node, left, right *Node, leftPos, childPos int) (*Node, int, error) {
	type candidate struct {
		a, b     *Node
		sepIdx   int
		combined int
	}
	sepSize := func(sepIdx int, a *Node) int {
		if a.IsLeaf() {
			return 0
		}
		return base.BranchElementSize + len(parent.keys[sepIdx])
	}
	var candidates []candidate
	if left != nil {
		candidates = append(candidates, candidate{left, node, leftPos, left.Size() + node.Size() + sepSize(leftPos, left)})
	}
	if right != nil {
		candidates = append(candidates, candidate{node, right, childPos, node.Size() + right.Size() + sepSize(childPos, node)})
	}
	if len(candidates) == 0 {
		return nil, -1, nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.combined < best.combined {
			best = c
		}
	}

	if best.combined+base.PageHeaderSize > base.PageSize {
		return nil, -1, nil
	}

	var separator []byte
	if !best.a.IsLeaf() {
		separator = cloneBytes(parent.keys[best.sepIdx])
	}
	if err := t.mergeInto(best.a, best.b, separator); err != nil {
		return nil, -1, err
	}
	if err := t.deleteNode(best.b); err != nil {
		return nil, -1, err
	}
	if err := t.markDirty(best.a); err != nil {
		return nil, -1, err
	}
	return best.a, best.sepIdx, nil
}

// mergeInto moves every entry of b into a, which must be b's immediate
// left sibling, rebinding b's cursor frames onto a. For internal nodes,
// separator is the parent key that sat between a and b; it is spliced in
// between a's and b's key runs so children stays one longer than keys.
func (t *BTree) mergeInto(a, b *Node, separator []byte) error {
	if a.IsLeaf() {
		offset := len(a.keys)
		a.keys = append(a.keys, b.keys...)
		a.values = append(a.values, b.values...)
		for f := b.lastCursorFrame; f != nil; {
			next := f.nextCousin
			pos := f.nodePos
			if pos >= 0 {
				f.rebind(a, pos+offset*2)
			} else {
				f.rebind(a, pos-offset*2)
			}
			f = next
		}
		return nil
	}

	offset := len(a.keys)
	a.keys = append(a.keys, separator)
	a.keys = append(a.keys, b.keys...)
	a.children = append(a.children, b.children...)
	a.SetHighExtremity(b.IsHighExtremity())
	for f := b.lastCursorFrame; f != nil; {
		next := f.nextCousin
		pos := f.nodePos
		if pos >= 0 {
			f.rebind(a, pos+offset*2+2)
		} else {
			f.rebind(a, pos-offset*2-2)
		}
		f = next
	}
	return nil
}
