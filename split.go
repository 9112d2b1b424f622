package latchtree

import "bytes"

// SeparatorKey is the sum type the design notes call for in place of the
// source's reference-equality trick (fullKey == actualKey meaning
// "stored inline"). Inline carries the separator bytes directly;
// Fragmented carries a pointer into the blob chain plus the full logical
// key for comparisons.
type SeparatorKey struct {
	fragmented bool
	inline     []byte
	fragPtr    []byte // chain pointer, only meaningful when fragmented
	full       []byte // logical separator value, always populated
}

// InlineSeparator builds a SeparatorKey stored directly in the parent page.
func InlineSeparator(key []byte) SeparatorKey {
	return SeparatorKey{inline: key, full: key}
}

// FragmentedSeparator builds a SeparatorKey whose bytes live out-of-line;
// ptr is what gets copied into the parent page, full is the logical key
// used for comparisons.
func FragmentedSeparator(ptr, full []byte) SeparatorKey {
	return SeparatorKey{fragmented: true, fragPtr: ptr, full: full}
}

// Bytes returns what should be written into the parent's search vector.
func (s SeparatorKey) Bytes() []byte {
	if s.fragmented {
		return s.fragPtr
	}
	return s.inline
}

// FullKey returns the logical key used for ordering comparisons.
func (s SeparatorKey) FullKey() []byte { return s.full }

// IsFragmented reports whether the separator is a blob-chain pointer
// rather than an inline key, mirroring Split.fragmentedKey() != nil.
func (s SeparatorKey) IsFragmented() bool { return s.fragmented }

// Split is the short-lived descriptor attached to a node that has
// produced a sibling but whose separator has not yet been promoted into
// the parent. splitRight=true means sibling holds the upper half.
type Split struct {
	splitRight bool
	sibling    *Node
	key        SeparatorKey
}

// newSplit records a freshly created sibling and its separator.
func newSplit(splitRight bool, sibling *Node, key SeparatorKey) *Split {
	return &Split{splitRight: splitRight, sibling: sibling, key: key}
}

// compare returns the sign of key - split.fullKey, mirroring Split.compare.
func (s *Split) compare(key []byte) int {
	return bytes.Compare(key, s.key.full)
}

// latchSibling acquires the sibling shared and returns it.
func (s *Split) latchSibling() *Node {
	s.sibling.latch.AcquireShared()
	return s.sibling
}

// latchSiblingExclusive acquires the sibling exclusively and returns it.
func (s *Split) latchSiblingExclusive() *Node {
	s.sibling.latch.AcquireExclusive()
	return s.sibling
}

// selectNode lets a search continue into a split node by choosing the
// original node or the sibling. The original node's shared latch must
// already be held by the caller; on return exactly one of the two nodes
// is left shared-latched (the one chosen).
func (s *Split) selectNode(node *Node, key []byte) *Node {
	sibling := s.latchSibling()

	var left, right *Node
	if s.splitRight {
		left, right = node, sibling
	} else {
		left, right = sibling, node
	}

	if s.compare(key) < 0 {
		right.latch.ReleaseShared()
		return left
	}
	left.latch.ReleaseShared()
	return right
}

// selectChild lets a search continue through a split internal node
// without finishing the split: it picks whichever side holds key (as
// selectNode does) and returns that side still shared-latched, along
// with the position key would occupy in the merged, as-if-unsplit search
// vector, so the caller can bind its frame to the original node the way
// finishSplit will eventually see it.
func (s *Split) selectChild(node *Node, key []byte) (selected *Node, mergedPos int) {
	sibling := s.latchSibling()

	var left, right *Node
	if s.splitRight {
		left, right = node, sibling
	} else {
		left, right = sibling, node
	}

	if s.compare(key) < 0 {
		right.latch.ReleaseShared()
		return left, left.BinarySearch(key)
	}

	left.latch.ReleaseShared()
	highestPos := left.HighestPos()
	pos := right.BinarySearch(key)
	if pos < 0 {
		return right, pos - highestPos - 2
	}
	return right, highestPos + 2 + pos
}

// binarySearchLeaf searches across both halves of a split leaf and
// returns the position as if the node had never split.
func (s *Split) binarySearchLeaf(node *Node, key []byte) int {
	sibling := s.latchSibling()
	defer sibling.latch.ReleaseShared()

	var left, right *Node
	if s.splitRight {
		left, right = node, sibling
	} else {
		left, right = sibling, node
	}

	if s.compare(key) < 0 {
		return left.BinarySearch(key)
	}

	highestPos := left.HighestPos()
	searchPos := right.BinarySearch(key)
	if searchPos < 0 {
		return searchPos - highestPos - 2
	}
	return highestPos + 2 + searchPos
}

// highestPos returns the highest search-vector position across both
// halves, as if the node had never split.
func (s *Split) highestPos(node *Node) int {
	sibling := s.latchSibling()
	defer sibling.latch.ReleaseShared()
	return node.HighestPos() + 2 + sibling.HighestPos()
}

// rebindFrame remaps a CursorFrame bound to a node that just split. The
// sibling must already be exclusively latched by the caller.
func (s *Split) rebindFrame(frame *CursorFrame, sibling *Node) {
	pos := frame.nodePos

	if s.splitRight {
		frameNode := frame.node
		if frameNode == nil {
			// Frame is being concurrently unbound elsewhere; nothing to fix.
			return
		}
		highestPos := frameNode.HighestPos()

		if pos >= 0 {
			if pos > highestPos {
				frame.rebind(sibling, pos-highestPos-2)
			}
			return
		}

		ip := ^pos
		if ip <= highestPos {
			return
		}
		if ip == highestPos+2 {
			key := frame.notFoundKey
			if key == nil || s.compare(key) < 0 {
				return
			}
		}
		frame.rebind(sibling, ^(ip - highestPos - 2))
		return
	}

	highestPos := sibling.HighestPos()

	if pos >= 0 {
		if pos <= highestPos {
			frame.rebind(sibling, pos)
		} else {
			frame.nodePos = pos - highestPos - 2
		}
		return
	}

	ip := ^pos
	if ip <= highestPos {
		frame.rebind(sibling, ^ip)
		return
	}
	if ip == highestPos+2 {
		key := frame.notFoundKey
		if key == nil {
			return
		}
		if s.compare(key) < 0 {
			frame.rebind(sibling, ^ip)
			return
		}
	}
	frame.nodePos = ^(ip - highestPos - 2)
}
