package latchtree

import (
	"bytes"

	"latchtree/internal/base"
)

// nodeFlags is the node's {leaf, internal, bottom-internal, low-extremity,
// high-extremity} type bitfield. Bottom-internal and the extremity bits are
// derived/maintained by the tree as nodes are linked in, not stored on disk.
type nodeFlags uint8

const (
	flagLeaf           nodeFlags = 1 << 0
	flagBottomInternal nodeFlags = 1 << 1
	flagLowExtremity   nodeFlags = 1 << 2
	flagHighExtremity  nodeFlags = 1 << 3
)

// cachedState is the node's double-buffered dirtiness used by the
// checkpointer to tell "dirty before this checkpoint started" apart from
// "dirty because of a write that raced the checkpoint".
type cachedState uint8

const (
	stateClean cachedState = iota
	stateDirtyA
	stateDirtyB
)

// Node is the in-memory representation of one fixed-size page: a leaf or
// internal node, with its search vector, key/value (or key/child) slots,
// latch state, and the bookkeeping the cursor and split/merge protocols
// need (lastCursorFrame, split).
type Node struct {
	id    base.PageID
	latch *Latch

	flags       nodeFlags
	cachedState cachedState

	// keys is the search vector's logical content: strictly increasing,
	// one entry per separator (internal) or per stored key (leaf).
	keys [][]byte
	// values holds one entry per key for leaf nodes; nil for internal.
	// A nil entry (not an empty slice) means the key is a ghost.
	values [][]byte
	// children holds len(keys)+1 entries for internal nodes; nil for leaf.
	children []base.PageID

	// split is set while this node has produced a sibling whose separator
	// has not yet been promoted into the parent.
	split *Split

	// lastCursorFrame anchors the intrusive doubly linked list of every
	// CursorFrame currently bound to this node.
	lastCursorFrame *CursorFrame

	// cachedEntryCount/entryCountFresh back skip's bottom-internal fast
	// path (countNonGhostKeys), valid only while clean and exclusively
	// latched, per the commit-lock-guarded caching rule in the spec.
	cachedEntryCount int64
	entryCountFresh  bool
}

// newNode allocates a Node around a fresh or freshly loaded page id.
func newNode(id base.PageID, leaf bool) *Node {
	n := &Node{id: id, latch: NewLatch()}
	if leaf {
		n.flags |= flagLeaf
	}
	return n
}

func (n *Node) IsLeaf() bool           { return n.flags&flagLeaf != 0 }
func (n *Node) IsBottomInternal() bool { return n.flags&flagBottomInternal != 0 }
func (n *Node) IsLowExtremity() bool   { return n.flags&flagLowExtremity != 0 }
func (n *Node) IsHighExtremity() bool  { return n.flags&flagHighExtremity != 0 }

func (n *Node) SetBottomInternal(v bool) { n.setFlag(flagBottomInternal, v) }
func (n *Node) SetLowExtremity(v bool)   { n.setFlag(flagLowExtremity, v) }
func (n *Node) SetHighExtremity(v bool)  { n.setFlag(flagHighExtremity, v) }

func (n *Node) setFlag(f nodeFlags, v bool) {
	if v {
		n.flags |= f
	} else {
		n.flags &^= f
	}
}

func (n *Node) ID() base.PageID { return n.id }

// NumKeys is the number of entries in the search vector.
func (n *Node) NumKeys() int { return len(n.keys) }

// HighestPos is the search-vector position (in 2-byte units, per the
// pervasive +2/>>1 convention) of the last entry, or -2 if empty.
func (n *Node) HighestPos() int {
	return (len(n.keys)-1)<<1
}

// BinarySearch returns pos >= 0 for an exact key match (index pos>>1), or
// the complement of the insertion point (~insertPoint, also in 2-byte
// units) when the key is absent.
func (n *Node) BinarySearch(key []byte) int {
	lo, hi := 0, len(n.keys)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		cmp := bytes.Compare(key, n.keys[mid])
		switch {
		case cmp == 0:
			return mid << 1
		case cmp < 0:
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}
	return ^(lo << 1)
}

// ChildIndexForPos maps a BinarySearch result on an internal node to the
// child slot that must be followed: an exact match at key index i routes
// to child i+1 (that child's keys are >= the separator); a miss routes to
// the child at the insertion point itself.
func (n *Node) ChildIndexForPos(pos int) int {
	if pos >= 0 {
		return (pos >> 1) + 1
	}
	return (^pos) >> 1
}

// Key returns the key at search-vector index i.
func (n *Node) Key(i int) []byte { return n.keys[i] }

// Value returns the value at leaf index i; nil means ghost or absent.
func (n *Node) Value(i int) []byte { return n.values[i] }

// Child returns the child page id at internal index i.
func (n *Node) Child(i int) base.PageID { return n.children[i] }

// Size estimates the serialized byte footprint of the node's current
// content, used by IsFull/IsUnderflow and by split-point calculation.
func (n *Node) Size() int {
	if n.IsLeaf() {
		size := base.PageHeaderSize + len(n.keys)*base.LeafElementSize
		for i := range n.keys {
			size += len(n.keys[i]) + len(n.values[i])
		}
		return size
	}
	size := base.PageHeaderSize + len(n.keys)*base.BranchElementSize + 8
	for _, k := range n.keys {
		size += len(k)
	}
	return size
}

// IsFull reports whether inserting key (and value, for leaves) would
// overflow the page.
func (n *Node) IsFull(key, value []byte) bool {
	if n.IsLeaf() {
		return n.Size()+base.LeafElementSize+len(key)+len(value) > base.PageSize
	}
	return n.Size()+base.BranchElementSize+len(key) > base.PageSize
}

// minFillBytes is the minimum fill threshold a non-root node must hold
// outside of transient split/merge windows.
const minFillRatio = 0.25

func minFillBytes() int {
	return int(float64(base.PageSize) * minFillRatio)
}

// IsUnderflow reports whether the node has fallen below the minimum fill
// threshold. The root is exempt by convention of the caller (the tree
// never calls IsUnderflow on mRoot outside of rootDelete's own checks).
func (n *Node) IsUnderflow() bool {
	return n.Size() < minFillBytes()
}

// insertKeyValueAt splices a new key/value pair into a leaf's search
// vector at index idx, shifting later entries right.
func (n *Node) insertKeyValueAt(idx int, key, value []byte) {
	n.keys = append(n.keys, nil)
	copy(n.keys[idx+1:], n.keys[idx:])
	n.keys[idx] = key

	n.values = append(n.values, nil)
	copy(n.values[idx+1:], n.values[idx:])
	n.values[idx] = value

	n.invalidateEntryCount()
}

// removeKeyValueAt removes the leaf entry at idx.
func (n *Node) removeKeyValueAt(idx int) {
	n.keys = append(n.keys[:idx], n.keys[idx+1:]...)
	n.values = append(n.values[:idx], n.values[idx+1:]...)
	n.invalidateEntryCount()
}

// insertSeparatorAt splices a new separator key and its right child into
// an internal node at key-index idx (the child lands at children[idx+1]).
func (n *Node) insertSeparatorAt(idx int, key []byte, rightChild base.PageID) {
	n.keys = append(n.keys, nil)
	copy(n.keys[idx+1:], n.keys[idx:])
	n.keys[idx] = key

	n.children = append(n.children, 0)
	copy(n.children[idx+2:], n.children[idx+1:])
	n.children[idx+1] = rightChild
}

// removeSeparatorAt removes separator key-index idx along with the child
// to its right (children[idx+1]); used when a merge absorbs a sibling.
func (n *Node) removeSeparatorAt(idx int) {
	n.keys = append(n.keys[:idx], n.keys[idx+1:]...)
	n.children = append(n.children[:idx+1], n.children[idx+2:]...)
}

func (n *Node) invalidateEntryCount() {
	n.entryCountFresh = false
}

// cloneBytes deep-copies a caller-supplied key/value so the node never
// aliases memory the caller might mutate after the call returns.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// bindFrame links frame into this node's cousin list (node.lastCursorFrame).
func (n *Node) bindFrame(frame *CursorFrame) {
	frame.node = n
	frame.prevCousin = nil
	frame.nextCousin = n.lastCursorFrame
	if n.lastCursorFrame != nil {
		n.lastCursorFrame.prevCousin = frame
	}
	n.lastCursorFrame = frame
}

// unbindFrame removes frame from this node's cousin list, if it is bound
// to this node (a frame freshly rebound elsewhere has frame.node != n).
func (n *Node) unbindFrame(frame *CursorFrame) {
	if frame.node != n {
		return
	}
	if frame.prevCousin != nil {
		frame.prevCousin.nextCousin = frame.nextCousin
	} else {
		n.lastCursorFrame = frame.nextCousin
	}
	if frame.nextCousin != nil {
		frame.nextCousin.prevCousin = frame.prevCousin
	}
	frame.node = nil
	frame.prevCousin = nil
	frame.nextCousin = nil
}

// Serialize encodes the node's current content into a page-sized buffer.
func (n *Node) Serialize(txnID uint64) (*base.Page, error) {
	page := &base.Page{}

	if n.IsLeaf() {
		page.WriteHeader(&base.PageHeader{
			PageID:  n.id,
			Flags:   base.LeafPageFlag,
			NumKeys: uint32(len(n.keys)),
			TxnID:   txnID,
		})
		offset := page.DataAreaStart()
		for i, key := range n.keys {
			value := n.values[i]
			if offset+len(key)+len(value) > base.PageSize {
				return nil, base.ErrPageOverflow
			}
			copy(page.Data[offset:], key)
			copy(page.Data[offset+len(key):], value)
			var reserved uint16
			if value == nil {
				reserved |= base.LeafGhostFlag
			}
			page.WriteLeafElement(i, &base.LeafElement{
				KVOffset:  uint16(offset),
				KeySize:   uint16(len(key)),
				ValueSize: uint16(len(value)),
				Reserved:  reserved,
			})
			offset += len(key) + len(value)
		}
		return page, nil
	}

	page.WriteHeader(&base.PageHeader{
		PageID:  n.id,
		Flags:   base.BranchPageFlag,
		NumKeys: uint32(len(n.keys)),
		TxnID:   txnID,
	})
	page.WriteBranchFirstChild(n.children[0])
	offset := page.DataAreaStart()
	for i, key := range n.keys {
		if offset+len(key) > base.PageSize {
			return nil, base.ErrPageOverflow
		}
		copy(page.Data[offset:], key)
		page.WriteBranchElement(i, &base.BranchElement{
			KeyOffset: uint16(offset),
			KeySize:   uint16(len(key)),
			ChildID:   n.children[i+1],
		})
		offset += len(key)
	}
	return page, nil
}

// Deserialize populates a Node's keys/values/children from a decoded page.
// The node's id and latch must already be set by the caller.
func Deserialize(page *base.Page) (*Node, error) {
	hdr := page.Header()
	n := &Node{id: hdr.PageID, latch: NewLatch()}

	switch {
	case hdr.Flags&base.LeafPageFlag != 0:
		n.flags |= flagLeaf
		elems := page.LeafElements()
		n.keys = make([][]byte, len(elems))
		n.values = make([][]byte, len(elems))
		for i, e := range elems {
			key, err := page.GetKey(e.KVOffset, e.KeySize)
			if err != nil {
				return nil, err
			}
			n.keys[i] = cloneBytes(key)
			if e.Reserved&base.LeafGhostFlag != 0 {
				n.values[i] = nil
				continue
			}
			if e.ValueSize == 0 && e.Reserved&base.LeafOverflowFlag == 0 {
				n.values[i] = []byte{}
				continue
			}
			value, err := page.GetValue(e.KVOffset+e.KeySize, e.ValueSize)
			if err != nil {
				return nil, err
			}
			n.values[i] = cloneBytes(value)
		}
	case hdr.Flags&base.BranchPageFlag != 0:
		elems := page.BranchElements()
		n.keys = make([][]byte, len(elems))
		n.children = make([]base.PageID, len(elems)+1)
		n.children[0] = page.ReadBranchFirstChild()
		for i, e := range elems {
			key, err := page.GetKey(e.KeyOffset, e.KeySize)
			if err != nil {
				return nil, err
			}
			n.keys[i] = cloneBytes(key)
			n.children[i+1] = e.ChildID
		}
	default:
		return nil, ErrCorruption
	}

	return n, nil
}
