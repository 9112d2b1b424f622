// Package base defines the on-disk page format shared by every storage
// backend: the fixed-size page layout, the packed element tables that make
// up a node's search vector, and the meta page that anchors the tree root
// and free list.
package base

import (
	"encoding/binary"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

const (
	PageSize = 4096

	LeafPageFlag     uint32 = 0x01
	BranchPageFlag   uint32 = 0x02
	OverflowPageFlag uint32 = 0x04

	PageHeaderSize    = 24 // PageID(8) + Flags(4) + NumKeys(4) + TxnID(8)
	LeafElementSize   = 8
	BranchElementSize = 16

	// MagicNumber identifies the file format ("ltdb" in hex-ish ASCII).
	MagicNumber uint32 = 0x6c746462

	FormatVersion uint16 = 1

	OverflowThreshold            = 3072                      // values at or above this size are fragmented
	MaxValueSize                 = 268435456                 // 256MB cap
	OverflowFirstPageDataSize    = PageSize - PageHeaderSize - 8 // 4064 bytes (last 8 hold the next-page ID)
	OverflowContinuationPageSize = PageSize                  // 4096 bytes (no header)
	LeafOverflowFlag uint16 = 0x01
	LeafGhostFlag    uint16 = 0x02
)

type PageID uint64

// Page is one fixed-size slot of the backing file or mapped region.
//
// LEAF PAGE LAYOUT:
// ┌─────────────────────────────────────────────────────────────────────┐
// │ Header (24 bytes): PageID, Flags, NumKeys, TxnID                    │
// ├─────────────────────────────────────────────────────────────────────┤
// │ LeafElement[0..N-1] (8 bytes each): KVOffset, KeySize, ValueSize     │
// │ — this is the node's search vector, one entry per key, kept sorted  │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Data area: Key[0] | Value[0] | Key[1] | Value[1] | ...              │
// └─────────────────────────────────────────────────────────────────────┘
//
// BRANCH PAGE LAYOUT:
// ┌─────────────────────────────────────────────────────────────────────┐
// │ Header (24 bytes)                                                   │
// ├─────────────────────────────────────────────────────────────────────┤
// │ BranchElement[0..N-1] (16 bytes each): KeyOffset, KeySize, ChildID   │
// ├─────────────────────────────────────────────────────────────────────┤
// │ FirstChild (8 bytes) — the child to the left of BranchElement[0]    │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Data area: Key[0] | Key[1] | ... | Key[N-1]                         │
// └─────────────────────────────────────────────────────────────────────┘
//
// OVERFLOW PAGE LAYOUT:
// First page carries a header plus up to OverflowFirstPageDataSize payload
// bytes and the ID of the next page in the chain (last 8 bytes of the
// page); continuation pages are pure payload with a trailing next-pointer.
type Page struct {
	Data [PageSize]byte
}

// PageHeader is the fixed header at the start of every page.
// Layout: [PageID: 8][Flags: 4][NumKeys: 4][TxnID: 8]
type PageHeader struct {
	PageID  PageID
	Flags   uint32
	NumKeys uint32
	TxnID   uint64 // transaction that last wrote this page
}

// LeafElement is one search-vector slot in a leaf page.
// Layout: [KVOffset: 2][KeySize: 2][ValueSize: 2][Reserved: 2]
type LeafElement struct {
	KVOffset  uint16 // offset to key start; value begins at KVOffset+KeySize
	KeySize   uint16
	ValueSize uint16
	Reserved  uint16 // LeafOverflowFlag and future per-entry flags
}

// BranchElement is one search-vector slot in a branch page.
// Layout: [KeyOffset: 2][KeySize: 2][Reserved: 4][ChildID: 8]
type BranchElement struct {
	KeyOffset uint16
	KeySize   uint16
	Reserved  uint32
	ChildID   PageID
}

// Header returns the page header decoded in place.
func (p *Page) Header() *PageHeader {
	return (*PageHeader)(unsafe.Pointer(&p.Data[0]))
}

// LeafElements returns the leaf search vector, aliasing the page buffer.
func (p *Page) LeafElements() []LeafElement {
	h := p.Header()
	if h.NumKeys == 0 {
		return nil
	}
	ptr := unsafe.Pointer(&p.Data[PageHeaderSize])
	return unsafe.Slice((*LeafElement)(ptr), h.NumKeys)
}

// BranchElements returns the branch search vector, aliasing the page buffer.
func (p *Page) BranchElements() []BranchElement {
	h := p.Header()
	if h.NumKeys == 0 {
		return nil
	}
	ptr := unsafe.Pointer(&p.Data[PageHeaderSize])
	return unsafe.Slice((*BranchElement)(ptr), h.NumKeys)
}

// WriteHeader overwrites the page header.
func (p *Page) WriteHeader(h *PageHeader) {
	*p.Header() = *h
}

// WriteLeafElement writes a leaf search-vector slot at idx.
func (p *Page) WriteLeafElement(idx int, e *LeafElement) {
	ptr := unsafe.Pointer(&p.Data[PageHeaderSize+idx*LeafElementSize])
	*(*LeafElement)(ptr) = *e
}

// WriteBranchElement writes a branch search-vector slot at idx.
func (p *Page) WriteBranchElement(idx int, e *BranchElement) {
	ptr := unsafe.Pointer(&p.Data[PageHeaderSize+idx*BranchElementSize])
	*(*BranchElement)(ptr) = *e
}

// GetKey slices the key bytes at the given absolute offset and size.
func (p *Page) GetKey(offset, size uint16) ([]byte, error) {
	return p.slice(offset, size)
}

// GetValue slices the value bytes at the given absolute offset and size.
func (p *Page) GetValue(offset, size uint16) ([]byte, error) {
	return p.slice(offset, size)
}

func (p *Page) slice(offset, size uint16) ([]byte, error) {
	start := int(offset)
	end := start + int(size)
	if start < 0 || end > PageSize || start > end {
		return nil, ErrInvalidOffset
	}
	return p.Data[start:end], nil
}

// WriteBranchFirstChild writes the child id preceding BranchElement[0].
func (p *Page) WriteBranchFirstChild(childID PageID) {
	h := p.Header()
	offset := PageHeaderSize + int(h.NumKeys)*BranchElementSize
	*(*PageID)(unsafe.Pointer(&p.Data[offset])) = childID
}

// ReadBranchFirstChild reads the child id preceding BranchElement[0].
func (p *Page) ReadBranchFirstChild() PageID {
	h := p.Header()
	offset := PageHeaderSize + int(h.NumKeys)*BranchElementSize
	return *(*PageID)(unsafe.Pointer(&p.Data[offset]))
}

// dataAreaStart returns the offset where variable-length key/value bytes begin.
func (p *Page) dataAreaStart() int {
	h := p.Header()
	if h.Flags&LeafPageFlag != 0 {
		return PageHeaderSize + int(h.NumKeys)*LeafElementSize
	}
	return PageHeaderSize + int(h.NumKeys)*BranchElementSize + 8
}

// DataAreaStart exposes dataAreaStart for callers outside the package that
// need to know how much room is left for variable-length entries.
func (p *Page) DataAreaStart() int {
	return p.dataAreaStart()
}

// MetaPage anchors the tree root, free list, and transaction counters.
// Layout: [Magic:4][Version:2][PageSize:2][RootPageID:8][FreelistID:8]
// [FreelistPages:8][TxnID:8][CheckpointTxnID:8][NumPages:8][Checksum:8]
type MetaPage struct {
	Magic           uint32
	Version         uint16
	PageSize        uint16
	RootPageID      PageID
	FreelistID      PageID
	FreelistPages   uint64
	TxnID           uint64
	CheckpointTxnID uint64
	NumPages        uint64
	Checksum        uint64
}

// WriteMeta writes the meta page starting right after the page header.
func (p *Page) WriteMeta(m *MetaPage) {
	ptr := unsafe.Pointer(&p.Data[PageHeaderSize])
	*(*MetaPage)(ptr) = *m
}

// ReadMeta reads the meta page starting right after the page header.
func (p *Page) ReadMeta() *MetaPage {
	ptr := unsafe.Pointer(&p.Data[PageHeaderSize])
	return (*MetaPage)(ptr)
}

// CalculateChecksum hashes every field of MetaPage except Checksum itself.
func (m *MetaPage) CalculateChecksum() uint64 {
	data := unsafe.Slice((*byte)(unsafe.Pointer(m)), 56)
	return xxhash.Sum64(data)
}

// Validate checks the meta page's magic, version, page size, and checksum.
func (m *MetaPage) Validate() error {
	if m.Magic != MagicNumber {
		return ErrInvalidMagicNumber
	}
	if m.Version != FormatVersion {
		return ErrInvalidVersion
	}
	if m.PageSize != PageSize {
		return ErrInvalidPageSize
	}
	if m.Checksum != m.CalculateChecksum() {
		return ErrInvalidChecksum
	}
	return nil
}

// WriteNextPageID writes the next overflow page pointer to the page's tail.
func (p *Page) WriteNextPageID(next PageID) {
	binary.LittleEndian.PutUint64(p.Data[PageSize-8:], uint64(next))
}

// ReadNextPageID reads the next overflow page pointer from the page's tail.
func (p *Page) ReadNextPageID() PageID {
	return PageID(binary.LittleEndian.Uint64(p.Data[PageSize-8:]))
}
