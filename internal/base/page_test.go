package base

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	var page Page
	hdr := PageHeader{PageID: 42, Flags: LeafPageFlag, NumKeys: 3, TxnID: 7}
	page.WriteHeader(&hdr)

	got := page.Header()
	assert.Equal(t, hdr, *got)
}

func TestLeafElementRoundTrip(t *testing.T) {
	t.Parallel()

	var page Page
	page.WriteHeader(&PageHeader{Flags: LeafPageFlag, NumKeys: 2})

	e0 := LeafElement{KVOffset: 100, KeySize: 3, ValueSize: 5}
	e1 := LeafElement{KVOffset: 200, KeySize: 4, ValueSize: 6}
	page.WriteLeafElement(0, &e0)
	page.WriteLeafElement(1, &e1)

	elems := page.LeafElements()
	require.Len(t, elems, 2)
	assert.Equal(t, e0, elems[0])
	assert.Equal(t, e1, elems[1])
}

func TestBranchElementRoundTrip(t *testing.T) {
	t.Parallel()

	var page Page
	page.WriteHeader(&PageHeader{Flags: BranchPageFlag, NumKeys: 1})

	e0 := BranchElement{KeyOffset: 64, KeySize: 3, ChildID: 9}
	page.WriteBranchElement(0, &e0)
	page.WriteBranchFirstChild(5)

	elems := page.BranchElements()
	require.Len(t, elems, 1)
	assert.Equal(t, e0, elems[0])
	assert.Equal(t, PageID(5), page.ReadBranchFirstChild())
}

func TestGetKeyOutOfBounds(t *testing.T) {
	t.Parallel()

	var page Page
	_, err := page.GetKey(PageSize-2, 10)
	assert.ErrorIs(t, err, ErrInvalidOffset)
}

func TestMetaPageChecksum(t *testing.T) {
	t.Parallel()

	m := MetaPage{
		Magic:      MagicNumber,
		Version:    FormatVersion,
		PageSize:   PageSize,
		RootPageID: 2,
		TxnID:      1,
	}
	m.Checksum = m.CalculateChecksum()
	require.NoError(t, m.Validate())

	m.TxnID = 2
	assert.ErrorIs(t, m.Validate(), ErrInvalidChecksum)
}

func TestOverflowNextPageID(t *testing.T) {
	t.Parallel()

	var page Page
	page.WriteNextPageID(123)
	assert.Equal(t, PageID(123), page.ReadNextPageID())
}
