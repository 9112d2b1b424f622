package blob

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latchtree/internal/base"
)

// fakeStore is an in-memory PageStore for exercising Store/Load/FreeChain
// without a real pager.
type fakeStore struct {
	pages map[base.PageID]*base.Page
	next  base.PageID
	freed []base.PageID
}

func newFakeStore() *fakeStore {
	return &fakeStore{pages: make(map[base.PageID]*base.Page), next: 1}
}

func (s *fakeStore) Allocate() (base.PageID, error) {
	id := s.next
	s.next++
	return id, nil
}

func (s *fakeStore) Free(id base.PageID) {
	s.freed = append(s.freed, id)
	delete(s.pages, id)
}

func (s *fakeStore) Write(id base.PageID, page *base.Page) error {
	cp := *page
	s.pages[id] = &cp
	return nil
}

func (s *fakeStore) Read(id base.PageID) (*base.Page, error) {
	p, ok := s.pages[id]
	if !ok {
		return nil, errNotFound
	}
	return p, nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return string(e) }

var errNotFound = notFoundErr("blob test: page not found")

func TestStoreLoadSinglePage(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	value := bytes.Repeat([]byte("a"), 100)

	firstID, err := Store(s, 1, value)
	require.NoError(t, err)

	got, err := Load(s, firstID, len(value))
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestStoreLoadMultiPageChain(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	value := bytes.Repeat([]byte("b"), base.OverflowFirstPageDataSize+base.OverflowContinuationPageSize+500)

	firstID, err := Store(s, 1, value)
	require.NoError(t, err)
	assert.Greater(t, len(s.pages), 1)

	got, err := Load(s, firstID, len(value))
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestStoreValueTooLarge(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	_, err := Store(s, 1, make([]byte, base.MaxValueSize+1))
	assert.ErrorIs(t, err, ErrValueTooLarge)
}

func TestFreeChainReleasesEveryPage(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	value := bytes.Repeat([]byte("c"), base.OverflowFirstPageDataSize*3)

	firstID, err := Store(s, 1, value)
	require.NoError(t, err)

	pagesBefore := len(s.pages)
	require.Greater(t, pagesBefore, 1)

	require.NoError(t, FreeChain(s, firstID))
	assert.Equal(t, pagesBefore, len(s.freed))
	assert.Equal(t, 0, len(s.pages))
}
