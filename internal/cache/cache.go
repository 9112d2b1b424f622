// Package cache provides a bounded LRU of clean, already-serialized disk
// pages. It has no notion of B+tree structure — that decoding/encoding
// happens one layer up, in the node-level cache that wraps this one — so it
// stays reusable by anything that reads and writes latchtree's page format.
package cache

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"latchtree/internal/base"
)

// PageCache is a fixed-capacity LRU of recently read or written pages,
// keyed by page id. Eviction is handled entirely by the underlying
// go-freelru ring; callers never need to size-check before Add.
type PageCache struct {
	lru *freelru.LRU[base.PageID, *base.Page]
}

// New creates a PageCache holding up to capacity pages.
func New(capacity uint32) (*PageCache, error) {
	lru, err := freelru.New[base.PageID, *base.Page](capacity, hashPageID)
	if err != nil {
		return nil, err
	}
	return &PageCache{lru: lru}, nil
}

func hashPageID(id base.PageID) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return uint32(xxhash.Sum64(buf[:]))
}

// Get returns the cached page for id, if present.
func (c *PageCache) Get(id base.PageID) (*base.Page, bool) {
	return c.lru.Get(id)
}

// Add inserts or refreshes the cached page for id.
func (c *PageCache) Add(id base.PageID, page *base.Page) {
	c.lru.Add(id, page)
}

// Remove evicts id, e.g. because the page was freed and its id may be
// reused for unrelated content.
func (c *PageCache) Remove(id base.PageID) {
	c.lru.Remove(id)
}

// Len reports the current number of cached pages.
func (c *PageCache) Len() int {
	return c.lru.Len()
}

// Purge drops every cached page, used when the underlying file is replaced
// (e.g. after a restore).
func (c *PageCache) Purge() {
	c.lru.Purge()
}
