package storage

import "latchtree/internal/base"

// Pager is the raw page I/O backend shared by MMap and DirectIO. The root
// package's node cache talks to this interface rather than to a concrete backend, so the
// choice of mmap vs direct I/O is a deployment decision, not a code one.
type Pager interface {
	ReadPage(id base.PageID) (*base.Page, error)
	WritePage(id base.PageID, page *base.Page) error
	Sync() error
	Empty() (bool, error)
	Close() error
}

// Stats holds I/O statistics common to every Pager implementation.
type Stats struct {
	Reads   uint64
	Writes  uint64
	Read    uint64
	Written uint64
}

var (
	_ Pager = (*MMap)(nil)
	_ Pager = (*DirectIO)(nil)
)
