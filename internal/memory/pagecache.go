package memory

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PageCache is a read-through cache of whole pages in front of a Memory.
// It freezes what it has seen, so it is only meant for a single discovery
// pass over a live target, never for reads that must observe the registry grow.
type PageCache struct {
	next  Memory
	pages *lru.Cache[uint64, []byte]
}

// NewPageCache caches up to n pages of next.
func NewPageCache(next Memory, n int) (*PageCache, error) {
	c, err := lru.New[uint64, []byte](n)
	if err != nil {
		return nil, fmt.Errorf("page cache: %w", err)
	}
	return &PageCache{next: next, pages: c}, nil
}

// IsReadable implements Memory.
func (c *PageCache) IsReadable(addr uint64) bool {
	return c.next.IsReadable(addr)
}

// IsRangeReadable implements RangeChecker.
func (c *PageCache) IsRangeReadable(addr, size uint64) bool {
	return NewView(c.next).CanRead(addr, size)
}

// Read implements Memory.
func (c *PageCache) Read(addr uint64, p []byte) error {
	for len(p) > 0 {
		base := addr &^ (pageSize - 1)
		page, ok := c.page(base)
		if !ok {
			// Partially mapped page; go to the backend for exactly what was asked.
			return c.next.Read(addr, p)
		}
		n := copy(p, page[addr-base:])
		p = p[n:]
		addr += uint64(n)
	}
	return nil
}

func (c *PageCache) page(base uint64) ([]byte, bool) {
	if page, ok := c.pages.Get(base); ok {
		return page, true
	}
	if !NewView(c.next).CanRead(base, pageSize) {
		return nil, false
	}
	page := make([]byte, pageSize)
	if err := c.next.Read(base, page); err != nil {
		return nil, false
	}
	c.pages.Add(base, page)
	return page, true
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	return c.pages.Len()
}
