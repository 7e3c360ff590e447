package pagefile

import (
	"container/list"
	"sort"
	"sync/atomic"
)

// pageCache is an LRU cache of clean page images plus a pinned set of
// dirty pages awaiting flush. Dirty pages are never evicted; they only
// leave the cache by being flushed, after which they re-enter the clean
// side. The cache is not locked: the tree above serializes access.
type pageCache struct {
	capacity  int
	items     map[uint64]*list.Element
	evictList *list.List
	dirty     map[uint64][]byte

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	page uint64
	data []byte
}

func newPageCache(capacity int) *pageCache {
	return &pageCache{
		capacity:  capacity,
		items:     make(map[uint64]*list.Element),
		evictList: list.New(),
		dirty:     make(map[uint64][]byte),
	}
}

// get returns a cached page image, dirty or clean.
func (c *pageCache) get(page uint64) ([]byte, bool) {
	if data, ok := c.dirty[page]; ok {
		c.hits.Add(1)
		return data, true
	}
	if el, ok := c.items[page]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*cacheEntry).data, true
	}
	c.misses.Add(1)
	return nil, false
}

// putClean caches a page read from disk, evicting the least recently
// used clean page on overflow.
func (c *pageCache) putClean(page uint64, data []byte) {
	if _, ok := c.dirty[page]; ok {
		return
	}
	if el, ok := c.items[page]; ok {
		c.evictList.MoveToFront(el)
		el.Value.(*cacheEntry).data = data
		return
	}
	for len(c.items) >= c.capacity {
		back := c.evictList.Back()
		if back == nil {
			break
		}
		ent := back.Value.(*cacheEntry)
		c.evictList.Remove(back)
		delete(c.items, ent.page)
	}
	c.items[page] = c.evictList.PushFront(&cacheEntry{page: page, data: data})
}

// putDirty stages a page write; the image is pinned until flushed.
func (c *pageCache) putDirty(page uint64, data []byte) {
	if el, ok := c.items[page]; ok {
		c.evictList.Remove(el)
		delete(c.items, page)
	}
	c.dirty[page] = data
}

// drop removes a page from the cache entirely (freed pages).
func (c *pageCache) drop(page uint64) {
	delete(c.dirty, page)
	if el, ok := c.items[page]; ok {
		c.evictList.Remove(el)
		delete(c.items, page)
	}
}

// dirtyPages returns the staged page ids in ascending order, for
// sequential flushing.
func (c *pageCache) dirtyPages() []uint64 {
	pages := make([]uint64, 0, len(c.dirty))
	for page := range c.dirty {
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}

// markFlushed moves a dirty page to the clean side after it reached
// disk.
func (c *pageCache) markFlushed(page uint64) {
	data, ok := c.dirty[page]
	if !ok {
		return
	}
	delete(c.dirty, page)
	c.putClean(page, data)
}

// hitRatio returns the fraction of lookups served from the cache.
func (c *pageCache) hitRatio() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
