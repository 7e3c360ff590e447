package pagefile

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/time/rate"

	"github.com/boxtreedb/boxtree/internal/mmap"
	"github.com/boxtreedb/boxtree/rtree"
)

// DefaultCacheSize is the page cache capacity used when none is set.
const DefaultCacheSize = 1024

// Options configures Open.
type Options struct {
	// IndexPath and DataPath locate the two files of the index.
	IndexPath string
	DataPath  string

	// Config is the tree configuration recorded in the header page.
	// When opening an existing pair it must match the recorded one.
	Config Config

	// CacheSize is the page cache capacity in pages.
	CacheSize int

	// Overwrite truncates and recreates both files instead of
	// appending to an existing pair.
	Overwrite bool

	// ReadOnly opens the pair for queries only and memory-maps the
	// index file where the platform supports it.
	ReadOnly bool

	// SyncWrites flushes after every metadata commit, trading write
	// throughput for durability of each individual mutation.
	SyncWrites bool

	// Compression selects payload compression for new data files.
	Compression Compression

	// CodecName is the payload codec name recorded in new data files.
	CodecName string

	// WriteRate caps page flushing in pages per second. Zero means
	// unlimited.
	WriteRate rate.Limit
}

// Store persists tree nodes in fixed-size pages and payloads in an
// append-only log. It implements the rtree store contracts (NodeStore,
// PayloadStore, MetaStore, Flusher) plus io.Closer; the tree above
// serializes all access.
type Store struct {
	cfg   Config
	idx   *os.File
	data  *dataFile
	cache *pageCache

	// free holds pages the committed header lists as free; they carry
	// no committed data and are safe to reuse at once. pendingFree
	// holds pages freed since the last commit, which the committed
	// snapshot may still reference, so their reuse waits for the next
	// header commit. fresh holds pages allocated since the last commit;
	// only these may be rewritten in place.
	free        *roaring.Bitmap
	pendingFree *roaring.Bitmap
	fresh       *roaring.Bitmap
	next        uint64

	meta        rtree.Meta
	metaLoaded  bool
	headerDirty bool

	syncWrites bool
	readOnly   bool
	mapped     []byte
	limiter    *rate.Limiter
	closed     bool
}

// Open opens or creates the two-file index at the configured paths.
func Open(opts Options) (*Store, error) {
	cfg := opts.Config
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	s := &Store{
		cfg:         cfg,
		cache:       newPageCache(cacheSize),
		pendingFree: roaring.New(),
		fresh:       roaring.New(),
		syncWrites:  opts.SyncWrites,
		readOnly:    opts.ReadOnly,
	}
	if opts.WriteRate > 0 {
		burst := int(opts.WriteRate)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(opts.WriteRate, burst)
	}

	_, statErr := os.Stat(opts.IndexPath)
	exists := statErr == nil

	switch {
	case opts.ReadOnly:
		if !exists {
			return nil, fmt.Errorf("open read-only: %w", os.ErrNotExist)
		}
		if err := s.openExisting(opts, true); err != nil {
			return nil, err
		}
	case exists && !opts.Overwrite:
		if err := s.openExisting(opts, false); err != nil {
			return nil, err
		}
	default:
		if err := s.create(opts); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) create(opts Options) error {
	idx, err := os.OpenFile(opts.IndexPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	s.idx = idx
	s.free = roaring.New()
	s.next = 1

	// Lay down an empty header up front so a pair that never gets
	// flushed still reopens cleanly.
	if err := s.writeHeader(); err != nil {
		idx.Close()
		return err
	}
	if err := idx.Sync(); err != nil {
		idx.Close()
		return err
	}

	data, err := createDataFile(opts.DataPath, opts.Compression, opts.CodecName)
	if err != nil {
		idx.Close()
		return err
	}
	s.data = data
	return nil
}

func (s *Store) openExisting(opts Options, readOnly bool) error {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	idx, err := os.OpenFile(opts.IndexPath, flag, 0o644)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	s.idx = idx

	// The stored page size governs where the header's CRC trailer
	// sits, so peek at the fixed fields before reading the full page.
	peek := make([]byte, headerFixedSize)
	if _, err := idx.ReadAt(peek, 0); err != nil {
		idx.Close()
		return fmt.Errorf("read header page: %w", err)
	}
	if binary.LittleEndian.Uint32(peek[0:]) != IndexMagic {
		idx.Close()
		return ErrInvalidMagic
	}
	storedPageSize := int(binary.LittleEndian.Uint32(peek[12:]))
	if storedPageSize < MinPageSize || storedPageSize > 1<<24 {
		idx.Close()
		return ErrInvalidVersion
	}
	page := make([]byte, storedPageSize)
	if _, err := idx.ReadAt(page, 0); err != nil {
		idx.Close()
		return fmt.Errorf("read header page: %w", err)
	}
	h, err := decodeHeader(page)
	if err != nil {
		idx.Close()
		return err
	}
	if err := checkConfig(h.config, s.cfg); err != nil {
		idx.Close()
		return err
	}

	// Layout and clustering flags follow the file, not the caller.
	s.cfg = h.config
	s.free = h.free
	s.next = h.nextPage
	s.meta = rtree.Meta{Root: rtree.Ref(h.root), Height: int(h.height), Count: h.count}
	s.metaLoaded = true

	if readOnly && mmap.Supported {
		info, err := idx.Stat()
		if err != nil {
			idx.Close()
			return err
		}
		if info.Size() > 0 {
			if m, err := mmap.Map(idx, int(info.Size())); err == nil {
				s.mapped = m
			}
			// On mapping failure, fall back to file reads.
		}
	}

	data, err := openDataFile(opts.DataPath, readOnly)
	if err != nil {
		s.unmap()
		idx.Close()
		return err
	}
	s.data = data
	return nil
}

// Config returns the effective configuration, which for an existing
// pair is the one recorded in the header.
func (s *Store) Config() Config { return s.cfg }

// CodecName returns the payload codec name recorded in the data file.
func (s *Store) CodecName() string { return s.data.codecName }

// Allocate reserves a page, reusing committed-free pages before
// extending the file. Pages freed since the last commit are not
// candidates: they still back the committed snapshot.
func (s *Store) Allocate() (rtree.Ref, error) {
	if s.readOnly {
		return rtree.InvalidRef, ErrReadOnly
	}
	s.headerDirty = true
	var page uint64
	if !s.free.IsEmpty() {
		p := s.free.Minimum()
		s.free.Remove(p)
		page = uint64(p)
	} else {
		page = s.next
		s.next++
	}
	s.fresh.Add(uint32(page))
	return rtree.Ref(page), nil
}

// Fetch loads and decodes the node stored under ref. Each call returns
// a fresh Node the caller may mutate.
func (s *Store) Fetch(ref rtree.Ref) (*rtree.Node, error) {
	page := uint64(ref)
	if page == 0 || page >= s.next ||
		s.free.Contains(uint32(page)) || s.pendingFree.Contains(uint32(page)) {
		return nil, &rtree.ErrCorrupted{Ref: ref, Detail: "stale page reference"}
	}
	if buf, ok := s.cache.get(page); ok {
		return decodeNode(buf, s.cfg, ref)
	}
	buf, err := s.readPage(page)
	if err != nil {
		return nil, err
	}
	node, err := decodeNode(buf, s.cfg, ref)
	if err != nil {
		return nil, err
	}
	s.cache.putClean(page, buf)
	return node, nil
}

// Write encodes the node and stages it in the cache; the bytes reach
// disk on the next flush. Pages the committed header references are
// never rewritten in place: the node moves to a freshly allocated page
// and the old one is queued for release at the next header commit, so
// a crash mid-flush cannot damage the committed snapshot. The returned
// handle is the page the node now lives on.
func (s *Store) Write(ref rtree.Ref, node *rtree.Node) (rtree.Ref, error) {
	if s.readOnly {
		return rtree.InvalidRef, ErrReadOnly
	}
	buf, err := encodeNode(node, s.cfg)
	if err != nil {
		return rtree.InvalidRef, err
	}
	page := uint64(ref)
	if !s.fresh.Contains(uint32(page)) {
		moved, err := s.Allocate()
		if err != nil {
			return rtree.InvalidRef, err
		}
		s.pendingFree.Add(uint32(page))
		s.cache.drop(page)
		ref = moved
		page = uint64(moved)
	}
	s.cache.putDirty(page, buf)
	return ref, nil
}

// Free releases the page. Pages allocated since the last commit return
// to the free set at once; pages the committed header still references
// become reusable only after the next header commit.
func (s *Store) Free(ref rtree.Ref) error {
	if s.readOnly {
		return ErrReadOnly
	}
	page := uint64(ref)
	if page == 0 || page >= s.next {
		return &rtree.ErrCorrupted{Ref: ref, Detail: "free of stale page reference"}
	}
	if s.fresh.Contains(uint32(page)) {
		s.fresh.Remove(uint32(page))
		s.free.Add(uint32(page))
	} else {
		s.pendingFree.Add(uint32(page))
	}
	s.cache.drop(page)
	s.headerDirty = true
	return nil
}

// Put appends a payload record to the data file.
func (s *Store) Put(data []byte) (uint64, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}
	return s.data.Put(data)
}

// Get reads a payload record from the data file.
func (s *Store) Get(handle uint64) ([]byte, error) {
	return s.data.Get(handle)
}

// FreePayload marks a payload record as reclaimable.
func (s *Store) FreePayload(handle uint64) error {
	return s.data.Free(handle)
}

// Payloads exposes the data file as an rtree.PayloadStore. The adapter
// exists because the store's node Free and payload Free would otherwise
// collide on one method set.
func (s *Store) Payloads() rtree.PayloadStore {
	return payloadView{s: s}
}

type payloadView struct {
	s *Store
}

func (v payloadView) Put(data []byte) (uint64, error) { return v.s.Put(data) }

func (v payloadView) Get(handle uint64) ([]byte, error) { return v.s.Get(handle) }

func (v payloadView) Free(handle uint64) error { return v.s.FreePayload(handle) }

// SaveMeta stages the tree metadata for the next header commit. With
// SyncWrites enabled, the commit happens immediately.
func (s *Store) SaveMeta(m rtree.Meta) error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.meta = m
	s.metaLoaded = true
	s.headerDirty = true
	if s.syncWrites {
		return s.Flush()
	}
	return nil
}

// LoadMeta returns the tree metadata recovered from the header page.
func (s *Store) LoadMeta() (rtree.Meta, bool, error) {
	return s.meta, s.metaLoaded, nil
}

// Flush commits staged state: payload records first, then dirty node
// pages, and the header page strictly last, each stage fsynced before
// the next. Dirty pages only ever occupy pages the committed header
// does not reference (see Write), so a crash at any point leaves the
// previous header - and with it a consistent tree - intact on disk.
func (s *Store) Flush() error {
	if s.readOnly {
		return nil
	}
	if err := s.data.Sync(); err != nil {
		return fmt.Errorf("sync data file: %w", err)
	}

	dirty := s.cache.dirtyPages()
	for _, page := range dirty {
		if s.limiter != nil {
			if err := s.limiter.Wait(context.Background()); err != nil {
				return err
			}
		}
		buf, _ := s.cache.get(page)
		if _, err := s.idx.WriteAt(buf, int64(page)*int64(s.cfg.PageSize)); err != nil {
			return fmt.Errorf("write page %d: %w", page, err)
		}
	}
	if len(dirty) > 0 {
		if err := s.idx.Sync(); err != nil {
			return fmt.Errorf("sync index file: %w", err)
		}
		for _, page := range dirty {
			s.cache.markFlushed(page)
		}
	}

	if s.headerDirty {
		if err := s.writeHeader(); err != nil {
			return err
		}
		if err := s.idx.Sync(); err != nil {
			return fmt.Errorf("sync header page: %w", err)
		}
		s.headerDirty = false

		// The commit retired the previous snapshot: its pages become
		// reusable and the pages written above become committed.
		s.free.Or(s.pendingFree)
		s.pendingFree.Clear()
		s.fresh.Clear()
	}
	return nil
}

func (s *Store) writeHeader() error {
	freeSet := s.free
	if !s.pendingFree.IsEmpty() {
		freeSet = roaring.Or(s.free, s.pendingFree)
	}
	h := &header{
		config:   s.cfg,
		root:     uint64(s.meta.Root),
		height:   uint32(s.meta.Height),
		count:    s.meta.Count,
		nextPage: s.next,
		free:     freeSet,
	}
	buf, err := encodeHeader(h, s.cfg.PageSize)
	if err != nil {
		return err
	}
	if _, err := s.idx.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write header page: %w", err)
	}
	return nil
}

// Close flushes staged state and closes both files.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.readOnly {
		if err := s.Flush(); err != nil {
			s.unmap()
			s.idx.Close()
			s.data.Close()
			return err
		}
	}
	s.unmap()
	if err := s.idx.Close(); err != nil {
		s.data.Close()
		return err
	}
	return s.data.Close()
}

func (s *Store) unmap() {
	if s.mapped != nil {
		_ = mmap.Unmap(s.mapped)
		s.mapped = nil
	}
}

func (s *Store) readPage(page uint64) ([]byte, error) {
	off := int64(page) * int64(s.cfg.PageSize)
	buf := make([]byte, s.cfg.PageSize)
	if s.mapped != nil && off+int64(s.cfg.PageSize) <= int64(len(s.mapped)) {
		copy(buf, s.mapped[off:])
		return buf, nil
	}
	if _, err := s.idx.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", page, err)
	}
	return buf, nil
}

// Stats is a snapshot of the store's resource usage.
type Stats struct {
	Pages         uint64
	FreePages     uint64
	CacheHitRatio float64
	DataSize      int64
	FreedRecords  uint64
}

// Stats returns the store's current resource usage.
func (s *Store) Stats() Stats {
	return Stats{
		Pages:         s.next - 1,
		FreePages:     s.free.GetCardinality(),
		CacheHitRatio: s.cache.hitRatio(),
		DataSize:      s.data.size,
		FreedRecords:  s.data.freedRecords,
	}
}
