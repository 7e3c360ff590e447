// Package pagefile persists an R-tree as two files: a paged index file
// holding fixed-size node pages behind an LRU cache, and an append-only
// data file holding payload records for clustered indexes.
//
// Page 0 of the index file is the header page; it carries the tree
// configuration, the root/height/count metadata, the next-page
// watermark, and the serialized free-page bitmap, protected by a CRC32
// trailer. The header is always written and fsynced last, so a crash
// mid-flush leaves the previous consistent snapshot on disk.
package pagefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	// IndexMagic identifies index files (ASCII "BXT1").
	IndexMagic = 0x42585431
	// DataMagic identifies data files (ASCII "BXD1").
	DataMagic = 0x42584431
	// Version is the current file format version (v1.0.0).
	Version = 0x00010000

	// DefaultPageSize is the index page size used when none is set.
	DefaultPageSize = 4096
	// MinPageSize is the smallest accepted page size.
	MinPageSize = 512

	// headerFixedSize is the byte length of the header page fields
	// before the variable-length free-page bitmap.
	headerFixedSize = 52

	// nodeHeaderSize is the per-page node prefix (level, entry count).
	nodeHeaderSize = 4

	// crcSize is the CRC32 trailer carried by every page.
	crcSize = 4

	// dataHeaderSize is the byte length of the data file header.
	dataHeaderSize = 32

	// recordHeaderSize is the per-record prefix in the data file:
	// stored length, raw length, compression id, CRC32.
	recordHeaderSize = 13

	// codecNameSize is the fixed space reserved for the payload codec
	// name in the data file header.
	codecNameSize = 16
)

var (
	// ErrInvalidMagic indicates a file that is not a boxtree file.
	ErrInvalidMagic = errors.New("invalid magic number")
	// ErrInvalidVersion indicates a file written by an unsupported
	// format version.
	ErrInvalidVersion = errors.New("unsupported format version")
	// ErrReadOnly is returned by mutating operations on a read-only
	// store.
	ErrReadOnly = errors.New("store is read-only")
)

// ChecksumError is returned when stored bytes fail CRC verification.
type ChecksumError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// ConfigMismatchError is returned when an existing file's recorded
// configuration disagrees with the one requested at open.
type ConfigMismatchError struct {
	Field  string
	Stored uint64
	Given  uint64
}

func (e *ConfigMismatchError) Error() string {
	return fmt.Sprintf("config mismatch on %s: file has %d, requested %d", e.Field, e.Stored, e.Given)
}

// PageTooSmallError is returned when the configured page size cannot
// hold a full node at the configured fan-out.
type PageTooSmallError struct {
	PageSize int
	Required int
}

func (e *PageTooSmallError) Error() string {
	return fmt.Sprintf("page size %d cannot hold a full node (need %d bytes)", e.PageSize, e.Required)
}

// Config is the portion of the index configuration recorded in the
// header page and validated on reopen.
type Config struct {
	Dimension  int
	PageSize   int
	MaxEntries int
	MinEntries int
	Layout     uint8 // coordinate layout at the API boundary
	Clustered  bool
}

// entrySize is the on-page footprint of one entry: 2*dim float64
// corners plus the child ref, id and payload handle.
func (c Config) entrySize() int {
	return 16*c.Dimension + 24
}

// validate checks that a full node fits a page alongside the node
// prefix and CRC trailer.
func (c Config) validate() error {
	if c.PageSize < MinPageSize {
		return &PageTooSmallError{PageSize: c.PageSize, Required: MinPageSize}
	}
	required := nodeHeaderSize + c.MaxEntries*c.entrySize() + crcSize
	if required > c.PageSize {
		return &PageTooSmallError{PageSize: c.PageSize, Required: required}
	}
	return nil
}

// header is the decoded content of page 0.
type header struct {
	config   Config
	root     uint64
	height   uint32
	count    uint64
	nextPage uint64
	free     *roaring.Bitmap
}

// encodeHeader serializes the header into a page-sized buffer with a
// CRC32 trailer over everything before it.
func encodeHeader(h *header, pageSize int) ([]byte, error) {
	buf := make([]byte, pageSize)
	le := binary.LittleEndian

	le.PutUint32(buf[0:], IndexMagic)
	le.PutUint32(buf[4:], Version)
	le.PutUint16(buf[8:], uint16(h.config.Dimension))
	buf[10] = h.config.Layout
	if h.config.Clustered {
		buf[11] = 1
	}
	le.PutUint32(buf[12:], uint32(h.config.PageSize))
	le.PutUint16(buf[16:], uint16(h.config.MaxEntries))
	le.PutUint16(buf[18:], uint16(h.config.MinEntries))
	le.PutUint64(buf[20:], h.root)
	le.PutUint32(buf[28:], h.height)
	le.PutUint64(buf[32:], h.count)
	le.PutUint64(buf[40:], h.nextPage)

	bitmap, err := h.free.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize free-page bitmap: %w", err)
	}
	if headerFixedSize+len(bitmap)+crcSize > pageSize {
		return nil, fmt.Errorf("free-page bitmap (%d bytes) exceeds header page capacity", len(bitmap))
	}
	le.PutUint32(buf[48:], uint32(len(bitmap)))
	copy(buf[headerFixedSize:], bitmap)

	le.PutUint32(buf[pageSize-crcSize:], crc32.ChecksumIEEE(buf[:pageSize-crcSize]))
	return buf, nil
}

// decodeHeader parses and verifies page 0.
func decodeHeader(buf []byte) (*header, error) {
	le := binary.LittleEndian
	pageSize := len(buf)

	want := le.Uint32(buf[pageSize-crcSize:])
	got := crc32.ChecksumIEEE(buf[:pageSize-crcSize])
	if want != got {
		return nil, &ChecksumError{Expected: want, Actual: got}
	}
	if le.Uint32(buf[0:]) != IndexMagic {
		return nil, ErrInvalidMagic
	}
	if le.Uint32(buf[4:]) != Version {
		return nil, ErrInvalidVersion
	}

	h := &header{
		config: Config{
			Dimension:  int(le.Uint16(buf[8:])),
			Layout:     buf[10],
			Clustered:  buf[11] == 1,
			PageSize:   int(le.Uint32(buf[12:])),
			MaxEntries: int(le.Uint16(buf[16:])),
			MinEntries: int(le.Uint16(buf[18:])),
		},
		root:     le.Uint64(buf[20:]),
		height:   le.Uint32(buf[28:]),
		count:    le.Uint64(buf[32:]),
		nextPage: le.Uint64(buf[40:]),
		free:     roaring.New(),
	}

	bitmapLen := int(le.Uint32(buf[48:]))
	if headerFixedSize+bitmapLen+crcSize > pageSize {
		return nil, fmt.Errorf("free-page bitmap length %d exceeds header page", bitmapLen)
	}
	if bitmapLen > 0 {
		if err := h.free.UnmarshalBinary(buf[headerFixedSize : headerFixedSize+bitmapLen]); err != nil {
			return nil, fmt.Errorf("parse free-page bitmap: %w", err)
		}
	}
	return h, nil
}

// checkConfig compares a stored configuration against a requested one.
func checkConfig(stored, given Config) error {
	if stored.Dimension != given.Dimension {
		return &ConfigMismatchError{Field: "dimension", Stored: uint64(stored.Dimension), Given: uint64(given.Dimension)}
	}
	if stored.PageSize != given.PageSize {
		return &ConfigMismatchError{Field: "page size", Stored: uint64(stored.PageSize), Given: uint64(given.PageSize)}
	}
	if stored.MaxEntries != given.MaxEntries {
		return &ConfigMismatchError{Field: "max entries", Stored: uint64(stored.MaxEntries), Given: uint64(given.MaxEntries)}
	}
	if stored.MinEntries != given.MinEntries {
		return &ConfigMismatchError{Field: "min entries", Stored: uint64(stored.MinEntries), Given: uint64(given.MinEntries)}
	}
	return nil
}
