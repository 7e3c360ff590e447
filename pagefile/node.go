package pagefile

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/boxtreedb/boxtree/geo"
	"github.com/boxtreedb/boxtree/rtree"
)

// encodeNode serializes a node into a page-sized buffer: a small prefix
// (level, entry count), fixed-size entries, zero padding, and a CRC32
// trailer.
func encodeNode(node *rtree.Node, cfg Config) ([]byte, error) {
	if len(node.Entries) > cfg.MaxEntries {
		return nil, fmt.Errorf("node holds %d entries, capacity is %d", len(node.Entries), cfg.MaxEntries)
	}
	buf := make([]byte, cfg.PageSize)
	le := binary.LittleEndian

	le.PutUint16(buf[0:], uint16(node.Level))
	le.PutUint16(buf[2:], uint16(len(node.Entries)))

	off := nodeHeaderSize
	for _, e := range node.Entries {
		if e.Rect.Dim() != cfg.Dimension {
			return nil, fmt.Errorf("entry dimension %d does not match index dimension %d", e.Rect.Dim(), cfg.Dimension)
		}
		for i := 0; i < cfg.Dimension; i++ {
			le.PutUint64(buf[off:], math.Float64bits(e.Rect.Min[i]))
			off += 8
		}
		for i := 0; i < cfg.Dimension; i++ {
			le.PutUint64(buf[off:], math.Float64bits(e.Rect.Max[i]))
			off += 8
		}
		le.PutUint64(buf[off:], uint64(e.Child))
		le.PutUint64(buf[off+8:], e.ID)
		le.PutUint64(buf[off+16:], e.Data)
		off += 24
	}

	le.PutUint32(buf[cfg.PageSize-crcSize:], crc32.ChecksumIEEE(buf[:cfg.PageSize-crcSize]))
	return buf, nil
}

// decodeNode parses a node page, verifying the CRC trailer and the
// entry count before trusting any of it. Failures surface as
// *rtree.ErrCorrupted so traversals report them uniformly.
func decodeNode(buf []byte, cfg Config, ref rtree.Ref) (*rtree.Node, error) {
	le := binary.LittleEndian

	want := le.Uint32(buf[cfg.PageSize-crcSize:])
	got := crc32.ChecksumIEEE(buf[:cfg.PageSize-crcSize])
	if want != got {
		return nil, &rtree.ErrCorrupted{Ref: ref, Detail: (&ChecksumError{Expected: want, Actual: got}).Error()}
	}

	count := int(le.Uint16(buf[2:]))
	if count > cfg.MaxEntries {
		return nil, &rtree.ErrCorrupted{Ref: ref, Detail: fmt.Sprintf("entry count %d exceeds capacity %d", count, cfg.MaxEntries)}
	}

	node := &rtree.Node{
		Level:   int(le.Uint16(buf[0:])),
		Entries: make([]rtree.Entry, count),
	}
	off := nodeHeaderSize
	for i := 0; i < count; i++ {
		r := geo.Rect{Min: make([]float64, cfg.Dimension), Max: make([]float64, cfg.Dimension)}
		for d := 0; d < cfg.Dimension; d++ {
			r.Min[d] = math.Float64frombits(le.Uint64(buf[off:]))
			off += 8
		}
		for d := 0; d < cfg.Dimension; d++ {
			r.Max[d] = math.Float64frombits(le.Uint64(buf[off:]))
			off += 8
		}
		node.Entries[i] = rtree.Entry{
			Rect:  r,
			Child: rtree.Ref(le.Uint64(buf[off:])),
			ID:    le.Uint64(buf[off+8:]),
			Data:  le.Uint64(buf[off+16:]),
		}
		off += 24
	}
	return node, nil
}
