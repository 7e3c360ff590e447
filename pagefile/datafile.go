package pagefile

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the per-record payload compression in the data
// file. The choice is recorded in the data file header and each record
// additionally carries the codec actually used, so incompressible
// records can be stored raw.
type Compression uint8

const (
	// CompressionNone stores payloads verbatim.
	CompressionNone Compression = iota
	// CompressionLZ4 compresses payloads with LZ4 block compression.
	CompressionLZ4
	// CompressionZstd compresses payloads with zstandard.
	CompressionZstd
)

// String returns a string representation of the Compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionLZ4:
		return "LZ4"
	case CompressionZstd:
		return "Zstd"
	default:
		return "Unknown"
	}
}

// dataFile is the append-only payload log. A payload handle is the file
// offset of its record. Records are never rewritten; freeing a handle
// only tracks the reclaimable volume, actual space is reclaimed when
// the index is rebuilt with Overwrite.
type dataFile struct {
	f           *os.File
	size        int64
	compression Compression
	codecName   string
	readOnly    bool

	zenc *zstd.Encoder
	zdec *zstd.Decoder

	freedRecords uint64
}

// createDataFile truncates or creates the payload log and writes its
// header.
func createDataFile(path string, compression Compression, codecName string) (*dataFile, error) {
	if len(codecName) > codecNameSize {
		return nil, fmt.Errorf("codec name %q exceeds %d bytes", codecName, codecNameSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create data file: %w", err)
	}

	buf := make([]byte, dataHeaderSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], DataMagic)
	le.PutUint32(buf[4:], Version)
	buf[8] = byte(compression)
	copy(buf[12:12+codecNameSize], codecName)
	le.PutUint32(buf[dataHeaderSize-crcSize:], crc32.ChecksumIEEE(buf[:dataHeaderSize-crcSize]))

	if _, err := f.WriteAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write data header: %w", err)
	}

	d := &dataFile{f: f, size: dataHeaderSize, compression: compression, codecName: codecName}
	if err := d.initZstd(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// openDataFile opens an existing payload log and restores compression
// and codec settings from its header.
func openDataFile(path string, readOnly bool) (*dataFile, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}

	buf := make([]byte, dataHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("read data header: %w", err)
	}
	le := binary.LittleEndian
	want := le.Uint32(buf[dataHeaderSize-crcSize:])
	got := crc32.ChecksumIEEE(buf[:dataHeaderSize-crcSize])
	if want != got {
		f.Close()
		return nil, &ChecksumError{Expected: want, Actual: got}
	}
	if le.Uint32(buf[0:]) != DataMagic {
		f.Close()
		return nil, ErrInvalidMagic
	}
	if le.Uint32(buf[4:]) != Version {
		f.Close()
		return nil, ErrInvalidVersion
	}

	name := buf[12 : 12+codecNameSize]
	end := 0
	for end < len(name) && name[end] != 0 {
		end++
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	d := &dataFile{
		f:           f,
		size:        info.Size(),
		compression: Compression(buf[8]),
		codecName:   string(name[:end]),
		readOnly:    readOnly,
	}
	if err := d.initZstd(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

func (d *dataFile) initZstd() error {
	// The decoder is always created: an appended file may hold records
	// written under an earlier compression setting.
	var err error
	d.zdec, err = zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("init zstd decoder: %w", err)
	}
	if d.compression == CompressionZstd && !d.readOnly {
		d.zenc, err = zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("init zstd encoder: %w", err)
		}
	}
	return nil
}

// Put appends a payload record and returns its handle.
func (d *dataFile) Put(data []byte) (uint64, error) {
	if d.readOnly {
		return 0, ErrReadOnly
	}
	stored, comp, err := d.compress(data)
	if err != nil {
		return 0, err
	}

	rec := make([]byte, recordHeaderSize+len(stored))
	le := binary.LittleEndian
	le.PutUint32(rec[0:], uint32(len(stored)))
	le.PutUint32(rec[4:], uint32(len(data)))
	rec[8] = byte(comp)
	le.PutUint32(rec[9:], crc32.ChecksumIEEE(stored))
	copy(rec[recordHeaderSize:], stored)

	handle := uint64(d.size)
	if _, err := d.f.WriteAt(rec, d.size); err != nil {
		return 0, fmt.Errorf("append payload record: %w", err)
	}
	d.size += int64(len(rec))
	return handle, nil
}

// Get reads and verifies the payload record stored under handle.
func (d *dataFile) Get(handle uint64) ([]byte, error) {
	if handle < dataHeaderSize || int64(handle)+recordHeaderSize > d.size {
		return nil, fmt.Errorf("payload handle %d out of range", handle)
	}
	hdr := make([]byte, recordHeaderSize)
	if _, err := d.f.ReadAt(hdr, int64(handle)); err != nil {
		return nil, fmt.Errorf("read payload record header: %w", err)
	}
	le := binary.LittleEndian
	storedLen := int64(le.Uint32(hdr[0:]))
	rawLen := int(le.Uint32(hdr[4:]))
	comp := Compression(hdr[8])
	wantCRC := le.Uint32(hdr[9:])

	if int64(handle)+recordHeaderSize+storedLen > d.size {
		return nil, fmt.Errorf("payload record at %d overruns data file", handle)
	}
	stored := make([]byte, storedLen)
	if _, err := d.f.ReadAt(stored, int64(handle)+recordHeaderSize); err != nil {
		return nil, fmt.Errorf("read payload record: %w", err)
	}
	if got := crc32.ChecksumIEEE(stored); got != wantCRC {
		return nil, fmt.Errorf("payload record at %d: %w", handle, &ChecksumError{Expected: wantCRC, Actual: got})
	}
	return d.decompress(stored, rawLen, comp)
}

// Free marks the record as reclaimable. The space itself is only
// recovered by an Overwrite rebuild.
func (d *dataFile) Free(handle uint64) error {
	if d.readOnly {
		return ErrReadOnly
	}
	d.freedRecords++
	return nil
}

func (d *dataFile) compress(data []byte) ([]byte, Compression, error) {
	switch d.compression {
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		var c lz4.Compressor
		n, err := c.CompressBlock(data, dst)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return data, CompressionNone, nil // incompressible
		}
		return dst[:n], CompressionLZ4, nil
	case CompressionZstd:
		out := d.zenc.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return data, CompressionNone, nil
		}
		return out, CompressionZstd, nil
	default:
		return data, CompressionNone, nil
	}
}

func (d *dataFile) decompress(stored []byte, rawLen int, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionNone:
		return stored, nil
	case CompressionLZ4:
		dst := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, record declares %d", n, rawLen)
		}
		return dst, nil
	case CompressionZstd:
		out, err := d.zdec.DecodeAll(stored, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, record declares %d", len(out), rawLen)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown payload compression id %d", comp)
	}
}

// Sync flushes appended records to durable storage.
func (d *dataFile) Sync() error {
	if d.readOnly {
		return nil
	}
	return d.f.Sync()
}

// Close closes the payload log.
func (d *dataFile) Close() error {
	if d.zenc != nil {
		d.zenc.Close()
	}
	if d.zdec != nil {
		d.zdec.Close()
	}
	return d.f.Close()
}
