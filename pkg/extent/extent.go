// ABOUTME: Extent container codec — build, parse, validate, extract
// ABOUTME: Pure binary transform, no I/O, no knowledge of files or branches

package extent

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/klauspost/compress/gzip"
	"bytes"
	"io"

	"github.com/fsxdb/fsx/pkg/errs"
)

const (
	// Magic is "EXT1" read as a little-endian uint32.
	Magic uint32 = 0x31545845

	// Version is the only version this codec understands.
	Version uint16 = 1

	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 64

	flagCompressed uint16 = 1 << 0

	fnvOffsetBasis uint64 = 0xcbf29ce484222325
	fnvPrime       uint64 = 0x100000001b3
)

// Header is the fixed 64-byte extent header, decoded.
type Header struct {
	Magic      uint32
	Version    uint16
	Flags      uint16
	PageSize   uint16
	PageCount  uint32
	ExtentSize uint32
	Checksum   uint64
}

// Compressed reports whether the compressed flag bit is set.
func (h Header) Compressed() bool { return h.Flags&flagCompressed != 0 }

// Parsed is the fully decoded extent: header plus the bitmap and page data views.
type Parsed struct {
	Header       Header
	Bitmap       []byte
	PageData     []byte
	IsSparse     bool
	IsCompressed bool
}

// BuildOptions controls Build's encoding choices.
type BuildOptions struct {
	// Compress requests gzip framing of the page-data area. The flag and the
	// payload encoding must always agree: this codec never sets the flag
	// without actually gzip-compressing, and never compresses without
	// setting the flag.
	Compress bool
}

// bitmapLen returns the number of bytes needed to hold pageCount presence bits.
func bitmapLen(pageCount uint32) int {
	return int((pageCount + 7) / 8)
}

// SetBit sets bit i (LSB-first within byte i/8) in bitmap.
func SetBit(bitmap []byte, i int) {
	bitmap[i/8] |= 1 << uint(i%8)
}

// ClearBit clears bit i in bitmap.
func ClearBit(bitmap []byte, i int) {
	bitmap[i/8] &^= 1 << uint(i%8)
}

// IsBitSet reports whether bit i is set in bitmap.
func IsBitSet(bitmap []byte, i int) bool {
	if i/8 >= len(bitmap) {
		return false
	}
	return bitmap[i/8]&(1<<uint(i%8)) != 0
}

// Popcount counts set bits in bitmap using the Brian Kernighan technique.
func Popcount(bitmap []byte) int {
	count := 0
	for _, b := range bitmap {
		for b != 0 {
			b &= b - 1
			count++
		}
	}
	return count
}

// Build serializes a sparse set of pages into a single extent container.
// pages maps the page index within the extent (0-based) to its payload;
// every payload must be exactly pageSize bytes.
func Build(pages map[uint32][]byte, pageSize uint16, opts BuildOptions) ([]byte, error) {
	var maxIdx uint32
	hasAny := false
	for idx, payload := range pages {
		if len(payload) != int(pageSize) {
			return nil, fmt.Errorf("extent: page %d has length %d, want %d: %w", idx, len(payload), pageSize, errs.ErrInvalid)
		}
		if !hasAny || idx > maxIdx {
			maxIdx = idx
		}
		hasAny = true
	}

	pageCount := uint32(0)
	if hasAny {
		pageCount = maxIdx + 1
	}

	bitmap := make([]byte, bitmapLen(pageCount))
	pageData := make([]byte, 0, len(pages)*int(pageSize))
	for i := uint32(0); i < pageCount; i++ {
		payload, ok := pages[i]
		if !ok {
			continue
		}
		SetBit(bitmap, int(i))
		pageData = append(pageData, payload...)
	}

	extentSize := uint32(len(pageData))
	flags := uint16(0)
	storedPageData := pageData
	if opts.Compress {
		flags |= flagCompressed
		compressed, err := gzipCompress(pageData)
		if err != nil {
			return nil, fmt.Errorf("extent: compress: %w", err)
		}
		storedPageData = compressed
	}

	checksum := fnv1a64(concat(bitmap, storedPageData))

	out := make([]byte, HeaderSize+len(bitmap)+len(storedPageData))
	binary.LittleEndian.PutUint32(out[0:4], Magic)
	binary.LittleEndian.PutUint16(out[4:6], Version)
	binary.LittleEndian.PutUint16(out[6:8], flags)
	binary.LittleEndian.PutUint16(out[8:10], pageSize)
	// offset 10:12 reserved, left zero
	binary.LittleEndian.PutUint32(out[12:16], pageCount)
	binary.LittleEndian.PutUint32(out[16:20], extentSize)
	binary.LittleEndian.PutUint64(out[20:28], checksum)
	// offset 28:64 reserved, left zero

	copy(out[HeaderSize:], bitmap)
	copy(out[HeaderSize+len(bitmap):], storedPageData)

	return out, nil
}

// ParseHeader decodes and validates just the fixed header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("extent: truncated header (%d bytes): %w", len(data), errs.ErrInvalid)
	}
	h := Header{
		Magic:      binary.LittleEndian.Uint32(data[0:4]),
		Version:    binary.LittleEndian.Uint16(data[4:6]),
		Flags:      binary.LittleEndian.Uint16(data[6:8]),
		PageSize:   binary.LittleEndian.Uint16(data[8:10]),
		PageCount:  binary.LittleEndian.Uint32(data[12:16]),
		ExtentSize: binary.LittleEndian.Uint32(data[16:20]),
		Checksum:   binary.LittleEndian.Uint64(data[20:28]),
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("extent: bad magic %#x: %w", h.Magic, errs.ErrInvalid)
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("extent: unsupported version %d: %w", h.Version, errs.ErrInvalid)
	}
	if h.Flags&^flagCompressed != 0 {
		return Header{}, fmt.Errorf("extent: unknown codec flags %#x: %w", h.Flags, errs.ErrInvalid)
	}
	return h, nil
}

// Parse fully decodes an extent container: header, bitmap, and page data view.
// When the extent is gzip-compressed, PageData is the decompressed bytes.
func Parse(data []byte) (Parsed, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return Parsed{}, err
	}

	bmLen := bitmapLen(h.PageCount)
	if len(data) < HeaderSize+bmLen {
		return Parsed{}, fmt.Errorf("extent: truncated bitmap: %w", errs.ErrInvalid)
	}
	bitmap := data[HeaderSize : HeaderSize+bmLen]
	storedPageData := data[HeaderSize+bmLen:]

	pageData := storedPageData
	if h.Compressed() {
		pageData, err = gzipDecompress(storedPageData)
		if err != nil {
			return Parsed{}, fmt.Errorf("extent: decompress: %w", err)
		}
	}

	return Parsed{
		Header:       h,
		Bitmap:       bitmap,
		PageData:     pageData,
		IsSparse:     Popcount(bitmap) < int(h.PageCount),
		IsCompressed: h.Compressed(),
	}, nil
}

// ExtractPage returns the payload for page index i, or (nil, false) when the
// bit is clear or i is out of range. pageSize must match the header's.
func ExtractPage(data []byte, i uint32, pageSize uint16) ([]byte, bool, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, false, err
	}
	if h.PageSize != pageSize {
		return nil, false, fmt.Errorf("extent: page size %d disagrees with header %d: %w", pageSize, h.PageSize, errs.ErrInvalid)
	}
	if i >= h.PageCount {
		return nil, false, nil
	}

	parsed, err := Parse(data)
	if err != nil {
		return nil, false, err
	}
	if !IsBitSet(parsed.Bitmap, int(i)) {
		return nil, false, nil
	}

	// Count present pages before i to find its offset in the packed data.
	offset := 0
	for j := uint32(0); j < i; j++ {
		if IsBitSet(parsed.Bitmap, int(j)) {
			offset += int(pageSize)
		}
	}
	if offset+int(pageSize) > len(parsed.PageData) {
		return nil, false, fmt.Errorf("extent: page data shorter than bitmap implies: %w", errs.ErrInvalid)
	}
	return parsed.PageData[offset : offset+int(pageSize)], true, nil
}

// Validate reports whether data is a well-formed extent with a matching checksum.
func Validate(data []byte) bool {
	h, err := ParseHeader(data)
	if err != nil {
		return false
	}
	bmLen := bitmapLen(h.PageCount)
	if len(data) < HeaderSize+bmLen {
		return false
	}
	bitmap := data[HeaderSize : HeaderSize+bmLen]
	storedPageData := data[HeaderSize+bmLen:]
	return fnv1a64(concat(bitmap, storedPageData)) == h.Checksum
}

func fnv1a64(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
