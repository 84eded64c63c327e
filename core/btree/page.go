// Package btree reads SQLite B-tree page structures from raw page images.
//
// Pages come either from the main database file or from WAL frames; the
// parser never needs a pager. Page 1 carries the 100-byte database header in
// front of its B-tree header, so functions that take a page number shift
// their offsets for it.
package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/walscope/core/errors"
)

// PageType is the first byte of a B-tree page header.
type PageType byte

// Page type constants (first byte of page header)
const (
	TypeOverflow      PageType = 0x00 // Overflow or freelist page
	TypeIndexInterior PageType = 0x02
	TypeTableInterior PageType = 0x05
	TypeIndexLeaf     PageType = 0x0a
	TypeTableLeaf     PageType = 0x0d
)

// Page header offsets
const (
	offsetFreeblock  = 1 // First freeblock offset (2 bytes)
	offsetNumCells   = 3 // Number of cells (2 bytes)
	offsetCellStart  = 5 // Start of cell content area (2 bytes)
	offsetFragmented = 7 // Fragmented free bytes (1 byte)
	offsetRightChild = 8 // Right-most child pointer (4 bytes, interior only)
)

// Header sizes
const (
	HeaderSizeLeaf     = 8   // Leaf pages: 8 bytes
	HeaderSizeInterior = 12  // Interior pages: 12 bytes (includes right child pointer)
	FileHeaderSize     = 100 // Database file header on page 1
)

// Label returns the display name of the page type.
func (t PageType) Label() string {
	switch t {
	case TypeIndexInterior:
		return "Index Interior"
	case TypeTableInterior:
		return "Table Interior"
	case TypeIndexLeaf:
		return "Index Leaf"
	case TypeTableLeaf:
		return "Table Leaf"
	case TypeOverflow:
		return "Overflow / Free"
	default:
		return fmt.Sprintf("Unknown (0x%02X)", byte(t))
	}
}

// IsInterior reports whether t is an interior index or table page.
func (t PageType) IsInterior() bool {
	return t == TypeIndexInterior || t == TypeTableInterior
}

// IsLeaf reports whether t is a leaf index or table page.
func (t PageType) IsLeaf() bool {
	return t == TypeIndexLeaf || t == TypeTableLeaf
}

// IsBtree reports whether t is one of the four B-tree page types.
func (t PageType) IsBtree() bool {
	return t.IsInterior() || t.IsLeaf()
}

// Identify returns the raw type byte of a page and its label. An empty page
// is reported as (0, "Unknown").
func Identify(page []byte) (byte, string) {
	if len(page) == 0 {
		return 0, "Unknown"
	}
	return page[0], PageType(page[0]).Label()
}

// Header is a parsed B-tree page header with its cell pointer array.
type Header struct {
	Type             PageType
	FirstFreeblock   uint16
	NumCells         uint16
	CellContentStart uint16
	FragmentedBytes  byte
	RightChild       uint32 // Interior pages only

	Offset       int      // Where the header starts within the page
	CellPointers []uint16 // Stops early if the array runs off the page
}

// Size returns the header length in bytes.
func (h *Header) Size() int {
	if h.Type.IsInterior() {
		return HeaderSizeInterior
	}
	return HeaderSizeLeaf
}

// ParseHeader parses the B-tree header of page pgno. For page 1 the header
// starts after the database file header.
func ParseHeader(page []byte, pgno uint32) (*Header, error) {
	return ParseHeaderAt(page, HeaderOffset(pgno))
}

// HeaderOffset returns where the B-tree header of page pgno begins.
func HeaderOffset(pgno uint32) int {
	if pgno == 1 {
		return FileHeaderSize
	}
	return 0
}

// ParseHeaderAt parses a B-tree header that starts at byte off of page.
func ParseHeaderAt(page []byte, off int) (*Header, error) {
	if off < 0 || off > len(page)-HeaderSizeLeaf {
		return nil, errors.Truncatedf("page header at offset %d of %d bytes", off, len(page))
	}

	h := &Header{
		Type:             PageType(page[off]),
		FirstFreeblock:   binary.BigEndian.Uint16(page[off+offsetFreeblock:]),
		NumCells:         binary.BigEndian.Uint16(page[off+offsetNumCells:]),
		CellContentStart: binary.BigEndian.Uint16(page[off+offsetCellStart:]),
		FragmentedBytes:  page[off+offsetFragmented],
		Offset:           off,
	}
	if !h.Type.IsBtree() {
		return nil, errors.Wrapf(errors.ErrCorruptBtree, "page type 0x%02x", byte(h.Type))
	}

	if h.Type.IsInterior() {
		if off > len(page)-HeaderSizeInterior {
			return nil, errors.Truncatedf("interior page header at offset %d", off)
		}
		h.RightChild = binary.BigEndian.Uint32(page[off+offsetRightChild:])
	}

	ptrStart := off + h.Size()
	h.CellPointers = make([]uint16, 0, h.NumCells)
	for i := 0; i < int(h.NumCells); i++ {
		po := ptrStart + i*2
		if po+2 > len(page) {
			break
		}
		h.CellPointers = append(h.CellPointers, binary.BigEndian.Uint16(page[po:]))
	}
	return h, nil
}

// String returns a string representation of the page header
func (h *Header) String() string {
	return fmt.Sprintf("Header{type=%s, cells=%d, contentStart=%d, freeblock=%d, fragmented=%d}",
		h.Type.Label(), h.NumCells, h.CellContentStart, h.FirstFreeblock, h.FragmentedBytes)
}
