package btree

import (
	"encoding/binary"

	"github.com/FocuswithJustin/walscope/core/record"
)

// Cell is a decoded table-leaf cell.
type Cell struct {
	Offset      int   // Cell offset within the page
	RowID       int64 // Integer key
	PayloadSize uint64
	Values      []record.Value

	// Partial is set when the record ran off the page (an overflow chain or
	// damage); Values then holds the leading columns only.
	Partial bool
}

// ParseLeafCells decodes every cell of a table-leaf page. Pages of any
// other type yield nil.
func ParseLeafCells(page []byte) []Cell {
	return ParseLeafCellsAt(page, 0)
}

// ParsePage1Cells decodes the cells of a page-1 image, whose B-tree header
// follows the database file header.
func ParsePage1Cells(page []byte) []Cell {
	return ParseLeafCellsAt(page, FileHeaderSize)
}

// ParseLeafCellsAt decodes a table-leaf page whose header starts at off.
//
// The payload of each cell is clipped at the end of the page; overflow pages
// are never followed. Cells whose record yields no value at all are skipped.
func ParseLeafCellsAt(page []byte, off int) []Cell {
	if off < 0 || off >= len(page) || PageType(page[off]) != TypeTableLeaf {
		return nil
	}
	h, err := ParseHeaderAt(page, off)
	if err != nil {
		return nil
	}

	cells := make([]Cell, 0, len(h.CellPointers))
	for _, ptr := range h.CellPointers {
		c, ok := parseTableLeafCell(page, int(ptr))
		if ok {
			cells = append(cells, c)
		}
	}
	return cells
}

func parseTableLeafCell(page []byte, ptr int) (Cell, bool) {
	if ptr >= len(page) {
		return Cell{}, false
	}
	payloadLen, off, err := record.ReadVarint(page, ptr)
	if err != nil {
		return Cell{}, false
	}
	rowid, off, err := record.ReadVarint(page, off)
	if err != nil {
		return Cell{}, false
	}

	end := len(page)
	if payloadLen < uint64(len(page)-off) {
		end = off + int(payloadLen)
	}
	if end <= off {
		return Cell{}, false
	}

	values, err := record.ParseRecord(page[off:end])
	if len(values) == 0 {
		return Cell{}, false
	}
	return Cell{
		Offset:      ptr,
		RowID:       int64(rowid),
		PayloadSize: payloadLen,
		Values:      values,
		Partial:     err != nil,
	}, true
}

// ChildPages returns the child page numbers of interior page pgno: every
// cell's left child followed by the right-most child. Zero pointers and
// pages of other types are ignored.
func ChildPages(page []byte, pgno uint32) []uint32 {
	h, err := ParseHeader(page, pgno)
	if err != nil || !h.Type.IsInterior() {
		return nil
	}

	children := make([]uint32, 0, len(h.CellPointers)+1)
	for _, ptr := range h.CellPointers {
		p := int(ptr)
		if p+4 > len(page) {
			continue
		}
		if child := binary.BigEndian.Uint32(page[p:]); child != 0 {
			children = append(children, child)
		}
	}
	if h.RightChild != 0 {
		children = append(children, h.RightChild)
	}
	return children
}
