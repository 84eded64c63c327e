package btree

import (
	"encoding/binary"

	"github.com/FocuswithJustin/walscope/core/record"
)

// Row is the input to BuildTableLeaf.
type Row struct {
	RowID  int64
	Values []record.Value
}

// EncodeTableLeafCell encodes a table-leaf cell: payload length, rowid and
// the record.
func EncodeTableLeafCell(rowid int64, values ...record.Value) []byte {
	payload := record.AppendRecord(nil, values...)
	cell := record.AppendVarint(nil, uint64(len(payload)))
	cell = record.AppendVarint(cell, uint64(rowid))
	return append(cell, payload...)
}

// EncodeTableInteriorCell encodes a table-interior cell: left child pointer
// and integer key.
func EncodeTableInteriorCell(leftChild uint32, key int64) []byte {
	cell := binary.BigEndian.AppendUint32(nil, leftChild)
	return record.AppendVarint(cell, uint64(key))
}

// BuildTableLeaf lays out a table-leaf page of pageSize bytes with its header
// at headerOff (100 for page 1). Cells are packed from the end of the page.
func BuildTableLeaf(pageSize, headerOff int, rows ...Row) []byte {
	cells := make([][]byte, len(rows))
	for i, r := range rows {
		cells[i] = EncodeTableLeafCell(r.RowID, r.Values...)
	}
	return buildPage(pageSize, headerOff, TypeTableLeaf, 0, cells)
}

// BuildTableInterior lays out a table-interior page whose cells point at
// children and whose right-most pointer is right.
func BuildTableInterior(pageSize, headerOff int, right uint32, children ...uint32) []byte {
	cells := make([][]byte, len(children))
	for i, c := range children {
		cells[i] = EncodeTableInteriorCell(c, int64(i+1))
	}
	return buildPage(pageSize, headerOff, TypeTableInterior, right, cells)
}

func buildPage(pageSize, headerOff int, t PageType, right uint32, cells [][]byte) []byte {
	page := make([]byte, pageSize)
	page[headerOff] = byte(t)

	hdrSize := HeaderSizeLeaf
	if t.IsInterior() {
		hdrSize = HeaderSizeInterior
		binary.BigEndian.PutUint32(page[headerOff+offsetRightChild:], right)
	}

	ptr := headerOff + hdrSize
	content := pageSize
	for _, c := range cells {
		content -= len(c)
		copy(page[content:], c)
		binary.BigEndian.PutUint16(page[ptr:], uint16(content))
		ptr += 2
	}
	binary.BigEndian.PutUint16(page[headerOff+offsetNumCells:], uint16(len(cells)))
	binary.BigEndian.PutUint16(page[headerOff+offsetCellStart:], uint16(content))
	return page
}

// WriteFileHeader fills the first 100 bytes of a page-1 image with a minimal
// database header: magic string, page size and page count.
func WriteFileHeader(page []byte, pageSize int, pageCount uint32) {
	copy(page, MagicHeaderString)
	ps := uint16(pageSize)
	if pageSize == 65536 {
		ps = 1
	}
	binary.BigEndian.PutUint16(page[offsetPageSize:], ps)
	page[18], page[19] = 2, 2 // WAL read/write versions
	binary.BigEndian.PutUint32(page[offsetDatabaseSize:], pageCount)
	binary.BigEndian.PutUint32(page[offsetTextEncoding:], 1)
}
