package btree

import (
	"errors"
	"testing"

	werrors "github.com/FocuswithJustin/walscope/core/errors"
)

func TestIdentify(t *testing.T) {
	tests := []struct {
		page      []byte
		wantByte  byte
		wantLabel string
	}{
		{nil, 0, "Unknown"},
		{[]byte{0x02}, 0x02, "Index Interior"},
		{[]byte{0x05, 0xff}, 0x05, "Table Interior"},
		{[]byte{0x0a}, 0x0a, "Index Leaf"},
		{[]byte{0x0d}, 0x0d, "Table Leaf"},
		{[]byte{0x00}, 0x00, "Overflow / Free"},
		{[]byte{0x53}, 0x53, "Unknown (0x53)"},
	}
	for _, tt := range tests {
		b, label := Identify(tt.page)
		if b != tt.wantByte || label != tt.wantLabel {
			t.Errorf("Identify(%x) = (%#x, %q), want (%#x, %q)", tt.page, b, label, tt.wantByte, tt.wantLabel)
		}
	}
}

func TestPageTypePredicates(t *testing.T) {
	if !TypeTableInterior.IsInterior() || !TypeIndexInterior.IsInterior() {
		t.Errorf("interior types not reported as interior")
	}
	if TypeTableLeaf.IsInterior() || !TypeTableLeaf.IsLeaf() {
		t.Errorf("TypeTableLeaf predicates wrong")
	}
	if TypeOverflow.IsBtree() {
		t.Errorf("TypeOverflow.IsBtree() = true")
	}
}

func TestParseHeader(t *testing.T) {
	leaf := BuildTableLeaf(512, 0, Row{RowID: 1}, Row{RowID: 2})
	h, err := ParseHeader(leaf, 3)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if h.Type != TypeTableLeaf || h.NumCells != 2 || len(h.CellPointers) != 2 {
		t.Errorf("ParseHeader() = %v, want table leaf with 2 cells", h)
	}
	if h.Size() != HeaderSizeLeaf {
		t.Errorf("Size() = %d, want %d", h.Size(), HeaderSizeLeaf)
	}

	interior := BuildTableInterior(1024, FileHeaderSize, 9, 4, 6)
	h, err = ParseHeader(interior, 1)
	if err != nil {
		t.Fatalf("ParseHeader(page 1) error = %v", err)
	}
	if h.Offset != FileHeaderSize {
		t.Errorf("Offset = %d, want %d", h.Offset, FileHeaderSize)
	}
	if h.RightChild != 9 || h.NumCells != 2 {
		t.Errorf("ParseHeader(page 1) = %v right=%d, want 2 cells right=9", h, h.RightChild)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	if _, err := ParseHeaderAt(make([]byte, 4), 0); !errors.Is(err, werrors.ErrTruncated) {
		t.Errorf("short page error = %v, want ErrTruncated", err)
	}
	if _, err := ParseHeaderAt([]byte{0x05, 0, 0, 0, 0, 0, 0, 0, 0}, 0); !errors.Is(err, werrors.ErrTruncated) {
		t.Errorf("short interior error = %v, want ErrTruncated", err)
	}
	if _, err := ParseHeaderAt(make([]byte, 64), 0); !errors.Is(err, werrors.ErrCorruptBtree) {
		t.Errorf("overflow page error = %v, want ErrCorruptBtree", err)
	}
}

func TestParseHeaderTruncatedPointerArray(t *testing.T) {
	page := make([]byte, 12)
	page[0] = byte(TypeTableLeaf)
	page[4] = 10 // claims 10 cells, room for 2 pointers
	h, err := ParseHeaderAt(page, 0)
	if err != nil {
		t.Fatalf("ParseHeaderAt() error = %v", err)
	}
	if h.NumCells != 10 || len(h.CellPointers) != 2 {
		t.Errorf("NumCells = %d, pointers = %d, want 10 and 2", h.NumCells, len(h.CellPointers))
	}
}

func TestParseFileHeader(t *testing.T) {
	page := make([]byte, 4096)
	WriteFileHeader(page, 4096, 12)
	fh, err := ParseFileHeader(page)
	if err != nil {
		t.Fatalf("ParseFileHeader() error = %v", err)
	}
	if fh.PageSize != 4096 || fh.PageCount != 12 || fh.TextEncoding != 1 {
		t.Errorf("ParseFileHeader() = %+v", fh)
	}

	WriteFileHeader(page, 65536, 1)
	if fh, _ = ParseFileHeader(page); fh == nil || fh.PageSize != 65536 {
		t.Errorf("page size 1 not read as 65536: %+v", fh)
	}

	if _, err := ParseFileHeader(make([]byte, 100)); err == nil {
		t.Errorf("ParseFileHeader(zeroes) error = nil")
	}
	if _, err := ParseFileHeader(page[:50]); !errors.Is(err, werrors.ErrTruncated) {
		t.Errorf("ParseFileHeader(short) error = %v, want ErrTruncated", err)
	}
}

func TestValidPageSize(t *testing.T) {
	for _, n := range []int{512, 1024, 4096, 65536} {
		if !ValidPageSize(n) {
			t.Errorf("ValidPageSize(%d) = false", n)
		}
	}
	for _, n := range []int{0, 256, 1000, 131072} {
		if ValidPageSize(n) {
			t.Errorf("ValidPageSize(%d) = true", n)
		}
	}
}
