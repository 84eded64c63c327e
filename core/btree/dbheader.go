package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/FocuswithJustin/walscope/core/errors"
)

// Database file header constants
const (
	// MagicHeaderString starts every SQLite 3 database file.
	MagicHeaderString = "SQLite format 3\x00"

	// MinPageSize and MaxPageSize bound the page size field.
	MinPageSize = 512
	MaxPageSize = 65536

	// offsetPageSize holds the page size; the value 1 means 65536.
	offsetPageSize = 16
	// offsetReserved holds the per-page reserved byte count.
	offsetReserved = 20
	// offsetDatabaseSize holds the database size in pages.
	offsetDatabaseSize = 28
	// offsetTextEncoding holds 1 (UTF-8), 2 (UTF-16le) or 3 (UTF-16be).
	offsetTextEncoding = 56
)

// FileHeader is the subset of the database header needed to walk pages.
type FileHeader struct {
	PageSize     int
	ReservedSize int
	PageCount    uint32
	TextEncoding uint32
}

// ParseFileHeader reads the first 100 bytes of a database file.
func ParseFileHeader(b []byte) (*FileHeader, error) {
	if len(b) < FileHeaderSize {
		return nil, errors.Truncatedf("database header of %d bytes", len(b))
	}
	if !bytes.Equal(b[:len(MagicHeaderString)], []byte(MagicHeaderString)) {
		return nil, errors.NewParse("database header", "", "missing SQLite magic string")
	}

	ps := int(binary.BigEndian.Uint16(b[offsetPageSize:]))
	if ps == 1 {
		ps = MaxPageSize
	}
	if !ValidPageSize(ps) {
		return nil, errors.NewParse("database header", "", "invalid page size")
	}
	return &FileHeader{
		PageSize:     ps,
		ReservedSize: int(b[offsetReserved]),
		PageCount:    binary.BigEndian.Uint32(b[offsetDatabaseSize:]),
		TextEncoding: binary.BigEndian.Uint32(b[offsetTextEncoding:]),
	}, nil
}

// ValidPageSize reports whether n is a power of two between 512 and 65536.
func ValidPageSize(n int) bool {
	return n >= MinPageSize && n <= MaxPageSize && n&(n-1) == 0
}
