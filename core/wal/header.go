// Package wal parses SQLite write-ahead log files.
//
// A WAL file is a 32-byte header followed by frames. Each frame is a 24-byte
// frame header and one page image. The header magic selects the byte order
// of every header field; page images themselves are always big-endian.
package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/walscope/core/btree"
	"github.com/FocuswithJustin/walscope/core/errors"
)

// WAL format constants
const (
	MagicBigEndian    = 0x377f0682
	MagicLittleEndian = 0x377f0683

	HeaderSize      = 32
	FrameHeaderSize = 24
)

// Header is the parsed 32-byte WAL header.
type Header struct {
	Magic         uint32 `json:"magic"`
	Version       uint32 `json:"version"`
	PageSize      uint32 `json:"page_size"`
	CheckpointSeq uint32 `json:"checkpoint_seq"`
	Salt1         uint32 `json:"salt1"`
	Salt2         uint32 `json:"salt2"`
	Checksum1     uint32 `json:"checksum1"`
	Checksum2     uint32 `json:"checksum2"`
}

// ByteOrder returns the byte order of the header and frame header fields.
func (h *Header) ByteOrder() binary.ByteOrder {
	if h.Magic == MagicLittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// FrameSize returns the size of one frame including its header.
func (h *Header) FrameSize() int {
	return FrameHeaderSize + int(h.PageSize)
}

// ParseHeader decodes the WAL header at the start of b.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, errors.Truncatedf("WAL header of %d bytes", len(b))
	}

	magic := binary.BigEndian.Uint32(b[0:4])
	if magic != MagicBigEndian && magic != MagicLittleEndian {
		return nil, &errors.ParseError{
			Format:  "WAL header",
			Message: fmt.Sprintf("magic 0x%08x", magic),
			Err:     errors.ErrInvalidMagic,
		}
	}

	h := &Header{Magic: magic}
	bo := h.ByteOrder()
	h.Version = bo.Uint32(b[4:8])
	h.PageSize = bo.Uint32(b[8:12])
	h.CheckpointSeq = bo.Uint32(b[12:16])
	h.Salt1 = bo.Uint32(b[16:20])
	h.Salt2 = bo.Uint32(b[20:24])
	h.Checksum1 = bo.Uint32(b[24:28])
	h.Checksum2 = bo.Uint32(b[28:32])

	if !btree.ValidPageSize(int(h.PageSize)) {
		return nil, errors.NewParse("WAL header", "", fmt.Sprintf("page size %d is not a power of two between 512 and 65536", h.PageSize))
	}
	return h, nil
}

// AppendHeader appends the encoding of h, using the byte order its magic
// selects.
func AppendHeader(buf []byte, h *Header) []byte {
	buf = binary.BigEndian.AppendUint32(buf, h.Magic)
	bo := h.ByteOrder().(binary.AppendByteOrder)
	for _, v := range []uint32{h.Version, h.PageSize, h.CheckpointSeq, h.Salt1, h.Salt2, h.Checksum1, h.Checksum2} {
		buf = bo.AppendUint32(buf, v)
	}
	return buf
}
