package wal

import (
	"os"

	"github.com/FocuswithJustin/walscope/core/errors"
)

// Builder assembles WAL images frame by frame. Checksums are left zero.
type Builder struct {
	header Header
	frames []byte
}

// NewBuilder starts a WAL image with the given page size and header salts.
func NewBuilder(pageSize uint32, bigEndian bool, salt1, salt2 uint32) *Builder {
	magic := uint32(MagicLittleEndian)
	if bigEndian {
		magic = MagicBigEndian
	}
	return &Builder{header: Header{
		Magic:    magic,
		Version:  3007000,
		PageSize: pageSize,
		Salt1:    salt1,
		Salt2:    salt2,
	}}
}

// Add appends a frame carrying the header salts.
func (b *Builder) Add(pageNum, commitSize uint32, page []byte) *Builder {
	return b.AddWithSalts(pageNum, commitSize, b.header.Salt1, b.header.Salt2, page)
}

// AddWithSalts appends a frame with explicit salts, as left behind by an
// earlier WAL generation.
func (b *Builder) AddWithSalts(pageNum, commitSize, salt1, salt2 uint32, page []byte) *Builder {
	b.frames = AppendFrame(b.frames, &b.header, Frame{
		PageNum:    pageNum,
		CommitSize: commitSize,
		Salt1:      salt1,
		Salt2:      salt2,
	}, page)
	return b
}

// Bytes returns the complete WAL image.
func (b *Builder) Bytes() []byte {
	out := AppendHeader(make([]byte, 0, HeaderSize+len(b.frames)), &b.header)
	return append(out, b.frames...)
}

// WriteFile writes the WAL image to path.
func (b *Builder) WriteFile(path string) error {
	if err := os.WriteFile(path, b.Bytes(), 0o600); err != nil {
		return errors.NewIO("write", path, err)
	}
	return nil
}
