package wal

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/walscope/core/btree"
	"github.com/FocuswithJustin/walscope/core/errors"
)

// Category classifies a frame by its salts and commit marker.
type Category uint8

const (
	// Committed frames carry the header salts and end a transaction.
	Committed Category = iota + 1
	// Uncommitted frames carry the header salts but no commit marker.
	Uncommitted
	// Old frames carry salts from an earlier WAL generation.
	Old
)

// Categories lists every category in display order.
var Categories = []Category{Committed, Uncommitted, Old}

func (c Category) String() string {
	switch c {
	case Committed:
		return "committed"
	case Uncommitted:
		return "uncommitted"
	case Old:
		return "old"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// Label returns the user-facing name: Saved, Unsaved or Overwritten.
func (c Category) Label() string {
	switch c {
	case Committed:
		return "Saved"
	case Uncommitted:
		return "Unsaved"
	case Old:
		return "Overwritten"
	default:
		return c.String()
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseCategory accepts a category name or its label, case-insensitively.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if strings.EqualFold(s, c.String()) || strings.EqualFold(s, c.Label()) {
			return c, nil
		}
	}
	return 0, errors.NewValidation("category", fmt.Sprintf("unknown category %q", s))
}

// Classify returns the category of a frame given the header salts.
func Classify(h *Header, salt1, salt2, commitSize uint32) Category {
	switch {
	case salt1 != h.Salt1 || salt2 != h.Salt2:
		return Old
	case commitSize > 0:
		return Committed
	default:
		return Uncommitted
	}
}

// Frame is one parsed frame header. The page image is not copied; use
// Reader.PageData to reach it.
type Frame struct {
	Index        int      `json:"index"`
	Offset       int64    `json:"offset"` // Offset of the frame header
	PageNum      uint32   `json:"page_num"`
	CommitSize   uint32   `json:"commit_size"`
	Salt1        uint32   `json:"salt1"`
	Salt2        uint32   `json:"salt2"`
	Checksum1    uint32   `json:"checksum1"`
	Checksum2    uint32   `json:"checksum2"`
	Category     Category `json:"category"`
	PageType     string   `json:"page_type"`
	PageTypeByte byte     `json:"page_type_byte"`
}

// IsCommit reports whether the frame ends a transaction.
func (f *Frame) IsCommit() bool { return f.CommitSize > 0 }

// DataOffset returns the offset of the page image within the file.
func (f *Frame) DataOffset() int64 { return f.Offset + FrameHeaderSize }

// ParseFrames decodes every whole frame that follows the header in b.
// A trailing partial frame is ignored.
func ParseFrames(b []byte, h *Header) []Frame {
	frameSize := h.FrameSize()
	bo := h.ByteOrder()

	var frames []Frame
	for off := HeaderSize; off+frameSize <= len(b); off += frameSize {
		fh := b[off : off+FrameHeaderSize]
		f := Frame{
			Index:      len(frames),
			Offset:     int64(off),
			PageNum:    bo.Uint32(fh[0:4]),
			CommitSize: bo.Uint32(fh[4:8]),
			Salt1:      bo.Uint32(fh[8:12]),
			Salt2:      bo.Uint32(fh[12:16]),
			Checksum1:  bo.Uint32(fh[16:20]),
			Checksum2:  bo.Uint32(fh[20:24]),
		}
		f.Category = Classify(h, f.Salt1, f.Salt2, f.CommitSize)
		dataOff := off + FrameHeaderSize
		f.PageTypeByte, f.PageType = btree.Identify(b[dataOff : dataOff+1])
		frames = append(frames, f)
	}
	return frames
}

// AppendFrame appends a frame header and page image using h's byte order.
// The page is padded or cut to the header page size.
func AppendFrame(buf []byte, h *Header, f Frame, page []byte) []byte {
	bo := h.ByteOrder()
	var fh [FrameHeaderSize]byte
	bo.PutUint32(fh[0:4], f.PageNum)
	bo.PutUint32(fh[4:8], f.CommitSize)
	bo.PutUint32(fh[8:12], f.Salt1)
	bo.PutUint32(fh[12:16], f.Salt2)
	bo.PutUint32(fh[16:20], f.Checksum1)
	bo.PutUint32(fh[20:24], f.Checksum2)
	buf = append(buf, fh[:]...)

	img := make([]byte, h.PageSize)
	copy(img, page)
	return append(buf, img...)
}
