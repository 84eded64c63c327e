package wal

import (
	"io/fs"
	"os"
	"slices"

	"github.com/FocuswithJustin/walscope/core/errors"
)

// Reader gives read-only access to a parsed WAL file.
//
// The file is memory-mapped for the life of the Reader. Slices returned by
// PageData point into the mapping and must not be used after Close. A Reader
// is safe for concurrent reads; Close must not race with them.
type Reader struct {
	path   string
	data   []byte
	unmap  func() error
	header *Header
	frames []Frame
}

// Open maps and parses the WAL file at path.
//
// A missing file, or one shorter than the WAL header, is not an error: the
// returned Reader reports Valid() == false and every query is empty. A file
// whose header cannot be parsed returns an error wrapping ErrInvalidMagic or
// ErrInvalidInput.
func Open(path string) (*Reader, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Reader{path: path}, nil
	}
	if err != nil {
		return nil, errors.NewIO("stat", path, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, errors.NewValidation("wal", path+" is not a regular file")
	}
	if fi.Size() < HeaderSize {
		return &Reader{path: path}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	defer f.Close()

	data, unmap, err := mapFile(f, fi.Size())
	if err != nil {
		return nil, errors.NewIO("mmap", path, err)
	}

	r, err := newReader(path, data)
	if err != nil {
		_ = unmap()
		var pe *errors.ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	r.unmap = unmap
	return r, nil
}

// FromBytes parses a WAL image held in memory. The slice is retained.
func FromBytes(data []byte) (*Reader, error) {
	if len(data) < HeaderSize {
		return &Reader{}, nil
	}
	return newReader("", data)
}

func newReader(path string, data []byte) (*Reader, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	return &Reader{
		path:   path,
		data:   data,
		header: h,
		frames: ParseFrames(data, h),
	}, nil
}

// Close releases the mapping. The Reader is empty afterwards.
func (r *Reader) Close() error {
	var err error
	if r.unmap != nil {
		if uerr := r.unmap(); uerr != nil {
			err = errors.NewIO("munmap", r.path, uerr)
		}
		r.unmap = nil
	}
	r.data = nil
	r.header = nil
	r.frames = nil
	return err
}

// Valid reports whether a WAL header was parsed.
func (r *Reader) Valid() bool { return r != nil && r.header != nil }

// Path returns the file the Reader was opened from.
func (r *Reader) Path() string { return r.path }

// Header returns the parsed header, or nil when the WAL is absent.
func (r *Reader) Header() *Header { return r.header }

// Frames returns every parsed frame in file order. The slice must not be
// modified.
func (r *Reader) Frames() []Frame {
	if r == nil {
		return nil
	}
	return r.frames
}

// Frame returns frame i.
func (r *Reader) Frame(i int) (Frame, bool) {
	if r == nil || i < 0 || i >= len(r.frames) {
		return Frame{}, false
	}
	return r.frames[i], true
}

// PageSize returns the WAL page size, or 0 when the WAL is absent.
func (r *Reader) PageSize() int {
	if !r.Valid() {
		return 0
	}
	return int(r.header.PageSize)
}

// Size returns the WAL size in bytes.
func (r *Reader) Size() int64 {
	if r == nil {
		return 0
	}
	return int64(len(r.data))
}

// PageData returns the page image of frame i without copying. Out-of-range
// indexes yield an empty slice.
func (r *Reader) PageData(i int) []byte {
	if !r.Valid() || i < 0 || i >= len(r.frames) {
		return nil
	}
	start := r.frames[i].DataOffset()
	end := start + int64(r.header.PageSize)
	if end > int64(len(r.data)) {
		return nil
	}
	return r.data[start:end:end]
}

// LatestFrames returns, for every page number in the WAL, the index of its
// last frame.
func (r *Reader) LatestFrames() map[uint32]int {
	latest := make(map[uint32]int)
	for _, f := range r.Frames() {
		latest[f.PageNum] = f.Index
	}
	return latest
}

// Summary holds WAL-level counts.
type Summary struct {
	TotalFrames   int            `json:"total_frames"`
	Committed     int            `json:"committed"`
	Uncommitted   int            `json:"uncommitted"`
	Old           int            `json:"old"`
	UniquePages   int            `json:"unique_pages"`
	PageTypes     map[string]int `json:"page_types"`
	WALSize       int64          `json:"wal_size"`
	PageSize      int            `json:"page_size"`
	CheckpointSeq uint32         `json:"checkpoint_seq"`
	HeaderSalt1   uint32         `json:"header_salt1"`
	HeaderSalt2   uint32         `json:"header_salt2"`
}

// Summary counts frames by category and page type. An absent WAL yields a
// zero Summary.
func (r *Reader) Summary() Summary {
	if !r.Valid() {
		return Summary{}
	}
	s := Summary{
		TotalFrames:   len(r.frames),
		PageTypes:     make(map[string]int),
		WALSize:       r.Size(),
		PageSize:      r.PageSize(),
		CheckpointSeq: r.header.CheckpointSeq,
		HeaderSalt1:   r.header.Salt1,
		HeaderSalt2:   r.header.Salt2,
	}
	pages := make(map[uint32]struct{})
	for _, f := range r.frames {
		switch f.Category {
		case Committed:
			s.Committed++
		case Uncommitted:
			s.Uncommitted++
		case Old:
			s.Old++
		}
		s.PageTypes[f.PageType]++
		pages[f.PageNum] = struct{}{}
	}
	s.UniquePages = len(pages)
	return s
}

// TransactionGroup is a run of frames written by one transaction.
type TransactionGroup struct {
	StartFrame int      `json:"start_frame"`
	EndFrame   int      `json:"end_frame"`
	FrameCount int      `json:"frame_count"`
	Pages      []uint32 `json:"pages"`
	Committed  bool     `json:"committed"`
	Salt1      uint32   `json:"salt1"`
	Salt2      uint32   `json:"salt2"`
}

// TransactionGroups splits the frames into transactions. A group holds
// consecutive frames with equal salts and ends at a commit frame or where the
// salts change. A trailing group without a commit frame is uncommitted.
func (r *Reader) TransactionGroups() []TransactionGroup {
	var groups []TransactionGroup
	var cur []Frame

	flush := func(committed bool) {
		if len(cur) == 0 {
			return
		}
		pages := make([]uint32, 0, len(cur))
		for _, f := range cur {
			pages = append(pages, f.PageNum)
		}
		slices.Sort(pages)
		groups = append(groups, TransactionGroup{
			StartFrame: cur[0].Index,
			EndFrame:   cur[len(cur)-1].Index,
			FrameCount: len(cur),
			Pages:      slices.Compact(pages),
			Committed:  committed,
			Salt1:      cur[0].Salt1,
			Salt2:      cur[0].Salt2,
		})
		cur = nil
	}

	for _, f := range r.Frames() {
		if len(cur) > 0 && (f.Salt1 != cur[0].Salt1 || f.Salt2 != cur[0].Salt2) {
			flush(false)
		}
		cur = append(cur, f)
		if f.IsCommit() {
			flush(true)
		}
	}
	flush(false)
	return groups
}
