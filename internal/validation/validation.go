// Package validation checks user-supplied paths before walscope touches
// them: database and WAL inputs, and output locations for extracted data.
package validation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// MaxPathLength is the maximum accepted path length.
const MaxPathLength = 4096

// Common validation errors.
var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrPathTooLong      = errors.New("path too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrNotRegular       = errors.New("not a regular file")
	ErrNotSQLite        = errors.New("not an SQLite database")
	ErrNotWAL           = errors.New("not an SQLite WAL file")
)

// ValidatePath rejects empty paths, overlong paths and paths carrying
// NUL or control characters.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidCharacter)
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}
	return nil
}

// Within joins name onto baseDir and returns the result, refusing names
// that are absolute or would resolve outside baseDir.
func Within(baseDir, name string) (string, error) {
	if err := ValidatePath(name); err != nil {
		return "", err
	}
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute path not allowed", ErrPathTraversal)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	full := filepath.Join(absBase, clean)
	rel, err := filepath.Rel(absBase, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return full, nil
}

// FileType is a detected input type.
type FileType string

const (
	FileTypeSQLite  FileType = "sqlite"
	FileTypeWAL     FileType = "wal"
	FileTypeXZ      FileType = "xz"
	FileTypeUnknown FileType = "unknown"
)

var (
	sqliteMagic = []byte("SQLite format 3\x00")
	xzMagic     = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
)

// DetectFileType sniffs the first bytes of r.
func DetectFileType(r io.Reader) (FileType, error) {
	buf := make([]byte, 16)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FileTypeUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	buf = buf[:n]
	switch {
	case bytes.HasPrefix(buf, sqliteMagic):
		return FileTypeSQLite, nil
	case bytes.HasPrefix(buf, xzMagic):
		return FileTypeXZ, nil
	case len(buf) >= 4:
		if m := binary.BigEndian.Uint32(buf); m == 0x377f0682 || m == 0x377f0683 {
			return FileTypeWAL, nil
		}
	}
	return FileTypeUnknown, nil
}

func detectFile(path string) (FileType, error) {
	if err := ValidatePath(path); err != nil {
		return FileTypeUnknown, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return FileTypeUnknown, err
	}
	if !fi.Mode().IsRegular() {
		return FileTypeUnknown, fmt.Errorf("%w: %s", ErrNotRegular, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return FileTypeUnknown, err
	}
	defer f.Close()
	return DetectFileType(f)
}

// ValidateDatabasePath checks that path names a readable SQLite database.
func ValidateDatabasePath(path string) error {
	ft, err := detectFile(path)
	if err != nil {
		return err
	}
	if ft != FileTypeSQLite {
		return fmt.Errorf("%w: %s", ErrNotSQLite, path)
	}
	return nil
}

// ValidateWALPath checks that path names a file with a WAL header.
func ValidateWALPath(path string) error {
	ft, err := detectFile(path)
	if err != nil {
		return err
	}
	if ft != FileTypeWAL {
		return fmt.Errorf("%w: %s", ErrNotWAL, path)
	}
	return nil
}
