package validation

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantError error
	}{
		{"simple", "case.db", nil},
		{"absolute", "/evidence/case.db", nil},
		{"unicode", "/evidence/notizen-ä.db", nil},
		{"empty", "", ErrEmptyPath},
		{"too long", strings.Repeat("a", MaxPathLength+1), ErrPathTooLong},
		{"null byte", "case\x00.db", ErrInvalidCharacter},
		{"newline", "case\n.db", ErrInvalidCharacter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if !errors.Is(err, tt.wantError) {
				t.Errorf("ValidatePath(%q) error = %v, want %v", tt.path, err, tt.wantError)
			}
		})
	}
}

func TestWithin(t *testing.T) {
	base := t.TempDir()
	tests := []struct {
		name      string
		input     string
		want      string
		wantError error
	}{
		{"plain", "blob_1.png", filepath.Join(base, "blob_1.png"), nil},
		{"nested", "notes/blob_1.png", filepath.Join(base, "notes", "blob_1.png"), nil},
		{"dot", "./blob.bin", filepath.Join(base, "blob.bin"), nil},
		{"dots inside a name", "a..b.bin", filepath.Join(base, "a..b.bin"), nil},
		{"escape", "../outside.bin", "", ErrPathTraversal},
		{"escape after clean", "notes/../../outside.bin", "", ErrPathTraversal},
		{"absolute", "/etc/passwd", "", ErrPathTraversal},
		{"empty", "", "", ErrEmptyPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Within(base, tt.input)
			if tt.wantError != nil {
				if !errors.Is(err, tt.wantError) {
					t.Errorf("Within(%q) error = %v, want %v", tt.input, err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("Within(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Within(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want FileType
	}{
		{"sqlite", append([]byte("SQLite format 3\x00"), make([]byte, 84)...), FileTypeSQLite},
		{"wal big-endian", []byte{0x37, 0x7f, 0x06, 0x82, 0, 0x2d, 0xe2, 0x18}, FileTypeWAL},
		{"wal little-endian", []byte{0x37, 0x7f, 0x06, 0x83, 0, 0x2d, 0xe2, 0x18}, FileTypeWAL},
		{"xz", []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00, 0, 0}, FileTypeXZ},
		{"text", []byte("just some notes"), FileTypeUnknown},
		{"short", []byte{0x37}, FileTypeUnknown},
		{"empty", nil, FileTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFileType(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("DetectFileType() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectFileType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateInputs(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}
	db := write("case.db", append([]byte("SQLite format 3\x00"), make([]byte, 84)...))
	walFile := write("case.db-wal", []byte{0x37, 0x7f, 0x06, 0x82, 0, 0x2d, 0xe2, 0x18})
	junk := write("notes.txt", []byte("not a database"))

	if err := ValidateDatabasePath(db); err != nil {
		t.Errorf("ValidateDatabasePath(db) error = %v", err)
	}
	if err := ValidateDatabasePath(junk); !errors.Is(err, ErrNotSQLite) {
		t.Errorf("ValidateDatabasePath(junk) error = %v, want ErrNotSQLite", err)
	}
	if err := ValidateDatabasePath(dir); !errors.Is(err, ErrNotRegular) {
		t.Errorf("ValidateDatabasePath(dir) error = %v, want ErrNotRegular", err)
	}
	if err := ValidateDatabasePath(filepath.Join(dir, "absent.db")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ValidateDatabasePath(absent) error = %v, want not exist", err)
	}
	if err := ValidateWALPath(walFile); err != nil {
		t.Errorf("ValidateWALPath(wal) error = %v", err)
	}
	if err := ValidateWALPath(db); !errors.Is(err, ErrNotWAL) {
		t.Errorf("ValidateWALPath(db) error = %v, want ErrNotWAL", err)
	}
}
