// Package evidence preserves a WAL file before anything else can touch it.
//
// Opening a live connection to a database may checkpoint its WAL and destroy
// the very frames an examiner is after, so the WAL is copied first. The copy
// is hashed with SHA-256 and BLAKE3 and described by a JSON manifest that
// can be packed with the copy into a .tar.xz archive.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/walscope/core/errors"
	"github.com/FocuswithJustin/walscope/internal/logging"
)

const (
	// BackupSuffix is appended to the WAL name to form the backup name.
	BackupSuffix = ".bak"
	// ManifestSuffix is appended to the backup name to form the manifest name.
	ManifestSuffix = ".manifest.json"
	// ManifestVersion is the version of the manifest format.
	ManifestVersion = "1"
)

// Hashes holds the digests of a preserved file.
type Hashes struct {
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
}

// Preservation is the manifest of one preserved WAL.
type Preservation struct {
	Version     string    `json:"manifest_version"`
	CaseID      string    `json:"case_id"`
	Source      string    `json:"source"`
	Backup      string    `json:"backup"`
	Size        int64     `json:"size_bytes"`
	ModTime     time.Time `json:"source_mtime"`
	PreservedAt time.Time `json:"preserved_at"`
	Hashes      Hashes    `json:"hashes"`
	Reused      bool      `json:"reused"`
	Tool        string    `json:"tool,omitempty"`

	manifest string
}

// ManifestPath returns where the manifest was written.
func (p *Preservation) ManifestPath() string { return p.manifest }

// Options configure Preserve.
type Options struct {
	// BackupDir holds the backup instead of the WAL's own directory.
	BackupDir string
	// Tool is recorded in the manifest, for example "walscope 1.0.0".
	Tool   string
	Logger *slog.Logger
	// Now overrides the clock.
	Now func() time.Time
}

// WALPath returns the WAL path that belongs to a database file.
func WALPath(dbPath string) string { return dbPath + "-wal" }

// BackupPath returns the backup path for walPath.
func BackupPath(walPath, backupDir string) string {
	name := filepath.Base(walPath) + BackupSuffix
	if backupDir != "" {
		return filepath.Join(backupDir, name)
	}
	return walPath + BackupSuffix
}

// Preserve copies walPath to its backup path, hashes the copy and writes a
// manifest. A non-empty backup that is at least as new as the WAL is reused
// instead of copied again. The copy keeps the WAL's modification time.
//
// It returns nil, nil when there is no WAL at walPath.
func Preserve(ctx context.Context, walPath string, opts Options) (*Preservation, error) {
	log := logging.Or(opts.Logger)
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	src, err := os.Stat(walPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewIO("stat", walPath, err)
	}
	if !src.Mode().IsRegular() {
		return nil, errors.NewValidation("wal", fmt.Sprintf("%s is not a regular file", walPath))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	backup := BackupPath(walPath, opts.BackupDir)
	if opts.BackupDir != "" {
		if err := os.MkdirAll(opts.BackupDir, 0o755); err != nil {
			return nil, errors.NewIO("mkdir", opts.BackupDir, err)
		}
	}

	reused := reusable(backup, src)
	if !reused {
		if err := copyFile(walPath, backup, src.ModTime()); err != nil {
			return nil, err
		}
	}

	hashes, size, err := HashFile(backup)
	if err != nil {
		return nil, err
	}

	p := &Preservation{
		Version:     ManifestVersion,
		CaseID:      uuid.NewString(),
		Source:      walPath,
		Backup:      backup,
		Size:        size,
		ModTime:     src.ModTime().UTC(),
		PreservedAt: now().UTC(),
		Hashes:      hashes,
		Reused:      reused,
		Tool:        opts.Tool,
		manifest:    backup + ManifestSuffix,
	}
	// A reused backup keeps its case while the contents are unchanged.
	if reused {
		if prev, err := LoadManifest(p.manifest); err == nil && prev.Hashes == hashes {
			p.CaseID = prev.CaseID
			p.PreservedAt = prev.PreservedAt
		}
	}
	if err := writeManifest(p); err != nil {
		return nil, err
	}

	logging.EvidencePreserved(log, walPath, backup, hashes.SHA256, reused, "case_id", p.CaseID, "size", size)
	return p, nil
}

func reusable(backup string, src os.FileInfo) bool {
	fi, err := os.Stat(backup)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
		return false
	}
	return !fi.ModTime().Before(src.ModTime())
}

// copyFile copies src to dst through a temporary file in dst's directory
// and stamps it with mtime.
func copyFile(src, dst string, mtime time.Time) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.NewIO("open", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".walscope-backup-*")
	if err != nil {
		return errors.NewIO("create", dst, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewIO("copy", src, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewIO("sync", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.NewIO("close", tmpPath, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return errors.NewIO("rename", dst, err)
	}
	if err := os.Chtimes(dst, mtime, mtime); err != nil {
		return errors.NewIO("chtimes", dst, err)
	}
	return nil
}

// HashFile returns the SHA-256 and BLAKE3 digests of a file and its size.
func HashFile(path string) (Hashes, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hashes{}, 0, errors.NewIO("open", path, err)
	}
	defer f.Close()

	sh := sha256.New()
	bh := blake3.New()
	n, err := io.Copy(io.MultiWriter(sh, bh), f)
	if err != nil {
		return Hashes{}, 0, errors.NewIO("read", path, err)
	}
	return Hashes{
		SHA256: hex.EncodeToString(sh.Sum(nil)),
		BLAKE3: hex.EncodeToString(bh.Sum(nil)),
	}, n, nil
}

// Verify rehashes the backup and reports whether it still matches the
// manifest.
func (p *Preservation) Verify() error {
	got, _, err := HashFile(p.Backup)
	if err != nil {
		return err
	}
	if got != p.Hashes {
		return errors.NewValidation("backup", fmt.Sprintf("%s changed since preservation: sha256 %s, want %s",
			p.Backup, got.SHA256, p.Hashes.SHA256))
	}
	return nil
}

func writeManifest(p *Preservation) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(p.manifest, append(data, '\n'), 0o644); err != nil {
		return errors.NewIO("write", p.manifest, err)
	}
	return nil
}

// LoadManifest reads a manifest written by Preserve.
func LoadManifest(path string) (*Preservation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	var p Preservation
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.NewParse("manifest", path, err.Error())
	}
	p.manifest = path
	return &p, nil
}
