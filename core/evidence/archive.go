package evidence

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/walscope/core/errors"
)

// Archive packs the backup and its manifest into a .tar.xz file at out.
// The manifest is written first as manifest.json.
func Archive(p *Preservation, out string) (err error) {
	manifest, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize manifest: %w", err)
	}

	file, err := os.Create(out)
	if err != nil {
		return errors.NewIO("create", out, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = errors.NewIO("close", out, cerr)
		}
		if err != nil {
			os.Remove(out)
		}
	}()

	xw, err := xz.NewWriter(file)
	if err != nil {
		return fmt.Errorf("failed to create xz writer: %w", err)
	}
	tw := tar.NewWriter(xw)

	if err := writeTarFile(tw, "manifest.json", p.PreservedAt.Unix(), int64(len(manifest)), bytes.NewReader(manifest)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	in, err := os.Open(p.Backup)
	if err != nil {
		return errors.NewIO("open", p.Backup, err)
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return errors.NewIO("stat", p.Backup, err)
	}
	if err := writeTarFile(tw, filepath.Base(p.Backup), fi.ModTime().Unix(), fi.Size(), in); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar: %w", err)
	}
	if err := xw.Close(); err != nil {
		return fmt.Errorf("failed to finish xz: %w", err)
	}
	return nil
}

func writeTarFile(tw *tar.Writer, name string, mtime, size int64, r io.Reader) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    size,
		ModTime: time.Unix(mtime, 0),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.CopyN(tw, r, size)
	return err
}

// ArchiveEntries lists the file names inside a .tar.xz archive with their
// contents, for inspection and tests.
func ArchiveEntries(path string) (map[string][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return nil, errors.NewParse("xz", path, err.Error())
	}
	tr := tar.NewReader(xr)
	out := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.NewParse("tar", path, err.Error())
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, errors.NewIO("read", path, err)
		}
		out[hdr.Name] = data
	}
}
