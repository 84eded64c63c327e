// Package blob classifies BLOB values by their leading bytes and renders
// them for display and extraction.
package blob

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/FocuswithJustin/walscope/core/encoding"
)

// Unknown is the kind reported for unrecognized data.
const Unknown = "BLOB"

type signature struct {
	magic []byte
	kind  string
}

// Checked in order; the first prefix match wins.
var signatures = []signature{
	{[]byte("\xff\xd8\xff"), "JPEG"},
	{[]byte("\x89PNG\r\n\x1a\n"), "PNG"},
	{[]byte("GIF87a"), "GIF"},
	{[]byte("GIF89a"), "GIF"},
	{[]byte("RIFF"), "RIFF"},
	{[]byte("bplist"), "bplist"},
	{[]byte("<?xml"), "XML/Plist"},
	{[]byte("SQLite format 3"), "SQLite"},
	{[]byte("%PDF"), "PDF"},
	{[]byte("PK\x03\x04"), "ZIP"},
	{[]byte("\x1f\x8b"), "GZIP"},
	{[]byte("II\x2a\x00"), "TIFF"},
	{[]byte("MM\x00\x2a"), "TIFF"},
	{[]byte("OggS"), "OGG"},
	{[]byte("\xff\xfb"), "MP3"},
	{[]byte("\xff\xf3"), "MP3"},
	{[]byte("\xff\xf2"), "MP3"},
	{[]byte("ID3"), "MP3"},
	{[]byte("\x1a\x45\xdf\xa3"), "MKV/WEBM"},
	{[]byte("\x00\x00\x01\x00"), "ICO"},
	{[]byte("BM"), "BMP"},
	{[]byte("\x00asm"), "WASM"},
	{[]byte("\x7fELF"), "ELF"},
	{[]byte("MZ"), "PE/EXE"},
	{[]byte("\xfe\xed\xfa\xce"), "Mach-O"},
	{[]byte("\xfe\xed\xfa\xcf"), "Mach-O"},
	{[]byte("\xce\xfa\xed\xfe"), "Mach-O"},
	{[]byte("\xcf\xfa\xed\xfe"), "Mach-O"},
	{[]byte("dex\n"), "DEX"},
}

var extensions = map[string]string{
	"JPEG": ".jpg", "PNG": ".png", "GIF": ".gif", "WEBP": ".webp",
	"bplist": ".plist", "XML/Plist": ".plist", "SQLite": ".sqlite",
	"PDF": ".pdf", "ZIP": ".zip", "GZIP": ".gz", "TIFF": ".tif",
	"OGG": ".ogg", "MP3": ".mp3", "MKV/WEBM": ".mkv", "ICO": ".ico",
	"MP4": ".mp4", "HEIF": ".heif", "BMP": ".bmp", "WASM": ".wasm",
	"ELF": "", "PE/EXE": ".exe", "Mach-O": "", "DEX": ".dex",
	"RIFF": ".riff",
}

var heifBrands = [][]byte{[]byte("heic"), []byte("heix"), []byte("hevc"), []byte("mif1")}

// Kind names the format of data from its magic bytes. Empty or
// unrecognized data is Unknown. "Protobuf?" marks a weak guess.
func Kind(data []byte) string {
	if len(data) == 0 {
		return Unknown
	}
	for _, s := range signatures {
		if !bytes.HasPrefix(data, s.magic) {
			continue
		}
		if s.kind == "RIFF" && len(data) >= 12 && string(data[8:12]) == "WEBP" {
			return "WEBP"
		}
		return s.kind
	}

	if len(data) >= 8 && string(data[4:8]) == "ftyp" {
		if len(data) >= 12 {
			for _, b := range heifBrands {
				if bytes.Equal(data[8:12], b) {
					return "HEIF"
				}
			}
		}
		return "MP4"
	}

	// A protobuf message starts with a field tag: non-zero field number and
	// a plausible wire type.
	if len(data) >= 2 && data[0]>>3 > 0 {
		switch data[0] & 0x07 {
		case 0:
			return "Protobuf?"
		case 2:
			if l := int(data[1]); len(data) >= 3 && l > 0 && l < len(data) {
				return "Protobuf?"
			}
		}
	}
	return Unknown
}

// Extension returns the file extension used when extracting a BLOB of the
// given kind, ".bin" for kinds without one.
func Extension(kind string) string {
	if ext, ok := extensions[kind]; ok && ext != "" {
		return ext
	}
	return ".bin"
}

// Size formats a byte count.
func Size(n int) string {
	return humanize.IBytes(uint64(n))
}

// Describe renders data as "[BLOB: <size>, <kind>]".
func Describe(data []byte) string {
	return fmt.Sprintf("[BLOB: %s, %s]", Size(len(data)), Kind(data))
}

// Display renders data for a table cell. Known formats show their kind and
// size. Unknown data that decodes as UTF-8 text with few control characters
// is shown as text, anything else as "[BLOB <size>]".
func Display(data []byte) string {
	if k := Kind(data); k != Unknown {
		return fmt.Sprintf("[%s %s]", k, Size(len(data)))
	}
	if LooksLikeText(data) {
		s := string(data)
		if utf8.RuneCountInString(s) <= 500 {
			return s
		}
		return encoding.Truncate(s, 300)
	}
	return fmt.Sprintf("[BLOB %s]", Size(len(data)))
}

// LooksLikeText reports whether data is valid UTF-8 with at most two
// control characters, other than tab, CR and LF, among its first 200 runes.
func LooksLikeText(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	ctrl, n := 0, 0
	for _, r := range string(data) {
		if n == 200 {
			break
		}
		n++
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			ctrl++
		}
	}
	return ctrl <= 2
}

// IsImage reports whether data is an image format a viewer can show.
func IsImage(data []byte) bool {
	switch Kind(data) {
	case "JPEG", "PNG", "GIF", "BMP", "WEBP":
		return true
	}
	return false
}
