package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/walscope/core/blob"
	"github.com/FocuswithJustin/walscope/core/encoding"
	"github.com/FocuswithJustin/walscope/core/record"
	"github.com/FocuswithJustin/walscope/core/recovery"
	"github.com/FocuswithJustin/walscope/core/wal"
	"github.com/FocuswithJustin/walscope/internal/logging"
	"github.com/FocuswithJustin/walscope/internal/validation"
)

// RecoverCmd dumps recovered records.
type RecoverCmd struct {
	Target       `embed:""`
	Table        string `name:"table" short:"t" help:"Only records of this table"`
	Category     string `name:"category" short:"c" help:"Only records of this category (committed, uncommitted, old)"`
	Schema       bool   `name:"schema" help:"Include sqlite_master and other system tables"`
	Diff         bool   `name:"diff" help:"Compare each record with the live database"`
	Format       string `name:"format" short:"f" help:"Output format" enum:"text,json,csv" default:"text"`
	ExtractBlobs string `name:"extract-blobs" help:"Write BLOB values to files in this directory" type:"path"`
	XPath        string `name:"xpath" help:"Evaluate an XPath expression against XML BLOBs"`
}

type recoverRow struct {
	recovery.Record
	Source string         `json:"source"`
	Diff   *recovery.Diff `json:"diff,omitempty"`
	XML    []xmlBlob      `json:"xml,omitempty"`
}

// xmlBlob describes one XML BLOB column of a record.
type xmlBlob struct {
	Column  string   `json:"column"`
	Root    string   `json:"root"`
	Keys    []string `json:"plist_keys,omitempty"`
	Matches []string `json:"matches,omitempty"`
}

// inspectXML reports the XML BLOBs of rec. Columns that do not parse are
// left out.
func inspectXML(rec recovery.Record, expr string) []xmlBlob {
	var out []xmlBlob
	for i, v := range rec.Raw {
		if v.Kind != record.KindBlob || blob.Kind(v.Blob) != "XML/Plist" {
			continue
		}
		info, err := blob.InspectXML(v.Blob)
		if err != nil {
			logging.Debug("unparsable XML blob", "table", rec.Table, "rowid", rec.RowID, "error", err)
			continue
		}
		x := xmlBlob{Column: columnName(rec, i), Root: info.Root, Keys: info.Keys}
		if expr != "" {
			x.Matches, _ = blob.QueryXML(v.Blob, expr)
		}
		out = append(out, x)
	}
	return out
}

func columnName(rec recovery.Record, i int) string {
	if i < len(rec.Values) {
		return rec.Values[i].Column
	}
	return "col" + strconv.Itoa(i)
}

func (c *RecoverCmd) Run(g *Globals) error {
	flt := recovery.Filter{Table: c.Table, IncludeSchema: c.Schema}
	if c.Category != "" {
		cat, err := wal.ParseCategory(c.Category)
		if err != nil {
			return err
		}
		flt.Category = cat
	}
	if c.XPath != "" {
		if err := blob.ValidateXPath(c.XPath); err != nil {
			return err
		}
	}
	if c.ExtractBlobs != "" {
		if err := os.MkdirAll(c.ExtractBlobs, 0o755); err != nil {
			return err
		}
	}

	ctx, stop := commandContext()
	defer stop()
	a, err := c.open(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	out := newRecordWriter(c.Format, g.out, c.Table, a.Columns(c.Table), c.Diff)
	n, blobs := 0, 0
	for rec := range a.RecoverAll(ctx, flt) {
		row := recoverRow{Record: rec, Source: rec.Source(), XML: inspectXML(rec, c.XPath)}
		if c.Diff {
			d, err := a.Diff(ctx, rec)
			if err != nil {
				return err
			}
			row.Diff = &d
		}
		if err := out.write(row); err != nil {
			return err
		}
		n++
		if c.ExtractBlobs != "" {
			k, err := extractBlobs(c.ExtractBlobs, rec)
			if err != nil {
				return err
			}
			blobs += k
		}
	}
	if err := out.flush(); err != nil {
		return err
	}
	logging.Info("records recovered", "records", n, "blobs", blobs, "db", a.DBPath())
	if c.Diff {
		s := a.DiffCacheStats()
		logging.Debug("live row cache", "hits", s.Hits, "misses", s.Misses, "evictions", s.Evictions)
	}
	if c.Format == "text" {
		fmt.Fprintf(g.out, "%d record(s)\n", n)
		if c.ExtractBlobs != "" {
			fmt.Fprintf(g.out, "%d BLOB(s) written to %s\n", blobs, c.ExtractBlobs)
		}
	}
	return nil
}

// recordWriter renders records in one output format.
type recordWriter struct {
	format string
	w      io.Writer
	enc    *json.Encoder
	csv    *csv.Writer
	// cols fixes the CSV columns when a single table is requested.
	cols   []string
	diff   bool
	header bool
}

func newRecordWriter(format string, w io.Writer, table string, cols []string, diff bool) *recordWriter {
	rw := &recordWriter{format: format, w: w, diff: diff}
	switch format {
	case "json":
		rw.enc = json.NewEncoder(w)
	case "csv":
		rw.csv = csv.NewWriter(w)
		if table != "" {
			rw.cols = cols
		}
	}
	return rw
}

func (rw *recordWriter) write(r recoverRow) error {
	switch rw.format {
	case "json":
		return rw.enc.Encode(r)
	case "csv":
		return rw.writeCSV(r)
	default:
		return rw.writeText(r)
	}
}

func (rw *recordWriter) writeText(r recoverRow) error {
	line := fmt.Sprintf("%s rowid=%d frame=%d page=%d [%s]", r.Table, r.RowID, r.Frame, r.Page, r.Source)
	if r.Partial {
		line += " partial"
	}
	if r.Diff != nil {
		line += " diff=" + r.Diff.Status.String()
	}
	if _, err := fmt.Fprintln(rw.w, line); err != nil {
		return err
	}
	for _, f := range r.Values {
		if _, err := fmt.Fprintf(rw.w, "  %s: %s\n", f.Column, encoding.Truncate(f.Value, 200)); err != nil {
			return err
		}
	}
	for _, x := range r.XML {
		line := fmt.Sprintf("  %s <%s>", x.Column, x.Root)
		if len(x.Keys) > 0 {
			line += " keys=" + strings.Join(x.Keys, ",")
		}
		for _, m := range x.Matches {
			line += " match=" + strconv.Quote(m)
		}
		if _, err := fmt.Fprintln(rw.w, line); err != nil {
			return err
		}
	}
	return nil
}

func (rw *recordWriter) writeCSV(r recoverRow) error {
	if !rw.header {
		head := []string{"table", "rowid", "frame_idx", "page_num", "source"}
		if rw.diff {
			head = append(head, "diff")
		}
		if rw.cols != nil {
			head = append(head, rw.cols...)
		} else {
			head = append(head, "values")
		}
		if err := rw.csv.Write(head); err != nil {
			return err
		}
		rw.header = true
	}
	row := []string{r.Table, strconv.FormatInt(r.RowID, 10), strconv.Itoa(r.Frame), strconv.FormatUint(uint64(r.Page), 10), r.Source}
	if rw.diff {
		status := ""
		if r.Diff != nil {
			status = r.Diff.Status.String()
		}
		row = append(row, status)
	}
	if rw.cols != nil {
		for _, col := range rw.cols {
			v, _ := r.Values.Get(col)
			row = append(row, v)
		}
	} else {
		b, err := json.Marshal(r.Values)
		if err != nil {
			return err
		}
		row = append(row, string(b))
	}
	return rw.csv.Write(row)
}

func (rw *recordWriter) flush() error {
	if rw.csv != nil {
		rw.csv.Flush()
		return rw.csv.Error()
	}
	return nil
}

// blobFileName names an extracted BLOB after where it was found.
func blobFileName(rec recovery.Record, column, kind string) string {
	return encoding.SanitizeFilename(fmt.Sprintf("%s_rowid%d_frame%d_%s%s",
		rec.Table, rec.RowID, rec.Frame, column, blob.Extension(kind)))
}

// extractBlobs writes every non-empty BLOB of rec into dir. XML payloads are
// re-indented when they parse.
func extractBlobs(dir string, rec recovery.Record) (int, error) {
	n := 0
	for i, v := range rec.Raw {
		if v.Kind != record.KindBlob || len(v.Blob) == 0 {
			continue
		}
		column := columnName(rec, i)
		kind := blob.Kind(v.Blob)
		path, err := validation.Within(dir, blobFileName(rec, column, kind))
		if err != nil {
			return n, err
		}
		data := v.Blob
		if kind == "XML/Plist" {
			if pretty, err := blob.FormatXML(v.Blob, "  "); err == nil {
				data = pretty
			}
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
