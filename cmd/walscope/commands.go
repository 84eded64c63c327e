package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/FocuswithJustin/walscope/core/analyzer"
	"github.com/FocuswithJustin/walscope/core/encoding"
	"github.com/FocuswithJustin/walscope/core/errors"
	"github.com/FocuswithJustin/walscope/core/evidence"
	"github.com/FocuswithJustin/walscope/core/recovery"
	"github.com/FocuswithJustin/walscope/core/sqlite"
	"github.com/FocuswithJustin/walscope/core/timestamp"
	"github.com/FocuswithJustin/walscope/core/wal"
	"github.com/FocuswithJustin/walscope/internal/stream"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// SummaryCmd prints WAL and database facts.
type SummaryCmd struct {
	Target `embed:""`
	JSON   bool `name:"json" help:"Print JSON"`
}

type summaryReport struct {
	DB            string                 `json:"db"`
	WAL           string                 `json:"wal"`
	HasWAL        bool                   `json:"has_wal"`
	Summary       wal.Summary            `json:"summary"`
	Database      *sqlite.Meta           `json:"database,omitempty"`
	Integrity     string                 `json:"integrity,omitempty"`
	WALOnlyTables []string               `json:"wal_only_tables"`
	Preservation  *evidence.Preservation `json:"preservation,omitempty"`
}

// commandContext is cancelled by Ctrl-C or SIGTERM so long scans stop at
// the next frame.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (c *SummaryCmd) Run(g *Globals) error {
	ctx, stop := commandContext()
	defer stop()
	a, err := c.open(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	r := summaryReport{
		DB:            a.DBPath(),
		WAL:           a.WALPath(),
		HasWAL:        a.HasWAL(),
		Summary:       a.Summary(),
		WALOnlyTables: a.WALOnlyTables(),
		Preservation:  a.Preservation(),
	}
	if live := a.Live(); live != nil {
		m := live.Meta(ctx)
		r.Database = &m
		if s, err := live.Integrity(ctx); err == nil {
			r.Integrity = s
		}
	}
	if c.JSON {
		return writeJSON(g.out, r)
	}

	s := r.Summary
	tw := newTable(g.out)
	fmt.Fprintf(tw, "Database:\t%s\n", r.DB)
	if r.Database != nil {
		fmt.Fprintf(tw, "  size:\t%s (%d pages of %d bytes)\n", humanize.IBytes(uint64(r.Database.Size)), r.Database.PageCount, r.Database.PageSize)
		fmt.Fprintf(tw, "  journal mode:\t%s\n", r.Database.JournalMode)
		fmt.Fprintf(tw, "  integrity:\t%s\n", r.Integrity)
	}
	fmt.Fprintf(tw, "WAL:\t%s\n", r.WAL)
	if !r.HasWAL {
		fmt.Fprintf(tw, "  status:\tno WAL data\n")
		return tw.Flush()
	}
	fmt.Fprintf(tw, "  size:\t%s\n", humanize.IBytes(uint64(s.WALSize)))
	fmt.Fprintf(tw, "  page size:\t%d\n", s.PageSize)
	fmt.Fprintf(tw, "  checkpoint:\t%d\n", s.CheckpointSeq)
	fmt.Fprintf(tw, "  salts:\t%08x %08x\n", s.HeaderSalt1, s.HeaderSalt2)
	fmt.Fprintf(tw, "  frames:\t%d (%d saved, %d unsaved, %d overwritten)\n", s.TotalFrames, s.Committed, s.Uncommitted, s.Old)
	fmt.Fprintf(tw, "  unique pages:\t%d\n", s.UniquePages)
	for _, t := range slices.Sorted(maps.Keys(s.PageTypes)) {
		fmt.Fprintf(tw, "    %s:\t%d\n", t, s.PageTypes[t])
	}
	if len(r.WALOnlyTables) > 0 {
		fmt.Fprintf(tw, "WAL-only tables:\t%s\n", strings.Join(r.WALOnlyTables, ", "))
	}
	if p := r.Preservation; p != nil {
		fmt.Fprintf(tw, "Backup:\t%s\n", p.Backup)
		fmt.Fprintf(tw, "  sha256:\t%s\n", p.Hashes.SHA256)
		fmt.Fprintf(tw, "  blake3:\t%s\n", p.Hashes.BLAKE3)
		fmt.Fprintf(tw, "  case id:\t%s\n", p.CaseID)
	}
	return tw.Flush()
}

// FramesCmd lists frames.
type FramesCmd struct {
	Target   `embed:""`
	Category string `name:"category" short:"c" help:"Only frames of this category (committed, uncommitted, old)"`
	JSON     bool   `name:"json" help:"Print JSON"`
}

type frameRow struct {
	wal.Frame
	Table string `json:"table,omitempty"`
}

func (c *FramesCmd) Run(g *Globals) error {
	var want wal.Category
	if c.Category != "" {
		cat, err := wal.ParseCategory(c.Category)
		if err != nil {
			return err
		}
		want = cat
	}
	ctx, stop := commandContext()
	defer stop()
	a, err := c.open(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	var rows []frameRow
	for _, f := range a.Frames() {
		if want != 0 && f.Category != want {
			continue
		}
		t, _ := a.PageMap().Table(f.PageNum)
		rows = append(rows, frameRow{Frame: f, Table: t})
	}
	if c.JSON {
		return writeJSON(g.out, rows)
	}
	tw := newTable(g.out)
	fmt.Fprintln(tw, "FRAME\tPAGE\tTYPE\tSTATE\tCOMMIT\tTABLE")
	for _, r := range rows {
		commit := ""
		if r.IsCommit() {
			commit = strconv.FormatUint(uint64(r.CommitSize), 10)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n", r.Index, r.PageNum, r.PageType, r.Category.Label(), commit, r.Table)
	}
	return tw.Flush()
}

// TxnsCmd lists transactions.
type TxnsCmd struct {
	Target `embed:""`
	JSON   bool `name:"json" help:"Print JSON"`
}

func (c *TxnsCmd) Run(g *Globals) error {
	ctx, stop := commandContext()
	defer stop()
	a, err := c.open(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	groups := a.TransactionGroups()
	if c.JSON {
		return writeJSON(g.out, groups)
	}
	tw := newTable(g.out)
	fmt.Fprintln(tw, "FRAMES\tCOUNT\tCOMMITTED\tSALTS\tPAGES")
	for _, t := range groups {
		pages := make([]string, len(t.Pages))
		for i, p := range t.Pages {
			pages[i] = strconv.FormatUint(uint64(p), 10)
		}
		fmt.Fprintf(tw, "%d-%d\t%d\t%t\t%08x %08x\t%s\n", t.StartFrame, t.EndFrame, t.FrameCount, t.Committed, t.Salt1, t.Salt2, strings.Join(pages, ","))
	}
	return tw.Flush()
}

// TablesCmd lists tables.
type TablesCmd struct {
	Target `embed:""`
	JSON   bool `name:"json" help:"Print JSON"`
}

type tableRow struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	PK      string   `json:"rowid_alias,omitempty"`
	Rows    *int64   `json:"rows,omitempty"`
	WALOnly bool     `json:"wal_only"`
}

func (c *TablesCmd) Run(g *Globals) error {
	ctx, stop := commandContext()
	defer stop()
	a, err := c.open(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	walOnly := make(map[string]bool)
	for _, t := range a.WALOnlyTables() {
		walOnly[t] = true
	}
	var rows []tableRow
	for _, name := range a.PageMap().Tables() {
		cols := a.Columns(name)
		r := tableRow{Name: name, Columns: cols, WALOnly: walOnly[name]}
		if i := a.PKIndex(name); i >= 0 && i < len(cols) {
			r.PK = cols[i]
		}
		if live := a.Live(); live != nil && !r.WALOnly {
			if n, err := live.Count(ctx, name); err == nil {
				r.Rows = &n
			}
		}
		rows = append(rows, r)
	}
	if c.JSON {
		return writeJSON(g.out, rows)
	}
	tw := newTable(g.out)
	fmt.Fprintln(tw, "TABLE\tROWS\tWAL ONLY\tCOLUMNS")
	for _, r := range rows {
		n := "-"
		if r.Rows != nil {
			n = humanize.Comma(*r.Rows)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", r.Name, n, r.WALOnly, strings.Join(r.Columns, ", "))
	}
	return tw.Flush()
}

// StatsCmd prints per-table record counts.
type StatsCmd struct {
	Target `embed:""`
	JSON   bool `name:"json" help:"Print JSON"`
}

func (c *StatsCmd) Run(g *Globals) error {
	ctx, stop := commandContext()
	defer stop()
	a, err := c.open(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	stats := a.TableStats()
	if c.JSON {
		return writeJSON(g.out, stats)
	}
	tw := newTable(g.out)
	fmt.Fprintln(tw, "TABLE\tRECORDS\tSAVED\tUNSAVED\tOVERWRITTEN\tFRAMES\tWAL ONLY")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%t\n", s.Table, s.Total, s.Committed, s.Uncommitted, s.Old, len(s.Frames), s.WALOnly)
	}
	return tw.Flush()
}

// SearchCmd searches recovered values.
type SearchCmd struct {
	Target      `embed:""`
	Term        string `arg:"" help:"Text to look for"`
	Mode        string `name:"mode" short:"m" help:"Match mode: ci, cs, exact, starts, ends, regex" default:"ci"`
	Limit       int    `name:"limit" short:"n" help:"Stop after this many hits (0 for no limit)" default:"${search_limit}"`
	Live        bool   `name:"live" help:"Also search the live database"`
	DecodeTimes bool   `name:"decode-times" help:"Show plausible dates for numeric hits"`
	JSON        bool   `name:"json" help:"Print JSON lines"`
}

type searchRow struct {
	recovery.Hit
	Times []timestamp.Interpretation `json:"times,omitempty"`
}

func (c *SearchCmd) Run(g *Globals) error {
	mode, err := recovery.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	q := recovery.Query{Term: c.Term, Mode: mode, Limit: c.Limit}
	if _, err := q.Matcher(); err != nil {
		return err
	}

	ctx, stop := commandContext()
	defer stop()
	a, err := c.open(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	seq, err := a.Search(ctx, q)
	if err != nil {
		return err
	}
	var hits []searchRow
	for h := range seq {
		hits = append(hits, c.row(h))
	}
	if c.Live {
		live, err := a.SearchLive(ctx, q)
		if err != nil {
			return err
		}
		for h := range live {
			hits = append(hits, c.row(h))
		}
	}

	if c.JSON {
		enc := json.NewEncoder(g.out)
		for _, h := range hits {
			if err := enc.Encode(h); err != nil {
				return err
			}
		}
		return nil
	}
	tw := newTable(g.out)
	fmt.Fprintln(tw, "SOURCE\tTABLE\tCOLUMN\tROWID\tFRAME\tVALUE")
	for _, h := range hits {
		frame := "-"
		if h.Frame >= 0 {
			frame = strconv.Itoa(h.Frame)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", h.Source, h.Table, h.Column, h.RowID, frame, encoding.Truncate(h.Value, 80))
		for _, t := range h.Times {
			fmt.Fprintf(tw, "\t\t\t\t\t  %s: %s\n", t.Format, t.Text)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(g.out, "%d hit(s)\n", len(hits))
	return nil
}

func (c *SearchCmd) row(h recovery.Hit) searchRow {
	r := searchRow{Hit: h}
	if c.DecodeTimes && (h.Type == "integer" || h.Type == "real") {
		if v, err := strconv.ParseFloat(h.Value, 64); err == nil {
			r.Times = timestamp.Decode(v)
		}
	}
	return r
}

// PreserveCmd backs up the WAL regardless of --no-preserve.
type PreserveCmd struct {
	DB      string `arg:"" help:"SQLite database file" type:"path"`
	Archive string `name:"archive" help:"Also write the backup and manifest to this .tar.xz" type:"path"`
}

func (c *PreserveCmd) Run(g *Globals) error {
	p, err := evidence.Preserve(context.Background(), evidence.WALPath(c.DB), evidence.Options{
		BackupDir: g.BackupDir,
		Tool:      "walscope " + version,
	})
	if err != nil {
		return err
	}
	if p == nil {
		return errors.NewNotFound("WAL", evidence.WALPath(c.DB))
	}
	if c.Archive != "" {
		if err := evidence.Archive(p, c.Archive); err != nil {
			return err
		}
	}
	return writeJSON(g.out, p)
}

// ServeCmd serves results over a WebSocket until interrupted.
type ServeCmd struct {
	Target  `embed:""`
	Listen  string   `name:"listen" short:"l" help:"Address to listen on" default:"${listen}"`
	Origins []string `name:"origin" help:"Allowed browser origins"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := commandContext()
	defer stop()

	a, err := c.open(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()
	return serve(ctx, a, c.Listen, c.Origins, g.cfg.SearchLimit)
}

func serve(ctx context.Context, a *analyzer.Analyzer, addr string, origins []string, limit int) error {
	cfg := stream.DefaultConfig()
	cfg.AllowedOrigins = origins
	cfg.SearchLimit = limit
	return stream.New(a, cfg).ListenAndServe(ctx, addr)
}
