// Command walscope examines an SQLite database's write-ahead log and
// recovers the rows held in it, including rows that were never committed or
// were overwritten by a later transaction.
//
// The WAL is copied to <db>-wal.bak (with a hash manifest) before anything
// else touches it, unless --no-preserve is given.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/walscope/core/analyzer"
	"github.com/FocuswithJustin/walscope/internal/config"
	"github.com/FocuswithJustin/walscope/internal/logging"
	"github.com/FocuswithJustin/walscope/internal/validation"
)

const version = "0.4.0"

// Globals are flags shared by every command.
type Globals struct {
	LogLevel   string `name:"log-level" help:"Log level (debug, info, warn, error)" default:"${log_level}"`
	LogFormat  string `name:"log-format" help:"Log format (auto, text, json)" default:"${log_format}" enum:"auto,text,json"`
	BackupDir  string `name:"backup-dir" help:"Directory for the WAL backup (default: next to the WAL)" default:"${backup_dir}"`
	NoPreserve bool   `name:"no-preserve" help:"Read the WAL in place without making a backup" default:"${no_preserve}"`
	MaxDepth   int    `name:"max-depth" help:"Maximum B-tree depth to traverse" default:"${max_depth}"`

	cfg config.Config `kong:"-"`
	out io.Writer     `kong:"-"`
}

// CLI defines the command-line interface for walscope.
type CLI struct {
	Globals

	Summary  SummaryCmd  `cmd:"" help:"Summarize the WAL and the database"`
	Frames   FramesCmd   `cmd:"" help:"List WAL frames"`
	Txns     TxnsCmd     `cmd:"" help:"List WAL transactions"`
	Tables   TablesCmd   `cmd:"" help:"List tables with their columns"`
	Stats    StatsCmd    `cmd:"" help:"Count recovered records per table"`
	Search   SearchCmd   `cmd:"" help:"Search recovered values"`
	Recover  RecoverCmd  `cmd:"" help:"Dump recovered records"`
	Preserve PreserveCmd `cmd:"" help:"Back up and hash the WAL"`
	Serve    ServeCmd    `cmd:"" help:"Stream results over a WebSocket"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

// Target names the database and, optionally, a WAL elsewhere.
type Target struct {
	DB  string `arg:"" help:"SQLite database file" type:"path"`
	WAL string `name:"wal" help:"WAL file to read instead of <db>-wal" type:"path"`
}

func (t *Target) open(ctx context.Context, g *Globals) (*analyzer.Analyzer, error) {
	if err := validation.ValidateDatabasePath(t.DB); err != nil {
		return nil, err
	}
	opts := analyzer.Options{
		BackupDir:  g.BackupDir,
		NoPreserve: g.NoPreserve,
		MaxDepth:   g.MaxDepth,
		Tool:       "walscope " + version,
	}
	if t.WAL != "" {
		if err := validation.ValidatePath(t.WAL); err != nil {
			return nil, err
		}
		return analyzer.OpenWAL(ctx, t.WAL, t.DB, opts)
	}
	return analyzer.Open(ctx, t.DB, opts)
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(g.out, "walscope version %s\n", version)
	return nil
}

func newParser(cli *CLI, cfg config.Config, options ...kong.Option) (*kong.Kong, error) {
	opts := []kong.Option{
		kong.Name("walscope"),
		kong.Description("Forensic reader for SQLite write-ahead logs"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Vars{
			"log_level":    cfg.LogLevel,
			"log_format":   cfg.LogFormat,
			"backup_dir":   cfg.BackupDir,
			"no_preserve":  strconv.FormatBool(cfg.NoPreserve),
			"max_depth":    strconv.Itoa(cfg.MaxDepth),
			"search_limit": strconv.Itoa(cfg.SearchLimit),
			"listen":       cfg.Listen,
		},
	}
	return kong.New(cli, append(opts, options...)...)
}

// run parses args and executes the selected command, writing results to out.
func run(args []string, out io.Writer, options ...kong.Option) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	var cli CLI
	parser, err := newParser(&cli, cfg, options...)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	cli.cfg = cfg
	cli.out = out

	level, ok := logging.ParseLevel(cli.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", cli.LogLevel)
	}
	format, _ := logging.ParseFormat(cli.LogFormat)
	logging.InitLogger(level, format)

	return kctx.Run(&cli.Globals)
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logging.Error("walscope failed", "error", err)
		fmt.Fprintln(os.Stderr, "walscope:", err)
		os.Exit(1)
	}
}
