// Command sevenz lists, tests, and extracts 7z archives.
//
// Usage:
//
//	sevenz [flags] list ARCHIVE
//	sevenz [flags] test ARCHIVE
//	sevenz [flags] extract ARCHIVE [DIR]
//
// ARCHIVE may be "-" to read from standard input. Defaults for -workers and
// -log-level are taken from SEVENZ_WORKERS and SEVENZ_LOG_LEVEL, which may
// be set in a .env file in the working directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/meigma/sevenz"
	"github.com/meigma/sevenz/internal/sizing"
)

const defaultMaxArchiveSize = 4 << 30

type config struct {
	command        string
	archive        string
	dest           string
	logLevel       string
	workers        int
	memoryBudget   uint64
	maxArchiveSize uint64
	maxFolderSize  uint64
	digest         bool
	overwrite      bool
	preserve       bool
	directWrites   bool
}

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load() //nolint:errcheck // optional

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, afero.NewOsFs())
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, fsys afero.Fs) int {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "sevenz:", err)
		return 2
	}

	level, err := parseLevel(cfg.logLevel)
	if err != nil {
		fmt.Fprintln(stderr, "sevenz:", err)
		return 2
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	data, err := readArchive(fsys, stdin, cfg.archive, cfg.maxArchiveSize)
	if err != nil {
		logger.Error("read archive", "path", cfg.archive, "error", err)
		return 1
	}

	start := time.Now()
	arc, err := sevenz.Open(data,
		sevenz.WithLogger(logger),
		sevenz.WithWorkers(cfg.workers),
		sevenz.WithMemoryBudget(cfg.memoryBudget),
		sevenz.WithMaxFolderSize(cfg.maxFolderSize),
	)
	if err != nil {
		logger.Error("open archive", "path", cfg.archive, "error", err)
		return 1
	}
	logger.Debug("opened archive", "path", cfg.archive, "files", len(arc.Files()), "folders", arc.NumFolders(), "elapsed", time.Since(start))

	switch cfg.command {
	case "list":
		err = list(arc, stdout, cfg.digest)
	case "test":
		err = test(ctx, arc, stdout)
	case "extract":
		err = extract(ctx, arc, fsys, cfg, stdout)
	}
	if err != nil {
		logger.Error(cfg.command+" failed", "path", cfg.archive, "error", err)
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (config, error) {
	cfg := config{
		logLevel:       envOr("SEVENZ_LOG_LEVEL", "info"),
		maxArchiveSize: defaultMaxArchiveSize,
		maxFolderSize:  sevenz.DefaultMaxFolderSize,
	}
	workers, err := envInt("SEVENZ_WORKERS")
	if err != nil {
		return cfg, err
	}

	fl := flag.NewFlagSet("sevenz", flag.ContinueOnError)
	fl.SetOutput(stderr)
	fl.Usage = func() {
		fmt.Fprintln(stderr, "usage: sevenz [flags] list|test|extract ARCHIVE [DIR]")
		fl.PrintDefaults()
	}
	fl.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "log level: debug, info, warn, error")
	fl.IntVar(&cfg.workers, "workers", workers, "folder decode workers: <0 serial, 0 auto, >0 fixed")
	fl.Uint64Var(&cfg.memoryBudget, "memory-budget", 0, "bytes of decoded folders held at once during parallel decoding (0 disables the cap)")
	fl.Uint64Var(&cfg.maxArchiveSize, "max-archive-size", cfg.maxArchiveSize, "largest archive read into memory")
	fl.Uint64Var(&cfg.maxFolderSize, "max-folder-size", cfg.maxFolderSize, "largest decoded folder accepted")
	fl.BoolVar(&cfg.digest, "digest", false, "list: decode files and print their sha256 digest")
	fl.BoolVar(&cfg.overwrite, "overwrite", false, "extract: replace existing files")
	fl.BoolVar(&cfg.preserve, "preserve", false, "extract: apply recorded permissions and times")
	fl.BoolVar(&cfg.directWrites, "direct", false, "extract: write files in place without temp files")
	if err := fl.Parse(args); err != nil {
		return cfg, err
	}

	rest := fl.Args()
	if len(rest) < 2 {
		fl.Usage()
		return cfg, errors.New("missing command or archive")
	}
	cfg.command, cfg.archive = rest[0], rest[1]
	switch cfg.command {
	case "list", "test":
		if len(rest) > 2 {
			return cfg, fmt.Errorf("%s: unexpected argument %q", cfg.command, rest[2])
		}
	case "extract":
		cfg.dest = "."
		if len(rest) > 2 {
			cfg.dest = rest[2]
		}
		if len(rest) > 3 {
			return cfg, fmt.Errorf("extract: unexpected argument %q", rest[3])
		}
	default:
		return cfg, fmt.Errorf("unknown command %q", cfg.command)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}

func readArchive(fsys afero.Fs, stdin io.Reader, name string, limit uint64) ([]byte, error) {
	if name == "-" {
		return sizing.ReadAllWithLimit(stdin, limit, sevenz.ErrSizeOverflow)
	}
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return sizing.ReadAllWithLimit(f, limit, sevenz.ErrSizeOverflow)
}

func list(arc *sevenz.Archive, w io.Writer, withDigest bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if !withDigest {
		for _, f := range arc.Files() {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", f.Mode(), f.Size, formatTime(f.ModTime), f.Name)
		}
		return tw.Flush()
	}
	recs, err := arc.Records()
	if err != nil {
		return err
	}
	for _, r := range recs {
		f := r.File
		sum := "-"
		if !f.IsDir() && !f.Anti {
			sum = r.Digest().String()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", f.Mode(), f.Size, formatTime(f.ModTime), sum, f.Name)
	}
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.DateTime)
}

func test(ctx context.Context, arc *sevenz.Archive, w io.Writer) error {
	var files int
	var size uint64
	for rec, err := range arc.All() {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		files++
		size += uint64(len(rec.Data))
	}
	fmt.Fprintf(w, "ok: %d items, %d bytes\n", files, size)
	return nil
}

func extract(ctx context.Context, arc *sevenz.Archive, fsys afero.Fs, cfg config, w io.Writer) error {
	stats, err := arc.Extract(ctx, fsys, cfg.dest,
		sevenz.ExtractWithOverwrite(cfg.overwrite),
		sevenz.ExtractWithPreserveMode(cfg.preserve),
		sevenz.ExtractWithPreserveTimes(cfg.preserve),
		sevenz.ExtractWithDirectWrites(cfg.directWrites),
	)
	fmt.Fprintf(w, "written: %d, skipped: %d, bytes: %d\n", stats.Written, stats.Skipped, stats.Bytes)
	var xe *sevenz.ExtractError
	if errors.As(err, &xe) {
		for _, f := range xe.Failed {
			fmt.Fprintf(w, "failed: %s: %v\n", f.Name, f.Err)
		}
	}
	return err
}
