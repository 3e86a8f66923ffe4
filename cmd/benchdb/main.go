// Package main is the benchdb maintenance tool.
//
// Compaction and rebuilds must be performed by a single coordinating process
// while no workers are writing; this binary is that process. It can also
// print a preview of the stored entries.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/benchdb/benchdb"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "benchdb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	dbPath := flag.String("db", "", "Path to the benchmark database")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: benchdb -db <path> <describe|compact|repair|clear>\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if *dbPath == "" {
		return fmt.Errorf("missing required flag -db")
	}
	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one command, got %d", flag.NArg())
	}

	ll := &slog.LevelVar{}
	if err := ll.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	b, err := benchdb.New(*dbPath, &benchdb.Options{Logger: logger})
	if err != nil {
		return err
	}

	switch cmd := flag.Arg(0); cmd {
	case "describe":
		return describe(b)
	case "compact":
		logger.Info("compacting database", "path", *dbPath)
		return b.Compact()
	case "repair":
		logger.Info("repairing database", "path", *dbPath)
		return b.Repair()
	case "clear":
		logger.Info("clearing database", "path", *dbPath)
		return b.Clear()
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// describe prints the first entry as a preview of the stored shape, plus the
// entry count and whole-database fingerprint.
func describe(b *benchdb.Benchmark) error {
	entry, ok := b.Front()
	if !ok {
		fmt.Println("database is empty")
		return nil
	}
	fmt.Println("An entry in the database can look like this:")
	describeValue(map[string]any(entry), 0)
	fmt.Printf("\nentries: %d\n", b.Len())
	fmt.Printf("fingerprint: %s\n", b.Fingerprint())
	if skipped := b.Skipped(); skipped > 0 {
		fmt.Printf("skipped (unresolved environment): %d\n", skipped)
	}
	return nil
}

const (
	describeMaxDepth = 5
	describeMaxKeys  = 20
)

func describeValue(v any, depth int) {
	m, ok := v.(map[string]any)
	if !ok || depth >= describeMaxDepth {
		return
	}
	i := 0
	for k, val := range m {
		if i >= describeMaxKeys {
			fmt.Printf("%*s...\n", depth*2, "")
			return
		}
		i++
		switch t := val.(type) {
		case map[string]any:
			fmt.Printf("%*s%s:\n", depth*2, "", k)
			describeValue(t, depth+1)
		default:
			text := fmt.Sprint(val)
			if len(text) > 80 {
				text = text[:77] + "..."
			}
			fmt.Printf("%*s%s: %s\n", depth*2, "", k, text)
		}
	}
}
