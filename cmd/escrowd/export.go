package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"escrowledger/config"
	"escrowledger/integrations/exports"
	"escrowledger/services/archive"
)

const exportPageSize = 1000

func runExportCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	out := fs.String("out", "", "Output file path")
	format := fs.String("format", "parquet", "Output format: parquet, csv or jsonl")
	eventType := fs.String("type", "", "Only export events of this type")
	escrowID := fs.Uint64("id", 0, "Only export events of this escrow")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*out) == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		return 2
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load config: %v\n", err)
		return 1
	}
	if !cfg.Archive.Enabled {
		fmt.Fprintln(stderr, "Error: event archive is disabled in config")
		return 1
	}
	store, err := archive.Open(cfg.Archive.Driver, cfg.Archive.DSN, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	records, err := collectRecords(ctx, store, archive.Filter{Type: strings.TrimSpace(*eventType), EscrowID: *escrowID})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "parquet":
		if err := exports.WriteEventsParquet(*out, records); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "exported %d events to %s\n", len(records), *out)
	case "csv", "jsonl":
		render := exports.EventsCSV
		if strings.EqualFold(*format, "jsonl") {
			render = exports.EventsJSONL
		}
		data, checksum, err := render(records)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			fmt.Fprintf(stderr, "Error: write %s: %v\n", *out, err)
			return 1
		}
		fmt.Fprintf(stdout, "exported %d events to %s (sha256 %s)\n", len(records), *out, checksum)
	default:
		fmt.Fprintf(stderr, "Error: unsupported format %q\n", *format)
		return 2
	}
	return 0
}

func collectRecords(ctx context.Context, store *archive.Archive, filter archive.Filter) ([]archive.Record, error) {
	filter.Limit = exportPageSize
	var out []archive.Record
	for {
		page, err := store.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < exportPageSize {
			return out, nil
		}
		filter.AfterSeq = page[len(page)-1].Seq
	}
}
