// Command replay reprocesses a JSON file of fixes offline: every fix goes
// through admission, the admitted points through phantom cleanup and session
// segmentation, and a JSON summary is written to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"triplog/tracker-server/internal/config"
)

func main() {
	configPath := flag.String("config", "", "optional config file with pipeline thresholds")
	verbose := flag.Bool("v", false, "log every admission decision")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: replay [-config file] [-v] fixes.json")
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg.Pipeline, flag.Arg(0), os.Stdout, logger); err != nil {
		logger.Error("replay failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, p config.Pipeline, path string, out io.Writer, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixes: %w", err)
	}

	report, err := replay(ctx, p, data, logger)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
