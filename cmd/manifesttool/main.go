// Command manifesttool rescans a data tree and rewrites the twelve
// per-variant .mfs_cache files, the offline counterpart of the server's
// cache_manifests startup pass. Run it after dropping new client builds
// or data files into the tree.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/nimue-net/uruserver/internal/manifest"
)

func main() {
	dataRoot := flag.String("data", "data", "data root to scan")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := manifest.RefreshCaches(*dataRoot); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}
