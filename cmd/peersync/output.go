package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/hyperengineering/peersync/internal/config"
	"github.com/hyperengineering/peersync/internal/multistore"
)

var (
	rootOverride string
	jsonOutput   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootOverride, "root", "",
		"Store root path (overrides config and PEERSYNC_DB_ROOT)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")
}

// resolveStoreManager creates a StoreManager from config with optional --root override.
func resolveStoreManager() (*multistore.StoreManager, error) {
	rootPath := rootOverride
	if rootPath == "" {
		cfg, err := config.LoadStoresConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		rootPath = cfg.Database.RootPath
	}
	return multistore.NewStoreManager(rootPath)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
