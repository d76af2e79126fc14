package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/storylab/nd/internal/config"
	"github.com/storylab/nd/internal/dedup"
	"github.com/storylab/nd/internal/lifecycle"
	"github.com/storylab/nd/internal/similarity"
	"github.com/storylab/nd/internal/storage"
	"github.com/storylab/nd/internal/threshold"
)

// version is set at build time via -ldflags
var version = "dev"

var (
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "nd",
	Short: "Narrative deduplication and consolidation",
	Long: `nd maintains a database of news narratives: evolving storylines built
from clusters of related articles. Over time, ingestion produces
near-duplicate narratives about the same underlying storyline; nd
detects them with fingerprint similarity and consolidates them into a
single authoritative record.

Run 'nd consolidate --dry-run' to preview what would merge.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default \".nd/config.yaml\")")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (overrides config)")
}

// loadConfig reads the YAML config and applies the --db flag override.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	return cfg, nil
}

// openStore opens the SQLite-backed store at the configured path.
func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	store, err := storage.NewStore(ctx, &storage.Config{Path: cfg.DatabasePath})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DatabasePath, err)
	}
	return store, nil
}

// buildEngine assembles the deduplication engine from file config with
// environment overrides layered on top.
func buildEngine(cfg config.Config, store storage.Store, verbose bool) (*dedup.Engine, error) {
	scorer := similarity.NewDefaultScorer()

	policy, err := threshold.PolicyFromEnv()
	if err != nil {
		return nil, err
	}
	if os.Getenv("ND_THRESHOLD_RECENCY_HOURS") == "" && cfg.RecencyWindowHours > 0 {
		policy.RecencyWindow = time.Duration(cfg.RecencyWindowHours) * time.Hour
	}

	lcCfg, err := lifecycle.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if os.Getenv("ND_LIFECYCLE_INACTIVITY_HOURS") == "" && cfg.InactivityWindowHours > 0 {
		lcCfg.InactivityWindow = time.Duration(cfg.InactivityWindowHours) * time.Hour
	}
	classifier, err := lifecycle.NewClassifier(lcCfg)
	if err != nil {
		return nil, err
	}

	engCfg, err := dedup.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if os.Getenv("ND_DEDUP_BASE_THRESHOLD") == "" && cfg.BaseThreshold > 0 {
		engCfg.BaseThreshold = cfg.BaseThreshold
	}
	engCfg.Verbose = verbose

	return dedup.NewEngine(scorer, policy, classifier, store, store, engCfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
