package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/storylab/nd/internal/runner"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scheduled consolidation pass",
	Long: `Run one unattended consolidation pass at the strict scheduled
threshold (0.9 unless scheduled_threshold is set in the config file).
Intended for cron or a systemd timer; no prompt, no flags to tune. A
file lease next to the database prevents overlapping runs, so a pass
that outlives its schedule interval simply makes the next invocation a
no-op.

Exits non-zero if the lease is held or any merge failed.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		engine, err := buildEngine(cfg, store, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		r, err := runner.New(engine, store, filepath.Dir(cfg.DatabasePath), cfg.ScheduledThreshold)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		report, runErr := r.Run(ctx)
		if report != nil {
			printReport(report)
		}

		if errors.Is(runErr, context.Canceled) {
			os.Exit(130)
		}
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
			os.Exit(1)
		}
		if len(report.Failures) > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
