package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/storylab/nd/internal/dedup"
)

var (
	consolidateDryRun    bool
	consolidateThreshold float64
	consolidateNucleus   string
	consolidateVerbose   bool
	consolidateYes       bool
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Find and merge duplicate narratives",
	Long: `Scan the narrative database for near-duplicate storylines and merge
each duplicate into its primary narrative.

Narratives are grouped by nucleus entity and scored pairwise on actor
and action overlap. Pairs over threshold merge greedily, highest
similarity first; the surviving primary absorbs the duplicate's
articles and salience scores, and its lifecycle state is recomputed
from the merged article span. Recently active narratives use a lowered
threshold, on the expectation that a developing storyline fragments
more easily.

Examples:
  nd consolidate --dry-run             # Preview without writing
  nd consolidate --threshold 0.75      # Require stronger similarity
  nd consolidate --nucleus "openai"    # Only one storyline cluster
  nd consolidate --yes                 # Skip the confirmation prompt`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// SIGINT cancels the pass at the next group boundary; the
		// partial report is still printed before exiting 130.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		engine, err := buildEngine(cfg, store, consolidateVerbose)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		narratives, err := store.GetAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load narratives: %v\n", err)
			os.Exit(1)
		}

		if consolidateDryRun {
			fmt.Printf("%s\n\n", color.YellowString("DRY RUN MODE - No narratives will be merged"))
		} else if !consolidateYes {
			ok, err := confirmConsolidate(len(narratives))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !ok {
				fmt.Println("Aborted.")
				return
			}
		}

		opts := dedup.Options{
			BaseThreshold: consolidateThreshold,
			DryRun:        consolidateDryRun,
			NucleusFilter: consolidateNucleus,
		}

		report, runErr := engine.Consolidate(ctx, narratives, opts)
		if report != nil {
			printReport(report)
		}

		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted.")
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

// confirmConsolidate prompts before a live merge pass. EOF (piped
// stdin with no answer) declines rather than proceeding.
func confirmConsolidate(total int) (bool, error) {
	yellow := color.New(color.FgYellow).SprintFunc()
	rl, err := readline.New(fmt.Sprintf("%s Merge duplicates across %d narratives? [y/N] ", yellow("⚠"), total))
	if err != nil {
		return false, fmt.Errorf("failed to open prompt: %w", err)
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err == readline.ErrInterrupt {
		// readline owns the terminal here, so Ctrl+C arrives as an
		// error rather than a signal
		fmt.Println("Aborted.")
		os.Exit(130)
	}
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func init() {
	consolidateCmd.Flags().BoolVar(&consolidateDryRun, "dry-run", false, "preview merges without writing")
	consolidateCmd.Flags().Float64Var(&consolidateThreshold, "threshold", 0, "similarity threshold override (default from config: 0.6)")
	consolidateCmd.Flags().StringVar(&consolidateNucleus, "nucleus", "", "restrict the pass to one nucleus entity")
	consolidateCmd.Flags().BoolVarP(&consolidateVerbose, "verbose", "v", false, "log every scored pair")
	consolidateCmd.Flags().BoolVarP(&consolidateYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(consolidateCmd)
}
