package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/storylab/nd/internal/types"
)

var (
	narrativesState   string
	narrativesNucleus string
)

var narrativesCmd = &cobra.Command{
	Use:   "narratives",
	Short: "Inspect the narrative database",
}

var narrativesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List narratives with lifecycle state and article counts",
	Long: `List all narratives, most recently updated first.

Examples:
  nd narratives list
  nd narratives list --state hot
  nd narratives list --nucleus "federal reserve"`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		narratives, err := store.GetAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load narratives: %v\n", err)
			os.Exit(1)
		}

		if narrativesState != "" {
			state := types.LifecycleState(narrativesState)
			if !state.IsValid() {
				fmt.Fprintf(os.Stderr, "Error: unknown lifecycle state %q\n", narrativesState)
				os.Exit(1)
			}
			narratives = filterNarratives(narratives, func(n *types.Narrative) bool {
				return n.LifecycleState == state
			})
		}
		if narrativesNucleus != "" {
			want := types.NormalizeEntity(narrativesNucleus)
			narratives = filterNarratives(narratives, func(n *types.Narrative) bool {
				return types.NormalizeEntity(n.Fingerprint.NucleusEntity) == want
			})
		}

		if len(narratives) == 0 {
			fmt.Println("No narratives found.")
			return
		}

		sort.Slice(narratives, func(i, j int) bool {
			return narratives[i].LastUpdated.After(narratives[j].LastUpdated)
		})

		tw := table.NewWriter()
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(table.Row{"ID", "Title", "Nucleus", "State", "Articles", "Updated"})
		for _, n := range narratives {
			tw.AppendRow(table.Row{
				shortID(n.ID),
				truncate(n.Title, 48),
				truncate(n.Fingerprint.NucleusEntity, 24),
				colorState(n.LifecycleState),
				n.ArticleCount,
				humanAge(n.LastUpdated),
			})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 5, Align: text.AlignRight},
			{Number: 6, Align: text.AlignRight},
		})
		fmt.Println(tw.Render())
		fmt.Printf("\n%d narrative(s)\n", len(narratives))
	},
}

func filterNarratives(in []*types.Narrative, keep func(*types.Narrative) bool) []*types.Narrative {
	out := in[:0]
	for _, n := range in {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func colorState(state types.LifecycleState) string {
	switch state {
	case types.StateHot:
		return color.RedString(string(state))
	case types.StateRising, types.StateReactivated:
		return color.YellowString(string(state))
	case types.StateEmerging:
		return color.CyanString(string(state))
	case types.StateCooling:
		return color.BlueString(string(state))
	case types.StateDormant:
		return color.HiBlackString(string(state))
	default:
		return string(state)
	}
}

// humanAge renders how long ago a timestamp was, coarsely.
func humanAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func init() {
	narrativesListCmd.Flags().StringVar(&narrativesState, "state", "", "filter by lifecycle state")
	narrativesListCmd.Flags().StringVar(&narrativesNucleus, "nucleus", "", "filter by nucleus entity")
	narrativesCmd.AddCommand(narrativesListCmd)
	rootCmd.AddCommand(narrativesCmd)
}
