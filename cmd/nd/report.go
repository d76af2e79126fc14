package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/storylab/nd/internal/dedup"
)

// printReport renders a consolidation report: a merge table when there
// is anything to show, then the one-paragraph summary.
func printReport(r *dedup.RunReport) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	if len(r.Merges) > 0 {
		fmt.Println(renderMergeTable(r.Merges))
		fmt.Println()
	}

	switch {
	case len(r.Failures) > 0:
		fmt.Printf("%s %s\n", red("✗"), r.Summary())
	case r.MergesPerformed > 0 && r.DryRun:
		fmt.Printf("%s %s\n", yellow("⚠"), r.Summary())
	case r.MergesPerformed > 0:
		fmt.Printf("%s %s\n", green("✓"), r.Summary())
	default:
		fmt.Printf("%s No duplicates found. %s\n", green("✓"), r.Summary())
	}
}

func renderMergeTable(merges []dedup.MergeDetail) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Primary", "Absorbed", "Articles", "Similarity"})

	for _, m := range merges {
		tw.AppendRow(table.Row{
			fmt.Sprintf("%s (%d)", truncate(m.PrimaryTitle, 40), m.PrimaryArticles),
			fmt.Sprintf("%s (%d)", truncate(m.DuplicateTitle, 40), m.DuplicateArticles),
			m.PrimaryArticles + m.DuplicateArticles,
			fmt.Sprintf("%.3f", m.Similarity),
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return tw.Render()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
