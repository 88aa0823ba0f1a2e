package commands

import (
	"fmt"
	"os"
	"time"

	comptelemetry "platescraper/internal/components/telemetry"
	"platescraper/internal/journal"
	"platescraper/internal/sites"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	journalSource *string
	journalLimit  *int
)

func init() {
	journalSource = journalCmd.Flags().StringP("source", "s", "", "Only show runs of this source.")
	journalLimit = journalCmd.Flags().IntP("limit", "n", 20, "The number of runs to show.")
	rootCmd.AddCommand(journalCmd)
}

var journalCmd = &cobra.Command{
	Use:   "journal [--source <A..E>] [--limit <n>]",
	Short: "Prints the most recent plate runs and a count of their outcomes.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		code := ""
		if *journalSource != "" {
			source, ok := sites.Lookup(*journalSource)
			if !ok {
				return fmt.Errorf("%w: %q", sites.ErrUnknownSource, *journalSource)
			}
			code = source.Code
		}

		cfg, err := readConfig(*configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		runs, err := journal.Open(ctx, cfg.Journal.Path, comptelemetry.SlogAPI{})
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer runs.Close()

		entries, err := runs.Recent(ctx, code, *journalLimit)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		counts, err := runs.Counts(ctx, code)
		if err != nil {
			return fmt.Errorf("count outcomes: %w", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Started", "Source", "Plate", "Id", "Outcome", "Took", "Detail"})
		for _, entry := range entries {
			t.AppendRow(table.Row{
				entry.StartedAt.Format("2006-01-02 15:04:05"),
				entry.Source,
				entry.Plate,
				entry.PlateID,
				entry.Outcome,
				entry.Duration().Round(100 * time.Millisecond).String(),
				entry.Detail,
			})
		}
		t.Render()

		summary := table.NewWriter()
		summary.SetOutputMirror(os.Stdout)
		summary.AppendHeader(table.Row{"Outcome", "Runs"})
		for _, outcome := range journal.Outcomes {
			summary.AppendRow(table.Row{outcome, counts[outcome]})
		}
		summary.Render()
		return nil
	},
}
