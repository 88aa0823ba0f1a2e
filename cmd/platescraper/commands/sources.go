package commands

import (
	"os"

	"platescraper/internal/sites"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return ""
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Lists the sources a worker can be started for.",
	Run: func(cmd *cobra.Command, args []string) {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Code", "Name", "Description", "Browser", "Captcha", "Session per plate"})
		for _, source := range sites.Sources {
			t.AppendRow(table.Row{
				source.Code,
				source.Name,
				source.Description,
				yesNo(source.Browser),
				yesNo(source.Captcha),
				yesNo(source.PerItemSession),
			})
		}
		t.Render()
	},
}
