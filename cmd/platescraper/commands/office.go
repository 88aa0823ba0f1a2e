package commands

import (
	"fmt"

	"platescraper/internal/sites/sunarp"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(officeCmd)
}

var officeCmd = &cobra.Command{
	Use:   "office <plate>...",
	Short: "Prints the SUNARP registry office each plate is searched in.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		for _, plate := range args {
			office, known := sunarp.OfficeForPlate(plate)
			if !known {
				fmt.Printf("%s\t%s (default)\n", plate, office)
				continue
			}
			fmt.Printf("%s\t%s\n", plate, office)
		}
	},
}
