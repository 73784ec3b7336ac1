package cmd

import (
	"fmt"

	"github.com/roffe/mcpcan"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(adaptersCmd)
}

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list available adapters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range mcpcan.ListAdapters() {
			fmt.Println(a.String())
			fmt.Println("  ", a.Capabilities.String())
		}
	},
}
