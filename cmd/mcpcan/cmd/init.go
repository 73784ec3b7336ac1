package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	initCmd.Flags().Bool("save", false, "store the resulting speed in the config file")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "configure the controller, --kbps 0 detects the bus speed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := initClient(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		fmt.Println(infoColor(fmt.Sprintf("controller running at %d kbps", c.Kbps())))

		if save, _ := cmd.Flags().GetBool("save"); save {
			cfg.CAN.Kbps = c.Kbps()
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Println("saved to", cfg.Path())
		}
		return nil
	},
}
