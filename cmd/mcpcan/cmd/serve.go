package cmd

import (
	"github.com/roffe/mcpcan/cangw"
	"github.com/roffe/mcpcan/pkg/mcp2515"
	"github.com/spf13/cobra"
)

func init() {
	serveCmd.Flags().StringP("listen", "l", "", "listen address, overrides the config file")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the websocket gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, cfg, err := initClient(ctx, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		mode, err := mcp2515.ParseMode(cfg.CAN.Mode)
		if err != nil {
			return err
		}
		if err := c.Start(ctx, mode); err != nil {
			return err
		}
		addr := cfg.Gateway.ListenAddr
		if l, _ := cmd.Flags().GetString("listen"); l != "" {
			addr = l
		}
		return cangw.New(c).Run(ctx, addr)
	},
}
