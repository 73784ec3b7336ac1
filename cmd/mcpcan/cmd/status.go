package cmd

import (
	"fmt"

	"github.com/roffe/mcpcan/pkg/mcp2515"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var eflgNames = []struct {
	bit  byte
	name string
}{
	{mcp2515.EWARN, "error warning"},
	{mcp2515.RXWAR, "receive warning"},
	{mcp2515.TXWAR, "transmit warning"},
	{mcp2515.RXEP, "receive error passive"},
	{mcp2515.TXEP, "transmit error passive"},
	{mcp2515.TXBO, "bus off"},
	{mcp2515.RX0OVR, "RXB0 overflow"},
	{mcp2515.RX1OVR, "RXB1 overflow"},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "dump controller registers and error state",
	Long:  `Reads the controller as it is, nothing is reset or configured.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		c, err := openClient(cmd.Context(), cmd, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		return c.Do(func(d *mcp2515.Device) error {
			mode, err := d.Mode()
			if err != nil {
				return err
			}
			regs, err := d.Dump()
			if err != nil {
				return err
			}
			tec, rec, err := d.ErrorCounters()
			if err != nil {
				return err
			}
			eflg, err := d.ErrorFlags()
			if err != nil {
				return err
			}

			fmt.Println("mode:", infoColor(mode.String()))
			for _, r := range regs {
				fmt.Println(r.String())
			}
			fmt.Printf("TEC %d REC %d\n", tec, rec)
			for _, e := range eflgNames {
				if eflg&e.bit != 0 {
					fmt.Println(errColor(e.name))
				}
			}
			return nil
		})
	},
}
