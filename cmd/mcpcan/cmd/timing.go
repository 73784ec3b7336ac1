package cmd

import (
	"fmt"
	"strconv"

	"github.com/roffe/mcpcan/pkg/bittiming"
	"github.com/roffe/mcpcan/pkg/mcp2515"
	"github.com/spf13/cobra"
)

func init() {
	timingCmd.Flags().Bool("all", false, "list every speed the auto-baud sweep can reach")
	rootCmd.AddCommand(timingCmd)
}

var timingCmd = &cobra.Command{
	Use:   "timing [kbps...]",
	Short: "calculate CNF1..3 for bus speeds",
	Long:  `Calculates the bit timing registers offline, no adapter is needed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		osc, _ := cmd.Flags().GetInt(flagOsc)
		sjw, _ := cmd.Flags().GetInt(flagSJW)
		all, _ := cmd.Flags().GetBool("all")

		var speeds []int
		if all {
			speeds = bittiming.Candidates(mcp2515.DefaultSweepFrom, mcp2515.DefaultSweepTo, mcp2515.DefaultSweepStep)
		}
		for _, a := range args {
			kbps, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("invalid speed %q", a)
			}
			speeds = append(speeds, kbps)
		}
		if len(speeds) == 0 {
			return cmd.Usage()
		}
		for _, kbps := range speeds {
			tc, err := bittiming.Calculate(kbps, osc, sjw)
			if err != nil {
				if !all {
					fmt.Println(errColor(err.Error()))
				}
				continue
			}
			fmt.Println(tc.String())
		}
		return nil
	},
}
