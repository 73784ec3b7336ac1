package cmd

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/fatih/color"
	"github.com/roffe/mcpcan"
	"github.com/roffe/mcpcan/pkg/bar"
	"github.com/roffe/mcpcan/pkg/config"
	"github.com/roffe/mcpcan/pkg/mcp2515"
	"github.com/spf13/cobra"
)

// openClient opens the configured adapter without touching the controller.
func openClient(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts ...mcp2515.Opt) (*mcpcan.Client, error) {
	debug, _ := cmd.Flags().GetBool(flagDebug)
	acfg := cfg.AdapterConfig()
	acfg.Debug = debug
	adapter, err := mcpcan.NewAdapter(cfg.Adapter.Name, acfg)
	if err != nil {
		return nil, err
	}
	if debug {
		opts = append(opts, mcp2515.OptLogger(log.Printf))
	}
	c, err := mcpcan.New(ctx, adapter, mcpcan.OptDeviceOpts(opts...))
	if err != nil {
		return nil, err
	}
	go printEvents(ctx, c)
	return c, nil
}

// initClient opens the adapter and configures the bit timing, running the
// auto-baud sweep when no speed is set.
func initClient(ctx context.Context, cmd *cobra.Command) (*mcpcan.Client, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	var sweep *bar.Sweep
	var opts []mcp2515.Opt
	if cfg.CAN.Kbps == mcp2515.AutoBaud {
		sweep = bar.NewSweep()
		opts = append(opts, mcp2515.OptProgress(sweep.Progress))
	}
	c, err := openClient(ctx, cmd, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	kbps, err := c.Init(ctx, cfg.CAN.Kbps, cfg.CAN.OscMHz, cfg.CAN.SJW)
	if sweep != nil {
		sweep.Done(kbps)
	}
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return c, cfg, nil
}

var (
	errColor  = color.New(color.FgRed).SprintFunc()
	warnColor = color.New(color.FgYellow).SprintFunc()
	infoColor = color.New(color.FgGreen).SprintFunc()
)

func printEvents(ctx context.Context, c *mcpcan.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.Event():
			switch e.Type {
			case mcpcan.EventTypeError:
				log.Println(errColor(e.String()))
			case mcpcan.EventTypeWarning:
				log.Println(warnColor(e.String()))
			case mcpcan.EventTypeInfo:
				log.Println(infoColor(e.String()))
			default:
				log.Println(e.String())
			}
		}
	}
}

// parseIDs reads decimal or 0x prefixed identifiers.
func parseIDs(args []string) ([]uint32, error) {
	var ids []uint32
	for _, a := range args {
		id, err := strconv.ParseUint(a, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid identifier %q", a)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}
