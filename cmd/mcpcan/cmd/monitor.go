package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/roffe/mcpcan/pkg/mcp2515"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	monitorCmd.Flags().Duration("stats", 0, "print counters at this interval, 0 = never")
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [id...]",
	Short: "print received frames, all of them when no id is given",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		statsInterval, _ := cmd.Flags().GetDuration("stats")

		c, cfg, err := initClient(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		mode, err := mcp2515.ParseMode(cfg.CAN.Mode)
		if err != nil {
			return err
		}
		g, ctx := errgroup.WithContext(cmd.Context())
		if err := c.Start(ctx, mode); err != nil {
			return err
		}
		log.Printf("monitoring at %d kbps in %s mode", c.Kbps(), mode)

		sub := c.Subscribe(ctx, ids...)
		defer sub.Close()
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case f, ok := <-sub.Chan():
					if !ok {
						return nil
					}
					fmt.Println(f.ColorString())
				}
			}
		})
		if statsInterval > 0 {
			g.Go(func() error {
				t := time.NewTicker(statsInterval)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-t.C:
						log.Println(c.Stats().String())
					}
				}
			})
		}
		err = g.Wait()
		log.Println(c.Stats().String())
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}
