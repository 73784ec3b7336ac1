package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/mcpcan/pkg/frame"
	"github.com/roffe/mcpcan/pkg/mcp2515"
	"github.com/spf13/cobra"
)

func init() {
	f := sendCmd.Flags()
	f.BoolP("extended", "e", false, "29 bit identifier")
	f.Int("rtr", -1, "send a remote request for this many bytes")
	f.IntP("count", "n", 1, "number of frames to send")
	f.Duration("interval", 100*time.Millisecond, "delay between frames")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <id> [data]",
	Short: "send a frame",
	Long: `Sends a data frame, data is hex and may be separated by spaces, dots or colons:

  mcpcan send 0x7DF "02 01 0C"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := frameFromArgs(cmd, args)
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("count")
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx := cmd.Context()
		c, _, err := initClient(ctx, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		for i := 0; i < count; i++ {
			if i > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
			err := retry.Do(
				func() error {
					return c.Send(f)
				},
				retry.Context(ctx),
				retry.Attempts(10),
				retry.Delay(time.Millisecond),
				retry.RetryIf(func(err error) bool {
					return errors.Is(err, mcp2515.ErrTxBusy)
				}),
				retry.LastErrorOnly(true),
			)
			if err != nil {
				return err
			}
			fmt.Println(f.ColorString())
		}
		log.Println(c.Stats().String())
		return nil
	},
}

func frameFromArgs(cmd *cobra.Command, args []string) (frame.Frame, error) {
	ids, err := parseIDs(args[:1])
	if err != nil {
		return frame.Frame{}, err
	}
	extended, _ := cmd.Flags().GetBool("extended")
	rtr, _ := cmd.Flags().GetInt("rtr")

	var f frame.Frame
	if rtr > frame.MaxLen {
		return frame.Frame{}, fmt.Errorf("%w: rtr length %d", frame.ErrInvalidLen, rtr)
	}
	if rtr >= 0 {
		f = frame.NewRemote(ids[0], uint8(rtr), extended)
	} else {
		var data []byte
		if len(args) == 2 {
			data, err = parseHex(args[1])
			if err != nil {
				return frame.Frame{}, err
			}
		}
		if len(data) > frame.MaxLen {
			return frame.Frame{}, fmt.Errorf("%w: %d bytes", frame.ErrInvalidLen, len(data))
		}
		f = frame.New(ids[0], data)
		f.Extended = extended
	}
	return f, f.Validate()
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", ".", "").Replace(s)
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	return b, nil
}
