package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/manifoldco/promptui"
	"github.com/roffe/mcpcan"
	"github.com/roffe/mcpcan/pkg/config"
	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var rootCmd = &cobra.Command{
	Use:          "mcpcan",
	Short:        "MCP2515 CAN controller tool",
	Long:         `Configure, monitor and bridge an MCP2515 CAN controller over spidev, FTDI MPSSE or a Bus Pirate.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagConfig   = "config"
	flagAdapter  = "adapter"
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagSPIHz    = "spi-hz"
	flagIntPin   = "int-pin"
	flagKbps     = "kbps"
	flagOsc      = "osc"
	flagSJW      = "sjw"
	flagMode     = "mode"
	flagDebug    = "debug"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagConfig, "c", config.DefaultPath(), "config file")
	pf.StringP(flagAdapter, "a", "", "adapter, ? = choose")
	pf.StringP(flagPort, "p", "", "spidev node, serial port or FTDI description, ? = choose")
	pf.IntP(flagBaudrate, "b", 0, "serial baudrate")
	pf.Int(flagSPIHz, 0, "SPI clock in Hz")
	pf.String(flagIntPin, "", "pin wired to INT, empty polls the controller")
	pf.IntP(flagKbps, "k", 500, "CAN bitrate in kbps, 0 = auto-baud")
	pf.Int(flagOsc, 16, "controller oscillator in MHz")
	pf.Int(flagSJW, 1, "synchronisation jump width 1..4")
	pf.StringP(flagMode, "m", "normal", "normal, listen-only or loopback")
	pf.BoolP(flagDebug, "d", false, "debug mode")
}

// loadConfig reads the config file, flags given on the command line win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	f := cmd.Flags()
	path, err := f.GetString(flagConfig)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	strs := map[string]*string{
		flagAdapter: &cfg.Adapter.Name,
		flagPort:    &cfg.Adapter.Port,
		flagIntPin:  &cfg.Adapter.InterruptPin,
		flagMode:    &cfg.CAN.Mode,
	}
	for name, dst := range strs {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	ints := map[string]*int{
		flagBaudrate: &cfg.Adapter.Baudrate,
		flagSPIHz:    &cfg.Adapter.SPIHz,
		flagKbps:     &cfg.CAN.Kbps,
		flagOsc:      &cfg.CAN.OscMHz,
		flagSJW:      &cfg.CAN.SJW,
	}
	for name, dst := range ints {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}

	if cfg.Adapter.Name == "?" {
		if cfg.Adapter.Name, err = chooseAdapter(); err != nil {
			return nil, err
		}
	}
	if cfg.Adapter.Port == "?" {
		if cfg.Adapter.Port, err = choosePort(); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

func chooseAdapter() (string, error) {
	prompt := promptui.Select{
		Label: "Adapter",
		Items: mcpcan.ListAdapterNames(),
	}
	_, result, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return result, nil
}

func choosePort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	var items []string
	for _, p := range ports {
		items = append(items, p.Name)
	}
	prompt := promptui.Select{
		Label: "Port",
		Items: items,
	}
	_, result, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return result, nil
}
