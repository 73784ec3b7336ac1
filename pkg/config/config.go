// Package config loads the command line tool settings from a YAML file with
// MCPCAN_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/roffe/mcpcan"
	"github.com/roffe/mcpcan/pkg/mcp2515"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Adapter AdapterConfig `yaml:"adapter"`
	CAN     CANConfig     `yaml:"can"`
	Gateway GatewayConfig `yaml:"gateway"`

	path string
}

type AdapterConfig struct {
	Name         string            `yaml:"name"`
	Port         string            `yaml:"port"`
	Baudrate     int               `yaml:"baudrate"`
	SPIHz        int               `yaml:"spi_hz"`
	InterruptPin string            `yaml:"interrupt_pin"`
	Options      map[string]string `yaml:"options,omitempty"`
}

type CANConfig struct {
	// Kbps 0 runs auto-baud.
	Kbps   int    `yaml:"kbps"`
	OscMHz int    `yaml:"osc_mhz"`
	SJW    int    `yaml:"sjw"`
	Mode   string `yaml:"mode"`
}

type GatewayConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

func Default() *Config {
	return &Config{
		Adapter: AdapterConfig{
			Name: "spidev",
			Port: "/dev/spidev0.0",
		},
		CAN: CANConfig{
			Kbps:   500,
			OscMHz: 16,
			SJW:    1,
			Mode:   mcp2515.ModeNormal.String(),
		},
		Gateway: GatewayConfig{
			ListenAddr: ":8080",
		},
	}
}

// DefaultPath is config.yaml in the mcpcan directory of the user config dir.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "mcpcan.yaml"
	}
	return filepath.Join(dir, "mcpcan", "config.yaml")
}

// Load reads path over the defaults and applies the environment. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Save writes the config back to the file it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no path")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o644)
}

func (c *Config) Path() string {
	return c.path
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"MCPCAN_ADAPTER", &c.Adapter.Name},
		{"MCPCAN_PORT", &c.Adapter.Port},
		{"MCPCAN_INT_PIN", &c.Adapter.InterruptPin},
		{"MCPCAN_MODE", &c.CAN.Mode},
		{"MCPCAN_LISTEN", &c.Gateway.ListenAddr},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok {
			*s.dst = v
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"MCPCAN_BAUDRATE", &c.Adapter.Baudrate},
		{"MCPCAN_SPI_HZ", &c.Adapter.SPIHz},
		{"MCPCAN_KBPS", &c.CAN.Kbps},
		{"MCPCAN_OSC_MHZ", &c.CAN.OscMHz},
		{"MCPCAN_SJW", &c.CAN.SJW},
	}
	for _, i := range ints {
		v, ok := lookup(i.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", i.key, err)
		}
		*i.dst = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Adapter.Name == "" {
		return errors.New("no adapter configured")
	}
	if c.CAN.Kbps < 0 {
		return fmt.Errorf("invalid kbps %d", c.CAN.Kbps)
	}
	if c.CAN.OscMHz <= 0 {
		return fmt.Errorf("invalid oscillator %d MHz", c.CAN.OscMHz)
	}
	if c.CAN.SJW < 1 || c.CAN.SJW > 4 {
		return fmt.Errorf("invalid sjw %d, want 1..4", c.CAN.SJW)
	}
	if _, err := mcp2515.ParseMode(c.CAN.Mode); err != nil {
		return err
	}
	return nil
}

// AdapterConfig converts the file settings for mcpcan.NewAdapter.
func (c *Config) AdapterConfig() *mcpcan.AdapterConfig {
	mode, _ := mcp2515.ParseMode(c.CAN.Mode)
	return &mcpcan.AdapterConfig{
		Port:             c.Adapter.Port,
		PortBaudrate:     c.Adapter.Baudrate,
		SPIHz:            c.Adapter.SPIHz,
		InterruptPin:     c.Adapter.InterruptPin,
		OscMHz:           c.CAN.OscMHz,
		CANRate:          c.CAN.Kbps,
		SJW:              c.CAN.SJW,
		Mode:             mode,
		AdditionalConfig: c.Adapter.Options,
	}
}
