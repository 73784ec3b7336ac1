// Package ftdispi connects to an MCP2515 through the MPSSE SPI engine of an
// FTDI USB bridge. SCK, MOSI, MISO and CS use ADBUS0..3, INT may be wired to
// one of ADBUS4..7.
package ftdispi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/roffe/mcpcan"
	"github.com/roffe/mcpcan/pkg/ftdi"
)

const (
	Name         = "FTDI"
	DefaultSPIHz = 8e6
)

// Device is an opened MPSSE capable bridge.
type Device interface {
	ftdi.Device
	io.Closer
}

// openDevice is set by the libftdi backend, it is nil in builds without it.
var openDevice func(port string) (Device, error)

var ErrNoBackend = errors.New("built without libftdi support, rebuild with -tags ftdi")

func init() {
	if err := mcpcan.RegisterAdapter(&mcpcan.AdapterInfo{
		Name:         Name,
		Description:  "FT232H/FT2232H MPSSE SPI",
		RequiresPort: false,
		Capabilities: mcpcan.AdapterCapabilities{
			InterruptPin: true,
			MaxSPIHz:     30e6,
		},
		New: New,
	}); err != nil {
		panic(err)
	}
}

type Adapter struct {
	*mcpcan.BaseAdapter
	dev Device
	spi *ftdi.Spi
}

func New(cfg *mcpcan.AdapterConfig) (mcpcan.Adapter, error) {
	return &Adapter{
		BaseAdapter: mcpcan.NewBaseAdapter(Name, cfg),
	}, nil
}

// ParseInterruptPin accepts "4".."7" or "ADBUS4".."ADBUS7".
func ParseInterruptPin(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(s), "ADBUS"))
	if err != nil || n < 4 || n > 7 {
		return 0, fmt.Errorf("invalid interrupt pin %q, want ADBUS4..ADBUS7", s)
	}
	return n, nil
}

func (a *Adapter) Open(ctx context.Context) error {
	if openDevice == nil {
		return mcpcan.Unrecoverable(ErrNoBackend)
	}
	cfg := a.Config()
	hz := cfg.SPIHz
	if hz == 0 {
		hz = DefaultSPIHz
	}
	var opts []ftdi.SpiOpt
	if cfg.InterruptPin != "" {
		pin, err := ParseInterruptPin(cfg.InterruptPin)
		if err != nil {
			return err
		}
		opts = append(opts, ftdi.OptInterruptPin(pin))
	}
	dev, err := openDevice(cfg.Port)
	if err != nil {
		return err
	}
	spi, err := ftdi.InitializeSpi(dev, hz, opts...)
	if err != nil {
		dev.Close()
		return err
	}
	a.dev, a.spi = dev, spi
	a.Message(fmt.Sprintf("MPSSE SPI at %d Hz", ftdi.Clock(hz)))
	return nil
}

func (a *Adapter) Conn() mcpcan.Conn {
	return a.spi
}

// Interrupt returns nil without a configured pin so the controller gets polled.
func (a *Adapter) Interrupt() mcpcan.InterruptLine {
	if a.spi == nil || !a.spi.HasInterrupt() {
		return nil
	}
	return a.spi
}

func (a *Adapter) Close() error {
	a.BaseAdapter.Close()
	if a.dev != nil {
		return a.dev.Close()
	}
	return nil
}
