package spidev

import (
	"context"
	"fmt"

	"github.com/roffe/mcpcan"
	"golang.org/x/exp/io/spi"
)

func init() {
	if err := mcpcan.RegisterAdapter(&mcpcan.AdapterInfo{
		Name:         Name,
		Description:  "Linux spidev, INT on sysfs GPIO",
		RequiresPort: true,
		Capabilities: mcpcan.AdapterCapabilities{
			InterruptPin: true,
			MaxSPIHz:     maxSPIHz,
		},
		New: New,
	}); err != nil {
		panic(err)
	}
}

// Dev is an opened spidev node in SPI mode 0, 8 bits per word.
type Dev struct {
	dev   *spi.Device
	path  string
	rxBuf []byte
}

func OpenDev(path string, hz int) (*Dev, error) {
	dev, err := spi.Open(&spi.Devfs{
		Dev:      path,
		Mode:     spi.Mode0,
		MaxSpeed: int64(hz),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := dev.SetBitsPerWord(8); err != nil {
		dev.Close()
		return nil, fmt.Errorf("%s set bits per word: %w", path, err)
	}
	return &Dev{dev: dev, path: path}, nil
}

// Tx runs one full duplex transfer, the driver holds CS for its duration.
func (d *Dev) Tx(w, r []byte) error {
	if len(w) == 0 {
		return nil
	}
	if r == nil {
		if cap(d.rxBuf) < len(w) {
			d.rxBuf = make([]byte, len(w))
		}
		r = d.rxBuf[:len(w)]
	}
	if err := d.dev.Tx(w, r); err != nil {
		return fmt.Errorf("%s transfer: %w", d.path, err)
	}
	return nil
}

func (d *Dev) Close() error {
	return d.dev.Close()
}

type Adapter struct {
	*mcpcan.BaseAdapter
	dev  *Dev
	gpio *GPIO
}

func New(cfg *mcpcan.AdapterConfig) (mcpcan.Adapter, error) {
	return &Adapter{
		BaseAdapter: mcpcan.NewBaseAdapter(Name, cfg),
	}, nil
}

func (a *Adapter) Open(ctx context.Context) error {
	cfg := a.Config()
	port := cfg.Port
	if port == "" {
		port = DefaultPort
	}
	hz := cfg.SPIHz
	if hz == 0 {
		hz = DefaultSPIHz
	}
	if hz > maxSPIHz {
		a.Warn(fmt.Sprintf("SPI clock %d Hz above controller maximum, using %d", hz, int(maxSPIHz)))
		hz = maxSPIHz
	}
	if cfg.InterruptPin != "" {
		num, err := ParsePin(cfg.InterruptPin)
		if err != nil {
			return err
		}
		g, err := OpenGPIO(num)
		if err != nil {
			return err
		}
		a.gpio = g
	}
	dev, err := OpenDev(port, hz)
	if err != nil {
		if a.gpio != nil {
			a.gpio.Close()
		}
		return mcpcan.Unrecoverable(err)
	}
	a.dev = dev
	a.Message(fmt.Sprintf("%s at %d Hz", port, hz))
	return nil
}

func (a *Adapter) Conn() mcpcan.Conn {
	return a.dev
}

func (a *Adapter) Interrupt() mcpcan.InterruptLine {
	if a.gpio == nil {
		return nil
	}
	return a.gpio
}

func (a *Adapter) Close() error {
	a.BaseAdapter.Close()
	if a.gpio != nil {
		a.gpio.Close()
	}
	if a.dev != nil {
		return a.dev.Close()
	}
	return nil
}
