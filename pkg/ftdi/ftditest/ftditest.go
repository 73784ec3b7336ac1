// Package ftditest provides a software FTDI MPSSE bridge with an MCP2515 on
// its SPI pins.
package ftditest

import (
	"bytes"

	"github.com/roffe/mcpcan/pkg/ftdi"
	"github.com/roffe/mcpcan/pkg/mcp2515/mcp2515test"
)

// MPSSE interprets the MPSSE command stream of an FTDI bridge and wires the
// SPI pins to a simulated controller.
type MPSSE struct {
	Sim    *mcp2515test.Sim
	IRQPin byte
	// NoEcho breaks the bad command handshake.
	NoEcho bool
	// Divisor and X5 hold the last clock configuration.
	Divisor int
	X5      bool
	Closed  bool

	mode ftdi.BitMode
	low  byte
	out  bytes.Buffer
}

// New returns a bridge with INT on the pins in irqPin, zero for none.
func New(irqPin byte) *MPSSE {
	return &MPSSE{Sim: mcp2515test.New(), IRQPin: irqPin, low: ftdi.PinCS}
}

func (f *MPSSE) Write(p []byte) (int, error) {
	if f.mode != ftdi.MPSSE {
		return len(p), nil
	}
	for i := 0; i < len(p); {
		switch p[i] {
		case ftdi.BAD_COMMAND:
			if !f.NoEcho {
				f.out.Write([]byte{ftdi.BAD_COMMAND_RE, ftdi.BAD_COMMAND})
			}
			i++
		case ftdi.SET_LOW_BITS:
			prev := f.low & ftdi.PinCS
			f.low = p[i+1]
			switch {
			case prev != 0 && f.low&ftdi.PinCS == 0:
				f.Sim.Select()
			case prev == 0 && f.low&ftdi.PinCS != 0:
				f.Sim.Deselect()
			}
			i += 3
		case ftdi.GET_LOW_BITS:
			level, _ := f.Sim.Get()
			b := f.low &^ f.IRQPin
			if level {
				b |= f.IRQPin
			}
			f.out.WriteByte(b)
			i++
		case ftdi.SPI_0_TXRX:
			n := int(p[i+1]) | int(p[i+2])<<8 + 1
			for _, b := range p[i+3 : i+3+n] {
				in, err := f.Sim.Transfer(b)
				if err != nil {
					return i, err
				}
				f.out.WriteByte(in)
			}
			i += 3 + n
		case ftdi.SET_CLK_DIV:
			f.Divisor = int(p[i+1]) | int(p[i+2])<<8
			i += 3
		case ftdi.ENABLE_X5:
			f.X5 = true
			i++
		case ftdi.DISABLE_X5:
			f.X5 = false
			i++
		default:
			i++
		}
	}
	return len(p), nil
}

func (f *MPSSE) Read(p []byte) (int, error) {
	return f.out.Read(p)
}

func (f *MPSSE) Reset() error { f.out.Reset(); return nil }
func (f *MPSSE) Purge() error { f.out.Reset(); return nil }

func (f *MPSSE) SetLatency(int) error { return nil }

func (f *MPSSE) SetBitMode(mode ftdi.BitMode) error {
	f.mode = mode
	return nil
}

func (f *MPSSE) Close() error {
	f.Closed = true
	return nil
}

// Low returns the last value written to the ADBUS low byte.
func (f *MPSSE) Low() byte {
	return f.low
}
