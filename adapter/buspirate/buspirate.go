// Package buspirate drives an MCP2515 through the binary SPI mode of a Bus
// Pirate v3/v4. The INT pin is not routed, the controller is polled.
package buspirate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/mcpcan"
	"go.bug.st/serial"
)

const (
	Name            = "Bus Pirate"
	DefaultBaudrate = 115200
	DefaultSPIHz    = 1e6
)

// binary mode commands
const (
	cmdBitbang   = 0x00
	cmdSPI       = 0x01
	cmdCSLow     = 0x02
	cmdCSHigh    = 0x03
	cmdReset     = 0x0F
	cmdBulk      = 0x10
	cmdPeriph    = 0x40
	cmdSpeed     = 0x60
	cmdConfig    = 0x80
	ack          = 0x01
	maxBulk      = 16
	periphPower  = 0x08
	periphCSHigh = 0x01
	// 3.3V push pull, idle low, data changes active to idle: SPI mode 0
	configMode0 = cmdConfig | 0x08 | 0x02
)

var speeds = []struct {
	hz   int
	code byte
}{
	{8e6, 0x07},
	{4e6, 0x06},
	{2600e3, 0x05},
	{2e6, 0x04},
	{1e6, 0x03},
	{250e3, 0x02},
	{125e3, 0x01},
	{30e3, 0x00},
}

// speedCode picks the fastest supported clock not above hz.
func speedCode(hz int) (int, byte) {
	for _, s := range speeds {
		if s.hz <= hz {
			return s.hz, s.code
		}
	}
	last := speeds[len(speeds)-1]
	return last.hz, last.code
}

var (
	ErrHandshake = errors.New("bus pirate did not enter binary mode")
	ErrTimeout   = errors.New("bus pirate read timeout")
	ErrNak       = errors.New("bus pirate rejected command")
)

// Port is the part of serial.Port the adapter uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

var openPort = func(name string, baud int) (Port, error) {
	return serial.Open(name, &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
}

func init() {
	if err := mcpcan.RegisterAdapter(&mcpcan.AdapterInfo{
		Name:         Name,
		Description:  "Bus Pirate binary SPI",
		RequiresPort: true,
		Capabilities: mcpcan.AdapterCapabilities{
			InterruptPin: false,
			MaxSPIHz:     8e6,
		},
		New: New,
	}); err != nil {
		panic(err)
	}
}

type Adapter struct {
	*mcpcan.BaseAdapter
	port    Port
	timeout time.Duration
	buf     []byte
}

func New(cfg *mcpcan.AdapterConfig) (mcpcan.Adapter, error) {
	return &Adapter{
		BaseAdapter: mcpcan.NewBaseAdapter(Name, cfg),
		timeout:     500 * time.Millisecond,
	}, nil
}

func (a *Adapter) Open(ctx context.Context) error {
	cfg := a.Config()
	if cfg.Port == "" {
		return mcpcan.Unrecoverable(errors.New("no serial port given"))
	}
	baud := cfg.PortBaudrate
	if baud == 0 {
		baud = DefaultBaudrate
	}
	p, err := openPort(cfg.Port, baud)
	if err != nil {
		return mcpcan.Unrecoverable(fmt.Errorf("failed to open com port %q : %v", cfg.Port, err))
	}
	if err := p.SetReadTimeout(5 * time.Millisecond); err != nil {
		p.Close()
		return err
	}
	a.port = p
	if err := a.enterSPI(ctx); err != nil {
		p.Close()
		return err
	}
	return nil
}

func (a *Adapter) enterSPI(ctx context.Context) error {
	err := retry.Do(
		func() error {
			if _, err := a.port.Write([]byte{cmdBitbang}); err != nil {
				return retry.Unrecoverable(err)
			}
			time.Sleep(10 * time.Millisecond)
			return a.expect(ctx, "BBIO1")
		},
		retry.Context(ctx),
		retry.Attempts(25),
		retry.Delay(0),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if _, err := a.port.Write([]byte{cmdSPI}); err != nil {
		return err
	}
	if err := a.expect(ctx, "SPI1"); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	hz := a.Config().SPIHz
	if hz == 0 {
		hz = DefaultSPIHz
	}
	actual, code := speedCode(hz)
	setup := []byte{
		configMode0,
		cmdSpeed | code,
		cmdPeriph | periphPower | periphCSHigh,
	}
	for _, c := range setup {
		if err := a.command(c); err != nil {
			return fmt.Errorf("setup 0x%02X: %w", c, err)
		}
	}
	a.Message(fmt.Sprintf("binary SPI at %d Hz", actual))
	return nil
}

// expect reads until want arrives, anything before it is discarded.
func (a *Adapter) expect(ctx context.Context, want string) error {
	var got []byte
	deadline := time.Now().Add(a.timeout / 5)
	buf := make([]byte, 32)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := a.port.Read(buf)
		if err != nil {
			return err
		}
		got = append(got, buf[:n]...)
		if bytes.HasSuffix(got, []byte(want)) {
			return nil
		}
	}
	return fmt.Errorf("want %q, got %q", want, got)
}

func (a *Adapter) readFull(b []byte) error {
	deadline := time.Now().Add(a.timeout)
	for n := 0; n < len(b); {
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		m, err := a.port.Read(b[n:])
		if err != nil {
			return err
		}
		n += m
	}
	return nil
}

func (a *Adapter) command(c byte) error {
	if _, err := a.port.Write([]byte{c}); err != nil {
		return err
	}
	var r [1]byte
	if err := a.readFull(r[:]); err != nil {
		return err
	}
	if r[0] != ack {
		return ErrNak
	}
	return nil
}

// Tx sends CS low, the data as bulk transfers and CS high in a single write
// and then collects the replies.
func (a *Adapter) Tx(w, r []byte) error {
	if r != nil && len(r) < len(w) {
		return fmt.Errorf("read buffer %d bytes, need %d", len(r), len(w))
	}
	out := a.buf[:0]
	out = append(out, cmdCSLow)
	replies := 1
	for off := 0; off < len(w); off += maxBulk {
		chunk := w[off:min(off+maxBulk, len(w))]
		out = append(out, cmdBulk|byte(len(chunk)-1))
		out = append(out, chunk...)
		replies += 1 + len(chunk)
	}
	out = append(out, cmdCSHigh)
	replies++
	a.buf = out

	if _, err := a.port.Write(out); err != nil {
		return err
	}
	in := make([]byte, replies)
	if err := a.readFull(in); err != nil {
		return err
	}

	if in[0] != ack || in[len(in)-1] != ack {
		return fmt.Errorf("chip select: %w", ErrNak)
	}
	pos := 1
	for off := 0; off < len(w); off += maxBulk {
		n := min(maxBulk, len(w)-off)
		if in[pos] != ack {
			return fmt.Errorf("bulk transfer: %w", ErrNak)
		}
		if r != nil {
			copy(r[off:off+n], in[pos+1:pos+1+n])
		}
		pos += 1 + n
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (a *Adapter) Conn() mcpcan.Conn {
	return a
}

func (a *Adapter) Interrupt() mcpcan.InterruptLine {
	return nil
}

// Close returns the Bus Pirate to its user terminal.
func (a *Adapter) Close() error {
	a.BaseAdapter.Close()
	if a.port == nil {
		return nil
	}
	a.port.Write([]byte{cmdBitbang, cmdReset})
	err := a.port.Close()
	a.port = nil
	return err
}
