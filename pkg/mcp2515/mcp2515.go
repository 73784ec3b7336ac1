// Package mcp2515 drives a Microchip MCP2515 stand-alone CAN controller over SPI.
//
// Every operation is a single chip-select bounded SPI transaction and always
// round-trips to the controller, the Device keeps no copy of register state.
// A Device is not safe for concurrent use; callers serialise access (see
// mcpcan.Client).
package mcp2515

import (
	"errors"
	"fmt"
	"time"

	"github.com/roffe/mcpcan/pkg/frame"
)

// Conn is a full duplex SPI link to one controller. Tx asserts chip select,
// clocks out w, and releases chip select. When r is not nil it receives the
// bytes clocked in and must be as long as w.
type Conn interface {
	Tx(w, r []byte) error
}

// InterruptLine reads the level of the controller INT pin. The pin is active
// low: Get returns false while an interrupt is pending.
type InterruptLine interface {
	Get() (bool, error)
}

var (
	ErrModeChangeFailed  = errors.New("controller did not confirm mode change")
	ErrAutoBaudExhausted = errors.New("auto-baud found no bus speed")
	ErrVerifyFailed      = errors.New("register readback mismatch")
	ErrTxBusy            = errors.New("all transmit buffers busy")
)

// Device is one MCP2515 controller.
type Device struct {
	conn Conn
	irq  InterruptLine

	settle    time.Duration
	window    time.Duration
	sweepFrom int
	sweepTo   int
	sweepStep int

	sleep    func(time.Duration)
	logf     func(format string, v ...interface{})
	progress func(kbps, n, total int)
}

// New returns a Device talking over conn. If irq is nil the interrupt line is
// emulated by polling CANINTF over SPI.
func New(conn Conn, irq InterruptLine, opts ...Opt) *Device {
	d := &Device{
		conn:      conn,
		irq:       irq,
		settle:    DefaultSettleDelay,
		window:    DefaultObservationWindow,
		sweepFrom: DefaultSweepFrom,
		sweepTo:   DefaultSweepTo,
		sweepStep: DefaultSweepStep,
		sleep:     time.Sleep,
		logf:      func(string, ...interface{}) {},
		progress:  func(int, int, int) {},
	}
	if d.irq == nil {
		d.irq = PolledInterrupt(conn)
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Device) tx(w, r []byte) error {
	if err := d.conn.Tx(w, r); err != nil {
		return fmt.Errorf("spi 0x%02X: %w", w[0], err)
	}
	return nil
}

// Reset puts the controller in configuration mode with all registers at their
// reset values.
func (d *Device) Reset() error {
	return d.tx([]byte{CmdReset}, nil)
}

func (d *Device) ReadRegister(addr Register) (byte, error) {
	b, err := readRegisters(d.conn, addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadRegisters reads n consecutive registers starting at addr.
func (d *Device) ReadRegisters(addr Register, n int) ([]byte, error) {
	return readRegisters(d.conn, addr, n)
}

func readRegisters(conn Conn, addr Register, n int) ([]byte, error) {
	if n <= 0 || int(addr)+n > RegisterSpace {
		return nil, fmt.Errorf("read %d registers from %s: out of range", n, addr)
	}
	w := make([]byte, 2+n)
	w[0], w[1] = CmdRead, byte(addr)
	r := make([]byte, len(w))
	if err := conn.Tx(w, r); err != nil {
		return nil, fmt.Errorf("read %s: %w", addr, err)
	}
	return r[2:], nil
}

func (d *Device) WriteRegister(addr Register, v byte) error {
	return d.WriteRegisters(addr, []byte{v})
}

// WriteRegisters writes data to consecutive registers starting at addr.
func (d *Device) WriteRegisters(addr Register, data []byte) error {
	if len(data) == 0 || int(addr)+len(data) > RegisterSpace {
		return fmt.Errorf("write %d registers to %s: out of range", len(data), addr)
	}
	w := make([]byte, 0, 2+len(data))
	w = append(w, CmdWrite, byte(addr))
	w = append(w, data...)
	return d.tx(w, nil)
}

// ModifyBits sets the bits of addr selected by mask to value. The controller
// computes (reg &^ mask) | (value & mask) itself.
func (d *Device) ModifyBits(addr Register, mask, value byte) error {
	return d.tx([]byte{CmdBitModify, byte(addr), mask, value}, nil)
}

// SetMode requests mode, waits for the settle delay and reports whether
// CANSTAT.OPMOD followed. A false result with a nil error means the controller
// did not confirm, the error is only set when the link failed.
func (d *Device) SetMode(mode Mode) (bool, error) {
	if err := d.ModifyBits(CANCTRL, ModeMask, byte(mode)); err != nil {
		return false, err
	}
	d.sleep(d.settle)
	stat, err := d.ReadRegister(CANSTAT)
	if err != nil {
		return false, err
	}
	return stat&ModeMask == byte(mode), nil
}

// Mode reads the current operating mode from CANSTAT.
func (d *Device) Mode() (Mode, error) {
	stat, err := d.ReadRegister(CANSTAT)
	if err != nil {
		return 0, err
	}
	return Mode(stat & ModeMask), nil
}

func (d *Device) Status() (Status, error) {
	r := make([]byte, 2)
	if err := d.tx([]byte{CmdReadStatus, 0}, r); err != nil {
		return 0, err
	}
	return Status(r[1]), nil
}

func (d *Device) RxStatus() (RxStatus, error) {
	r := make([]byte, 2)
	if err := d.tx([]byte{CmdRxStatus, 0}, r); err != nil {
		return 0, err
	}
	return RxStatus(r[1]), nil
}

// LoadBuffer writes f into transmit buffer b. It does not request transmission.
func (d *Device) LoadBuffer(b TxBuffer, f frame.Frame) error {
	if b >= NumTxBuffers {
		return fmt.Errorf("invalid transmit buffer %d", b)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	h := EncodeHeader(f)
	w := make([]byte, 0, 1+HeaderLen+int(f.Len))
	w = append(w, CmdLoadBuffer|byte(b)<<1)
	w = append(w, h[:]...)
	w = append(w, f.Data[:f.Len]...)
	return d.tx(w, nil)
}

// ReadBuffer reads and decodes receive buffer b. The controller clears the
// matching RXnIF flag when the transaction ends.
func (d *Device) ReadBuffer(b RxBuffer) (frame.Frame, error) {
	if b > RXB1 {
		return frame.Frame{}, fmt.Errorf("invalid receive buffer %d", b)
	}
	w := make([]byte, 1+HeaderLen+frame.MaxLen)
	w[0] = CmdReadBuffer | byte(b)<<2
	r := make([]byte, len(w))
	if err := d.tx(w, r); err != nil {
		return frame.Frame{}, err
	}
	var h Header
	copy(h[:], r[1:1+HeaderLen])
	f := DecodeHeader(h)
	copy(f.Data[:], r[1+HeaderLen:1+HeaderLen+int(f.Len)])
	return f, nil
}

// RequestSend starts transmission of the buffers in mask.
func (d *Device) RequestSend(mask TxMask) error {
	return d.tx([]byte{CmdRTS | byte(mask&TXBAll)}, nil)
}

// InterruptPending reports whether the active low INT line is asserted.
func (d *Device) InterruptPending() (bool, error) {
	level, err := d.irq.Get()
	if err != nil {
		return false, fmt.Errorf("interrupt line: %w", err)
	}
	return !level, nil
}
