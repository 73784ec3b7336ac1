package ftdi

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// MPSSE Commands
const (
	SET_LOW_BITS   = 0x80
	GET_LOW_BITS   = 0x81
	LOOPBACK_OFF   = 0x85
	SET_CLK_DIV    = 0x86
	SEND_IMMEDIATE = 0x87
	DISABLE_X5     = 0x8A
	ENABLE_X5      = 0x8B
	THREE_PHASE    = 0x8D
	ADAPTIVE_OFF   = 0x97
	SPI_0_WRITE    = 0x11
	SPI_0_READ     = 0x24
	SPI_0_TXRX     = 0x31
	BAD_COMMAND    = 0xAB
	BAD_COMMAND_RE = 0xFA
)

// ADBUS low byte pins.
const (
	PinSCK  byte = 1 << 0
	PinMOSI byte = 1 << 1
	PinMISO byte = 1 << 2
	PinCS   byte = 1 << 3
)

// CHUNK_SIZE is the largest single MPSSE data transfer.
const CHUNK_SIZE = 1 << 16

var ErrSync = errors.New("error synchronizing with MPSSE core")

// Device is an FTDI chip opened in a mode that passes raw bytes to the MPSSE
// engine.
type Device interface {
	io.ReadWriter
	Reset() error
	Purge() error
	SetLatency(ms int) error
	SetBitMode(mode BitMode) error
}

// Spi runs SPI mode 0 on ADBUS0..3 with CS on ADBUS3 and an optional
// interrupt input on ADBUS4..7.
type Spi struct {
	d         Device
	io_dir    byte
	io_status byte
	irq       byte
}

type SpiOpt func(s *Spi)

// OptInterruptPin samples ADBUSn as the interrupt input, n in 4..7.
func OptInterruptPin(n int) SpiOpt {
	return func(s *Spi) {
		s.irq = 1 << uint(n)
	}
}

// InitializeSpi puts d in MPSSE mode and configures the SPI pins and clock.
func InitializeSpi(d Device, hz int, opts ...SpiOpt) (*Spi, error) {
	s := &Spi{d: d, io_dir: PinSCK | PinMOSI | PinCS, io_status: PinCS}
	for _, o := range opts {
		o(s)
	}
	if s.irq&(PinSCK|PinMOSI|PinMISO|PinCS) != 0 {
		return nil, fmt.Errorf("interrupt pin 0x%02X collides with SPI pins", s.irq)
	}
	if err := d.Reset(); err != nil {
		return nil, err
	}
	if err := d.Purge(); err != nil {
		return nil, err
	}
	if err := d.SetLatency(2); err != nil {
		return nil, err
	}
	if err := d.SetBitMode(RESET); err != nil {
		return nil, err
	}
	if err := d.SetBitMode(MPSSE); err != nil {
		return nil, err
	}
	time.Sleep(20 * time.Millisecond)

	// a bad command is echoed as 0xFA, cmd once the engine is in sync
	if _, err := d.Write([]byte{BAD_COMMAND}); err != nil {
		return nil, err
	}
	buf := make([]byte, 2)
	if n, err := io.ReadFull(d, buf); err != nil || n != 2 || buf[0] != BAD_COMMAND_RE || buf[1] != BAD_COMMAND {
		return nil, fmt.Errorf("%w: % X", ErrSync, buf[:n])
	}

	initCmds := []byte{
		LOOPBACK_OFF,
		DISABLE_X5,
		ADAPTIVE_OFF,
		THREE_PHASE,
		SET_LOW_BITS, s.io_status, s.io_dir,
	}
	if _, err := d.Write(initCmds); err != nil {
		return nil, err
	}
	if err := s.SetClk(hz); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Spi) setCS(cs byte) []byte {
	status := s.io_status
	if cs == 0 {
		status &^= PinCS
	} else {
		status |= PinCS
	}
	return []byte{SET_LOW_BITS, status, s.io_dir}
}

// Tx clocks w out and fills r with the bytes clocked in, all inside one chip
// select assertion.
func (s *Spi) Tx(w, r []byte) error {
	if len(w) == 0 {
		return nil
	}
	if len(w) > CHUNK_SIZE {
		return fmt.Errorf("transfer of %d bytes exceeds %d", len(w), CHUNK_SIZE)
	}
	cmds := make([]byte, 0, len(w)+10)
	cmds = append(cmds, s.setCS(0)...)
	cmds = append(cmds, SPI_0_TXRX, low_byte(len(w)-1), high_byte(len(w)-1))
	cmds = append(cmds, w...)
	cmds = append(cmds, s.setCS(1)...)
	cmds = append(cmds, SEND_IMMEDIATE)
	if _, err := s.d.Write(cmds); err != nil {
		return err
	}
	in := r
	if in == nil {
		in = make([]byte, len(w))
	}
	if _, err := io.ReadFull(s.d, in[:len(w)]); err != nil {
		return fmt.Errorf("failed to read all data: %w", err)
	}
	return nil
}

// Get reads the interrupt pin level. Without an interrupt pin it reports the
// idle level.
func (s *Spi) Get() (bool, error) {
	if s.irq == 0 {
		return true, nil
	}
	if _, err := s.d.Write([]byte{GET_LOW_BITS, SEND_IMMEDIATE}); err != nil {
		return false, err
	}
	b := make([]byte, 1)
	if _, err := io.ReadFull(s.d, b); err != nil {
		return false, err
	}
	return b[0]&s.irq != 0, nil
}

// HasInterrupt reports whether an interrupt pin was configured.
func (s *Spi) HasInterrupt() bool {
	return s.irq != 0
}

func (s *Spi) SetClk(freq int) error {
	if freq <= 0 {
		return fmt.Errorf("invalid SPI clock %d Hz", freq)
	}
	var clk int
	cmds := []byte{}
	if freq > 3e6 {
		cmds = append(cmds, DISABLE_X5)
		clk = 60e6
	} else {
		cmds = append(cmds, ENABLE_X5)
		clk = 12e6
	}
	// round up so the clock never exceeds freq
	divisor := (clk/2+freq-1)/freq - 1
	if divisor < 0 {
		divisor = 0
	}
	if divisor >= 1<<16 {
		divisor = 1<<16 - 1
	}
	cmds = append(cmds, SET_CLK_DIV, low_byte(divisor), high_byte(divisor))
	_, err := s.d.Write(cmds)
	return err
}

// Clock returns the SCK frequency produced by SetClk for freq.
func Clock(freq int) int {
	clk := 12e6
	if freq > 3e6 {
		clk = 60e6
	}
	divisor := (int(clk)/2+freq-1)/freq - 1
	if divisor < 0 {
		divisor = 0
	}
	if divisor >= 1<<16 {
		divisor = 1<<16 - 1
	}
	return int(clk) / (2 * (divisor + 1))
}

func high_byte(i int) byte {
	return byte((i & 0xFF00) >> 8)
}

func low_byte(i int) byte {
	return byte(i & 0x00FF)
}
