// Package mcp2515test provides a register level MCP2515 simulator.
//
// Sim speaks the SPI instruction set byte by byte, so it can stand behind both
// a transaction level mcp2515.Conn and the byte primitives of mcpcan.ByteTransport.
// It models modes, the CNF write protection outside configuration mode, the
// transmit and receive buffers and the interrupt flags. Bus traffic is
// simulated with Inject and Advance.
package mcp2515test

import (
	"errors"
	"sync"
	"time"

	"github.com/roffe/mcpcan/pkg/frame"
	"github.com/roffe/mcpcan/pkg/mcp2515"
)

var ErrNotSelected = errors.New("transfer without chip select")

// load buffer start addresses indexed by the low bits of the LOAD TX BUFFER
// instruction.
var loadAddr = [6]mcp2515.Register{0x31, 0x36, 0x41, 0x46, 0x51, 0x56}

// read buffer start addresses indexed by n<<1|m of the READ RX BUFFER instruction.
var readAddr = [4]mcp2515.Register{0x61, 0x66, 0x71, 0x76}

type Sim struct {
	// OscMHz and BusKbps describe the simulated bus for Advance. A zero BusKbps
	// is a silent bus.
	OscMHz  int
	BusKbps int
	// Traffic is the frame other nodes send when Advance finds the controller at
	// the bus speed.
	Traffic frame.Frame
	// FreezeMode makes CANSTAT ignore mode requests.
	FreezeMode bool
	// NoLog stops recording transactions, for long running use.
	NoLog bool

	mu   sync.Mutex
	regs [mcp2515.RegisterSpace]byte

	selected bool
	cur      []byte
	log      [][]byte
	sent     []frame.Frame
}

func New() *Sim {
	s := &Sim{OscMHz: 16}
	s.reset()
	return s
}

func (s *Sim) reset() {
	for i := range s.regs {
		s.regs[i] = 0
	}
	s.regs[mcp2515.CANSTAT] = byte(mcp2515.ModeConfig)
	s.regs[mcp2515.CANCTRL] = 0x87
}

func (s *Sim) Select() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = true
	s.cur = s.cur[:0]
	return nil
}

func (s *Sim) Deselect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selected {
		return nil
	}
	s.selected = false
	if len(s.cur) == 0 {
		return nil
	}
	if !s.NoLog {
		s.log = append(s.log, append([]byte(nil), s.cur...))
	}
	cmd := s.cur[0]
	// reading a receive buffer through READ RX BUFFER clears its flag
	if cmd&0xF9 == mcp2515.CmdReadBuffer && len(s.cur) > 1 {
		if cmd&0x04 == 0 {
			s.regs[mcp2515.CANINTF] &^= mcp2515.RX0IF
		} else {
			s.regs[mcp2515.CANINTF] &^= mcp2515.RX1IF
		}
	}
	return nil
}

func (s *Sim) Transfer(b byte) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selected {
		return 0, ErrNotSelected
	}
	pos := len(s.cur)
	s.cur = append(s.cur, b)
	return s.clock(s.cur[0], pos, b), nil
}

// Tx runs one chip select bounded transaction.
func (s *Sim) Tx(w, r []byte) error {
	if err := s.Select(); err != nil {
		return err
	}
	for i, b := range w {
		in, err := s.Transfer(b)
		if err != nil {
			return err
		}
		if r != nil {
			r[i] = in
		}
	}
	return s.Deselect()
}

// Get reports the INT pin level, low while an enabled flag is set.
func (s *Sim) Get() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[mcp2515.CANINTF]&s.regs[mcp2515.CANINTE] == 0, nil
}

// clock handles byte pos of a transaction started with cmd and returns the
// byte shifted out at the same time.
func (s *Sim) clock(cmd byte, pos int, b byte) byte {
	switch {
	case cmd == mcp2515.CmdReset:
		if pos == 0 {
			s.reset()
		}
	case cmd == mcp2515.CmdRead:
		if pos >= 2 {
			return s.regs[s.addr(pos-2)]
		}
	case cmd == mcp2515.CmdWrite:
		if pos >= 2 {
			s.write(s.addr(pos-2), b)
		}
	case cmd == mcp2515.CmdBitModify:
		if pos == 3 {
			addr := mcp2515.Register(s.cur[1] & 0x7F)
			mask := s.cur[2]
			s.write(addr, s.regs[addr]&^mask|b&mask)
		}
	case cmd == mcp2515.CmdReadStatus:
		if pos >= 1 {
			return s.status()
		}
	case cmd == mcp2515.CmdRxStatus:
		if pos >= 1 {
			return s.rxStatus()
		}
	case cmd&0xF8 == mcp2515.CmdRTS:
		if pos == 0 {
			for i := 0; i < mcp2515.NumTxBuffers; i++ {
				if cmd&(1<<i) != 0 {
					s.regs[txCtrl(i)] |= mcp2515.TXREQ
				}
			}
			s.transmit()
		}
	case cmd&0xF9 == mcp2515.CmdReadBuffer:
		if pos >= 1 {
			a := int(readAddr[(cmd>>1)&0x03]) + pos - 1
			return s.regs[a%mcp2515.RegisterSpace]
		}
	case cmd&0xF8 == mcp2515.CmdLoadBuffer && cmd&0x07 < 6:
		if pos >= 1 {
			a := int(loadAddr[cmd&0x07]) + pos - 1
			s.regs[a%mcp2515.RegisterSpace] = b
		}
	}
	return 0
}

func (s *Sim) addr(offset int) mcp2515.Register {
	return mcp2515.Register((int(s.cur[1]) + offset) % mcp2515.RegisterSpace)
}

func (s *Sim) mode() mcp2515.Mode {
	return mcp2515.Mode(s.regs[mcp2515.CANSTAT] & mcp2515.ModeMask)
}

func (s *Sim) write(addr mcp2515.Register, v byte) {
	switch addr {
	case mcp2515.CANSTAT, mcp2515.TEC, mcp2515.REC:
		return
	case mcp2515.CNF1, mcp2515.CNF2, mcp2515.CNF3:
		if s.mode() != mcp2515.ModeConfig {
			return
		}
	}
	s.regs[addr] = v
	if addr == mcp2515.CANCTRL && !s.FreezeMode {
		s.regs[mcp2515.CANSTAT] = s.regs[mcp2515.CANSTAT]&^mcp2515.ModeMask | v&mcp2515.ModeMask
		s.transmit()
	}
}

func txCtrl(i int) mcp2515.Register {
	return mcp2515.TXB0CTRL + mcp2515.Register(i*0x10)
}

// transmit completes pending requests in the modes that drive the bus.
func (s *Sim) transmit() {
	m := s.mode()
	if m != mcp2515.ModeNormal && m != mcp2515.ModeLoopback {
		return
	}
	for i := 0; i < mcp2515.NumTxBuffers; i++ {
		ctrl := txCtrl(i)
		if s.regs[ctrl]&mcp2515.TXREQ == 0 {
			continue
		}
		var h mcp2515.Header
		copy(h[:], s.regs[ctrl+1:ctrl+1+mcp2515.HeaderLen])
		f := mcp2515.DecodeHeader(h)
		copy(f.Data[:], s.regs[ctrl+6:ctrl+6+mcp2515.Register(f.Len)])
		if m == mcp2515.ModeLoopback {
			s.receive(f)
		} else {
			s.sent = append(s.sent, f)
		}
		s.regs[ctrl] &^= mcp2515.TXREQ
		s.regs[mcp2515.CANINTF] |= mcp2515.TX0IF << i
	}
}

// receive places f in the first free receive buffer, or flags an overflow.
func (s *Sim) receive(f frame.Frame) {
	h := mcp2515.EncodeHeader(f)
	flags := s.regs[mcp2515.CANINTF]
	var base mcp2515.Register
	switch {
	case flags&mcp2515.RX0IF == 0:
		base = mcp2515.RXB0SIDH
		s.regs[mcp2515.CANINTF] |= mcp2515.RX0IF
	case flags&mcp2515.RX1IF == 0:
		base = mcp2515.RXB1SIDH
		s.regs[mcp2515.CANINTF] |= mcp2515.RX1IF
	default:
		if s.regs[mcp2515.RXB0CTRL]&mcp2515.BUKT != 0 {
			s.regs[mcp2515.EFLG] |= mcp2515.RX1OVR
		} else {
			s.regs[mcp2515.EFLG] |= mcp2515.RX0OVR
		}
		s.regs[mcp2515.CANINTF] |= mcp2515.ERRIF
		return
	}
	copy(s.regs[base:], h[:])
	copy(s.regs[base+mcp2515.HeaderLen:], f.Data[:f.Len])
}

func (s *Sim) status() byte {
	intf := s.regs[mcp2515.CANINTF]
	st := intf & (mcp2515.RX0IF | mcp2515.RX1IF)
	for i := 0; i < mcp2515.NumTxBuffers; i++ {
		if s.regs[txCtrl(i)]&mcp2515.TXREQ != 0 {
			st |= 1 << (2 + 2*i)
		}
		if intf&(mcp2515.TX0IF<<i) != 0 {
			st |= 1 << (3 + 2*i)
		}
	}
	return st
}

func (s *Sim) rxStatus() byte {
	intf := s.regs[mcp2515.CANINTF]
	var rs byte
	var sidl, dlc byte
	switch {
	case intf&mcp2515.RX0IF != 0:
		sidl, dlc = s.regs[mcp2515.RXB0SIDL], s.regs[mcp2515.RXB0DLC]
	case intf&mcp2515.RX1IF != 0:
		sidl, dlc = s.regs[mcp2515.RXB1SIDL], s.regs[mcp2515.RXB1DLC]
		rs |= 0x01
	default:
		return 0
	}
	rs |= (intf & (mcp2515.RX0IF | mcp2515.RX1IF)) << 6
	if sidl&0x08 != 0 {
		rs |= 1 << 4
	}
	if dlc&0x40 != 0 || (sidl&0x08 == 0 && sidl&0x10 != 0) {
		rs |= 1 << 3
	}
	return rs
}

// Inject delivers f from another node. Frames are only received in normal and
// listen-only mode; it reports whether the controller saw the frame.
func (s *Sim) Inject(f frame.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.mode(); m != mcp2515.ModeNormal && m != mcp2515.ModeListenOnly {
		return false
	}
	s.receive(f)
	return true
}

// BitRate decodes the bus speed programmed in CNF1..3, false when it is not an
// integral number of kbps.
func (s *Sim) BitRate() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitRate()
}

func (s *Sim) bitRate() (int, bool) {
	cnf1, cnf2, cnf3 := s.regs[mcp2515.CNF1], s.regs[mcp2515.CNF2], s.regs[mcp2515.CNF3]
	brp := int(cnf1&0x3F) + 1
	bt := 1 + int(cnf2&0x07) + 1 + int(cnf2>>3&0x07) + 1 + int(cnf3&0x07) + 1
	num, den := 1000*s.OscMHz, 2*brp*bt
	if den == 0 || num%den != 0 {
		return 0, false
	}
	return num / den, true
}

// Advance lets d of bus time pass. On a busy bus a controller listening at the
// bus speed receives Traffic, one at any other speed raises a message error.
func (s *Sim) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BusKbps == 0 {
		return
	}
	if m := s.mode(); m != mcp2515.ModeNormal && m != mcp2515.ModeListenOnly {
		return
	}
	if kbps, ok := s.bitRate(); ok && kbps == s.BusKbps {
		s.receive(s.Traffic)
		return
	}
	s.regs[mcp2515.CANINTF] |= mcp2515.MERRF | mcp2515.ERRIF
}

// SetTraffic replaces the frame Advance delivers.
func (s *Sim) SetTraffic(f frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Traffic = f
}

// Register returns the raw value at addr.
func (s *Sim) Register(addr mcp2515.Register) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

// SetRegister stores v at addr bypassing the write rules, for error counters and
// other hardware owned state.
func (s *Sim) SetRegister(addr mcp2515.Register, v byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[addr] = v
}

// Sent returns the frames transmitted in normal mode.
func (s *Sim) Sent() []frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame.Frame(nil), s.sent...)
}

// Transactions returns the MOSI bytes of every completed transaction.
func (s *Sim) Transactions() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.log...)
}

func (s *Sim) ClearTransactions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = nil
}
