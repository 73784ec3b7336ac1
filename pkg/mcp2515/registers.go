package mcp2515

import "fmt"

// SPI instruction set.
const (
	CmdReset      byte = 0xC0
	CmdRead       byte = 0x03
	CmdWrite      byte = 0x02
	CmdRTS        byte = 0x80 // | TxMask
	CmdReadStatus byte = 0xA0
	CmdRxStatus   byte = 0xB0
	CmdBitModify  byte = 0x05
	CmdReadBuffer byte = 0x90 // | n<<2 | m<<1
	CmdLoadBuffer byte = 0x40 // | n<<1 | payload-only bit
)

// Register is a controller register address.
type Register uint8

const (
	RXF0SIDH  Register = 0x00
	BFPCTRL   Register = 0x0C
	TXRTSCTRL Register = 0x0D
	CANSTAT   Register = 0x0E
	CANCTRL   Register = 0x0F
	TEC       Register = 0x1C
	REC       Register = 0x1D
	RXM0SIDH  Register = 0x20
	RXM1SIDH  Register = 0x24
	CNF3      Register = 0x28
	CNF2      Register = 0x29
	CNF1      Register = 0x2A
	CANINTE   Register = 0x2B
	CANINTF   Register = 0x2C
	EFLG      Register = 0x2D

	TXB0CTRL Register = 0x30
	TXB0SIDH Register = 0x31
	TXB0DLC  Register = 0x35
	TXB0D0   Register = 0x36
	TXB1CTRL Register = 0x40
	TXB1SIDH Register = 0x41
	TXB2CTRL Register = 0x50
	TXB2SIDH Register = 0x51

	RXB0CTRL Register = 0x60
	RXB0SIDH Register = 0x61
	RXB0SIDL Register = 0x62
	RXB0EID8 Register = 0x63
	RXB0EID0 Register = 0x64
	RXB0DLC  Register = 0x65
	RXB0D0   Register = 0x66
	RXB1CTRL Register = 0x70
	RXB1SIDH Register = 0x71
	RXB1SIDL Register = 0x72
	RXB1EID8 Register = 0x73
	RXB1EID0 Register = 0x74
	RXB1DLC  Register = 0x75
	RXB1D0   Register = 0x76

	// RegisterSpace is the size of the addressable register map.
	RegisterSpace = 0x80
)

// registerNames is the symbolic name table for every register the driver uses.
var registerNames = map[Register]string{
	RXF0SIDH:  "RXF0SIDH",
	BFPCTRL:   "BFPCTRL",
	TXRTSCTRL: "TXRTSCTRL",
	CANSTAT:   "CANSTAT",
	CANCTRL:   "CANCTRL",
	TEC:       "TEC",
	REC:       "REC",
	RXM0SIDH:  "RXM0SIDH",
	RXM1SIDH:  "RXM1SIDH",
	CNF3:      "CNF3",
	CNF2:      "CNF2",
	CNF1:      "CNF1",
	CANINTE:   "CANINTE",
	CANINTF:   "CANINTF",
	EFLG:      "EFLG",
	TXB0CTRL:  "TXB0CTRL",
	TXB0SIDH:  "TXB0SIDH",
	TXB0DLC:   "TXB0DLC",
	TXB0D0:    "TXB0D0",
	TXB1CTRL:  "TXB1CTRL",
	TXB1SIDH:  "TXB1SIDH",
	TXB2CTRL:  "TXB2CTRL",
	TXB2SIDH:  "TXB2SIDH",
	RXB0CTRL:  "RXB0CTRL",
	RXB0SIDH:  "RXB0SIDH",
	RXB0SIDL:  "RXB0SIDL",
	RXB0EID8:  "RXB0EID8",
	RXB0EID0:  "RXB0EID0",
	RXB0DLC:   "RXB0DLC",
	RXB0D0:    "RXB0D0",
	RXB1CTRL:  "RXB1CTRL",
	RXB1SIDH:  "RXB1SIDH",
	RXB1SIDL:  "RXB1SIDL",
	RXB1EID8:  "RXB1EID8",
	RXB1EID0:  "RXB1EID0",
	RXB1DLC:   "RXB1DLC",
	RXB1D0:    "RXB1D0",
}

func (r Register) String() string {
	if name, ok := registerNames[r]; ok {
		return name
	}
	return fmt.Sprintf("REG_0x%02X", uint8(r))
}

// Mode is an operating mode as encoded in CANCTRL.REQOP and CANSTAT.OPMOD.
type Mode byte

const (
	ModeNormal     Mode = 0x00
	ModeSleep      Mode = 0x20
	ModeLoopback   Mode = 0x40
	ModeListenOnly Mode = 0x60
	ModeConfig     Mode = 0x80

	// ModeMask covers REQOP in CANCTRL and OPMOD in CANSTAT.
	ModeMask byte = 0xE0
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSleep:
		return "sleep"
	case ModeLoopback:
		return "loopback"
	case ModeListenOnly:
		return "listen-only"
	case ModeConfig:
		return "config"
	}
	return fmt.Sprintf("mode(0x%02X)", byte(m))
}

// ParseMode maps a mode name back to its value.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeNormal, ModeSleep, ModeLoopback, ModeListenOnly, ModeConfig} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// CANINTE / CANINTF bits.
const (
	RX0IF byte = 1 << 0
	RX1IF byte = 1 << 1
	TX0IF byte = 1 << 2
	TX1IF byte = 1 << 3
	TX2IF byte = 1 << 4
	ERRIF byte = 1 << 5
	WAKIF byte = 1 << 6
	MERRF byte = 1 << 7
)

// EFLG bits.
const (
	EWARN  byte = 1 << 0
	RXWAR  byte = 1 << 1
	TXWAR  byte = 1 << 2
	RXEP   byte = 1 << 3
	TXEP   byte = 1 << 4
	TXBO   byte = 1 << 5
	RX0OVR byte = 1 << 6
	RX1OVR byte = 1 << 7
)

// Buffer control bits.
const (
	TXREQ byte = 1 << 3 // TXBnCTRL

	RXMAny byte = 0x60 // RXBnCTRL.RXM: receive any message, masks and filters off
	BUKT   byte = 1 << 2
)

// Header bits.
const (
	sidlSRR   byte = 1 << 4
	sidlEXIDE byte = 1 << 3
	dlcRTR    byte = 1 << 6
	dlcMask   byte = 0x0F
)

// TxBuffer selects one of the three transmit buffers.
type TxBuffer uint8

const (
	TXB0 TxBuffer = iota
	TXB1
	TXB2

	NumTxBuffers = 3
)

func (b TxBuffer) ctrl() Register {
	return TXB0CTRL + Register(b)*0x10
}

// Mask returns the request-to-send selector for b.
func (b TxBuffer) Mask() TxMask {
	return TxMask(1 << b)
}

func (b TxBuffer) flag() byte {
	return TX0IF << b
}

// TxMask is any combination of transmit buffers for request-to-send.
type TxMask uint8

const (
	TXB0Mask TxMask = 1 << 0
	TXB1Mask TxMask = 1 << 1
	TXB2Mask TxMask = 1 << 2
	TXBAll   TxMask = TXB0Mask | TXB1Mask | TXB2Mask
)

// RxBuffer selects one of the two receive buffers.
type RxBuffer uint8

const (
	RXB0 RxBuffer = iota
	RXB1
)

// Status is the byte returned by the READ STATUS instruction.
type Status byte

func (s Status) RX0Full() bool { return s&(1<<0) != 0 }
func (s Status) RX1Full() bool { return s&(1<<1) != 0 }

// TxPending reports TXBnCTRL.TXREQ for buffer b.
func (s Status) TxPending(b TxBuffer) bool { return s&(1<<(2+2*b)) != 0 }

// TxDone reports CANINTF.TXnIF for buffer b.
func (s Status) TxDone(b TxBuffer) bool { return s&(1<<(3+2*b)) != 0 }

func (s Status) String() string {
	return fmt.Sprintf("%08b", byte(s))
}

// RxStatus is the byte returned by the RX STATUS instruction.
type RxStatus byte

func (s RxStatus) MsgInRXB0() bool { return s&(1<<6) != 0 }
func (s RxStatus) MsgInRXB1() bool { return s&(1<<7) != 0 }
func (s RxStatus) Extended() bool  { return s&(1<<4) != 0 }
func (s RxStatus) Remote() bool    { return s&(1<<3) != 0 }

// Filter returns the matching filter number; 6 and 7 mean RXF0 and RXF1 rolled
// over into RXB1.
func (s RxStatus) Filter() int { return int(s & 0x07) }

func (s RxStatus) String() string {
	return fmt.Sprintf("%08b", byte(s))
}
