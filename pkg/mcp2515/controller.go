package mcp2515

import (
	"fmt"

	"github.com/roffe/mcpcan/pkg/frame"
)

// Send loads f into the first idle transmit buffer and requests transmission.
func (d *Device) Send(f frame.Frame) (TxBuffer, error) {
	st, err := d.Status()
	if err != nil {
		return 0, err
	}
	for b := TXB0; b < NumTxBuffers; b++ {
		if st.TxPending(b) {
			continue
		}
		if st.TxDone(b) {
			if err := d.ModifyBits(CANINTF, b.flag(), 0); err != nil {
				return 0, err
			}
		}
		if err := d.LoadBuffer(b, f); err != nil {
			return 0, err
		}
		return b, d.RequestSend(b.Mask())
	}
	return 0, ErrTxBusy
}

// Receive reads one pending frame, RXB0 first. ok is false when both receive
// buffers are empty.
func (d *Device) Receive() (f frame.Frame, ok bool, err error) {
	rs, err := d.RxStatus()
	if err != nil {
		return f, false, err
	}
	switch {
	case rs.MsgInRXB0():
		f, err = d.ReadBuffer(RXB0)
	case rs.MsgInRXB1():
		f, err = d.ReadBuffer(RXB1)
	default:
		return f, false, nil
	}
	if err != nil {
		return f, false, err
	}
	return f, true, nil
}

// ErrorCounters returns the transmit and receive error counters.
func (d *Device) ErrorCounters() (tec, rec byte, err error) {
	b, err := d.ReadRegisters(TEC, 2)
	if err != nil {
		return 0, 0, err
	}
	return b[0], b[1], nil
}

func (d *Device) ErrorFlags() (byte, error) {
	return d.ReadRegister(EFLG)
}

// RegisterValue is one entry of a register dump.
type RegisterValue struct {
	Register Register
	Value    byte
}

func (r RegisterValue) String() string {
	return fmt.Sprintf("%-9s 0x%02X %08b", r.Register, r.Value, r.Value)
}

var dumpRegisters = []Register{
	CANCTRL, CANSTAT, CNF1, CNF2, CNF3, CANINTE, CANINTF, EFLG, TEC, REC,
	BFPCTRL, TXRTSCTRL, TXB0CTRL, TXB1CTRL, TXB2CTRL,
	RXB0CTRL, RXB0SIDL, RXB0EID8, RXB0EID0, RXB1CTRL, RXB1SIDL, RXB1EID8, RXB1EID0,
}

// Dump reads the control and status registers.
func (d *Device) Dump() ([]RegisterValue, error) {
	out := make([]RegisterValue, 0, len(dumpRegisters))
	for _, r := range dumpRegisters {
		v, err := d.ReadRegister(r)
		if err != nil {
			return nil, err
		}
		out = append(out, RegisterValue{Register: r, Value: v})
	}
	return out, nil
}
