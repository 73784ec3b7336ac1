package mcp2515_test

import (
	"testing"

	"github.com/roffe/mcpcan/pkg/mcp2515"
)

func TestStatusBits(t *testing.T) {
	tests := []struct {
		name string
		in   mcp2515.Status
		get  func(mcp2515.Status) bool
	}{
		{"rx0 full", 0x01, mcp2515.Status.RX0Full},
		{"rx1 full", 0x02, mcp2515.Status.RX1Full},
		{"txb0 pending", 0x04, func(s mcp2515.Status) bool { return s.TxPending(mcp2515.TXB0) }},
		{"txb0 done", 0x08, func(s mcp2515.Status) bool { return s.TxDone(mcp2515.TXB0) }},
		{"txb1 pending", 0x10, func(s mcp2515.Status) bool { return s.TxPending(mcp2515.TXB1) }},
		{"txb1 done", 0x20, func(s mcp2515.Status) bool { return s.TxDone(mcp2515.TXB1) }},
		{"txb2 pending", 0x40, func(s mcp2515.Status) bool { return s.TxPending(mcp2515.TXB2) }},
		{"txb2 done", 0x80, func(s mcp2515.Status) bool { return s.TxDone(mcp2515.TXB2) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.get(tt.in) {
				t.Errorf("%s not set in %s", tt.name, tt.in)
			}
			if tt.get(^tt.in) {
				t.Errorf("%s set in %s", tt.name, ^tt.in)
			}
		})
	}
}

func TestRxStatusBits(t *testing.T) {
	tests := []struct {
		name string
		in   mcp2515.RxStatus
		get  func(mcp2515.RxStatus) bool
	}{
		{"rxb0", 0x40, mcp2515.RxStatus.MsgInRXB0},
		{"rxb1", 0x80, mcp2515.RxStatus.MsgInRXB1},
		{"extended", 0x10, mcp2515.RxStatus.Extended},
		{"remote", 0x08, mcp2515.RxStatus.Remote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.get(tt.in) {
				t.Errorf("%s not set in %s", tt.name, tt.in)
			}
			if tt.get(^tt.in) {
				t.Errorf("%s set in %s", tt.name, ^tt.in)
			}
		})
	}
	if f := mcp2515.RxStatus(0xC7).Filter(); f != 7 {
		t.Errorf("Filter() = %d, want 7", f)
	}
}
