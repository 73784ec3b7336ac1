package frame

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const (
	// MaxLen is the payload capacity of a classical CAN frame.
	MaxLen = 8

	MaxStdID uint32 = 1<<11 - 1
	MaxExtID uint32 = 1<<29 - 1
)

var (
	ErrInvalidID  = errors.New("invalid CAN identifier")
	ErrInvalidLen = errors.New("invalid CAN data length")
)

// Frame is a classical CAN 2.0A/2.0B frame. It is a plain value and is copied
// freely between the driver and its callers.
type Frame struct {
	ID       uint32 // 11 bit (standard) or 29 bit (extended)
	Extended bool
	RTR      bool
	// SRR is only reported on receive, it mirrors RXBnSIDL.SRR.
	SRR  bool
	Len  uint8
	Data [MaxLen]byte
}

// New returns a standard frame carrying data.
func New(id uint32, data []byte) Frame {
	f := Frame{ID: id}
	f.Len = uint8(copy(f.Data[:], data))
	return f
}

// NewExtended returns an extended frame carrying data.
func NewExtended(id uint32, data []byte) Frame {
	f := New(id, data)
	f.Extended = true
	return f
}

// NewRemote returns a remote transmission request asking for length bytes.
func NewRemote(id uint32, length uint8, extended bool) Frame {
	return Frame{ID: id, Extended: extended, RTR: true, Len: length}
}

// Validate checks the identifier width and data length.
func (f Frame) Validate() error {
	if f.Len > MaxLen {
		return fmt.Errorf("%w: %d", ErrInvalidLen, f.Len)
	}
	limit := MaxStdID
	if f.Extended {
		limit = MaxExtID
	}
	if f.ID > limit {
		return fmt.Errorf("%w: 0x%X", ErrInvalidID, f.ID)
	}
	return nil
}

// Payload returns the valid part of Data.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxLen {
		n = MaxLen
	}
	return f.Data[:n]
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f Frame) idString() string {
	if f.Extended {
		return fmt.Sprintf("0x%08X", f.ID)
	}
	return fmt.Sprintf("0x%03X", f.ID)
}

func (f Frame) flags() string {
	switch {
	case f.RTR && f.Extended:
		return "XR"
	case f.RTR:
		return "R "
	case f.Extended:
		return "X "
	}
	return "  "
}

func (f Frame) views() (hex, bin string) {
	var hexView, binView strings.Builder
	data := f.Payload()
	if f.RTR {
		data = nil
	}
	for i, b := range data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		binView.WriteString(fmt.Sprintf("%08b", b))
		if i != len(data)-1 {
			hexView.WriteString(" ")
			binView.WriteString(" ")
		}
	}
	return hexView.String(), binView.String()
}

func (f Frame) String() string {
	hex, bin := f.views()
	var out strings.Builder
	out.WriteString(fmt.Sprintf("%-10s %s || %d || ", f.idString(), f.flags(), f.Len))
	out.WriteString(fmt.Sprintf("%-23s", hex))
	out.WriteString(" || ")
	out.WriteString(fmt.Sprintf("%-71s", bin))
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Payload()))
	return out.String()
}

// ColorString is String with ANSI colours for terminal monitors.
func (f Frame) ColorString() string {
	hex, bin := f.views()
	var out strings.Builder
	out.WriteString(green("%-10s", f.idString()))
	out.WriteString(fmt.Sprintf(" %s || %d || ", f.flags(), f.Len))
	out.WriteString(fmt.Sprintf("%-23s", hex))
	out.WriteString(" || ")
	out.WriteString(red("%-71s", bin))
	out.WriteString(" || ")
	out.WriteString(yellow("%s", onlyPrintable(f.Payload())))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteByte('.')
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
