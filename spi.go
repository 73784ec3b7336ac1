package mcpcan

import (
	"fmt"

	"github.com/roffe/mcpcan/pkg/mcp2515"
)

// Conn is one chip select bounded full duplex SPI transaction.
type Conn = mcp2515.Conn

// InterruptLine is the active low INT pin of the controller.
type InterruptLine = mcp2515.InterruptLine

// ByteTransport is the minimal host side SPI interface: explicit chip select
// and single byte exchange.
type ByteTransport interface {
	Select() error
	Deselect() error
	Transfer(b byte) (byte, error)
}

type byteConn struct {
	t ByteTransport
}

// ByteConn builds a Conn from the byte primitives of t. Chip select is always
// released, also when a transfer fails.
func ByteConn(t ByteTransport) Conn {
	return &byteConn{t: t}
}

func (c *byteConn) Tx(w, r []byte) (err error) {
	if r != nil && len(r) < len(w) {
		return fmt.Errorf("read buffer %d bytes, need %d", len(r), len(w))
	}
	if err := c.t.Select(); err != nil {
		return fmt.Errorf("select: %w", err)
	}
	defer func() {
		if derr := c.t.Deselect(); derr != nil && err == nil {
			err = fmt.Errorf("deselect: %w", derr)
		}
	}()
	for i, b := range w {
		in, err := c.t.Transfer(b)
		if err != nil {
			return fmt.Errorf("transfer byte %d: %w", i, err)
		}
		if r != nil {
			r[i] = in
		}
	}
	return nil
}
