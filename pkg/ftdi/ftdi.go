// Package ftdi talks SPI through the MPSSE engine of FTDI USB bridges
// (FT232H, FT2232H, FT4232H). The command protocol is portable, opening the
// USB device needs libftdi and the ftdi build tag.
package ftdi

type BitMode byte

const (
	RESET         BitMode = 0x00
	ASYNC_BITBANG BitMode = 0x01
	MPSSE         BitMode = 0x02
	SYNC_BITBANG  BitMode = 0x04
)

// USB product IDs of MPSSE capable bridges, vendor 0x0403.
const (
	VendorFTDI = 0x0403
	PIDFT2232H = 0x6010
	PIDFT4232H = 0x6011
	PIDFT232H  = 0x6014
)

// DeviceInfo describes one MPSSE interface found on the bus.
type DeviceInfo struct {
	Index        int
	Interface    int // 1 = A, 2 = B
	SerialNumber string
	Description  string
	Manufacturer string
	ProductID    int
}

func (d DeviceInfo) String() string {
	return d.Description + " (" + d.SerialNumber + ")"
}
