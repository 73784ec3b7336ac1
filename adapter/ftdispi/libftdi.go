//go:build ftdi && cgo

package ftdispi

import "github.com/roffe/mcpcan/pkg/ftdi"

func init() {
	openDevice = func(port string) (Device, error) {
		return ftdi.OpenPort(port)
	}
}
