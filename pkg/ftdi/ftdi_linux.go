//go:build ftdi && cgo

package ftdi

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"unsafe"
)

// #cgo pkg-config: libftdi1
// #include <stdlib.h>
// #include <ftdi.h>
import "C"

var mpsseProducts = []int{PIDFT232H, PIDFT2232H, PIDFT4232H}

// GetDeviceList returns interface A and B of every MPSSE capable bridge.
func GetDeviceList() ([]DeviceInfo, error) {
	ctx := C.ftdi_new()
	if ctx == nil {
		return nil, errors.New("failed to create FTDI context")
	}
	defer C.ftdi_free(ctx)

	var out []DeviceInfo
	for _, pid := range mpsseProducts {
		var devList *C.struct_ftdi_device_list
		num := C.ftdi_usb_find_all(ctx, &devList, VendorFTDI, C.int(pid))
		if num < 0 {
			return nil, getErr(ctx)
		}
		for cur := devList; cur != nil; cur = cur.next {
			const charSz = 64
			var mnf, desc, ser [charSz]C.char
			if ret := C.ftdi_usb_get_strings(ctx, cur.dev,
				&mnf[0], charSz,
				&desc[0], charSz,
				&ser[0], charSz); ret != 0 {
				C.ftdi_list_free(&devList)
				return nil, getErr(ctx)
			}
			for j, intrfce := range []string{"A", "B"} {
				out = append(out, DeviceInfo{
					Index:        len(out),
					Interface:    j + 1,
					Description:  C.GoString(&desc[0]) + " " + intrfce,
					SerialNumber: C.GoString(&ser[0]),
					Manufacturer: C.GoString(&mnf[0]),
					ProductID:    pid,
				})
			}
		}
		C.ftdi_list_free(&devList)
	}
	return out, nil
}

type Device struct {
	ctx  *C.struct_ftdi_context
	open bool
	lock sync.Mutex
}

// Open opens the interface described by di.
func Open(di DeviceInfo) (*Device, error) {
	ctx := C.ftdi_new()
	if ctx == nil {
		return nil, errors.New("failed to create FTDI context")
	}
	if ret := C.ftdi_set_interface(ctx, C.enum_ftdi_interface(di.Interface)); ret != 0 {
		err := getErr(ctx)
		C.ftdi_free(ctx)
		return nil, err
	}
	var serial *C.char
	if di.SerialNumber != "" {
		serial = C.CString(di.SerialNumber)
		defer C.free(unsafe.Pointer(serial))
	}
	if ret := C.ftdi_usb_open_desc(ctx, VendorFTDI, C.int(di.ProductID), nil, serial); ret != 0 {
		err := getErr(ctx)
		C.ftdi_free(ctx)
		return nil, fmt.Errorf("open %s: %w", di, err)
	}
	return &Device{ctx: ctx, open: true}, nil
}

// OpenPort opens the first device whose description or serial number matches
// port, any MPSSE device when port is empty.
func OpenPort(port string) (*Device, error) {
	devs, err := GetDeviceList()
	if err != nil {
		return nil, err
	}
	for _, di := range devs {
		if port == "" || di.Description == port || di.SerialNumber == port || di.String() == port {
			return Open(di)
		}
	}
	return nil, fmt.Errorf("no FTDI device matching %q", port)
}

func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.open {
		return nil
	}
	defer C.ftdi_free(d.ctx)
	d.open = false
	if ret := C.ftdi_usb_close(d.ctx); ret != 0 {
		return getErr(d.ctx)
	}
	return nil
}

func (d *Device) Read(p []byte) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.open {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	ret := C.ftdi_read_data(d.ctx, (*C.uchar)(&p[0]), C.int(len(p)))
	if ret < 0 {
		return 0, getErr(d.ctx)
	}
	return int(ret), nil
}

func (d *Device) Write(p []byte) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.open {
		return 0, errors.New("FTDI device is already closed")
	}
	if len(p) == 0 {
		return 0, nil
	}
	ret := C.ftdi_write_data(d.ctx, (*C.uchar)(&p[0]), C.int(len(p)))
	if ret < 0 {
		return 0, getErr(d.ctx)
	}
	return int(ret), nil
}

func (d *Device) SetBitMode(mode BitMode) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	const mask = 0x00
	if ret := C.ftdi_set_bitmode(d.ctx, mask, C.uchar(mode)); ret < 0 {
		return getErr(d.ctx)
	}
	return nil
}

func (d *Device) SetLatency(latency int) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if ret := C.ftdi_set_latency_timer(d.ctx, C.uchar(latency)); ret < 0 {
		return getErr(d.ctx)
	}
	return nil
}

func (d *Device) Reset() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if ret := C.ftdi_usb_reset(d.ctx); ret < 0 {
		return getErr(d.ctx)
	}
	return nil
}

func (d *Device) Purge() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if ret := C.ftdi_usb_purge_buffers(d.ctx); ret < 0 {
		return getErr(d.ctx)
	}
	return nil
}

func getErr(ctx *C.struct_ftdi_context) error {
	return errors.New(C.GoString(C.ftdi_get_error_string(ctx)))
}
