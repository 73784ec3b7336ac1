package mcpcan

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/roffe/mcpcan/pkg/mcp2515"
)

// Adapter is a host side SPI link to one MCP2515.
type Adapter interface {
	Name() string
	Open(context.Context) error
	Close() error
	// Conn is valid between Open and Close.
	Conn() Conn
	// Interrupt returns the wired INT pin, or nil when the link has none and
	// the interrupt has to be polled over SPI.
	Interrupt() InterruptLine
	Event() <-chan Event
}

type AdapterInfo struct {
	Name         string
	Description  string
	RequiresPort bool
	Capabilities AdapterCapabilities
	New          func(*AdapterConfig) (Adapter, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, requires port: %v", a.Name, a.Description, a.RequiresPort)
}

type AdapterCapabilities struct {
	InterruptPin bool
	MaxSPIHz     int
}

func (a *AdapterCapabilities) String() string {
	return fmt.Sprintf("INT pin: %v, max SPI clock: %d Hz", a.InterruptPin, a.MaxSPIHz)
}

type AdapterConfig struct {
	Debug bool
	// Port is the spidev node, serial port or USB device description.
	Port         string
	PortBaudrate int
	SPIHz        int
	// InterruptPin names the GPIO wired to INT, empty polls CANINTF instead.
	InterruptPin string
	OscMHz       int
	// CANRate in kbps, 0 runs auto-baud.
	CANRate          int
	SJW              int
	Mode             mcp2515.Mode
	OnMessage        func(string)
	AdditionalConfig map[string]string
}

var adapterMap = make(map[string]*AdapterInfo)

func NewAdapter(adapterName string, cfg *AdapterConfig) (Adapter, error) {
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) {
			_, file, no, ok := runtime.Caller(1)
			if ok {
				fmt.Printf("%s#%d %v\n", filepath.Base(file), no, msg)
			} else {
				log.Println(msg)
			}
		}
	}
	if adapter, found := adapterMap[strings.ToLower(adapterName)]; found {
		return adapter.New(cfg)
	}
	return nil, fmt.Errorf("unknown adapter %q", adapterName)
}

// RegisterAdapter makes an adapter available to NewAdapter. Names are case
// insensitive.
func RegisterAdapter(adapter *AdapterInfo) error {
	key := strings.ToLower(adapter.Name)
	if _, found := adapterMap[key]; !found {
		adapterMap[key] = adapter
		return nil
	}
	return fmt.Errorf("adapter %s already registered", adapter.Name)
}

func ListAdapterNames() []string {
	var out []string
	for _, adapter := range adapterMap {
		out = append(out, adapter.Name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListAdapters() []AdapterInfo {
	var out []AdapterInfo
	for _, adapter := range adapterMap {
		out = append(out, *adapter)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}
