// Package sim is an adapter backed by an in-process MCP2515 model on a bus
// with a single ECU broadcasting at a fixed speed. It needs no hardware.
package sim

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/roffe/mcpcan"
	"github.com/roffe/mcpcan/pkg/frame"
	"github.com/roffe/mcpcan/pkg/mcp2515/mcp2515test"
)

const (
	Name            = "sim"
	DefaultBusKbps  = 500
	DefaultInterval = 10 * time.Millisecond
)

func init() {
	if err := mcpcan.RegisterAdapter(&mcpcan.AdapterInfo{
		Name:         Name,
		Description:  "simulated MCP2515 on a busy bus",
		RequiresPort: false,
		Capabilities: mcpcan.AdapterCapabilities{
			InterruptPin: true,
		},
		New: New,
	}); err != nil {
		panic(err)
	}
}

// Adapter reads these AdditionalConfig keys:
//
//	bus_kbps  speed of the simulated bus, 0 is a silent bus
//	interval  time between broadcast frames
//	irq       "polled" leaves INT unconnected
type Adapter struct {
	*mcpcan.BaseAdapter
	sim      *mcp2515test.Sim
	interval time.Duration
	polled   bool
	wg       sync.WaitGroup
}

func New(cfg *mcpcan.AdapterConfig) (mcpcan.Adapter, error) {
	a := &Adapter{
		BaseAdapter: mcpcan.NewBaseAdapter(Name, cfg),
		sim:         mcp2515test.New(),
		interval:    DefaultInterval,
	}
	a.sim.NoLog = true
	a.sim.BusKbps = DefaultBusKbps
	if cfg.OscMHz != 0 {
		a.sim.OscMHz = cfg.OscMHz
	}
	if v, ok := cfg.AdditionalConfig["bus_kbps"]; ok {
		kbps, err := strconv.Atoi(v)
		if err != nil || kbps < 0 {
			return nil, fmt.Errorf("invalid bus_kbps %q", v)
		}
		a.sim.BusKbps = kbps
	}
	if v, ok := cfg.AdditionalConfig["interval"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid interval %q", v)
		}
		a.interval = d
	}
	a.polled = cfg.AdditionalConfig["irq"] == "polled"
	return a, nil
}

func (a *Adapter) Open(ctx context.Context) error {
	a.wg.Add(1)
	go a.broadcast()
	a.Message(fmt.Sprintf("simulated bus at %d kbps, osc %d MHz", a.sim.BusKbps, a.sim.OscMHz))
	return nil
}

// broadcast plays an engine ECU sending rpm and coolant temperature.
func (a *Adapter) broadcast() {
	defer a.wg.Done()
	t := time.NewTicker(a.interval)
	defer t.Stop()
	var counter uint16
	for {
		select {
		case <-a.Done():
			return
		case <-t.C:
			counter++
			rpm := 800 + counter%3000
			a.sim.SetTraffic(frame.New(0x1A0, []byte{
				byte(rpm >> 8), byte(rpm),
				byte(80 + counter%20),
				byte(counter),
			}))
			a.sim.Advance(a.interval)
		}
	}
}

// Sim exposes the controller model.
func (a *Adapter) Sim() *mcp2515test.Sim {
	return a.sim
}

func (a *Adapter) Conn() mcpcan.Conn {
	return a.sim
}

func (a *Adapter) Interrupt() mcpcan.InterruptLine {
	if a.polled {
		return nil
	}
	return a.sim
}

func (a *Adapter) Close() error {
	a.BaseAdapter.Close()
	a.wg.Wait()
	return nil
}
