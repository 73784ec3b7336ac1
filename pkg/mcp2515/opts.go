package mcp2515

import "time"

const (
	DefaultSettleDelay       = 10 * time.Millisecond
	DefaultObservationWindow = 500 * time.Millisecond
	DefaultSweepFrom         = 5
	DefaultSweepTo           = 995
	DefaultSweepStep         = 5
)

type Opt func(d *Device)

// OptSettleDelay sets how long SetMode waits before reading CANSTAT back.
func OptSettleDelay(delay time.Duration) Opt {
	return func(d *Device) {
		d.settle = delay
	}
}

// OptObservationWindow sets how long auto-baud listens on each candidate speed.
func OptObservationWindow(window time.Duration) Opt {
	return func(d *Device) {
		d.window = window
	}
}

// OptSweep sets the auto-baud candidate range, from..to inclusive.
func OptSweep(from, to, step int) Opt {
	return func(d *Device) {
		d.sweepFrom, d.sweepTo, d.sweepStep = from, to, step
	}
}

// OptSleep replaces time.Sleep for the settle and observation delays.
func OptSleep(fn func(time.Duration)) Opt {
	return func(d *Device) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

func OptLogger(fn func(format string, v ...interface{})) Opt {
	return func(d *Device) {
		if fn != nil {
			d.logf = fn
		}
	}
}

// OptProgress is called before each auto-baud candidate with its speed and
// position in the sweep.
func OptProgress(fn func(kbps, n, total int)) Opt {
	return func(d *Device) {
		if fn != nil {
			d.progress = fn
		}
	}
}
