package mcp2515

import (
	"errors"
	"fmt"

	"github.com/roffe/mcpcan/pkg/bittiming"
)

// AutoBaud passed as speed to Init starts bus speed detection.
const AutoBaud = 0

// Init configures the controller for kbps on an oscMHz oscillator with a
// synchronization jump width of 1 and returns the speed set.
//
// With kbps == AutoBaud the candidate speeds are swept in listen-only mode until
// error free traffic is seen. This needs at least two other active nodes on the
// bus and blocks for up to one observation window per feasible candidate.
func (d *Device) Init(kbps, oscMHz int) (int, error) {
	return d.InitSJW(kbps, oscMHz, 1)
}

// InitSJW is Init with an explicit synchronization jump width, clamped to 1..4.
func (d *Device) InitSJW(kbps, oscMHz, sjw int) (int, error) {
	if kbps == AutoBaud {
		return d.autoBaud(oscMHz, sjw)
	}
	if err := d.configure(kbps, oscMHz, sjw, ModeNormal); err != nil {
		return 0, err
	}
	return kbps, nil
}

// configure resets the controller, programs the bit timing and enters mode.
// No register is touched when the timing is infeasible.
func (d *Device) configure(kbps, oscMHz, sjw int, mode Mode) error {
	timing, err := bittiming.Calculate(kbps, oscMHz, sjw)
	if err != nil {
		return err
	}
	if err := d.Reset(); err != nil {
		return err
	}
	cnf1, cnf2, cnf3 := timing.Registers()
	if err := d.WriteRegisters(CNF3, []byte{cnf3, cnf2, cnf1}); err != nil {
		return err
	}
	if err := d.WriteRegister(TXRTSCTRL, 0); err != nil {
		return err
	}
	ok, err := d.SetMode(mode)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrModeChangeFailed, mode)
	}
	if err := d.WriteRegister(CANINTE, 0xFF); err != nil {
		return err
	}
	got, err := d.ReadRegister(CNF1)
	if err != nil {
		return err
	}
	if got != cnf1 {
		return fmt.Errorf("%w: CNF1 0x%02X, wrote 0x%02X", ErrVerifyFailed, got, cnf1)
	}
	d.logf("configured %s, %s", timing, mode)
	return nil
}

// skippable reports whether a candidate failed for a reason local to that
// candidate rather than a broken link.
func skippable(err error) bool {
	return errors.Is(err, bittiming.ErrTimingInfeasible) ||
		errors.Is(err, ErrModeChangeFailed) ||
		errors.Is(err, ErrVerifyFailed)
}

func (d *Device) autoBaud(oscMHz, sjw int) (int, error) {
	candidates := bittiming.Candidates(d.sweepFrom, d.sweepTo, d.sweepStep)
	for i, kbps := range candidates {
		d.progress(kbps, i+1, len(candidates))
		if err := d.configure(kbps, oscMHz, sjw, ModeListenOnly); err != nil {
			if skippable(err) {
				continue
			}
			return 0, err
		}
		if err := d.WriteRegister(CANINTF, 0); err != nil {
			return 0, err
		}
		d.sleep(d.window)

		pending, err := d.InterruptPending()
		if err != nil {
			return 0, err
		}
		if !pending {
			continue
		}
		flags, err := d.ReadRegister(CANINTF)
		if err != nil {
			return 0, err
		}
		if flags&MERRF != 0 {
			d.logf("%d kbps: message errors (CANINTF %08b)", kbps, flags)
			continue
		}
		ok, err := d.SetMode(ModeNormal)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: normal mode after detecting %d kbps", ErrModeChangeFailed, kbps)
		}
		d.logf("auto-baud detected %d kbps", kbps)
		return kbps, nil
	}
	return 0, fmt.Errorf("%w: tried %d-%d kbps @ %d MHz", ErrAutoBaudExhausted, d.sweepFrom, d.sweepTo, oscMHz)
}

// ConfigureReceiveAll turns masks and filters off for both receive buffers,
// enables rollover from RXB0 to RXB1, enables only the receive interrupts,
// clears pending flags and leaves the controller in mode.
func (d *Device) ConfigureReceiveAll(mode Mode) error {
	ok, err := d.SetMode(ModeConfig)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrModeChangeFailed, ModeConfig)
	}
	if err := d.WriteRegister(RXB0CTRL, RXMAny|BUKT); err != nil {
		return err
	}
	if err := d.WriteRegister(RXB1CTRL, RXMAny); err != nil {
		return err
	}
	if err := d.ModifyBits(CANINTE, 0xFF, RX0IF|RX1IF); err != nil {
		return err
	}
	if err := d.ModifyBits(CANINTF, 0xFF, 0); err != nil {
		return err
	}
	ok, err = d.SetMode(mode)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrModeChangeFailed, mode)
	}
	return nil
}
