// Package bittiming derives MCP2515 bit timing (CNF1..CNF3) for a requested bus
// speed and oscillator frequency.
//
// Only exact solutions are accepted: the bit time must be an integer number of
// time quanta, no closest fit is ever chosen. Speeds needing fractional quanta are
// rejected with ErrTimingInfeasible.
package bittiming

import (
	"errors"
	"fmt"
)

const (
	MaxBRP    = 7
	MaxQuanta = 25
	MinSJW    = 1
	MaxSJW    = 4

	// sample point at 70% of the bit time
	samplePointNum = 7
	samplePointDen = 10

	cnf2BTLMode = 1 << 7
	cnf3SOF     = 1 << 7
)

var ErrTimingInfeasible = errors.New("no valid bit timing for requested speed")

// Config is a validated bit timing solution.
type Config struct {
	Kbps   int
	OscMHz int

	BRP       uint8
	Quanta    uint8 // bit time in time quanta
	PropSeg   uint8
	PhaseSeg1 uint8
	PhaseSeg2 uint8
	SJW       uint8
}

// Calculate returns the timing for kbps on an oscMHz oscillator. sjw is clamped
// into [1,4].
func Calculate(kbps, oscMHz, sjw int) (Config, error) {
	if kbps <= 0 || oscMHz <= 0 {
		return Config{}, fmt.Errorf("%w: %d kbps @ %d MHz", ErrTimingInfeasible, kbps, oscMHz)
	}
	sjw = clampSJW(sjw)

	brp, bt, ok := quantize(kbps, oscMHz)
	if !ok {
		return Config{}, fmt.Errorf("%w: %d kbps @ %d MHz has no integer bit time <= %d quanta", ErrTimingInfeasible, kbps, oscMHz, MaxQuanta)
	}

	spt := bt * samplePointNum / samplePointDen
	prseg := floorDiv(spt-1, 2)
	phseg1 := spt - prseg - 1
	phseg2 := bt - phseg1 - prseg - 1

	if prseg < 1 || phseg1 < 1 || phseg2 < 1 {
		return Config{}, fmt.Errorf("%w: %d quanta too short (prseg=%d phseg1=%d phseg2=%d)", ErrTimingInfeasible, bt, prseg, phseg1, phseg2)
	}
	if prseg+phseg1 < phseg2 {
		return Config{}, fmt.Errorf("%w: prseg+phseg1 (%d) < phseg2 (%d)", ErrTimingInfeasible, prseg+phseg1, phseg2)
	}
	if phseg2 <= sjw {
		return Config{}, fmt.Errorf("%w: phseg2 (%d) <= sjw (%d)", ErrTimingInfeasible, phseg2, sjw)
	}

	return Config{
		Kbps:      kbps,
		OscMHz:    oscMHz,
		BRP:       uint8(brp),
		Quanta:    uint8(bt),
		PropSeg:   uint8(prseg),
		PhaseSeg1: uint8(phseg1),
		PhaseSeg2: uint8(phseg2),
		SJW:       uint8(sjw),
	}, nil
}

// quantize finds the first prescaler giving an exact integer bit time of at most
// MaxQuanta. BT = (1000/kbps) / (2*(brp+1)/osc), evaluated in integers.
func quantize(kbps, oscMHz int) (brp, bt int, ok bool) {
	num := 1000 * oscMHz
	for brp = 0; brp <= MaxBRP; brp++ {
		den := 2 * kbps * (brp + 1)
		if num%den != 0 {
			continue
		}
		if q := num / den; q <= MaxQuanta {
			return brp, q, true
		}
	}
	return 0, 0, false
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func clampSJW(sjw int) int {
	if sjw < MinSJW {
		return MinSJW
	}
	if sjw > MaxSJW {
		return MaxSJW
	}
	return sjw
}

// Registers encodes the configuration into CNF1, CNF2 and CNF3. BTLMODE is set so
// PHSEG2 comes from CNF3, sampling is single shot and SOF is set on CLKOUT.
func (c Config) Registers() (cnf1, cnf2, cnf3 byte) {
	cnf1 = (c.SJW-1)<<6 | c.BRP
	cnf2 = cnf2BTLMode | (c.PhaseSeg1-1)<<3 | (c.PropSeg - 1)
	cnf3 = cnf3SOF | (c.PhaseSeg2 - 1)
	return
}

// SamplePoint returns the sample point position in percent of the bit time.
func (c Config) SamplePoint() float64 {
	if c.Quanta == 0 {
		return 0
	}
	return float64(1+c.PropSeg+c.PhaseSeg1) * 100 / float64(c.Quanta)
}

// TimeQuantum returns the length of one time quantum in nanoseconds.
func (c Config) TimeQuantum() float64 {
	if c.OscMHz == 0 {
		return 0
	}
	return 2 * float64(int(c.BRP)+1) * 1000 / float64(c.OscMHz)
}

func (c Config) String() string {
	cnf1, cnf2, cnf3 := c.Registers()
	return fmt.Sprintf("%d kbps @ %d MHz: BRP=%d BT=%dTQ PRSEG=%d PHSEG1=%d PHSEG2=%d SJW=%d SP=%.1f%% CNF1=0x%02X CNF2=0x%02X CNF3=0x%02X",
		c.Kbps, c.OscMHz, c.BRP, c.Quanta, c.PropSeg, c.PhaseSeg1, c.PhaseSeg2, c.SJW, c.SamplePoint(), cnf1, cnf2, cnf3)
}

// Candidates lists the speeds tried by an auto-baud sweep, from..to inclusive.
func Candidates(from, to, step int) []int {
	if step <= 0 || from <= 0 || to < from {
		return nil
	}
	out := make([]int, 0, (to-from)/step+1)
	for kbps := from; kbps <= to; kbps += step {
		out = append(out, kbps)
	}
	return out
}
