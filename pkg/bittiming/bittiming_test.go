package bittiming

import (
	"errors"
	"testing"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name                     string
		kbps, osc, sjw           int
		brp, bt, prseg, ph1, ph2 uint8
		cnf1, cnf2, cnf3         byte
	}{
		{name: "500k@16MHz", kbps: 500, osc: 16, sjw: 1, brp: 0, bt: 16, prseg: 5, ph1: 5, ph2: 5, cnf1: 0x00, cnf2: 0xA4, cnf3: 0x84},
		{name: "250k@16MHz", kbps: 250, osc: 16, sjw: 1, brp: 1, bt: 16, prseg: 5, ph1: 5, ph2: 5, cnf1: 0x01, cnf2: 0xA4, cnf3: 0x84},
		{name: "125k@16MHz", kbps: 125, osc: 16, sjw: 1, brp: 3, bt: 16, prseg: 5, ph1: 5, ph2: 5, cnf1: 0x03, cnf2: 0xA4, cnf3: 0x84},
		{name: "1000k@16MHz", kbps: 1000, osc: 16, sjw: 1, brp: 0, bt: 8, prseg: 2, ph1: 2, ph2: 3, cnf1: 0x00, cnf2: 0x89, cnf3: 0x82},
		{name: "500k@8MHz", kbps: 500, osc: 8, sjw: 1, brp: 0, bt: 8, prseg: 2, ph1: 2, ph2: 3, cnf1: 0x00, cnf2: 0x89, cnf3: 0x82},
		{name: "500k@16MHz sjw4", kbps: 500, osc: 16, sjw: 4, brp: 0, bt: 16, prseg: 5, ph1: 5, ph2: 5, cnf1: 0xC0, cnf2: 0xA4, cnf3: 0x84},
		{name: "500k@16MHz sjw clamped low", kbps: 500, osc: 16, sjw: 0, brp: 0, bt: 16, prseg: 5, ph1: 5, ph2: 5, cnf1: 0x00, cnf2: 0xA4, cnf3: 0x84},
		{name: "100k@20MHz", kbps: 100, osc: 20, sjw: 1, brp: 3, bt: 25, prseg: 8, ph1: 8, ph2: 8, cnf1: 0x03, cnf2: 0xBF, cnf3: 0x87},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Calculate(tt.kbps, tt.osc, tt.sjw)
			if err != nil {
				t.Fatalf("Calculate() error = %v", err)
			}
			if c.BRP != tt.brp || c.Quanta != tt.bt || c.PropSeg != tt.prseg || c.PhaseSeg1 != tt.ph1 || c.PhaseSeg2 != tt.ph2 {
				t.Fatalf("Calculate() = %+v", c)
			}
			cnf1, cnf2, cnf3 := c.Registers()
			if cnf1 != tt.cnf1 || cnf2 != tt.cnf2 || cnf3 != tt.cnf3 {
				t.Fatalf("Registers() = %02X %02X %02X, want %02X %02X %02X", cnf1, cnf2, cnf3, tt.cnf1, tt.cnf2, tt.cnf3)
			}
		})
	}
}

func TestCalculateRejects(t *testing.T) {
	tests := []struct {
		name           string
		kbps, osc, sjw int
	}{
		{name: "zero speed", kbps: 0, osc: 16, sjw: 1},
		{name: "negative osc", kbps: 500, osc: -1, sjw: 1},
		{name: "fractional quanta", kbps: 333, osc: 16, sjw: 1},
		{name: "too few quanta", kbps: 1000, osc: 8, sjw: 1},
		{name: "phseg2 not above sjw", kbps: 1000, osc: 16, sjw: 3},
		{name: "too slow for prescaler", kbps: 5, osc: 16, sjw: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Calculate(tt.kbps, tt.osc, tt.sjw)
			if !errors.Is(err, ErrTimingInfeasible) {
				t.Fatalf("Calculate() = %+v, %v, want ErrTimingInfeasible", c, err)
			}
		})
	}
}

// Every accepted solution must satisfy the programming requirements and
// reproduce the requested bit time exactly.
func TestCalculateInvariants(t *testing.T) {
	accepted := 0
	for _, osc := range []int{4, 8, 10, 12, 16, 20, 25, 40} {
		for kbps := 1; kbps <= 1000; kbps++ {
			for sjw := 1; sjw <= 4; sjw++ {
				c, err := Calculate(kbps, osc, sjw)
				if err != nil {
					if !errors.Is(err, ErrTimingInfeasible) {
						t.Fatalf("%d@%d: unexpected error %v", kbps, osc, err)
					}
					continue
				}
				accepted++
				if c.PropSeg+c.PhaseSeg1 < c.PhaseSeg2 {
					t.Errorf("%v: prseg+phseg1 < phseg2", c)
				}
				if c.PhaseSeg2 <= c.SJW {
					t.Errorf("%v: phseg2 <= sjw", c)
				}
				if c.BRP > MaxBRP || c.Quanta > MaxQuanta {
					t.Errorf("%v: out of range", c)
				}
				if int(c.Quanta) != 1+int(c.PropSeg)+int(c.PhaseSeg1)+int(c.PhaseSeg2) {
					t.Errorf("%v: segments do not add up", c)
				}
				// bit time in ns must equal quanta * tq exactly
				if got := int(c.Quanta) * 2 * (int(c.BRP) + 1) * kbps; got != 1000*osc {
					t.Errorf("%v: inexact quantisation", c)
				}
			}
		}
	}
	if accepted == 0 {
		t.Fatal("no solutions accepted")
	}
}

func TestSamplePoint(t *testing.T) {
	c, err := Calculate(500, 16, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sp := c.SamplePoint(); sp != 68.75 {
		t.Fatalf("SamplePoint() = %v, want 68.75", sp)
	}
	if tq := c.TimeQuantum(); tq != 125 {
		t.Fatalf("TimeQuantum() = %v, want 125", tq)
	}
}

func TestCandidates(t *testing.T) {
	c := Candidates(5, 995, 5)
	if len(c) != 199 || c[0] != 5 || c[len(c)-1] != 995 {
		t.Fatalf("Candidates() = len %d [%d..%d]", len(c), c[0], c[len(c)-1])
	}
	if Candidates(5, 10, 0) != nil {
		t.Fatal("zero step should give nil")
	}
}
