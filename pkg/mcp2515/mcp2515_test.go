package mcp2515_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/roffe/mcpcan/pkg/bittiming"
	"github.com/roffe/mcpcan/pkg/frame"
	"github.com/roffe/mcpcan/pkg/mcp2515"
	"github.com/roffe/mcpcan/pkg/mcp2515/mcp2515test"
)

func noSleep(time.Duration) {}

func newDevice(t *testing.T, opts ...mcp2515.Opt) (*mcp2515.Device, *mcp2515test.Sim) {
	t.Helper()
	sim := mcp2515test.New()
	opts = append([]mcp2515.Opt{mcp2515.OptSleep(noSleep), mcp2515.OptLogger(t.Logf)}, opts...)
	return mcp2515.New(sim, sim, opts...), sim
}

func TestModifyBitsPreservesUnmasked(t *testing.T) {
	tests := []struct {
		name        string
		initial     byte
		mask, value byte
		want        byte
	}{
		{"set low nibble", 0xA0, 0x0F, 0xFF, 0xAF},
		{"clear high nibble", 0xFF, 0xF0, 0x00, 0x0F},
		{"value outside mask ignored", 0x00, 0x01, 0xFE, 0x00},
		{"empty mask", 0x5A, 0x00, 0xFF, 0x5A},
		{"full mask", 0x5A, 0xFF, 0xA5, 0xA5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, sim := newDevice(t)
			sim.SetRegister(mcp2515.CANINTE, tt.initial)
			if err := d.ModifyBits(mcp2515.CANINTE, tt.mask, tt.value); err != nil {
				t.Fatal(err)
			}
			if got := sim.Register(mcp2515.CANINTE); got != tt.want {
				t.Errorf("CANINTE = %08b, want %08b", got, tt.want)
			}
		})
	}
}

func TestSetMode(t *testing.T) {
	d, sim := newDevice(t)
	for _, m := range []mcp2515.Mode{mcp2515.ModeLoopback, mcp2515.ModeListenOnly, mcp2515.ModeNormal, mcp2515.ModeConfig} {
		ok, err := d.SetMode(m)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("SetMode(%s) not confirmed", m)
		}
		if got, _ := d.Mode(); got != m {
			t.Errorf("Mode() = %s, want %s", got, m)
		}
	}

	sim.FreezeMode = true
	ok, err := d.SetMode(mcp2515.ModeNormal)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("SetMode returned true with CANSTAT stuck in config mode")
	}
}

func TestInitFixedSpeed(t *testing.T) {
	d, sim := newDevice(t)
	kbps, err := d.Init(500, 16)
	if err != nil {
		t.Fatal(err)
	}
	if kbps != 500 {
		t.Errorf("Init() = %d, want 500", kbps)
	}
	want := map[mcp2515.Register]byte{
		mcp2515.CNF1:      0x00,
		mcp2515.CNF2:      0xA4,
		mcp2515.CNF3:      0x84,
		mcp2515.TXRTSCTRL: 0x00,
		mcp2515.CANINTE:   0xFF,
	}
	for reg, v := range want {
		if got := sim.Register(reg); got != v {
			t.Errorf("%s = 0x%02X, want 0x%02X", reg, got, v)
		}
	}
	if m, _ := d.Mode(); m != mcp2515.ModeNormal {
		t.Errorf("mode = %s, want normal", m)
	}
}

func TestInitErrors(t *testing.T) {
	t.Run("infeasible touches nothing", func(t *testing.T) {
		d, sim := newDevice(t)
		kbps, err := d.Init(333, 16)
		if !errors.Is(err, bittiming.ErrTimingInfeasible) {
			t.Fatalf("err = %v, want ErrTimingInfeasible", err)
		}
		if kbps != 0 {
			t.Errorf("kbps = %d, want 0", kbps)
		}
		if n := len(sim.Transactions()); n != 0 {
			t.Errorf("%d transactions issued for infeasible speed", n)
		}
	})
	t.Run("mode not confirmed", func(t *testing.T) {
		d, sim := newDevice(t)
		sim.FreezeMode = true
		kbps, err := d.Init(500, 16)
		if !errors.Is(err, mcp2515.ErrModeChangeFailed) {
			t.Fatalf("err = %v, want ErrModeChangeFailed", err)
		}
		if kbps != 0 {
			t.Errorf("kbps = %d, want 0", kbps)
		}
	})
	t.Run("link failure", func(t *testing.T) {
		boom := errors.New("boom")
		d := mcp2515.New(failConn{boom}, nil, mcp2515.OptSleep(noSleep))
		if _, err := d.Init(500, 16); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want wrapped link error", err)
		}
	})
}

type failConn struct{ err error }

func (f failConn) Tx(w, r []byte) error { return f.err }

func TestAutoBaudSilentBus(t *testing.T) {
	const window = 500 * time.Millisecond
	var slept time.Duration
	var calls int
	sim := mcp2515test.New()
	d := mcp2515.New(sim, sim,
		mcp2515.OptSettleDelay(0),
		mcp2515.OptObservationWindow(window),
		mcp2515.OptSleep(func(d time.Duration) { slept += d }),
		mcp2515.OptProgress(func(kbps, n, total int) { calls++ }),
	)
	kbps, err := d.Init(mcp2515.AutoBaud, 16)
	if !errors.Is(err, mcp2515.ErrAutoBaudExhausted) {
		t.Fatalf("err = %v, want ErrAutoBaudExhausted", err)
	}
	if kbps != 0 {
		t.Errorf("kbps = %d, want 0", kbps)
	}

	candidates := bittiming.Candidates(mcp2515.DefaultSweepFrom, mcp2515.DefaultSweepTo, mcp2515.DefaultSweepStep)
	feasible := 0
	for _, c := range candidates {
		if _, err := bittiming.Calculate(c, 16, 1); err == nil {
			feasible++
		}
	}
	if feasible == 0 {
		t.Fatal("no feasible candidates at 16 MHz")
	}
	if limit := time.Duration(feasible) * window; slept > limit {
		t.Errorf("slept %s, want at most %s", slept, limit)
	}
	if calls != len(candidates) {
		t.Errorf("progress called %d times, want %d", calls, len(candidates))
	}
}

func TestAutoBaudDetects(t *testing.T) {
	tests := []struct {
		name string
		bus  int
		osc  int
	}{
		{"125k@16", 125, 16},
		{"500k@16", 500, 16},
		{"250k@8", 250, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := mcp2515test.New()
			sim.OscMHz = tt.osc
			sim.BusKbps = tt.bus
			sim.Traffic = frame.New(0x7E8, []byte{0x02, 0x01, 0x00})
			d := mcp2515.New(sim, sim, mcp2515.OptSleep(sim.Advance), mcp2515.OptLogger(t.Logf))
			kbps, err := d.Init(mcp2515.AutoBaud, tt.osc)
			if err != nil {
				t.Fatal(err)
			}
			if kbps != tt.bus {
				t.Errorf("Init() = %d, want %d", kbps, tt.bus)
			}
			if m, _ := d.Mode(); m != mcp2515.ModeNormal {
				t.Errorf("mode = %s, want normal", m)
			}
		})
	}
}

func TestLoadBufferWireBytes(t *testing.T) {
	d, sim := newDevice(t)
	f := frame.New(0x123, []byte{0xAA, 0xBB})
	if err := d.LoadBuffer(mcp2515.TXB0, f); err != nil {
		t.Fatal(err)
	}
	txs := sim.Transactions()
	if len(txs) != 1 {
		t.Fatalf("%d transactions, want 1", len(txs))
	}
	want := []byte{0x40, 0x24, 0x60, 0x00, 0x00, 0x02, 0xAA, 0xBB}
	if !bytes.Equal(txs[0], want) {
		t.Errorf("wire = % X, want % X", txs[0], want)
	}
	if err := d.LoadBuffer(mcp2515.TXB0, frame.Frame{ID: 0x800}); !errors.Is(err, frame.ErrInvalidID) {
		t.Errorf("err = %v, want ErrInvalidID", err)
	}
}

func TestLoopbackRoundTrip(t *testing.T) {
	d, _ := newDevice(t)
	if _, err := d.Init(500, 16); err != nil {
		t.Fatal(err)
	}
	if err := d.ConfigureReceiveAll(mcp2515.ModeLoopback); err != nil {
		t.Fatal(err)
	}
	frames := []frame.Frame{
		frame.New(0x123, []byte{0xAA, 0xBB}),
		frame.NewExtended(0x18DAF110, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
		frame.NewRemote(0x7DF, 3, false),
	}
	for _, f := range frames {
		if _, err := d.Send(f); err != nil {
			t.Fatal(err)
		}
		pending, err := d.InterruptPending()
		if err != nil {
			t.Fatal(err)
		}
		if !pending {
			t.Fatal("no interrupt after loopback send")
		}
		got, ok, err := d.Receive()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("Receive() found nothing")
		}
		if got.ID != f.ID || got.Extended != f.Extended || got.RTR != f.RTR || got.Len != f.Len {
			t.Errorf("got %s, want %s", got, f)
		}
		if !f.RTR && !bytes.Equal(got.Payload(), f.Payload()) {
			t.Errorf("payload % X, want % X", got.Payload(), f.Payload())
		}
	}
	if _, ok, err := d.Receive(); err != nil || ok {
		t.Errorf("Receive() on empty buffers = %t, %v", ok, err)
	}
}

func TestSendBusy(t *testing.T) {
	d, sim := newDevice(t)
	if err := d.ConfigureReceiveAll(mcp2515.ModeListenOnly); err != nil {
		t.Fatal(err)
	}
	for i := mcp2515.TXB0; i < mcp2515.NumTxBuffers; i++ {
		b, err := d.Send(frame.New(0x100+uint32(i), nil))
		if err != nil {
			t.Fatal(err)
		}
		if b != i {
			t.Errorf("Send() used %d, want %d", b, i)
		}
	}
	if _, err := d.Send(frame.New(0x200, nil)); !errors.Is(err, mcp2515.ErrTxBusy) {
		t.Errorf("err = %v, want ErrTxBusy", err)
	}
	if len(sim.Sent()) != 0 {
		t.Error("listen-only controller transmitted")
	}
	if ok, _ := d.SetMode(mcp2515.ModeNormal); !ok {
		t.Fatal("normal mode not confirmed")
	}
	if n := len(sim.Sent()); n != 3 {
		t.Errorf("sent %d frames after entering normal mode, want 3", n)
	}
}

func TestConfigureReceiveAll(t *testing.T) {
	d, sim := newDevice(t)
	sim.SetRegister(mcp2515.CANINTF, 0xFF)
	if err := d.ConfigureReceiveAll(mcp2515.ModeListenOnly); err != nil {
		t.Fatal(err)
	}
	want := map[mcp2515.Register]byte{
		mcp2515.RXB0CTRL: 0x64,
		mcp2515.RXB1CTRL: 0x60,
		mcp2515.CANINTE:  0x03,
		mcp2515.CANINTF:  0x00,
	}
	for reg, v := range want {
		if got := sim.Register(reg); got != v {
			t.Errorf("%s = 0x%02X, want 0x%02X", reg, got, v)
		}
	}
	if m, _ := d.Mode(); m != mcp2515.ModeListenOnly {
		t.Errorf("mode = %s, want listen-only", m)
	}
}

func TestPolledInterrupt(t *testing.T) {
	sim := mcp2515test.New()
	line := mcp2515.PolledInterrupt(sim)
	tests := []struct {
		name       string
		inte, intf byte
		want       bool
	}{
		{"idle", 0xFF, 0x00, true},
		{"enabled flag", 0x01, 0x01, false},
		{"masked flag", 0x02, 0x01, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim.SetRegister(mcp2515.CANINTE, tt.inte)
			sim.SetRegister(mcp2515.CANINTF, tt.intf)
			got, err := line.Get()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Get() = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestErrorCountersAndDump(t *testing.T) {
	d, sim := newDevice(t)
	sim.SetRegister(mcp2515.TEC, 0x80)
	sim.SetRegister(mcp2515.REC, 0x07)
	sim.SetRegister(mcp2515.EFLG, mcp2515.TXEP|mcp2515.EWARN)
	tec, rec, err := d.ErrorCounters()
	if err != nil {
		t.Fatal(err)
	}
	if tec != 0x80 || rec != 0x07 {
		t.Errorf("ErrorCounters() = %d, %d", tec, rec)
	}
	if fl, _ := d.ErrorFlags(); fl != mcp2515.TXEP|mcp2515.EWARN {
		t.Errorf("ErrorFlags() = %08b", fl)
	}
	regs, err := d.Dump()
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range regs {
		if r.Register == mcp2515.CANSTAT && r.Value != 0x80 {
			t.Errorf("CANSTAT after reset = 0x%02X", r.Value)
		}
	}
}

func TestCommandWireBytes(t *testing.T) {
	zeros := func(n int) []byte { return make([]byte, n) }
	tests := []struct {
		name string
		op   func(d *mcp2515.Device) error
		want []byte
	}{
		{"reset", func(d *mcp2515.Device) error { return d.Reset() }, []byte{0xC0}},
		{"read register", func(d *mcp2515.Device) error {
			_, err := d.ReadRegister(mcp2515.CANSTAT)
			return err
		}, []byte{0x03, 0x0E, 0x00}},
		{"read sequential", func(d *mcp2515.Device) error {
			_, err := d.ReadRegisters(mcp2515.CNF3, 3)
			return err
		}, []byte{0x03, 0x28, 0x00, 0x00, 0x00}},
		{"write register", func(d *mcp2515.Device) error {
			return d.WriteRegister(mcp2515.CANINTE, 0xFF)
		}, []byte{0x02, 0x2B, 0xFF}},
		{"write sequential", func(d *mcp2515.Device) error {
			return d.WriteRegisters(mcp2515.CNF3, []byte{0x84, 0xA4, 0x00})
		}, []byte{0x02, 0x28, 0x84, 0xA4, 0x00}},
		{"bit modify", func(d *mcp2515.Device) error {
			return d.ModifyBits(mcp2515.CANCTRL, 0xE0, 0x40)
		}, []byte{0x05, 0x0F, 0xE0, 0x40}},
		{"rts all", func(d *mcp2515.Device) error { return d.RequestSend(mcp2515.TXBAll) }, []byte{0x87}},
		{"rts txb1", func(d *mcp2515.Device) error { return d.RequestSend(mcp2515.TXB1.Mask()) }, []byte{0x82}},
		{"rts txb2", func(d *mcp2515.Device) error { return d.RequestSend(mcp2515.TXB2Mask) }, []byte{0x84}},
		{"read status", func(d *mcp2515.Device) error {
			_, err := d.Status()
			return err
		}, []byte{0xA0, 0x00}},
		{"rx status", func(d *mcp2515.Device) error {
			_, err := d.RxStatus()
			return err
		}, []byte{0xB0, 0x00}},
		{"read rxb0", func(d *mcp2515.Device) error {
			_, err := d.ReadBuffer(mcp2515.RXB0)
			return err
		}, append([]byte{0x90}, zeros(13)...)},
		{"read rxb1", func(d *mcp2515.Device) error {
			_, err := d.ReadBuffer(mcp2515.RXB1)
			return err
		}, append([]byte{0x94}, zeros(13)...)},
		{"load txb2", func(d *mcp2515.Device) error {
			return d.LoadBuffer(mcp2515.TXB2, frame.New(0x7FF, nil))
		}, []byte{0x44, 0xFF, 0xE0, 0x00, 0x00, 0x00}},
		{"load txb1 extended", func(d *mcp2515.Device) error {
			return d.LoadBuffer(mcp2515.TXB1, frame.NewExtended(0x1FFFFFFF, []byte{0x3E}))
		}, []byte{0x42, 0xFF, 0xEB, 0xFF, 0xFF, 0x01, 0x3E}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, sim := newDevice(t)
			if err := tt.op(d); err != nil {
				t.Fatal(err)
			}
			txs := sim.Transactions()
			if len(txs) != 1 {
				t.Fatalf("%d transactions, want 1", len(txs))
			}
			if !bytes.Equal(txs[0], tt.want) {
				t.Errorf("wire = % X, want % X", txs[0], tt.want)
			}
		})
	}
}

func TestReceiveDrainsBothBuffers(t *testing.T) {
	d, sim := newDevice(t)
	if err := d.ConfigureReceiveAll(mcp2515.ModeListenOnly); err != nil {
		t.Fatal(err)
	}
	first := frame.New(0x100, []byte{0x01})
	second := frame.NewExtended(0x01ABCDEF, []byte{0x02, 0x03})
	if !sim.Inject(first) || !sim.Inject(second) {
		t.Fatal("controller ignored injected frames")
	}
	sim.ClearTransactions()
	for _, want := range []frame.Frame{first, second} {
		got, ok, err := d.Receive()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("Receive() found nothing, want %s", want)
		}
		if got.ID != want.ID || got.Extended != want.Extended || !bytes.Equal(got.Payload(), want.Payload()) {
			t.Errorf("got %s, want %s", got, want)
		}
	}
	if _, ok, err := d.Receive(); err != nil || ok {
		t.Errorf("Receive() on empty buffers = %t, %v", ok, err)
	}
	txs := sim.Transactions()
	if len(txs) != 5 {
		t.Fatalf("%d transactions, want 5", len(txs))
	}
	for i, cmd := range []byte{0xB0, 0x90, 0xB0, 0x94, 0xB0} {
		if txs[i][0] != cmd {
			t.Errorf("transaction %d command 0x%02X, want 0x%02X", i, txs[i][0], cmd)
		}
	}
}
