package mcpcan

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/roffe/mcpcan/pkg/frame"
	"github.com/roffe/mcpcan/pkg/mcp2515"
	"github.com/roffe/mcpcan/pkg/mcp2515/mcp2515test"
)

type testAdapter struct {
	*BaseAdapter
	sim       *mcp2515test.Sim
	byteLevel bool
	opened    bool
	closed    bool
}

func newTestAdapter(byteLevel bool) *testAdapter {
	return &testAdapter{
		BaseAdapter: NewBaseAdapter("test", &AdapterConfig{}),
		sim:         mcp2515test.New(),
		byteLevel:   byteLevel,
	}
}

func (a *testAdapter) Open(context.Context) error {
	a.opened = true
	return nil
}

func (a *testAdapter) Close() error {
	a.closed = true
	a.BaseAdapter.Close()
	return nil
}

func (a *testAdapter) Conn() Conn {
	if a.byteLevel {
		return ByteConn(a.sim)
	}
	return a.sim
}

func (a *testAdapter) Interrupt() InterruptLine {
	return a.sim
}

func newTestClient(t *testing.T, adapter *testAdapter, opts ...Opt) *Client {
	t.Helper()
	opts = append([]Opt{
		OptPollInterval(time.Millisecond),
		OptInitAttempts(3, 0),
		OptDeviceOpts(mcp2515.OptSleep(func(time.Duration) {})),
	}, opts...)
	c, err := New(context.Background(), adapter, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewNilAdapter(t *testing.T) {
	if _, err := New(context.Background(), nil); !errors.Is(err, ErrNilAdapter) {
		t.Errorf("err = %v, want ErrNilAdapter", err)
	}
}

func TestClientLoopback(t *testing.T) {
	tests := []struct {
		name      string
		byteLevel bool
	}{
		{"transaction conn", false},
		{"byte conn", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestAdapter(tt.byteLevel)
			c := newTestClient(t, adapter)
			if !adapter.opened {
				t.Fatal("adapter not opened")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			kbps, err := c.Init(ctx, 500, 16, 1)
			if err != nil {
				t.Fatal(err)
			}
			if kbps != 500 || c.Kbps() != 500 {
				t.Errorf("kbps = %d, Kbps() = %d", kbps, c.Kbps())
			}
			sub := c.Subscribe(ctx, 0x123)
			all := c.Subscribe(ctx)
			if err := c.Start(ctx, mcp2515.ModeLoopback); err != nil {
				t.Fatal(err)
			}
			if err := c.SendFrame(0x124, []byte{1}, false); err != nil {
				t.Fatal(err)
			}
			if err := c.SendFrame(0x123, []byte{0xAA, 0xBB}, false); err != nil {
				t.Fatal(err)
			}
			f, err := sub.Wait(ctx, 2*time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if f.ID != 0x123 || f.Len != 2 || f.Data[0] != 0xAA || f.Data[1] != 0xBB {
				t.Errorf("got %s", f)
			}
			for _, want := range []uint32{0x124, 0x123} {
				f, err := all.Wait(ctx, 2*time.Second)
				if err != nil {
					t.Fatal(err)
				}
				if f.ID != want {
					t.Errorf("global subscriber got 0x%03X, want 0x%03X", f.ID, want)
				}
			}
			if st := c.Stats(); st.SentFrames != 2 || st.RecvFrames != 2 {
				t.Errorf("stats = %s", st)
			}
		})
	}
}

func TestClientInitRetries(t *testing.T) {
	adapter := newTestAdapter(false)
	adapter.sim.FreezeMode = true
	c := newTestClient(t, adapter)
	_, err := c.Init(context.Background(), 500, 16, 1)
	if !errors.Is(err, mcp2515.ErrModeChangeFailed) {
		t.Fatalf("err = %v, want ErrModeChangeFailed", err)
	}
	resets := 0
	for _, tx := range adapter.sim.Transactions() {
		if tx[0] == mcp2515.CmdReset {
			resets++
		}
	}
	if resets != 3 {
		t.Errorf("%d init attempts, want 3", resets)
	}
}

func TestClientInitInfeasibleNotRetried(t *testing.T) {
	adapter := newTestAdapter(false)
	c := newTestClient(t, adapter)
	if _, err := c.Init(context.Background(), 333, 16, 1); err == nil {
		t.Fatal("expected error")
	}
	if n := len(adapter.sim.Transactions()); n != 0 {
		t.Errorf("%d transactions for infeasible speed", n)
	}
}

func TestClientDrainOverflow(t *testing.T) {
	adapter := newTestAdapter(false)
	c := newTestClient(t, adapter, OptPollInterval(time.Hour))
	ctx := context.Background()
	if _, err := c.Init(ctx, 500, 16, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(ctx, mcp2515.ModeListenOnly); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if !adapter.sim.Inject(frame.New(0x100+uint32(i), []byte{byte(i)})) {
			t.Fatal("frame not received")
		}
	}
	frames, err := c.drain()
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 || frames[0].ID != 0x100 || frames[1].ID != 0x101 {
		t.Fatalf("drained %v", frames)
	}
	if st := c.Stats(); st.DroppedFrames != 1 {
		t.Errorf("dropped = %d, want 1", st.DroppedFrames)
	}
	if v := adapter.sim.Register(mcp2515.EFLG); v != 0 {
		t.Errorf("EFLG = %08b, want cleared", v)
	}
	if v := adapter.sim.Register(mcp2515.CANINTF); v != 0 {
		t.Errorf("CANINTF = %08b, want cleared", v)
	}
	found := false
	for len(c.Event()) > 0 {
		e := <-c.Event()
		if e.Type == EventTypeWarning && strings.Contains(e.Details, "overflow") {
			found = true
		}
	}
	if !found {
		t.Error("no overflow warning event")
	}
}

func TestClientSendBeforeInit(t *testing.T) {
	adapter := newTestAdapter(false)
	c := newTestClient(t, adapter)
	if err := c.SendFrame(0x100, []byte{1}, false); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
	if n := len(adapter.sim.Sent()); n != 0 {
		t.Errorf("%d frames reached the controller", n)
	}
}

func TestClientClose(t *testing.T) {
	adapter := newTestAdapter(false)
	c := newTestClient(t, adapter)
	sub := c.Subscribe(context.Background())
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if !adapter.closed {
		t.Error("adapter not closed")
	}
	if err := c.Send(frame.New(1, nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	select {
	case _, ok := <-sub.Chan():
		if ok {
			t.Error("unexpected frame")
		}
	case <-time.After(time.Second):
		t.Error("subscriber not closed")
	}
}

func TestClientForwardsAdapterEvents(t *testing.T) {
	adapter := newTestAdapter(false)
	c := newTestClient(t, adapter)
	adapter.Info("hello")
	select {
	case e := <-c.Event():
		if e.Type != EventTypeInfo || e.Details != "test: hello" {
			t.Errorf("event = %s", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}
