package sim

import (
	"context"
	"testing"
	"time"

	"github.com/roffe/mcpcan"
	"github.com/roffe/mcpcan/pkg/mcp2515"
)

func newClient(t *testing.T, cfg *mcpcan.AdapterConfig, opts ...mcpcan.Opt) *mcpcan.Client {
	t.Helper()
	a, err := mcpcan.NewAdapter(Name, cfg)
	if err != nil {
		t.Fatal(err)
	}
	opts = append(opts, mcpcan.OptPollInterval(time.Millisecond))
	c, err := mcpcan.New(context.Background(), a, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name    string
		extra   map[string]string
		wantErr bool
	}{
		{"defaults", nil, false},
		{"silent bus", map[string]string{"bus_kbps": "0"}, false},
		{"bad kbps", map[string]string{"bus_kbps": "fast"}, true},
		{"bad interval", map[string]string{"interval": "-1s"}, true},
		{"polled", map[string]string{"irq": "polled"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&mcpcan.AdapterConfig{AdditionalConfig: tt.extra})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

func TestAutoBaudFindsBus(t *testing.T) {
	for _, irq := range []string{"", "polled"} {
		t.Run("irq="+irq, func(t *testing.T) {
			c := newClient(t, &mcpcan.AdapterConfig{
				OscMHz: 16,
				AdditionalConfig: map[string]string{
					"bus_kbps": "250",
					"interval": "1ms",
					"irq":      irq,
				},
			}, mcpcan.OptDeviceOpts(
				mcp2515.OptObservationWindow(20*time.Millisecond),
				mcp2515.OptSweep(100, 300, 50),
			))
			kbps, err := c.Init(context.Background(), 0, 16, 1)
			if err != nil {
				t.Fatal(err)
			}
			if kbps != 250 {
				t.Errorf("detected %d kbps, want 250", kbps)
			}
		})
	}
}

func TestReceivesBroadcast(t *testing.T) {
	c := newClient(t, &mcpcan.AdapterConfig{
		AdditionalConfig: map[string]string{"interval": "1ms"},
	})
	ctx := context.Background()
	if _, err := c.Init(ctx, DefaultBusKbps, 16, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(ctx, mcp2515.ModeListenOnly); err != nil {
		t.Fatal(err)
	}
	sub := c.Subscribe(ctx, 0x1A0)
	defer sub.Close()
	f, err := sub.Wait(ctx, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != 0x1A0 || f.Len != 4 {
		t.Errorf("got %v", f)
	}
}
