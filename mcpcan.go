// Package mcpcan connects MCP2515 CAN controllers to host SPI adapters.
//
// A Client owns one adapter and one mcp2515.Device. It serialises every driver
// call behind a mutex, polls the interrupt line to drain the receive buffers,
// and fans received frames out to subscribers.
package mcpcan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/mcpcan/pkg/frame"
	"github.com/roffe/mcpcan/pkg/mcp2515"
)

const (
	DefaultPollInterval = 2 * time.Millisecond
	DefaultInitAttempts = 3

	// drainLimit bounds the frames read per poll so Send is not starved.
	drainLimit = 16
)

type Client struct {
	eventQueue
	adapter Adapter
	dev     *mcp2515.Device
	mu      sync.Mutex

	h        *handler
	recvChan chan frame.Frame
	stats    counters

	pollInterval time.Duration
	attempts     uint
	retryDelay   time.Duration
	devOpts      []mcp2515.Opt

	started   bool
	kbps      int
	closeOnce sync.Once
	closeChan chan struct{}
	wg        sync.WaitGroup
}

type Opt func(*Client)

func OptPollInterval(d time.Duration) Opt {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// OptInitAttempts sets how often Init is tried when the controller does not
// confirm its configuration.
func OptInitAttempts(n uint, delay time.Duration) Opt {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
		c.retryDelay = delay
	}
}

// OptDeviceOpts is passed on to mcp2515.New.
func OptDeviceOpts(opts ...mcp2515.Opt) Opt {
	return func(c *Client) {
		c.devOpts = append(c.devOpts, opts...)
	}
}

// New opens adapter and attaches a controller to it. The controller is not
// touched until Init.
func New(ctx context.Context, adapter Adapter, opts ...Opt) (*Client, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	c := &Client{
		eventQueue:   newEventQueue(100),
		adapter:      adapter,
		recvChan:     make(chan frame.Frame, 1024),
		pollInterval: DefaultPollInterval,
		attempts:     DefaultInitAttempts,
		retryDelay:   100 * time.Millisecond,
		closeChan:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if err := adapter.Open(ctx); err != nil {
		return nil, fmt.Errorf("open %s: %w", adapter.Name(), err)
	}
	c.dev = mcp2515.New(adapter.Conn(), adapter.Interrupt(), c.devOpts...)
	c.h = newHandler(c.recvChan)
	go c.h.run(ctx)
	go c.forwardEvents()
	return c, nil
}

func (c *Client) forwardEvents() {
	events := c.adapter.Event()
	for {
		select {
		case <-c.closeChan:
			return
		case e := <-events:
			c.sendEvent(e.Type, fmt.Sprintf("%s: %s", c.adapter.Name(), e.Details))
		}
	}
}

func retryable(err error) bool {
	return IsRecoverable(err) &&
		(errors.Is(err, mcp2515.ErrModeChangeFailed) || errors.Is(err, mcp2515.ErrVerifyFailed))
}

// Init configures the controller bit timing, see mcp2515.Device.InitSJW.
// Unconfirmed mode changes and readback mismatches are retried.
func (c *Client) Init(ctx context.Context, kbps, oscMHz, sjw int) (int, error) {
	var speed int
	err := retry.Do(
		func() error {
			c.mu.Lock()
			defer c.mu.Unlock()
			got, err := c.dev.InitSJW(kbps, oscMHz, sjw)
			if err != nil {
				return err
			}
			speed = got
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.Warn(fmt.Sprintf("init attempt %d: %v", n+1, err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.kbps = speed
	c.mu.Unlock()
	c.Info(fmt.Sprintf("controller running at %d kbps", speed))
	return speed, nil
}

// Start opens the receive path in mode and begins polling.
func (c *Client) Start(ctx context.Context, mode mcp2515.Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	if err := c.dev.ConfigureReceiveAll(mode); err != nil {
		return err
	}
	// receive errors and overflows also raise INT
	if err := c.dev.ModifyBits(mcp2515.CANINTE, mcp2515.ERRIF, mcp2515.ERRIF); err != nil {
		return err
	}
	c.started = true
	c.wg.Add(1)
	go c.poll(ctx)
	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closeChan:
		return true
	default:
		return false
	}
}

func (c *Client) poll(ctx context.Context) {
	defer c.wg.Done()
	t := time.NewTicker(c.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case <-t.C:
		}
		frames, err := c.drain()
		for _, f := range frames {
			select {
			case c.recvChan <- f:
				atomic.AddUint64(&c.stats.recv, 1)
			default:
				atomic.AddUint64(&c.stats.dropped, 1)
				c.Warn(fmt.Sprintf("%v: 0x%03X", ErrDroppedFrame, f.ID))
			}
		}
		if err != nil {
			atomic.AddUint64(&c.stats.errors, 1)
			c.Error(err)
			if !IsRecoverable(err) {
				return
			}
		}
	}
}

// drain reads frames while the interrupt line is asserted.
func (c *Client) drain() ([]frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []frame.Frame
	for i := 0; i < drainLimit; i++ {
		pending, err := c.dev.InterruptPending()
		if err != nil || !pending {
			return out, err
		}
		f, ok, err := c.dev.Receive()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, c.handleErrorFlags()
		}
		out = append(out, f)
	}
	return out, nil
}

// handleErrorFlags reports and clears the non receive interrupt causes.
func (c *Client) handleErrorFlags() error {
	flags, err := c.dev.ReadRegister(mcp2515.CANINTF)
	if err != nil {
		return err
	}
	eflg, err := c.dev.ErrorFlags()
	if err != nil {
		return err
	}
	if ovr := eflg & (mcp2515.RX0OVR | mcp2515.RX1OVR); ovr != 0 {
		atomic.AddUint64(&c.stats.dropped, 1)
		c.Warn(ErrDroppedFrame.Error())
		if err := c.dev.ModifyBits(mcp2515.EFLG, ovr, 0); err != nil {
			return err
		}
	}
	switch {
	case eflg&mcp2515.TXBO != 0:
		c.Warn("controller is bus-off")
	case eflg&(mcp2515.TXEP|mcp2515.RXEP) != 0:
		c.Warn(fmt.Sprintf("controller is error passive (EFLG %08b)", eflg))
	}
	if clr := flags &^ (mcp2515.RX0IF | mcp2515.RX1IF); clr != 0 {
		return c.dev.ModifyBits(mcp2515.CANINTF, clr, 0)
	}
	return nil
}

// Send queues f in a free transmit buffer.
func (c *Client) Send(f frame.Frame) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kbps == 0 {
		return ErrNotInitialized
	}
	if _, err := c.dev.Send(f); err != nil {
		atomic.AddUint64(&c.stats.errors, 1)
		return err
	}
	atomic.AddUint64(&c.stats.sent, 1)
	return nil
}

// Shortcommand to send a data frame
func (c *Client) SendFrame(identifier uint32, data []byte, extended bool) error {
	if extended {
		return c.Send(frame.NewExtended(identifier, data))
	}
	return c.Send(frame.New(identifier, data))
}

// Subscribe returns a Subscriber for identifiers, every frame when none are
// given. It is closed when ctx ends or the client closes.
func (c *Client) Subscribe(ctx context.Context, identifiers ...uint32) *Subscriber {
	sub := &Subscriber{
		h:            c.h,
		identifiers:  make(map[uint32]struct{}, len(identifiers)),
		responseChan: make(chan frame.Frame, 100),
	}
	for _, id := range identifiers {
		sub.identifiers[id] = struct{}{}
	}
	c.h.registerSubscriber(sub)
	go func() {
		select {
		case <-ctx.Done():
		case <-c.closeChan:
		}
		sub.Close()
	}()
	return sub
}

// Do runs fn with exclusive access to the controller.
func (c *Client) Do(fn func(d *mcp2515.Device) error) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.dev)
}

// Kbps returns the bus speed set by the last successful Init.
func (c *Client) Kbps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kbps
}

func (c *Client) Adapter() Adapter {
	return c.adapter
}

func (c *Client) Stats() Stats {
	return c.stats.snapshot()
}

// Close stops polling, ends all subscriptions and closes the adapter.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.wg.Wait()
		c.h.Close()
		err = c.adapter.Close()
	})
	return err
}
