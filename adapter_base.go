package mcpcan

import (
	"sync"
)

// BaseAdapter carries the bookkeeping every adapter shares. Embed it and
// implement Open, Close, Conn and Interrupt.
type BaseAdapter struct {
	eventQueue
	name string
	cfg  *AdapterConfig

	closeOnce sync.Once
	closeChan chan struct{}
}

func NewBaseAdapter(name string, cfg *AdapterConfig) *BaseAdapter {
	return &BaseAdapter{
		eventQueue: newEventQueue(100),
		name:       name,
		cfg:        cfg,
		closeChan:  make(chan struct{}),
	}
}

// Name returns the adapter name.
func (base *BaseAdapter) Name() string {
	return base.name
}

func (base *BaseAdapter) Config() *AdapterConfig {
	return base.cfg
}

// Done is closed by Close, background goroutines of the adapter stop on it.
func (base *BaseAdapter) Done() <-chan struct{} {
	return base.closeChan
}

func (base *BaseAdapter) Close() {
	base.closeOnce.Do(func() {
		close(base.closeChan)
	})
}

// Message logs through the configured OnMessage callback when debugging.
func (base *BaseAdapter) Message(msg string) {
	if base.cfg != nil && base.cfg.Debug && base.cfg.OnMessage != nil {
		base.cfg.OnMessage(msg)
	}
}
