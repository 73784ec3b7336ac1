package mcpcan

import (
	"fmt"
	"sync/atomic"
)

type Stats struct {
	RecvFrames    uint64
	SentFrames    uint64
	Errors        uint64
	DroppedFrames uint64
}

func (st Stats) String() string {
	return fmt.Sprintf("recv: %d sent: %d errors: %d dropped: %d", st.RecvFrames, st.SentFrames, st.Errors, st.DroppedFrames)
}

type counters struct {
	recv, sent, errors, dropped uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		RecvFrames:    atomic.LoadUint64(&c.recv),
		SentFrames:    atomic.LoadUint64(&c.sent),
		Errors:        atomic.LoadUint64(&c.errors),
		DroppedFrames: atomic.LoadUint64(&c.dropped),
	}
}
