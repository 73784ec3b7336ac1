package mcpcan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roffe/mcpcan/pkg/frame"
)

// Subscriber receives frames matching its identifiers, or all frames when it
// has none.
type Subscriber struct {
	h            *handler
	identifiers  map[uint32]struct{}
	responseChan chan frame.Frame
	closeOnce    sync.Once
	// guarded by the handler read lock, only one deliver runs at a time
	dropped uint64
}

func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.h.unregisterSubscriber(s)
	})
}

func (s *Subscriber) Chan() <-chan frame.Frame {
	return s.responseChan
}

// Wait returns the next frame, or a TimeoutError after timeout.
func (s *Subscriber) Wait(ctx context.Context, timeout time.Duration) (frame.Frame, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return frame.Frame{}, fmt.Errorf("wait: %w", ctx.Err())
	case <-t.C:
		ids := make([]uint32, 0, len(s.identifiers))
		for id := range s.identifiers {
			ids = append(ids, id)
		}
		return frame.Frame{}, &TimeoutError{Timeout: timeout.Milliseconds(), Frames: ids}
	case f, ok := <-s.responseChan:
		if !ok {
			return frame.Frame{}, ErrResponsechannelClosed
		}
		return f, nil
	}
}
