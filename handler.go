package mcpcan

import (
	"context"
	"log"
	"sync"

	"github.com/roffe/mcpcan/pkg/frame"
)

// handler fans received frames out to subscribers
type handler struct {
	incoming  <-chan frame.Frame
	close     chan struct{}
	closeOnce sync.Once

	submap     map[uint32]map[*Subscriber]struct{}
	globalSubs []*Subscriber

	mu sync.RWMutex
}

func newHandler(incoming <-chan frame.Frame) *handler {
	return &handler{
		incoming:   incoming,
		close:      make(chan struct{}),
		submap:     make(map[uint32]map[*Subscriber]struct{}),
		globalSubs: make([]*Subscriber, 0, 16),
	}
}

func (h *handler) registerSubscriber(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(sub.identifiers) == 0 {
		h.globalSubs = append(h.globalSubs, sub)
		return
	}
	for id := range sub.identifiers {
		if _, ok := h.submap[id]; !ok {
			h.submap[id] = make(map[*Subscriber]struct{})
		}
		h.submap[id][sub] = struct{}{}
	}
}

func (h *handler) unregisterSubscriber(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(sub.identifiers) == 0 {
		for i, s := range h.globalSubs {
			if s == sub {
				h.globalSubs = append(h.globalSubs[:i], h.globalSubs[i+1:]...)
				break
			}
		}
		close(sub.responseChan)
		return
	}
	for id := range sub.identifiers {
		if subs, ok := h.submap[id]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.submap, id)
			}
		}
	}
	close(sub.responseChan)
}

func (h *handler) run(ctx context.Context) {
	for {
		select {
		case <-h.close:
			return
		case <-ctx.Done():
			return
		case f, ok := <-h.incoming:
			if !ok {
				return
			}
			h.deliver(f)
		}
	}
}

// deliver sends while holding the read lock, unregisterSubscriber needs the
// write lock to close a response channel.
func (h *handler) deliver(f frame.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.globalSubs {
		sub.offer(f)
	}
	for sub := range h.submap[f.ID] {
		sub.offer(f)
	}
}

func (h *handler) Close() {
	h.closeOnce.Do(func() {
		close(h.close)
	})
}

func (s *Subscriber) offer(f frame.Frame) {
	select {
	case s.responseChan <- f:
	default:
		s.dropped++
		if s.dropped%100 == 1 {
			log.Printf("subscriber full, dropped 0x%03X (%d total)", f.ID, s.dropped)
		}
	}
}
