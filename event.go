package mcpcan

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"time"
)

type EventType int

func (et EventType) String() string {
	switch et {
	case EventTypeError:
		return "ERROR"
	case EventTypeWarning:
		return "WARN"
	case EventTypeInfo:
		return "INFO"
	case EventTypeDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

type Event struct {
	Type    EventType
	Details string
	Time    time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s [%s] %s", e.Time.Format("15:04:05.000"), e.Type.String(), e.Details)
}

// eventQueue is a non blocking event outlet shared by adapters and the client.
type eventQueue struct {
	ch chan Event
}

func newEventQueue(size int) eventQueue {
	return eventQueue{ch: make(chan Event, size)}
}

func (q eventQueue) Event() <-chan Event {
	return q.ch
}

func (q eventQueue) sendEvent(eventType EventType, details string) {
	select {
	case q.ch <- Event{Type: eventType, Details: details, Time: time.Now()}:
	default:
		_, file, no, ok := runtime.Caller(2)
		if ok {
			log.Printf("%s#%d event channel full: %s\n", filepath.Base(file), no, details)
		} else {
			log.Printf("event channel full: %s", details)
		}
	}
}

// Send an error event
func (q eventQueue) Error(err error) {
	q.sendEvent(EventTypeError, err.Error())
}

// Send a warning event
func (q eventQueue) Warn(warn string) {
	q.sendEvent(EventTypeWarning, warn)
}

// Send an info event
func (q eventQueue) Info(info string) {
	q.sendEvent(EventTypeInfo, info)
}

// Send a debug event
func (q eventQueue) Debug(debug string) {
	q.sendEvent(EventTypeDebug, debug)
}
