package mcpcan

import (
	"errors"
	"fmt"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable marks err as fatal for the link, retries stop when they see it.
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable reports whether err, or anything it wraps, was not marked
// Unrecoverable.
func IsRecoverable(err error) bool {
	var u unrecoverableError
	return !errors.As(err, &u)
}

var (
	ErrNilAdapter            = errors.New("adapter is nil")
	ErrClosed                = errors.New("client closed")
	ErrNotInitialized        = errors.New("controller not initialized")
	ErrDroppedFrame          = errors.New("receive buffer overflow, frame dropped")
	ErrResponsechannelClosed = errors.New("response channel closed")
)

type TimeoutError struct {
	Timeout int64
	Frames  []uint32
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout (%dms) waiting for frame 0x%03X", e.Timeout, e.Frames)
}
