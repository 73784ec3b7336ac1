package cangw

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/roffe/mcpcan/pkg/frame"
)

// Frame is the JSON form of a CAN frame on the gateway. Data is hex encoded.
type Frame struct {
	ID       uint32 `json:"id"`
	Extended bool   `json:"extended"`
	RTR      bool   `json:"rtr"`
	Len      uint8  `json:"len"`
	Data     string `json:"data"`
	// Time is the unix millisecond the gateway saw the frame, zero on send.
	Time int64 `json:"time,omitempty"`
}

func fromFrame(f frame.Frame, t time.Time) Frame {
	data := f.Payload()
	if f.RTR {
		data = nil
	}
	return Frame{
		ID:       f.ID,
		Extended: f.Extended,
		RTR:      f.RTR,
		Len:      f.Len,
		Data:     hex.EncodeToString(data),
		Time:     t.UnixMilli(),
	}
}

// toFrame validates j. A data frame without len takes its length from data.
func (j Frame) toFrame() (frame.Frame, error) {
	data, err := hex.DecodeString(j.Data)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("data: %w", err)
	}
	if len(data) > frame.MaxLen {
		return frame.Frame{}, fmt.Errorf("%w: %d bytes", frame.ErrInvalidLen, len(data))
	}
	f := frame.Frame{ID: j.ID, Extended: j.Extended, RTR: j.RTR}
	n := uint8(copy(f.Data[:], data))
	switch {
	case j.RTR:
		f.Len = j.Len
	case j.Len == 0:
		f.Len = n
	case j.Len != n:
		return frame.Frame{}, fmt.Errorf("len %d does not match %d data bytes", j.Len, n)
	default:
		f.Len = n
	}
	if err := f.Validate(); err != nil {
		return frame.Frame{}, err
	}
	return f, nil
}
