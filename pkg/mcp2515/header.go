package mcp2515

import "github.com/roffe/mcpcan/pkg/frame"

// Identifier layout in the SIDH, SIDL, EID8, EID0 header registers.
const (
	StdIDBits = 11
	ExtIDBits = 29

	// eidBits is the low part of an extended identifier kept outside SIDH/SIDL[7:5].
	eidBits = ExtIDBits - StdIDBits
	eidMask = 1<<eidBits - 1

	// SIDL holds the 3 least significant standard identifier bits in [7:5] and
	// the 2 most significant EID bits in [1:0].
	sidlSIDBits  = 3
	sidlSIDShift = 8 - sidlSIDBits
	sidlSIDMask  = 1<<sidlSIDBits - 1
	sidlEIDBits  = 2
	sidlEIDShift = eidBits - sidlEIDBits
	sidlEIDMask  = 1<<sidlEIDBits - 1

	// HeaderLen is SIDH, SIDL, EID8, EID0, DLC.
	HeaderLen = 5
)

// Header is the 5 byte buffer header shared by the TX and RX buffers.
type Header [HeaderLen]byte

// EncodeHeader packs the identifier, RTR and length of f into the controller's
// header layout.
func EncodeHeader(f frame.Frame) Header {
	var h Header
	sid := f.ID & frame.MaxStdID
	if f.Extended {
		sid = (f.ID >> eidBits) & frame.MaxStdID
		eid := f.ID & eidMask
		h[1] = sidlEXIDE | byte(eid>>sidlEIDShift)&sidlEIDMask
		h[2] = byte(eid >> 8)
		h[3] = byte(eid)
	}
	h[0] = byte(sid >> sidlSIDBits)
	h[1] |= byte(sid&sidlSIDMask) << sidlSIDShift

	h[4] = f.Len & dlcMask
	if f.RTR {
		h[4] |= dlcRTR
	}
	return h
}

// DecodeHeader is the inverse of EncodeHeader. Len is capped at 8, DLC values 9
// to 15 still carry 8 bytes. A standard frame flagged through SIDL.SRR is
// reported as remote.
func DecodeHeader(h Header) frame.Frame {
	var f frame.Frame
	sid := uint32(h[0])<<sidlSIDBits | uint32(h[1]>>sidlSIDShift)
	if h[1]&sidlEXIDE != 0 {
		eid := uint32(h[1]&sidlEIDMask)<<sidlEIDShift | uint32(h[2])<<8 | uint32(h[3])
		f.ID = sid<<eidBits | eid
		f.Extended = true
	} else {
		f.ID = sid
		f.SRR = h[1]&sidlSRR != 0
	}
	f.RTR = h[4]&dlcRTR != 0 || f.SRR
	f.Len = h[4] & dlcMask
	if f.Len > frame.MaxLen {
		f.Len = frame.MaxLen
	}
	return f
}
