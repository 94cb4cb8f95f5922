package evdev

import "encoding/binary"

// Event type/code constants needed by the multitouch decoder (§4.9) and
// legacy input gating (§4.4.11). Only the subset this daemon decodes.
const (
	EvSyn = 0x00
	EvKey = 0x01
	EvRel = 0x02
	EvAbs = 0x03

	SynReport   = 0
	SynMTReport = 2

	RelX = 0x00
	RelY = 0x01

	AbsMTSlot       = 0x2f
	AbsMTTrackingID = 0x39
	AbsMTPositionX  = 0x35
	AbsMTPositionY  = 0x36
	AbsX            = 0x00
	AbsY            = 0x01

	BtnMouse = 0x110
	BtnTouch = 0x14a
)

// rawEventSize is sizeof(struct input_event) on 64-bit Linux: a
// 16-byte timeval, then u16 type, u16 code, s32 value (24 bytes total).
const rawEventSize = 24

// Event is a decoded struct input_event.
type Event struct {
	Type  uint16
	Code  uint16
	Value int32
}

func decodeEvent(raw [rawEventSize]byte) Event {
	// bytes 0..15 are the timeval, not needed by any decoder in this
	// package (protocol A/B and the legacy gate only care about
	// type/code/value ordering, not wall-clock timestamps).
	return Event{
		Type:  binary.LittleEndian.Uint16(raw[16:18]),
		Code:  binary.LittleEndian.Uint16(raw[18:20]),
		Value: int32(binary.LittleEndian.Uint32(raw[20:24])),
	}
}
