package evdev

import "testing"

func TestDecodeEventParsesTypeCodeValue(t *testing.T) {
	var raw [rawEventSize]byte
	// type=EV_ABS(3), code=ABS_MT_POSITION_X(0x35), value=512
	raw[16] = 0x03
	raw[18] = 0x35
	raw[20] = 0x00
	raw[21] = 0x02 // little-endian 512 = 0x0200

	ev := decodeEvent(raw)
	if ev.Type != EvAbs || ev.Code != AbsMTPositionX || ev.Value != 512 {
		t.Fatalf("decodeEvent = %+v; want type=3 code=0x35 value=512", ev)
	}
}

func TestHasEventTypeChecksBitmask(t *testing.T) {
	bits := []byte{0b00001010, 0, 0, 0} // bits 1 and 3 set
	if !HasEventType(bits, 1) || !HasEventType(bits, 3) {
		t.Fatal("expected bits 1 and 3 to be set")
	}
	if HasEventType(bits, 0) || HasEventType(bits, 2) {
		t.Fatal("expected bits 0 and 2 to be clear")
	}
	if HasEventType(bits, 100) {
		t.Fatal("out-of-range bit should report false, not panic")
	}
}
