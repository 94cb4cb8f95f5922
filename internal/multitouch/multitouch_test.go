package multitouch

import (
	"testing"

	"github.com/sailfishos-mce/mce-core/internal/evdev"
	"github.com/sailfishos-mce/mce-core/internal/timex"
)

func withClock(t *testing.T, ms *int64) {
	t.Helper()
	prev := timex.Clock
	timex.Clock = func() int64 { return *ms }
	t.Cleanup(func() { timex.Clock = prev })
}

func feedAbsSlot(d *Decoder, slot int, x, y int32) {
	d.Feed(evdev.Event{Type: evdev.EvAbs, Code: evdev.AbsMTSlot, Value: int32(slot)})
	d.Feed(evdev.Event{Type: evdev.EvAbs, Code: evdev.AbsMTTrackingID, Value: 1})
	d.Feed(evdev.Event{Type: evdev.EvAbs, Code: evdev.AbsMTPositionX, Value: x})
	d.Feed(evdev.Event{Type: evdev.EvAbs, Code: evdev.AbsMTPositionY, Value: y})
}

func release(d *Decoder, slot int) {
	d.Feed(evdev.Event{Type: evdev.EvAbs, Code: evdev.AbsMTSlot, Value: int32(slot)})
	d.Feed(evdev.Event{Type: evdev.EvAbs, Code: evdev.AbsMTTrackingID, Value: -1})
	d.Feed(evdev.Event{Type: evdev.EvSyn, Code: evdev.SynReport})
}

func sync(d *Decoder) {
	d.Feed(evdev.Event{Type: evdev.EvSyn, Code: evdev.SynReport})
}

func TestDoubleTapDetectionScenarioS5(t *testing.T) {
	var now int64
	withClock(t, &now)

	d := New()
	var taps []TapEvent
	d.OnTap = func(ev TapEvent) { taps = append(taps, ev) }

	now = 0
	feedAbsSlot(d, 0, 100, 100)
	sync(d)

	now = 120
	release(d, 0)

	now = 280
	feedAbsSlot(d, 0, 112, 102)
	sync(d)

	now = 400
	release(d, 0)

	if len(taps) != 2 || taps[0].Double || !taps[1].Double {
		t.Fatalf("expected a single tap followed by one double-tap event, got %+v", taps)
	}

	// A third tap starting at t=500 must not chain into a second
	// double-tap using the already-consumed middle tap.
	now = 500
	feedAbsSlot(d, 0, 115, 105)
	sync(d)
	now = 550
	release(d, 0)

	if len(taps) != 3 || taps[2].Double {
		t.Fatalf("expected the third tap to register as single, got %+v", taps)
	}
}

func TestSingleFingerTapWithinRadiusAndDuration(t *testing.T) {
	var now int64
	withClock(t, &now)
	d := New()
	var taps []TapEvent
	d.OnTap = func(ev TapEvent) { taps = append(taps, ev) }

	now = 0
	feedAbsSlot(d, 0, 50, 50)
	sync(d)
	now = 50
	release(d, 0)

	if len(taps) != 1 || taps[0].Double {
		t.Fatalf("expected one single tap, got %+v", taps)
	}
}

func TestTapRejectedWhenMultipleFingersInvolved(t *testing.T) {
	var now int64
	withClock(t, &now)
	d := New()
	var taps []TapEvent
	d.OnTap = func(ev TapEvent) { taps = append(taps, ev) }

	now = 0
	feedAbsSlot(d, 0, 50, 50)
	sync(d)
	feedAbsSlot(d, 1, 60, 60)
	sync(d)
	now = 50
	release(d, 0)
	release(d, 1)

	if len(taps) != 0 {
		t.Fatalf("expected no tap from a two-finger gesture, got %+v", taps)
	}
}

func TestFingerCountChangeCallback(t *testing.T) {
	d := New()
	var counts []int
	d.OnFingerCountChange = func(c int) { counts = append(counts, c) }

	feedAbsSlot(d, 0, 1, 1)
	sync(d)
	release(d, 0)

	if len(counts) != 2 || counts[0] != 1 || counts[1] != 0 {
		t.Fatalf("finger count transitions = %v; want [1 0]", counts)
	}
}
