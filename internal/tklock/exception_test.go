package tklock

import (
	"testing"

	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
)

func TestExceptionBeginPublishesTopmost(t *testing.T) {
	h := newHarness(t)
	h.m.exception.Begin(mcetypes.ExceptionAlarm)

	if got := h.value(ChanExceptionTopmost); got != mcetypes.ExceptionAlarm {
		t.Fatalf("topmost = %v; want alarm", got)
	}
	if !h.m.exception.IsException() {
		t.Fatal("expected IsException true after Begin")
	}
}

func TestExceptionTopmostPicksHighestPriority(t *testing.T) {
	h := newHarness(t)
	h.m.exception.Begin(mcetypes.ExceptionLinger)
	h.m.exception.Begin(mcetypes.ExceptionCall)
	h.m.exception.Begin(mcetypes.ExceptionNotif)

	if got := h.value(ChanExceptionTopmost); got != mcetypes.ExceptionNotif {
		t.Fatalf("topmost = %v; want notif (highest priority)", got)
	}
}

func TestExceptionEndWithoutLingerRestoresImmediately(t *testing.T) {
	h := newHarness(t)
	h.publish(ChanDisplayNext, mcetypes.DisplayOn)
	h.m.exception.Begin(mcetypes.ExceptionAlarm)
	h.m.exception.End(mcetypes.ExceptionAlarm, 0)

	if got := h.value(ChanExceptionTopmost); got != mcetypes.ExceptionNone {
		t.Fatalf("topmost = %v; want none after non-lingering end", got)
	}
}

func TestExceptionEndWithLingerHoldsExceptionOpen(t *testing.T) {
	h := newHarness(t)
	h.m.exception.Begin(mcetypes.ExceptionNotif)
	h.m.exception.End(mcetypes.ExceptionNotif, NotifyGraceMs)

	if got := h.value(ChanExceptionTopmost); got != mcetypes.ExceptionLinger {
		t.Fatalf("topmost = %v; want linger immediately after a lingering end", got)
	}

	h.fireTimer("tklock.exception.linger")
	if got := h.value(ChanExceptionTopmost); got != mcetypes.ExceptionNone {
		t.Fatalf("topmost = %v; want none once the linger timer elapses", got)
	}
}

func TestExceptionCallRingingStartsAndEndsOnCallNone(t *testing.T) {
	h := newHarness(t)
	h.publish(ChanCallState, mcetypes.CallRinging)
	if !h.m.exception.IsException() {
		t.Fatal("expected call-ringing to raise the call exception bit")
	}

	h.publish(ChanCallState, mcetypes.CallNone)
	if h.m.exception.IsException() {
		t.Fatal("expected call exception to clear once the call ends")
	}
}

func TestProximityCoveredDuringHandsetCallForcesDisplayOff(t *testing.T) {
	h := newHarnessWith(t, nil)
	h.hub.Declare(ChanAudioRoute, chanOpts(mcetypes.AudioRouteHandset))
	h.publish(ChanDisplayNext, mcetypes.DisplayOn)
	h.publish(ChanCallState, mcetypes.CallRinging)

	h.publish(ChanProximityEffective, true)

	if got := h.value(ChanDisplayNext); got != mcetypes.DisplayOff {
		t.Fatalf("display.next = %v; want off when proximity covers a handset call", got)
	}
}

func TestProximityCoveredDuringSpeakerCallLeavesDisplayAlone(t *testing.T) {
	h := newHarnessWith(t, nil)
	h.hub.Declare(ChanAudioRoute, chanOpts(mcetypes.AudioRouteSpeaker))
	h.publish(ChanDisplayNext, mcetypes.DisplayOn)
	h.publish(ChanCallState, mcetypes.CallRinging)

	h.publish(ChanProximityEffective, true)

	if got := h.value(ChanDisplayNext); got != mcetypes.DisplayOn {
		t.Fatalf("display.next = %v; want unchanged on speakerphone", got)
	}
}
