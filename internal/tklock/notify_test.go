package tklock

import (
	"testing"

	"github.com/sailfishos-mce/mce-core/internal/busclient"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
)

func trackedHooks() busclient.Hooks {
	return busclient.Hooks{
		GetOwner: func(name string) (string, bool) { return name + ".owner", true },
	}
}

func TestNotifBeginRaisesExceptionAndEndClosesIt(t *testing.T) {
	h := newHarnessWith(t, func(d *Deps) { d.PeerHooks = trackedHooks() })

	if err := h.m.notif.Begin("com.example.app", "msg1", 5000, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if got := h.value(ChanExceptionTopmost); got != mcetypes.ExceptionNotif {
		t.Fatalf("topmost = %v; want notif", got)
	}

	h.m.notif.End("com.example.app", "msg1", 2000)
	if got := h.value(ChanExceptionTopmost); got != mcetypes.ExceptionLinger {
		t.Fatalf("topmost = %v; want linger once the last slot closes", got)
	}
	if h.m.exception.lingerDeadline-nowMs() > 2000 || h.m.exception.lingerDeadline-nowMs() < 1900 {
		t.Fatalf("lingerDeadline not driven by the caller-supplied linger of 2000ms")
	}
}

func TestNotifBeginZeroLengthIsIgnored(t *testing.T) {
	h := newHarnessWith(t, func(d *Deps) { d.PeerHooks = trackedHooks() })

	if err := h.m.notif.Begin("com.example.app", "msg1", 0, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, ok := h.m.notif.slots["com.example.app\x00msg1"]; ok {
		t.Fatal("expected a zero-length request to create no slot")
	}
	if got := h.value(ChanExceptionTopmost); got != mcetypes.ExceptionNone {
		t.Fatalf("topmost = %v; want none, zero-length must not raise an exception", got)
	}
}

func TestNotifBeginClampsLengthAndRenewIntoBounds(t *testing.T) {
	h := newHarnessWith(t, func(d *Deps) { d.PeerHooks = trackedHooks() })

	if err := h.m.notif.Begin("com.example.app", "msg1", 1, 999999); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	slot := h.m.notif.slots["com.example.app\x00msg1"]
	if slot == nil {
		t.Fatal("expected a slot to be recorded")
	}
	if slot.renewMs != NotifRenewMaxMs {
		t.Fatalf("renewMs = %d; want clamped to %d", slot.renewMs, NotifRenewMaxMs)
	}
}

func TestNotifTableFullRejectsNewSlot(t *testing.T) {
	h := newHarnessWith(t, func(d *Deps) { d.PeerHooks = trackedHooks() })

	for i := 0; i < maxNotifSlots; i++ {
		if err := h.m.notif.Begin("owner", string(rune('a'+i)), 5000, 0); err != nil {
			t.Fatalf("Begin #%d: %v", i, err)
		}
	}
	if err := h.m.notif.Begin("owner", "one-too-many", 5000, 0); err == nil {
		t.Fatal("expected an error once the slot table is full")
	}
}

func TestNotifSweepExpiresStaleSlotsAndEndsException(t *testing.T) {
	h := newHarnessWith(t, func(d *Deps) { d.PeerHooks = trackedHooks() })
	if err := h.m.notif.Begin("com.example.app", "msg1", NotifLengthMinMs, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	h.m.notif.mu.Lock()
	h.m.notif.slots["com.example.app\x00msg1"].deadline = nowMs() - 1
	h.m.notif.mu.Unlock()

	h.fireTimer("tklock.notif.sweep")

	if got := h.value(ChanExceptionTopmost); got != mcetypes.ExceptionLinger {
		t.Fatalf("topmost = %v; want linger once the sweep expires the last stale slot", got)
	}
}

func TestNotifOwnerDisconnectDropsItsSlots(t *testing.T) {
	h := newHarnessWith(t, func(d *Deps) { d.PeerHooks = trackedHooks() })
	if err := h.m.notif.Begin("com.example.app", "msg1", 5000, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	h.m.notif.tracker.NameOwnerChanged("com.example.app", "")

	if got := h.value(ChanExceptionTopmost); got != mcetypes.ExceptionLinger {
		t.Fatalf("topmost = %v; want linger once the owning service disconnects", got)
	}
	if _, ok := h.m.notif.slots["com.example.app\x00msg1"]; ok {
		t.Fatal("expected the slot to be dropped")
	}
}

func TestNotifActivityRenewsDeadline(t *testing.T) {
	h := newHarnessWith(t, func(d *Deps) { d.PeerHooks = trackedHooks() })
	if err := h.m.notif.Begin("com.example.app", "msg1", NotifLengthMinMs, NotifRenewMaxMs); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	h.m.notif.mu.Lock()
	before := h.m.notif.slots["com.example.app\x00msg1"].deadline
	h.m.notif.mu.Unlock()

	h.publish(ChanActivity, true)

	h.m.notif.mu.Lock()
	after := h.m.notif.slots["com.example.app\x00msg1"].deadline
	h.m.notif.mu.Unlock()
	if after < before {
		t.Fatalf("deadline = %d; want pushed forward (was %d) after an activity pulse", after, before)
	}
}
