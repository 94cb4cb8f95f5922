package tklock

import (
	"sync"

	"github.com/sailfishos-mce/mce-core/internal/busclient"
	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/errcode"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
)

// maxNotifSlots bounds the number of concurrently-open notification
// display requests (§4.4.13).
const maxNotifSlots = 32

type notifSlot struct {
	owner    string
	deadline int64 // boot-time ms
	renewMs  int64
}

// notifMachine implements the begin/end notification-display API
// (§4.4.13): a caller can ask for the display to stay lit to show a
// notification for a bounded length of time, optionally renewed by
// touch activity, and the aggregate "something wants the display up"
// signal is surfaced to the rest of the mesh as the NOTIF exception
// bit (§4.4.8) for as long as any slot is open, plus a short linger
// once the last one closes.
type notifMachine struct {
	m *Machine

	mu      sync.Mutex
	slots   map[string]*notifSlot
	refs    map[string]int
	tracker *busclient.Tracker
}

func (n *notifMachine) init(m *Machine) {
	n.m = m
	n.slots = make(map[string]*notifSlot)
	n.refs = make(map[string]int)
	n.tracker = busclient.NewTracker(m.log, m.peerHooks, 0)

	if _, err := m.hb.Create("tklock.notif.sweep", NotifLengthMinMs, n.onSweep); err != nil {
		m.log.Warn().Err(err).Msg("notif: failed to create sweep timer")
	}

	m.hub.MustGet(ChanActivity).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.notif.activity",
		Fn:  func(_ datapipe.SourcePolicy, _ any) { n.renewAll() },
	})
}

// Begin opens a notification slot identified by (owner, id), clamping
// lengthMs/renewMs into their documented bounds (§8 B3). A zero-length
// request is ignored outright (§4.4.13 "zero-length ignored", §8 B1):
// no slot is created and no exception is raised.
func (n *notifMachine) Begin(owner, id string, lengthMs, renewMs int64) error {
	if lengthMs == 0 {
		return nil
	}
	lengthMs = clampInt64(lengthMs, NotifLengthMinMs, NotifLengthMaxMs)
	renewMs = clampInt64(renewMs, NotifRenewMinMs, NotifRenewMaxMs)
	key := owner + "\x00" + id

	n.mu.Lock()
	_, exists := n.slots[key]
	if !exists && len(n.slots) >= maxNotifSlots {
		n.mu.Unlock()
		return errcode.New(errcode.TooMany, "notif.Begin", "notification slot table is full")
	}
	wasEmpty := len(n.slots) == 0
	n.slots[key] = &notifSlot{owner: owner, deadline: nowMs() + lengthMs, renewMs: renewMs}
	n.refs[owner]++
	firstRefForOwner := n.refs[owner] == 1
	n.mu.Unlock()

	if firstRefForOwner {
		n.tracker.Watch(owner)
		n.tracker.OnTransition(owner, func(p busclient.PeerInfo) {
			if p.State == busclient.StateStopped {
				n.dropOwner(owner)
			}
		})
	}
	if wasEmpty {
		n.m.exception.Begin(mcetypes.ExceptionNotif)
	}
	n.m.hb.Start("tklock.notif.sweep")
	return nil
}

// End closes a notification slot explicitly (§4.4.13 "end"), carrying
// the caller-supplied lingerMs through to the exception record so the
// requested fade time actually drives the linger timer (§6.1
// notification_end, §3.5 linger_tick).
func (n *notifMachine) End(owner, id string, lingerMs int64) {
	key := owner + "\x00" + id
	n.mu.Lock()
	slot, ok := n.slots[key]
	if !ok {
		n.mu.Unlock()
		return
	}
	delete(n.slots, key)
	if n.refs[slot.owner] > 0 {
		n.refs[slot.owner]--
	}
	empty := len(n.slots) == 0
	n.mu.Unlock()

	if empty {
		n.m.exception.End(mcetypes.ExceptionNotif, lingerMs)
	}
}

func (n *notifMachine) dropOwner(owner string) {
	n.mu.Lock()
	for key, slot := range n.slots {
		if slot.owner == owner {
			delete(n.slots, key)
		}
	}
	delete(n.refs, owner)
	empty := len(n.slots) == 0
	n.mu.Unlock()

	if empty {
		n.m.exception.End(mcetypes.ExceptionNotif, NotifyGraceMs)
	}
}

func (n *notifMachine) renewAll() {
	now := nowMs()
	n.mu.Lock()
	for _, slot := range n.slots {
		if slot.renewMs > 0 {
			slot.deadline = now + slot.renewMs
		}
	}
	n.mu.Unlock()
}

func (n *notifMachine) onSweep() (bool, int64) {
	now := nowMs()
	n.mu.Lock()
	for key, slot := range n.slots {
		if slot.deadline <= now {
			delete(n.slots, key)
			if n.refs[slot.owner] > 0 {
				n.refs[slot.owner]--
			}
		}
	}
	empty := len(n.slots) == 0
	n.mu.Unlock()

	if empty {
		n.m.exception.End(mcetypes.ExceptionNotif, NotifyGraceMs)
		return false, 0
	}
	return true, NotifLengthMinMs
}
