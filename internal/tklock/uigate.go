package tklock

import (
	"sync"

	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/settings"
	"github.com/sailfishos-mce/mce-core/internal/submode"
)

// uiGateMachine is both the submode filter for the tklock bit (§4.4.1)
// and the tklock_ui_set_enabled request/ack gate (§4.4.9): a requested
// tklock bit flip is not committed to the submode register until the
// lockscreen UI has acknowledged it on ChanTKLockUIEnabled, or a 2s
// grace period elapses without an ack, in which case the request is
// committed optimistically and logged.
type uiGateMachine struct {
	m *Machine

	mu            sync.Mutex
	pending       bool
	lastRequested bool
	committing    bool
}

func (u *uiGateMachine) init(m *Machine) {
	u.m = m

	m.hub.Declare(ChanTKLockUIEnabled, datapipe.ChannelOpts{Initial: false})

	if _, err := m.hb.Create("tklock.uigate.grace", NotifyGraceMs, u.onGraceElapsed); err != nil {
		m.log.Warn().Err(err).Msg("uigate: failed to create grace timer")
	}

	m.sm.AttachFilter(u.filter)

	m.hub.MustGet(ChanTKLockUIEnabled).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.uigate.ack",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			enabled, _ := v.(bool)
			u.onUIAck(enabled)
		},
	})
}

// filter implements the submode register hook (§4.4.1): any requested
// tklock bit change is held back to the current bit until the UI
// acknowledges it, unless a commit driven by onUIAck/onGraceElapsed is
// already in flight. Before any of that, §4.4.9's three policy gates
// can outright deny the request, in which case the bit never moves
// and no IPC round-trip is started at all.
func (u *uiGateMachine) filter(current, requested submode.Mask) submode.Mask {
	reqBit := requested.Has(tklockBit())
	curBit := current.Has(tklockBit())

	u.mu.Lock()
	committing := u.committing
	u.mu.Unlock()

	if reqBit == curBit || committing {
		return requested
	}

	if u.denied(reqBit) {
		if curBit {
			return submode.Mask(submode.Bit(requested) | tklockBit())
		}
		return submode.Mask(submode.Bit(requested) &^ tklockBit())
	}

	u.mu.Lock()
	already := u.pending
	u.pending = true
	u.lastRequested = reqBit
	u.mu.Unlock()

	if !already {
		u.m.wakelock(WakelockNotify, true)
		u.m.ipc("tklock_ui_set_enabled", reqBit)
		u.m.hb.Start("tklock.uigate.grace")
	}

	if curBit {
		return submode.Mask(submode.Bit(requested) | tklockBit())
	}
	return submode.Mask(submode.Bit(requested) &^ tklockBit())
}

// denied implements the three §4.4.9 policy gates: enabling requires
// the lockscreen UI service to actually be running; disabling is
// refused while devicelock is locked under the devicelock-in-lockscreen
// policy, and while the lid is closed.
func (u *uiGateMachine) denied(reqBit bool) bool {
	if reqBit {
		return !u.m.boolValue(ChanLipstickUp)
	}
	if u.m.hub != nil {
		if ch, err := u.m.hub.Get(ChanDevicelock); err == nil {
			raw, _ := ch.Value()
			if dl, _ := raw.(mcetypes.DevicelockState); dl == mcetypes.DevicelockLocked &&
				u.m.settings.Get(settings.KeyDevicelockInLockscreen).Bool {
				return true
			}
		}
	}
	if u.m.coverState(ChanLidFiltered) == mcetypes.CoverClosed {
		return true
	}
	return false
}

func (u *uiGateMachine) onUIAck(enabled bool) {
	u.mu.Lock()
	if !u.pending {
		u.mu.Unlock()
		return
	}
	u.pending = false
	u.mu.Unlock()

	u.m.hb.Stop("tklock.uigate.grace")
	u.m.wakelock(WakelockNotify, false)
	u.commit(enabled)
}

func (u *uiGateMachine) onGraceElapsed() (bool, int64) {
	u.mu.Lock()
	if !u.pending {
		u.mu.Unlock()
		return false, 0
	}
	u.pending = false
	requested := u.lastRequested
	u.mu.Unlock()

	u.m.wakelock(WakelockNotify, false)
	u.m.log.Warn().Bool("requested", requested).Msg("tklock_ui_set_enabled ack timed out; committing optimistically")
	u.commit(requested)
	return false, 0
}

func (u *uiGateMachine) commit(enabled bool) {
	u.mu.Lock()
	u.committing = true
	u.mu.Unlock()
	u.m.sm.SetBit(tklockBit(), enabled)
	u.mu.Lock()
	u.committing = false
	u.mu.Unlock()
}

// BroadcastLPM tells the UI to enter or leave the low-power glance
// presentation (§4.4.10), coordinated through this gate since it is
// the component that already owns the UI's IPC channel.
func (u *uiGateMachine) BroadcastLPM(enabled bool) {
	u.m.ipc("tklock_ui_set_lpm", enabled)
}
