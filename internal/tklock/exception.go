package tklock

import (
	"sync"

	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/submode"
)

// exceptionMachine implements the UI exception handling state machine
// (§4.4.8), the most intricate machine in the mesh: while any exception
// bit is set, the display/tklock state is exempted from the mesh's
// usual policy and a snapshot of what policy would otherwise have
// chosen is kept so it can be restored once the exception stack
// empties. Priority order highest-to-lowest is Notif, Alarm, Call,
// Linger, Noanim (mcetypes.ExceptionType.Topmost), but the bitmask
// itself — not just the topmost bit — decides whether the stack is
// empty.
type exceptionMachine struct {
	m *Machine

	mu     sync.Mutex
	active mcetypes.ExceptionType

	// lingering is true once the last real exception bit has ended but
	// ExceptionLinger is still held open for a grace period (§4.4.8
	// "end-with-linger").
	lingering      bool
	lingerDeadline int64

	// snapshot captures what the rest of the mesh had decided just
	// before the first exception bit of this run was raised, so it can
	// be restored once the stack drains.
	snapshotValid  bool
	snapDisplay    mcetypes.DisplayState
	snapTKLockOn   bool
	snapDevicelock mcetypes.DevicelockState

	// restoreOK is the restore-at-end flag (§3.6): false suppresses the
	// snapshot reassertion in finish/restore entirely. It starts false
	// for a noanim exception, and is cleared by anything that makes the
	// snapshot stale before the stack drains (§4.4.8 bullets).
	restoreOK bool

	// inSync is false whenever something external (tklock removed by
	// the user, devicelock unlocked, display forced off) has moved the
	// world out of step with what the exception is holding, which
	// triggers a rethink instead of blindly reasserting the snapshot.
	inSync bool
	// wasCalled records whether Begin/End has ever been invoked, so
	// the very first rethink (before any exception has ever fired)
	// does nothing.
	wasCalled bool
}

func (x *exceptionMachine) init(m *Machine) {
	x.m = m
	x.inSync = true

	m.hub.Declare(ChanExceptionTopmost, datapipe.ChannelOpts{Initial: mcetypes.ExceptionNone})

	if _, err := m.hb.Create("tklock.exception.linger", NotifyGraceMs, x.onLingerTimeout); err != nil {
		m.log.Warn().Err(err).Msg("exception: failed to create linger timer")
	}

	if ch, err := m.hub.Get(ChanDisplayState); err == nil {
		ch.AttachOutputTrigger(datapipe.TriggerFunc{
			Tag: "tklock.exception.display",
			Fn: func(_ datapipe.SourcePolicy, v any) {
				ds, _ := v.(mcetypes.DisplayState)
				x.onDisplayStateChanged(ds)
			},
		})
	}
	if ch, err := m.hub.Get(ChanDevicelock); err == nil {
		ch.AttachOutputTrigger(datapipe.TriggerFunc{
			Tag: "tklock.exception.devicelock",
			Fn: func(_ datapipe.SourcePolicy, v any) {
				dl, _ := v.(mcetypes.DevicelockState)
				if dl == mcetypes.DevicelockUnlocked {
					x.mu.Lock()
					x.restoreOK = false
					x.mu.Unlock()
					x.rethink()
				}
			},
		})
	}
	m.sm.AttachFilter(x.onSubmodeFilter)
	if ch, err := m.hub.Get(ChanCallState); err == nil {
		ch.AttachOutputTrigger(datapipe.TriggerFunc{
			Tag: "tklock.exception.call",
			Fn: func(_ datapipe.SourcePolicy, v any) {
				cs, _ := v.(mcetypes.CallState)
				x.onCallStateChanged(cs)
			},
		})
	}
	if ch, err := m.hub.Get(ChanProximityEffective); err == nil {
		ch.AttachOutputTrigger(datapipe.TriggerFunc{
			Tag: "tklock.exception.proximity",
			Fn: func(_ datapipe.SourcePolicy, v any) {
				covered, _ := v.(bool)
				x.onProximityChanged(covered)
			},
		})
	}
}

// Begin raises one or more exception bits (§4.4.8 "start"). The first
// bit raised while the stack was empty takes a snapshot of the
// currently-policed display/tklock state and decides the restore-at-end
// flag: true, except a noanim exception always sets it false, and so
// does starting while the system isn't in USER mode with init done.
func (x *exceptionMachine) Begin(bits mcetypes.ExceptionType) {
	x.mu.Lock()
	wasEmpty := x.active == mcetypes.ExceptionNone && !x.lingering
	x.active |= bits
	x.lingering = false
	x.lingerDeadline = 0
	x.wasCalled = true
	if wasEmpty {
		x.takeSnapshotLocked()
		x.restoreOK = bits&mcetypes.ExceptionNoanim == 0 && x.m.systemReady()
	}
	x.inSync = true
	mask := x.active
	x.mu.Unlock()

	x.m.hb.Stop("tklock.exception.linger")
	x.publishTopmost(mask)
}

// End lowers bits from the active stack (§4.4.8 "end"). If lingerMs is
// positive and the stack becomes empty, ExceptionLinger is held until
// the deadline `max(current deadline, now+lingerMs)` instead of
// restoring immediately, giving a trailing notification banner time to
// fade; lingerMs <= 0 restores immediately.
func (x *exceptionMachine) End(bits mcetypes.ExceptionType, lingerMs int64) {
	x.mu.Lock()
	x.active &^= bits
	empty := x.active == mcetypes.ExceptionNone
	x.mu.Unlock()

	if !empty {
		x.publishTopmost(x.snapshotMask())
		return
	}
	if lingerMs > 0 {
		now := nowMs()
		x.mu.Lock()
		newDeadline := now + lingerMs
		if x.lingering && x.lingerDeadline > newDeadline {
			newDeadline = x.lingerDeadline
		}
		x.lingering = true
		x.lingerDeadline = newDeadline
		remaining := newDeadline - now
		x.mu.Unlock()

		x.m.hb.SetPeriod("tklock.exception.linger", remaining)
		x.m.hb.Start("tklock.exception.linger")
		x.publishTopmost(mcetypes.ExceptionLinger)
		return
	}
	x.restore()
}

func (x *exceptionMachine) onLingerTimeout() (bool, int64) {
	x.mu.Lock()
	x.lingering = false
	x.lingerDeadline = 0
	x.mu.Unlock()
	x.restore()
	return false, 0
}

// Active reports the current exception bitmask.
func (x *exceptionMachine) Active() mcetypes.ExceptionType {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.active
}

// IsException reports whether any real (non-linger) exception bit is
// set; used by sub-machines that must not act while the UI is exempted
// (autolock, proximity-lock, lid).
func (x *exceptionMachine) IsException() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.active != mcetypes.ExceptionNone
}

func (x *exceptionMachine) takeSnapshotLocked() {
	x.snapshotValid = true
	x.snapDisplay = x.m.displayState(ChanDisplayNext)
	x.snapTKLockOn = x.m.sm.Get().Has(tklockBit())
	x.snapDevicelock = x.m.devicelockState()
}

func (x *exceptionMachine) snapshotMask() mcetypes.ExceptionType {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.active.Topmost()
}

// restore implements "finish" (§4.4.8 "restore"/"finish") once the
// stack has fully drained: if the restore-at-end flag was cleared at
// some point since the exception began, the snapshot is discarded
// without reasserting anything. Otherwise, unless something has since
// knocked the world out of sync (in which case a full rethink runs
// instead), tklock is restored unconditionally and display is restored
// unless proximity-actual is not open or the filtered lid is closed.
func (x *exceptionMachine) restore() {
	x.mu.Lock()
	if !x.snapshotValid {
		x.mu.Unlock()
		x.publishTopmost(mcetypes.ExceptionNone)
		return
	}
	doRestore := x.restoreOK
	outOfSync := !x.inSync
	display := x.snapDisplay
	tklockOn := x.snapTKLockOn
	x.snapshotValid = false
	x.mu.Unlock()

	x.publishTopmost(mcetypes.ExceptionNone)

	if !doRestore {
		return
	}
	if outOfSync {
		x.rethink()
		return
	}
	x.m.sm.SetBit(tklockBit(), tklockOn)
	if x.m.coverState(ChanProximityActual) != mcetypes.CoverOpen || x.m.coverState(ChanLidFiltered) == mcetypes.CoverClosed {
		return
	}
	if ch, err := x.m.hub.Get(ChanDisplayNext); err == nil {
		ch.Publish(display, datapipe.Internal, datapipe.Cache)
	}
}

// rethink re-evaluates the world against the exception state without
// assuming the snapshot is still trustworthy: used when tklock was
// removed by the user while an exception was up, the devicelock was
// unlocked, the display was forced off from elsewhere, or an incoming
// call starts ringing mid-exception and the UI needs to resync instead
// of restoring a stale snapshot.
func (x *exceptionMachine) rethink() {
	x.mu.Lock()
	if !x.wasCalled {
		x.mu.Unlock()
		return
	}
	x.inSync = false
	active := x.active
	x.mu.Unlock()

	if active == mcetypes.ExceptionNone {
		// Nothing currently held open by an exception; resyncing just
		// means the next Begin will take a fresh snapshot.
		x.mu.Lock()
		x.snapshotValid = false
		x.inSync = true
		x.mu.Unlock()
		return
	}
	x.publishTopmost(active.Topmost())
}

func (x *exceptionMachine) onDisplayStateChanged(ds mcetypes.DisplayState) {
	if !x.IsException() {
		return
	}
	if ds.IsPoweredOff() {
		// Display went dark while an exception is active: the snapshot
		// this exception was guarding is now stale (§4.4.8
		// "display-off-while-exception-active"). Unless the active
		// exception is a call, the restore-at-end flag is cleared too.
		x.mu.Lock()
		x.inSync = false
		if x.active&mcetypes.ExceptionCall == 0 {
			x.restoreOK = false
		}
		x.mu.Unlock()
	}
}

// onSubmodeFilter observes tklock bit removal through the submode
// filter chain (§4.4.8 "tklock removed out-of-sync"): if the user (or
// anything else) clears the bit while an exception's restore flag is
// still true, and the active exception isn't a call, the flag is
// cleared so finish never reasserts a stale snapshot. Purely an
// observer: it never changes what's requested.
func (x *exceptionMachine) onSubmodeFilter(current, requested submode.Mask) submode.Mask {
	if current.Has(tklockBit()) && !requested.Has(tklockBit()) {
		x.mu.Lock()
		if x.restoreOK && x.active&mcetypes.ExceptionCall == 0 {
			x.restoreOK = false
		}
		x.mu.Unlock()
	}
	return requested
}

func (x *exceptionMachine) onCallStateChanged(cs mcetypes.CallState) {
	if cs == mcetypes.CallRinging {
		x.Begin(mcetypes.ExceptionCall)
		return
	}
	if cs == mcetypes.CallNone {
		x.mu.Lock()
		wasCall := x.active&mcetypes.ExceptionCall != 0
		x.mu.Unlock()
		if wasCall {
			x.End(mcetypes.ExceptionCall, 0)
		}
	}
}

// onProximityChanged implements the CALL+HANDSET+covered
// proximity-blanking rule: while a call exception is active and the
// route is the earpiece, a covered sensor forces display off rather
// than leaving the exception's snapshot display state in force.
func (x *exceptionMachine) onProximityChanged(covered bool) {
	x.mu.Lock()
	inCall := x.active&mcetypes.ExceptionCall != 0
	x.mu.Unlock()
	if !inCall || !covered {
		return
	}
	route := x.m.audioRoute()
	if route != mcetypes.AudioRouteHandset {
		return
	}
	if ch, err := x.m.hub.Get(ChanDisplayNext); err == nil {
		ch.Publish(mcetypes.DisplayOff, datapipe.Internal, datapipe.Cache)
	}
}

func (x *exceptionMachine) publishTopmost(t mcetypes.ExceptionType) {
	ch, err := x.m.hub.Get(ChanExceptionTopmost)
	if err != nil {
		return
	}
	ch.Publish(t, datapipe.Internal, datapipe.Cache)
}
