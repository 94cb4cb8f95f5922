// Package tklock implements the TKLock core (C7, §4.4): the mesh of
// small state machines that decide whether the touch/key lock screen
// is shown, the display is powered, input is grabbed, and the
// low-power glance UI is entered. Each sub-machine lives in its own
// file and is wired onto shared datapipe.Hub channels by New.
package tklock

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sailfishos-mce/mce-core/internal/busclient"
	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/heartbeat"
	"github.com/sailfishos-mce/mce-core/internal/mathx"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/settings"
	"github.com/sailfishos-mce/mce-core/internal/submode"
	"github.com/sailfishos-mce/mce-core/internal/sysfsio"
	"github.com/sailfishos-mce/mce-core/internal/timex"
	"github.com/sailfishos-mce/mce-core/internal/workerpool"
)

// Channel names shared across the mesh and with the rest of the
// daemon. Declared once here so every sub-machine file agrees on the
// wire names.
const (
	ChanDisplayNext      = "display.next"
	ChanDisplayState     = "display.state"
	ChanProximityActual  = "tklock.proximity.actual"
	ChanProximityEffective = "tklock.proximity.effective"
	ChanLidRaw           = "tklock.lid.raw"
	ChanLidFiltered      = "tklock.lid.filtered"
	ChanALSLux           = "tklock.als.lux"
	ChanDevicelock       = "devicelock.state"
	ChanCallState        = "call.state"
	ChanAudioRoute       = "audio.route"
	ChanSystemState      = "system.state"
	ChanCompositorUp     = "compositor.running"
	ChanLipstickUp       = "lipstick.running"
	ChanExceptionTopmost = "tklock.exception.topmost"
	ChanTKLockUIEnabled  = "tklock.ui_enabled"
	ChanKbdSlideOpen     = "tklock.kbd_slide.open"
	ChanActivity         = "inactivity.activity"
)

// Wakelock names (§5). Held/released via WakelockFunc; a daemon that
// has no real suspend-blocker wires a no-op.
const (
	WakelockProximityDelay = "mce_tklock_proximity_delay"
	WakelockNotify         = "mce_tklock_notify"
)

// WakelockFunc acquires or releases a named wakelock. The real suspend
// blocker is an external collaborator (§1); tests and the default
// daemon wiring can supply a no-op or a counting stub.
type WakelockFunc func(name string, hold bool)

// IPCFunc issues a fire-and-forget or reply-expecting IPC call; the
// transport itself is out of scope (§1) and supplied by cmd/mced.
type IPCFunc func(method string, args ...any)

// Clamp bounds, pulled into one place per §8 B3/B4.
const (
	MinAutolockDelayMs = 1000
	MaxAutolockDelayMs = 300000

	ProximityLockDelayMs = 3000

	AutolockAfterDevicelockWindowMs = 60000
	LipstickStartupGraceMs          = 5000

	NotifyGraceMs = 2000

	NotifLengthMinMs = 1000
	NotifLengthMaxMs = 30000
	NotifRenewMinMs  = 0
	NotifRenewMaxMs  = 5000

	DoubleTapRetryScheduleMs = "2,4,8,16,30" // documented for readability; see legacyinput.go doubleTapRetrySeq
)

// Machine owns every TKLock sub-machine's state and wires them onto
// shared channels.
type Machine struct {
	log      zerolog.Logger
	hub      *datapipe.Hub
	hb       *heartbeat.Service
	pool     *workerpool.Pool
	sm       *submode.Register
	settings *settings.Tree
	wakelock WakelockFunc
	ipc      IPCFunc

	ts  *sysfsio.Control
	kp  *sysfsio.Control
	dt  *sysfsio.Control

	peerHooks busclient.Hooks

	exception    exceptionMachine
	proximity    proximityMachine
	autolock     autolockMachine
	afterDL      afterDevicelockMachine
	proxLock     proximityLockMachine
	lid          lidMachine
	kbdSlide     kbdSlideMachine
	uiGate       uiGateMachine
	lpm          lpmMachine
	legacyInput  legacyInputMachine
	doubleTap    doubleTapMachine
	notif        notifMachine
}

// Deps bundles Machine's external collaborators.
type Deps struct {
	Log      zerolog.Logger
	Hub      *datapipe.Hub
	Heartbeat *heartbeat.Service
	Pool     *workerpool.Pool
	Submode  *submode.Register
	Settings *settings.Tree
	Wakelock WakelockFunc
	IPC      IPCFunc

	TouchscreenControl *sysfsio.Control
	KeypadControl      *sysfsio.Control
	DoubleTapControl   *sysfsio.Control

	// PeerHooks drives notifMachine's peer name-owner monitor (§4.4.13,
	// §3.7). A zero value leaves peers permanently in the
	// query-owner state, which is harmless: slots are still served, they
	// just aren't cleaned up early when their owning peer crashes before
	// its autostop deadline.
	PeerHooks busclient.Hooks
}

// New builds a Machine and attaches every sub-machine to the shared
// channels.
func New(d Deps) *Machine {
	if d.Wakelock == nil {
		d.Wakelock = func(string, bool) {}
	}
	if d.IPC == nil {
		d.IPC = func(string, ...any) {}
	}
	m := &Machine{
		log:      d.Log.With().Str("component", "tklock").Logger(),
		hub:      d.Hub,
		hb:       d.Heartbeat,
		pool:     d.Pool,
		sm:       d.Submode,
		settings: d.Settings,
		wakelock: d.Wakelock,
		ipc:      d.IPC,
		ts:        d.TouchscreenControl,
		kp:        d.KeypadControl,
		dt:        d.DoubleTapControl,
		peerHooks: d.PeerHooks,
	}
	m.proximity.init(m)
	m.exception.init(m)
	m.autolock.init(m)
	m.afterDL.init(m)
	m.proxLock.init(m)
	m.lid.init(m)
	m.kbdSlide.init(m)
	m.uiGate.init(m)
	m.lpm.init(m)
	m.legacyInput.init(m)
	m.doubleTap.init(m)
	m.notif.init(m)
	return m
}

func clampInt64(v, lo, hi int64) int64 { return mathx.Clamp(v, lo, hi) }

func nowMs() int64 { return timex.NowMs() }

func durMs(ms int64) time.Duration { return timex.MsToDuration(ms) }

// displayState reads the cached display.state value, defaulting to
// Undefined before the channel is ever published.
func (m *Machine) displayState(chanName string) mcetypes.DisplayState {
	ch, err := m.hub.Get(chanName)
	if err != nil {
		return mcetypes.DisplayUndefined
	}
	raw, _ := ch.Value()
	v, ok := raw.(mcetypes.DisplayState)
	if !ok {
		return mcetypes.DisplayUndefined
	}
	return v
}

func (m *Machine) coverState(chanName string) mcetypes.CoverState {
	ch, err := m.hub.Get(chanName)
	if err != nil {
		return mcetypes.CoverUndefined
	}
	raw, _ := ch.Value()
	v, ok := raw.(mcetypes.CoverState)
	if !ok {
		return mcetypes.CoverUndefined
	}
	return v
}

func (m *Machine) boolValue(chanName string) bool {
	ch, err := m.hub.Get(chanName)
	if err != nil {
		return false
	}
	raw, _ := ch.Value()
	v, _ := raw.(bool)
	return v
}

// audioRoute reads the cached audio route, defaulting to Undefined.
func (m *Machine) audioRoute() mcetypes.AudioRoute {
	ch, err := m.hub.Get(ChanAudioRoute)
	if err != nil {
		return mcetypes.AudioRouteUndefined
	}
	raw, _ := ch.Value()
	v, _ := raw.(mcetypes.AudioRoute)
	return v
}

// tklockBit is the submode.Bit the mesh's tklock state is carried on.
func tklockBit() submode.Bit { return submode.TKLock }

// callState reads the cached call state, defaulting to CallInvalid.
func (m *Machine) callState() mcetypes.CallState {
	ch, err := m.hub.Get(ChanCallState)
	if err != nil {
		return mcetypes.CallInvalid
	}
	raw, _ := ch.Value()
	v, ok := raw.(mcetypes.CallState)
	if !ok {
		return mcetypes.CallInvalid
	}
	return v
}

// devicelockState reads the cached devicelock state, defaulting to
// Undefined.
func (m *Machine) devicelockState() mcetypes.DevicelockState {
	ch, err := m.hub.Get(ChanDevicelock)
	if err != nil {
		return mcetypes.DevicelockUndefined
	}
	raw, _ := ch.Value()
	v, _ := raw.(mcetypes.DevicelockState)
	return v
}

// systemReady reports whether the device is in USER mode with the
// bootup submode bit already cleared, the condition an exception's
// restore-at-end flag additionally requires (§4.4.8).
func (m *Machine) systemReady() bool {
	ch, err := m.hub.Get(ChanSystemState)
	if err != nil {
		return false
	}
	raw, _ := ch.Value()
	s, _ := raw.(mcetypes.SystemState)
	return s == mcetypes.SystemUser && !m.sm.Get().Has(submode.Bootup)
}
