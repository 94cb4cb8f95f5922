// Package inactivity implements the activity/inactivity tracker (C8,
// §4.5): a heartbeat-timer-backed debounce over raw activity pulses
// that publishes a single "active"/"inactive" boolean, plus the
// idle-shutdown timer and the one-shot activity-action registry used
// to defer a pending action until the user next touches the device.
package inactivity

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sailfishos-mce/mce-core/internal/busclient"
	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/heartbeat"
)

// Channel names this package owns.
const (
	ChanActivity = "inactivity.activity" // bool: pulses true on any raw activity
	ChanInactive = "inactivity.inactive" // bool: debounced, true once InactivityMs elapses with no pulse
)

const (
	activityTimerName  = "inactivity.timer"
	shutdownTimerName  = "inactivity.shutdown"
	defaultInactivityMs = 30000

	// WakelockActivity is held for a short fixed window after each
	// activity pulse, long enough for every chained output-trigger to
	// run before the CPU is allowed to suspend again (§4.5, §5).
	WakelockActivity   = "mce_inactivity_activity"
	activityHoldWindow = 5 * time.Second
)

// WakelockFunc acquires or releases a named wakelock.
type WakelockFunc func(name string, hold bool)

// ShutdownFunc is invoked once when the idle-shutdown deadline is
// reached (§4.5); the actual system-lifecycle IPC call is an external
// collaborator supplied by cmd/mced.
type ShutdownFunc func()

// Tracker owns the activity/inactivity datapipe channels, the
// idle-shutdown countdown, and the one-shot activity-action registry.
type Tracker struct {
	log      zerolog.Logger
	hub      *datapipe.Hub
	hb       *heartbeat.Service
	wakelock WakelockFunc
	shutdown ShutdownFunc

	inactivityMs int64
	shutdownMs   int64 // 0 disables idle-shutdown

	mu          sync.Mutex
	wakelockTmr *time.Timer

	actionsMu sync.Mutex
	actions   []pendingAction
	peers     *busclient.Tracker
}

type pendingAction struct {
	owner string
	fn    func()
}

// Deps bundles Tracker's collaborators.
type Deps struct {
	Log          zerolog.Logger
	Hub          *datapipe.Hub
	Heartbeat    *heartbeat.Service
	Wakelock     WakelockFunc
	Shutdown     ShutdownFunc
	InactivityMs int64 // debounce delay before "inactive" is published
	ShutdownMs   int64 // idle-shutdown deadline, 0 to disable
	PeerHooks    busclient.Hooks
}

// New builds a Tracker and declares its channels.
func New(d Deps) *Tracker {
	if d.Wakelock == nil {
		d.Wakelock = func(string, bool) {}
	}
	if d.Shutdown == nil {
		d.Shutdown = func() {}
	}
	if d.InactivityMs <= 0 {
		d.InactivityMs = defaultInactivityMs
	}
	t := &Tracker{
		log:          d.Log.With().Str("component", "inactivity").Logger(),
		hub:          d.Hub,
		hb:           d.Heartbeat,
		wakelock:     d.Wakelock,
		shutdown:     d.Shutdown,
		inactivityMs: d.InactivityMs,
		shutdownMs:   d.ShutdownMs,
	}
	t.peers = busclient.NewTracker(t.log, d.PeerHooks, 0)

	t.hub.Declare(ChanActivity, datapipe.ChannelOpts{Initial: false})
	t.hub.Declare(ChanInactive, datapipe.ChannelOpts{Initial: false})

	if _, err := t.hb.Create(activityTimerName, t.inactivityMs, t.onInactivityTimeout); err != nil {
		t.log.Warn().Err(err).Msg("failed to create inactivity timer")
	}
	if t.shutdownMs > 0 {
		if _, err := t.hb.Create(shutdownTimerName, t.shutdownMs, t.onShutdownTimeout); err != nil {
			t.log.Warn().Err(err).Msg("failed to create idle-shutdown timer")
		}
		t.hb.Start(shutdownTimerName)
	}

	t.hub.MustGet(ChanActivity).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "inactivity.pulse",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			if active, _ := v.(bool); active {
				t.onActivity()
			}
		},
	})
	return t
}

// Pulse records one unit of raw activity (key press, touch, incoming
// call, etc.), publishing it on ChanActivity so every subsystem that
// gates on "is the user currently doing something" sees it too.
func (t *Tracker) Pulse() {
	ch, err := t.hub.Get(ChanActivity)
	if err != nil {
		return
	}
	ch.Publish(true, datapipe.FromInput, datapipe.Cache)
}

func (t *Tracker) onActivity() {
	t.holdWakelock()
	t.setInactive(false)
	t.hb.Start(activityTimerName)
	if t.shutdownMs > 0 {
		t.hb.Start(shutdownTimerName)
	}
	t.fireActions()
}

func (t *Tracker) holdWakelock() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wakelockTmr != nil {
		t.wakelockTmr.Stop()
	} else {
		t.wakelock(WakelockActivity, true)
	}
	t.wakelockTmr = time.AfterFunc(activityHoldWindow, func() {
		t.mu.Lock()
		t.wakelockTmr = nil
		t.mu.Unlock()
		t.wakelock(WakelockActivity, false)
	})
}

func (t *Tracker) onInactivityTimeout() (bool, int64) {
	t.setInactive(true)
	return false, 0
}

func (t *Tracker) onShutdownTimeout() (bool, int64) {
	t.log.Warn().Msg("idle-shutdown deadline reached with no intervening activity")
	t.shutdown()
	return false, 0
}

func (t *Tracker) setInactive(inactive bool) {
	ch, err := t.hub.Get(ChanInactive)
	if err != nil {
		return
	}
	ch.Publish(inactive, datapipe.Internal, datapipe.Cache)
}

// RegisterAction defers fn until the next activity pulse, then fires
// it exactly once and forgets it (§4.5 "activity-action registration,
// fire once then clear"). owner is the bus peer that registered it; if
// that peer disconnects before the action fires, it is dropped rather
// than run late against a caller that is no longer there.
func (t *Tracker) RegisterAction(owner string, fn func()) {
	t.actionsMu.Lock()
	t.actions = append(t.actions, pendingAction{owner: owner, fn: fn})
	t.actionsMu.Unlock()

	t.peers.Watch(owner)
	t.peers.OnTransition(owner, func(p busclient.PeerInfo) {
		if p.State == busclient.StateStopped {
			t.dropActionsFor(owner)
		}
	})
}

func (t *Tracker) dropActionsFor(owner string) {
	t.actionsMu.Lock()
	defer t.actionsMu.Unlock()
	kept := t.actions[:0]
	for _, a := range t.actions {
		if a.owner != owner {
			kept = append(kept, a)
		}
	}
	t.actions = kept
}

func (t *Tracker) fireActions() {
	t.actionsMu.Lock()
	pending := t.actions
	t.actions = nil
	t.actionsMu.Unlock()

	for _, a := range pending {
		a.fn()
	}
}
