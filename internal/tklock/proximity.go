package tklock

import (
	"sync"
	"time"

	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/settings"
)

const proximityHistoryDepth = 16

type proximityHistEntry struct {
	atMs    int64
	covered bool
}

// proximityMachine turns the raw proximity sensor cover state into the
// mesh's "effective" covered/uncovered signal (§4.4.2): covered is
// reported immediately, but a return to uncovered is held behind a
// delay (longer during an active call) so a momentary gap — an ear
// brushing the sensor mid-call — doesn't flash the display. A short
// history ring of effective transitions feeds the low-power-mode
// heuristics (§4.4.10).
type proximityMachine struct {
	m *Machine

	mu        sync.Mutex
	actual    mcetypes.CoverState
	effective bool
	history   [proximityHistoryDepth]proximityHistEntry
	histLen   int
	histNext  int

	wakelockHeld bool
	sensorRefs   int
}

func (p *proximityMachine) init(m *Machine) {
	p.m = m

	m.hub.Declare(ChanProximityActual, datapipe.ChannelOpts{Initial: mcetypes.CoverUndefined})
	m.hub.Declare(ChanProximityEffective, datapipe.ChannelOpts{Initial: false})

	if _, err := m.hb.Create("tklock.proximity.uncover_delay", int64(m.settings.Get(settings.KeyProximityDelayDefaultMs).Int), p.onDelayElapsed); err != nil {
		m.log.Warn().Err(err).Msg("proximity: failed to create uncover-delay timer")
	}

	m.hub.MustGet(ChanProximityActual).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.proximity.actual",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			cs, _ := v.(mcetypes.CoverState)
			p.onActual(cs)
		},
	})
}

// RequestSensor/ReleaseSensor ref-count interest in the proximity
// sensor being powered; sensorfwd itself is an external collaborator
// (§1), so this just gates the IPC calls that ask it to start/stop.
func (p *proximityMachine) RequestSensor() {
	p.mu.Lock()
	p.sensorRefs++
	first := p.sensorRefs == 1
	p.mu.Unlock()
	if first {
		p.m.ipc("sensorfwd.start", "proximity")
	}
}

func (p *proximityMachine) ReleaseSensor() {
	p.mu.Lock()
	if p.sensorRefs > 0 {
		p.sensorRefs--
	}
	last := p.sensorRefs == 0
	p.mu.Unlock()
	if last {
		p.m.ipc("sensorfwd.stop", "proximity")
	}
}

func (p *proximityMachine) onActual(cs mcetypes.CoverState) {
	covered := cs == mcetypes.CoverClosed

	p.mu.Lock()
	p.actual = cs
	wasEffective := p.effective
	p.mu.Unlock()

	p.m.ipc("led.pattern", "PatternProximityCover", covered)

	if covered {
		p.m.hb.Stop("tklock.proximity.uncover_delay")
		p.releaseWakelock()
		if !wasEffective {
			p.setEffective(true)
		}
		return
	}

	if !wasEffective {
		return
	}
	delay := p.m.settings.Get(settings.KeyProximityDelayDefaultMs).Int
	if p.m.callState() == mcetypes.CallActive {
		delay = p.m.settings.Get(settings.KeyProximityDelayInCallMs).Int
	}
	p.m.hb.SetPeriod("tklock.proximity.uncover_delay", delay)
	p.holdWakelock()
	p.m.hb.Start("tklock.proximity.uncover_delay")
}

func (p *proximityMachine) onDelayElapsed() (bool, int64) {
	p.mu.Lock()
	stillUncovered := p.actual != mcetypes.CoverClosed
	p.mu.Unlock()
	p.releaseWakelock()
	if stillUncovered {
		p.setEffective(false)
	}
	return false, 0
}

func (p *proximityMachine) setEffective(covered bool) {
	p.mu.Lock()
	p.effective = covered
	p.history[p.histNext] = proximityHistEntry{atMs: nowMs(), covered: covered}
	p.histNext = (p.histNext + 1) % proximityHistoryDepth
	if p.histLen < proximityHistoryDepth {
		p.histLen++
	}
	p.mu.Unlock()

	if ch, err := p.m.hub.Get(ChanProximityEffective); err == nil {
		ch.Publish(covered, datapipe.Internal, datapipe.Cache)
	}
}

func (p *proximityMachine) holdWakelock() {
	if p.wakelockHeld {
		return
	}
	p.wakelockHeld = true
	p.m.wakelock(WakelockProximityDelay, true)
}

func (p *proximityMachine) releaseWakelock() {
	if !p.wakelockHeld {
		return
	}
	p.wakelockHeld = false
	p.m.wakelock(WakelockProximityDelay, false)
}

// History returns the most recent effective-proximity transitions,
// oldest first, for the low-power-mode heuristics (§4.4.10).
func (p *proximityMachine) History() []proximityHistEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]proximityHistEntry, p.histLen)
	start := (p.histNext - p.histLen + proximityHistoryDepth) % proximityHistoryDepth
	for i := 0; i < p.histLen; i++ {
		out[i] = p.history[(start+i)%proximityHistoryDepth]
	}
	return out
}

// proximityLockMachine re-locks the UI when the sensor stays covered
// for a sustained period while the screen is unlocked (§4.4.5) — for
// example a phone settling face-down on a table. It uses a plain,
// non-heartbeat timer deliberately: this is a liveness feature that
// only matters while the CPU is already awake and running, so it must
// not itself cause a suspend-surviving wakeup.
type proximityLockMachine struct {
	m *Machine

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
}

func (pl *proximityLockMachine) init(m *Machine) {
	pl.m = m

	m.hub.MustGet(ChanProximityEffective).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.proxlock.effective",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			covered, _ := v.(bool)
			pl.onEffective(covered)
		},
	})
}

func (pl *proximityLockMachine) onEffective(covered bool) {
	if !covered {
		pl.cancel()
		return
	}
	if !pl.eligible() {
		return
	}
	pl.mu.Lock()
	if pl.pending {
		pl.mu.Unlock()
		return
	}
	pl.pending = true
	pl.m.proximity.RequestSensor()
	pl.timer = time.AfterFunc(durMs(ProximityLockDelayMs), pl.fire)
	pl.mu.Unlock()
}

func (pl *proximityLockMachine) fire() {
	pl.mu.Lock()
	pl.pending = false
	pl.mu.Unlock()
	pl.m.proximity.ReleaseSensor()

	if !pl.eligible() {
		return
	}
	// Re-check the sensor is still covered right now rather than
	// trusting the state from three seconds ago (suspend/resume
	// re-check, §4.4.5).
	if !pl.m.proximity.effectiveNow() {
		return
	}
	pl.m.sm.SetBit(tklockBit(), true)
}

func (pl *proximityLockMachine) cancel() {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.timer != nil {
		pl.timer.Stop()
		pl.timer = nil
	}
	if pl.pending {
		pl.pending = false
		pl.m.proximity.ReleaseSensor()
	}
}

// eligible reports whether proximity-lock should be allowed to act:
// the screen must be on (so covering the sensor is ambiguous with
// pocketing rather than already blanked), tklock must not already be
// engaged, and no UI exception may be in progress.
func (pl *proximityLockMachine) eligible() bool {
	if pl.m.sm.Get().Has(tklockBit()) {
		return false
	}
	if pl.m.exception.IsException() {
		return false
	}
	ds := pl.m.displayState(ChanDisplayState)
	return ds.IsOnOrDim()
}

// effectiveNow re-reads the cached effective-proximity value directly,
// bypassing the history ring.
func (p *proximityMachine) effectiveNow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.effective
}
