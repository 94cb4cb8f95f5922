package tklock

import (
	"sync"

	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/settings"
)

// LPM trigger bits for KeyLPMTriggerBitmap (§4.4.10).
const (
	lpmTriggerPocket = 1 << iota
	lpmTriggerHover
)

const (
	// lpmPocketMinCoverMs is how long the sensor must have stayed
	// covered before an uncover is read as "pulled out of a pocket"
	// rather than a quick hover wave.
	lpmPocketMinCoverMs = 700
	lpmHoverMaxCoverMs  = 400
)

// lpmMachine decides when to show the low-power glance UI instead of a
// fully blanked display (§4.4.10). It reads the proximity effective
// history kept by proximityMachine and looks for the two gesture
// shapes the glance UI exists for: pulling the phone out of a pocket
// (a long cover immediately followed by an uncover) and a deliberate
// hover wave over a resting phone (a brief cover/uncover). Only
// transitions since the display last went fully off are considered,
// so a stale cover/uncover pair from a previous wake cycle never
// retroactively triggers LPM.
type lpmMachine struct {
	m *Machine

	mu       sync.Mutex
	active   bool
	sinceMs  int64
}

func (l *lpmMachine) init(m *Machine) {
	l.m = m

	m.hub.MustGet(ChanDisplayState).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.lpm.display",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			ds, _ := v.(mcetypes.DisplayState)
			l.onDisplayState(ds)
		},
	})
	m.hub.MustGet(ChanProximityEffective).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.lpm.proximity",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			covered, _ := v.(bool)
			if !covered {
				l.onUncover()
			}
		},
	})
}

func (l *lpmMachine) onDisplayState(ds mcetypes.DisplayState) {
	if ds == mcetypes.DisplayOff {
		l.mu.Lock()
		l.sinceMs = nowMs()
		l.mu.Unlock()
		return
	}
	if ds.IsOnOrDim() {
		l.mu.Lock()
		wasActive := l.active
		l.active = false
		l.mu.Unlock()
		if wasActive {
			l.m.uiGate.BroadcastLPM(false)
		}
	}
}

func (l *lpmMachine) onUncover() {
	if !l.eligible() {
		return
	}
	hist := l.m.proximity.History()
	l.mu.Lock()
	since := l.sinceMs
	l.mu.Unlock()

	var relevant []proximityHistEntry
	for _, e := range hist {
		if e.atMs >= since {
			relevant = append(relevant, e)
		}
	}
	if len(relevant) < 2 {
		return
	}
	last := relevant[len(relevant)-1]
	prev := relevant[len(relevant)-2]
	if last.covered || !prev.covered {
		return
	}
	coveredFor := last.atMs - prev.atMs

	bitmap := l.m.settings.Get(settings.KeyLPMTriggerBitmap).Int
	switch {
	case bitmap&lpmTriggerPocket != 0 && coveredFor >= lpmPocketMinCoverMs:
		l.enter()
	case bitmap&lpmTriggerHover != 0 && coveredFor > 0 && coveredFor < lpmHoverMaxCoverMs:
		l.enter()
	}
}

func (l *lpmMachine) eligible() bool {
	if l.m.exception.IsException() {
		return false
	}
	if !l.m.sm.Get().Has(tklockBit()) {
		return false
	}
	return l.m.displayState(ChanDisplayState) == mcetypes.DisplayOff
}

func (l *lpmMachine) enter() {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return
	}
	l.active = true
	l.mu.Unlock()

	if ch, err := l.m.hub.Get(ChanDisplayNext); err == nil {
		ch.Publish(mcetypes.DisplayLPMOn, datapipe.Internal, datapipe.Cache)
	}
	l.m.uiGate.BroadcastLPM(true)
}
