package tklock

import (
	"os"
	"sync"

	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/settings"
)

// lidObservedFlagPath persists whether a hall-effect lid close has ever
// been seen on this device, across restarts. Devices with no lid
// sensor at all never report a close, and the ALS-only debounce below
// must never fire on such hardware (§4.4.6 "undecided until first
// close").
const lidObservedFlagPath = "/var/lib/mce/tklock-lid-observed"

const (
	lidWaitForCloseMs = 2000
	lidWaitForLightMs = 2000
)

// lidMachine derives a debounced, ALS-corroborated lid-filtered cover
// state from the raw hall-effect sensor (§4.4.6). Until a real close
// has been observed at least once, the filtered state only follows the
// hall sensor and the ambient light sensor never moves it, since a device
// with no lid at all would otherwise spuriously appear to "close" the
// first time it's covered by a pocket.
type lidMachine struct {
	m *Machine

	mu             sync.Mutex
	everClosed     bool
	rawClosed      bool
	alsDark        bool
	closedViaALS   bool
}

func (l *lidMachine) init(m *Machine) {
	l.m = m

	m.hub.Declare(ChanLidRaw, datapipe.ChannelOpts{Initial: mcetypes.CoverUndefined, MayMutate: false})
	m.hub.Declare(ChanALSLux, datapipe.ChannelOpts{Initial: int64(-1), MayMutate: false})
	m.hub.Declare(ChanLidFiltered, datapipe.ChannelOpts{Initial: mcetypes.CoverUndefined})

	l.everClosed = loadLidObservedFlag(m)

	if _, err := m.hb.Create("tklock.lid.wait_for_close", lidWaitForCloseMs, l.onWaitForCloseElapsed); err != nil {
		m.log.Warn().Err(err).Msg("lid: failed to create wait-for-close timer")
	}
	if _, err := m.hb.Create("tklock.lid.wait_for_light", lidWaitForLightMs, l.onWaitForLightElapsed); err != nil {
		m.log.Warn().Err(err).Msg("lid: failed to create wait-for-light timer")
	}

	m.hub.MustGet(ChanLidRaw).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.lid.raw",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			cs, _ := v.(mcetypes.CoverState)
			l.onRaw(cs)
		},
	})
	m.hub.MustGet(ChanALSLux).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.lid.als",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			lux, _ := v.(int64)
			l.onLux(lux)
		},
	})
}

func (l *lidMachine) onRaw(cs mcetypes.CoverState) {
	closed := cs == mcetypes.CoverClosed

	l.mu.Lock()
	l.rawClosed = closed
	first := closed && !l.everClosed
	if closed {
		l.everClosed = true
	}
	l.mu.Unlock()

	if first {
		saveLidObservedFlag()
	}

	l.m.hb.Stop("tklock.lid.wait_for_close")
	l.m.hb.Stop("tklock.lid.wait_for_light")

	if closed {
		l.publishFiltered(mcetypes.CoverClosed)
	} else {
		l.publishFiltered(mcetypes.CoverOpen)
	}
}

func (l *lidMachine) onLux(lux int64) {
	if !l.m.settings.Get(settings.KeyALSEnabled).Bool || !l.m.settings.Get(settings.KeyALSLidFilter).Bool {
		return
	}
	limit := l.m.settings.Get(settings.KeyALSLidLuxLimit).Int
	dark := lux >= 0 && lux <= limit

	l.mu.Lock()
	wasDark := l.alsDark
	l.alsDark = dark
	rawOpen := !l.rawClosed
	everClosed := l.everClosed
	l.mu.Unlock()

	if !rawOpen || !everClosed {
		// The hall sensor is authoritative while it reports closed, and
		// ALS inference is never trusted before the first real close.
		return
	}

	if dark && !wasDark {
		l.m.hb.Stop("tklock.lid.wait_for_light")
		l.m.hb.Start("tklock.lid.wait_for_close")
	} else if !dark && wasDark {
		l.m.hb.Stop("tklock.lid.wait_for_close")
		l.mu.Lock()
		stillALSClosed := l.closedViaALS
		l.mu.Unlock()
		if stillALSClosed {
			l.m.hb.Start("tklock.lid.wait_for_light")
		}
	}
}

func (l *lidMachine) onWaitForCloseElapsed() (bool, int64) {
	l.mu.Lock()
	eligible := l.alsDark && !l.rawClosed && l.everClosed
	if eligible {
		l.closedViaALS = true
	}
	l.mu.Unlock()
	if eligible {
		l.publishFiltered(mcetypes.CoverClosed)
	}
	return false, 0
}

func (l *lidMachine) onWaitForLightElapsed() (bool, int64) {
	l.mu.Lock()
	eligible := !l.alsDark && l.closedViaALS && !l.rawClosed
	if eligible {
		l.closedViaALS = false
	}
	l.mu.Unlock()
	if eligible {
		l.publishFiltered(mcetypes.CoverOpen)
	}
	return false, 0
}

func (l *lidMachine) publishFiltered(cs mcetypes.CoverState) {
	if ch, err := l.m.hub.Get(ChanLidFiltered); err == nil {
		ch.Publish(cs, datapipe.Internal, datapipe.Cache)
	}
}

func loadLidObservedFlag(m *Machine) bool {
	b, err := os.ReadFile(lidObservedFlagPath)
	if err != nil {
		return false
	}
	return len(b) > 0 && b[0] == '1'
}

func saveLidObservedFlag() {
	_ = os.WriteFile(lidObservedFlagPath, []byte("1"), 0o644)
}
