package tklock

import (
	"sync"

	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/settings"
)

// autolockMachine engages tklock after a period of inactivity (§4.4.3).
// The deadline is a heartbeat timer so it keeps counting across a
// suspend that the inactivity shutdown machine (C8) didn't itself
// trigger, and it is kicked back to the full delay on every activity
// pulse.
type autolockMachine struct {
	m *Machine
}

func (a *autolockMachine) init(m *Machine) {
	a.m = m

	delay := clampInt64(m.settings.Get(settings.KeyAutolockDelayMs).Int, MinAutolockDelayMs, MaxAutolockDelayMs)
	if _, err := m.hb.Create("tklock.autolock", delay, a.onTimeout); err != nil {
		m.log.Warn().Err(err).Msg("autolock: failed to create timer")
	}

	m.settings.Watch(settings.KeyAutolockDelayMs, func(v settings.Value) {
		m.hb.SetPeriod("tklock.autolock", clampInt64(v.Int, MinAutolockDelayMs, MaxAutolockDelayMs))
	})
	m.settings.Watch(settings.KeyAutolockEnabled, func(v settings.Value) {
		if v.Bool {
			a.rearm()
		} else {
			m.hb.Stop("tklock.autolock")
		}
	})

	m.hub.MustGet(ChanActivity).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.autolock.activity",
		Fn: func(_ datapipe.SourcePolicy, _ any) { a.rearm() },
	})
	m.hub.MustGet(ChanDisplayState).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.autolock.display",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			ds, _ := v.(mcetypes.DisplayState)
			if ds.IsOnOrDim() {
				a.rearm()
			} else {
				m.hb.Stop("tklock.autolock")
			}
		},
	})
}

// rearm (re)starts the countdown from the full configured delay,
// provided the mesh is currently in a state where autolock should run
// at all; it is a no-op (leaving the timer stopped) otherwise.
func (a *autolockMachine) rearm() {
	if !a.eligible() {
		a.m.hb.Stop("tklock.autolock")
		return
	}
	a.m.hb.Start("tklock.autolock")
}

func (a *autolockMachine) eligible() bool {
	if !a.m.settings.Get(settings.KeyAutolockEnabled).Bool {
		return false
	}
	if a.m.sm.Get().Has(tklockBit()) {
		return false
	}
	if a.m.exception.IsException() {
		return false
	}
	return a.m.displayState(ChanDisplayState).IsOnOrDim()
}

func (a *autolockMachine) onTimeout() (bool, int64) {
	if a.eligible() {
		a.m.sm.SetBit(tklockBit(), true)
	}
	return false, 0
}

// afterDevicelockMachine engages tklock a fixed window after the
// devicelock provider locks the device, unless that lock happened
// during lipstick's own startup grace period — right after boot the
// UI briefly reports locked before it has finished drawing anything,
// and auto-engaging tklock in that window would visually race the
// lockscreen's own first paint (§4.4.4).
type afterDevicelockMachine struct {
	m *Machine

	mu              sync.Mutex
	lipstickUpSince int64
}

func (ad *afterDevicelockMachine) init(m *Machine) {
	ad.m = m

	if _, err := m.hb.Create("tklock.after_devicelock", AutolockAfterDevicelockWindowMs, ad.onTimeout); err != nil {
		m.log.Warn().Err(err).Msg("after-devicelock: failed to create timer")
	}

	m.hub.MustGet(ChanLipstickUp).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.after_devicelock.lipstick",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			up, _ := v.(bool)
			if !up {
				return
			}
			ad.mu.Lock()
			if ad.lipstickUpSince == 0 {
				ad.lipstickUpSince = nowMs()
			}
			ad.mu.Unlock()
		},
	})
	m.hub.MustGet(ChanDevicelock).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.after_devicelock.devicelock",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			dl, _ := v.(mcetypes.DevicelockState)
			ad.onDevicelock(dl)
		},
	})
}

func (ad *afterDevicelockMachine) onDevicelock(dl mcetypes.DevicelockState) {
	switch dl {
	case mcetypes.DevicelockLocked:
		if ad.inLipstickStartupGrace() {
			ad.m.log.Debug().Msg("after-devicelock: suppressed during lipstick startup grace")
			return
		}
		ad.m.hb.Start("tklock.after_devicelock")
	case mcetypes.DevicelockUnlocked:
		ad.m.hb.Stop("tklock.after_devicelock")
	}
}

func (ad *afterDevicelockMachine) inLipstickStartupGrace() bool {
	ad.mu.Lock()
	since := ad.lipstickUpSince
	ad.mu.Unlock()
	if since == 0 {
		return true
	}
	return nowMs()-since < LipstickStartupGraceMs
}

func (ad *afterDevicelockMachine) onTimeout() (bool, int64) {
	ch, err := ad.m.hub.Get(ChanDevicelock)
	if err != nil {
		return false, 0
	}
	raw, _ := ch.Value()
	if dl, _ := raw.(mcetypes.DevicelockState); dl == mcetypes.DevicelockLocked {
		if !ad.m.sm.Get().Has(tklockBit()) {
			ad.m.sm.SetBit(tklockBit(), true)
		}
	}
	return false, 0
}
