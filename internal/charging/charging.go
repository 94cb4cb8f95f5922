// Package charging implements the charging-enable evaluator (C9,
// §4.6): a small decision table over charger presence, battery
// percentage, battery status, and the configured charging mode, that
// decides whether the charging-enable sysfs control file should be
// asserted, with an operator override that clears itself once its
// condition is satisfied.
package charging

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/settings"
	"github.com/sailfishos-mce/mce-core/internal/sysfsio"
	"github.com/sailfishos-mce/mce-core/internal/workerpool"
)

// Channel names this package owns or consumes.
const (
	ChanChargerState   = "charging.charger_state"   // mcetypes.ChargerState, external input
	ChanBatteryPercent = "charging.battery_percent"  // int64 0..100, external input
	ChanBatteryStatus  = "charging.battery_status"   // mcetypes.BatteryStatus, external input
	ChanChargingState  = "charging.state"            // mcetypes.ChargingState, this package's output
	ChanSuspendable    = "charging.suspendable"       // bool: true while a charger is connected (§4.6)
)

// floorPercent is the hard floor below which charging is always
// enabled regardless of mode or forced-disable (§8 B4): a device must
// never be allowed to fully discharge while plugged in.
const floorPercent = 5

// forceMode is an operator override on top of the mode table. It
// auto-clears once its own condition is met, so an override can't
// accidentally strand the device uncharged (or permanently overcharged)
// forever (§4.6 "forced-charging override with auto-clear").
type forceMode int

const (
	forceNone forceMode = iota
	forceDisable
	forceEnable
)

// Evaluator runs the charging decision and writes the sysfs control
// file through the worker pool.
type Evaluator struct {
	log      zerolog.Logger
	hub      *datapipe.Hub
	settings *settings.Tree
	pool     *workerpool.Pool
	ctl      *sysfsio.Control

	mu          sync.Mutex
	force       forceMode
	lastWasFull bool
}

// Deps bundles Evaluator's collaborators.
type Deps struct {
	Log      zerolog.Logger
	Hub      *datapipe.Hub
	Settings *settings.Tree
	Pool     *workerpool.Pool
	Control  *sysfsio.Control
}

// New builds an Evaluator, declares its channels, and wires it to
// re-evaluate on every charger/battery input change.
func New(d Deps) *Evaluator {
	e := &Evaluator{
		log:      d.Log.With().Str("component", "charging").Logger(),
		hub:      d.Hub,
		settings: d.Settings,
		pool:     d.Pool,
		ctl:      d.Control,
	}

	e.hub.Declare(ChanChargerState, datapipe.ChannelOpts{Initial: mcetypes.ChargerUndefined})
	e.hub.Declare(ChanBatteryPercent, datapipe.ChannelOpts{Initial: int64(-1)})
	e.hub.Declare(ChanBatteryStatus, datapipe.ChannelOpts{Initial: mcetypes.BatteryUndefined})
	e.hub.Declare(ChanChargingState, datapipe.ChannelOpts{Initial: mcetypes.ChargingUnknown})
	e.hub.Declare(ChanSuspendable, datapipe.ChannelOpts{Initial: false})

	for _, ch := range []string{ChanChargerState, ChanBatteryPercent, ChanBatteryStatus} {
		e.hub.MustGet(ch).AttachOutputTrigger(datapipe.TriggerFunc{
			Tag: "charging.evaluate",
			Fn:  func(_ datapipe.SourcePolicy, _ any) { e.evaluate() },
		})
	}
	d.Settings.Watch(settings.KeyChargingMode, func(settings.Value) { e.evaluate() })
	d.Settings.Watch(settings.KeyChargingEnableLimit, func(settings.Value) { e.evaluate() })
	d.Settings.Watch(settings.KeyChargingDisableLimit, func(settings.Value) { e.evaluate() })

	return e
}

// ForceDisable and ForceEnable apply an operator override that wins
// over the mode table until its own clearing condition is reached
// (§4.6): a forced-disable clears once the battery drops back to the
// enable threshold, a forced-enable clears once the battery reaches
// the disable threshold or the battery status reports full.
func (e *Evaluator) ForceDisable() {
	e.mu.Lock()
	e.force = forceDisable
	e.mu.Unlock()
	e.evaluate()
}

func (e *Evaluator) ForceEnable() {
	e.mu.Lock()
	e.force = forceEnable
	e.mu.Unlock()
	e.evaluate()
}

func (e *Evaluator) ClearForce() {
	e.mu.Lock()
	e.force = forceNone
	e.mu.Unlock()
	e.evaluate()
}

// evaluate runs the 7-step decision (§4.6):
//  1. no charger present -> enabled (disabled only in mode DISABLE), not suspendable until cable returns
//  2. battery status FULL (or percent at 100) -> remembered for THRESHOLDS_AFTER_FULL, evaluation continues
//  3. percent below the hard floor -> enabled unconditionally
//  4. a forced override is active and its clear condition isn't yet met -> apply it
//  5. mode DISABLE -> disabled
//  6. mode ENABLE -> enabled
//  7. mode THRESHOLDS / THRESHOLDS_AFTER_FULL -> hysteresis between enable/disable limits,
//     with THRESHOLDS_AFTER_FULL only re-enabling once the percent has fallen to the enable limit
//     following a remembered FULL reading.
func (e *Evaluator) evaluate() {
	charger := e.chargerState()
	percent := e.batteryPercent()
	status := e.batteryStatus()
	mode := e.settings.Get(settings.KeyChargingMode).Int
	enableLimit := e.settings.Get(settings.KeyChargingEnableLimit).Int
	disableLimit := e.settings.Get(settings.KeyChargingDisableLimit).Int
	if disableLimit <= enableLimit {
		// §8 B4: a misconfigured (or not-yet-loaded) pair of limits
		// disables-at-or-below-enable, which would busy-loop the
		// charger on and off; treat the disable limit as 100 instead.
		disableLimit = 100
	}

	if charger == mcetypes.ChargerOff || charger == mcetypes.ChargerUndefined {
		e.mu.Lock()
		e.lastWasFull = false
		e.mu.Unlock()
		if mode == settings.ChargingModeDisable {
			e.commit(mcetypes.ChargingDisabled, false)
		} else {
			e.commit(mcetypes.ChargingEnabled, false)
		}
		return
	}

	e.mu.Lock()
	if status == mcetypes.BatteryFull || (percent >= 0 && percent >= 100) {
		e.lastWasFull = true
	}
	wasFull := e.lastWasFull
	force := e.force
	e.mu.Unlock()

	if percent >= 0 && percent < floorPercent {
		e.commit(mcetypes.ChargingEnabled, true)
		return
	}

	if force == forceDisable {
		if percent >= 0 && percent <= enableLimit {
			e.mu.Lock()
			e.force = forceNone
			e.mu.Unlock()
		} else {
			e.commit(mcetypes.ChargingDisabled, true)
			return
		}
	}
	if force == forceEnable {
		if status == mcetypes.BatteryFull || (percent >= 0 && percent >= disableLimit) {
			e.mu.Lock()
			e.force = forceNone
			e.mu.Unlock()
		} else {
			e.commit(mcetypes.ChargingEnabled, true)
			return
		}
	}

	switch mode {
	case settings.ChargingModeDisable:
		e.commit(mcetypes.ChargingDisabled, true)
	case settings.ChargingModeEnable:
		e.commit(mcetypes.ChargingEnabled, true)
	case settings.ChargingModeThresholds:
		e.commit(e.thresholdDecision(percent, enableLimit, disableLimit), true)
	case settings.ChargingModeThresholdsAfterFull:
		if wasFull && percent >= 0 && percent > enableLimit {
			e.commit(mcetypes.ChargingDisabled, true)
			return
		}
		if wasFull && percent >= 0 && percent <= enableLimit {
			e.mu.Lock()
			e.lastWasFull = false
			e.mu.Unlock()
		}
		e.commit(e.thresholdDecision(percent, enableLimit, disableLimit), true)
	default:
		e.commit(mcetypes.ChargingEnabled, true)
	}
}

// thresholdDecision applies simple hysteresis: once enabled, keep
// charging until disableLimit; once disabled, stay off until the
// percent falls back to enableLimit.
func (e *Evaluator) thresholdDecision(percent, enableLimit, disableLimit int64) mcetypes.ChargingState {
	if percent < 0 {
		return mcetypes.ChargingEnabled
	}
	cur := e.chargingState()
	if cur == mcetypes.ChargingEnabled {
		if percent >= disableLimit {
			return mcetypes.ChargingDisabled
		}
		return mcetypes.ChargingEnabled
	}
	if percent <= enableLimit {
		return mcetypes.ChargingEnabled
	}
	return mcetypes.ChargingDisabled
}

func (e *Evaluator) commit(state mcetypes.ChargingState, suspendable bool) {
	if ch, err := e.hub.Get(ChanChargingState); err == nil {
		ch.Publish(state, datapipe.Internal, datapipe.Cache)
	}
	if ch, err := e.hub.Get(ChanSuspendable); err == nil {
		ch.Publish(suspendable, datapipe.Internal, datapipe.Cache)
	}
	if e.ctl == nil || e.pool == nil {
		return
	}
	literal := "0"
	if state == mcetypes.ChargingEnabled {
		literal = "1"
	}
	e.pool.Submit(workerpool.Job{
		Context: "charging",
		Name:    "charging-control-write",
		Execute: func(any) any {
			if err := e.ctl.Write(literal); err != nil {
				e.log.Warn().Err(err).Msg("charging control write failed")
			}
			return nil
		},
	})
}

func (e *Evaluator) chargerState() mcetypes.ChargerState {
	ch, err := e.hub.Get(ChanChargerState)
	if err != nil {
		return mcetypes.ChargerUndefined
	}
	raw, _ := ch.Value()
	v, _ := raw.(mcetypes.ChargerState)
	return v
}

func (e *Evaluator) batteryPercent() int64 {
	ch, err := e.hub.Get(ChanBatteryPercent)
	if err != nil {
		return -1
	}
	raw, _ := ch.Value()
	v, _ := raw.(int64)
	return v
}

func (e *Evaluator) batteryStatus() mcetypes.BatteryStatus {
	ch, err := e.hub.Get(ChanBatteryStatus)
	if err != nil {
		return mcetypes.BatteryUndefined
	}
	raw, _ := ch.Value()
	v, _ := raw.(mcetypes.BatteryStatus)
	return v
}

func (e *Evaluator) chargingState() mcetypes.ChargingState {
	ch, err := e.hub.Get(ChanChargingState)
	if err != nil {
		return mcetypes.ChargingUnknown
	}
	raw, _ := ch.Value()
	v, _ := raw.(mcetypes.ChargingState)
	return v
}
