package tklock

import (
	"sync"

	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/settings"
	"github.com/sailfishos-mce/mce-core/internal/workerpool"
)

// legacyInputMachine computes whether the touchscreen and keypad input
// devices should be grabbed/enabled (§4.4.11): both follow the same
// display-on-and-unlocked policy, with touch additionally blocked
// while a covered proximity sensor would otherwise deliver spurious
// touches against an ear or pocket lining. The sysfs writes that
// actually flip the kernel driver's enable files run on the worker
// pool since they can block on a slow sysfs backend (§4.3).
type legacyInputMachine struct {
	m *Machine

	mu        sync.Mutex
	kpEnabled bool
	tsEnabled bool
}

func (li *legacyInputMachine) init(m *Machine) {
	li.m = m

	for _, ch := range []string{ChanDisplayState, ChanTKLockUIEnabled, ChanProximityEffective} {
		m.hub.MustGet(ch).AttachOutputTrigger(datapipe.TriggerFunc{
			Tag: "tklock.legacyinput." + ch,
			Fn:  func(_ datapipe.SourcePolicy, _ any) { li.recompute() },
		})
	}
}

func (li *legacyInputMachine) recompute() {
	policy := li.m.settings.Get(settings.KeyInputPolicyEnabled).Bool
	ds := li.m.displayState(ChanDisplayState)
	unlocked := !li.m.sm.Get().Has(tklockBit())
	base := policy && unlocked && ds.IsOnOrDim()

	touchBlocked := li.m.settings.Get(settings.KeyProximityBlocksTouch).Bool && li.m.boolValue(ChanProximityEffective)

	kp := base
	ts := base && !touchBlocked

	li.mu.Lock()
	kpChanged := kp != li.kpEnabled
	tsChanged := ts != li.tsEnabled
	li.kpEnabled = kp
	li.tsEnabled = ts
	li.mu.Unlock()

	if kpChanged && li.m.kp != nil {
		li.writeAsync(li.m.kp, "legacy-input-kp", kp)
	}
	if tsChanged {
		if li.m.ts != nil {
			li.writeAsync(li.m.ts, "legacy-input-ts", ts)
		}
		li.m.ipc("input.grab", "touchscreen", !ts)
	}
}

func (li *legacyInputMachine) writeAsync(ctl sysfsControlWriter, name string, enabled bool) {
	if ctl == nil {
		return
	}
	literal := "0"
	if enabled {
		literal = "1"
	}
	li.m.pool.Submit(workerpool.Job{
		Context: "tklock",
		Name:    name,
		Execute: func(any) any {
			_ = ctl.Write(literal)
			return nil
		},
	})
}

// doubleTapRetrySeq is the escalating retry backoff (§4.4.12): 2, 4, 8,
// 16, 30 seconds. Once exhausted the timer keeps firing at the final
// 30s period indefinitely — a gesture driver that never comes up is
// still worth nudging periodically rather than giving up for good.
var doubleTapRetrySeq = []int64{2000, 4000, 8000, 16000, 30000}

// doubleTapMachine keeps the double-tap-to-wake gesture control file
// asserted to the desired state, retrying on write failure with the
// backoff above (§4.4.12).
type doubleTapMachine struct {
	m *Machine

	mu      sync.Mutex
	wantOn  bool
	retryAt int
}

func (dt *doubleTapMachine) init(m *Machine) {
	dt.m = m

	if _, err := m.hb.Create("tklock.doubletap.retry", doubleTapRetrySeq[0], dt.onRetry); err != nil {
		m.log.Warn().Err(err).Msg("doubletap: failed to create retry timer")
	}

	m.hub.MustGet(ChanDisplayState).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.doubletap.display",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			ds, _ := v.(mcetypes.DisplayState)
			dt.recompute(ds)
		},
	})
}

func (dt *doubleTapMachine) recompute(ds mcetypes.DisplayState) {
	want := dt.m.settings.Get(settings.KeyInputPolicyEnabled).Bool && ds == mcetypes.DisplayOff

	dt.mu.Lock()
	changed := want != dt.wantOn
	dt.wantOn = want
	if changed {
		dt.retryAt = 0
	}
	dt.mu.Unlock()

	if changed {
		dt.m.hb.SetPeriod("tklock.doubletap.retry", doubleTapRetrySeq[0])
		dt.m.hb.Start("tklock.doubletap.retry")
	}
}

func (dt *doubleTapMachine) onRetry() (bool, int64) {
	dt.mu.Lock()
	want := dt.wantOn
	idx := dt.retryAt
	dt.mu.Unlock()

	if dt.m.dt == nil {
		return false, 0
	}
	literal := "0"
	if want {
		literal = "1"
	}
	ok := dt.m.dt.Write(literal) == nil
	if ok {
		return false, 0
	}

	if idx < len(doubleTapRetrySeq)-1 {
		idx++
	}
	dt.mu.Lock()
	dt.retryAt = idx
	dt.mu.Unlock()
	return true, doubleTapRetrySeq[idx]
}

// sysfsControlWriter is the narrow interface legacyInputMachine needs
// from *sysfsio.Control, kept local so tests can substitute a stub
// without importing the sysfs package's file-probing behavior.
type sysfsControlWriter interface {
	Write(literal string) error
}
