package tklock

import (
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/heartbeat"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/settings"
	"github.com/sailfishos-mce/mce-core/internal/submode"
	"github.com/sailfishos-mce/mce-core/internal/sysfsio"
	"github.com/sailfishos-mce/mce-core/internal/workerpool"
)

// ipcCall records every IPC invocation made during a test.
type ipcCall struct {
	method string
	args   []any
}

// testHarness wires a full Machine against every externally-fed
// channel it needs, the way cmd/mced does, plus a recording IPC sink
// so sub-machine tests can assert on what was asked of the UI/sensors
// without a real bus.
type testHarness struct {
	t   *testing.T
	hub *datapipe.Hub
	hb  *heartbeat.Service
	sm  *submode.Register
	st  *settings.Tree

	ipcMu sync.Mutex
	calls []ipcCall

	m *Machine
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith builds a harness and lets the caller patch the Deps
// before Machine.New runs, e.g. to wire sysfsio.Control stubs or
// PeerHooks that an individual sub-machine test needs.
func newHarnessWith(t *testing.T, patch func(*Deps)) *testHarness {
	t.Helper()
	h := &testHarness{
		t:   t,
		hub: datapipe.NewHub(zerolog.Nop()),
		hb:  heartbeat.New(zerolog.Nop()),
		sm:  submode.New(zerolog.Nop()),
		st:  settings.New(zerolog.Nop()),
	}
	settings.RegisterDefaults(h.st)

	for _, ch := range []string{ChanDisplayState, ChanDisplayNext, ChanDevicelock, ChanCallState, ChanLipstickUp, ChanCompositorUp, ChanActivity, ChanSystemState} {
		h.hub.Declare(ch, datapipe.ChannelOpts{Initial: zeroValueFor(ch)})
	}

	pool := workerpool.New(zerolog.Nop(), 16)
	pool.AddContext("tklock")

	deps := Deps{
		Log:       zerolog.Nop(),
		Hub:       h.hub,
		Heartbeat: h.hb,
		Pool:      pool,
		Submode:   h.sm,
		Settings:  h.st,
		Wakelock:  func(string, bool) {},
		IPC:       h.recordIPC,
	}
	if patch != nil {
		patch(&deps)
	}
	h.m = New(deps)
	return h
}

// newControl builds a sysfsio.Control backed by a single temp file so
// a sub-machine test can assert on what literal was written.
func newControl(t *testing.T, name string) (*sysfsio.Control, string) {
	t.Helper()
	path := t.TempDir() + "/" + name
	if err := os.WriteFile(path, []byte("0"), 0o644); err != nil {
		t.Fatal(err)
	}
	return sysfsio.NewControl(zerolog.Nop(), name, path), path
}

func zeroValueFor(ch string) any {
	switch ch {
	case ChanDisplayState, ChanDisplayNext:
		return mcetypes.DisplayUndefined
	case ChanDevicelock:
		return mcetypes.DevicelockUndefined
	case ChanCallState:
		return mcetypes.CallNone
	case ChanSystemState:
		return mcetypes.SystemUser
	default:
		return false
	}
}

func (h *testHarness) recordIPC(method string, args ...any) {
	h.ipcMu.Lock()
	defer h.ipcMu.Unlock()
	h.calls = append(h.calls, ipcCall{method: method, args: args})
}

func (h *testHarness) lastCall(method string) (ipcCall, bool) {
	h.ipcMu.Lock()
	defer h.ipcMu.Unlock()
	for i := len(h.calls) - 1; i >= 0; i-- {
		if h.calls[i].method == method {
			return h.calls[i], true
		}
	}
	return ipcCall{}, false
}

func (h *testHarness) publish(ch string, v any) {
	h.hub.MustGet(ch).Publish(v, datapipe.FromInput, datapipe.Cache)
}

func (h *testHarness) value(ch string) any {
	v, _ := h.hub.MustGet(ch).Value()
	return v
}

// fireTimer forces a named heartbeat timer to run now regardless of its
// configured period, by dispatching far enough into the future that
// any active timer is due.
func (h *testHarness) fireTimer(name string) {
	h.hb.Dispatch(farFutureMs())
}

func farFutureMs() int64 {
	return 1 << 50
}

// lock engages tklock through the UI gate the way a running lockscreen
// would: lipstick is up, the bit is requested, and the UI acks it.
func (h *testHarness) lock() {
	h.publish(ChanLipstickUp, true)
	h.sm.SetBit(tklockBit(), true)
	h.publish(ChanTKLockUIEnabled, true)
}

// chanOpts is a one-line ChannelOpts builder for test-only channels
// this package's Machine never declares itself (e.g. audio.route,
// owned in production by the audioroute package).
func chanOpts(initial any) datapipe.ChannelOpts {
	return datapipe.ChannelOpts{Initial: initial}
}
