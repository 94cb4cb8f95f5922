package charging

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/settings"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *datapipe.Hub, *settings.Tree) {
	t.Helper()
	hub := datapipe.NewHub(zerolog.Nop())
	tr := settings.New(zerolog.Nop())
	settings.RegisterDefaults(tr)
	e := New(Deps{Log: zerolog.Nop(), Hub: hub, Settings: tr})
	return e, hub, tr
}

func publish(t *testing.T, hub *datapipe.Hub, name string, v any) {
	t.Helper()
	ch, err := hub.Get(name)
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Publish(v, datapipe.FromInput, datapipe.Cache); err != nil {
		t.Fatal(err)
	}
}

func chargingState(t *testing.T, hub *datapipe.Hub) mcetypes.ChargingState {
	t.Helper()
	ch, _ := hub.Get(ChanChargingState)
	v, _ := ch.Value()
	return v.(mcetypes.ChargingState)
}

func TestNoChargerEnablesChargingOutsideDisableMode(t *testing.T) {
	e, hub, _ := newTestEvaluator(t)
	publish(t, hub, ChanBatteryPercent, int64(50))
	publish(t, hub, ChanChargerState, mcetypes.ChargerOff)
	_ = e
	if got := chargingState(t, hub); got != mcetypes.ChargingEnabled {
		t.Fatalf("charging state = %v; want enabled (only DISABLE mode disables with no charger)", got)
	}
}

func TestBelowFloorAlwaysEnabled(t *testing.T) {
	_, hub, tr := newTestEvaluator(t)
	tr.LoadBytes([]byte(`{"charging.mode": 0}`)) // DISABLE mode
	publish(t, hub, ChanChargerState, mcetypes.ChargerOn)
	publish(t, hub, ChanBatteryPercent, int64(3))
	if got := chargingState(t, hub); got != mcetypes.ChargingEnabled {
		t.Fatalf("charging state below floor = %v; want enabled even under DISABLE mode", got)
	}
}

func TestMisconfiguredLimitsTreatDisableLimitAs100(t *testing.T) {
	_, hub, tr := newTestEvaluator(t)
	tr.LoadBytes([]byte(`{"charging.mode": 2, "charging.enable_limit": 80, "charging.disable_limit": 80}`))
	publish(t, hub, ChanChargerState, mcetypes.ChargerOn)
	publish(t, hub, ChanBatteryPercent, int64(95))
	if got := chargingState(t, hub); got != mcetypes.ChargingEnabled {
		t.Fatalf("charging state with disable<=enable = %v; want enabled (B4 fallback)", got)
	}
}

func TestThresholdsHysteresis(t *testing.T) {
	_, hub, tr := newTestEvaluator(t)
	tr.LoadBytes([]byte(`{"charging.mode": 2, "charging.enable_limit": 50, "charging.disable_limit": 90}`))
	publish(t, hub, ChanChargerState, mcetypes.ChargerOn)

	publish(t, hub, ChanBatteryPercent, int64(40))
	if got := chargingState(t, hub); got != mcetypes.ChargingEnabled {
		t.Fatalf("at 40%% = %v; want enabled", got)
	}
	publish(t, hub, ChanBatteryPercent, int64(70))
	if got := chargingState(t, hub); got != mcetypes.ChargingEnabled {
		t.Fatalf("at 70%% (already charging) = %v; want still enabled", got)
	}
	publish(t, hub, ChanBatteryPercent, int64(95))
	if got := chargingState(t, hub); got != mcetypes.ChargingDisabled {
		t.Fatalf("at 95%% = %v; want disabled", got)
	}
}

func TestForceDisableClearsWhenBatteryDrainsToEnableLimit(t *testing.T) {
	e, hub, tr := newTestEvaluator(t)
	tr.LoadBytes([]byte(`{"charging.mode": 1, "charging.enable_limit": 50}`)) // ENABLE mode
	publish(t, hub, ChanChargerState, mcetypes.ChargerOn)
	publish(t, hub, ChanBatteryPercent, int64(60))

	e.ForceDisable()
	if got := chargingState(t, hub); got != mcetypes.ChargingDisabled {
		t.Fatalf("after ForceDisable = %v; want disabled", got)
	}

	publish(t, hub, ChanBatteryPercent, int64(40))
	if got := chargingState(t, hub); got != mcetypes.ChargingEnabled {
		t.Fatalf("after draining to enable limit = %v; want force cleared and ENABLE mode to win", got)
	}
}
