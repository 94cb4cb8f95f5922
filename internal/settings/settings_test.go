package settings

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestRegisterSeedsDefault(t *testing.T) {
	tr := New(zerolog.Nop())
	tr.Register(Spec{Key: "k", Default: IntValue(42)})
	if got := tr.Get("k"); got.Int != 42 {
		t.Fatalf("Get = %+v; want Int=42", got)
	}
}

func TestLoadBytesUpdatesValidKeysAndFiresWatchers(t *testing.T) {
	tr := New(zerolog.Nop())
	tr.Register(Spec{Key: "autolock_delay_ms", Default: IntValue(10000), Validate: between(1000, 300000)})
	tr.Register(Spec{Key: "autolock_enabled", Default: BoolValue(true)})

	var got Value
	tr.Watch("autolock_delay_ms", func(v Value) { got = v })

	err := tr.LoadBytes([]byte(`{"autolock_delay_ms": 5000, "autolock_enabled": false}`))
	if err != nil {
		t.Fatalf("LoadBytes error: %v", err)
	}
	if tr.Get("autolock_delay_ms").Int != 5000 {
		t.Fatalf("autolock_delay_ms = %+v; want 5000", tr.Get("autolock_delay_ms"))
	}
	if got.Int != 5000 {
		t.Fatalf("watcher did not fire with updated value: %+v", got)
	}
	if tr.Get("autolock_enabled").Bool != false {
		t.Fatal("expected autolock_enabled to become false")
	}
}

func TestLoadBytesRejectsInvalidValueKeepsDefault(t *testing.T) {
	tr := New(zerolog.Nop())
	tr.Register(Spec{Key: "autolock_delay_ms", Default: IntValue(10000), Validate: between(1000, 300000)})

	if err := tr.LoadBytes([]byte(`{"autolock_delay_ms": 50}`)); err != nil {
		t.Fatalf("LoadBytes error: %v", err)
	}
	if tr.Get("autolock_delay_ms").Int != 10000 {
		t.Fatalf("expected out-of-range value to be rejected, got %+v", tr.Get("autolock_delay_ms"))
	}
}

func TestLoadBytesIgnoresWrongDynamicType(t *testing.T) {
	tr := New(zerolog.Nop())
	tr.Register(Spec{Key: "autolock_enabled", Default: BoolValue(true)})

	if err := tr.LoadBytes([]byte(`{"autolock_enabled": "yes"}`)); err != nil {
		t.Fatalf("LoadBytes error: %v", err)
	}
	if tr.Get("autolock_enabled").Bool != true {
		t.Fatal("expected wrong-typed value to be rejected, keeping default")
	}
}

func TestRegisterDefaultsPopulatesAllKeys(t *testing.T) {
	tr := New(zerolog.Nop())
	RegisterDefaults(tr)
	if tr.Get(KeyChargingEnableLimit).Int != 80 {
		t.Fatalf("KeyChargingEnableLimit default = %+v", tr.Get(KeyChargingEnableLimit))
	}
	if tr.Get(KeyAutolockEnabled).Bool != true {
		t.Fatalf("KeyAutolockEnabled default = %+v", tr.Get(KeyAutolockEnabled))
	}
}
