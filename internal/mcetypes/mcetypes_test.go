package mcetypes

import "testing"

func TestExceptionTopmostPriorityOrder(t *testing.T) {
	mask := ExceptionNoanim | ExceptionLinger | ExceptionCall
	if got := mask.Topmost(); got != ExceptionCall {
		t.Fatalf("Topmost() = %v; want call", got)
	}
	mask |= ExceptionNotif
	if got := mask.Topmost(); got != ExceptionNotif {
		t.Fatalf("Topmost() = %v; want notif", got)
	}
	if got := ExceptionType(0).Topmost(); got != ExceptionNone {
		t.Fatalf("Topmost() of empty mask = %v; want none", got)
	}
}

func TestParseTKLockMode(t *testing.T) {
	cases := map[string]TKLockRequest{
		"locked":       TKLockOn,
		"locked-dim":   TKLockOnDimmed,
		"locked-delay": TKLockOnDelayed,
		"unlocked":     TKLockOff,
	}
	for name, want := range cases {
		got, ok := ParseTKLockMode(name)
		if !ok || got != want {
			t.Errorf("ParseTKLockMode(%q) = %v, %v; want %v, true", name, got, ok, want)
		}
	}
	if _, ok := ParseTKLockMode("bogus"); ok {
		t.Error("expected ParseTKLockMode to reject an unknown mode")
	}
}

func TestDisplayStateGates(t *testing.T) {
	if !DisplayOff.IsPoweredOff() || !DisplayLPMOff.IsPoweredOff() {
		t.Error("expected off and lpm-off to be powered-off")
	}
	if DisplayDim.IsPoweredOff() {
		t.Error("dim should not count as powered off")
	}
	if !DisplayOn.IsOnOrDim() || !DisplayDim.IsOnOrDim() {
		t.Error("expected on and dim to satisfy IsOnOrDim")
	}
}
