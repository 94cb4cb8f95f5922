package tklock

import (
	"testing"

	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/settings"
)

func TestLidRawClosedPublishesFilteredImmediately(t *testing.T) {
	h := newHarness(t)
	h.publish(ChanLidRaw, mcetypes.CoverClosed)

	if got := h.value(ChanLidFiltered); got != mcetypes.CoverClosed {
		t.Fatalf("lid.filtered = %v; want closed", got)
	}
}

func TestLidRawOpenPublishesFilteredOpen(t *testing.T) {
	h := newHarness(t)
	h.publish(ChanLidRaw, mcetypes.CoverClosed)
	h.publish(ChanLidRaw, mcetypes.CoverOpen)

	if got := h.value(ChanLidFiltered); got != mcetypes.CoverOpen {
		t.Fatalf("lid.filtered = %v; want open", got)
	}
}

func TestLidALSNeverInfersCloseBeforeFirstRealClose(t *testing.T) {
	h := newHarness(t)
	h.st.LoadBytes([]byte(`{"` + settings.KeyALSEnabled + `": true, "` + settings.KeyALSLidFilter + `": true}`))
	h.publish(ChanLidRaw, mcetypes.CoverOpen)

	h.publish(ChanALSLux, int64(0))
	h.fireTimer("tklock.lid.wait_for_close")

	if got := h.value(ChanLidFiltered); got != mcetypes.CoverOpen {
		t.Fatalf("lid.filtered = %v; want still open, a lid sensor that never closed must not ALS-infer", got)
	}
}

func TestLidALSInfersCloseAfterDarkDebounceOnceObserved(t *testing.T) {
	h := newHarness(t)
	h.st.LoadBytes([]byte(`{"` + settings.KeyALSEnabled + `": true, "` + settings.KeyALSLidFilter + `": true}`))
	h.publish(ChanLidRaw, mcetypes.CoverClosed)
	h.publish(ChanLidRaw, mcetypes.CoverOpen)

	h.publish(ChanALSLux, int64(0))
	h.fireTimer("tklock.lid.wait_for_close")

	if got := h.value(ChanLidFiltered); got != mcetypes.CoverClosed {
		t.Fatalf("lid.filtered = %v; want ALS-inferred closed after the dark debounce", got)
	}
}

func TestLidALSReopensAfterLightDebounce(t *testing.T) {
	h := newHarness(t)
	h.st.LoadBytes([]byte(`{"` + settings.KeyALSEnabled + `": true, "` + settings.KeyALSLidFilter + `": true}`))
	h.publish(ChanLidRaw, mcetypes.CoverClosed)
	h.publish(ChanLidRaw, mcetypes.CoverOpen)
	h.publish(ChanALSLux, int64(0))
	h.fireTimer("tklock.lid.wait_for_close")

	h.publish(ChanALSLux, int64(500))
	h.fireTimer("tklock.lid.wait_for_light")

	if got := h.value(ChanLidFiltered); got != mcetypes.CoverOpen {
		t.Fatalf("lid.filtered = %v; want open again once the light debounce elapses", got)
	}
}

func TestLidRawCloseCancelsPendingALSDebounce(t *testing.T) {
	h := newHarness(t)
	h.st.LoadBytes([]byte(`{"` + settings.KeyALSEnabled + `": true, "` + settings.KeyALSLidFilter + `": true}`))
	h.publish(ChanLidRaw, mcetypes.CoverClosed)
	h.publish(ChanLidRaw, mcetypes.CoverOpen)
	h.publish(ChanALSLux, int64(0))

	h.publish(ChanLidRaw, mcetypes.CoverClosed)

	if h.m.hb.IsActive("tklock.lid.wait_for_close") {
		t.Fatal("expected the ALS debounce timer to have been stopped by a real raw close")
	}
}
