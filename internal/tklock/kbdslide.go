package tklock

import (
	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/settings"
)

// Keyboard-slide trigger actions for KeyKbdOpenTrigger/KeyKbdCloseTrigger.
const (
	kbdTriggerNone = iota
	kbdTriggerUnlock
	kbdTriggerLock
)

// kbdSlideMachine maps the keyboard slide's open/close edges onto
// tklock actions (§4.4.7). Sliding open to unlock primes an automatic
// re-lock for the matching close edge, so closing the slide again
// without an intervening manual lock still leaves the device secured;
// an explicit lock before the slide closes cancels that priming since
// there is nothing left to do.
type kbdSlideMachine struct {
	m      *Machine
	primed bool
}

func (k *kbdSlideMachine) init(m *Machine) {
	k.m = m

	m.hub.Declare(ChanKbdSlideOpen, datapipe.ChannelOpts{Initial: false})
	m.hub.MustGet(ChanKbdSlideOpen).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "tklock.kbdslide",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			open, _ := v.(bool)
			k.onSlide(open)
		},
	})
}

func (k *kbdSlideMachine) onSlide(open bool) {
	if open {
		k.onOpen()
		return
	}
	k.onClose()
}

func (k *kbdSlideMachine) onOpen() {
	switch k.m.settings.Get(settings.KeyKbdOpenTrigger).Int {
	case kbdTriggerUnlock:
		k.m.sm.SetBit(tklockBit(), false)
		k.primed = true
	case kbdTriggerLock:
		k.m.sm.SetBit(tklockBit(), true)
		k.primed = false
	}
}

func (k *kbdSlideMachine) onClose() {
	switch k.m.settings.Get(settings.KeyKbdCloseTrigger).Int {
	case kbdTriggerLock:
		k.m.sm.SetBit(tklockBit(), true)
		k.primed = false
		return
	case kbdTriggerUnlock:
		k.m.sm.SetBit(tklockBit(), false)
		k.primed = false
		return
	}
	if k.primed && !k.m.sm.Get().Has(tklockBit()) {
		k.m.sm.SetBit(tklockBit(), true)
	}
	k.primed = false
}
