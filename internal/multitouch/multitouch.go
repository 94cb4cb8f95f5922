// Package multitouch implements the protocol A/B and mouse-fallback
// evdev decoder (C5, §4.9): up to 16 simultaneous slots tracked by
// {id, x, y}, plus single/double-tap detection over a three-entry tap
// history ring.
package multitouch

import (
	"github.com/sailfishos-mce/mce-core/internal/evdev"
	"github.com/sailfishos-mce/mce-core/internal/timex"
)

const maxSlots = 16

// Slot is one tracked contact point.
type Slot struct {
	Active bool
	ID     int32
	X, Y   int32
}

// TapEvent is emitted by the tap-history machine.
type TapEvent struct {
	Double bool
	X, Y   int32
	AtMs   int64
}

type tapRecord struct {
	valid     bool
	startMs   int64
	startX    int32
	startY    int32
	endMs     int64
	endX      int32
	endY      int32
	wasDouble bool
}

// Decoder holds multitouch protocol state for one input device.
type Decoder struct {
	slots           [maxSlots]Slot
	curSlot         int // protocol B ABS_MT_SLOT cursor
	protocolA       Slot
	protocolAActive bool
	mouseDown       bool
	mouseX          int32
	mouseY          int32
	lastX           int32
	lastY           int32

	lastFingerCount int
	history         [3]tapRecord
	pressStart      struct {
		valid bool
		atMs  int64
		x, y  int32
	}

	OnFingerCountChange func(count int)
	OnTap               func(TapEvent)
}

// New creates a decoder with no active contacts.
func New() *Decoder {
	return &Decoder{}
}

// FingerCount returns the number of currently active protocol A/B
// slots (the mouse fallback counts as at most one "finger").
func (d *Decoder) FingerCount() int {
	n := 0
	for _, s := range d.slots {
		if s.Active {
			n++
		}
	}
	if d.mouseDown {
		n++
	}
	return n
}

// Feed decodes one raw evdev event, updating slot state and firing
// OnFingerCountChange/OnTap as appropriate. evType/code/value mirror
// evdev.Event's fields so callers can feed directly from
// evdev.Device.ReadEvent.
func (d *Decoder) Feed(ev evdev.Event) {
	switch ev.Type {
	case evdev.EvAbs:
		d.feedAbs(ev)
	case evdev.EvSyn:
		d.feedSyn(ev)
	case evdev.EvKey:
		d.feedKey(ev)
	case evdev.EvRel:
		d.feedRel(ev)
	}
}

func (d *Decoder) feedAbs(ev evdev.Event) {
	switch ev.Code {
	case evdev.AbsMTSlot:
		if int(ev.Value) >= 0 && int(ev.Value) < maxSlots {
			d.curSlot = int(ev.Value)
		}
	case evdev.AbsMTTrackingID:
		if ev.Value < 0 {
			x, y := d.slots[d.curSlot].X, d.slots[d.curSlot].Y
			d.slots[d.curSlot] = Slot{}
			d.lastX, d.lastY = x, y
		} else {
			d.slots[d.curSlot].Active = true
			d.slots[d.curSlot].ID = ev.Value
		}
	case evdev.AbsMTPositionX:
		d.slots[d.curSlot].X = ev.Value
		d.protocolA.X = ev.Value
		d.protocolAActive = true
		d.lastX = ev.Value
	case evdev.AbsMTPositionY:
		d.slots[d.curSlot].Y = ev.Value
		d.protocolA.Y = ev.Value
		d.protocolAActive = true
		d.lastY = ev.Value
	case evdev.AbsX:
		d.protocolA.X = ev.Value
		d.lastX = ev.Value
	case evdev.AbsY:
		d.protocolA.Y = ev.Value
		d.lastY = ev.Value
	}
}

func (d *Decoder) feedRel(ev evdev.Event) {
	switch ev.Code {
	case evdev.RelX:
		d.mouseX += ev.Value
		d.lastX = d.mouseX
	case evdev.RelY:
		d.mouseY += ev.Value
		d.lastY = d.mouseY
	}
}

func (d *Decoder) feedKey(ev evdev.Event) {
	if ev.Code != evdev.BtnMouse && ev.Code != evdev.BtnTouch {
		return
	}
	down := ev.Value != 0
	if down == d.mouseDown {
		return
	}
	d.mouseDown = down
	d.afterChange()
	if down {
		d.onPress(d.mouseX, d.mouseY)
	} else {
		d.onRelease(d.mouseX, d.mouseY)
	}
}

func (d *Decoder) feedSyn(ev evdev.Event) {
	if ev.Code == evdev.SynMTReport {
		// Protocol A: one SYN_MT_REPORT closes out the contact
		// accumulated since the last one.
		if d.protocolAActive {
			d.slots[0] = Slot{Active: true, X: d.protocolA.X, Y: d.protocolA.Y}
		} else {
			d.slots[0] = Slot{}
		}
		d.protocolAActive = false
		return
	}
	if ev.Code == evdev.SynReport {
		d.afterChange()
	}
}

func (d *Decoder) afterChange() {
	count := d.FingerCount()
	if count == d.lastFingerCount {
		return
	}
	prev := d.lastFingerCount
	d.lastFingerCount = count
	if d.OnFingerCountChange != nil {
		d.OnFingerCountChange(count)
	}
	if prev == 0 && count == 1 {
		d.onPress(d.lastX, d.lastY)
	} else if prev >= 1 && count == 0 {
		d.onRelease(d.lastX, d.lastY)
	} else {
		// Multi-finger transitions never register as taps (§4.9 "one
		// finger only").
		d.pressStart.valid = false
	}
}

func (d *Decoder) onPress(x, y int32) {
	d.pressStart = struct {
		valid bool
		atMs  int64
		x, y  int32
	}{valid: true, atMs: timex.NowMs(), x: x, y: y}
}

const (
	tapRadiusPx = 100
	tapMinMs    = 1
	tapMaxMs    = 500
)

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func (d *Decoder) onRelease(x, y int32) {
	if !d.pressStart.valid {
		return
	}
	start := d.pressStart
	d.pressStart.valid = false
	now := timex.NowMs()
	dur := now - start.atMs
	dist := abs32(x-start.x) + abs32(y-start.y)
	if dur < tapMinMs || dur > tapMaxMs || dist > tapRadiusPx {
		return
	}
	d.pushTap(tapRecord{valid: true, startMs: start.atMs, startX: start.x, startY: start.y, endMs: now, endX: x, endY: y})
}

func (d *Decoder) pushTap(r tapRecord) {
	prev := d.history[0]
	copy(d.history[1:], d.history[:2])
	d.history[0] = r

	if prev.valid && !prev.wasDouble && d.isDoubleTap(prev, r) {
		d.history[0].wasDouble = true
		if d.OnTap != nil {
			d.OnTap(TapEvent{Double: true, X: r.endX, Y: r.endY, AtMs: r.endMs})
		}
		return
	}
	if d.OnTap != nil {
		d.OnTap(TapEvent{Double: false, X: r.endX, Y: r.endY, AtMs: r.endMs})
	}
}

func (d *Decoder) isDoubleTap(first, second tapRecord) bool {
	gap := second.startMs - first.endMs
	if gap < tapMinMs || gap > tapMaxMs {
		return false
	}
	dist := abs32(second.startX-first.endX) + abs32(second.startY-first.endY)
	return dist <= tapRadiusPx
}
