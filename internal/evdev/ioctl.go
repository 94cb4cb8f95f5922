// Package evdev provides the ioctl and epoll-style plumbing shared by
// the multitouch decoder (C5, §4.9) and the tklock legacy input-gating
// sub-machine (§4.4.11): grabbing an input device, reading its
// capability bitmask, and waiting for readability without blocking the
// main loop.
//
// The ioctl number construction and the blocking-read wait are
// grounded on Daedaluz-goserial's ioctl_linux.go and port_linux.go,
// which build the same kind of request constants from
// github.com/daedaluz/goioctl and wait for readability via
// github.com/daedaluz/fdev/poll before issuing a blocking read.
package evdev

import (
	"syscall"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
)

const evdevMagic = 'E'

var (
	// eviocgrabRequest is EVIOCGRAB: _IOW('E', 0x90, int). Writing 1
	// grabs exclusive access to the device; 0 releases it.
	eviocgrabRequest = ioctl.IOW(evdevMagic, 0x90, unsafe.Sizeof(int32(0)))

	// eviocgbitRequest returns EVIOCGBIT(0, len): _IOR('E', 0x20, len),
	// the event-type capability bitmask. Per-axis bitmasks
	// (EVIOCGBIT(ev, len)) use nr 0x20+ev; only the type mask is needed
	// by the decoders in this package.
	eviocgbitRequest = func(len uintptr) uintptr { return ioctl.IOR(evdevMagic, 0x20, len) }
)

// Grab requests (or releases, with grab=false) exclusive access to the
// input device backing fd, per §4.4.11's input-grab decision.
func Grab(fd int, grab bool) error {
	var v int32
	if grab {
		v = 1
	}
	return ioctl.Ioctl(uintptr(fd), eviocgrabRequest, uintptr(unsafe.Pointer(&v)))
}

// EventTypeBits reads the EV_* capability bitmask for fd, sized for the
// maximum event type this package decodes (EV_ABS is the highest type
// referenced by the multitouch decoder).
func EventTypeBits(fd int) ([]byte, error) {
	const maxEventTypeBytes = 4 // covers EV_SYN..EV_ABS (0..3) plus headroom
	buf := make([]byte, maxEventTypeBytes)
	req := eviocgbitRequest(uintptr(len(buf)))
	if err := ioctl.Ioctl(uintptr(fd), req, uintptr(unsafe.Pointer(&buf[0]))); err != nil {
		return nil, err
	}
	return buf, nil
}

// HasEventType reports whether bit evType is set in a bitmask returned
// by EventTypeBits.
func HasEventType(bits []byte, evType uint) bool {
	byteIdx := evType / 8
	if int(byteIdx) >= len(bits) {
		return false
	}
	return bits[byteIdx]&(1<<(evType%8)) != 0
}

// Close is a thin wrapper so callers in this package don't need the
// syscall import directly.
func Close(fd int) error { return syscall.Close(fd) }
