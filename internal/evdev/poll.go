package evdev

import (
	"os"
	"time"

	"github.com/daedaluz/fdev/poll"
)

// WaitReadable blocks until fd has data available or timeout elapses,
// the same non-blocking-main-loop discipline Daedaluz-goserial's
// Port.readTimeout uses around poll.WaitInput before its blocking
// syscall.Read.
func WaitReadable(fd int, timeout time.Duration) error {
	return poll.WaitInput(fd, timeout)
}

// Device is an opened evdev character device.
type Device struct {
	f  *os.File
	fd int
}

// Open opens path (e.g. "/dev/input/event3") for reading.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return &Device{f: f, fd: int(f.Fd())}, nil
}

func (d *Device) Fd() int { return d.fd }

func (d *Device) Close() error { return d.f.Close() }

// Grab/Ungrab the device exclusively (§4.4.11 input-grab decision).
func (d *Device) Grab() error   { return Grab(d.fd, true) }
func (d *Device) Ungrab() error { return Grab(d.fd, false) }

// ReadEvent blocks (subject to timeout, or indefinitely if timeout<=0)
// until one input_event struct is available, then decodes it.
func (d *Device) ReadEvent(timeout time.Duration) (Event, error) {
	if timeout > 0 {
		if err := WaitReadable(d.fd, timeout); err != nil {
			return Event{}, err
		}
	}
	var raw [rawEventSize]byte
	if _, err := d.f.Read(raw[:]); err != nil {
		return Event{}, err
	}
	return decodeEvent(raw), nil
}
