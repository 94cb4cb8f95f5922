//go:build linux

package timex

import "golang.org/x/sys/unix"

// bootTimeMs reads CLOCK_BOOTTIME, the clock source that keeps
// advancing across suspend. This is the one piece of the heartbeat
// timer contract that cannot be satisfied by the standard library,
// which only exposes CLOCK_MONOTONIC via runtime internals.
func bootTimeMs() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return 0
	}
	return ts.Sec*1000 + ts.Nsec/1_000_000
}
