// Package timex provides the monotonic-boot-time clock that the
// heartbeat timer service (§3.8, §4.2) needs in order to survive
// suspend/resume: ordinary time.Now() is wall-clock and
// time.Since(start) with a monotonic time.Time both stop advancing
// while the device is suspended on most embedded kernels' default
// CLOCK_MONOTONIC source, whereas CLOCK_BOOTTIME keeps counting
// through suspend. Heartbeat deadlines are always expressed in this
// clock's milliseconds.
package timex

import "time"

// Clock returns the current boot-time in milliseconds. It is a var so
// tests can substitute a controllable fake.
var Clock func() int64 = bootTimeMs

// NowMs returns the current boot-time reading.
func NowMs() int64 { return Clock() }

// MsToDuration is a small readability helper.
func MsToDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// DurationToMs truncates a duration to milliseconds.
func DurationToMs(d time.Duration) int64 { return d.Milliseconds() }
