//go:build !linux

package timex

import "time"

var processStart = time.Now()

// bootTimeMs is a portable fallback (used off-target, e.g. for tests on
// a development workstation) that approximates boot-time with
// monotonic process uptime. It does not survive suspend, which is fine
// off-target since there is no suspend to survive.
func bootTimeMs() int64 {
	return time.Since(processStart).Milliseconds()
}
