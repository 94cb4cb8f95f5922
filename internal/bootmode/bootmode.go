// Package bootmode implements the system-lifecycle tracker (C11): the
// USER/ACTDEAD/SHUTDOWN/REBOOT state channel, the initial submode bits
// a fresh process should start in, and the on-disk bootup/MALF marker
// files (§6.4) that let mce tell a normal boot apart from one that
// crashed mid-startup on the previous attempt.
package bootmode

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/submode"
)

// Channel name this package owns.
const ChanSystemState = "system.state"

// Marker file paths; variables (not consts) so tests can redirect them
// into a scratch directory.
var (
	bootupMarkerPath = "/var/lib/mce/bootup-in-progress"
	malfMarkerPath   = "/var/lib/mce/malf"
)

// IPCFunc issues a fire-and-forget IPC call, e.g. the shutdown LED
// pattern request.
type IPCFunc func(method string, args ...any)

// Controller owns the system-state channel and the bootup/MALF marker
// bookkeeping.
type Controller struct {
	log zerolog.Logger
	hub *datapipe.Hub
	sm  *submode.Register
	ipc IPCFunc

	mu        sync.Mutex
	bootupDone bool
}

// Deps bundles Controller's collaborators.
type Deps struct {
	Log     zerolog.Logger
	Hub     *datapipe.Hub
	Submode *submode.Register
	IPC     IPCFunc
}

// New builds a Controller, declares ChanSystemState, sets the initial
// Bootup/Malf submode bits, and runs the marker-file bootup check
// (§6.4): if the marker from a previous run is still present, the
// previous boot never reached DesktopStartupComplete and this boot is
// flagged MALF so a watchdog or the UI can surface it.
func New(d Deps) *Controller {
	if d.IPC == nil {
		d.IPC = func(string, ...any) {}
	}
	c := &Controller{
		log: d.Log.With().Str("component", "bootmode").Logger(),
		hub: d.Hub,
		sm:  d.Submode,
		ipc: d.IPC,
	}

	c.hub.Declare(ChanSystemState, datapipe.ChannelOpts{Initial: mcetypes.SystemBoot})
	c.sm.SetBit(submode.Bootup, true)

	if _, err := os.Stat(bootupMarkerPath); err == nil {
		c.log.Warn().Msg("bootup marker present from a previous run; flagging MALF")
		c.SetMalf("incomplete previous boot")
	} else if checkMalfMarker() {
		c.log.Warn().Msg("MALF marker present on disk")
		c.sm.SetBit(submode.Malf, true)
	}
	c.writeBootupMarker()

	return c
}

// SetState publishes a new system lifecycle state and runs its side
// effects: a transition into SHUTDOWN or REBOOT requests the
// power-down LED pattern (§6.4).
func (c *Controller) SetState(s mcetypes.SystemState) {
	if ch, err := c.hub.Get(ChanSystemState); err == nil {
		ch.Publish(s, datapipe.FromInput, datapipe.Cache)
	}
	switch s {
	case mcetypes.SystemShutdown, mcetypes.SystemReboot:
		c.ipc("led.pattern", "PatternPowerOff", true)
	}
}

// DesktopStartupComplete clears the Bootup submode bit and removes the
// on-disk marker, recording that this boot reached a running UI
// without crashing (§6.4).
func (c *Controller) DesktopStartupComplete() {
	c.mu.Lock()
	if c.bootupDone {
		c.mu.Unlock()
		return
	}
	c.bootupDone = true
	c.mu.Unlock()

	c.sm.SetBit(submode.Bootup, false)
	_ = os.Remove(bootupMarkerPath)
}

// SetMalf records a malfunction: it writes the persistent marker and
// sets the Malf submode bit so the UI can show a warning (§6.4). The
// marker deliberately outlives this process; it is cleared only by
// ClearMalf, an explicit administrative action.
func (c *Controller) SetMalf(reason string) {
	c.sm.SetBit(submode.Malf, true)
	_ = os.MkdirAll(filepath.Dir(malfMarkerPath), 0o755)
	_ = os.WriteFile(malfMarkerPath, []byte(reason), 0o644)
}

// ClearMalf removes the MALF marker and bit.
func (c *Controller) ClearMalf() {
	c.sm.SetBit(submode.Malf, false)
	_ = os.Remove(malfMarkerPath)
}

func (c *Controller) writeBootupMarker() {
	_ = os.MkdirAll(filepath.Dir(bootupMarkerPath), 0o755)
	_ = os.WriteFile(bootupMarkerPath, []byte("1"), 0o644)
}

func checkMalfMarker() bool {
	_, err := os.Stat(malfMarkerPath)
	return err == nil
}
