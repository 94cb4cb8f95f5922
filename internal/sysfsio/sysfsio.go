// Package sysfsio implements the write-only sysfs control-file contract
// (§6.5): a fixed candidate-path probe followed by whole-file
// truncate-then-write of a short ASCII literal. Every control file in
// this daemon (touchscreen/keypad enable, double-tap gesture, charging)
// goes through a Control.
package sysfsio

import (
	"os"

	"github.com/rs/zerolog"
)

// Control is a discovered (or not-yet-discovered) sysfs control file.
// Once a probe fails to find any candidate, Write always returns
// ErrUnavailable and the feature is treated as silently disabled (§7.4).
type Control struct {
	name       string
	candidates []string
	path       string
	probed     bool
	log        zerolog.Logger
}

// ErrUnavailable is returned by Write when no candidate path exists.
var ErrUnavailable = errUnavailable{}

type errUnavailable struct{}

func (errUnavailable) Error() string { return "sysfsio: no control file discovered" }

// NewControl creates a control file probe. name is used only for
// diagnostics; candidates are tried in order at first use.
func NewControl(log zerolog.Logger, name string, candidates ...string) *Control {
	return &Control{
		name:       name,
		candidates: candidates,
		log:        log.With().Str("component", "sysfsio").Str("control", name).Logger(),
	}
}

// Discover probes the candidate paths, caching the first one that
// exists. Safe to call repeatedly; only the first call does I/O.
func (c *Control) Discover() (string, bool) {
	if c.probed {
		return c.path, c.path != ""
	}
	c.probed = true
	for _, p := range c.candidates {
		if _, err := os.Stat(p); err == nil {
			c.path = p
			c.log.Debug().Str("path", p).Msg("sysfs control file discovered")
			return p, true
		}
	}
	c.log.Warn().Strs("candidates", c.candidates).Msg("no sysfs control file found; feature disabled")
	return "", false
}

// Path reports the discovered path, if any, running Discover first if
// the candidates have not been probed yet.
func (c *Control) Path() (string, bool) {
	if !c.probed {
		return c.Discover()
	}
	return c.path, c.path != ""
}

// Write truncates and writes literal to the discovered control file.
// This is meant to be called from the worker pool (§4.3), never the
// main loop, since the underlying write may block on a slow sysfs
// backend.
func (c *Control) Write(literal string) error {
	path, ok := c.Discover()
	if !ok {
		return ErrUnavailable
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		c.log.Warn().Err(err).Msg("sysfs control write failed to open")
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(literal); err != nil {
		c.log.Warn().Err(err).Msg("sysfs control write failed")
		return err
	}
	return nil
}
