// Package submode implements the submode bitmask register (C6, §3.2):
// orthogonal modifier flags attached to the primary system mode, with
// change-delta logging on every accepted transition.
package submode

import "github.com/rs/zerolog"

// Bit is one orthogonal modifier flag.
type Bit uint32

const (
	TKLock Bit = 1 << iota
	Bootup
	Transition
	Malf
	Invalid
)

var bitNames = map[Bit]string{
	TKLock:     "tklock",
	Bootup:     "bootup",
	Transition: "transition",
	Malf:       "malf",
	Invalid:    "invalid",
}

// Mask is the full set of currently-set bits.
type Mask Bit

func (m Mask) Has(b Bit) bool { return Bit(m)&b != 0 }

// Filter validates and may rewrite a requested transition before it is
// committed; the tklock submode filter (§4.4.1) is the prototypical
// user of this hook, replacing the requested tklock bit with the UI's
// actually-accepted state.
type Filter func(current, requested Mask) Mask

// Register holds the current mask and fires change-delta logs. It is
// intentionally not a datapipe.Channel itself (submode's filter needs
// to synchronously call back into tklock UI policy before the value is
// considered committed — see §4.4.1), but mirrors Channel's
// filter-then-commit shape.
type Register struct {
	mask    Mask
	filters []Filter
	log     zerolog.Logger
}

// New creates a register with all bits clear.
func New(log zerolog.Logger) *Register {
	return &Register{log: log.With().Str("component", "submode").Logger()}
}

// AttachFilter appends a filter run, in attachment order, before a
// requested mask is committed.
func (r *Register) AttachFilter(f Filter) {
	r.filters = append(r.filters, f)
}

// Get returns the current mask.
func (r *Register) Get() Mask { return r.mask }

// Set runs all filters over requested, commits the result, and logs
// the delta against the previous mask.
func (r *Register) Set(requested Mask) Mask {
	result := requested
	for _, f := range r.filters {
		result = f(r.mask, result)
	}
	if result == r.mask {
		return r.mask
	}
	added := Bit(result) &^ Bit(r.mask)
	removed := Bit(r.mask) &^ Bit(result)
	r.mask = result
	r.log.Debug().
		Str("added", namesOf(added)).
		Str("removed", namesOf(removed)).
		Uint32("mask", uint32(result)).
		Msg("submode changed")
	return r.mask
}

// SetBit is a convenience wrapper for Set that flips a single bit.
func (r *Register) SetBit(b Bit, on bool) Mask {
	if on {
		return r.Set(Mask(Bit(r.mask) | b))
	}
	return r.Set(Mask(Bit(r.mask) &^ b))
}

func namesOf(bits Bit) string {
	if bits == 0 {
		return ""
	}
	out := ""
	for b, name := range bitNames {
		if bits&b != 0 {
			if out != "" {
				out += ","
			}
			out += name
		}
	}
	return out
}
