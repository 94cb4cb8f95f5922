// Package datapipe implements the MCE core's event bus (§3.1, §4.1): a
// set of named typed channels, each holding the last cached value of
// one state variable plus an ordered list of filters and two ordered
// lists of observer triggers (pre-cache "input" and post-cache
// "output").
//
// The concurrency discipline mirrors the teacher repo's bus.Bus: a
// single mutex per channel guards the observer lists and the cached
// value, and delivery happens outside the lock so a trigger can itself
// call back into the hub without deadlocking — but never back into the
// channel it is currently being run from, which is the one thing this
// package actively detects and refuses (§3.1, §5 "no state machine may
// be entered concurrently with itself").
package datapipe

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sailfishos-mce/mce-core/internal/errcode"
)

// CachePolicy controls whether a Publish call updates the channel's
// cached value.
type CachePolicy int

const (
	Cache CachePolicy = iota
	NoCache
)

// SourcePolicy distinguishes a publish originating from an external
// input (sensor, IPC callback) from one that is an internal recompute
// republish; it is carried through to input-triggers as a hint and is
// otherwise inert, matching spec's publish(value, source-policy,
// cache-policy) signature.
type SourcePolicy int

const (
	FromInput SourcePolicy = iota
	Internal
)

// FilterFunc rewrites a value before it is cached. A filter returning a
// non-nil error is treated as identity (§4.1 "Filter raising an error
// is treated as identity").
type FilterFunc func(old, proposed any) (any, error)

// TriggerFunc observes a value; it must not re-enter the channel it was
// invoked from.
type TriggerFunc struct {
	Tag string
	Fn  func(source SourcePolicy, v any)
}

// Debug, when true, makes programmer errors (unknown channel, misuse)
// panic instead of returning an error, matching "programmer error ->
// abort in debug" (§4.1).
var Debug = false

// Channel is one named datapipe.
type Channel struct {
	name        string
	mu          sync.Mutex
	value       any
	hasValue    bool
	filters     []namedFilter
	inputTrigs  []TriggerFunc
	outputTrigs []TriggerFunc
	mayMutate   bool // inputs may mutate the cache
	readOnly    bool
	publishing  bool
	log         zerolog.Logger
}

type namedFilter struct {
	tag string
	fn  FilterFunc
}

// ChannelOpts configures a declared channel.
type ChannelOpts struct {
	Initial   any
	MayMutate bool
	ReadOnly  bool
}

// Hub owns the set of declared channels, one per named state variable.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	log      zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{channels: make(map[string]*Channel), log: log.With().Str("component", "datapipe").Logger()}
}

// Declare creates a new channel. It panics on duplicate declaration,
// the same "catch mistakes at start-up" discipline the teacher repo
// uses for hal.RegisterBuilder.
func (h *Hub) Declare(name string, opts ChannelOpts) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.channels[name]; exists {
		panic(fmt.Sprintf("datapipe: channel %q already declared", name))
	}
	c := &Channel{
		name:      name,
		value:     opts.Initial,
		hasValue:  opts.Initial != nil,
		mayMutate: opts.MayMutate,
		readOnly:  opts.ReadOnly,
		log:       h.log.With().Str("channel", name).Logger(),
	}
	h.channels[name] = c
	return c
}

// Get looks up a previously declared channel.
func (h *Hub) Get(name string) (*Channel, error) {
	h.mu.RLock()
	c, ok := h.channels[name]
	h.mu.RUnlock()
	if !ok {
		if Debug {
			panic(fmt.Sprintf("datapipe: unknown channel %q", name))
		}
		return nil, errcode.New(errcode.UnknownChan, "datapipe.Get", name)
	}
	return c, nil
}

// MustGet is Get but panics on failure, for wiring code at daemon
// start where an unknown channel name is always a programmer error.
func (h *Hub) MustGet(name string) *Channel {
	c, err := h.Get(name)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the channel's diagnostic name.
func (c *Channel) Name() string { return c.name }

// Value returns the last cached value and whether one has ever been
// cached.
func (c *Channel) Value() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.hasValue
}

// AttachFilter appends a filter, run in attachment order.
func (c *Channel) AttachFilter(tag string, fn FilterFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, namedFilter{tag: tag, fn: fn})
}

// DetachFilter removes the most recently attached filter with the
// given tag.
func (c *Channel) DetachFilter(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.filters) - 1; i >= 0; i-- {
		if c.filters[i].tag == tag {
			c.filters = append(c.filters[:i], c.filters[i+1:]...)
			return
		}
	}
}

// AttachInputTrigger appends a pre-cache observer.
func (c *Channel) AttachInputTrigger(t TriggerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputTrigs = append(c.inputTrigs, t)
}

// DetachInputTrigger removes the named pre-cache observer.
func (c *Channel) DetachInputTrigger(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputTrigs = removeTrigger(c.inputTrigs, tag)
}

// AttachOutputTrigger appends a post-cache observer.
func (c *Channel) AttachOutputTrigger(t TriggerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputTrigs = append(c.outputTrigs, t)
}

// DetachOutputTrigger removes the named post-cache observer.
func (c *Channel) DetachOutputTrigger(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputTrigs = removeTrigger(c.outputTrigs, tag)
}

func removeTrigger(list []TriggerFunc, tag string) []TriggerFunc {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Tag == tag {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Publish runs the full pipeline described in §4.1: input-triggers,
// then filters in order, then (if cache-policy is Cache and the
// channel is not read-only) the cache update, then output-triggers.
func (c *Channel) Publish(v any, source SourcePolicy, cache CachePolicy) error {
	c.mu.Lock()
	if c.publishing {
		c.mu.Unlock()
		c.log.Warn().Str("channel", c.name).Msg("re-entrant publish detected; dropped")
		return errcode.New(errcode.Reentrant, "datapipe.Publish", c.name)
	}
	c.publishing = true
	old := c.value
	inTrigs := append([]TriggerFunc(nil), c.inputTrigs...)
	filters := append([]namedFilter(nil), c.filters...)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.publishing = false
		c.mu.Unlock()
	}()

	for _, t := range inTrigs {
		t.Fn(source, v)
	}

	cur := v
	for _, f := range filters {
		nv, err := f.fn(old, cur)
		if err != nil {
			c.log.Warn().Err(err).Str("filter", f.tag).Msg("filter error, treated as identity")
			continue
		}
		cur = nv
	}

	if cache == Cache && !c.readOnly {
		c.mu.Lock()
		c.value = cur
		c.hasValue = true
		outTrigs := append([]TriggerFunc(nil), c.outputTrigs...)
		c.mu.Unlock()
		for _, t := range outTrigs {
			t.Fn(source, cur)
		}
		return nil
	}
	if cache == Cache && c.readOnly {
		return errcode.New(errcode.ReadOnlyChan, "datapipe.Publish", c.name)
	}

	c.mu.Lock()
	outTrigs := append([]TriggerFunc(nil), c.outputTrigs...)
	c.mu.Unlock()
	for _, t := range outTrigs {
		t.Fn(source, cur)
	}
	return nil
}

// Names returns the sorted list of declared channel names, useful for
// diagnostics dumps.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.channels))
	for n := range h.channels {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
