// Package settings implements the GConf-like settings tree (§6.6): a
// flat key space with a typed default, a validity check, and a
// per-key change notifier. Loaded the same way as internal/daemonconfig
// (github.com/andreyvit/tinyjson) but re-read and re-published
// key-by-key so one bad key never blocks the rest of daemon start
// (§7.6).
package settings

import (
	"sync"

	"github.com/andreyvit/tinyjson"
	"github.com/rs/zerolog"
)

// Value is the dynamic type stored per key: bool, int64, or string.
type Value struct {
	Bool   bool
	Int    int64
	String string
	IsBool bool
	IsInt  bool
}

// Spec describes one key's default and validator.
type Spec struct {
	Key     string
	Default Value
	// Validate reports whether v is an acceptable value for this key.
	// A nil Validate accepts anything of the matching dynamic type.
	Validate func(v Value) bool
}

// Tree is the full registered settings space plus the last-loaded
// values and per-key change callbacks (§6.6 "a change notifier
// registered per key").
type Tree struct {
	mu       sync.Mutex
	specs    map[string]Spec
	values   map[string]Value
	watchers map[string][]func(Value)
	log      zerolog.Logger
}

// New creates an empty tree. Register every key with Register before
// calling Load.
func New(log zerolog.Logger) *Tree {
	return &Tree{
		specs:    make(map[string]Spec),
		values:   make(map[string]Value),
		watchers: make(map[string][]func(Value)),
		log:      log.With().Str("component", "settings").Logger(),
	}
}

// Register declares a key with its default and validator, and seeds
// the current value with the default until Load runs.
func (t *Tree) Register(spec Spec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.specs[spec.Key] = spec
	t.values[spec.Key] = spec.Default
}

// Watch registers cb to fire whenever key's value changes (including
// the initial Load if it differs from the default already seeded by
// Register).
func (t *Tree) Watch(key string, cb func(Value)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watchers[key] = append(t.watchers[key], cb)
}

// Get returns the current value for key, or the zero Value if key
// was never registered.
func (t *Tree) Get(key string) Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values[key]
}

// LoadBytes parses raw as a JSON object and, for every registered key
// present and valid, updates the tree and fires that key's watchers.
// Keys absent or invalid keep their prior value (§7.6).
func (t *Tree) LoadBytes(raw []byte) error {
	r := tinyjson.Raw(raw)
	val := r.Value()
	if err := r.EnsureEOF(); err != nil {
		return err
	}
	m, ok := val.(map[string]any)
	if !ok {
		t.log.Warn().Msg("settings document is not a JSON object; keeping defaults")
		return nil
	}

	t.mu.Lock()
	type change struct {
		key string
		v   Value
	}
	var changes []change
	for key, spec := range t.specs {
		rawVal, present := m[key]
		if !present {
			continue
		}
		v, ok := decode(spec.Default, rawVal)
		if !ok {
			t.log.Warn().Str("key", key).Msg("settings key has wrong type; keeping default")
			continue
		}
		if spec.Validate != nil && !spec.Validate(v) {
			t.log.Warn().Str("key", key).Msg("settings key failed validation; keeping default")
			continue
		}
		if t.values[key] == v {
			continue
		}
		t.values[key] = v
		changes = append(changes, change{key, v})
	}
	watchersByKey := make(map[string][]func(Value), len(changes))
	for _, c := range changes {
		watchersByKey[c.key] = append([]func(Value){}, t.watchers[c.key]...)
	}
	t.mu.Unlock()

	for _, c := range changes {
		for _, cb := range watchersByKey[c.key] {
			cb(c.v)
		}
	}
	return nil
}

func decode(zero Value, raw any) (Value, bool) {
	switch {
	case zero.IsBool:
		b, ok := raw.(bool)
		return Value{Bool: b, IsBool: true}, ok
	case zero.IsInt:
		f, ok := raw.(float64)
		return Value{Int: int64(f), IsInt: true}, ok
	default:
		s, ok := raw.(string)
		return Value{String: s}, ok
	}
}

// BoolValue, IntValue and StringValue are Value constructors for
// Spec.Default.
func BoolValue(b bool) Value     { return Value{Bool: b, IsBool: true} }
func IntValue(n int64) Value     { return Value{Int: n, IsInt: true} }
func StringValue(s string) Value { return Value{String: s} }
