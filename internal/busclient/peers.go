package busclient

import (
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
	"github.com/rs/zerolog"
)

// PeerState is the small state machine each tracked bus peer moves
// through (§3.7, §4.8).
type PeerState int

const (
	StateInitial PeerState = iota
	StateQueryOwner
	StateQueryPID
	StateIdentify
	StateRunning
	StateStopped
)

func (s PeerState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateQueryOwner:
		return "query-owner"
	case StateQueryPID:
		return "query-pid"
	case StateIdentify:
		return "identify"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PeerInfo is the watched state for one tracked well-known bus name
// (§3.7).
type PeerInfo struct {
	Name    string
	Owner   string
	State   PeerState
	PID     uint32
	UID     uint32
	GID     uint32
	Cmdline []string
}

// Hooks are the (out-of-scope, external) bus-broker queries the
// tracker drives the state machine with: GetNameOwner,
// GetConnectionUnixProcessID/User, and a /proc/<pid>/cmdline reader.
// Each is expected to be fast/local (§1 "the IPC transport ... is out
// of scope"); a real broker client would satisfy these with pending
// bus calls instead.
type Hooks struct {
	GetOwner    func(name string) (owner string, ok bool)
	GetPID      func(owner string) (pid uint32, err error)
	GetUIDGID   func(owner string) (uid, gid uint32, err error)
	ReadCmdline func(pid uint32) (raw string, err error) // NUL-joined, as in /proc/<pid>/cmdline
}

// Tracker maintains the per-peer PeerInfo table (§3.7) and fires
// registered callbacks "on every transition to/from running" (§4.8).
type Tracker struct {
	mu        sync.Mutex
	peers     map[string]*PeerInfo
	callbacks map[string][]func(PeerInfo)
	grace     map[string]*time.Timer
	stopGrace time.Duration
	hooks     Hooks
	log       zerolog.Logger
}

// NewTracker creates a peer tracker. stopGrace is how long a peer stays
// in StateStopped before its slot is removed (§3.7 "removed only after
// a stop grace").
func NewTracker(log zerolog.Logger, hooks Hooks, stopGrace time.Duration) *Tracker {
	if stopGrace <= 0 {
		stopGrace = 5 * time.Second
	}
	return &Tracker{
		peers:     make(map[string]*PeerInfo),
		callbacks: make(map[string][]func(PeerInfo)),
		grace:     make(map[string]*time.Timer),
		stopGrace: stopGrace,
		hooks:     hooks,
		log:       log.With().Str("component", "busclient.peers").Logger(),
	}
}

// OnTransition registers cb to fire whenever name's peer transitions to
// or from StateRunning.
func (t *Tracker) OnTransition(name string, cb func(PeerInfo)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks[name] = append(t.callbacks[name], cb)
}

// Get returns a snapshot of the tracked peer, if any.
func (t *Tracker) Get(name string) (PeerInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[name]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

// Watch begins tracking name, running the initial -> query-owner ->
// query-pid -> identify -> running pipeline eagerly.
func (t *Tracker) Watch(name string) {
	t.mu.Lock()
	if _, exists := t.peers[name]; exists {
		t.mu.Unlock()
		return
	}
	p := &PeerInfo{Name: name, State: StateInitial}
	t.peers[name] = p
	t.mu.Unlock()

	t.advanceToOwner(name)
}

func (t *Tracker) advanceToOwner(name string) {
	t.setState(name, StateQueryOwner)
	if t.hooks.GetOwner == nil {
		return
	}
	owner, ok := t.hooks.GetOwner(name)
	if !ok || owner == "" {
		t.markStopped(name)
		return
	}
	t.setOwner(name, owner)
	t.advanceToPID(name, owner)
}

func (t *Tracker) advanceToPID(name, owner string) {
	t.setState(name, StateQueryPID)
	if t.hooks.GetPID == nil {
		t.markRunning(name)
		return
	}
	pid, err := t.hooks.GetPID(owner)
	if err != nil {
		t.markStopped(name)
		return
	}
	t.mu.Lock()
	if p, ok := t.peers[name]; ok {
		p.PID = pid
	}
	t.mu.Unlock()
	t.advanceToIdentify(name, owner, pid)
}

func (t *Tracker) advanceToIdentify(name, owner string, pid uint32) {
	t.setState(name, StateIdentify)
	if t.hooks.GetUIDGID != nil {
		if uid, gid, err := t.hooks.GetUIDGID(owner); err == nil {
			t.mu.Lock()
			if p, ok := t.peers[name]; ok {
				p.UID, p.GID = uid, gid
			}
			t.mu.Unlock()
		}
	}
	if t.hooks.ReadCmdline != nil {
		if raw, err := t.hooks.ReadCmdline(pid); err == nil {
			if argv, err := shlex.Split(strings.ReplaceAll(raw, "\x00", " ")); err == nil {
				t.mu.Lock()
				if p, ok := t.peers[name]; ok {
					p.Cmdline = argv
				}
				t.mu.Unlock()
			}
		}
	}
	t.markRunning(name)
}

// NameOwnerChanged feeds an external bus-broker NameOwnerChanged signal
// into the tracker. An empty newOwner means the peer disconnected.
func (t *Tracker) NameOwnerChanged(name, newOwner string) {
	t.mu.Lock()
	_, tracked := t.peers[name]
	t.mu.Unlock()
	if !tracked {
		return
	}
	if newOwner == "" {
		t.markStopped(name)
		return
	}
	t.setOwner(name, newOwner)
	t.advanceToPID(name, newOwner)
}

func (t *Tracker) setOwner(name, owner string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[name]; ok {
		p.Owner = owner
	}
}

func (t *Tracker) setState(name string, s PeerState) {
	t.mu.Lock()
	if p, ok := t.peers[name]; ok {
		p.State = s
	}
	t.mu.Unlock()
}

func (t *Tracker) markRunning(name string) {
	t.transition(name, StateRunning)
}

func (t *Tracker) markStopped(name string) {
	t.mu.Lock()
	if timer, ok := t.grace[name]; ok {
		timer.Stop()
	}
	t.mu.Unlock()
	t.transition(name, StateStopped)

	t.mu.Lock()
	t.grace[name] = time.AfterFunc(t.stopGrace, func() {
		t.mu.Lock()
		delete(t.peers, name)
		delete(t.grace, name)
		t.mu.Unlock()
	})
	t.mu.Unlock()
}

func (t *Tracker) transition(name string, newState PeerState) {
	t.mu.Lock()
	p, ok := t.peers[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	was := p.State == StateRunning
	p.State = newState
	isNow := newState == StateRunning
	snapshot := *p
	var cbs []func(PeerInfo)
	cbs = append(cbs, t.callbacks[name]...)
	t.mu.Unlock()

	if was != isNow {
		for _, cb := range cbs {
			cb(snapshot)
		}
	}
}
