// Package heartbeat implements the suspend-proof timer service (§3.8,
// §4.2): timers keep their deadline in monotonic-boot-time so they
// fire after long suspends, dispatched from a single background loop
// whose re-arm-to-next-deadline pattern is grounded on the teacher
// repo's services/hal/worker.go measureWorker (minDue + timer.Reset
// loop).
package heartbeat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sailfishos-mce/mce-core/internal/errcode"
	"github.com/sailfishos-mce/mce-core/internal/timex"
)

// Callback runs when a timer fires. Returning rearm=true re-arms the
// timer for periodMs (or for overridePeriodMs milliseconds from now if
// overridePeriodMs > 0), matching "its callback may re-arm it" (§4.2).
type Callback func() (rearm bool, overridePeriodMs int64)

// Timer is a single named heartbeat timer (§3.8). Exactly one of
// {inactive, active with deadline > 0} holds at any time (invariant I8).
type Timer struct {
	name     string
	periodMs int64
	deadline int64 // boot-time ms; 0 while inactive
	active   bool
	seq      uint64
	cb       Callback
}

func (t *Timer) Name() string { return t.name }
func (t *Timer) Active() bool { return t.active }

// Deadline returns the boot-time deadline in ms, or 0 if inactive.
func (t *Timer) Deadline() int64 { return t.deadline }

// Service owns the full set of heartbeat timers and the goroutine that
// dispatches them.
type Service struct {
	mu      sync.Mutex
	timers  map[string]*Timer
	seqCtr  uint64
	wake    chan struct{}
	log     zerolog.Logger
	started bool
}

// New creates an empty heartbeat service.
func New(log zerolog.Logger) *Service {
	return &Service{
		timers: make(map[string]*Timer),
		wake:   make(chan struct{}, 1),
		log:    log.With().Str("component", "heartbeat").Logger(),
	}
}

// Create installs a new inactive timer. periodMs <= 0 is a programmer
// error.
func (s *Service) Create(name string, periodMs int64, cb Callback) (*Timer, error) {
	if periodMs <= 0 {
		return nil, errcode.New(errcode.InvalidArgs, "heartbeat.Create", "periodMs must be > 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.timers[name]; exists {
		return nil, errcode.New(errcode.InvalidArgs, "heartbeat.Create", "duplicate timer name "+name)
	}
	t := &Timer{name: name, periodMs: periodMs, cb: cb}
	s.timers[name] = t
	return t, nil
}

// SetPeriod changes a timer's period without affecting its current
// active/inactive state or pending deadline.
func (s *Service) SetPeriod(name string, periodMs int64) error {
	if periodMs <= 0 {
		return errcode.New(errcode.InvalidArgs, "heartbeat.SetPeriod", "periodMs must be > 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[name]
	if !ok {
		return errcode.New(errcode.UnknownChan, "heartbeat.SetPeriod", name)
	}
	t.periodMs = periodMs
	return nil
}

// Start arms t, computing its deadline as now + period.
func (s *Service) Start(name string) error { return s.startIn(name, 0) }

// StartIn arms t with an explicit delay overriding its configured
// period for this one arm-cycle (used by one-shot-style heartbeat uses
// such as idle-shutdown, §4.5).
func (s *Service) StartIn(name string, delayMs int64) error { return s.startIn(name, delayMs) }

func (s *Service) startIn(name string, delayMs int64) error {
	s.mu.Lock()
	t, ok := s.timers[name]
	if !ok {
		s.mu.Unlock()
		return errcode.New(errcode.UnknownChan, "heartbeat.Start", name)
	}
	d := delayMs
	if d <= 0 {
		d = t.periodMs
	}
	s.seqCtr++
	t.deadline = timex.NowMs() + d
	t.active = true
	t.seq = s.seqCtr
	s.mu.Unlock()
	s.kick()
	return nil
}

// Stop deactivates t. Safe to call from any callback (§5).
func (s *Service) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[name]
	if !ok {
		return errcode.New(errcode.UnknownChan, "heartbeat.Stop", name)
	}
	t.active = false
	t.deadline = 0
	return nil
}

// Delete removes the timer entirely.
func (s *Service) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, name)
}

// IsActive reports whether the named timer is currently armed.
func (s *Service) IsActive(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[name]
	return ok && t.active
}

func (s *Service) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Dispatch runs one dispatch pass against the given boot-time reading:
// every active timer whose deadline <= now fires, ordered by deadline
// then insertion sequence, and ties never reorder across passes since
// seq is assigned once at Start time and never touched by Dispatch.
func (s *Service) Dispatch(now int64) {
	s.mu.Lock()
	var due []*Timer
	for _, t := range s.timers {
		if t.active && t.deadline <= now {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].seq < due[j].seq
	})
	s.mu.Unlock()

	for _, t := range due {
		s.mu.Lock()
		fired := t.deadline
		s.mu.Unlock()
		rearm, overrideMs := t.cb()
		s.mu.Lock()
		// The timer may have been stopped/deleted/restarted by the
		// callback itself; only rearm if it is still the same
		// one-shot occurrence (still inactive-pending-rearm at the
		// deadline we fired for).
		if cur, ok := s.timers[t.name]; ok && cur == t && cur.deadline == fired {
			if rearm {
				d := overrideMs
				if d <= 0 {
					d = cur.periodMs
				}
				cur.deadline = now + d
				cur.active = true
			} else {
				cur.active = false
				cur.deadline = 0
			}
		}
		s.mu.Unlock()
	}
}

func (s *Service) earliestDeadline() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var min int64
	found := false
	for _, t := range s.timers {
		if !t.active {
			continue
		}
		if !found || t.deadline < min {
			min = t.deadline
			found = true
		}
	}
	return min, found
}

// Run drives the dispatch loop until ctx is cancelled. resolution
// bounds how often the loop wakes even with nothing due, so that a
// resume-from-suspend that skipped a kick is still noticed promptly.
func (s *Service) Run(ctx context.Context, resolution time.Duration) {
	if resolution <= 0 {
		resolution = time.Second
	}
	timer := time.NewTimer(resolution)
	defer timer.Stop()
	for {
		s.Dispatch(timex.NowMs())

		wait := resolution
		if dl, ok := s.earliestDeadline(); ok {
			now := timex.NowMs()
			if dl <= now {
				wait = 0
			} else if d := timex.MsToDuration(dl - now); d < wait {
				wait = d
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}
