// Package workerpool implements the worker pool (§4.3): a single
// background executor with FIFO queues that offloads blocking I/O
// (sysfs probes, file writes) off the main loop, gated by named
// "contexts" so a torn-down subsystem's callbacks never land late.
//
// The re-arm/queue-drain shape is grounded on the teacher repo's
// services/hal/worker.go measureWorker and gpio_worker.go: a
// goroutine-owned FIFO fed by a buffered channel, with a mutex
// protecting only the shared context-registration set.
package workerpool

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Job is a unit of work submitted to the pool.
type Job struct {
	Context string      // context tag gating both Execute and Notify
	Name    string      // display name, for diagnostics
	Param   any         // opaque parameter passed through to Execute
	Execute func(param any) any
	Notify  func(param any, result any)
}

// Pool is the single background executor.
type Pool struct {
	log      zerolog.Logger
	queue    chan Job
	notifyCh chan notifyItem

	mu       sync.Mutex
	contexts map[string]struct{}

	wg sync.WaitGroup
}

type notifyItem struct {
	job    Job
	result any
}

// New creates a pool with the given queue depth.
func New(log zerolog.Logger, queueDepth int) *Pool {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	return &Pool{
		log:      log.With().Str("component", "workerpool").Logger(),
		queue:    make(chan Job, queueDepth),
		notifyCh: make(chan notifyItem, queueDepth),
		contexts: make(map[string]struct{}),
	}
}

// AddContext registers a context tag. Jobs submitted under this tag
// will run their Execute/Notify callbacks while it stays registered.
func (p *Pool) AddContext(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts[tag] = struct{}{}
}

// RemoveContext unregisters a context tag. This is the mechanism a
// subsystem uses to guarantee its own callbacks never fire after it
// tears itself down: the mutex is held only while a callback runs, so
// RemoveContext can't race with an in-flight Execute or Notify for
// that tag (§5).
func (p *Pool) RemoveContext(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.contexts, tag)
}

func (p *Pool) hasContext(tag string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.contexts[tag]
	return ok
}

// Submit enqueues a job. It returns false if the queue is full — the
// caller decides whether to drop or retry, mirroring
// measureWorker.Submit's best-effort semantics.
func (p *Pool) Submit(j Job) bool {
	select {
	case p.queue <- j:
		return true
	default:
		return false
	}
}

// Run starts the background executor; Notify callbacks are delivered
// separately by RunNotifyLoop. Run blocks until ctx is cancelled and
// all in-flight work has drained; call it from a goroutine.
func (p *Pool) Run(ctx context.Context) {
	p.wg.Add(1)
	go p.executorLoop(ctx)
	p.wg.Wait()
}

func (p *Pool) executorLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.queue:
			p.runOne(ctx, j)
		}
	}
}

func (p *Pool) runOne(ctx context.Context, j Job) {
	if !p.hasContext(j.Context) {
		p.log.Debug().Str("job", j.Name).Str("ctx", j.Context).Msg("execute skipped: context not registered")
		return
	}
	var result any
	if j.Execute != nil {
		result = j.Execute(j.Param)
	}
	if j.Notify == nil {
		return
	}
	select {
	case p.notifyCh <- notifyItem{job: j, result: result}:
	case <-ctx.Done():
	}
}

// RunNotifyLoop drains pending notifications on the calling goroutine (the
// main loop) until ctx is cancelled, gating each Notify call on its
// context still being registered at delivery time.
func (p *Pool) RunNotifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.notifyCh:
			if !p.hasContext(item.job.Context) {
				p.log.Debug().Str("job", item.job.Name).Str("ctx", item.job.Context).Msg("notify skipped: context not registered")
				continue
			}
			item.job.Notify(item.job.Param, item.result)
		}
	}
}
