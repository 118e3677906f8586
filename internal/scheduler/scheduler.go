// Package scheduler runs decode/filter/downsample/render jobs on a
// bounded worker pool and delivers completions through a single
// channel guarded by a generation counter.
package scheduler

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/sxmview/server/internal/filter"
	"github.com/sxmview/server/internal/store"
)

// Generation is the process-wide epoch marker. It is advanced only by
// the coordinator (single writer) and read lock-free by workers and
// the dispatcher.
type Generation struct {
	v atomic.Int64
}

// Current returns the generation value.
func (g *Generation) Current() int64 {
	return g.v.Load()
}

// Advance bumps the generation by exactly one and returns the new
// value. Called once per folder (re)load or cache-invalidating
// configuration change.
func (g *Generation) Advance() int64 {
	return g.v.Add(1)
}

// Job is one render request. It captures the generation at submission
// time; a completion whose generation no longer matches is discarded
// at delivery.
type Job struct {
	HeaderPath string
	Channel    int
	W, H       int
	Colormap   string
	Pipeline   filter.Pipeline
	Gen        int64
}

// Completion is the message a worker posts back for one job. Err is
// empty on success.
type Completion struct {
	Job Job
	Key store.RenderedKey
	PNG []byte
	Err string
	Gen int64
}

// ExecFunc performs the full render walk for one job. It runs on a
// worker goroutine and must not touch coordinator state.
type ExecFunc func(Job) Completion

// HandlerFunc consumes non-stale completions. It runs on the
// dispatcher goroutine, the single consumer of the delivery channel.
type HandlerFunc func(Completion)

// Config sizes the pool.
type Config struct {
	Workers    int
	QueueDepth int
}

// Pool is the fixed-size render worker pool.
type Pool struct {
	cfg      Config
	gen      *Generation
	execute  ExecFunc
	handler  HandlerFunc
	jobs     chan Job
	results  chan Completion
	wg       sync.WaitGroup
	dispatch sync.WaitGroup
	stopOnce sync.Once

	stale atomic.Int64
}

// NewPool creates a pool. Worker count and queue depth are clamped to
// at least one; the queue bound provides backpressure.
func NewPool(cfg Config, gen *Generation, execute ExecFunc, handler HandlerFunc) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	return &Pool{
		cfg:     cfg,
		gen:     gen,
		execute: execute,
		handler: handler,
		jobs:    make(chan Job, cfg.QueueDepth),
		results: make(chan Completion, cfg.QueueDepth),
	}
}

// Start launches the workers and the dispatcher.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.dispatch.Add(1)
	go p.dispatcher()
}

// Stop drains the pool: no new jobs, in-flight jobs finish, then the
// dispatcher exits.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
		close(p.results)
		p.dispatch.Wait()
	})
}

// Submit enqueues a job, returning false when the bounded queue is
// full. No cancellation exists for queued jobs; the staleness check at
// delivery discards superseded results.
func (p *Pool) Submit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// StaleDiscards reports how many completions were dropped for carrying
// a superseded generation.
func (p *Pool) StaleDiscards() int64 {
	return p.stale.Load()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		c := p.execute(job)
		c.Job = job
		c.Gen = job.Gen
		p.results <- c
	}
}

// dispatcher is the single consumer of the delivery channel. A
// completion whose generation does not match the current one
// corresponds to a folder/filter state that no longer exists: it is
// dropped without touching any cache or invoking the handler.
func (p *Pool) dispatcher() {
	defer p.dispatch.Done()
	for c := range p.results {
		if c.Gen != p.gen.Current() {
			p.stale.Add(1)
			log.Printf("[Scheduler] discarding stale result for %s ch%d (gen %d, current %d)",
				c.Job.HeaderPath, c.Job.Channel, c.Gen, p.gen.Current())
			continue
		}
		if p.handler != nil {
			p.handler(c)
		}
	}
}
