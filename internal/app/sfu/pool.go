package sfu

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/rs/zerolog/log"
)

// WorkerPool owns a fixed set of media workers and hands them out round robin.
// A worker dying is unrecoverable: after the grace delay onFatal is invoked
// once and the process is expected to exit.
type WorkerPool struct {
	mu      sync.Mutex
	workers []media.Worker
	next    int

	grace     time.Duration
	onFatal   func(error)
	fatalOnce sync.Once
}

func NewWorkerPool(grace time.Duration, onFatal func(error)) *WorkerPool {
	if onFatal == nil {
		onFatal = func(err error) {
			log.Fatal().Err(err).Str("module", "sfu.pool").Msg("media worker died")
		}
	}
	return &WorkerPool{grace: grace, onFatal: onFatal}
}

// Initialize creates count workers (NumCPU when count <= 0). Individual
// failures are logged; it fails only when no worker could be created.
func (p *WorkerPool) Initialize(ctx context.Context, engine media.Engine, count int) error {
	if count <= 0 {
		count = runtime.NumCPU()
	}
	for i := 0; i < count; i++ {
		w, err := engine.CreateWorker(ctx)
		if err != nil {
			log.Error().Err(err).Str("module", "sfu.pool").Int("index", i).Msg("create worker")
			continue
		}
		w.OnDied(func(err error) { p.handleDeath(w, err) })

		p.mu.Lock()
		p.workers = append(p.workers, w)
		p.mu.Unlock()
		metrics.Workers.Inc()
		log.Info().Str("module", "sfu.pool").Str("worker", w.ID()).Msg("worker started")
	}
	if p.Size() == 0 {
		return fmt.Errorf("initialize %d workers: %w", count, domain.ErrNoWorkersAvailable)
	}
	return nil
}

// Next returns live workers in round-robin order.
func (p *WorkerPool) Next() (media.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for range p.workers {
		w := p.workers[p.next%len(p.workers)]
		p.next = (p.next + 1) % len(p.workers)
		if !w.Closed() {
			return w, nil
		}
	}
	return nil, domain.ErrNoWorkersAvailable
}

func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close stops every worker and empties the pool.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.next = 0
	p.mu.Unlock()

	for _, w := range workers {
		if w.Closed() {
			continue
		}
		w.Close()
		metrics.Workers.Dec()
	}
	log.Info().Str("module", "sfu.pool").Int("count", len(workers)).Msg("workers closed")
}

func (p *WorkerPool) handleDeath(w media.Worker, err error) {
	metrics.WorkerDeaths.Inc()
	metrics.Workers.Dec()
	log.Error().Err(err).Str("module", "sfu.pool").Str("worker", w.ID()).Dur("grace", p.grace).
		Msg("media worker died, exiting after grace period")
	cause := fmt.Errorf("worker %s died: %w", w.ID(), err)
	time.AfterFunc(p.grace, func() {
		p.fatalOnce.Do(func() { p.onFatal(cause) })
	})
}
