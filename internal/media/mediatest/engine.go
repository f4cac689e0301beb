// Package mediatest provides an in-memory media.Engine for tests. It keeps the
// engine's object graph and close cascades but moves no media.
package mediatest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Conference/internal/media"
)

var ErrCreateWorker = errors.New("mediatest: worker creation failed")

type Engine struct {
	mu      sync.Mutex
	seq     atomic.Uint64
	workers []*Worker

	// FailWorkers makes the next n CreateWorker calls fail.
	FailWorkers int
	// AfterCreate, when set, runs once a transport, producer or consumer
	// exists and before the call that created it returns.
	AfterCreate func(kind, id string)
}

var _ media.Engine = (*Engine)(nil)

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) created(kind, id string) {
	if e.AfterCreate != nil {
		e.AfterCreate(kind, id)
	}
}

func (e *Engine) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, e.seq.Add(1))
}

func (e *Engine) CreateWorker(ctx context.Context) (media.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailWorkers > 0 {
		e.FailWorkers--
		return nil, ErrCreateWorker
	}
	w := &Worker{engine: e, id: fmt.Sprintf("w%d", len(e.workers)+1)}
	e.workers = append(e.workers, w)
	return w, nil
}

func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

type Worker struct {
	engine  *Engine
	id      string
	closed  bool
	routers []*Router
	onDied  []func(error)
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) CreateRouter(ctx context.Context, codecs []media.RtpCodecCapability) (media.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := w.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if w.closed {
		return nil, media.ErrClosed
	}
	r := &Router{
		engine:     e,
		worker:     w,
		id:         e.nextID("router"),
		caps:       media.NewRtpCapabilities(codecs),
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
	w.routers = append(w.routers, r)
	return r, nil
}

// RouterCount is the number of routers ever created on w.
func (w *Worker) RouterCount() int {
	w.engine.mu.Lock()
	defer w.engine.mu.Unlock()
	return len(w.routers)
}

func (w *Worker) OnDied(fn func(error)) {
	w.engine.mu.Lock()
	w.onDied = append(w.onDied, fn)
	w.engine.mu.Unlock()
}

func (w *Worker) Close() { w.shutdown(nil) }

// Kill simulates an unexpected worker termination.
func (w *Worker) Kill(err error) { w.shutdown(err) }

func (w *Worker) shutdown(cause error) {
	e := w.engine
	e.mu.Lock()
	if w.closed {
		e.mu.Unlock()
		return
	}
	w.closed = true
	routers := append([]*Router(nil), w.routers...)
	died := append([]func(error){}, w.onDied...)
	e.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
	if cause != nil {
		for _, fn := range died {
			fn(cause)
		}
	}
}

func (w *Worker) Closed() bool {
	w.engine.mu.Lock()
	defer w.engine.mu.Unlock()
	return w.closed
}

// Transport finds a live transport by id across all workers.
func (e *Engine) Transport(id string) (*Transport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.workers {
		for _, r := range w.routers {
			if t, ok := r.transports[id]; ok {
				return t, true
			}
		}
	}
	return nil, false
}
