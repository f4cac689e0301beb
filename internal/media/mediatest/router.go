package mediatest

import (
	"context"

	"github.com/dkeye/Conference/internal/media"
)

type Router struct {
	engine     *Engine
	worker     *Worker
	id         string
	caps       media.RtpCapabilities
	closed     bool
	transports map[string]*Transport
	producers  map[string]*Producer
}

func (r *Router) ID() string                             { return r.id }
func (r *Router) WorkerID() string                       { return r.worker.id }
func (r *Router) RtpCapabilities() media.RtpCapabilities { return r.caps }

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts media.WebRtcTransportOptions) (media.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := r.engine
	e.mu.Lock()
	if r.closed {
		e.mu.Unlock()
		return nil, media.ErrClosed
	}
	id := e.nextID("transport")
	t := &Transport{
		engine:    e,
		router:    r,
		id:        id,
		opts:      opts,
		state:     media.DtlsNew,
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
	r.transports[id] = t
	e.mu.Unlock()
	e.created("transport", id)
	return t, nil
}

func (r *Router) CanConsume(producerID string, caps media.RtpCapabilities) bool {
	r.engine.mu.Lock()
	p, ok := r.producers[producerID]
	r.engine.mu.Unlock()
	if !ok {
		return false
	}
	return media.CanConsume(p.params, caps)
}

func (r *Router) Close() {
	e := r.engine
	e.mu.Lock()
	if r.closed {
		e.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	e.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
}

func (r *Router) Closed() bool {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	return r.closed
}

// Transports returns the ids of live transports on r.
func (r *Router) Transports() []string {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	out := make([]string, 0, len(r.transports))
	for id := range r.transports {
		out = append(out, id)
	}
	return out
}
