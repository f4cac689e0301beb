package pionengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Router struct {
	id     string
	worker *Worker
	caps   media.RtpCapabilities
	api    *webrtc.API

	mu         sync.Mutex
	closed     bool
	seq        int
	transports map[string]*Transport
	producers  map[string]*Producer
}

var _ media.Router = (*Router)(nil)

func newRouter(w *Worker, seq int, codecs []media.RtpCodecCapability) (*Router, error) {
	caps := media.NewRtpCapabilities(codecs)

	mediaEngine := &webrtc.MediaEngine{}
	for _, c := range caps.Codecs {
		if err := mediaEngine.RegisterCodec(toPionCodec(c), codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	registry.Add(pli)

	r := &Router{
		id:     fmt.Sprintf("%s-router-%d", w.id, seq),
		worker: w,
		caps:   caps,
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(w.settings),
		),
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
	log.Info().Str("module", "pion.router").Str("router", r.id).Int("codecs", len(caps.Codecs)).Msg("router created")
	return r, nil
}

func (r *Router) ID() string                             { return r.id }
func (r *Router) WorkerID() string                       { return r.worker.id }
func (r *Router) RtpCapabilities() media.RtpCapabilities { return r.caps }

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts media.WebRtcTransportOptions) (media.Transport, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, media.ErrClosed
	}
	r.seq++
	id := fmt.Sprintf("%s-t%d", r.id, r.seq)
	r.mu.Unlock()

	t, err := newTransport(ctx, r, id, opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.Close()
		return nil, media.ErrClosed
	}
	r.transports[id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) CanConsume(producerID string, caps media.RtpCapabilities) bool {
	p, ok := r.producer(producerID)
	if !ok {
		return false
	}
	return media.CanConsume(p.params, caps)
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	r.worker.removeRouter(r.id)
	for _, t := range transports {
		t.Close()
	}
	log.Info().Str("module", "pion.router").Str("router", r.id).Msg("router closed")
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}
