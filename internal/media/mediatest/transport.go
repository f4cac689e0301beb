package mediatest

import (
	"context"

	"github.com/dkeye/Conference/internal/media"
)

type Transport struct {
	engine    *Engine
	router    *Router
	id        string
	opts      media.WebRtcTransportOptions
	closed    bool
	connected bool
	state     media.DtlsState
	producers map[string]*Producer
	consumers map[string]*Consumer
	onClose   []func()
	onDtls    []func(media.DtlsState)

	// Remote holds the parameters passed to Connect.
	Remote media.ConnectParams
}

func (t *Transport) ID() string       { return t.id }
func (t *Transport) RouterID() string { return t.router.id }

func (t *Transport) IceParameters() media.IceParameters {
	return media.IceParameters{UsernameFragment: "ufrag-" + t.id, Password: "pwd-" + t.id, IceLite: true}
}

func (t *Transport) IceCandidates() []media.IceCandidate {
	var out []media.IceCandidate
	if t.opts.EnableUdp {
		out = append(out, media.IceCandidate{Foundation: "udpcandidate", Priority: 1076302079, Address: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host"})
	}
	if t.opts.EnableTcp {
		out = append(out, media.IceCandidate{Foundation: "tcpcandidate", Priority: 1076276479, Address: "127.0.0.1", Protocol: "tcp", Port: 40000, Type: "host", TcpType: "passive"})
	}
	return out
}

func (t *Transport) DtlsParameters() media.DtlsParameters {
	return media.DtlsParameters{
		Role:         "auto",
		Fingerprints: []media.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB:CC"}},
	}
}

func (t *Transport) Connect(ctx context.Context, params media.ConnectParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := t.engine
	e.mu.Lock()
	if t.closed {
		e.mu.Unlock()
		return media.ErrClosed
	}
	if t.connected {
		e.mu.Unlock()
		return media.ErrAlreadyConnected
	}
	t.connected = true
	t.Remote = params
	e.mu.Unlock()

	t.SetDtlsState(media.DtlsConnected)
	return nil
}

// SetDtlsState injects a DTLS state change.
func (t *Transport) SetDtlsState(s media.DtlsState) {
	e := t.engine
	e.mu.Lock()
	t.state = s
	cbs := append([]func(media.DtlsState){}, t.onDtls...)
	e.mu.Unlock()
	for _, fn := range cbs {
		fn(s)
	}
}

func (t *Transport) Produce(ctx context.Context, opts media.ProducerOptions) (media.Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := t.engine
	e.mu.Lock()
	if t.closed {
		e.mu.Unlock()
		return nil, media.ErrClosed
	}
	if err := media.ValidateProducerParameters(opts.RtpParameters, t.router.caps); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	p := &Producer{
		engine:    e,
		transport: t,
		id:        e.nextID("producer"),
		kind:      opts.Kind,
		params:    opts.RtpParameters,
		consumers: make(map[string]*Consumer),
	}
	t.producers[p.id] = p
	t.router.producers[p.id] = p
	e.mu.Unlock()
	e.created("producer", p.id)
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts media.ConsumerOptions) (media.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := t.engine
	e.mu.Lock()
	if t.closed {
		e.mu.Unlock()
		return nil, media.ErrClosed
	}
	p, ok := t.router.producers[opts.ProducerID]
	if !ok {
		e.mu.Unlock()
		return nil, media.ErrUnknownProducer
	}
	params, err := media.ConsumerRtpParameters(p.params, t.router.caps, opts.RtpCapabilities, uint32(e.seq.Add(1)))
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	c := &Consumer{
		engine:    e,
		transport: t,
		producer:  p,
		id:        e.nextID("consumer"),
		params:    params,
		paused:    opts.Paused,
	}
	p.consumers[c.id] = c
	t.consumers[c.id] = c
	e.mu.Unlock()
	e.created("consumer", c.id)
	return c, nil
}

func (t *Transport) OnDtlsStateChange(fn func(media.DtlsState)) {
	t.engine.mu.Lock()
	t.onDtls = append(t.onDtls, fn)
	t.engine.mu.Unlock()
}

func (t *Transport) OnClose(fn func()) {
	t.engine.mu.Lock()
	if t.closed {
		t.engine.mu.Unlock()
		fn()
		return
	}
	t.onClose = append(t.onClose, fn)
	t.engine.mu.Unlock()
}

func (t *Transport) Close() {
	e := t.engine
	e.mu.Lock()
	if t.closed {
		e.mu.Unlock()
		return
	}
	t.closed = true
	delete(t.router.transports, t.id)
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	cbs := append([]func(){}, t.onClose...)
	e.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	for _, fn := range cbs {
		fn()
	}
}

func (t *Transport) Closed() bool {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	return t.closed
}
