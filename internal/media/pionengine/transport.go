package pionengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Transport struct {
	id     string
	router *Router
	opts   media.WebRtcTransportOptions
	logger zerolog.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	iceParams  media.IceParameters
	candidates []media.IceCandidate
	dtlsParams media.DtlsParameters

	ctx       context.Context
	cancel    context.CancelFunc
	ready     chan struct{}
	readyOnce sync.Once

	mu        sync.Mutex
	connected bool
	closed    bool
	producers map[string]*Producer
	consumers map[string]*Consumer
	onClose   []func()
	onDtls    []func(media.DtlsState)
}

var _ media.Transport = (*Transport)(nil)

func newTransport(ctx context.Context, r *Router, id string, opts media.WebRtcTransportOptions) (*Transport, error) {
	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	done := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(done)
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice parameters: %w", err)
	}
	local, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice candidates: %w", err)
	}
	iceTransport := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(iceTransport, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls parameters: %w", err)
	}

	candidates := make([]media.IceCandidate, 0, len(local))
	for _, c := range local {
		candidates = append(candidates, fromPionCandidate(c))
	}

	tctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		id:       id,
		router:   r,
		opts:     opts,
		logger:   log.With().Str("module", "pion.transport").Str("transport", id).Logger(),
		gatherer: gatherer,
		ice:      iceTransport,
		dtls:     dtls,
		iceParams: media.IceParameters{
			UsernameFragment: iceParams.UsernameFragment,
			Password:         iceParams.Password,
			IceLite:          true,
		},
		candidates: filterCandidates(candidates, opts),
		dtlsParams: fromPionDtls(dtlsParams),
		ctx:        tctx,
		cancel:     cancel,
		ready:      make(chan struct{}),
		producers:  make(map[string]*Producer),
		consumers:  make(map[string]*Consumer),
	}
	dtls.OnStateChange(func(s webrtc.DTLSTransportState) { t.emitDtls(dtlsState(s)) })
	return t, nil
}

func (t *Transport) ID() string                           { return t.id }
func (t *Transport) IceParameters() media.IceParameters   { return t.iceParams }
func (t *Transport) IceCandidates() []media.IceCandidate  { return t.candidates }
func (t *Transport) DtlsParameters() media.DtlsParameters { return t.dtlsParams }

// Connect starts ICE and then DTLS in the background. The outcome arrives
// through OnDtlsStateChange.
func (t *Transport) Connect(ctx context.Context, params media.ConnectParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if params.IceParameters == nil {
		return media.ErrMissingIceParameters
	}
	remote := make([]webrtc.ICECandidate, 0, len(params.IceCandidates))
	for _, c := range params.IceCandidates {
		pc, err := toPionCandidate(c)
		if err != nil {
			return fmt.Errorf("remote candidate %s: %w", c.Foundation, err)
		}
		remote = append(remote, pc)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return media.ErrClosed
	}
	if t.connected {
		t.mu.Unlock()
		return media.ErrAlreadyConnected
	}
	t.connected = true
	t.mu.Unlock()

	if err := t.ice.SetRemoteCandidates(remote); err != nil {
		return fmt.Errorf("set remote candidates: %w", err)
	}
	iceParams := webrtc.ICEParameters{
		UsernameFragment: params.IceParameters.UsernameFragment,
		Password:         params.IceParameters.Password,
	}
	dtlsParams := toPionDtls(params.DtlsParameters)

	go func() {
		role := webrtc.ICERoleControlled
		if err := t.ice.Start(t.gatherer, iceParams, &role); err != nil {
			t.logger.Warn().Err(err).Msg("ice start failed")
			t.emitDtls(media.DtlsFailed)
			return
		}
		if err := t.dtls.Start(dtlsParams); err != nil {
			t.logger.Warn().Err(err).Msg("dtls start failed")
			t.emitDtls(media.DtlsFailed)
		}
	}()
	return nil
}

func (t *Transport) emitDtls(s media.DtlsState) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	cbs := append([]func(media.DtlsState){}, t.onDtls...)
	t.mu.Unlock()

	if s == media.DtlsConnected {
		t.readyOnce.Do(func() { close(t.ready) })
	}
	t.logger.Debug().Str("dtls_state", string(s)).Msg("dtls state changed")
	for _, fn := range cbs {
		fn(s)
	}
}

func (t *Transport) Produce(ctx context.Context, opts media.ProducerOptions) (media.Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := media.ValidateProducerParameters(opts.RtpParameters, t.router.caps); err != nil {
		return nil, err
	}
	receiver, err := t.router.api.NewRTPReceiver(codecType(opts.Kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = receiver.Stop()
		return nil, media.ErrClosed
	}
	p := newProducer(t, receiver, opts)
	t.producers[p.id] = p
	t.mu.Unlock()

	t.router.addProducer(p)
	go p.run()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts media.ConsumerOptions) (media.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := t.router.producer(opts.ProducerID)
	if !ok {
		return nil, media.ErrUnknownProducer
	}
	codec, ok := media.MatchingCodec(p.params, t.router.caps)
	if !ok {
		return nil, media.ErrUnsupportedCodec
	}
	track, err := webrtc.NewTrackLocalStaticRTP(toPionCodec(codec).RTPCodecCapability, string(p.kind), p.id)
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.router.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	var ssrc uint32
	if len(sendParams.Encodings) > 0 {
		ssrc = uint32(sendParams.Encodings[0].SSRC)
	}
	params, err := media.ConsumerRtpParameters(p.params, t.router.caps, opts.RtpCapabilities, ssrc)
	if err != nil {
		_ = sender.Stop()
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sender.Stop()
		return nil, media.ErrClosed
	}
	c := newConsumer(t, p, sender, track, params, opts.Paused)
	t.consumers[c.id] = c
	t.mu.Unlock()

	if !p.attach(c) {
		c.Close()
		return nil, media.ErrUnknownProducer
	}
	go c.run(sendParams)
	return c, nil
}

func (t *Transport) OnDtlsStateChange(fn func(media.DtlsState)) {
	t.mu.Lock()
	t.onDtls = append(t.onDtls, fn)
	t.mu.Unlock()
}

// OnClose registers fn for the close notification. On an object that is
// already closed fn runs at once.
func (t *Transport) OnClose(fn func()) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		fn()
		return
	}
	t.onClose = append(t.onClose, fn)
	t.mu.Unlock()
}

// Close tears down consumers, then producers, then the ICE/DTLS stack, and
// finally notifies close observers.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	cbs := append([]func(){}, t.onClose...)
	t.mu.Unlock()

	t.router.removeTransport(t.id)
	t.cancel()
	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	if err := t.dtls.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("ice stop")
	}
	_ = t.gatherer.Close()

	for _, fn := range cbs {
		fn()
	}
	t.logger.Info().Msg("transport closed")
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) removeProducer(id string) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) removeConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}
