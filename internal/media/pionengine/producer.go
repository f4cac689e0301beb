package pionengine

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/Conference/internal/media"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Producer struct {
	id        string
	kind      media.Kind
	params    media.RtpParameters
	transport *Transport
	receiver  *webrtc.RTPReceiver
	relay     *relay
	logger    zerolog.Logger
	paused    atomic.Bool

	mu        sync.Mutex
	closed    bool
	consumers map[string]*Consumer
	onClose   []func()
}

var _ media.Producer = (*Producer)(nil)

func newProducer(t *Transport, receiver *webrtc.RTPReceiver, opts media.ProducerOptions) *Producer {
	p := &Producer{
		id:        uuid.NewString(),
		kind:      opts.Kind,
		params:    opts.RtpParameters,
		transport: t,
		receiver:  receiver,
		consumers: make(map[string]*Consumer),
	}
	p.logger = log.With().Str("module", "pion.producer").Str("transport", t.id).Str("producer", p.id).Logger()
	p.relay = newRelay(p.paused.Load)
	return p
}

// run waits for DTLS, binds the receiver to the announced ssrc and pumps RTP
// into the relay until the transport goes away.
func (p *Producer) run() {
	select {
	case <-p.transport.ready:
	case <-p.transport.ctx.Done():
		return
	}
	enc := p.params.Encodings[0]
	err := p.receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(enc.Ssrc),
				PayloadType: webrtc.PayloadType(p.params.Codecs[0].PayloadType),
			},
		}},
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("receive failed")
		return
	}
	p.logger.Info().Uint32("ssrc", enc.Ssrc).Msg("producer receiving")
	p.relay.loop(p.transport.ctx, p.receiver.Track(), &p.logger)
}

func (p *Producer) ID() string                         { return p.id }
func (p *Producer) Kind() media.Kind                   { return p.kind }
func (p *Producer) RtpParameters() media.RtpParameters { return p.params }
func (p *Producer) Paused() bool                       { return p.paused.Load() }

func (p *Producer) Pause() error {
	if p.isClosed() {
		return media.ErrClosed
	}
	p.paused.Store(true)
	return nil
}

func (p *Producer) Resume() error {
	if p.isClosed() {
		return media.ErrClosed
	}
	p.paused.Store(false)
	p.requestKeyFrame()
	return nil
}

// requestKeyFrame asks the publishing peer for a fresh keyframe.
func (p *Producer) requestKeyFrame() {
	if p.kind != media.KindVideo {
		return
	}
	select {
	case <-p.transport.ready:
	default:
		return
	}
	ssrc := p.params.Encodings[0].Ssrc
	if _, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
		p.logger.Debug().Err(err).Msg("pli write failed")
	}
}

func (p *Producer) attach(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.consumers[c.id] = c
	p.relay.add(c.id, c.out)
	return true
}

func (p *Producer) detach(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

func (p *Producer) OnClose(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		fn()
		return
	}
	p.onClose = append(p.onClose, fn)
	p.mu.Unlock()
}

func (p *Producer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	cbs := append([]func(){}, p.onClose...)
	p.mu.Unlock()

	p.transport.router.removeProducer(p.id)
	p.transport.removeProducer(p.id)
	p.relay.markAllDelete()
	if err := p.receiver.Stop(); err != nil {
		p.logger.Debug().Err(err).Msg("receiver stop")
	}
	for _, c := range consumers {
		c.Close()
	}
	for _, fn := range cbs {
		fn()
	}
	p.logger.Info().Msg("producer closed")
}
