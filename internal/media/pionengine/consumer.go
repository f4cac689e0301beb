package pionengine

import (
	"sync"

	"github.com/dkeye/Conference/internal/media"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Consumer struct {
	id        string
	producer  *Producer
	transport *Transport
	sender    *webrtc.RTPSender
	out       *outTrack
	params    media.RtpParameters
	logger    zerolog.Logger

	mu      sync.Mutex
	closed  bool
	onClose []func()
}

var _ media.Consumer = (*Consumer)(nil)

func newConsumer(t *Transport, p *Producer, sender *webrtc.RTPSender, track *webrtc.TrackLocalStaticRTP, params media.RtpParameters, paused bool) *Consumer {
	c := &Consumer{
		id:        uuid.NewString(),
		producer:  p,
		transport: t,
		sender:    sender,
		out:       newOutTrack(track, paused),
		params:    params,
	}
	c.logger = log.With().Str("module", "pion.consumer").Str("transport", t.id).Str("consumer", c.id).Str("producer", p.id).Logger()
	return c
}

// run starts sending once DTLS is up and turns the subscriber's keyframe
// requests into PLIs toward the producer.
func (c *Consumer) run(params webrtc.RTPSendParameters) {
	select {
	case <-c.transport.ready:
	case <-c.transport.ctx.Done():
		return
	}
	if err := c.sender.Send(params); err != nil {
		c.logger.Warn().Err(err).Msg("send failed")
		return
	}
	c.producer.requestKeyFrame()
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.producer.requestKeyFrame()
			}
		}
	}
}

func (c *Consumer) ID() string                         { return c.id }
func (c *Consumer) ProducerID() string                 { return c.producer.id }
func (c *Consumer) Kind() media.Kind                   { return c.producer.kind }
func (c *Consumer) RtpParameters() media.RtpParameters { return c.params }
func (c *Consumer) Paused() bool                       { return c.out.getState() != trackOk }

func (c *Consumer) Pause() error {
	if c.isClosed() {
		return media.ErrClosed
	}
	c.out.markMuted()
	return nil
}

func (c *Consumer) Resume() error {
	if c.isClosed() {
		return media.ErrClosed
	}
	c.out.markOk()
	c.producer.requestKeyFrame()
	return nil
}

func (c *Consumer) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *Consumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cbs := append([]func(){}, c.onClose...)
	c.mu.Unlock()

	c.out.markDelete()
	c.producer.detach(c.id)
	c.transport.removeConsumer(c.id)
	if err := c.sender.Stop(); err != nil {
		c.logger.Debug().Err(err).Msg("sender stop")
	}
	for _, fn := range cbs {
		fn()
	}
}
