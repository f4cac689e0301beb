package mediatest

import (
	"context"
	"testing"

	"github.com/dkeye/Conference/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnCloseAfterCloseRunsAtOnce(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()
	w, err := e.CreateWorker(ctx)
	require.NoError(t, err)
	r, err := w.CreateRouter(ctx, []media.RtpCodecCapability{{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}})
	require.NoError(t, err)
	tr, err := r.CreateWebRtcTransport(ctx, media.WebRtcTransportOptions{EnableUdp: true})
	require.NoError(t, err)
	p, err := tr.Produce(ctx, media.ProducerOptions{Kind: media.KindAudio, RtpParameters: media.RtpParameters{
		Codecs:    []media.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 100, ClockRate: 48000, Channels: 2}},
		Encodings: []media.RtpEncodingParameters{{Ssrc: 7}},
	}})
	require.NoError(t, err)

	var before int
	tr.OnClose(func() { before++ })
	tr.Close()
	assert.Equal(t, 1, before)

	var late, lateProducer int
	tr.OnClose(func() { late++ })
	p.OnClose(func() { lateProducer++ })
	assert.Equal(t, 1, late)
	assert.Equal(t, 1, lateProducer)

	tr.Close()
	assert.Equal(t, 1, before, "close notifies once")
}

func TestAfterCreateSeesEveryObject(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()
	var kinds []string
	e.AfterCreate = func(kind, id string) { kinds = append(kinds, kind) }

	w, err := e.CreateWorker(ctx)
	require.NoError(t, err)
	r, err := w.CreateRouter(ctx, []media.RtpCodecCapability{{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}})
	require.NoError(t, err)
	_, err = r.CreateWebRtcTransport(ctx, media.WebRtcTransportOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"transport"}, kinds)
}
