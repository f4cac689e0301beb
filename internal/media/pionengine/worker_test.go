package pionengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackWorker(t *testing.T) *Worker {
	t.Helper()
	e := New(Config{ListenIP: "127.0.0.1"})
	w, err := e.CreateWorker(context.Background())
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w.(*Worker)
}

func TestCreateWorkerPortRangeExhausted(t *testing.T) {
	e := New(Config{MinPort: 40010, MaxPort: 40009})
	_, err := e.CreateWorker(context.Background())
	require.ErrorIs(t, err, ErrPortRangeExhausted)
}

func TestRouterCapabilitiesAndCascade(t *testing.T) {
	w := newLoopbackWorker(t)
	r, err := w.CreateRouter(context.Background(), []media.RtpCodecCapability{
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{MimeType: "video/VP8", ClockRate: 90000},
	})
	require.NoError(t, err)

	caps := r.RtpCapabilities()
	require.Len(t, caps.Codecs, 2)
	assert.Equal(t, uint8(100), caps.Codecs[0].PreferredPayloadType)
	assert.Equal(t, media.KindVideo, caps.Codecs[1].Kind)
	assert.Equal(t, w.ID(), r.WorkerID())
	assert.False(t, r.CanConsume("nope", caps))

	w.Close()
	assert.True(t, r.Closed())
	assert.True(t, w.Closed())
	_, err = w.CreateRouter(context.Background(), nil)
	require.ErrorIs(t, err, media.ErrClosed)
}

func TestWorkerDiesWhenSocketFails(t *testing.T) {
	w := newLoopbackWorker(t)
	died := make(chan error, 1)
	w.OnDied(func(err error) { died <- err })

	require.NoError(t, w.conn.PacketConn.Close())

	select {
	case err := <-died:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker death not reported")
	}
	assert.True(t, w.Closed())
}

func TestWorkerCloseIsQuiet(t *testing.T) {
	w := newLoopbackWorker(t)
	died := make(chan error, 1)
	w.OnDied(func(err error) { died <- err })

	w.Close()

	select {
	case err := <-died:
		t.Fatalf("unexpected death: %v", errors.Unwrap(err))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransportOnCloseAfterClose(t *testing.T) {
	w := newLoopbackWorker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := w.CreateRouter(ctx, []media.RtpCodecCapability{{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}})
	require.NoError(t, err)
	tr, err := r.CreateWebRtcTransport(ctx, media.WebRtcTransportOptions{EnableUdp: true, PreferUdp: true})
	require.NoError(t, err)

	var calls int
	tr.OnClose(func() { calls++ })
	r.Close()
	assert.True(t, tr.Closed())
	assert.Equal(t, 1, calls)

	tr.OnClose(func() { calls++ })
	assert.Equal(t, 2, calls, "observer on a closed transport runs at once")
}
