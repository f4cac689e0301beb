package pionengine

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// watchedConn reports the first read error that happens outside an
// intentional close. The UDP mux read loop is the only reader.
type watchedConn struct {
	net.PacketConn
	closing atomic.Bool
	once    sync.Once
	onError func(error)
}

func (c *watchedConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.PacketConn.ReadFrom(p)
	if err != nil && !c.closing.Load() {
		c.once.Do(func() { go c.onError(err) })
	}
	return n, addr, err
}

func (c *watchedConn) Close() error {
	c.closing.Store(true)
	return c.PacketConn.Close()
}

type Worker struct {
	id       string
	port     int
	conn     *watchedConn
	udpMux   *ice.UDPMuxDefault
	tcpMux   *ice.TCPMuxDefault
	settings webrtc.SettingEngine

	mu      sync.Mutex
	closed  bool
	routers map[string]*Router
	onDied  []func(error)
	seq     int
}

var _ media.Worker = (*Worker)(nil)

func (w *Worker) ID() string { return w.id }

func (w *Worker) CreateRouter(ctx context.Context, codecs []media.RtpCodecCapability) (media.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, media.ErrClosed
	}
	w.seq++
	seq := w.seq
	w.mu.Unlock()

	r, err := newRouter(w, seq, codecs)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, media.ErrClosed
	}
	w.routers[r.id] = r
	w.mu.Unlock()
	return r, nil
}

func (w *Worker) OnDied(fn func(error)) {
	w.mu.Lock()
	w.onDied = append(w.onDied, fn)
	w.mu.Unlock()
}

func (w *Worker) Close() { w.shutdown(nil) }

func (w *Worker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Worker) die(err error) {
	log.Error().Err(err).Str("module", "pion.worker").Str("worker", w.id).Msg("worker socket failed")
	w.shutdown(err)
}

func (w *Worker) shutdown(cause error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	died := append([]func(error){}, w.onDied...)
	w.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
	w.conn.closing.Store(true)
	_ = w.udpMux.Close()
	if w.tcpMux != nil {
		_ = w.tcpMux.Close()
	}

	if cause != nil {
		for _, fn := range died {
			fn(cause)
		}
		return
	}
	log.Info().Str("module", "pion.worker").Str("worker", w.id).Msg("worker closed")
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}
