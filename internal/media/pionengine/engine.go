// Package pionengine implements the media contract in-process on top of the
// pion/webrtc ORTC objects. A worker is a pair of ICE muxes on one port; a
// router is a webrtc.API carrying the room's codec set.
package pionengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrPortRangeExhausted = errors.New("pionengine: no free port left in range")

type Config struct {
	ListenIP    string
	AnnouncedIP string
	MinPort     int
	MaxPort     int
	EnableTCP   bool
}

type Engine struct {
	cfg Config

	mu   sync.Mutex
	next int
}

var _ media.Engine = (*Engine)(nil)

func New(cfg Config) *Engine {
	if cfg.ListenIP == "" {
		cfg.ListenIP = "0.0.0.0"
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) CreateWorker(ctx context.Context) (media.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	index := e.next
	port := e.cfg.MinPort + index
	if e.cfg.MaxPort > 0 && port > e.cfg.MaxPort {
		e.mu.Unlock()
		return nil, ErrPortRangeExhausted
	}
	e.next++
	e.mu.Unlock()

	ip := net.ParseIP(e.cfg.ListenIP)
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen udp %d: %w", port, err)
	}
	w := &Worker{
		id:      fmt.Sprintf("worker-%d", index+1),
		port:    port,
		routers: make(map[string]*Router),
	}
	w.conn = &watchedConn{PacketConn: udp, onError: w.die}
	w.udpMux = ice.NewUDPMuxDefault(ice.UDPMuxParams{UDPConn: w.conn})

	networks := []webrtc.NetworkType{webrtc.NetworkTypeUDP4}
	if e.cfg.EnableTCP {
		ln, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: ip, Port: port})
		if err != nil {
			_ = w.udpMux.Close()
			return nil, fmt.Errorf("listen tcp %d: %w", port, err)
		}
		w.tcpMux = ice.NewTCPMuxDefault(ice.TCPMuxParams{Listener: ln, ReadBufferSize: 8})
		networks = append(networks, webrtc.NetworkTypeTCP4)
	}

	w.settings.SetLite(true)
	w.settings.SetNetworkTypes(networks)
	w.settings.SetICEUDPMux(w.udpMux)
	if w.tcpMux != nil {
		w.settings.SetICETCPMux(w.tcpMux)
	}
	if e.cfg.AnnouncedIP != "" {
		w.settings.SetNAT1To1IPs([]string{e.cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	log.Info().Str("module", "pion.worker").Str("worker", w.id).Int("port", port).
		Bool("tcp", w.tcpMux != nil).Msg("worker listening")
	return w, nil
}
