// Package sfu owns the media-engine resource graph: the worker pool, one
// router per room, transports, producers and consumers.
package sfu

import (
	"github.com/dkeye/Conference/internal/media"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Codecs    []media.RtpCodecCapability
	Transport media.WebRtcTransportOptions
}

// Service bundles the registries. Everything above it talks to media through
// these fields.
type Service struct {
	Pool       *WorkerPool
	Routers    *RouterRegistry
	Transports *TransportRegistry
	Streams    *StreamRegistry
}

func NewService(pool *WorkerPool, opts Options) *Service {
	routers := NewRouterRegistry(pool, opts.Codecs)
	transports := NewTransportRegistry(routers, opts.Transport)
	return &Service{
		Pool:       pool,
		Routers:    routers,
		Transports: transports,
		Streams:    NewStreamRegistry(routers, transports),
	}
}

// Shutdown is the hard reset: every router and worker is closed and all
// registries are emptied.
func (s *Service) Shutdown() {
	s.Routers.CloseAll()
	s.Pool.Close()
	s.Transports.reset()
	s.Streams.reset()
	log.Info().Str("module", "sfu").Msg("media shut down")
}
