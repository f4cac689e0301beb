package pionengine

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// relay fans one producer's RTP out to its consumers' tracks.
type relay struct {
	mu        sync.RWMutex
	outTracks map[string]*outTrack

	// drop reports whether packets should be discarded, e.g. while paused.
	drop func() bool
}

func newRelay(drop func() bool) *relay {
	if drop == nil {
		drop = func() bool { return false }
	}
	return &relay{outTracks: make(map[string]*outTrack), drop: drop}
}

// loop reads packets until ctx ends or the source fails.
func (r *relay) loop(ctx context.Context, src rtpSource, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay source ended")
			r.markAllDelete()
			return
		}
		if r.drop() {
			continue
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*outTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	var dirty []string
	for id, ot := range snapshot {
		switch ot.getState() {
		case trackDelete:
			dirty = append(dirty, id)
		case trackMuted:
		case trackOk:
			if err := ot.w.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("consumer", id).Msg("relay write failed, dropping out track")
				ot.markDelete()
				dirty = append(dirty, id)
			}
		}
	}
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *relay) cleanupDeleted(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if ot, ok := r.outTracks[id]; ok && ot.getState() == trackDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.markDelete()
	}
}

func (r *relay) add(id string, ot *outTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[id] = ot
}

func (r *relay) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}
