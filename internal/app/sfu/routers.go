package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RouterRegistry keeps at most one open router per room. Concurrent first
// access for the same room is collapsed into a single creation.
type RouterRegistry struct {
	pool   *WorkerPool
	codecs []media.RtpCodecCapability

	mu      sync.RWMutex
	routers map[domain.RoomID]media.Router
	group   singleflight.Group
}

func NewRouterRegistry(pool *WorkerPool, codecs []media.RtpCodecCapability) *RouterRegistry {
	return &RouterRegistry{
		pool:    pool,
		codecs:  codecs,
		routers: make(map[domain.RoomID]media.Router),
	}
}

func (r *RouterRegistry) GetOrCreate(ctx context.Context, roomID domain.RoomID) (media.Router, error) {
	if rt, ok := r.Get(roomID); ok {
		return rt, nil
	}
	v, err, _ := r.group.Do(string(roomID), func() (any, error) {
		if rt, ok := r.Get(roomID); ok {
			return rt, nil
		}
		w, err := r.pool.Next()
		if err != nil {
			return nil, err
		}
		rt, err := w.CreateRouter(ctx, r.codecs)
		if err != nil {
			return nil, fmt.Errorf("create router for room %s: %w", roomID, err)
		}
		r.mu.Lock()
		// a router closed underneath us (worker death) is still counted
		if _, stale := r.routers[roomID]; stale {
			metrics.Routers.Dec()
		}
		r.routers[roomID] = rt
		r.mu.Unlock()
		metrics.Routers.Inc()
		log.Info().Str("module", "sfu.routers").Str("room", string(roomID)).Str("router", rt.ID()).
			Str("worker", w.ID()).Msg("router created")
		return rt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(media.Router), nil
}

// Get returns the room's router if it is still open.
func (r *RouterRegistry) Get(roomID domain.RoomID) (media.Router, bool) {
	r.mu.RLock()
	rt, ok := r.routers[roomID]
	r.mu.RUnlock()
	if !ok || rt.Closed() {
		return nil, false
	}
	return rt, true
}

func (r *RouterRegistry) Capabilities(roomID domain.RoomID) (media.RtpCapabilities, error) {
	rt, ok := r.Get(roomID)
	if !ok {
		return media.RtpCapabilities{}, domain.ErrRouterNotFound
	}
	return rt.RtpCapabilities(), nil
}

// Close closes and forgets the room's router. No-op when absent.
func (r *RouterRegistry) Close(roomID domain.RoomID) {
	r.mu.Lock()
	rt, ok := r.routers[roomID]
	delete(r.routers, roomID)
	r.mu.Unlock()
	if !ok {
		return
	}
	rt.Close()
	metrics.Routers.Dec()
	log.Info().Str("module", "sfu.routers").Str("room", string(roomID)).Str("router", rt.ID()).Msg("router closed")
}

func (r *RouterRegistry) Rooms() []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RoomID, 0, len(r.routers))
	for id := range r.routers {
		out = append(out, id)
	}
	return out
}

func (r *RouterRegistry) CloseAll() {
	for _, id := range r.Rooms() {
		r.Close(id)
	}
}
