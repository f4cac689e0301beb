package sfu

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool { return d == DirectionSend || d == DirectionRecv }

// TransportParams is what a client needs to negotiate its side.
type TransportParams struct {
	ID             string               `json:"id"`
	IceParameters  media.IceParameters  `json:"iceParameters"`
	IceCandidates  []media.IceCandidate `json:"iceCandidates"`
	DtlsParameters media.DtlsParameters `json:"dtlsParameters"`
}

type TransportInfo struct {
	ID        string
	RoomID    domain.RoomID
	UserID    domain.UserID
	Direction Direction
}

type transportEntry struct {
	TransportInfo
	seq       uint64
	transport media.Transport
}

// TransportRegistry tracks one entry per engine transport. An entry is always
// removed before the engine object is closed, so a half-closed transport is
// never handed out again.
type TransportRegistry struct {
	routers *RouterRegistry
	opts    media.WebRtcTransportOptions

	mu   sync.RWMutex
	seq  uint64
	byID map[string]*transportEntry
}

func NewTransportRegistry(routers *RouterRegistry, opts media.WebRtcTransportOptions) *TransportRegistry {
	return &TransportRegistry{
		routers: routers,
		opts:    opts,
		byID:    make(map[string]*transportEntry),
	}
}

func (r *TransportRegistry) Create(ctx context.Context, roomID domain.RoomID, userID domain.UserID, dir Direction) (TransportParams, error) {
	if !dir.Valid() {
		return TransportParams{}, fmt.Errorf("%w: %q", domain.ErrInvalidDirection, dir)
	}
	router, ok := r.routers.Get(roomID)
	if !ok {
		return TransportParams{}, domain.ErrRouterNotFound
	}

	opts := r.opts
	opts.AppData = map[string]any{
		"roomId":    string(roomID),
		"userId":    string(userID),
		"direction": string(dir),
	}
	t, err := router.CreateWebRtcTransport(ctx, opts)
	if err != nil {
		return TransportParams{}, fmt.Errorf("create %s transport: %w", dir, err)
	}

	id := t.ID()
	r.mu.Lock()
	r.seq++
	r.byID[id] = &transportEntry{
		TransportInfo: TransportInfo{ID: id, RoomID: roomID, UserID: userID, Direction: dir},
		seq:           r.seq,
		transport:     t,
	}
	r.mu.Unlock()
	metrics.Transports.WithLabelValues(string(dir)).Inc()

	t.OnDtlsStateChange(func(s media.DtlsState) {
		if s == media.DtlsFailed || s == media.DtlsClosed {
			log.Warn().Str("module", "sfu.transports").Str("transport", id).Str("dtls_state", string(s)).
				Msg("dtls ended, closing transport")
			r.Close(id)
		}
	})
	// router or worker closure tears the transport down without going through Close
	t.OnClose(func() { r.remove(id) })
	if _, ok := r.lookup(id); !ok {
		return TransportParams{}, fmt.Errorf("%w: transport %s closed while created", domain.ErrRouterNotFound, id)
	}

	log.Info().Str("module", "sfu.transports").Str("room", string(roomID)).Str("user", string(userID)).
		Str("transport", id).Str("direction", string(dir)).Msg("transport created")

	return TransportParams{
		ID:             id,
		IceParameters:  t.IceParameters(),
		IceCandidates:  t.IceCandidates(),
		DtlsParameters: t.DtlsParameters(),
	}, nil
}

func (r *TransportRegistry) Connect(ctx context.Context, id string, params media.ConnectParams) error {
	e, ok := r.lookup(id)
	if !ok {
		return domain.ErrTransportNotFound
	}
	if err := e.transport.Connect(ctx, params); err != nil {
		return fmt.Errorf("connect transport %s: %w", id, err)
	}
	log.Info().Str("module", "sfu.transports").Str("transport", id).Msg("transport connect started")
	return nil
}

// Close removes the transport and then closes it; producers and consumers on
// it go away through their own close observers. No-op when absent.
func (r *TransportRegistry) Close(id string) {
	e, ok := r.remove(id)
	if !ok {
		return
	}
	e.transport.Close()
}

func (r *TransportRegistry) remove(id string) (*transportEntry, bool) {
	r.mu.Lock()
	e, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	if ok {
		metrics.Transports.WithLabelValues(string(e.Direction)).Dec()
		log.Info().Str("module", "sfu.transports").Str("transport", id).Str("room", string(e.RoomID)).
			Str("user", string(e.UserID)).Msg("transport removed")
	}
	return e, ok
}

func (r *TransportRegistry) lookup(id string) (*transportEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

func (r *TransportRegistry) Get(id string) (TransportInfo, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return TransportInfo{}, false
	}
	return e.TransportInfo, true
}

// ForUser lists transport ids of a (room, user) pair in creation order.
func (r *TransportRegistry) ForUser(roomID domain.RoomID, userID domain.UserID) []string {
	return r.filter(func(e *transportEntry) bool { return e.RoomID == roomID && e.UserID == userID })
}

func (r *TransportRegistry) ForRoom(roomID domain.RoomID) []string {
	return r.filter(func(e *transportEntry) bool { return e.RoomID == roomID })
}

func (r *TransportRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *TransportRegistry) filter(keep func(*transportEntry) bool) []string {
	r.mu.RLock()
	matched := make([]*transportEntry, 0)
	for _, e := range r.byID {
		if keep(e) {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]string, len(matched))
	for i, e := range matched {
		out[i] = e.ID
	}
	return out
}

func (r *TransportRegistry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byID {
		metrics.Transports.WithLabelValues(string(e.Direction)).Dec()
	}
	r.byID = make(map[string]*transportEntry)
}
