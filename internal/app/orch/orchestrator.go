// Package orch carries out every signaling operation: it keeps room
// membership, the session registry and the media registries in step.
package orch

import (
	"errors"
	"sync"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/ratelimit"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

type Orchestrator struct {
	Registry    *app.Registry
	Rooms       core.RoomManager
	Media       *sfu.Service
	Policy      app.Policy
	Admission   app.AdmissionPolicy
	JoinLimiter ratelimit.Limiter

	// WaitingRoomDefault applies to rooms created without an explicit choice.
	WaitingRoomDefault bool

	// one join completion per (room, user) in flight
	joins singleflight.Group
	// serializes connect and disconnect of one client against each other
	connMu sync.Mutex
	// per room: router creation against release of an empty room
	mediaLocks roomLocks
}

type roomLocks struct {
	mu sync.Mutex
	m  map[domain.RoomID]*sync.Mutex
}

func (l *roomLocks) get(id domain.RoomID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = make(map[domain.RoomID]*sync.Mutex)
	}
	m, ok := l.m[id]
	if !ok {
		m = &sync.Mutex{}
		l.m[id] = m
	}
	return m
}

func (l *roomLocks) forget(id domain.RoomID) {
	l.mu.Lock()
	delete(l.m, id)
	l.mu.Unlock()
}

// BindMediaHandlers routes stream close notifications from the media layer
// back to the rooms.
func (o *Orchestrator) BindMediaHandlers() {
	o.Media.Streams.SetHooks(sfu.StreamHooks{
		ProducerClosed: o.onProducerClosed,
		ConsumerClosed: o.onConsumerClosed,
	})
}

func (o *Orchestrator) onProducerClosed(p sfu.ProducerInfo) {
	room, ok := o.Rooms.GetRoom(p.RoomID)
	if !ok {
		return
	}
	o.broadcast(room, p.UserID, EventProducerClosed, producerEvent{ProducerID: p.ID, UserID: p.UserID, Kind: string(p.Kind)})
}

func (o *Orchestrator) onConsumerClosed(c sfu.ConsumerInfo) {
	room, ok := o.Rooms.GetRoom(c.RoomID)
	if !ok {
		return
	}
	err := room.SendTo(c.UserID, Event(EventConsumerClosed, map[string]string{
		"consumerId": c.ID,
		"producerId": c.ProducerID,
	}))
	// the owner may already be gone when its own leave closed the consumer
	if err != nil && !errors.Is(err, domain.ErrNotInRoom) {
		log.Warn().Err(err).Str("module", "orch").Str("user", string(c.UserID)).Str("event", EventConsumerClosed).
			Msg("direct send failed")
	}
}

type producerEvent struct {
	ProducerID string        `json:"producerId"`
	UserID     domain.UserID `json:"userId"`
	Kind       string        `json:"kind"`
}

// broadcast sends to every active participant but from. An empty from
// reaches everyone.
func (o *Orchestrator) broadcast(room core.RoomService, from domain.UserID, typ string, data any) {
	o.handleDropped(room, room.Broadcast(from, Event(typ, data)))
}

func (o *Orchestrator) notifyModerators(room core.RoomService, typ string, data any) {
	o.handleDropped(room, room.BroadcastModerators(Event(typ, data)))
}

func (o *Orchestrator) waitingListChanged(room core.RoomService) {
	o.notifyModerators(room, EventWaitingListUpdated, map[string]any{
		"roomId":  room.Room().ID,
		"waiting": room.Waiting(),
	})
}

// sendDirect writes to a session that may no longer be in the room.
func sendDirect(ms core.MemberSession, typ string, data any) {
	if ms == nil || ms.Signal() == nil {
		return
	}
	if err := ms.Signal().TrySend(Event(typ, data)); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("user", string(ms.Meta().ID)).Str("event", typ).Msg("direct send failed")
	}
}

func (o *Orchestrator) handleDropped(room core.RoomService, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			sid := core.SessionID(slow.Meta().ID)
			log.Warn().Str("module", "orch").Str("room", string(room.Room().ID)).Str("sid", string(sid)).
				Msg("slow consumer, dropping connection")
			o.Registry.Cancel(sid)
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

// roomOf resolves the room sid is currently associated with.
func (o *Orchestrator) roomOf(sid core.SessionID) (core.RoomService, error) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil, domain.ErrNotInRoom
	}
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// activeRoom is roomOf restricted to ACTIVE participants. Waiting users get
// no media access.
func (o *Orchestrator) activeRoom(sid core.SessionID) (core.RoomService, domain.UserID, error) {
	room, err := o.roomOf(sid)
	if err != nil {
		return nil, "", err
	}
	uid := domain.UserID(sid)
	switch st, _ := room.StateOf(uid); st {
	case domain.StateActive:
		return room, uid, nil
	case domain.StateWaiting:
		return nil, "", domain.ErrForbidden
	}
	return nil, "", domain.ErrNotInRoom
}

func isModerator(r domain.Role) bool {
	return r == domain.RoleHost || r == domain.RoleCoHost
}

// moderatorRoom is activeRoom for callers holding host or co-host.
func (o *Orchestrator) moderatorRoom(sid core.SessionID, hostOnly bool) (core.RoomService, domain.UserID, error) {
	room, uid, err := o.activeRoom(sid)
	if err != nil {
		return nil, "", err
	}
	p, _ := room.Participant(uid)
	if hostOnly && p.Role != domain.RoleHost || !isModerator(p.Role) {
		return nil, "", domain.ErrForbidden
	}
	return room, uid, nil
}
