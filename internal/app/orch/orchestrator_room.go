package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/rs/zerolog/log"
)

// JoinResult answers a join. A WAITING result carries only the room and the
// waiting entry.
type JoinResult struct {
	Room            core.RoomInfo           `json:"room"`
	State           domain.ParticipantState `json:"state"`
	Self            *domain.Participant     `json:"self,omitempty"`
	Participants    []domain.Participant    `json:"participants,omitempty"`
	Waiting         *domain.WaitingEntry    `json:"waiting,omitempty"`
	RtpCapabilities *media.RtpCapabilities  `json:"rtpCapabilities,omitempty"`
	Producers       []sfu.ProducerInfo      `json:"producers,omitempty"`
}

// Connect binds a fresh signaling endpoint to sid. A previous endpoint of the
// same client leaves its room first.
func (o *Orchestrator) Connect(sid core.SessionID, sig core.SignalConnection, cancel context.CancelFunc) core.MemberSession {
	o.connMu.Lock()
	defer o.connMu.Unlock()
	if room, err := o.roomOf(sid); err == nil {
		o.leave(room, sid)
	}
	user := o.Registry.GetOrCreateUser(sid)
	sess := core.NewMemberSession(user).UpdateSignal(sig)
	o.Registry.BindSignal(sid, sess, cancel)
	return sess
}

// OnDisconnect runs when an endpoint goes away. Endpoints already replaced
// by a newer connection are ignored.
func (o *Orchestrator) OnDisconnect(sid core.SessionID, sig core.SignalConnection) {
	o.connMu.Lock()
	defer o.connMu.Unlock()
	if !o.Registry.IsCurrent(sid, sig) {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("stale connection closed")
		return
	}
	if room, err := o.roomOf(sid); err == nil {
		o.leave(room, sid)
	}
	o.Registry.Unbind(sid, sig)
}

func (o *Orchestrator) CreateRoom(sid core.SessionID, title string, waitingRoom *bool) core.RoomInfo {
	wr := o.WaitingRoomDefault
	if waitingRoom != nil {
		wr = *waitingRoom
	}
	room := o.Rooms.CreateRoom(title, domain.UserID(sid), wr)
	return core.Info(room)
}

// Join runs a join request. The host, and anyone in a room without a waiting
// room, becomes ACTIVE at once; others are parked as WAITING. Repeated joins
// of an ACTIVE user return the current state without a second broadcast.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, roomID domain.RoomID) (JoinResult, error) {
	uid := domain.UserID(sid)
	if o.JoinLimiter != nil && !o.JoinLimiter.Allow(ctx, uid) {
		metrics.Joins.WithLabelValues("rate_limited").Inc()
		return JoinResult{}, domain.ErrRateLimited
	}
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		metrics.Joins.WithLabelValues("error").Inc()
		return JoinResult{}, domain.ErrRoomNotFound
	}

	v, err, shared := o.joins.Do(string(roomID)+"/"+string(uid), func() (any, error) {
		return o.join(ctx, sid, room)
	})
	if err != nil {
		metrics.Joins.WithLabelValues("error").Inc()
		return JoinResult{}, err
	}
	res := v.(JoinResult)
	if !shared {
		metrics.Joins.WithLabelValues(string(res.State)).Inc()
	}
	return res, nil
}

func (o *Orchestrator) join(ctx context.Context, sid core.SessionID, room core.RoomService) (JoinResult, error) {
	uid := domain.UserID(sid)
	roomID := room.Room().ID

	if prev, err := o.roomOf(sid); err == nil && prev.Room().ID != roomID {
		o.leave(prev, sid)
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return JoinResult{}, domain.ErrSessionNotFound
	}

	before, _ := room.StateOf(uid)
	needs := o.Admission != nil && o.Admission.RequiresAdmission(room.Room(), room.RoleFor(uid))
	dec, err := room.RequestJoin(sess, needs)
	if err != nil {
		return JoinResult{}, err
	}
	o.Registry.UpdateRoom(sid, roomID)

	if dec.State == domain.StateWaiting {
		if !dec.Already {
			o.notifyModerators(room, EventWaitingJoined, dec.Entry)
			o.waitingListChanged(room)
		}
		entry := dec.Entry
		return JoinResult{Room: core.Info(room), State: domain.StateWaiting, Waiting: &entry}, nil
	}

	res, err := o.completeJoin(ctx, room, dec.Participant)
	if err != nil {
		if !dec.Already {
			o.rollbackJoin(room, sid)
		}
		return JoinResult{}, err
	}
	if !dec.Already {
		o.broadcast(room, uid, EventUserJoined, dec.Participant)
		if before == domain.StateWaiting {
			o.waitingListChanged(room)
		}
	}
	return res, nil
}

// completeJoin makes sure the room has a router and assembles the join
// result for an ACTIVE participant.
func (o *Orchestrator) completeJoin(ctx context.Context, room core.RoomService, self domain.Participant) (JoinResult, error) {
	roomID := room.Room().ID
	lock := o.mediaLocks.get(roomID)
	lock.Lock()
	if room.State() == domain.RoomClosed {
		lock.Unlock()
		return JoinResult{}, domain.ErrRoomClosed
	}
	router, err := o.Media.Routers.GetOrCreate(ctx, roomID)
	lock.Unlock()
	if err != nil {
		return JoinResult{}, fmt.Errorf("router for room %s: %w", roomID, err)
	}
	caps := router.RtpCapabilities()
	return JoinResult{
		Room:            core.Info(room),
		State:           domain.StateActive,
		Self:            &self,
		Participants:    room.Participants(),
		RtpCapabilities: &caps,
		Producers:       o.Media.Streams.ListProducers(roomID, self.UserID),
	}, nil
}

func (o *Orchestrator) rollbackJoin(room core.RoomService, sid core.SessionID) {
	room.Leave(domain.UserID(sid))
	o.Registry.RemoveRoom(sid, room.Room().ID)
	o.releaseIfEmpty(room)
}

// Leave removes the caller from its current room.
func (o *Orchestrator) Leave(sid core.SessionID) error {
	room, err := o.roomOf(sid)
	if err != nil {
		return err
	}
	if !o.leave(room, sid) {
		return domain.ErrNotInRoom
	}
	return nil
}

func (o *Orchestrator) leave(room core.RoomService, sid core.SessionID) bool {
	uid := domain.UserID(sid)
	roomID := room.Room().ID
	prev, ok := room.Leave(uid)
	o.Registry.RemoveRoom(sid, roomID)
	if !ok {
		return false
	}
	switch prev {
	case domain.StateActive:
		o.Media.CleanupUser(roomID, uid)
		o.broadcast(room, uid, EventUserLeft, map[string]any{"userId": uid})
		o.releaseIfEmpty(room)
	case domain.StateWaiting:
		o.waitingListChanged(room)
	}
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("user", string(uid)).Str("from", string(prev)).Msg("left room")
	return true
}

// releaseIfEmpty frees the router of a room nobody is active in. The room
// itself stays open.
func (o *Orchestrator) releaseIfEmpty(room core.RoomService) {
	roomID := room.Room().ID
	lock := o.mediaLocks.get(roomID)
	lock.Lock()
	defer lock.Unlock()
	// a join that turned ACTIVE after this check waits on lock and then
	// creates a fresh router
	if room.ActiveCount() == 0 {
		o.Media.CleanupRoom(roomID)
	}
}

// CloseRoom ends the caller's room. Host only.
func (o *Orchestrator) CloseRoom(sid core.SessionID) error {
	room, _, err := o.moderatorRoom(sid, true)
	if err != nil {
		return err
	}
	o.closeRoom(room, domain.UserID(sid))
	return nil
}

// CloseRoomByID ends a room on behalf of an operator.
func (o *Orchestrator) CloseRoomByID(roomID domain.RoomID) error {
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	o.closeRoom(room, "")
	return nil
}

func (o *Orchestrator) closeRoom(room core.RoomService, by domain.UserID) {
	roomID := room.Room().ID
	for _, ms := range room.Close() {
		uid := ms.Meta().ID
		o.Registry.RemoveRoom(core.SessionID(uid), roomID)
		if uid != by {
			sendDirect(ms, EventRoomClosed, map[string]any{"roomId": roomID})
		}
	}
	lock := o.mediaLocks.get(roomID)
	lock.Lock()
	o.Media.CleanupRoom(roomID)
	lock.Unlock()
	o.mediaLocks.forget(roomID)
	o.Rooms.RemoveRoom(roomID)
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("by", string(by)).Msg("room closed")
}

// Rename changes the caller's display name everywhere it is shown.
func (o *Orchestrator) Rename(sid core.SessionID, name string) (*domain.User, error) {
	user, err := o.Registry.UpdateUsername(sid, name)
	if err != nil {
		return nil, err
	}
	room, err := o.roomOf(sid)
	if err != nil {
		return user, nil
	}
	room.Rename(user.ID, user.Username)
	if p, ok := room.Participant(user.ID); ok {
		o.broadcast(room, user.ID, EventParticipantUpdated, p)
	} else {
		o.waitingListChanged(room)
	}
	return user, nil
}

// WhoAmI reports the caller and the room it is associated with, if any.
func (o *Orchestrator) WhoAmI(sid core.SessionID) (*domain.User, *core.RoomInfo) {
	user := o.Registry.GetOrCreateUser(sid)
	room, err := o.roomOf(sid)
	if err != nil {
		return user, nil
	}
	info := core.Info(room)
	return user, &info
}
