package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

// Admit moves a waiting user into the room. Admitting someone already
// ACTIVE succeeds without side effects.
func (o *Orchestrator) Admit(ctx context.Context, sid core.SessionID, target domain.UserID) error {
	room, _, err := o.moderatorRoom(sid, false)
	if err != nil {
		return err
	}
	adm, already, err := room.Admit(target)
	if err != nil || already {
		return err
	}
	if err := o.finishAdmission(ctx, room, adm); err != nil {
		return err
	}
	o.waitingListChanged(room)
	return nil
}

// AdmitAll admits every waiting entry in arrival order and reports how many
// were admitted.
func (o *Orchestrator) AdmitAll(ctx context.Context, sid core.SessionID) (int, error) {
	room, _, err := o.moderatorRoom(sid, false)
	if err != nil {
		return 0, err
	}
	admitted := 0
	for _, adm := range room.AdmitAll() {
		if err := o.finishAdmission(ctx, room, adm); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("user", string(adm.Participant.UserID)).Msg("admit failed")
			continue
		}
		admitted++
	}
	o.waitingListChanged(room)
	return admitted, nil
}

func (o *Orchestrator) finishAdmission(ctx context.Context, room core.RoomService, adm core.Admission) error {
	uid := adm.Participant.UserID
	res, err := o.completeJoin(ctx, room, adm.Participant)
	if err != nil {
		o.rollbackJoin(room, core.SessionID(uid))
		sendDirect(adm.Session, EventParticipantRejected, map[string]any{
			"roomId": room.Room().ID,
			"code":   domain.Code(err),
			"error":  err.Error(),
		})
		return err
	}
	sendDirect(adm.Session, EventParticipantAdmitted, map[string]any{"roomId": room.Room().ID})
	sendDirect(adm.Session, EventJoinCompleted, res)
	o.broadcast(room, uid, EventUserJoined, adm.Participant)
	log.Info().Str("module", "orch").Str("room", string(room.Room().ID)).Str("user", string(uid)).Msg("admitted")
	return nil
}

func (o *Orchestrator) Reject(sid core.SessionID, target domain.UserID) error {
	room, _, err := o.moderatorRoom(sid, false)
	if err != nil {
		return err
	}
	ms, err := room.Reject(target)
	if err != nil {
		return err
	}
	roomID := room.Room().ID
	o.Registry.RemoveRoom(core.SessionID(target), roomID)
	sendDirect(ms, EventParticipantRejected, map[string]any{
		"roomId": roomID,
		"code":   domain.Code(domain.ErrAdmissionDenied),
		"error":  domain.ErrAdmissionDenied.Error(),
	})
	o.waitingListChanged(room)
	return nil
}

// Kick removes an active participant. The host cannot be kicked.
func (o *Orchestrator) Kick(sid core.SessionID, target domain.UserID) error {
	room, uid, err := o.moderatorRoom(sid, false)
	if err != nil {
		return err
	}
	if target == uid {
		return fmt.Errorf("%w: cannot kick yourself", domain.ErrForbidden)
	}
	if p, ok := room.Participant(target); ok && p.Role == domain.RoleHost {
		return fmt.Errorf("%w: host cannot be kicked", domain.ErrForbidden)
	}
	ms, err := room.Kick(target)
	if err != nil {
		return err
	}
	roomID := room.Room().ID
	o.Registry.RemoveRoom(core.SessionID(target), roomID)
	o.Media.CleanupUser(roomID, target)

	ev := map[string]any{"roomId": roomID, "userId": target, "by": uid}
	sendDirect(ms, EventUserKicked, ev)
	o.broadcast(room, "", EventUserKicked, ev)
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("user", string(target)).Str("by", string(uid)).Msg("kicked")
	return nil
}

// ChangeRole grants or revokes co-host. Host only.
func (o *Orchestrator) ChangeRole(sid core.SessionID, target domain.UserID, role domain.Role) (domain.Participant, error) {
	room, _, err := o.moderatorRoom(sid, true)
	if err != nil {
		return domain.Participant{}, err
	}
	p, err := room.SetRole(target, role)
	if err != nil {
		return domain.Participant{}, err
	}
	o.broadcast(room, "", EventRoleChanged, p)
	return p, nil
}

// MuteAll marks everyone but the caller muted.
func (o *Orchestrator) MuteAll(sid core.SessionID) ([]domain.UserID, error) {
	room, uid, err := o.moderatorRoom(sid, false)
	if err != nil {
		return nil, err
	}
	muted := room.MuteAll(uid)
	o.broadcast(room, uid, EventAllMuted, map[string]any{"by": uid, "userIds": muted})
	return muted, nil
}
