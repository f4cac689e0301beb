package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) createRoom(sid core.SessionID, data []byte) (core.RoomInfo, error) {
	var p struct {
		Title       string `json:"title"`
		WaitingRoom *bool  `json:"waitingRoom,omitempty"`
	}
	if err := decode(data, &p); err != nil {
		return core.RoomInfo{}, err
	}
	info := ctl.Orch.CreateRoom(sid, p.Title, p.WaitingRoom)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(info.ID)).Msg("create room")
	return info, nil
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, sid core.SessionID, data []byte) (orch.JoinResult, error) {
	var p struct {
		RoomID      string `json:"roomId"`
		DisplayName string `json:"displayName,omitempty"`
	}
	if err := decode(data, &p); err != nil {
		return orch.JoinResult{}, err
	}
	if p.RoomID == "" {
		return orch.JoinResult{}, fmt.Errorf("%w: roomId required", domain.ErrBadPayload)
	}
	if p.DisplayName != "" {
		if _, err := ctl.Orch.Rename(sid, p.DisplayName); err != nil {
			return orch.JoinResult{}, err
		}
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.RoomID).Msg("join")
	return ctl.Orch.Join(ctx, sid, domain.RoomID(p.RoomID))
}

// withTarget decodes {"userId": ...} and runs fn on it.
func (ctl *SignalWSController) withTarget(data []byte, fn func(domain.UserID) error) error {
	var p struct {
		UserID string `json:"userId"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: userId required", domain.ErrBadPayload)
	}
	return fn(domain.UserID(p.UserID))
}

func (ctl *SignalWSController) handleAdmitAll(ctx context.Context, sid core.SessionID) (any, error) {
	n, err := ctl.Orch.AdmitAll(ctx, sid)
	if err != nil {
		return nil, err
	}
	return map[string]int{"admitted": n}, nil
}

func (ctl *SignalWSController) handleMuteAll(sid core.SessionID) (any, error) {
	ids, err := ctl.Orch.MuteAll(sid)
	if err != nil {
		return nil, err
	}
	return map[string]any{"userIds": ids}, nil
}

func (ctl *SignalWSController) handleChangeRole(sid core.SessionID, data []byte) (domain.Participant, error) {
	var p struct {
		UserID string      `json:"userId"`
		Role   domain.Role `json:"role"`
	}
	if err := decode(data, &p); err != nil {
		return domain.Participant{}, err
	}
	return ctl.Orch.ChangeRole(sid, domain.UserID(p.UserID), p.Role)
}

func (ctl *SignalWSController) handleRaiseHand(sid core.SessionID, data []byte) (domain.Participant, error) {
	var p struct {
		Raised *bool `json:"raised"`
	}
	if err := decode(data, &p); err != nil {
		return domain.Participant{}, err
	}
	raised := true
	if p.Raised != nil {
		raised = *p.Raised
	}
	return ctl.Orch.SetHandRaised(sid, raised)
}

func (ctl *SignalWSController) handleReaction(sid core.SessionID, data []byte) (domain.Participant, error) {
	var p struct {
		Reaction string `json:"reaction"`
	}
	if err := decode(data, &p); err != nil {
		return domain.Participant{}, err
	}
	return ctl.Orch.SetReaction(sid, p.Reaction)
}

func (ctl *SignalWSController) handleMediaState(sid core.SessionID, data []byte) (domain.Participant, error) {
	var p struct {
		Muted    bool `json:"muted"`
		VideoOff bool `json:"videoOff"`
	}
	if err := decode(data, &p); err != nil {
		return domain.Participant{}, err
	}
	return ctl.Orch.SetMediaState(sid, p.Muted, p.VideoOff)
}
