package signal

import (
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(sid core.SessionID, data []byte) (*domain.User, error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename")
	return ctl.Orch.Rename(sid, p.Name)
}

type whoAmI struct {
	User *domain.User   `json:"user"`
	Room *core.RoomInfo `json:"room,omitempty"`
}

func (ctl *SignalWSController) handleWhoAmI(sid core.SessionID) whoAmI {
	user, room := ctl.Orch.WhoAmI(sid)
	return whoAmI{User: user, Room: room}
}
