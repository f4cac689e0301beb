package orch

import (
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
)

func (o *Orchestrator) SetHandRaised(sid core.SessionID, raised bool) (domain.Participant, error) {
	room, uid, err := o.activeRoom(sid)
	if err != nil {
		return domain.Participant{}, err
	}
	p, err := room.SetHandRaised(uid, raised)
	if err != nil {
		return domain.Participant{}, err
	}
	o.broadcast(room, uid, EventHandRaised, map[string]any{"userId": uid, "raised": raised})
	return p, nil
}

func (o *Orchestrator) SetReaction(sid core.SessionID, reaction string) (domain.Participant, error) {
	room, uid, err := o.activeRoom(sid)
	if err != nil {
		return domain.Participant{}, err
	}
	p, err := room.SetReaction(uid, reaction)
	if err != nil {
		return domain.Participant{}, err
	}
	o.broadcast(room, uid, EventReaction, map[string]any{"userId": uid, "reaction": p.Reaction})
	return p, nil
}

func (o *Orchestrator) SetMediaState(sid core.SessionID, muted, videoOff bool) (domain.Participant, error) {
	room, uid, err := o.activeRoom(sid)
	if err != nil {
		return domain.Participant{}, err
	}
	p, err := room.SetMediaState(uid, muted, videoOff)
	if err != nil {
		return domain.Participant{}, err
	}
	o.broadcast(room, uid, EventMediaStateChanged, p)
	return p, nil
}
