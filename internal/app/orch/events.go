package orch

import (
	"encoding/json"

	"github.com/dkeye/Conference/internal/core"
	"github.com/rs/zerolog/log"
)

// Server to client notifications.
const (
	EventUserJoined          = "user_joined"
	EventUserLeft            = "user_left"
	EventRoomClosed          = "room_closed"
	EventUserKicked          = "user_kicked"
	EventAllMuted            = "all_muted"
	EventRoleChanged         = "role_changed"
	EventNewProducer         = "new_producer"
	EventProducerClosed      = "producer_closed"
	EventProducerPaused      = "producer_paused"
	EventProducerResumed     = "producer_resumed"
	EventConsumerClosed      = "consumer_closed"
	EventWaitingJoined       = "waiting_participant_joined"
	EventWaitingListUpdated  = "waiting_list_updated"
	EventParticipantAdmitted = "participant_admitted"
	EventParticipantRejected = "participant_rejected"
	EventJoinCompleted       = "join_completed"
	EventHandRaised          = "hand_raised"
	EventReaction            = "reaction"
	EventMediaStateChanged   = "media_state_changed"
	EventParticipantUpdated  = "participant_updated"
)

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Event encodes one notification frame.
func Event(typ string, data any) core.Frame {
	b, err := json.Marshal(envelope{Type: typ, Data: data})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", typ).Msg("encode event")
		return nil
	}
	return b
}
