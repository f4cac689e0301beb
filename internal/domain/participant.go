package domain

import "time"

type Role string

const (
	RoleHost        Role = "host"
	RoleCoHost      Role = "co-host"
	RoleParticipant Role = "participant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleCoHost, RoleParticipant:
		return true
	}
	return false
}

// ParticipantState is the per (room, user) lifecycle.
type ParticipantState string

const (
	StateRequesting ParticipantState = "requesting"
	StateWaiting    ParticipantState = "waiting"
	StateActive     ParticipantState = "active"
	StateLeft       ParticipantState = "left"
	StateKicked     ParticipantState = "kicked"
)

var transitions = map[ParticipantState][]ParticipantState{
	StateRequesting: {StateWaiting, StateActive, StateLeft},
	StateWaiting:    {StateActive, StateLeft},
	StateActive:     {StateLeft, StateKicked},
	// a user who left may come back through a new join request; a kicked
	// user may not
	StateLeft: {StateRequesting},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to ParticipantState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s ParticipantState) Terminal() bool {
	return s == StateLeft || s == StateKicked
}

// Participant represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Participant struct {
	UserID      UserID           `json:"userId"`
	DisplayName string           `json:"displayName"`
	Role        Role             `json:"role"`
	State       ParticipantState `json:"state"`
	Muted       bool             `json:"muted"`
	VideoOff    bool             `json:"videoOff"`
	HandRaised  bool             `json:"handRaised"`
	Reaction    string           `json:"reaction,omitempty"`
	JoinedAt    time.Time        `json:"joinedAt"`
}

// WaitingEntry is a join request parked until a host decides.
type WaitingEntry struct {
	UserID      UserID    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Seq         uint64    `json:"seq"`
	ArrivedAt   time.Time `json:"arrivedAt"`
}
