package core

import (
	"github.com/dkeye/Conference/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// JoinDecision is the outcome of a join request.
// Already is set when the request changed nothing.
type JoinDecision struct {
	State       domain.ParticipantState
	Participant domain.Participant
	Entry       domain.WaitingEntry
	Already     bool
}

// Admission is one WAITING -> ACTIVE move.
type Admission struct {
	Participant domain.Participant
	Session     MemberSession
}

// RoomService is the membership state machine of one room.
// It owns participants and the waiting list but never touches media.
type RoomService interface {
	Room() *domain.Room
	State() domain.RoomState

	// RoleFor is the role uid would get when joining now.
	RoleFor(uid domain.UserID) domain.Role
	StateOf(uid domain.UserID) (domain.ParticipantState, bool)
	Participant(uid domain.UserID) (domain.Participant, bool)
	Participants() []domain.Participant
	Waiting() []domain.WaitingEntry
	ActiveCount() int

	RequestJoin(ms MemberSession, needsAdmission bool) (JoinDecision, error)
	Admit(uid domain.UserID) (Admission, bool, error)
	AdmitAll() []Admission
	Reject(uid domain.UserID) (MemberSession, error)
	// Leave moves an ACTIVE or WAITING user to LEFT and reports the state it
	// left from. ok is false when there was nothing to leave.
	Leave(uid domain.UserID) (prev domain.ParticipantState, ok bool)
	Kick(uid domain.UserID) (MemberSession, error)
	// Close ends the room. Every active and waiting user moves to LEFT; their
	// sessions are returned so they can be told.
	Close() []MemberSession

	SetRole(uid domain.UserID, role domain.Role) (domain.Participant, error)
	MuteAll(except domain.UserID) []domain.UserID
	SetHandRaised(uid domain.UserID, raised bool) (domain.Participant, error)
	SetReaction(uid domain.UserID, reaction string) (domain.Participant, error)
	SetMediaState(uid domain.UserID, muted, videoOff bool) (domain.Participant, error)
	Rename(uid domain.UserID, name string)

	Broadcast(from domain.UserID, data Frame) PublishResult
	BroadcastModerators(data Frame) PublishResult
	SendTo(uid domain.UserID, data Frame) error
}

type RoomInfo struct {
	ID           domain.RoomID    `json:"id"`
	Code         string           `json:"code"`
	Title        string           `json:"title"`
	HostID       domain.UserID    `json:"hostId"`
	WaitingRoom  bool             `json:"waitingRoom"`
	State        domain.RoomState `json:"state"`
	Participants int              `json:"participants"`
	Waiting      int              `json:"waiting"`
}

type RoomManager interface {
	CreateRoom(title string, host domain.UserID, waitingRoom bool) RoomService
	GetRoom(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	RemoveRoom(id domain.RoomID)
}

// Info summarizes r for listings.
func Info(r RoomService) RoomInfo {
	room := r.Room()
	return RoomInfo{
		ID:           room.ID,
		Code:         room.Code,
		Title:        room.Title,
		HostID:       room.HostID,
		WaitingRoom:  room.WaitingRoom,
		State:        r.State(),
		Participants: r.ActiveCount(),
		Waiting:      len(r.Waiting()),
	}
}
