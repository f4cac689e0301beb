package core

import "github.com/dkeye/Conference/internal/domain"

// SessionID identifies one browser client. It doubles as the user id.
type SessionID string

// MemberSession binds a user and its signaling endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.User
	Signal() SignalConnection
	UpdateSignal(SignalConnection) MemberSession
}
