package app

import (
	"context"
	"sync"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	RoomID  domain.RoomID
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry maps client sessions to their user, signaling endpoint and room.
// Users outlive connections; a reconnect with the same sid finds them again.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	users    map[core.SessionID]*domain.User
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[core.SessionID]*domain.User),
	}
}

func (r *Registry) GetOrCreateUser(sid core.SessionID) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[sid]; ok {
		return u
	}
	u := &domain.User{ID: domain.UserID(sid), Username: "guest"}
	r.users[sid] = u
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("created new user")
	return u
}

// UpdateUsername swaps in a new User value so sessions handed out earlier
// keep an unchanging snapshot.
func (r *Registry) UpdateUsername(sid core.SessionID, name string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.users[sid]
	if !ok {
		old = &domain.User{ID: domain.UserID(sid)}
	}
	u := &domain.User{ID: old.ID}
	if err := u.SetUsername(name); err != nil {
		return nil, err
	}
	r.users[sid] = u
	if e, ok := r.sessions[sid]; ok {
		e.Session = core.NewMemberSession(u).UpdateSignal(e.Session.Signal())
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("username", u.Username).Msg("updated username")
	return u, nil
}

// BindSignal makes sess the live endpoint for sid. A previous endpoint is
// cancelled; its own disconnect handling still runs.
func (r *Registry) BindSignal(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	prev, had := r.sessions[sid]
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	r.mu.Unlock()
	if had && prev.Cancel != nil {
		prev.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Bool("replaced", had).Msg("bound signal")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// IsCurrent reports whether sig is the endpoint bound for sid.
func (r *Registry) IsCurrent(sid core.SessionID, sig core.SignalConnection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	return ok && e.Session.Signal() == sig
}

// Unbind forgets sid if sig is still its endpoint.
func (r *Registry) Unbind(sid core.SessionID, sig core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Session.Signal() != sig {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return true
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.RoomID == "" {
		return "", nil, false
	}
	return entry.RoomID, entry.Session, true
}

func (r *Registry) UpdateRoom(sid core.SessionID, roomID domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	entry.RoomID = roomID
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).Msg("updated room")
	return true
}

// RemoveRoom clears sid's room association if it still points at roomID.
func (r *Registry) RemoveRoom(sid core.SessionID, roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok && entry.RoomID == roomID {
		entry.RoomID = ""
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
	}
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
