package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxReactionLen = 32

type member struct {
	part    domain.Participant
	session MemberSession
}

type waiter struct {
	entry   domain.WaitingEntry
	session MemberSession
}

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room *domain.Room

	mu      sync.RWMutex
	state   domain.RoomState
	active  map[domain.UserID]*member
	waiting map[domain.UserID]*waiter
	states  map[domain.UserID]domain.ParticipantState
	roles   map[domain.UserID]domain.Role
	seq     uint64
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:    room,
		state:   domain.RoomOpen,
		active:  make(map[domain.UserID]*member),
		waiting: make(map[domain.UserID]*waiter),
		states:  make(map[domain.UserID]domain.ParticipantState),
		roles:   make(map[domain.UserID]domain.Role),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) State() domain.RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *roomImpl) logger(uid domain.UserID) *zerolog.Logger {
	l := log.With().Str("module", "core.room").Str("room", string(r.room.ID)).Str("user", string(uid)).Logger()
	return &l
}

// move applies one participant transition. Must hold mu.
func (r *roomImpl) move(uid domain.UserID, to domain.ParticipantState) error {
	from, known := r.states[uid]
	legal := domain.CanTransition(from, to)
	if !known {
		legal = to == domain.StateRequesting
	}
	if !legal {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	r.states[uid] = to
	return nil
}

func (r *roomImpl) roleFor(uid domain.UserID) domain.Role {
	if uid == r.room.HostID {
		return domain.RoleHost
	}
	if role, ok := r.roles[uid]; ok {
		return role
	}
	return domain.RoleParticipant
}

func (r *roomImpl) RoleFor(uid domain.UserID) domain.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roleFor(uid)
}

func (r *roomImpl) StateOf(uid domain.UserID) (domain.ParticipantState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[uid]
	return s, ok
}

func (r *roomImpl) Participant(uid domain.UserID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.active[uid]
	if !ok {
		return domain.Participant{}, false
	}
	return m.part, true
}

func (r *roomImpl) Participants() []domain.Participant {
	r.mu.RLock()
	out := make([]domain.Participant, 0, len(r.active))
	for _, m := range r.active {
		out = append(out, m.part)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (r *roomImpl) Waiting() []domain.WaitingEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waitingLocked()
}

func (r *roomImpl) waitingLocked() []domain.WaitingEntry {
	out := make([]domain.WaitingEntry, 0, len(r.waiting))
	for _, w := range r.waiting {
		out = append(out, w.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (r *roomImpl) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

func (r *roomImpl) RequestJoin(ms MemberSession, needsAdmission bool) (JoinDecision, error) {
	uid := ms.Meta().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == domain.RoomClosed {
		return JoinDecision{}, domain.ErrRoomClosed
	}

	switch r.states[uid] {
	case domain.StateKicked:
		return JoinDecision{}, fmt.Errorf("%w: kicked from room", domain.ErrAdmissionDenied)
	case domain.StateActive:
		return JoinDecision{State: domain.StateActive, Participant: r.active[uid].part, Already: true}, nil
	case domain.StateWaiting:
		w := r.waiting[uid]
		if needsAdmission {
			w.session = ms
			return JoinDecision{State: domain.StateWaiting, Entry: w.entry, Already: true}, nil
		}
		if err := r.move(uid, domain.StateActive); err != nil {
			return JoinDecision{}, err
		}
		delete(r.waiting, uid)
		metrics.Waiting.Dec()
		return JoinDecision{State: domain.StateActive, Participant: r.activate(ms)}, nil
	}

	if err := r.move(uid, domain.StateRequesting); err != nil {
		return JoinDecision{}, err
	}
	if needsAdmission {
		if err := r.move(uid, domain.StateWaiting); err != nil {
			return JoinDecision{}, err
		}
		r.seq++
		w := &waiter{
			entry: domain.WaitingEntry{
				UserID:      uid,
				DisplayName: ms.Meta().Username,
				Seq:         r.seq,
				ArrivedAt:   time.Now().UTC(),
			},
			session: ms,
		}
		r.waiting[uid] = w
		metrics.Waiting.Inc()
		r.logger(uid).Info().Uint64("seq", r.seq).Msg("parked in waiting room")
		return JoinDecision{State: domain.StateWaiting, Entry: w.entry}, nil
	}
	if err := r.move(uid, domain.StateActive); err != nil {
		return JoinDecision{}, err
	}
	return JoinDecision{State: domain.StateActive, Participant: r.activate(ms)}, nil
}

// activate adds ms as an active participant. Must hold mu and have already
// moved the state.
func (r *roomImpl) activate(ms MemberSession) domain.Participant {
	uid := ms.Meta().ID
	m := &member{
		part: domain.Participant{
			UserID:      uid,
			DisplayName: ms.Meta().Username,
			Role:        r.roleFor(uid),
			State:       domain.StateActive,
			JoinedAt:    time.Now().UTC(),
		},
		session: ms,
	}
	r.active[uid] = m
	metrics.Participants.Inc()
	r.logger(uid).Info().Str("role", string(m.part.Role)).Msg("participant active")
	return m.part
}

func (r *roomImpl) Admit(uid domain.UserID) (Admission, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == domain.RoomClosed {
		return Admission{}, false, domain.ErrRoomClosed
	}
	if m, ok := r.active[uid]; ok {
		return Admission{Participant: m.part, Session: m.session}, true, nil
	}
	a, err := r.admitLocked(uid)
	return a, false, err
}

func (r *roomImpl) admitLocked(uid domain.UserID) (Admission, error) {
	w, ok := r.waiting[uid]
	if !ok {
		if _, known := r.states[uid]; !known {
			return Admission{}, domain.ErrNotInRoom
		}
		return Admission{}, fmt.Errorf("%w: %s is not waiting", domain.ErrInvalidTransition, uid)
	}
	if err := r.move(uid, domain.StateActive); err != nil {
		return Admission{}, err
	}
	delete(r.waiting, uid)
	metrics.Waiting.Dec()
	return Admission{Participant: r.activate(w.session), Session: w.session}, nil
}

func (r *roomImpl) AdmitAll() []Admission {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == domain.RoomClosed {
		return nil
	}
	entries := r.waitingLocked()
	out := make([]Admission, 0, len(entries))
	for _, e := range entries {
		a, err := r.admitLocked(e.UserID)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (r *roomImpl) Reject(uid domain.UserID) (MemberSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.waiting[uid]
	if !ok {
		if _, known := r.states[uid]; !known {
			return nil, domain.ErrNotInRoom
		}
		return nil, fmt.Errorf("%w: %s is not waiting", domain.ErrInvalidTransition, uid)
	}
	if err := r.move(uid, domain.StateLeft); err != nil {
		return nil, err
	}
	delete(r.waiting, uid)
	metrics.Waiting.Dec()
	r.logger(uid).Info().Msg("join request rejected")
	return w.session, nil
}

func (r *roomImpl) Leave(uid domain.UserID) (domain.ParticipantState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.states[uid]
	switch prev {
	case domain.StateActive:
		delete(r.active, uid)
		metrics.Participants.Dec()
	case domain.StateWaiting:
		delete(r.waiting, uid)
		metrics.Waiting.Dec()
	default:
		return prev, false
	}
	r.states[uid] = domain.StateLeft
	r.logger(uid).Info().Str("from", string(prev)).Msg("participant left")
	return prev, true
}

func (r *roomImpl) Kick(uid domain.UserID) (MemberSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.active[uid]
	if !ok {
		return nil, domain.ErrNotInRoom
	}
	if err := r.move(uid, domain.StateKicked); err != nil {
		return nil, err
	}
	delete(r.active, uid)
	metrics.Participants.Dec()
	r.logger(uid).Info().Msg("participant kicked")
	return m.session, nil
}

func (r *roomImpl) Close() []MemberSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == domain.RoomClosed {
		return nil
	}
	r.state = domain.RoomClosed
	out := make([]MemberSession, 0, len(r.active)+len(r.waiting))
	for uid, m := range r.active {
		r.states[uid] = domain.StateLeft
		out = append(out, m.session)
	}
	for uid, w := range r.waiting {
		r.states[uid] = domain.StateLeft
		out = append(out, w.session)
	}
	metrics.Participants.Sub(float64(len(r.active)))
	metrics.Waiting.Sub(float64(len(r.waiting)))
	r.active = make(map[domain.UserID]*member)
	r.waiting = make(map[domain.UserID]*waiter)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Int("notified", len(out)).Msg("room closed")
	return out
}

func (r *roomImpl) SetRole(uid domain.UserID, role domain.Role) (domain.Participant, error) {
	if !role.Valid() || role == domain.RoleHost {
		return domain.Participant{}, fmt.Errorf("%w: %q", domain.ErrInvalidRole, role)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.active[uid]
	if !ok {
		return domain.Participant{}, domain.ErrNotInRoom
	}
	if m.part.Role == domain.RoleHost {
		return domain.Participant{}, fmt.Errorf("%w: host role cannot change", domain.ErrForbidden)
	}
	r.roles[uid] = role
	m.part.Role = role
	r.logger(uid).Info().Str("role", string(role)).Msg("role changed")
	return m.part, nil
}

func (r *roomImpl) MuteAll(except domain.UserID) []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.UserID
	for uid, m := range r.active {
		if uid == except {
			continue
		}
		m.part.Muted = true
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *roomImpl) update(uid domain.UserID, fn func(p *domain.Participant)) (domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.active[uid]
	if !ok {
		return domain.Participant{}, domain.ErrNotInRoom
	}
	fn(&m.part)
	return m.part, nil
}

func (r *roomImpl) SetHandRaised(uid domain.UserID, raised bool) (domain.Participant, error) {
	return r.update(uid, func(p *domain.Participant) { p.HandRaised = raised })
}

func (r *roomImpl) SetReaction(uid domain.UserID, reaction string) (domain.Participant, error) {
	reaction = strings.TrimSpace(reaction)
	if len(reaction) > maxReactionLen {
		return domain.Participant{}, fmt.Errorf("%w: reaction too long", domain.ErrBadPayload)
	}
	return r.update(uid, func(p *domain.Participant) { p.Reaction = reaction })
}

func (r *roomImpl) SetMediaState(uid domain.UserID, muted, videoOff bool) (domain.Participant, error) {
	return r.update(uid, func(p *domain.Participant) {
		p.Muted = muted
		p.VideoOff = videoOff
	})
}

func (r *roomImpl) Rename(uid domain.UserID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.active[uid]; ok {
		m.part.DisplayName = name
	}
	if w, ok := r.waiting[uid]; ok {
		w.entry.DisplayName = name
	}
}

func (r *roomImpl) Broadcast(from domain.UserID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for uid, m := range r.active {
		if uid == from {
			continue
		}
		r.deliver(m.session, data, &res)
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) BroadcastModerators(data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for _, m := range r.active {
		if m.part.Role == domain.RoleHost || m.part.Role == domain.RoleCoHost {
			r.deliver(m.session, data, &res)
		}
	}
	return res
}

func (r *roomImpl) deliver(ms MemberSession, data Frame, res *PublishResult) {
	sig := ms.Signal()
	if sig == nil {
		return
	}
	if err := sig.TrySend(data); err != nil {
		res.Dropped = append(res.Dropped, ms)
		return
	}
	res.SendTo++
}

func (r *roomImpl) SendTo(uid domain.UserID, data Frame) error {
	r.mu.RLock()
	var ms MemberSession
	if m, ok := r.active[uid]; ok {
		ms = m.session
	} else if w, ok := r.waiting[uid]; ok {
		ms = w.session
	}
	r.mu.RUnlock()
	if ms == nil || ms.Signal() == nil {
		return domain.ErrNotInRoom
	}
	return ms.Signal().TrySend(data)
}
