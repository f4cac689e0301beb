package core_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/core/mocks"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type sink struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (s *sink) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *sink) Close() {}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func session(id, name string, sig core.SignalConnection) core.MemberSession {
	return core.NewMemberSession(&domain.User{ID: domain.UserID(id), Username: name}).UpdateSignal(sig)
}

func newRoom(waiting bool) core.RoomService {
	return core.NewRoomService(domain.NewRoom("standup", "host", waiting))
}

func TestHostJoinsDirectly(t *testing.T) {
	r := newRoom(true)

	d, err := r.RequestJoin(session("host", "Host", &sink{}), false)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, d.State)
	assert.Equal(t, domain.RoleHost, d.Participant.Role)
	assert.False(t, d.Already)

	d, err = r.RequestJoin(session("host", "Host", &sink{}), false)
	require.NoError(t, err)
	assert.True(t, d.Already)
	assert.Equal(t, 1, r.ActiveCount())
}

func TestWaitingRoomAdmit(t *testing.T) {
	r := newRoom(true)
	_, err := r.RequestJoin(session("host", "Host", &sink{}), false)
	require.NoError(t, err)

	d, err := r.RequestJoin(session("u2", "Guest", &sink{}), true)
	require.NoError(t, err)
	assert.Equal(t, domain.StateWaiting, d.State)
	require.Len(t, r.Waiting(), 1)
	assert.Equal(t, domain.UserID("u2"), r.Waiting()[0].UserID)

	again, err := r.RequestJoin(session("u2", "Guest", &sink{}), true)
	require.NoError(t, err)
	assert.True(t, again.Already)
	assert.Len(t, r.Waiting(), 1)

	a, already, err := r.Admit("u2")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, domain.RoleParticipant, a.Participant.Role)
	assert.Empty(t, r.Waiting())

	roster := r.Participants()
	require.Len(t, roster, 2)
	assert.Equal(t, domain.UserID("host"), roster[0].UserID)

	_, already, err = r.Admit("u2")
	require.NoError(t, err)
	assert.True(t, already)
}

func TestAdmitRaceActivatesOnce(t *testing.T) {
	r := newRoom(true)
	_, err := r.RequestJoin(session("u2", "Guest", &sink{}), true)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, already, err := r.Admit("u2"); err == nil && !already {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			if d, err := r.RequestJoin(session("u2", "Guest", &sink{}), false); err == nil && d.State == domain.StateActive && !d.Already {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, r.ActiveCount())
	s, _ := r.StateOf("u2")
	assert.Equal(t, domain.StateActive, s)
}

func TestRejectAndRejoin(t *testing.T) {
	r := newRoom(true)
	_, err := r.RequestJoin(session("u2", "Guest", &sink{}), true)
	require.NoError(t, err)

	ms, err := r.Reject("u2")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u2"), ms.Meta().ID)
	s, _ := r.StateOf("u2")
	assert.Equal(t, domain.StateLeft, s)

	_, err = r.Reject("u2")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = r.Reject("nobody")
	require.ErrorIs(t, err, domain.ErrNotInRoom)

	d, err := r.RequestJoin(session("u2", "Guest", &sink{}), true)
	require.NoError(t, err)
	assert.Equal(t, domain.StateWaiting, d.State)
}

func TestAdmitAllInArrivalOrder(t *testing.T) {
	r := newRoom(true)
	for _, id := range []string{"c", "a", "b"} {
		_, err := r.RequestJoin(session(id, id, &sink{}), true)
		require.NoError(t, err)
	}

	admitted := r.AdmitAll()
	require.Len(t, admitted, 3)
	assert.Equal(t, domain.UserID("c"), admitted[0].Participant.UserID)
	assert.Equal(t, domain.UserID("a"), admitted[1].Participant.UserID)
	assert.Equal(t, domain.UserID("b"), admitted[2].Participant.UserID)
	assert.Empty(t, r.Waiting())
}

func TestKickAndLeave(t *testing.T) {
	r := newRoom(false)
	_, err := r.RequestJoin(session("u1", "A", &sink{}), false)
	require.NoError(t, err)
	_, err = r.RequestJoin(session("u2", "B", &sink{}), false)
	require.NoError(t, err)

	_, err = r.Kick("u2")
	require.NoError(t, err)
	s, _ := r.StateOf("u2")
	assert.Equal(t, domain.StateKicked, s)
	_, err = r.Kick("u2")
	require.ErrorIs(t, err, domain.ErrNotInRoom)

	_, err = r.RequestJoin(session("u2", "B", &sink{}), false)
	require.ErrorIs(t, err, domain.ErrAdmissionDenied)
	_, err = r.RequestJoin(session("u2", "B", &sink{}), true)
	require.ErrorIs(t, err, domain.ErrAdmissionDenied)
	assert.Empty(t, r.Waiting())

	prev, ok := r.Leave("u1")
	assert.True(t, ok)
	assert.Equal(t, domain.StateActive, prev)
	_, ok = r.Leave("u1")
	assert.False(t, ok)
	assert.Zero(t, r.ActiveCount())
}

func TestLeaveWhileWaiting(t *testing.T) {
	r := newRoom(true)
	_, err := r.RequestJoin(session("u2", "B", &sink{}), true)
	require.NoError(t, err)

	prev, ok := r.Leave("u2")
	assert.True(t, ok)
	assert.Equal(t, domain.StateWaiting, prev)
	assert.Empty(t, r.Waiting())
}

func TestCloseRoom(t *testing.T) {
	r := newRoom(true)
	_, err := r.RequestJoin(session("host", "H", &sink{}), false)
	require.NoError(t, err)
	_, err = r.RequestJoin(session("u2", "B", &sink{}), true)
	require.NoError(t, err)

	sessions := r.Close()
	assert.Len(t, sessions, 2)
	assert.Equal(t, domain.RoomClosed, r.State())
	assert.Zero(t, r.ActiveCount())
	assert.Empty(t, r.Waiting())
	assert.Nil(t, r.Close())

	_, err = r.RequestJoin(session("u3", "C", &sink{}), false)
	require.ErrorIs(t, err, domain.ErrRoomClosed)
}

func TestSetRole(t *testing.T) {
	r := newRoom(false)
	_, err := r.RequestJoin(session("host", "H", &sink{}), false)
	require.NoError(t, err)
	_, err = r.RequestJoin(session("u2", "B", &sink{}), false)
	require.NoError(t, err)

	p, err := r.SetRole("u2", domain.RoleCoHost)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCoHost, p.Role)

	_, err = r.SetRole("u2", domain.RoleHost)
	require.ErrorIs(t, err, domain.ErrInvalidRole)
	_, err = r.SetRole("host", domain.RoleParticipant)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = r.SetRole("ghost", domain.RoleCoHost)
	require.ErrorIs(t, err, domain.ErrNotInRoom)

	// the role survives a rejoin
	r.Leave("u2")
	assert.Equal(t, domain.RoleCoHost, r.RoleFor("u2"))
}

func TestParticipantStateMutations(t *testing.T) {
	r := newRoom(false)
	_, err := r.RequestJoin(session("u1", "A", &sink{}), false)
	require.NoError(t, err)
	_, err = r.RequestJoin(session("u2", "B", &sink{}), false)
	require.NoError(t, err)

	p, err := r.SetHandRaised("u1", true)
	require.NoError(t, err)
	assert.True(t, p.HandRaised)

	p, err = r.SetReaction("u1", " 👍 ")
	require.NoError(t, err)
	assert.Equal(t, "👍", p.Reaction)
	_, err = r.SetReaction("u1", "this reaction text is far too long to be a reaction")
	require.ErrorIs(t, err, domain.ErrBadPayload)

	p, err = r.SetMediaState("u2", false, true)
	require.NoError(t, err)
	assert.True(t, p.VideoOff)

	muted := r.MuteAll("u1")
	assert.Equal(t, []domain.UserID{"u2"}, muted)
	p2, _ := r.Participant("u2")
	assert.True(t, p2.Muted)
	p1, _ := r.Participant("u1")
	assert.False(t, p1.Muted)

	r.Rename("u2", "Bee")
	p2, _ = r.Participant("u2")
	assert.Equal(t, "Bee", p2.DisplayName)
}

func TestBroadcastSkipsSenderAndModeratorsOnly(t *testing.T) {
	r := newRoom(true)
	host, guest, waiting := &sink{}, &sink{}, &sink{}
	_, err := r.RequestJoin(session("host", "H", host), false)
	require.NoError(t, err)
	_, err = r.RequestJoin(session("u2", "B", guest), false)
	require.NoError(t, err)
	_, err = r.RequestJoin(session("u3", "C", waiting), true)
	require.NoError(t, err)

	res := r.Broadcast("host", core.Frame(`{}`))
	assert.Equal(t, 1, res.SendTo)
	assert.Equal(t, 1, guest.count())
	assert.Zero(t, host.count())

	res = r.BroadcastModerators(core.Frame(`{}`))
	assert.Equal(t, 1, res.SendTo)
	assert.Equal(t, 1, host.count())

	require.NoError(t, r.SendTo("u3", core.Frame(`{}`)))
	assert.Equal(t, 1, waiting.count())
	require.ErrorIs(t, r.SendTo("nobody", core.Frame(`{}`)), domain.ErrNotInRoom)
}

func TestBroadcastReportsBackpressure(t *testing.T) {
	ctrl := gomock.NewController(t)
	slow := mocks.NewMockSignalConnection(ctrl)
	slow.EXPECT().TrySend(gomock.Any()).Return(errors.New("backpressure"))

	r := newRoom(false)
	_, err := r.RequestJoin(session("u1", "A", &sink{}), false)
	require.NoError(t, err)
	_, err = r.RequestJoin(session("u2", "B", slow), false)
	require.NoError(t, err)

	res := r.Broadcast("u1", core.Frame(`{}`))
	assert.Zero(t, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, domain.UserID("u2"), res.Dropped[0].Meta().ID)
}
