package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/core/mocks"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/dkeye/Conference/internal/media/mediatest"
	"github.com/dkeye/Conference/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recorder struct {
	mu     sync.Mutex
	frames []envelope
	raw    []json.RawMessage
}

func (r *recorder) TrySend(f core.Frame) error {
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, envelope{Type: env.Type})
	r.raw = append(r.raw, env.Data)
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Type
	}
	return out
}

func (r *recorder) count(typ string) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

// last decodes the payload of the newest frame of typ into v.
func (r *recorder) last(t *testing.T, typ string, v any) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Type == typ {
			require.NoError(t, json.Unmarshal(r.raw[i], v))
			return
		}
	}
	t.Fatalf("no %s frame", typ)
}

type client struct {
	sid      core.SessionID
	uid      domain.UserID
	sig      *recorder
	canceled atomic.Bool
}

type harness struct {
	o      *Orchestrator
	engine *mediatest.Engine
}

var testCodecs = []media.RtpCodecCapability{
	{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	{MimeType: "video/VP8", ClockRate: 90000},
}

var peerCaps = media.RtpCapabilities{Codecs: []media.RtpCodecCapability{
	{Kind: media.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
}}

func opusParams(ssrc uint32) media.RtpParameters {
	return media.RtpParameters{
		Codecs:    []media.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 100, ClockRate: 48000, Channels: 2}},
		Encodings: []media.RtpEncodingParameters{{Ssrc: ssrc}},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	engine := mediatest.NewEngine()
	pool := sfu.NewWorkerPool(time.Hour, func(error) {})
	require.NoError(t, pool.Initialize(context.Background(), engine, 2))
	svc := sfu.NewService(pool, sfu.Options{
		Codecs:    testCodecs,
		Transport: media.WebRtcTransportOptions{EnableUdp: true, EnableTcp: true, PreferUdp: true},
	})
	t.Cleanup(svc.Shutdown)

	o := &Orchestrator{
		Registry:           app.NewRegistry(),
		Rooms:              app.NewRoomManager(),
		Media:              svc,
		Policy:             app.SimplePolicy{},
		Admission:          app.WaitingRoomPolicy{CoHostBypass: true},
		WaitingRoomDefault: true,
	}
	o.BindMediaHandlers()
	return &harness{o: o, engine: engine}
}

func (h *harness) connect(id string) *client {
	c := &client{sid: core.SessionID(id), uid: domain.UserID(id), sig: &recorder{}}
	h.o.Connect(c.sid, c.sig, func() { c.canceled.Store(true) })
	return c
}

// hostRoom creates a room owned by host and joins it.
func (h *harness) hostRoom(t *testing.T, host *client, waiting bool) domain.RoomID {
	t.Helper()
	info := h.o.CreateRoom(host.sid, "weekly", &waiting)
	res, err := h.o.Join(context.Background(), host.sid, info.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, res.State)
	return info.ID
}

func (h *harness) room(t *testing.T, id domain.RoomID) core.RoomService {
	t.Helper()
	r, ok := h.o.Rooms.GetRoom(id)
	require.True(t, ok)
	return r
}

func TestHostJoinThenAdmitParticipant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")

	roomID := h.hostRoom(t, u1, true)
	_, ok := h.o.Media.Routers.Get(roomID)
	assert.True(t, ok, "router exists once the host is in")
	assert.Zero(t, h.o.Media.Transports.Len())

	res, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateWaiting, res.State)
	assert.Nil(t, res.RtpCapabilities)
	assert.Empty(t, res.Producers)
	waiting := h.room(t, roomID).Waiting()
	require.Len(t, waiting, 1)
	assert.Equal(t, u2.uid, waiting[0].UserID)
	assert.Equal(t, 1, u1.sig.count(EventWaitingJoined))

	require.NoError(t, h.o.Admit(ctx, u1.sid, u2.uid))

	st, _ := h.room(t, roomID).StateOf(u2.uid)
	assert.Equal(t, domain.StateActive, st)
	assert.Equal(t, []string{EventParticipantAdmitted, EventJoinCompleted}, u2.sig.types())

	var done JoinResult
	u2.sig.last(t, EventJoinCompleted, &done)
	assert.Len(t, done.Participants, 2)
	require.NotNil(t, done.RtpCapabilities)
	assert.NotEmpty(t, done.RtpCapabilities.Codecs)
	assert.Equal(t, 1, u1.sig.count(EventUserJoined))
	assert.Empty(t, h.room(t, roomID).Waiting())
}

func TestProduceConsumeAndProducerClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, false)
	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)

	send, err := h.o.CreateTransport(ctx, u1.sid, sfu.DirectionSend)
	require.NoError(t, err)
	p1, err := h.o.Produce(ctx, u1.sid, send.ID, media.KindAudio, opusParams(4242), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, u2.sig.count(EventNewProducer))

	recv, err := h.o.CreateTransport(ctx, u2.sid, sfu.DirectionRecv)
	require.NoError(t, err)
	c, err := h.o.Consume(ctx, u2.sid, recv.ID, p1.ID, peerCaps)
	require.NoError(t, err)
	assert.True(t, c.Paused)
	assert.Equal(t, p1.ID, c.ProducerID)
	require.NoError(t, h.o.ResumeConsumer(u2.sid, c.ID))

	require.NoError(t, h.o.CloseProducer(u1.sid, p1.ID))
	_, ok := h.o.Media.Streams.Consumer(c.ID)
	assert.False(t, ok, "consumer goes with its producer")
	assert.Equal(t, 1, u2.sig.count(EventProducerClosed))
	assert.Equal(t, 1, u2.sig.count(EventConsumerClosed))
}

func TestMediaOwnershipAndAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, u3 := h.connect("u1"), h.connect("u2"), h.connect("u3")
	roomID := h.hostRoom(t, u1, true)

	_, err := h.o.Join(ctx, u3.sid, roomID)
	require.NoError(t, err)
	_, err = h.o.CreateTransport(ctx, u3.sid, sfu.DirectionSend)
	assert.ErrorIs(t, err, domain.ErrForbidden, "waiting users get no media")

	_, err = h.o.RouterCapabilities(u2.sid)
	assert.ErrorIs(t, err, domain.ErrNotInRoom)

	require.NoError(t, h.o.Admit(ctx, u1.sid, u3.uid))
	send, err := h.o.CreateTransport(ctx, u1.sid, sfu.DirectionSend)
	require.NoError(t, err)
	p, err := h.o.Produce(ctx, u1.sid, send.ID, media.KindAudio, opusParams(1), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, h.o.CloseProducer(u3.sid, p.ID), domain.ErrProducerNotFound)
	assert.ErrorIs(t, h.o.PauseProducer(u3.sid, p.ID), domain.ErrProducerNotFound)
	_, err = h.o.Produce(ctx, u3.sid, send.ID, media.KindAudio, opusParams(2), nil)
	assert.ErrorIs(t, err, domain.ErrTransportNotFound)

	require.NoError(t, h.o.PauseProducer(u1.sid, p.ID))
	require.NoError(t, h.o.ResumeProducer(u1.sid, p.ID))
	assert.Equal(t, 1, u3.sig.count(EventProducerPaused))
	assert.Equal(t, 1, u3.sig.count(EventProducerResumed))
}

func TestAdmitRacingJoinActivatesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, true)
	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.o.Admit(ctx, u1.sid, u2.uid)
		}()
		go func() {
			defer wg.Done()
			_, _ = h.o.Join(ctx, u2.sid, roomID)
		}()
	}
	wg.Wait()

	st, _ := h.room(t, roomID).StateOf(u2.uid)
	assert.Equal(t, domain.StateActive, st)
	assert.Equal(t, 1, u1.sig.count(EventUserJoined))
	assert.Equal(t, 1, u2.sig.count(EventJoinCompleted))
	assert.Equal(t, 2, h.room(t, roomID).ActiveCount())
}

func TestDuplicateJoinIsQuiet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, false)

	for i := 0; i < 3; i++ {
		res, err := h.o.Join(ctx, u2.sid, roomID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateActive, res.State)
	}
	assert.Equal(t, 1, u1.sig.count(EventUserJoined))
}

func TestCoHostBypassesWaitingRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, true)

	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)
	require.NoError(t, h.o.Admit(ctx, u1.sid, u2.uid))
	p, err := h.o.ChangeRole(u1.sid, u2.uid, domain.RoleCoHost)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCoHost, p.Role)
	assert.Equal(t, 1, u2.sig.count(EventRoleChanged))

	require.NoError(t, h.o.Leave(u2.sid))
	res, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, res.State)
	assert.Equal(t, domain.RoleCoHost, res.Self.Role)
}

func TestRejectSurfacesAdmissionDenied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, true)
	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)

	assert.ErrorIs(t, h.o.Reject(u2.sid, u2.uid), domain.ErrForbidden)
	require.NoError(t, h.o.Reject(u1.sid, u2.uid))

	var ev map[string]any
	u2.sig.last(t, EventParticipantRejected, &ev)
	assert.Equal(t, "ADMISSION_DENIED", ev["code"])
	st, _ := h.room(t, roomID).StateOf(u2.uid)
	assert.Equal(t, domain.StateLeft, st)
	_, _, inRoom := h.o.Registry.RoomOf(u2.sid)
	assert.False(t, inRoom)

	res, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateWaiting, res.State, "a rejected user may ask again")
}

func TestAdmitAllInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	host := h.connect("host")
	roomID := h.hostRoom(t, host, true)
	guests := []*client{h.connect("g1"), h.connect("g2"), h.connect("g3")}
	for _, g := range guests {
		_, err := h.o.Join(ctx, g.sid, roomID)
		require.NoError(t, err)
	}

	n, err := h.o.AdmitAll(ctx, host.sid)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 4, h.room(t, roomID).ActiveCount())
	for _, g := range guests {
		assert.Equal(t, 1, g.sig.count(EventJoinCompleted))
	}
}

func TestLeaveReleasesMedia(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, false)
	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)

	send, err := h.o.CreateTransport(ctx, u2.sid, sfu.DirectionSend)
	require.NoError(t, err)
	_, err = h.o.Produce(ctx, u2.sid, send.ID, media.KindAudio, opusParams(7), nil)
	require.NoError(t, err)

	require.NoError(t, h.o.Leave(u2.sid))
	assert.Empty(t, h.o.Media.Transports.ForUser(roomID, u2.uid))
	assert.Empty(t, h.o.Media.Streams.ListProducers(roomID, ""))
	assert.Equal(t, 1, u1.sig.count(EventUserLeft))
	assert.Equal(t, 1, u1.sig.count(EventProducerClosed))
	assert.ErrorIs(t, h.o.Leave(u2.sid), domain.ErrNotInRoom)

	require.NoError(t, h.o.Leave(u1.sid))
	_, ok := h.o.Media.Routers.Get(roomID)
	assert.False(t, ok, "router released with the last participant")
	assert.Equal(t, domain.RoomOpen, h.room(t, roomID).State())
}

func TestKickRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, u3 := h.connect("u1"), h.connect("u2"), h.connect("u3")
	roomID := h.hostRoom(t, u1, false)
	for _, c := range []*client{u2, u3} {
		_, err := h.o.Join(ctx, c.sid, roomID)
		require.NoError(t, err)
	}

	assert.ErrorIs(t, h.o.Kick(u2.sid, u3.uid), domain.ErrForbidden)
	_, err := h.o.ChangeRole(u1.sid, u2.uid, domain.RoleCoHost)
	require.NoError(t, err)
	assert.ErrorIs(t, h.o.Kick(u2.sid, u1.uid), domain.ErrForbidden, "host cannot be kicked")
	assert.ErrorIs(t, h.o.Kick(u1.sid, u1.uid), domain.ErrForbidden)

	_, err = h.o.CreateTransport(ctx, u3.sid, sfu.DirectionRecv)
	require.NoError(t, err)
	require.NoError(t, h.o.Kick(u2.sid, u3.uid))

	st, _ := h.room(t, roomID).StateOf(u3.uid)
	assert.Equal(t, domain.StateKicked, st)
	assert.Empty(t, h.o.Media.Transports.ForUser(roomID, u3.uid))
	assert.Equal(t, 1, u3.sig.count(EventUserKicked))
	assert.Equal(t, 1, u1.sig.count(EventUserKicked))
	assert.ErrorIs(t, h.o.Kick(u1.sid, u3.uid), domain.ErrNotInRoom)

	_, err = h.o.Join(ctx, u3.sid, roomID)
	assert.ErrorIs(t, err, domain.ErrAdmissionDenied, "kicked users stay out")
	st, _ = h.room(t, roomID).StateOf(u3.uid)
	assert.Equal(t, domain.StateKicked, st)
}

func TestKickDuringTransportCreation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, false)
	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)

	var created string
	var kickErr error
	h.engine.AfterCreate = func(kind, id string) {
		if kind == "transport" {
			created = id
			kickErr = h.o.Kick(u1.sid, u2.uid)
		}
	}
	_, err = h.o.CreateTransport(ctx, u2.sid, sfu.DirectionSend)
	h.engine.AfterCreate = nil

	require.NoError(t, kickErr)
	assert.ErrorIs(t, err, domain.ErrNotInRoom)
	assert.Empty(t, h.o.Media.Transports.ForUser(roomID, u2.uid))
	_, live := h.engine.Transport(created)
	assert.False(t, live, "engine transport closed")
}

func TestKickDuringProduce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, false)
	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)
	tp, err := h.o.CreateTransport(ctx, u2.sid, sfu.DirectionSend)
	require.NoError(t, err)

	var kickErr error
	h.engine.AfterCreate = func(kind, id string) {
		if kind == "producer" {
			kickErr = h.o.Kick(u1.sid, u2.uid)
		}
	}
	_, err = h.o.Produce(ctx, u2.sid, tp.ID, media.KindAudio, opusParams(4242), nil)
	h.engine.AfterCreate = nil

	require.NoError(t, kickErr)
	assert.ErrorIs(t, err, domain.ErrTransportNotFound)
	assert.Empty(t, h.o.Media.Streams.ListProducers(roomID, ""))
	assert.Zero(t, u1.sig.count(EventNewProducer))

	u3 := h.connect("u3")
	res, err := h.o.Join(ctx, u3.sid, roomID)
	require.NoError(t, err)
	assert.Empty(t, res.Producers)
}

// A join that turns ACTIVE while the last member leaves must end up with a
// usable router.
func TestLeaveRacingJoinKeepsRouter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	host := h.connect("host")
	roomID := h.hostRoom(t, host, false)
	require.NoError(t, h.o.Leave(host.sid))
	a, b := h.connect("a"), h.connect("b")

	for i := 0; i < 200; i++ {
		_, err := h.o.Join(ctx, a.sid, roomID)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var joinErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.o.Leave(a.sid)
		}()
		go func() {
			defer wg.Done()
			_, joinErr = h.o.Join(ctx, b.sid, roomID)
		}()
		wg.Wait()

		require.NoError(t, joinErr)
		_, err = h.o.CreateTransport(ctx, b.sid, sfu.DirectionRecv)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, h.o.Leave(b.sid))
	}
}

func TestChangeRoleHostOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, false)
	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)

	_, err = h.o.ChangeRole(u2.sid, u2.uid, domain.RoleCoHost)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.o.ChangeRole(u1.sid, u2.uid, domain.RoleHost)
	assert.ErrorIs(t, err, domain.ErrInvalidRole)
	_, err = h.o.ChangeRole(u1.sid, u2.uid, "owner")
	assert.ErrorIs(t, err, domain.ErrInvalidRole)
}

func TestCloseRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, u3 := h.connect("u1"), h.connect("u2"), h.connect("u3")
	roomID := h.hostRoom(t, u1, true)
	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)
	require.NoError(t, h.o.Admit(ctx, u1.sid, u2.uid))
	_, err = h.o.Join(ctx, u3.sid, roomID)
	require.NoError(t, err)
	_, err = h.o.CreateTransport(ctx, u2.sid, sfu.DirectionSend)
	require.NoError(t, err)

	assert.ErrorIs(t, h.o.CloseRoom(u2.sid), domain.ErrForbidden)
	require.NoError(t, h.o.CloseRoom(u1.sid))

	assert.Equal(t, 1, u2.sig.count(EventRoomClosed))
	assert.Equal(t, 1, u3.sig.count(EventRoomClosed), "waiting users are told too")
	assert.Zero(t, u1.sig.count(EventRoomClosed))
	assert.Zero(t, h.o.Media.Transports.Len())
	_, ok := h.o.Media.Routers.Get(roomID)
	assert.False(t, ok)
	_, ok = h.o.Rooms.GetRoom(roomID)
	assert.False(t, ok)

	_, err = h.o.Join(ctx, u2.sid, roomID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestStateMutationsBroadcast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, false)
	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)

	p, err := h.o.SetHandRaised(u2.sid, true)
	require.NoError(t, err)
	assert.True(t, p.HandRaised)
	_, err = h.o.SetReaction(u2.sid, "👍")
	require.NoError(t, err)
	_, err = h.o.SetMediaState(u2.sid, true, false)
	require.NoError(t, err)
	muted, err := h.o.MuteAll(u1.sid)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{u2.uid}, muted)
	_, err = h.o.MuteAll(u2.sid)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	assert.Equal(t,
		[]string{EventHandRaised, EventReaction, EventMediaStateChanged},
		u1.sig.types()[1:],
		"u1 saw u2 join first")
	assert.Equal(t, 1, u2.sig.count(EventAllMuted))
}

func TestRenameInRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, false)
	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)

	user, err := h.o.Rename(u2.sid, "  Alice ")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Username)
	p, _ := h.room(t, roomID).Participant(u2.uid)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, 1, u1.sig.count(EventParticipantUpdated))

	_, err = h.o.Rename(u2.sid, "   ")
	assert.ErrorIs(t, err, domain.ErrUsernameEmpty)
}

func TestDisconnectWhileWaiting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, true)
	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)
	before := u1.sig.count(EventWaitingListUpdated)

	h.o.OnDisconnect(u2.sid, u2.sig)

	assert.Empty(t, h.room(t, roomID).Waiting())
	assert.Equal(t, before+1, u1.sig.count(EventWaitingListUpdated))
	_, ok := h.o.Registry.GetSession(u2.sid)
	assert.False(t, ok)
}

func TestReconnectReplacesConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	roomID := h.hostRoom(t, u1, false)
	_, err := h.o.Join(ctx, u2.sid, roomID)
	require.NoError(t, err)

	again := h.connect("u2")
	assert.True(t, u2.canceled.Load(), "old endpoint is cancelled")
	st, _ := h.room(t, roomID).StateOf(u2.uid)
	assert.Equal(t, domain.StateLeft, st)

	_, err = h.o.Join(ctx, again.sid, roomID)
	require.NoError(t, err)

	h.o.OnDisconnect(u2.sid, u2.sig)
	st, _ = h.room(t, roomID).StateOf(u2.uid)
	assert.Equal(t, domain.StateActive, st, "stale disconnect must not remove the new connection")
	assert.True(t, h.o.Registry.IsCurrent(again.sid, again.sig))
}

func TestJoiningAnotherRoomLeavesTheFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.connect("u1"), h.connect("u2")
	first := h.hostRoom(t, u1, false)
	second := h.o.CreateRoom(u2.sid, "other", nil)

	_, err := h.o.Join(ctx, u2.sid, first)
	require.NoError(t, err)
	res, err := h.o.Join(ctx, u2.sid, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, res.State, "creator is host of the second room")

	st, _ := h.room(t, first).StateOf(u2.uid)
	assert.Equal(t, domain.StateLeft, st)
	roomID, _, _ := h.o.Registry.RoomOf(u2.sid)
	assert.Equal(t, second.ID, roomID)
}

func TestJoinRateLimited(t *testing.T) {
	h := newHarness(t)
	h.o.JoinLimiter = ratelimit.NewMemory(1, time.Minute)
	u1 := h.connect("u1")
	info := h.o.CreateRoom(u1.sid, "t", nil)

	_, err := h.o.Join(context.Background(), u1.sid, info.ID)
	require.NoError(t, err)
	_, err = h.o.Join(context.Background(), u1.sid, info.ID)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestJoinUnknownRoom(t *testing.T) {
	h := newHarness(t)
	u1 := h.connect("u1")
	_, err := h.o.Join(context.Background(), u1.sid, "nope")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestJoinRolledBackWithoutWorkers(t *testing.T) {
	h := newHarness(t)
	u1 := h.connect("u1")
	info := h.o.CreateRoom(u1.sid, "t", nil)
	for _, w := range h.engine.Workers() {
		w.Kill(errors.New("gone"))
	}

	_, err := h.o.Join(context.Background(), u1.sid, info.ID)
	require.ErrorIs(t, err, domain.ErrNoWorkersAvailable)
	st, _ := h.room(t, info.ID).StateOf(u1.uid)
	assert.Equal(t, domain.StateLeft, st)
	_, _, ok := h.o.Registry.RoomOf(u1.sid)
	assert.False(t, ok)
}

func TestBackpressureDropsSlowMember(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	u1 := h.connect("u1")
	roomID := h.hostRoom(t, u1, false)

	slow := mocks.NewMockSignalConnection(ctrl)
	slow.EXPECT().TrySend(gomock.Any()).Return(errors.New("queue full")).AnyTimes()
	var canceled atomic.Bool
	h.o.Connect("u2", slow, func() { canceled.Store(true) })
	_, err := h.o.Join(ctx, "u2", roomID)
	require.NoError(t, err)

	_, err = h.o.SetHandRaised(u1.sid, true)
	require.NoError(t, err)
	assert.True(t, canceled.Load())
}
