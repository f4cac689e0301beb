package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.OnDisconnect(sid, c)
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(ctx, sid, c, data)
	}
}

type envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
}

type ack struct {
	Type      string `json:"type"`
	Request   string `json:"request"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type errorReply struct {
	Type      string `json:"type"`
	Request   string `json:"request,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

var errUnknownType = errors.New("unknown message type")

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c core.SignalConnection, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.replyError(c, env, fmt.Errorf("%w: %v", domain.ErrBadPayload, err))
		return
	}

	var (
		resp any
		err  error
	)
	switch env.Type {
	case "ping":
		ctl.handlePing(c, env)
		return
	case "whoami":
		resp = ctl.handleWhoAmI(sid)
	case "rename":
		resp, err = ctl.handleRename(sid, data)
	case "create_room":
		resp, err = ctl.createRoom(sid, data)
	case "join_room", "join_waiting_room":
		resp, err = ctl.handleJoin(ctx, sid, data)
	case "leave_room":
		err = ctl.Orch.Leave(sid)
	case "close_room":
		err = ctl.Orch.CloseRoom(sid)
	case "kick_user":
		err = ctl.withTarget(data, func(uid domain.UserID) error { return ctl.Orch.Kick(sid, uid) })
	case "admit":
		err = ctl.withTarget(data, func(uid domain.UserID) error { return ctl.Orch.Admit(ctx, sid, uid) })
	case "reject":
		err = ctl.withTarget(data, func(uid domain.UserID) error { return ctl.Orch.Reject(sid, uid) })
	case "admit_all":
		resp, err = ctl.handleAdmitAll(ctx, sid)
	case "mute_all":
		resp, err = ctl.handleMuteAll(sid)
	case "change_role":
		resp, err = ctl.handleChangeRole(sid, data)
	case "raise_hand":
		resp, err = ctl.handleRaiseHand(sid, data)
	case "send_reaction":
		resp, err = ctl.handleReaction(sid, data)
	case "update_media_state":
		resp, err = ctl.handleMediaState(sid, data)
	case "get_router_capabilities":
		resp, err = ctl.Orch.RouterCapabilities(sid)
	case "create_transport":
		resp, err = ctl.handleCreateTransport(ctx, sid, data)
	case "connect_transport":
		err = ctl.handleConnectTransport(ctx, sid, data)
	case "produce":
		resp, err = ctl.handleProduce(ctx, sid, data)
	case "close_producer":
		err = ctl.withProducer(data, func(id string) error { return ctl.Orch.CloseProducer(sid, id) })
	case "pause_producer":
		err = ctl.withProducer(data, func(id string) error { return ctl.Orch.PauseProducer(sid, id) })
	case "resume_producer":
		err = ctl.withProducer(data, func(id string) error { return ctl.Orch.ResumeProducer(sid, id) })
	case "consume":
		resp, err = ctl.handleConsume(ctx, sid, data)
	case "resume_consumer":
		err = ctl.withConsumer(data, func(id string) error { return ctl.Orch.ResumeConsumer(sid, id) })
	case "close_consumer":
		err = ctl.withConsumer(data, func(id string) error { return ctl.Orch.CloseConsumer(sid, id) })
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		err = fmt.Errorf("%w: %w %q", domain.ErrBadPayload, errUnknownType, env.Type)
	}

	if err != nil {
		ctl.replyError(c, env, err)
		return
	}
	ctl.sendJSON(c, ack{Type: "ack", Request: env.Type, RequestID: env.RequestID, Data: resp})
}

func (ctl *SignalWSController) replyError(c core.SignalConnection, env envelope, err error) {
	code := domain.Code(err)
	metrics.SignalErrors.WithLabelValues(code).Inc()
	log.Warn().Err(err).Str("module", "signal").Str("request", env.Type).Str("code", code).Msg("request failed")
	ctl.sendJSON(c, errorReply{
		Type:      "error",
		Request:   env.Type,
		RequestID: env.RequestID,
		Code:      code,
		Error:     err.Error(),
	})
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	return nil
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("sendJSON dropped")
	}
}
