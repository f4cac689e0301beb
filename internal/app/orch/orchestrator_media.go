package orch

import (
	"context"

	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
)

// Every media operation requires an ACTIVE caller, and ids that belong to
// somebody else are reported as not found.

func (o *Orchestrator) RouterCapabilities(sid core.SessionID) (media.RtpCapabilities, error) {
	room, _, err := o.activeRoom(sid)
	if err != nil {
		return media.RtpCapabilities{}, err
	}
	return o.Media.Routers.Capabilities(room.Room().ID)
}

func (o *Orchestrator) CreateTransport(ctx context.Context, sid core.SessionID, dir sfu.Direction) (sfu.TransportParams, error) {
	room, uid, err := o.activeRoom(sid)
	if err != nil {
		return sfu.TransportParams{}, err
	}
	roomID := room.Room().ID
	tp, err := o.Media.Transports.Create(ctx, roomID, uid, dir)
	if err != nil {
		return sfu.TransportParams{}, err
	}
	// The transport is registered before this check and CleanupUser runs
	// after the state change, so a leave or kick during creation is caught
	// by one side or the other.
	if st, _ := room.StateOf(uid); st != domain.StateActive {
		o.Media.Transports.Close(tp.ID)
		return sfu.TransportParams{}, domain.ErrNotInRoom
	}
	return tp, nil
}

func (o *Orchestrator) ownTransport(uid domain.UserID, id string) error {
	t, ok := o.Media.Transports.Get(id)
	if !ok || t.UserID != uid {
		return domain.ErrTransportNotFound
	}
	return nil
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, sid core.SessionID, transportID string, params media.ConnectParams) error {
	_, uid, err := o.activeRoom(sid)
	if err != nil {
		return err
	}
	if err := o.ownTransport(uid, transportID); err != nil {
		return err
	}
	return o.Media.Transports.Connect(ctx, transportID, params)
}

// Produce publishes a stream and announces it to the rest of the room.
func (o *Orchestrator) Produce(ctx context.Context, sid core.SessionID, transportID string, kind media.Kind, params media.RtpParameters, appData map[string]any) (sfu.ProducerInfo, error) {
	room, uid, err := o.activeRoom(sid)
	if err != nil {
		return sfu.ProducerInfo{}, err
	}
	if err := o.ownTransport(uid, transportID); err != nil {
		return sfu.ProducerInfo{}, err
	}
	p, err := o.Media.Streams.Produce(ctx, transportID, kind, params, appData)
	if err != nil {
		return sfu.ProducerInfo{}, err
	}
	o.broadcast(room, uid, EventNewProducer, p)
	return p, nil
}

func (o *Orchestrator) ownProducer(uid domain.UserID, id string) error {
	p, ok := o.Media.Streams.Producer(id)
	if !ok || p.UserID != uid {
		return domain.ErrProducerNotFound
	}
	return nil
}

// CloseProducer closes one of the caller's producers. Peers learn about it
// through the producer_closed notification.
func (o *Orchestrator) CloseProducer(sid core.SessionID, producerID string) error {
	_, uid, err := o.activeRoom(sid)
	if err != nil {
		return err
	}
	if err := o.ownProducer(uid, producerID); err != nil {
		return err
	}
	return o.Media.Streams.CloseProducer(producerID)
}

func (o *Orchestrator) PauseProducer(sid core.SessionID, producerID string) error {
	return o.setProducerPaused(sid, producerID, true)
}

func (o *Orchestrator) ResumeProducer(sid core.SessionID, producerID string) error {
	return o.setProducerPaused(sid, producerID, false)
}

func (o *Orchestrator) setProducerPaused(sid core.SessionID, producerID string, paused bool) error {
	room, uid, err := o.activeRoom(sid)
	if err != nil {
		return err
	}
	if err := o.ownProducer(uid, producerID); err != nil {
		return err
	}
	var (
		kind media.Kind
		ev   = EventProducerResumed
	)
	if paused {
		kind, err = o.Media.Streams.PauseProducer(producerID)
		ev = EventProducerPaused
	} else {
		kind, err = o.Media.Streams.ResumeProducer(producerID)
	}
	if err != nil {
		return err
	}
	o.broadcast(room, uid, ev, producerEvent{ProducerID: producerID, UserID: uid, Kind: string(kind)})
	return nil
}

// Consume subscribes the caller to a producer. The consumer starts paused.
func (o *Orchestrator) Consume(ctx context.Context, sid core.SessionID, transportID, producerID string, caps media.RtpCapabilities) (sfu.ConsumerInfo, error) {
	room, uid, err := o.activeRoom(sid)
	if err != nil {
		return sfu.ConsumerInfo{}, err
	}
	return o.Media.Streams.Consume(ctx, room.Room().ID, uid, transportID, producerID, caps)
}

func (o *Orchestrator) ownConsumer(uid domain.UserID, id string) error {
	c, ok := o.Media.Streams.Consumer(id)
	if !ok || c.UserID != uid {
		return domain.ErrConsumerNotFound
	}
	return nil
}

func (o *Orchestrator) ResumeConsumer(sid core.SessionID, consumerID string) error {
	_, uid, err := o.activeRoom(sid)
	if err != nil {
		return err
	}
	if err := o.ownConsumer(uid, consumerID); err != nil {
		return err
	}
	return o.Media.Streams.ResumeConsumer(consumerID)
}

func (o *Orchestrator) CloseConsumer(sid core.SessionID, consumerID string) error {
	_, uid, err := o.activeRoom(sid)
	if err != nil {
		return err
	}
	if err := o.ownConsumer(uid, consumerID); err != nil {
		return err
	}
	return o.Media.Streams.CloseConsumer(consumerID)
}
