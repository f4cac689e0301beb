package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
)

func (ctl *SignalWSController) handleCreateTransport(ctx context.Context, sid core.SessionID, data []byte) (sfu.TransportParams, error) {
	var p struct {
		Direction sfu.Direction `json:"direction"`
	}
	if err := decode(data, &p); err != nil {
		return sfu.TransportParams{}, err
	}
	if !p.Direction.Valid() {
		return sfu.TransportParams{}, fmt.Errorf("%w: direction %q", domain.ErrBadPayload, p.Direction)
	}
	return ctl.Orch.CreateTransport(ctx, sid, p.Direction)
}

func (ctl *SignalWSController) handleConnectTransport(ctx context.Context, sid core.SessionID, data []byte) error {
	var p struct {
		TransportID string `json:"transportId"`
		media.ConnectParams
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.ConnectTransport(ctx, sid, p.TransportID, p.ConnectParams)
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, sid core.SessionID, data []byte) (any, error) {
	var p struct {
		TransportID   string              `json:"transportId"`
		Kind          media.Kind          `json:"kind"`
		RtpParameters media.RtpParameters `json:"rtpParameters"`
		AppData       map[string]any      `json:"appData,omitempty"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	info, err := ctl.Orch.Produce(ctx, sid, p.TransportID, p.Kind, p.RtpParameters, p.AppData)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": info.ID}, nil
}

func (ctl *SignalWSController) handleConsume(ctx context.Context, sid core.SessionID, data []byte) (sfu.ConsumerInfo, error) {
	var p struct {
		TransportID     string                `json:"transportId"`
		ProducerID      string                `json:"producerId"`
		RtpCapabilities media.RtpCapabilities `json:"rtpCapabilities"`
	}
	if err := decode(data, &p); err != nil {
		return sfu.ConsumerInfo{}, err
	}
	return ctl.Orch.Consume(ctx, sid, p.TransportID, p.ProducerID, p.RtpCapabilities)
}

func (ctl *SignalWSController) withProducer(data []byte, fn func(string) error) error {
	var p struct {
		ProducerID string `json:"producerId"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return fn(p.ProducerID)
}

func (ctl *SignalWSController) withConsumer(data []byte, fn func(string) error) error {
	var p struct {
		ConsumerID string `json:"consumerId"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return fn(p.ConsumerID)
}
