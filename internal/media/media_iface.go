// Package media defines the narrow capability contract the orchestrator needs
// from an SFU media engine. Engines must fire close observers synchronously
// from inside the call that caused the close, so registries observing them are
// consistent by the time that call returns. OnClose on an object that is
// already closed runs the callback immediately.
package media

import "context"

type Engine interface {
	CreateWorker(ctx context.Context) (Worker, error)
}

type Worker interface {
	ID() string
	CreateRouter(ctx context.Context, codecs []RtpCodecCapability) (Router, error)
	// OnDied registers a callback for unexpected termination. It is not
	// called for Close().
	OnDied(func(error))
	Close()
	Closed() bool
}

type Router interface {
	ID() string
	WorkerID() string
	RtpCapabilities() RtpCapabilities
	CreateWebRtcTransport(ctx context.Context, opts WebRtcTransportOptions) (Transport, error)
	CanConsume(producerID string, caps RtpCapabilities) bool
	Close()
	Closed() bool
}

type Transport interface {
	ID() string
	IceParameters() IceParameters
	IceCandidates() []IceCandidate
	DtlsParameters() DtlsParameters
	Connect(ctx context.Context, params ConnectParams) error
	Produce(ctx context.Context, opts ProducerOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumerOptions) (Consumer, error)
	OnDtlsStateChange(func(DtlsState))
	OnClose(func())
	Close()
	Closed() bool
}

type Producer interface {
	ID() string
	Kind() Kind
	RtpParameters() RtpParameters
	Paused() bool
	Pause() error
	Resume() error
	OnClose(func())
	Close()
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	RtpParameters() RtpParameters
	Paused() bool
	Pause() error
	Resume() error
	OnClose(func())
	Close()
}
