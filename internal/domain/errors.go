package domain

import (
	"errors"

	"github.com/dkeye/Conference/internal/media"
)

var (
	ErrNoWorkersAvailable       = errors.New("no workers available")
	ErrRouterNotFound           = errors.New("router not found")
	ErrTransportNotFound        = errors.New("transport not found")
	ErrProducerNotFound         = errors.New("producer not found")
	ErrConsumerNotFound         = errors.New("consumer not found")
	ErrInvalidDirection         = errors.New("invalid transport direction")
	ErrIncompatibleCapabilities = errors.New("incompatible rtp capabilities")
	ErrAdmissionDenied          = errors.New("admission denied")

	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomClosed        = errors.New("room closed")
	ErrNotInRoom         = errors.New("not in room")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid participant transition")
	ErrInvalidRole       = errors.New("invalid role")
	ErrRateLimited       = errors.New("rate limited")
	ErrBadPayload        = errors.New("bad payload")
	ErrSessionNotFound   = errors.New("session not found")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNoWorkersAvailable, "NO_WORKERS_AVAILABLE"},
	{ErrRouterNotFound, "ROUTER_NOT_FOUND"},
	{ErrTransportNotFound, "TRANSPORT_NOT_FOUND"},
	{ErrProducerNotFound, "PRODUCER_NOT_FOUND"},
	{ErrConsumerNotFound, "CONSUMER_NOT_FOUND"},
	{ErrInvalidDirection, "INVALID_DIRECTION"},
	{ErrIncompatibleCapabilities, "INCOMPATIBLE_CAPABILITIES"},
	{ErrAdmissionDenied, "ADMISSION_DENIED"},
	{ErrRoomNotFound, "ROOM_NOT_FOUND"},
	{ErrRoomClosed, "ROOM_CLOSED"},
	{ErrNotInRoom, "NOT_IN_ROOM"},
	{ErrForbidden, "FORBIDDEN"},
	{ErrInvalidTransition, "INVALID_TRANSITION"},
	{ErrInvalidRole, "INVALID_ROLE"},
	{ErrRateLimited, "RATE_LIMITED"},
	{ErrBadPayload, "BAD_PAYLOAD"},
	{ErrSessionNotFound, "SESSION_NOT_FOUND"},
	{ErrUsernameEmpty, "BAD_PAYLOAD"},
	{ErrUsernameTooLong, "BAD_PAYLOAD"},

	// engine errors caused by what the client sent
	{media.ErrInvalidRtpParameters, "BAD_PAYLOAD"},
	{media.ErrUnsupportedCodec, "BAD_PAYLOAD"},
	{media.ErrMissingIceParameters, "BAD_PAYLOAD"},
	{media.ErrAlreadyConnected, "ALREADY_CONNECTED"},
	{media.ErrUnknownProducer, "PRODUCER_NOT_FOUND"},
	{media.ErrCannotConsume, "INCOMPATIBLE_CAPABILITIES"},
}

// Code maps an error to its wire code.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}
