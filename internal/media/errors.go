package media

import "errors"

var (
	ErrClosed               = errors.New("media: object closed")
	ErrAlreadyConnected     = errors.New("media: transport already connected")
	ErrMissingIceParameters = errors.New("media: missing ice parameters")
	ErrInvalidRtpParameters = errors.New("media: invalid rtp parameters")
	ErrUnsupportedCodec     = errors.New("media: codec not supported by router")
	ErrUnknownProducer      = errors.New("media: unknown producer")
	ErrCannotConsume        = errors.New("media: cannot consume")
)
