package media

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool { return k == KindAudio || k == KindVideo }

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RtpCodecCapability struct {
	Kind                 Kind           `json:"kind" mapstructure:"kind"`
	MimeType             string         `json:"mimeType" mapstructure:"mime_type"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty" mapstructure:"payload_type"`
	ClockRate            uint32         `json:"clockRate" mapstructure:"clock_rate"`
	Channels             uint16         `json:"channels,omitempty" mapstructure:"channels"`
	Parameters           map[string]any `json:"parameters,omitempty" mapstructure:"parameters"`
	RtcpFeedback         []RtcpFeedback `json:"rtcpFeedback,omitempty" mapstructure:"rtcp_feedback"`
}

type RtpCapabilities struct {
	Codecs []RtpCodecCapability `json:"codecs"`
}

type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpEncodingParameters struct {
	Ssrc uint32 `json:"ssrc,omitempty"`
}

type RtpParameters struct {
	Mid       string                  `json:"mid,omitempty"`
	Codecs    []RtpCodecParameters    `json:"codecs"`
	Encodings []RtpEncodingParameters `json:"encodings,omitempty"`
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TcpType    string `json:"tcpType,omitempty"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

type DtlsState string

const (
	DtlsNew        DtlsState = "new"
	DtlsConnecting DtlsState = "connecting"
	DtlsConnected  DtlsState = "connected"
	DtlsFailed     DtlsState = "failed"
	DtlsClosed     DtlsState = "closed"
)

type WebRtcTransportOptions struct {
	EnableUdp bool
	EnableTcp bool
	PreferUdp bool
	AppData   map[string]any
}

// ConnectParams is what the client sends back to finish the handshake.
// ICE parameters are optional for engines running ICE-lite without
// credential checks.
type ConnectParams struct {
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
	IceParameters  *IceParameters `json:"iceParameters,omitempty"`
	IceCandidates  []IceCandidate `json:"iceCandidates,omitempty"`
}

type ProducerOptions struct {
	Kind          Kind
	RtpParameters RtpParameters
	AppData       map[string]any
}

type ConsumerOptions struct {
	ProducerID      string
	RtpCapabilities RtpCapabilities
	Paused          bool
}
