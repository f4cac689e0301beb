package pionengine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/webrtc/v4"
)

func codecType(k media.Kind) webrtc.RTPCodecType {
	if k == media.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func toPionCodec(c media.RtpCodecCapability) webrtc.RTPCodecParameters {
	fb := make([]webrtc.RTCPFeedback, 0, len(c.RtcpFeedback))
	for _, f := range c.RtcpFeedback {
		fb = append(fb, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  fmtpLine(c.Parameters),
			RTCPFeedback: fb,
		},
		PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
	}
}

// fmtpLine renders codec parameters as an a=fmtp value with sorted keys.
func fmtpLine(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ";")
}

func fromPionCandidate(c webrtc.ICECandidate) media.IceCandidate {
	return media.IceCandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		Address:    c.Address,
		Protocol:   c.Protocol.String(),
		Port:       c.Port,
		Type:       c.Typ.String(),
		TcpType:    c.TCPType,
	}
}

func toPionCandidate(c media.IceCandidate) (webrtc.ICECandidate, error) {
	proto, err := webrtc.NewICEProtocol(c.Protocol)
	if err != nil {
		return webrtc.ICECandidate{}, err
	}
	typ, err := webrtc.NewICECandidateType(c.Type)
	if err != nil {
		return webrtc.ICECandidate{}, err
	}
	return webrtc.ICECandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		Address:    c.Address,
		Protocol:   proto,
		Port:       c.Port,
		Typ:        typ,
		Component:  1,
		TCPType:    c.TcpType,
	}, nil
}

// filterCandidates drops candidate protocols the transport was not asked for
// and puts UDP first when preferred.
func filterCandidates(in []media.IceCandidate, opts media.WebRtcTransportOptions) []media.IceCandidate {
	out := make([]media.IceCandidate, 0, len(in))
	for _, c := range in {
		switch strings.ToLower(c.Protocol) {
		case "udp":
			if opts.EnableUdp {
				out = append(out, c)
			}
		case "tcp":
			if opts.EnableTcp {
				out = append(out, c)
			}
		}
	}
	if opts.PreferUdp {
		sort.SliceStable(out, func(i, j int) bool {
			return strings.EqualFold(out[i].Protocol, "udp") && !strings.EqualFold(out[j].Protocol, "udp")
		})
	}
	return out
}

func fromPionDtls(p webrtc.DTLSParameters) media.DtlsParameters {
	fps := make([]media.DtlsFingerprint, 0, len(p.Fingerprints))
	for _, f := range p.Fingerprints {
		fps = append(fps, media.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return media.DtlsParameters{Role: p.Role.String(), Fingerprints: fps}
}

func toPionDtls(p media.DtlsParameters) webrtc.DTLSParameters {
	role := webrtc.DTLSRoleAuto
	switch strings.ToLower(p.Role) {
	case "client":
		role = webrtc.DTLSRoleClient
	case "server":
		role = webrtc.DTLSRoleServer
	}
	fps := make([]webrtc.DTLSFingerprint, 0, len(p.Fingerprints))
	for _, f := range p.Fingerprints {
		fps = append(fps, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return webrtc.DTLSParameters{Role: role, Fingerprints: fps}
}

func dtlsState(s webrtc.DTLSTransportState) media.DtlsState {
	switch s {
	case webrtc.DTLSTransportStateConnecting:
		return media.DtlsConnecting
	case webrtc.DTLSTransportStateConnected:
		return media.DtlsConnected
	case webrtc.DTLSTransportStateFailed:
		return media.DtlsFailed
	case webrtc.DTLSTransportStateClosed:
		return media.DtlsClosed
	default:
		return media.DtlsNew
	}
}
