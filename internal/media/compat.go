package media

import (
	"fmt"
	"strings"
)

const firstDynamicPayloadType = 100

// NewRtpCapabilities returns the router capability set for the configured
// codecs, assigning dynamic payload types where none was configured.
func NewRtpCapabilities(codecs []RtpCodecCapability) RtpCapabilities {
	used := make(map[uint8]bool, len(codecs))
	for _, c := range codecs {
		if c.PreferredPayloadType != 0 {
			used[c.PreferredPayloadType] = true
		}
	}
	next := uint8(firstDynamicPayloadType)
	out := make([]RtpCodecCapability, 0, len(codecs))
	for _, c := range codecs {
		if c.PreferredPayloadType == 0 {
			for used[next] {
				next++
			}
			c.PreferredPayloadType = next
			used[next] = true
		}
		if c.Kind == "" {
			c.Kind = KindFromMime(c.MimeType)
		}
		out = append(out, c)
	}
	return RtpCapabilities{Codecs: out}
}

func KindFromMime(mime string) Kind {
	if strings.HasPrefix(strings.ToLower(mime), "video/") {
		return KindVideo
	}
	return KindAudio
}

// CanConsume reports whether a peer declaring caps can decode a producer
// sending with params.
func CanConsume(params RtpParameters, caps RtpCapabilities) bool {
	_, ok := MatchingCodec(params, caps)
	return ok
}

// MatchingCodec returns the first capability codec able to decode the
// producer's primary codec.
func MatchingCodec(params RtpParameters, caps RtpCapabilities) (RtpCodecCapability, bool) {
	if len(params.Codecs) == 0 {
		return RtpCodecCapability{}, false
	}
	primary := params.Codecs[0]
	for _, c := range caps.Codecs {
		if codecsMatch(primary, c) {
			return c, true
		}
	}
	return RtpCodecCapability{}, false
}

func codecsMatch(p RtpCodecParameters, c RtpCodecCapability) bool {
	if !strings.EqualFold(p.MimeType, c.MimeType) || p.ClockRate != c.ClockRate {
		return false
	}
	if KindFromMime(p.MimeType) == KindAudio && channels(p.Channels) != channels(c.Channels) {
		return false
	}
	if strings.EqualFold(p.MimeType, "video/h264") {
		if param(p.Parameters, "packetization-mode", "0") != param(c.Parameters, "packetization-mode", "0") {
			return false
		}
		if h264Profile(p.Parameters) != h264Profile(c.Parameters) {
			return false
		}
	}
	return true
}

func channels(n uint16) uint16 {
	if n == 0 {
		return 1
	}
	return n
}

func param(m map[string]any, key, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	return strings.ToLower(fmt.Sprint(v))
}

// h264Profile returns the profile_idc byte of profile-level-id.
func h264Profile(m map[string]any) string {
	plid := param(m, "profile-level-id", "42001f")
	if len(plid) < 2 {
		return plid
	}
	return plid[:2]
}

// ValidateProducerParameters checks that a producer can be received by a
// router advertising caps.
func ValidateProducerParameters(params RtpParameters, caps RtpCapabilities) error {
	if len(params.Codecs) == 0 {
		return fmt.Errorf("%w: no codecs", ErrInvalidRtpParameters)
	}
	if len(params.Encodings) == 0 || params.Encodings[0].Ssrc == 0 {
		return fmt.Errorf("%w: missing encoding ssrc", ErrInvalidRtpParameters)
	}
	primary := params.Codecs[0]
	for _, c := range caps.Codecs {
		if codecsMatch(primary, c) && c.PreferredPayloadType == primary.PayloadType {
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%d", ErrUnsupportedCodec, primary.MimeType, primary.PayloadType)
}

// ConsumerRtpParameters builds the parameters a consumer sends with: the
// router's codec matching the producer and one encoding with ssrc.
func ConsumerRtpParameters(producer RtpParameters, routerCaps, peerCaps RtpCapabilities, ssrc uint32) (RtpParameters, error) {
	if !CanConsume(producer, peerCaps) {
		return RtpParameters{}, ErrCannotConsume
	}
	codec, ok := MatchingCodec(producer, routerCaps)
	if !ok {
		return RtpParameters{}, ErrUnsupportedCodec
	}
	return RtpParameters{
		Codecs: []RtpCodecParameters{{
			MimeType:     codec.MimeType,
			PayloadType:  codec.PreferredPayloadType,
			ClockRate:    codec.ClockRate,
			Channels:     codec.Channels,
			Parameters:   codec.Parameters,
			RtcpFeedback: codec.RtcpFeedback,
		}},
		Encodings: []RtpEncodingParameters{{Ssrc: ssrc}},
	}, nil
}
