package domain

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dkeye/Conference/internal/media"
	"github.com/stretchr/testify/assert"
)

func TestNewRoomTruncatesTitleOnRuneBoundary(t *testing.T) {
	r := NewRoom(strings.Repeat("a", MaxRoomTitleLen-1)+"é", "host", false)
	assert.True(t, utf8.ValidString(r.Title))
	assert.Equal(t, strings.Repeat("a", MaxRoomTitleLen-1), r.Title)

	r = NewRoom("  "+strings.Repeat("b", MaxRoomTitleLen+10)+"  ", "host", false)
	assert.Len(t, r.Title, MaxRoomTitleLen)
}

func TestKickedIsTerminal(t *testing.T) {
	assert.True(t, CanTransition(StateLeft, StateRequesting))
	assert.False(t, CanTransition(StateKicked, StateRequesting))
	assert.False(t, CanTransition(StateKicked, StateActive))
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{ErrRouterNotFound, "ROUTER_NOT_FOUND"},
		{fmt.Errorf("join: %w", ErrAdmissionDenied), "ADMISSION_DENIED"},
		{fmt.Errorf("produce: %w", media.ErrInvalidRtpParameters), "BAD_PAYLOAD"},
		{media.ErrUnsupportedCodec, "BAD_PAYLOAD"},
		{media.ErrMissingIceParameters, "BAD_PAYLOAD"},
		{media.ErrAlreadyConnected, "ALREADY_CONNECTED"},
		{media.ErrCannotConsume, "INCOMPATIBLE_CAPABILITIES"},
		{fmt.Errorf("boom"), "INTERNAL"},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, Code(c.err), c.err.Error())
	}
}
