package pionengine

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type trackState int32

const (
	trackOk trackState = iota
	trackMuted
	trackDelete
)

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
}

// outTrack is one consumer's end of a producer relay.
type outTrack struct {
	w     rtpWriter
	state atomic.Int32
}

func newOutTrack(w rtpWriter, paused bool) *outTrack {
	ot := &outTrack{w: w}
	if paused {
		ot.markMuted()
	}
	return ot
}

func (ot *outTrack) getState() trackState { return trackState(ot.state.Load()) }

// markOk and markMuted never revive a deleted track.
func (ot *outTrack) markOk()     { ot.state.CompareAndSwap(int32(trackMuted), int32(trackOk)) }
func (ot *outTrack) markMuted()  { ot.state.CompareAndSwap(int32(trackOk), int32(trackMuted)) }
func (ot *outTrack) markDelete() { ot.state.Store(int32(trackDelete)) }
