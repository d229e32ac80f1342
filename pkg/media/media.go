// Package media moves opaque audio/video frames over an established
// transport. Encoding happens elsewhere: upstream producers push
// already-encoded samples in, downstream consumers take raw payloads
// out.
package media

import (
	"time"

	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/pion/webrtc/v3"
)

// Frame is one encoded media sample.
type Frame struct {
	Data     []byte
	Duration time.Duration
}

// Transport is the outbound side of a negotiated peer connection.
type Transport interface {
	WriteVideo(data []byte, dur time.Duration) error
	WriteAudio(data []byte, dur time.Duration) error
}

// Bridge pumps frames from the producer channels into a transport.
// Both channels are owned by the producer; the bridge stops when they
// close or when Stop is called.
type Bridge struct {
	Video chan Frame
	Audio chan Frame

	log  *logger.Logger
	done chan struct{}
}

func NewBridge(log *logger.Logger) *Bridge {
	return &Bridge{
		Video: make(chan Frame, 30),
		Audio: make(chan Frame, 30),
		log:   log,
		done:  make(chan struct{}),
	}
}

// Pump streams both channels into the transport until Stop.
// Write errors skip the frame; the session layer decides when the
// transport is actually gone.
func (b *Bridge) Pump(t Transport) {
	go b.pump(b.Video, t.WriteVideo)
	go b.pump(b.Audio, t.WriteAudio)
}

func (b *Bridge) pump(frames chan Frame, write func([]byte, time.Duration) error) {
	for {
		select {
		case <-b.done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := write(frame.Data, frame.Duration); err != nil {
				b.log.Debug().Err(err).Msg("frame dropped")
			}
		}
	}
}

func (b *Bridge) Stop() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

// SinkFunc consumes a raw inbound media payload of the given kind
// (audio or video).
type SinkFunc func(kind string, payload []byte)

// ConsumeTrack drains a remote track into the sink until the track
// ends. Blocking, must be called as goroutine.
func ConsumeTrack(track *webrtc.TrackRemote, sink SinkFunc, log *logger.Logger) {
	kind := track.Kind().String()
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			log.Debug().Err(err).Msgf("[%s] track has ended", kind)
			return
		}
		if sink != nil {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			sink(kind, payload)
		}
	}
}
