// Package rtc wraps pion WebRTC peer connections into a small transport
// surface: one ordered reliable data channel for commands plus outgoing
// media tracks. A Peer instance covers exactly one transport attempt;
// renegotiation swaps in a fresh Peer while the logical session survives.
package rtc

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

var ErrNoChannel = errors.New("no data channel")

type Decoder func(data string, obj any) error

type Peer struct {
	api  *ApiFactory
	conn *webrtc.PeerConnection
	log  *logger.Logger

	// OnMessage is called for every inbound data channel message.
	OnMessage func(data []byte)
	// OnOpen fires once the data channel is usable in both directions.
	OnOpen func()
	// OnDrop fires when the transport is impaired but maybe recoverable.
	OnDrop func()
	// OnRecover fires when ICE comes back after a drop. Fires on the
	// initial connect too, before the data channel opens.
	OnRecover func()
	// OnFail fires when the transport is gone for good.
	OnFail func()
	// OnTrack surfaces inbound media to the media bridge.
	OnTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

	a *webrtc.TrackLocalStaticSample
	v *webrtc.TrackLocalStaticSample
	d *webrtc.DataChannel

	mu sync.Mutex
}

var samplePool sync.Pool

func New(log *logger.Logger, api *ApiFactory) *Peer { return &Peer{api: api, log: log} }

// NewCall starts an outgoing call with media tracks and the data
// channel plugged in, and returns the SDP offer. The media provider
// (the robot) is the offerer.
func (p *Peer) NewCall(vCodec, aCodec string, onICECandidate func(ice any)) (sdp any, err error) {
	if p.conn, err = p.api.NewPeer(); err != nil {
		return
	}
	p.log.Debug().Msg("WebRTC start")
	p.conn.OnICECandidate(p.handleICECandidate(onICECandidate))
	p.conn.OnICEConnectionStateChange(p.handleICEState())

	video, err := newTrack("video", "camera", vCodec)
	if err != nil {
		return "", err
	}
	vs, err := p.conn.AddTrack(video)
	if err != nil {
		return "", err
	}
	go drainRTCP(vs)
	p.v = video
	p.log.Debug().Msgf("Added [%s] track", video.Codec().MimeType)

	audio, err := newTrack("audio", "mic", aCodec)
	if err != nil {
		return "", err
	}
	as, err := p.conn.AddTrack(audio)
	if err != nil {
		return "", err
	}
	go drainRTCP(as)
	p.a = audio
	p.log.Debug().Msgf("Added [%s] track", audio.Codec().MimeType)

	ch, err := p.conn.CreateDataChannel("commands", nil)
	if err != nil {
		return "", err
	}
	p.bindDataChannel(ch)
	p.log.Debug().Msg("Added [commands] chan")

	offer, err := p.conn.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err = p.conn.SetLocalDescription(offer); err != nil {
		return "", err
	}
	p.log.Debug().Msg("Created Offer")
	return offer, nil
}

// AnswerCall joins an incoming call: applies the remote offer and
// returns the SDP answer. The data channel and tracks arrive from the
// remote side.
func (p *Peer) AnswerCall(offer string, decoder Decoder, onICECandidate func(ice any)) (sdp any, err error) {
	if p.conn, err = p.api.NewPeer(); err != nil {
		return
	}
	p.log.Debug().Msg("WebRTC start (answer)")
	p.conn.OnICECandidate(p.handleICECandidate(onICECandidate))
	p.conn.OnICEConnectionStateChange(p.handleICEState())
	p.conn.OnDataChannel(func(ch *webrtc.DataChannel) { p.bindDataChannel(ch) })
	p.conn.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.log.Debug().Msgf("Got [%s] track", track.Codec().MimeType)
		if p.OnTrack != nil {
			p.OnTrack(track, receiver)
		}
	})

	var remote webrtc.SessionDescription
	if err = decoder(offer, &remote); err != nil {
		return "", err
	}
	if err = p.conn.SetRemoteDescription(remote); err != nil {
		return "", err
	}
	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err = p.conn.SetLocalDescription(answer); err != nil {
		return "", err
	}
	p.log.Debug().Msg("Created Answer")
	return answer, nil
}

func (p *Peer) SendData(data []byte) error {
	p.mu.Lock()
	ch := p.d
	p.mu.Unlock()
	if ch == nil {
		return ErrNoChannel
	}
	return ch.Send(data)
}

func (p *Peer) WriteVideo(data []byte, dur time.Duration) error { return p.write(p.v, data, dur) }
func (p *Peer) WriteAudio(data []byte, dur time.Duration) error { return p.write(p.a, data, dur) }

func (p *Peer) write(track *webrtc.TrackLocalStaticSample, data []byte, dur time.Duration) error {
	if track == nil {
		return ErrNoChannel
	}
	sample, _ := samplePool.Get().(*media.Sample)
	if sample == nil {
		sample = new(media.Sample)
	}
	sample.Data = data
	sample.Duration = dur
	err := track.WriteSample(*sample)
	samplePool.Put(sample)
	return err
}

// SetRemoteSDP applies the other side's description (the answer, on
// the offerer's side).
func (p *Peer) SetRemoteSDP(sdp string, decoder Decoder) error {
	var desc webrtc.SessionDescription
	if err := decoder(sdp, &desc); err != nil {
		return err
	}
	if err := p.conn.SetRemoteDescription(desc); err != nil {
		p.log.Error().Err(err).Msg("Set remote description from peer failed")
		return err
	}
	p.log.Debug().Msg("Set Remote Description")
	return nil
}

func (p *Peer) AddCandidate(candidate string, decoder Decoder) error {
	var iceCandidate webrtc.ICECandidateInit
	if err := decoder(candidate, &iceCandidate); err != nil {
		return err
	}
	if err := p.conn.AddICECandidate(iceCandidate); err != nil {
		return err
	}
	p.log.Debug().Str("candidate", iceCandidate.Candidate).Msg("Ice")
	return nil
}

func (p *Peer) Disconnect() {
	if p.conn == nil {
		return
	}
	if p.conn.ConnectionState() < webrtc.PeerConnectionStateDisconnected {
		// ignore this due to DTLS fatal: conn is closed
		_ = p.conn.Close()
	}
	p.log.Debug().Msg("WebRTC stop")
}

func (p *Peer) bindDataChannel(ch *webrtc.DataChannel) {
	p.mu.Lock()
	p.d = ch
	p.mu.Unlock()
	ch.OnOpen(func() {
		p.log.Debug().Str("label", ch.Label()).Msg("Data channel opened")
		if p.OnOpen != nil {
			p.OnOpen()
		}
	})
	ch.OnError(func(err error) { p.log.Error().Err(err).Msg("data chan fail") })
	ch.OnMessage(func(m webrtc.DataChannelMessage) {
		if len(m.Data) == 0 {
			return
		}
		if p.OnMessage != nil {
			p.OnMessage(m.Data)
		}
	})
	ch.OnClose(func() { p.log.Debug().Msg("Data channel has been closed") })
}

func (p *Peer) handleICECandidate(callback func(any)) func(*webrtc.ICECandidate) {
	return func(ice *webrtc.ICECandidate) {
		// ICE gathering finish condition
		if ice == nil {
			callback(nil)
			p.log.Debug().Msg("ICE gathering was complete probably")
			return
		}
		candidate := ice.ToJSON()
		p.log.Debug().Str("candidate", candidate.Candidate).Msg("ICE")
		callback(&candidate)
	}
}

func (p *Peer) handleICEState() func(webrtc.ICEConnectionState) {
	return func(state webrtc.ICEConnectionState) {
		p.log.Debug().Str(".state", state.String()).Msg("ICE")
		switch state {
		case webrtc.ICEConnectionStateChecking:
			// nothing
		case webrtc.ICEConnectionStateConnected:
			// the data channel open is the real start signal, but a
			// reconnect after a blip never re-fires it
			if p.OnRecover != nil {
				p.OnRecover()
			}
		case webrtc.ICEConnectionStateDisconnected:
			if p.OnDrop != nil {
				p.OnDrop()
			}
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			p.log.Debug().Msgf("WebRTC connection fail! connection: %v, ice: %v, gathering: %v, signalling: %v",
				p.conn.ConnectionState(), p.conn.ICEConnectionState(), p.conn.ICEGatheringState(),
				p.conn.SignalingState())
			if p.OnFail != nil {
				p.OnFail()
			}
		default:
			p.log.Debug().Msg("ICE state is not handled!")
		}
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	rtcpBuf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(rtcpBuf); err != nil {
			return
		}
	}
}

func newTrack(id string, label string, codec string) (*webrtc.TrackLocalStaticSample, error) {
	codec = strings.ToLower(codec)
	var mime string
	switch id {
	case "audio":
		switch codec {
		case "opus":
			mime = webrtc.MimeTypeOpus
		}
	case "video":
		switch codec {
		case "h264":
			mime = webrtc.MimeTypeH264
		case "vpx", "vp8":
			mime = webrtc.MimeTypeVP8
		case "vp9":
			mime = webrtc.MimeTypeVP9
		}
	}
	if mime == "" {
		return nil, fmt.Errorf("unsupported codec %s:%s", id, codec)
	}
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, label)
}
