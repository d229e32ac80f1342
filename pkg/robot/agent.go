package robot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/imngui/stretch-web-teleop/pkg/api"
	"github.com/imngui/stretch-web-teleop/pkg/command"
	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/imngui/stretch-web-teleop/pkg/media"
	"github.com/imngui/stretch-web-teleop/pkg/rtc"
	"github.com/imngui/stretch-web-teleop/pkg/session"
)

const (
	videoCodec     = "h264"
	audioCodec     = "opus"
	reconnectDelay = 3 * time.Second
)

var ErrNoSession = errors.New("no active session")

// Agent keeps the robot registered with the broker and serves at most
// one operator session at a time. The broker connection is replayed on
// loss; an in-flight peer session does not survive an agent restart.
type Agent struct {
	conf  config.RobotConfig
	log   *logger.Logger
	hw    Hardware
	ap    *rtc.ApiFactory
	media *media.Bridge

	mu      sync.Mutex
	current *live
	done    chan struct{}
	stopped sync.Once
}

// live is the agent's end of one operator session. The supervisor
// survives renegotiation, the peer does not.
type live struct {
	id   string
	peer *rtc.Peer
	sup  *session.Supervisor
	stop chan struct{}
}

func NewAgent(conf config.RobotConfig, hw Hardware, log *logger.Logger) (*Agent, error) {
	ap, err := rtc.NewApiFactory(conf.Webrtc, log, nil)
	if err != nil {
		return nil, err
	}
	return &Agent{
		conf:  conf,
		log:   log,
		hw:    hw,
		ap:    ap,
		media: media.NewBridge(log),
		done:  make(chan struct{}),
	}, nil
}

// Media is where frame producers (camera, microphone pipelines) push
// their encoded samples.
func (a *Agent) Media() *media.Bridge { return a.media }

func (a *Agent) Run() {
	a.media.Pump(a)
	go a.connectLoop()
}

func (a *Agent) Shutdown(context.Context) error {
	a.stopped.Do(func() { close(a.done) })
	a.mu.Lock()
	cur := a.current
	a.mu.Unlock()
	if cur != nil {
		a.EndSession(cur.id)
	}
	a.media.Stop()
	return nil
}

func (a *Agent) String() string { return "robot:" + a.conf.Robot.RoomId }

func (a *Agent) connectLoop() {
	for {
		cord, err := newBrokerConnection(a.conf.Robot, a.log)
		if err != nil {
			a.log.Error().Err(err).Msgf("Couldn't connect to the broker at %v", a.conf.Robot.Network.BrokerAddress)
			select {
			case <-a.done:
				return
			case <-time.After(reconnectDelay):
				continue
			}
		}
		a.log.Info().Msgf("Connected to the broker at %v", a.conf.Robot.Network.BrokerAddress)
		cord.HandleRequests(a)
		select {
		case <-cord.Listen():
			a.log.Warn().Msg("Broker connection lost")
		case <-a.done:
			cord.Notify(api.CloseRoom, nil)
			cord.Disconnect()
			return
		}
		select {
		case <-a.done:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// StartSession creates the peer connection for a session and returns
// its base64-encoded SDP offer. A repeated call with a live session id
// is a renegotiation: the transport is replaced, the supervisor with
// its buffered commands stays.
func (a *Agent) StartSession(id string, b *Broker) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.current
	if cur != nil && cur.id != id {
		// the broker should never double-book a robot
		a.log.Warn().Msgf("Session [%v] steps over [%v]", id, cur.id)
		a.current = nil
		if cur.stop != nil {
			close(cur.stop)
		}
		go cur.sup.Close()
		cur = nil
	}

	var sup *session.Supervisor
	if cur != nil {
		cur.peer.Disconnect()
		sup = cur.sup
	} else {
		sup = session.NewSupervisor(id, a.conf.Session, a.log)
		sup.OnCommand(func(m command.Message) { a.dispatch(id, m) })
		sup.OnStateChange(func(st session.State) {
			if st == session.Closed && a.clear(id) {
				b.Notify(api.SessionEnd, api.SessionEndEvent{SessionId: id, Reason: "connection lost"})
			}
		})
	}

	peer := rtc.New(a.log, a.ap)
	peer.OnOpen = func() { sup.Up(peer) }
	peer.OnDrop = sup.Drop
	peer.OnRecover = sup.Recovered
	peer.OnFail = sup.Fail
	peer.OnMessage = sup.Receive

	offer, err := peer.NewCall(videoCodec, audioCodec, func(ice any) {
		if ice == nil {
			return
		}
		blob, err := rtc.ToBase64Json(ice)
		if err != nil {
			a.log.Error().Err(err).Msg("Ice candidate encode fail")
			return
		}
		t, payload := api.NewWebrtcIcePacket(id, blob)
		b.Notify(t, payload)
	})
	if err != nil {
		if cur == nil {
			go sup.Close()
		}
		return "", err
	}
	encoded, err := rtc.ToBase64Json(offer)
	if err != nil {
		return "", err
	}

	l := &live{id: id, peer: peer, sup: sup}
	if cur != nil {
		l.stop = cur.stop
	} else {
		l.stop = make(chan struct{})
		if iv := a.conf.Robot.TelemetryInterval; iv > 0 {
			go a.publishTelemetry(sup, iv, l.stop)
		}
	}
	a.current = l
	return encoded, nil
}

func (a *Agent) HandleAnswer(rq api.WebrtcSessionPayload) error {
	cur := a.live(rq.SessionId)
	if cur == nil {
		return ErrNoSession
	}
	return cur.peer.SetRemoteSDP(rq.Data, rtc.FromBase64Json)
}

func (a *Agent) HandleIce(rq api.WebrtcSessionPayload) error {
	cur := a.live(rq.SessionId)
	if cur == nil {
		return ErrNoSession
	}
	return cur.peer.AddCandidate(rq.Data, rtc.FromBase64Json)
}

// EndSession tears the session down without telling the broker; it is
// the handler for broker- and operator-initiated termination.
func (a *Agent) EndSession(id string) {
	a.mu.Lock()
	cur := a.current
	if cur == nil || cur.id != id {
		a.mu.Unlock()
		return
	}
	a.current = nil
	a.mu.Unlock()

	if cur.stop != nil {
		close(cur.stop)
	}
	cur.sup.Close()
	a.log.Info().Msgf("Session [%v] is done", id)
}

// dispatch handles one inbound command on the session data channel.
func (a *Agent) dispatch(id string, m command.Message) {
	switch c := m.Command.(type) {
	case command.GetTelemetry:
		t := a.hw.Telemetry()
		t.CorrelationId = c.CorrelationId
		a.send(id, t)
	case command.Telemetry:
		a.log.Warn().Msg("Unexpected telemetry from the operator")
	default:
		if err := a.hw.Apply(m.Command); err != nil {
			a.log.Error().Err(err).Msgf("Command [%v] was rejected by the driver", m.Command.Type())
		}
	}
}

func (a *Agent) publishTelemetry(sup *session.Supervisor, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := sup.Send(a.hw.Telemetry()); err != nil {
				a.log.Debug().Err(err).Msg("Telemetry skipped")
			}
		}
	}
}

func (a *Agent) send(id string, cmd command.Command) {
	cur := a.live(id)
	if cur == nil {
		return
	}
	if err := cur.sup.Send(cmd); err != nil {
		a.log.Debug().Err(err).Msgf("Command [%v] was not sent", cmd.Type())
	}
}

func (a *Agent) live(id string) *live {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil && a.current.id == id {
		return a.current
	}
	return nil
}

func (a *Agent) clear(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil && a.current.id == id {
		cur := a.current
		a.current = nil
		if cur.stop != nil {
			close(cur.stop)
		}
		return true
	}
	return false
}

// WriteVideo implements the media transport by delegating to the
// current session's peer, so the bridge survives renegotiation.
func (a *Agent) WriteVideo(data []byte, dur time.Duration) error {
	cur := a.peerOfCurrent()
	if cur == nil {
		return rtc.ErrNoChannel
	}
	return cur.WriteVideo(data, dur)
}

func (a *Agent) WriteAudio(data []byte, dur time.Duration) error {
	cur := a.peerOfCurrent()
	if cur == nil {
		return rtc.ErrNoChannel
	}
	return cur.WriteAudio(data, dur)
}

func (a *Agent) peerOfCurrent() *rtc.Peer {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil
	}
	return a.current.peer
}
