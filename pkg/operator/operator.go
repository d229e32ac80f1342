// Package operator implements the operator-side agent: it discovers
// rooms through the broker, claims one, answers the robot's SDP offer,
// and then speaks the command protocol over the session data channel.
package operator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/imngui/stretch-web-teleop/pkg/api"
	"github.com/imngui/stretch-web-teleop/pkg/command"
	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/imngui/stretch-web-teleop/pkg/media"
	"github.com/imngui/stretch-web-teleop/pkg/rtc"
	"github.com/imngui/stretch-web-teleop/pkg/session"
	"github.com/pion/webrtc/v3"
)

var (
	ErrNotConnected = errors.New("not connected to the broker")
	ErrNoSession    = errors.New("no active session")
	ErrBusy         = errors.New("a session is already active")
)

// Operator drives at most one teleop session at a time.
type Operator struct {
	conf config.OperatorConfig
	log  *logger.Logger
	ap   *rtc.ApiFactory

	mu      sync.Mutex
	brk     *Broker
	current *live

	onTelemetry func(command.Telemetry)
	onState     func(session.State)
	onRoomState func(api.RoomStateEvent)
	sink        media.SinkFunc
}

// live is the operator's end of one session. As on the robot side, the
// supervisor survives renegotiation while the peer is per-attempt.
type live struct {
	id   string
	peer *rtc.Peer
	sup  *session.Supervisor
}

func New(conf config.OperatorConfig, log *logger.Logger) (*Operator, error) {
	ap, err := rtc.NewApiFactory(conf.Webrtc, log, nil)
	if err != nil {
		return nil, err
	}
	return &Operator{conf: conf, log: log, ap: ap}, nil
}

// OnTelemetry registers the handler for robot state reports.
func (o *Operator) OnTelemetry(fn func(t command.Telemetry)) {
	o.mu.Lock()
	o.onTelemetry = fn
	o.mu.Unlock()
}

func (o *Operator) OnSessionState(fn func(s session.State)) {
	o.mu.Lock()
	o.onState = fn
	o.mu.Unlock()
}

func (o *Operator) OnRoomState(fn func(ev api.RoomStateEvent)) {
	o.mu.Lock()
	o.onRoomState = fn
	o.mu.Unlock()
}

// SetMediaSink registers the consumer of inbound camera/mic payloads.
// Must be set before Join.
func (o *Operator) SetMediaSink(sink media.SinkFunc) {
	o.mu.Lock()
	o.sink = sink
	o.mu.Unlock()
}

// Connect dials the broker. The returned channel signals when the
// connection dies.
func (o *Operator) Connect() (chan struct{}, error) {
	brk, err := newBrokerConnection(o.conf.Operator.Network, o.log)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.brk = brk
	o.mu.Unlock()
	brk.HandleRequests(o)
	return brk.Listen(), nil
}

// Rooms lists the rooms the broker knows about.
func (o *Operator) Rooms() ([]api.RoomInfo, error) {
	brk := o.broker()
	if brk == nil {
		return nil, ErrNotConnected
	}
	payload, err := brk.Send(api.RoomDirectory, nil)
	if err != nil {
		return nil, err
	}
	res := api.Unwrap[api.RoomDirectoryResponse](payload)
	if res == nil {
		return nil, api.ErrMalformed
	}
	return res.Rooms, nil
}

// Join claims the room and negotiates the peer connection. Exactly one
// operator wins a contended room; everybody else gets the rejection
// reason as an error.
func (o *Operator) Join(roomId string) (string, error) {
	brk := o.broker()
	if brk == nil {
		return "", ErrNotConnected
	}
	o.mu.Lock()
	if o.current != nil {
		o.mu.Unlock()
		return "", ErrBusy
	}
	o.mu.Unlock()

	payload, err := brk.Send(api.JoinRoom, api.JoinRoomRequest{RoomId: roomId})
	if err != nil {
		return "", err
	}
	res := api.Unwrap[api.JoinRoomResponse](payload)
	if res == nil {
		return "", api.ErrMalformed
	}
	if res.Reason != "" {
		return "", fmt.Errorf("join rejected: %v", res.Reason)
	}
	id := res.SessionId

	sup := session.NewSupervisor(id, o.conf.Session, o.log)
	sup.OnCommand(o.handleCommand)
	sup.OnStateChange(func(st session.State) {
		if fn := o.stateHandler(); fn != nil {
			fn(st)
		}
		if st == session.Closed {
			o.clear(id)
		}
	})
	sup.OnRenegotiate(func(sessionId string, attempt int) error {
		o.log.Info().Msgf("Renegotiating session [%v], attempt %v", sessionId, attempt)
		return o.negotiate(sessionId)
	})
	o.mu.Lock()
	o.current = &live{id: id, sup: sup}
	o.mu.Unlock()

	if err := o.negotiate(id); err != nil {
		sup.Close()
		return "", err
	}
	return id, nil
}

// negotiate runs one full offer/answer exchange for the session,
// replacing the session's peer. Used for the initial connection and
// every renegotiation after.
func (o *Operator) negotiate(id string) error {
	brk := o.broker()
	if brk == nil {
		return ErrNotConnected
	}
	cur := o.live(id)
	if cur == nil {
		return ErrNoSession
	}

	payload, err := brk.Send(api.WebrtcInit, api.WebrtcSessionPayload{SessionId: id})
	if err != nil {
		return err
	}
	offer := api.Unwrap[string](payload)
	if offer == nil || *offer == "" {
		return api.ErrMalformed
	}

	peer := rtc.New(o.log, o.ap)
	peer.OnOpen = func() { cur.sup.Up(peer) }
	peer.OnDrop = cur.sup.Drop
	peer.OnRecover = cur.sup.Recovered
	peer.OnFail = cur.sup.Fail
	peer.OnMessage = cur.sup.Receive
	peer.OnTrack = func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go media.ConsumeTrack(track, o.mediaSink(), o.log)
	}

	answer, err := peer.AnswerCall(*offer, rtc.FromBase64Json, func(ice any) {
		if ice == nil {
			return
		}
		blob, err := rtc.ToBase64Json(ice)
		if err != nil {
			o.log.Error().Err(err).Msg("Ice candidate encode fail")
			return
		}
		t, pl := api.NewWebrtcIcePacket(id, blob)
		brk.Notify(t, pl)
	})
	if err != nil {
		return err
	}
	encoded, err := rtc.ToBase64Json(answer)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.current != nil && o.current.id == id {
		if old := o.current.peer; old != nil {
			old.Disconnect()
		}
		o.current.peer = peer
	}
	o.mu.Unlock()

	t, pl := api.NewWebrtcAnswerPacket(id, encoded)
	brk.Notify(t, pl)
	return nil
}

// Leave ends the current session and gives the room up.
func (o *Operator) Leave() error {
	brk := o.broker()
	o.mu.Lock()
	cur := o.current
	o.current = nil
	o.mu.Unlock()
	if cur == nil {
		return ErrNoSession
	}
	cur.sup.Close()
	if brk == nil {
		return ErrNotConnected
	}
	_, err := brk.Send(api.LeaveRoom, api.LeaveRoomRequest{SessionId: cur.id})
	return err
}

// Send ships one command to the robot. While the transport is degraded
// the command is buffered by the session supervisor.
func (o *Operator) Send(cmd command.Command) error {
	o.mu.Lock()
	cur := o.current
	o.mu.Unlock()
	if cur == nil {
		return ErrNoSession
	}
	return cur.sup.Send(cmd)
}

func (o *Operator) Shutdown(context.Context) error {
	o.mu.Lock()
	cur := o.current
	o.current = nil
	brk := o.brk
	o.brk = nil
	o.mu.Unlock()
	if cur != nil {
		cur.sup.Close()
	}
	if brk != nil {
		brk.Disconnect()
	}
	return nil
}

func (o *Operator) handleCommand(m command.Message) {
	t, ok := m.Command.(command.Telemetry)
	if !ok {
		o.log.Warn().Msgf("Unexpected command [%v] from the robot", m.Command.Type())
		return
	}
	o.mu.Lock()
	fn := o.onTelemetry
	o.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func (o *Operator) handleIce(rq api.WebrtcSessionPayload) error {
	cur := o.live(rq.SessionId)
	if cur == nil {
		return ErrNoSession
	}
	o.mu.Lock()
	peer := cur.peer
	o.mu.Unlock()
	if peer == nil {
		return ErrNoSession
	}
	return peer.AddCandidate(rq.Data, rtc.FromBase64Json)
}

func (o *Operator) handleRoomState(ev api.RoomStateEvent) {
	o.mu.Lock()
	fn := o.onRoomState
	o.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (o *Operator) handleSessionEnd(ev api.SessionEndEvent) {
	o.mu.Lock()
	cur := o.current
	if cur == nil || cur.id != ev.SessionId {
		o.mu.Unlock()
		return
	}
	o.current = nil
	o.mu.Unlock()
	cur.sup.Close()
}

func (o *Operator) broker() *Broker {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.brk
}

func (o *Operator) live(id string) *live {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && (id == "" || o.current.id == id) {
		return o.current
	}
	return nil
}

func (o *Operator) clear(id string) {
	o.mu.Lock()
	if o.current != nil && o.current.id == id {
		o.current = nil
	}
	o.mu.Unlock()
}

func (o *Operator) stateHandler() func(session.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.onState
}

func (o *Operator) mediaSink() media.SinkFunc {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sink
}
