package broker

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/imngui/stretch-web-teleop/pkg/api"
	"github.com/imngui/stretch-web-teleop/pkg/com"
	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/imngui/stretch-web-teleop/pkg/registry"
	"github.com/imngui/stretch-web-teleop/pkg/rtc"
)

// Hub routes signaling packets between operator and robot sockets.
// All pairing decisions are delegated to the registry; the hub itself
// never interprets negotiation payloads.
type Hub struct {
	conf      config.BrokerConfig
	log       *logger.Logger
	registry  *registry.Registry
	robots    com.NetMap[com.Uid, *Robot]
	operators com.NetMap[com.Uid, *Operator]
	conn      *com.Connector
	robotConn *com.Connector
	metrics   *metrics
}

func NewHub(conf config.BrokerConfig, reg *registry.Registry, m *metrics, log *logger.Logger) *Hub {
	return &Hub{
		conf:      conf,
		log:       log,
		registry:  reg,
		metrics:   m,
		robots:    com.NewNetMap[com.Uid, *Robot](),
		operators: com.NewNetMap[com.Uid, *Operator](),
		conn:      com.NewConnector(com.WithOrigin(conf.Broker.Server.Origin), com.WithTag("op")),
		robotConn: com.NewConnector(com.WithOrigin(conf.Broker.Server.Origin), com.WithTag("rob")),
	}
}

// Handler exposes the broker's HTTP surface: the two websocket
// endpoints plus the room directory.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleOperatorConnection)
	mux.HandleFunc("/robot", h.handleRobotConnection)
	mux.HandleFunc("/rooms", h.handleRoomList)
	return mux
}

// handleRobotConnection handles all connections from robot agents.
func (h *Hub) handleRobotConnection(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msgf("Robot connection request %v", r.Host)

	data := r.URL.Query().Get(api.DataQueryParam)
	if data == "" {
		h.log.Error().Msg("Robot connection has no connection request")
		return
	}
	var rq api.ConnectionRequest
	if err := rtc.FromBase64Json(data, &rq); err != nil || rq.RoomId == "" {
		h.log.Error().Err(err).Msg("Robot connection request is malformed")
		return
	}

	conn, err := h.robotConn.NewServer(w, r, h.log)
	if err != nil {
		h.log.Error().Err(err).Msg("Robot connection fail")
		return
	}
	robot := NewRobot(conn, rq.RoomId)
	defer h.dropRobot(robot)

	room, err := h.registry.RegisterRobot(rq.RoomId, robot.Id())
	if err != nil {
		robot.Log.Error().Err(err).Msgf("Room [%v] is not available", rq.RoomId)
		robot.Disconnect()
		return
	}
	robot.Log.Info().Msgf("Robot for room [%v] connected", room.Id())

	h.robots.Add(robot)
	h.metrics.roomOnline()
	robot.HandleRequests(h)
	h.broadcastRoomState(room.Id())

	<-robot.Listen()
}

// handleOperatorConnection handles all connections from operator frontends.
func (h *Hub) handleOperatorConnection(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msgf("Operator connection request %v", r.Host)

	conn, err := h.conn.NewServer(w, r, h.log)
	if err != nil {
		h.log.Error().Err(err).Msg("Operator connection fail")
		return
	}
	op := NewOperator(conn)
	defer h.dropOperator(op)

	h.operators.Add(op)
	op.HandleRequests(h)

	<-op.Listen()
}

// handleRoomList is a plain HTTP endpoint listing rooms and states.
func (h *Hub) handleRoomList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.directory()); err != nil {
		h.log.Error().Err(err).Msg("Room list write fail")
	}
}

func (h *Hub) directory() api.RoomDirectoryResponse {
	known := h.registry.Directory()
	rooms := make([]api.RoomInfo, 0, len(known))
	for _, room := range known {
		rooms = append(rooms, api.RoomInfo{RoomId: room.Id, State: room.State.String()})
	}
	return api.RoomDirectoryResponse{Rooms: rooms}
}

// join pairs the operator with a room. Registry rejections are turned
// into response reasons instead of errors, so the caller always gets
// exactly one of a session id or a reason. An operator already bound
// to a session is rejected, otherwise its old room would stay occupied
// with nobody to release it on disconnect.
func (h *Hub) join(op *Operator, roomId string) api.JoinRoomResponse {
	if prev := op.Session(); prev != "" {
		reason := "operator busy"
		h.metrics.joinRejected(reason)
		op.Log.Info().Msgf("Join of room [%v] rejected: session [%v] is still bound", roomId, prev)
		return api.JoinRoomResponse{Reason: reason}
	}
	session, err := h.registry.RequestJoin(roomId, op.Id())
	if err != nil {
		reason := reasonOf(err)
		h.metrics.joinRejected(reason)
		op.Log.Info().Msgf("Join of room [%v] rejected: %v", roomId, reason)
		return api.JoinRoomResponse{Reason: reason}
	}
	op.BindSession(session.Id)
	h.metrics.sessionStarted()
	h.broadcastRoomState(roomId)
	return api.JoinRoomResponse{SessionId: session.Id}
}

// leave ends the operator's session; the robot side is told so it can
// tear its peer connection down. The room goes back online.
func (h *Hub) leave(op *Operator, sessionId string) {
	session, err := h.registry.FindSession(sessionId)
	if err != nil || session.Operator != op.Id() {
		return
	}
	op.UnbindSession(sessionId)
	h.registry.Release(sessionId)
	h.metrics.sessionEnded()
	if robot, err := h.robots.Find(session.Robot); err == nil {
		robot.Notify(api.SessionEnd, api.SessionEndEvent{SessionId: sessionId, Reason: "operator left"})
	}
	h.broadcastRoomState(session.RoomId)
}

// initWebrtc relays the offer request to the robot of the session and
// blocks until the robot hands its SDP offer back. Renegotiation of a
// live session goes through the very same path.
func (h *Hub) initWebrtc(op *Operator, sessionId string) ([]byte, error) {
	session, err := h.registry.FindSession(sessionId)
	if err != nil {
		return nil, err
	}
	if session.Operator != op.Id() {
		return nil, api.ErrForbidden
	}
	robot, err := h.robots.Find(session.Robot)
	if err != nil {
		return nil, err
	}
	session.Touch()
	h.metrics.packetRelayed(api.WebrtcInit)
	return robot.Send(api.WebrtcInit, api.WebrtcSessionPayload{SessionId: sessionId})
}

// relayToRobot forwards an opaque negotiation blob from the operator
// of the session to its robot.
func (h *Hub) relayToRobot(op *Operator, t api.PT, rq api.WebrtcSessionPayload) error {
	session, err := h.registry.FindSession(rq.SessionId)
	if err != nil {
		return err
	}
	if session.Operator != op.Id() {
		return api.ErrForbidden
	}
	robot, err := h.robots.Find(session.Robot)
	if err != nil {
		return err
	}
	session.Touch()
	h.metrics.packetRelayed(t)
	robot.Notify(t, rq)
	return nil
}

// relayToOperator forwards a robot-originated blob (its trickle ICE)
// to the operator of the session.
func (h *Hub) relayToOperator(robot *Robot, t api.PT, rq api.WebrtcSessionPayload) error {
	session, err := h.registry.FindSession(rq.SessionId)
	if err != nil {
		return err
	}
	if session.Robot != robot.Id() {
		return api.ErrForbidden
	}
	op, err := h.operators.Find(session.Operator)
	if err != nil {
		return err
	}
	session.Touch()
	h.metrics.packetRelayed(t)
	op.Notify(t, rq)
	return nil
}

// endSession handles a robot-initiated session termination.
func (h *Hub) endSession(robot *Robot, ev api.SessionEndEvent) {
	session, err := h.registry.FindSession(ev.SessionId)
	if err != nil || session.Robot != robot.Id() {
		return
	}
	h.registry.Release(ev.SessionId)
	h.metrics.sessionEnded()
	if op, err := h.operators.Find(session.Operator); err == nil {
		op.UnbindSession(ev.SessionId)
		op.Notify(api.SessionEnd, ev)
	}
	h.broadcastRoomState(session.RoomId)
}

// closeRoom is a graceful robot shutdown: the room goes offline before
// the socket dies.
func (h *Hub) closeRoom(robot *Robot) {
	if session := h.registry.UnregisterRobot(robot.RoomId); session != nil {
		h.metrics.sessionEnded()
		if op, err := h.operators.Find(session.Operator); err == nil {
			op.UnbindSession(session.Id)
			op.Notify(api.SessionEnd, api.SessionEndEvent{SessionId: session.Id, Reason: "robot offline"})
		}
	}
	h.broadcastRoomState(robot.RoomId)
}

// dropRobot is called when a robot socket dies for any reason.
// No orphaned session survives: the bound operator, if any, is told
// immediately instead of discovering the death on its next send.
func (h *Hub) dropRobot(robot *Robot) {
	room, err := h.registry.FindRoom(robot.RoomId)
	if err == nil && room.Robot() == robot.Id() {
		h.closeRoom(robot)
		h.metrics.roomOffline()
	}
	h.robots.RemoveDisconnect(robot)
	robot.Log.Info().Msgf("Robot for room [%v] disconnected", robot.RoomId)
}

func (h *Hub) dropOperator(op *Operator) {
	if sessionId := op.Session(); sessionId != "" {
		h.leave(op, sessionId)
	}
	h.operators.RemoveDisconnect(op)
	op.Log.Info().Msg("Operator disconnected")
}

// broadcastRoomState pushes the room's current state to every
// connected operator frontend.
func (h *Hub) broadcastRoomState(roomId string) {
	room, err := h.registry.FindRoom(roomId)
	if err != nil {
		return
	}
	ev := api.RoomStateEvent{RoomId: roomId, State: room.State().String()}
	h.operators.ForEach(func(op *Operator) { op.Notify(api.RoomState, ev) })
}

func reasonOf(err error) string {
	switch err {
	case registry.ErrRoomNotFound:
		return "room not found"
	case registry.ErrRoomOffline:
		return "room offline"
	case registry.ErrRoomOccupied:
		return "room occupied"
	}
	return err.Error()
}
