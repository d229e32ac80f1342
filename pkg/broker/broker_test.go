package broker

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/imngui/stretch-web-teleop/pkg/api"
	"github.com/imngui/stretch-web-teleop/pkg/com"
	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/imngui/stretch-web-teleop/pkg/registry"
	"github.com/imngui/stretch-web-teleop/pkg/rtc"
)

var testLog = logger.Default()

func testHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	conf := config.BrokerConfig{}
	conf.Broker.Server.Origin = "*"
	hub := NewHub(conf, registry.New(testLog), nil, testLog)
	ts := httptest.NewServer(hub.Handler())
	t.Cleanup(ts.Close)
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server, path, query string) *com.Client {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	u.Scheme = "ws"
	u.Path = path
	u.RawQuery = query
	cl, err := com.NewConnector().NewClient(*u, testLog)
	if err != nil {
		t.Fatalf("dial %v: %v", path, err)
	}
	t.Cleanup(cl.Close)
	return cl
}

func dialRobot(t *testing.T, ts *httptest.Server, roomId string) *com.Client {
	t.Helper()
	data, err := rtc.ToBase64Json(api.ConnectionRequest{RoomId: roomId})
	if err != nil {
		t.Fatal(err)
	}
	return dial(t, ts, "/robot", api.DataQueryParam+"="+url.QueryEscape(data))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never happened", what)
}

func roomState(hub *Hub, roomId string) registry.State {
	room, err := hub.registry.FindRoom(roomId)
	if err != nil {
		return registry.Offline
	}
	return room.State()
}

func join(t *testing.T, op *com.Client, roomId string) api.JoinRoomResponse {
	t.Helper()
	payload, err := op.Call(uint8(api.JoinRoom), api.JoinRoomRequest{RoomId: roomId})
	if err != nil {
		t.Fatalf("join call: %v", err)
	}
	res := api.Unwrap[api.JoinRoomResponse](payload)
	if res == nil {
		t.Fatalf("join response is not parsable: %s", payload)
	}
	return *res
}

func TestRobotRegistration(t *testing.T) {
	hub, ts := testHub(t)

	robot := dialRobot(t, ts, "hello-robot-1")
	robot.Listen()
	waitFor(t, "room going online", func() bool { return roomState(hub, "hello-robot-1") == registry.Online })

	res, err := http.Get(ts.URL + "/rooms")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var dir api.RoomDirectoryResponse
	if err := json.NewDecoder(res.Body).Decode(&dir); err != nil {
		t.Fatal(err)
	}
	if len(dir.Rooms) != 1 || dir.Rooms[0].RoomId != "hello-robot-1" || dir.Rooms[0].State != "online" {
		t.Fatalf("unexpected directory: %+v", dir)
	}
}

func TestSingleOccupancy(t *testing.T) {
	hub, ts := testHub(t)

	robot := dialRobot(t, ts, "r1")
	robot.Listen()
	waitFor(t, "room going online", func() bool { return roomState(hub, "r1") == registry.Online })

	op1 := dial(t, ts, "/ws", "")
	op1.Listen()
	op2 := dial(t, ts, "/ws", "")
	op2.Listen()

	first := join(t, op1, "r1")
	if first.SessionId == "" || first.Reason != "" {
		t.Fatalf("first join should succeed: %+v", first)
	}

	second := join(t, op2, "r1")
	if second.SessionId != "" || second.Reason != "room occupied" {
		t.Fatalf("second join should be rejected as occupied: %+v", second)
	}

	if _, err := op1.Call(uint8(api.LeaveRoom), api.LeaveRoomRequest{SessionId: first.SessionId}); err != nil {
		t.Fatalf("leave call: %v", err)
	}
	waitFor(t, "room back online", func() bool { return roomState(hub, "r1") == registry.Online })

	third := join(t, op2, "r1")
	if third.SessionId == "" {
		t.Fatalf("join after release should succeed: %+v", third)
	}
}

func TestBoundOperatorCannotJoinTwice(t *testing.T) {
	hub, ts := testHub(t)

	r1 := dialRobot(t, ts, "r1")
	r1.Listen()
	r2 := dialRobot(t, ts, "r2")
	r2.Listen()
	waitFor(t, "rooms going online", func() bool {
		return roomState(hub, "r1") == registry.Online && roomState(hub, "r2") == registry.Online
	})

	op := dial(t, ts, "/ws", "")
	op.Listen()

	first := join(t, op, "r1")
	if first.SessionId == "" {
		t.Fatalf("first join should succeed: %+v", first)
	}

	second := join(t, op, "r2")
	if second.SessionId != "" || second.Reason != "operator busy" {
		t.Fatalf("second join from a bound operator should be rejected: %+v", second)
	}
	if roomState(hub, "r2") != registry.Online {
		t.Fatalf("r2 should stay online, got %v", roomState(hub, "r2"))
	}

	// the one bound session goes away with the operator socket
	op.Close()
	waitFor(t, "r1 back online", func() bool { return roomState(hub, "r1") == registry.Online })
	if _, err := hub.registry.FindSession(first.SessionId); err == nil {
		t.Fatalf("session %v should be released with its operator", first.SessionId)
	}
}

func TestJoinRejections(t *testing.T) {
	hub, ts := testHub(t)
	op := dial(t, ts, "/ws", "")
	op.Listen()

	if res := join(t, op, "nowhere"); res.Reason != "room not found" {
		t.Fatalf("unexpected reason: %+v", res)
	}

	robot := dialRobot(t, ts, "r1")
	robot.Listen()
	waitFor(t, "room going online", func() bool { return roomState(hub, "r1") == registry.Online })
	robot.Close()
	waitFor(t, "room going offline", func() bool { return roomState(hub, "r1") == registry.Offline })

	if res := join(t, op, "r1"); res.Reason != "room offline" {
		t.Fatalf("unexpected reason: %+v", res)
	}
}

func TestWebrtcNegotiationRelay(t *testing.T) {
	hub, ts := testHub(t)

	robot := dialRobot(t, ts, "r1")
	toRobot := make(chan com.In, 8)
	robot.OnPacket(func(p com.In) {
		if p.T == api.WebrtcInit {
			_ = robot.Route(p, "offer-blob")
			return
		}
		toRobot <- p
	})
	robot.Listen()
	waitFor(t, "room going online", func() bool { return roomState(hub, "r1") == registry.Online })

	op := dial(t, ts, "/ws", "")
	toOperator := make(chan com.In, 8)
	op.OnPacket(func(p com.In) { toOperator <- p })
	op.Listen()

	session := join(t, op, "r1").SessionId
	if session == "" {
		t.Fatal("no session")
	}

	offer, err := op.Call(uint8(api.WebrtcInit), api.WebrtcSessionPayload{SessionId: session})
	if err != nil {
		t.Fatalf("init call: %v", err)
	}
	if blob := api.Unwrap[string](offer); blob == nil || *blob != "offer-blob" {
		t.Fatalf("offer did not make it through: %s", offer)
	}

	if err := op.Send(uint8(api.WebrtcAnswer), api.WebrtcSessionPayload{SessionId: session, Data: "answer-blob"}); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-toRobot:
		if p.T != api.WebrtcAnswer {
			t.Fatalf("unexpected packet type %v", p.T)
		}
		rq := api.Unwrap[api.WebrtcSessionPayload](p.Payload)
		if rq == nil || rq.Data != "answer-blob" || rq.SessionId != session {
			t.Fatalf("answer did not make it through: %s", p.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("the answer never reached the robot")
	}

	if err := robot.Send(uint8(api.WebrtcIce), api.WebrtcSessionPayload{SessionId: session, Data: "ice-blob"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case p := <-toOperator:
			if p.T != api.WebrtcIce {
				continue // room state events are fine here
			}
			rq := api.Unwrap[api.WebrtcSessionPayload](p.Payload)
			if rq == nil || rq.Data != "ice-blob" {
				t.Fatalf("ice did not make it through: %s", p.Payload)
			}
			return
		case <-deadline:
			t.Fatal("the candidate never reached the operator")
		}
	}
}

func TestRobotDisconnectEndsSession(t *testing.T) {
	hub, ts := testHub(t)

	robot := dialRobot(t, ts, "r1")
	robot.Listen()
	waitFor(t, "room going online", func() bool { return roomState(hub, "r1") == registry.Online })

	op := dial(t, ts, "/ws", "")
	toOperator := make(chan com.In, 8)
	op.OnPacket(func(p com.In) { toOperator <- p })
	op.Listen()

	session := join(t, op, "r1").SessionId
	if session == "" {
		t.Fatal("no session")
	}

	robot.Close()
	waitFor(t, "room going offline", func() bool { return roomState(hub, "r1") == registry.Offline })

	deadline := time.After(3 * time.Second)
	for {
		select {
		case p := <-toOperator:
			if p.T != api.SessionEnd {
				continue
			}
			ev := api.Unwrap[api.SessionEndEvent](p.Payload)
			if ev == nil || ev.SessionId != session {
				t.Fatalf("unexpected session end: %s", p.Payload)
			}
			if _, err := hub.registry.FindSession(session); err == nil {
				t.Fatal("the session should be gone")
			}
			return
		case <-deadline:
			t.Fatal("the operator was never told about the dead robot")
		}
	}
}
