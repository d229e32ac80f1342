package robot

import (
	"sync"
	"testing"
	"time"

	"github.com/imngui/stretch-web-teleop/pkg/command"
	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/imngui/stretch-web-teleop/pkg/session"
)

var testLog = logger.Default()

func TestSimHardware(t *testing.T) {
	hw := NewSim(testLog)

	if err := hw.Apply(command.MoveJoint{Joint: "joint_lift", Delta: 0.5}); err != nil {
		t.Fatal(err)
	}
	if err := hw.Apply(command.MoveJoint{Joint: "joint_lift", Delta: 0.25}); err != nil {
		t.Fatal(err)
	}
	if got := hw.Joint("joint_lift"); got != 0.75 {
		t.Fatalf("joint_lift at %v, want 0.75", got)
	}

	if err := hw.Apply(command.SetMode{Mode: command.ModeNavigation}); err != nil {
		t.Fatal(err)
	}
	if tl := hw.Telemetry(); tl.Mode != command.ModeNavigation {
		t.Fatalf("mode not applied: %+v", tl)
	}

	if err := hw.Apply(command.HomeRobot{}); err != nil {
		t.Fatal(err)
	}
	if got := hw.Joint("joint_lift"); got != 0 {
		t.Fatalf("homing should zero the joints, joint_lift at %v", got)
	}
}

type recordingTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recordingTransport) SendData(data []byte) error {
	r.mu.Lock()
	r.sent = append(r.sent, data)
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) Disconnect() {}

func (r *recordingTransport) wait(t *testing.T) command.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		n := len(r.sent)
		r.mu.Unlock()
		if n > 0 {
			r.mu.Lock()
			defer r.mu.Unlock()
			m, err := command.Decode(r.sent[0])
			if err != nil {
				t.Fatalf("bad message on the wire: %v", err)
			}
			return m
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("nothing was sent")
	return command.Message{}
}

func testAgent(t *testing.T) (*Agent, *recordingTransport) {
	t.Helper()
	conf := config.RobotConfig{}
	conf.Robot.RoomId = "r1"
	agent, err := NewAgent(conf, NewSim(testLog), testLog)
	if err != nil {
		t.Fatal(err)
	}

	tr := &recordingTransport{}
	sup := session.NewSupervisor("s-1", conf.Session, testLog)
	sup.Up(tr)
	agent.current = &live{id: "s-1", sup: sup}
	return agent, tr
}

func TestTelemetryRequestEchoesCorrelation(t *testing.T) {
	agent, tr := testAgent(t)

	agent.dispatch("s-1", command.Message{Seq: 1, Command: command.GetTelemetry{CorrelationId: "q-42"}})

	m := tr.wait(t)
	tl, ok := m.Command.(command.Telemetry)
	if !ok {
		t.Fatalf("expected telemetry, got %+v", m.Command)
	}
	if tl.CorrelationId != "q-42" {
		t.Fatalf("correlation id was lost: %+v", tl)
	}
	if tl.Battery <= 0 {
		t.Fatalf("telemetry carries no battery reading: %+v", tl)
	}
}

func TestDispatchDrivesHardware(t *testing.T) {
	agent, _ := testAgent(t)
	hw := agent.hw.(*Sim)

	agent.dispatch("s-1", command.Message{Seq: 1, Command: command.MoveJoint{Joint: "joint_arm", Delta: 0.3}})
	if got := hw.Joint("joint_arm"); got != 0.3 {
		t.Fatalf("command did not reach the driver, joint_arm at %v", got)
	}
}

func TestEndSessionIsIdempotent(t *testing.T) {
	agent, _ := testAgent(t)

	agent.EndSession("s-1")
	agent.EndSession("s-1") // a second end of the same session is a no-op
	if agent.live("s-1") != nil {
		t.Fatal("session survived its end")
	}
}

func TestRoomLockSingleInstance(t *testing.T) {
	conf := config.RobotConfig{}
	conf.Robot.RoomId = "r1"
	conf.Robot.LockDir = t.TempDir()

	first, err := New(conf, NewSim(testLog), testLog)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := New(conf, NewSim(testLog), testLog); err == nil {
		t.Fatal("a second agent grabbed an already locked room")
	}

	if err := first.lock.Unlock(); err != nil {
		t.Fatal(err)
	}
	third, err := New(conf, NewSim(testLog), testLog)
	if err != nil {
		t.Fatalf("the lock was not released: %v", err)
	}
	_ = third.lock.Unlock()
}
