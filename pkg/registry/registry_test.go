package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/imngui/stretch-web-teleop/pkg/com"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
)

var log = logger.Default()

func TestJoinLifecycle(t *testing.T) {
	rg := New(log)

	if _, err := rg.RequestJoin("stretch-01", com.NewUid()); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	robot := com.NewUid()
	room, err := rg.RegisterRobot("stretch-01", robot)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if room.State() != Online {
		t.Fatalf("expected online, got %v", room.State())
	}

	op := com.NewUid()
	session, err := rg.RequestJoin("stretch-01", op)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if room.State() != Occupied {
		t.Fatalf("expected occupied, got %v", room.State())
	}
	if session.Robot != robot || session.Operator != op {
		t.Fatalf("session peers are wrong: %+v", session)
	}

	before := session.LastActive()
	time.Sleep(time.Millisecond)
	session.Touch()
	if !session.LastActive().After(before) {
		t.Fatalf("touch should advance the activity mark")
	}

	// a second operator is rejected while the first one holds the room
	if _, err := rg.RequestJoin("stretch-01", com.NewUid()); !errors.Is(err, ErrRoomOccupied) {
		t.Fatalf("expected ErrRoomOccupied, got %v", err)
	}

	rg.Release(session.Id)
	if room.State() != Online {
		t.Fatalf("expected online after release, got %v", room.State())
	}
	if _, err := rg.FindSession(session.Id); !errors.Is(err, ErrNoSession) {
		t.Fatalf("released session should be gone, got %v", err)
	}

	// the room is joinable again
	if _, err := rg.RequestJoin("stretch-01", com.NewUid()); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
}

func TestConcurrentJoinExactlyOneWins(t *testing.T) {
	rg := New(log)
	if _, err := rg.RegisterRobot("stretch-01", com.NewUid()); err != nil {
		t.Fatalf("register: %v", err)
	}

	const n = 64
	var wins, occupied int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := rg.RequestJoin("stretch-01", com.NewUid())
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrRoomOccupied):
				atomic.AddInt32(&occupied, 1)
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %v", wins)
	}
	if occupied != n-1 {
		t.Fatalf("expected %v occupied rejections, got %v", n-1, occupied)
	}
}

func TestJoinUnregisterRaceLeavesNoOrphans(t *testing.T) {
	rg := New(log)
	for i := 0; i < 200; i++ {
		if _, err := rg.RegisterRobot("stretch-01", com.NewUid()); err != nil {
			t.Fatalf("register: %v", err)
		}
		var session, invalidated *Session
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); session, _ = rg.RequestJoin("stretch-01", com.NewUid()) }()
		go func() { defer wg.Done(); invalidated = rg.UnregisterRobot("stretch-01") }()
		wg.Wait()

		// the room ends up offline either way, so a session that won
		// the join must have been invalidated with it
		if session != nil {
			if invalidated == nil || invalidated.Id != session.Id {
				t.Fatalf("won session %v was not invalidated by the unregister", session.Id)
			}
			if _, err := rg.FindSession(session.Id); !errors.Is(err, ErrNoSession) {
				t.Fatalf("session %v survived its room going offline", session.Id)
			}
		}
	}
}

func TestUnregisterInvalidatesSession(t *testing.T) {
	rg := New(log)
	if _, err := rg.RegisterRobot("stretch-01", com.NewUid()); err != nil {
		t.Fatalf("register: %v", err)
	}
	session, err := rg.RequestJoin("stretch-01", com.NewUid())
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	ended := rg.UnregisterRobot("stretch-01")
	if ended == nil || ended.Id != session.Id {
		t.Fatalf("expected the active session back, got %+v", ended)
	}
	room, err := rg.FindRoom("stretch-01")
	if err != nil || room.State() != Offline {
		t.Fatalf("expected offline room, got %v %v", room.State(), err)
	}
	if _, err := rg.FindSession(session.Id); !errors.Is(err, ErrNoSession) {
		t.Fatalf("session must not survive the robot, got %v", err)
	}
	if _, err := rg.RequestJoin("stretch-01", com.NewUid()); !errors.Is(err, ErrRoomOffline) {
		t.Fatalf("expected ErrRoomOffline, got %v", err)
	}
}

func TestDuplicateRobotRejected(t *testing.T) {
	rg := New(log)
	if _, err := rg.RegisterRobot("stretch-01", com.NewUid()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := rg.RegisterRobot("stretch-01", com.NewUid()); !errors.Is(err, ErrRoomTaken) {
		t.Fatalf("expected ErrRoomTaken, got %v", err)
	}
}

func TestDirectory(t *testing.T) {
	rg := New(log)
	_, _ = rg.RegisterRobot("stretch-01", com.NewUid())
	_, _ = rg.RegisterRobot("stretch-02", com.NewUid())
	_, _ = rg.RequestJoin("stretch-02", com.NewUid())
	rg.UnregisterRobot("stretch-01")

	states := map[string]State{}
	for _, info := range rg.Directory() {
		states[info.Id] = info.State
	}
	if states["stretch-01"] != Offline || states["stretch-02"] != Occupied {
		t.Fatalf("unexpected directory: %v", states)
	}
}
