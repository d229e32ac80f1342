// Package registry keeps the broker's in-memory table of rooms and
// sessions and is the single serialization point for the
// one-operator-per-robot invariant.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/imngui/stretch-web-teleop/pkg/com"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
)

// State is the lifecycle state of a room.
type State uint8

const (
	Offline State = iota
	Online
	Occupied
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Occupied:
		return "occupied"
	default:
		return "offline"
	}
}

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomOffline  = errors.New("room offline")
	ErrRoomOccupied = errors.New("room occupied")
	ErrRoomTaken    = errors.New("room already registered")
	ErrNoSession    = errors.New("no such session")
)

// Room is the rendezvous identity of a single robot endpoint.
// All state transitions happen under the room's own lock, so join
// attempts against different rooms never contend.
type Room struct {
	mu      sync.Mutex
	id      string
	state   State
	robot   com.Uid
	session *Session
}

func (r *Room) Id() string { return r.id }

func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Room) Robot() com.Uid {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.robot
}

// Session pairs one room with one operator peer.
type Session struct {
	Id        string
	RoomId    string
	Robot     com.Uid
	Operator  com.Uid
	CreatedAt time.Time

	mu         sync.Mutex
	lastActive time.Time
}

func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

type RoomInfo struct {
	Id    string
	State State
}

// Registry is the only process-wide mutable state of the broker.
// It is passed by reference to whoever needs it, never global.
type Registry struct {
	log *logger.Logger

	mu       sync.Mutex
	rooms    map[string]*Room
	sessions map[string]*Session
}

func New(log *logger.Logger) *Registry {
	return &Registry{
		log:      log,
		rooms:    make(map[string]*Room, 10),
		sessions: make(map[string]*Session, 10),
	}
}

// RegisterRobot puts a room online. The room record is created on the
// first registration and recycled on later ones.
func (rg *Registry) RegisterRobot(roomId string, robot com.Uid) (*Room, error) {
	if roomId == "" {
		return nil, ErrRoomNotFound
	}
	rg.mu.Lock()
	room, ok := rg.rooms[roomId]
	if !ok {
		room = &Room{id: roomId}
		rg.rooms[roomId] = room
	}
	rg.mu.Unlock()

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.state != Offline {
		return nil, ErrRoomTaken
	}
	room.robot = robot
	room.state = Online
	rg.log.Info().Str("room", roomId).Msg("Room is online")
	return room, nil
}

// RequestJoin atomically pairs an operator with a room. Exactly one of
// any number of concurrent calls for the same room succeeds.
func (rg *Registry) RequestJoin(roomId string, operator com.Uid) (*Session, error) {
	rg.mu.Lock()
	room, ok := rg.rooms[roomId]
	rg.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	room.mu.Lock()
	switch room.state {
	case Offline:
		room.mu.Unlock()
		return nil, ErrRoomOffline
	case Occupied:
		room.mu.Unlock()
		return nil, ErrRoomOccupied
	}
	session := &Session{
		Id:        uuid.Must(uuid.NewV4()).String(),
		RoomId:    roomId,
		Robot:     room.robot,
		Operator:  operator,
		CreatedAt: time.Now(),
	}
	session.Touch()
	room.session = session
	room.state = Occupied
	// the session table insert happens under room.mu, otherwise a
	// concurrent UnregisterRobot could invalidate the session before
	// it lands and leave the entry behind for good
	rg.mu.Lock()
	rg.sessions[session.Id] = session
	rg.mu.Unlock()
	room.mu.Unlock()
	rg.log.Info().Str("room", roomId).Str("session", session.Id).Msg("Room is occupied")
	return session, nil
}

// Release ends a session on operator departure; the robot stays and
// the room goes back online.
func (rg *Registry) Release(sessionId string) {
	rg.mu.Lock()
	session, ok := rg.sessions[sessionId]
	if ok {
		delete(rg.sessions, sessionId)
	}
	room := rg.roomLocked(session)
	rg.mu.Unlock()
	if !ok || room == nil {
		return
	}

	room.mu.Lock()
	if room.session != nil && room.session.Id == sessionId {
		room.session = nil
		if room.state == Occupied {
			room.state = Online
		}
	}
	room.mu.Unlock()
	rg.log.Info().Str("room", session.RoomId).Str("session", sessionId).Msg("Session released")
}

// UnregisterRobot flips the room offline and invalidates its session,
// if any. The invalidated session is returned so the caller can notify
// the bound operator; no orphaned sessions survive this call.
func (rg *Registry) UnregisterRobot(roomId string) *Session {
	rg.mu.Lock()
	room := rg.rooms[roomId]
	rg.mu.Unlock()
	if room == nil {
		return nil
	}

	room.mu.Lock()
	session := room.session
	room.session = nil
	room.robot = com.NilUid
	room.state = Offline
	room.mu.Unlock()

	if session != nil {
		rg.mu.Lock()
		delete(rg.sessions, session.Id)
		rg.mu.Unlock()
	}
	rg.log.Info().Str("room", roomId).Msg("Room is offline")
	return session
}

func (rg *Registry) FindRoom(roomId string) (*Room, error) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	if room, ok := rg.rooms[roomId]; ok {
		return room, nil
	}
	return nil, ErrRoomNotFound
}

func (rg *Registry) FindSession(sessionId string) (*Session, error) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	if session, ok := rg.sessions[sessionId]; ok {
		return session, nil
	}
	return nil, ErrNoSession
}

// Directory lists all known rooms and their states.
func (rg *Registry) Directory() []RoomInfo {
	rg.mu.Lock()
	rooms := make([]*Room, 0, len(rg.rooms))
	for _, room := range rg.rooms {
		rooms = append(rooms, room)
	}
	rg.mu.Unlock()

	list := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		list = append(list, RoomInfo{Id: room.Id(), State: room.State()})
	}
	return list
}

func (rg *Registry) roomLocked(session *Session) *Room {
	if session == nil {
		return nil
	}
	return rg.rooms[session.RoomId]
}
