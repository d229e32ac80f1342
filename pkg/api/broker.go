package api

// DataQueryParam carries the base64-encoded ConnectionRequest in the
// robot's connection URL.
const DataQueryParam = "data"

// ConnectionRequest is passed by a robot agent in the query string
// when it dials the broker's /robot endpoint.
type ConnectionRequest struct {
	Id     string `json:"id,omitempty"`
	RoomId string `json:"room_id"`
	Tag    string `json:"tag,omitempty"`
}

type RoomInfo struct {
	RoomId string `json:"room_id"`
	State  string `json:"state"`
}

type RoomDirectoryResponse struct {
	Rooms []RoomInfo `json:"rooms"`
}

type JoinRoomRequest struct {
	RoomId string `json:"room_id"`
}

// JoinRoomResponse is sent back on a join attempt: either a session id
// or a registry rejection reason, never both.
type JoinRoomResponse struct {
	SessionId string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type LeaveRoomRequest struct {
	SessionId string `json:"session_id"`
}

type RoomStateEvent struct {
	RoomId string `json:"room_id"`
	State  string `json:"state"`
}

type SessionEndEvent struct {
	SessionId string `json:"session_id"`
	Reason    string `json:"reason"`
}

// WebrtcSessionPayload relays one opaque negotiation blob (SDP or ICE)
// for the session. The broker never interprets Data.
type WebrtcSessionPayload struct {
	SessionId string `json:"session_id"`
	Data      string `json:"data"`
}

func NewWebrtcIcePacket(sessionId string, candidate string) (PT, WebrtcSessionPayload) {
	return WebrtcIce, WebrtcSessionPayload{SessionId: sessionId, Data: candidate}
}

func NewWebrtcAnswerPacket(sessionId string, sdp string) (PT, WebrtcSessionPayload) {
	return WebrtcAnswer, WebrtcSessionPayload{SessionId: sessionId, Data: sdp}
}
