// Package api defines the signaling API shared by the broker, robot,
// and operator applications.
//
// Each API call (request and response) is a JSON-encoded "packet" of the following structure:
//
//	id - (optional) a globally unique packet id;
//	 t - (required) one of the predefined unique packet types;
//	 p - (optional) packet payload with arbitrary data.
//
// Packets differentiate by their predefined types with which it is
// possible to unwrap the payload into distinct request/response data
// structures. The id field tracks packets through a chain of network
// points, for example, passing a packet from an operator forward to a
// robot and back through the broker.
package api

import (
	"fmt"

	"github.com/goccy/go-json"
)

type (
	Id interface {
		String() string
	}
	PT uint8
)

type In[I Id] struct {
	Id      I               `json:"id,omitempty"`
	T       PT              `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"` // should be json.RawMessage for 2-pass unmarshal
}

type Out struct {
	Id      string `json:"id,omitempty"`
	T       uint8  `json:"t"`
	Payload any    `json:"p,omitempty"`
}

// Packet codes:
//
//	1xx - operator codes
//	2xx - robot codes
const (
	RoomDirectory PT = 100
	JoinRoom      PT = 101
	LeaveRoom     PT = 102
	// the SDP offer travels as the response payload of WebrtcInit
	WebrtcInit   PT = 103
	WebrtcAnswer PT = 105
	WebrtcIce    PT = 106
	RoomState    PT = 110
	SessionEnd   PT = 111
	CloseRoom    PT = 202
)

func (p PT) String() string {
	switch p {
	case RoomDirectory:
		return "RoomDirectory"
	case JoinRoom:
		return "JoinRoom"
	case LeaveRoom:
		return "LeaveRoom"
	case WebrtcInit:
		return "WebrtcInit"
	case WebrtcAnswer:
		return "WebrtcAnswer"
	case WebrtcIce:
		return "WebrtcIce"
	case RoomState:
		return "RoomState"
	case SessionEnd:
		return "SessionEnd"
	case CloseRoom:
		return "CloseRoom"
	default:
		return "Unknown"
	}
}

// Various codes
const (
	EMPTY = ""
	OK    = "ok"
)

var (
	ErrForbidden = fmt.Errorf("forbidden")
	ErrMalformed = fmt.Errorf("malformed")
)

func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
