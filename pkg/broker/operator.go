package broker

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/imngui/stretch-web-teleop/pkg/api"
	"github.com/imngui/stretch-web-teleop/pkg/com"
)

// Operator is the broker-side handle of one connected operator
// frontend. At most one session is bound to it at a time.
type Operator struct {
	com.SocketClient

	mu        sync.Mutex
	sessionId string
}

func NewOperator(sock *com.SocketClient) *Operator {
	return &Operator{SocketClient: *sock}
}

func (o *Operator) BindSession(id string) {
	o.mu.Lock()
	o.sessionId = id
	o.mu.Unlock()
}

// UnbindSession clears the binding only if it still points to the
// given session.
func (o *Operator) UnbindSession(id string) {
	o.mu.Lock()
	if o.sessionId == id {
		o.sessionId = ""
	}
	o.mu.Unlock()
}

func (o *Operator) Session() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionId
}

func (o *Operator) HandleRequests(h *Hub) {
	o.OnPacket(func(p com.In) error {
		switch p.T {
		case api.RoomDirectory:
			o.Route(p, h.directory())
		case api.JoinRoom:
			rq := api.Unwrap[api.JoinRoomRequest](p.Payload)
			if rq == nil {
				return api.ErrMalformed
			}
			o.Route(p, h.join(o, rq.RoomId))
		case api.LeaveRoom:
			rq := api.Unwrap[api.LeaveRoomRequest](p.Payload)
			if rq == nil {
				return api.ErrMalformed
			}
			h.leave(o, rq.SessionId)
			o.Route(p, api.OK)
		case api.WebrtcInit:
			rq := api.Unwrap[api.WebrtcSessionPayload](p.Payload)
			if rq == nil {
				return api.ErrMalformed
			}
			offer, err := h.initWebrtc(o, rq.SessionId)
			if err != nil {
				o.Route(p, api.EMPTY)
				return err
			}
			o.Route(p, json.RawMessage(offer))
		case api.WebrtcAnswer, api.WebrtcIce:
			rq := api.Unwrap[api.WebrtcSessionPayload](p.Payload)
			if rq == nil {
				return api.ErrMalformed
			}
			return h.relayToRobot(o, p.T, *rq)
		}
		return nil
	})
}
