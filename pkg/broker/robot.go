package broker

import (
	"github.com/imngui/stretch-web-teleop/pkg/api"
	"github.com/imngui/stretch-web-teleop/pkg/com"
)

// Robot is the broker-side handle of one connected robot agent.
type Robot struct {
	com.SocketClient

	RoomId string
}

func NewRobot(sock *com.SocketClient, roomId string) *Robot {
	return &Robot{SocketClient: *sock, RoomId: roomId}
}

func (r *Robot) HandleRequests(h *Hub) {
	r.OnPacket(func(p com.In) error {
		switch p.T {
		case api.WebrtcIce:
			rq := api.Unwrap[api.WebrtcSessionPayload](p.Payload)
			if rq == nil {
				return api.ErrMalformed
			}
			return h.relayToOperator(r, api.WebrtcIce, *rq)
		case api.SessionEnd:
			ev := api.Unwrap[api.SessionEndEvent](p.Payload)
			if ev == nil {
				return api.ErrMalformed
			}
			h.endSession(r, *ev)
		case api.CloseRoom:
			h.closeRoom(r)
		}
		return nil
	})
}
