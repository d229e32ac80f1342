package operator

import (
	"net/url"

	"github.com/imngui/stretch-web-teleop/pkg/api"
	"github.com/imngui/stretch-web-teleop/pkg/com"
	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
)

// Broker is the operator's connection to the signaling broker.
type Broker struct {
	com.SocketClient
}

func newBrokerConnection(conf config.Network, log *logger.Logger) (*Broker, error) {
	scheme := "ws"
	if conf.Secure {
		scheme = "wss"
	}
	address := url.URL{Scheme: scheme, Host: conf.BrokerAddress, Path: conf.Endpoint}

	conn, err := com.NewConnector().NewClient(address, log)
	if err != nil {
		return nil, err
	}
	sock := com.New(conn, "brk", com.NewUid(), log)
	return &Broker{SocketClient: sock}, nil
}

// HandleRequests wires the async broker-to-operator packets: robot ICE
// trickle, room state changes, and broker-initiated session ends.
func (b *Broker) HandleRequests(o *Operator) {
	b.OnPacket(func(p com.In) error {
		switch p.T {
		case api.WebrtcIce:
			rq := api.Unwrap[api.WebrtcSessionPayload](p.Payload)
			if rq == nil {
				return api.ErrMalformed
			}
			return o.handleIce(*rq)
		case api.RoomState:
			ev := api.Unwrap[api.RoomStateEvent](p.Payload)
			if ev == nil {
				return api.ErrMalformed
			}
			o.handleRoomState(*ev)
		case api.SessionEnd:
			ev := api.Unwrap[api.SessionEndEvent](p.Payload)
			if ev == nil {
				return api.ErrMalformed
			}
			b.Log.Info().Msgf("Session [%v] ended: %v", ev.SessionId, ev.Reason)
			o.handleSessionEnd(*ev)
		}
		return nil
	})
}
