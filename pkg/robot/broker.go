package robot

import (
	"net/url"

	"github.com/imngui/stretch-web-teleop/pkg/api"
	"github.com/imngui/stretch-web-teleop/pkg/com"
	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/imngui/stretch-web-teleop/pkg/rtc"
)

// Broker is the robot's connection to the signaling broker.
type Broker struct {
	com.SocketClient
}

func newBrokerConnection(conf config.Robot, log *logger.Logger) (*Broker, error) {
	scheme := "ws"
	if conf.Network.Secure {
		scheme = "wss"
	}
	address := url.URL{Scheme: scheme, Host: conf.Network.BrokerAddress, Path: conf.Network.Endpoint}

	id := com.NewUid()
	req, err := rtc.ToBase64Json(api.ConnectionRequest{Id: id.String(), RoomId: conf.RoomId, Tag: conf.Tag})
	if err != nil {
		return nil, err
	}
	address.RawQuery = api.DataQueryParam + "=" + url.QueryEscape(req)

	conn, err := com.NewConnector().NewClient(address, log)
	if err != nil {
		return nil, err
	}
	sock := com.New(conn, "brk", id, log)
	return &Broker{SocketClient: sock}, nil
}

func (b *Broker) HandleRequests(a *Agent) {
	b.OnPacket(func(p com.In) error {
		switch p.T {
		case api.WebrtcInit:
			rq := api.Unwrap[api.WebrtcSessionPayload](p.Payload)
			if rq == nil {
				b.Route(p, api.EMPTY)
				return api.ErrMalformed
			}
			b.Log.Info().Msgf("Offer requested for session [%v]", rq.SessionId)
			offer, err := a.StartSession(rq.SessionId, b)
			if err != nil {
				b.Route(p, api.EMPTY)
				return err
			}
			b.Route(p, offer)
		case api.WebrtcAnswer:
			rq := api.Unwrap[api.WebrtcSessionPayload](p.Payload)
			if rq == nil {
				return api.ErrMalformed
			}
			return a.HandleAnswer(*rq)
		case api.WebrtcIce:
			rq := api.Unwrap[api.WebrtcSessionPayload](p.Payload)
			if rq == nil {
				return api.ErrMalformed
			}
			return a.HandleIce(*rq)
		case api.SessionEnd:
			ev := api.Unwrap[api.SessionEndEvent](p.Payload)
			if ev == nil {
				return api.ErrMalformed
			}
			b.Log.Info().Msgf("Session [%v] ended: %v", ev.SessionId, ev.Reason)
			a.EndSession(ev.SessionId)
		}
		return nil
	})
}
