package com

import (
	"github.com/imngui/stretch-web-teleop/pkg/api"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
)

// SocketClient is a tagged packet socket with direction-aware logging.
// It is the building block for every signaling participant: the broker
// wraps each accepted connection into one, the agents wrap their dialed
// connection.
type SocketClient struct {
	id   Uid
	Tag  string
	wire *Client
	Log  *logger.Logger
}

func New(conn *Client, tag string, id Uid, log *logger.Logger) SocketClient {
	l := log.Extend(log.With().Str("cid", id.Short()))
	return SocketClient{id: id, wire: conn, Tag: tag, Log: l}
}

func (c SocketClient) OnPacket(fn func(p In) error) {
	c.wire.OnPacket(func(p In) {
		c.Log.Debug().Str(logger.DirectionField, "←").Msgf("%s", p.T)
		if err := fn(p); err != nil {
			c.Log.Error().Err(err).Send()
		}
	})
}

// Send makes a blocking call and waits for the response payload.
func (c SocketClient) Send(t api.PT, data any) ([]byte, error) {
	c.Log.Debug().Str(logger.DirectionField, "→").Msgf("ᵇ%s", t)
	return c.wire.Call(uint8(t), data)
}

// Notify just sends a message and goes further.
func (c SocketClient) Notify(t api.PT, data any) {
	c.Log.Debug().Str(logger.DirectionField, "→").Msgf("%s", t)
	_ = c.wire.Send(uint8(t), data)
}

func (c SocketClient) Disconnect()           { c.wire.Close() }
func (c SocketClient) Id() Uid               { return c.id }
func (c SocketClient) Listen() chan struct{} { return c.wire.Listen() }
func (c SocketClient) Route(in In, pl any)   { _ = c.wire.Route(in, pl) }
func (c SocketClient) String() string        { return c.Tag + ":" + c.Id().String() }
