// Package websocket wraps gorilla/websocket connections into
// read/write pumps with optional keep-alive.
package websocket

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
)

const (
	maxMessageSize = 10 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
)

type WS struct {
	conn     *websocket.Conn
	send     chan []byte
	once     sync.Once
	shutdown sync.WaitGroup

	// OnMessage is called for every inbound message.
	// Must be set before Listen.
	OnMessage MessageHandler

	pingPong bool
	log      *logger.Logger

	Done chan struct{}
}

type MessageHandler func(message []byte, err error)

type Upgrader struct {
	websocket.Upgrader
}

var DefaultUpgrader = Upgrader{
	Upgrader: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
	},
}

// NewUpgrader makes an upgrader that accepts cross-origin requests
// from the given origin, or from anywhere when origin is *.
func NewUpgrader(origin string) *Upgrader {
	u := DefaultUpgrader
	if origin == "*" {
		u.CheckOrigin = func(r *http.Request) bool { return true }
	} else if origin != "" {
		u.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return &u
}

func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, h http.Header) (*websocket.Conn, error) {
	return u.Upgrader.Upgrade(w, r, h)
}

// NewServerWithConn wraps an already upgraded server-side connection.
func NewServerWithConn(conn *websocket.Conn, log *logger.Logger) (*WS, error) {
	return newSocket(conn, true, log), nil
}

// NewClient dials the address and wraps the resulting connection.
func NewClient(address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, isServer bool, log *logger.Logger) *WS {
	return &WS{
		conn:     conn,
		send:     make(chan []byte),
		pingPong: isServer,
		log:      log,
		Done:     make(chan struct{}, 1),
	}
}

// writeMessage applies the write deadline before every frame.
func (ws *WS) writeMessage(t int, data []byte) error {
	if err := ws.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.conn.WriteMessage(t, data)
}

// Listen starts the read and write pumps.
// The returned channel signals after a disconnect of any kind.
func (ws *WS) Listen() chan struct{} {
	ws.once.Do(func() {
		ws.shutdown.Add(2)
		go ws.writer()
		go ws.reader()
	})
	return ws.Done
}

func (ws *WS) Write(data []byte) {
	defer func() { recover() }() // send on closed channel
	ws.send <- data
}

func (ws *WS) Close() {
	_ = ws.writeMessage(websocket.CloseMessage, []byte{})
	_ = ws.conn.Close()
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Blocking, serializes all websocket reads.
func (ws *WS) reader() {
	defer func() {
		close(ws.send)
		ws.shutdown.Done()
		ws.teardown()
	}()
	ws.conn.SetReadLimit(maxMessageSize)
	if ws.pingPong {
		_ = ws.conn.SetReadDeadline(time.Now().Add(pongTime))
		ws.conn.SetPongHandler(func(string) error {
			return ws.conn.SetReadDeadline(time.Now().Add(pongTime))
		})
	}
	for {
		_, message, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Debug().Err(err).Msg("socket read fail")
			}
			return
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, nil)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Blocking, serializes all websocket writes.
func (ws *WS) writer() {
	var ticker *time.Ticker
	var ping <-chan time.Time
	if ws.pingPong {
		ticker = time.NewTicker(pingTime)
		ping = ticker.C
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
		ws.shutdown.Done()
		ws.teardown()
	}()
	for {
		select {
		case message, ok := <-ws.send:
			if !ok {
				_ = ws.writeMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ping:
			if err := ws.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ws *WS) teardown() {
	_ = ws.conn.Close()
	ws.shutdown.Wait()
	select {
	case ws.Done <- struct{}{}:
	default:
	}
}
