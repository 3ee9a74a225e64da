package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/meshlab-core/internal/auth"
	"github.com/nerrad567/meshlab-core/internal/fanout"
)

// Client frame types.
const (
	WSTypeSubscribeDevice   = "subscribe_device"
	WSTypeSubscribeLab      = "subscribe_lab"
	WSTypeUnsubscribeDevice = "unsubscribe_device"
	WSTypeUnsubscribeLab    = "unsubscribe_lab"
	WSTypePing              = "ping"
)

// Server frame types that are replies rather than pushed events.
const (
	WSTypePong         = "pong"
	WSTypeSubscribed   = "subscribed"
	WSTypeUnsubscribed = "unsubscribed"
	WSTypeError        = "error"
)

// WebSocket defaults used when the config leaves a value at zero.
const (
	defaultSendBuffer     = 256
	defaultMaxMessageSize = 4096
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
)

// clientFrame is a message received from a WebSocket client.
type clientFrame struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
	LabID    string `json:"lab_id,omitempty"`
}

// replyFrame answers a client frame on the same connection.
type replyFrame struct {
	Type      string      `json:"type"`
	Kind      fanout.Kind `json:"kind,omitempty"`
	Key       string      `json:"key,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// connState is the receive loop's state.
type connState int

const (
	stateOpen connState = iota
	stateClosing
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// wsConn is one client socket as the fan-out manager sees it. Send only
// queues; the write loop owns the socket's write side.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// ID implements fanout.Conn.
func (c *wsConn) ID() string { return c.id }

// Send implements fanout.Conn. It never blocks: a full buffer is reported
// as a delivery failure.
func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fanout.ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fanout.ErrSendBufferFull
	}
}

// Close implements fanout.Conn. It asks the write loop to flush and hang
// up; it is safe to call more than once.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// handleWebSocket upgrades the request and registers the connection with
// the fan-out manager under the caller's user and role.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "not authenticated")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := newWSConn(ws, s.wsSendBuffer())
	if err := s.fanout.Register(conn, id.UserID, id.Role); err != nil {
		s.logger.Warn("websocket registration refused", "user_id", id.UserID, "error", err)
		//nolint:errcheck // Best-effort close frame on a connection we are abandoning
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		ws.Close()
		return
	}
	s.logger.Debug("websocket connected", "conn_id", conn.id, "user_id", id.UserID, "role", id.Role)

	s.sockets.Add(2)
	go func() {
		defer s.sockets.Done()
		s.writeLoop(conn)
	}()
	defer s.sockets.Done()
	s.readLoop(conn, id)
}

// readLoop is the per-connection receive task. It stays open until the
// socket fails, the peer hangs up, or a reply cannot be queued; then it
// removes the connection from the fan-out manager.
func (s *Server) readLoop(c *wsConn, id auth.Identity) {
	pingInterval, pongWait := s.wsTimings()
	maxSize := s.wsCfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}

	c.ws.SetReadLimit(int64(maxSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	c.ws.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	state := stateOpen
	for state == stateOpen {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "conn_id", c.id, "error", err)
			} else {
				s.logger.Debug("websocket closed", "conn_id", c.id, "error", err)
			}
			state = stateClosing
			continue
		}
		// Any client frame counts as liveness.
		//nolint:errcheck // Best-effort deadline reset
		c.ws.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		state = s.handleFrame(c, id, data)
	}

	s.fanout.Disconnect(c.id)
	c.Close()
}

// handleFrame applies one client frame and returns the next loop state.
// Malformed and unknown frames are ignored.
func (s *Server) handleFrame(c *wsConn, id auth.Identity, data []byte) connState {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Debug("ignoring malformed websocket frame", "conn_id", c.id, "error", err)
		return stateOpen
	}

	var (
		kind      fanout.Kind
		key       string
		subscribe bool
	)
	switch frame.Type {
	case WSTypePing:
		return s.reply(c, replyFrame{Type: WSTypePong})
	case WSTypeSubscribeDevice, WSTypeUnsubscribeDevice:
		kind, key = fanout.KindDevice, s.cache.ResolveID(frame.DeviceID)
		subscribe = frame.Type == WSTypeSubscribeDevice
	case WSTypeSubscribeLab, WSTypeUnsubscribeLab:
		kind, key = fanout.KindLab, frame.LabID
		subscribe = frame.Type == WSTypeSubscribeLab
		if subscribe && !canJoinLab(id, key) {
			return s.reply(c, replyFrame{Type: WSTypeError, Kind: kind, Key: key, Message: "not a member of this lab"})
		}
	default:
		return stateOpen
	}

	var err error
	ack := WSTypeSubscribed
	if subscribe {
		err = s.fanout.Subscribe(c.id, kind, key)
	} else {
		ack = WSTypeUnsubscribed
		err = s.fanout.Unsubscribe(c.id, kind, key)
	}
	switch {
	case errors.Is(err, fanout.ErrUnknownConn):
		// The manager already dropped this connection.
		return stateClosing
	case err != nil:
		return s.reply(c, replyFrame{Type: WSTypeError, Kind: kind, Key: key, Message: err.Error()})
	}
	return s.reply(c, replyFrame{Type: ack, Kind: kind, Key: key})
}

// reply queues a frame for this connection only.
func (s *Server) reply(c *wsConn, f replyFrame) connState {
	f.Timestamp = time.Now().UTC()
	data, err := json.Marshal(f)
	if err != nil {
		s.logger.Error("marshalling websocket reply", "type", f.Type, "error", err)
		return stateOpen
	}
	if err := c.Send(data); err != nil {
		s.logger.Warn("websocket reply not queued", "conn_id", c.id, "error", err)
		return stateClosing
	}
	return stateOpen
}

// writeLoop drains the send buffer onto the socket and keeps it alive with
// pings. When the connection is closed it flushes what is queued, sends a
// close frame and releases the socket, which also ends the read loop.
func (s *Server) writeLoop(c *wsConn) {
	pingInterval, pongWait := s.wsTimings()
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	write := func(messageType int, data []byte) error {
		//nolint:errcheck // Best-effort deadline; write error caught by caller
		c.ws.SetWriteDeadline(time.Now().Add(pongWait))
		return c.ws.WriteMessage(messageType, data)
	}

	for {
		select {
		case msg := <-c.send:
			if err := write(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("websocket write failed", "conn_id", c.id, "error", err)
				s.fanout.Disconnect(c.id)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				s.fanout.Disconnect(c.id)
				c.Close()
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if write(websocket.TextMessage, msg) != nil {
						return
					}
				default:
					//nolint:errcheck // Best-effort close frame
					write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

// canJoinLab reports whether the caller may follow a lab. Staff may follow
// any lab; a student whose token lists labs is limited to those.
func canJoinLab(id auth.Identity, labID string) bool {
	if id.Role.IsPrivileged() || len(id.Labs) == 0 {
		return true
	}
	return slices.Contains(id.Labs, labID)
}

func (s *Server) wsTimings() (pingInterval, pongWait time.Duration) {
	pingInterval = time.Duration(s.wsCfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	pongWait = time.Duration(s.wsCfg.PongTimeout) * time.Second
	if pongWait <= 0 {
		pongWait = defaultPongTimeout
	}
	return pingInterval, pongWait
}

func (s *Server) wsSendBuffer() int {
	if s.wsCfg.SendBuffer > 0 {
		return s.wsCfg.SendBuffer
	}
	return defaultSendBuffer
}
