package dialer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Wire event types published by the platform's realtime channel.
const (
	SocketEventIncomingCall         = "incoming_call"
	SocketEventIncomingCallTimeout  = "incoming_call_timeout"
	SocketEventIncomingCallCanceled = "incoming_call_canceled"
	SocketEventCallEnded            = "call_ended"

	// SocketEventDown is emitted locally when the connection is lost and
	// the bounded reconnect gave up.
	SocketEventDown = "socket_down"
)

// SocketEvent is one frame off the realtime channel.
type SocketEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// IncomingCallNotice mirrors the server's incoming_call payload.
type IncomingCallNotice struct {
	ExternalSessionID string `json:"externalSessionId"`
	From              string `json:"from"`
	To                string `json:"to"`
}

// CallEndedNotice mirrors the server's call_ended payload.
type CallEndedNotice struct {
	ExternalSessionID string `json:"externalSessionId"`
	Status            string `json:"status"`
	DurationSeconds   int    `json:"duration"`
	Cost              string `json:"cost"`
}

// CancelNotice mirrors the server's incoming_call_canceled payload.
type CancelNotice struct {
	ExternalSessionID string `json:"externalSessionId"`
	Reason            string `json:"reason"`
}

const (
	socketPingInterval      = 30 * time.Second
	socketWriteTimeout      = 10 * time.Second
	socketReconnectAttempts = 3
	socketReconnectBase     = time.Second
)

// Socket is the client side of the realtime channel: connect with a
// session credential, dispatch frames to the emitter, keep the connection
// alive, and attempt one bounded reconnect cycle when it drops.
type Socket struct {
	url   string
	creds *CredentialManager

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	dial func(ctx context.Context, url string) (*websocket.Conn, error)

	Emitter *EventEmitter
}

// NewSocket builds a socket client for the given realtime endpoint
// (e.g. wss://api.example.com/realtime).
func NewSocket(url string, creds *CredentialManager) *Socket {
	return &Socket{
		url:   url,
		creds: creds,
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
		Emitter: NewEventEmitter(),
	}
}

// Connect opens the channel and starts the read and keepalive loops.
func (s *Socket) Connect(ctx context.Context) error {
	cred, _, err := s.creds.EnsureValid(ctx)
	if err != nil {
		return err
	}

	conn, err := s.dial(ctx, s.url+"?token="+cred.Token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.closed = false
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.pingLoop(conn)
	return nil
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.onDisconnect(conn)
			return
		}
		var ev SocketEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
			continue
		}
		s.Emitter.Emit(ev.Type, ev.Payload)
	}
}

func (s *Socket) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(socketPingInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		current := s.conn
		s.mu.Unlock()
		if current != conn {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

// onDisconnect runs one bounded reconnect cycle. If every attempt fails
// the socket reports down and stays down; callers decide whether to build
// a new one.
func (s *Socket) onDisconnect(conn *websocket.Conn) {
	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.mu.Unlock()

	delay := socketReconnectBase
	for attempt := 1; attempt <= socketReconnectAttempts; attempt++ {
		time.Sleep(delay)
		delay *= 2

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), socketWriteTimeout)
		err := s.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
	}
	s.Emitter.Emit(SocketEventDown, nil)
}

// Close shuts the channel down and disables reconnection.
func (s *Socket) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(socketWriteTimeout))
		return conn.Close()
	}
	return nil
}
