package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"monexa/pkg/protocol"
)

// Identity is the device binding of a session: the org-scoped device key.
// Device IDs are hostnames and are only unique within an organization, so
// the pair is the registry key.
type Identity struct {
	OrgID    string
	DeviceID string
}

// Session wraps one live transport connection. A session starts unbound and
// acquires an identity exactly once, through Bind. Writes are serialized
// through a single writer goroutine; the handle is stable for the lifetime of
// the connection and used for logging and reverse lookups.
type Session struct {
	handle      string
	conn        *websocket.Conn
	sendCh      chan []byte
	connectedAt time.Time

	writeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.RWMutex
	identity Identity
	bound    bool
	operator bool
}

// New wraps an upgraded WebSocket connection and starts its writer goroutine.
func New(conn *websocket.Conn, sendBuffer int, writeTimeout time.Duration) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		handle:       uuid.New().String(),
		conn:         conn,
		sendCh:       make(chan []byte, sendBuffer),
		connectedAt:  time.Now(),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go s.writeLoop()
	return s
}

// writeLoop is the single writer on the connection and owns its teardown: on
// close it flushes queued frames, sends a close frame and closes the conn, so
// an error queued right before Close still reaches the peer.
func (s *Session) writeLoop() {
	if s.conn == nil {
		<-s.ctx.Done()
		return
	}
	defer func() {
		deadline := time.Now().Add(s.writeTimeout)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = s.conn.Close()
	}()

	for {
		select {
		case data := <-s.sendCh:
			if !s.writeFrame(data) {
				return
			}
		case <-s.ctx.Done():
			for {
				select {
				case data := <-s.sendCh:
					if !s.writeFrame(data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Session) writeFrame(data []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return false
	}
	return s.conn.WriteMessage(websocket.TextMessage, data) == nil
}

// Send queues an envelope for delivery. It fails fast when the session is
// closed and times out rather than blocking a routing fan-out on a slow
// consumer.
func (s *Session) Send(env protocol.Envelope) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}

	data, err := json.Marshal(env)
	if err != nil {
		return protocol.ErrInvalidPayload
	}

	select {
	case s.sendCh <- data:
		return nil
	case <-time.After(s.writeTimeout):
		return ErrSendTimeout
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// SendEvent marshals payload and queues it under the given event name.
func (s *Session) SendEvent(event string, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return s.Send(env)
}

// ReadEnvelope blocks on the next text frame and decodes it. Binary frames
// are skipped.
func (s *Session) ReadEnvelope() (protocol.Envelope, error) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return protocol.Envelope{}, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return protocol.Envelope{}, protocol.ErrInvalidPayload
		}
		return env, nil
	}
}

// Ping sends a control ping with the given timeout.
func (s *Session) Ping(timeout time.Duration) error {
	return s.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(timeout))
}

// ExtendReadDeadline pushes the read deadline forward by d.
func (s *Session) ExtendReadDeadline(d time.Duration) error {
	return s.conn.SetReadDeadline(time.Now().Add(d))
}

// OnPong installs f as the pong handler for heartbeat supervision.
func (s *Session) OnPong(f func()) {
	s.conn.SetPongHandler(func(string) error {
		f()
		return nil
	})
}

// Close stops the session. The writer goroutine flushes queued frames and
// closes the connection, which in turn unblocks any pending read. Safe to
// call from any goroutine, any number of times.
func (s *Session) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

// Done is closed when the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Bind assigns the device identity. A session binds exactly once: rebinding
// with the same identity is a no-op, a different identity is an error.
func (s *Session) Bind(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.operator {
		return ErrOperatorSession
	}
	if s.bound {
		if s.identity == id {
			return nil
		}
		return ErrSessionRebound
	}
	s.identity = id
	s.bound = true
	return nil
}

// Identity returns the bound device identity, if any.
func (s *Session) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.bound
}

// MarkOperator flags the session as an operator (dashboard) connection for
// the given org. Operator sessions never bind a device identity.
func (s *Session) MarkOperator(orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bound {
		return ErrSessionRebound
	}
	s.operator = true
	s.identity = Identity{OrgID: orgID}
	return nil
}

// Operator reports whether this is an operator session and for which org.
func (s *Session) Operator() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.operator {
		return "", false
	}
	return s.identity.OrgID, true
}

// Handle returns the unique session handle.
func (s *Session) Handle() string {
	return s.handle
}

// ConnectedAt returns when the transport connected.
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}
