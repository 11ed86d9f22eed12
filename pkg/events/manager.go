package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/codeclash-io/codeclash/pkg/metrics"
)

// MessageHandler routes inbound client events. Implemented by the game
// coordinator; attached after construction to break the dependency cycle
// between fan-out and the match lifecycle.
type MessageHandler interface {
	HandleMessage(ctx context.Context, sess *Session, msg *ClientMessage)
}

// Session represents a single authenticated WebSocket client.
//
// rooms is accessed without a lock: all reads and writes happen on the
// goroutine that owns this session (HandleConnection's read loop and its
// deferred cleanup) or under the manager's roomsMu via joinRoom/leaveRoom.
type Session struct {
	ID     string
	UserID string
	conn   *websocket.Conn
	rooms  map[string]bool
	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes outbound sends per connection.
	writeMu sync.Mutex
}

// ConnectionManager tracks sessions and room membership for one process.
// Cross-process delivery goes through the Publisher/Listener pair; local
// delivery happens when the Listener dispatches back into deliver().
type ConnectionManager struct {
	// Active sessions: session id → session, plus the per-user index. Each
	// user has at most one live session; a new connection supersedes the old.
	sessions map[string]*Session
	byUser   map[string]string
	mu       sync.RWMutex

	// Room membership: room → set of session ids.
	rooms   map[string]map[string]bool
	roomsMu sync.RWMutex

	handler   MessageHandler
	handlerMu sync.RWMutex

	publisher *Publisher

	writeTimeout time.Duration
}

// NewConnectionManager creates a manager that publishes outbound events via
// the given publisher.
func NewConnectionManager(publisher *Publisher, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		sessions:     make(map[string]*Session),
		byUser:       make(map[string]string),
		rooms:        make(map[string]map[string]bool),
		publisher:    publisher,
		writeTimeout: writeTimeout,
	}
}

// SetHandler attaches the inbound message handler. Called once at startup.
func (m *ConnectionManager) SetHandler(h MessageHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handler = h
}

// HandleConnection runs the lifecycle of one authenticated connection.
// Blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	sess := &Session{
		ID:     uuid.New().String(),
		UserID: userID,
		conn:   conn,
		rooms:  make(map[string]bool),
		ctx:    ctx,
		cancel: cancel,
	}

	m.register(sess)
	defer m.unregister(sess)

	m.sendJSON(sess, ServerEvent{Type: EventConnectionEstablished, Data: map[string]string{
		"connection_id": sess.ID,
	}})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "session_id", sess.ID, "error", err)
			m.SendError(sess, "invalid message")
			continue
		}

		if msg.Action == ActionPing {
			m.sendJSON(sess, ServerEvent{Type: EventPong})
			continue
		}

		m.handlerMu.RLock()
		h := m.handler
		m.handlerMu.RUnlock()
		if h != nil {
			h.HandleMessage(ctx, sess, &msg)
		}
	}
}

// JoinRoom adds the session to a room.
func (m *ConnectionManager) JoinRoom(sess *Session, room string) {
	m.roomsMu.Lock()
	if m.rooms[room] == nil {
		m.rooms[room] = make(map[string]bool)
	}
	m.rooms[room][sess.ID] = true
	sess.rooms[room] = true
	m.roomsMu.Unlock()
}

// LeaveRoom removes the session from a room.
func (m *ConnectionManager) LeaveRoom(sess *Session, room string) {
	m.roomsMu.Lock()
	if members, ok := m.rooms[room]; ok {
		delete(members, sess.ID)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
	delete(sess.rooms, room)
	m.roomsMu.Unlock()
}

// BroadcastRoom delivers an event to every member of a room, on every
// process, via the pub/sub bridge.
func (m *ConnectionManager) BroadcastRoom(ctx context.Context, room string, event ServerEvent) {
	if err := m.publisher.Publish(ctx, room, event); err != nil {
		slog.Error("Publishing room event failed", "room", room, "type", event.Type, "error", err)
	}
}

// SendToUser delivers an event to a single user, whichever process their
// connection lives on.
func (m *ConnectionManager) SendToUser(ctx context.Context, userID string, event ServerEvent) {
	if err := m.publisher.Publish(ctx, UserTarget(userID), event); err != nil {
		slog.Error("Publishing user event failed", "user_id", userID, "type", event.Type, "error", err)
	}
}

// SendError reports an error to one session directly, without the bridge.
func (m *ConnectionManager) SendError(sess *Session, message string) {
	m.sendJSON(sess, ServerEvent{Type: EventError, Data: map[string]string{"message": message}})
}

// deliver dispatches a bridged event to local sessions. target is either a
// room name or a user target.
func (m *ConnectionManager) deliver(target string, payload []byte) {
	if userID, ok := parseUserTarget(target); ok {
		m.mu.RLock()
		sess := m.sessionByUserLocked(userID)
		m.mu.RUnlock()
		if sess != nil {
			if err := m.sendRaw(sess, payload); err != nil {
				slog.Warn("Failed to send to WebSocket client", "session_id", sess.ID, "error", err)
			}
		}
		return
	}

	m.roomsMu.RLock()
	members, exists := m.rooms[target]
	if !exists {
		m.roomsMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	m.roomsMu.RUnlock()

	// Snapshot session pointers under the lock, then release before sending,
	// so slow writes never stall register/unregister.
	m.mu.RLock()
	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := m.sessions[id]; ok {
			sessions = append(sessions, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		if err := m.sendRaw(sess, payload); err != nil {
			slog.Warn("Failed to send to WebSocket client", "session_id", sess.ID, "error", err)
		}
	}
}

// ActiveConnections returns the number of live sessions on this process.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RoomMembers returns how many local sessions are in a room.
func (m *ConnectionManager) RoomMembers(room string) int {
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()
	return len(m.rooms[room])
}

func (m *ConnectionManager) register(sess *Session) {
	m.mu.Lock()
	old := m.sessionByUserLocked(sess.UserID)
	m.sessions[sess.ID] = sess
	m.byUser[sess.UserID] = sess.ID
	m.mu.Unlock()

	// One connection per user: the newer connection wins.
	if old != nil {
		slog.Info("Superseding existing connection", "user_id", sess.UserID, "old_session", old.ID)
		old.cancel()
		_ = old.conn.Close(websocket.StatusPolicyViolation, "superseded by a new connection")
	}

	metrics.ActiveConnections.Inc()
}

func (m *ConnectionManager) unregister(sess *Session) {
	m.roomsMu.Lock()
	for room := range sess.rooms {
		if members, ok := m.rooms[room]; ok {
			delete(members, sess.ID)
			if len(members) == 0 {
				delete(m.rooms, room)
			}
		}
	}
	m.roomsMu.Unlock()

	m.mu.Lock()
	delete(m.sessions, sess.ID)
	if m.byUser[sess.UserID] == sess.ID {
		delete(m.byUser, sess.UserID)
	}
	m.mu.Unlock()

	sess.cancel()
	_ = sess.conn.Close(websocket.StatusNormalClosure, "")
	metrics.ActiveConnections.Dec()
}

func (m *ConnectionManager) sessionByUserLocked(userID string) *Session {
	if id, ok := m.byUser[userID]; ok {
		return m.sessions[id]
	}
	return nil
}

func (m *ConnectionManager) sendJSON(sess *Session, event ServerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "session_id", sess.ID, "error", err)
		return
	}
	if err := m.sendRaw(sess, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "session_id", sess.ID, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(sess *Session, data []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(sess.ctx, m.writeTimeout)
	defer cancel()
	return sess.conn.Write(writeCtx, websocket.MessageText, data)
}

func parseUserTarget(target string) (string, bool) {
	const prefix = "user:"
	if len(target) > len(prefix) && target[:len(prefix)] == prefix {
		return target[len(prefix):], true
	}
	return "", false
}
