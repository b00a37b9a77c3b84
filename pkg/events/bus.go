package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CloseReasonDuplicate is handed to a sink when a newer connection with the
// same (user, scope, session) tuple displaces it.
const CloseReasonDuplicate = "duplicate connection"

// Sink is the transport half of a connection. Send must be safe to call
// after Close; the bus serializes calls per connection.
type Sink interface {
	Send(data []byte) error
	Close(reason string) error
}

type connKey struct {
	userID    string
	scope     Scope
	sessionID string
}

type connection struct {
	id        string
	userID    string
	scope     Scope
	sessionID string
	sink      Sink

	// sendMu serializes writes so delivery order per connection matches
	// send order.
	sendMu   sync.Mutex
	lastSeen time.Time

	missions map[string]bool
	sessions map[string]bool
}

// Bus fans structured progress events out to subscribed connections.
type Bus struct {
	mu      sync.Mutex
	conns   map[string]*connection
	byKey   map[connKey]*connection
	byUser  map[string]map[string]*connection
	now     func() time.Time
	logger  *slog.Logger
	beat    time.Duration
	timeout time.Duration
}

// NewBus creates an event bus with the default heartbeat cadence.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		conns:   make(map[string]*connection),
		byKey:   make(map[connKey]*connection),
		byUser:  make(map[string]map[string]*connection),
		now:     time.Now,
		logger:  logger,
		beat:    HeartbeatInterval,
		timeout: HeartbeatTimeout,
	}
}

// Connect registers a connection and returns its id. sessionID is empty for
// research/documents scopes. An existing connection with the same
// (user, scope, session) tuple is closed first.
func (b *Bus) Connect(userID string, scope Scope, sessionID string, sink Sink) string {
	key := connKey{userID: userID, scope: scope, sessionID: sessionID}

	b.mu.Lock()
	old := b.byKey[key]
	if old != nil {
		b.removeLocked(old)
	}

	conn := &connection{
		id:        uuid.NewString(),
		userID:    userID,
		scope:     scope,
		sessionID: sessionID,
		sink:      sink,
		lastSeen:  b.now(),
		missions:  make(map[string]bool),
		sessions:  make(map[string]bool),
	}
	if sessionID != "" {
		conn.sessions[sessionID] = true
	}
	b.conns[conn.id] = conn
	b.byKey[key] = conn
	if b.byUser[userID] == nil {
		b.byUser[userID] = make(map[string]*connection)
	}
	b.byUser[userID][conn.id] = conn
	b.mu.Unlock()

	if old != nil {
		b.closeConn(old, CloseReasonDuplicate)
	}
	return conn.id
}

// Subscribe adds a mission to a connection's subscription set.
func (b *Bus) Subscribe(connectionID, missionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn, ok := b.conns[connectionID]
	if !ok {
		return fmt.Errorf("connection %s not found", connectionID)
	}
	conn.missions[missionID] = true
	return nil
}

// Unsubscribe removes a mission from a connection's subscription set.
func (b *Bus) Unsubscribe(connectionID, missionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn, ok := b.conns[connectionID]
	if !ok {
		return fmt.Errorf("connection %s not found", connectionID)
	}
	delete(conn.missions, missionID)
	return nil
}

// Disconnect removes a connection from every subscription and closes its
// sink. Safe to call for an unknown id.
func (b *Bus) Disconnect(connectionID string) {
	b.mu.Lock()
	conn, ok := b.conns[connectionID]
	if ok {
		b.removeLocked(conn)
	}
	b.mu.Unlock()

	if ok {
		b.closeConn(conn, "client disconnect")
	}
}

// Ack records a heartbeat acknowledgement from the client.
func (b *Bus) Ack(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn, ok := b.conns[connectionID]; ok {
		conn.lastSeen = b.now()
	}
}

// SendToMission delivers a payload to every connection subscribed to the
// mission. Delivery is at-most-once; send failures drop the connection.
func (b *Bus) SendToMission(missionID string, payload map[string]any) {
	b.deliver(func(c *connection) bool { return c.missions[missionID] }, payload)
}

// SendToSession delivers a payload to the connection bound to a writing
// session.
func (b *Bus) SendToSession(sessionID string, payload map[string]any) {
	b.deliver(func(c *connection) bool { return c.sessions[sessionID] }, payload)
}

// SendToUser delivers a payload to all of a user's connections.
func (b *Bus) SendToUser(userID string, payload map[string]any) {
	b.deliver(func(c *connection) bool { return true }, mergeUser(payload, userID))
}

func mergeUser(payload map[string]any, userID string) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["_user_id"] = userID
	return out
}

func (b *Bus) deliver(match func(*connection) bool, payload map[string]any) {
	userID, _ := payload["_user_id"].(string)
	delete(payload, "_user_id")

	data, err := Marshal(payload)
	if err != nil {
		b.logger.Warn("dropping unserializable event", "error", err)
		return
	}

	b.mu.Lock()
	var targets []*connection
	if userID != "" {
		for _, conn := range b.byUser[userID] {
			targets = append(targets, conn)
		}
	} else {
		for _, conn := range b.conns {
			if match(conn) {
				targets = append(targets, conn)
			}
		}
	}
	b.mu.Unlock()

	for _, conn := range targets {
		b.send(conn, data)
	}
}

func (b *Bus) send(conn *connection, data []byte) {
	conn.sendMu.Lock()
	err := conn.sink.Send(data)
	conn.sendMu.Unlock()
	if err != nil {
		b.logger.Debug("event delivery failed, dropping connection",
			"connection_id", conn.id, "error", err)
		b.Disconnect(conn.id)
	}
}

// Run drives the heartbeat loop until ctx is cancelled: a heartbeat frame
// every interval, and connections silent longer than the timeout are closed.
func (b *Bus) Run(ctx context.Context) {
	ticker := time.NewTicker(b.beat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Bus) tick() {
	data, err := Marshal(map[string]any{
		"type":      KindHeartbeat,
		"timestamp": b.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	cutoff := b.now().Add(-b.timeout)

	b.mu.Lock()
	var live, stale []*connection
	for _, conn := range b.conns {
		if conn.lastSeen.Before(cutoff) {
			stale = append(stale, conn)
		} else {
			live = append(live, conn)
		}
	}
	for _, conn := range stale {
		b.removeLocked(conn)
	}
	b.mu.Unlock()

	for _, conn := range stale {
		b.closeConn(conn, "heartbeat timeout")
	}
	for _, conn := range live {
		b.send(conn, data)
	}
}

// removeLocked detaches a connection from every index. Caller holds b.mu.
func (b *Bus) removeLocked(conn *connection) {
	delete(b.conns, conn.id)
	key := connKey{userID: conn.userID, scope: conn.scope, sessionID: conn.sessionID}
	if b.byKey[key] == conn {
		delete(b.byKey, key)
	}
	if userConns := b.byUser[conn.userID]; userConns != nil {
		delete(userConns, conn.id)
		if len(userConns) == 0 {
			delete(b.byUser, conn.userID)
		}
	}
}

func (b *Bus) closeConn(conn *connection, reason string) {
	conn.sendMu.Lock()
	defer conn.sendMu.Unlock()
	if err := conn.sink.Close(reason); err != nil {
		b.logger.Debug("error closing connection sink",
			"connection_id", conn.id, "error", err)
	}
}
