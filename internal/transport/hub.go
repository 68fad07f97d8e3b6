package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/registry"
	"github.com/signalsfoundry/groundlink/model"
)

var (
	// ErrUnitNotConnected indicates no live session exists for the unit.
	ErrUnitNotConnected = errors.New("field unit not connected")
	// ErrSessionBacklogged indicates the session's outgoing buffer is full;
	// the message is dropped, never queued.
	ErrSessionBacklogged = errors.New("session send buffer full")
)

const (
	writeWait       = 10 * time.Second
	outgoingBufSize = 32
	maxMessageBytes = 64 * 1024
)

// FleetDirectory is the slice of the registry the hub drives: heartbeats in,
// session lifecycle out.
type FleetDirectory interface {
	ReportStatus(ctx context.Context, rep registry.StatusReport)
	BindSession(sessionID, fuID string)
	OnSessionClosed(ctx context.Context, sessionID string)
	Snapshot() []*model.FieldUnit
}

// AckHandler consumes command acknowledgements arriving over the wire.
type AckHandler interface {
	HandleAck(ctx context.Context, ack model.CommandAck)
}

// session is one websocket connection. Each session writes through its own
// buffered channel and write pump, as concurrent writes to a gorilla
// connection are not allowed.
type session struct {
	id   string
	conn *websocket.Conn

	mu       sync.Mutex
	fuID     string
	closed   bool
	outgoing chan *Envelope
}

func (s *session) enqueue(env *Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnitNotConnected
	}
	select {
	case s.outgoing <- env:
		return nil
	default:
		return ErrSessionBacklogged
	}
}

func (s *session) shutdown() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.outgoing)
	}
	s.mu.Unlock()
}

func (s *session) boundFU() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fuID
}

func (s *session) bind(fuID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fuID == fuID {
		return false
	}
	s.fuID = fuID
	return true
}

// Hub accepts field unit websocket connections, feeds their heartbeats and
// acknowledgements into the registry and engine, and delivers commands and
// schedule updates back out. It implements the engine's CommandSender and
// SchedulePusher.
type Hub struct {
	fleet FleetDirectory
	log   logging.Logger

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
	byFU     map[string]*session

	ackMu sync.RWMutex
	acks  AckHandler
}

// NewHub constructs a hub over the given fleet directory.
func NewHub(fleet FleetDirectory, log logging.Logger) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{
		fleet: fleet,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
		byFU:     make(map[string]*session),
	}
}

// SetAckHandler wires the acknowledgement consumer. Set once during startup,
// after the engine is constructed.
func (h *Hub) SetAckHandler(acks AckHandler) {
	h.ackMu.Lock()
	h.acks = acks
	h.ackMu.Unlock()
}

// ServeHTTP upgrades the request and runs the session until the peer goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}

	sess := &session{
		id:       uuid.NewString(),
		conn:     conn,
		outgoing: make(chan *Envelope, outgoingBufSize),
	}
	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()
	h.log.Info(r.Context(), "session opened",
		logging.String("session_id", sess.id),
		logging.String("remote", conn.RemoteAddr().String()),
	)

	go h.writePump(sess)
	h.readPump(context.Background(), sess)
}

func (h *Hub) writePump(sess *session) {
	defer sess.conn.Close()
	for env := range sess.outgoing {
		sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sess.conn.WriteJSON(env); err != nil {
			return
		}
	}
	sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
	sess.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) readPump(ctx context.Context, sess *session) {
	defer h.dropSession(ctx, sess)
	sess.conn.SetReadLimit(maxMessageBytes)

	for {
		var env Envelope
		if err := sess.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn(ctx, "session read failed",
					logging.String("session_id", sess.id), logging.Err(err))
			}
			return
		}
		h.dispatch(ctx, sess, &env)
	}
}

func (h *Hub) dispatch(ctx context.Context, sess *session, env *Envelope) {
	switch env.Event {
	case EventStatus:
		var rep registry.StatusReport
		if err := json.Unmarshal(env.Data, &rep); err != nil {
			h.log.Warn(ctx, "dropping malformed status payload",
				logging.String("session_id", sess.id), logging.Err(err))
			return
		}
		if rep.FUID == "" {
			h.log.Warn(ctx, "dropping status without fu_id",
				logging.String("session_id", sess.id))
			return
		}
		h.fleet.ReportStatus(ctx, rep)
		if sess.bind(rep.FUID) {
			h.bindSession(sess, rep.FUID)
		}
		h.BroadcastRegistry(ctx)

	case EventCommandAck:
		var ack model.CommandAck
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			h.log.Warn(ctx, "dropping malformed ack payload",
				logging.String("session_id", sess.id), logging.Err(err))
			return
		}
		h.ackMu.RLock()
		acks := h.acks
		h.ackMu.RUnlock()
		if acks != nil {
			acks.HandleAck(ctx, ack)
		}

	default:
		h.log.Warn(ctx, "dropping unknown event",
			logging.String("session_id", sess.id),
			logging.String("event", env.Event),
		)
	}
}

func (h *Hub) bindSession(sess *session, fuID string) {
	h.mu.Lock()
	if old, ok := h.byFU[fuID]; ok && old.id != sess.id {
		// A reconnect replaces the stale session; it will die on its own
		// read error.
		old.shutdown()
	}
	h.byFU[fuID] = sess
	h.mu.Unlock()
	h.fleet.BindSession(sess.id, fuID)
}

func (h *Hub) dropSession(ctx context.Context, sess *session) {
	sess.shutdown()

	h.mu.Lock()
	delete(h.sessions, sess.id)
	if fuID := sess.boundFU(); fuID != "" && h.byFU[fuID] == sess {
		delete(h.byFU, fuID)
	}
	h.mu.Unlock()

	h.fleet.OnSessionClosed(ctx, sess.id)
	h.log.Info(ctx, "session closed", logging.String("session_id", sess.id))
	h.BroadcastRegistry(ctx)
}

// SendCommand delivers a command to the unit's live session. Implements the
// engine's CommandSender; never blocks.
func (h *Hub) SendCommand(ctx context.Context, fuID string, cmd *model.Command) error {
	env, err := NewEnvelope(EventCommand, cmd)
	if err != nil {
		return err
	}
	return h.sendToFU(fuID, env)
}

// PushSchedule delivers the unit's refreshed activity list. Implements the
// engine's SchedulePusher; never blocks.
func (h *Hub) PushSchedule(ctx context.Context, fuID string, activities []*model.Activity) error {
	env, err := NewEnvelope(EventScheduleUpdate, ScheduleUpdate{FUID: fuID, Activities: activities})
	if err != nil {
		return err
	}
	return h.sendToFU(fuID, env)
}

func (h *Hub) sendToFU(fuID string, env *Envelope) error {
	h.mu.RLock()
	sess, ok := h.byFU[fuID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnitNotConnected
	}
	return sess.enqueue(env)
}

// BroadcastRegistry pushes the current fleet snapshot to every session.
// Backlogged sessions miss the update; the next one supersedes it anyway.
func (h *Hub) BroadcastRegistry(ctx context.Context) {
	env, err := NewEnvelope(EventRegistryUpdate, h.fleet.Snapshot())
	if err != nil {
		h.log.Warn(ctx, "failed to encode registry broadcast", logging.Err(err))
		return
	}

	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		targets = append(targets, sess)
	}
	h.mu.RUnlock()

	for _, sess := range targets {
		_ = sess.enqueue(env)
	}
}

// ConnectedUnits returns the IDs of units with a live session.
func (h *Hub) ConnectedUnits() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.byFU))
	for fuID := range h.byFU {
		out = append(out, fuID)
	}
	return out
}
