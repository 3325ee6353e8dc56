// Package dispatch streams trip status changes to connected WebSocket clients.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/superapp-dispatch/internal/models"
)

const (
	writeWait = 5 * time.Second
	// sendQueue is how many events a session may have pending before it is
	// dropped as a slow consumer.
	sendQueue = 16
)

var (
	ErrSlowConsumer = errors.New("ws session send queue full")
	errSessionDone  = errors.New("ws session closed")
)

// WSSession is one client watching one trip. A single writer goroutine owns
// the data frames of the connection.
type WSSession struct {
	conn *websocket.Conn
	out  chan models.TripEvent
	done chan struct{}
	once sync.Once
	// highest phase index written; only touched by the writer
	last int
}

func newSession(conn *websocket.Conn) *WSSession {
	return &WSSession{
		conn: conn,
		out:  make(chan models.TripEvent, sendQueue),
		done: make(chan struct{}),
		last: -1,
	}
}

// enqueue hands e to the writer without blocking.
func (s *WSSession) enqueue(e models.TripEvent) error {
	select {
	case <-s.done:
		return errSessionDone
	default:
	}
	select {
	case s.out <- e:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (s *WSSession) writeLoop(logger *slog.Logger) {
	for {
		select {
		case <-s.done:
			return
		case e := <-s.out:
			// phases only move forward; anything at or below what the
			// client holds is a duplicate of the snapshot or a stale read
			if e.PhaseIndex <= s.last {
				continue
			}
			s.last = e.PhaseIndex
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(e); err != nil {
				logger.Warn("ws send error", "trip_id", e.TripID, "error", err)
				s.close("")
				return
			}
			if e.Terminal {
				s.close("trip finished")
				return
			}
		}
	}
}

// close sends a normal closure frame, then drops the connection.
func (s *WSSession) close(reason string) {
	s.once.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = s.conn.Close()
	})
}

// Hub fans trip events out to the sessions subscribed to each trip.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*WSSession]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{sessions: make(map[string]map[*WSSession]struct{}), logger: logger}
}

func (h *Hub) add(tripID string, s *WSSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[tripID]
	if !ok {
		set = make(map[*WSSession]struct{})
		h.sessions[tripID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) remove(tripID string, s *WSSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[tripID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, tripID)
	}
}

func (h *Hub) Subscribers(tripID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[tripID])
}

// Serve attaches conn to tripID and blocks reading from the client until it
// disconnects or the trip finishes. snapshot, when set, is read after the
// session is subscribed and sent as the first event, so no transition can
// fall between the two.
func (h *Hub) Serve(tripID string, conn *websocket.Conn, snapshot func() (models.TripEvent, error)) {
	s := newSession(conn)
	h.add(tripID, s)
	defer func() {
		h.remove(tripID, s)
		s.close("")
	}()
	go s.writeLoop(h.logger)

	if snapshot != nil {
		first, err := snapshot()
		if err != nil {
			h.logger.Warn("ws snapshot failed", "trip_id", tripID, "error", err)
			return
		}
		if err := s.enqueue(first); err != nil {
			return
		}
	}
	for {
		// clients do not send anything meaningful; reads only surface closure
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// PublishTripEvent queues e for every session of its trip. Sessions whose
// queue is full are dropped; after a terminal event the trip has no
// subscribers left.
func (h *Hub) PublishTripEvent(_ context.Context, e models.TripEvent) error {
	h.mu.RLock()
	targets := make([]*WSSession, 0, len(h.sessions[e.TripID]))
	for s := range h.sessions[e.TripID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var errs []error
	for _, s := range targets {
		switch err := s.enqueue(e); {
		case errors.Is(err, errSessionDone):
			h.remove(e.TripID, s)
			continue
		case err != nil:
			h.logger.Warn("dropping ws session", "trip_id", e.TripID, "error", err)
			h.remove(e.TripID, s)
			s.close("slow consumer")
			errs = append(errs, fmt.Errorf("trip %s: %w", e.TripID, err))
			continue
		}
		if e.Terminal {
			h.remove(e.TripID, s)
		}
	}
	return errors.Join(errs...)
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.sessions
	h.sessions = make(map[string]map[*WSSession]struct{})
	h.mu.Unlock()
	for _, set := range all {
		for s := range set {
			s.close("server shutting down")
		}
	}
}
