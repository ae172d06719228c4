package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-pooling/internal/models"
)

const writeTimeout = 2 * time.Second

// ErrNoSession means the driver has no open websocket.
var ErrNoSession = errors.New("no ws session")

// WSSession represents a connected driver session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(e)
}

// WSRegistry holds driver sessions, one per driver; a reconnect replaces the
// previous connection.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	Logger   *slog.Logger
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	old := r.sessions[driverID]
	r.sessions[driverID] = &WSSession{conn: conn}
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
}

// Remove drops the session only if it still belongs to conn.
func (r *WSRegistry) Remove(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok && s.conn == conn {
		delete(r.sessions, driverID)
	}
}

func (r *WSRegistry) Connected(driverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[driverID]
	return ok
}

// Publish pushes e to the driver it names.
func (r *WSRegistry) Publish(_ context.Context, e models.Event) error {
	if e.DriverID == "" {
		return ErrNoSession
	}
	r.mu.RLock()
	s, ok := r.sessions[e.DriverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(e); err != nil {
		r.logger().Warn("ws send error", "driver_id", e.DriverID, "error", err)
		r.Remove(e.DriverID, s.conn)
		return err
	}
	return nil
}

func (r *WSRegistry) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
