package notifier

import (
	"context"
	"sync"

	"chat4all/internal/logger"
	"chat4all/pkg/metrics"
	"chat4all/pkg/models"
)

// Session is one connected client's view of the status stream. Updates are
// buffered without bound so a slow reader delays only itself; disconnecting
// discards whatever it had not read.
type Session struct {
	userID string

	mu     sync.Mutex
	buffer []models.StatusUpdate
	wake   chan struct{}
	closed bool
}

func (s *Session) UserID() string {
	return s.userID
}

func (s *Session) push(update models.StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buffer = append(s.buffer, update)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Next blocks until an update is available, the session is closed, or the
// context ends. The second return is false once no more updates will come.
func (s *Session) Next(ctx context.Context) (models.StatusUpdate, bool) {
	for {
		s.mu.Lock()
		if len(s.buffer) > 0 {
			update := s.buffer[0]
			s.buffer = s.buffer[1:]
			s.mu.Unlock()
			return update, true
		}
		if s.closed {
			s.mu.Unlock()
			return models.StatusUpdate{}, false
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.StatusUpdate{}, false
		case <-s.wake:
		}
	}
}

// Hub fans validated status updates out to the sessions of interested users.
// A user can hold several concurrent sessions; each receives its own copy.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	logger   logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		sessions: map[string]map[*Session]struct{}{},
		logger:   log,
	}
}

func (h *Hub) Register(userID string) *Session {
	session := &Session{
		userID: userID,
		wake:   make(chan struct{}, 1),
	}

	h.mu.Lock()
	set, ok := h.sessions[userID]
	if !ok {
		set = map[*Session]struct{}{}
		h.sessions[userID] = set
	}
	set[session] = struct{}{}
	h.mu.Unlock()

	metrics.NotifierActiveStreams.Inc()
	h.logger.Debugw("Registered notifier session", "user_id", userID)
	return session
}

func (h *Hub) Deregister(session *Session) {
	h.mu.Lock()
	set, ok := h.sessions[session.userID]
	if ok {
		if _, present := set[session]; present {
			delete(set, session)
			metrics.NotifierActiveStreams.Dec()
		}
		if len(set) == 0 {
			delete(h.sessions, session.userID)
		}
	}
	h.mu.Unlock()

	session.close()
	h.logger.Debugw("Deregistered notifier session", "user_id", session.userID)
}

// Publish delivers the update to every session of userID. Users without a
// session simply miss the live event; the persisted status remains the
// source of truth.
func (h *Hub) Publish(userID string, update models.StatusUpdate) {
	h.mu.RLock()
	set := h.sessions[userID]
	sessions := make([]*Session, 0, len(set))
	for session := range set {
		sessions = append(sessions, session)
	}
	h.mu.RUnlock()

	if len(sessions) == 0 {
		metrics.NotifierEventsTotal.WithLabelValues("no_listener").Inc()
		return
	}
	for _, session := range sessions {
		session.push(update)
	}
	metrics.NotifierEventsTotal.WithLabelValues("delivered").Inc()
}

// CloseAll terminates every session, typically during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var all []*Session
	for _, set := range h.sessions {
		for session := range set {
			all = append(all, session)
			metrics.NotifierActiveStreams.Dec()
		}
	}
	h.sessions = map[string]map[*Session]struct{}{}
	h.mu.Unlock()

	for _, session := range all {
		session.close()
	}
}
