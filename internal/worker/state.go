package worker

import (
	"slices"
	"sync"

	"userchat/internal/models"
)

// sessionState is the in-process transcript cache, keyed by session id.
type sessionState struct {
	mu      sync.RWMutex
	history map[string][]models.Message
}

func newSessionState() *sessionState {
	return &sessionState{
		history: make(map[string][]models.Message),
	}
}

func (s *sessionState) setHistory(sessionID string, history []models.Message) {
	s.mu.Lock()
	s.history[sessionID] = slices.Clone(history)
	s.mu.Unlock()
}

func (s *sessionState) getHistory(sessionID string) ([]models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history, ok := s.history[sessionID]
	return slices.Clone(history), ok
}

func (s *sessionState) purge(sessionID string) {
	s.mu.Lock()
	delete(s.history, sessionID)
	s.mu.Unlock()
}

func (s *sessionState) reset() {
	s.mu.Lock()
	s.history = make(map[string][]models.Message)
	s.mu.Unlock()
}
