package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/DoyleJ11/festival-ballot/internal/archive"
)

type Store struct {
	mu       sync.RWMutex
	entries  []archive.Entry
	sessions map[string]struct{}
}

func NewStore(seed ...archive.Entry) *Store {
	s := &Store{sessions: make(map[string]struct{})}
	for _, e := range seed {
		_ = s.Append(context.Background(), e)
	}
	return s
}

func (s *Store) Append(_ context.Context, e archive.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID := strings.TrimSpace(e.SessionID)
	if sessionID != "" {
		if _, ok := s.sessions[sessionID]; ok {
			return archive.ErrAlreadyArchived
		}
		s.sessions[sessionID] = struct{}{}
	}

	e.SessionID = sessionID
	e.Ranks = e.Ranks.Clone()
	s.entries = append(s.entries, e)
	return nil
}

func (s *Store) List(_ context.Context) ([]archive.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]archive.Entry, len(s.entries))
	for i, e := range s.entries {
		e.Ranks = e.Ranks.Clone()
		out[i] = e
	}
	return out, nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

var _ archive.Store = (*Store)(nil)
