package match

import (
	"context"
	"sync"

	xerr "github.com/ajenpan/surfmatch/core/errors"
)

// MemoryStore keeps its own copies: AddMatch stores a clone and every read
// hands out a fresh one, so no caller can change a stored match.
type MemoryStore struct {
	rwlock  sync.RWMutex
	matches map[string]*Match
	tickets map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches: make(map[string]*Match),
		tickets: make(map[string]string),
	}
}

func (s *MemoryStore) AddMatch(_ context.Context, m *Match) error {
	if err := m.validate(); err != nil {
		return err
	}

	s.rwlock.Lock()
	defer s.rwlock.Unlock()

	if _, has := s.matches[m.ID]; has {
		return xerr.Newf(xerr.CodeDuplicateTicket, "match %s already stored", m.ID)
	}
	tickets := m.Tickets()
	for _, t := range tickets {
		if other, has := s.tickets[t]; has {
			return xerr.Newf(xerr.CodeDuplicateTicket, "ticket %s already in match %s", t, other)
		}
	}

	s.matches[m.ID] = m.Clone()
	for _, t := range tickets {
		s.tickets[t] = m.ID
	}
	return nil
}

func (s *MemoryStore) GetMatch(_ context.Context, matchID string) (*Match, bool, error) {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.get(matchID)
}

func (s *MemoryStore) get(matchID string) (*Match, bool, error) {
	m, has := s.matches[matchID]
	if !has {
		return nil, false, nil
	}
	return m.Clone(), true, nil
}

func (s *MemoryStore) GetMatchByTicket(_ context.Context, ticket string) (*Match, bool, error) {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()

	matchID, has := s.tickets[ticket]
	if !has {
		return nil, false, nil
	}
	return s.get(matchID)
}

func (s *MemoryStore) RemoveMatch(_ context.Context, matchID string) (*Match, bool, error) {
	s.rwlock.Lock()
	defer s.rwlock.Unlock()

	m, has := s.matches[matchID]
	if !has {
		return nil, false, nil
	}
	delete(s.matches, matchID)
	for _, t := range m.Tickets() {
		delete(s.tickets, t)
	}
	return m, true, nil
}

func (s *MemoryStore) Len() int {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return len(s.matches)
}
