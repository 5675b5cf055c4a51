package alerts

import (
	"sync"

	"whalewatch/internal/model"
)

// Store is a bounded in-memory alert log, newest first.
type Store struct {
	mu     sync.Mutex
	alerts []model.Alert
	max    int
}

func NewStore(max int) *Store {
	if max <= 0 {
		max = 300
	}
	return &Store{max: max}
}

func (s *Store) Add(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append([]model.Alert{alert}, s.alerts...)
	if len(s.alerts) > s.max {
		s.alerts = s.alerts[:s.max]
	}
}

// Recent returns up to limit alerts, newest first. limit <= 0 returns all.
func (s *Store) Recent(limit int) []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.alerts)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.Alert, n)
	copy(out, s.alerts[:n])
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}
