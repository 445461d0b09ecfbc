package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// RoundStore implements domain.RoundStore.
type RoundStore struct {
	mu     sync.RWMutex
	rounds map[string]domain.Round
}

// NewRoundStore creates an empty RoundStore.
func NewRoundStore() *RoundStore {
	return &RoundStore{rounds: make(map[string]domain.Round)}
}

func (s *RoundStore) Create(_ context.Context, r domain.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rounds[r.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.rounds {
		if existing.Class == r.Class && existing.Sequence == r.Sequence {
			return domain.ErrAlreadyExists
		}
	}
	s.rounds[r.ID] = r
	return nil
}

func (s *RoundStore) GetByID(_ context.Context, id string) (domain.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[id]
	if !ok {
		return domain.Round{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *RoundStore) Current(_ context.Context, class string) (domain.Round, error) {
	return s.latest(class, func(r domain.Round) bool { return r.State != domain.RoundSettled })
}

func (s *RoundStore) Latest(_ context.Context, class string) (domain.Round, error) {
	return s.latest(class, func(domain.Round) bool { return true })
}

func (s *RoundStore) latest(class string, keep func(domain.Round) bool) (domain.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best domain.Round
	found := false
	for _, r := range s.rounds {
		if r.Class != class || !keep(r) {
			continue
		}
		if !found || r.Sequence > best.Sequence {
			best, found = r, true
		}
	}
	if !found {
		return domain.Round{}, domain.ErrNotFound
	}
	return best, nil
}

func (s *RoundStore) UpdateState(_ context.Context, id string, from, to domain.RoundState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok || r.State != from {
		return domain.ErrNotFound
	}
	r.State = to
	s.rounds[id] = r
	return nil
}

func (s *RoundStore) MarkSettled(_ context.Context, settled domain.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[settled.ID]
	if !ok || r.State != domain.RoundSettling {
		return domain.ErrNotFound
	}
	r.State = domain.RoundSettled
	r.SettledAt = settled.SettledAt
	r.OuterWinner = settled.OuterWinner
	r.MiddleWinner = settled.MiddleWinner
	r.InnerWinner = settled.InnerWinner
	r.IndecisionTriggered = settled.IndecisionTriggered
	s.rounds[r.ID] = r
	return nil
}

func (s *RoundStore) History(_ context.Context, class string, opts domain.ListOpts) ([]domain.Round, error) {
	s.mu.RLock()
	var out []domain.Round
	for _, r := range s.rounds {
		if r.Class == class && r.State == domain.RoundSettled {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Sequence > out[j].Sequence })
	return paginate(out, opts), nil
}

func (s *RoundStore) ListSettledBefore(_ context.Context, before time.Time) ([]domain.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Round
	for _, r := range s.rounds {
		if r.State == domain.RoundSettled && r.SettledAt != nil && r.SettledAt.Before(before) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(*out[j].SettledAt) })
	return out, nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.RoundStore = (*RoundStore)(nil)
