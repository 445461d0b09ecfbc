package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// BetStore implements domain.BetStore.
type BetStore struct {
	mu      sync.RWMutex
	bets    map[string]domain.Bet
	byRound map[string][]string
}

// NewBetStore creates an empty BetStore.
func NewBetStore() *BetStore {
	return &BetStore{
		bets:    make(map[string]domain.Bet),
		byRound: make(map[string][]string),
	}
}

func (s *BetStore) Create(_ context.Context, b domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bets[b.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.bets[b.ID] = b
	s.byRound[b.RoundID] = append(s.byRound[b.RoundID], b.ID)
	return nil
}

func (s *BetStore) GetByID(_ context.Context, id string) (domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bets[id]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *BetStore) ListByRound(_ context.Context, roundID string) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byRound[roundID]
	out := make([]domain.Bet, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.bets[id])
	}
	return out, nil
}

func (s *BetStore) ListByUser(_ context.Context, userID, roundID string, opts domain.ListOpts) ([]domain.Bet, error) {
	s.mu.RLock()
	var out []domain.Bet
	for _, b := range s.bets {
		if b.UserID != userID || (roundID != "" && b.RoundID != roundID) {
			continue
		}
		out = append(out, b)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.After(out[j].PlacedAt) })
	return paginate(out, opts), nil
}

func (s *BetStore) CountAccepted(_ context.Context, userID, roundID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, id := range s.byRound[roundID] {
		b := s.bets[id]
		if b.UserID == userID && b.Status == domain.BetAccepted {
			n++
		}
	}
	return n, nil
}

func (s *BetStore) Cancel(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[id]
	if !ok || b.Status != domain.BetAccepted {
		return domain.ErrNotFound
	}
	b.Status = domain.BetCancelled
	b.ResolvedAt = &at
	s.bets[id] = b
	return nil
}

func (s *BetStore) Resolve(_ context.Context, id string, status domain.BetStatus, payout int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if b.Status != domain.BetAccepted {
		return false, nil
	}
	b.Status = status
	b.Payout = &payout
	b.ResolvedAt = &at
	s.bets[id] = b
	return true, nil
}

var _ domain.BetStore = (*BetStore)(nil)
