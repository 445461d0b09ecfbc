// Package memory implements the domain stores in process. It backs the
// "memory" storage driver and the unit tests; state does not survive restart.
package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

type journalKey struct {
	refID string
	phase domain.EntryPhase
}

// walletSlot serializes every operation on one wallet.
type walletSlot struct {
	mu sync.Mutex
	w  domain.Wallet
}

// WalletStore implements domain.WalletStore with one mutex per wallet so
// different users never contend.
type WalletStore struct {
	mu      sync.Mutex
	wallets map[domain.WalletKey]*walletSlot
	journal map[journalKey]domain.LedgerEntry
}

// NewWalletStore creates an empty WalletStore.
func NewWalletStore() *WalletStore {
	return &WalletStore{
		wallets: make(map[domain.WalletKey]*walletSlot),
		journal: make(map[journalKey]domain.LedgerEntry),
	}
}

func (s *WalletStore) slot(key domain.WalletKey) *walletSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.wallets[key]
	if !ok {
		sl = &walletSlot{w: domain.Wallet{UserID: key.UserID, Mode: key.Mode}}
		s.wallets[key] = sl
	}
	return sl
}

// Get returns the wallet, zero-valued if it has never been touched.
func (s *WalletStore) Get(_ context.Context, key domain.WalletKey) (domain.Wallet, error) {
	sl := s.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.w, nil
}

// Apply implements domain.WalletStore.
func (s *WalletStore) Apply(ctx context.Context, entry domain.LedgerEntry, fn domain.WalletMutation) (domain.Wallet, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Wallet{}, false, err
	}
	sl := s.slot(domain.WalletKey{UserID: entry.UserID, Mode: entry.Mode})
	sl.mu.Lock()
	defer sl.mu.Unlock()

	jk := journalKey{refID: entry.RefID, phase: entry.Kind.Phase()}
	s.mu.Lock()
	_, seen := s.journal[jk]
	s.mu.Unlock()
	if seen {
		return sl.w, false, nil
	}

	next := sl.w
	if err := fn(&next); err != nil {
		return sl.w, false, err
	}
	sl.w = next

	s.mu.Lock()
	s.journal[jk] = entry
	s.mu.Unlock()
	return sl.w, true, nil
}

// Entry returns a journaled operation.
func (s *WalletStore) Entry(_ context.Context, refID string, phase domain.EntryPhase) (domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.journal[journalKey{refID: refID, phase: phase}]
	if !ok {
		return domain.LedgerEntry{}, domain.ErrNotFound
	}
	return e, nil
}

var _ domain.WalletStore = (*WalletStore)(nil)
