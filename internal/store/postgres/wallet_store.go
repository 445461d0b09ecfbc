package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// WalletStore implements domain.WalletStore. Apply row-locks the wallet with
// SELECT ... FOR UPDATE, so operations on one wallet serialize across
// instances while distinct wallets proceed in parallel.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a WalletStore backed by pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

const walletSelectCols = `user_id, mode, available, held, total_won, total_lost, updated_at`

func scanWallet(row rowScanner) (domain.Wallet, error) {
	var w domain.Wallet
	var mode string
	if err := row.Scan(&w.UserID, &mode, &w.Available, &w.Held, &w.TotalWon, &w.TotalLost, &w.UpdatedAt); err != nil {
		return domain.Wallet{}, err
	}
	w.Mode = domain.WalletMode(mode)
	return w, nil
}

// Get returns a zero wallet when none has been created yet.
func (s *WalletStore) Get(ctx context.Context, key domain.WalletKey) (domain.Wallet, error) {
	w, err := scanWallet(s.pool.QueryRow(ctx,
		`SELECT `+walletSelectCols+` FROM wallets WHERE user_id = $1 AND mode = $2`,
		key.UserID, string(key.Mode)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{UserID: key.UserID, Mode: key.Mode}, nil
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet %s/%s: %w", key.UserID, key.Mode, err)
	}
	return w, nil
}

func (s *WalletStore) Apply(ctx context.Context, entry domain.LedgerEntry, fn domain.WalletMutation) (domain.Wallet, bool, error) {
	var (
		result  domain.Wallet
		applied bool
	)
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallets (user_id, mode) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			entry.UserID, string(entry.Mode)); err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}
		w, err := scanWallet(tx.QueryRow(ctx,
			`SELECT `+walletSelectCols+` FROM wallets WHERE user_id = $1 AND mode = $2 FOR UPDATE`,
			entry.UserID, string(entry.Mode)))
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}

		var seen bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM wallet_entries WHERE ref_id = $1 AND phase = $2)`,
			entry.RefID, string(entry.Kind.Phase())).Scan(&seen); err != nil {
			return fmt.Errorf("check journal: %w", err)
		}
		if seen {
			result = w
			return nil
		}

		next := w
		if err := fn(&next); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE wallets
			SET available = $3, held = $4, total_won = $5, total_lost = $6, updated_at = $7
			WHERE user_id = $1 AND mode = $2`,
			next.UserID, string(next.Mode), next.Available, next.Held,
			next.TotalWon, next.TotalLost, next.UpdatedAt); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO wallet_entries (ref_id, phase, kind, user_id, mode, amount, payout, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			entry.RefID, string(entry.Kind.Phase()), string(entry.Kind),
			entry.UserID, string(entry.Mode), entry.Amount, entry.Payout, entry.CreatedAt); err != nil {
			return fmt.Errorf("journal entry: %w", err)
		}
		result, applied = next, true
		return nil
	})
	if err != nil {
		return domain.Wallet{}, false, fmt.Errorf("postgres: apply %s %s: %w", entry.Kind, entry.RefID, err)
	}
	return result, applied, nil
}

func (s *WalletStore) Entry(ctx context.Context, refID string, phase domain.EntryPhase) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var kind, mode string
	err := s.pool.QueryRow(ctx, `
		SELECT ref_id, kind, user_id, mode, amount, payout, created_at
		FROM wallet_entries WHERE ref_id = $1 AND phase = $2`,
		refID, string(phase)).Scan(&e.RefID, &kind, &e.UserID, &mode, &e.Amount, &e.Payout, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LedgerEntry{}, domain.ErrNotFound
		}
		return domain.LedgerEntry{}, fmt.Errorf("postgres: get entry %s/%s: %w", refID, phase, err)
	}
	e.Kind = domain.EntryKind(kind)
	e.Mode = domain.WalletMode(mode)
	return e, nil
}

var _ domain.WalletStore = (*WalletStore)(nil)
