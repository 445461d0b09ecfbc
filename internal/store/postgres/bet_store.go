package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a BetStore backed by pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betSelectCols = `id, user_id, round_id, market, side, stake, mode, status,
	payout, placed_at, resolved_at`

func scanBet(row rowScanner) (domain.Bet, error) {
	var b domain.Bet
	var market, side, mode, status string
	err := row.Scan(
		&b.ID, &b.UserID, &b.RoundID, &market, &side, &b.Stake, &mode, &status,
		&b.Payout, &b.PlacedAt, &b.ResolvedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}
	b.Market = domain.Market(market)
	b.Side = domain.Side(side)
	b.Mode = domain.WalletMode(mode)
	b.Status = domain.BetStatus(status)
	return b, nil
}

func collectBets(rows pgx.Rows) ([]domain.Bet, error) {
	defer rows.Close()
	var out []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *BetStore) Create(ctx context.Context, b domain.Bet) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bets (id, user_id, round_id, market, side, stake, mode, status, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.UserID, b.RoundID, string(b.Market), string(b.Side),
		b.Stake, string(b.Mode), string(b.Status), b.PlacedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create bet %s: %w", b.ID, err)
	}
	return nil
}

func (s *BetStore) GetByID(ctx context.Context, id string) (domain.Bet, error) {
	b, err := scanBet(s.pool.QueryRow(ctx,
		`SELECT `+betSelectCols+` FROM bets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return b, nil
}

func (s *BetStore) ListByRound(ctx context.Context, roundID string) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betSelectCols+` FROM bets WHERE round_id = $1 ORDER BY placed_at, id`, roundID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for round %s: %w", roundID, err)
	}
	out, err := collectBets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bets for round %s: %w", roundID, err)
	}
	return out, nil
}

// ListByUser lists a user's bets newest first, optionally within one round.
func (s *BetStore) ListByUser(ctx context.Context, userID, roundID string, opts domain.ListOpts) ([]domain.Bet, error) {
	q := newQuery(`SELECT `+betSelectCols+` FROM bets WHERE user_id = $1`, userID)
	if roundID != "" {
		q.where("round_id", "=", roundID)
	}
	q.timeRange("placed_at", opts)
	q.add(" ORDER BY placed_at DESC")
	q.page(opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for user %s: %w", userID, err)
	}
	out, err := collectBets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bets for user %s: %w", userID, err)
	}
	return out, nil
}

func (s *BetStore) CountAccepted(ctx context.Context, userID, roundID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bets WHERE user_id = $1 AND round_id = $2 AND status = 'ACCEPTED'`,
		userID, roundID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bets %s/%s: %w", userID, roundID, err)
	}
	return n, nil
}

func (s *BetStore) Cancel(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bets SET status = 'CANCELLED', resolved_at = $2 WHERE id = $1 AND status = 'ACCEPTED'`,
		id, at)
	if err != nil {
		return fmt.Errorf("postgres: cancel bet %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *BetStore) Resolve(ctx context.Context, id string, status domain.BetStatus, payout int64, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bets SET status = $2, payout = $3, resolved_at = $4 WHERE id = $1 AND status = 'ACCEPTED'`,
		id, string(status), payout, at)
	if err != nil {
		return false, fmt.Errorf("postgres: resolve bet %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ domain.BetStore = (*BetStore)(nil)
