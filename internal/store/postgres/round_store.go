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

const pgUniqueViolation = "23505"

// RoundStore implements domain.RoundStore using PostgreSQL.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a RoundStore backed by pool.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

const roundSelectCols = `id, class, sequence, duration_ms, opened_at, freeze_at, closes_at,
	settled_at, state, outer_winner, middle_winner, inner_winner, indecision_triggered`

func scanRound(row rowScanner) (domain.Round, error) {
	var r domain.Round
	var durationMS int64
	var state, outer, middle, inner string
	err := row.Scan(
		&r.ID, &r.Class, &r.Sequence, &durationMS,
		&r.OpenedAt, &r.FreezeAt, &r.ClosesAt, &r.SettledAt,
		&state, &outer, &middle, &inner, &r.IndecisionTriggered,
	)
	if err != nil {
		return domain.Round{}, err
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.State = domain.RoundState(state)
	r.OuterWinner = domain.Side(outer)
	r.MiddleWinner = domain.Side(middle)
	r.InnerWinner = domain.Side(inner)
	return r, nil
}

func collectRounds(rows pgx.Rows) ([]domain.Round, error) {
	defer rows.Close()
	var out []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RoundStore) Create(ctx context.Context, r domain.Round) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rounds (id, class, sequence, duration_ms, opened_at, freeze_at, closes_at, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Class, r.Sequence, r.Duration.Milliseconds(),
		r.OpenedAt, r.FreezeAt, r.ClosesAt, string(r.State),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create round %s: %w", r.ID, err)
	}
	return nil
}

func (s *RoundStore) GetByID(ctx context.Context, id string) (domain.Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx,
		`SELECT `+roundSelectCols+` FROM rounds WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Round{}, domain.ErrNotFound
		}
		return domain.Round{}, fmt.Errorf("postgres: get round %s: %w", id, err)
	}
	return r, nil
}

func (s *RoundStore) Current(ctx context.Context, class string) (domain.Round, error) {
	return s.latest(ctx, class, ` AND state <> 'SETTLED'`)
}

func (s *RoundStore) Latest(ctx context.Context, class string) (domain.Round, error) {
	return s.latest(ctx, class, "")
}

func (s *RoundStore) latest(ctx context.Context, class, filter string) (domain.Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx,
		`SELECT `+roundSelectCols+` FROM rounds WHERE class = $1`+filter+
			` ORDER BY sequence DESC LIMIT 1`, class))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Round{}, domain.ErrNotFound
		}
		return domain.Round{}, fmt.Errorf("postgres: latest round %s: %w", class, err)
	}
	return r, nil
}

// UpdateState is a compare-and-set; ErrNotFound means the round was not in
// the expected state.
func (s *RoundStore) UpdateState(ctx context.Context, id string, from, to domain.RoundState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rounds SET state = $1 WHERE id = $2 AND state = $3`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("postgres: update round %s %s->%s: %w", id, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *RoundStore) MarkSettled(ctx context.Context, r domain.Round) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rounds
		SET state = 'SETTLED', settled_at = $2,
		    outer_winner = $3, middle_winner = $4, inner_winner = $5,
		    indecision_triggered = $6
		WHERE id = $1 AND state = 'SETTLING'`,
		r.ID, r.SettledAt,
		string(r.OuterWinner), string(r.MiddleWinner), string(r.InnerWinner),
		r.IndecisionTriggered,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark settled %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *RoundStore) History(ctx context.Context, class string, opts domain.ListOpts) ([]domain.Round, error) {
	q := newQuery(`SELECT `+roundSelectCols+` FROM rounds WHERE class = $1 AND state = 'SETTLED'`, class)
	q.timeRange("settled_at", opts)
	q.add(" ORDER BY sequence DESC")
	q.page(opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: round history %s: %w", class, err)
	}
	out, err := collectRounds(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan round history %s: %w", class, err)
	}
	return out, nil
}

func (s *RoundStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE state = 'SETTLED' AND settled_at < $1
		 ORDER BY settled_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled before: %w", err)
	}
	out, err := collectRounds(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled rounds: %w", err)
	}
	return out, nil
}

var _ domain.RoundStore = (*RoundStore)(nil)
