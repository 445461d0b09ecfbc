// Package admission validates and records bets against open rounds and
// handles pre-freeze cancellation. Every state-changing path enters the
// round's gate, so settlement never observes a half-admitted bet.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/roundbet/internal/domain"
	"github.com/alanyoungcy/roundbet/internal/ledger"
	"github.com/alanyoungcy/roundbet/internal/observability"
	"github.com/alanyoungcy/roundbet/internal/round"
)

// Config holds admission limits. Amounts are minor units; zero disables
// MaxStake, MaxOpenBetsPerRound and RateLimit.
type Config struct {
	MinStake            int64
	MaxStake            int64
	MaxOpenBetsPerRound int
	RateLimit           int
	RateWindow          time.Duration
}

// Events receives admission notifications.
type Events interface {
	BetPlaced(ctx context.Context, class string, p domain.BetTotalPayload)
	BetCancelled(ctx context.Context, class string, p domain.BetTotalPayload)
	WalletUpdated(ctx context.Context, w domain.Wallet)
}

// PlaceRequest is a validated-at-the-edge bet submission. Amount is in
// minor units.
type PlaceRequest struct {
	UserID  string
	RoundID string
	Market  domain.Market
	Side    domain.Side
	Amount  int64
	Mode    domain.WalletMode
}

// Controller admits and cancels bets.
type Controller struct {
	cfg       Config
	rounds    domain.RoundStore
	bets      domain.BetStore
	ledger    *ledger.Ledger
	gate      *round.Gate
	directory domain.UserDirectory
	limiter   domain.RateLimiter
	totals    domain.TotalsCache
	events    Events
	metrics   *observability.Metrics
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// Deps groups the Controller's collaborators.
type Deps struct {
	Rounds    domain.RoundStore
	Bets      domain.BetStore
	Ledger    *ledger.Ledger
	Gate      *round.Gate
	Directory domain.UserDirectory
	Limiter   domain.RateLimiter
	Totals    domain.TotalsCache
	Events    Events
	Metrics   *observability.Metrics
}

// NewController creates a Controller.
func NewController(cfg Config, d Deps, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		rounds:    d.Rounds,
		bets:      d.Bets,
		ledger:    d.Ledger,
		gate:      d.Gate,
		directory: d.Directory,
		limiter:   d.Limiter,
		totals:    d.Totals,
		events:    d.Events,
		metrics:   d.Metrics,
		logger:    logger.With(slog.String("component", "admission")),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// WithClock overrides the time source. Intended for tests.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// PlaceBet admits a bet. On any error no bet row exists and no hold remains.
func (c *Controller) PlaceBet(ctx context.Context, req PlaceRequest) (domain.Bet, error) {
	start := time.Now()
	if err := c.validate(ctx, req); err != nil {
		return domain.Bet{}, c.reject(err)
	}
	if err := c.throttle(ctx, req.UserID); err != nil {
		return domain.Bet{}, c.reject(err)
	}

	release := c.gate.Admit(req.RoundID)
	defer release()

	now := c.now()
	r, err := c.openRound(ctx, req.RoundID, now)
	if err != nil {
		return domain.Bet{}, c.reject(err)
	}

	if c.cfg.MaxOpenBetsPerRound > 0 {
		n, err := c.bets.CountAccepted(ctx, req.UserID, req.RoundID)
		if err != nil {
			return domain.Bet{}, fmt.Errorf("admission: count bets: %w", err)
		}
		if n >= c.cfg.MaxOpenBetsPerRound {
			return domain.Bet{}, c.reject(domain.Invalid("round_id",
				fmt.Sprintf("at most %d open bets per round", c.cfg.MaxOpenBetsPerRound)))
		}
	}

	// The clock may have frozen the round since the first read.
	if _, err := c.openRound(ctx, req.RoundID, now); err != nil {
		return domain.Bet{}, c.reject(err)
	}

	bet := domain.Bet{
		ID:       c.newID(),
		UserID:   req.UserID,
		RoundID:  r.ID,
		Market:   req.Market,
		Side:     req.Side,
		Stake:    req.Amount,
		Mode:     req.Mode,
		Status:   domain.BetAccepted,
		PlacedAt: now,
	}
	w, err := c.ledger.Hold(ctx, bet.UserID, bet.Mode, bet.Stake, bet.ID)
	if err != nil {
		return domain.Bet{}, c.reject(err)
	}
	if err := c.bets.Create(ctx, bet); err != nil {
		if _, rerr := c.ledger.Release(ctx, bet.UserID, bet.Mode, bet.Stake, bet.ID); rerr != nil {
			c.logger.ErrorContext(ctx, "release after failed insert",
				slog.String("bet_id", bet.ID),
				slog.String("user_id", bet.UserID),
				slog.String("error", rerr.Error()),
			)
		}
		return domain.Bet{}, fmt.Errorf("admission: insert bet: %w", err)
	}
	if err := c.confirm(ctx, bet, now); err != nil {
		return domain.Bet{}, c.reject(err)
	}

	c.metrics.BetsAccepted.WithLabelValues(string(bet.Market), string(bet.Mode)).Inc()
	c.metrics.AdmissionLatency.Observe(time.Since(start).Seconds())
	c.logger.InfoContext(ctx, "bet accepted",
		slog.String("bet_id", bet.ID),
		slog.String("user_id", bet.UserID),
		slog.String("round_id", bet.RoundID),
		slog.String("side", string(bet.Side)),
		slog.Int64("stake", bet.Stake),
		slog.String("mode", string(bet.Mode)),
	)

	c.events.BetPlaced(ctx, r.Class, c.bumpTotal(ctx, bet, bet.Stake))
	c.events.WalletUpdated(ctx, w)
	return bet, nil
}

// CancelBet cancels an ACCEPTED bet before freeze and releases its hold.
// Only premium users may cancel, and only their own bets.
func (c *Controller) CancelBet(ctx context.Context, userID, betID string) (domain.Bet, error) {
	premium, err := c.directory.IsPremium(ctx, userID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("admission: user tier: %w", err)
	}
	if !premium {
		return domain.Bet{}, fmt.Errorf("cancel requires premium tier: %w", domain.ErrPermissionDenied)
	}

	b, err := c.bets.GetByID(ctx, betID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("admission: load bet %s: %w", betID, err)
	}
	if b.UserID != userID {
		return domain.Bet{}, fmt.Errorf("bet %s belongs to another user: %w", betID, domain.ErrPermissionDenied)
	}
	if b.Status != domain.BetAccepted {
		return domain.Bet{}, domain.Invalid("bet_id", fmt.Sprintf("bet is %s", b.Status))
	}

	release := c.gate.Admit(b.RoundID)
	defer release()

	now := c.now()
	r, err := c.openRound(ctx, b.RoundID, now)
	if err != nil {
		return domain.Bet{}, err
	}
	if err := c.bets.Cancel(ctx, b.ID, now); err != nil {
		return domain.Bet{}, fmt.Errorf("admission: cancel bet %s: %w", b.ID, err)
	}
	w, err := c.ledger.Release(ctx, b.UserID, b.Mode, b.Stake, b.ID)
	if err != nil {
		// The bet is already CANCELLED; settlement releases the hold.
		c.logger.ErrorContext(ctx, "release after cancel failed",
			slog.String("bet_id", b.ID),
			slog.String("user_id", b.UserID),
			slog.String("error", err.Error()),
		)
		return domain.Bet{}, fmt.Errorf("admission: release bet %s: %w", b.ID, err)
	}

	b.Status = domain.BetCancelled
	b.ResolvedAt = &now
	c.metrics.BetsCancelled.Inc()
	c.logger.InfoContext(ctx, "bet cancelled",
		slog.String("bet_id", b.ID),
		slog.String("user_id", b.UserID),
		slog.String("round_id", b.RoundID),
		slog.Int64("stake", b.Stake),
	)

	c.events.BetCancelled(ctx, r.Class, c.bumpTotal(ctx, b, -b.Stake))
	c.events.WalletUpdated(ctx, w)
	return b, nil
}

func (c *Controller) validate(ctx context.Context, req PlaceRequest) error {
	if req.UserID == "" {
		return domain.Invalid("user_id", "required")
	}
	if req.RoundID == "" {
		return domain.Invalid("round_id", "required")
	}
	if !req.Mode.Valid() {
		return domain.Invalid("mode", fmt.Sprintf("unknown mode %q", req.Mode))
	}
	if err := domain.ValidateSelection(req.Market, req.Side); err != nil {
		return err
	}
	if req.Amount <= 0 || req.Amount < c.cfg.MinStake {
		return domain.Invalid("amount", fmt.Sprintf("below minimum stake %s", domain.FormatAmount(c.cfg.MinStake)))
	}
	if req.Amount > domain.MaxAmount {
		return domain.Invalid("amount", "too large")
	}
	if c.cfg.MaxStake > 0 && req.Amount > c.cfg.MaxStake {
		premium, err := c.directory.IsPremium(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("admission: user tier: %w", err)
		}
		if !premium {
			return domain.Invalid("amount", fmt.Sprintf("above per-bet cap %s", domain.FormatAmount(c.cfg.MaxStake)))
		}
	}
	return nil
}

// throttle fails open when the limiter itself is unavailable.
func (c *Controller) throttle(ctx context.Context, userID string) error {
	if c.cfg.RateLimit <= 0 {
		return nil
	}
	ok, err := c.limiter.Allow(ctx, "bets:"+userID, c.cfg.RateLimit, c.cfg.RateWindow)
	if err != nil {
		c.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

// openRound loads the round and checks it accepts bets at now.
func (c *Controller) openRound(ctx context.Context, roundID string, now time.Time) (domain.Round, error) {
	r, err := c.rounds.GetByID(ctx, roundID)
	if err != nil {
		return domain.Round{}, fmt.Errorf("admission: load round %s: %w", roundID, err)
	}
	if err := r.AcceptsBets(now); err != nil {
		return domain.Round{}, fmt.Errorf("round %s #%d: %w", r.Class, r.Sequence, err)
	}
	return r, nil
}

// confirm re-reads the round once the bet row exists. The gate only covers
// this process, so a settler elsewhere may already have entered SETTLING and
// listed the round's bets. Such a bet is voided unless settlement has
// resolved it in the meantime.
func (c *Controller) confirm(ctx context.Context, bet domain.Bet, now time.Time) error {
	r, err := c.rounds.GetByID(ctx, bet.RoundID)
	if err != nil {
		c.logger.WarnContext(ctx, "post-insert round check failed",
			slog.String("bet_id", bet.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if r.State == domain.RoundOpen || r.State == domain.RoundFrozen {
		return nil
	}

	if err := c.bets.Cancel(ctx, bet.ID, now); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("admission: void late bet %s: %w", bet.ID, err)
	}
	if _, err := c.ledger.Release(ctx, bet.UserID, bet.Mode, bet.Stake, bet.ID); err != nil {
		c.logger.ErrorContext(ctx, "release of late bet failed",
			slog.String("bet_id", bet.ID),
			slog.String("user_id", bet.UserID),
			slog.String("error", err.Error()),
		)
	}
	c.logger.WarnContext(ctx, "late bet voided",
		slog.String("bet_id", bet.ID),
		slog.String("round_id", r.ID),
		slog.String("state", string(r.State)),
	)
	return fmt.Errorf("round %s #%d: %w", r.Class, r.Sequence, domain.ErrRoundNotOpen)
}

// bumpTotal updates the display totals. A cache failure only costs
// freshness, so it is logged and the payload carries the last known value.
func (c *Controller) bumpTotal(ctx context.Context, b domain.Bet, delta int64) domain.BetTotalPayload {
	p := domain.BetTotalPayload{RoundID: b.RoundID, Market: b.Market, Side: b.Side}
	total, err := c.totals.Add(ctx, b.RoundID, b.Side, delta)
	if err != nil {
		c.logger.WarnContext(ctx, "live totals update failed",
			slog.String("round_id", b.RoundID),
			slog.String("error", err.Error()),
		)
		if snap, serr := c.totals.Snapshot(ctx, b.RoundID); serr == nil {
			total = snap.Get(b.Side)
		}
	}
	p.NewTotal = total
	return p
}

func (c *Controller) reject(err error) error {
	c.metrics.BetsRejected.WithLabelValues(rejectReason(err)).Inc()
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrRoundFrozen):
		return "frozen"
	case errors.Is(err, domain.ErrRoundNotOpen):
		return "not_open"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	}
	return "error"
}
