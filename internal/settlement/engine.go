// Package settlement resolves closed rounds: it aggregates stakes, applies
// minority-wins with the indecision override, resolves every bet and commits
// the wallet ledger. Settling a round twice is safe; bets already resolved
// and ledger entries already journaled are skipped.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/roundbet/internal/domain"
	"github.com/alanyoungcy/roundbet/internal/ledger"
	"github.com/alanyoungcy/roundbet/internal/observability"
	"github.com/alanyoungcy/roundbet/internal/round"
)

// Alert event names passed to the Alerter.
const (
	AlertInconsistency = "settlement_inconsistency"
	AlertLedger        = "ledger_corrupted"
)

// Events receives settlement notifications. Implementations must not block
// and must never fail settlement.
type Events interface {
	RoundStateChanged(ctx context.Context, r domain.Round)
	RoundSettled(ctx context.Context, res domain.SettlementResult)
	BetSettled(ctx context.Context, userID string, p domain.BetSettledPayload)
	WalletUpdated(ctx context.Context, w domain.Wallet)
}

// Alerter forwards operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Engine settles rounds.
type Engine struct {
	rounds  domain.RoundStore
	bets    domain.BetStore
	ledger  *ledger.Ledger
	gate    *round.Gate
	locks   domain.LockManager
	totals  domain.TotalsCache
	audit   domain.AuditStore
	events  Events
	alerter Alerter
	metrics *observability.Metrics
	logger  *slog.Logger

	now     func() time.Time
	lockTTL time.Duration
}

// Deps groups the Engine's collaborators.
type Deps struct {
	Rounds  domain.RoundStore
	Bets    domain.BetStore
	Ledger  *ledger.Ledger
	Gate    *round.Gate
	Locks   domain.LockManager
	Totals  domain.TotalsCache
	Audit   domain.AuditStore
	Events  Events
	Alerter Alerter
	Metrics *observability.Metrics
}

// NewEngine creates an Engine.
func NewEngine(d Deps, logger *slog.Logger) *Engine {
	return &Engine{
		rounds:  d.Rounds,
		bets:    d.Bets,
		ledger:  d.Ledger,
		gate:    d.Gate,
		locks:   d.Locks,
		totals:  d.Totals,
		audit:   d.Audit,
		events:  d.Events,
		alerter: d.Alerter,
		metrics: d.Metrics,
		logger:  logger.With(slog.String("component", "settlement")),
		now:     func() time.Time { return time.Now().UTC() },
		lockTTL: 2 * time.Minute,
	}
}

// WithClock overrides the time source. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Settle settles roundID. A round already SETTLED returns its stored result
// without side effects. A domain.ErrLockHeld error means another instance
// is settling the round.
func (e *Engine) Settle(ctx context.Context, roundID string) (domain.SettlementResult, error) {
	unlock, err := e.locks.Acquire(ctx, "settle:"+roundID, e.lockTTL)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: lock %s: %w", roundID, err)
	}
	defer unlock()

	release := e.gate.Seal(roundID)
	defer release()

	start := time.Now()
	r, err := e.rounds.GetByID(ctx, roundID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: load round %s: %w", roundID, err)
	}
	if r.IsSettled() {
		return e.result(ctx, r)
	}
	if r, err = e.enterSettling(ctx, r); err != nil {
		return domain.SettlementResult{}, err
	}

	all, err := e.bets.ListByRound(ctx, roundID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: load bets %s: %w", roundID, err)
	}
	bets := live(all)
	outcome := Resolve(bets)
	now := e.now()

	var failures []error
	for _, b := range bets {
		if err := e.apply(ctx, b, outcome.Verdicts[b.ID], now); err != nil {
			failures = append(failures, err)
		}
	}
	for _, b := range cancelled(all) {
		if err := e.release(ctx, b); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) == 0 {
		failures = e.verify(ctx, roundID)
	}
	if len(failures) > 0 {
		return domain.SettlementResult{}, e.fail(ctx, r, failures)
	}

	r.OuterWinner = outcome.Winner(domain.MarketOuter)
	r.MiddleWinner = outcome.Winner(domain.MarketMiddle)
	r.InnerWinner = outcome.Winner(domain.MarketInner)
	r.IndecisionTriggered = outcome.IndecisionTriggered
	r.SettledAt = &now
	if err := r.Transition(domain.RoundSettled); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: %w", err)
	}
	if err := e.rounds.MarkSettled(ctx, r); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: mark settled %s: %w", roundID, err)
	}

	settled, err := e.bets.ListByRound(ctx, roundID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: reload bets %s: %w", roundID, err)
	}
	res := buildResult(r, outcome.Totals, live(settled))

	e.logger.InfoContext(ctx, "round settled",
		slog.String("round_id", r.ID),
		slog.Int64("sequence", r.Sequence),
		slog.String("class", r.Class),
		slog.Bool("indecision", r.IndecisionTriggered),
		slog.Int("bets", len(bets)),
		slog.Duration("elapsed", time.Since(start)),
	)
	e.record(ctx, res, time.Since(start))
	e.announce(ctx, r, res, live(settled))
	return res, nil
}

// Result recomputes the stored result of a settled round. Unsettled rounds
// yield domain.ErrNotFound.
func (e *Engine) Result(ctx context.Context, roundID string) (domain.SettlementResult, error) {
	r, err := e.rounds.GetByID(ctx, roundID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: load round %s: %w", roundID, err)
	}
	if !r.IsSettled() {
		return domain.SettlementResult{}, fmt.Errorf("settlement: round %s not settled: %w", roundID, domain.ErrNotFound)
	}
	return e.result(ctx, r)
}

func (e *Engine) result(ctx context.Context, r domain.Round) (domain.SettlementResult, error) {
	all, err := e.bets.ListByRound(ctx, r.ID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: load bets %s: %w", r.ID, err)
	}
	bets := live(all)
	return buildResult(r, Resolve(bets).Totals, bets), nil
}

// enterSettling persists OPEN/FROZEN -> SETTLING so admission sees the round
// closed before any bet is read.
func (e *Engine) enterSettling(ctx context.Context, r domain.Round) (domain.Round, error) {
	if r.State == domain.RoundSettling {
		return r, nil
	}
	from := r.State
	if err := r.Transition(domain.RoundSettling); err != nil {
		return r, fmt.Errorf("settlement: %w", err)
	}
	if err := e.rounds.UpdateState(ctx, r.ID, from, domain.RoundSettling); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return r, fmt.Errorf("settlement: enter settling %s: %w", r.ID, err)
		}
		fresh, gerr := e.rounds.GetByID(ctx, r.ID)
		if gerr != nil {
			return r, fmt.Errorf("settlement: reload round %s: %w", r.ID, gerr)
		}
		if fresh.State != domain.RoundSettling {
			return r, fmt.Errorf("settlement: round %s moved to %s concurrently", r.ID, fresh.State)
		}
		return fresh, nil
	}
	e.events.RoundStateChanged(ctx, r)
	return r, nil
}

// apply records one bet's verdict and commits its stake. The bet update is
// conditional on ACCEPTED and the ledger call is journaled by bet id, so a
// replay after a crash completes only what is missing.
func (e *Engine) apply(ctx context.Context, b domain.Bet, v Verdict, now time.Time) error {
	if b.Status.Terminal() {
		if b.Status != v.Status || b.PayoutOrZero() != v.Payout {
			return fmt.Errorf("%w: bet %s resolved %s/%d, expected %s/%d",
				domain.ErrSettlementInconsistency, b.ID, b.Status, b.PayoutOrZero(), v.Status, v.Payout)
		}
	} else {
		ok, err := e.bets.Resolve(ctx, b.ID, v.Status, v.Payout, now)
		if err != nil {
			return fmt.Errorf("resolve bet %s: %w", b.ID, err)
		}
		if !ok {
			cur, err := e.bets.GetByID(ctx, b.ID)
			if err != nil {
				return fmt.Errorf("reload bet %s: %w", b.ID, err)
			}
			// Voided by an admission that found the round closed after insert.
			if cur.Status == domain.BetCancelled {
				return e.release(ctx, cur)
			}
		}
	}

	var err error
	if v.Status == domain.BetWon {
		_, _, err = e.ledger.CommitWin(ctx, b.UserID, b.Mode, b.Stake, v.Payout, b.ID)
	} else {
		_, _, err = e.ledger.CommitLoss(ctx, b.UserID, b.Mode, b.Stake, b.ID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrLedgerCorrupted) {
			e.alert(ctx, AlertLedger, "Ledger corrupted", err.Error())
		}
		return fmt.Errorf("commit bet %s: %w", b.ID, err)
	}
	return nil
}

// release returns the hold of a cancelled bet. Cancellation marks the bet
// before releasing, so a failure between the two leaves the stake held until
// this runs. A release already journaled is a no-op.
func (e *Engine) release(ctx context.Context, b domain.Bet) error {
	w, err := e.ledger.Release(ctx, b.UserID, b.Mode, b.Stake, b.ID)
	if err != nil {
		if errors.Is(err, domain.ErrLedgerCorrupted) {
			e.alert(ctx, AlertLedger, "Ledger corrupted", err.Error())
		}
		return fmt.Errorf("release cancelled bet %s: %w", b.ID, err)
	}
	e.events.WalletUpdated(ctx, w)
	return nil
}

// verify checks that every bet of the round has a settle-phase journal
// entry matching its status, which means its hold has been consumed or
// returned.
func (e *Engine) verify(ctx context.Context, roundID string) []error {
	all, err := e.bets.ListByRound(ctx, roundID)
	if err != nil {
		return []error{fmt.Errorf("reload bets: %w", err)}
	}
	var errs []error
	for _, b := range all {
		if !b.Status.Terminal() && b.Status != domain.BetCancelled {
			errs = append(errs, fmt.Errorf("%w: bet %s still %s", domain.ErrSettlementInconsistency, b.ID, b.Status))
			continue
		}
		entry, err := e.ledger.Entry(ctx, b.ID, domain.PhaseSettle)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: bet %s has no settle entry: %v", domain.ErrSettlementInconsistency, b.ID, err))
			continue
		}
		var want domain.EntryKind
		switch b.Status {
		case domain.BetWon:
			want = domain.EntryCommitWin
		case domain.BetCancelled:
			want = domain.EntryRelease
		default:
			want = domain.EntryCommitLoss
		}
		if entry.Kind != want || entry.Amount != b.Stake {
			errs = append(errs, fmt.Errorf("%w: bet %s journaled %s/%d, expected %s/%d",
				domain.ErrSettlementInconsistency, b.ID, entry.Kind, entry.Amount, want, b.Stake))
		}
	}
	return errs
}

func (e *Engine) fail(ctx context.Context, r domain.Round, failures []error) error {
	joined := errors.Join(failures...)
	reason := "commit"
	if errors.Is(joined, domain.ErrSettlementInconsistency) {
		reason = "inconsistency"
	}
	e.metrics.SettlementFailures.WithLabelValues(reason).Inc()
	e.logger.ErrorContext(ctx, "settlement incomplete",
		slog.String("round_id", r.ID),
		slog.Int64("sequence", r.Sequence),
		slog.Int("failures", len(failures)),
		slog.String("error", joined.Error()),
	)

	msgs := make([]string, 0, len(failures))
	for _, f := range failures {
		msgs = append(msgs, f.Error())
	}
	if err := e.audit.Log(ctx, AlertInconsistency, map[string]any{
		"round_id": r.ID,
		"class":    r.Class,
		"sequence": r.Sequence,
		"failures": msgs,
	}); err != nil {
		e.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
	e.alert(ctx, AlertInconsistency,
		fmt.Sprintf("Settlement incomplete: %s #%d", r.Class, r.Sequence),
		fmt.Sprintf("round %s: %d failure(s)\n%s", r.ID, len(failures), strings.Join(msgs, "\n")))

	if !errors.Is(joined, domain.ErrSettlementInconsistency) {
		joined = fmt.Errorf("%w: %w", domain.ErrSettlementInconsistency, joined)
	}
	return fmt.Errorf("settlement: round %s: %w", r.ID, joined)
}

func (e *Engine) alert(ctx context.Context, event, title, msg string) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Notify(ctx, event, title, msg); err != nil {
		e.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) record(ctx context.Context, res domain.SettlementResult, elapsed time.Duration) {
	e.metrics.RoundsSettled.WithLabelValues(res.Class).Inc()
	e.metrics.SettlementDuration.Observe(elapsed.Seconds())
	if res.IndecisionTriggered {
		e.metrics.IndecisionTriggered.Inc()
	}
	for _, p := range res.Payouts {
		if p.Payout > 0 {
			e.metrics.PayoutMinor.WithLabelValues(string(p.Mode)).Add(float64(p.Payout))
		}
	}

	if err := e.audit.Log(ctx, "round_settled", map[string]any{
		"round_id":   res.RoundID,
		"class":      res.Class,
		"sequence":   res.RoundNumber,
		"indecision": res.IndecisionTriggered,
		"outer":      string(res.OuterWinner),
		"middle":     string(res.MiddleWinner),
		"inner":      string(res.InnerWinner),
		"users":      len(res.Payouts),
	}); err != nil {
		e.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
	if err := e.totals.Drop(ctx, res.RoundID); err != nil {
		e.logger.WarnContext(ctx, "drop live totals failed", slog.String("error", err.Error()))
	}
}

// announce fans out the result. Nothing here can fail settlement.
func (e *Engine) announce(ctx context.Context, r domain.Round, res domain.SettlementResult, bets []domain.Bet) {
	e.events.RoundStateChanged(ctx, r)
	e.events.RoundSettled(ctx, res)

	for _, b := range bets {
		e.events.BetSettled(ctx, b.UserID, domain.BetSettledPayload{
			BetID:   b.ID,
			RoundID: b.RoundID,
			Status:  b.Status,
			Payout:  b.PayoutOrZero(),
		})
	}
	for _, p := range res.Payouts {
		w, err := e.ledger.Wallet(ctx, p.UserID, p.Mode)
		if err != nil {
			e.logger.WarnContext(ctx, "load wallet for broadcast failed",
				slog.String("user_id", p.UserID),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.events.WalletUpdated(ctx, w)
	}
}

// buildResult aggregates per-user outcomes, ordered by user then mode.
func buildResult(r domain.Round, totals domain.MarketTotals, bets []domain.Bet) domain.SettlementResult {
	byKey := make(map[domain.WalletKey]*domain.UserPayout)
	for _, b := range bets {
		k := domain.WalletKey{UserID: b.UserID, Mode: b.Mode}
		p, ok := byKey[k]
		if !ok {
			p = &domain.UserPayout{UserID: b.UserID, Mode: b.Mode}
			byKey[k] = p
		}
		p.Staked += b.Stake
		p.Payout += b.PayoutOrZero()
	}
	payouts := make([]domain.UserPayout, 0, len(byKey))
	for _, p := range byKey {
		p.Delta = p.Payout - p.Staked
		payouts = append(payouts, *p)
	}
	sort.Slice(payouts, func(i, j int) bool {
		if payouts[i].UserID != payouts[j].UserID {
			return payouts[i].UserID < payouts[j].UserID
		}
		return payouts[i].Mode < payouts[j].Mode
	})

	var settledAt time.Time
	if r.SettledAt != nil {
		settledAt = *r.SettledAt
	}
	return domain.SettlementResult{
		SchemaVersion:       domain.EventSchemaVersion,
		RoundID:             r.ID,
		RoundNumber:         r.Sequence,
		Class:               r.Class,
		OuterWinner:         r.OuterWinner,
		MiddleWinner:        r.MiddleWinner,
		InnerWinner:         r.InnerWinner,
		IndecisionTriggered: r.IndecisionTriggered,
		Totals:              totals,
		Payouts:             payouts,
		SettledAt:           settledAt,
	}
}

func cancelled(bets []domain.Bet) []domain.Bet {
	var out []domain.Bet
	for _, b := range bets {
		if b.Status == domain.BetCancelled {
			out = append(out, b)
		}
	}
	return out
}

// live drops cancelled bets.
func live(bets []domain.Bet) []domain.Bet {
	out := make([]domain.Bet, 0, len(bets))
	for _, b := range bets {
		if b.Status != domain.BetCancelled {
			out = append(out, b)
		}
	}
	return out
}
