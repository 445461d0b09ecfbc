// Package round drives the round lifecycle for every duration class. Each
// class is owned by a single actor goroutine that sleeps until its round's
// next deadline, applies the due transition, hands closed rounds to the
// settler and opens the successor. The round store is the source of truth;
// the actor keeps no round state in memory between steps.
package round

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/roundbet/internal/domain"
	"github.com/alanyoungcy/roundbet/internal/observability"
)

// Settler settles a closed round. It must be idempotent.
type Settler interface {
	Settle(ctx context.Context, roundID string) (domain.SettlementResult, error)
}

// Events receives lifecycle notifications. Implementations must not block.
type Events interface {
	RoundOpened(ctx context.Context, r domain.Round)
	RoundStateChanged(ctx context.Context, r domain.Round)
	RoundTick(ctx context.Context, t domain.TickPayload)
}

// Config tunes the clock.
type Config struct {
	Classes        []domain.DurationClass
	SettleRetry    time.Duration
	SettleRetryMax time.Duration
	TickInterval   time.Duration
}

// Clock owns the per-class actors.
type Clock struct {
	cfg     Config
	rounds  domain.RoundStore
	settler Settler
	events  Events
	metrics *observability.Metrics
	logger  *slog.Logger

	now   func() time.Time
	newID func() string

	actors map[string]*actor
	order  []*actor
}

type actor struct {
	clock    *Clock
	class    domain.DurationClass
	attempts int
	logger   *slog.Logger
}

// New creates a Clock for the configured classes.
func New(
	cfg Config,
	rounds domain.RoundStore,
	settler Settler,
	events Events,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Clock {
	if cfg.SettleRetry <= 0 {
		cfg.SettleRetry = 2 * time.Second
	}
	if cfg.SettleRetryMax < cfg.SettleRetry {
		cfg.SettleRetryMax = time.Minute
	}
	c := &Clock{
		cfg:     cfg,
		rounds:  rounds,
		settler: settler,
		events:  events,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "round_clock")),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		actors:  make(map[string]*actor, len(cfg.Classes)),
	}
	for _, dc := range cfg.Classes {
		a := &actor{
			clock:  c,
			class:  dc,
			logger: c.logger.With(slog.String("class", dc.Name)),
		}
		c.actors[dc.Name] = a
		c.order = append(c.order, a)
	}
	return c
}

// WithClock overrides the time source. Intended for tests.
func (c *Clock) WithClock(now func() time.Time) *Clock {
	c.now = now
	return c
}

// Classes returns the configured duration classes in configuration order.
func (c *Clock) Classes() []domain.DurationClass {
	out := make([]domain.DurationClass, len(c.order))
	for i, a := range c.order {
		out[i] = a.class
	}
	return out
}

// Class looks up a duration class by name.
func (c *Clock) Class(name string) (domain.DurationClass, bool) {
	a, ok := c.actors[name]
	if !ok {
		return domain.DurationClass{}, false
	}
	return a.class, true
}

// Current returns the latest non-settled round of a class.
func (c *Clock) Current(ctx context.Context, class string) (domain.Round, error) {
	if _, ok := c.actors[class]; !ok {
		return domain.Round{}, domain.Invalid("class", fmt.Sprintf("unknown duration class %q", class))
	}
	return c.rounds.Current(ctx, class)
}

// Run starts one actor per class plus the tick broadcaster and blocks until
// ctx is cancelled.
func (c *Clock) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "round clock starting", slog.Int("classes", len(c.order)))

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range c.order {
		g.Go(func() error {
			a.run(gctx)
			return nil
		})
	}
	if c.cfg.TickInterval > 0 {
		g.Go(func() error {
			c.tick(gctx)
			return nil
		})
	}
	err := g.Wait()
	c.logger.Info("round clock stopped")
	return err
}

// Step performs every transition due for class at the current time and
// returns when the class next needs attention. Run calls it in a loop;
// recovery after a restart is simply the first Step.
func (c *Clock) Step(ctx context.Context, class string) (time.Time, error) {
	a, ok := c.actors[class]
	if !ok {
		return time.Time{}, domain.Invalid("class", fmt.Sprintf("unknown duration class %q", class))
	}
	return a.step(ctx)
}

func (a *actor) run(ctx context.Context) {
	a.logger.InfoContext(ctx, "class actor started",
		slog.Duration("duration", a.class.Duration),
		slog.Duration("freeze_window", a.class.FreezeWindow),
	)
	for {
		wake, err := a.step(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			a.logger.ErrorContext(ctx, "round step failed", slog.String("error", err.Error()))
		}

		d := wake.Sub(a.clock.now())
		if d <= 0 {
			continue
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (a *actor) step(ctx context.Context) (time.Time, error) {
	c := a.clock
	now := c.now()

	r, err := c.rounds.Current(ctx, a.class.Name)
	if errors.Is(err, domain.ErrNotFound) {
		return a.open(ctx, now)
	}
	if err != nil {
		return now.Add(c.cfg.SettleRetry), fmt.Errorf("round: load current %s: %w", a.class.Name, err)
	}

	switch r.State {
	case domain.RoundOpen:
		if now.Before(r.FreezeAt) {
			return r.FreezeAt, nil
		}
		if now.Before(r.ClosesAt) {
			if ok, err := a.transition(ctx, r, domain.RoundFrozen); !ok {
				return a.reread(now, err)
			}
			return r.ClosesAt, nil
		}
		// Missed both deadlines while down.
		if ok, err := a.transition(ctx, r, domain.RoundSettling); !ok {
			return a.reread(now, err)
		}
		return a.settle(ctx, r.ID, now)

	case domain.RoundFrozen:
		if now.Before(r.ClosesAt) {
			return r.ClosesAt, nil
		}
		if ok, err := a.transition(ctx, r, domain.RoundSettling); !ok {
			return a.reread(now, err)
		}
		return a.settle(ctx, r.ID, now)

	case domain.RoundSettling:
		return a.settle(ctx, r.ID, now)
	}
	return now.Add(c.cfg.SettleRetry), fmt.Errorf("round %s: unexpected state %s", r.ID, r.State)
}

// reread schedules the next step after a lost or failed transition: at once
// when another writer moved the round, after the retry delay on error.
func (a *actor) reread(now time.Time, err error) (time.Time, error) {
	if err != nil {
		return now.Add(a.clock.cfg.SettleRetry), err
	}
	return now, nil
}

// transition persists r.State -> to. It reports false when the store
// rejected the change, which means another writer moved the round and the
// caller should re-read.
func (a *actor) transition(ctx context.Context, r domain.Round, to domain.RoundState) (bool, error) {
	from := r.State
	if err := r.Transition(to); err != nil {
		return false, err
	}
	if err := a.clock.rounds.UpdateState(ctx, r.ID, from, to); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("round: %s %s -> %s: %w", r.ID, from, to, err)
	}

	a.logger.InfoContext(ctx, "round state changed",
		slog.String("round_id", r.ID),
		slog.Int64("sequence", r.Sequence),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	a.clock.metrics.RoundTransitions.WithLabelValues(a.class.Name, string(to)).Inc()
	a.clock.events.RoundStateChanged(ctx, r)
	return true, nil
}

func (a *actor) settle(ctx context.Context, roundID string, now time.Time) (time.Time, error) {
	c := a.clock
	if _, err := c.settler.Settle(ctx, roundID); err != nil {
		if ctx.Err() != nil {
			return now, nil
		}
		delay := a.backoff()
		c.metrics.SettlementRetries.WithLabelValues(a.class.Name).Inc()
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "settlement in progress elsewhere",
				slog.String("round_id", roundID),
				slog.Duration("retry_in", delay),
			)
			return now.Add(delay), nil
		}
		a.logger.ErrorContext(ctx, "settlement failed; round stays SETTLING",
			slog.String("round_id", roundID),
			slog.Int("attempt", a.attempts),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)
		return now.Add(delay), nil
	}
	a.attempts = 0
	return a.open(ctx, c.now())
}

// backoff doubles the retry delay per consecutive failure up to the cap.
func (a *actor) backoff() time.Duration {
	cfg := a.clock.cfg
	d := cfg.SettleRetry << min(a.attempts, 16)
	if d <= 0 || d > cfg.SettleRetryMax {
		d = cfg.SettleRetryMax
	}
	a.attempts++
	return d
}

// open creates the successor of the class's latest round. The new round
// starts where the previous one closed, unless that would leave it already
// frozen, in which case it starts now.
func (a *actor) open(ctx context.Context, now time.Time) (time.Time, error) {
	c := a.clock
	seq := int64(1)
	openedAt := now

	prev, err := c.rounds.Latest(ctx, a.class.Name)
	switch {
	case err == nil:
		if !prev.IsSettled() {
			return now, nil
		}
		seq = prev.Sequence + 1
		openedAt = prev.ClosesAt
	case !errors.Is(err, domain.ErrNotFound):
		return now.Add(c.cfg.SettleRetry), fmt.Errorf("round: load latest %s: %w", a.class.Name, err)
	}
	if !now.Before(openedAt.Add(a.class.Duration - a.class.FreezeWindow)) {
		openedAt = now
	}

	r := domain.NewRound(c.newID(), seq, a.class, openedAt)
	if err := c.rounds.Create(ctx, r); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return now, nil
		}
		return now.Add(c.cfg.SettleRetry), fmt.Errorf("round: open %s #%d: %w", a.class.Name, seq, err)
	}

	a.logger.InfoContext(ctx, "round opened",
		slog.String("round_id", r.ID),
		slog.Int64("sequence", r.Sequence),
		slog.Time("freeze_at", r.FreezeAt),
		slog.Time("closes_at", r.ClosesAt),
	)
	c.metrics.RoundsOpened.WithLabelValues(a.class.Name).Inc()
	c.events.RoundOpened(ctx, r)
	return r.FreezeAt, nil
}

func (c *Clock) tick(ctx context.Context) {
	t := time.NewTicker(c.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.emitTicks(ctx)
		}
	}
}

func (c *Clock) emitTicks(ctx context.Context) {
	now := c.now()
	for _, a := range c.order {
		r, err := c.rounds.Current(ctx, a.class.Name)
		if err != nil {
			continue
		}
		c.events.RoundTick(ctx, TickFor(r, now))
	}
}

// TickFor computes the countdown to a round's next deadline, rounded up to
// whole seconds.
func TickFor(r domain.Round, now time.Time) domain.TickPayload {
	var deadline time.Time
	switch r.State {
	case domain.RoundOpen:
		deadline = r.FreezeAt
	case domain.RoundFrozen:
		deadline = r.ClosesAt
	}
	var secs int64
	if d := deadline.Sub(now); !deadline.IsZero() && d > 0 {
		secs = int64((d + time.Second - 1) / time.Second)
	}
	return domain.TickPayload{
		RoundID:          r.ID,
		RoundNumber:      r.Sequence,
		Class:            r.Class,
		State:            r.State,
		SecondsRemaining: secs,
	}
}
