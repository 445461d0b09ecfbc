// Package notify delivers operator alerts, such as settlement
// inconsistencies or ledger corruption, to chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sender is one alert channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every sender. Events outside the allow list
// are dropped, and a repeat of the same event and title inside the cooldown
// is suppressed so a round stuck in settlement retries pages once.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	cooldown time.Duration
	prefix   string
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// Options configures a Notifier.
type Options struct {
	// Events is the allow list. Empty allows everything.
	Events []string
	// Cooldown suppresses duplicates. Zero disables suppression.
	Cooldown time.Duration
	// Prefix is prepended to every title, e.g. the environment name.
	Prefix string
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, opts Options, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(opts.Events))
	for _, e := range opts.Events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		cooldown: opts.Cooldown,
		prefix:   opts.Prefix,
		logger:   logger.With(slog.String("component", "notifier")),
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Notify sends an alert for event to all senders. A failing sender does not
// stop delivery to the rest; their errors are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if n.suppressed(event, title) {
		n.logger.DebugContext(ctx, "duplicate alert suppressed",
			slog.String("event", event),
			slog.String("title", title),
		)
		return nil
	}
	if n.prefix != "" {
		title = fmt.Sprintf("[%s] %s", n.prefix, title)
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
	return errors.Join(errs...)
}

func (n *Notifier) suppressed(event, title string) bool {
	if n.cooldown <= 0 {
		return false
	}
	key := event + "\x00" + title
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if at, ok := n.last[key]; ok && now.Sub(at) < n.cooldown {
		return true
	}
	for k, at := range n.last {
		if now.Sub(at) >= n.cooldown {
			delete(n.last, k)
		}
	}
	n.last[key] = now
	return false
}

// LogSender writes alerts to the structured log. It is the fallback when no
// webhook is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "alerts"))}
}

func (l *LogSender) Send(ctx context.Context, title, message string) error {
	l.logger.ErrorContext(ctx, title, slog.String("detail", message))
	return nil
}

func (l *LogSender) Name() string { return "log" }
