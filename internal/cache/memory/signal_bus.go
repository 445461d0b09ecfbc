package memory

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

const (
	subscriberBuffer = 128
	streamMaxLen     = 10000
)

type subscriber struct {
	pattern string
	out     chan []byte
}

// SignalBus implements domain.SignalBus in process. Channel names containing
// glob characters subscribe by pattern, mirroring Redis PSUBSCRIBE. A slow
// subscriber drops messages instead of blocking publishers.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	streams map[string][]domain.StreamMessage
	seq     map[string]int64
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[*subscriber]struct{}),
		streams: make(map[string][]domain.StreamMessage),
		seq:     make(map[string]int64),
	}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !matchChannel(s.pattern, channel) {
			continue
		}
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case s.out <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers for messages on channel until ctx is cancelled, at
// which point the returned channel is closed.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("memory: subscribe %s: %w", channel, err)
	}
	s := &subscriber{pattern: channel, out: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.out)
		b.mu.Unlock()
	}()
	return s.out, nil
}

func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[stream]++
	msg := make([]byte, len(payload))
	copy(msg, payload)
	entries := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(b.seq[stream], 10) + "-0",
		Payload: msg,
	})
	if len(entries) > streamMaxLen {
		entries = entries[len(entries)-streamMaxLen:]
	}
	b.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries with IDs after lastID. Use "0" or
// "" to read from the beginning.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := streamSeq(lastID)
	if err != nil {
		return nil, fmt.Errorf("memory: stream read %s: %w", stream, err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		seq, _ := streamSeq(m.ID)
		if seq <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) (int64, error) {
	if id == "" || id == "0" {
		return 0, nil
	}
	head, _, _ := strings.Cut(id, "-")
	return strconv.ParseInt(head, 10, 64)
}

func matchChannel(pattern, channel string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == channel
	}
	ok, _ := path.Match(pattern, channel)
	return ok
}

var _ domain.SignalBus = (*SignalBus)(nil)
