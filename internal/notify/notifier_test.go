package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, Options{Events: []string{"ledger_corrupted", " "}}, discard())

	require.NoError(t, n.Notify(context.Background(), "settlement_inconsistency", "a", "m"))
	require.NoError(t, n.Notify(context.Background(), "ledger_corrupted", "b", "m"))
	assert.Equal(t, []string{"b"}, s.titles)
}

func TestNotifier_JoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordSender{name: "bad", err: boom}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, Options{Prefix: "prod"}, discard())

	err := n.Notify(context.Background(), "x", "round stuck", "m")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"[prod] round stuck"}, good.titles, "later senders still receive the alert")
}

func TestNotifier_Cooldown(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, Options{Cooldown: time.Minute}, discard())
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, "e", "round r1", "m"))
	require.NoError(t, n.Notify(ctx, "e", "round r1", "m"))
	require.NoError(t, n.Notify(ctx, "e", "round r2", "m"))
	now = now.Add(time.Minute)
	require.NoError(t, n.Notify(ctx, "e", "round r1", "m"))

	assert.Equal(t, []string{"round r1", "round r2", "round r1"}, s.titles)
}

func TestDiscordSender_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL, "roundbet")
	require.NoError(t, d.Send(context.Background(), "Settlement failed", "round r1"))
	assert.Equal(t, "roundbet", got["username"])
	assert.True(t, strings.HasPrefix(got["content"], "**Settlement failed**"))
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL, "").Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestTelegramSender_Send(t *testing.T) {
	var path string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Ledger corrupted", "bet b1"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Ledger corrupted\n\nbet b1", got["text"])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))
}
