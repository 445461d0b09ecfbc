package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/roundbet/internal/broadcast"
	cachemem "github.com/alanyoungcy/roundbet/internal/cache/memory"
	"github.com/alanyoungcy/roundbet/internal/observability"
	"github.com/alanyoungcy/roundbet/internal/server/middleware"
)

type hubFixture struct {
	bus     *cachemem.SignalBus
	hub     *Hub
	metrics *observability.Metrics
	srv     *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f := &hubFixture{
		bus:     cachemem.NewSignalBus(),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
	f.hub = NewHub(f.bus, f.metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go f.hub.Run(ctx)
	require.Eventually(t, func() bool {
		f.hub.mu.RLock()
		defer f.hub.mu.RUnlock()
		return f.hub.base != nil
	}, time.Second, 5*time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", f.hub.HandleWS)
	f.srv = httptest.NewServer(middleware.Identity(mux))
	t.Cleanup(func() {
		f.srv.Close()
		cancel()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	header := http.Header{}
	if userID != "" {
		header.Set(middleware.UserHeader, userID)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello struct {
		Type    string `json:"type"`
		Payload struct {
			UserID   string   `json:"user_id"`
			Channels []string `json:"channels"`
		} `json:"payload"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "connected", hello.Type)
	require.Equal(t, userID, hello.Payload.UserID)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestHub_PrivateChannelIsolation(t *testing.T) {
	f := newHubFixture(t)
	alice := f.dial(t, "alice")
	ctx := context.Background()

	require.NoError(t, f.bus.Publish(ctx, broadcast.ChannelRound, []byte(`"public"`)))
	assert.Equal(t, `"public"`, read(t, alice))

	require.NoError(t, f.bus.Publish(ctx, broadcast.UserChannel("bob"), []byte(`"for bob"`)))
	require.NoError(t, f.bus.Publish(ctx, broadcast.UserChannel("alice"), []byte(`"for alice"`)))
	assert.Equal(t, `"for alice"`, read(t, alice))
}

func TestHub_AnonymousGetsPublicOnly(t *testing.T) {
	f := newHubFixture(t)
	anon := f.dial(t, "")
	ctx := context.Background()

	require.NoError(t, anon.WriteJSON(controlMsg{Action: "subscribe", Channels: []string{broadcast.UserChannel("alice"), "ch:round:*"}}))
	require.NoError(t, anon.WriteJSON(controlMsg{Action: "subscribe", Channels: []string{broadcast.ClassChannel("5m")}}))
	require.Eventually(t, func() bool {
		f.hub.mu.RLock()
		defer f.hub.mu.RUnlock()
		_, ok := f.hub.topics[broadcast.ClassChannel("5m")]
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.bus.Publish(ctx, broadcast.UserChannel("alice"), []byte(`"secret"`)))
	require.NoError(t, f.bus.Publish(ctx, broadcast.ClassChannel("5m"), []byte(`"5m"`)))
	assert.Equal(t, `"5m"`, read(t, anon))
}

func TestHub_CleansUpOnDisconnect(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "carol")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WSClients))

	conn.Close()
	require.Eventually(t, func() bool { return f.hub.clientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, testutil.ToFloat64(f.metrics.WSClients))

	f.hub.mu.RLock()
	defer f.hub.mu.RUnlock()
	assert.Empty(t, f.hub.topics)
}
