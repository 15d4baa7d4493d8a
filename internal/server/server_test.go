package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/cultivate/internal/game"
	"github.com/agentstation/cultivate/internal/server/events"
	ws "github.com/agentstation/cultivate/internal/server/websocket"
	"github.com/agentstation/cultivate/internal/storage/sqlite"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *events.Router, *httptest.Server) {
	t.Helper()
	logger := zerolog.Nop()

	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "cultivate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	catalog, err := game.DefaultCatalog()
	require.NoError(t, err)

	router := events.NewRouter(&logger)
	t.Cleanup(router.Shutdown)

	srv := New(router, game.NewService(store, catalog, router, &logger), store, cfg, &logger)
	srv.Start()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return srv, router, hs
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MetricsInterval = 0
	return cfg
}

func dialWS(t *testing.T, hs *httptest.Server, serverID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.MsgSubscribe, ServerID: serverID}))
	var ack ws.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, ws.MsgSubscribed, ack.Type)
	return conn
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:8080", cfg.Addr())
	assert.Equal(t, "/api/v1", cfg.PathPrefix)
	assert.Positive(t, cfg.QueueSize)
}

func TestServer_DashboardPurchaseReachesSubscribedClients(t *testing.T) {
	_, router, hs := newTestServer(t, testConfig())

	s1 := dialWS(t, hs, "S1")
	s2 := dialWS(t, hs, "S2")
	assert.Equal(t, 1, router.Registry().CountFor("S1"))

	resp := post(t, hs.URL+"/api/v1/servers/S1/purchases", map[string]any{"userId": "u1", "itemId": "spirit-pill"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got map[string]any
	require.NoError(t, s1.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, s1.ReadJSON(&got))
	assert.Equal(t, string(events.ItemPurchased), got["type"])
	assert.Equal(t, "S1", got["serverId"])
	assert.Equal(t, "u1", got["userId"])

	require.NoError(t, s2.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := s2.ReadMessage()
	assert.Error(t, err, "other servers must not receive the event")
}

func TestServer_SSEStream(t *testing.T) {
	_, router, hs := newTestServer(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hs.URL+"/api/v1/servers/S1/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"serverId\":\"S1\"}\n", line)

	require.Eventually(t, func() bool { return router.Registry().CountFor("S1") == 1 }, 2*time.Second, 10*time.Millisecond)
	router.EmitFromBot(events.NewRaw(events.LevelUp, "S1", map[string]any{"userId": "u1"}))

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: {") {
			break
		}
	}
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &got))
	assert.Equal(t, "discord:levelUp", got["type"])
}

func TestServer_AdminRequiresKey(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "ops-key"
	_, _, hs := newTestServer(t, cfg)

	resp, err := http.Get(hs.URL + "/api/v1/admin/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, hs.URL+"/api/v1/admin/metrics", nil)
	req.Header.Set("X-API-Key", "ops-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(hs.URL + "/api/v1/shop")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MethodAndPathRouting(t *testing.T) {
	_, _, hs := newTestServer(t, testConfig())

	resp, err := http.Get(hs.URL + "/api/v1/servers/S1/purchases")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(hs.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(hs.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ShutdownDetachesAdapters(t *testing.T) {
	srv, router, hs := newTestServer(t, testConfig())

	resp := post(t, hs.URL+"/api/v1/servers/S1/missions", map[string]any{"userId": "u1", "missionId": "herb-gathering"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	router.Publish(events.NewRaw("ping", "S1", nil))

	r, err := http.Get(hs.URL + "/api/v1/servers/S1/activity")
	require.NoError(t, err)
	defer r.Body.Close()
	var body struct {
		Data struct {
			Activity []struct {
				Type string `json:"type"`
			} `json:"activity"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	for _, a := range body.Data.Activity {
		assert.NotEqual(t, "ping", a.Type)
	}
}

func TestServer_HTTPShutdownEndsSSEStreams(t *testing.T) {
	srv, router, _ := newTestServer(t, testConfig())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	hs := srv.HTTPServer()
	go func() { _ = hs.Serve(listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/api/v1/servers/S1/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: connected\n", line)
	require.Eventually(t, func() bool { return router.Registry().CountFor("S1") == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, hs.Shutdown(ctx))
	assert.Less(t, time.Since(start), time.Second)
}
