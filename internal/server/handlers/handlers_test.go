package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/cultivate/internal/game"
	"github.com/agentstation/cultivate/internal/server/cache"
	"github.com/agentstation/cultivate/internal/server/events"
	"github.com/agentstation/cultivate/internal/server/events/adapters"
	"github.com/agentstation/cultivate/internal/server/sse"
	ws "github.com/agentstation/cultivate/internal/server/websocket"
	"github.com/agentstation/cultivate/internal/storage/sqlite"
)

type fixture struct {
	h      *Handlers
	mux    *http.ServeMux
	router *events.Router
	cache  *cache.Cache
	store  *sqlite.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "cultivate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	catalog, err := game.DefaultCatalog()
	require.NoError(t, err)

	router := events.NewRouter(&logger)
	t.Cleanup(router.Shutdown)
	c := cache.New(time.Minute, time.Minute)
	svc := game.NewService(store, catalog, router, &logger)

	recorder := adapters.NewActivityRecorder(store, 0, &logger)
	recorder.Attach(router)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		recorder.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	invalidator := adapters.NewCacheInvalidator(c, &logger)
	invalidator.Attach(router)
	svc.OnCommit(invalidator.Drop)

	h := New(Deps{
		Game:           svc,
		Activity:       store,
		Store:          store,
		Router:         router,
		Cache:          c,
		WSHub:          ws.NewHub(router.Registry(), ws.Options{}, &logger),
		SSEBroadcaster: sse.NewBroadcaster(router.Registry(), 8, &logger),
		Logger:         &logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)
	mux.HandleFunc("GET /api/v1/ready", h.HandleReady)
	mux.HandleFunc("GET /api/v1/shop", h.HandleShop)
	mux.HandleFunc("GET /api/v1/missions", h.HandleMissions)
	mux.HandleFunc("GET /api/v1/servers/{serverID}/leaderboard", h.HandleLeaderboard)
	mux.HandleFunc("GET /api/v1/servers/{serverID}/users/{userID}", h.HandleProfile)
	mux.HandleFunc("GET /api/v1/servers/{serverID}/activity", h.HandleActivity)
	mux.HandleFunc("POST /api/v1/servers/{serverID}/purchases", h.HandlePurchase)
	mux.HandleFunc("POST /api/v1/servers/{serverID}/missions", h.HandleCompleteMission)
	mux.HandleFunc("POST /api/v1/servers/{serverID}/factions", h.HandleCreateFaction)
	mux.HandleFunc("POST /api/v1/servers/{serverID}/factions/{factionID}/members", h.HandleJoinFaction)
	mux.HandleFunc("PATCH /api/v1/servers/{serverID}/users/{userID}", h.HandleRename)
	mux.HandleFunc("POST /api/v1/servers/{serverID}/events", h.HandleDashboardEvent)
	mux.HandleFunc("GET /api/v1/admin/metrics", h.HandleMetrics)
	mux.HandleFunc("POST /api/v1/admin/metrics/reset", h.HandleResetMetrics)
	mux.HandleFunc("GET /api/v1/admin/stats", h.HandleStats)

	return &fixture{h: h, mux: mux, router: router, cache: c, store: store}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func errorCode(resp map[string]any) string {
	e, _ := resp["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", resp["data"].(map[string]any)["status"])

	rec, resp = f.do(t, http.MethodGet, "/api/v1/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", resp["data"].(map[string]any)["status"])

	f.router.Shutdown()
	rec, _ = f.do(t, http.MethodGet, "/api/v1/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestShopAndMissions(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.do(t, http.MethodGet, "/api/v1/shop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp["data"].(map[string]any)
	assert.EqualValues(t, len(f.h.game.Shop()), data["count"])

	rec, resp = f.do(t, http.MethodGet, "/api/v1/missions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = resp["data"].(map[string]any)
	assert.EqualValues(t, len(f.h.game.Missions()), data["count"])
}

func TestPurchase_PublishesDashboardAction(t *testing.T) {
	f := newFixture(t)

	var actions, botEvents []events.Event
	f.router.OnDashboardAction(events.ItemPurchased, func(e events.Event) error {
		actions = append(actions, e)
		return nil
	})
	f.router.OnBotEvent(events.ItemPurchased, func(e events.Event) error {
		botEvents = append(botEvents, e)
		return nil
	})

	rec, resp := f.do(t, http.MethodPost, "/api/v1/servers/S1/purchases",
		map[string]any{"userId": "u1", "itemId": "spirit-pill", "quantity": 2})
	require.Equal(t, http.StatusCreated, rec.Code, resp)

	user := resp["data"].(map[string]any)
	assert.EqualValues(t, game.StartingStones-100, user["stones"])

	require.Len(t, actions, 1)
	assert.Equal(t, "S1", actions[0].ServerID)
	assert.Empty(t, botEvents)
}

func TestPurchase_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed", "{", http.StatusBadRequest, "BAD_REQUEST"},
		{"empty body", nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown item", map[string]any{"userId": "u1", "itemId": "nope"}, http.StatusNotFound, "NOT_FOUND"},
		{"bad quantity", map[string]any{"userId": "u1", "itemId": "spirit-pill", "quantity": 500}, http.StatusBadRequest, "BAD_REQUEST"},
		{"too poor", map[string]any{"userId": "u1", "itemId": "phoenix-feather"}, http.StatusConflict, "INSUFFICIENT_FUNDS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := f.do(t, http.MethodPost, "/api/v1/servers/S1/purchases", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(resp))
		})
	}
}

func TestProfile_CachedAndInvalidated(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/api/v1/servers/S1/users/u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/servers/S1/missions",
		map[string]any{"userId": "u1", "missionId": "herb-gathering"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := f.do(t, http.MethodGet, "/api/v1/servers/S1/users/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stones := resp["data"].(map[string]any)["user"].(map[string]any)["stones"]

	_, cached := f.cache.Get(cache.ServerKey("S1", "user", "u1"))
	assert.True(t, cached)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/servers/S1/purchases",
		map[string]any{"userId": "u1", "itemId": "spirit-pill"})
	require.Equal(t, http.StatusCreated, rec.Code)

	_, cached = f.cache.Get(cache.ServerKey("S1", "user", "u1"))
	assert.False(t, cached, "purchase event must drop the cached profile")

	_, resp = f.do(t, http.MethodGet, "/api/v1/servers/S1/users/u1", nil)
	after := resp["data"].(map[string]any)["user"].(map[string]any)["stones"]
	assert.NotEqual(t, stones, after)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)

	for _, u := range []string{"u1", "u2"} {
		rec, _ := f.do(t, http.MethodPost, "/api/v1/servers/S1/missions",
			map[string]any{"userId": u, "missionId": "herb-gathering"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, resp := f.do(t, http.MethodGet, "/api/v1/servers/S1/leaderboard?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp["data"].(map[string]any)
	assert.EqualValues(t, 2, data["count"])

	rec, resp = f.do(t, http.MethodGet, "/api/v1/servers/S2/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, resp["data"].(map[string]any)["count"])
}

func TestFactions(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.do(t, http.MethodPost, "/api/v1/servers/S1/factions",
		map[string]any{"userId": "u1", "name": "Azure Cloud Sect"})
	require.Equal(t, http.StatusCreated, rec.Code, resp)
	factionID := resp["data"].(map[string]any)["id"].(string)
	require.NotEmpty(t, factionID)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/servers/S1/factions",
		map[string]any{"userId": "u2", "name": "Azure Cloud Sect"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/servers/S1/factions/"+factionID+"/members",
		map[string]any{"userId": "u2"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/servers/S1/factions/missing/members",
		map[string]any{"userId": "u3"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRename(t *testing.T) {
	f := newFixture(t)

	var got []events.Event
	f.router.OnDashboardAction(events.UserUpdated, func(e events.Event) error {
		got = append(got, e)
		return nil
	})

	rec, resp := f.do(t, http.MethodPatch, "/api/v1/servers/S1/users/u1",
		map[string]any{"displayName": "Lan Zhan"})
	require.Equal(t, http.StatusOK, rec.Code, resp)
	assert.Equal(t, "Lan Zhan", resp["data"].(map[string]any)["displayName"])
	require.Len(t, got, 1)
	assert.Equal(t, "S1", got[0].ServerID)

	rec, resp = f.do(t, http.MethodPatch, "/api/v1/servers/S1/users/u1",
		map[string]any{"displayName": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", errorCode(resp))
}

func TestDashboardEvent(t *testing.T) {
	f := newFixture(t)

	var got []events.Event
	f.router.OnDashboardAction("giftSent", func(e events.Event) error {
		got = append(got, e)
		return nil
	})

	rec, _ := f.do(t, http.MethodPost, "/api/v1/servers/S1/events",
		map[string]any{"type": "giftSent", "serverId": "ignored", "userId": "u1", "amount": 3})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, got, 1)
	assert.Equal(t, "S1", got[0].ServerID)
	assert.EqualValues(t, 3, got[0].Fields["amount"])
	assert.False(t, got[0].Timestamp.Time.IsZero())

	rec, resp := f.do(t, http.MethodPost, "/api/v1/servers/S1/events",
		map[string]any{"type": "discord:giftSent"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", errorCode(resp))

	rec, _ = f.do(t, http.MethodPost, "/api/v1/servers/S1/events", map[string]any{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.router.Shutdown()
	rec, _ = f.do(t, http.MethodPost, "/api/v1/servers/S1/events", map[string]any{"type": "giftSent"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestActivity(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodPost, "/api/v1/servers/S1/purchases",
		map[string]any{"userId": "u1", "itemId": "spirit-pill"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var data map[string]any
	require.Eventually(t, func() bool {
		rec, resp := f.do(t, http.MethodGet, "/api/v1/servers/S1/activity?limit=10", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		data = resp["data"].(map[string]any)
		return data["count"] == float64(1)
	}, 2*time.Second, 10*time.Millisecond)
	first := data["activity"].([]any)[0].(map[string]any)
	assert.Equal(t, string(events.ItemPurchased), first["type"])
	assert.Equal(t, "dashboard", first["origin"])
}

func TestAdminMetrics(t *testing.T) {
	f := newFixture(t)

	f.router.Publish(events.NewRaw("ping", "S1", nil))
	f.router.Publish(events.Event{Type: "ping"})

	rec, resp := f.do(t, http.MethodGet, "/api/v1/admin/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp["data"].(map[string]any)
	assert.EqualValues(t, 1, data["totalEvents"])
	assert.EqualValues(t, 1, data["failedBroadcasts"])

	rec, resp = f.do(t, http.MethodPost, "/api/v1/admin/metrics/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = resp["data"].(map[string]any)
	assert.EqualValues(t, 0, data["totalEvents"])
	assert.EqualValues(t, 0, data["failedBroadcasts"])

	rec, resp = f.do(t, http.MethodGet, "/api/v1/admin/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = resp["data"].(map[string]any)
	assert.Contains(t, data, "runtime")
	assert.Contains(t, data, "events")
	assert.Contains(t, data, "realtime")
}

// cacheCheckingConn reports, on each send, whether the leaderboard was still
// cached when the event arrived.
type cacheCheckingConn struct {
	cache *cache.Cache
	key   string

	mu        sync.Mutex
	sawCached []bool
}

func (c *cacheCheckingConn) ID() string   { return "dashboard-1" }
func (c *cacheCheckingConn) Alive() bool  { return true }
func (c *cacheCheckingConn) Close() error { return nil }

func (c *cacheCheckingConn) Send([]byte) error {
	_, found := c.cache.Get(c.key)
	c.mu.Lock()
	c.sawCached = append(c.sawCached, found)
	c.mu.Unlock()
	return nil
}

func TestLeaderboard_InvalidatedBeforeBroadcast(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodPost, "/api/v1/servers/S1/missions",
		map[string]any{"userId": "u1", "missionId": "herb-gathering"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/api/v1/servers/S1/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	key := cache.ServerKey("S1", "leaderboard", "10")
	_, cached := f.cache.Get(key)
	require.True(t, cached)

	conn := &cacheCheckingConn{cache: f.cache, key: key}
	f.router.Registry().Register("S1", conn)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/servers/S1/purchases",
		map[string]any{"userId": "u1", "itemId": "spirit-pill"})
	require.Equal(t, http.StatusCreated, rec.Code)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, []bool{false}, conn.sawCached)
}
