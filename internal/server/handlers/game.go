package handlers

import (
	"net/http"
	"strconv"

	"github.com/agentstation/cultivate/internal/game"
	"github.com/agentstation/cultivate/internal/server/cache"
	"github.com/agentstation/cultivate/internal/server/response"
)

// activityLimit caps the activity feed page size.
const activityLimit = 200

// HandleShop handles GET /api/v1/shop.
func (h *Handlers) HandleShop(w http.ResponseWriter, _ *http.Request) {
	items := h.game.Shop()
	response.OK(w, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// HandleMissions handles GET /api/v1/missions.
func (h *Handlers) HandleMissions(w http.ResponseWriter, _ *http.Request) {
	missions := h.game.Missions()
	response.OK(w, map[string]any{
		"missions": missions,
		"count":    len(missions),
	})
}

// HandleLeaderboard handles GET /api/v1/servers/{serverID}/leaderboard.
// Query: limit (default 10, max 100).
func (h *Handlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("serverID")
	limit := queryInt(r, "limit", game.DefaultBoardSize)

	key := cache.ServerKey(serverID, "leaderboard", strconv.Itoa(limit))
	if cached, ok := h.cache.Get(key); ok {
		response.OK(w, cached)
		return
	}

	board, err := h.game.Leaderboard(r.Context(), serverID, limit)
	if err != nil {
		response.ErrorFromType(w, r, err)
		return
	}
	result := map[string]any{
		"serverId": serverID,
		"entries":  board,
		"count":    len(board),
	}
	h.cache.Set(key, result)
	response.OK(w, result)
}

// HandleProfile handles GET /api/v1/servers/{serverID}/users/{userID}.
func (h *Handlers) HandleProfile(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("serverID")
	userID := r.PathValue("userID")

	key := cache.ServerKey(serverID, "user", userID)
	if cached, ok := h.cache.Get(key); ok {
		response.OK(w, cached)
		return
	}

	profile, err := h.game.Profile(r.Context(), serverID, userID)
	if err != nil {
		response.ErrorFromType(w, r, err)
		return
	}
	h.cache.Set(key, profile)
	response.OK(w, profile)
}

// HandleActivity handles GET /api/v1/servers/{serverID}/activity.
// Query: limit (default 50, max 200).
func (h *Handlers) HandleActivity(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("serverID")
	limit := min(queryInt(r, "limit", 50), activityLimit)

	items, err := h.activity.RecentActivity(r.Context(), serverID, limit)
	if err != nil {
		response.ErrorFromType(w, r, err)
		return
	}
	response.OK(w, map[string]any{
		"serverId": serverID,
		"activity": items,
		"count":    len(items),
	})
}

type purchaseRequest struct {
	UserID   string `json:"userId"`
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// HandlePurchase handles POST /api/v1/servers/{serverID}/purchases.
func (h *Handlers) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.ErrorFromType(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	u, err := h.game.Purchase(r.Context(), game.FromDashboard, r.PathValue("serverID"), req.UserID, req.ItemID, req.Quantity)
	if err != nil {
		response.ErrorFromType(w, r, err)
		return
	}
	response.Created(w, u)
}

type missionRequest struct {
	UserID    string `json:"userId"`
	MissionID string `json:"missionId"`
}

// HandleCompleteMission handles POST /api/v1/servers/{serverID}/missions.
func (h *Handlers) HandleCompleteMission(w http.ResponseWriter, r *http.Request) {
	var req missionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.ErrorFromType(w, r, err)
		return
	}

	p, err := h.game.CompleteMission(r.Context(), game.FromDashboard, r.PathValue("serverID"), req.UserID, req.MissionID)
	if err != nil {
		response.ErrorFromType(w, r, err)
		return
	}
	response.OK(w, p)
}

type factionRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// HandleCreateFaction handles POST /api/v1/servers/{serverID}/factions.
func (h *Handlers) HandleCreateFaction(w http.ResponseWriter, r *http.Request) {
	var req factionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.ErrorFromType(w, r, err)
		return
	}

	f, err := h.game.CreateFaction(r.Context(), game.FromDashboard, r.PathValue("serverID"), req.UserID, req.Name)
	if err != nil {
		response.ErrorFromType(w, r, err)
		return
	}
	response.Created(w, f)
}

type joinRequest struct {
	UserID string `json:"userId"`
}

// HandleJoinFaction handles POST /api/v1/servers/{serverID}/factions/{factionID}/members.
func (h *Handlers) HandleJoinFaction(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.ErrorFromType(w, r, err)
		return
	}

	f, err := h.game.JoinFaction(r.Context(), game.FromDashboard, r.PathValue("serverID"), req.UserID, r.PathValue("factionID"))
	if err != nil {
		response.ErrorFromType(w, r, err)
		return
	}
	response.OK(w, f)
}

type renameRequest struct {
	DisplayName string `json:"displayName"`
}

// HandleRename handles PATCH /api/v1/servers/{serverID}/users/{userID}.
func (h *Handlers) HandleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.ErrorFromType(w, r, err)
		return
	}

	u, err := h.game.Rename(r.Context(), game.FromDashboard, r.PathValue("serverID"), r.PathValue("userID"), req.DisplayName)
	if err != nil {
		response.ErrorFromType(w, r, err)
		return
	}
	response.OK(w, u)
}

// queryInt parses a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

