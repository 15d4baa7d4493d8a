package game

import "github.com/agentstation/utc"

// StartingStones is the purse of a newly created player.
const StartingStones int64 = 100

// User is a player on one Discord server.
type User struct {
	ServerID    string   `json:"serverId"`
	UserID      string   `json:"userId"`
	DisplayName string   `json:"displayName"`
	Level       int      `json:"level"`
	XP          int64    `json:"xp"`
	Stones      int64    `json:"stones"`
	FactionID   string   `json:"factionId,omitempty"`
	CreatedAt   utc.Time `json:"createdAt"`
	UpdatedAt   utc.Time `json:"updatedAt"`
}

// InventoryItem is a stack of one item owned by a player.
type InventoryItem struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// Faction is a player-founded group on one server.
type Faction struct {
	ID        string   `json:"id"`
	ServerID  string   `json:"serverId"`
	Name      string   `json:"name"`
	LeaderID  string   `json:"leaderId"`
	CreatedAt utc.Time `json:"createdAt"`
}

// Profile is the dashboard view of a player.
type Profile struct {
	User      User            `json:"user"`
	Realm     string          `json:"realm"`
	XPToNext  int64           `json:"xpToNext"`
	Power     int             `json:"power"`
	Inventory []InventoryItem `json:"inventory"`
	Faction   *Faction        `json:"faction,omitempty"`
}

// LeaderboardEntry ranks one player on a server.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Level       int    `json:"level"`
	Realm       string `json:"realm"`
	XP          int64  `json:"xp"`
}

// Progress reports what a mutation did to a player.
type Progress struct {
	User         User   `json:"user"`
	XPGained     int64  `json:"xpGained"`
	LevelsGained int    `json:"levelsGained"`
	Realm        string `json:"realm"`
	RealmChanged bool   `json:"realmChanged"`
}

// SparResult reports the outcome of a spar.
type SparResult struct {
	Winner Progress `json:"winner"`
	Loser  Progress `json:"loser"`
}
