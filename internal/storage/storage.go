// Package storage defines persistence records shared by storage backends.
package storage

import (
	"context"
	"encoding/json"

	"github.com/agentstation/utc"
)

// Activity is one published event kept for the dashboard activity feed.
type Activity struct {
	ID        int64           `json:"id"`
	ServerID  string          `json:"serverId"`
	Type      string          `json:"type"`
	Origin    string          `json:"origin"`
	Event     json.RawMessage `json:"event"`
	CreatedAt utc.Time        `json:"createdAt"`
}

// ActivityStore appends and reads the activity feed.
type ActivityStore interface {
	AppendActivity(ctx context.Context, a Activity) error
	RecentActivity(ctx context.Context, serverID string, limit int) ([]Activity, error)
}
