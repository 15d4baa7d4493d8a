// Package events coordinates game events between the Discord bot and the web
// dashboard.
//
// A single Router per process fans every published Event out to the live
// dashboard connections of the event's server and to in-process listeners.
// Bot-origin events travel with a "discord:" type prefix; dashboard actions are
// additionally re-emitted on an action channel keyed by their bare type, so bot
// listeners and dashboard-action listeners of the same type never cross-fire.
package events

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/agentstation/utc"
)

// Type is the wire type tag of an event.
type Type string

// Known event types.
const (
	LevelUp          Type = "levelUp"
	RealmAdvanced    Type = "realmAdvanced"
	ItemPurchased    Type = "itemPurchased"
	MissionCompleted Type = "missionCompleted"
	BattleResult     Type = "battleResult"
	FactionCreated   Type = "factionCreated"
	FactionJoined    Type = "factionJoined"
	UserUpdated      Type = "userUpdated"
)

// BotPrefix marks events that originated in Discord.
const BotPrefix = "discord:"

// TimestampFormat is the ISO-8601 layout used on the wire.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// reserved keys belong to the envelope and can't be overridden by payloads.
var reserved = []string{"type", "serverId", "timestamp"}

// Bare returns t without the bot-origin prefix.
func (t Type) Bare() Type {
	return Type(strings.TrimPrefix(string(t), BotPrefix))
}

// FromBot reports whether t carries the bot-origin prefix.
func (t Type) FromBot() bool {
	return strings.HasPrefix(string(t), BotPrefix)
}

// Payload is one of the known event shapes.
type Payload interface {
	Kind() Type
}

// LevelUpPayload is sent for every level a player gains.
type LevelUpPayload struct {
	UserID        string `json:"userId"`
	Level         int    `json:"level"`
	PreviousLevel int    `json:"previousLevel"`
}

// RealmAdvancedPayload is sent when a player breaks through to a new realm.
type RealmAdvancedPayload struct {
	UserID        string `json:"userId"`
	Realm         string `json:"realm"`
	PreviousRealm string `json:"previousRealm"`
}

// ItemPurchasedPayload is sent after a shop purchase commits.
type ItemPurchasedPayload struct {
	UserID   string `json:"userId"`
	ItemID   string `json:"itemId"`
	ItemName string `json:"itemName"`
	Quantity int    `json:"quantity"`
	Cost     int64  `json:"cost"`
}

// MissionCompletedPayload is sent when a mission reward is granted.
type MissionCompletedPayload struct {
	UserID      string `json:"userId"`
	MissionID   string `json:"missionId"`
	MissionName string `json:"missionName"`
	XP          int64  `json:"xp"`
	Stones      int64  `json:"stones"`
}

// BattleResultPayload describes the outcome of a spar.
type BattleResultPayload struct {
	WinnerID string `json:"winnerId"`
	LoserID  string `json:"loserId"`
	WinnerXP int64  `json:"winnerXp"`
	LoserXP  int64  `json:"loserXp"`
}

// FactionCreatedPayload is sent when a faction is founded.
type FactionCreatedPayload struct {
	FactionID string `json:"factionId"`
	Name      string `json:"name"`
	LeaderID  string `json:"leaderId"`
}

// FactionJoinedPayload is sent when a player joins a faction.
type FactionJoinedPayload struct {
	FactionID string `json:"factionId"`
	Name      string `json:"name"`
	UserID    string `json:"userId"`
}

// UserUpdatedPayload is sent when a player's profile changes.
type UserUpdatedPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

func (LevelUpPayload) Kind() Type          { return LevelUp }
func (RealmAdvancedPayload) Kind() Type    { return RealmAdvanced }
func (ItemPurchasedPayload) Kind() Type    { return ItemPurchased }
func (MissionCompletedPayload) Kind() Type { return MissionCompleted }
func (BattleResultPayload) Kind() Type     { return BattleResult }
func (FactionCreatedPayload) Kind() Type   { return FactionCreated }
func (FactionJoinedPayload) Kind() Type    { return FactionJoined }
func (UserUpdatedPayload) Kind() Type      { return UserUpdated }

// newPayload returns an empty payload for a known bare type.
func newPayload(t Type) Payload {
	switch t {
	case LevelUp:
		return &LevelUpPayload{}
	case RealmAdvanced:
		return &RealmAdvancedPayload{}
	case ItemPurchased:
		return &ItemPurchasedPayload{}
	case MissionCompleted:
		return &MissionCompletedPayload{}
	case BattleResult:
		return &BattleResultPayload{}
	case FactionCreated:
		return &FactionCreatedPayload{}
	case FactionJoined:
		return &FactionJoinedPayload{}
	case UserUpdated:
		return &UserUpdatedPayload{}
	}
	return nil
}

// Event is a single game occurrence targeted at one server.
// Events are values; the Router never mutates an Event it was given.
type Event struct {
	Type      Type
	ServerID  string
	Timestamp utc.Time

	// Payload is the typed body for known event types. May be nil.
	Payload Payload

	// Fields carries extension attributes that travel flat on the wire.
	Fields map[string]any
}

// New returns an event of the payload's kind for serverID.
func New(serverID string, p Payload) Event {
	return Event{Type: p.Kind(), ServerID: serverID, Payload: p}
}

// NewRaw returns an event carrying only extension fields.
func NewRaw(t Type, serverID string, fields map[string]any) Event {
	return Event{Type: t, ServerID: serverID, Fields: fields}
}

// With returns a copy of e with an extra extension field.
func (e Event) With(key string, value any) Event {
	fields := make(map[string]any, len(e.Fields)+1)
	maps.Copy(fields, e.Fields)
	fields[key] = value
	e.Fields = fields
	return e
}

// Valid reports whether e carries a type and a target server.
func (e Event) Valid() bool {
	return e.Type != "" && e.ServerID != ""
}

// Flatten returns the wire representation of e as a single object.
func (e Event) Flatten() (map[string]any, error) {
	out := make(map[string]any, len(e.Fields)+8)
	maps.Copy(out, e.Fields)

	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
		}
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("flatten %s payload: %w", e.Type, err)
		}
		maps.Copy(out, body)
	}

	out["type"] = string(e.Type)
	out["serverId"] = e.ServerID
	out["timestamp"] = e.Timestamp.Time.UTC().Format(TimestampFormat)
	return out, nil
}

// MarshalJSON encodes e as {"type","serverId","timestamp",...payload}.
func (e Event) MarshalJSON() ([]byte, error) {
	flat, err := e.Flatten()
	if err != nil {
		return nil, err
	}
	return json.Marshal(flat)
}

// UnmarshalJSON decodes the flat wire form. Keys of a known payload shape
// populate Payload; everything else lands in Fields.
func (e *Event) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	var decoded Event
	if raw, ok := flat["type"]; ok {
		if err := json.Unmarshal(raw, &decoded.Type); err != nil {
			return fmt.Errorf("event type: %w", err)
		}
	}
	if raw, ok := flat["serverId"]; ok {
		if err := json.Unmarshal(raw, &decoded.ServerID); err != nil {
			return fmt.Errorf("event serverId: %w", err)
		}
	}
	if raw, ok := flat["timestamp"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("event timestamp: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("event timestamp: %w", err)
		}
		decoded.Timestamp = utc.Time{Time: ts.UTC()}
	}
	for _, k := range reserved {
		delete(flat, k)
	}

	if p := newPayload(decoded.Type.Bare()); p != nil {
		if err := json.Unmarshal(data, p); err != nil {
			return fmt.Errorf("%s payload: %w", decoded.Type, err)
		}
		decoded.Payload = derefPayload(p)
		for _, k := range payloadKeys(decoded.Payload) {
			delete(flat, k)
		}
	}

	if len(flat) > 0 {
		decoded.Fields = make(map[string]any, len(flat))
		for k, raw := range flat {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("event field %s: %w", k, err)
			}
			decoded.Fields[k] = v
		}
	}

	*e = decoded
	return nil
}

func derefPayload(p Payload) Payload {
	switch v := p.(type) {
	case *LevelUpPayload:
		return *v
	case *RealmAdvancedPayload:
		return *v
	case *ItemPurchasedPayload:
		return *v
	case *MissionCompletedPayload:
		return *v
	case *BattleResultPayload:
		return *v
	case *FactionCreatedPayload:
		return *v
	case *FactionJoinedPayload:
		return *v
	case *UserUpdatedPayload:
		return *v
	}
	return p
}

func payloadKeys(p Payload) []string {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return slices.Collect(maps.Keys(m))
}
