package game

import (
	"context"
	"sort"
	"sync"

	"github.com/agentstation/utc"

	"github.com/agentstation/cultivate/pkg/errors"
)

// memStore is an in-memory Store for service tests.
type memStore struct {
	mu        sync.Mutex
	users     map[string]*User
	inventory map[string]map[string]int
	factions  map[string]*Faction
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*User),
		inventory: make(map[string]map[string]int),
		factions:  make(map[string]*Faction),
	}
}

func key(serverID, id string) string { return serverID + "/" + id }

func (m *memStore) EnsureUser(_ context.Context, serverID, userID, displayName string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[key(serverID, userID)]; ok {
		c := *u
		return &c, nil
	}
	if displayName == "" {
		displayName = userID
	}
	u := &User{ServerID: serverID, UserID: userID, DisplayName: displayName, Level: 1, Stones: StartingStones, CreatedAt: utc.Now(), UpdatedAt: utc.Now()}
	m.users[key(serverID, userID)] = u
	c := *u
	return &c, nil
}

func (m *memStore) GetUser(_ context.Context, serverID, userID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[key(serverID, userID)]
	if !ok {
		return nil, errors.NewNotFoundError("user", userID)
	}
	c := *u
	return &c, nil
}

func (m *memStore) UpdateUser(_ context.Context, serverID, userID string, fn func(*User) error) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[key(serverID, userID)]
	if !ok {
		return nil, errors.NewNotFoundError("user", userID)
	}
	c := *u
	if err := fn(&c); err != nil {
		return nil, err
	}
	*u = c
	return &c, nil
}

func (m *memStore) Purchase(_ context.Context, serverID, userID, itemID string, qty int, cost int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[key(serverID, userID)]
	if !ok {
		return nil, errors.NewNotFoundError("user", userID)
	}
	if u.Stones < cost {
		return nil, errors.ErrInsufficientFunds
	}
	u.Stones -= cost
	k := key(serverID, userID)
	if m.inventory[k] == nil {
		m.inventory[k] = make(map[string]int)
	}
	m.inventory[k][itemID] += qty
	c := *u
	return &c, nil
}

func (m *memStore) Inventory(_ context.Context, serverID, userID string) ([]InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []InventoryItem
	for id, q := range m.inventory[key(serverID, userID)] {
		out = append(out, InventoryItem{ItemID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (m *memStore) Leaderboard(_ context.Context, serverID string, limit int) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		if u.ServerID == serverID {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].XP > out[j].XP
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CreateFaction(_ context.Context, f *Faction, check func(*User) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	leader, ok := m.users[key(f.ServerID, f.LeaderID)]
	if !ok {
		return errors.NewNotFoundError("user", f.LeaderID)
	}
	if check != nil {
		if err := check(leader); err != nil {
			return err
		}
	}
	for _, existing := range m.factions {
		if existing.ServerID == f.ServerID && existing.Name == f.Name {
			return errors.ErrAlreadyExists
		}
	}
	c := *f
	m.factions[key(f.ServerID, f.ID)] = &c
	leader.FactionID = f.ID
	return nil
}

func (m *memStore) GetFaction(_ context.Context, serverID, factionID string) (*Faction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.factions[key(serverID, factionID)]
	if !ok {
		return nil, errors.NewNotFoundError("faction", factionID)
	}
	c := *f
	return &c, nil
}
