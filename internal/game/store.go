package game

import "context"

// Store persists game state. Implementations return errors that match
// errors.ErrNotFound for missing records and errors.ErrAlreadyExists for
// conflicting ones.
type Store interface {
	// EnsureUser returns the player, creating it with StartingStones if absent.
	EnsureUser(ctx context.Context, serverID, userID, displayName string) (*User, error)
	GetUser(ctx context.Context, serverID, userID string) (*User, error)

	// UpdateUser loads the player, applies fn and saves the result atomically.
	// If fn returns an error nothing is written.
	UpdateUser(ctx context.Context, serverID, userID string, fn func(*User) error) (*User, error)

	// Purchase debits cost from the player and adds qty of itemID to their
	// inventory in one transaction. It fails with errors.ErrInsufficientFunds
	// when the player cannot pay.
	Purchase(ctx context.Context, serverID, userID, itemID string, qty int, cost int64) (*User, error)
	Inventory(ctx context.Context, serverID, userID string) ([]InventoryItem, error)

	// Leaderboard returns up to limit players ordered by level then xp.
	Leaderboard(ctx context.Context, serverID string, limit int) ([]User, error)

	// CreateFaction loads the leader, applies check, inserts f and makes the
	// leader its first member in one transaction. If check fails nothing is
	// written.
	CreateFaction(ctx context.Context, f *Faction, check func(leader *User) error) error
	GetFaction(ctx context.Context, serverID, factionID string) (*Faction, error)
}
