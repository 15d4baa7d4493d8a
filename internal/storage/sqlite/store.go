// Package sqlite provides the SQLite-backed game and activity store.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentstation/utc"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/agentstation/cultivate/internal/game"
	"github.com/agentstation/cultivate/internal/storage"
	"github.com/agentstation/cultivate/internal/storage/sqlite/migrations"
	"github.com/agentstation/cultivate/pkg/errors"
)

// Store persists players, inventory, factions and the activity feed.
type Store struct {
	db *sql.DB
}

var (
	_ game.Store            = (*Store)(nil)
	_ storage.ActivityStore = (*Store)(nil)
)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) utc.Time {
	return utc.Time{Time: time.UnixMilli(ms).UTC()}
}

// Open opens the database at path, creating it if needed, and applies
// embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.NewConfigError("storage", "database path is required", nil)
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer keeps read-modify-write transactions serialized.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const userColumns = `server_id, user_id, display_name, level, xp, stones, faction_id, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*game.User, error) {
	var (
		u                    game.User
		createdAt, updatedAt int64
	)
	if err := row.Scan(&u.ServerID, &u.UserID, &u.DisplayName, &u.Level, &u.XP, &u.Stones, &u.FactionID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func getUser(ctx context.Context, q queryer, serverID, userID string) (*game.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE server_id = ? AND user_id = ?`,
		serverID, userID,
	))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("user", userID)
	}
	if err != nil {
		return nil, errors.WrapResource("get", "user", userID, err)
	}
	return u, nil
}

// EnsureUser returns the player, creating it if absent.
func (s *Store) EnsureUser(ctx context.Context, serverID, userID, displayName string) (*game.User, error) {
	if displayName == "" {
		displayName = userID
	}
	now := toMillis(time.Now())
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (server_id, user_id, display_name, level, xp, stones, created_at, updated_at)
		 VALUES (?, ?, ?, 1, 0, ?, ?, ?)
		 ON CONFLICT (server_id, user_id) DO NOTHING`,
		serverID, userID, displayName, game.StartingStones, now, now,
	); err != nil {
		return nil, errors.WrapResource("ensure", "user", userID, err)
	}
	return getUser(ctx, s.db, serverID, userID)
}

// GetUser returns one player.
func (s *Store) GetUser(ctx context.Context, serverID, userID string) (*game.User, error) {
	return getUser(ctx, s.db, serverID, userID)
}

// UpdateUser applies fn to the stored player inside a transaction.
func (s *Store) UpdateUser(ctx context.Context, serverID, userID string, fn func(*game.User) error) (*game.User, error) {
	var out *game.User
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		u, err := getUser(ctx, tx, serverID, userID)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		u.UpdatedAt = utc.Now()
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	return out, err
}

func saveUser(ctx context.Context, q queryer, u *game.User) error {
	_, err := q.ExecContext(ctx,
		`UPDATE users SET display_name = ?, level = ?, xp = ?, stones = ?, faction_id = ?, updated_at = ?
		 WHERE server_id = ? AND user_id = ?`,
		u.DisplayName, u.Level, u.XP, u.Stones, u.FactionID, toMillis(u.UpdatedAt.Time),
		u.ServerID, u.UserID,
	)
	if err != nil {
		return errors.WrapResource("save", "user", u.UserID, err)
	}
	return nil
}

// Purchase debits the player and credits their inventory atomically.
func (s *Store) Purchase(ctx context.Context, serverID, userID, itemID string, qty int, cost int64) (*game.User, error) {
	var out *game.User
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		u, err := getUser(ctx, tx, serverID, userID)
		if err != nil {
			return err
		}
		if u.Stones < cost {
			return fmt.Errorf("%w: need %d, have %d", errors.ErrInsufficientFunds, cost, u.Stones)
		}
		u.Stones -= cost
		u.UpdatedAt = utc.Now()
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO inventory (server_id, user_id, item_id, quantity) VALUES (?, ?, ?, ?)
			 ON CONFLICT (server_id, user_id, item_id) DO UPDATE SET quantity = quantity + excluded.quantity`,
			serverID, userID, itemID, qty,
		); err != nil {
			return errors.WrapResource("credit", "inventory", itemID, err)
		}
		out = u
		return nil
	})
	return out, err
}

// Inventory lists a player's items ordered by item id.
func (s *Store) Inventory(ctx context.Context, serverID, userID string) ([]game.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, quantity FROM inventory WHERE server_id = ? AND user_id = ? ORDER BY item_id`,
		serverID, userID,
	)
	if err != nil {
		return nil, errors.WrapResource("list", "inventory", userID, err)
	}
	defer rows.Close()

	items := []game.InventoryItem{}
	for rows.Next() {
		var it game.InventoryItem
		if err := rows.Scan(&it.ItemID, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Leaderboard returns the top players of a server.
func (s *Store) Leaderboard(ctx context.Context, serverID string, limit int) ([]game.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE server_id = ?
		 ORDER BY level DESC, xp DESC, user_id ASC LIMIT ?`,
		serverID, limit,
	)
	if err != nil {
		return nil, errors.WrapResource("list", "users", "", err)
	}
	defer rows.Close()

	var users []game.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CreateFaction inserts a faction and sets it on its leader in one
// transaction. Names are unique per server.
func (s *Store) CreateFaction(ctx context.Context, f *game.Faction, check func(*game.User) error) error {
	if f.CreatedAt.Time.IsZero() {
		f.CreatedAt = utc.Now()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		leader, err := getUser(ctx, tx, f.ServerID, f.LeaderID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(leader); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO factions (id, server_id, name, leader_id, created_at) VALUES (?, ?, ?, ?, ?)`,
			f.ID, f.ServerID, f.Name, f.LeaderID, toMillis(f.CreatedAt.Time),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("faction %q: %w", f.Name, errors.ErrAlreadyExists)
		}
		if err != nil {
			return errors.WrapResource("create", "faction", f.ID, err)
		}

		leader.FactionID = f.ID
		leader.UpdatedAt = utc.Now()
		return saveUser(ctx, tx, leader)
	})
}

// GetFaction returns one faction of a server.
func (s *Store) GetFaction(ctx context.Context, serverID, factionID string) (*game.Faction, error) {
	var (
		f         game.Faction
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, server_id, name, leader_id, created_at FROM factions WHERE server_id = ? AND id = ?`,
		serverID, factionID,
	).Scan(&f.ID, &f.ServerID, &f.Name, &f.LeaderID, &createdAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("faction", factionID)
	}
	if err != nil {
		return nil, errors.WrapResource("get", "faction", factionID, err)
	}
	f.CreatedAt = fromMillis(createdAt)
	return &f, nil
}

// AppendActivity records one event in the activity feed.
func (s *Store) AppendActivity(ctx context.Context, a storage.Activity) error {
	if a.CreatedAt.Time.IsZero() {
		a.CreatedAt = utc.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity (server_id, type, origin, event, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ServerID, a.Type, a.Origin, string(a.Event), toMillis(a.CreatedAt.Time),
	)
	if err != nil {
		return errors.WrapResource("append", "activity", a.ServerID, err)
	}
	return nil
}

// RecentActivity returns the newest activity of a server first.
func (s *Store) RecentActivity(ctx context.Context, serverID string, limit int) ([]storage.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, server_id, type, origin, event, created_at FROM activity
		 WHERE server_id = ? ORDER BY id DESC LIMIT ?`,
		serverID, limit,
	)
	if err != nil {
		return nil, errors.WrapResource("list", "activity", serverID, err)
	}
	defer rows.Close()

	out := []storage.Activity{}
	for rows.Next() {
		var (
			a         storage.Activity
			event     string
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.ServerID, &a.Type, &a.Origin, &event, &createdAt); err != nil {
			return nil, err
		}
		a.Event = []byte(event)
		a.CreatedAt = fromMillis(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if stderrors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
