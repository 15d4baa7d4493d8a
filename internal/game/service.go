// Package game implements the cultivation RPG rules shared by the Discord bot
// and the web dashboard. Every mutation is persisted first and then announced
// through the event router, tagged with the side it came from.
package game

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentstation/cultivate/internal/server/events"
	"github.com/agentstation/cultivate/pkg/errors"
)

// Origin is the side a mutation came from.
type Origin int

const (
	// FromDiscord marks mutations triggered by bot commands.
	FromDiscord Origin = iota
	// FromDashboard marks mutations triggered by the web dashboard.
	FromDashboard
)

// String implements fmt.Stringer.
func (o Origin) String() string {
	if o == FromDashboard {
		return "dashboard"
	}
	return "discord"
}

// Publisher is the part of the event router the game needs.
type Publisher interface {
	EmitFromBot(events.Event)
	EmitFromDashboard(events.Event)
}

// Tuning constants.
const (
	CultivateXP       int64 = 25
	CultivateXPPerLvl int64 = 5
	SparWinnerXP      int64 = 40
	SparLoserXP       int64 = 15
	PowerPerLevel           = 10
	MaxQuantity             = 99
	DefaultBoardSize        = 10
)

// Service applies game rules on top of a Store.
type Service struct {
	store     Store
	catalog   *Catalog
	publisher Publisher
	logger    *zerolog.Logger
	roll      func(n int) int

	hooksMu  sync.RWMutex
	hooks    []commitHook
	nextHook uint64
}

type commitHook struct {
	id uint64
	fn func(serverID string)
}

// Option configures a Service.
type Option func(*Service)

// WithRoll replaces the random source used to decide spars. roll(n) must
// return a value in [0, n).
func WithRoll(roll func(n int) int) Option {
	return func(s *Service) { s.roll = roll }
}

// NewService creates a game service.
func NewService(store Store, catalog *Catalog, publisher Publisher, logger *zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		logger:    logger,
		roll:      rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the static game content.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// OnCommit registers fn to run after a mutation of serverID is stored and
// before it is published. Hooks run on the caller's goroutine and must not
// block.
func (s *Service) OnCommit(fn func(serverID string)) (unsubscribe func()) {
	s.hooksMu.Lock()
	s.nextHook++
	id := s.nextHook
	s.hooks = append(s.hooks, commitHook{id: id, fn: fn})
	s.hooksMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.hooksMu.Lock()
			defer s.hooksMu.Unlock()
			for i, h := range s.hooks {
				if h.id == id {
					s.hooks = append(s.hooks[:i:i], s.hooks[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Service) committed(serverID string) {
	s.hooksMu.RLock()
	hooks := s.hooks
	s.hooksMu.RUnlock()
	for _, h := range hooks {
		h.fn(serverID)
	}
}

func (s *Service) emit(origin Origin, e events.Event) {
	s.committed(e.ServerID)
	if origin == FromDashboard {
		s.publisher.EmitFromDashboard(e)
		return
	}
	s.publisher.EmitFromBot(e)
}

// Cultivate meditates for one session, granting experience.
func (s *Service) Cultivate(ctx context.Context, origin Origin, serverID, userID, displayName string) (*Progress, error) {
	if err := requireIDs(serverID, userID); err != nil {
		return nil, err
	}
	if _, err := s.store.EnsureUser(ctx, serverID, userID, displayName); err != nil {
		return nil, err
	}

	var gain int64
	before, after, err := s.grant(ctx, serverID, userID, func(u *User) int64 {
		gain = CultivateXP + int64(u.Level)*CultivateXPPerLvl
		return gain
	}, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("server_id", serverID).
		Str("user_id", userID).
		Int64("xp", gain).
		Str("origin", origin.String()).
		Msg("Cultivated")

	p := s.progress(before, after, gain)
	s.emitProgress(origin, before, after)
	return &p, nil
}

// Spar pits challenger against opponent. The winner is drawn with odds
// proportional to each side's power.
func (s *Service) Spar(ctx context.Context, origin Origin, serverID, challengerID, opponentID string) (*SparResult, error) {
	if err := requireIDs(serverID, challengerID); err != nil {
		return nil, err
	}
	if opponentID == "" || opponentID == challengerID {
		return nil, errors.NewValidationError("opponent", opponentID, "must be another player")
	}

	challenger, err := s.store.EnsureUser(ctx, serverID, challengerID, "")
	if err != nil {
		return nil, err
	}
	opponent, err := s.store.EnsureUser(ctx, serverID, opponentID, "")
	if err != nil {
		return nil, err
	}

	cp, err := s.power(ctx, challenger)
	if err != nil {
		return nil, err
	}
	op, err := s.power(ctx, opponent)
	if err != nil {
		return nil, err
	}

	winnerID, loserID := challengerID, opponentID
	if s.roll(cp+op) >= cp {
		winnerID, loserID = opponentID, challengerID
	}

	wBefore, wAfter, err := s.grant(ctx, serverID, winnerID, func(*User) int64 { return SparWinnerXP }, nil)
	if err != nil {
		return nil, err
	}
	lBefore, lAfter, err := s.grant(ctx, serverID, loserID, func(*User) int64 { return SparLoserXP }, nil)
	if err != nil {
		return nil, err
	}

	s.emit(origin, events.New(serverID, events.BattleResultPayload{
		WinnerID: winnerID,
		LoserID:  loserID,
		WinnerXP: SparWinnerXP,
		LoserXP:  SparLoserXP,
	}))
	s.emitProgress(origin, wBefore, wAfter)
	s.emitProgress(origin, lBefore, lAfter)

	return &SparResult{
		Winner: s.progress(wBefore, wAfter, SparWinnerXP),
		Loser:  s.progress(lBefore, lAfter, SparLoserXP),
	}, nil
}

// Purchase buys qty of an item from the shop.
func (s *Service) Purchase(ctx context.Context, origin Origin, serverID, userID, itemID string, qty int) (*User, error) {
	if err := requireIDs(serverID, userID); err != nil {
		return nil, err
	}
	if qty <= 0 || qty > MaxQuantity {
		return nil, errors.NewValidationError("quantity", qty, "must be between 1 and 99")
	}
	item, err := s.catalog.Item(itemID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.EnsureUser(ctx, serverID, userID, ""); err != nil {
		return nil, err
	}

	cost := item.Price * int64(qty)
	u, err := s.store.Purchase(ctx, serverID, userID, item.ID, qty, cost)
	if err != nil {
		return nil, err
	}

	s.emit(origin, events.New(serverID, events.ItemPurchasedPayload{
		UserID:   userID,
		ItemID:   item.ID,
		ItemName: item.Name,
		Quantity: qty,
		Cost:     cost,
	}))
	return u, nil
}

// CompleteMission grants a mission's rewards.
func (s *Service) CompleteMission(ctx context.Context, origin Origin, serverID, userID, missionID string) (*Progress, error) {
	if err := requireIDs(serverID, userID); err != nil {
		return nil, err
	}
	m, err := s.catalog.Mission(missionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.EnsureUser(ctx, serverID, userID, ""); err != nil {
		return nil, err
	}

	before, after, err := s.grant(ctx, serverID, userID, func(*User) int64 { return m.XP }, func(u *User) error {
		if u.Level < m.MinLevel {
			return errors.NewValidationError("missionId", m.ID, "level too low for this mission")
		}
		u.Stones += m.Stones
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(origin, events.New(serverID, events.MissionCompletedPayload{
		UserID:      userID,
		MissionID:   m.ID,
		MissionName: m.Name,
		XP:          m.XP,
		Stones:      m.Stones,
	}))
	s.emitProgress(origin, before, after)

	p := s.progress(before, after, m.XP)
	return &p, nil
}

// CreateFaction founds a faction led by leaderID.
func (s *Service) CreateFaction(ctx context.Context, origin Origin, serverID, leaderID, name string) (*Faction, error) {
	if err := requireIDs(serverID, leaderID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 3 || n > 32 {
		return nil, errors.NewValidationError("name", name, "must be 3 to 32 characters")
	}

	if _, err := s.store.EnsureUser(ctx, serverID, leaderID, ""); err != nil {
		return nil, err
	}

	f := &Faction{
		ID:       uuid.NewString(),
		ServerID: serverID,
		Name:     name,
		LeaderID: leaderID,
	}
	if err := s.store.CreateFaction(ctx, f, func(leader *User) error {
		if leader.FactionID != "" {
			return errors.NewValidationError("userId", leaderID, "already belongs to a faction")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s.emit(origin, events.New(serverID, events.FactionCreatedPayload{
		FactionID: f.ID,
		Name:      f.Name,
		LeaderID:  leaderID,
	}))
	return f, nil
}

// JoinFaction adds userID to an existing faction.
func (s *Service) JoinFaction(ctx context.Context, origin Origin, serverID, userID, factionID string) (*Faction, error) {
	if err := requireIDs(serverID, userID); err != nil {
		return nil, err
	}
	f, err := s.store.GetFaction(ctx, serverID, factionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.EnsureUser(ctx, serverID, userID, ""); err != nil {
		return nil, err
	}

	if _, err := s.store.UpdateUser(ctx, serverID, userID, func(u *User) error {
		if u.FactionID != "" {
			return errors.NewValidationError("userId", userID, "already belongs to a faction")
		}
		u.FactionID = f.ID
		return nil
	}); err != nil {
		return nil, err
	}

	s.emit(origin, events.New(serverID, events.FactionJoinedPayload{
		FactionID: f.ID,
		Name:      f.Name,
		UserID:    userID,
	}))
	return f, nil
}

// Rename changes a player's display name.
func (s *Service) Rename(ctx context.Context, origin Origin, serverID, userID, displayName string) (*User, error) {
	if err := requireIDs(serverID, userID); err != nil {
		return nil, err
	}
	displayName = strings.TrimSpace(displayName)
	if n := utf8.RuneCountInString(displayName); n == 0 || n > 32 {
		return nil, errors.NewValidationError("displayName", displayName, "must be 1 to 32 characters")
	}
	if _, err := s.store.EnsureUser(ctx, serverID, userID, displayName); err != nil {
		return nil, err
	}

	u, err := s.store.UpdateUser(ctx, serverID, userID, func(u *User) error {
		u.DisplayName = displayName
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(origin, events.New(serverID, events.UserUpdatedPayload{
		UserID:      userID,
		DisplayName: displayName,
	}))
	return u, nil
}

// Profile assembles the dashboard view of a player.
func (s *Service) Profile(ctx context.Context, serverID, userID string) (*Profile, error) {
	u, err := s.store.GetUser(ctx, serverID, userID)
	if err != nil {
		return nil, err
	}
	inv, err := s.store.Inventory(ctx, serverID, userID)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		User:      *u,
		Realm:     s.catalog.RealmFor(u.Level).Name,
		XPToNext:  XPToNext(u.Level) - u.XP,
		Power:     s.powerOf(u.Level, inv),
		Inventory: inv,
	}
	if u.FactionID != "" {
		f, err := s.store.GetFaction(ctx, serverID, u.FactionID)
		switch {
		case err == nil:
			p.Faction = f
		case !errors.IsNotFound(err):
			return nil, err
		}
	}
	return p, nil
}

// Leaderboard ranks the players of a server.
func (s *Service) Leaderboard(ctx context.Context, serverID string, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = DefaultBoardSize
	}
	users, err := s.store.Leaderboard(ctx, serverID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, len(users))
	for i, u := range users {
		out[i] = LeaderboardEntry{
			Rank:        i + 1,
			UserID:      u.UserID,
			DisplayName: u.DisplayName,
			Level:       u.Level,
			Realm:       s.catalog.RealmFor(u.Level).Name,
			XP:          u.XP,
		}
	}
	return out, nil
}

// Shop lists the items for sale.
func (s *Service) Shop() []Item {
	return s.catalog.Items
}

// Missions lists the available missions.
func (s *Service) Missions() []Mission {
	return s.catalog.Missions
}

// grant adds experience computed by gain inside one store update, after
// applying extra. It returns the player before and after.
func (s *Service) grant(ctx context.Context, serverID, userID string, gain func(*User) int64, extra func(*User) error) (User, User, error) {
	var before User
	after, err := s.store.UpdateUser(ctx, serverID, userID, func(u *User) error {
		before = *u
		if extra != nil {
			if err := extra(u); err != nil {
				return err
			}
		}
		u.Level, u.XP = applyXP(u.Level, u.XP, gain(u))
		return nil
	})
	if err != nil {
		return User{}, User{}, err
	}
	return before, *after, nil
}

func (s *Service) progress(before, after User, gain int64) Progress {
	realm := s.catalog.RealmFor(after.Level).Name
	return Progress{
		User:         after,
		XPGained:     gain,
		LevelsGained: after.Level - before.Level,
		Realm:        realm,
		RealmChanged: realm != s.catalog.RealmFor(before.Level).Name,
	}
}

// emitProgress announces each level gained and a realm breakthrough.
func (s *Service) emitProgress(origin Origin, before, after User) {
	for lvl := before.Level + 1; lvl <= after.Level; lvl++ {
		s.emit(origin, events.New(after.ServerID, events.LevelUpPayload{
			UserID:        after.UserID,
			Level:         lvl,
			PreviousLevel: lvl - 1,
		}))
	}
	prev, next := s.catalog.RealmFor(before.Level).Name, s.catalog.RealmFor(after.Level).Name
	if prev != next {
		s.emit(origin, events.New(after.ServerID, events.RealmAdvancedPayload{
			UserID:        after.UserID,
			Realm:         next,
			PreviousRealm: prev,
		}))
	}
}

func (s *Service) power(ctx context.Context, u *User) (int, error) {
	inv, err := s.store.Inventory(ctx, u.ServerID, u.UserID)
	if err != nil {
		return 0, err
	}
	return s.powerOf(u.Level, inv), nil
}

func (s *Service) powerOf(level int, inv []InventoryItem) int {
	p := level * PowerPerLevel
	for _, it := range inv {
		if item, err := s.catalog.Item(it.ItemID); err == nil {
			p += item.Power * it.Quantity
		}
	}
	return p
}

func requireIDs(serverID, userID string) error {
	if serverID == "" {
		return errors.NewValidationError("serverId", serverID, "required")
	}
	if userID == "" {
		return errors.NewValidationError("userId", userID, "required")
	}
	return nil
}
