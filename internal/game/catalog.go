package game

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/cultivate/pkg/errors"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Realm is a stage of cultivation spanning a number of levels.
type Realm struct {
	Name   string `yaml:"name" json:"name"`
	Levels int    `yaml:"levels" json:"levels"`
}

// Item is something the shop sells.
type Item struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Price       int64  `yaml:"price" json:"price"`
	Power       int    `yaml:"power" json:"power"`
}

// Mission is a repeatable task that rewards experience and spirit stones.
type Mission struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	XP          int64  `yaml:"xp" json:"xp"`
	Stones      int64  `yaml:"stones" json:"stones"`
	MinLevel    int    `yaml:"min_level" json:"minLevel"`
}

// Catalog is the static game content.
type Catalog struct {
	Realms   []Realm   `yaml:"realms"`
	Items    []Item    `yaml:"items"`
	Missions []Mission `yaml:"missions"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(defaultCatalog)
}

// LoadCatalog parses and validates YAML catalog content.
func LoadCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Realms) == 0 {
		return errors.NewValidationError("realms", nil, "at least one realm is required")
	}
	for _, r := range c.Realms {
		if r.Levels <= 0 {
			return errors.NewValidationError("realms", r.Name, "levels must be positive")
		}
	}
	seen := make(map[string]bool)
	for _, it := range c.Items {
		if it.ID == "" || seen[it.ID] {
			return errors.NewValidationError("items", it.ID, "item ids must be unique and non-empty")
		}
		if it.Price <= 0 {
			return errors.NewValidationError("items", it.ID, "price must be positive")
		}
		seen[it.ID] = true
	}
	for _, m := range c.Missions {
		if m.ID == "" || seen[m.ID] {
			return errors.NewValidationError("missions", m.ID, "mission ids must be unique and non-empty")
		}
		seen[m.ID] = true
	}
	return nil
}

// Item looks up a shop item by id.
func (c *Catalog) Item(id string) (Item, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, it := range c.Items {
		if it.ID == id {
			return it, nil
		}
	}
	return Item{}, errors.NewNotFoundError("item", id)
}

// Mission looks up a mission by id.
func (c *Catalog) Mission(id string) (Mission, error) {
	for _, m := range c.Missions {
		if m.ID == id {
			return m, nil
		}
	}
	return Mission{}, errors.NewNotFoundError("mission", id)
}

// RealmFor returns the realm a player of level is in. Levels beyond the last
// realm stay in the last realm.
func (c *Catalog) RealmFor(level int) Realm {
	ceiling := 0
	for _, r := range c.Realms {
		ceiling += r.Levels
		if level <= ceiling {
			return r
		}
	}
	return c.Realms[len(c.Realms)-1]
}
