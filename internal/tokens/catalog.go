package tokens

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
)

// Catalog is the static read-only lookup from token ID to token
// metadata. It is built once at startup and never mutated afterwards,
// so lookups need no locking.
type Catalog struct {
	byID   map[string]Token
	groups map[string][]string // group name -> member token IDs, sorted
}

// NewCatalog builds a catalog from a token list. Later duplicates of a
// token ID win, matching the behavior of the catalog generator.
func NewCatalog(toks []Token) *Catalog {
	c := &Catalog{
		byID:   make(map[string]Token, len(toks)),
		groups: make(map[string][]string),
	}
	for _, t := range toks {
		c.byID[t.ID] = t
	}
	for id, t := range c.byID {
		ref := t.GroupRef()
		if ref.Name == "" {
			continue
		}
		c.groups[ref.Name] = append(c.groups[ref.Name], id)
	}
	for name := range c.groups {
		sort.Strings(c.groups[name])
	}
	return c
}

// LoadCatalog reads a JSON token database file. The file is either a
// JSON array of tokens or an object keyed by token ID.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token database: %w", err)
	}

	var list []Token
	if err := json.Unmarshal(data, &list); err != nil {
		var keyed map[string]Token
		if err2 := json.Unmarshal(data, &keyed); err2 != nil {
			return nil, fmt.Errorf("failed to parse token database: %w", err)
		}
		for id, t := range keyed {
			if t.ID == "" {
				t.ID = id
			}
			list = append(list, t)
		}
	}

	c := NewCatalog(list)
	log.Info().
		Str("path", path).
		Int("tokens", len(c.byID)).
		Int("groups", len(c.groups)).
		Msg("token catalog loaded")
	return c, nil
}

// Lookup returns the token for an ID and whether it is known.
func (c *Catalog) Lookup(id string) (Token, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// GroupMembers returns the token IDs belonging to a group, sorted.
// Unknown groups return nil.
func (c *Catalog) GroupMembers(name string) []string {
	return c.groups[name]
}

// GroupMultiplier returns the multiplier for a named group, derived
// from its first member's group field. Unknown groups return 1.
func (c *Catalog) GroupMultiplier(name string) int {
	members := c.groups[name]
	if len(members) == 0 {
		return 1
	}
	return c.byID[members[0]].GroupRef().Multiplier
}

// BonusEligible reports whether a group can ever pay a completion
// bonus: more than one member and a multiplier above 1.
func (c *Catalog) BonusEligible(name string) bool {
	return len(c.groups[name]) > 1 && c.GroupMultiplier(name) > 1
}

// Len returns the number of tokens in the catalog.
func (c *Catalog) Len() int {
	return len(c.byID)
}
