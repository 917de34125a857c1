package tokens

import (
	"regexp"
	"strconv"
	"strings"
)

// MemoryType classifies a token's memory content and selects its
// scoring multiplier.
type MemoryType string

const (
	MemoryTypePersonal  MemoryType = "Personal"
	MemoryTypeBusiness  MemoryType = "Business"
	MemoryTypeTechnical MemoryType = "Technical"
)

// Token is an immutable catalog entry for one scannable memory token.
type Token struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	ValueRating int        `json:"valueRating"`
	MemoryType  MemoryType `json:"memoryType"`
	Group       string     `json:"group,omitempty"`
	Summary     string     `json:"summary,omitempty"`
}

// GroupRef is the parsed form of a token's group field.
type GroupRef struct {
	Name       string
	Multiplier int
}

var groupMultiplierRe = regexp.MustCompile(`(?i)\(x(\d+)\)`)

// ParseGroup parses a group field of the form "Name (xN)" into its name
// and multiplier. A missing or malformed multiplier defaults to 1; an
// empty field yields an empty name.
func ParseGroup(field string) GroupRef {
	if field == "" {
		return GroupRef{Multiplier: 1}
	}

	ref := GroupRef{Multiplier: 1}
	if m := groupMultiplierRe.FindStringSubmatch(field); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			ref.Multiplier = n
		}
	}
	ref.Name = strings.TrimSpace(groupMultiplierRe.ReplaceAllString(field, ""))
	return ref
}

// GroupRef returns the parsed group reference for this token.
func (t Token) GroupRef() GroupRef {
	return ParseGroup(t.Group)
}
