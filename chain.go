package params

import (
	"fmt"
	"slices"
	"strings"
)

// EntityType identifies one level of the ownership hierarchy.
type EntityType string

const (
	EntityMerchant     EntityType = "MERCHANT"
	EntityOrganization EntityType = "ORGANIZATION"
	EntityProgram      EntityType = "PROGRAM"
	EntityBank         EntityType = "BANK"
	// EntityDefault marks synthesized default values. It is never persisted.
	EntityDefault EntityType = "DEFAULT"
)

const (
	// Specificity ranks levels. Higher numbers win.
	SpecificityDefault      = 0
	SpecificityBank         = 100
	SpecificityProgram      = 200
	SpecificityOrganization = 300
	SpecificityMerchant     = 400
)

// DefaultEntityID is the entity id carried by synthesized default values.
const DefaultEntityID = "DEFAULT"

func (t EntityType) String() string { return string(t) }

// Valid reports whether t names a level that can hold overrides.
func (t EntityType) Valid() bool {
	switch t {
	case EntityMerchant, EntityOrganization, EntityProgram, EntityBank:
		return true
	default:
		return false
	}
}

// Specificity returns the precedence rank of t.
func (t EntityType) Specificity() int {
	switch t {
	case EntityMerchant:
		return SpecificityMerchant
	case EntityOrganization:
		return SpecificityOrganization
	case EntityProgram:
		return SpecificityProgram
	case EntityBank:
		return SpecificityBank
	default:
		return SpecificityDefault
	}
}

// ParseEntityType converts a case-insensitive name. Returns false for
// unrecognised values.
func ParseEntityType(value string) (EntityType, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "MERCHANT":
		return EntityMerchant, true
	case "ORGANIZATION", "ORG":
		return EntityOrganization, true
	case "PROGRAM":
		return EntityProgram, true
	case "BANK":
		return EntityBank, true
	default:
		return "", false
	}
}

// ChainLevel names one entity within an inheritance chain.
type ChainLevel struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
}

// Identifier returns a stable slug ("bank/b1") usable as a storage or index key.
func (l ChainLevel) Identifier() string {
	return fmt.Sprintf("%s/%s", strings.ToLower(string(l.EntityType)), l.EntityID)
}

func (l ChainLevel) String() string {
	return fmt.Sprintf("%s:%s", l.EntityType, l.EntityID)
}

// InheritanceChain is the ordered list of levels for one merchant, most
// specific first.
type InheritanceChain []ChainLevel

// NewInheritanceChain drops levels with an empty id or unknown type,
// deduplicates by identifier and orders the rest from most to least specific,
// keeping relative order for peers.
func NewInheritanceChain(levels ...ChainLevel) InheritanceChain {
	filtered := make(InheritanceChain, 0, len(levels))
	seen := map[string]struct{}{}
	for _, level := range levels {
		level.EntityID = strings.TrimSpace(level.EntityID)
		if level.EntityID == "" || !level.EntityType.Valid() {
			continue
		}
		id := level.Identifier()
		if _, exists := seen[id]; exists {
			continue
		}
		seen[id] = struct{}{}
		filtered = append(filtered, level)
	}

	slices.SortStableFunc(filtered, func(a, b ChainLevel) int {
		return b.EntityType.Specificity() - a.EntityType.Specificity()
	})
	return filtered
}

// MerchantChain is the degraded chain used when the directory is unavailable.
func MerchantChain(merchantID string) InheritanceChain {
	return NewInheritanceChain(ChainLevel{EntityType: EntityMerchant, EntityID: merchantID})
}

// Levels returns a copy of the ordered levels.
func (c InheritanceChain) Levels() []ChainLevel {
	out := make([]ChainLevel, len(c))
	copy(out, c)
	return out
}

// Contains reports whether the chain passes through level.
func (c InheritanceChain) Contains(level ChainLevel) bool {
	for _, candidate := range c {
		if candidate == level {
			return true
		}
	}
	return false
}

// MerchantID returns the id of the leaf level, or "" when the chain is empty.
func (c InheritanceChain) MerchantID() string {
	if len(c) == 0 || c[0].EntityType != EntityMerchant {
		return ""
	}
	return c[0].EntityID
}

func (c InheritanceChain) String() string {
	parts := make([]string, len(c))
	for i, level := range c {
		parts[i] = level.String()
	}
	return "[" + strings.Join(parts, " > ") + "]"
}
