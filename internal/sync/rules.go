package sync

import (
	"sort"
	"strings"
	stdsync "sync"

	"github.com/xelth-com/eckposgo/internal/models"
)

// Rule decides which copy survives for an entity type, or for one property of it
type Rule struct {
	EntityType          string                `json:"entityType" yaml:"entity_type"`
	PropertyName        string                `json:"propertyName,omitempty" yaml:"property,omitempty"` // empty = entity-wide
	DefaultResolution   models.ResolutionType `json:"defaultResolution" yaml:"resolution"`
	RequireManualReview bool                  `json:"requireManualReview" yaml:"require_manual_review"`
	Priority            int                   `json:"priority" yaml:"priority"`
	Description         string                `json:"description,omitempty" yaml:"description,omitempty"`
}

// NeedsHuman reports whether the rule parks conflicts for manual review
func (r Rule) NeedsHuman() bool {
	return r.RequireManualReview || r.DefaultResolution == models.ResolutionManual
}

type ruleKey struct {
	entityType   string
	propertyName string
}

func (r Rule) key() ruleKey {
	return ruleKey{entityType: r.EntityType, propertyName: r.PropertyName}
}

// FallbackRule applies when neither a property rule nor an entity-wide rule exists
func FallbackRule(entityType, propertyName string) Rule {
	return Rule{
		EntityType:        entityType,
		PropertyName:      propertyName,
		DefaultResolution: models.ResolutionRemoteWins,
		Description:       "Default rule: remote wins",
	}
}

// DefaultConflictRules is the seed policy of a fresh install
func DefaultConflictRules() []Rule {
	return []Rule{
		{EntityType: EntityReceipt, DefaultResolution: models.ResolutionLocalWins, Priority: 100,
			Description: "Terminal is authoritative for its own sales"},
		{EntityType: EntityReceiptItem, DefaultResolution: models.ResolutionLocalWins, Priority: 100,
			Description: "Receipt lines follow their receipt"},
		{EntityType: EntityPayment, DefaultResolution: models.ResolutionLocalWins, Priority: 100,
			Description: "Payments are tendered on the terminal"},
		{EntityType: EntityProduct, DefaultResolution: models.ResolutionRemoteWins, Priority: 80,
			Description: "Head office owns the catalog"},
		{EntityType: EntityProduct, PropertyName: "Price", DefaultResolution: models.ResolutionRemoteWins, Priority: 90,
			Description: "Head office owns prices"},
		{EntityType: EntityCategory, DefaultResolution: models.ResolutionRemoteWins, Priority: 80,
			Description: "Head office owns the catalog structure"},
		{EntityType: EntityInventory, DefaultResolution: models.ResolutionLastWriteWins, Priority: 70,
			Description: "Latest stock movement wins"},
		{EntityType: EntityStockTake, DefaultResolution: models.ResolutionLastWriteWins, Priority: 70,
			Description: "Latest count wins"},
		{EntityType: EntityCustomer, DefaultResolution: models.ResolutionLastWriteWins, Priority: 50,
			Description: "Latest contact details win"},
		{EntityType: EntityCustomer, PropertyName: "PointsBalance", DefaultResolution: models.ResolutionManual,
			RequireManualReview: true, Priority: 95, Description: "Loyalty balances need a human"},
		{EntityType: EntityGiftCard, DefaultResolution: models.ResolutionManual,
			RequireManualReview: true, Priority: 95, Description: "Stored value needs a human"},
		{EntityType: EntityShift, DefaultResolution: models.ResolutionLastWriteWins, Priority: 40,
			Description: "Latest schedule edit wins"},
	}
}

// RuleTable is the process-wide resolution policy. Reads are concurrent,
// writes (add, update, remove, reset) are rare and exclusive.
type RuleTable struct {
	mu    stdsync.RWMutex
	rules map[ruleKey]Rule
	seed  []Rule
}

// NewRuleTable creates a table seeded with seed, or with DefaultConflictRules when seed is empty
func NewRuleTable(seed ...Rule) *RuleTable {
	if len(seed) == 0 {
		seed = DefaultConflictRules()
	}
	t := &RuleTable{seed: append([]Rule(nil), seed...)}
	t.rules = t.seedMap()
	return t
}

func (t *RuleTable) seedMap() map[ruleKey]Rule {
	m := make(map[ruleKey]Rule, len(t.seed))
	for _, r := range t.seed {
		m[r.key()] = r
	}
	return m
}

// GetApplicableRule returns the rule for (entityType, propertyName): the
// property rule, else the entity-wide rule, else FallbackRule. It never fails.
// Property names match exactly first, then ignoring case, so "pointsBalance"
// in a payload finds the PointsBalance rule.
func (t *RuleTable) GetApplicableRule(entityType, propertyName string) Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if propertyName != "" {
		if r, ok := t.rules[ruleKey{entityType, propertyName}]; ok {
			return r
		}
		for k, r := range t.rules {
			if k.entityType == entityType && k.propertyName != "" && strings.EqualFold(k.propertyName, propertyName) {
				return r
			}
		}
	}
	if r, ok := t.rules[ruleKey{entityType, ""}]; ok {
		return r
	}
	return FallbackRule(entityType, propertyName)
}

// GetAllRules returns a sorted snapshot of the table
func (t *RuleTable) GetAllRules() []Rule {
	t.mu.RLock()
	out := make([]Rule, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, r)
	}
	t.mu.RUnlock()

	sortRules(out)
	return out
}

// PropertyRules returns the property-specific rules of one entity type
func (t *RuleTable) PropertyRules(entityType string) []Rule {
	t.mu.RLock()
	var out []Rule
	for k, r := range t.rules {
		if k.entityType == entityType && k.propertyName != "" {
			out = append(out, r)
		}
	}
	t.mu.RUnlock()

	sortRules(out)
	return out
}

// AddOrUpdateRule upserts a rule by (entity type, property name)
func (t *RuleTable) AddOrUpdateRule(rule *Rule) error {
	if rule == nil {
		return ErrInvalidArgument.WithMessage("rule is required")
	}
	if rule.EntityType == "" {
		return ErrInvalidArgument.WithMessage("rule entity type is required")
	}
	if !rule.DefaultResolution.Valid() {
		return ErrInvalidResolution.WithMessagef("unknown resolution %q", rule.DefaultResolution)
	}

	t.mu.Lock()
	t.rules[rule.key()] = *rule
	t.mu.Unlock()
	return nil
}

// RemoveRule removes the entity-wide rule of entityType and reports whether it existed
func (t *RuleTable) RemoveRule(entityType string) bool {
	return t.RemovePropertyRule(entityType, "")
}

// RemovePropertyRule removes one (entity type, property) rule and reports whether it existed
func (t *RuleTable) RemovePropertyRule(entityType, propertyName string) bool {
	key := ruleKey{entityType, propertyName}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.rules[key]; !ok {
		return false
	}
	delete(t.rules, key)
	return true
}

// ResetToDefaultRules discards every runtime change and restores the seed the
// table was built with. That is DefaultConflictRules unless the table was
// seeded from a rules file, in which case the file's rules are the defaults.
func (t *RuleTable) ResetToDefaultRules() {
	fresh := t.seedMap()

	t.mu.Lock()
	t.rules = fresh
	t.mu.Unlock()
}

func sortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].EntityType != rules[j].EntityType {
			return rules[i].EntityType < rules[j].EntityType
		}
		return rules[i].PropertyName < rules[j].PropertyName
	})
}
