// Package escalation derives a card's escalation path at read time from its
// age and the tenant's rules. Nothing here fires timers or writes state.
package escalation

import (
	"sort"
	"time"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

// DefaultMaxLevel is the level ceiling used when no rule applies.
const DefaultMaxLevel = 3

// SelectRule picks the rule governing card: active, same tenant, and either
// matching the card's priority exactly or priority-agnostic. Exact matches
// win, then more urgent rules, then the lowest ID.
func SelectRule(card models.DecisionCard, rules []models.EscalationRule) (models.EscalationRule, bool) {
	var candidates []models.EscalationRule
	for _, r := range rules {
		if !r.IsActive || r.TenantID != card.TenantID {
			continue
		}
		if r.Priority != "" && r.Priority != card.Priority {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return models.EscalationRule{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if exactA, exactB := a.Priority != "", b.Priority != ""; exactA != exactB {
			return exactA
		}
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		return a.ID < b.ID
	})
	return candidates[0], true
}

// ComputePath is a pure function of the card, the rule set and now.
func ComputePath(card models.DecisionCard, rules []models.EscalationRule, now time.Time) models.EscalationPath {
	rule, ok := SelectRule(card, rules)
	if !ok {
		return fallbackPath(card)
	}
	ruleID := rule.ID

	if card.Status.IsTerminal() {
		level := clampLevel(card.EscalationLevel)
		return models.EscalationPath{
			CurrentLevel:     level,
			CurrentOwnerRole: ownerOrRole(card.OwnerRole, roleForLevel(rule, level)),
			IsFinal:          level >= DefaultMaxLevel,
			RuleID:           &ruleID,
		}
	}

	elapsed := now.Sub(card.CreatedAt).Hours()
	if elapsed < 0 {
		elapsed = 0
	}
	auto := autoLevel(rule, elapsed)

	// Past the final threshold the rule's final role owns the card, whatever
	// a manual escalation chose.
	if card.ManualOverride && card.EscalationLevel >= auto && elapsed < rule.FinalEscalationHours {
		level := clampLevel(card.EscalationLevel)
		path := models.EscalationPath{
			CurrentLevel:     level,
			CurrentOwnerRole: ownerOrRole(card.OwnerRole, roleForLevel(rule, level)),
			IsFinal:          level >= DefaultMaxLevel,
			RuleID:           &ruleID,
		}
		if !path.IsFinal {
			next := roleForLevel(rule, level+1)
			path.NextEscalationRole = &next
		}
		return path
	}

	path := models.EscalationPath{
		CurrentLevel:     auto,
		CurrentOwnerRole: roleForLevel(rule, auto),
		IsFinal:          auto >= DefaultMaxLevel,
		RuleID:           &ruleID,
	}
	switch auto {
	case 1:
		next := rule.EscalateToRole
		remaining := rule.EscalationThresholdHours - elapsed
		path.NextEscalationRole = &next
		path.TimeUntilEscalationHours = &remaining
		path.IsWarning = rule.WarningThresholdHours > 0 && elapsed >= rule.WarningThresholdHours
	case 2:
		next := rule.FinalEscalateToRole
		remaining := rule.FinalEscalationHours - elapsed
		path.NextEscalationRole = &next
		path.TimeUntilEscalationHours = &remaining
	}
	return path
}

func autoLevel(rule models.EscalationRule, elapsedHours float64) int {
	switch {
	case elapsedHours >= rule.FinalEscalationHours:
		return 3
	case elapsedHours >= rule.EscalationThresholdHours:
		return 2
	}
	return 1
}

func roleForLevel(rule models.EscalationRule, level int) string {
	switch {
	case level >= 3:
		return rule.FinalEscalateToRole
	case level == 2:
		return rule.EscalateToRole
	}
	return rule.InitialOwnerRole
}

func fallbackPath(card models.DecisionCard) models.EscalationPath {
	level := card.EscalationLevel
	if level < 1 {
		level = 1
	}
	return models.EscalationPath{
		CurrentLevel:     level,
		CurrentOwnerRole: card.OwnerRole,
		IsFinal:          level >= DefaultMaxLevel,
	}
}

func clampLevel(level int) int {
	switch {
	case level < 1:
		return 1
	case level > DefaultMaxLevel:
		return DefaultMaxLevel
	}
	return level
}

func ownerOrRole(owner, role string) string {
	if owner != "" {
		return owner
	}
	return role
}
