package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

var created = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func criticalRule() models.EscalationRule {
	return models.EscalationRule{
		ID:                       "critical",
		TenantID:                 "acme",
		Priority:                 models.UrgencyCritical,
		IsActive:                 true,
		WarningThresholdHours:    12,
		EscalationThresholdHours: 24,
		FinalEscalationHours:     72,
		InitialOwnerRole:         models.RoleCOO,
		EscalateToRole:           models.RoleCFO,
		FinalEscalateToRole:      models.RoleCEO,
	}
}

func card() models.DecisionCard {
	return models.DecisionCard{
		TenantID:        "acme",
		Priority:        models.UrgencyCritical,
		CreatedAt:       created,
		OwnerRole:       models.RoleCFO,
		Status:          models.CardStatusNew,
		EscalationLevel: 1,
	}
}

func TestFreshCardStartsAtInitialOwner(t *testing.T) {
	path := ComputePath(card(), []models.EscalationRule{criticalRule()}, created)

	assert.Equal(t, 1, path.CurrentLevel)
	assert.Equal(t, models.RoleCOO, path.CurrentOwnerRole)
	assert.False(t, path.IsFinal)
	assert.False(t, path.IsWarning)
	require.NotNil(t, path.NextEscalationRole)
	assert.Equal(t, models.RoleCFO, *path.NextEscalationRole)
	require.NotNil(t, path.TimeUntilEscalationHours)
	assert.Equal(t, 24.0, *path.TimeUntilEscalationHours)
	require.NotNil(t, path.RuleID)
	assert.Equal(t, "critical", *path.RuleID)
}

func TestWarningBeforeFirstEscalation(t *testing.T) {
	path := ComputePath(card(), []models.EscalationRule{criticalRule()}, created.Add(13*time.Hour))

	assert.Equal(t, 1, path.CurrentLevel)
	assert.True(t, path.IsWarning)
	assert.InDelta(t, 11.0, *path.TimeUntilEscalationHours, 1e-9)
}

func TestSecondLevelCountsToFinal(t *testing.T) {
	path := ComputePath(card(), []models.EscalationRule{criticalRule()}, created.Add(30*time.Hour))

	assert.Equal(t, 2, path.CurrentLevel)
	assert.Equal(t, models.RoleCFO, path.CurrentOwnerRole)
	assert.False(t, path.IsWarning)
	assert.Equal(t, models.RoleCEO, *path.NextEscalationRole)
	assert.InDelta(t, 42.0, *path.TimeUntilEscalationHours, 1e-9)
}

func TestOldCardIsFinal(t *testing.T) {
	for _, age := range []time.Duration{72 * time.Hour, 200 * time.Hour} {
		path := ComputePath(card(), []models.EscalationRule{criticalRule()}, created.Add(age))

		assert.Equal(t, 3, path.CurrentLevel)
		assert.True(t, path.IsFinal)
		assert.Equal(t, models.RoleCEO, path.CurrentOwnerRole)
		assert.Nil(t, path.NextEscalationRole)
		assert.Nil(t, path.TimeUntilEscalationHours)
	}
}

func TestNoRuleFallsBackToStoredOwner(t *testing.T) {
	c := card()
	c.EscalationLevel = 0
	path := ComputePath(c, nil, created.Add(500*time.Hour))

	assert.Equal(t, 1, path.CurrentLevel)
	assert.Equal(t, models.RoleCFO, path.CurrentOwnerRole)
	assert.False(t, path.IsFinal)
	assert.Nil(t, path.RuleID)

	c.EscalationLevel = 3
	assert.True(t, ComputePath(c, nil, created).IsFinal)
}

func TestInactiveAndForeignRulesIgnored(t *testing.T) {
	inactive := criticalRule()
	inactive.IsActive = false
	foreign := criticalRule()
	foreign.ID = "foreign"
	foreign.TenantID = "globex"

	path := ComputePath(card(), []models.EscalationRule{inactive, foreign}, created)
	assert.Nil(t, path.RuleID)
	assert.Equal(t, models.RoleCFO, path.CurrentOwnerRole)
}

func TestSelectRulePrefersExactPriority(t *testing.T) {
	generic := criticalRule()
	generic.ID = "a-generic"
	generic.Priority = ""
	urgent := criticalRule()
	urgent.ID = "urgent"
	urgent.Priority = models.UrgencyUrgent
	exact := criticalRule()
	exact.ID = "z-exact"

	rule, ok := SelectRule(card(), []models.EscalationRule{generic, urgent, exact})
	require.True(t, ok)
	assert.Equal(t, "z-exact", rule.ID)

	rule, ok = SelectRule(card(), []models.EscalationRule{urgent, generic})
	require.True(t, ok)
	assert.Equal(t, "a-generic", rule.ID)
}

func TestManualOverrideHoldsUntilClockOvertakes(t *testing.T) {
	c := card()
	c.ManualOverride = true
	c.EscalationLevel = 2
	c.OwnerRole = "VP Merchandising"
	rules := []models.EscalationRule{criticalRule()}

	path := ComputePath(c, rules, created.Add(time.Hour))
	assert.Equal(t, 2, path.CurrentLevel)
	assert.Equal(t, "VP Merchandising", path.CurrentOwnerRole)
	assert.Nil(t, path.TimeUntilEscalationHours)
	assert.Equal(t, models.RoleCEO, *path.NextEscalationRole)

	path = ComputePath(c, rules, created.Add(30*time.Hour))
	assert.Equal(t, "VP Merchandising", path.CurrentOwnerRole, "auto level 2 does not pass the manual level")

	path = ComputePath(c, rules, created.Add(80*time.Hour))
	assert.Equal(t, 3, path.CurrentLevel)
	assert.Equal(t, models.RoleCEO, path.CurrentOwnerRole)
	assert.True(t, path.IsFinal)
}

func TestManualFinalOverrideYieldsAfterFinalThreshold(t *testing.T) {
	c := card()
	c.ManualOverride = true
	c.EscalationLevel = 3
	c.OwnerRole = "BOARD"
	rules := []models.EscalationRule{criticalRule()}

	path := ComputePath(c, rules, created.Add(10*time.Hour))
	assert.Equal(t, 3, path.CurrentLevel)
	assert.Equal(t, "BOARD", path.CurrentOwnerRole)
	assert.True(t, path.IsFinal)

	for _, age := range []time.Duration{72 * time.Hour, 500 * time.Hour} {
		path = ComputePath(c, rules, created.Add(age))
		assert.Equal(t, 3, path.CurrentLevel)
		assert.Equal(t, models.RoleCEO, path.CurrentOwnerRole)
		assert.True(t, path.IsFinal)
		assert.Nil(t, path.NextEscalationRole)
		assert.Nil(t, path.TimeUntilEscalationHours)
	}
}

func TestTerminalCardIsFrozen(t *testing.T) {
	c := card()
	c.Status = models.CardStatusDecided
	path := ComputePath(c, []models.EscalationRule{criticalRule()}, created.Add(500*time.Hour))

	assert.Equal(t, 1, path.CurrentLevel)
	assert.Equal(t, models.RoleCFO, path.CurrentOwnerRole)
	assert.Nil(t, path.NextEscalationRole)
	assert.Nil(t, path.TimeUntilEscalationHours)
}

func TestComputePathIsPure(t *testing.T) {
	rules := []models.EscalationRule{criticalRule()}
	now := created.Add(40 * time.Hour)
	assert.Equal(t, ComputePath(card(), rules, now), ComputePath(card(), rules, now))
}
