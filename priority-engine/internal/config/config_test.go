package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENGINE_DATABASE_URL", "postgres://localhost/engine")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8070", cfg.Addr)
	assert.Equal(t, 15*time.Minute, cfg.LockedCacheTTL)
	assert.Equal(t, 2*time.Minute, cfg.ObservedCacheTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.ReviewWindow)
	assert.Equal(t, 24*time.Hour, cfg.SnoozeDuration)
	assert.Equal(t, int64(500_000_000), cfg.CriticalDamage)
	assert.Equal(t, int64(100_000_000), cfg.UrgentDamage)
	assert.Equal(t, 7, cfg.CriticalETADays)
	assert.Equal(t, 14, cfg.UrgentETADays)
	assert.Equal(t, 7, cfg.MaxItems)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadRequiresDatabase(t *testing.T) {
	t.Setenv("ENGINE_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadParsesLists(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/engine")
	t.Setenv("ENGINE_TENANTS", "acme, globex ,")
	t.Setenv("ENGINE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ENGINE_HTTP_COLLECTORS", "planning=http://planning:8080/,bogus,=http://x")
	t.Setenv("ENGINE_PASS_INTERVAL", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, cfg.Tenants)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []HTTPCollectorConfig{{Name: "planning", BaseURL: "http://planning:8080"}}, cfg.HTTPCollectors)
	assert.Equal(t, 90*time.Second, cfg.PassInterval)
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/engine")
	t.Setenv("ENGINE_URGENT_DAMAGE", "900000000")

	_, err := Load()
	assert.Error(t, err)
}

const rulesYAML = `
rules:
  - id: critical
    tenant_id: acme
    priority: critical
    warning_threshold_hours: 12
    escalation_threshold_hours: 24
    final_escalation_hours: 72
    initial_owner_role: COO
    escalate_to_role: CFO
    final_escalate_to_role: CEO
  - id: fallback
    tenants: [acme, globex]
    is_active: false
    escalation_threshold_hours: 48
    final_escalation_hours: 96
    initial_owner_role: COO
    escalate_to_role: CFO
    final_escalate_to_role: CEO
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules(strings.NewReader(rulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, "critical", rules[0].ID)
	assert.Equal(t, models.UrgencyCritical, rules[0].Priority)
	assert.True(t, rules[0].IsActive)

	assert.Equal(t, "fallback@acme", rules[1].ID)
	assert.Equal(t, "acme", rules[1].TenantID)
	assert.False(t, rules[1].IsActive)
	assert.Equal(t, "fallback@globex", rules[2].ID)
	assert.Equal(t, models.Urgency(""), rules[2].Priority)
}

func TestParseRulesRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown field": "rules:\n  - id: x\n    tenant_id: a\n    colour: red\n",
		"bad thresholds": `
rules:
  - id: x
    tenant_id: a
    escalation_threshold_hours: 48
    final_escalation_hours: 24
    initial_owner_role: COO
    escalate_to_role: CFO
    final_escalate_to_role: CEO
`,
		"duplicate": `
rules:
  - {id: x, tenant_id: a, escalation_threshold_hours: 1, final_escalation_hours: 2, initial_owner_role: A, escalate_to_role: B, final_escalate_to_role: C}
  - {id: x, tenant_id: a, escalation_threshold_hours: 1, final_escalation_hours: 2, initial_owner_role: A, escalate_to_role: B, final_escalate_to_role: C}
`,
		"missing tenant": `
rules:
  - {id: x, escalation_threshold_hours: 1, final_escalation_hours: 2, initial_owner_role: A, escalate_to_role: B, final_escalate_to_role: C}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRules(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Len(t, rules, 3)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRulesEmpty(t *testing.T) {
	rules, err := ParseRules(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rules)
}
