package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

type yamlRule struct {
	ID                       string   `yaml:"id"`
	TenantID                 string   `yaml:"tenant_id"`
	Name                     string   `yaml:"name"`
	Priority                 string   `yaml:"priority"`
	IsActive                 *bool    `yaml:"is_active"`
	WarningThresholdHours    float64  `yaml:"warning_threshold_hours"`
	EscalationThresholdHours float64  `yaml:"escalation_threshold_hours"`
	FinalEscalationHours     float64  `yaml:"final_escalation_hours"`
	InitialOwnerRole         string   `yaml:"initial_owner_role"`
	EscalateToRole           string   `yaml:"escalate_to_role"`
	FinalEscalateToRole      string   `yaml:"final_escalate_to_role"`
	Tenants                  []string `yaml:"tenants"`
}

// LoadRules reads and validates an escalation rules seed file.
func LoadRules(path string) ([]models.EscalationRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(bytes.NewReader(raw))
}

// ParseRules decodes a YAML rules document. Unknown fields and duplicate IDs
// are rejected. Rules default to active when is_active is omitted. A rule
// listing several tenants expands to one rule per tenant with the ID suffixed
// by "@tenant".
func ParseRules(r io.Reader) ([]models.EscalationRule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc struct {
		Rules []yamlRule `yaml:"rules"`
	}
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	seen := make(map[string]bool, len(doc.Rules))
	rules := make([]models.EscalationRule, 0, len(doc.Rules))
	for _, yr := range doc.Rules {
		for _, rule := range yr.expand() {
			if err := rule.Validate(); err != nil {
				return nil, err
			}
			if rule.TenantID == "" {
				return nil, fmt.Errorf("rule %s: tenant_id required", rule.ID)
			}
			if seen[rule.ID] {
				return nil, fmt.Errorf("duplicate rule id %q", rule.ID)
			}
			seen[rule.ID] = true
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func (yr yamlRule) expand() []models.EscalationRule {
	base := models.EscalationRule{
		ID:                       yr.ID,
		TenantID:                 yr.TenantID,
		Name:                     yr.Name,
		Priority:                 models.Urgency(yr.Priority),
		IsActive:                 yr.IsActive == nil || *yr.IsActive,
		WarningThresholdHours:    yr.WarningThresholdHours,
		EscalationThresholdHours: yr.EscalationThresholdHours,
		FinalEscalationHours:     yr.FinalEscalationHours,
		InitialOwnerRole:         yr.InitialOwnerRole,
		EscalateToRole:           yr.EscalateToRole,
		FinalEscalateToRole:      yr.FinalEscalateToRole,
	}
	if len(yr.Tenants) == 0 {
		return []models.EscalationRule{base}
	}
	out := make([]models.EscalationRule, 0, len(yr.Tenants))
	for _, tenant := range yr.Tenants {
		r := base
		r.TenantID = tenant
		r.ID = base.ID + "@" + tenant
		out = append(out, r)
	}
	return out
}
