package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EscalationRule is tenant-scoped configuration. An empty Priority matches
// cards of any priority.
type EscalationRule struct {
	ID                       string  `json:"id"`
	TenantID                 string  `json:"tenantId"`
	Name                     string  `json:"name,omitempty"`
	Priority                 Urgency `json:"priority,omitempty"`
	IsActive                 bool    `json:"isActive"`
	WarningThresholdHours    float64 `json:"warningThresholdHours"`
	EscalationThresholdHours float64 `json:"escalationThresholdHours"`
	FinalEscalationHours     float64 `json:"finalEscalationHours"`
	InitialOwnerRole         string  `json:"initialOwnerRole"`
	EscalateToRole           string  `json:"escalateToRole"`
	FinalEscalateToRole      string  `json:"finalEscalateToRole"`
}

func (r EscalationRule) Validate() error {
	if r.ID == "" {
		return errors.New("rule id required")
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return fmt.Errorf("rule %s: unknown priority %q", r.ID, r.Priority)
	}
	if r.EscalationThresholdHours <= 0 || r.FinalEscalationHours <= 0 {
		return fmt.Errorf("rule %s: escalation thresholds must be positive", r.ID)
	}
	if r.WarningThresholdHours < 0 || r.WarningThresholdHours > r.EscalationThresholdHours {
		return fmt.Errorf("rule %s: warning threshold must be within [0, escalation threshold]", r.ID)
	}
	if r.FinalEscalationHours < r.EscalationThresholdHours {
		return fmt.Errorf("rule %s: final escalation precedes first escalation", r.ID)
	}
	if r.InitialOwnerRole == "" || r.EscalateToRole == "" || r.FinalEscalateToRole == "" {
		return fmt.Errorf("rule %s: all three roles are required", r.ID)
	}
	return nil
}

// EscalationPath is derived on read from a card and its rule; it is never stored.
type EscalationPath struct {
	CurrentLevel             int      `json:"currentLevel"`
	CurrentOwnerRole         string   `json:"currentOwnerRole"`
	NextEscalationRole       *string  `json:"nextEscalationRole"`
	TimeUntilEscalationHours *float64 `json:"timeUntilEscalationHours"`
	IsFinal                  bool     `json:"isFinal"`
	IsWarning                bool     `json:"isWarning"`
	RuleID                   *string  `json:"ruleId,omitempty"`
}

type EscalationKind string

const (
	EscalationManual      EscalationKind = "manual"
	EscalationReactivated EscalationKind = "reactivated"
	EscalationReset       EscalationKind = "reset"
	EscalationAutomatic   EscalationKind = "automatic"
)

type EscalationHistory struct {
	ID        uuid.UUID      `json:"id"`
	CardID    uuid.UUID      `json:"cardId"`
	Kind      EscalationKind `json:"kind"`
	FromLevel int            `json:"fromLevel"`
	ToLevel   int            `json:"toLevel"`
	FromRole  string         `json:"fromRole"`
	ToRole    string         `json:"toRole"`
	Actor     string         `json:"actor"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
