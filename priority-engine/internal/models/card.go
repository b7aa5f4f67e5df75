package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role names used for card ownership. Escalation rules may name other roles.
const (
	RoleCEO = "CEO"
	RoleCFO = "CFO"
	RoleCOO = "COO"
)

type CardStatus string

const (
	CardStatusNew        CardStatus = "NEW"
	CardStatusOpen       CardStatus = "OPEN"
	CardStatusInProgress CardStatus = "IN_PROGRESS"
	CardStatusDecided    CardStatus = "DECIDED"
	CardStatusDismissed  CardStatus = "DISMISSED"
	CardStatusExpired    CardStatus = "EXPIRED"
)

// IsTerminal reports whether no further status transition is allowed.
func (s CardStatus) IsTerminal() bool {
	switch s {
	case CardStatusDecided, CardStatusDismissed, CardStatusExpired:
		return true
	}
	return false
}

// CardAction is a recorded action on a card. Approve, reject and snooze are the
// user-facing decisions; the rest are recorded by the lifecycle itself.
type CardAction string

const (
	ActionApprove    CardAction = "APPROVE"
	ActionReject     CardAction = "REJECT"
	ActionSnooze     CardAction = "SNOOZE"
	ActionOpen       CardAction = "OPEN"
	ActionStart      CardAction = "START"
	ActionExpire     CardAction = "EXPIRE"
	ActionReactivate CardAction = "REACTIVATE"
)

// ParseDecision parses one of the three user decisions.
func ParseDecision(s string) (CardAction, error) {
	switch CardAction(s) {
	case ActionApprove, ActionReject, ActionSnooze:
		return CardAction(s), nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

type DecisionCard struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        string     `json:"tenantId"`
	SubjectID       string     `json:"subjectId"`
	Category        Category   `json:"category"`
	Priority        Urgency    `json:"priority"`
	Title           string     `json:"title"`
	ImpactAmount    int64      `json:"impactAmount"`
	CreatedAt       time.Time  `json:"createdAt"`
	DeadlineAt      *time.Time `json:"deadlineAt,omitempty"`
	OwnerRole       string     `json:"ownerRole"`
	Status          CardStatus `json:"status"`
	EscalationLevel int        `json:"escalationLevel"`
	ManualOverride  bool       `json:"manualOverride"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type CardAuditEntry struct {
	ID         uuid.UUID  `json:"id"`
	CardID     uuid.UUID  `json:"cardId"`
	Action     CardAction `json:"action"`
	Actor      string     `json:"actor"`
	Comment    string     `json:"comment,omitempty"`
	FromStatus CardStatus `json:"fromStatus"`
	ToStatus   CardStatus `json:"toStatus"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "open"
	AlertStatusResolved AlertStatus = "resolved"
)

// Alert is a raw monitoring alert. Once linked to a card it is hidden from the
// alert feed and resolved together with the card.
type Alert struct {
	ID             uuid.UUID   `json:"id"`
	TenantID       string      `json:"tenantId"`
	SubjectID      string      `json:"subjectId,omitempty"`
	Kind           string      `json:"kind"`
	Message        string      `json:"message"`
	Status         AlertStatus `json:"status"`
	DecisionCardID *uuid.UUID  `json:"decisionCardId,omitempty"`
	Resolution     string      `json:"resolution,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	ResolvedAt     *time.Time  `json:"resolvedAt,omitempty"`
}

type NotificationType string

const (
	NotificationCardCreated  NotificationType = "card.created"
	NotificationCardResolved NotificationType = "card.resolved"
)

// NotificationEvent is what the engine hands to the delivery layer.
type NotificationEvent struct {
	Type         NotificationType `json:"type"`
	TenantID     string           `json:"tenantId"`
	CardID       uuid.UUID        `json:"cardId"`
	Status       CardStatus       `json:"status"`
	OwnerRole    string           `json:"ownerRole"`
	ImpactAmount int64            `json:"impactAmount"`
	OccurredAt   time.Time        `json:"occurredAt"`
}
