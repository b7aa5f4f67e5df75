package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is the row store behind the engine. All mutations are single-row
// updates scoped by primary key.
type Store interface {
	MetricSource
	SignalReader

	ListRules(ctx context.Context, tenantID string) ([]models.EscalationRule, error)
	UpsertRule(ctx context.Context, rule models.EscalationRule) (models.EscalationRule, error)

	CreateCard(ctx context.Context, card models.DecisionCard) (models.DecisionCard, error)
	GetCard(ctx context.Context, tenantID string, id uuid.UUID) (models.DecisionCard, error)
	UpdateCard(ctx context.Context, card models.DecisionCard) (models.DecisionCard, error)
	FindOpenCardBySubject(ctx context.Context, tenantID, subjectID string) (models.DecisionCard, error)
	ListOpenCards(ctx context.Context, tenantID string) ([]models.DecisionCard, error)
	ListOverdueCards(ctx context.Context, tenantID string, now time.Time) ([]models.DecisionCard, error)

	AppendAuditEntry(ctx context.Context, entry models.CardAuditEntry) error
	ListAuditEntries(ctx context.Context, cardID uuid.UUID) ([]models.CardAuditEntry, error)
	AppendEscalationHistory(ctx context.Context, entry models.EscalationHistory) error
	ListEscalationHistory(ctx context.Context, cardID uuid.UUID) ([]models.EscalationHistory, error)

	CreateAlert(ctx context.Context, alert models.Alert) (models.Alert, error)
	GetAlert(ctx context.Context, tenantID string, id uuid.UUID) (models.Alert, error)
	LinkAlert(ctx context.Context, tenantID string, alertID, cardID uuid.UUID) error
	ResolveAlertsByCard(ctx context.Context, tenantID string, cardID uuid.UUID, resolution string, at time.Time) (int, error)
	ListVisibleAlerts(ctx context.Context, tenantID string) ([]models.Alert, error)

	Ping(ctx context.Context) error
}

// MetricSource serves the locked and observed tiers of the confidence resolver.
// ErrNotFound means the source has no value for the key.
type MetricSource interface {
	LockedMetric(ctx context.Context, tenantID, key string) (LockedMetric, error)
	ObservedMetric(ctx context.Context, tenantID, key string) (ObservedMetric, error)
}

// LockedMetric is another module's finalized value for a metric.
type LockedMetric struct {
	Value        float64
	SourceID     string
	SourceModule string
	LockedAt     time.Time
}

// ObservedMetric is an aggregation over this module's own transactions.
type ObservedMetric struct {
	Value      float64
	SourceID   string
	ComputedAt time.Time
}

// SignalView names a collector-owned view of pre-computed signals.
type SignalView string

const (
	ViewInventoryRisk SignalView = "inventory_risk_signals"
	ViewCashLock      SignalView = "cash_lock_signals"
	ViewMarginLeak    SignalView = "margin_leak_signals"
	ViewMarkdownRisk  SignalView = "markdown_risk_signals"
	ViewSizeHealth    SignalView = "size_health_signals"
)

// Views lists every known signal view.
var Views = []SignalView{ViewInventoryRisk, ViewCashLock, ViewMarginLeak, ViewMarkdownRisk, ViewSizeHealth}

func (v SignalView) Valid() bool {
	switch v {
	case ViewInventoryRisk, ViewCashLock, ViewMarginLeak, ViewMarkdownRisk, ViewSizeHealth:
		return true
	}
	return false
}

type SignalReader interface {
	ReadSignals(ctx context.Context, view SignalView, tenantID string) ([]models.Signal, error)
}
