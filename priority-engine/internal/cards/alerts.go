package cards

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

// RaiseAlert records a raw monitoring alert for the tenant's alert feed.
func (s *Service) RaiseAlert(ctx context.Context, tenantID string, a models.Alert) (models.Alert, error) {
	a.Kind = strings.TrimSpace(a.Kind)
	a.Message = strings.TrimSpace(a.Message)
	if tenantID == "" || a.Kind == "" || a.Message == "" {
		return models.Alert{}, fmt.Errorf("%w: alert needs tenant, kind and message", ErrInvalidCard)
	}
	a.ID = uuid.New()
	a.TenantID = tenantID
	a.Status = models.AlertStatusOpen
	a.DecisionCardID = nil
	a.Resolution = ""
	a.ResolvedAt = nil
	a.CreatedAt = s.now()
	created, err := s.store.CreateAlert(ctx, a)
	if err != nil {
		return models.Alert{}, fmt.Errorf("create alert: %w", err)
	}
	return created, nil
}

// LinkToAlert attaches an alert to a live card. Linked alerts drop out of the
// feed and are resolved when the card resolves.
func (s *Service) LinkToAlert(ctx context.Context, tenantID string, cardID, alertID uuid.UUID) (models.Alert, error) {
	card, err := s.Get(ctx, tenantID, cardID)
	if err != nil {
		return models.Alert{}, err
	}
	if card.Status.IsTerminal() {
		return models.Alert{}, ErrAlreadyResolved
	}
	alert, err := s.store.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		return models.Alert{}, fmt.Errorf("get alert %s: %w", alertID, err)
	}
	if alert.Status != models.AlertStatusOpen {
		return alert, fmt.Errorf("%w: alert is %s", ErrInvalidTransition, alert.Status)
	}
	if err := s.store.LinkAlert(ctx, tenantID, alertID, cardID); err != nil {
		return models.Alert{}, fmt.Errorf("link alert %s: %w", alertID, err)
	}
	alert.DecisionCardID = &card.ID
	return alert, nil
}

// ResolveAlertsByCard resolves every open alert linked to the card.
func (s *Service) ResolveAlertsByCard(ctx context.Context, tenantID string, cardID uuid.UUID, resolution string) (int, error) {
	if resolution == "" {
		resolution = "resolved with decision card"
	}
	n, err := s.store.ResolveAlertsByCard(ctx, tenantID, cardID, resolution, s.now())
	if err != nil {
		return 0, fmt.Errorf("resolve alerts for card %s: %w", cardID, err)
	}
	return n, nil
}

// VisibleAlerts lists the tenant's open alerts that no card has absorbed.
func (s *Service) VisibleAlerts(ctx context.Context, tenantID string) ([]models.Alert, error) {
	alerts, err := s.store.ListVisibleAlerts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list visible alerts: %w", err)
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return alerts, nil
}
