package cards

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/escalation"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

// Path derives the card's escalation path as of now.
func (s *Service) Path(ctx context.Context, tenantID string, cardID uuid.UUID) (models.EscalationPath, error) {
	card, err := s.Get(ctx, tenantID, cardID)
	if err != nil {
		return models.EscalationPath{}, err
	}
	rules, err := s.rules(ctx, tenantID)
	if err != nil {
		return models.EscalationPath{}, err
	}
	return escalation.ComputePath(card, rules, s.now()), nil
}

func (s *Service) rules(ctx context.Context, tenantID string) ([]models.EscalationRule, error) {
	rules, err := s.store.ListRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list escalation rules: %w", err)
	}
	return rules, nil
}

// Escalate hands the card one level up. An empty toRole means the next role
// on the card's path. The result is a manual override: the stored level and
// owner hold until the clock passes them or the override is reset.
func (s *Service) Escalate(ctx context.Context, tenantID string, cardID uuid.UUID, toRole, actor, reason string) (models.DecisionCard, error) {
	card, err := s.Get(ctx, tenantID, cardID)
	if err != nil {
		return models.DecisionCard{}, err
	}
	if card.Status.IsTerminal() {
		return card, ErrAlreadyResolved
	}
	rules, err := s.rules(ctx, tenantID)
	if err != nil {
		return models.DecisionCard{}, err
	}
	path := escalation.ComputePath(card, rules, s.now())
	if toRole == "" {
		if path.NextEscalationRole == nil {
			return card, fmt.Errorf("%w: card is at its final escalation level", ErrInvalidTransition)
		}
		toRole = *path.NextEscalationRole
	}

	level := path.CurrentLevel + 1
	if level > escalation.DefaultMaxLevel {
		level = escalation.DefaultMaxLevel
	}
	fromLevel, fromRole := card.EscalationLevel, card.OwnerRole
	card.EscalationLevel = level
	card.OwnerRole = toRole
	card.ManualOverride = true

	updated, err := s.store.UpdateCard(ctx, card)
	if err != nil {
		return models.DecisionCard{}, fmt.Errorf("update card: %w", err)
	}
	if err := s.history(ctx, updated.ID, models.EscalationManual, fromLevel, level, fromRole, toRole, actor, reason); err != nil {
		return updated, err
	}
	s.logger.Info("card escalated",
		zap.String("tenant", tenantID),
		zap.String("card", updated.ID.String()),
		zap.Int("level", level),
		zap.String("owner", toRole),
		zap.String("actor", actor))
	return updated, nil
}

// ResetEscalation drops a manual override and stores the level and owner the
// rules give for the card's age. Cards without an override are returned as is.
func (s *Service) ResetEscalation(ctx context.Context, tenantID string, cardID uuid.UUID, actor, reason string) (models.DecisionCard, error) {
	card, err := s.Get(ctx, tenantID, cardID)
	if err != nil {
		return models.DecisionCard{}, err
	}
	if card.Status.IsTerminal() {
		return card, ErrAlreadyResolved
	}
	if !card.ManualOverride {
		return card, nil
	}
	rules, err := s.rules(ctx, tenantID)
	if err != nil {
		return models.DecisionCard{}, err
	}

	fromLevel, fromRole := card.EscalationLevel, card.OwnerRole
	card.ManualOverride = false
	path := escalation.ComputePath(card, rules, s.now())
	card.EscalationLevel = path.CurrentLevel
	card.OwnerRole = path.CurrentOwnerRole

	updated, err := s.store.UpdateCard(ctx, card)
	if err != nil {
		return models.DecisionCard{}, fmt.Errorf("update card: %w", err)
	}
	if err := s.history(ctx, updated.ID, models.EscalationReset, fromLevel, updated.EscalationLevel, fromRole, updated.OwnerRole, actor, reason); err != nil {
		return updated, err
	}
	return updated, nil
}

// SyncEscalations stores the derived level and owner on every open card whose
// stored level has fallen behind the clock, or whose manual override the
// clock has overtaken. It returns the number of cards
// changed. Paths are still derived on read; this keeps list views and
// notifications in step with them.
func (s *Service) SyncEscalations(ctx context.Context, tenantID string) (int, error) {
	open, err := s.store.ListOpenCards(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("list open cards: %w", err)
	}
	if len(open) == 0 {
		return 0, nil
	}
	rules, err := s.rules(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	changed := 0
	for _, card := range open {
		path := escalation.ComputePath(card, rules, now)
		overtaken := card.ManualOverride && path.CurrentLevel == card.EscalationLevel && path.CurrentOwnerRole != card.OwnerRole
		if path.CurrentLevel <= card.EscalationLevel && !overtaken {
			continue
		}
		fromLevel, fromRole := card.EscalationLevel, card.OwnerRole
		card.ManualOverride = false
		card.EscalationLevel = path.CurrentLevel
		card.OwnerRole = path.CurrentOwnerRole
		if _, err := s.store.UpdateCard(ctx, card); err != nil {
			return changed, fmt.Errorf("update card %s: %w", card.ID, err)
		}
		if err := s.history(ctx, card.ID, models.EscalationAutomatic, fromLevel, card.EscalationLevel, fromRole, card.OwnerRole, SystemActor, "escalation threshold passed"); err != nil {
			return changed, err
		}
		changed++
	}
	if changed > 0 {
		s.logger.Info("escalations synced", zap.String("tenant", tenantID), zap.Int("changed", changed))
	}
	return changed, nil
}

// CardHistory is the full trail of a card.
type CardHistory struct {
	Audit      []models.CardAuditEntry    `json:"audit"`
	Escalation []models.EscalationHistory `json:"escalation"`
}

func (s *Service) History(ctx context.Context, tenantID string, cardID uuid.UUID) (CardHistory, error) {
	if _, err := s.Get(ctx, tenantID, cardID); err != nil {
		return CardHistory{}, err
	}
	audit, err := s.store.ListAuditEntries(ctx, cardID)
	if err != nil {
		return CardHistory{}, fmt.Errorf("list audit entries: %w", err)
	}
	history, err := s.store.ListEscalationHistory(ctx, cardID)
	if err != nil {
		return CardHistory{}, fmt.Errorf("list escalation history: %w", err)
	}
	if audit == nil {
		audit = []models.CardAuditEntry{}
	}
	if history == nil {
		history = []models.EscalationHistory{}
	}
	return CardHistory{Audit: audit, Escalation: history}, nil
}
