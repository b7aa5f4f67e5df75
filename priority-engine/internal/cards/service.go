// Package cards owns the decision card lifecycle: creation from priority
// items or signals, user transitions, deadline expiry, reactivation, manual
// escalation and the card-to-alert links.
package cards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/aggregator"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/archive"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/logging"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/notify"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/store"
)

var (
	ErrAlreadyResolved   = errors.New("card already resolved")
	ErrInvalidTransition = errors.New("invalid card transition")
	ErrNoImpact          = errors.New("card requires financial impact or critical/urgent severity")
	ErrInvalidCard       = errors.New("invalid card input")
)

// SystemActor is recorded for lifecycle moves the engine makes on its own.
const SystemActor = "system"

const (
	defaultReviewWindow = 7 * 24 * time.Hour
	defaultSnooze       = 24 * time.Hour
)

var validTransitions = map[models.CardStatus]map[models.CardStatus]bool{
	models.CardStatusNew: {
		models.CardStatusOpen:       true,
		models.CardStatusInProgress: true,
		models.CardStatusDecided:    true,
		models.CardStatusDismissed:  true,
		models.CardStatusExpired:    true,
	},
	models.CardStatusOpen: {
		models.CardStatusInProgress: true,
		models.CardStatusDecided:    true,
		models.CardStatusDismissed:  true,
		models.CardStatusExpired:    true,
	},
	models.CardStatusInProgress: {
		models.CardStatusDecided:   true,
		models.CardStatusDismissed: true,
		models.CardStatusExpired:   true,
	},
}

func canTransition(from, to models.CardStatus) bool {
	return validTransitions[from][to]
}

// Options configure a Service. Zero values take the defaults: a 7 day review
// window, a 24 hour snooze, DefaultThresholds and no archiving.
type Options struct {
	ReviewWindow   time.Duration
	SnoozeDuration time.Duration
	Thresholds     aggregator.Thresholds
	Archiver       archive.Archiver
	Logger         *zap.Logger
	Now            func() time.Time
}

// Service applies lifecycle operations to cards of an explicit tenant.
type Service struct {
	store     store.Store
	publisher notify.Publisher
	archiver  archive.Archiver
	logger    *zap.Logger
	now       func() time.Time

	reviewWindow time.Duration
	snooze       time.Duration
	thresholds   aggregator.Thresholds
}

// New builds a Service. A nil publisher logs notifications instead.
func New(st store.Store, pub notify.Publisher, opts Options) *Service {
	s := &Service{
		store:        st,
		publisher:    pub,
		archiver:     opts.Archiver,
		logger:       logging.OrNop(opts.Logger),
		now:          opts.Now,
		reviewWindow: opts.ReviewWindow,
		snooze:       opts.SnoozeDuration,
		thresholds:   opts.Thresholds,
	}
	if s.publisher == nil {
		s.publisher = notify.NewLogPublisher(s.logger)
	}
	if s.archiver == nil {
		s.archiver = archive.NopArchiver{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.reviewWindow <= 0 {
		s.reviewWindow = defaultReviewWindow
	}
	if s.snooze <= 0 {
		s.snooze = defaultSnooze
	}
	s.thresholds = s.thresholds.WithDefaults(aggregator.DefaultThresholds)
	return s
}

// OwnerForCategory maps a signal category onto the executive role that owns
// decisions about it.
func OwnerForCategory(c models.Category) string {
	switch c {
	case models.CategoryCashLock, models.CategoryMarginLeak:
		return models.RoleCFO
	case models.CategoryLostRevenue, models.CategoryMarkdownRisk:
		return models.RoleCOO
	case models.CategorySizeBreak:
		return models.RoleCEO
	}
	return models.RoleCOO
}

type draft struct {
	subjectID string
	category  models.Category
	urgency   models.Urgency
	impact    int64
	eta       *int
}

// CreateFromItem promotes an aggregated priority item into a card.
func (s *Service) CreateFromItem(ctx context.Context, tenantID string, item models.PriorityItem, actor string) (models.DecisionCard, error) {
	return s.create(ctx, tenantID, draft{
		subjectID: item.SubjectID,
		category:  item.DominantCategory,
		urgency:   item.Urgency,
		impact:    item.TotalDamage,
		eta:       item.ETADays,
	}, actor)
}

// CreateFromSignal promotes a single high-severity signal. Severity comes
// from the same thresholds the aggregator uses.
func (s *Service) CreateFromSignal(ctx context.Context, tenantID string, sig models.Signal, actor string) (models.DecisionCard, error) {
	if sig.Amount < 0 {
		return models.DecisionCard{}, fmt.Errorf("%w: negative amount", ErrInvalidCard)
	}
	return s.create(ctx, tenantID, draft{
		subjectID: sig.SubjectID,
		category:  sig.Category,
		urgency:   aggregator.Classify(sig.Amount, sig.ETADays, s.thresholds),
		impact:    sig.Amount,
		eta:       sig.ETADays,
	}, actor)
}

func (s *Service) create(ctx context.Context, tenantID string, d draft, actor string) (models.DecisionCard, error) {
	if tenantID == "" || d.subjectID == "" {
		return models.DecisionCard{}, fmt.Errorf("%w: tenant and subject required", ErrInvalidCard)
	}
	if !d.category.Valid() {
		return models.DecisionCard{}, fmt.Errorf("%w: unknown category %q", ErrInvalidCard, d.category)
	}
	if d.impact <= 0 && d.urgency != models.UrgencyCritical && d.urgency != models.UrgencyUrgent {
		return models.DecisionCard{}, ErrNoImpact
	}

	now := s.now()
	deadline := s.deadlineFor(now, d.eta)
	card := models.DecisionCard{
		ID:              uuid.New(),
		TenantID:        tenantID,
		SubjectID:       d.subjectID,
		Category:        d.category,
		Priority:        d.urgency,
		Title:           fmt.Sprintf("%s: %s", d.category.Label(), d.subjectID),
		ImpactAmount:    d.impact,
		CreatedAt:       now,
		DeadlineAt:      &deadline,
		OwnerRole:       OwnerForCategory(d.category),
		Status:          models.CardStatusNew,
		EscalationLevel: 1,
	}
	created, err := s.store.CreateCard(ctx, card)
	if err != nil {
		return models.DecisionCard{}, fmt.Errorf("create card: %w", err)
	}
	s.logger.Info("decision card created",
		zap.String("tenant", tenantID),
		zap.String("card", created.ID.String()),
		zap.String("subject", created.SubjectID),
		zap.String("owner", created.OwnerRole),
		zap.String("actor", actor))
	s.publish(ctx, models.NotificationCardCreated, created)
	return created, nil
}

// deadlineFor applies the review window, or the ETA when it is sooner. ETAs
// below one day are treated as one day.
func (s *Service) deadlineFor(now time.Time, eta *int) time.Time {
	deadline := now.Add(s.reviewWindow)
	if eta != nil {
		days := *eta
		if days < 1 {
			days = 1
		}
		if byETA := now.Add(time.Duration(days) * 24 * time.Hour); byETA.Before(deadline) {
			deadline = byETA
		}
	}
	return deadline
}

func (s *Service) Get(ctx context.Context, tenantID string, cardID uuid.UUID) (models.DecisionCard, error) {
	card, err := s.store.GetCard(ctx, tenantID, cardID)
	if err != nil {
		return models.DecisionCard{}, fmt.Errorf("get card %s: %w", cardID, err)
	}
	return card, nil
}

func (s *Service) ListOpen(ctx context.Context, tenantID string) ([]models.DecisionCard, error) {
	cards, err := s.store.ListOpenCards(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list open cards: %w", err)
	}
	return cards, nil
}

// Open moves a NEW card to OPEN.
func (s *Service) Open(ctx context.Context, tenantID string, cardID uuid.UUID, actor string) (models.DecisionCard, error) {
	return s.move(ctx, tenantID, cardID, models.ActionOpen, models.CardStatusOpen, actor, "")
}

// Start moves a NEW or OPEN card to IN_PROGRESS.
func (s *Service) Start(ctx context.Context, tenantID string, cardID uuid.UUID, actor string) (models.DecisionCard, error) {
	return s.move(ctx, tenantID, cardID, models.ActionStart, models.CardStatusInProgress, actor, "")
}

// Transition applies a user decision. APPROVE and REJECT are terminal;
// SNOOZE pushes the deadline and keeps the status. A terminal card is
// returned unchanged with ErrAlreadyResolved.
func (s *Service) Transition(ctx context.Context, tenantID string, cardID uuid.UUID, action models.CardAction, actor, comment string) (models.DecisionCard, error) {
	switch action {
	case models.ActionApprove:
		return s.move(ctx, tenantID, cardID, action, models.CardStatusDecided, actor, comment)
	case models.ActionReject:
		return s.move(ctx, tenantID, cardID, action, models.CardStatusDismissed, actor, comment)
	case models.ActionSnooze:
		return s.snoozeCard(ctx, tenantID, cardID, actor, comment)
	}
	return models.DecisionCard{}, fmt.Errorf("%w: unsupported action %q", ErrInvalidTransition, action)
}

func (s *Service) move(ctx context.Context, tenantID string, cardID uuid.UUID, action models.CardAction, to models.CardStatus, actor, comment string) (models.DecisionCard, error) {
	card, err := s.Get(ctx, tenantID, cardID)
	if err != nil {
		return models.DecisionCard{}, err
	}
	return s.apply(ctx, card, action, to, actor, comment)
}

func (s *Service) apply(ctx context.Context, card models.DecisionCard, action models.CardAction, to models.CardStatus, actor, comment string) (models.DecisionCard, error) {
	if card.Status.IsTerminal() {
		return card, ErrAlreadyResolved
	}
	if !canTransition(card.Status, to) {
		return card, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, card.Status, to)
	}
	from := card.Status
	card.Status = to
	updated, err := s.store.UpdateCard(ctx, card)
	if err != nil {
		return models.DecisionCard{}, fmt.Errorf("update card: %w", err)
	}
	// Terminal side effects follow a stored status even when the audit write fails.
	auditErr := s.audit(ctx, updated.ID, action, actor, comment, from, to)
	if to.IsTerminal() {
		s.resolved(ctx, updated)
	}
	if auditErr != nil {
		return updated, auditErr
	}
	return updated, nil
}

func (s *Service) snoozeCard(ctx context.Context, tenantID string, cardID uuid.UUID, actor, comment string) (models.DecisionCard, error) {
	card, err := s.Get(ctx, tenantID, cardID)
	if err != nil {
		return models.DecisionCard{}, err
	}
	if card.Status.IsTerminal() {
		return card, ErrAlreadyResolved
	}
	base := s.now()
	if card.DeadlineAt != nil {
		base = *card.DeadlineAt
	}
	deadline := base.Add(s.snooze)
	card.DeadlineAt = &deadline
	updated, err := s.store.UpdateCard(ctx, card)
	if err != nil {
		return models.DecisionCard{}, fmt.Errorf("update card: %w", err)
	}
	if err := s.audit(ctx, updated.ID, models.ActionSnooze, actor, comment, card.Status, card.Status); err != nil {
		return updated, err
	}
	return updated, nil
}

func (s *Service) audit(ctx context.Context, cardID uuid.UUID, action models.CardAction, actor, comment string, from, to models.CardStatus) error {
	if actor == "" {
		actor = SystemActor
	}
	err := s.store.AppendAuditEntry(ctx, models.CardAuditEntry{
		ID:         uuid.New(),
		CardID:     cardID,
		Action:     action,
		Actor:      actor,
		Comment:    comment,
		FromStatus: from,
		ToStatus:   to,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// resolved runs the terminal side effects. None of them can fail the
// transition that triggered them.
func (s *Service) resolved(ctx context.Context, card models.DecisionCard) {
	log := s.logger.With(zap.String("tenant", card.TenantID), zap.String("card", card.ID.String()))

	n, err := s.ResolveAlertsByCard(ctx, card.TenantID, card.ID, "card "+strings.ToLower(string(card.Status)))
	if err != nil {
		log.Warn("resolve linked alerts failed", zap.Error(err))
	} else if n > 0 {
		log.Info("linked alerts resolved", zap.Int("count", n))
	}

	s.publish(ctx, models.NotificationCardResolved, card)

	audit, err := s.store.ListAuditEntries(ctx, card.ID)
	if err != nil {
		log.Warn("archive skipped: audit trail unavailable", zap.Error(err))
		return
	}
	history, err := s.store.ListEscalationHistory(ctx, card.ID)
	if err != nil {
		log.Warn("archive skipped: escalation history unavailable", zap.Error(err))
		return
	}
	if key, err := s.archiver.ArchiveCard(ctx, card, audit, history); err != nil {
		log.Warn("archive card failed", zap.Error(err))
	} else if key != "" {
		log.Debug("card archived", zap.String("key", key))
	}
}

func (s *Service) publish(ctx context.Context, typ models.NotificationType, card models.DecisionCard) {
	ev := models.NotificationEvent{
		Type:         typ,
		TenantID:     card.TenantID,
		CardID:       card.ID,
		Status:       card.Status,
		OwnerRole:    card.OwnerRole,
		ImpactAmount: card.ImpactAmount,
		OccurredAt:   s.now(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish notification failed",
			zap.String("tenant", card.TenantID),
			zap.String("card", card.ID.String()),
			zap.String("type", string(typ)),
			zap.Error(err))
	}
}

// ExpireOverdue moves every non-terminal card past its deadline to EXPIRED
// and returns how many were expired.
func (s *Service) ExpireOverdue(ctx context.Context, tenantID string) (int, error) {
	overdue, err := s.store.ListOverdueCards(ctx, tenantID, s.now())
	if err != nil {
		return 0, fmt.Errorf("list overdue cards: %w", err)
	}
	expired := 0
	for _, card := range overdue {
		if _, err := s.apply(ctx, card, models.ActionExpire, models.CardStatusExpired, SystemActor, "deadline passed"); err != nil {
			if errors.Is(err, ErrAlreadyResolved) {
				continue
			}
			return expired, fmt.Errorf("expire card %s: %w", card.ID, err)
		}
		expired++
	}
	return expired, nil
}

// Reactivate returns a terminal card to NEW as a fresh card: level 1, owner
// from its category, a new review window and a restarted escalation clock.
// Existing audit and escalation history are kept and appended to.
func (s *Service) Reactivate(ctx context.Context, tenantID string, cardID uuid.UUID, actor, reason string) (models.DecisionCard, error) {
	card, err := s.Get(ctx, tenantID, cardID)
	if err != nil {
		return models.DecisionCard{}, err
	}
	if !card.Status.IsTerminal() {
		return card, fmt.Errorf("%w: only resolved cards can be reactivated", ErrInvalidTransition)
	}

	now := s.now()
	from := card.Status
	fromLevel, fromRole := card.EscalationLevel, card.OwnerRole
	deadline := now.Add(s.reviewWindow)
	card.Status = models.CardStatusNew
	card.EscalationLevel = 1
	card.ManualOverride = false
	card.OwnerRole = OwnerForCategory(card.Category)
	card.CreatedAt = now
	card.DeadlineAt = &deadline

	updated, err := s.store.UpdateCard(ctx, card)
	if err != nil {
		return models.DecisionCard{}, fmt.Errorf("update card: %w", err)
	}
	auditErr := s.audit(ctx, updated.ID, models.ActionReactivate, actor, reason, from, updated.Status)
	historyErr := s.history(ctx, updated.ID, models.EscalationReactivated, fromLevel, updated.EscalationLevel, fromRole, updated.OwnerRole, actor, reason)
	s.publish(ctx, models.NotificationCardCreated, updated)
	if err := errors.Join(auditErr, historyErr); err != nil {
		return updated, err
	}
	return updated, nil
}

func (s *Service) history(ctx context.Context, cardID uuid.UUID, kind models.EscalationKind, fromLevel, toLevel int, fromRole, toRole, actor, reason string) error {
	if actor == "" {
		actor = SystemActor
	}
	err := s.store.AppendEscalationHistory(ctx, models.EscalationHistory{
		ID:        uuid.New(),
		CardID:    cardID,
		Kind:      kind,
		FromLevel: fromLevel,
		ToLevel:   toLevel,
		FromRole:  fromRole,
		ToRole:    toRole,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("append escalation history: %w", err)
	}
	return nil
}
