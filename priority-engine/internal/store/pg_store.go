package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

// PGStore persists engine state in Postgres.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

var terminalStatuses = []string{
	string(models.CardStatusDecided),
	string(models.CardStatusDismissed),
	string(models.CardStatusExpired),
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func (s *PGStore) LockedMetric(ctx context.Context, tenantID, key string) (LockedMetric, error) {
	const query = `
		SELECT value, source_id, source_module, locked_at
		FROM locked_metrics
		WHERE tenant_id=$1 AND metric_key=$2 AND value IS NOT NULL
	`
	var m LockedMetric
	if err := s.db.QueryRowContext(ctx, query, tenantID, key).Scan(&m.Value, &m.SourceID, &m.SourceModule, &m.LockedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LockedMetric{}, ErrNotFound
		}
		return LockedMetric{}, fmt.Errorf("get locked metric: %w", err)
	}
	return m, nil
}

func (s *PGStore) ObservedMetric(ctx context.Context, tenantID, key string) (ObservedMetric, error) {
	const query = `
		SELECT value, source_id, computed_at
		FROM observed_metrics
		WHERE tenant_id=$1 AND metric_key=$2 AND value IS NOT NULL
	`
	var m ObservedMetric
	if err := s.db.QueryRowContext(ctx, query, tenantID, key).Scan(&m.Value, &m.SourceID, &m.ComputedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ObservedMetric{}, ErrNotFound
		}
		return ObservedMetric{}, fmt.Errorf("get observed metric: %w", err)
	}
	return m, nil
}

func (s *PGStore) ReadSignals(ctx context.Context, view SignalView, tenantID string) ([]models.Signal, error) {
	if !view.Valid() {
		return nil, fmt.Errorf("unknown signal view %q", view)
	}
	// view is one of the closed set above, never caller text.
	query := `
		SELECT subject_id, category, amount, eta_days, detail, source
		FROM ` + string(view) + `
		WHERE tenant_id=$1
		ORDER BY subject_id, category
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", view, err)
	}
	defer rows.Close()

	var out []models.Signal
	for rows.Next() {
		var (
			sig    models.Signal
			cat    string
			amount sql.NullInt64
			eta    sql.NullInt64
			detail []byte
			source sql.NullString
		)
		if err := rows.Scan(&sig.SubjectID, &cat, &amount, &eta, &detail, &source); err != nil {
			return nil, fmt.Errorf("scan %s: %w", view, err)
		}
		sig.Category = models.Category(cat)
		if amount.Valid {
			sig.Amount = amount.Int64
		}
		if eta.Valid {
			d := int(eta.Int64)
			sig.ETADays = &d
		}
		if len(detail) > 0 {
			_ = json.Unmarshal(detail, &sig.Detail)
		}
		sig.Source = string(view)
		if source.Valid && source.String != "" {
			sig.Source = source.String
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", view, err)
	}
	return out, nil
}

func (s *PGStore) ListRules(ctx context.Context, tenantID string) ([]models.EscalationRule, error) {
	const query = `
		SELECT id, tenant_id, name, priority, is_active, warning_threshold_hours,
		       escalation_threshold_hours, final_escalation_hours,
		       initial_owner_role, escalate_to_role, final_escalate_to_role
		FROM escalation_rules
		WHERE tenant_id=$1
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	var rules []models.EscalationRule
	for rows.Next() {
		var (
			r        models.EscalationRule
			priority string
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &priority, &r.IsActive, &r.WarningThresholdHours,
			&r.EscalationThresholdHours, &r.FinalEscalationHours,
			&r.InitialOwnerRole, &r.EscalateToRole, &r.FinalEscalateToRole); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Priority = models.Urgency(priority)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func (s *PGStore) UpsertRule(ctx context.Context, r models.EscalationRule) (models.EscalationRule, error) {
	query := `
		INSERT INTO escalation_rules (id, tenant_id, name, priority, is_active, warning_threshold_hours,
			escalation_threshold_hours, final_escalation_hours,
			initial_owner_role, escalate_to_role, final_escalate_to_role)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name,
			priority = EXCLUDED.priority,
			is_active = EXCLUDED.is_active,
			warning_threshold_hours = EXCLUDED.warning_threshold_hours,
			escalation_threshold_hours = EXCLUDED.escalation_threshold_hours,
			final_escalation_hours = EXCLUDED.final_escalation_hours,
			initial_owner_role = EXCLUDED.initial_owner_role,
			escalate_to_role = EXCLUDED.escalate_to_role,
			final_escalate_to_role = EXCLUDED.final_escalate_to_role
	`
	if _, err := s.db.ExecContext(ctx, query, r.ID, r.TenantID, r.Name, string(r.Priority), r.IsActive,
		r.WarningThresholdHours, r.EscalationThresholdHours, r.FinalEscalationHours,
		r.InitialOwnerRole, r.EscalateToRole, r.FinalEscalateToRole); err != nil {
		return models.EscalationRule{}, fmt.Errorf("upsert rule: %w", err)
	}
	return r, nil
}

const cardColumns = `id, tenant_id, subject_id, category, priority, title, impact_amount, created_at,
		       deadline_at, owner_role, status, escalation_level, manual_override, updated_at`

func scanCard(row rowScanner) (models.DecisionCard, error) {
	var (
		c        models.DecisionCard
		category string
		priority string
		status   string
		deadline sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.SubjectID, &category, &priority, &c.Title, &c.ImpactAmount, &c.CreatedAt,
		&deadline, &c.OwnerRole, &status, &c.EscalationLevel, &c.ManualOverride, &c.UpdatedAt); err != nil {
		return models.DecisionCard{}, err
	}
	c.Category = models.Category(category)
	c.Priority = models.Urgency(priority)
	c.Status = models.CardStatus(status)
	if deadline.Valid {
		t := deadline.Time
		c.DeadlineAt = &t
	}
	return c, nil
}

func (s *PGStore) CreateCard(ctx context.Context, c models.DecisionCard) (models.DecisionCard, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	query := `
		INSERT INTO decision_cards (id, tenant_id, subject_id, category, priority, title, impact_amount,
			created_at, deadline_at, owner_role, status, escalation_level, manual_override)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING updated_at
	`
	if err := s.db.QueryRowContext(ctx, query, c.ID, c.TenantID, c.SubjectID, string(c.Category), string(c.Priority),
		c.Title, c.ImpactAmount, c.CreatedAt, c.DeadlineAt, c.OwnerRole, string(c.Status), c.EscalationLevel,
		c.ManualOverride).Scan(&c.UpdatedAt); err != nil {
		return models.DecisionCard{}, fmt.Errorf("insert decision card: %w", err)
	}
	return c, nil
}

func (s *PGStore) GetCard(ctx context.Context, tenantID string, id uuid.UUID) (models.DecisionCard, error) {
	query := `SELECT ` + cardColumns + ` FROM decision_cards WHERE id=$1 AND tenant_id=$2`
	card, err := scanCard(s.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DecisionCard{}, ErrNotFound
		}
		return models.DecisionCard{}, fmt.Errorf("get decision card: %w", err)
	}
	return card, nil
}

func (s *PGStore) UpdateCard(ctx context.Context, c models.DecisionCard) (models.DecisionCard, error) {
	query := `
		UPDATE decision_cards
		SET deadline_at=$3,
		    owner_role=$4,
		    status=$5,
		    escalation_level=$6,
		    manual_override=$7,
		    created_at=$8,
		    updated_at=NOW()
		WHERE id=$1 AND tenant_id=$2
		RETURNING updated_at
	`
	err := s.db.QueryRowContext(ctx, query, c.ID, c.TenantID, c.DeadlineAt, c.OwnerRole, string(c.Status),
		c.EscalationLevel, c.ManualOverride, c.CreatedAt).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DecisionCard{}, ErrNotFound
		}
		return models.DecisionCard{}, fmt.Errorf("update decision card: %w", err)
	}
	return c, nil
}

func (s *PGStore) FindOpenCardBySubject(ctx context.Context, tenantID, subjectID string) (models.DecisionCard, error) {
	query := `SELECT ` + cardColumns + `
		FROM decision_cards
		WHERE tenant_id=$1 AND subject_id=$2 AND NOT (status = ANY($3))
		ORDER BY created_at DESC
		LIMIT 1`
	card, err := scanCard(s.db.QueryRowContext(ctx, query, tenantID, subjectID, pq.Array(terminalStatuses)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DecisionCard{}, ErrNotFound
		}
		return models.DecisionCard{}, fmt.Errorf("find open card: %w", err)
	}
	return card, nil
}

func (s *PGStore) ListOpenCards(ctx context.Context, tenantID string) ([]models.DecisionCard, error) {
	query := `SELECT ` + cardColumns + `
		FROM decision_cards
		WHERE tenant_id=$1 AND NOT (status = ANY($2))
		ORDER BY created_at, id`
	return s.queryCards(ctx, query, tenantID, pq.Array(terminalStatuses))
}

func (s *PGStore) ListOverdueCards(ctx context.Context, tenantID string, now time.Time) ([]models.DecisionCard, error) {
	query := `SELECT ` + cardColumns + `
		FROM decision_cards
		WHERE tenant_id=$1 AND NOT (status = ANY($2)) AND deadline_at IS NOT NULL AND deadline_at < $3
		ORDER BY deadline_at, id`
	return s.queryCards(ctx, query, tenantID, pq.Array(terminalStatuses), now)
}

func (s *PGStore) queryCards(ctx context.Context, query string, args ...interface{}) ([]models.DecisionCard, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decision cards: %w", err)
	}
	defer rows.Close()
	var cards []models.DecisionCard
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision cards: %w", err)
	}
	return cards, nil
}

func (s *PGStore) AppendAuditEntry(ctx context.Context, e models.CardAuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `
		INSERT INTO card_audit_entries (id, card_id, action, actor, comment, from_status, to_status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	if _, err := s.db.ExecContext(ctx, query, e.ID, e.CardID, string(e.Action), e.Actor, e.Comment,
		string(e.FromStatus), string(e.ToStatus), e.CreatedAt); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PGStore) ListAuditEntries(ctx context.Context, cardID uuid.UUID) ([]models.CardAuditEntry, error) {
	const query = `
		SELECT id, card_id, action, actor, comment, from_status, to_status, created_at
		FROM card_audit_entries
		WHERE card_id=$1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	var out []models.CardAuditEntry
	for rows.Next() {
		var (
			e                models.CardAuditEntry
			action, from, to string
		)
		if err := rows.Scan(&e.ID, &e.CardID, &action, &e.Actor, &e.Comment, &from, &to, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = models.CardAction(action)
		e.FromStatus = models.CardStatus(from)
		e.ToStatus = models.CardStatus(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) AppendEscalationHistory(ctx context.Context, h models.EscalationHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	query := `
		INSERT INTO escalation_history (id, card_id, kind, from_level, to_level, from_role, to_role, actor, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`
	if _, err := s.db.ExecContext(ctx, query, h.ID, h.CardID, string(h.Kind), h.FromLevel, h.ToLevel,
		h.FromRole, h.ToRole, h.Actor, h.Reason, h.CreatedAt); err != nil {
		return fmt.Errorf("insert escalation history: %w", err)
	}
	return nil
}

func (s *PGStore) ListEscalationHistory(ctx context.Context, cardID uuid.UUID) ([]models.EscalationHistory, error) {
	const query = `
		SELECT id, card_id, kind, from_level, to_level, from_role, to_role, actor, reason, created_at
		FROM escalation_history
		WHERE card_id=$1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("list escalation history: %w", err)
	}
	defer rows.Close()
	var out []models.EscalationHistory
	for rows.Next() {
		var (
			h    models.EscalationHistory
			kind string
		)
		if err := rows.Scan(&h.ID, &h.CardID, &kind, &h.FromLevel, &h.ToLevel, &h.FromRole, &h.ToRole,
			&h.Actor, &h.Reason, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan escalation history: %w", err)
		}
		h.Kind = models.EscalationKind(kind)
		out = append(out, h)
	}
	return out, rows.Err()
}

const alertColumns = `id, tenant_id, subject_id, kind, message, status, decision_card_id, resolution, created_at, resolved_at`

func scanAlert(row rowScanner) (models.Alert, error) {
	var (
		a        models.Alert
		status   string
		cardID   uuid.NullUUID
		resolved sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.SubjectID, &a.Kind, &a.Message, &status, &cardID,
		&a.Resolution, &a.CreatedAt, &resolved); err != nil {
		return models.Alert{}, err
	}
	a.Status = models.AlertStatus(status)
	if cardID.Valid {
		id := cardID.UUID
		a.DecisionCardID = &id
	}
	if resolved.Valid {
		t := resolved.Time
		a.ResolvedAt = &t
	}
	return a, nil
}

func (s *PGStore) CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.AlertStatusOpen
	}
	query := `
		INSERT INTO alerts (id, tenant_id, subject_id, kind, message, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`
	if err := s.db.QueryRowContext(ctx, query, a.ID, a.TenantID, a.SubjectID, a.Kind, a.Message,
		string(a.Status)).Scan(&a.CreatedAt); err != nil {
		return models.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return a, nil
}

func (s *PGStore) GetAlert(ctx context.Context, tenantID string, id uuid.UUID) (models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id=$1 AND tenant_id=$2`
	a, err := scanAlert(s.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Alert{}, ErrNotFound
		}
		return models.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (s *PGStore) LinkAlert(ctx context.Context, tenantID string, alertID, cardID uuid.UUID) error {
	query := `UPDATE alerts SET decision_card_id=$1 WHERE id=$2 AND tenant_id=$3`
	res, err := s.db.ExecContext(ctx, query, cardID, alertID, tenantID)
	if err != nil {
		return fmt.Errorf("link alert: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ResolveAlertsByCard(ctx context.Context, tenantID string, cardID uuid.UUID, resolution string, at time.Time) (int, error) {
	query := `
		UPDATE alerts
		SET status=$1, resolution=$2, resolved_at=$3
		WHERE tenant_id=$4 AND decision_card_id=$5 AND status=$6
	`
	res, err := s.db.ExecContext(ctx, query, string(models.AlertStatusResolved), resolution, at,
		tenantID, cardID, string(models.AlertStatusOpen))
	if err != nil {
		return 0, fmt.Errorf("resolve alerts by card: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *PGStore) ListVisibleAlerts(ctx context.Context, tenantID string) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE tenant_id=$1 AND status=$2 AND decision_card_id IS NULL
		ORDER BY created_at DESC, id`
	rows, err := s.db.QueryContext(ctx, query, tenantID, string(models.AlertStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()
	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
