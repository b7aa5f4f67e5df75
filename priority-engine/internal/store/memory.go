package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

// MemoryStore provides an in-memory implementation useful for tests and the CLI.
type MemoryStore struct {
	mu         sync.RWMutex
	rules      map[string]models.EscalationRule
	cards      map[uuid.UUID]models.DecisionCard
	audit      map[uuid.UUID][]models.CardAuditEntry
	escalation map[uuid.UUID][]models.EscalationHistory
	alerts     map[uuid.UUID]models.Alert
	locked     map[string]LockedMetric
	observed   map[string]ObservedMetric
	signals    map[SignalView]map[string][]models.Signal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:      map[string]models.EscalationRule{},
		cards:      map[uuid.UUID]models.DecisionCard{},
		audit:      map[uuid.UUID][]models.CardAuditEntry{},
		escalation: map[uuid.UUID][]models.EscalationHistory{},
		alerts:     map[uuid.UUID]models.Alert{},
		locked:     map[string]LockedMetric{},
		observed:   map[string]ObservedMetric{},
		signals:    map[SignalView]map[string][]models.Signal{},
	}
}

func metricKey(tenantID, key string) string {
	return tenantID + "|" + key
}

func (m *MemoryStore) SetLockedMetric(tenantID, key string, metric LockedMetric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[metricKey(tenantID, key)] = metric
}

func (m *MemoryStore) SetObservedMetric(tenantID, key string, metric ObservedMetric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed[metricKey(tenantID, key)] = metric
}

// AddSignals appends rows to a signal view for a tenant.
func (m *MemoryStore) AddSignals(view SignalView, tenantID string, signals ...models.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signals[view] == nil {
		m.signals[view] = map[string][]models.Signal{}
	}
	m.signals[view][tenantID] = append(m.signals[view][tenantID], signals...)
}

func (m *MemoryStore) LockedMetric(ctx context.Context, tenantID, key string) (LockedMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metric, ok := m.locked[metricKey(tenantID, key)]
	if !ok {
		return LockedMetric{}, ErrNotFound
	}
	return metric, nil
}

func (m *MemoryStore) ObservedMetric(ctx context.Context, tenantID, key string) (ObservedMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metric, ok := m.observed[metricKey(tenantID, key)]
	if !ok {
		return ObservedMetric{}, ErrNotFound
	}
	return metric, nil
}

func (m *MemoryStore) ReadSignals(ctx context.Context, view SignalView, tenantID string) ([]models.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.signals[view][tenantID]
	out := make([]models.Signal, 0, len(rows))
	for _, sig := range rows {
		if sig.Source == "" {
			sig.Source = string(view)
		}
		out = append(out, sig)
	}
	return out, nil
}

func (m *MemoryStore) ListRules(ctx context.Context, tenantID string) ([]models.EscalationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rules []models.EscalationRule
	for _, r := range m.rules {
		if r.TenantID == tenantID {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (m *MemoryStore) UpsertRule(ctx context.Context, r models.EscalationRule) (models.EscalationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
	return r, nil
}

func (m *MemoryStore) CreateCard(ctx context.Context, c models.DecisionCard) (models.DecisionCard, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.UpdatedAt = time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[c.ID] = c
	return c, nil
}

func (m *MemoryStore) GetCard(ctx context.Context, tenantID string, id uuid.UUID) (models.DecisionCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[id]
	if !ok || c.TenantID != tenantID {
		return models.DecisionCard{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) UpdateCard(ctx context.Context, c models.DecisionCard) (models.DecisionCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.cards[c.ID]
	if !ok || existing.TenantID != c.TenantID {
		return models.DecisionCard{}, ErrNotFound
	}
	existing.DeadlineAt = c.DeadlineAt
	existing.OwnerRole = c.OwnerRole
	existing.Status = c.Status
	existing.EscalationLevel = c.EscalationLevel
	existing.ManualOverride = c.ManualOverride
	existing.CreatedAt = c.CreatedAt
	existing.UpdatedAt = time.Now().UTC()
	m.cards[c.ID] = existing
	return existing, nil
}

func (m *MemoryStore) FindOpenCardBySubject(ctx context.Context, tenantID, subjectID string) (models.DecisionCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		found models.DecisionCard
		ok    bool
	)
	for _, c := range m.cards {
		if c.TenantID != tenantID || c.SubjectID != subjectID || c.Status.IsTerminal() {
			continue
		}
		if !ok || c.CreatedAt.After(found.CreatedAt) {
			found, ok = c, true
		}
	}
	if !ok {
		return models.DecisionCard{}, ErrNotFound
	}
	return found, nil
}

func (m *MemoryStore) ListOpenCards(ctx context.Context, tenantID string) ([]models.DecisionCard, error) {
	return m.filterCards(tenantID, func(c models.DecisionCard) bool {
		return !c.Status.IsTerminal()
	}), nil
}

func (m *MemoryStore) ListOverdueCards(ctx context.Context, tenantID string, now time.Time) ([]models.DecisionCard, error) {
	return m.filterCards(tenantID, func(c models.DecisionCard) bool {
		return !c.Status.IsTerminal() && c.DeadlineAt != nil && c.DeadlineAt.Before(now)
	}), nil
}

func (m *MemoryStore) filterCards(tenantID string, keep func(models.DecisionCard) bool) []models.DecisionCard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DecisionCard
	for _, c := range m.cards {
		if c.TenantID == tenantID && keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (m *MemoryStore) AppendAuditEntry(ctx context.Context, e models.CardAuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit[e.CardID] = append(m.audit[e.CardID], e)
	return nil
}

func (m *MemoryStore) ListAuditEntries(ctx context.Context, cardID uuid.UUID) ([]models.CardAuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.CardAuditEntry(nil), m.audit[cardID]...), nil
}

func (m *MemoryStore) AppendEscalationHistory(ctx context.Context, h models.EscalationHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalation[h.CardID] = append(m.escalation[h.CardID], h)
	return nil
}

func (m *MemoryStore) ListEscalationHistory(ctx context.Context, cardID uuid.UUID) ([]models.EscalationHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.EscalationHistory(nil), m.escalation[cardID]...), nil
}

func (m *MemoryStore) CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.AlertStatusOpen
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = a
	return a, nil
}

func (m *MemoryStore) GetAlert(ctx context.Context, tenantID string, id uuid.UUID) (models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok || a.TenantID != tenantID {
		return models.Alert{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) LinkAlert(ctx context.Context, tenantID string, alertID, cardID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok || a.TenantID != tenantID {
		return ErrNotFound
	}
	a.DecisionCardID = &cardID
	m.alerts[alertID] = a
	return nil
}

func (m *MemoryStore) ResolveAlertsByCard(ctx context.Context, tenantID string, cardID uuid.UUID, resolution string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, a := range m.alerts {
		if a.TenantID != tenantID || a.DecisionCardID == nil || *a.DecisionCardID != cardID || a.Status != models.AlertStatusOpen {
			continue
		}
		resolvedAt := at
		a.Status = models.AlertStatusResolved
		a.Resolution = resolution
		a.ResolvedAt = &resolvedAt
		m.alerts[id] = a
		n++
	}
	return n, nil
}

func (m *MemoryStore) ListVisibleAlerts(ctx context.Context, tenantID string) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Alert
	for _, a := range m.alerts {
		if a.TenantID == tenantID && a.Status == models.AlertStatusOpen && a.DecisionCardID == nil {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
