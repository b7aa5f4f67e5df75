// Package pass runs aggregation passes: collect every signal for a tenant,
// rank it, and turn the critical and urgent items into decision cards.
package pass

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/aggregator"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/cards"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/collector"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/logging"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/store"
)

// SignalSource yields the raw signals of one tenant; collector.FanOut is the
// production implementation.
type SignalSource interface {
	Collect(ctx context.Context, tenantID string) (collector.Result, error)
}

// OpenCardFinder reports the open card for a subject, or store.ErrNotFound.
type OpenCardFinder interface {
	FindOpenCardBySubject(ctx context.Context, tenantID, subjectID string) (models.DecisionCard, error)
}

// Config drives the periodic passes. Concurrency bounds how many tenants run
// at once.
type Config struct {
	Tenants     []string
	Interval    time.Duration
	Concurrency int
	// Aggregate options applied on every pass.
	Aggregate aggregator.Options
}

// Runner turns collected signals into priority items and decision cards.
type Runner struct {
	source     SignalSource
	aggregator *aggregator.Aggregator
	cards      *cards.Service
	finder     OpenCardFinder
	cfg        Config
	logger     *zap.Logger
}

// Result summarizes one tenant pass.
type Result struct {
	TenantID  string                `json:"tenantId"`
	Items     []models.PriorityItem `json:"items"`
	Created   []uuid.UUID           `json:"createdCards"`
	Expired   int                   `json:"expiredCards"`
	Escalated int                   `json:"escalatedCards"`
	Failed    map[string]string     `json:"failedCollectors,omitempty"`
}

// NewRunner builds a runner. A zero interval means 15 minutes and a
// non-positive concurrency means one tenant at a time.
func NewRunner(source SignalSource, agg *aggregator.Aggregator, svc *cards.Service, finder OpenCardFinder, cfg Config, logger *zap.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Runner{
		source:     source,
		aggregator: agg,
		cards:      svc,
		finder:     finder,
		cfg:        cfg,
		logger:     logging.OrNop(logger),
	}
}

// RunPass aggregates the tenant's signals and promotes critical and urgent
// items without an open card. Nothing is written until aggregation is done.
func (r *Runner) RunPass(ctx context.Context, tenantID string) (Result, error) {
	collected, err := r.source.Collect(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		TenantID: tenantID,
		Items:    r.aggregator.Aggregate(tenantID, collected.Signals, r.cfg.Aggregate),
		Created:  []uuid.UUID{},
		Failed:   collected.Failed,
	}

	for _, item := range res.Items {
		if item.Urgency != models.UrgencyCritical && item.Urgency != models.UrgencyUrgent {
			continue
		}
		_, err := r.finder.FindOpenCardBySubject(ctx, tenantID, item.SubjectID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return res, fmt.Errorf("find open card for %s: %w", item.SubjectID, err)
		}
		card, err := r.cards.CreateFromItem(ctx, tenantID, item, cards.SystemActor)
		if err != nil {
			if errors.Is(err, cards.ErrNoImpact) || errors.Is(err, cards.ErrInvalidCard) {
				r.logger.Debug("item not promoted", zap.String("subject", item.SubjectID), zap.Error(err))
				continue
			}
			return res, fmt.Errorf("promote %s: %w", item.SubjectID, err)
		}
		res.Created = append(res.Created, card.ID)
	}

	if res.Expired, err = r.cards.ExpireOverdue(ctx, tenantID); err != nil {
		return res, err
	}
	if res.Escalated, err = r.cards.SyncEscalations(ctx, tenantID); err != nil {
		return res, err
	}

	r.logger.Info("aggregation pass complete",
		zap.String("tenant", tenantID),
		zap.Int("items", len(res.Items)),
		zap.Int("created", len(res.Created)),
		zap.Int("expired", res.Expired),
		zap.Int("escalated", res.Escalated),
		zap.Int("failedCollectors", len(res.Failed)))
	return res, nil
}

// RunAll runs one pass for every configured tenant. Tenants are independent;
// a failing tenant is logged and does not stop the others.
func (r *Runner) RunAll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, tenantID := range r.cfg.Tenants {
		g.Go(func() error {
			if _, err := r.RunPass(ctx, tenantID); err != nil {
				r.logger.Error("aggregation pass failed", zap.String("tenant", tenantID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Run passes over every tenant immediately and then on each interval until
// ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	if len(r.cfg.Tenants) == 0 {
		r.logger.Info("no tenants configured; aggregation passes disabled")
		return
	}
	r.RunAll(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunAll(ctx)
		}
	}
}
