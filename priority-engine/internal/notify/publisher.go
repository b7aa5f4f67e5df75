// Package notify hands card events to the delivery layer. Delivery itself
// (push, in-app) happens downstream of the topic.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/logging"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, ev models.NotificationEvent) error
	Close() error
}

// LogPublisher records events in the log only. Used when no brokers are configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logging.OrNop(logger)}
}

func (p *LogPublisher) Publish(ctx context.Context, ev models.NotificationEvent) error {
	p.logger.Info("card notification",
		zap.String("type", string(ev.Type)),
		zap.String("tenant", ev.TenantID),
		zap.String("card", ev.CardID.String()),
		zap.String("status", string(ev.Status)),
		zap.String("owner", ev.OwnerRole),
		zap.Int64("impact", ev.ImpactAmount))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []models.NotificationEvent
	Err    error
}

func (r *Recorder) Publish(ctx context.Context, ev models.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []models.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.NotificationEvent(nil), r.events...)
}
