// Package collector gathers signals from the per-module signal sources. Each
// collector is independent: one failing or timing out never hides the
// signals of the others.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/logging"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

// ErrTimeout marks a collector that did not answer within the fan-out timeout.
var ErrTimeout = errors.New("timeout")

// Collector is a read-only source of signals for one tenant.
type Collector interface {
	Name() string
	Collect(ctx context.Context, tenantID string) ([]models.Signal, error)
}

// Result is the outcome of one fan-out. Signals keep collector registration
// order; Failed maps collector name to its error text.
type Result struct {
	Signals []models.Signal   `json:"signals"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// FanOut runs a fixed set of collectors for one tenant at a time.
type FanOut struct {
	collectors []Collector
	timeout    time.Duration
	logger     *zap.Logger
}

const defaultCollectTimeout = 5 * time.Second

// NewFanOut builds a fan-out over collectors; a non-positive timeout means 5s.
func NewFanOut(logger *zap.Logger, timeout time.Duration, collectors ...Collector) *FanOut {
	if timeout <= 0 {
		timeout = defaultCollectTimeout
	}
	return &FanOut{
		collectors: collectors,
		timeout:    timeout,
		logger:     logging.OrNop(logger),
	}
}

func (f *FanOut) Names() []string {
	names := make([]string, len(f.collectors))
	for i, c := range f.collectors {
		names[i] = c.Name()
	}
	return names
}

// Collect runs every collector concurrently with its own timeout. A collector
// still running at its deadline is abandoned and recorded as failed. Collect
// only returns an error when ctx itself is done.
func (f *FanOut) Collect(ctx context.Context, tenantID string) (Result, error) {
	batches := make([][]models.Signal, len(f.collectors))
	errs := make([]error, len(f.collectors))

	var g errgroup.Group
	for i, c := range f.collectors {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			start := time.Now()
			signals, err := collectOne(cctx, c, tenantID)
			if err != nil {
				errs[i] = err
				f.logger.Warn("collector failed",
					zap.String("collector", c.Name()),
					zap.String("tenant", tenantID),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err))
				return nil
			}
			batches[i] = signals
			f.logger.Debug("collector finished",
				zap.String("collector", c.Name()),
				zap.String("tenant", tenantID),
				zap.Int("signals", len(signals)),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("collect signals: %w", err)
	}

	res := Result{Signals: []models.Signal{}}
	for i, c := range f.collectors {
		if errs[i] != nil {
			if res.Failed == nil {
				res.Failed = map[string]string{}
			}
			res.Failed[c.Name()] = errs[i].Error()
			continue
		}
		res.Signals = append(res.Signals, batches[i]...)
	}
	return res, nil
}

type outcome struct {
	signals []models.Signal
	err     error
}

func collectOne(ctx context.Context, c Collector, tenantID string) ([]models.Signal, error) {
	done := make(chan outcome, 1)
	go func() {
		signals, err := c.Collect(ctx, tenantID)
		done <- outcome{signals: signals, err: err}
	}()
	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return out.signals, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Static serves a fixed signal set. Used by tests.
type Static struct {
	name    string
	signals []models.Signal
}

func NewStatic(name string, signals ...models.Signal) *Static {
	return &Static{name: name, signals: signals}
}

func (s *Static) Name() string { return s.name }

func (s *Static) Collect(ctx context.Context, tenantID string) ([]models.Signal, error) {
	return append([]models.Signal(nil), s.signals...), nil
}
