package collector

import (
	"context"
	"fmt"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/store"
)

// ViewCollector reads one pre-computed signal view from the row store.
type ViewCollector struct {
	view   store.SignalView
	reader store.SignalReader
}

func NewViewCollector(reader store.SignalReader, view store.SignalView) (*ViewCollector, error) {
	if !view.Valid() {
		return nil, fmt.Errorf("unknown signal view %q", view)
	}
	return &ViewCollector{view: view, reader: reader}, nil
}

// ViewCollectors builds one collector per known view.
func ViewCollectors(reader store.SignalReader) []Collector {
	out := make([]Collector, 0, len(store.Views))
	for _, v := range store.Views {
		out = append(out, &ViewCollector{view: v, reader: reader})
	}
	return out
}

func (c *ViewCollector) Name() string { return string(c.view) }

func (c *ViewCollector) Collect(ctx context.Context, tenantID string) ([]models.Signal, error) {
	signals, err := c.reader.ReadSignals(ctx, c.view, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.view, err)
	}
	return signals, nil
}
