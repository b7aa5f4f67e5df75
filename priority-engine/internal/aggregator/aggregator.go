// Package aggregator folds per-subject signals into ranked priority items.
//
// Aggregation is a pure function of its input slice: grouping follows first
// appearance, sorting is stable, and no field depends on map iteration order,
// so the same input always yields the same ranked output.
package aggregator

import (
	"sort"

	"go.uber.org/zap"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/logging"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

// Thresholds drive urgency classification. Damage thresholds are strict
// (greater than); ETA thresholds are inclusive.
type Thresholds struct {
	CriticalDamage  int64 `json:"criticalDamage"`
	UrgentDamage    int64 `json:"urgentDamage"`
	CriticalETADays int   `json:"criticalEtaDays"`
	UrgentETADays   int   `json:"urgentEtaDays"`
}

// DefaultThresholds are the documented defaults in currency units.
var DefaultThresholds = Thresholds{
	CriticalDamage:  500_000_000,
	UrgentDamage:    100_000_000,
	CriticalETADays: 7,
	UrgentETADays:   14,
}

// WithDefaults fills every zero field of t from def.
func (t Thresholds) WithDefaults(def Thresholds) Thresholds {
	if t.CriticalDamage == 0 {
		t.CriticalDamage = def.CriticalDamage
	}
	if t.UrgentDamage == 0 {
		t.UrgentDamage = def.UrgentDamage
	}
	if t.CriticalETADays == 0 {
		t.CriticalETADays = def.CriticalETADays
	}
	if t.UrgentETADays == 0 {
		t.UrgentETADays = def.UrgentETADays
	}
	return t
}

// Options tune one aggregation run.
type Options struct {
	// MaxItems caps the output; <= 0 returns every surviving group.
	MaxItems   int
	Thresholds Thresholds
}

const maxContributors = 3

// Aggregator carries a logger for skipped signals and the service-wide
// default options.
type Aggregator struct {
	logger   *zap.Logger
	defaults Options
}

// New builds an aggregator; threshold fields left zero take DefaultThresholds.
func New(logger *zap.Logger, defaults Options) *Aggregator {
	defaults.Thresholds = defaults.Thresholds.WithDefaults(DefaultThresholds)
	return &Aggregator{logger: logging.OrNop(logger), defaults: defaults}
}

// Defaults returns the options used when a caller passes zero values.
func (a *Aggregator) Defaults() Options {
	return a.defaults
}

// Aggregate ranks signals for one tenant. Zero-valued fields in opts fall
// back to the aggregator's defaults.
func (a *Aggregator) Aggregate(tenantID string, signals []models.Signal, opts Options) []models.PriorityItem {
	if opts.MaxItems == 0 {
		opts.MaxItems = a.defaults.MaxItems
	}
	opts.Thresholds = opts.Thresholds.WithDefaults(a.defaults.Thresholds)
	return aggregate(a.logger.With(zap.String("tenant", tenantID)), signals, opts)
}

// Aggregate is the logger-free form used by tools.
func Aggregate(signals []models.Signal, opts Options) []models.PriorityItem {
	opts.Thresholds = opts.Thresholds.WithDefaults(DefaultThresholds)
	return aggregate(zap.NewNop(), signals, opts)
}

type group struct {
	subjectID    string
	damages      models.ComponentDamages
	eta          *int
	hasMarkdown  bool
	hasSizeBreak bool
	contributors []models.Contributor
}

func aggregate(logger *zap.Logger, signals []models.Signal, opts Options) []models.PriorityItem {
	var (
		order  []*group
		groups = make(map[string]*group)
	)
	for i, sig := range signals {
		if reason := malformed(sig); reason != "" {
			logger.Debug("skipping malformed signal",
				zap.Int("index", i),
				zap.String("subject", sig.SubjectID),
				zap.String("category", string(sig.Category)),
				zap.String("reason", reason))
			continue
		}
		g, ok := groups[sig.SubjectID]
		if !ok {
			g = &group{subjectID: sig.SubjectID}
			groups[sig.SubjectID] = g
			order = append(order, g)
		}
		g.add(sig)
	}

	items := make([]models.PriorityItem, 0, len(order))
	for _, g := range order {
		total := g.damages.Total()
		if total <= 0 {
			continue
		}
		items = append(items, models.PriorityItem{
			SubjectID:        g.subjectID,
			DominantCategory: g.dominant(),
			TotalDamage:      total,
			ComponentDamages: g.damages,
			ETADays:          g.eta,
			Urgency:          Classify(total, g.eta, opts.Thresholds),
			TopContributors:  g.topContributors(),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].TotalDamage > items[j].TotalDamage
	})
	if opts.MaxItems > 0 && len(items) > opts.MaxItems {
		items = items[:opts.MaxItems]
	}
	for i := range items {
		items[i].Rank = i + 1
	}
	return items
}

func malformed(sig models.Signal) string {
	switch {
	case sig.SubjectID == "":
		return "empty subject"
	case !sig.Category.Valid():
		return "unknown category"
	case sig.Amount < 0:
		return "negative amount"
	case sig.Amount == 0 && sig.ETADays == nil:
		return "neither amount nor eta"
	}
	return ""
}

func (g *group) add(sig models.Signal) {
	switch sig.Category {
	case models.CategoryCashLock:
		g.damages.CashLocked += sig.Amount
	case models.CategoryLostRevenue:
		g.damages.LostRevenue += sig.Amount
	case models.CategoryMarginLeak:
		g.damages.MarginLeak += sig.Amount
	case models.CategoryMarkdownRisk:
		g.hasMarkdown = true
		g.mergeETA(sig.ETADays)
	case models.CategorySizeBreak:
		g.hasSizeBreak = true
		g.mergeETA(sig.ETADays)
	}
	if sig.Category.IsMonetary() && sig.Amount > 0 {
		g.contributors = append(g.contributors, models.Contributor{
			Category: sig.Category,
			Amount:   sig.Amount,
			Source:   sig.Source,
			Detail:   sig.Detail,
		})
	}
}

// mergeETA keeps the most urgent (smallest) ETA seen so far.
func (g *group) mergeETA(eta *int) {
	if eta == nil {
		return
	}
	if g.eta == nil || *eta < *g.eta {
		v := *eta
		g.eta = &v
	}
}

func (g *group) dominant() models.Category {
	switch {
	case g.hasMarkdown:
		return models.CategoryMarkdownRisk
	case g.hasSizeBreak:
		return models.CategorySizeBreak
	}
	d := g.damages
	switch {
	case d.CashLocked >= d.LostRevenue && d.CashLocked >= d.MarginLeak:
		return models.CategoryCashLock
	case d.LostRevenue >= d.MarginLeak:
		return models.CategoryLostRevenue
	default:
		return models.CategoryMarginLeak
	}
}

func (g *group) topContributors() []models.Contributor {
	top := append([]models.Contributor(nil), g.contributors...)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Amount > top[j].Amount
	})
	if len(top) > maxContributors {
		top = top[:maxContributors]
	}
	if top == nil {
		top = []models.Contributor{}
	}
	return top
}

// Classify maps damage and ETA onto an urgency.
func Classify(total int64, eta *int, t Thresholds) models.Urgency {
	switch {
	case eta != nil && *eta <= t.CriticalETADays, total > t.CriticalDamage:
		return models.UrgencyCritical
	case eta != nil && *eta <= t.UrgentETADays, total > t.UrgentDamage:
		return models.UrgencyUrgent
	}
	return models.UrgencyWarning
}
