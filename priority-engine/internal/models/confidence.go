// Package models contains the plain data types shared by the priority engine.
// Nothing here carries behavior beyond small enum helpers.
package models

import "time"

// ConfidenceTier is the trust level of a resolved metric.
type ConfidenceTier string

const (
	TierLocked    ConfidenceTier = "LOCKED"
	TierObserved  ConfidenceTier = "OBSERVED"
	TierEstimated ConfidenceTier = "ESTIMATED"
)

// Score returns the fixed trust score of the tier. Scores are for ordering only.
func (t ConfidenceTier) Score() int {
	switch t {
	case TierLocked:
		return 100
	case TierObserved:
		return 75
	case TierEstimated:
		return 40
	}
	return 0
}

// Valid reports whether t is one of the three known tiers.
func (t ConfidenceTier) Valid() bool {
	return t.Score() > 0
}

// ConfidenceScore is the functional form of ConfidenceTier.Score.
func ConfidenceScore(t ConfidenceTier) int {
	return t.Score()
}

// ResolvedMetric is a metric value tagged with the tier it was resolved from.
type ResolvedMetric struct {
	Key           string         `json:"key"`
	Value         float64        `json:"value"`
	Tier          ConfidenceTier `json:"tier"`
	SourceID      string         `json:"sourceId"`
	SourceModule  *string        `json:"sourceModule,omitempty"`
	IsCrossModule bool           `json:"isCrossModule"`
	ResolvedAt    time.Time      `json:"resolvedAt"`
}
