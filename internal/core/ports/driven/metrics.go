package driven

import (
	"time"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// SyncMetrics records sync and change propagation outcomes (Prometheus)
type SyncMetrics interface {
	// ObserveBatch records one batch export
	ObserveBatch(collection string, result domain.BatchResult, duration time.Duration)

	// ObserveStep records the outcome of one sync step
	ObserveStep(collection string, status domain.SyncStatus)

	// ObserveChange records one routed record change
	ObserveChange(kind domain.ChangeKind, outcome string)
}

// NopSyncMetrics discards all observations
type NopSyncMetrics struct{}

func (NopSyncMetrics) ObserveBatch(string, domain.BatchResult, time.Duration) {}
func (NopSyncMetrics) ObserveStep(string, domain.SyncStatus)                  {}
func (NopSyncMetrics) ObserveChange(domain.ChangeKind, string)                {}
