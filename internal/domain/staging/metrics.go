package staging

// StagingMetrics summarizes the staging store's change log.
// Zero values are returned for empty input; metrics collection never fails.
type StagingMetrics struct {
	TotalChanges    int64                  `json:"total_changes"`
	ByStatus        map[ChangeStatus]int64 `json:"by_status"`
	ByChangeType    map[ChangeType]int64   `json:"by_change_type"`
	WithConflicts   int64                  `json:"with_conflicts"`
	AutoApproved    int64                  `json:"auto_approved"`
	DistinctBatches int64                  `json:"distinct_batches"`
}

// NewStagingMetrics returns an empty metrics snapshot with initialized maps
func NewStagingMetrics() *StagingMetrics {
	return &StagingMetrics{
		ByStatus:     make(map[ChangeStatus]int64),
		ByChangeType: make(map[ChangeType]int64),
	}
}

// Observe folds one staged change into the snapshot
func (m *StagingMetrics) Observe(change *StagedChange) {
	m.TotalChanges++
	m.ByStatus[change.Status]++
	m.ByChangeType[change.ChangeType]++
	if change.HasConflicts {
		m.WithConflicts++
	}
	if change.AutoApproved {
		m.AutoApproved++
	}
}
