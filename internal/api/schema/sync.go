package schema

import (
	"time"

	"github.com/faciam-dev/cssync/internal/registry"
)

// SyncResponse is returned by POST /sync/{sourceKind}.
type SyncResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Status  string             `json:"status,omitempty" enum:"noop,success,partial,failed,rejected"`
	Records int                `json:"records"`
	Stats   *registry.RunStats `json:"stats,omitempty"`
}

// SchedulerResponse is returned by the scheduler control endpoints.
type SchedulerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status" enum:"running,stopped"`
}

// Source describes one configured source.
type Source struct {
	Kind          string             `json:"kind"`
	Status        string             `json:"status"`
	SyncFrequency *float64           `json:"syncFrequency,omitempty"`
	LastSyncedAt  *time.Time         `json:"lastSyncedAt,omitempty"`
	LastSyncStats *registry.RunStats `json:"lastSyncStats,omitempty"`
	Scheduler     string             `json:"scheduler" enum:"running,stopped"`
	Syncing       bool               `json:"syncing"`
}

// Run is one entry of the run history.
type Run struct {
	ID          int64              `json:"id"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  time.Time          `json:"finishedAt"`
	Status      string             `json:"status"`
	RecordCount int                `json:"records"`
	Stats       *registry.RunStats `json:"stats,omitempty"`
}
