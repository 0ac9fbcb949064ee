package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind identifies an external source feeding the destination store.
type Kind string

const (
	KindBilling    Kind = "billing"
	KindAnalytical Kind = "analytical"
)

// Kinds lists every supported source kind.
var Kinds = []Kind{KindBilling, KindAnalytical}

// ErrUnknownSource is returned for a source kind outside Kinds.
var ErrUnknownSource = errors.New("unknown source kind")

// ParseKind validates s as a source kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
}

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Run outcomes, stored in the run history and reported to callers.
const (
	RunNoop     = "noop"
	RunSuccess  = "success"
	RunPartial  = "partial"
	RunFailed   = "failed"
	RunRejected = "rejected"
)

// SourceConfig is the persisted configuration of one source kind.
type SourceConfig struct {
	ID     int64
	Kind   Kind
	Status string
	// SyncFrequency is the number of hours between scheduled runs.
	SyncFrequency *float64
	LastSyncedAt  *time.Time
	LastSyncStats *RunStats
	// Credentials holds the encrypted credential document.
	Credentials []byte
	Settings    json.RawMessage
}

// Active reports whether the scheduler and orchestrator may use the config.
func (c *SourceConfig) Active() bool {
	return c != nil && c.Status == StatusActive
}

// FieldMapping maps one source field onto one destination column.
type FieldMapping struct {
	ID           int64  `yaml:"-" json:"id,omitempty"`
	SourceKind   Kind   `yaml:"source,omitempty" json:"sourceKind"`
	SourceEntity string `yaml:"entity" json:"sourceEntity"`
	// SourceField may be a dot path into nested source objects.
	SourceField string `yaml:"field" json:"sourceField"`
	LocalTable  string `yaml:"table" json:"localTable"`
	LocalField  string `yaml:"column" json:"localField"`
	IsKeyField  bool   `yaml:"key,omitempty" json:"isKeyField"`
	LocalType   string `yaml:"type,omitempty" json:"localType,omitempty"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
}

// EntityStats counts the outcome of one entity type within a run.
type EntityStats struct {
	Total    int `json:"total"`
	New      int `json:"new"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
	Rejected int `json:"rejected,omitempty"` // keyless rows, also in Skipped
}

func (s *EntityStats) add(o EntityStats) {
	s.Total += o.Total
	s.New += o.New
	s.Updated += o.Updated
	s.Skipped += o.Skipped
	s.Errors += o.Errors
	s.Rejected += o.Rejected
}

// RunStats summarises a synchronization run.
type RunStats struct {
	Entities        map[string]*EntityStats `json:"entities"`
	StartTime       time.Time               `json:"startTime"`
	EndTime         time.Time               `json:"endTime"`
	DurationSeconds float64                 `json:"durationSeconds"`
}

// NewRunStats starts a stats accumulator at start.
func NewRunStats(start time.Time) *RunStats {
	return &RunStats{Entities: map[string]*EntityStats{}, StartTime: start}
}

// Entity returns the counters for entity, creating them on first use.
func (s *RunStats) Entity(entity string) *EntityStats {
	if s.Entities == nil {
		s.Entities = map[string]*EntityStats{}
	}
	es, ok := s.Entities[entity]
	if !ok {
		es = &EntityStats{}
		s.Entities[entity] = es
	}
	return es
}

// Finish stamps the end time and duration.
func (s *RunStats) Finish(end time.Time) {
	s.EndTime = end
	s.DurationSeconds = end.Sub(s.StartTime).Seconds()
}

// Totals sums the counters of all entities.
func (s *RunStats) Totals() EntityStats {
	var t EntityStats
	if s == nil {
		return t
	}
	for _, es := range s.Entities {
		t.add(*es)
	}
	return t
}

// RunStatus classifies a completed run. Rows filtered as unchanged do not make
// a run partial.
func (s *RunStats) RunStatus() string {
	t := s.Totals()
	if t.Errors > 0 || t.Rejected > 0 {
		return RunPartial
	}
	return RunSuccess
}

// RunRecord is one row of the run history.
type RunRecord struct {
	ID          int64     `json:"id"`
	SourceKind  Kind      `json:"sourceKind"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Status      string    `json:"status"`
	RecordCount int       `json:"recordCount"`
	Stats       *RunStats `json:"stats,omitempty"`
}
