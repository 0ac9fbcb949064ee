package handler

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/faciam-dev/cssync/internal/api/schema"
	"github.com/faciam-dev/cssync/internal/registry"
)

// SourceRepo lists source configurations and run history.
type SourceRepo interface {
	ListConfigs(ctx context.Context) ([]registry.SourceConfig, error)
	ListRuns(ctx context.Context, kind registry.Kind, limit int) ([]registry.RunRecord, error)
}

// RunState reports whether a run is executing. *orchestrator.Orchestrator
// implements it.
type RunState interface {
	Running(kind registry.Kind) bool
}

// SourceHandler reports configured sources.
type SourceHandler struct {
	Repo      SourceRepo
	Scheduler Scheduler
	Runs      RunState
}

type listSourcesOutput struct{ Body []schema.Source }

type listRunsInput struct {
	SourceKind string `path:"sourceKind" doc:"billing or analytical"`
	Limit      int    `query:"limit" minimum:"1" maximum:"200" default:"20"`
}

type listRunsOutput struct{ Body []schema.Run }

// RegisterSources registers the source status endpoints.
func RegisterSources(api huma.API, h *SourceHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "listSources",
		Method:      http.MethodGet,
		Path:        "/sources",
		Summary:     "List configured sources",
		Tags:        []string{"Source"},
	}, h.list)
	huma.Register(api, huma.Operation{
		OperationID: "listRuns",
		Method:      http.MethodGet,
		Path:        "/sources/{sourceKind}/runs",
		Summary:     "List recent runs of a source",
		Tags:        []string{"Source"},
	}, h.runs)
}

func (h *SourceHandler) list(ctx context.Context, _ *struct{}) (*listSourcesOutput, error) {
	cfgs, err := h.Repo.ListConfigs(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("list sources", err)
	}
	out := make([]schema.Source, len(cfgs))
	for i, c := range cfgs {
		s := schema.Source{
			Kind:          string(c.Kind),
			Status:        c.Status,
			SyncFrequency: c.SyncFrequency,
			LastSyncedAt:  c.LastSyncedAt,
			LastSyncStats: c.LastSyncStats,
			Scheduler:     "stopped",
		}
		if h.Scheduler != nil {
			s.Scheduler = schedulerState(h.Scheduler.IsRunning(c.Kind))
		}
		if h.Runs != nil {
			s.Syncing = h.Runs.Running(c.Kind)
		}
		out[i] = s
	}
	return &listSourcesOutput{Body: out}, nil
}

func (h *SourceHandler) runs(ctx context.Context, in *listRunsInput) (*listRunsOutput, error) {
	kind, err := parseKind(in.SourceKind)
	if err != nil {
		return nil, err
	}
	recs, err := h.Repo.ListRuns(ctx, kind, in.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("list runs", err)
	}
	out := make([]schema.Run, len(recs))
	for i, r := range recs {
		out[i] = schema.Run{ID: r.ID, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt, Status: r.Status, RecordCount: r.RecordCount, Stats: r.Stats}
	}
	return &listRunsOutput{Body: out}, nil
}
