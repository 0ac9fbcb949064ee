package handler

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/faciam-dev/cssync/internal/api/schema"
	"github.com/faciam-dev/cssync/internal/orchestrator"
	"github.com/faciam-dev/cssync/internal/registry"
)

// Scheduler is the subset of *scheduler.Scheduler the handlers drive.
type Scheduler interface {
	Start(kind registry.Kind) error
	Stop(kind registry.Kind)
	IsRunning(kind registry.Kind) bool
	Trigger(ctx context.Context, kind registry.Kind, opts orchestrator.RunOptions) (orchestrator.SyncResult, error)
}

// SyncHandler exposes manual runs and scheduler control.
type SyncHandler struct {
	Scheduler Scheduler
	Logger    *zap.SugaredLogger
}

type syncInput struct {
	SourceKind string `path:"sourceKind" doc:"billing or analytical"`
	Full       bool   `query:"full" doc:"Ignore last_synced_at and sync every fetched row"`
}

type syncOutput struct {
	Status int
	Body   schema.SyncResponse
}

type schedulerInput struct {
	SourceKind string `path:"sourceKind" doc:"billing or analytical"`
	Action     string `path:"action" enum:"start,stop,status"`
}

type schedulerOutput struct{ Body schema.SchedulerResponse }

// RegisterSync registers the run and scheduler endpoints.
func RegisterSync(api huma.API, h *SyncHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "runSync",
		Method:      http.MethodPost,
		Path:        "/sync/{sourceKind}",
		Summary:     "Run a synchronization now",
		Tags:        []string{"Sync"},
	}, h.sync)
	huma.Register(api, huma.Operation{
		OperationID: "controlScheduler",
		Method:      http.MethodPost,
		Path:        "/scheduler/{sourceKind}/{action}",
		Summary:     "Start, stop or inspect the scheduler of a source",
		Tags:        []string{"Sync"},
	}, h.scheduler)
}

func (h *SyncHandler) logger() *zap.SugaredLogger {
	if h.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return h.Logger
}

func parseKind(s string) (registry.Kind, error) {
	kind, err := registry.ParseKind(s)
	if err != nil {
		return "", huma.Error404NotFound(err.Error())
	}
	return kind, nil
}

func (h *SyncHandler) sync(ctx context.Context, in *syncInput) (*syncOutput, error) {
	kind, err := parseKind(in.SourceKind)
	if err != nil {
		return nil, err
	}
	res, err := h.Scheduler.Trigger(ctx, kind, orchestrator.RunOptions{Full: in.Full})
	if err != nil {
		h.logger().Errorw("manual sync", "source", string(kind), "error", err)
		msg := res.Message
		if msg == "" {
			msg = err.Error()
		}
		return &syncOutput{
			Status: http.StatusInternalServerError,
			Body:   schema.SyncResponse{Success: false, Message: msg, Status: res.Status},
		}, nil
	}
	return &syncOutput{
		Status: http.StatusOK,
		Body: schema.SyncResponse{
			Success: res.Success,
			Message: res.Message,
			Status:  res.Status,
			Records: res.RecordCount,
			Stats:   res.Stats,
		},
	}, nil
}

func (h *SyncHandler) scheduler(_ context.Context, in *schedulerInput) (*schedulerOutput, error) {
	kind, err := parseKind(in.SourceKind)
	if err != nil {
		return nil, err
	}
	var msg string
	switch in.Action {
	case "start":
		if err := h.Scheduler.Start(kind); err != nil {
			return nil, huma.Error500InternalServerError("start scheduler", err)
		}
		msg = "scheduler started for " + string(kind)
	case "stop":
		h.Scheduler.Stop(kind)
		msg = "scheduler stopped for " + string(kind)
	case "status":
		msg = "scheduler status for " + string(kind)
	default:
		return nil, huma.Error400BadRequest("unknown action " + in.Action)
	}
	return &schedulerOutput{Body: schema.SchedulerResponse{
		Success: true,
		Message: msg,
		Status:  schedulerState(h.Scheduler.IsRunning(kind)),
	}}, nil
}

func schedulerState(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}
