package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"

	"github.com/faciam-dev/cssync/internal/api/schema"
	"github.com/faciam-dev/cssync/internal/orchestrator"
	"github.com/faciam-dev/cssync/internal/registry"
)

type fakeScheduler struct {
	running map[registry.Kind]bool
	result  orchestrator.SyncResult
	err     error
	opts    orchestrator.RunOptions
}

func (f *fakeScheduler) Start(kind registry.Kind) error {
	f.running[kind] = true
	return nil
}

func (f *fakeScheduler) Stop(kind registry.Kind) { delete(f.running, kind) }

func (f *fakeScheduler) IsRunning(kind registry.Kind) bool { return f.running[kind] }

func (f *fakeScheduler) Trigger(_ context.Context, _ registry.Kind, opts orchestrator.RunOptions) (orchestrator.SyncResult, error) {
	f.opts = opts
	return f.result, f.err
}

func TestSyncSuccess(t *testing.T) {
	stats := registry.NewRunStats(time.Now())
	stats.Entity("company").New = 2
	s := &fakeScheduler{running: map[registry.Kind]bool{}, result: orchestrator.SyncResult{
		Success: true, Status: orchestrator.StatusSuccess, Message: "synced 2 records", RecordCount: 2, Stats: stats,
	}}
	h := &SyncHandler{Scheduler: s}
	out, err := h.sync(context.Background(), &syncInput{SourceKind: "analytical", Full: true})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if out.Status != http.StatusOK || !out.Body.Success || out.Body.Records != 2 || out.Body.Stats == nil {
		t.Fatalf("out = %+v", out)
	}
	if !s.opts.Full {
		t.Fatal("full flag not forwarded")
	}
}

func TestSyncFailureIs500(t *testing.T) {
	s := &fakeScheduler{running: map[registry.Kind]bool{}, err: orchestrator.ErrRunInProgress,
		result: orchestrator.SyncResult{Status: orchestrator.StatusRejected, Message: "sync already in progress"}}
	h := &SyncHandler{Scheduler: s}
	out, err := h.sync(context.Background(), &syncInput{SourceKind: "billing"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if out.Status != http.StatusInternalServerError || out.Body.Success || out.Body.Message != "sync already in progress" {
		t.Fatalf("out = %+v", out)
	}
}

func TestSyncUnknownSource(t *testing.T) {
	h := &SyncHandler{Scheduler: &fakeScheduler{running: map[registry.Kind]bool{}}}
	_, err := h.sync(context.Background(), &syncInput{SourceKind: "crm"})
	var se huma.StatusError
	if !errors.As(err, &se) || se.GetStatus() != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestSchedulerActions(t *testing.T) {
	s := &fakeScheduler{running: map[registry.Kind]bool{}}
	h := &SyncHandler{Scheduler: s}
	ctx := context.Background()
	for _, step := range []struct{ action, want string }{
		{"status", "stopped"},
		{"start", "running"},
		{"status", "running"},
		{"stop", "stopped"},
	} {
		out, err := h.scheduler(ctx, &schedulerInput{SourceKind: "billing", Action: step.action})
		if err != nil {
			t.Fatalf("%s: %v", step.action, err)
		}
		if !out.Body.Success || out.Body.Status != step.want {
			t.Fatalf("%s: body = %+v", step.action, out.Body)
		}
	}
}

func TestSyncEndpointOverHTTP(t *testing.T) {
	_, api := humatest.New(t)
	s := &fakeScheduler{running: map[registry.Kind]bool{}, err: errors.New("fetch: billing unreachable"),
		result: orchestrator.SyncResult{Status: orchestrator.StatusFailed, Message: "fetch: billing unreachable"}}
	RegisterSync(api, &SyncHandler{Scheduler: s})

	resp := api.Post("/sync/billing")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d body = %s", resp.Code, resp.Body.String())
	}
	var body schema.SyncResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Message != "fetch: billing unreachable" {
		t.Fatalf("body = %+v", body)
	}

	resp = api.Post("/scheduler/billing/start")
	if resp.Code != http.StatusOK || !s.running[registry.KindBilling] {
		t.Fatalf("start status = %d body = %s", resp.Code, resp.Body.String())
	}
}

type fakeRepo struct {
	cfgs []registry.SourceConfig
	runs []registry.RunRecord
	kind registry.Kind
	n    int
}

func (f *fakeRepo) ListConfigs(context.Context) ([]registry.SourceConfig, error) { return f.cfgs, nil }

func (f *fakeRepo) ListRuns(_ context.Context, kind registry.Kind, limit int) ([]registry.RunRecord, error) {
	f.kind, f.n = kind, limit
	return f.runs, nil
}

type fakeRuns map[registry.Kind]bool

func (f fakeRuns) Running(kind registry.Kind) bool { return f[kind] }

func TestListSources(t *testing.T) {
	freq := 6.0
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeRepo{cfgs: []registry.SourceConfig{
		{Kind: registry.KindAnalytical, Status: registry.StatusActive, SyncFrequency: &freq, LastSyncedAt: &last},
		{Kind: registry.KindBilling, Status: registry.StatusInactive},
	}}
	s := &fakeScheduler{running: map[registry.Kind]bool{registry.KindAnalytical: true}}
	h := &SourceHandler{Repo: repo, Scheduler: s, Runs: fakeRuns{registry.KindBilling: true}}
	out, err := h.list(context.Background(), &struct{}{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out.Body) != 2 {
		t.Fatalf("sources = %+v", out.Body)
	}
	a, b := out.Body[0], out.Body[1]
	if a.Scheduler != "running" || a.Syncing || *a.SyncFrequency != 6 || !a.LastSyncedAt.Equal(last) {
		t.Fatalf("analytical = %+v", a)
	}
	if b.Scheduler != "stopped" || !b.Syncing {
		t.Fatalf("billing = %+v", b)
	}
}

func TestListRuns(t *testing.T) {
	repo := &fakeRepo{runs: []registry.RunRecord{{ID: 3, SourceKind: registry.KindBilling, Status: "partial", RecordCount: 7}}}
	h := &SourceHandler{Repo: repo}
	out, err := h.runs(context.Background(), &listRunsInput{SourceKind: "billing", Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(out.Body) != 1 || out.Body[0].RecordCount != 7 || repo.kind != registry.KindBilling || repo.n != 5 {
		t.Fatalf("out = %+v repo = %+v", out.Body, repo)
	}
}
