package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/faciam-dev/cssync/pkg/metrics"
)

type pingOutput struct{ Body struct{ OK bool } }

func register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "ping",
		Method:      http.MethodGet,
		Path:        "/ping/{id}",
	}, func(context.Context, *struct {
		ID string `path:"id"`
	}) (*pingOutput, error) {
		out := &pingOutput{}
		out.Body.OK = true
		return out, nil
	})
}

func TestBearerToken(t *testing.T) {
	_, api := humatest.New(t)
	api.UseMiddleware(BearerToken(api, "s3cret"))
	register(api)

	if resp := api.Get("/ping/1"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", resp.Code)
	}
	if resp := api.Get("/ping/1", "Authorization: Bearer nope"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", resp.Code)
	}
	if resp := api.Get("/ping/1", "Authorization: Bearer s3cret"); resp.Code != http.StatusOK {
		t.Fatalf("valid token: %d", resp.Code)
	}
}

func TestMetricsMWUsesPathTemplate(t *testing.T) {
	r := chi.NewRouter()
	api := humachi.New(r, huma.DefaultConfig("test", "1.0.0"))
	api.UseMiddleware(MetricsMW)
	register(api)

	c := metrics.APIRequests.WithLabelValues(http.MethodGet, "/ping/{id}", "200")
	before := testutil.ToFloat64(c)
	for _, id := range []string{"billing", "analytical"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping/"+id, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	if got := testutil.ToFloat64(c) - before; got != 2 {
		t.Fatalf("requests counted = %v", got)
	}
}
