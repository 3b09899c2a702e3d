package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/artpar/facet/adapters/metrics"
	"github.com/artpar/facet/domain/manifest"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

func newCollector() *metrics.Collector {
	reg := prometheus.NewRegistry()
	return metrics.NewWithRegistry(reg, reg)
}

func scrape(t *testing.T, m *metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRecorder(t *testing.T) {
	m := newCollector()

	m.Operation("item", manifest.OpFind, "ok")
	m.Operation("item", manifest.OpFind, "ok")
	m.Operation("item", manifest.OpRemove, "denied")
	m.AccessDecision("facet:item:find", true)
	m.AccessDecision("facet:item:delete", false)
	m.Delivery("bus")

	body := scrape(t, m)
	for _, want := range []string{
		`facet_operations_total{op="find",outcome="ok",resource="item"} 2`,
		`facet_operations_total{op="remove",outcome="denied",resource="item"} 1`,
		`facet_access_decisions_total{action="facet:item:find",decision="allow"} 1`,
		`facet_access_decisions_total{action="facet:item:delete",decision="deny"} 1`,
		`facet_deliveries_total{mode="bus"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s", want)
		}
	}
}

func TestConfigReloaded(t *testing.T) {
	m := newCollector()
	m.ConfigReloaded(nil)
	m.ConfigReloaded(errors.New("bad yaml"))

	body := scrape(t, m)
	if !strings.Contains(body, "facet_config_reloads_total 1") ||
		!strings.Contains(body, "facet_config_reload_errors_total 1") {
		t.Errorf("body = %s", body)
	}
	if strings.Contains(body, "facet_config_last_reload_timestamp 0\n") {
		t.Error("last reload timestamp not set")
	}
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	m := newCollector()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	body := scrape(t, m)
	if !strings.Contains(body, `facet_requests_total{method="GET",route="/items/{id}",status="4xx"} 3`) {
		t.Errorf("body = %s", body)
	}
	if strings.Contains(body, `route="/health"`) {
		t.Error("health checks must not be counted")
	}
	if !strings.Contains(body, "facet_requests_in_flight 0") {
		t.Error("in-flight gauge should be back to zero")
	}
}

func TestMiddlewareLabelsMuxTemplate(t *testing.T) {
	m := newCollector()

	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/items/{id}", func(w http.ResponseWriter, r *http.Request) {}).Methods(http.MethodGet)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/a", nil))

	body := scrape(t, m)
	if !strings.Contains(body, `facet_requests_total{method="GET",route="/items/{id}",status="2xx"} 1`) {
		t.Errorf("body = %s", body)
	}
}

func TestRoutePatternUnmatched(t *testing.T) {
	if got := metrics.RoutePattern(httptest.NewRequest(http.MethodGet, "/x", nil)); got != "unmatched" {
		t.Errorf("RoutePattern = %q", got)
	}
}
