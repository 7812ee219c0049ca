package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/vmprov/pkg/iac"
	"github.com/davidthor/vmprov/pkg/iac/pipeline"
	"github.com/davidthor/vmprov/pkg/tracker"
)

func TestObserver(t *testing.T) {
	m := New()
	tr := tracker.New()
	tr.Observe(m.Observer())

	_, err := tr.Register("a", "")
	require.NoError(t, err)
	_, err = tr.Register("b", "")
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.started))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.inFlight))

	_, err = tr.Advance("a", tracker.Transition{Status: tracker.StatusGenerating})
	require.NoError(t, err)
	_, err = tr.Advance("a", tracker.Transition{Status: tracker.StatusDeploying})
	require.NoError(t, err)
	_, err = tr.Advance("a", tracker.Transition{Status: tracker.StatusCompleted})
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.inFlight))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.transitions.WithLabelValues("initializing")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitions.WithLabelValues("completed")))
}

func TestStageHook(t *testing.T) {
	m := New()
	hook := m.StageHook()

	hook(pipeline.StageInit, time.Second, &iac.CommandOutcome{Success: true})
	hook(pipeline.StageApply, time.Second, iac.TimeoutOutcome())
	hook(pipeline.StagePlan, time.Second, &iac.CommandOutcome{ExitCode: 1})

	assert.Equal(t, 3, testutil.CollectAndCount(m.stages))
}

func TestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/deployment/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/api/deployment/abc/status", "/api/deployment/def/status", "/api/health"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.requests.WithLabelValues("404", "GET", "/api/deployment/{id}/status")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("200", "GET", "/api/health")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.started.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "vmprov_deployments_started_total 1"))
}
