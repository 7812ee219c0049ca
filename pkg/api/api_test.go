package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/vmprov/pkg/engine"
	"github.com/davidthor/vmprov/pkg/iac"
	"github.com/davidthor/vmprov/pkg/iac/pipeline"
	"github.com/davidthor/vmprov/pkg/iac/render"
	"github.com/davidthor/vmprov/pkg/metrics"
	"github.com/davidthor/vmprov/pkg/schema/deployment"
	"github.com/davidthor/vmprov/pkg/tracker"
	"github.com/davidthor/vmprov/pkg/workspace"
)

type fakeDeployments struct {
	mu      sync.Mutex
	started []*deployment.Config
	records map[string]tracker.Record
	updates []tracker.Record
}

func (f *fakeDeployments) StartDeployment(cfg *deployment.Config) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, cfg)
	return "fixed-id"
}

func (f *fakeDeployments) GetStatus(id string) (tracker.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return tracker.Record{}, tracker.ErrNotFound
	}
	return rec, nil
}

func (f *fakeDeployments) ListDeployments() []tracker.Summary {
	out := make([]tracker.Summary, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec.Summary())
	}
	return out
}

func (f *fakeDeployments) CountByStatus() map[tracker.Status]int {
	out := make(map[tracker.Status]int)
	for _, rec := range f.records {
		out[rec.Status]++
	}
	return out
}

func (f *fakeDeployments) Watch(ctx context.Context, id string) (<-chan tracker.Record, error) {
	if _, ok := f.records[id]; !ok {
		return nil, tracker.ErrNotFound
	}
	out := make(chan tracker.Record)
	go func() {
		defer close(out)
		for _, rec := range f.updates {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func newTestRouter(t *testing.T, d Deployments, m *metrics.Metrics) http.Handler {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return New(Config{
		Deployments: d,
		Metrics:     m,
		MetricsPath: "/metrics",
		Logger:      logger,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

const deployBody = `{
  "selectedProvider": "aws",
  "architecture": {"vmCount": 2, "instanceType": "t3.micro", "os": "ubuntu-22.04", "storage": 20, "securityGroup": "web"},
  "credentials": {"aws": {"accessKey": "AKIA", "secretKey": "secret", "region": "us-east-1"}}
}`

func TestHealth(t *testing.T) {
	d := &fakeDeployments{records: map[string]tracker.Record{
		"a": {ID: "a", Status: tracker.StatusCompleted},
		"b": {ID: "b", Status: tracker.StatusCompleted},
		"c": {ID: "c", Status: tracker.StatusDeploying},
	}}
	rec := do(t, newTestRouter(t, d, nil), http.MethodGet, "/api/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, map[string]interface{}{"completed": float64(2), "deploying": float64(1)}, body["deployments"])
}

func TestDeploy(t *testing.T) {
	d := &fakeDeployments{}
	rec := do(t, newTestRouter(t, d, nil), http.MethodPost, "/api/deploy", deployBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "fixed-id", body["deployment_id"])
	assert.Equal(t, "initiated", body["status"])
	assert.Equal(t, "Deployment started successfully", body["message"])

	require.Len(t, d.started, 1)
	assert.Equal(t, deployment.ProviderAWS, d.started[0].Provider)
	assert.Equal(t, 2, *d.started[0].Architecture.VMCount)
}

func TestDeploy_InvalidRequests(t *testing.T) {
	d := &fakeDeployments{}
	router := newTestRouter(t, d, nil)

	rec := do(t, router, http.MethodPost, "/api/deploy", `{"selectedProvider":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/deploy", `{"selectedProvider": "aws", "architecture": {"vmCount": "two"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "vmCount")

	req := httptest.NewRequest(http.MethodPost, "/api/deploy", strings.NewReader(deployBody))
	req.Header.Set("Content-Type", "text/plain")
	plain := httptest.NewRecorder()
	router.ServeHTTP(plain, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, plain.Code)

	assert.Empty(t, d.started)
}

func TestDeploy_BodyTooLarge(t *testing.T) {
	d := &fakeDeployments{}
	router := newTestRouter(t, d, nil)

	body := `{"selectedProvider": "` + strings.Repeat("a", 2<<20) + `"}`
	rec := do(t, router, http.MethodPost, "/api/deploy", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "exceeds")
	assert.Empty(t, d.started)

	rec = do(t, router, http.MethodPost, "/api/estimate-cost", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

type succeedingPipeline struct{}

func (succeedingPipeline) Execute(context.Context, *workspace.Workspace) (*pipeline.Result, error) {
	return &pipeline.Result{Success: true, Outputs: map[string]iac.OutputValue{}}, nil
}

func TestDeploy_CredentialReferencesAreNotResolved(t *testing.T) {
	t.Setenv("VMPROV_API_TEST_SERVER_SECRET", "server-side-secret")
	regionFile := filepath.Join(t.TempDir(), "region")
	require.NoError(t, os.WriteFile(regionFile, []byte("file-contents"), 0600))

	workspaces, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	orchestrator := engine.New(workspaces, nil,
		engine.WithPipeline(succeedingPipeline{}),
		engine.WithLogger(logger),
	)

	body := `{
  "selectedProvider": "aws",
  "architecture": {"vmCount": 1, "instanceType": "t3.micro", "os": "ubuntu-22.04", "storage": 20, "securityGroup": "web"},
  "credentials": {"aws": {"accessKey": "AKIA", "secretKey": "env://VMPROV_API_TEST_SERVER_SECRET", "region": "file://` + regionFile + `"}}
}`
	rec := do(t, newTestRouter(t, orchestrator, nil), http.MethodPost, "/api/deploy", body)
	require.Equal(t, http.StatusOK, rec.Code)
	id, _ := decode(t, rec)["deployment_id"].(string)
	require.NotEmpty(t, id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := orchestrator.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, tracker.StatusCompleted, final.Status)

	for _, name := range []string{render.MainFile, render.VariablesFile} {
		data, err := os.ReadFile(filepath.Join(workspaces.Root(), id, name))
		require.NoError(t, err)
		assert.NotContains(t, string(data), "server-side-secret", name)
		assert.NotContains(t, string(data), "file-contents", name)
	}

	vars, err := os.ReadFile(filepath.Join(workspaces.Root(), id, render.VariablesFile))
	require.NoError(t, err)
	assert.Contains(t, string(vars), "env://VMPROV_API_TEST_SERVER_SECRET")
}

func TestStatus(t *testing.T) {
	d := &fakeDeployments{records: map[string]tracker.Record{
		"abc": {ID: "abc", Status: tracker.StatusDeploying, Progress: 40, Message: "Deploying infrastructure..."},
	}}
	router := newTestRouter(t, d, nil)

	rec := do(t, router, http.MethodGet, "/api/deployment/abc/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "abc", body["deployment_id"])
	assert.Equal(t, "deploying", body["status"])
	assert.Equal(t, float64(40), body["progress"])

	rec = do(t, router, http.MethodGet, "/api/deployment/nope/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Deployment not found", decode(t, rec)["error"])
}

func TestList(t *testing.T) {
	d := &fakeDeployments{records: map[string]tracker.Record{
		"a": {ID: "a", Status: tracker.StatusCompleted, Progress: 100},
		"b": {ID: "b", Status: tracker.StatusFailed},
	}}
	rec := do(t, newTestRouter(t, d, nil), http.MethodGet, "/api/deployments", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body DeploymentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Deployments, 2)
}

func TestList_Empty(t *testing.T) {
	rec := do(t, newTestRouter(t, &fakeDeployments{}, nil), http.MethodGet, "/api/deployments", "")
	assert.JSONEq(t, `{"deployments": []}`, rec.Body.String())
}

func TestValidateCredentials(t *testing.T) {
	router := newTestRouter(t, &fakeDeployments{}, nil)

	tests := []struct {
		name    string
		body    string
		valid   bool
		message string
	}{
		{
			name:    "complete aws credentials",
			body:    `{"provider": "aws", "credentials": {"accessKey": "a", "secretKey": "b", "region": "us-east-1"}}`,
			valid:   true,
			message: "AWS credentials validated",
		},
		{
			name:    "missing region",
			body:    `{"provider": "aws", "credentials": {"accessKey": "a", "secretKey": "b"}}`,
			message: "Missing required credentials",
		},
		{
			name:    "unsupported provider",
			body:    `{"provider": "azure", "credentials": {}}`,
			message: "Missing required credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/validate-credentials", tt.body)
			assert.Equal(t, http.StatusOK, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.valid, body["valid"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

func TestEstimateCost(t *testing.T) {
	rec := do(t, newTestRouter(t, &fakeDeployments{}, nil), http.MethodPost, "/api/estimate-cost", deployBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"monthly_cost": 21, "breakdown": {"compute": 17, "storage": 4, "network": 5}}`, rec.Body.String())
}

func TestWatch(t *testing.T) {
	d := &fakeDeployments{
		records: map[string]tracker.Record{"abc": {ID: "abc"}},
		updates: []tracker.Record{
			{ID: "abc", Status: tracker.StatusDeploying, Progress: 40},
			{ID: "abc", Status: tracker.StatusCompleted, Progress: 100},
		},
	}
	server := httptest.NewServer(newTestRouter(t, d, nil))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/deployment/abc/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var got []tracker.Status
	for {
		var rec tracker.Record
		if err := conn.ReadJSON(&rec); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		got = append(got, rec.Status)
	}
	assert.Equal(t, []tracker.Status{tracker.StatusDeploying, tracker.StatusCompleted}, got)
}

func TestWatch_NotFound(t *testing.T) {
	rec := do(t, newTestRouter(t, &fakeDeployments{}, nil), http.MethodGet, "/api/deployment/nope/watch", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, &fakeDeployments{}, metrics.New())

	do(t, router, http.MethodGet, "/api/health", "")
	rec := do(t, router, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vmprov_requests_total{code="200",method="GET",path="/api/health"} 1`)
}
