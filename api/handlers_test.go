package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/api"
	"github.com/sicko7947/replayflow/browser/browsertest"
	"github.com/sicko7947/replayflow/builder"
	"github.com/sicko7947/replayflow/engine"
	"github.com/sicko7947/replayflow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formURL = "https://x.test/form"

func setupTestApp(t *testing.T) (*fiber.App, *store.MemoryStore) {
	t.Helper()

	cfg := replayflow.DefaultConfig()
	cfg.Resolver.SelectorTimeout = 50 * time.Millisecond
	cfg.Resolver.HeuristicTimeout = 50 * time.Millisecond
	cfg.Resolver.PollInterval = 10 * time.Millisecond

	mem := store.NewMemoryStore()
	launcher := &browsertest.Launcher{NewPage: func() *browsertest.Page {
		p := browsertest.NewPage()
		p.SetDOM(formURL, "Contact form",
			browsertest.Button("next", "Next", 100, 100),
			browsertest.Input("name-field", "name", "Your name", 100, 200),
		)
		return p
	}}
	eng := engine.NewEngine(mem, launcher, engine.WithLogger(zerolog.Nop()), engine.WithConfig(cfg))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})

	wf := builder.NewTemplate("contact", "Contact form").
		StartingAt(formURL).
		RequireParameter("name", "Your name").
		Goto(formURL).
		Click("Next").
		Type("name", "{{name}}").
		MustBuild()
	require.NoError(t, mem.SaveWorkflow(context.Background(), wf))

	return api.NewHandlers(eng, zerolog.Nop()).App(), mem
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

type problemBody struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func decodeProblem(t *testing.T, data []byte) problemBody {
	t.Helper()
	var p problemBody
	require.NoError(t, json.Unmarshal(data, &p), string(data))
	return p
}

func seedRun(t *testing.T, mem *store.MemoryStore, id string, status replayflow.RunStatus) {
	t.Helper()
	now := time.Now()
	require.NoError(t, mem.CreateRun(context.Background(), &replayflow.Run{
		RunID:      id,
		WorkflowID: "contact",
		Status:     status,
		TotalSteps: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
}

func TestAPI_CreateAndGetRun(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/runs", api.CreateRunRequest{
		WorkflowID: "contact",
		Params:     map[string]string{"name": "Alex"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var created api.CreateRunResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.RunID)
	assert.Equal(t, replayflow.RunStatusQueued, created.Status)

	var view struct {
		Status      replayflow.RunStatus   `json:"status"`
		CurrentStep int                    `json:"current_step"`
		Logs        []*replayflow.LogEntry `json:"logs"`
	}
	require.Eventually(t, func() bool {
		resp, body := doRequest(t, app, http.MethodGet, "/api/v1/runs/"+created.RunID, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(body, &view))
		return view.Status == replayflow.RunStatusSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 3, view.CurrentStep)
	assert.Len(t, view.Logs, 3)
}

func TestAPI_CreateRunErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedType   string
		expectedDetail string
	}{
		{
			name:           "invalid JSON",
			body:           "invalid-json",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
			expectedDetail: "Invalid JSON format",
		},
		{
			name:           "missing workflow id",
			body:           api.CreateRunRequest{},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
			expectedDetail: "WorkflowID",
		},
		{
			name:           "unknown workflow",
			body:           api.CreateRunRequest{WorkflowID: "nope"},
			expectedStatus: http.StatusNotFound,
			expectedType:   "not_found",
			expectedDetail: "workflow nope not found",
		},
		{
			name:           "missing required parameter",
			body:           api.CreateRunRequest{WorkflowID: "contact"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
			expectedDetail: "missing required parameters: name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			app, _ := setupTestApp(t)

			resp, body := doRequest(t, app, http.MethodPost, "/api/v1/runs", tt.body)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			p := decodeProblem(t, body)
			assert.Equal(t, tt.expectedType, p.Type)
			assert.Equal(t, tt.expectedStatus, p.Status)
			assert.Contains(t, p.Detail, tt.expectedDetail)
		})
	}
}

func TestAPI_GetRunNotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeProblem(t, body).Type)
}

func TestAPI_ListRuns(t *testing.T) {
	app, mem := setupTestApp(t)
	seedRun(t, mem, "r1", replayflow.RunStatusSucceeded)
	seedRun(t, mem, "r2", replayflow.RunStatusFailed)
	seedRun(t, mem, "r3", replayflow.RunStatusSucceeded)

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/runs?workflow_id=contact&status=succeeded", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list api.ListRunsResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 2, list.Count)
	for _, r := range list.Runs {
		assert.Equal(t, replayflow.RunStatusSucceeded, r.Status)
	}

	resp, body = doRequest(t, app, http.MethodGet, "/api/v1/runs?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.Count)

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/runs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/runs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ControlRequestsOnFinishedRun(t *testing.T) {
	app, mem := setupTestApp(t)
	seedRun(t, mem, "done", replayflow.RunStatusSucceeded)

	for _, path := range []string{"continue", "cancel"} {
		resp, body := doRequest(t, app, http.MethodPost, "/api/v1/runs/done/"+path, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, path)
		assert.Equal(t, "invalid_state", decodeProblem(t, body).Type)
	}

	resp, _ := doRequest(t, app, http.MethodPost, "/api/v1/runs/done/choose", map[string]int{"step_index": 0, "chosen_index": 0})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ChooseValidation(t *testing.T) {
	app, mem := setupTestApp(t)
	seedRun(t, mem, "paused", replayflow.RunStatusNeedsUserDisambiguation)

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/runs/paused/choose", map[string]int{"step_index": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeProblem(t, body).Detail, "ChosenIndex")

	resp, _ = doRequest(t, app, http.MethodPost, "/api/v1/runs/paused/choose", map[string]int{"step_index": 1, "chosen_index": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CancelPausedRun(t *testing.T) {
	app, mem := setupTestApp(t)
	seedRun(t, mem, "paused", replayflow.RunStatusWaitingForAuth)

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/runs/paused/cancel", map[string]string{"reason": "no longer needed"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var ack api.CreateRunResponse
	require.NoError(t, json.Unmarshal(body, &ack))
	assert.Equal(t, replayflow.RunStatusFailed, ack.Status)

	run, err := mem.GetRun(context.Background(), "paused")
	require.NoError(t, err)
	assert.Equal(t, "run cancelled: no longer needed", run.ErrorMessage)
}

func TestAPI_GetWorkflow(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/workflows/contact", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var wf replayflow.WorkflowTemplate
	require.NoError(t, json.Unmarshal(body, &wf))
	assert.Equal(t, "contact", wf.WorkflowID)
	require.Len(t, wf.Steps, 3)
	assert.Equal(t, replayflow.StepKindClick, wf.Steps[1].Kind())

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Health(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Zero(t, health.ActiveRuns)
}
