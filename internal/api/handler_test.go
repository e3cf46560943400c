package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/septivank/linky-feed-ingester/internal/api"
	"github.com/septivank/linky-feed-ingester/internal/db"
	"github.com/septivank/linky-feed-ingester/internal/feed"
	"github.com/septivank/linky-feed-ingester/internal/repository"
	"github.com/septivank/linky-feed-ingester/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRepo struct {
	samples  []db.ConsumptionSample
	settings map[string]json.RawMessage
	rangeArg [2]string
	offset   int
	limit    int
	resets   int
	err      error
}

func (r *fakeRepo) Upsert(_ context.Context, s db.ConsumptionSample) error {
	if r.err != nil {
		return r.err
	}
	r.samples = append(r.samples, s)
	return nil
}

func (r *fakeRepo) ReadRange(_ context.Context, start, end string) ([]db.ConsumptionSample, error) {
	r.rangeArg = [2]string{start, end}
	return r.samples, r.err
}

func (r *fakeRepo) ReadByDay(_ context.Context, day string) ([]db.ConsumptionSample, error) {
	var out []db.ConsumptionSample
	for _, s := range r.samples {
		if s.Day == day {
			out = append(out, s)
		}
	}
	return out, r.err
}

func (r *fakeRepo) ReadAll(context.Context) ([]db.ConsumptionSample, error) {
	return r.samples, r.err
}

func (r *fakeRepo) ReadPage(_ context.Context, offset, limit int) (repository.Page, error) {
	r.offset, r.limit = offset, limit
	return repository.Page{Samples: r.samples, TotalCount: int64(len(r.samples))}, r.err
}

func (r *fakeRepo) Count(context.Context) (int64, error) {
	return int64(len(r.samples)), r.err
}

func (r *fakeRepo) ReadSetting(_ context.Context, key string) (json.RawMessage, bool, error) {
	v, ok := r.settings[key]
	return v, ok, r.err
}

func (r *fakeRepo) WriteSetting(_ context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.settings[key] = encoded
	return r.err
}

func (r *fakeRepo) Reset(context.Context) error {
	r.resets++
	return r.err
}

type fakeRunner struct {
	result service.Result
	err    error
	modes  []feed.Mode
}

func (r *fakeRunner) Run(_ context.Context, mode feed.Mode, trigger service.Trigger) (service.Result, error) {
	r.modes = append(r.modes, mode)
	res := r.result
	res.Mode = mode
	res.Trigger = trigger
	return res, r.err
}

func (r *fakeRunner) Status() service.Status {
	return service.Status{State: service.StateIdle}
}

func newRepo() *fakeRepo {
	return &fakeRepo{
		samples: []db.ConsumptionSample{
			{Timestamp: "2025-01-15T11:00:00.000Z", Day: "2025-01-15", Papp: 1200, Ptec: "HP"},
			{Timestamp: "2025-01-16T11:00:00.000Z", Day: "2025-01-16", Papp: 900, Ptec: "HC"},
		},
		settings: map[string]json.RawMessage{},
	}
}

func serve(t *testing.T, h *api.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	h := api.NewHandler(newRepo(), &fakeRunner{}, zap.NewNop())

	w := serve(t, h, http.MethodGet, "/api/status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestListConsumption_Range(t *testing.T) {
	repo := newRepo()
	h := api.NewHandler(repo, &fakeRunner{}, zap.NewNop())

	w := serve(t, h, http.MethodGet, "/api/consumption?startDate=2025-01-15&endDate=2025-01-16", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [2]string{"2025-01-15", "2025-01-16"}, repo.rangeArg)

	var samples []db.ConsumptionSample
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &samples))
	assert.Len(t, samples, 2)
}

func TestConsumptionByDay(t *testing.T) {
	h := api.NewHandler(newRepo(), &fakeRunner{}, zap.NewNop())

	w := serve(t, h, http.MethodGet, "/api/consumption/day/2025-01-16", "")

	require.Equal(t, http.StatusOK, w.Code)
	var samples []db.ConsumptionSample
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &samples))
	require.Len(t, samples, 1)
	assert.Equal(t, 900.0, samples[0].Papp)
}

func TestSaveConsumption_FillsDefaults(t *testing.T) {
	repo := newRepo()
	h := api.NewHandler(repo, &fakeRunner{}, zap.NewNop())

	w := serve(t, h, http.MethodPost, "/api/consumption", `{"timestamp":"2025-01-17T08:00:00.000Z","papp":500}`)

	require.Equal(t, http.StatusOK, w.Code)
	saved := repo.samples[len(repo.samples)-1]
	assert.Equal(t, "2025-01-17", saved.Day)
	assert.Equal(t, "HC", saved.Ptec)
}

func TestSaveConsumption_DerivesDayAndClampsPapp(t *testing.T) {
	repo := newRepo()
	h := api.NewHandler(repo, &fakeRunner{}, zap.NewNop())

	w := serve(t, h, http.MethodPost, "/api/consumption",
		`{"timestamp":"2025-01-15T10:00:00.000Z","day":"1999-01-01","papp":-40,"ptec":"HP"}`)

	require.Equal(t, http.StatusOK, w.Code)
	saved := repo.samples[len(repo.samples)-1]
	assert.Equal(t, "2025-01-15", saved.Day)
	assert.Equal(t, 0.0, saved.Papp)
	assert.Equal(t, "HP", saved.Ptec)

	w = serve(t, h, http.MethodGet, "/api/consumption/day/1999-01-01", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `null`, w.Body.String())
}

func TestSaveConsumption_RequiresTimestamp(t *testing.T) {
	h := api.NewHandler(newRepo(), &fakeRunner{}, zap.NewNop())

	w := serve(t, h, http.MethodPost, "/api/consumption", `{"papp":500}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCountConsumption(t *testing.T) {
	h := api.NewHandler(newRepo(), &fakeRunner{}, zap.NewNop())

	w := serve(t, h, http.MethodGet, "/api/consumption/count", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":2}`, w.Body.String())
}

func TestPaginatedConsumption(t *testing.T) {
	repo := newRepo()
	h := api.NewHandler(repo, &fakeRunner{}, zap.NewNop())

	w := serve(t, h, http.MethodGet, "/api/consumption/paginated?page=3&limit=1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, repo.offset)
	assert.Equal(t, 1, repo.limit)

	var body struct {
		Pagination struct {
			Page       int   `json:"page"`
			Limit      int   `json:"limit"`
			Total      int64 `json:"total"`
			TotalPages int64 `json:"totalPages"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Pagination.Page)
	assert.Equal(t, int64(2), body.Pagination.TotalPages)
}

func TestPaginatedConsumption_Defaults(t *testing.T) {
	repo := newRepo()
	h := api.NewHandler(repo, &fakeRunner{}, zap.NewNop())

	serve(t, h, http.MethodGet, "/api/consumption/paginated?page=abc", "")

	assert.Equal(t, 0, repo.offset)
	assert.Equal(t, 20, repo.limit)
}

func TestSettingsRoundTrip(t *testing.T) {
	h := api.NewHandler(newRepo(), &fakeRunner{}, zap.NewNop())

	w := serve(t, h, http.MethodGet, "/api/settings/apiUrl", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", w.Body.String())

	w = serve(t, h, http.MethodPost, "/api/settings/apiUrl", `{"value":"https://api.example.com/feeds.json"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(t, h, http.MethodGet, "/api/settings/apiUrl", "")
	assert.JSONEq(t, `"https://api.example.com/feeds.json"`, w.Body.String())
}

func TestResetDatabase(t *testing.T) {
	repo := newRepo()
	h := api.NewHandler(repo, &fakeRunner{}, zap.NewNop())

	w := serve(t, h, http.MethodPost, "/api/reset-database", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, repo.resets)
}

func TestRepositoryErrorIs500(t *testing.T) {
	repo := newRepo()
	repo.err = errors.New("connection refused")
	h := api.NewHandler(repo, &fakeRunner{}, zap.NewNop())

	w := serve(t, h, http.MethodGet, "/api/consumption/count", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestIngest(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		result   service.Result
		err      error
		expected int
	}{
		{"completed", "/api/ingest?mode=full-history", service.Result{State: service.StateCompleted, Saved: 10}, nil, http.StatusOK},
		{"skipped", "/api/ingest", service.Result{State: service.StateSkipped}, nil, http.StatusConflict},
		{"failed", "/api/ingest", service.Result{State: service.StateFailed}, errors.New("boom"), http.StatusInternalServerError},
		{"bad mode", "/api/ingest?mode=weekly", service.Result{}, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{result: tt.result, err: tt.err}
			h := api.NewHandler(newRepo(), runner, zap.NewNop())

			w := serve(t, h, http.MethodPost, tt.target, "")

			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestIngest_DefaultsToRecentInteractive(t *testing.T) {
	runner := &fakeRunner{result: service.Result{State: service.StateCompleted}}
	h := api.NewHandler(newRepo(), runner, zap.NewNop())

	w := serve(t, h, http.MethodPost, "/api/ingest", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []feed.Mode{feed.ModeRecent}, runner.modes)

	var result service.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, service.TriggerInteractive, result.Trigger)
}

func TestIngestStatus(t *testing.T) {
	h := api.NewHandler(newRepo(), &fakeRunner{}, zap.NewNop())

	w := serve(t, h, http.MethodGet, "/api/ingest/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)
}

func TestCORS(t *testing.T) {
	h := api.NewHandler(newRepo(), &fakeRunner{}, zap.NewNop())
	handler := h.HTTPHandler([]string{"http://dashboard.example"})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://dashboard.example")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "http://dashboard.example", w.Header().Get("Access-Control-Allow-Origin"))
}
