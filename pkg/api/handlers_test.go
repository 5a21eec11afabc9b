package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroca/alert-router/pkg/dispatch"
	"github.com/neuroca/alert-router/pkg/models"
	"github.com/neuroca/alert-router/pkg/silence"
	"github.com/neuroca/alert-router/pkg/store"
)

type fakeIngester struct {
	ingested []*models.Alert
	groups   []*dispatch.GroupStatus
}

func (f *fakeIngester) Ingest(alerts ...*models.Alert) {
	f.ingested = append(f.ingested, alerts...)
}

func (f *fakeIngester) Groups() []*dispatch.GroupStatus { return f.groups }

type testEnv struct {
	router   *mux.Router
	ingester *fakeIngester
	store    *store.Store
	silencer *silence.Silencer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ingester: &fakeIngester{},
		store:    store.New(5 * time.Minute),
		silencer: silence.NewSilencer(time.Hour),
	}
	h := NewAPIHandler(env.ingester, env.store, env.silencer, nil, func() []string {
		return []string{"default", "oncall"}
	})
	env.router = mux.NewRouter()
	h.SetupRoutes(env.router)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestPostAlerts(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/alerts", []map[string]interface{}{
		{"labels": map[string]string{"alertname": "X", "severity": "critical"}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.EqualValues(t, 1, resp["accepted"])

	require.Len(t, env.ingester.ingested, 1)
	assert.Equal(t, "X", env.ingester.ingested[0].Name())
	assert.False(t, env.ingester.ingested[0].StartsAt.IsZero(), "missing start time is defaulted")
}

func TestPostAlertsPartialRejection(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/alerts", []map[string]interface{}{
		{"labels": map[string]string{"alertname": "Good"}},
		{"labels": map[string]string{"severity": "critical"}},
		{"labels": map[string]string{}},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Status   string   `json:"status"`
		Accepted int      `json:"accepted"`
		Errors   []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "partial", resp.Status)
	assert.Equal(t, 1, resp.Accepted)
	assert.Len(t, resp.Errors, 2)

	require.Len(t, env.ingester.ingested, 1, "valid alerts are ingested despite rejected siblings")
	assert.Equal(t, "Good", env.ingester.ingested[0].Name())
}

func TestPostAlertsMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.ingester.ingested)
}

func TestGetAlertsStateFilter(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.store.Set(&models.Alert{Labels: model.LabelSet{"alertname": "A"}, StartsAt: now, UpdatedAt: now})
	env.store.Set(&models.Alert{
		Labels: model.LabelSet{"alertname": "B"}, StartsAt: now.Add(-time.Hour), EndsAt: now.Add(-time.Minute), UpdatedAt: now,
	})

	rec := env.do(t, http.MethodGet, "/api/v1/alerts?state=firing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []*models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "A", alerts[0].Name())

	rec = env.do(t, http.MethodGet, "/api/v1/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	assert.Len(t, alerts, 2)

	rec = env.do(t, http.MethodGet, "/api/v1/alerts?state=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAlertGroups(t *testing.T) {
	env := newTestEnv(t)
	env.ingester.groups = []*dispatch.GroupStatus{
		{GroupKey: "{}:{alertname=\"X\"}", Receiver: "default", Labels: model.LabelSet{"alertname": "X"}},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/alerts/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var groups []*dispatch.GroupStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, "default", groups[0].Receiver)
}

func TestSilenceLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/silences", map[string]interface{}{
		"matchers":  []map[string]interface{}{{"name": "service", "value": "api"}},
		"endsAt":    time.Now().Add(time.Hour),
		"createdBy": "ops",
		"comment":   "deploy window",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created silence.Silence
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = env.do(t, http.MethodGet, "/api/v1/silences/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/silences", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []*silence.Silence
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 1)

	rec = env.do(t, http.MethodDelete, "/api/v1/silences/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.silencer.ActiveCount())

	rec = env.do(t, http.MethodGet, "/api/v1/silences/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSilenceRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/silences", map[string]interface{}{
		"endsAt": time.Now().Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetReceivers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/receivers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Equal(t, []string{"default", "oncall"}, names)
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.store.Set(&models.Alert{Labels: model.LabelSet{"alertname": "A"}, StartsAt: now, UpdatedAt: now})

	rec := env.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.EqualValues(t, 1, status["alertsFiring"])
	assert.EqualValues(t, 0, status["alertsResolved"])
	assert.NotEmpty(t, status["uptime"])
}
