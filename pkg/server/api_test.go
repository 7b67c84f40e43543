package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/bitechdev/TrackSpec/pkg/config"
	"github.com/bitechdev/TrackSpec/pkg/detection"
	"github.com/bitechdev/TrackSpec/pkg/gqlclient"
	"github.com/bitechdev/TrackSpec/pkg/store"
)

type fakeClient struct {
	devices []detection.Device
	err     error
}

func (f *fakeClient) FetchDevices(ctx context.Context) ([]detection.Device, error) {
	return f.devices, f.err
}

func (f *fakeClient) RunAllQueries(ctx context.Context) *gqlclient.QueryResults {
	return &gqlclient.QueryResults{Devices: f.devices}
}

func (f *fakeClient) RunAllMutations(ctx context.Context) *gqlclient.MutationResults {
	return &gqlclient.MutationResults{}
}

type fakeRegistry struct {
	active []string
}

func (f *fakeRegistry) Active() []string { return f.active }
func (f *fakeRegistry) Count() int       { return len(f.active) }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	st, err := store.NewStoreWithDB(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testAPI(t *testing.T, client UpstreamClient, registry SessionRegistry) (*API, *mux.Router) {
	t.Helper()
	cfg := &config.Config{
		Middleware: config.MiddlewareConfig{RateLimitRPS: 1000, RateLimitBurst: 1000},
	}
	api := NewAPI(cfg, newTestStore(t), client, registry, nil)
	router := mux.NewRouter()
	api.Routes(router)
	return api, router
}

func doRequest(router *mux.Router, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAPI_Devices(t *testing.T) {
	client := &fakeClient{devices: []detection.Device{
		{ID: "d1", Name: "Gate Camera", Enabled: true},
		{ID: "d2", Name: "Lot Camera"},
	}}
	_, router := testAPI(t, client, &fakeRegistry{})

	rec := doRequest(router, http.MethodGet, "/api/devices")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])
}

func TestAPI_DevicesUpstreamError(t *testing.T) {
	client := &fakeClient{err: errors.New("upstream down")}
	_, router := testAPI(t, client, &fakeRegistry{})

	rec := doRequest(router, http.MethodGet, "/api/devices")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAPI_Sessions(t *testing.T) {
	_, router := testAPI(t, &fakeClient{}, &fakeRegistry{active: []string{"d1", "d2"}})

	rec := doRequest(router, http.MethodGet, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])
}

func TestAPI_QueryJobLifecycle(t *testing.T) {
	_, router := testAPI(t, &fakeClient{devices: []detection.Device{{ID: "d1"}}}, &fakeRegistry{})

	// initially idle
	rec := doRequest(router, http.MethodGet, "/api/query-results")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "idle", body["status"])

	// start the job
	rec = doRequest(router, http.MethodPost, "/api/run-queries")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// results appear
	require.Eventually(t, func() bool {
		rec := doRequest(router, http.MethodGet, "/api/query-results")
		return decodeBody(t, rec)["status"] == "completed"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAPI_MutationJobConflict(t *testing.T) {
	api, router := testAPI(t, &fakeClient{}, &fakeRegistry{})

	// hold the runner busy
	require.NoError(t, api.mutationJob.Start(func(ctx context.Context) (interface{}, error) {
		time.Sleep(200 * time.Millisecond)
		return nil, nil
	}))

	rec := doRequest(router, http.MethodPost, "/api/run-mutations")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_DatabaseStatsEmpty(t *testing.T) {
	_, router := testAPI(t, &fakeClient{}, &fakeRegistry{})

	rec := doRequest(router, http.MethodGet, "/api/database/stats")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_DatabaseEndpointsAfterIngest(t *testing.T) {
	client := &fakeClient{}
	cfg := &config.Config{
		Middleware: config.MiddlewareConfig{RateLimitRPS: 1000, RateLimitBurst: 1000},
	}
	st := newTestStore(t)
	api := NewAPI(cfg, st, client, &fakeRegistry{}, nil)
	router := mux.NewRouter()
	api.Routes(router)

	activity := &detection.Activity{
		DeviceID:  "d1",
		Direction: "IN",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Track:     &detection.Track{ID: "t1", Tag: "person"},
	}
	require.NoError(t, st.SaveDetection(context.Background(), activity))

	rec := doRequest(router, http.MethodGet, "/api/database/recent-detections?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])

	rec = doRequest(router, http.MethodGet, "/api/database/tags")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/database/longest-tracks-per-tag")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_DetectionsByTimeRequiresRange(t *testing.T) {
	_, router := testAPI(t, &fakeClient{}, &fakeRegistry{})

	rec := doRequest(router, http.MethodGet, "/api/database/detections-by-time")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_RelayStatsDisabled(t *testing.T) {
	_, router := testAPI(t, &fakeClient{}, &fakeRegistry{})

	rec := doRequest(router, http.MethodGet, "/api/relay/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["enabled"])
}

func TestAPI_BasicAuthEnforced(t *testing.T) {
	cfg := &config.Config{
		Auth:       config.AuthConfig{Enabled: true, Username: "admin", Password: "secret"},
		Middleware: config.MiddlewareConfig{RateLimitRPS: 1000, RateLimitBurst: 1000},
	}
	api := NewAPI(cfg, newTestStore(t), &fakeClient{}, &fakeRegistry{}, nil)
	router := mux.NewRouter()
	api.Routes(router)

	rec := doRequest(router, http.MethodGet, "/api/sessions")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
