package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/fieldscan-backend-go/internal/app"
	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/handler"
	"github.com/jengzang/fieldscan-backend-go/internal/middleware"
	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/service"
)

const testSecret = "test-secret"

const fieldGeoJSON = `{"type":"Feature","properties":{},"geometry":{"type":"Polygon",
"coordinates":[[[10,45],[10.01,45],[10.01,45.01],[10,45.01],[10,45]]]}}`

type testServer struct {
	t      *testing.T
	router *gin.Engine
	repos  *app.Repositories
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "api.db")
	cfg.JWTSecret = testSecret
	db, err := app.OpenDatabase(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repos := app.NewRepositories(db)
	parcels := service.NewParcelService(repos.Parcels, cfg.Quality.MaxParcelAreaHa)
	layers := service.NewLayerService(repos.Layers, parcels, nil, cfg.TilerURL)
	flags := service.NewFeatureFlagService(repos.Flags, cfg)

	router := SetupRouter(cfg, Handlers{
		Parcels: handler.NewParcelHandler(parcels),
		Jobs:    handler.NewJobHandler(service.NewJobService(parcels, repos.Jobs, repos.Exports, nil), layers),
		Layers:  handler.NewLayerHandler(layers),
		Alerts:  handler.NewAlertHandler(service.NewAlertService(repos.Alerts), flags),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &testServer{t: t, router: router, repos: repos}
}

func (s *testServer) token(org string) string {
	tok, err := middleware.SignToken(testSecret, org, "user-1")
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, org, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if org != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(org))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// data decodes the envelope and returns its data field
func data(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var env struct {
		Code int                    `json:"code"`
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	assert.Equal(t, 0, env.Code)
	return env.Data
}

func (s *testServer) createParcel(org string) int64 {
	body, _ := json.Marshal(map[string]interface{}{"name": "north field", "geometry": json.RawMessage(fieldGeoJSON)})
	w := s.do(http.MethodPost, "/api/v1/parcels", org, string(body))
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return int64(data(s.t, w)["id"].(float64))
}

func path(format string, id int64) string {
	return "/api/v1/" + format + "/" + strconv.FormatInt(id, 10)
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/api/v1/parcels", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/parcels", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestParcelLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.createParcel("org-1")

	w := s.do(http.MethodGet, path("parcels", id), "org-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := data(t, w)
	assert.Equal(t, "north field", got["name"])
	assert.InDelta(t, 87.5, got["area_ha"].(float64), 1.5)
	geometry := got["geometry"].(map[string]interface{})
	assert.Equal(t, "Feature", geometry["type"])
	schedule := got["schedule"].(map[string]interface{})
	assert.Equal(t, "06:00", schedule["local_time"])

	// parcels of other organizations are invisible
	w = s.do(http.MethodGet, path("parcels", id), "org-2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPut, path("parcels", id)+"/boundary", "org-1",
		`{"type":"Polygon","coordinates":[[[10,45],[10.02,45],[10.02,45.01],[10,45.01],[10,45]]]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, data(t, w)["revision"])

	w = s.do(http.MethodGet, path("parcels", id)+"/revisions", "org-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data(t, w)["revisions"], 2)

	w = s.do(http.MethodPut, path("parcels", id)+"/schedule", "org-1",
		`{"enabled":true,"timezone":"Europe/Paris","local_time":"07:30","frequency":"WEEKLY"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	schedule = data(t, w)["schedule"].(map[string]interface{})
	assert.Equal(t, "weekly", schedule["frequency"])

	w = s.do(http.MethodGet, "/api/v1/parcels", "org-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data(t, w)["parcels"], 1)
}

func TestParcelValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing name", http.MethodPost, "/api/v1/parcels", `{"geometry":` + fieldGeoJSON + `}`, http.StatusBadRequest},
		{"point geometry", http.MethodPost, "/api/v1/parcels", `{"name":"x","geometry":{"type":"Point","coordinates":[10,45]}}`, http.StatusUnprocessableEntity},
		{"bad timezone", http.MethodPost, "/api/v1/parcels", `{"name":"x","geometry":` + fieldGeoJSON + `,"schedule":{"enabled":true,"timezone":"Mars/Olympus","local_time":"06:00","frequency":"daily"}}`, http.StatusUnprocessableEntity},
		{"bad id", http.MethodGet, "/api/v1/parcels/abc", "", http.StatusBadRequest},
		{"unknown parcel", http.MethodGet, "/api/v1/parcels/999", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.method, tt.path, "org-1", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestAnalysisJobs(t *testing.T) {
	s := newTestServer(t)
	id := s.createParcel("org-1")

	w := s.do(http.MethodPost, path("parcels", id)+"/analyses", "org-1", `{"date_from":"2025-06-01","date_to":"2025-06-15","include_sr":true}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	job := data(t, w)
	assert.Equal(t, string(models.JobQueued), job["status"])
	jobID := int64(job["id"].(float64))

	// an empty body uses the defaults
	w = s.do(http.MethodPost, path("parcels", id)+"/analyses", "org-1", "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = s.do(http.MethodPost, path("parcels", id)+"/analyses", "org-1", `{"date_from":"2025-06-15","date_to":"2025-06-01"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodGet, path("analyses", jobID), "org-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	params := data(t, w)["params"].(map[string]interface{})
	assert.Equal(t, true, params["include_sr"])

	w = s.do(http.MethodGet, path("analyses", jobID), "org-2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, path("parcels", id)+"/analyses?limit=1", "org-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data(t, w)["jobs"], 1)
}

func TestExportJobs(t *testing.T) {
	s := newTestServer(t)
	id := s.createParcel("org-1")

	w := s.do(http.MethodPost, path("parcels", id)+"/exports", "org-1", `{"format":"pdf"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodPost, path("parcels", id)+"/exports", "org-1", `{"format":"csv","source_mode":"native"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	export := data(t, w)
	assert.Equal(t, models.ExportCSV, export["format"])
	exportID := int64(export["id"].(float64))

	w = s.do(http.MethodGet, path("exports", exportID), "org-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, data(t, w), "download_url")

	ctx := context.Background()
	claimed, err := s.repos.Exports.MarkRunning(ctx, exportID)
	require.NoError(t, err)
	require.True(t, claimed)
	uri := "http://minio:9000/fieldscan/exports/1.csv"
	require.NoError(t, s.repos.Exports.Complete(ctx, exportID, models.JobSucceeded, uri, models.JobResult{"rows": 0}, ""))

	w = s.do(http.MethodGet, path("exports", exportID), "org-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uri, data(t, w)["download_url"])
}

func TestLayersAndTiles(t *testing.T) {
	s := newTestServer(t)
	id := s.createParcel("org-1")

	layer := &models.LayerAsset{ParcelID: id, LayerType: models.LayerNativeIndex, IndexName: "NDVI",
		SourceURI: "http://minio:9000/fieldscan/layers/ndvi.tif", Metadata: map[string]interface{}{"scene_id": "S2A_1"}}
	require.NoError(t, s.repos.Layers.Create(context.Background(), layer))

	w := s.do(http.MethodGet, path("parcels", id)+"/layers?index=ndvi&model_derived=false", "org-1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, data(t, w)["layers"], 1)

	w = s.do(http.MethodGet, path("parcels", id)+"/layers?model_derived=maybe", "org-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, path("layers", layer.ID)+"/metadata", "org-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	meta := data(t, w)
	assert.Equal(t, "ylgn", meta["colormap"])
	assert.Equal(t, "-1,1", meta["rescale"])

	w = s.do(http.MethodGet, path("tiles", layer.ID), "org-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "2.2.0", doc["tilejson"])
	assert.Equal(t, "S2A_1", doc["attribution"])

	w = s.do(http.MethodGet, path("layers", layer.ID)+"/download", "org-1", "")
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, layer.SourceURI, w.Header().Get("Location"))

	w = s.do(http.MethodGet, path("tiles", layer.ID), "org-2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAlertsAndFlags(t *testing.T) {
	s := newTestServer(t)
	id := s.createParcel("org-1")

	alert := &models.Alert{OrganizationID: "org-1", ParcelID: &id, Severity: models.SeverityWarn,
		Category: models.AlertNDVIDrop, Message: "NDVI dropped by 0.30 against recent baseline."}
	require.NoError(t, s.repos.Alerts.Create(context.Background(), alert))

	w := s.do(http.MethodGet, "/api/v1/alerts?category=ndvi_drop&unacknowledged=true", "org-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data(t, w)["alerts"], 1)

	w = s.do(http.MethodPost, path("alerts", alert.ID)+"/ack", "org-1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "user-1", data(t, w)["acknowledged_by"])

	w = s.do(http.MethodGet, "/api/v1/alerts?unacknowledged=true", "org-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, data(t, w)["alerts"])

	w = s.do(http.MethodGet, "/api/v1/alerts", "org-2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, data(t, w)["alerts"])

	w = s.do(http.MethodGet, "/api/v1/flags", "org-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, data(t, w)[models.FlagSRAnalytics])

	w = s.do(http.MethodPut, "/api/v1/flags/"+models.FlagSRAnalytics, "org-1", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/v1/flags", "org-1", "")
	assert.Equal(t, true, data(t, w)[models.FlagSRAnalytics])

	w = s.do(http.MethodPut, "/api/v1/flags/unknown_flag", "org-1", `{"enabled":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/api/v1/flags/"+models.FlagSRAnalytics, "org-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
