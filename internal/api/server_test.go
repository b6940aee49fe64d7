package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/go-solarsight/internal/config"
	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/metrics"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

// fakeEngine returns canned views.
type fakeEngine struct {
	err   error
	calls []domain.View
}

func (f *fakeEngine) SiteView(_ context.Context, siteID string, view domain.View) (*domain.SiteView, error) {
	f.calls = append(f.calls, view)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.SiteView{
		SiteID: siteID,
		View:   view,
		Data:   map[string]interface{}{"view": string(view), "site": siteID},
	}, nil
}

func testServer(t *testing.T) (*Server, *domain.SiteRegistry, *fakeEngine) {
	t.Helper()

	cfg := config.DefaultConfig()
	registry := domain.NewSiteRegistry()
	require.NoError(t, registry.RegisterSite(domain.SiteProfile{
		ID:          "SGX-ID-123",
		Name:        "Tuas Rooftop",
		CapacityKWp: 100,
		TiltDeg:     10,
		AzimuthDeg:  180,
		Latitude:    1.29,
		Longitude:   103.63,
	}))
	engine := &fakeEngine{}

	server := NewServer(cfg, Deps{
		Registry: registry,
		Engine:   engine,
		Metrics:  metrics.New(),
		Random:   fixedRandom(0.5),
		Status: func() map[string]interface{} {
			return map[string]interface{}{"scheduler": "running"}
		},
	})
	return server, registry, engine
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestNewAPIServer(t *testing.T) {
	server, registry, engine := testServer(t)

	assert.NotNil(t, server.router)
	assert.NotNil(t, server.hub)
	assert.Equal(t, registry, server.registry)
	assert.Equal(t, engine, server.engine)
	assert.NotZero(t, server.startTime)
}

func TestAPIServer_Health(t *testing.T) {
	server, _, _ := testServer(t)

	w := do(t, server, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestAPIServer_Status(t *testing.T) {
	server, _, _ := testServer(t)

	w := do(t, server, "GET", "/api/v1/status", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, Version, response["version"])
	assert.NotEmpty(t, response["uptime"])
	assert.Equal(t, float64(1), response["site_count"])
	assert.Equal(t, map[string]interface{}{"scheduler": "running"}, response["service"])
}

func TestAPIServer_Sites(t *testing.T) {
	server, registry, _ := testServer(t)
	registry.MarkRefreshed("SGX-ID-123", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	w := do(t, server, "GET", "/api/v1/sites", nil)
	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, float64(1), response["count"])

	sites := response["sites"].([]interface{})
	require.Len(t, sites, 1)
	site := sites[0].(map[string]interface{})
	assert.Equal(t, "SGX-ID-123", site["id"])
	assert.Equal(t, "Tuas Rooftop", site["name"])
	assert.Equal(t, float64(100), site["capacity_kwp"])
	assert.Equal(t, "2025-06-01T12:00:00Z", site["last_refresh"])

	w = do(t, server, "GET", "/api/v1/sites/SGX-ID-123", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SGX-ID-123", decode(t, w)["id"])

	w = do(t, server, "GET", "/api/v1/sites/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Site not found", decode(t, w)["error"])
}

func TestAPIServer_SiteViews(t *testing.T) {
	server, _, engine := testServer(t)

	for _, view := range domain.AllViews {
		t.Run(string(view), func(t *testing.T) {
			w := do(t, server, "GET", "/api/v1/sites/SGX-ID-123/"+string(view), nil)

			require.Equal(t, http.StatusOK, w.Code)
			response := decode(t, w)
			assert.Equal(t, string(view), response["view"])
			assert.Equal(t, "SGX-ID-123", response["site"])
		})
	}
	assert.Equal(t, domain.AllViews, engine.calls)
}

func TestAPIServer_SiteViewErrors(t *testing.T) {
	server, _, engine := testServer(t)

	w := do(t, server, "GET", "/api/v1/sites/unknown/overview", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, server, "GET", "/api/v1/sites/SGX-ID-123/weather", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	engine.err = errors.New("redis get: connection refused")
	w = do(t, server, "GET", "/api/v1/sites/SGX-ID-123/overview", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to compute view", decode(t, w)["error"])
}

func TestAPIServer_AIAnalysis(t *testing.T) {
	server, _, _ := testServer(t)

	tests := []struct {
		name      string
		body      interface{}
		wantCode  int
		wantError string
	}{
		{"empty body", nil, http.StatusBadRequest, "missing request body"},
		{"invalid json", "{", http.StatusBadRequest, "invalid JSON body"},
		{"missing inputs", map[string]interface{}{"site_id": "x"}, http.StatusBadRequest, "Missing inputs in request body"},
		{
			"missing panel temp",
			map[string]interface{}{"inputs": map[string]float64{"irradiance": 900, "ambient_temp": 30}},
			http.StatusBadRequest,
			"Missing required field: panel_temp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, server, "POST", "/api/v1/ai_analysis", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, decode(t, w)["error"], tt.wantError)
		})
	}

	t.Run("success", func(t *testing.T) {
		body := map[string]interface{}{
			"site_id": "SGX-ID-123",
			"inputs": map[string]float64{
				"irradiance":      1000,
				"ambient_temp":    25,
				"panel_temp":      25,
				"inverter_eff":    100,
				"soiling_index":   0,
				"pr_baseline":     1,
				"system_capacity": 100,
			},
		}
		w := do(t, server, "POST", "/api/v1/ai_analysis", body)

		require.Equal(t, http.StatusOK, w.Code)
		response := decode(t, w)
		assert.Equal(t, "SGX-ID-123", response["site_id"])
		assert.Equal(t, float64(100), response["predicted_output"])
		assert.Len(t, response["top_factors"], 3)
	})
}

func TestAPIServer_BatchAnalysis(t *testing.T) {
	server, _, _ := testServer(t)

	w := do(t, server, "POST", "/api/v1/batch_analysis", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing sites array in request body", decode(t, w)["error"])

	body := map[string]interface{}{
		"sites": []map[string]interface{}{
			{"site_id": "a", "inputs": map[string]float64{"irradiance": 800}},
			{"inputs": map[string]float64{}},
		},
	}
	w = do(t, server, "POST", "/api/v1/batch_analysis", body)

	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, float64(2), response["total"])
	assert.Equal(t, float64(2), response["successful"])

	results := response["results"].([]interface{})
	first := results[0].(map[string]interface{})
	second := results[1].(map[string]interface{})
	assert.Equal(t, "a", first["site_id"])
	assert.Equal(t, "success", first["status"])
	assert.Greater(t, first["predicted_output"], float64(0))
	assert.Equal(t, "unknown", second["site_id"])
}

func TestAPIServer_ModelInfo(t *testing.T) {
	server, _, _ := testServer(t)

	w := do(t, server, "GET", "/api/v1/model_info", nil)

	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.NotEmpty(t, response["model_type"])
	assert.NotEmpty(t, response["features"])
	assert.NotEmpty(t, response["version"])
}

func hourlyPoints(n int) []map[string]interface{} {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	points := make([]map[string]interface{}, n)
	for i := range points {
		points[i] = map[string]interface{}{
			"ts":         start.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
			"ghi_wm2":    500.0,
			"air_temp_c": 28.0,
			"wind_ms":    2.0,
			"ac_kw":      1.0,
		}
	}
	return points
}

func TestAPIServer_ForecastPower(t *testing.T) {
	server, _, _ := testServer(t)

	w := do(t, server, "POST", "/api/v1/forecast_power", map[string]interface{}{"data": hourlyPoints(23)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Need at least 24 hours of data", decode(t, w)["error"])

	w = do(t, server, "POST", "/api/v1/forecast_power", map[string]interface{}{
		"data":          hourlyPoints(48),
		"forecast_days": 3,
	})
	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, "seasonal_pattern", response["model_used"])
	assert.Equal(t, 0.78, response["confidence"])

	forecast := response["forecast"].([]interface{})
	require.Len(t, forecast, 3)
	day := forecast[0].(map[string]interface{})
	assert.Equal(t, "2025-06-03", day["date"])
	// 24 hourly kW means of 1.0 with zero jitter at r=0.5.
	assert.Equal(t, float64(24), day["ac_kw_hat"])
}

func TestAPIServer_DetectAnomalies(t *testing.T) {
	server, _, _ := testServer(t)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	residuals := func(n int) []map[string]interface{} {
		out := make([]map[string]interface{}, n)
		for i := range out {
			actual := 10.0
			if i == n-1 {
				actual = 40
			}
			out[i] = map[string]interface{}{
				"ts":        start.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
				"actual":    actual,
				"predicted": 10.0 + float64(i%2),
			}
		}
		return out
	}

	w := do(t, server, "POST", "/api/v1/detect_anomalies", map[string]interface{}{"residuals": residuals(6)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Need at least 7 data points", decode(t, w)["error"])

	w = do(t, server, "POST", "/api/v1/detect_anomalies", map[string]interface{}{"residuals": residuals(10)})
	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, "iqr_statistical", response["method"])
	anomalies := response["anomalies"].([]interface{})
	require.Len(t, anomalies, 1)
	assert.Equal(t, "statistical_outlier", anomalies[0].(map[string]interface{})["type"])
}

func TestAPIServer_AnalyzeImage(t *testing.T) {
	server, _, _ := testServer(t)

	w := do(t, server, "POST", "/api/v1/analyze_image", map[string]string{"image_url": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, server, "POST", "/api/v1/analyze_image", map[string]string{"image_url": "https://cdn/panel-crack-01.jpg"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "crack", decode(t, w)["type"])
}

func TestAPIServer_MethodNotAllowed(t *testing.T) {
	server, _, _ := testServer(t)

	// Routes on the /api/v1 subrouter may answer a wrong method with 404 instead of 405.
	for _, tc := range []struct{ method, path string }{
		{"POST", "/api/v1/sites"},
		{"GET", "/api/v1/forecast_power"},
	} {
		w := do(t, server, tc.method, tc.path, nil)
		assert.True(t, w.Code == http.StatusMethodNotAllowed || w.Code == http.StatusNotFound,
			"%s %s: expected 405 or 404, got %d", tc.method, tc.path, w.Code)
	}
}

func TestAPIServer_CORS(t *testing.T) {
	server, _, _ := testServer(t)

	req := httptest.NewRequest("OPTIONS", "/api/v1/ai_analysis", http.NoBody)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIServer_Metrics(t *testing.T) {
	server, _, _ := testServer(t)

	do(t, server, "GET", "/health", nil)
	w := do(t, server, "GET", "/metrics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `solarsight_http_requests_total{route="health",status="200"} 1`)
}

func TestAPIServer_Stream(t *testing.T) {
	server, _, _ := testServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	base := "ws" + strings.TrimPrefix(ts.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(base+"/api/v1/sites/unknown/stream", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/api/v1/sites/SGX-ID-123/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return server.Hub().Subscribers("SGX-ID-123") == 1
	}, time.Second, 5*time.Millisecond)

	server.Broadcast(&domain.SiteView{SiteID: "other", View: domain.ViewOverview})
	server.Broadcast(&domain.SiteView{
		SiteID: "SGX-ID-123",
		View:   domain.ViewOverview,
		Data:   map[string]float64{"health_score": 92},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got map[string]interface{}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "SGX-ID-123", got["site_id"])
	assert.Equal(t, "overview", got["view"])
	assert.Equal(t, map[string]interface{}{"health_score": float64(92)}, got["data"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return server.Hub().Subscribers("SGX-ID-123") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAPIServer_StartAndStop(t *testing.T) {
	server, _, _ := testServer(t)
	server.config.API.Host = "localhost"
	server.config.API.Port = 0

	ctx := context.Background()
	require.NoError(t, server.Start(ctx))
	time.Sleep(10 * time.Millisecond)
	assert.NoError(t, server.Stop(ctx))
}

func TestAPIServer_StopWithNilServer(t *testing.T) {
	server, _, _ := testServer(t)
	assert.NoError(t, server.Stop(context.Background()))
}

func TestAPIServer_WriteError(t *testing.T) {
	server, _, _ := testServer(t)

	w := httptest.NewRecorder()
	server.writeError(w, fmt.Sprintf("Test error %d", 1), http.StatusBadRequest)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "Test error 1", decode(t, w)["error"])
}
