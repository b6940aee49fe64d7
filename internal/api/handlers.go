package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/resident-x/go-solarsight/internal/analytics"
	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/issues"
)

const maxBodyBytes = 1 << 20

// MinAnomalyPoints is the fewest residual points the anomaly endpoint accepts.
const MinAnomalyPoints = 7

// siteSummary is the JSON form of a registered site.
type siteSummary struct {
	domain.SiteProfile
	RegisteredAt time.Time  `json:"registered_at"`
	LastRefresh  *time.Time `json:"last_refresh,omitempty"`
}

func summarize(info *domain.SiteInfo) siteSummary {
	out := siteSummary{SiteProfile: info.Profile, RegisteredAt: info.RegisteredAt}
	if !info.LastRefresh.IsZero() {
		last := info.LastRefresh
		out.LastRefresh = &last
	}
	return out
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}, http.StatusOK)
}

// handleStatus returns server status information.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":     "ok",
		"version":    Version,
		"uptime":     time.Since(s.startTime).String(),
		"site_count": len(s.registry.GetAllSites()),
	}
	if s.status != nil {
		status["service"] = s.status()
	}

	s.writeJSON(w, status, http.StatusOK)
}

// handleListSites returns all registered sites.
func (s *Server) handleListSites(w http.ResponseWriter, _ *http.Request) {
	sites := s.registry.GetAllSites()

	result := make([]siteSummary, 0, len(sites))
	for _, info := range sites {
		result = append(result, summarize(info))
	}

	s.writeJSON(w, map[string]interface{}{
		"sites": result,
		"count": len(result),
	}, http.StatusOK)
}

// handleGetSite returns a single registered site.
func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	info, found := s.registry.GetSite(id)
	if !found {
		s.writeError(w, "Site not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, summarize(info), http.StatusOK)
}

// handleSiteView returns one computed view of a site.
func (s *Server) handleSiteView(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	view, ok := domain.ParseView(vars["view"])
	if !ok {
		s.writeError(w, fmt.Sprintf("Unknown view: %s", vars["view"]), http.StatusBadRequest)
		return
	}

	if _, found := s.registry.GetSite(id); !found {
		s.writeError(w, "Site not found", http.StatusNotFound)
		return
	}

	result, err := s.engine.SiteView(r.Context(), id, view)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("site_id", id).
			Str("view", string(view)).
			Msg("Failed to compute view")
		s.writeError(w, "Failed to compute view", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, result.Data, http.StatusOK)
}

// handleStream upgrades to a websocket that receives every refreshed view of the site.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, found := s.registry.GetSite(id); !found {
		s.writeError(w, "Site not found", http.StatusNotFound)
		return
	}

	s.hub.serve(w, r, id)
}

// analysisRequest is the body of a performance analysis.
type analysisRequest struct {
	SiteID string                       `json:"site_id"`
	Inputs *analytics.PerformanceInputs `json:"inputs"`
}

// requiredInputs are the fields a single analysis must carry.
var requiredInputs = []struct {
	name  string
	value func(in *analytics.PerformanceInputs) *float64
}{
	{"irradiance", func(in *analytics.PerformanceInputs) *float64 { return in.Irradiance }},
	{"ambient_temp", func(in *analytics.PerformanceInputs) *float64 { return in.AmbientTemp }},
	{"panel_temp", func(in *analytics.PerformanceInputs) *float64 { return in.PanelTemp }},
}

// handleAIAnalysis runs the performance model for one site.
func (s *Server) handleAIAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Inputs == nil {
		s.writeError(w, "Missing inputs in request body", http.StatusBadRequest)
		return
	}
	for _, field := range requiredInputs {
		if field.value(req.Inputs) == nil {
			s.writeError(w, fmt.Sprintf("Missing required field: %s", field.name), http.StatusBadRequest)
			return
		}
	}

	report := analytics.PredictPerformance(*req.Inputs)
	report.SiteID = siteOrUnknown(req.SiteID)

	s.writeJSON(w, report, http.StatusOK)
}

// batchResult is one entry of a batch analysis.
type batchResult struct {
	*analytics.PerformanceReport
	SiteID string `json:"site_id"`
	Status string `json:"status"`
}

// handleBatchAnalysis runs the performance model for several sites.
func (s *Server) handleBatchAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sites []analysisRequest `json:"sites"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Sites == nil {
		s.writeError(w, "Missing sites array in request body", http.StatusBadRequest)
		return
	}

	results := make([]batchResult, 0, len(req.Sites))
	for _, site := range req.Sites {
		inputs := analytics.PerformanceInputs{}
		if site.Inputs != nil {
			inputs = *site.Inputs
		}
		report := analytics.PredictPerformance(inputs)
		siteID := siteOrUnknown(site.SiteID)
		report.SiteID = siteID
		results = append(results, batchResult{PerformanceReport: &report, SiteID: siteID, Status: "success"})
	}

	s.writeJSON(w, map[string]interface{}{
		"results":    results,
		"total":      len(results),
		"successful": len(results),
	}, http.StatusOK)
}

// handleModelInfo describes the performance model.
func (s *Server) handleModelInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, analytics.ModelInfo(), http.StatusOK)
}

// timeSeriesPoint is one hourly observation in a forecast request.
type timeSeriesPoint struct {
	Timestamp time.Time `json:"ts"`
	GHI       float64   `json:"ghi_wm2"`
	AirTempC  float64   `json:"air_temp_c"`
	WindMS    float64   `json:"wind_ms"`
	ACKW      float64   `json:"ac_kw"`
}

// handleForecastPower forecasts daily output from an hourly history.
func (s *Server) handleForecastPower(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data         []timeSeriesPoint `json:"data"`
		ForecastDays int               `json:"forecast_days"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if len(req.Data) < analytics.MinForecastSamples {
		s.writeError(w, fmt.Sprintf("Need at least %d hours of data", analytics.MinForecastSamples), http.StatusBadRequest)
		return
	}

	samples := make([]domain.TelemetrySample, len(req.Data))
	for i, p := range req.Data {
		samples[i] = domain.TelemetrySample{
			Timestamp:     p.Timestamp,
			IrradianceWm2: p.GHI,
			ACOutputKW:    p.ACKW,
			AmbientTempC:  p.AirTempC,
		}
	}

	s.writeJSON(w, analytics.ForecastPower(samples, req.ForecastDays, s.rng), http.StatusOK)
}

// handleDetectAnomalies flags outlying residuals between actual and predicted output.
func (s *Server) handleDetectAnomalies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Residuals []analytics.ResidualPoint `json:"residuals"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if len(req.Residuals) < MinAnomalyPoints {
		s.writeError(w, fmt.Sprintf("Need at least %d data points", MinAnomalyPoints), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, analytics.DetectResidualAnomalies(req.Residuals), http.StatusOK)
}

// handleAnalyzeImage classifies a panel image.
func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageURL string `json:"image_url"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.ImageURL) == "" {
		s.writeError(w, "Missing image_url in request body", http.StatusBadRequest)
		return
	}

	s.writeJSON(w, issues.ClassifyImage(req.ImageURL), http.StatusOK)
}

// decodeBody decodes a JSON request body into dest.
func decodeBody(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("missing request body")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func siteOrUnknown(id string) string {
	if id == "" {
		return "unknown"
	}
	return id
}
