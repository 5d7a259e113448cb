// Package handlers provides HTTP handlers for the recommendation API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wardops/go-dde/internal/api/middleware"
	"github.com/wardops/go-dde/internal/domain/discharge"
	"github.com/wardops/go-dde/internal/infrastructure/postgres"
	"github.com/wardops/go-dde/internal/infrastructure/redpanda"
	"github.com/wardops/go-dde/internal/observability/metrics"
	"github.com/wardops/go-dde/internal/tabular"
	"github.com/wardops/go-dde/pkg/idempotency"
)

// RunStore is the persistence surface the handler needs.
type RunStore interface {
	SaveRun(ctx context.Context, rec *postgres.RunRecord) error
	GetRun(ctx context.Context, runID string) (*postgres.RunRecord, error)
	ListRecentRuns(ctx context.Context, ward string, limit int) ([]*postgres.RunRecord, error)
}

// Enqueuer publishes run requests for asynchronous processing.
type Enqueuer interface {
	ProduceMessage(ctx context.Context, topic, key string, value []byte) error
}

// RecommendationHandler handles the recommendation endpoints.
type RecommendationHandler struct {
	runs     RunStore
	enqueuer Enqueuer
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewRecommendationHandler creates a handler. enqueuer may be nil when
// the async path is disabled; m may be nil in tests.
func NewRecommendationHandler(runs RunStore, enqueuer Enqueuer, m *metrics.Metrics, logger *zap.Logger) *RecommendationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecommendationHandler{
		runs:     runs,
		enqueuer: enqueuer,
		metrics:  m,
		logger:   logger,
	}
}

// Routes returns the handler routes.
func (h *RecommendationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{run_id}", h.Get)
	r.Post("/enqueue", h.Enqueue)
	return r
}

// RunRequest carries the planning tables for one recommendation run.
// Tables arrive as raw sheet rows, exactly as the bed board exports them.
type RunRequest struct {
	Ward       string `json:"ward,omitempty"`
	AsOf       string `json:"as_of,omitempty"`
	TopN       int    `json:"top_n,omitempty"`
	WindowDays int    `json:"window_days,omitempty"`

	Settings    tabular.Table `json:"settings,omitempty"`
	DPCMaster   tabular.Table `json:"dpc_master,omitempty"`
	Constraints tabular.Table `json:"ward_constraints,omitempty"`
	Patients    tabular.Table `json:"patients"`

	// OccupancyForecast maps ISO dates to projected occupancy ratios.
	// Dates missing from the map score with OccupancyFallback.
	OccupancyForecast map[string]float64 `json:"occupancy_forecast,omitempty"`
	OccupancyFallback *float64           `json:"occupancy_fallback,omitempty"`
}

// RunResponse is the synchronous run result.
type RunResponse struct {
	RunID           string                     `json:"run_id"`
	Ward            string                     `json:"ward"`
	AsOf            string                     `json:"as_of"`
	PatientCount    int                        `json:"patient_count"`
	SkippedCount    int                        `json:"skipped_count"`
	Recommendations []discharge.Recommendation `json:"recommendations"`
	CreatedAt       time.Time                  `json:"created_at"`
}

// Create handles POST /recommendations: parse the tables, score every
// patient and persist the run before responding.
func (h *RecommendationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("recommendation-handler")
	ctx, span := tracer.Start(ctx, "create_recommendation_run")
	defer span.End()

	start := time.Now()

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	patients := tabular.ParsePatients(req.Patients, 0)
	if len(patients) == 0 {
		h.jsonError(w, "patients table is empty or has no usable rows", http.StatusBadRequest)
		return
	}
	patients = discharge.DefaultEstDischarge(patients)

	ward := req.Ward
	if ward == "" {
		ward = patients[0].Ward
	}
	span.SetAttributes(
		attribute.String("ward", ward),
		attribute.Int("patients", len(patients)),
	)

	opts := h.buildOptions(&req)

	recs, err := discharge.BuildRecommendations(patients, opts)
	if err != nil {
		var badAsOf *discharge.ErrBadAsOfDate
		if errors.As(err, &badAsOf) {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("recommendation run failed", zap.Error(err))
		if h.metrics != nil {
			h.metrics.RunsFailed.Inc()
		}
		h.jsonError(w, "recommendation run failed", http.StatusInternalServerError)
		return
	}

	asOf, _ := discharge.ResolveAsOf(req.AsOf)
	resp := RunResponse{
		RunID:           uuid.New().String(),
		Ward:            ward,
		AsOf:            discharge.FormatISODate(asOf),
		Recommendations: recs,
		CreatedAt:       time.Now().UTC(),
	}
	for _, rec := range recs {
		if rec.SkipReason != "" {
			resp.SkippedCount++
		} else {
			resp.PatientCount++
		}
	}

	if h.runs != nil {
		result, err := json.Marshal(recs)
		if err != nil {
			// A 201 with a run_id promises a later GET will find the run,
			// so an unpersistable result is a server error.
			h.logger.Error("failed to marshal run result", zap.String("run_id", resp.RunID), zap.Error(err))
			if h.metrics != nil {
				h.metrics.RunsFailed.Inc()
			}
			h.jsonError(w, "failed to save run", http.StatusInternalServerError)
			return
		}
		record := &postgres.RunRecord{
			ID:             resp.RunID,
			Ward:           ward,
			AsOf:           resp.AsOf,
			IdempotencyKey: idempotency.RunKey(ward, resp.AsOf, patientKeys(patients)),
			PatientCount:   resp.PatientCount,
			SkippedCount:   resp.SkippedCount,
			Result:         result,
		}
		if err := h.runs.SaveRun(ctx, record); err != nil {
			h.logger.Error("failed to save run", zap.String("run_id", resp.RunID), zap.Error(err))
			if h.metrics != nil {
				h.metrics.RunsFailed.Inc()
			}
			h.jsonError(w, "failed to save run", http.StatusInternalServerError)
			return
		}
	}

	h.recordRunMetrics(recs, time.Since(start))

	h.logger.Info("recommendation run completed",
		zap.String("run_id", resp.RunID),
		zap.String("ward", ward),
		zap.String("as_of", resp.AsOf),
		zap.Int("patients", resp.PatientCount),
		zap.Int("skipped", resp.SkippedCount),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// Get handles GET /recommendations/{run_id}.
func (h *RecommendationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "run_id")

	rec, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, postgres.ErrRunNotFound) {
			h.jsonError(w, "run not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load run", zap.String("run_id", runID), zap.Error(err))
		h.jsonError(w, "failed to load run", http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"run_id":          rec.ID,
		"ward":            rec.Ward,
		"as_of":           rec.AsOf,
		"patient_count":   rec.PatientCount,
		"skipped_count":   rec.SkippedCount,
		"recommendations": json.RawMessage(rec.Result),
		"created_at":      rec.CreatedAt,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// List handles GET /recommendations?ward=3F&limit=20, newest first.
// Result payloads are omitted; clients fetch a specific run for those.
func (h *RecommendationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ward := r.URL.Query().Get("ward")
	if ward == "" {
		h.jsonError(w, "ward query parameter is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := h.runs.ListRecentRuns(ctx, ward, limit)
	if err != nil {
		h.logger.Error("failed to list runs", zap.String("ward", ward), zap.Error(err))
		h.jsonError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	type runSummary struct {
		RunID        string    `json:"run_id"`
		Ward         string    `json:"ward"`
		AsOf         string    `json:"as_of"`
		PatientCount int       `json:"patient_count"`
		SkippedCount int       `json:"skipped_count"`
		CreatedAt    time.Time `json:"created_at"`
	}
	summaries := make([]runSummary, 0, len(runs))
	for _, rec := range runs {
		summaries = append(summaries, runSummary{
			RunID:        rec.ID,
			Ward:         rec.Ward,
			AsOf:         rec.AsOf,
			PatientCount: rec.PatientCount,
			SkippedCount: rec.SkippedCount,
			CreatedAt:    rec.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"ward": ward, "runs": summaries})
}

// EnqueueResponse acknowledges an async run request.
type EnqueueResponse struct {
	IdempotencyKey string `json:"idempotency_key"`
	Ward           string `json:"ward"`
	AsOf           string `json:"as_of"`
	Status         string `json:"status"`
}

// Enqueue handles POST /recommendations/enqueue: publish the request to
// the run topic and let the worker compute it.
func (h *RecommendationHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.enqueuer == nil {
		h.jsonError(w, "async runs are not enabled", http.StatusServiceUnavailable)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	patients := tabular.ParsePatients(req.Patients, 0)
	if len(patients) == 0 {
		h.jsonError(w, "patients table is empty or has no usable rows", http.StatusBadRequest)
		return
	}

	asOf, err := discharge.ResolveAsOf(req.AsOf)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ward := req.Ward
	if ward == "" {
		ward = patients[0].Ward
	}

	key := idempotency.RunKey(ward, discharge.FormatISODate(asOf), patientKeys(patients))

	payload, err := json.Marshal(req)
	if err != nil {
		h.jsonError(w, "failed to encode request", http.StatusInternalServerError)
		return
	}

	if err := h.enqueuer.ProduceMessage(ctx, redpanda.TopicRunRequests, key, payload); err != nil {
		h.logger.Error("failed to enqueue run", zap.Error(err))
		h.jsonError(w, "failed to enqueue run", http.StatusServiceUnavailable)
		return
	}

	h.logger.Info("recommendation run enqueued",
		zap.String("ward", ward),
		zap.String("idempotency_key", key),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	resp := EnqueueResponse{
		IdempotencyKey: key,
		Ward:           ward,
		AsOf:           discharge.FormatISODate(asOf),
		Status:         "enqueued",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(resp)
}

// buildOptions converts a run request into engine options.
func (h *RecommendationHandler) buildOptions(req *RunRequest) discharge.Options {
	fallback := discharge.DefaultOccupancyFallback
	if req.OccupancyFallback != nil {
		fallback = *req.OccupancyFallback
	}

	return discharge.Options{
		DPCMaster:   tabular.ParseDPCMaster(req.DPCMaster, 0),
		Constraints: parseConstraints(req.Constraints),
		Settings:    tabular.NumericSettings(tabular.ParseSettings(req.Settings)),
		AsOf:        req.AsOf,
		Occupancy:   discharge.ForecastProvider(req.OccupancyForecast, fallback),
		TopN:        req.TopN,
		WindowDays:  req.WindowDays,
	}
}

// parseConstraints keeps a nil table nil so the engine applies defaults,
// as opposed to an empty table which skips every ward.
func parseConstraints(rows tabular.Table) map[string]discharge.WardConstraints {
	if len(rows) == 0 {
		return nil
	}
	return tabular.ParseConstraints(rows, 0)
}

func patientKeys(patients []discharge.Patient) []string {
	keys := make([]string, 0, len(patients))
	for _, p := range patients {
		keys = append(keys, p.Key)
	}
	return keys
}

func (h *RecommendationHandler) recordRunMetrics(recs []discharge.Recommendation, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.RunsCompleted.Inc()
	h.metrics.RunDuration.Observe(elapsed.Seconds())
	for _, rec := range recs {
		if rec.SkipReason != "" {
			h.metrics.PatientsSkipped.WithLabelValues(rec.SkipReason).Inc()
			continue
		}
		h.metrics.PatientsScored.Inc()
		if len(rec.Top) == 0 {
			h.metrics.NoViableCandidate.Inc()
		}
	}
}

func (h *RecommendationHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
