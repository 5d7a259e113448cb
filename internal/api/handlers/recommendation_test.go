package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/wardops/go-dde/internal/infrastructure/postgres"
	"github.com/wardops/go-dde/internal/infrastructure/redpanda"
)

type fakeRunStore struct {
	saved   map[string]*postgres.RunRecord
	saveErr error
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{saved: make(map[string]*postgres.RunRecord)}
}

func (f *fakeRunStore) SaveRun(ctx context.Context, rec *postgres.RunRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[rec.ID] = rec
	return nil
}

func (f *fakeRunStore) GetRun(ctx context.Context, runID string) (*postgres.RunRecord, error) {
	rec, ok := f.saved[runID]
	if !ok {
		return nil, postgres.ErrRunNotFound
	}
	return rec, nil
}

func (f *fakeRunStore) ListRecentRuns(ctx context.Context, ward string, limit int) ([]*postgres.RunRecord, error) {
	var runs []*postgres.RunRecord
	for _, rec := range f.saved {
		if rec.Ward == ward {
			runs = append(runs, rec)
		}
	}
	return runs, nil
}

type fakeEnqueuer struct {
	topic string
	key   string
	value []byte
}

func (f *fakeEnqueuer) ProduceMessage(ctx context.Context, topic, key string, value []byte) error {
	f.topic = topic
	f.key = key
	f.value = value
	return nil
}

func testRunRequest() map[string]interface{} {
	return map[string]interface{}{
		"ward":  "3F",
		"as_of": "2025-01-10",
		"patients": [][]interface{}{
			{"patient_key", "ward", "dpc_code", "adm_date", "est_discharge_date", "discharge_ready_flag"},
			{"P-001", "3F", "D001", "2025-01-01", "2025-01-15", ""},
		},
		"dpc_master": [][]interface{}{
			{"dpc_code", "dpc_name", "L_std", "L_max"},
			{"D001", "肺炎", 14, 30},
		},
		"occupancy_forecast": map[string]float64{
			"2025-01-15": 0.80,
		},
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateRunsAndPersists(t *testing.T) {
	store := newFakeRunStore()
	h := NewRecommendationHandler(store, nil, nil, zap.NewNop())

	rec := postJSON(t, h.Routes(), "/", testRunRequest())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Ward != "3F" {
		t.Errorf("ward = %q, want 3F", resp.Ward)
	}
	if resp.AsOf != "2025-01-10" {
		t.Errorf("as_of = %q, want 2025-01-10", resp.AsOf)
	}
	if resp.PatientCount != 1 || resp.SkippedCount != 0 {
		t.Errorf("counts = %d scored / %d skipped, want 1 / 0", resp.PatientCount, resp.SkippedCount)
	}
	if len(resp.Recommendations) != 1 {
		t.Fatalf("len(recommendations) = %d, want 1", len(resp.Recommendations))
	}
	if len(resp.Recommendations[0].Top) == 0 {
		t.Error("expected at least one top candidate")
	}

	saved, ok := store.saved[resp.RunID]
	if !ok {
		t.Fatalf("run %s not persisted", resp.RunID)
	}
	if saved.IdempotencyKey == "" {
		t.Error("persisted run has empty idempotency key")
	}
	if saved.PatientCount != 1 {
		t.Errorf("persisted patient count = %d, want 1", saved.PatientCount)
	}
}

func TestCreateUnpersistedRunIs500(t *testing.T) {
	store := newFakeRunStore()
	store.saveErr = errors.New("connection refused")
	h := NewRecommendationHandler(store, nil, nil, zap.NewNop())

	rec := postJSON(t, h.Routes(), "/", testRunRequest())

	// a 201 with a run_id promises a later GET will find it, so any
	// persistence failure must surface as a server error instead
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if len(store.saved) != 0 {
		t.Errorf("store holds %d runs, want none", len(store.saved))
	}
}

func TestCreateRejectsMalformedBody(t *testing.T) {
	h := NewRecommendationHandler(newFakeRunStore(), nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateRejectsEmptyPatients(t *testing.T) {
	h := NewRecommendationHandler(newFakeRunStore(), nil, nil, zap.NewNop())

	body := testRunRequest()
	body["patients"] = [][]interface{}{
		{"patient_key", "ward"},
	}
	rec := postJSON(t, h.Routes(), "/", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateRejectsBadAsOf(t *testing.T) {
	h := NewRecommendationHandler(newFakeRunStore(), nil, nil, zap.NewNop())

	body := testRunRequest()
	body["as_of"] = "not-a-date"
	rec := postJSON(t, h.Routes(), "/", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetReturnsSavedRun(t *testing.T) {
	store := newFakeRunStore()
	store.saved["run-1"] = &postgres.RunRecord{
		ID:           "run-1",
		Ward:         "3F",
		AsOf:         "2025-01-10",
		PatientCount: 2,
		Result:       json.RawMessage(`[]`),
	}
	h := NewRecommendationHandler(store, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/run-1", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["ward"] != "3F" {
		t.Errorf("ward = %v, want 3F", resp["ward"])
	}
}

func TestListReturnsWardSummaries(t *testing.T) {
	store := newFakeRunStore()
	store.saved["run-1"] = &postgres.RunRecord{ID: "run-1", Ward: "3F", AsOf: "2025-01-10", PatientCount: 2}
	store.saved["run-2"] = &postgres.RunRecord{ID: "run-2", Ward: "5F", AsOf: "2025-01-10", PatientCount: 1}
	h := NewRecommendationHandler(store, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/?ward=3F", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Ward string `json:"ward"`
		Runs []struct {
			RunID string `json:"run_id"`
		} `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Runs) != 1 || resp.Runs[0].RunID != "run-1" {
		t.Errorf("runs = %+v, want only run-1", resp.Runs)
	}
}

func TestListRequiresWard(t *testing.T) {
	h := NewRecommendationHandler(newFakeRunStore(), nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetUnknownRunIs404(t *testing.T) {
	h := NewRecommendationHandler(newFakeRunStore(), nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/no-such-run", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestEnqueuePublishesRunRequest(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := NewRecommendationHandler(newFakeRunStore(), enq, nil, zap.NewNop())

	rec := postJSON(t, h.Routes(), "/enqueue", testRunRequest())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if enq.topic != redpanda.TopicRunRequests {
		t.Errorf("topic = %q, want %q", enq.topic, redpanda.TopicRunRequests)
	}
	if enq.key == "" {
		t.Error("enqueued message has empty key")
	}

	var resp EnqueueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "enqueued" {
		t.Errorf("status field = %q, want enqueued", resp.Status)
	}
	if resp.IdempotencyKey != enq.key {
		t.Errorf("response key %q differs from message key %q", resp.IdempotencyKey, enq.key)
	}

	var relayed RunRequest
	if err := json.Unmarshal(enq.value, &relayed); err != nil {
		t.Fatalf("enqueued payload is not a run request: %v", err)
	}
	if relayed.Ward != "3F" {
		t.Errorf("relayed ward = %q, want 3F", relayed.Ward)
	}
}

func TestEnqueueWithoutBrokerIs503(t *testing.T) {
	h := NewRecommendationHandler(newFakeRunStore(), nil, nil, zap.NewNop())

	rec := postJSON(t, h.Routes(), "/enqueue", testRunRequest())
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
