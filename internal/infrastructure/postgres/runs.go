package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrRunNotFound is returned when no run exists for the requested id.
var ErrRunNotFound = errors.New("recommendation run not found")

// RunRecord is one persisted recommendation run: the inputs digest plus
// the full recommendation payload handed back to the bed board.
type RunRecord struct {
	ID             string
	Ward           string
	AsOf           string
	IdempotencyKey string
	PatientCount   int
	SkippedCount   int
	Result         json.RawMessage
	CreatedAt      time.Time
}

// RunCompletedEvent is the outbox payload announcing a finished run.
type RunCompletedEvent struct {
	RunID        string `json:"run_id"`
	Ward         string `json:"ward"`
	AsOf         string `json:"as_of"`
	PatientCount int    `json:"patient_count"`
	SkippedCount int    `json:"skipped_count"`
	OccurredAt   string `json:"occurred_at"`
}

// RunStore persists recommendation runs.
type RunStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer

	// completedTopic is where the run-completed event is relayed to.
	completedTopic string
}

// NewRunStore creates a run store publishing completion events to topic.
func NewRunStore(pool *pgxpool.Pool, completedTopic string, logger *zap.Logger) *RunStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunStore{
		pool:           pool,
		logger:         logger,
		tracer:         otel.Tracer("run-store"),
		completedTopic: completedTopic,
	}
}

// SaveRun stores the run and enqueues its completion event in the outbox,
// both inside one transaction. Either the run row and the event exist
// together or neither does.
func (s *RunStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	ctx, span := s.tracer.Start(ctx, "run_store_save",
		trace.WithAttributes(
			attribute.String("run_id", rec.ID),
			attribute.String("ward", rec.Ward),
		))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO recommendation_runs (run_id, ward, as_of, idempotency_key, patient_count, skipped_count, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, query,
		rec.ID, rec.Ward, rec.AsOf, rec.IdempotencyKey,
		rec.PatientCount, rec.SkippedCount, rec.Result,
	).Scan(&rec.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert run: %w", err)
	}

	event := RunCompletedEvent{
		RunID:        rec.ID,
		Ward:         rec.Ward,
		AsOf:         rec.AsOf,
		PatientCount: rec.PatientCount,
		SkippedCount: rec.SkippedCount,
		OccurredAt:   rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run completed event: %w", err)
	}

	entry := &OutboxEntry{
		AggregateID:   rec.ID,
		AggregateType: "recommendation_run",
		EventType:     "run.completed",
		Payload:       payload,
		KafkaTopic:    s.completedTopic,
		KafkaKey:      rec.Ward,
	}
	if err := WriteEntry(ctx, tx, entry); err != nil {
		span.RecordError(err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit run: %w", err)
	}

	s.logger.Info("recommendation run saved",
		zap.String("run_id", rec.ID),
		zap.String("ward", rec.Ward),
		zap.String("as_of", rec.AsOf),
		zap.Int("patients", rec.PatientCount),
		zap.Int("skipped", rec.SkippedCount))

	return nil
}

// GetRun loads a run by id.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	query := `
		SELECT run_id, ward, as_of, idempotency_key, patient_count, skipped_count, result, created_at
		FROM recommendation_runs
		WHERE run_id = $1
	`

	rec := &RunRecord{}
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&rec.ID, &rec.Ward, &rec.AsOf, &rec.IdempotencyKey,
		&rec.PatientCount, &rec.SkippedCount, &rec.Result, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("load run: %w", err)
	}

	return rec, nil
}

// ListRecentRuns returns the latest runs for a ward, newest first.
func (s *RunStore) ListRecentRuns(ctx context.Context, ward string, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT run_id, ward, as_of, idempotency_key, patient_count, skipped_count, result, created_at
		FROM recommendation_runs
		WHERE ward = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, ward, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		rec := &RunRecord{}
		err := rows.Scan(
			&rec.ID, &rec.Ward, &rec.AsOf, &rec.IdempotencyKey,
			&rec.PatientCount, &rec.SkippedCount, &rec.Result, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, rec)
	}

	return runs, rows.Err()
}
