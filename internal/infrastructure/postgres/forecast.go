package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ForecastStore caches per-ward daily occupancy projections. The worker
// reads from here first and only falls through to the live forecast
// service for dates the cache does not cover.
type ForecastStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewForecastStore creates a forecast store.
func NewForecastStore(pool *pgxpool.Pool, logger *zap.Logger) *ForecastStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForecastStore{pool: pool, logger: logger}
}

// LoadRange returns occupancy ratios keyed by ISO date for every cached
// day of ward in [from, to].
func (s *ForecastStore) LoadRange(ctx context.Context, ward string, from, to time.Time) (map[string]float64, error) {
	query := `
		SELECT to_char(forecast_date, 'YYYY-MM-DD'), occupancy
		FROM occupancy_forecast
		WHERE ward = $1
		  AND forecast_date BETWEEN $2 AND $3
	`

	rows, err := s.pool.Query(ctx, query, ward, from, to)
	if err != nil {
		return nil, fmt.Errorf("load forecast range: %w", err)
	}
	defer rows.Close()

	rates := make(map[string]float64)
	for rows.Next() {
		var date string
		var occupancy float64
		if err := rows.Scan(&date, &occupancy); err != nil {
			return nil, fmt.Errorf("scan forecast row: %w", err)
		}
		rates[date] = occupancy
	}

	return rates, rows.Err()
}

// UpsertBatch stores a set of projections for one ward atomically.
// Forecast updates arrive as a full window, so a partial write would
// leave the cache internally inconsistent.
func (s *ForecastStore) UpsertBatch(ctx context.Context, ward string, rates map[string]float64) error {
	if len(rates) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin forecast batch: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	query := `
		INSERT INTO occupancy_forecast (ward, forecast_date, occupancy)
		VALUES ($1, $2, $3)
		ON CONFLICT (ward, forecast_date) DO UPDATE
		SET occupancy = EXCLUDED.occupancy, updated_at = NOW()
	`
	for date, occupancy := range rates {
		batch.Queue(query, ward, date, occupancy)
	}

	results := tx.SendBatch(ctx, batch)
	for range rates {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("exec forecast batch: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close forecast batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit forecast batch: %w", err)
	}

	s.logger.Debug("forecast batch stored",
		zap.String("ward", ward),
		zap.Int("days", len(rates)))

	return nil
}

// Prune drops projections older than the given age.
func (s *ForecastStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM occupancy_forecast
		WHERE forecast_date < NOW() - $1::interval
	`

	result, err := s.pool.Exec(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("prune forecast: %w", err)
	}
	return result.RowsAffected(), nil
}
