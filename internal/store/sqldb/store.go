// Package sqldb persists reports and metric samples in SQLite via sqlx.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/store"
)

// Store is the SQLite-backed store implementation.
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) the database at path and initializes the schema.
func New(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			quality REAL NOT NULL,
			escalated INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metric_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			experiment TEXT NOT NULL,
			variant_id TEXT NOT NULL,
			quality_score REAL NOT NULL,
			escalated INTEGER NOT NULL,
			schema_valid INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL,
			token_count INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metric_samples_variant
			ON metric_samples (experiment, variant_id, id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SaveReport(ctx context.Context, result *domain.EvaluationResult) error {
	if result.ID == "" {
		return fmt.Errorf("report has no id")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO reports (id, provider, quality, escalated, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		result.ID, result.Provider, result.Quality, result.Escalated, string(payload), time.Now().UTC())
	return err
}

func (s *Store) GetReport(ctx context.Context, id string) (*domain.EvaluationResult, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, `SELECT payload FROM reports WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var result domain.EvaluationResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &result, nil
}

func (s *Store) AppendSample(ctx context.Context, experiment, variantID string, sample domain.MetricSample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metric_samples
			(experiment, variant_id, quality_score, escalated, schema_valid, latency_ms, token_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		experiment, variantID, sample.QualityScore, sample.Escalated, sample.SchemaValid,
		sample.LatencyMs, sample.TokenCount, sample.Timestamp.UTC())
	return err
}

type sampleRow struct {
	QualityScore float64   `db:"quality_score"`
	Escalated    bool      `db:"escalated"`
	SchemaValid  bool      `db:"schema_valid"`
	LatencyMs    int64     `db:"latency_ms"`
	TokenCount   int       `db:"token_count"`
	CreatedAt    time.Time `db:"created_at"`
}

func (s *Store) ListSamples(ctx context.Context, experiment, variantID string) ([]domain.MetricSample, error) {
	var rows []sampleRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT quality_score, escalated, schema_valid, latency_ms, token_count, created_at
		 FROM metric_samples
		 WHERE experiment = ? AND variant_id = ?
		 ORDER BY id`,
		experiment, variantID)
	if err != nil {
		return nil, err
	}

	samples := make([]domain.MetricSample, len(rows))
	for i, row := range rows {
		samples[i] = domain.MetricSample{
			QualityScore: row.QualityScore,
			Escalated:    row.Escalated,
			SchemaValid:  row.SchemaValid,
			LatencyMs:    row.LatencyMs,
			TokenCount:   row.TokenCount,
			Timestamp:    row.CreatedAt,
		}
	}
	return samples, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
