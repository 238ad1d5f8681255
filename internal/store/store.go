// Package store defines the persistence interfaces for evaluation reports
// and experiment metric samples.
//
// Stores are explicitly owned objects created at service start and passed to
// the server and experiment engine at construction; there are no package
// singletons. The memory implementation is the default; sqldb is enabled by
// configuration. Durability is out of scope: both are in-process.
package store

import (
	"context"
	"errors"

	"github.com/modelcascade/cascade/internal/domain"
)

// ErrNotFound is returned when a report or experiment key does not exist.
var ErrNotFound = errors.New("not found")

// ReportStore persists evaluation results keyed by their ID.
type ReportStore interface {
	SaveReport(ctx context.Context, result *domain.EvaluationResult) error
	GetReport(ctx context.Context, id string) (*domain.EvaluationResult, error)
}

// MetricStore persists per-variant metric samples. Samples are append-only;
// aggregation always recomputes from the full list, so appends need no
// read-modify-write coordination.
type MetricStore interface {
	AppendSample(ctx context.Context, experiment, variantID string, sample domain.MetricSample) error
	ListSamples(ctx context.Context, experiment, variantID string) ([]domain.MetricSample, error)
}

// Store combines both persistence concerns; the memory and sqldb
// implementations satisfy it.
type Store interface {
	ReportStore
	MetricStore
	Close() error
}
