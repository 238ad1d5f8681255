// Package memory is the default in-process store implementation.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/store"
)

// Store keeps reports and metric samples in maps guarded by one RWMutex.
type Store struct {
	mu      sync.RWMutex
	reports map[string]*domain.EvaluationResult
	samples map[string][]domain.MetricSample
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		reports: make(map[string]*domain.EvaluationResult),
		samples: make(map[string][]domain.MetricSample),
	}
}

func (s *Store) SaveReport(ctx context.Context, result *domain.EvaluationResult) error {
	if result.ID == "" {
		return fmt.Errorf("report has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *result
	s.reports[result.ID] = &copied
	return nil
}

func (s *Store) GetReport(ctx context.Context, id string) (*domain.EvaluationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (s *Store) AppendSample(ctx context.Context, experiment, variantID string, sample domain.MetricSample) error {
	key := sampleKey(experiment, variantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples[key] = append(s.samples[key], sample)
	return nil
}

func (s *Store) ListSamples(ctx context.Context, experiment, variantID string) ([]domain.MetricSample, error) {
	key := sampleKey(experiment, variantID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.samples[key]
	out := make([]domain.MetricSample, len(src))
	copy(out, src)
	return out, nil
}

func (s *Store) Close() error {
	return nil
}

func sampleKey(experiment, variantID string) string {
	return experiment + "\x00" + variantID
}
