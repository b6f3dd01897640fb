package institution

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/iroils/evalapp/core"
)

var ErrNotFound = errors.New("institution stats not found")

// Stats holds the running totals of an institution's evaluations.
// CumulativeSummary and CumulativeTag are the sums of the summary and tag scores of every evaluation of the
// institution and TotalEvaluations is their count.
// Version increases on every write of the stats, across institutions and resets.
type Stats struct {
	Institution       string    `json:"institution"`
	CumulativeSummary float64   `json:"cumulative_summary"`
	CumulativeTag     float64   `json:"cumulative_tag"`
	TotalEvaluations  int       `json:"total_evaluations"`
	Version           int64     `json:"-"`
	UpdatedAt         time.Time `json:"-"`
}

func (s Stats) AverageSummary() float64 {
	if s.TotalEvaluations > 0 {
		return s.CumulativeSummary / float64(s.TotalEvaluations)
	}
	return 0
}

func (s Stats) AverageTag() float64 {
	if s.TotalEvaluations > 0 {
		return s.CumulativeTag / float64(s.TotalEvaluations)
	}
	return 0
}

// Add records a new evaluation.
func (s *Stats) Add(summary, tag int) {
	s.CumulativeSummary += float64(summary)
	s.CumulativeTag += float64(tag)
	s.TotalEvaluations++
}

// Adjust records an evaluation update by the score deltas.
func (s *Stats) Adjust(dSummary, dTag int) {
	s.CumulativeSummary += float64(dSummary)
	s.CumulativeTag += float64(dTag)
}

func (s Stats) MarshalJSON() ([]byte, error) {
	type stats Stats
	return json.Marshal(struct {
		stats
		AverageSummary float64 `json:"average_summary"`
		AverageTag     float64 `json:"average_tag"`
	}{
		stats:          stats(s),
		AverageSummary: s.AverageSummary(),
		AverageTag:     s.AverageTag(),
	})
}

type (
	Repository interface {
		// GetStats returns zero Stats for institutions without evaluations.
		GetStats(ctx context.Context, institution string, exec ...core.DBExecutor) (Stats, error)
		// LockStats creates the stats row if needed and locks it until the end of the transaction.
		// Evaluation writes of an institution are serialized on this lock.
		LockStats(ctx context.Context, institution string, exec ...core.DBExecutor) (Stats, error)
		AddEvaluation(ctx context.Context, institution string, summary, tag int, exec ...core.DBExecutor) error
		AdjustEvaluation(ctx context.Context, institution string, dSummary, dTag int, exec ...core.DBExecutor) error
		// RecomputeStats rebuilds the stats from the evaluation rows.
		RecomputeStats(ctx context.Context, institution string, exec ...core.DBExecutor) (Stats, error)
	}

	// Cache mirrors the Stats of an institution.
	Cache interface {
		Stats(ctx context.Context, institution string) (Stats, error)
		// SetStats caches stats unless stats of a greater Version are already cached.
		SetStats(ctx context.Context, stats Stats) error
	}
)
