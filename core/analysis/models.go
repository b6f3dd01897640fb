package analysis

import (
	"context"
	"time"

	"github.com/iroils/evalapp/core"
)

// DefaultTopTags is the default size of the tag distribution.
const DefaultTopTags = 10

// Overview of an institution's evaluation campaign.
type Overview struct {
	TotalEntries     int     `json:"total_entries"`
	SelectedEntries  int     `json:"selected_entries"`
	TotalEvaluations int     `json:"total_evaluations"`
	Evaluators       int     `json:"evaluators"`
	AverageSummary   float64 `json:"average_summary"`
	AverageTag       float64 `json:"average_tag"`
}

type EvaluatorStats struct {
	Evaluator      string  `json:"evaluator" boil:"evaluator"`
	Evaluations    int     `json:"evaluations" boil:"evaluations"`
	AverageSummary float64 `json:"average_summary" boil:"average_summary"`
	AverageTag     float64 `json:"average_tag" boil:"average_tag"`
}

// TagCount counts the entries carrying a tag.
type TagCount struct {
	Tag         string `json:"tag"`
	Total       int    `json:"total"`
	Selected    int    `json:"selected"`
	NotSelected int    `json:"not_selected"`
}

// TagScores aggregates the evaluations of the entries carrying a tag.
type TagScores struct {
	Tag            string  `json:"tag"`
	Evaluations    int     `json:"evaluations"`
	AverageSummary float64 `json:"average_summary"`
	AverageTag     float64 `json:"average_tag"`
}

type ResetResult struct {
	Entries     int `json:"entries"`
	Evaluations int `json:"evaluations"`
}

// Snapshot saves the selection of an institution.
type Snapshot struct {
	Institution string    `json:"institution"`
	TakenAt     time.Time `json:"taken_at"`
	Selected    []string  `json:"selected"` // event numbers
}

type (
	ReportRepository interface {
		// CountEvaluators returns the number of distinct evaluators of an institution.
		CountEvaluators(ctx context.Context, institution string, exec ...core.DBExecutor) (int, error)
		EvaluatorPerformance(ctx context.Context, institution string, exec ...core.DBExecutor) ([]EvaluatorStats, error)
	}

	// Store keeps the snapshots and the cached data of the institutions.
	Store interface {
		SaveSnapshot(ctx context.Context, snap Snapshot) error
		Snapshot(ctx context.Context, institution string) (Snapshot, error)
		// Clear drops every cached key of an institution.
		Clear(ctx context.Context, institution string) error
	}
)
