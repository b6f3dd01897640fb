package inmemdb

import (
	"context"
	"sort"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/analysis"
)

type reportRepository struct {
	db *DB
}

var _ analysis.ReportRepository = (*reportRepository)(nil) // interface compliance check

func NewReportRepository(db *DB) analysis.ReportRepository {
	return &reportRepository{db: db}
}

func (repo *reportRepository) CountEvaluators(_ context.Context, institution string, _ ...core.DBExecutor) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	evaluators := make(map[string]struct{})
	for key := range repo.db.evaluations {
		if key.institution == institution {
			evaluators[key.evaluator] = struct{}{}
		}
	}
	return len(evaluators), nil
}

func (repo *reportRepository) EvaluatorPerformance(_ context.Context, institution string, _ ...core.DBExecutor) ([]analysis.EvaluatorStats, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	byEvaluator := make(map[string]*analysis.EvaluatorStats)
	for key, ev := range repo.db.evaluations {
		if key.institution != institution {
			continue
		}
		es, ok := byEvaluator[key.evaluator]
		if !ok {
			es = &analysis.EvaluatorStats{Evaluator: key.evaluator}
			byEvaluator[key.evaluator] = es
		}
		es.Evaluations++
		// sums until averaged below
		es.AverageSummary += float64(ev.SummaryScore)
		es.AverageTag += float64(ev.TagScore)
	}

	perf := make([]analysis.EvaluatorStats, 0, len(byEvaluator))
	for _, es := range byEvaluator {
		es.AverageSummary /= float64(es.Evaluations)
		es.AverageTag /= float64(es.Evaluations)
		perf = append(perf, *es)
	}
	sort.Slice(perf, func(i, j int) bool { return perf[i].Evaluator < perf[j].Evaluator })
	return perf, nil
}
