package boiledrepos

import (
	"context"

	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/analysis"
)

type reportRepository struct {
	exec core.DBExecutor
}

var _ analysis.ReportRepository = (*reportRepository)(nil) // interface compliance check

func NewReportRepository(exec core.DBExecutor) *reportRepository {
	return &reportRepository{exec: exec}
}

func (repo reportRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.exec
}

func (repo reportRepository) CountEvaluators(ctx context.Context, institution string, exec ...core.DBExecutor) (int, error) {
	var res struct {
		Count int `boil:"count"`
	}
	q := `SELECT COUNT(DISTINCT evaluator) AS count FROM evaluations WHERE institution = $1`
	if err := queries.Raw(q, institution).Bind(ctx, repo.getExec(exec), &res); err != nil {
		return 0, errors.Wrap(err, "counting evaluators")
	}
	return res.Count, nil
}

func (repo reportRepository) EvaluatorPerformance(ctx context.Context, institution string, exec ...core.DBExecutor) ([]analysis.EvaluatorStats, error) {
	var perf []analysis.EvaluatorStats
	q := `SELECT evaluator,
			COUNT(*) AS evaluations,
			AVG(summary_score)::float8 AS average_summary,
			AVG(tag_score)::float8 AS average_tag
		FROM evaluations
		WHERE institution = $1
		GROUP BY evaluator
		ORDER BY evaluator`
	if err := queries.Raw(q, institution).Bind(ctx, repo.getExec(exec), &perf); err != nil {
		return nil, errors.Wrap(err, "computing evaluator performance")
	}
	if perf == nil {
		perf = []analysis.EvaluatorStats{}
	}
	return perf, nil
}
