package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/evaluation"
)

const evaluationColumns = "id, institution, evaluator, entry_number, summary_score, tag_score, feedback, created_at, updated_at"

type evaluationRow struct {
	ID           int64       `db:"id"`
	Institution  string      `db:"institution"`
	Evaluator    string      `db:"evaluator"`
	EntryNumber  string      `db:"entry_number"`
	SummaryScore int         `db:"summary_score"`
	TagScore     int         `db:"tag_score"`
	Feedback     null.String `db:"feedback"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func (row evaluationRow) evaluation() evaluation.Evaluation {
	return evaluation.Evaluation{
		ID:           row.ID,
		Institution:  row.Institution,
		Evaluator:    row.Evaluator,
		EntryNumber:  row.EntryNumber,
		SummaryScore: row.SummaryScore,
		TagScore:     row.TagScore,
		Feedback:     row.Feedback.String,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
}

type evaluationRepository struct {
	db *sqlx.DB
}

var _ evaluation.Repository = (*evaluationRepository)(nil) // interface compliance check

func NewEvaluationRepository(db *sqlx.DB) *evaluationRepository {
	return &evaluationRepository{db: db}
}

func (repo evaluationRepository) GetEvaluation(ctx context.Context, institution, evaluator, entryNumber string, exec ...core.DBExecutor) (evaluation.Evaluation, error) {
	var row evaluationRow
	q := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE institution = $1 AND evaluator = $2 AND entry_number = $3`
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &row, q, institution, evaluator, entryNumber); err != nil {
		if err == sql.ErrNoRows {
			return evaluation.Evaluation{}, evaluation.ErrNotFound
		}
		return evaluation.Evaluation{}, errors.Wrap(err, "finding evaluation")
	}
	return row.evaluation(), nil
}

func (repo evaluationRepository) QueryEvaluations(ctx context.Context, filter evaluation.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]evaluation.Evaluation, error) {
	var where whereClause
	where.add("institution = " + where.arg(filter.Institution))
	if filter.Evaluator != "" {
		where.add("evaluator = " + where.arg(filter.Evaluator))
	}
	if filter.EntryNumber != "" {
		where.add("entry_number = " + where.arg(filter.EntryNumber))
	}

	var rows []evaluationRow
	q := `SELECT ` + evaluationColumns + ` FROM evaluations` + where.String() + orderBy(ordering)
	if err := sqlx.SelectContext(ctx, getExec(repo.db, exec), &rows, q, where.args...); err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}

	evals := make([]evaluation.Evaluation, 0, len(rows))
	for _, row := range rows {
		evals = append(evals, row.evaluation())
	}
	return evals, nil
}

func (repo evaluationRepository) UpsertEvaluation(ctx context.Context, ev evaluation.Evaluation, exec ...core.DBExecutor) (evaluation.Evaluation, error) {
	q := `INSERT INTO evaluations (institution, evaluator, entry_number, summary_score, tag_score, feedback, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (institution, evaluator, entry_number) DO UPDATE SET
			summary_score = EXCLUDED.summary_score,
			tag_score = EXCLUDED.tag_score,
			feedback = EXCLUDED.feedback,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	err := getExec(repo.db, exec).QueryRowxContext(ctx, q,
		ev.Institution, ev.Evaluator, ev.EntryNumber, ev.SummaryScore, ev.TagScore,
		null.NewString(ev.Feedback, ev.Feedback != ""), ev.CreatedAt.UTC(), ev.UpdatedAt.UTC(),
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return evaluation.Evaluation{}, errors.Wrap(err, "upserting evaluation")
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, nil
}

func (repo evaluationRepository) DeleteEvaluations(ctx context.Context, institution string, exec ...core.DBExecutor) (int, error) {
	res, err := getExec(repo.db, exec).ExecContext(ctx, `DELETE FROM evaluations WHERE institution = $1`, institution)
	if err != nil {
		return 0, errors.Wrap(err, "deleting evaluations")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "deleting evaluations")
}
