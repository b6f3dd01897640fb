package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/institution"
)

const (
	statsColumns = "institution, cumulative_summary, cumulative_tag, total_evaluations, version, updated_at"
	nextVersion  = "nextval('institution_stats_version_seq')"
)

type statsRow struct {
	Institution       string    `db:"institution"`
	CumulativeSummary float64   `db:"cumulative_summary"`
	CumulativeTag     float64   `db:"cumulative_tag"`
	TotalEvaluations  int       `db:"total_evaluations"`
	Version           int64     `db:"version"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (row statsRow) stats() institution.Stats {
	return institution.Stats{
		Institution:       row.Institution,
		CumulativeSummary: row.CumulativeSummary,
		CumulativeTag:     row.CumulativeTag,
		TotalEvaluations:  row.TotalEvaluations,
		Version:           row.Version,
		UpdatedAt:         row.UpdatedAt.UTC(),
	}
}

type statsRepository struct {
	db *sqlx.DB
}

var _ institution.Repository = (*statsRepository)(nil) // interface compliance check

func NewStatsRepository(db *sqlx.DB) *statsRepository {
	return &statsRepository{db: db}
}

func (repo statsRepository) GetStats(ctx context.Context, inst string, exec ...core.DBExecutor) (institution.Stats, error) {
	var row statsRow
	q := `SELECT ` + statsColumns + ` FROM institution_stats WHERE institution = $1`
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &row, q, inst); err != nil {
		if err == sql.ErrNoRows {
			return institution.Stats{Institution: inst}, nil
		}
		return institution.Stats{}, errors.Wrap(err, "getting stats")
	}
	return row.stats(), nil
}

func (repo statsRepository) LockStats(ctx context.Context, inst string, exec ...core.DBExecutor) (institution.Stats, error) {
	exe := getExec(repo.db, exec)
	q := `INSERT INTO institution_stats (institution) VALUES ($1) ON CONFLICT (institution) DO NOTHING`
	if _, err := exe.ExecContext(ctx, q, inst); err != nil {
		return institution.Stats{}, errors.Wrap(err, "creating stats")
	}

	var row statsRow
	q = `SELECT ` + statsColumns + ` FROM institution_stats WHERE institution = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, exe, &row, q, inst); err != nil {
		return institution.Stats{}, errors.Wrap(err, "locking stats")
	}
	return row.stats(), nil
}

func (repo statsRepository) apply(ctx context.Context, inst string, dSummary, dTag, dCount int, exec []core.DBExecutor) error {
	q := `INSERT INTO institution_stats (institution, cumulative_summary, cumulative_tag, total_evaluations, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (institution) DO UPDATE SET
			cumulative_summary = institution_stats.cumulative_summary + EXCLUDED.cumulative_summary,
			cumulative_tag = institution_stats.cumulative_tag + EXCLUDED.cumulative_tag,
			total_evaluations = institution_stats.total_evaluations + EXCLUDED.total_evaluations,
			version = ` + nextVersion + `,
			updated_at = EXCLUDED.updated_at`
	_, err := getExec(repo.db, exec).ExecContext(ctx, q, inst, float64(dSummary), float64(dTag), dCount, time.Now().UTC())
	return err
}

func (repo statsRepository) AddEvaluation(ctx context.Context, inst string, summary, tag int, exec ...core.DBExecutor) error {
	return errors.Wrap(repo.apply(ctx, inst, summary, tag, 1, exec), "adding evaluation to stats")
}

func (repo statsRepository) AdjustEvaluation(ctx context.Context, inst string, dSummary, dTag int, exec ...core.DBExecutor) error {
	return errors.Wrap(repo.apply(ctx, inst, dSummary, dTag, 0, exec), "adjusting stats")
}

func (repo statsRepository) RecomputeStats(ctx context.Context, inst string, exec ...core.DBExecutor) (institution.Stats, error) {
	q := `INSERT INTO institution_stats (` + statsColumns + `)
		SELECT $1::text, COALESCE(SUM(summary_score), 0), COALESCE(SUM(tag_score), 0), COUNT(*), ` + nextVersion + `, $2
		FROM evaluations WHERE institution = $1::text
		ON CONFLICT (institution) DO UPDATE SET
			cumulative_summary = EXCLUDED.cumulative_summary,
			cumulative_tag = EXCLUDED.cumulative_tag,
			total_evaluations = EXCLUDED.total_evaluations,
			version = ` + nextVersion + `,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + statsColumns

	var row statsRow
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &row, q, inst, time.Now().UTC()); err != nil {
		return institution.Stats{}, errors.Wrap(err, "recomputing stats")
	}
	return row.stats(), nil
}
