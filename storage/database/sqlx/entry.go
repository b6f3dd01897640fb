package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/entry"
)

const entryColumns = "id, institution, event_number, data, selected, created_at, updated_at"

type entryRow struct {
	ID          int64          `db:"id"`
	Institution string         `db:"institution"`
	EventNumber string         `db:"event_number"`
	Data        types.JSONText `db:"data"`
	Selected    string         `db:"selected"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

type entryRepository struct {
	db *sqlx.DB
}

var _ entry.Repository = (*entryRepository)(nil) // interface compliance check

func NewEntryRepository(db *sqlx.DB) *entryRepository {
	return &entryRepository{db: db}
}

func (repo entryRepository) fromRow(row entryRow) (entry.Entry, error) {
	e := entry.Entry{
		ID:          row.ID,
		Institution: row.Institution,
		EventNumber: row.EventNumber,
		Selected:    row.Selected,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
	if err := row.Data.Unmarshal(&e.Data); err != nil {
		return entry.Entry{}, errors.Wrapf(err, "decoding data of entry %q", row.EventNumber)
	}
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	return e, nil
}

func (repo entryRepository) fromRows(rows []entryRow) ([]entry.Entry, error) {
	entries := make([]entry.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := repo.fromRow(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// trapNoRowsErr maps psql "no rows" err to entry.ErrNotFound
func (repo entryRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return entry.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo entryRepository) UpsertEntries(ctx context.Context, entries []entry.Entry, exec ...core.DBExecutor) (int, error) {
	// an empty selection keeps the stored one; "created" is true when the row was inserted
	q := `INSERT INTO entries (institution, event_number, data, selected, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb || jsonb_build_object('Selected', COALESCE(NULLIF($4::text, ''), $6::text)), COALESCE(NULLIF($4::text, ''), $6::text), $5, $5)
		ON CONFLICT (institution, event_number) DO UPDATE SET
			data = CASE WHEN $4::text = '' THEN $3::jsonb || jsonb_build_object('Selected', entries.selected) ELSE EXCLUDED.data END,
			selected = CASE WHEN $4::text = '' THEN entries.selected ELSE EXCLUDED.selected END,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS created`

	exe := getExec(repo.db, exec)
	var created int
	for _, e := range entries {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return 0, errors.Wrapf(err, "encoding data of entry %q", e.EventNumber)
		}

		var inserted bool
		err = exe.QueryRowxContext(ctx, q, e.Institution, e.EventNumber, string(data), e.Selected, e.UpdatedAt.UTC(), entry.NotSelected).
			Scan(&inserted)
		if err != nil {
			return 0, errors.Wrapf(err, "upserting entry %q", e.EventNumber)
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

func (repo entryRepository) where(filter entry.QueryFilter) whereClause {
	var where whereClause
	where.add("institution = " + where.arg(filter.Institution))

	switch filter.Selection {
	case entry.SelectionSelected:
		where.add("selected <> " + where.arg(entry.NotSelected))
	case entry.SelectionNotSelected:
		where.add("selected = " + where.arg(entry.NotSelected))
	}
	// entries with event number or narrative matching the search keyword
	if filter.Search != "" {
		p := where.arg("%" + filter.Search + "%")
		where.add("(event_number ILIKE " + p + " OR data->>'" + entry.KeyNarrative + "' ILIKE " + p + ")")
	}
	if len(filter.EventNumbers) > 0 {
		where.add("event_number = ANY(" + where.arg(pq.Array(filter.EventNumbers)) + ")")
	}
	return where
}

func (repo entryRepository) QueryEntries(ctx context.Context, filter entry.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]entry.Entry, error) {
	where := repo.where(filter)

	var rows []entryRow
	q := `SELECT ` + entryColumns + ` FROM entries` + where.String() + orderBy(ordering)
	if err := sqlx.SelectContext(ctx, getExec(repo.db, exec), &rows, q, where.args...); err != nil {
		return nil, errors.Wrap(err, "querying entries")
	}
	return repo.fromRows(rows)
}

func (repo entryRepository) GetEntry(ctx context.Context, institution, eventNumber string, exec ...core.DBExecutor) (entry.Entry, error) {
	var row entryRow
	q := `SELECT ` + entryColumns + ` FROM entries WHERE institution = $1 AND event_number = $2`
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &row, q, institution, eventNumber); err != nil {
		return entry.Entry{}, repo.trapNoRowsErr(err, "finding entry")
	}
	return repo.fromRow(row)
}

func (repo entryRepository) SetSelection(ctx context.Context, institution string, eventNumbers []string, selected string, exec ...core.DBExecutor) (int, error) {
	q := `UPDATE entries SET
			selected = $2, data = data || jsonb_build_object('Selected', $2::text), updated_at = $3
		WHERE institution = $1`
	args := []interface{}{institution, selected, time.Now().UTC()}
	if len(eventNumbers) > 0 {
		q += ` AND event_number = ANY($4)`
		args = append(args, pq.Array(eventNumbers))
	}

	res, err := getExec(repo.db, exec).ExecContext(ctx, q, args...)
	if err != nil {
		return 0, errors.Wrap(err, "updating selection")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "updating selection")
}

func (repo entryRepository) CountEntries(ctx context.Context, institution string, exec ...core.DBExecutor) (entry.Counts, error) {
	var row struct {
		Total    int `db:"total"`
		Selected int `db:"selected"`
	}
	q := `SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE selected <> $2) AS selected FROM entries WHERE institution = $1`
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &row, q, institution, entry.NotSelected); err != nil {
		return entry.Counts{}, errors.Wrap(err, "counting entries")
	}
	return entry.Counts{Total: row.Total, Selected: row.Selected}, nil
}

func (repo entryRepository) DeleteEntries(ctx context.Context, institution string, exec ...core.DBExecutor) (int, error) {
	res, err := getExec(repo.db, exec).ExecContext(ctx, `DELETE FROM entries WHERE institution = $1`, institution)
	if err != nil {
		return 0, errors.Wrap(err, "deleting entries")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "deleting entries")
}
