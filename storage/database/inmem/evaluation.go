package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/evaluation"
)

type evaluationRepository struct {
	db *DB
}

var _ evaluation.Repository = (*evaluationRepository)(nil) // interface compliance check

func NewEvaluationRepository(db *DB) evaluation.Repository {
	return &evaluationRepository{db: db}
}

func (repo *evaluationRepository) GetEvaluation(_ context.Context, institution, evaluator, entryNumber string, _ ...core.DBExecutor) (evaluation.Evaluation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ev, ok := repo.db.evaluations[evaluationKey{institution, evaluator, entryNumber}]; ok {
		return *ev, nil
	}
	return evaluation.Evaluation{}, evaluation.ErrNotFound
}

func (repo *evaluationRepository) QueryEvaluations(_ context.Context, filter evaluation.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]evaluation.Evaluation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	evals := make([]evaluation.Evaluation, 0)
	for key, ev := range repo.db.evaluations {
		if key.institution != filter.Institution ||
			(filter.Evaluator != "" && key.evaluator != filter.Evaluator) ||
			(filter.EntryNumber != "" && key.entryNumber != filter.EntryNumber) {
			continue
		}
		evals = append(evals, *ev)
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "id", Ascending: true}}
	}
	sort.SliceStable(evals, func(i, j int) bool {
		for _, ord := range ordering {
			var cmp int
			switch ord.Field {
			case "id":
				cmp = compareInts(evals[i].ID, evals[j].ID)
			case "entry_number":
				cmp = strings.Compare(evals[i].EntryNumber, evals[j].EntryNumber)
			case "evaluator":
				cmp = strings.Compare(evals[i].Evaluator, evals[j].Evaluator)
			case "summary_score":
				cmp = compareInts(int64(evals[i].SummaryScore), int64(evals[j].SummaryScore))
			case "tag_score":
				cmp = compareInts(int64(evals[i].TagScore), int64(evals[j].TagScore))
			case "created_at":
				cmp = compareTimes(evals[i].CreatedAt, evals[j].CreatedAt)
			case "updated_at":
				cmp = compareTimes(evals[i].UpdatedAt, evals[j].UpdatedAt)
			}
			if cmp != 0 {
				return (cmp < 0) == ord.Ascending
			}
		}
		return false
	})
	return evals, nil
}

func (repo *evaluationRepository) UpsertEvaluation(_ context.Context, ev evaluation.Evaluation, _ ...core.DBExecutor) (evaluation.Evaluation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := evaluationKey{ev.Institution, ev.Evaluator, ev.EntryNumber}
	if orig, ok := repo.db.evaluations[key]; ok {
		ev.ID = orig.ID
		ev.CreatedAt = orig.CreatedAt
	} else {
		repo.db.evaluationSeq++
		ev.ID = repo.db.evaluationSeq
	}
	repo.db.evaluations[key] = &ev
	return ev, nil
}

func (repo *evaluationRepository) DeleteEvaluations(_ context.Context, institution string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var cnt int
	for key := range repo.db.evaluations {
		if key.institution == institution {
			delete(repo.db.evaluations, key)
			cnt++
		}
	}
	return cnt, nil
}
