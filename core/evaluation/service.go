package evaluation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/entry"
	"github.com/iroils/evalapp/core/institution"
	"github.com/iroils/evalapp/core/user"
)

const (
	scoresCacheName = "evaluation_scores"
	statsCacheName  = "stats"
)

var (
	ErrNotFound         = errors.New("evaluation not found")
	ErrEntryNotAssigned = errors.New("entry is not selected for evaluation")
	ErrNoInstitution    = errors.New("evaluator does not belong to an institution")
)

var (
	OrderingFields  = []string{"entry_number", "evaluator", "summary_score", "tag_score", "created_at", "updated_at"}
	defaultOrdering = []core.DBOrdering{{Field: "entry_number", Ascending: true}, {Field: "evaluator", Ascending: true}}
)

type (
	Repository interface {
		GetEvaluation(ctx context.Context, institution, evaluator, entryNumber string, exec ...core.DBExecutor) (Evaluation, error)
		QueryEvaluations(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Evaluation, error)
		// UpsertEvaluation inserts the evaluation or updates the scores and feedback of the existing one.
		UpsertEvaluation(ctx context.Context, ev Evaluation, exec ...core.DBExecutor) (Evaluation, error)
		DeleteEvaluations(ctx context.Context, institution string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		// Submit creates or updates the evaluator's Evaluation of an Entry, keeping the institution stats in sync.
		Submit(ctx context.Context, evaluator user.User, entryNumber string, ne NewEvaluation) (ev Evaluation, created bool, err error)
		Get(ctx context.Context, institution, evaluator, entryNumber string) (Evaluation, error)
		Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Evaluation, error)
		Progress(ctx context.Context, evaluator user.User) (Progress, error)
		Assignments(ctx context.Context, evaluator user.User) ([]Assignment, error)
	}

	Deps struct {
		Tx         core.Transactor
		Repo       Repository
		StatsRepo  institution.Repository
		EntrySvc   entry.Service
		Logger     core.Logger
		Metrics    core.Metrics
		Cache      Cache             // optional
		StatsCache institution.Cache // optional
	}

	service struct {
		Deps
	}
)

var _ Service = (*service)(nil)

func NewService(deps Deps) Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Tx, "Tx"),
		vala.IsNotNil(deps.Repo, "Repo"),
		vala.IsNotNil(deps.StatsRepo, "StatsRepo"),
		vala.IsNotNil(deps.EntrySvc, "EntrySvc"),
		vala.IsNotNil(deps.Logger, "Logger"),
		vala.IsNotNil(deps.Metrics, "Metrics"),
	).CheckAndPanic()

	return &service{Deps: deps}
}

func (svc *service) Submit(ctx context.Context, evaluator user.User, entryNumber string, ne NewEvaluation) (Evaluation, bool, error) {
	inst := core.NormalizeInstitution(evaluator.Institution)
	if inst == "" {
		return Evaluation{}, false, ErrNoInstitution
	}

	ent, err := svc.EntrySvc.Get(ctx, inst, entryNumber)
	if err != nil {
		return Evaluation{}, false, err
	}
	if !ent.IsSelected() {
		return Evaluation{}, false, ErrEntryNotAssigned
	}

	now := time.Now().UTC()
	ev := Evaluation{
		Institution:  inst,
		Evaluator:    evaluator.Username,
		EntryNumber:  ent.EventNumber,
		SummaryScore: ne.SummaryScore,
		TagScore:     ne.TagScore,
		Feedback:     ne.Feedback,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var (
		created bool
		prev    Evaluation
		stats   institution.Stats
	)
	err = svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		if _, err := svc.StatsRepo.LockStats(ctx, inst, exec); err != nil {
			return errors.Wrap(err, "locking stats")
		}

		var err error
		prev, err = svc.Repo.GetEvaluation(ctx, inst, ev.Evaluator, ev.EntryNumber, exec)
		switch errors.Cause(err) {
		case nil:
			ev.ID = prev.ID
			ev.CreatedAt = prev.CreatedAt
		case ErrNotFound:
			created = true
		default:
			return errors.Wrap(err, "finding previous evaluation")
		}

		if ev, err = svc.Repo.UpsertEvaluation(ctx, ev, exec); err != nil {
			return errors.Wrap(err, "saving evaluation")
		}

		if created {
			err = svc.StatsRepo.AddEvaluation(ctx, inst, ev.SummaryScore, ev.TagScore, exec)
		} else {
			err = svc.StatsRepo.AdjustEvaluation(ctx, inst, ev.SummaryScore-prev.SummaryScore, ev.TagScore-prev.TagScore, exec)
		}
		if err != nil {
			return errors.Wrap(err, "updating stats")
		}

		stats, err = svc.StatsRepo.GetStats(ctx, inst, exec)
		return errors.Wrap(err, "reading stats")
	})
	if err != nil {
		return Evaluation{}, false, err
	}

	svc.Metrics.EvaluationSaved(created)
	svc.updateCache(ctx, ev, stats)
	return ev, created, nil
}

// updateCache mirrors a committed evaluation write. The stats are those read in the same transaction,
// so the cache only keeps them if nothing newer was cached meanwhile.
func (svc *service) updateCache(ctx context.Context, ev Evaluation, stats institution.Stats) {
	if svc.Cache != nil {
		if err := svc.Cache.SetScore(ctx, ev); err != nil {
			svc.Metrics.CacheError(scoresCacheName)
			svc.Logger.Error(fmt.Sprintf("caching score of %s on %q", ev.Evaluator, ev.EntryNumber), err)
		}
	}
	if svc.StatsCache == nil {
		return
	}
	if err := svc.StatsCache.SetStats(ctx, stats); err != nil {
		svc.Metrics.CacheError(statsCacheName)
		svc.Logger.Error(fmt.Sprintf("caching stats of %q", ev.Institution), err)
	}
}

func (svc *service) Get(ctx context.Context, institution, evaluator, entryNumber string) (Evaluation, error) {
	return svc.Repo.GetEvaluation(
		ctx,
		core.NormalizeInstitution(institution),
		core.CleanString(evaluator, true /* lower */),
		core.CleanString(entryNumber),
	)
}

func (svc *service) Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Evaluation, error) {
	filter.Clean()
	if filter.Institution == "" {
		return nil, ErrNoInstitution
	}
	if ordering = core.FilterOrdering(ordering, OrderingFields...); len(ordering) == 0 {
		ordering = defaultOrdering
	}
	return svc.Repo.QueryEvaluations(ctx, filter, ordering)
}

func (svc *service) Progress(ctx context.Context, evaluator user.User) (Progress, error) {
	inst := core.NormalizeInstitution(evaluator.Institution)
	if inst == "" {
		return Progress{}, ErrNoInstitution
	}

	entries, err := svc.EntrySvc.Assigned(ctx, inst)
	if err != nil {
		return Progress{}, errors.Wrap(err, "finding assigned entries")
	}
	done, err := svc.completed(ctx, inst, evaluator.Username, entries)
	if err != nil {
		return Progress{}, err
	}

	prog := Progress{Assigned: len(entries)}
	for i := range entries {
		if done[entries[i].EventNumber] {
			prog.Completed++
		} else if prog.NextEntry == nil {
			prog.NextEntry = &entries[i]
		}
	}
	prog.Remaining = prog.Assigned - prog.Completed
	if prog.Assigned > 0 {
		prog.Percentage = math.Round(float64(prog.Completed)*1000/float64(prog.Assigned)) / 10
	}
	return prog, nil
}

// completed reports which entries the evaluator has scored. The cached scores are used when they
// cover every entry; otherwise the evaluations are read from the database.
func (svc *service) completed(ctx context.Context, inst, evaluator string, entries []entry.Entry) (map[string]bool, error) {
	done := make(map[string]bool, len(entries))
	if svc.Cache != nil && len(entries) > 0 {
		numbers := make([]string, len(entries))
		for i, ent := range entries {
			numbers[i] = ent.EventNumber
		}
		scores, err := svc.Cache.Scores(ctx, inst, evaluator, numbers)
		if err == nil {
			hit := len(scores) == len(numbers)
			svc.Metrics.CacheRequest(scoresCacheName, hit)
			if hit {
				for num := range scores {
					done[num] = true
				}
				return done, nil
			}
		} else {
			svc.Metrics.CacheError(scoresCacheName)
			svc.Logger.Error(fmt.Sprintf("getting cached scores of %s", evaluator), err)
		}
	}

	evals, err := svc.Repo.QueryEvaluations(ctx, QueryFilter{Institution: inst, Evaluator: evaluator}, defaultOrdering)
	if err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}
	for _, ev := range evals {
		done[ev.EntryNumber] = true
	}
	return done, nil
}

func (svc *service) Assignments(ctx context.Context, evaluator user.User) ([]Assignment, error) {
	inst := core.NormalizeInstitution(evaluator.Institution)
	if inst == "" {
		return nil, ErrNoInstitution
	}

	entries, err := svc.EntrySvc.Assigned(ctx, inst)
	if err != nil {
		return nil, errors.Wrap(err, "finding assigned entries")
	}
	evals, err := svc.Repo.QueryEvaluations(ctx, QueryFilter{Institution: inst, Evaluator: evaluator.Username}, defaultOrdering)
	if err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}

	byEntry := make(map[string]Evaluation, len(evals))
	for _, ev := range evals {
		byEntry[ev.EntryNumber] = ev
	}
	assignments := make([]Assignment, 0, len(entries))
	for _, ent := range entries {
		a := Assignment{Entry: ent}
		if ev, ok := byEntry[ent.EventNumber]; ok {
			ev := ev
			a.Evaluation = &ev
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}
