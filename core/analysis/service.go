package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/entry"
	"github.com/iroils/evalapp/core/evaluation"
	"github.com/iroils/evalapp/core/institution"
)

const statsCacheName = "stats"

var (
	ErrCacheDisabled = errors.New("cache is disabled")
	ErrNoSnapshot    = errors.New("no snapshot found")
	ErrNoInstitution = errors.New("institution is required")
)

type (
	Service interface {
		// Stats returns the running totals of an institution, from the cache when possible.
		Stats(ctx context.Context, name string) (institution.Stats, error)
		Overview(ctx context.Context, name string) (Overview, error)
		EvaluatorPerformance(ctx context.Context, name string) ([]EvaluatorStats, error)
		// TagDistribution returns the `top` most used tags (all tags if top is 0).
		TagDistribution(ctx context.Context, name string, top int) ([]TagCount, error)
		TagComparison(ctx context.Context, name string) ([]TagScores, error)
		// Reset deletes every entry and evaluation of an institution.
		Reset(ctx context.Context, name string) (ResetResult, error)
		RebuildStats(ctx context.Context, name string) (institution.Stats, error)
		TakeSnapshot(ctx context.Context, name string) (Snapshot, error)
		// LoadSnapshot restores the selection saved by the last snapshot.
		LoadSnapshot(ctx context.Context, name string) (Snapshot, error)
	}

	Deps struct {
		Tx         core.Transactor
		Entries    entry.Repository
		EntrySvc   entry.Service
		Evals      evaluation.Repository
		StatsRepo  institution.Repository
		Reports    ReportRepository
		Logger     core.Logger
		Metrics    core.Metrics
		Store      Store             // optional
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
		vala.IsNotNil(deps.Entries, "Entries"),
		vala.IsNotNil(deps.EntrySvc, "EntrySvc"),
		vala.IsNotNil(deps.Evals, "Evals"),
		vala.IsNotNil(deps.StatsRepo, "StatsRepo"),
		vala.IsNotNil(deps.Reports, "Reports"),
		vala.IsNotNil(deps.Logger, "Logger"),
		vala.IsNotNil(deps.Metrics, "Metrics"),
	).CheckAndPanic()

	return &service{Deps: deps}
}

func (svc *service) Stats(ctx context.Context, name string) (institution.Stats, error) {
	inst := core.NormalizeInstitution(name)
	if inst == "" {
		return institution.Stats{}, ErrNoInstitution
	}

	if svc.StatsCache != nil {
		stats, err := svc.StatsCache.Stats(ctx, inst)
		if err == nil {
			svc.Metrics.CacheRequest(statsCacheName, true)
			return stats, nil
		}
		if errors.Cause(err) == core.ErrCacheMiss {
			svc.Metrics.CacheRequest(statsCacheName, false)
		} else {
			svc.Metrics.CacheError(statsCacheName)
			svc.Logger.Error(fmt.Sprintf("reading cached stats of %q", inst), err)
		}
	}

	stats, err := svc.StatsRepo.GetStats(ctx, inst)
	if err != nil {
		return institution.Stats{}, errors.Wrap(err, "getting stats")
	}
	svc.cacheStats(ctx, stats)
	return stats, nil
}

func (svc *service) cacheStats(ctx context.Context, stats institution.Stats) {
	if svc.StatsCache == nil {
		return
	}
	if err := svc.StatsCache.SetStats(ctx, stats); err != nil {
		svc.Metrics.CacheError(statsCacheName)
		svc.Logger.Error(fmt.Sprintf("caching stats of %q", stats.Institution), err)
	}
}

func (svc *service) Overview(ctx context.Context, name string) (Overview, error) {
	inst := core.NormalizeInstitution(name)
	stats, err := svc.Stats(ctx, inst)
	if err != nil {
		return Overview{}, err
	}
	counts, err := svc.Entries.CountEntries(ctx, inst)
	if err != nil {
		return Overview{}, errors.Wrap(err, "counting entries")
	}
	evaluators, err := svc.Reports.CountEvaluators(ctx, inst)
	if err != nil {
		return Overview{}, errors.Wrap(err, "counting evaluators")
	}

	return Overview{
		TotalEntries:     counts.Total,
		SelectedEntries:  counts.Selected,
		TotalEvaluations: stats.TotalEvaluations,
		Evaluators:       evaluators,
		AverageSummary:   stats.AverageSummary(),
		AverageTag:       stats.AverageTag(),
	}, nil
}

func (svc *service) EvaluatorPerformance(ctx context.Context, name string) ([]EvaluatorStats, error) {
	inst := core.NormalizeInstitution(name)
	if inst == "" {
		return nil, ErrNoInstitution
	}
	return svc.Reports.EvaluatorPerformance(ctx, inst)
}

func (svc *service) TagDistribution(ctx context.Context, name string, top int) ([]TagCount, error) {
	entries, err := svc.entries(ctx, name)
	if err != nil {
		return nil, err
	}

	byTag := make(map[string]*TagCount)
	for _, ent := range entries {
		for _, tag := range uniqueTags(ent) {
			tc, ok := byTag[tag]
			if !ok {
				tc = &TagCount{Tag: tag}
				byTag[tag] = tc
			}
			tc.Total++
			if ent.IsSelected() {
				tc.Selected++
			} else {
				tc.NotSelected++
			}
		}
	}

	dist := make([]TagCount, 0, len(byTag))
	for _, tc := range byTag {
		dist = append(dist, *tc)
	}
	sort.Slice(dist, func(i, j int) bool {
		if dist[i].Total != dist[j].Total {
			return dist[i].Total > dist[j].Total
		}
		return dist[i].Tag < dist[j].Tag
	})
	if top > 0 && len(dist) > top {
		dist = dist[:top]
	}
	return dist, nil
}

func (svc *service) TagComparison(ctx context.Context, name string) ([]TagScores, error) {
	entries, err := svc.entries(ctx, name)
	if err != nil {
		return nil, err
	}
	evals, err := svc.Evals.QueryEvaluations(ctx, evaluation.QueryFilter{Institution: core.NormalizeInstitution(name)}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}

	tagsByEntry := make(map[string][]string, len(entries))
	for _, ent := range entries {
		tagsByEntry[ent.EventNumber] = uniqueTags(ent)
	}

	type sums struct {
		count        int
		summary, tag float64
	}
	byTag := make(map[string]*sums)
	for _, ev := range evals {
		for _, tag := range tagsByEntry[ev.EntryNumber] {
			s, ok := byTag[tag]
			if !ok {
				s = &sums{}
				byTag[tag] = s
			}
			s.count++
			s.summary += float64(ev.SummaryScore)
			s.tag += float64(ev.TagScore)
		}
	}

	comparison := make([]TagScores, 0, len(byTag))
	for tag, s := range byTag {
		comparison = append(comparison, TagScores{
			Tag:            tag,
			Evaluations:    s.count,
			AverageSummary: s.summary / float64(s.count),
			AverageTag:     s.tag / float64(s.count),
		})
	}
	sort.Slice(comparison, func(i, j int) bool { return comparison[i].Tag < comparison[j].Tag })
	return comparison, nil
}

func (svc *service) entries(ctx context.Context, name string) ([]entry.Entry, error) {
	inst := core.NormalizeInstitution(name)
	if inst == "" {
		return nil, ErrNoInstitution
	}
	entries, err := svc.Entries.QueryEntries(ctx, entry.QueryFilter{Institution: inst, Selection: entry.SelectionAll}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying entries")
	}
	return entries, nil
}

func (svc *service) Reset(ctx context.Context, name string) (ResetResult, error) {
	inst := core.NormalizeInstitution(name)
	if inst == "" {
		return ResetResult{}, ErrNoInstitution
	}

	var (
		res   ResetResult
		stats institution.Stats
	)
	err := svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if res.Evaluations, err = svc.Evals.DeleteEvaluations(ctx, inst, exec); err != nil {
			return errors.Wrap(err, "deleting evaluations")
		}
		if res.Entries, err = svc.Entries.DeleteEntries(ctx, inst, exec); err != nil {
			return errors.Wrap(err, "deleting entries")
		}
		// zeroed under a new version so that stats read before the reset cannot be cached again
		stats, err = svc.StatsRepo.RecomputeStats(ctx, inst, exec)
		return errors.Wrap(err, "zeroing stats")
	})
	if err != nil {
		return ResetResult{}, err
	}

	if svc.Store != nil {
		if err = svc.Store.Clear(ctx, inst); err != nil {
			svc.Logger.Error(fmt.Sprintf("clearing cache of %q", inst), err)
		}
	}
	svc.cacheStats(ctx, stats)
	svc.Logger.Info(fmt.Sprintf("institution %q reset: %d entries, %d evaluations deleted", inst, res.Entries, res.Evaluations))
	return res, nil
}

func (svc *service) RebuildStats(ctx context.Context, name string) (institution.Stats, error) {
	inst := core.NormalizeInstitution(name)
	if inst == "" {
		return institution.Stats{}, ErrNoInstitution
	}

	var stats institution.Stats
	err := svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		stats, err = svc.StatsRepo.RecomputeStats(ctx, inst, exec)
		return errors.Wrap(err, "recomputing stats")
	})
	if err != nil {
		return institution.Stats{}, err
	}
	svc.cacheStats(ctx, stats)
	return stats, nil
}

func (svc *service) TakeSnapshot(ctx context.Context, name string) (Snapshot, error) {
	if svc.Store == nil {
		return Snapshot{}, ErrCacheDisabled
	}
	inst := core.NormalizeInstitution(name)
	if inst == "" {
		return Snapshot{}, ErrNoInstitution
	}

	selected, err := svc.Entries.QueryEntries(ctx, entry.QueryFilter{Institution: inst, Selection: entry.SelectionSelected}, nil)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "querying selected entries")
	}
	snap := Snapshot{
		Institution: inst,
		TakenAt:     time.Now().UTC(),
		Selected:    make([]string, 0, len(selected)),
	}
	for _, ent := range selected {
		snap.Selected = append(snap.Selected, ent.EventNumber)
	}
	sort.Strings(snap.Selected)

	if err = svc.Store.SaveSnapshot(ctx, snap); err != nil {
		return Snapshot{}, errors.Wrap(err, "saving snapshot")
	}
	return snap, nil
}

func (svc *service) LoadSnapshot(ctx context.Context, name string) (Snapshot, error) {
	if svc.Store == nil {
		return Snapshot{}, ErrCacheDisabled
	}
	inst := core.NormalizeInstitution(name)
	if inst == "" {
		return Snapshot{}, ErrNoInstitution
	}

	snap, err := svc.Store.Snapshot(ctx, inst)
	if err != nil {
		if errors.Cause(err) == core.ErrCacheMiss {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, errors.Wrap(err, "reading snapshot")
	}
	if _, err = svc.EntrySvc.ReplaceSelection(ctx, inst, snap.Selected); err != nil {
		return Snapshot{}, errors.Wrap(err, "restoring selection")
	}
	return snap, nil
}

func uniqueTags(ent entry.Entry) []string {
	tags := ent.Tags()
	seen := make(map[string]struct{}, len(tags))
	unique := tags[:0]
	for _, t := range tags {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			unique = append(unique, t)
		}
	}
	return unique
}
