package analysis_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/analysis"
	"github.com/iroils/evalapp/core/entry"
	"github.com/iroils/evalapp/core/institution"
	"github.com/iroils/evalapp/tests"
)

func seed(t *testing.T, env *testutil.Env) {
	t.Helper()
	_ = testutil.CreateEntry(t, env.Entries, "mgh", "EV-001", true, "falls", "medication")
	_ = testutil.CreateEntry(t, env.Entries, "mgh", "EV-002", true, "falls")
	_ = testutil.CreateEntry(t, env.Entries, "mgh", "EV-003", false, "medication", "wrong-site", " ")
	_ = testutil.CreateEntry(t, env.Entries, "mgh", "EV-004", false)
	_ = testutil.CreateEntry(t, env.Entries, "uw", "UW-001", true, "falls")

	testutil.CreateEvaluation(t, env.Evaluations, env.Stats, "mgh", "eva", "EV-001", 5, 1)
	testutil.CreateEvaluation(t, env.Evaluations, env.Stats, "mgh", "ann", "EV-001", 3, 3)
	testutil.CreateEvaluation(t, env.Evaluations, env.Stats, "mgh", "eva", "EV-002", 1, 2)
	testutil.CreateEvaluation(t, env.Evaluations, env.Stats, "uw", "uwe", "UW-001", 2, 2)
}

func TestService_Stats(t *testing.T) {
	env := testutil.NewEnv(t, true)
	ctx := context.Background()
	seed(t, env)

	_, err := env.AnalysisSvc.Stats(ctx, " ")
	assert.Equal(t, analysis.ErrNoInstitution, err)

	want := institution.Stats{Institution: "mgh", CumulativeSummary: 9, CumulativeTag: 6, TotalEvaluations: 3}
	stats, err := env.AnalysisSvc.Stats(ctx, "MGH")
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	stats.UpdatedAt = want.UpdatedAt
	want.Version = stats.Version
	assert.Equal(t, want, stats)
	assert.Equal(t, 3.0, stats.AverageSummary())
	assert.Equal(t, 2.0, stats.AverageTag())

	// the second read is served from the cache
	if err = env.Stats.AddEvaluation(ctx, "mgh", 5, 5); err != nil {
		t.Fatalf("AddEvaluation() failed: %v", err)
	}
	stats, err = env.AnalysisSvc.Stats(ctx, "mgh")
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	assert.Equal(t, want, stats)

	// rebuilding refreshes the cache
	stats, err = env.AnalysisSvc.RebuildStats(ctx, "mgh")
	if err != nil {
		t.Fatalf("RebuildStats() failed: %v", err)
	}
	assert.Greater(t, stats.Version, want.Version)
	stats.UpdatedAt = want.UpdatedAt
	want.Version = stats.Version
	assert.Equal(t, want, stats)

	cached, err := env.Cache.Stats(ctx, "mgh")
	if err != nil {
		t.Fatalf("Cache.Stats() failed: %v", err)
	}
	assert.Equal(t, want, cached)
}

func TestService_Overview(t *testing.T) {
	env := testutil.NewEnv(t, false)
	ctx := context.Background()
	seed(t, env)

	ov, err := env.AnalysisSvc.Overview(ctx, "mgh")
	if err != nil {
		t.Fatalf("Overview() failed: %v", err)
	}
	assert.Equal(t, analysis.Overview{
		TotalEntries:     4,
		SelectedEntries:  2,
		TotalEvaluations: 3,
		Evaluators:       2,
		AverageSummary:   3,
		AverageTag:       2,
	}, ov)

	ov, err = env.AnalysisSvc.Overview(ctx, "lol")
	if err != nil {
		t.Fatalf("Overview() failed: %v", err)
	}
	assert.Equal(t, analysis.Overview{}, ov)
}

func TestService_EvaluatorPerformance(t *testing.T) {
	env := testutil.NewEnv(t, false)
	ctx := context.Background()
	seed(t, env)

	perf, err := env.AnalysisSvc.EvaluatorPerformance(ctx, "mgh")
	if err != nil {
		t.Fatalf("EvaluatorPerformance() failed: %v", err)
	}
	assert.Equal(t, []analysis.EvaluatorStats{
		{Evaluator: "ann", Evaluations: 1, AverageSummary: 3, AverageTag: 3},
		{Evaluator: "eva", Evaluations: 2, AverageSummary: 3, AverageTag: 1.5},
	}, perf)
}

func TestService_TagDistribution(t *testing.T) {
	env := testutil.NewEnv(t, false)
	ctx := context.Background()
	seed(t, env)

	tests := []struct {
		name string
		top  int
		want []analysis.TagCount
	}{
		{
			name: "all",
			want: []analysis.TagCount{
				{Tag: "falls", Total: 2, Selected: 2},
				{Tag: "medication", Total: 2, Selected: 1, NotSelected: 1},
				{Tag: "wrong-site", Total: 1, NotSelected: 1},
			},
		},
		{
			name: "top 2",
			top:  2,
			want: []analysis.TagCount{
				{Tag: "falls", Total: 2, Selected: 2},
				{Tag: "medication", Total: 2, Selected: 1, NotSelected: 1},
			},
		},
		{
			name: "top over size",
			top:  10,
			want: []analysis.TagCount{
				{Tag: "falls", Total: 2, Selected: 2},
				{Tag: "medication", Total: 2, Selected: 1, NotSelected: 1},
				{Tag: "wrong-site", Total: 1, NotSelected: 1},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, err := env.AnalysisSvc.TagDistribution(ctx, "mgh", tt.top)
			if err != nil {
				t.Fatalf("TagDistribution() failed: %v", err)
			}
			assert.Equal(t, tt.want, dist)
		})
	}

	_, err := env.AnalysisSvc.TagDistribution(ctx, "", 0)
	assert.Equal(t, analysis.ErrNoInstitution, err)
}

func TestService_TagComparison(t *testing.T) {
	env := testutil.NewEnv(t, false)
	ctx := context.Background()
	seed(t, env)

	cmp, err := env.AnalysisSvc.TagComparison(ctx, "mgh")
	if err != nil {
		t.Fatalf("TagComparison() failed: %v", err)
	}
	assert.Equal(t, []analysis.TagScores{
		{Tag: "falls", Evaluations: 3, AverageSummary: 3, AverageTag: 2},
		{Tag: "medication", Evaluations: 2, AverageSummary: 4, AverageTag: 2},
	}, cmp)
}

func TestService_Reset(t *testing.T) {
	env := testutil.NewEnv(t, true)
	ctx := context.Background()
	seed(t, env)

	if _, err := env.AnalysisSvc.TakeSnapshot(ctx, "mgh"); err != nil {
		t.Fatalf("TakeSnapshot() failed: %v", err)
	}

	res, err := env.AnalysisSvc.Reset(ctx, "mgh")
	if err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	assert.Equal(t, analysis.ResetResult{Entries: 4, Evaluations: 3}, res)

	stats, err := env.AnalysisSvc.Stats(ctx, "mgh")
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	assert.Zero(t, stats.TotalEvaluations)

	_, err = env.AnalysisSvc.LoadSnapshot(ctx, "mgh")
	assert.Equal(t, analysis.ErrNoSnapshot, errors.Cause(err))

	ov, err := env.AnalysisSvc.Overview(ctx, "uw")
	if err != nil {
		t.Fatalf("Overview() failed: %v", err)
	}
	assert.Equal(t, 1, ov.TotalEntries)
	assert.Equal(t, 1, ov.TotalEvaluations)
}

func TestService_Snapshot(t *testing.T) {
	t.Run("cache disabled", func(t *testing.T) {
		env := testutil.NewEnv(t, false)
		ctx := context.Background()

		_, err := env.AnalysisSvc.TakeSnapshot(ctx, "mgh")
		assert.Equal(t, analysis.ErrCacheDisabled, err)
		_, err = env.AnalysisSvc.LoadSnapshot(ctx, "mgh")
		assert.Equal(t, analysis.ErrCacheDisabled, err)
	})

	t.Run("take and load", func(t *testing.T) {
		env := testutil.NewEnv(t, true)
		ctx := context.Background()
		seed(t, env)

		snap, err := env.AnalysisSvc.TakeSnapshot(ctx, "mgh")
		if err != nil {
			t.Fatalf("TakeSnapshot() failed: %v", err)
		}
		assert.Equal(t, []string{"EV-001", "EV-002"}, snap.Selected)

		// snapshots outlive selection changes and never expire
		if _, err = env.EntrySvc.ReplaceSelection(ctx, "mgh", []string{"EV-003", "EV-004"}); err != nil {
			t.Fatalf("ReplaceSelection() failed: %v", err)
		}
		env.Redis.FastForward(365 * 24 * time.Hour)

		loaded, err := env.AnalysisSvc.LoadSnapshot(ctx, "mgh")
		if err != nil {
			t.Fatalf("LoadSnapshot() failed: %v", err)
		}
		assert.Equal(t, snap.Selected, loaded.Selected)
		assert.True(t, snap.TakenAt.Equal(loaded.TakenAt))

		selected, err := env.EntrySvc.Query(ctx, entry.QueryFilter{Institution: "mgh", Selection: entry.SelectionSelected}, nil)
		if err != nil {
			t.Fatalf("Query() failed: %v", err)
		}
		nums := make([]string, 0, len(selected))
		for _, e := range selected {
			nums = append(nums, e.EventNumber)
		}
		assert.Equal(t, []string{"EV-001", "EV-002"}, nums)

		// other institutions have their own snapshots
		_, err = env.AnalysisSvc.LoadSnapshot(ctx, "uw")
		assert.Equal(t, analysis.ErrNoSnapshot, errors.Cause(err))
		_, err = env.Cache.Snapshot(ctx, "uw")
		assert.Equal(t, core.ErrCacheMiss, err)
	})
}
