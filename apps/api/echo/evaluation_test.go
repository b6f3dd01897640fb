package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iroils/evalapp/core/entry"
	"github.com/iroils/evalapp/core/evaluation"
	"github.com/iroils/evalapp/core/institution"
	"github.com/iroils/evalapp/core/user"
	"github.com/iroils/evalapp/tests"
)

func Test_evaluationApi_submit(t *testing.T) {
	env, app := setup(t, true)

	mghAdmin := testutil.CreateUser(t, env.Users, "MGH Admin", "mghadmin", "admin@mgh.org", "mgh", "", []string{user.RoleAdmin}, true)
	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	bob := testutil.CreateUser(t, env.Users, "Bob Inactive", "bob", "bob@mgh.org", "mgh", "", []string{user.RoleEvaluator}, false)
	loner := testutil.CreateUser(t, env.Users, "Loner", "loner", "loner@test.org", "", "", []string{user.RoleEvaluator}, true)
	_ = testutil.CreateEntries(t, env.Entries, "mgh", 4, 3)

	// caches the empty stats
	if _, err := env.AnalysisSvc.Stats(context.Background(), "mgh"); err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}

	evaToken := getToken(t, env, eva)
	scores := func(summary, tag int, feedback string) []byte {
		return marchallObj(t, evaluation.NewEvaluation{SummaryScore: summary, TagScore: tag, Feedback: feedback})
	}

	tests := []httpTest{
		{name: "Auth required", path: "/api/evaluations/EV-001", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Evaluator required", path: "/api/evaluations/EV-001", token: getToken(t, env, mghAdmin), body: scores(3, 3, ""),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Inactive evaluator", path: "/api/evaluations/EV-001", token: getToken(t, env, bob), body: scores(3, 3, ""),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "Evaluator without institution", path: "/api/evaluations/EV-001", token: getToken(t, env, loner), body: scores(3, 3, ""),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: evaluation.ErrNoInstitution.Error()}),
		},
		{
			name: "Invalid scores", path: "/api/evaluations/EV-001", token: evaToken, body: scores(0, 6, ""),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"summary_score": "this field is required", "tag_score": "tag_score must be 5 or less"}),
		},
		{
			name: "Unknown entry", path: "/api/evaluations/EV-404", token: evaToken, body: scores(3, 3, ""),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: entry.ErrNotFound.Error()}),
		},
		{
			name: "Entry not selected", path: "/api/evaluations/EV-004", token: evaToken, body: scores(3, 3, ""),
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: evaluation.ErrEntryNotAssigned.Error()}),
		},
		{
			name: "Created", path: "/api/evaluations/EV-001", token: evaToken, body: scores(4, 3, "  <b>Good job</b><script>alert(1)</script> "),
			wantCode: http.StatusCreated,
			extra:    evaluation.Evaluation{Institution: "mgh", Evaluator: "eva", EntryNumber: "EV-001", SummaryScore: 4, TagScore: 3, Feedback: "Good job"},
		},
		{
			name: "Updated", path: "/api/evaluations/EV-001", token: evaToken, body: scores(2, 5, ""),
			wantCode: http.StatusOK,
			extra:    evaluation.Evaluation{Institution: "mgh", Evaluator: "eva", EntryNumber: "EV-001", SummaryScore: 2, TagScore: 5},
		},
		{
			name: "Another entry", path: "/api/evaluations/EV-002", token: evaToken, body: scores(5, 5, "Clear summary"),
			wantCode: http.StatusCreated,
			extra:    evaluation.Evaluation{Institution: "mgh", Evaluator: "eva", EntryNumber: "EV-002", SummaryScore: 5, TagScore: 5, Feedback: "Clear summary"},
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPut

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			want, ok := tt.extra.(evaluation.Evaluation)
			if !ok {
				checkCodeAndData(t, tt, rec)
				return
			}
			if rec.Code != tt.wantCode {
				t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			var got evaluation.Evaluation
			decode(t, rec, &got)
			assert.NotZero(t, got.ID)
			assert.Equal(t, want.Institution, got.Institution)
			assert.Equal(t, want.Evaluator, got.Evaluator)
			assert.Equal(t, want.EntryNumber, got.EntryNumber)
			assert.Equal(t, want.SummaryScore, got.SummaryScore)
			assert.Equal(t, want.TagScore, got.TagScore)
			assert.Equal(t, want.Feedback, got.Feedback)
		})
	}

	// updates adjust the running totals instead of adding up
	wantStats := institution.Stats{Institution: "mgh", CumulativeSummary: 7, CumulativeTag: 10, TotalEvaluations: 2}

	stats, err := env.Stats.GetStats(context.Background(), "mgh")
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	stats.UpdatedAt = wantStats.UpdatedAt
	wantStats.Version = stats.Version
	assert.Equal(t, wantStats, stats)

	cached, err := env.Cache.Stats(context.Background(), "mgh")
	if err != nil {
		t.Fatalf("Cache.Stats() failed: %v", err)
	}
	assert.Equal(t, wantStats, cached)

	cachedScores, err := env.Cache.Scores(context.Background(), "mgh", "eva", []string{"EV-001"})
	if err != nil {
		t.Fatalf("Cache.Scores() failed: %v", err)
	}
	assert.Equal(t, map[string]evaluation.Score{"EV-001": {SummaryScore: 2, TagScore: 5}}, cachedScores)
}

func Test_evaluationApi_retrieve(t *testing.T) {
	env, app := setup(t, false)

	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	ann := testutil.CreateUser(t, env.Users, "Ann", "ann", "ann@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	_ = testutil.CreateEntries(t, env.Entries, "mgh", 3, 3)
	ev1 := testutil.CreateEvaluation(t, env.Evaluations, env.Stats, "mgh", "eva", "EV-001", 4, 4)
	ev2 := testutil.CreateEvaluation(t, env.Evaluations, env.Stats, "mgh", "eva", "EV-002", 2, 3)
	annEv := testutil.CreateEvaluation(t, env.Evaluations, env.Stats, "mgh", "ann", "EV-001", 5, 5)

	evaToken := getToken(t, env, eva)
	notFound := marchallObj(t, httpErr{Error: evaluation.ErrNotFound.Error()})

	tests := []httpTest{
		{name: "Own evaluation", path: "/api/evaluations/EV-001", token: evaToken, wantCode: http.StatusOK, wantData: marchallObj(t, ev1)},
		{name: "Not evaluated yet", path: "/api/evaluations/EV-003", token: evaToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "Other evaluator", path: "/api/evaluations/EV-001", token: getToken(t, env, ann), wantCode: http.StatusOK, wantData: marchallObj(t, annEv)},
		{name: "Own evaluations only", path: "/api/evaluations/mine", token: evaToken, wantCode: http.StatusOK, wantData: marchallList(t, ev1, ev2)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_evaluationApi_progress(t *testing.T) {
	env, app := setup(t, false)

	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	ann := testutil.CreateUser(t, env.Users, "Ann", "ann", "ann@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	uwe := testutil.CreateUser(t, env.Users, "Uwe", "uwe", "uwe@uw.edu", "uw", "", []string{user.RoleEvaluator}, true)
	entries := testutil.CreateEntries(t, env.Entries, "mgh", 4, 3)
	_ = testutil.CreateEvaluation(t, env.Evaluations, env.Stats, "mgh", "eva", "EV-001", 4, 4)
	_ = testutil.CreateEvaluation(t, env.Evaluations, env.Stats, "mgh", "ann", "EV-001", 3, 3)
	_ = testutil.CreateEvaluation(t, env.Evaluations, env.Stats, "mgh", "ann", "EV-002", 3, 3)
	_ = testutil.CreateEvaluation(t, env.Evaluations, env.Stats, "mgh", "ann", "EV-003", 3, 3)

	next := func(i int) *entry.Entry { return &entries[i] }

	tests := []httpTest{
		{
			name: "Some done", token: getToken(t, env, eva), wantCode: http.StatusOK,
			wantData: marchallObj(t, evaluation.Progress{Assigned: 3, Completed: 1, Remaining: 2, Percentage: 33.3, NextEntry: next(1)}),
		},
		{
			name: "All done", token: getToken(t, env, ann), wantCode: http.StatusOK,
			wantData: marchallObj(t, evaluation.Progress{Assigned: 3, Completed: 3, Remaining: 0, Percentage: 100}),
		},
		{
			name: "Nothing assigned", token: getToken(t, env, uwe), wantCode: http.StatusOK,
			wantData: marchallObj(t, evaluation.Progress{}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		tt.path = "/api/evaluations/progress"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_evaluationApi_assigned(t *testing.T) {
	env, app := setup(t, true)

	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	entries := testutil.CreateEntries(t, env.Entries, "mgh", 3, 2)
	ev := testutil.CreateEvaluation(t, env.Evaluations, env.Stats, "mgh", "eva", "EV-002", 4, 4)

	req, rec := newAuthRequest(http.MethodGet, "/api/evaluations/assigned", getToken(t, env, eva))
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusOK,
		wantData: marchallList(t,
			evaluation.Assignment{Entry: entries[0]},
			evaluation.Assignment{Entry: entries[1], Evaluation: &ev},
		),
	}, rec)

	// served from the cache on the second call
	if _, err := env.Cache.SelectedEntries(context.Background(), "mgh"); err != nil {
		t.Errorf("Cache.SelectedEntries() failed: %v", err)
	}
	req, rec = newAuthRequest(http.MethodGet, "/api/evaluations/assigned", getToken(t, env, eva))
	app.ServeHTTP(rec, req)
	var got []evaluation.Assignment
	decode(t, rec, &got)
	assert.Len(t, got, 2)
}
