package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/iroils/evalapp/apps/api/echo"
	"github.com/iroils/evalapp/core/entry"
	"github.com/iroils/evalapp/core/user"
	emailsvc "github.com/iroils/evalapp/services/email"
	"github.com/iroils/evalapp/tests"
)

func Test_entryApi_query(t *testing.T) {
	env, app := setup(t, false)

	root := testutil.CreateUser(t, env.Users, "Root", "root", "root@test.org", "", "", []string{user.RoleAdmin}, true)
	mghAdmin := testutil.CreateUser(t, env.Users, "MGH Admin", "mghadmin", "admin@mgh.org", "mgh", "", []string{user.RoleAdmin}, true)
	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)

	entries := testutil.CreateEntries(t, env.Entries, "mgh", 3, 1)
	uwEntry := testutil.CreateEntry(t, env.Entries, "uw", "UW-001", true)

	mghToken := getToken(t, env, mghAdmin)
	rootToken := getToken(t, env, root)

	tests := []httpTest{
		{name: "Auth required", path: "/api/entries", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/api/entries", token: getToken(t, env, eva), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Institution required", path: "/api/entries", token: rootToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"institution": "this field is required"}),
		},
		{name: "Get all", path: "/api/entries", token: mghToken, wantData: marchallList(t, entries[0], entries[1], entries[2])},
		{name: "Superadmin", path: "/api/entries?institution=UW", token: rootToken, wantData: marchallList(t, uwEntry)},
		{name: "Own institution wins", path: "/api/entries?institution=uw", token: mghToken, wantData: marchallList(t, entries[0], entries[1], entries[2])},
		{name: "selection=selected", path: "/api/entries?selection=selected", token: mghToken, wantData: marchallList(t, entries[0])},
		{name: "selection=not_selected", path: "/api/entries?selection=not_selected", token: mghToken, wantData: marchallList(t, entries[1], entries[2])},
		{name: "search=ev-002", path: "/api/entries?search=ev-002", token: mghToken, wantData: marchallList(t, entries[1])},
		{name: "search (narrative)", path: "/api/entries?search=narrative+of+EV-003", token: mghToken, wantData: marchallList(t, entries[2])},
		{name: "search (unknown)", path: "/api/entries?search=lol", token: mghToken, wantData: marchallList(t)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_entryApi_retrieve(t *testing.T) {
	env, app := setup(t, false)

	mghAdmin := testutil.CreateUser(t, env.Users, "MGH Admin", "mghadmin", "admin@mgh.org", "mgh", "", []string{user.RoleAdmin}, true)
	ent := testutil.CreateEntry(t, env.Entries, "mgh", "EV-001", false, "falls", "medication")
	_ = testutil.CreateEntry(t, env.Entries, "uw", "UW-001", false)
	token := getToken(t, env, mghAdmin)

	tests := []httpTest{
		{name: "Found", path: "/api/entries/EV-001", wantCode: http.StatusOK, wantData: marchallObj(t, ent)},
		{name: "Unknown", path: "/api/entries/EV-404", wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: entry.ErrNotFound.Error()})},
		{name: "Other institution", path: "/api/entries/UW-001", wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: entry.ErrNotFound.Error()})},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_entryApi_upload(t *testing.T) {
	env, app := setup(t, false)

	mghAdmin := testutil.CreateUser(t, env.Users, "MGH Admin", "mghadmin", "admin@mgh.org", "mgh", "", []string{user.RoleAdmin}, true)
	_ = testutil.CreateEntry(t, env.Entries, "mgh", "EV-001", true)
	token := getToken(t, env, mghAdmin)

	newEntry := func(num string, data map[string]interface{}, selected string) entry.NewEntry {
		if data == nil {
			data = map[string]interface{}{}
		}
		return entry.NewEntry{EventNumber: num, Data: data, Selected: selected}
	}

	tests := []httpTest{
		{
			name: "required fields", body: marchallObj(t, entry.Upload{}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"entries": "this field is required"}),
		},
		{
			name: "event number required",
			body: marchallObj(t, entry.Upload{Entries: []entry.NewEntry{newEntry("", nil, "")}}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"event_number": "this field is required"}),
		},
		{
			name: "unknown selection",
			body: marchallObj(t, entry.Upload{Entries: []entry.NewEntry{newEntry("EV-002", nil, "lol")}}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"selected": "selection must be one of 'Do Not Select' or 'Select for Evaluation'"}),
		},
		{
			name: "duplicate event numbers",
			body: marchallObj(t, entry.Upload{Entries: []entry.NewEntry{
				newEntry("EV-002", nil, ""),
				newEntry("", map[string]interface{}{entry.KeyEventNumber: " EV-002 "}, ""),
			}}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"entries": `duplicate event number "EV-002"`}),
		},
		{
			name: "created and updated",
			body: marchallObj(t, entry.Upload{Entries: []entry.NewEntry{
				newEntry("EV-001", map[string]interface{}{entry.KeyNarrative: "Updated narrative"}, ""),
				newEntry("", map[string]interface{}{entry.KeyEventNumber: "EV-002", entry.KeyTags: "falls, medication"}, ""),
				newEntry("EV-003", nil, "Selected"),
			}}),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, entry.UploadResult{Created: 2, Updated: 1}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/entries/upload"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	ctx := context.Background()
	ev1, err := env.Entries.GetEntry(ctx, "mgh", "EV-001")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	assert.Equal(t, "Updated narrative", ev1.Narrative())
	assert.True(t, ev1.IsSelected(), "upload without selection must keep the current one")

	ev2, err := env.Entries.GetEntry(ctx, "mgh", "EV-002")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	assert.Equal(t, []string{"falls", "medication"}, ev2.Tags())
	assert.Equal(t, entry.NotSelected, ev2.Selected)

	ev3, err := env.Entries.GetEntry(ctx, "mgh", "EV-003")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	assert.Equal(t, entry.Selected, ev3.Selected)
	assert.Equal(t, entry.Selected, ev3.Data[entry.KeySelected])
}

func Test_entryApi_setSelection(t *testing.T) {
	env, app := setup(t, true)

	mghAdmin := testutil.CreateUser(t, env.Users, "MGH Admin", "mghadmin", "admin@mgh.org", "mgh", "", []string{user.RoleAdmin}, true)
	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	_ = testutil.CreateUser(t, env.Users, "Bob Inactive", "bob", "bob@mgh.org", "mgh", "", []string{user.RoleEvaluator}, false)
	_ = testutil.CreateEntries(t, env.Entries, "mgh", 3, 0)
	token := getToken(t, env, mghAdmin)
	bPtr := func(b bool) *bool { return &b }

	type extraTest struct {
		wantSelected []string
		emailsSent   int
	}
	tests := []httpTest{
		{
			name: "required fields", path: "/api/entries/selection", body: marchallObj(t, entry.SelectionUpdate{}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"event_numbers": "this field is required", "selected": "this field is required"}),
		},
		{
			name: "unknown entry", path: "/api/entries/selection",
			body:     marchallObj(t, entry.SelectionUpdate{EventNumbers: []string{"EV-001", "EV-404"}, Selected: bPtr(true)}),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: entry.ErrNotFound.Error()}),
			extra: extraTest{wantSelected: []string{}},
		},
		{
			name: "select", path: "/api/entries/selection",
			body:     marchallObj(t, entry.SelectionUpdate{EventNumbers: []string{"EV-001", " EV-003 ", "EV-001"}, Selected: bPtr(true)}),
			wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.SelectionResponse{Updated: 2}),
			extra: extraTest{wantSelected: []string{"EV-001", "EV-003"}, emailsSent: 1},
		},
		{
			name: "toggle required", path: "/api/entries/EV-002/selection", body: marchallObj(t, echoapi.SelectionRequest{}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"selected": "this field is required"}),
		},
		{
			name: "toggle unknown", path: "/api/entries/EV-404/selection", body: marchallObj(t, echoapi.SelectionRequest{Selected: bPtr(true)}),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: entry.ErrNotFound.Error()}),
		},
		{
			name: "toggle off", path: "/api/entries/EV-001/selection", body: marchallObj(t, echoapi.SelectionRequest{Selected: bPtr(false)}),
			wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.SelectionResponse{Updated: 1}),
			extra: extraTest{wantSelected: []string{"EV-003"}},
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPut

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ResetSentMessages()

			req, rec := newAuthRequest(tt.method, tt.path, token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			extra, ok := tt.extra.(extraTest)
			if !ok {
				return
			}

			// assigned entries are served from the refreshed cache
			assigned, err := env.EntrySvc.Assigned(context.Background(), "mgh")
			if err != nil {
				t.Fatalf("Assigned() failed: %v", err)
			}
			got := make([]string, 0, len(assigned))
			for _, e := range assigned {
				got = append(got, e.EventNumber)
			}
			assert.Equal(t, extra.wantSelected, got)

			sent := emailsvc.SentMessages()
			if assert.Len(t, sent, extra.emailsSent) && extra.emailsSent > 0 {
				assert.Equal(t, eva.Email, sent[0].To[0].Address)
				assert.Contains(t, sent[0].TextContent, "2 entries of mgh are now selected for evaluation.")
			}
		})
	}
}

func Test_entryApi_selectRandom(t *testing.T) {
	env, app := setup(t, false)

	mghAdmin := testutil.CreateUser(t, env.Users, "MGH Admin", "mghadmin", "admin@mgh.org", "mgh", "", []string{user.RoleAdmin}, true)
	_ = testutil.CreateEntries(t, env.Entries, "mgh", 5, 3)
	_ = testutil.CreateEntries(t, env.Entries, "uw", 2, 0)
	token := getToken(t, env, mghAdmin)

	tests := []httpTest{
		{
			name: "required fields", body: marchallObj(t, entry.RandomSelection{}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"count": "this field is required"}),
		},
		{name: "count=2", body: marchallObj(t, entry.RandomSelection{Count: 2}), wantCode: http.StatusOK, extra: 2},
		{name: "count over total", body: marchallObj(t, entry.RandomSelection{Count: 10}), wantCode: http.StatusOK, extra: 5},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/entries/select-random"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, token, tt.body)
			app.ServeHTTP(rec, req)

			wantCount, ok := tt.extra.(int)
			if !ok {
				checkCodeAndData(t, tt, rec)
				return
			}
			if rec.Code != tt.wantCode {
				t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			var picked []entry.Entry
			decode(t, rec, &picked)
			assert.Len(t, picked, wantCount)
			for _, e := range picked {
				assert.Equal(t, "mgh", e.Institution)
				assert.Equal(t, entry.Selected, e.Selected)
			}

			counts, err := env.EntrySvc.Counts(context.Background(), "mgh")
			if err != nil {
				t.Fatalf("Counts() failed: %v", err)
			}
			assert.Equal(t, entry.Counts{Total: 5, Selected: wantCount}, counts)
		})
	}

	// other institutions are left untouched
	counts, err := env.EntrySvc.Counts(context.Background(), "uw")
	if err != nil {
		t.Fatalf("Counts() failed: %v", err)
	}
	assert.Equal(t, entry.Counts{Total: 2}, counts)
}
