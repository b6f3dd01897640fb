package echoapi_test

import (
	"context"
	"net/http"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/iroils/evalapp/apps/api/echo"
	"github.com/iroils/evalapp/core/user"
	emailsvc "github.com/iroils/evalapp/services/email"
	"github.com/iroils/evalapp/tests"
)

const testPwd = "x9$Qm!v2Lz"

func Test_userApi_login(t *testing.T) {
	env, app := setup(t, false)

	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", testPwd, []string{user.RoleEvaluator}, true)
	_ = testutil.CreateUser(t, env.Users, "Bob Inactive", "bob", "bob@mgh.org", "mgh", testPwd, []string{user.RoleEvaluator}, false)

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, echoapi.LoginRequest{Username: "this field is required", Password: "this field is required"}),
		},
		{
			name: "unknown user", body: marchallObj(t, echoapi.LoginRequest{Username: "lol", Password: testPwd}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", body: marchallObj(t, echoapi.LoginRequest{Username: "eva", Password: "lol"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "inactive user", body: marchallObj(t, echoapi.LoginRequest{Username: "bob", Password: testPwd}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "login with username", body: marchallObj(t, echoapi.LoginRequest{Username: " EVA ", Password: testPwd}), wantCode: http.StatusOK},
		{name: "login with email", body: marchallObj(t, echoapi.LoginRequest{Username: eva.Email, Password: testPwd}), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/users/login"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode != http.StatusOK {
				checkCodeAndData(t, tt, rec)
				return
			}
			if rec.Code != tt.wantCode {
				t.Fatalf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
			}
			var respData echoapi.LoginResponse
			decode(t, rec, &respData)

			claims := new(echoapi.Claims)
			_, err := jwt.ParseWithClaims(respData.Token, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(env.Conf.SecretKey), nil
			})
			if err != nil {
				t.Fatalf("jwt.ParseWithClaims() failed! err %v", err)
			}
			assert.Equal(t, eva.ID, claims.Subject)
			assert.Equal(t, "mgh", claims.Institution)
			assert.True(t, claims.IsEvaluator)
			assert.False(t, claims.IsAdmin)

			usr, err := env.Users.GetUser(context.Background(), user.GetFilter{ID: eva.ID})
			if err != nil {
				t.Fatalf("GetUser() failed! err %v", err)
			}
			assert.False(t, usr.LastLogin.IsZero(), "last login not set")
		})
	}
}

func Test_userApi_query(t *testing.T) {
	env, app := setup(t, false)

	path := func(params ...string) string {
		v := make(url.Values)
		for i := 0; i+1 < len(params); i += 2 {
			v.Add(params[i], params[i+1])
		}
		return "/api/users?" + v.Encode()
	}

	root := testutil.CreateUser(t, env.Users, "Root", "root", "root@test.org", "", "", []string{user.RoleAdmin}, true)
	mghAdmin := testutil.CreateUser(t, env.Users, "MGH Admin", "mghadmin", "admin@mgh.org", "mgh", "", []string{user.RoleAdmin}, true)
	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	bob := testutil.CreateUser(t, env.Users, "Bob Inactive", "bob", "bob@mgh.org", "mgh", "", []string{user.RoleEvaluator}, false)
	uwe := testutil.CreateUser(t, env.Users, "Uwe", "uwe", "uwe@uw.edu", "uw", "", []string{user.RoleEvaluator}, true)

	rootToken := getToken(t, env, root)
	mghToken := getToken(t, env, mghAdmin)

	tests := []httpTest{
		{name: "Auth required", path: "/api/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/api/users", token: getToken(t, env, eva), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Get all", path: "/api/users", token: rootToken, wantData: marchallList(t, bob, eva, mghAdmin, root, uwe)},
		{name: "institution=uw", path: path("institution", "UW"), token: rootToken, wantData: marchallList(t, uwe)},
		{name: "Scoped to own institution", path: "/api/users", token: mghToken, wantData: marchallList(t, bob, eva, mghAdmin)},
		{name: "Own institution wins", path: path("institution", "uw"), token: mghToken, wantData: marchallList(t, bob, eva, mghAdmin)},
		{name: "search (unknown)", path: path("search", "lol"), token: rootToken, wantData: marchallList(t)},
		{name: "search=EVA", path: path("search", "EVA"), token: mghToken, wantData: marchallList(t, eva)},
		{name: "role=admin", path: path("role", user.RoleAdmin), token: rootToken, wantData: marchallList(t, mghAdmin, root)},
		{name: "is_active=false", path: path("is_active", "false"), token: rootToken, wantData: marchallList(t, bob)},
		{
			name: "is_active (invalid)", path: path("is_active", "lol"), token: rootToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"is_active": "invalid value"}),
		},
		{name: "ordering=-username", path: path("ordering", "-username"), token: mghToken, wantData: marchallList(t, mghAdmin, eva, bob)},
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

func Test_userApi_register(t *testing.T) {
	env, app := setup(t, false)

	root := testutil.CreateUser(t, env.Users, "Root", "root", "root@test.org", "", "", []string{user.RoleAdmin}, true)
	mghAdmin := testutil.CreateUser(t, env.Users, "MGH Admin", "mghadmin", "admin@mgh.org", "mgh", "", []string{user.RoleAdmin}, true)
	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)

	newEvaluator := func(uname, inst string) user.NewUser {
		return user.NewUser{
			Name:            "New Evaluator",
			Username:        uname,
			Email:           uname + "@test.org",
			Institution:     inst,
			Password:        testPwd,
			PasswordConfirm: testPwd,
			Roles:           []string{user.RoleEvaluator},
		}
	}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Admin required", token: getToken(t, env, eva), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})},
		{
			name: "Evaluators need an institution", token: getToken(t, env, root), body: marchallObj(t, newEvaluator("nobody", "")),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"institution": "evaluators must belong to an institution"}),
		},
		{
			name: "Username taken", token: getToken(t, env, root), body: marchallObj(t, newEvaluator("eva", "mgh")),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"username": user.ErrUsernameExists.Error()}),
		},
		{
			name: "Created in admin's institution", token: getToken(t, env, mghAdmin), body: marchallObj(t, newEvaluator("newbie", "uw")),
			wantCode: http.StatusCreated, extra: "mgh",
		},
		{
			name: "Created by superadmin", token: getToken(t, env, root), body: marchallObj(t, newEvaluator("uwnewbie", " UW ")),
			wantCode: http.StatusCreated, extra: "uw",
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/users/register"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			wantInst, ok := tt.extra.(string)
			if !ok {
				checkCodeAndData(t, tt, rec)
				return
			}
			if rec.Code != tt.wantCode {
				t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			var usr user.User
			decode(t, rec, &usr)
			assert.Equal(t, wantInst, usr.Institution)
			assert.Equal(t, []string{user.RoleEvaluator}, usr.Roles)
			assert.True(t, usr.IsActive)
			assert.NotEmpty(t, usr.ID)
		})
	}
}

func Test_userApi_me(t *testing.T) {
	env, app := setup(t, false)

	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	bob := testutil.CreateUser(t, env.Users, "Bob Inactive", "bob", "bob@mgh.org", "mgh", "", []string{user.RoleEvaluator}, false)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Inactive user", token: getToken(t, env, bob), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "Current user", token: getToken(t, env, eva), wantCode: http.StatusOK, wantData: marchallObj(t, eva)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		tt.path = "/api/users/me"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_detail(t *testing.T) {
	env, app := setup(t, false)

	mghAdmin := testutil.CreateUser(t, env.Users, "MGH Admin", "mghadmin", "admin@mgh.org", "mgh", "", []string{user.RoleAdmin}, true)
	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	ann := testutil.CreateUser(t, env.Users, "Ann", "ann", "ann@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	uwe := testutil.CreateUser(t, env.Users, "Uwe", "uwe", "uwe@uw.edu", "uw", "", []string{user.RoleEvaluator}, true)

	adminToken := getToken(t, env, mghAdmin)
	evaToken := getToken(t, env, eva)
	notFound := marchallObj(t, httpErr{Error: "not found"})
	bPtr := func(b bool) *bool { return &b }

	deactivatedAnn := ann
	deactivatedAnn.IsActive = false

	tests := []httpTest{
		{name: "Auth required", method: http.MethodGet, path: "/api/users/" + eva.ID, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Self", method: http.MethodGet, path: "/api/users/" + eva.ID, token: evaToken, wantCode: http.StatusOK, wantData: marchallObj(t, eva)},
		{name: "Other user", method: http.MethodGet, path: "/api/users/" + ann.ID, token: evaToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "Admin", method: http.MethodGet, path: "/api/users/" + ann.ID, token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, ann)},
		{name: "Other institution", method: http.MethodGet, path: "/api/users/" + uwe.ID, token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "Unknown", method: http.MethodGet, path: "/api/users/lol", token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "Non admins cannot update roles", method: http.MethodPut, path: "/api/users/" + eva.ID, token: evaToken,
			body: marchallObj(t, user.UpdateUser{Roles: []string{user.RoleAdmin}}), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Admin deactivates", method: http.MethodPut, path: "/api/users/" + ann.ID, token: adminToken,
			body: marchallObj(t, map[string]interface{}{"is_active": bPtr(false)}), wantCode: http.StatusOK,
			extra: deactivatedAnn,
		},
		{
			name: "Non admins cannot delete", method: http.MethodDelete, path: "/api/users/" + ann.ID, token: evaToken,
			wantCode: http.StatusNotFound, wantData: notFound,
		},
		{
			name: "Admin cannot delete themselves", method: http.MethodDelete, path: "/api/users/" + mghAdmin.ID, token: adminToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Admin deletes", method: http.MethodDelete, path: "/api/users/" + eva.ID, token: adminToken, wantCode: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			switch {
			case tt.wantCode == http.StatusNoContent:
				assert.Equal(t, tt.wantCode, rec.Code)
				_, err := env.UserSvc.GetByID(context.Background(), eva.ID)
				assert.Equal(t, user.ErrNotFound, err)
			case tt.extra != nil:
				want := tt.extra.(user.User)
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var got user.User
				decode(t, rec, &got)
				assert.Equal(t, want.ID, got.ID)
				assert.Equal(t, want.Username, got.Username)
				assert.Equal(t, want.IsActive, got.IsActive)
			default:
				checkCodeAndData(t, tt, rec)
			}
		})
	}
}

func Test_userApi_refreshToken(t *testing.T) {
	env, app := setup(t, false)

	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	bob := testutil.CreateUser(t, env.Users, "Bob Inactive", "bob", "bob@mgh.org", "mgh", "", []string{user.RoleEvaluator}, false)

	// token issued too long ago
	unrefreshableClaims := echoapi.GetUserClaims(env.Conf, eva, time.Now().Add(-2*env.Conf.Server.JWTRefreshExpirationDelta).Unix())
	unrefreshableToken, err := echoapi.GenerateToken(env.Conf, unrefreshableClaims)
	if err != nil {
		t.Fatalf("GenerateToken(): %v", err)
	}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Inactive user not allowed", token: getToken(t, env, bob), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Token refreshed", token: getToken(t, env, eva), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/users/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			// cannot guess new token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var respData echoapi.LoginResponse
				decode(t, rec, &respData)
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_resetPassword(t *testing.T) {
	env, app := setup(t, false)

	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	_ = testutil.CreateUser(t, env.Users, "Bob Inactive", "bob", "bob@mgh.org", "mgh", "", []string{user.RoleEvaluator}, false)
	successData := marchallObj(t, echoapi.SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})

	pathRegex := regexp.MustCompile("/password-reset/.+/.+")

	type extraTest struct {
		emailSent bool
		to        mail.Address
	}
	tests := []httpTest{
		{name: "required fields", wantCode: http.StatusBadRequest, wantData: marchallObj(t, echoapi.PasswordResetRequest{Email: "this field is required"})},
		{
			name: "invalid email", wantCode: http.StatusBadRequest, body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol"}),
			wantData: marchallObj(t, echoapi.PasswordResetRequest{Email: "email must be a valid email address"}),
		},
		{
			name: "unknown email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol@test.com"}),
			wantData: successData, extra: extraTest{emailSent: false},
		},
		{
			name: "inactive user", wantCode: http.StatusOK, body: marchallObj(t, echoapi.PasswordResetRequest{Email: "bob@mgh.org"}),
			wantData: successData, extra: extraTest{emailSent: false},
		},
		{
			name: "known email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.PasswordResetRequest{Email: eva.Email}),
			wantData: successData, extra: extraTest{emailSent: true, to: mail.Address{Name: eva.Name, Address: eva.Email}},
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/users/password-reset"

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ResetSentMessages()

			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			extra, ok := tt.extra.(extraTest)
			if !ok {
				return
			}
			sent := emailsvc.SentMessages()
			if !extra.emailSent {
				if len(sent) > 0 {
					t.Errorf("failed! len(SentMessages) = %d; want 0", len(sent))
				}
				return
			}
			if len(sent) != 1 {
				t.Fatalf("failed! len(SentMessages) = %d; want 1", len(sent))
			}
			msg := sent[0]
			if msg.To[0] != extra.to {
				t.Errorf("failed! To = %v; want %v", msg.To[0], extra.to)
			}
			if !strings.Contains(msg.TextContent, extra.to.Name) {
				t.Errorf("failed! text content does not contain recipient's name %q", extra.to.Name)
			}
			if !strings.Contains(msg.HTMLContent, extra.to.Name) {
				t.Errorf("failed! HTML content does not contain recipient's name %q", extra.to.Name)
			}
			if !pathRegex.MatchString(msg.TextContent) {
				t.Errorf("failed! text content does not match pathRegex %v", pathRegex)
			}
		})
	}
}

func Test_userApi_confirmPasswordReset(t *testing.T) {
	env, app := setup(t, false)

	eva := testutil.CreateUser(t, env.Users, "Eva Green", "eva", "eva@mgh.org", "mgh", "", []string{user.RoleEvaluator}, true)
	token := user.NewTokenGenerator(env.Conf).MakeToken(eva)
	uid := user.EncodeUID(eva)
	newPwd := "N3w&Secure!pwd"

	tests := []httpTest{
		{
			name: "required fields", body: marchallObj(t, user.ResetUserPassword{}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"token":            "this field is required",
				"uid":              "this field is required",
				"password":         "this field is required",
				"password_confirm": "this field is required",
			}),
		},
		{
			name: "invalid uid", body: marchallObj(t, user.ResetUserPassword{Token: token, UID: "lol", Password: newPwd, PasswordConfirm: newPwd}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"uid": "invalid value"}),
		},
		{
			name: "invalid token", body: marchallObj(t, user.ResetUserPassword{Token: "lol-lol", UID: uid, Password: newPwd, PasswordConfirm: newPwd}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"token": "invalid value"}),
		},
		{
			name: "password reset", body: marchallObj(t, user.ResetUserPassword{Token: token, UID: uid, Password: newPwd, PasswordConfirm: newPwd}),
			wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.SuccessResponse{Success: "Password has been reset with the new password."}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/users/password-reset-confirm"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	usr, err := env.UserSvc.GetByID(context.Background(), eva.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	assert.NoError(t, usr.CheckPassword(newPwd))
}
