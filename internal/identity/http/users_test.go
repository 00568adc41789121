package http

import (
	"net/http"
	"testing"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/pkg/authsdk"
	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestUsers_Me(t *testing.T) {
	env := newTestEnv(t)
	u := env.seedUser(t, "bob@example.com", domain.RoleInvestor)

	rec := env.do(t, http.MethodGet, "/me", nil, env.bearer(t, u))
	require.Equal(t, http.StatusOK, rec.Code)

	me := decode[authsdk.UserResponse](t, rec)
	require.Equal(t, u.ID, me.ID)
	require.Equal(t, u.Email, me.Email)
	require.False(t, me.MFAEnabled)
	require.NotContains(t, rec.Body.String(), "argon2")

	rec = env.do(t, http.MethodGet, "/me", nil, map[string]string{httpx.HeaderAPIKey: testAPIKey})
	requireError(t, rec, http.StatusUnauthorized, httpx.KindAuthenticationFailure, "missing_credentials")
}

func TestUsers_Create(t *testing.T) {
	env := newTestEnv(t)
	root := env.seedUser(t, "root@example.com", domain.RoleRoot)
	admin := env.seedUser(t, "admin@example.com", domain.RoleAdmin)
	investor := env.seedUser(t, "bob@example.com", domain.RoleInvestor)

	tests := []struct {
		name   string
		actor  domain.User
		req    authsdk.CreateUserRequest
		status int
		code   string
	}{
		{
			name:   "root creates admin",
			actor:  root,
			req:    authsdk.CreateUserRequest{Email: "new-admin@example.com", Password: testPassword, Role: "admin"},
			status: http.StatusCreated,
		},
		{
			name:   "admin creates support",
			actor:  admin,
			req:    authsdk.CreateUserRequest{Email: "support@example.com", Password: testPassword, Role: "support"},
			status: http.StatusCreated,
		},
		{
			name:   "role defaults to investor",
			actor:  admin,
			req:    authsdk.CreateUserRequest{Email: "investor@example.com", Password: testPassword},
			status: http.StatusCreated,
		},
		{
			name:   "admin cannot create admin",
			actor:  admin,
			req:    authsdk.CreateUserRequest{Email: "x@example.com", Password: testPassword, Role: "admin"},
			status: http.StatusForbidden,
			code:   "role_not_permitted",
		},
		{
			name:   "root cannot create root",
			actor:  root,
			req:    authsdk.CreateUserRequest{Email: "y@example.com", Password: testPassword, Role: "root"},
			status: http.StatusForbidden,
			code:   "role_not_permitted",
		},
		{
			name:   "investor is rejected by role gate",
			actor:  investor,
			req:    authsdk.CreateUserRequest{Email: "z@example.com", Password: testPassword},
			status: http.StatusForbidden,
			code:   "role_not_permitted",
		},
		{
			name:   "short password",
			actor:  root,
			req:    authsdk.CreateUserRequest{Email: "short@example.com", Password: "short"},
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "duplicate email",
			actor:  root,
			req:    authsdk.CreateUserRequest{Email: "BOB@example.com", Password: testPassword},
			status: http.StatusConflict,
			code:   "user_exists",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/users", tc.req, env.bearer(t, tc.actor))
			require.Equal(t, tc.status, rec.Code, rec.Body.String())

			if tc.code != "" {
				require.Equal(t, tc.code, decode[authsdk.ErrorResponse](t, rec).Code)
				return
			}

			created := decode[authsdk.UserResponse](t, rec)
			require.NotEmpty(t, created.ID)
			require.True(t, created.Active)

			// The new account can log in.
			login := env.do(t, http.MethodPost, "/login", authsdk.LoginRequest{Email: tc.req.Email, Password: tc.req.Password}, nil)
			require.Equal(t, http.StatusOK, login.Code, login.Body.String())
		})
	}

	t.Run("api key is not enough", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/users",
			authsdk.CreateUserRequest{Email: "k@example.com", Password: testPassword},
			map[string]string{httpx.HeaderAPIKey: testAPIKey},
		)
		requireError(t, rec, http.StatusUnauthorized, httpx.KindAuthenticationFailure, "missing_credentials")
	})
}

func TestUsers_Get(t *testing.T) {
	env := newTestEnv(t)
	support := env.seedUser(t, "support@example.com", domain.RoleSupport)
	alice := env.seedUser(t, "alice@example.com", domain.RoleInvestor)
	bob := env.seedUser(t, "bob@example.com", domain.RoleInvestor)

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		status  int
	}{
		{"api key reads anyone", "/users/" + alice.ID, map[string]string{httpx.HeaderAPIKey: testAPIKey}, http.StatusOK},
		{"user reads self", "/users/" + alice.ID, env.bearer(t, alice), http.StatusOK},
		{"staff reads anyone", "/users/" + alice.ID, env.bearer(t, support), http.StatusOK},
		{"user cannot read others", "/users/" + alice.ID, env.bearer(t, bob), http.StatusForbidden},
		{"wrong api key", "/users/" + alice.ID, map[string]string{httpx.HeaderAPIKey: "guess"}, http.StatusUnauthorized},
		{"no credentials", "/users/" + alice.ID, nil, http.StatusUnauthorized},
		{"unknown user", "/users/01HZZZZZZZZZZZZZZZZZZZZZZZ", map[string]string{httpx.HeaderAPIKey: testAPIKey}, http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tc.path, nil, tc.headers)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.status == http.StatusOK {
				require.Equal(t, alice.ID, decode[authsdk.UserResponse](t, rec).ID)
			}
		})
	}
}

func TestUsers_Deactivate(t *testing.T) {
	env := newTestEnv(t)
	root := env.seedUser(t, "root@example.com", domain.RoleRoot)
	admin := env.seedUser(t, "admin@example.com", domain.RoleAdmin)
	bob := env.seedUser(t, "bob@example.com", domain.RoleInvestor)
	path := "/users/" + bob.ID + "/deactivate"

	withKey := func(h map[string]string) map[string]string {
		h[httpx.HeaderAPIKey] = testAPIKey
		return h
	}

	rec := env.do(t, http.MethodPost, path, nil, env.bearer(t, root))
	requireError(t, rec, http.StatusUnauthorized, httpx.KindAuthenticationFailure, "missing_credentials")

	rec = env.do(t, http.MethodPost, path, nil, map[string]string{httpx.HeaderAPIKey: testAPIKey})
	requireError(t, rec, http.StatusUnauthorized, httpx.KindAuthenticationFailure, "missing_credentials")

	rec = env.do(t, http.MethodPost, path, nil, withKey(env.bearer(t, admin)))
	requireError(t, rec, http.StatusForbidden, httpx.KindAuthorizationFailure, "role_not_permitted")

	rec = env.do(t, http.MethodPost, "/users/"+root.ID+"/deactivate", nil, withKey(env.bearer(t, root)))
	requireError(t, rec, http.StatusBadRequest, httpx.KindMalformedRequest, "")

	rec = env.do(t, http.MethodPost, path, nil, withKey(env.bearer(t, root)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decode[authsdk.SuccessResponse](t, rec).Success)

	rec = env.do(t, http.MethodPost, "/login", authsdk.LoginRequest{Email: bob.Email, Password: testPassword}, nil)
	requireError(t, rec, http.StatusUnauthorized, httpx.KindAuthenticationFailure, "invalid_credentials")

	rec = env.do(t, http.MethodGet, "/users/"+bob.ID, nil, map[string]string{httpx.HeaderAPIKey: testAPIKey})
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[authsdk.UserResponse](t, rec).Active)
}
