package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/")
}

func TestLogin_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/login", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "a@x.com", req.Email)

		_ = json.NewEncoder(w).Encode(LoginResponse{Success: true, Token: "jwt", User: UserResponse{ID: "u1"}})
	})

	session, err := client.AuthenticateWithPassword(context.Background(), "a@x.com", "p")
	require.NoError(t, err)
	require.Equal(t, "jwt", session.Token())
}

func TestLogin_MFARequired(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(MFARequiredResponse{
			Success: true, MFARequired: true, UserID: "u1", FactorID: "f1",
		})
	})

	_, err := client.Login(context.Background(), "a@x.com", "p")
	var mfaErr *MFARequiredError
	require.True(t, errors.As(err, &mfaErr))
	require.Equal(t, "u1", mfaErr.UserID)
	require.Equal(t, "f1", mfaErr.FactorID)
	require.Nil(t, mfaErr.Session)
}

func TestAPIError_Parsing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(ErrorResponse{
			Error:       KindAuthorizationFailure,
			Code:        CodeNotEligible,
			Message:     "identity not eligible",
			RedirectURL: "https://portal.example",
		})
	})

	_, err := client.FederatedCallback(context.Background(), CallbackRequest{Code: "c"})
	require.Error(t, err)
	require.True(t, IsKind(err, KindAuthorizationFailure))
	require.True(t, IsCode(err, CodeNotEligible))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	require.Equal(t, "https://portal.example", apiErr.RedirectURL)
}

func TestAPIError_NonJSONBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := client.GetLiveness(context.Background())
	require.True(t, IsKind(err, KindUpstreamFailure))
}

func TestSession_SendsCredentials(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/mfa/enroll":
			require.Equal(t, "pa", r.Header.Get(HeaderProviderAccessToken))
			require.Equal(t, "pr", r.Header.Get(HeaderProviderRefresh))
			_ = json.NewEncoder(w).Encode(MFAEnrollResponse{Success: true, FactorID: "f1"})
		case "/users/u2/deactivate":
			require.Equal(t, "k3y", r.Header.Get(HeaderAPIKey))
			_ = json.NewEncoder(w).Encode(SuccessResponse{Success: true})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	client.APIKey = "k3y"
	session := client.NewSession("jwt")

	out, err := session.EnrollMFA(context.Background(), ProviderSession{AccessToken: "pa", RefreshToken: "pr"}, "phone")
	require.NoError(t, err)
	require.Equal(t, "f1", out.FactorID)

	require.NoError(t, session.DeactivateUser(context.Background(), "u2"))
}

func TestGetReadiness_Degraded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/readyz", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status: "degraded",
			Checks: &HealthChecks{Database: "ok", ChallengeStore: "error: connection refused"},
		})
	})

	health, err := client.GetReadiness(context.Background())
	require.ErrorIs(t, err, ErrNotReady)
	require.Equal(t, "degraded", health.Status)
	require.Equal(t, "error: connection refused", health.Checks.ChallengeStore)
}
