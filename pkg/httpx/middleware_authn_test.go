package httpx_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
	"github.com/aussiebroadwan/vaultgate/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "svc-key-0123456789"

func newCodec(t *testing.T) *jwtx.Codec {
	t.Helper()
	c, err := jwtx.NewCodec([]byte("0123456789abcdef0123456789abcdef"), "vaultgate")
	require.NoError(t, err)
	return c
}

// echoPrincipal writes the principal attached by the middleware.
var echoPrincipal = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"sub":    p.Subject,
		"role":   p.Role,
		"method": p.Method,
		"apiKey": p.APIKey,
	})
})

func serve(h http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestParseBearer(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Bearer a b", "", false},
		{"Bearer  abc", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
	}

	for _, tc := range cases {
		token, ok := httpx.ParseBearer(tc.header)
		require.Equal(t, tc.ok, ok, "header %q", tc.header)
		require.Equal(t, tc.token, token, "header %q", tc.header)
	}
}

func TestAuthenticator(t *testing.T) {
	codec := newCodec(t)
	token, err := codec.Issue("u1", "a@x.com", "admin")
	require.NoError(t, err)

	auth := httpx.NewAuthenticator(codec, testAPIKey)

	t.Run("bearer or api key", func(t *testing.T) {
		h := auth.Middleware(httpx.AuthBearerOrAPIKey)(echoPrincipal)

		rec := serve(h, map[string]string{"Authorization": "Bearer " + token})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		require.Equal(t, "u1", body["sub"])
		require.Equal(t, "admin", body["role"])
		require.Equal(t, httpx.MethodBearer, body["method"])

		rec = serve(h, map[string]string{httpx.HeaderAPIKey: testAPIKey})
		require.Equal(t, http.StatusOK, rec.Code)
		body = decodeBody(t, rec)
		require.Equal(t, httpx.MethodAPIKey, body["method"])
		require.Equal(t, "", body["role"])

		rec = serve(h, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "missing_credentials", decodeBody(t, rec)["code"])
	})

	t.Run("bearer takes precedence over api key", func(t *testing.T) {
		h := auth.Middleware(httpx.AuthBearerOrAPIKey)(echoPrincipal)

		rec := serve(h, map[string]string{
			"Authorization":    "Bearer garbage",
			httpx.HeaderAPIKey: testAPIKey,
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "invalid_token", decodeBody(t, rec)["code"])
	})

	t.Run("malformed bearer header", func(t *testing.T) {
		h := auth.Middleware(httpx.AuthBearerOnly)(echoPrincipal)

		for _, header := range []string{"Token " + token, "Bearer", "Bearer " + token + " extra"} {
			rec := serve(h, map[string]string{"Authorization": header})
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			body := decodeBody(t, rec)
			require.Equal(t, httpx.KindAuthenticationFailure, body["error"])
			require.Equal(t, "malformed_credential", body["code"])
			require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
		}
	})

	t.Run("bearer only rejects api key", func(t *testing.T) {
		h := auth.Middleware(httpx.AuthBearerOnly)(echoPrincipal)

		rec := serve(h, map[string]string{httpx.HeaderAPIKey: testAPIKey})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("api key only rejects bearer", func(t *testing.T) {
		h := auth.Middleware(httpx.AuthAPIKeyOnly)(echoPrincipal)

		rec := serve(h, map[string]string{"Authorization": "Bearer " + token})
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = serve(h, map[string]string{httpx.HeaderAPIKey: "wrong"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "invalid_api_key", decodeBody(t, rec)["code"])

		rec = serve(h, map[string]string{httpx.HeaderAPIKey: testAPIKey})
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bearer and api key", func(t *testing.T) {
		h := auth.Middleware(httpx.AuthBearerAndAPIKey)(echoPrincipal)

		rec := serve(h, map[string]string{"Authorization": "Bearer " + token})
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = serve(h, map[string]string{httpx.HeaderAPIKey: testAPIKey})
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = serve(h, map[string]string{
			"Authorization":    "Bearer " + token,
			httpx.HeaderAPIKey: "wrong",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = serve(h, map[string]string{
			"Authorization":    "Bearer " + token,
			httpx.HeaderAPIKey: testAPIKey,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		require.Equal(t, "u1", body["sub"])
		require.Equal(t, true, body["apiKey"])
	})

	t.Run("no configured key rejects every key", func(t *testing.T) {
		h := httpx.NewAuthenticator(codec, "").Middleware(httpx.AuthAPIKeyOnly)(echoPrincipal)

		rec := serve(h, map[string]string{httpx.HeaderAPIKey: ""})
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = serve(h, map[string]string{httpx.HeaderAPIKey: "anything"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	codec := newCodec(t)
	auth := httpx.NewAuthenticator(codec, testAPIKey)

	issue := func(role string) string {
		tok, err := codec.Issue("u1", "a@x.com", role)
		require.NoError(t, err)
		return "Bearer " + tok
	}

	h := httpx.Chain(echoPrincipal,
		auth.Middleware(httpx.AuthBearerOrAPIKey),
		httpx.RequireRole("root", "admin"),
	)

	rec := serve(h, map[string]string{"Authorization": issue("admin")})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, map[string]string{"Authorization": issue("investor")})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "role_not_permitted", decodeBody(t, rec)["code"])

	rec = serve(h, map[string]string{httpx.HeaderAPIKey: testAPIKey})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "missing_role", decodeBody(t, rec)["code"])

	rec = serve(httpx.RequireRole("root")(echoPrincipal), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("a"), mw("b"))

	serve(h, nil)
	require.Equal(t, []string{"a", "b", "handler"}, order)
}
