package http

import (
	"net/http"

	"github.com/aussiebroadwan/vaultgate/internal/identity/service"
	"github.com/aussiebroadwan/vaultgate/pkg/authsdk"
	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
)

// LoginHandler handles POST /login.
type LoginHandler struct {
	LoginService *service.LoginService
}

// ServeHTTP godoc
//
//	@Summary		Password login
//	@Description	Verifies email and password. Users with an active second factor get 401 with mfaRequired instead of a token.
//	@Tags			Login
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LoginRequest		true	"Credentials"
//	@Success		200		{object}	authsdk.LoginResponse		"Session token"
//	@Failure		400		{object}	authsdk.ErrorResponse		"Malformed request"
//	@Failure		401		{object}	authsdk.MFARequiredResponse	"Invalid credentials, or MFA required"
//	@Failure		429		{object}	authsdk.ErrorResponse		"Rate limited"
//	@Router			/login [post].
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		slogx.FromContext(ctx).Warn("failed to parse request", "err", err)
		writeMalformed(w, "invalid JSON body")
		return
	}

	res, err := h.LoginService.Login(ctx, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.LoginResponse{
		Success: true,
		Token:   res.Token,
		User:    toUserResponse(res.User, false),
	})
}
