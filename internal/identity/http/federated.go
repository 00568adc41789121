package http

import (
	"net/http"

	"github.com/aussiebroadwan/vaultgate/internal/identity/service"
	"github.com/aussiebroadwan/vaultgate/pkg/authsdk"
	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
)

// FederatedHandler handles the identity provider login endpoints.
type FederatedHandler struct {
	FederatedService *service.FederatedService
	Params           *Params
}

// HandleAuthURL handles POST /federated/auth-url
//
//	@Summary		Start a provider login
//	@Description	Returns the provider authorization URL plus the PKCE verifier and nonce the client must send back with the callback.
//	@Description	The redirect URI resolves from the body, the X-Redirect-Uri header, FEDERATED_REDIRECT_URI, then the configured default.
//	@Tags			Federated
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.AuthURLRequest	false	"Optional redirect URI"
//	@Success		200		{object}	authsdk.AuthURLResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"No redirect URI configured"
//	@Router			/federated/auth-url [post].
func (h *FederatedHandler) HandleAuthURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.AuthURLRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeMalformed(w, "invalid JSON body")
		return
	}

	authReq, err := h.FederatedService.AuthURL(ctx, h.Params.AuthRedirectURI(r, req.RedirectURI))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.AuthURLResponse{
		Success:      true,
		AuthURL:      authReq.AuthURL,
		CodeVerifier: authReq.CodeVerifier,
		Nonce:        authReq.Nonce,
	})
}

// HandleCallback handles POST /federated/callback
//
//	@Summary		Finish a provider login
//	@Description	Exchanges the code, checks eligibility and resolves the account. Unknown accounts get requiresTermsAcceptance with the provider data to send to complete-registration.
//	@Tags			Federated
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.CallbackRequest		true	"Code, verifier and nonce"
//	@Success		200		{object}	authsdk.CallbackResponse	"Token, or terms acceptance required"
//	@Failure		401		{object}	authsdk.MFARequiredResponse	"Login failed, or MFA required"
//	@Failure		403		{object}	authsdk.ErrorResponse		"Identity not eligible"
//	@Failure		503		{object}	authsdk.ErrorResponse		"Identity provider unavailable"
//	@Router			/federated/callback [post].
func (h *FederatedHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.CallbackRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		slogx.FromContext(ctx).Warn("failed to parse request", "err", err)
		writeMalformed(w, "invalid JSON body")
		return
	}

	res, err := h.FederatedService.Callback(ctx, h.callbackInput(r, req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if res.RequiresTermsAcceptance {
		httpx.WriteJSON(w, http.StatusOK, authsdk.CallbackResponse{
			Success:                 true,
			RequiresTermsAcceptance: true,
			UserData:                toProfileResponse(res.Profile),
			SessionData:             toSessionResponse(res.Session),
		})
		return
	}

	user := toUserResponse(res.User, false)
	httpx.WriteJSON(w, http.StatusOK, authsdk.CallbackResponse{
		Success: true,
		Token:   res.Token,
		User:    &user,
		Session: toSessionResponse(res.Session),
	})
}

// HandleCompleteRegistration handles POST /federated/complete-registration
//
//	@Summary		Create the account after terms acceptance
//	@Description	The provider session is validated again and the account is created from the profile the provider reports, not from userData.
//	@Tags			Federated
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.CompleteRegistrationRequest	true	"Session data and terms acceptance"
//	@Success		200		{object}	authsdk.LoginResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"Terms not accepted"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Provider session invalid"
//	@Failure		403		{object}	authsdk.ErrorResponse	"Identity not eligible"
//	@Failure		409		{object}	authsdk.ErrorResponse	"Account already exists"
//	@Router			/federated/complete-registration [post].
func (h *FederatedHandler) HandleCompleteRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.CompleteRegistrationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeMalformed(w, "invalid JSON body")
		return
	}

	session := h.Params.ProviderSession(r, req.SessionData.AccessToken, req.SessionData.RefreshToken)
	res, err := h.FederatedService.CompleteRegistration(ctx, session, req.TermsAccepted)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.LoginResponse{
		Success: true,
		Token:   res.Token,
		User:    toUserResponse(res.User, false),
		Session: toSessionResponse(res.Session),
	})
}

// HandleLinkWallet handles POST /federated/link-wallet
//
//	@Summary		Link a custodial wallet
//	@Description	Runs a fresh provider login for the authenticated user and links the provisioned wallet.
//	@Tags			Federated
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.CallbackRequest		true	"Code, verifier and nonce"
//	@Success		200		{object}	authsdk.LinkWalletResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"Provider login failed"
//	@Failure		409		{object}	authsdk.ErrorResponse	"Wallet already linked"
//	@Failure		503		{object}	authsdk.ErrorResponse	"Wallet service unavailable"
//	@Router			/federated/link-wallet [post].
func (h *FederatedHandler) HandleLinkWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		writeUnauthenticated(w)
		return
	}

	var req authsdk.CallbackRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeMalformed(w, "invalid JSON body")
		return
	}

	address, err := h.FederatedService.LinkWallet(ctx, userID, h.callbackInput(r, req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.LinkWalletResponse{Success: true, WalletAddress: address})
}

func (h *FederatedHandler) callbackInput(r *http.Request, req authsdk.CallbackRequest) service.CallbackInput {
	return service.CallbackInput{
		Code:         req.Code,
		CodeVerifier: req.CodeVerifier,
		Nonce:        req.Nonce,
		RedirectURI:  h.Params.CallbackRedirectURI(r, req.RedirectURI),
	}
}
