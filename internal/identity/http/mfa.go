package http

import (
	"net/http"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/service"
	"github.com/aussiebroadwan/vaultgate/pkg/authsdk"
	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
)

// MFAHandler handles all MFA-related endpoints.
type MFAHandler struct {
	MFAService *service.MFAService
	Params     *Params
}

// HandleEnroll handles POST /mfa/enroll
//
//	@Summary		Enroll a TOTP factor
//	@Description	Requires a live provider session in the body or the X-Provider-Access-Token and X-Provider-Refresh-Token headers. The secret is shown once.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.MFAEnrollRequest	false	"Provider session and factor name"
//	@Success		200		{object}	authsdk.MFAEnrollResponse	"TOTP secret and QR code"
//	@Failure		401		{object}	authsdk.ErrorResponse		"Invalid bearer token or provider session"
//	@Failure		409		{object}	authsdk.ErrorResponse		"Concurrent enrollment"
//	@Failure		503		{object}	authsdk.ErrorResponse		"Identity provider unavailable"
//	@Router			/mfa/enroll [post].
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		writeUnauthenticated(w)
		return
	}

	var req authsdk.MFAEnrollRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		slogx.FromContext(ctx).Warn("failed to parse request", "err", err)
		writeMalformed(w, "invalid JSON body")
		return
	}

	session := h.Params.ProviderSession(r, req.AccessToken, req.RefreshToken)
	enrollment, err := h.MFAService.Enroll(ctx, userID, session, req.FriendlyName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.MFAEnrollResponse{
		Success:      true,
		FactorID:     enrollment.FactorID,
		Type:         enrollment.FactorType,
		FriendlyName: enrollment.FriendlyName,
		Secret:       enrollment.Secret,
		URI:          enrollment.URI,
		QRCode:       enrollment.QRCode,
	})
}

// HandleUnenroll handles POST /mfa/unenroll
//
//	@Summary		Remove a factor
//	@Description	Removes factorId, or the active factor when omitted. Requires a live provider session.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.MFAUnenrollRequest	false	"Provider session and factor"
//	@Success		200		{object}	authsdk.SuccessResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid bearer token or provider session"
//	@Failure		404		{object}	authsdk.ErrorResponse	"No such factor"
//	@Router			/mfa/unenroll [post].
func (h *MFAHandler) HandleUnenroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		writeUnauthenticated(w)
		return
	}

	var req authsdk.MFAUnenrollRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeMalformed(w, "invalid JSON body")
		return
	}

	session := h.Params.ProviderSession(r, req.AccessToken, req.RefreshToken)
	if err := h.MFAService.Unenroll(ctx, userID, session, req.FactorID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.SuccessResponse{Success: true})
}

// HandleLoginVerify handles POST /mfa/login-verify
//
//	@Summary		Complete an MFA login
//	@Description	Verifies the TOTP code of a login stopped by the MFA gate and issues the session token. Provider tokens, when given, are echoed back.
//	@Tags			MFA
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.MFALoginVerifyRequest	true	"User and code"
//	@Success		200		{object}	authsdk.LoginResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"Malformed request or MFA not enabled"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid code"
//	@Failure		429		{object}	authsdk.ErrorResponse	"Too many failed attempts"
//	@Router			/mfa/login-verify [post].
func (h *MFAHandler) HandleLoginVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.MFALoginVerifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeMalformed(w, "invalid JSON body")
		return
	}

	var session *domain.ProviderSession
	if s := h.Params.ProviderSession(r, req.AccessToken, req.RefreshToken); !s.Empty() {
		session = &s
	}

	res, err := h.MFAService.LoginVerify(ctx, req.UserID, req.Code, session)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.LoginResponse{
		Success: true,
		Token:   res.Token,
		User:    toUserResponse(res.User, true),
		Session: toSessionResponse(res.Session),
	})
}

// HandleChallenge handles POST /mfa/challenge
//
//	@Summary		Start a step-up challenge
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.MFAChallengeRequest		false	"Provider session and factor"
//	@Success		200		{object}	authsdk.MFAChallengeResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid bearer token or provider session"
//	@Failure		404		{object}	authsdk.ErrorResponse	"No active factor"
//	@Router			/mfa/challenge [post].
func (h *MFAHandler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		writeUnauthenticated(w)
		return
	}

	var req authsdk.MFAChallengeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeMalformed(w, "invalid JSON body")
		return
	}

	session := h.Params.ProviderSession(r, req.AccessToken, req.RefreshToken)
	c, err := h.MFAService.Challenge(ctx, userID, session, req.FactorID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.MFAChallengeResponse{
		Success:     true,
		ChallengeID: c.ID,
		FactorID:    c.FactorID,
		ExpiresAt:   c.ExpiresAt,
	})
}

// HandleVerify handles POST /mfa/verify
//
//	@Summary		Answer a step-up challenge
//	@Description	Raises the caller to AAL2. No new session token is issued.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.MFAVerifyRequest	true	"Challenge and code"
//	@Success		200		{object}	authsdk.MFAVerifyResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid code or provider session"
//	@Failure		404		{object}	authsdk.ErrorResponse	"Challenge not found or expired"
//	@Failure		429		{object}	authsdk.ErrorResponse	"Too many failed attempts"
//	@Router			/mfa/verify [post].
func (h *MFAHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		writeUnauthenticated(w)
		return
	}

	var req authsdk.MFAVerifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeMalformed(w, "invalid JSON body")
		return
	}

	session := h.Params.ProviderSession(r, req.AccessToken, req.RefreshToken)
	if err := h.MFAService.Verify(ctx, userID, session, req.FactorID, req.ChallengeID, req.Code); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.MFAVerifyResponse{Success: true, AAL: domain.AAL2})
}

// HandleEnabled handles GET /mfa/enabled
//
//	@Summary	Is MFA enabled
//	@Tags		MFA
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	authsdk.MFAEnabledResponse
//	@Router		/mfa/enabled [get].
func (h *MFAHandler) HandleEnabled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	enabled, err := h.MFAService.Enabled(ctx, httpx.UserIDFromContext(ctx))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.MFAEnabledResponse{Enabled: enabled})
}

// HandleStatus handles GET /mfa/status
//
//	@Summary	MFA status
//	@Tags		MFA
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	authsdk.MFAStatusResponse
//	@Router		/mfa/status [get].
func (h *MFAHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.MFAService.Status(ctx, httpx.UserIDFromContext(ctx))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := authsdk.MFAStatusResponse{Enabled: status.Enabled}
	if f := status.Factor; f != nil {
		resp.FactorID = f.ID
		resp.FactorType = f.FactorType
		resp.FriendlyName = f.FriendlyName
		resp.EnrolledAt = &f.EnrolledAt
		resp.LastUsedAt = f.LastUsedAt
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleFactors handles GET /mfa/factors
//
//	@Summary	List enrolled factors
//	@Tags		MFA
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	authsdk.MFAFactorsResponse
//	@Router		/mfa/factors [get].
func (h *MFAHandler) HandleFactors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	factors, err := h.MFAService.Factors(ctx, httpx.UserIDFromContext(ctx))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := authsdk.MFAFactorsResponse{Factors: make([]authsdk.MFAFactor, 0, len(factors))}
	for _, f := range factors {
		resp.Factors = append(resp.Factors, toFactorResponse(f))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
