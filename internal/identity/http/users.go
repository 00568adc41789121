package http

import (
	"net/http"
	"slices"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/service"
	"github.com/aussiebroadwan/vaultgate/pkg/authsdk"
	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
)

var staffRoles = []domain.Role{domain.RoleRoot, domain.RoleAdmin, domain.RoleSupport}

// UsersHandler serves profile and user administration endpoints.
type UsersHandler struct {
	UserService *service.UserService
	MFAService  *service.MFAService
}

// HandleMe handles GET /me
//
//	@Summary	Current user
//	@Tags		Users
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	authsdk.UserResponse
//	@Failure	401	{object}	authsdk.ErrorResponse
//	@Router		/me [get].
func (h *UsersHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, httpx.UserIDFromContext(r.Context()))
}

// HandleGet handles GET /users/{id}
//
//	@Summary		Look up a user
//	@Description	API-key callers may read any user. Bearer callers may read themselves, staff roles may read anyone.
//	@Tags			Users
//	@Security		BearerAuth
//	@Security		APIKeyAuth
//	@Produce		json
//	@Param			id	path		string	true	"User ID"
//	@Success		200	{object}	authsdk.UserResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Failure		403	{object}	authsdk.ErrorResponse
//	@Failure		404	{object}	authsdk.ErrorResponse
//	@Router			/users/{id} [get].
func (h *UsersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	p, _ := httpx.PrincipalFromContext(r.Context())
	if p.Method == httpx.MethodBearer && p.Subject != userID && !slices.Contains(staffRoles, domain.Role(p.Role)) {
		httpx.WriteError(w, http.StatusForbidden, httpx.KindAuthorizationFailure, "role_not_permitted", "role not permitted")
		return
	}

	h.writeUser(w, r, userID)
}

// HandleCreate handles POST /users
//
//	@Summary		Create a password user
//	@Description	Root may create any role except root. Admin may create support and investor users.
//	@Tags			Users
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.CreateUserRequest	true	"New user"
//	@Success		201		{object}	authsdk.UserResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"Invalid email or password too short"
//	@Failure		403		{object}	authsdk.ErrorResponse	"Role not permitted"
//	@Failure		409		{object}	authsdk.ErrorResponse	"Email already registered"
//	@Router			/users [post].
func (h *UsersHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, ok := httpx.PrincipalFromContext(ctx)
	if !ok {
		writeUnauthenticated(w)
		return
	}

	var req authsdk.CreateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeMalformed(w, "invalid JSON body")
		return
	}

	user, err := h.UserService.CreateUser(ctx, domain.Role(p.Role), service.CreateUserInput{
		Email:       req.Email,
		Password:    req.Password,
		Role:        domain.Role(req.Role),
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, toUserResponse(user, false))
}

// HandleDeactivate handles POST /users/{id}/deactivate
//
//	@Summary		Deactivate a user
//	@Description	Soft deletion. Requires a root bearer token and the API key on the same request.
//	@Tags			Users
//	@Security		BearerAuth
//	@Security		APIKeyAuth
//	@Produce		json
//	@Param			id	path		string	true	"User ID"
//	@Success		200	{object}	authsdk.SuccessResponse
//	@Failure		403	{object}	authsdk.ErrorResponse
//	@Failure		404	{object}	authsdk.ErrorResponse
//	@Router			/users/{id}/deactivate [post].
func (h *UsersHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.UserService.Deactivate(ctx, httpx.UserIDFromContext(ctx), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.SuccessResponse{Success: true})
}

func (h *UsersHandler) writeUser(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()

	user, err := h.UserService.GetUserByID(ctx, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_, mfaEnabled, err := h.MFAService.RequiredFactor(ctx, user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(user, mfaEnabled))
}
