package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/challenge"
	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/service"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store"
	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"

	_ "github.com/aussiebroadwan/vaultgate/api/identity" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	authn         *httpx.Authenticator
	metrics       *httpx.Metrics
	globalLimiter *httpx.FixedWindowLimiter
	authLimiter   *httpx.FixedWindowLimiter
	buildVersion  string
	startTime     time.Time
	logger        *slog.Logger

	store      store.Store
	challenges challenge.Store

	Params           *Params
	LoginService     *service.LoginService
	MFAService       *service.MFAService
	FederatedService *service.FederatedService
	UserService      *service.UserService
}

func NewRouter(
	authn *httpx.Authenticator,
	metrics *httpx.Metrics,
	globalLimiter, authLimiter *httpx.FixedWindowLimiter,
	st store.Store,
	challenges challenge.Store,
	buildVersion string,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:           http.NewServeMux(),
		authn:         authn,
		metrics:       metrics,
		globalLimiter: globalLimiter,
		authLimiter:   authLimiter,
		buildVersion:  buildVersion,
		startTime:     time.Now(),
		store:         st,
		challenges:    challenges,
		logger:        logger,
		Params:        &Params{},
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerLogin()
	r.registerMFA()
	r.registerFederated()
	r.registerUsers()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			vaultgate Identity API
//	@version		0.1.0
//	@description	Identity and access control for the investment platform gateway: password and federated login, TOTP MFA with step-up, and user administration.
//	@description
//	@description				Session tokens are HS256 JWTs valid for 24 hours.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/vaultgate
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Session token. Format: "Bearer {token}".
//
//	@securityDefinitions.apikey	APIKeyAuth
//	@in							header
//	@name						X-API-Key
//	@description				Static service API key.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// handle registers h under pattern. Every route is instrumented with the
// pattern as its label.
func (r *Router) handle(pattern string, h http.Handler, mws ...httpx.Middleware) {
	chain := append([]httpx.Middleware{r.metrics.Instrument(pattern)}, mws...)
	r.Mux.Handle(pattern, httpx.Chain(h, chain...))
}

// limitGlobal applies the gateway-wide limiter by client IP.
func (r *Router) limitGlobal() httpx.Middleware {
	return httpx.RateLimitMiddleware(r.globalLimiter, httpx.IPKeyExtractor, r.metrics.RateLimitHook("global"))
}

// limitAuth applies the stricter limiter of credential-accepting endpoints.
func (r *Router) limitAuth() httpx.Middleware {
	return httpx.RateLimitMiddleware(r.authLimiter, httpx.IPKeyExtractor, r.metrics.RateLimitHook("auth"))
}

// limitStepUp shares the auth limiter but keys it by caller and user, so
// one account cannot spread code guesses over many addresses.
func (r *Router) limitStepUp() httpx.Middleware {
	key := httpx.CompositeKeyExtractor("|", httpx.UserIDKeyExtractor, httpx.IPKeyExtractor)
	return httpx.RateLimitMiddleware(r.authLimiter, key, r.metrics.RateLimitHook("step_up"))
}

func (r *Router) registerLogin() {
	h := &LoginHandler{LoginService: r.LoginService}

	// POST /login - strict rate limit by IP (password guessing)
	r.handle("POST /login", h,
		r.limitGlobal(),
		r.limitAuth(),
	)
}

func (r *Router) registerMFA() {
	h := &MFAHandler{
		MFAService: r.MFAService,
		Params:     r.Params,
	}
	bearer := r.authn.Middleware(httpx.AuthBearerOnly)

	// POST /mfa/login-verify - public, the caller has no token yet
	r.handle("POST /mfa/login-verify", http.HandlerFunc(h.HandleLoginVerify),
		r.limitGlobal(),
		r.limitAuth(),
	)

	r.handle("POST /mfa/enroll", http.HandlerFunc(h.HandleEnroll), r.limitGlobal(), bearer)
	r.handle("POST /mfa/unenroll", http.HandlerFunc(h.HandleUnenroll), r.limitGlobal(), bearer)
	r.handle("POST /mfa/challenge", http.HandlerFunc(h.HandleChallenge), r.limitGlobal(), bearer)
	r.handle("POST /mfa/verify", http.HandlerFunc(h.HandleVerify), r.limitGlobal(), bearer, r.limitStepUp())

	r.handle("GET /mfa/enabled", http.HandlerFunc(h.HandleEnabled), r.limitGlobal(), bearer)
	r.handle("GET /mfa/status", http.HandlerFunc(h.HandleStatus), r.limitGlobal(), bearer)
	r.handle("GET /mfa/factors", http.HandlerFunc(h.HandleFactors), r.limitGlobal(), bearer)
}

func (r *Router) registerFederated() {
	h := &FederatedHandler{
		FederatedService: r.FederatedService,
		Params:           r.Params,
	}

	r.handle("POST /federated/auth-url", http.HandlerFunc(h.HandleAuthURL), r.limitGlobal())

	// Callback and registration accept provider credentials
	r.handle("POST /federated/callback", http.HandlerFunc(h.HandleCallback),
		r.limitGlobal(),
		r.limitAuth(),
	)
	r.handle("POST /federated/complete-registration", http.HandlerFunc(h.HandleCompleteRegistration),
		r.limitGlobal(),
		r.limitAuth(),
	)

	r.handle("POST /federated/link-wallet", http.HandlerFunc(h.HandleLinkWallet),
		r.limitGlobal(),
		r.authn.Middleware(httpx.AuthBearerOnly),
	)
}

func (r *Router) registerUsers() {
	h := &UsersHandler{
		UserService: r.UserService,
		MFAService:  r.MFAService,
	}

	r.handle("GET /me", http.HandlerFunc(h.HandleMe),
		r.limitGlobal(),
		r.authn.Middleware(httpx.AuthBearerOnly),
	)

	// POST /users - root and admin only
	r.handle("POST /users", http.HandlerFunc(h.HandleCreate),
		r.limitGlobal(),
		r.authn.Middleware(httpx.AuthBearerOnly),
		httpx.RequireRole(domain.RoleNames(domain.RoleRoot, domain.RoleAdmin)...),
	)

	// GET /users/{id} - services with the API key, or users with a bearer token
	r.handle("GET /users/{id}", http.HandlerFunc(h.HandleGet),
		r.limitGlobal(),
		r.authn.Middleware(httpx.AuthBearerOrAPIKey),
	)

	// POST /users/{id}/deactivate - privileged mutation, needs both credentials
	r.handle("POST /users/{id}/deactivate", http.HandlerFunc(h.HandleDeactivate),
		r.limitGlobal(),
		r.authn.Middleware(httpx.AuthBearerAndAPIKey),
		httpx.RequireRole(domain.RoleNames(domain.RoleRoot)...),
	)
}

func (r *Router) registerSystem() {
	// Health and metrics endpoints are not rate limited (monitoring systems poll frequently)
	r.handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.challenges))
	r.Mux.Handle("GET /metrics", r.metrics.Handler())
}
