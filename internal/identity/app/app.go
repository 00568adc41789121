package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/challenge"
	httpapi "github.com/aussiebroadwan/vaultgate/internal/identity/http"
	"github.com/aussiebroadwan/vaultgate/internal/identity/idp"
	"github.com/aussiebroadwan/vaultgate/internal/identity/service"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store/drivers/sqlite"
	"github.com/aussiebroadwan/vaultgate/internal/identity/wallet"
	"github.com/aussiebroadwan/vaultgate/pkg/cryptox"
	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
	"github.com/aussiebroadwan/vaultgate/pkg/jwtx"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the identity service with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db         *sqlite.Store
	redis      *redis.Client // nil when challenges are kept in memory
	challenges challenge.Store
	codec      *jwtx.Codec
	hasher     *cryptox.PasswordHasher
	provider   *idp.OIDCProvider
	wallets    wallet.Provisioner

	globalLimiter *httpx.FixedWindowLimiter
	authLimiter   *httpx.FixedWindowLimiter
	metrics       *httpx.Metrics

	// Services
	loginService        *service.LoginService
	mfaService          *service.MFAService
	federatedService    *service.FederatedService
	userService         *service.UserService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "identity-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initChallenges(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initDependencies(); err != nil {
		app.closeStores()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	if err := app.userService.EnsureRoot(context.Background(), cfg.RootEmail, cfg.RootPassword); err != nil {
		app.closeStores()
		return nil, fmt.Errorf("failed to seed root user: %w", err)
	}

	return app, nil
}

// Handler returns the fully wired HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.router
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("identity service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		app.housekeepingService.Stop()
		app.closeStores()
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down identity service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("identity service stopped")
	return nil
}

// Close releases the stores of an Application that was never Run.
func (app *Application) Close() error {
	return app.closeStores()
}

func (app *Application) closeStores() error {
	if app.provider != nil {
		app.provider.Close()
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	version, err := db.ApplyMigrations()
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied", "schema_version", version)
	return nil
}

// initChallenges selects Redis when REDIS_URL is set and the in-memory
// store otherwise.
func (app *Application) initChallenges() error {
	if app.cfg.RedisURL == "" {
		app.challenges = challenge.NewMemoryStore(app.cfg.Lockout)
		app.logger.Warn("REDIS_URL not set, MFA challenges are kept in memory")
		return nil
	}

	opts, err := redis.ParseURL(app.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	app.redis = redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.redis.Ping(ctx).Err(); err != nil {
		_ = app.redis.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	app.challenges = challenge.NewRedisStore(app.redis, app.cfg.Lockout)
	app.logger.Info("redis challenge store connected", "addr", opts.Addr)
	return nil
}

func (app *Application) initDependencies() error {
	pepper, err := cryptox.LoadOrCreatePepper(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}
	app.hasher = cryptox.NewPasswordHasher(pepper)

	app.codec, err = jwtx.NewCodec([]byte(app.cfg.JWTSecret), app.cfg.JWTIssuer)
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}

	app.provider, err = idp.NewOIDCProvider(idp.Config{
		ClientID:          app.cfg.IdPClientID,
		ClientSecret:      app.cfg.IdPClientSecret,
		Issuer:            app.cfg.IdPIssuer,
		AuthURL:           app.cfg.IdPAuthURL,
		TokenURL:          app.cfg.IdPTokenURL,
		UserInfoURL:       app.cfg.IdPUserInfoURL,
		JWKSURL:           app.cfg.IdPJWKSURL,
		LookupURL:         app.cfg.IdPLookupURL,
		Timeout:           app.cfg.UpstreamTimeout,
		RequestsPerSecond: app.cfg.UpstreamRPS,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}

	if app.cfg.WalletURL == "" {
		app.logger.Warn("WALLET_SERVICE_URL not set, wallet provisioning disabled")
	} else {
		client, err := wallet.NewClient(wallet.Config{
			BaseURL:           app.cfg.WalletURL,
			APIKey:            app.cfg.WalletAPIKey,
			Timeout:           app.cfg.UpstreamTimeout,
			RequestsPerSecond: app.cfg.UpstreamRPS,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize wallet client: %w", err)
		}
		app.wallets = client
	}

	app.globalLimiter = httpx.NewFixedWindowLimiter(app.cfg.GlobalRateLimit)
	app.authLimiter = httpx.NewFixedWindowLimiter(app.cfg.AuthRateLimit)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = httpx.NewMetrics("vaultgate", reg)

	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.mfaService = &service.MFAService{
		Store: app.db,
		Authority: &service.TOTPAuthority{
			Store:      app.db,
			Challenges: app.challenges,
			Issuer:     app.cfg.JWTIssuer,
		},
		Attempts: app.challenges,
		Provider: app.provider,
		Tokens:   app.codec,
	}
	app.loginService = &service.LoginService{
		Store:  app.db,
		Hasher: app.hasher,
		Tokens: app.codec,
		MFA:    app.mfaService,
	}
	app.federatedService = &service.FederatedService{
		Store:     app.db,
		Provider:  app.provider,
		Wallets:   app.wallets,
		Tokens:    app.codec,
		MFA:       app.mfaService,
		PortalURL: app.cfg.IdPPortalURL,
	}
	app.userService = &service.UserService{Store: app.db, Hasher: app.hasher}

	sweepers := []service.Sweeper{app.globalLimiter, app.authLimiter}
	if mem, ok := app.challenges.(*challenge.MemoryStore); ok {
		sweepers = append(sweepers, mem)
	}
	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		sweepers...,
	)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		httpx.NewAuthenticator(app.codec, app.cfg.APIKey),
		app.metrics,
		app.globalLimiter,
		app.authLimiter,
		app.db,
		app.challenges,
		BuildVersion,
		app.logger,
	)

	// Wire services to router
	router.Params = &httpapi.Params{DefaultRedirectURI: app.cfg.DefaultRedirectURI}
	router.LoginService = app.loginService
	router.MFAService = app.mfaService
	router.FederatedService = app.federatedService
	router.UserService = app.userService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
