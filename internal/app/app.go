// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirenhq/sos-dispatch/internal/alerts"
	alertspostgres "github.com/sirenhq/sos-dispatch/internal/alerts/postgres"
	"github.com/sirenhq/sos-dispatch/internal/broadcast"
	"github.com/sirenhq/sos-dispatch/internal/config"
	"github.com/sirenhq/sos-dispatch/internal/directory"
	directorypostgres "github.com/sirenhq/sos-dispatch/internal/directory/postgres"
	"github.com/sirenhq/sos-dispatch/internal/domain"
	"github.com/sirenhq/sos-dispatch/internal/gateway"
	"github.com/sirenhq/sos-dispatch/internal/gateway/email"
	"github.com/sirenhq/sos-dispatch/internal/gateway/push"
	"github.com/sirenhq/sos-dispatch/internal/gateway/sms"
	"github.com/sirenhq/sos-dispatch/internal/geoindex"
	"github.com/sirenhq/sos-dispatch/internal/identity"
	"github.com/sirenhq/sos-dispatch/internal/pkg/ctxlog"
	"github.com/sirenhq/sos-dispatch/internal/pkg/httputil"
	"github.com/sirenhq/sos-dispatch/internal/pkg/metrics"
	"github.com/sirenhq/sos-dispatch/internal/pkg/postgres"
	"github.com/sirenhq/sos-dispatch/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	geo           *geoindex.Index
	hub           *broadcast.Hub
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	geo, err := geoindex.New(connectCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to geo index: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		geo:           geo,
		hub:           broadcast.NewHub(),
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, err := app.setupRouter()
	if err != nil {
		db.Close()
		_ = geo.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()
	a.hub.Close()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()
	if err := a.geo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close geo index: %w", err))
	}

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) setupRouter() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	smsSender, err := sms.NewSender(sms.Config{
		Enabled:   a.config.Notifications.SMS.Enabled,
		APIURL:    a.config.Notifications.SMS.APIURL,
		APIKey:    a.config.Notifications.SMS.APIKey,
		From:      a.config.Notifications.SMS.From,
		RateLimit: a.config.Notifications.SMS.RateLimit,
		Timeout:   a.config.Notifications.SMS.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create sms sender: %w", err)
	}
	if !a.config.Notifications.SMS.Enabled {
		slog.Warn("sms sender is disabled: sms notifications will not be sent")
	}

	emailSender, err := email.NewSender(email.Config{
		Enabled:      a.config.Notifications.Email.Enabled,
		SMTPHost:     a.config.Notifications.Email.SMTPHost,
		SMTPPort:     a.config.Notifications.Email.SMTPPort,
		SMTPUser:     a.config.Notifications.Email.SMTPUser,
		SMTPPassword: a.config.Notifications.Email.SMTPPassword,
		FromAddress:  a.config.Notifications.Email.FromAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}
	if !a.config.Notifications.Email.Enabled {
		slog.Warn("email sender is disabled: email notifications will not be sent")
	}

	pushSender, err := push.NewSender(push.Config{
		Enabled:    a.config.Notifications.Push.Enabled,
		WebhookURL: a.config.Notifications.Push.WebhookURL,
		Timeout:    a.config.Notifications.Push.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create push sender: %w", err)
	}
	if !a.config.Notifications.Push.Enabled {
		slog.Warn("push sender is disabled: services and contacts will not receive push notifications")
	}

	notificationGateway := gateway.New(smsSender, emailSender, pushSender)

	tokenValidator := identity.NewValidator(a.config.JWT.SecretKey)

	alertsRepo := alertspostgres.NewRepository(a.db)
	contactsRepo := directorypostgres.NewRepository(a.db)

	dispatcher := alerts.NewDispatcher(alertsRepo, a.geo, notificationGateway, contactsRepo, a.hub, alerts.DispatchSettings{
		RadiusMeters:  a.config.Dispatch.RadiusMeters,
		MaxServices:   a.config.Dispatch.MaxServices,
		FanoutTimeout: a.config.Dispatch.FanoutTimeout,
		WaitForFanout: a.config.Dispatch.WaitForFanout,
	})
	alertsService := alerts.NewService(alertsRepo, a.geo, a.hub)
	alertsHandler := alerts.NewHandler(dispatcher, alertsService, a.config.Dispatch.RadiusMeters)

	directoryHandler := directory.NewHandler(a.geo)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(tokenValidator))

			r.Route("/alerts", alertsHandler.RegisterRoutes)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleAdmin))
				r.Route("/directory", directoryHandler.RegisterRoutes)
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(tokenValidator))
		r.Use(httputil.RequireRole(domain.RoleOperator))
		r.Get("/ws/alerts", a.hub.ServeWS)
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	if err := a.geo.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Geo index unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
