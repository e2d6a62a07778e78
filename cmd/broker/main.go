package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sage-secrets-broker/internal/config"
	"github.com/sage-secrets-broker/internal/handler"
	"github.com/sage-secrets-broker/internal/middleware"
	"github.com/sage-secrets-broker/internal/service"
	"github.com/sage-secrets-broker/internal/store"
	"github.com/sage-secrets-broker/migrations"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("broker exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		st      store.Store
		backend string
	)
	if cfg.UseMemoryStore() {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store; data will not survive a restart")
		st = store.NewMemory()
		backend = "memory"
	} else {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("pinging database: %w", err)
		}
		st = store.NewPostgres(pool)
		backend = "postgres"
	}

	masterKey, err := service.LoadMasterKey(ctx, st, cfg.MasterPassphrase)
	if err != nil {
		return fmt.Errorf("deriving master key: %w", err)
	}

	audit := service.NewAuditLog(st)
	vault := service.NewVault(st, masterKey, audit)
	grants := service.NewGrantRegistry(st, vault, audit)
	policy := service.NewPolicyEngine(st)
	proxy := service.NewProxyEngine(grants, policy, vault, audit, cfg.ProxyTimeout, cfg.MaxProxyBodyBytes)

	go sweepExpiredGrants(ctx, grants)

	authLimiter := middleware.NewAuthAttemptLimiter(cfg.AuthMaxFailures, cfg.AuthFailureWindow, cfg.AuthBlockDuration)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireJSON)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", middleware.PrincipalHeader},
			MaxAge:         300,
		}))
	}

	r.Method(http.MethodGet, "/health", handler.NewHealthHandler(st, backend))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.PrincipalAuth(authLimiter))

		r.Method(http.MethodPost, "/credentials", handler.NewRegisterCredentialHandler(vault))
		r.Method(http.MethodGet, "/credentials", handler.NewListCredentialsHandler(vault))
		r.Method(http.MethodPost, "/credentials/{id}/rotate", handler.NewRotateCredentialHandler(vault))
		r.Method(http.MethodDelete, "/credentials/{id}", handler.NewRevokeCredentialHandler(vault))

		r.Method(http.MethodPost, "/grants", handler.NewCreateGrantHandler(grants))
		r.Method(http.MethodGet, "/grants", handler.NewListGrantsHandler(grants))
		r.Method(http.MethodDelete, "/grants/{id}", handler.NewRevokeGrantHandler(grants))

		r.Method(http.MethodPost, "/proxy", handler.NewProxyHandler(proxy, cfg.MaxProxyBodyBytes))

		r.Method(http.MethodGet, "/usage", handler.NewUsageHandler(policy))
		r.Method(http.MethodGet, "/logs", handler.NewLogsHandler(audit))
		r.Method(http.MethodGet, "/logs/integrity", handler.NewIntegrityHandler(audit))
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("backend", backend).Msg("broker listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMigrations(databaseURL string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		db.Close()
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		db.Close()
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	log.Info().Msg("migrations applied")
	return nil
}

// sweepExpiredGrants periodically flips lazily-expired grants inactive.
// Authorization correctness never depends on this; it keeps listings and
// counts tidy.
func sweepExpiredGrants(ctx context.Context, grants *service.GrantRegistry) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := grants.CleanupExpired(ctx); err != nil {
				log.Error().Err(err).Msg("grant sweep failed")
			}
		}
	}
}
