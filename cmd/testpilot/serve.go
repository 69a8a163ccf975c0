package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/testpilot/internal/api"
	"github.com/jordanhubbard/testpilot/internal/auth"
	internalconfig "github.com/jordanhubbard/testpilot/internal/config"
	"github.com/jordanhubbard/testpilot/internal/github"
	"github.com/jordanhubbard/testpilot/internal/logging"
	"github.com/jordanhubbard/testpilot/internal/messagebus"
	"github.com/jordanhubbard/testpilot/internal/metrics"
	"github.com/jordanhubbard/testpilot/internal/session"
	"github.com/jordanhubbard/testpilot/internal/telemetry"
	"github.com/jordanhubbard/testpilot/internal/workflow"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			secret, err := internalconfig.ClientSecret(cfg.GitHub.ClientSecret)
			if err != nil {
				return err
			}
			cfg.GitHub.ClientSecret = secret

			logs := logging.NewManager(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
			logger := logs.Logger()
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, version, prometheus.DefaultRegisterer)
			if err != nil {
				logger.Warn("Failed to initialize telemetry", "error", err)
			} else {
				defer func() {
					if err := shutdownTelemetry(context.Background()); err != nil {
						logger.Warn("Error shutting down telemetry", "error", err)
					}
				}()
			}
			instruments, err := telemetry.NewInstruments()
			if err != nil {
				logger.Warn("Failed to create telemetry instruments", "error", err)
			}
			m := metrics.NewMetrics()

			store, err := session.New(ctx, session.Config{
				Backend:  cfg.Session.Backend,
				RedisURL: cfg.Session.RedisURL,
				TTL:      cfg.Session.MaxAge,
			})
			if err != nil {
				return fmt.Errorf("session store: %w", err)
			}
			defer store.Close()

			checks := map[string]api.HealthCheck{}
			if rs, ok := store.(*session.RedisStore); ok {
				checks["redis"] = rs.Ping
			}

			var publisher messagebus.Publisher = messagebus.NopPublisher{}
			if cfg.Messaging.Enabled {
				mb, err := messagebus.NewNatsMessageBus(messagebus.Config{
					URL:        cfg.Messaging.NATSURL,
					StreamName: cfg.Messaging.StreamName,
					Timeout:    cfg.Messaging.Timeout,
				})
				if err != nil {
					// Events are advisory; the API still serves without them.
					logger.Warn("NATS unavailable, workflow events disabled", "url", cfg.Messaging.NATSURL, "error", err)
				} else {
					defer mb.Close()
					publisher = mb
					checks["nats"] = func(context.Context) error { return mb.Health() }
				}
			}

			upstream := github.ClientConfig{
				BaseURL: cfg.GitHub.APIURL,
				Limiter: github.NewLimiter(cfg.GitHub.RequestsPerSecond, cfg.GitHub.Burst),
				Metrics: m,
			}
			tokens := auth.NewTokenStore(auth.TokenStoreOptions{
				CookieName: cfg.Session.CookieName,
				MaxAge:     cfg.Session.MaxAge,
				Secure:     cfg.Server.Production,
				SealingKey: cfg.Session.CookieKey,
			})
			authHandlers := auth.NewHandlers(auth.OAuthConfig{
				ClientID:     cfg.GitHub.ClientID,
				ClientSecret: cfg.GitHub.ClientSecret,
				AuthorizeURL: cfg.GitHub.AuthorizeURL,
				TokenURL:     cfg.GitHub.TokenURL,
				RedirectURL:  strings.TrimRight(cfg.Server.PublicURL, "/") + "/auth/callback",
				Scopes:       cfg.GitHub.Scopes,
			}, auth.HandlersOptions{
				Tokens: tokens,
				State:  auth.NewStateSigner(cfg.Security.StateSecret),
				HTTPClient: &http.Client{
					Transport: otelhttp.NewTransport(http.DefaultTransport),
					Timeout:   30 * time.Second,
				},
				Upstream: upstream,
				OnLogout: store.Clear,
				Logger:   logger,
			})

			orchestrator := workflow.New(workflow.Options{
				TestsDir:            cfg.Workflow.TestsDir,
				MaxConcurrentWrites: cfg.Workflow.MaxConcurrentWrites,
				ReuseOpenPR:         cfg.Workflow.ReuseOpenPR,
				Publisher:           publisher,
				Metrics:             m,
				Instruments:         instruments,
				Logger:              logger,
			})

			apiServer := api.NewServer(api.Options{
				Config:       cfg,
				Tokens:       tokens,
				Auth:         authHandlers,
				Upstream:     upstream,
				Store:        store,
				Orchestrator: orchestrator,
				Metrics:      m,
				Logs:         logs,
				Logger:       logger,
				Checks:       checks,
				Version:      version,
			})

			// Wrap handler with OpenTelemetry instrumentation
			handler := otelhttp.NewHandler(apiServer.SetupRoutes(), "testpilot-http-server")

			httpSrv := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
				Handler:      handler,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  cfg.Server.IdleTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("testpilot API listening", "addr", httpSrv.Addr, "version", version)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			case <-ctx.Done():
				logger.Info("Shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
}
