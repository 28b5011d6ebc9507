package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/arc-self/apps/search-indexer/internal/config"
	"github.com/arc-self/apps/search-indexer/internal/eventbuf"
	"github.com/arc-self/apps/search-indexer/internal/hook"
	"github.com/arc-self/apps/search-indexer/internal/listener"
	"github.com/arc-self/apps/search-indexer/internal/override"
	"github.com/arc-self/apps/search-indexer/internal/solr"
	"github.com/arc-self/apps/search-indexer/internal/store"
	"github.com/arc-self/apps/search-indexer/internal/telemetry"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var (
		domainFlag   string
		listenerMode bool
		fullMode     bool
	)
	pflag.StringVarP(&domainFlag, "domain", "d", "", "Domain name i.e. account, facility, asset")
	pflag.BoolVarP(&listenerMode, "listener", "l", false, "Start change listener")
	pflag.BoolVarP(&fullMode, "full", "f", false, "Full load")
	pflag.Parse()

	cfg := config.Load()

	domain := config.NormalizeDomain(domainFlag)
	if domain == "" {
		domain = config.NormalizeDomain(cfg.String(config.KeyDomain))
	}
	if domain == "" {
		logger.Error("cannot locate DOMAIN: pass -d or set the DOMAIN environment variable")
		os.Exit(1)
	}

	bindings, err := cfg.BindDomain(domain)
	if err != nil {
		logger.Error("domain configuration incomplete", zap.String("domain", domain), zap.Error(err))
		os.Exit(1)
	}
	logger.Info("domain bound",
		zap.String("domain", domain),
		zap.String("channel", bindings.Channel),
		zap.String("collection", bindings.Collection),
		zap.Int("buffer_size", bindings.BufferSize),
		zap.Duration("buffer_duration", bindings.BufferDuration),
	)

	// ── OpenTelemetry ──────────────────────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "search-indexer", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}
	}

	// ── Vault secrets ──────────────────────────────────────────────────────
	vaultAddr := os.Getenv("VAULT_ADDR")
	if vaultAddr == "" {
		vaultAddr = "http://localhost:8200"
	}
	vaultToken := os.Getenv("VAULT_TOKEN")
	if vaultToken == "" {
		vaultToken = "root"
	}
	secretPath := os.Getenv("VAULT_SECRET_PATH")
	if secretPath == "" {
		secretPath = "secret/data/arc/search-indexer"
	}

	vaultManager, err := config.NewSecretManager(vaultAddr, vaultToken)
	if err != nil {
		logger.Fatal("Vault connection failed", zap.Error(err))
	}
	secrets, err := vaultManager.GetKV2(secretPath)
	if err != nil {
		logger.Fatal("Failed to load secrets from Vault", zap.Error(err))
	}
	dbUser, err := secrets.String(config.SecretDatabaseUser)
	if err != nil {
		logger.Fatal("database credentials missing", zap.Error(err))
	}
	dbPassword, err := secrets.String(config.SecretDatabasePassword)
	if err != nil {
		logger.Fatal("database credentials missing", zap.Error(err))
	}
	solrUser, _ := secrets.String(config.SecretSolrUser)
	solrPassword, _ := secrets.String(config.SecretSolrPassword)

	// ── Graceful shutdown context ──────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Store gateway ──────────────────────────────────────────────────────
	gateway, err := store.Open(ctx, store.Config{
		Name:     cfg.String(config.KeyDatabaseName),
		User:     dbUser,
		Password: dbPassword,
		Host:     cfg.String(config.KeyDatabaseHost),
		Port:     cfg.String(config.KeyDatabasePort),
		Schema:   cfg.String(config.KeyDatabaseSchema),
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer gateway.Close()

	// ── Collaborators ──────────────────────────────────────────────────────
	solrClient := solr.NewClient(cfg.String(config.KeySolrURL), solrUser, solrPassword, logger)
	hooks := hook.NewRegistry(logger)
	events := eventbuf.New(gateway,
		cfg.String(config.KeyGetEventBufferProc),
		cfg.String(config.KeyCleanEventBufferProc),
		cfg.String(config.KeyEventFetchKey),
		logger,
	)

	// ── Mode selection: full first, then listener ──────────────────────────
	if !fullMode && !listenerMode {
		logger.Warn("no mode selected: pass --full and/or --listener")
	}
	if fullMode {
		planner := override.NewPlanner(gateway, solrClient, hooks, override.SettingsFromConfig(cfg), logger)
		overridden, err := planner.Run(ctx, bindings)
		if err != nil {
			logger.Fatal("full load failed", zap.Error(err))
		}
		if !overridden {
			if err := planner.FullRefresh(ctx, bindings); err != nil {
				logger.Fatal("full load failed", zap.Error(err))
			}
		}
		logger.Info("full load complete", zap.String("domain", domain))
	}

	if listenerMode {
		l := listener.New(bindings, gateway, gateway, events, solrClient, hooks, cfg.RetryInterval(), logger)

		e := newHealthServer(l, logger)
		go func() {
			addr := cfg.String(config.KeyHTTPAddr)
			logger.Info("health server listening", zap.String("addr", addr))
			if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
				logger.Fatal("health server failure", zap.Error(err))
			}
		}()

		if err := l.Run(ctx); err != nil {
			logger.Fatal("listener failed", zap.Error(err))
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("health server shutdown error", zap.Error(err))
		}
	}

	logger.Info("search-indexer shut down cleanly")
}

// newHealthServer exposes liveness plus a read-only snapshot of the
// listener's buffer state. The buffer itself stays owned by the listener.
func newHealthServer(l *listener.Listener, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("search-indexer"))
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, l.Snapshot())
	})
	return e
}
