package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/config"
	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/handler"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/cache"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/client"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/dedup"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/events"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/identity"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/memory"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/observability"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/postgres"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/resilience"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/supabase"
	"github.com/boddenberg/assistant-manager-bfa/internal/port"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"go.uber.org/zap"
)

// stores groups the persistence ports; one backend may serve several.
type stores struct {
	profiles      port.ProfileStore
	knowledge     port.KnowledgeStore
	notifications port.NotificationStore
	credit        port.CreditStore
	collaborators port.CollaboratorStore
	ping          func(ctx context.Context) error
}

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	for _, problem := range cfg.Validate() {
		logger.Warn("configuration problem", zap.String("problem", problem))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("redis_dedup", cfg.RedisURL != ""),
		zap.Bool("kafka_events", cfg.KafkaBroker != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "assistant-manager-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	profileCache := cache.New[*domain.UserProfile](cfg.CacheTTL)
	defer profileCache.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// --- Stores ---
	st, err := openStores(ctx, cfg, httpClient, resilienceCfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	checks := []handler.HealthCheck{{Name: cfg.StoreBackend, Ping: st.ping}}

	// --- Webhook de-duplication ---
	var deduper port.EventDeduper = dedup.NewMemory()
	if cfg.RedisURL != "" {
		rd, err := dedup.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rd.Close()
		deduper = rd
		checks = append(checks, handler.HealthCheck{Name: "redis", Ping: rd.Ping})
		logger.Info("webhook de-duplication backed by redis")
	} else {
		logger.Warn("REDIS_URL not set, webhook de-duplication is local to this replica")
	}

	// --- Events ---
	var publisher port.EventPublisher = events.NewLogPublisher(logger)
	if cfg.KafkaBroker != "" {
		producer, err := events.NewProducer(cfg.KafkaBroker, cfg.KafkaRetryMax, cfg.KafkaRetryBackoff, logger)
		if err != nil {
			logger.Fatal("failed to create kafka producer", zap.Error(err))
		}
		kp := events.NewKafkaPublisher(producer, cfg.KafkaTopic, logger)
		defer kp.Close()
		publisher = kp
	}

	// --- Identity ---
	var userTokens port.IdentityVerifier
	if cfg.IdentityJWTSecret != "" || cfg.IdentityPublicKeyPEM != "" {
		v, err := identity.NewVerifier(identity.Options{
			Secret:       cfg.IdentityJWTSecret,
			PublicKeyPEM: cfg.IdentityPublicKeyPEM,
			Issuer:       cfg.IdentityIssuer,
			Audience:     cfg.IdentityAudience,
		})
		if err != nil {
			logger.Fatal("failed to build identity verifier", zap.Error(err))
		}
		userTokens = v
	} else {
		logger.Warn("identity verification not configured, user routes unavailable")
	}

	var collaboratorTokens *identity.CollaboratorTokens
	if cfg.CollaboratorJWTSecret != "" {
		collaboratorTokens, err = identity.NewCollaboratorTokens(cfg.CollaboratorJWTSecret, cfg.CollaboratorTokenTTL)
		if err != nil {
			logger.Fatal("failed to build collaborator tokens", zap.Error(err))
		}
	} else {
		logger.Warn("COLLABORATOR_JWT_SECRET not set, collaborator login unavailable")
	}

	// --- Messaging provider ---
	var phones port.PhoneProvider
	if cfg.MessagingAccountSID != "" && cfg.MessagingAuthToken != "" {
		phones = client.NewMessagingClient(
			httpClient,
			cfg.MessagingAPIURL,
			cfg.MessagingAccountSID,
			cfg.MessagingAuthToken,
			resilience.NewCircuitBreaker("messaging"),
			resilienceCfg,
			logger,
		)
	} else {
		logger.Warn("messaging provider not configured, phone number routes unavailable")
	}

	// --- Spreadsheet import ---
	var importer port.SpreadsheetImporter
	if cfg.GoogleServiceAccountJSON != "" {
		driveHTTP, err := client.NewDriveHTTPClient(ctx, []byte(cfg.GoogleServiceAccountJSON))
		if err != nil {
			logger.Fatal("failed to build drive client", zap.Error(err))
		}
		driveHTTP.Timeout = cfg.HTTPTimeout
		sheets, err := client.NewSheetsClient(ctx, driveHTTP, cfg.DriveAPIURL, resilience.NewCircuitBreaker("drive"), resilienceCfg, logger)
		if err != nil {
			logger.Fatal("failed to build sheets client", zap.Error(err))
		}
		importer = sheets
	} else {
		logger.Warn("GOOGLE_SERVICE_ACCOUNT_JSON not set, spreadsheet upload unavailable")
	}

	// --- Services ---
	profileSvc := service.NewProfileService(
		st.profiles,
		st.notifications,
		st.credit,
		st.collaborators,
		publisher,
		profileCache,
		metrics,
		logger,
	)

	var provisioner *service.Provisioner
	var phoneSvc *service.PhoneService
	if phones != nil {
		provisioner = service.NewProvisioner(st.profiles, phones, cfg.MessagingCountry, metrics, logger)
		phoneSvc = service.NewPhoneService(phones, st.profiles, provisioner, publisher, profileCache, cfg.MessagingCountry, logger)
	}

	webhookSvc := service.NewWebhookService(
		service.WebhookConfig{
			Secret:    cfg.StripeWebhookSecret,
			Tolerance: cfg.WebhookTolerance,
			DedupTTL:  cfg.DedupTTL,
		},
		st.profiles,
		st.notifications,
		provisioner,
		deduper,
		publisher,
		profileCache,
		metrics,
		logger,
	)

	var sheetsSvc *service.SheetsService
	if importer != nil {
		sheetsSvc = service.NewSheetsService(importer, profileSvc, cfg.MaxUploadBytes, logger)
	}

	deps := handler.Deps{
		Profiles:       profileSvc,
		Webhooks:       webhookSvc,
		Phones:         phoneSvc,
		Sheets:         sheetsSvc,
		Collections:    service.NewCollectionService(st.knowledge, st.notifications, profileSvc),
		Credit:         service.NewCreditService(st.credit, profileSvc, logger),
		Identity:       userTokens,
		HealthChecks:   checks,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Metrics:        metrics,
		Logger:         logger,
	}
	if collaboratorTokens != nil {
		deps.Collaborators = service.NewCollaboratorService(st.collaborators, st.profiles, collaboratorTokens, logger)
		deps.CollaboratorTokens = collaboratorTokens
	}

	// --- Router ---
	router := handler.NewRouter(deps)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// openStores builds the persistence ports for cfg.StoreBackend. The SQL
// backend only holds profiles; the remaining collections stay in memory.
func openStores(ctx context.Context, cfg *config.Config, httpClient *http.Client, rc resilience.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.StoreBackend {
	case "supabase":
		sb := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			rc,
			logger,
		)
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))
		return &stores{
			profiles:      sb,
			knowledge:     sb,
			notifications: sb,
			credit:        sb,
			collaborators: sb,
			ping:          sb.Ping,
		}, nil

	case "postgres":
		db, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		ps := postgres.NewProfileStore(db, logger)
		if err := ps.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		mem := memory.NewStore()
		logger.Info("using PostgreSQL for profiles, memory for other collections")
		return &stores{
			profiles:      ps,
			knowledge:     mem,
			notifications: mem,
			credit:        mem,
			collaborators: mem,
			ping:          ps.Ping,
		}, nil

	default:
		mem := memory.NewStore()
		logger.Warn("using in-memory store, data is lost on restart")
		return &stores{
			profiles:      mem,
			knowledge:     mem,
			notifications: mem,
			credit:        mem,
			collaborators: mem,
			ping:          func(context.Context) error { return nil },
		}, nil
	}
}
