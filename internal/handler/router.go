package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/observability"
	"github.com/boddenberg/assistant-manager-bfa/internal/port"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// webhookBodyLimit bounds payment provider payloads.
const webhookBodyLimit = 1 << 20

// HealthCheck is one dependency probed by /healthz and /readyz.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Deps is everything the router serves. Phones, Sheets and Collaborators may
// be nil when their credentials are not configured; their routes then answer
// 503.
type Deps struct {
	Profiles      *service.ProfileService
	Webhooks      *service.WebhookService
	Phones        *service.PhoneService
	Sheets        *service.SheetsService
	Collections   *service.CollectionService
	Credit        *service.CreditService
	Collaborators *service.CollaboratorService

	Identity           port.IdentityVerifier
	CollaboratorTokens port.IdentityVerifier

	HealthChecks   []HealthCheck
	AllowedOrigins []string
	MaxBodyBytes   int64

	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.HealthChecks))
	r.Get("/readyz", readyzHandler(d.HealthChecks, logger))
	if d.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		// =============================================
		// Payment webhook (signature-authenticated)
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(bodyLimit(webhookBodyLimit))
			r.Post("/stripe-webhook", webhookHandler(d.Webhooks, logger))
		})

		r.Group(func(r chi.Router) {
			r.Use(bodyLimit(d.MaxBodyBytes))

			// =============================================
			// Wizard plan (public)
			// =============================================
			r.Post("/wizard/plan", wizardPlanHandler(logger))

			// =============================================
			// Collaborators
			// =============================================
			r.Post("/collaborators/register", collaboratorRegisterHandler(d.Collaborators, logger))
			r.Post("/collaborators/login", collaboratorLoginHandler(d.Collaborators, logger))
			r.Group(func(r chi.Router) {
				if d.CollaboratorTokens == nil {
					r.Handle("/collaborators/me", unavailable(collaboratorsUnavailable))
					return
				}
				r.Use(BearerAuthMiddleware(d.CollaboratorTokens, domain.IdentityCollaborator, logger))
				r.Get("/collaborators/me", collaboratorMeHandler(d.Collaborators, logger))
			})

			// =============================================
			// Authenticated user routes
			// =============================================
			r.Group(func(r chi.Router) {
				if d.Identity == nil {
					r.Handle("/*", unavailable("identity verification is not configured"))
					return
				}
				r.Use(BearerAuthMiddleware(d.Identity, domain.IdentityUser, logger))

				// Profile
				r.Get("/user-profile", getProfileHandler(d.Profiles, logger))
				r.Post("/user-profile", saveProfileHandler(d.Profiles, logger))
				r.Get("/dashboard", dashboardHandler(d.Profiles, logger))
				r.Post("/wizard/complete", wizardCompleteHandler(d.Profiles, logger))

				// Assistants & databases
				r.Post("/assistants", createAssistantHandler(d.Profiles, logger))
				r.Put("/assistants/{id}", updateAssistantHandler(d.Profiles, logger))
				r.Delete("/assistants/{id}", deleteAssistantHandler(d.Profiles, logger))
				r.Post("/databases", createDatabaseHandler(d.Profiles, logger))
				r.Delete("/databases/{id}", deleteDatabaseHandler(d.Profiles, logger))

				// Contacts
				r.Get("/contacts", listContactsHandler(d.Profiles, logger))
				r.Post("/contacts", createContactHandler(d.Profiles, logger))
				r.Delete("/contacts/{id}", deleteContactHandler(d.Profiles, logger))

				// Knowledge & notifications
				r.Get("/knowledge", listKnowledgeHandler(d.Collections, logger))
				r.Post("/knowledge", createKnowledgeHandler(d.Collections, logger))
				r.Delete("/knowledge/{id}", deleteKnowledgeHandler(d.Collections, logger))
				r.Get("/notifications", listNotificationsHandler(d.Collections, logger))
				r.Post("/notifications/{id}/read", markNotificationReadHandler(d.Collections, logger))

				// Credit
				r.Get("/credit-offers", listOffersHandler(d.Credit, logger))
				r.Post("/credit-offers", createOfferHandler(d.Credit, logger))
				r.Delete("/credit-offers/{id}", deleteOfferHandler(d.Credit, logger))
				r.Get("/credit-lines", listCreditLinesHandler(d.Credit, logger))
				r.Post("/credit-lines", createCreditLineHandler(d.Credit, logger))
				r.Post("/credit-lines/{id}/status", updateCreditLineStatusHandler(d.Credit, logger))

				// Phone numbers
				r.Get("/phone-numbers/search", searchNumbersHandler(d.Phones, logger))
				r.Post("/phone-numbers/purchase", purchaseNumberHandler(d.Phones, logger))
				r.Delete("/phone-numbers/{sid}", releaseNumberHandler(d.Phones, logger))

				// Spreadsheets
				r.Post("/sheets-upload", sheetsUploadHandler(d.Sheets, logger))
			})
		})
	})

	return r
}

func unavailable(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusServiceUnavailable, msg)
	}
}

// ============================================================
// Health: GET /healthz, GET /readyz
// ============================================================

func runHealthChecks(ctx context.Context, checks []HealthCheck) domain.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	now := time.Now().Format(time.RFC3339)
	services := []domain.ServiceHealth{
		{Name: "bfa-api", Status: "healthy", LastChecked: now},
	}
	overall := "healthy"
	for _, c := range checks {
		start := time.Now()
		err := c.Ping(ctx)
		status := "healthy"
		if err != nil {
			status = "unhealthy"
			overall = "degraded"
		}
		services = append(services, domain.ServiceHealth{
			Name:        c.Name,
			Status:      status,
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: now,
		})
	}
	return domain.HealthStatus{Status: overall, Services: services}
}

// healthzHandler reports liveness; dependency state is informational.
func healthzHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, runHealthChecks(r.Context(), checks))
	}
}

// readyzHandler answers 503 while any dependency is unreachable.
func readyzHandler(checks []HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := runHealthChecks(r.Context(), checks)
		if status.Status != "healthy" {
			logger.Warn("readiness check failed", zap.Any("services", status.Services))
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}
