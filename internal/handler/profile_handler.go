package handler

import (
	"net/http"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Profile: GET/POST /api/user-profile
// ============================================================

func getProfileHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/user-profile")
		defer span.End()

		userID := subject(r)
		span.SetAttributes(attribute.String("user.id", userID))

		profile, err := svc.Get(ctx, userID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func saveProfileHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/user-profile")
		defer span.End()

		var req domain.ProfileWriteRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("user.id", req.UserID))

		profile, err := svc.Save(ctx, subject(r), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func dashboardHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/dashboard")
		defer span.End()

		view, err := svc.Dashboard(ctx, subject(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// ============================================================
// Assistants: POST /api/assistants, PUT/DELETE /api/assistants/{id}
// ============================================================

func createAssistantHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/assistants")
		defer span.End()

		var a domain.AssistantConfig
		if err := decodeJSON(r, &a); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		created, err := svc.AddAssistant(ctx, subject(r), a)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func updateAssistantHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /api/assistants/{id}")
		defer span.End()

		var a domain.AssistantConfig
		if err := decodeJSON(r, &a); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		updated, err := svc.UpdateAssistant(ctx, subject(r), chi.URLParam(r, "id"), a)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteAssistantHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /api/assistants/{id}")
		defer span.End()

		if err := svc.DeleteAssistant(ctx, subject(r), chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ============================================================
// Databases: POST /api/databases, DELETE /api/databases/{id}
// ============================================================

func createDatabaseHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/databases")
		defer span.End()

		var d domain.DatabaseConfig
		if err := decodeJSON(r, &d); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		created, err := svc.AddDatabase(ctx, subject(r), d)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func deleteDatabaseHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /api/databases/{id}")
		defer span.End()

		if err := svc.DeleteDatabase(ctx, subject(r), chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ============================================================
// Contacts: GET/POST /api/contacts, DELETE /api/contacts/{id}
// ============================================================

func listContactsHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/contacts")
		defer span.End()

		contacts, err := svc.ListContacts(ctx, subject(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
	}
}

func createContactHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/contacts")
		defer span.End()

		var c domain.Contact
		if err := decodeJSON(r, &c); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		created, err := svc.AddContact(ctx, subject(r), c)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func deleteContactHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /api/contacts/{id}")
		defer span.End()

		if err := svc.DeleteContact(ctx, subject(r), chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
