package handler

import (
	"net/http"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Knowledge: GET/POST /api/knowledge, DELETE /api/knowledge/{id}
// ============================================================

func listKnowledgeHandler(svc *service.CollectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/knowledge")
		defer span.End()

		entries, err := svc.ListKnowledge(ctx, subject(r), r.URL.Query().Get("databaseId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

func createKnowledgeHandler(svc *service.CollectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/knowledge")
		defer span.End()

		var e domain.KnowledgeEntry
		if err := decodeJSON(r, &e); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		created, err := svc.CreateKnowledge(ctx, subject(r), e)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func deleteKnowledgeHandler(svc *service.CollectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /api/knowledge/{id}")
		defer span.End()

		if err := svc.DeleteKnowledge(ctx, subject(r), chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ============================================================
// Notifications: GET /api/notifications, POST /api/notifications/{id}/read
// ============================================================

func listNotificationsHandler(svc *service.CollectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/notifications")
		defer span.End()

		notifications, err := svc.ListNotifications(ctx, subject(r), queryBool(r, "unread"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
	}
}

func markNotificationReadHandler(svc *service.CollectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/notifications/{id}/read")
		defer span.End()

		if err := svc.MarkNotificationRead(ctx, subject(r), chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
