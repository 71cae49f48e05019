package handler

import (
	"net/http"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Collaborators: /api/collaborators
// ============================================================

const collaboratorsUnavailable = "collaborator accounts are not configured"

func collaboratorRegisterHandler(svc *service.CollaboratorService, logger *zap.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(collaboratorsUnavailable)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/collaborators/register")
		defer span.End()

		var req domain.CollaboratorRegisterRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		c, err := svc.Register(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func collaboratorLoginHandler(svc *service.CollaboratorService, logger *zap.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(collaboratorsUnavailable)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/collaborators/login")
		defer span.End()

		var req domain.CollaboratorLoginRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		resp, err := svc.Login(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func collaboratorMeHandler(svc *service.CollaboratorService, logger *zap.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(collaboratorsUnavailable)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/collaborators/me")
		defer span.End()

		dash, err := svc.Me(ctx, subject(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, dash)
	}
}
