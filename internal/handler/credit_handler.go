package handler

import (
	"net/http"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Credit offers: GET/POST /api/credit-offers, DELETE /api/credit-offers/{id}
// ============================================================

func listOffersHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/credit-offers")
		defer span.End()

		offers, err := svc.ListOffers(ctx, subject(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
	}
}

func createOfferHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/credit-offers")
		defer span.End()

		var o domain.CreditOffer
		if err := decodeJSON(r, &o); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		created, err := svc.CreateOffer(ctx, subject(r), o)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func deleteOfferHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /api/credit-offers/{id}")
		defer span.End()

		if err := svc.DeleteOffer(ctx, subject(r), chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ============================================================
// Credit lines: GET/POST /api/credit-lines, POST /api/credit-lines/{id}/status
// ============================================================

func listCreditLinesHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/credit-lines")
		defer span.End()

		lines, err := svc.ListLines(ctx, subject(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"creditLines": lines})
	}
}

func createCreditLineHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/credit-lines")
		defer span.End()

		var req domain.CreditLineRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		line, err := svc.CreateLine(ctx, subject(r), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, line)
	}
}

func updateCreditLineStatusHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/credit-lines/{id}/status")
		defer span.End()

		var req domain.CreditStatusRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		line, err := svc.UpdateStatus(ctx, subject(r), chi.URLParam(r, "id"), req.Status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, line)
	}
}
