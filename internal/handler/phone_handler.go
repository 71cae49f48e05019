package handler

import (
	"net/http"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const phonesUnavailable = "messaging provider is not configured"

// ============================================================
// Phone numbers: /api/phone-numbers
// ============================================================

func searchNumbersHandler(svc *service.PhoneService, logger *zap.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(phonesUnavailable)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/phone-numbers/search")
		defer span.End()

		q := r.URL.Query()
		numbers, err := svc.Search(ctx, q.Get("country"), q.Get("areaCode"), queryInt(r, "limit", 0))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"numbers": numbers})
	}
}

func purchaseNumberHandler(svc *service.PhoneService, logger *zap.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(phonesUnavailable)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/phone-numbers/purchase")
		defer span.End()

		var req domain.PurchaseNumberRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		number, err := svc.Purchase(ctx, subject(r), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, number)
	}
}

func releaseNumberHandler(svc *service.PhoneService, logger *zap.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(phonesUnavailable)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /api/phone-numbers/{sid}")
		defer span.End()

		if err := svc.Release(ctx, subject(r), chi.URLParam(r, "sid")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
