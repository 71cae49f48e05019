package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Payment webhook: POST /api/stripe-webhook
// ============================================================

// webhookHandler verifies the raw body against the Stripe-Signature header.
// Processing failures are acknowledged with 200; only signature and payload
// errors are rejected.
func webhookHandler(svc *service.WebhookService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/stripe-webhook")
		defer span.End()

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
				return
			}
			writeError(w, http.StatusBadRequest, "unreadable payload")
			return
		}

		ack, err := svc.Handle(ctx, payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}
