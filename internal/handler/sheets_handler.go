package handler

import (
	"net/http"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"go.uber.org/zap"
)

// sheetsUploadHandler serves POST /api/sheets-upload.
func sheetsUploadHandler(svc *service.SheetsService, logger *zap.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("spreadsheet import is not configured")
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/sheets-upload")
		defer span.End()

		var req domain.SheetsUploadRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		resp, err := svc.Upload(ctx, subject(r), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}
