package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"
	"github.com/boddenberg/assistant-manager-bfa/internal/wizard"

	"go.uber.org/zap"
)

type wizardPlanRequest struct {
	wizard.Flags
	Purposes domain.PurposeSet `json:"purposes"`
}

type wizardPlanResponse struct {
	Flags    wizard.Flags    `json:"flags"`
	MaxSteps int             `json:"maxSteps"`
	Screens  []wizard.Screen `json:"screens"`
}

// wizardPlanHandler returns the screens for the given flags; selected
// purposes that need a data source add the database screen.
func wizardPlanHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req wizardPlanRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		f := req.Flags
		if req.Purposes.RequiresDatabase() {
			f.NeedsDatabase = true
		}
		writeJSON(w, http.StatusOK, wizardPlanResponse{
			Flags:    f,
			MaxSteps: wizard.EffectiveMaxSteps(f),
			Screens:  wizard.Screens(f),
		})
	}
}

type wizardCompleteRequest struct {
	Snapshot     json.RawMessage `json:"snapshot"`
	ReferralCode string          `json:"referralCode,omitempty"`
}

// wizardCompleteHandler restores the client's wizard snapshot, completes it
// for the caller and stores the resulting profile.
func wizardCompleteHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/wizard/complete")
		defer span.End()

		var req wizardCompleteRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if len(req.Snapshot) == 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "snapshot is required", Field: "snapshot"})
			return
		}
		wz, err := wizard.Restore(req.Snapshot)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		profile, err := svc.CompleteWizard(ctx, IdentityFromContext(ctx), wz, req.ReferralCode)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}
