package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCreditService(t *testing.T) (*harness, *service.CreditService) {
	h := newHarness(t)
	return h, service.NewCreditService(h.store, h.profiles, nopLogger())
}

func validOffer() domain.CreditOffer {
	return domain.CreditOffer{Name: "Capital de giro", MinAmount: 1000, MaxAmount: 50000, InterestRate: 2.5, MaxInstallments: 12}
}

func TestCreateOffer(t *testing.T) {
	_, svc := newCreditService(t)
	ctx := context.Background()

	bad := validOffer()
	bad.MaxAmount = 10
	_, err := svc.CreateOffer(ctx, "user-1", bad)
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr), "expected ErrValidation, got %v", err)

	o, err := svc.CreateOffer(ctx, "user-1", validOffer())
	require.NoError(t, err)
	assert.True(t, o.Active)
	assert.Equal(t, "user-1", o.UserID)

	offers, err := svc.ListOffers(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, offers, 1)
}

func TestCreateOffer_AssistantMustOfferCredit(t *testing.T) {
	h, svc := newCreditService(t)
	h.seedProfile(t, "user-1")

	o := validOffer()
	o.AssistantID = "asst-wa"
	_, err := svc.CreateOffer(context.Background(), "user-1", o)
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr), "expected ErrValidation, got %v", err)
	assert.Equal(t, "assistantId", verr.Field)
}

func TestCreateLine_Bounds(t *testing.T) {
	h, svc := newCreditService(t)
	ctx := context.Background()
	o, err := svc.CreateOffer(ctx, "user-1", validOffer())
	require.NoError(t, err)

	cases := []struct {
		name  string
		req   domain.CreditLineRequest
		field string
	}{
		{"below min", domain.CreditLineRequest{OfferID: o.ID, ApplicantName: "João", Amount: 500, Installments: 6}, "amount"},
		{"above max", domain.CreditLineRequest{OfferID: o.ID, ApplicantName: "João", Amount: 60000, Installments: 6}, "amount"},
		{"too many installments", domain.CreditLineRequest{OfferID: o.ID, ApplicantName: "João", Amount: 5000, Installments: 24}, "installments"},
		{"no applicant", domain.CreditLineRequest{OfferID: o.ID, Amount: 5000, Installments: 6}, "applicantName"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			_, err := svc.CreateLine(ctx, "user-1", &req)
			var verr *domain.ErrValidation
			require.True(t, errors.As(err, &verr), "expected ErrValidation, got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	line, err := svc.CreateLine(ctx, "user-1", &domain.CreditLineRequest{OfferID: o.ID, ApplicantName: "João", Amount: 5000, Installments: 6})
	require.NoError(t, err)
	assert.Equal(t, domain.CreditPending, line.Status)
	assert.Equal(t, 907.75, line.MonthlyPayment)

	lines, err := svc.ListLines(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 907.75, lines[0].MonthlyPayment)

	_, err = h.store.CreateOffer(ctx, &domain.CreditOffer{ID: "off-closed", UserID: "user-1", Name: "x", MinAmount: 1, MaxAmount: 2, MaxInstallments: 1})
	require.NoError(t, err)
	_, err = svc.CreateLine(ctx, "user-1", &domain.CreditLineRequest{OfferID: "off-closed", ApplicantName: "João", Amount: 1, Installments: 1})
	var conflict *domain.ErrConflict
	assert.True(t, errors.As(err, &conflict), "inactive offer: expected ErrConflict, got %v", err)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	_, svc := newCreditService(t)
	ctx := context.Background()
	o, err := svc.CreateOffer(ctx, "user-1", validOffer())
	require.NoError(t, err)
	line, err := svc.CreateLine(ctx, "user-1", &domain.CreditLineRequest{OfferID: o.ID, ApplicantName: "João", Amount: 5000, Installments: 6})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, "user-1", line.ID, "paid")
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr), "expected ErrValidation, got %v", err)

	_, err = svc.UpdateStatus(ctx, "user-1", line.ID, "active")
	var conflict *domain.ErrConflict
	require.True(t, errors.As(err, &conflict), "pending→active: expected ErrConflict, got %v", err)

	for _, next := range []string{"approved", "active", "completed"} {
		updated, err := svc.UpdateStatus(ctx, "user-1", line.ID, next)
		require.NoError(t, err, next)
		assert.Equal(t, domain.CreditLineStatus(next), updated.Status)
	}

	_, err = svc.UpdateStatus(ctx, "user-1", line.ID, "rejected")
	assert.True(t, errors.As(err, &conflict))
}
