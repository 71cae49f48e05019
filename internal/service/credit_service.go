package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreditService manages credit offers and the credit lines requested
// against them.
type CreditService struct {
	store    port.CreditStore
	profiles *ProfileService
	logger   *zap.Logger
	now      func() time.Time
}

// NewCreditService creates the credit service.
func NewCreditService(store port.CreditStore, profiles *ProfileService, logger *zap.Logger) *CreditService {
	return &CreditService{
		store:    store,
		profiles: profiles,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *CreditService) ListOffers(ctx context.Context, userID string) ([]domain.CreditOffer, error) {
	return s.store.ListOffers(ctx, userID)
}

// CreateOffer validates the offer and, when set, its assistant.
func (s *CreditService) CreateOffer(ctx context.Context, userID string, o domain.CreditOffer) (*domain.CreditOffer, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.AssistantID != "" {
		p, err := s.profiles.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		a, ok := p.Assistant(o.AssistantID)
		if !ok {
			return nil, &domain.ErrValidation{Field: "assistantId", Message: "assistant does not exist"}
		}
		if !a.Purposes.Has(domain.PurposeCreditOffers) {
			return nil, &domain.ErrValidation{Field: "assistantId", Message: "assistant is not configured for credit offers"}
		}
	}
	o.ID = uuid.NewString()
	o.UserID = userID
	o.Active = true
	o.CreatedAt = s.now()
	return s.store.CreateOffer(ctx, &o)
}

func (s *CreditService) DeleteOffer(ctx context.Context, userID, id string) error {
	return s.store.DeleteOffer(ctx, userID, id)
}

// ListLines returns the user's credit lines with their installment amount.
func (s *CreditService) ListLines(ctx context.Context, userID string) ([]domain.CreditLine, error) {
	lines, err := s.store.ListCreditLines(ctx, userID)
	if err != nil {
		return nil, err
	}
	offers, err := s.store.ListOffers(ctx, userID)
	if err != nil {
		return nil, err
	}
	rates := make(map[string]float64, len(offers))
	for _, o := range offers {
		rates[o.ID] = o.InterestRate
	}
	for i := range lines {
		if rate, ok := rates[lines[i].OfferID]; ok {
			lines[i].MonthlyPayment = lines[i].Installment(rate)
		}
	}
	return lines, nil
}

// CreateLine records a pending request within the offer's bounds.
func (s *CreditService) CreateLine(ctx context.Context, userID string, req *domain.CreditLineRequest) (*domain.CreditLine, error) {
	offer, err := s.store.GetOffer(ctx, userID, req.OfferID)
	if err != nil {
		return nil, err
	}
	if !offer.Active {
		return nil, &domain.ErrConflict{Message: "offer is not active"}
	}
	if strings.TrimSpace(req.ApplicantName) == "" {
		return nil, &domain.ErrValidation{Field: "applicantName", Message: "applicant name is required"}
	}
	if req.Amount < offer.MinAmount || req.Amount > offer.MaxAmount {
		return nil, &domain.ErrValidation{
			Field:   "amount",
			Message: fmt.Sprintf("amount must be between %.2f and %.2f", offer.MinAmount, offer.MaxAmount),
		}
	}
	if req.Installments < 1 || req.Installments > offer.MaxInstallments {
		return nil, &domain.ErrValidation{
			Field:   "installments",
			Message: fmt.Sprintf("installments must be between 1 and %d", offer.MaxInstallments),
		}
	}

	now := s.now()
	line := &domain.CreditLine{
		ID:             uuid.NewString(),
		UserID:         userID,
		OfferID:        offer.ID,
		ApplicantName:  req.ApplicantName,
		ApplicantPhone: req.ApplicantPhone,
		Amount:         req.Amount,
		Installments:   req.Installments,
		Status:         domain.CreditPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	created, err := s.store.CreateCreditLine(ctx, line)
	if err != nil {
		return nil, err
	}
	created.MonthlyPayment = created.Installment(offer.InterestRate)
	return created, nil
}

// UpdateStatus moves a line along pending → approved|rejected,
// approved → active, active → completed.
func (s *CreditService) UpdateStatus(ctx context.Context, userID, id, status string) (*domain.CreditLine, error) {
	to, err := domain.ParseCreditLineStatus(status)
	if err != nil {
		return nil, err
	}
	line, err := s.store.GetCreditLine(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !line.Status.CanTransition(to) {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("cannot move credit line from %s to %s", line.Status, to)}
	}

	ok, err := s.store.UpdateCreditLineStatus(ctx, id, line.Status, to)
	if err != nil {
		return nil, fmt.Errorf("credit line update: %w", err)
	}
	if !ok {
		return nil, &domain.ErrConflict{Message: "credit line changed concurrently"}
	}

	s.logger.Info("credit line status changed",
		zap.String("credit_line_id", id),
		zap.String("from", string(line.Status)),
		zap.String("to", string(to)),
	)
	line.Status = to
	line.UpdatedAt = s.now()
	return line, nil
}
