package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/port"

	"go.uber.org/zap"
)

const maxSearchResults = 20

// PhoneService backs the phone-number endpoints.
type PhoneService struct {
	phones      port.PhoneProvider
	profiles    port.ProfileStore
	provisioner *Provisioner
	publisher   port.EventPublisher
	cache       port.Cache[*domain.UserProfile]
	country     string
	logger      *zap.Logger
}

// NewPhoneService creates the phone service.
func NewPhoneService(phones port.PhoneProvider, profiles port.ProfileStore, provisioner *Provisioner, publisher port.EventPublisher, cache port.Cache[*domain.UserProfile], country string, logger *zap.Logger) *PhoneService {
	return &PhoneService{
		phones:      phones,
		profiles:    profiles,
		provisioner: provisioner,
		publisher:   publisher,
		cache:       cache,
		country:     country,
		logger:      logger,
	}
}

// Search lists numbers available for purchase.
func (s *PhoneService) Search(ctx context.Context, country, areaCode string, limit int) ([]domain.AvailableNumber, error) {
	ctx, span := tracer.Start(ctx, "PhoneService.Search")
	defer span.End()

	if country == "" {
		country = s.country
	}
	if limit <= 0 || limit > maxSearchResults {
		limit = maxSearchResults
	}
	numbers, err := s.phones.SearchNumbers(ctx, country, areaCode, limit)
	if err != nil {
		return nil, fmt.Errorf("number search: %w", err)
	}
	return numbers, nil
}

// Purchase provisions a number for userID and attaches it to a whatsapp
// assistant. A user holds at most one number.
func (s *PhoneService) Purchase(ctx context.Context, userID string, req *domain.PurchaseNumberRequest) (*domain.PhoneNumber, error) {
	ctx, span := tracer.Start(ctx, "PhoneService.Purchase")
	defer span.End()

	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("profile fetch: %w", err)
	}
	if req.AssistantID == "" {
		return nil, &domain.ErrValidation{Field: "assistantId", Message: "assistantId is required"}
	}
	a, ok := p.Assistant(req.AssistantID)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "assistant", ID: req.AssistantID}
	}
	if a.Type != domain.AssistantWhatsApp {
		return nil, &domain.ErrValidation{Field: "assistantId", Message: "only whatsapp assistants take a phone number"}
	}
	if p.HasPhoneNumber() {
		return nil, &domain.ErrConflict{Message: "a phone number is already provisioned"}
	}

	res, err := s.provisioner.Provision(ctx, userID, ProvisionRequest{
		Number:   req.Number,
		Country:  req.Country,
		AreaCode: req.AreaCode,
	})
	if err != nil {
		return nil, err
	}
	if res.Outcome == ProvisionExisting {
		return nil, &domain.ErrConflict{Message: "a phone number is already provisioned"}
	}

	if err := attachNumber(ctx, s.profiles, userID, req.AssistantID, res.Number.Number); err != nil {
		s.logger.Warn("number not attached to assistant",
			zap.String("user_id", userID),
			zap.String("assistant_id", req.AssistantID),
			zap.Error(err),
		)
	}
	s.cache.Delete(profileKey(userID))
	publish(ctx, s.publisher, s.logger, domain.DomainEvent{
		Type:    domain.DomainPhoneProvisioned,
		UserID:  userID,
		Payload: map[string]any{"number": res.Number.Number, "sid": res.Number.SID, "assistantId": req.AssistantID},
		At:      time.Now().Unix(),
	})
	return &res.Number, nil
}

// Release cancels the caller's number identified by sid.
func (s *PhoneService) Release(ctx context.Context, userID, sid string) error {
	ctx, span := tracer.Start(ctx, "PhoneService.Release")
	defer span.End()

	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("profile fetch: %w", err)
	}
	if p.PhoneNumber == nil || p.PhoneNumber.SID != sid {
		return &domain.ErrNotFound{Resource: "phone number", ID: sid}
	}

	released, err := s.provisioner.Release(ctx, userID)
	if err != nil {
		return err
	}
	s.cache.Delete(profileKey(userID))
	if released != nil {
		publish(ctx, s.publisher, s.logger, domain.DomainEvent{
			Type:    domain.DomainPhoneReleased,
			UserID:  userID,
			Payload: map[string]any{"number": released.Number, "sid": released.SID},
			At:      time.Now().Unix(),
		})
	}
	return nil
}
