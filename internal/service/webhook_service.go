package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/observability"
	"github.com/boddenberg/assistant-manager-bfa/internal/port"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Webhook outcomes reported in the acknowledgement and in metrics.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

var errProvisioningDisabled = errors.New("phone provisioning is not configured")

// WebhookConfig holds the webhook secrets and windows.
type WebhookConfig struct {
	Secret    string
	Tolerance time.Duration
	DedupTTL  time.Duration
}

// WebhookService reconciles payment provider events into profiles.
type WebhookService struct {
	cfg           WebhookConfig
	profiles      port.ProfileStore
	notifications port.NotificationStore
	provisioner   *Provisioner
	dedup         port.EventDeduper
	publisher     port.EventPublisher
	cache         port.Cache[*domain.UserProfile]
	metrics       *observability.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

// NewWebhookService creates the webhook service.
func NewWebhookService(
	cfg WebhookConfig,
	profiles port.ProfileStore,
	notifications port.NotificationStore,
	provisioner *Provisioner,
	dedup port.EventDeduper,
	publisher port.EventPublisher,
	cache port.Cache[*domain.UserProfile],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *WebhookService {
	return &WebhookService{
		cfg:           cfg,
		profiles:      profiles,
		notifications: notifications,
		provisioner:   provisioner,
		dedup:         dedup,
		publisher:     publisher,
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
	}
}

// Handle verifies and applies one delivery. Only signature and payload
// errors are returned; downstream failures are logged and acknowledged so
// the provider does not retry-storm, and the event id is released so a
// manual replay can succeed.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, signature string) (*domain.WebhookAck, error) {
	ctx, span := tracer.Start(ctx, "WebhookService.Handle")
	defer span.End()

	if s.cfg.Secret == "" {
		return nil, errors.New("webhook secret is not configured")
	}
	tolerance := s.cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	// Events are decoded field by field, so an account pinned to another
	// API version is still accepted.
	evt, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.Secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			s.metrics.IncrWebhookEvent("unknown", "bad_signature")
			s.logger.Warn("webhook signature rejected", zap.Error(err))
			return nil, &domain.ErrSignature{Reason: err.Error()}
		}
		return nil, &domain.ErrValidation{Field: "event", Message: "malformed event payload"}
	}
	if evt.ID == "" || evt.Type == "" {
		return nil, &domain.ErrValidation{Field: "event", Message: "malformed event payload"}
	}
	eventType := string(evt.Type)
	span.SetAttributes(attribute.String("event.id", evt.ID), attribute.String("event.type", eventType))

	log := s.logger.With(zap.String("event_id", evt.ID), zap.String("event_type", eventType))

	fresh, err := s.dedup.Reserve(ctx, evt.ID, s.cfg.DedupTTL)
	if err != nil {
		// The conditional phone claim still guards provisioning.
		log.Warn("event de-duplication unavailable", zap.Error(err))
		fresh = true
	}
	if !fresh {
		s.metrics.IncrWebhookEvent(eventType, OutcomeDuplicate)
		log.Info("duplicate webhook delivery acknowledged")
		return &domain.WebhookAck{Received: true, Duplicate: true, Outcome: OutcomeDuplicate}, nil
	}

	outcome, err := s.dispatch(ctx, &evt)
	if err != nil {
		s.metrics.IncrWebhookEvent(eventType, OutcomeFailed)
		log.Error("webhook processing failed", zap.Error(err))
		if relErr := s.dedup.Release(ctx, evt.ID); relErr != nil {
			log.Warn("failed to release event id", zap.Error(relErr))
		}
		return &domain.WebhookAck{Received: true, Outcome: OutcomeFailed}, nil
	}

	s.metrics.IncrWebhookEvent(eventType, outcome)
	log.Info("webhook processed", zap.String("outcome", outcome))
	return &domain.WebhookAck{Received: true, Outcome: outcome}, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func (s *WebhookService) dispatch(ctx context.Context, evt *stripe.Event) (string, error) {
	var raw []byte
	if evt.Data != nil {
		raw = evt.Data.Raw
	}

	switch evt.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := decodeObject(raw, &session); err != nil {
			return "", err
		}
		return s.checkoutCompleted(ctx, evt.ID, &session)
	case stripe.EventTypeInvoicePaid:
		var invoice stripe.Invoice
		if err := decodeObject(raw, &invoice); err != nil {
			return "", err
		}
		return s.invoicePaid(ctx, evt.ID, &invoice)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := decodeObject(raw, &sub); err != nil {
			return "", err
		}
		return s.subscriptionDeleted(ctx, customerID(sub.Customer))
	}
	return OutcomeIgnored, nil
}

func decodeObject(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode event object: %w", err)
	}
	return nil
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

// resolveProfile finds the profile by customer id, then by client reference
// id; a skeleton profile is created for an unknown reference id.
func (s *WebhookService) resolveProfile(ctx context.Context, customer, referenceID string) (*domain.UserProfile, error) {
	var nf *domain.ErrNotFound
	if customer != "" {
		p, err := s.profiles.FindProfileByCustomerID(ctx, customer)
		if err == nil {
			return p, nil
		}
		if !errors.As(err, &nf) {
			return nil, err
		}
	}
	if referenceID == "" {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: customer}
	}

	p, err := s.profiles.GetProfile(ctx, referenceID)
	if err == nil {
		return p, nil
	}
	if !errors.As(err, &nf) {
		return nil, err
	}

	s.logger.Info("creating profile from payment event", zap.String("user_id", referenceID))
	return s.profiles.UpsertProfile(ctx, domain.NewProfile(referenceID, s.now().UTC()))
}

func (s *WebhookService) checkoutCompleted(ctx context.Context, eventID string, session *stripe.CheckoutSession) (string, error) {
	customer := customerID(session.Customer)
	p, err := s.resolveProfile(ctx, customer, session.ClientReferenceID)
	if err != nil {
		return "", fmt.Errorf("resolve profile: %w", err)
	}
	if customer != "" && p.StripeCustomerID != customer {
		if err := s.profiles.LinkCustomer(ctx, p.UserID, customer); err != nil {
			return "", fmt.Errorf("link customer: %w", err)
		}
		s.cache.Delete(profileKey(p.UserID))
	}

	meta := domain.PaymentMetadata(session.Metadata)
	switch meta.Kind() {
	case domain.CheckoutWhatsApp:
		return s.provision(ctx, p.UserID)
	case domain.CheckoutCredits:
		return s.grantCredits(ctx, p.UserID, meta.Credits(), eventID)
	}
	if meta.Credits() > 0 {
		return s.grantCredits(ctx, p.UserID, meta.Credits(), eventID)
	}
	return OutcomeIgnored, nil
}

// invoicePaid grants renewal credits. Subscription invoices carry the
// subscription's metadata in subscription_details.
func (s *WebhookService) invoicePaid(ctx context.Context, eventID string, invoice *stripe.Invoice) (string, error) {
	meta := domain.PaymentMetadata(invoice.Metadata)
	if meta.Credits() == 0 && invoice.SubscriptionDetails != nil {
		meta = domain.PaymentMetadata(invoice.SubscriptionDetails.Metadata)
	}
	if meta.Credits() == 0 {
		return OutcomeIgnored, nil
	}
	p, err := s.profiles.FindProfileByCustomerID(ctx, customerID(invoice.Customer))
	if err != nil {
		return "", fmt.Errorf("resolve profile: %w", err)
	}
	return s.grantCredits(ctx, p.UserID, meta.Credits(), eventID)
}

func (s *WebhookService) subscriptionDeleted(ctx context.Context, customer string) (string, error) {
	p, err := s.profiles.FindProfileByCustomerID(ctx, customer)
	if err != nil {
		return "", fmt.Errorf("resolve profile: %w", err)
	}
	if s.provisioner == nil {
		return "", errProvisioningDisabled
	}
	released, err := s.provisioner.Release(ctx, p.UserID)
	if err != nil {
		return "", err
	}
	if released == nil {
		return OutcomeIgnored, nil
	}
	s.cache.Delete(profileKey(p.UserID))

	s.notify(ctx, p.UserID, domain.NotificationPhoneReleased,
		"WhatsApp number released",
		fmt.Sprintf("The number %s was released because the subscription ended.", released.Number))
	publish(ctx, s.publisher, s.logger, domain.DomainEvent{
		Type:    domain.DomainPhoneReleased,
		UserID:  p.UserID,
		Payload: map[string]any{"number": released.Number, "sid": released.SID},
		At:      s.now().Unix(),
	})
	return OutcomeProcessed, nil
}

func (s *WebhookService) grantCredits(ctx context.Context, userID string, credits int, eventID string) (string, error) {
	if credits <= 0 {
		s.logger.Warn("checkout without credits", zap.String("user_id", userID), zap.String("event_id", eventID))
		return OutcomeIgnored, nil
	}
	balance, err := s.profiles.AddCredits(ctx, userID, credits)
	if err != nil {
		return "", fmt.Errorf("add credits: %w", err)
	}
	s.cache.Delete(profileKey(userID))
	s.metrics.AddCreditsGranted(credits)

	s.notify(ctx, userID, domain.NotificationCredits,
		"Credits added",
		fmt.Sprintf("%d credits were added to your account. Balance: %d.", credits, balance))
	publish(ctx, s.publisher, s.logger, domain.DomainEvent{
		Type:    domain.DomainCreditsGranted,
		UserID:  userID,
		Payload: map[string]any{"credits": credits, "balance": balance, "eventId": eventID},
		At:      s.now().Unix(),
	})
	return OutcomeProcessed, nil
}

func (s *WebhookService) provision(ctx context.Context, userID string) (string, error) {
	if s.provisioner == nil {
		return "", errProvisioningDisabled
	}
	res, err := s.provisioner.Provision(ctx, userID, ProvisionRequest{})
	if err != nil {
		return "", err
	}
	if res.Outcome == ProvisionExisting {
		return OutcomeProcessed, nil
	}
	if err := attachNumber(ctx, s.profiles, userID, "", res.Number.Number); err != nil {
		s.logger.Warn("number not attached to assistants", zap.String("user_id", userID), zap.Error(err))
	}
	s.cache.Delete(profileKey(userID))

	s.notify(ctx, userID, domain.NotificationPhoneNumber,
		"WhatsApp number ready",
		fmt.Sprintf("Your assistant can now be reached at %s.", res.Number.Number))
	publish(ctx, s.publisher, s.logger, domain.DomainEvent{
		Type:    domain.DomainPhoneProvisioned,
		UserID:  userID,
		Payload: map[string]any{"number": res.Number.Number, "sid": res.Number.SID},
		At:      s.now().Unix(),
	})
	return OutcomeProcessed, nil
}

func (s *WebhookService) notify(ctx context.Context, userID, kind, title, body string) {
	err := s.notifications.CreateNotification(ctx, &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		Kind:      kind,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("notification not stored", zap.String("user_id", userID), zap.String("kind", kind), zap.Error(err))
	}
}

// attachNumber sets number on the whatsapp assistant assistantID, or on every
// whatsapp assistant without a number when assistantID is empty.
func attachNumber(ctx context.Context, profiles port.ProfileStore, userID, assistantID, number string) error {
	return setAssistantNumbers(ctx, profiles, userID, number, func(a *domain.AssistantConfig) bool {
		if a.Type != domain.AssistantWhatsApp {
			return false
		}
		return a.ID == assistantID || (assistantID == "" && a.PhoneNumber == "")
	})
}

// detachNumber clears number from every assistant that carries it.
func detachNumber(ctx context.Context, profiles port.ProfileStore, userID, number string) error {
	return setAssistantNumbers(ctx, profiles, userID, "", func(a *domain.AssistantConfig) bool {
		return a.PhoneNumber == number
	})
}

func setAssistantNumbers(ctx context.Context, profiles port.ProfileStore, userID, number string, match func(*domain.AssistantConfig) bool) error {
	p, err := profiles.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	changed := false
	for i := range p.Assistants {
		if match(&p.Assistants[i]) {
			p.Assistants[i].PhoneNumber = number
			changed = true
		}
	}
	if !changed {
		return nil
	}
	p.UpdatedAt = time.Now().UTC()
	_, err = profiles.UpsertProfile(ctx, p)
	return err
}
