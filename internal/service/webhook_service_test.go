package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/memory"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

func TestWebhook_RejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	payload := checkoutEvent("evt_1", "user-1", "cus_1", map[string]string{"kind": "credits", "credits": "10"})

	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] = ' '

	tests := []struct {
		name    string
		payload []byte
		header  string
	}{
		{"missing header", payload, ""},
		{"garbage header", payload, "not-a-signature"},
		{"wrong signature", payload, fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix())},
		{"tampered payload", tampered, signed(payload)},
		{"stale timestamp", payload, signedAt(payload, time.Now().Add(-10*time.Minute))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.webhooks.Handle(context.Background(), tt.payload, tt.header)
			var sigErr *domain.ErrSignature
			require.True(t, errors.As(err, &sigErr), "expected ErrSignature, got %v", err)
		})
	}

	assert.Equal(t, float64(len(tests)), h.metrics.WebhookEventCount("unknown", "bad_signature"))
}

func TestWebhook_AcceptsSignatureWithinTolerance(t *testing.T) {
	h := newHarness(t)
	payload := eventPayload("evt_late", "charge.refunded", map[string]any{"id": "ch_1"})

	ack, err := h.webhooks.Handle(context.Background(), payload, signedAt(payload, time.Now().Add(-2*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeIgnored, ack.Outcome)
}

func TestWebhook_NonJSONBodyIsMalformed(t *testing.T) {
	h := newHarness(t)
	payload := []byte("not json")

	_, err := h.webhooks.Handle(context.Background(), payload, signed(payload))
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr), "expected ErrValidation, got %v", err)
}

func TestWebhook_MissingSecretIsServerError(t *testing.T) {
	h := newHarness(t)
	svc := service.NewWebhookService(service.WebhookConfig{}, h.store, h.store, h.provisioner, h.dedup, h.publisher, nopCache(t), h.metrics, nopLogger())
	payload := checkoutEvent("evt_1", "user-1", "", nil)

	_, err := svc.Handle(context.Background(), payload, signed(payload))
	require.Error(t, err)
	var sigErr *domain.ErrSignature
	assert.False(t, errors.As(err, &sigErr))
}

func TestWebhook_MalformedPayload(t *testing.T) {
	h := newHarness(t)
	payload := []byte(`{"type":"invoice.paid"}`)

	_, err := h.webhooks.Handle(context.Background(), payload, signed(payload))
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr), "expected ErrValidation, got %v", err)
}

func TestWebhook_CheckoutCreditsCreatesProfileOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payload := checkoutEvent("evt_credits", "user-new", "cus_9", map[string]string{"kind": "credits", "credits": "50"})

	ack, err := h.webhooks.Handle(ctx, payload, signed(payload))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeProcessed, ack.Outcome)
	assert.False(t, ack.Duplicate)

	ack, err = h.webhooks.Handle(ctx, payload, signed(payload))
	require.NoError(t, err)
	assert.True(t, ack.Duplicate)
	assert.Equal(t, service.OutcomeDuplicate, ack.Outcome)

	p, err := h.store.GetProfile(ctx, "user-new")
	require.NoError(t, err)
	assert.Equal(t, 50, p.Credits)
	assert.Equal(t, "cus_9", p.StripeCustomerID)

	notes, err := h.store.ListNotifications(ctx, "user-new", true)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationCredits, notes[0].Kind)
	assert.Contains(t, h.publisher.Types(), domain.DomainCreditsGranted)
}

func TestWebhook_ConcurrentDuplicateDeliveriesBuyOneNumber(t *testing.T) {
	h := newHarness(t)
	h.seedProfile(t, "user-1")
	h.phones.delay = 20 * time.Millisecond
	payload := checkoutEvent("evt_wa", "user-1", "cus_1", map[string]string{"kind": "whatsapp"})

	const deliveries = 12
	acks := make([]*domain.WebhookAck, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ack, err := h.webhooks.Handle(context.Background(), payload, signed(payload))
			if err != nil {
				t.Errorf("delivery %d: %v", i, err)
				return
			}
			acks[i] = ack
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.phones.purchases.Load(), "exactly one number must be bought")
	assert.Empty(t, h.phones.Cancelled())

	processed, duplicates := 0, 0
	for _, ack := range acks {
		require.NotNil(t, ack)
		assert.True(t, ack.Received)
		if ack.Duplicate {
			duplicates++
		} else {
			processed++
		}
	}
	assert.Equal(t, 1, processed)
	assert.Equal(t, deliveries-1, duplicates)

	p, err := h.store.GetProfile(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, p.HasPhoneNumber())
	assert.Equal(t, "PN1", p.PhoneNumber.SID)
	assert.Equal(t, p.PhoneNumber.Number, p.Assistants[0].PhoneNumber)
}

func TestWebhook_ConcurrentDistinctEventsKeepOneNumber(t *testing.T) {
	h := newHarness(t)
	h.seedProfile(t, "user-1")
	h.phones.delay = 10 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := checkoutEvent("evt_wa_"+string(rune('a'+i)), "user-1", "cus_1", map[string]string{"kind": "whatsapp"})
			ack, err := h.webhooks.Handle(context.Background(), payload, signed(payload))
			if err != nil {
				t.Errorf("event %d: %v", i, err)
				return
			}
			if ack.Outcome != service.OutcomeProcessed {
				t.Errorf("event %d: outcome %q", i, ack.Outcome)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.phones.purchases.Load())
	p, err := h.store.GetProfile(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, p.HasPhoneNumber())
}

func TestWebhook_InvoicePaidGrantsCredits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedProfile(t, "user-1")
	require.NoError(t, h.store.LinkCustomer(ctx, "user-1", "cus_1"))

	for _, id := range []string{"evt_inv_1", "evt_inv_2"} {
		payload := eventPayload(id, stripe.EventTypeInvoicePaid, map[string]any{
			"id":       "in_" + id,
			"customer": "cus_1",
			"metadata": map[string]string{"credits": "100"},
		})
		ack, err := h.webhooks.Handle(ctx, payload, signed(payload))
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeProcessed, ack.Outcome)
	}

	p, err := h.store.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 200, p.Credits)
}

func TestWebhook_SubscriptionDeletedReleasesNumber(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedProfile(t, "user-1")

	payload := checkoutEvent("evt_wa", "user-1", "cus_1", map[string]string{"kind": "whatsapp"})
	_, err := h.webhooks.Handle(ctx, payload, signed(payload))
	require.NoError(t, err)

	payload = eventPayload("evt_sub_del", stripe.EventTypeCustomerSubscriptionDeleted, map[string]any{"id": "sub_1", "customer": "cus_1"})
	ack, err := h.webhooks.Handle(ctx, payload, signed(payload))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeProcessed, ack.Outcome)
	assert.Equal(t, []string{"PN1"}, h.phones.Cancelled())

	p, err := h.store.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, p.HasPhoneNumber())
	assert.Empty(t, p.Assistants[0].PhoneNumber)
	assert.Contains(t, h.publisher.Types(), domain.DomainPhoneReleased)

	// Nothing left to release.
	payload = eventPayload("evt_sub_del_2", stripe.EventTypeCustomerSubscriptionDeleted, map[string]any{"id": "sub_1", "customer": "cus_1"})
	ack, err = h.webhooks.Handle(ctx, payload, signed(payload))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeIgnored, ack.Outcome)
}

func TestWebhook_FailureReleasesEventForReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payload := eventPayload("evt_inv", stripe.EventTypeInvoicePaid, map[string]any{
		"id":       "in_1",
		"customer": "cus_unknown",
		"metadata": map[string]string{"credits": "30"},
	})

	ack, err := h.webhooks.Handle(ctx, payload, signed(payload))
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.Equal(t, service.OutcomeFailed, ack.Outcome)

	h.seedProfile(t, "user-1")
	require.NoError(t, h.store.LinkCustomer(ctx, "user-1", "cus_unknown"))

	ack, err = h.webhooks.Handle(ctx, payload, signed(payload))
	require.NoError(t, err)
	assert.False(t, ack.Duplicate)
	assert.Equal(t, service.OutcomeProcessed, ack.Outcome)
}

func TestWebhook_UnhandledTypeIgnored(t *testing.T) {
	h := newHarness(t)
	payload := eventPayload("evt_other", "charge.refunded", map[string]any{"id": "ch_1"})

	ack, err := h.webhooks.Handle(context.Background(), payload, signed(payload))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeIgnored, ack.Outcome)
}

func TestWebhook_ProvisioningWithoutProviderFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedProfile(t, "user-1")
	webhooks := service.NewWebhookService(
		service.WebhookConfig{Secret: testWebhookSecret, Tolerance: 5 * time.Minute, DedupTTL: time.Hour},
		h.store, h.store, nil, h.dedup, h.publisher, nopCache(t), h.metrics, nopLogger(),
	)
	payload := checkoutEvent("evt_wa", "user-1", "cus_1", map[string]string{"kind": "whatsapp"})

	ack, err := webhooks.Handle(ctx, payload, signed(payload))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeFailed, ack.Outcome)

	// The event stays replayable once a provider is configured.
	ack, err = h.webhooks.Handle(ctx, payload, signed(payload))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeProcessed, ack.Outcome)
	assert.EqualValues(t, 1, h.phones.purchases.Load())
}

func TestWebhook_InvoicePaidReadsSubscriptionMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedProfile(t, "user-1")
	require.NoError(t, h.store.LinkCustomer(ctx, "user-1", "cus_1"))

	payload := eventPayload("evt_renewal", stripe.EventTypeInvoicePaid, map[string]any{
		"id":                   "in_renewal",
		"customer":             "cus_1",
		"subscription_details": map[string]any{"metadata": map[string]string{"credits": "40"}},
	})
	ack, err := h.webhooks.Handle(ctx, payload, signed(payload))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeProcessed, ack.Outcome)

	p, err := h.store.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 40, p.Credits)
}

// upsertHookStore calls before ahead of every profile write.
type upsertHookStore struct {
	*memory.Store
	before func(p *domain.UserProfile)
}

func (s *upsertHookStore) UpsertProfile(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	if s.before != nil {
		s.before(p)
	}
	return s.Store.UpsertProfile(ctx, p)
}

func TestWebhook_ProvisioningLeavesNoStaleCachedProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedProfile(t, "user-1")

	profileCache := nopCache(t)
	profiles := service.NewProfileService(h.store, h.store, h.store, h.store, h.publisher, profileCache, h.metrics, nopLogger())

	// A read landing while the number is being attached caches the
	// profile as it was before the write.
	hooked := &upsertHookStore{Store: h.store}
	hooked.before = func(p *domain.UserProfile) {
		for _, a := range p.Assistants {
			if a.PhoneNumber != "" {
				_, err := profiles.Get(ctx, p.UserID)
				assert.NoError(t, err)
				return
			}
		}
	}
	provisioner := service.NewProvisioner(h.store, h.phones, "BR", h.metrics, nopLogger())
	webhooks := service.NewWebhookService(
		service.WebhookConfig{Secret: testWebhookSecret, Tolerance: 5 * time.Minute, DedupTTL: time.Hour},
		hooked, h.store, provisioner, h.dedup, h.publisher, profileCache, h.metrics, nopLogger(),
	)

	payload := checkoutEvent("evt_wa", "user-1", "cus_1", map[string]string{"kind": "whatsapp"})
	ack, err := webhooks.Handle(ctx, payload, signed(payload))
	require.NoError(t, err)
	require.Equal(t, service.OutcomeProcessed, ack.Outcome)

	p, err := profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, p.HasPhoneNumber())
	assert.Equal(t, p.PhoneNumber.Number, p.Assistants[0].PhoneNumber)
}
