package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/cache"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/dedup"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/memory"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/observability"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test"

// --- Mocks ---

type fakePhones struct {
	mu          sync.Mutex
	purchases   atomic.Int32
	cancelled   []string
	available   []domain.AvailableNumber
	purchaseErr error
	delay       time.Duration
}

func newFakePhones() *fakePhones {
	return &fakePhones{available: []domain.AvailableNumber{{Number: "+5511990000001", Country: "BR"}}}
}

func (f *fakePhones) SearchNumbers(_ context.Context, _, _ string, limit int) ([]domain.AvailableNumber, error) {
	if limit < len(f.available) {
		return f.available[:limit], nil
	}
	return f.available, nil
}

func (f *fakePhones) PurchaseNumber(_ context.Context, number string) (*domain.PhoneNumber, error) {
	if f.purchaseErr != nil {
		return nil, f.purchaseErr
	}
	n := f.purchases.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return &domain.PhoneNumber{Number: number, SID: fmt.Sprintf("PN%d", n), ProvisionedAt: time.Now().UTC()}, nil
}

func (f *fakePhones) CancelNumber(_ context.Context, sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, sid)
	return nil
}

func (f *fakePhones) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt domain.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// --- Harness ---

type harness struct {
	store       *memory.Store
	phones      *fakePhones
	dedup       *dedup.Memory
	publisher   *recordingPublisher
	metrics     *observability.Metrics
	profiles    *service.ProfileService
	provisioner *service.Provisioner
	webhooks    *service.WebhookService
	phoneSvc    *service.PhoneService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	profileCache := cache.New[*domain.UserProfile](time.Minute)
	t.Cleanup(profileCache.Close)

	h := &harness{
		store:     memory.NewStore(),
		phones:    newFakePhones(),
		dedup:     dedup.NewMemory(),
		publisher: &recordingPublisher{},
		metrics:   observability.NewMetrics(),
	}
	h.profiles = service.NewProfileService(h.store, h.store, h.store, h.store, h.publisher, profileCache, h.metrics, logger)
	h.provisioner = service.NewProvisioner(h.store, h.phones, "BR", h.metrics, logger)
	h.webhooks = service.NewWebhookService(
		service.WebhookConfig{Secret: testWebhookSecret, Tolerance: 5 * time.Minute, DedupTTL: time.Hour},
		h.store, h.store, h.provisioner, h.dedup, h.publisher, profileCache, h.metrics, logger,
	)
	h.phoneSvc = service.NewPhoneService(h.phones, h.store, h.provisioner, h.publisher, profileCache, "BR", logger)
	return h
}

// seedProfile stores a profile with one whatsapp assistant.
func (h *harness) seedProfile(t *testing.T, userID string) *domain.UserProfile {
	t.Helper()
	p := domain.NewProfile(userID, time.Now().UTC())
	p.Name = "Loja da Ana"
	p.Assistants = []domain.AssistantConfig{{
		ID:       "asst-wa",
		Name:     "Atendimento",
		Type:     domain.AssistantWhatsApp,
		Purposes: domain.PurposeSet{domain.PurposeCustomerSupport: {}},
		Active:   true,
	}}
	stored, err := h.store.UpsertProfile(context.Background(), p)
	if err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return stored
}

func signed(payload []byte) string {
	return signedAt(payload, time.Now())
}

func signedAt(payload []byte, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: at,
	}).Header
}

func checkoutEvent(id, userID, customer string, metadata map[string]string) []byte {
	obj := map[string]any{
		"id":                  "cs_" + id,
		"customer":            customer,
		"client_reference_id": userID,
		"metadata":            metadata,
	}
	return eventPayload(id, stripe.EventTypeCheckoutSessionCompleted, obj)
}

func eventPayload(id string, typ stripe.EventType, obj map[string]any) []byte {
	b, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    typ,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": obj},
	})
	if err != nil {
		panic(err)
	}
	return b
}

func nopCache(t *testing.T) *cache.InMemory[*domain.UserProfile] {
	c := cache.New[*domain.UserProfile](time.Minute)
	t.Cleanup(c.Close)
	return c
}

func nopLogger() *zap.Logger { return zap.NewNop() }
