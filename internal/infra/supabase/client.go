// Package supabase provides a client for Supabase (PostgREST).
// It is the default backend for profiles and the collections around them.
package supabase

import (
	"context"
	"fmt"
	"net/http"

	"github.com/boddenberg/assistant-manager-bfa/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

const (
	tableProfiles      = "user_profiles"
	tableKnowledge     = "knowledge_entries"
	tableNotifications = "notifications"
	tableOffers        = "credit_offers"
	tableCreditLines   = "credit_lines"
	tableCollaborators = "collaborators"
)

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// Ping checks that PostgREST answers.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	_, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("%s?select=user_id&limit=1", tableProfiles))
	return err
}

// call runs one PostgREST round trip through the breaker and retry policy.
func (c *Client) call(ctx context.Context, fn func() error) error {
	return resilience.Call(ctx, c.cb, c.cfg, "supabase", fn)
}

// callOnce is call without retries, for writes that are not idempotent.
func (c *Client) callOnce(ctx context.Context, fn func() error) error {
	cfg := c.cfg
	cfg.MaxRetries = 0
	return resilience.Call(ctx, c.cb, cfg, "supabase", fn)
}
