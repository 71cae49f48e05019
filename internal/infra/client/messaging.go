package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const messagingService = "messaging"

// MessagingClient implements port.PhoneProvider against a Twilio-style
// REST API (account SID + auth token, form-encoded writes).
type MessagingClient struct {
	httpClient *http.Client
	baseURL    string
	accountSID string
	authToken  string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
	logger     *zap.Logger
}

// NewMessagingClient creates a MessagingClient.
func NewMessagingClient(httpClient *http.Client, baseURL, accountSID, authToken string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *MessagingClient {
	return &MessagingClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		cb:         cb,
		cfg:        cfg,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
		logger:     logger,
	}
}

func (c *MessagingClient) accountURL(format string, args ...any) string {
	return fmt.Sprintf("%s/Accounts/%s/", c.baseURL, url.PathEscape(c.accountSID)) + fmt.Sprintf(format, args...)
}

func (c *MessagingClient) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return &domain.ErrTimeout{Operation: messagingService}
	}
	defer c.bulkhead.Release()

	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(messagingService, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type availableNumbersResponse struct {
	AvailablePhoneNumbers []struct {
		PhoneNumber string `json:"phone_number"`
		Locality    string `json:"locality"`
		Region      string `json:"region"`
		ISOCountry  string `json:"iso_country"`
	} `json:"available_phone_numbers"`
}

// SearchNumbers lists local numbers available in country, optionally
// restricted to areaCode.
func (c *MessagingClient) SearchNumbers(ctx context.Context, country, areaCode string, limit int) ([]domain.AvailableNumber, error) {
	ctx, span := tracer.Start(ctx, "MessagingClient.SearchNumbers")
	defer span.End()
	span.SetAttributes(attribute.String("country", country), attribute.String("area_code", areaCode))

	q := url.Values{}
	q.Set("SmsEnabled", "true")
	if areaCode != "" {
		q.Set("AreaCode", areaCode)
	}
	if limit > 0 {
		q.Set("PageSize", strconv.Itoa(limit))
	}
	endpoint := c.accountURL("AvailablePhoneNumbers/%s/Local.json?%s", url.PathEscape(strings.ToUpper(country)), q.Encode())

	var out availableNumbersResponse
	err := resilience.Call(ctx, c.cb, c.cfg, messagingService, func() error {
		return c.do(ctx, http.MethodGet, endpoint, nil, &out)
	})
	if err != nil {
		return nil, err
	}

	numbers := make([]domain.AvailableNumber, 0, len(out.AvailablePhoneNumbers))
	for _, n := range out.AvailablePhoneNumbers {
		numbers = append(numbers, domain.AvailableNumber{
			Number:   n.PhoneNumber,
			Locality: n.Locality,
			Region:   n.Region,
			Country:  n.ISOCountry,
		})
	}
	return numbers, nil
}

type incomingNumberResponse struct {
	SID         string `json:"sid"`
	PhoneNumber string `json:"phone_number"`
}

// PurchaseNumber buys number. It is never retried: a timeout after the
// provider accepted the order would otherwise buy twice.
func (c *MessagingClient) PurchaseNumber(ctx context.Context, number string) (*domain.PhoneNumber, error) {
	ctx, span := tracer.Start(ctx, "MessagingClient.PurchaseNumber")
	defer span.End()

	form := url.Values{}
	form.Set("PhoneNumber", number)

	cfg := c.cfg
	cfg.MaxRetries = 0
	var out incomingNumberResponse
	err := resilience.Call(ctx, c.cb, cfg, messagingService, func() error {
		return c.do(ctx, http.MethodPost, c.accountURL("IncomingPhoneNumbers.json"), form, &out)
	})
	if err != nil {
		c.logger.Error("messaging: purchase failed", zap.String("number", number), zap.Error(err))
		return nil, err
	}

	c.logger.Info("messaging: number purchased",
		zap.String("number", out.PhoneNumber),
		zap.String("sid", out.SID),
	)
	return &domain.PhoneNumber{
		Number:        out.PhoneNumber,
		SID:           out.SID,
		ProvisionedAt: time.Now().UTC(),
	}, nil
}

// CancelNumber releases a purchased number. A 404 means it is already gone.
func (c *MessagingClient) CancelNumber(ctx context.Context, sid string) error {
	ctx, span := tracer.Start(ctx, "MessagingClient.CancelNumber")
	defer span.End()

	endpoint := c.accountURL("IncomingPhoneNumbers/%s.json", url.PathEscape(sid))
	err := resilience.Call(ctx, c.cb, c.cfg, messagingService, func() error {
		return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
	})
	var permanent *domain.ErrPermanent
	if err != nil && errors.As(err, &permanent) && permanent.Status == http.StatusNotFound {
		return nil
	}
	if err == nil {
		c.logger.Info("messaging: number released", zap.String("sid", sid))
	}
	return err
}
