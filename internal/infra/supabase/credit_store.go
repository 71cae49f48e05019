package supabase

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Credit offers & credit lines: implements port.CreditStore
// ============================================================

type offerRow struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	AssistantID     string    `json:"assistant_id"`
	Name            string    `json:"name"`
	MinAmount       float64   `json:"min_amount"`
	MaxAmount       float64   `json:"max_amount"`
	InterestRate    float64   `json:"interest_rate"`
	MaxInstallments int       `json:"max_installments"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

type creditLineRow struct {
	ID             string                  `json:"id"`
	UserID         string                  `json:"user_id"`
	OfferID        string                  `json:"offer_id"`
	ApplicantName  string                  `json:"applicant_name"`
	ApplicantPhone string                  `json:"applicant_phone"`
	Amount         float64                 `json:"amount"`
	Installments   int                     `json:"installments"`
	Status         domain.CreditLineStatus `json:"status"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`

	// MonthlyPayment mirrors domain.CreditLine so the two convert directly;
	// it is derived, never stored, hence excluded from JSON.
	MonthlyPayment float64 `json:"-"`
}

func (c *Client) listRows(ctx context.Context, path string, decode func([]byte) error) error {
	return c.call(ctx, func() error {
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		return decode(body)
	})
}

// ListOffers lists the offers configured by userID.
func (c *Client) ListOffers(ctx context.Context, userID string) ([]domain.CreditOffer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListOffers")
	defer span.End()

	var rows []offerRow
	err := c.listRows(ctx, fmt.Sprintf("%s?%s&order=created_at.asc", tableOffers, eq("user_id", userID)), func(b []byte) (err error) {
		rows, err = decodeRows[offerRow](b)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.CreditOffer, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.CreditOffer(r))
	}
	return out, nil
}

// GetOffer fetches one offer of userID.
func (c *Client) GetOffer(ctx context.Context, userID, id string) (*domain.CreditOffer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetOffer")
	defer span.End()

	var rows []offerRow
	err := c.listRows(ctx, fmt.Sprintf("%s?%s&%s&limit=1", tableOffers, eq("id", id), eq("user_id", userID)), func(b []byte) (err error) {
		rows, err = decodeRows[offerRow](b)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "credit offer", ID: id}
	}
	o := domain.CreditOffer(rows[0])
	return &o, nil
}

// CreateOffer inserts an offer.
func (c *Client) CreateOffer(ctx context.Context, o *domain.CreditOffer) (*domain.CreditOffer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateOffer")
	defer span.End()

	err := c.callOnce(ctx, func() error {
		_, err := c.doPost(ctx, tableOffers, offerRow(*o))
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// DeleteOffer removes an offer of userID.
func (c *Client) DeleteOffer(ctx context.Context, userID, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteOffer")
	defer span.End()

	return c.call(ctx, func() error {
		return c.doDelete(ctx, fmt.Sprintf("%s?%s&%s", tableOffers, eq("id", id), eq("user_id", userID)))
	})
}

// ListCreditLines lists credit requests received by userID's assistants.
func (c *Client) ListCreditLines(ctx context.Context, userID string) ([]domain.CreditLine, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListCreditLines")
	defer span.End()

	var rows []creditLineRow
	err := c.listRows(ctx, fmt.Sprintf("%s?%s&order=created_at.desc", tableCreditLines, eq("user_id", userID)), func(b []byte) (err error) {
		rows, err = decodeRows[creditLineRow](b)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.CreditLine, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.CreditLine(r))
	}
	return out, nil
}

// GetCreditLine fetches one credit line of userID.
func (c *Client) GetCreditLine(ctx context.Context, userID, id string) (*domain.CreditLine, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCreditLine")
	defer span.End()

	var rows []creditLineRow
	err := c.listRows(ctx, fmt.Sprintf("%s?%s&%s&limit=1", tableCreditLines, eq("id", id), eq("user_id", userID)), func(b []byte) (err error) {
		rows, err = decodeRows[creditLineRow](b)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "credit line", ID: id}
	}
	l := domain.CreditLine(rows[0])
	return &l, nil
}

// CreateCreditLine inserts a credit line.
func (c *Client) CreateCreditLine(ctx context.Context, l *domain.CreditLine) (*domain.CreditLine, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateCreditLine")
	defer span.End()

	err := c.callOnce(ctx, func() error {
		_, err := c.doPost(ctx, tableCreditLines, creditLineRow(*l))
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// UpdateCreditLineStatus moves a line from → to, filtered on the current
// status so a concurrent transition cannot be overwritten.
func (c *Client) UpdateCreditLineStatus(ctx context.Context, id string, from, to domain.CreditLineStatus) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateCreditLineStatus")
	defer span.End()

	path := fmt.Sprintf("%s?%s&%s", tableCreditLines, eq("id", id), eq("status", string(from)))
	var rows []creditLineRow
	err := c.call(ctx, func() error {
		body, err := c.doPatch(ctx, path, map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		}, true)
		if err != nil {
			return err
		}
		rows, err = decodeRows[creditLineRow](body)
		return err
	})
	if err != nil {
		return false, err
	}

	c.logger.Info("supabase: credit line status",
		zap.String("credit_line_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Bool("updated", len(rows) > 0),
	)
	return len(rows) > 0, nil
}
