package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
)

// ============================================================
// Collaborators: implements port.CollaboratorStore
// ============================================================

type collaboratorRow struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"password_hash"`
	ReferralCode   string    `json:"referral_code"`
	PayoutKey      string    `json:"payout_key"`
	CommissionRate float64   `json:"commission_rate"`
	CreatedAt      time.Time `json:"created_at"`
}

func (c *Client) getCollaborator(ctx context.Context, column, value string) (*domain.Collaborator, error) {
	var rows []collaboratorRow
	err := c.listRows(ctx, fmt.Sprintf("%s?%s&limit=1", tableCollaborators, eq(column, value)), func(b []byte) (err error) {
		rows, err = decodeRows[collaboratorRow](b)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "collaborator", ID: value}
	}
	col := domain.Collaborator(rows[0])
	return &col, nil
}

// CreateCollaborator inserts a collaborator. A unique violation on email or
// referral code surfaces as a conflict.
func (c *Client) CreateCollaborator(ctx context.Context, col *domain.Collaborator) (*domain.Collaborator, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateCollaborator")
	defer span.End()

	err := c.callOnce(ctx, func() error {
		_, err := c.doPost(ctx, tableCollaborators, collaboratorRow(*col))
		return err
	})
	if err != nil {
		if isStatus(err, 409) {
			return nil, &domain.ErrConflict{Message: "collaborator already registered"}
		}
		return nil, err
	}
	return col, nil
}

// GetCollaboratorByEmail looks a collaborator up by login email.
func (c *Client) GetCollaboratorByEmail(ctx context.Context, email string) (*domain.Collaborator, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCollaboratorByEmail")
	defer span.End()
	return c.getCollaborator(ctx, "email", email)
}

// GetCollaboratorByID looks a collaborator up by id.
func (c *Client) GetCollaboratorByID(ctx context.Context, id string) (*domain.Collaborator, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCollaboratorByID")
	defer span.End()
	return c.getCollaborator(ctx, "id", id)
}

// GetCollaboratorByCode looks a collaborator up by referral code.
func (c *Client) GetCollaboratorByCode(ctx context.Context, code string) (*domain.Collaborator, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCollaboratorByCode")
	defer span.End()
	return c.getCollaborator(ctx, "referral_code", code)
}
