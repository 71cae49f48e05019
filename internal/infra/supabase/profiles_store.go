package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Profiles: implements port.ProfileStore
// ============================================================

// profileRow maps the user_profiles table. Lists live in jsonb columns.
type profileRow struct {
	UserID             string          `json:"user_id"`
	Authenticated      bool            `json:"authenticated"`
	Email              string          `json:"email"`
	Name               string          `json:"name"`
	Phone              string          `json:"phone"`
	Credits            int             `json:"credits"`
	StripeCustomerID   *string         `json:"stripe_customer_id"`
	PhoneNumber        *string         `json:"phone_number"`
	PhoneNumberSID     *string         `json:"phone_number_sid"`
	PhoneProvisionedAt *time.Time      `json:"phone_provisioned_at"`
	Assistants         json.RawMessage `json:"assistants"`
	Databases          json.RawMessage `json:"databases"`
	Contacts           json.RawMessage `json:"contacts"`
	ReferredBy         *string         `json:"referred_by"`
	TermsAcceptedAt    *time.Time      `json:"terms_accepted_at"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (r *profileRow) toDomain() (*domain.UserProfile, error) {
	p := &domain.UserProfile{
		UserID:          r.UserID,
		Authenticated:   r.Authenticated,
		Email:           r.Email,
		Name:            r.Name,
		Phone:           r.Phone,
		Credits:         r.Credits,
		TermsAcceptedAt: r.TermsAcceptedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.StripeCustomerID != nil {
		p.StripeCustomerID = *r.StripeCustomerID
	}
	if r.ReferredBy != nil {
		p.ReferredBy = *r.ReferredBy
	}
	if r.PhoneNumber != nil && *r.PhoneNumber != "" {
		pn := &domain.PhoneNumber{Number: *r.PhoneNumber}
		if r.PhoneNumberSID != nil {
			pn.SID = *r.PhoneNumberSID
		}
		if r.PhoneProvisionedAt != nil {
			pn.ProvisionedAt = *r.PhoneProvisionedAt
		}
		p.PhoneNumber = pn
	}

	assistants, err := domain.DecodeStoredAssistants(r.Assistants)
	if err != nil {
		return nil, fmt.Errorf("decode assistants: %w", err)
	}
	p.Assistants = assistants
	if len(r.Databases) > 0 && string(r.Databases) != "null" {
		if err := json.Unmarshal(r.Databases, &p.Databases); err != nil {
			return nil, fmt.Errorf("decode databases: %w", err)
		}
	}
	if len(r.Contacts) > 0 && string(r.Contacts) != "null" {
		if err := json.Unmarshal(r.Contacts, &p.Contacts); err != nil {
			return nil, fmt.Errorf("decode contacts: %w", err)
		}
	}
	p.Normalize()
	return p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// profileColumns is the upsert payload. Credits, phone number and customer
// id are left out: they change only through their dedicated calls, and on
// insert the column defaults apply.
func profileColumns(p *domain.UserProfile) map[string]any {
	return map[string]any{
		"user_id":           p.UserID,
		"authenticated":     p.Authenticated,
		"email":             p.Email,
		"name":              p.Name,
		"phone":             p.Phone,
		"assistants":        p.Assistants,
		"databases":         p.Databases,
		"contacts":          p.Contacts,
		"referred_by":       nullable(p.ReferredBy),
		"terms_accepted_at": p.TermsAcceptedAt,
		"created_at":        p.CreatedAt,
		"updated_at":        p.UpdatedAt,
	}
}

func (c *Client) fetchProfile(ctx context.Context, filter, id string) (*domain.UserProfile, error) {
	var rows []profileRow
	err := c.call(ctx, func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("%s?%s&limit=1", tableProfiles, filter))
		if err != nil {
			return err
		}
		rows, err = decodeRows[profileRow](body)
		if err != nil {
			return fmt.Errorf("decode profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: id}
	}
	return rows[0].toDomain()
}

// GetProfile fetches the profile document of userID.
func (c *Client) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	return c.fetchProfile(ctx, eq("user_id", userID), userID)
}

// FindProfileByCustomerID resolves a profile by payment customer id.
func (c *Client) FindProfileByCustomerID(ctx context.Context, customerID string) (*domain.UserProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindProfileByCustomerID")
	defer span.End()

	return c.fetchProfile(ctx, eq("stripe_customer_id", customerID), customerID)
}

// UpsertProfile inserts or replaces the document keyed by user_id.
func (c *Client) UpsertProfile(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", p.UserID))

	var rows []profileRow
	err := c.call(ctx, func() error {
		body, err := c.doUpsert(ctx, tableProfiles, "user_id", profileColumns(p))
		if err != nil {
			return err
		}
		rows, err = decodeRows[profileRow](body)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("upsert profile %s: empty representation", p.UserID)
	}
	return rows[0].toDomain()
}

// ClaimPhoneNumber writes the number only where phone_number is null, so
// two concurrent claims cannot both succeed.
func (c *Client) ClaimPhoneNumber(ctx context.Context, userID string, number domain.PhoneNumber) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ClaimPhoneNumber")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	path := fmt.Sprintf("%s?%s&phone_number=is.null", tableProfiles, eq("user_id", userID))
	var rows []profileRow
	err := c.call(ctx, func() error {
		body, err := c.doPatch(ctx, path, map[string]any{
			"phone_number":         number.Number,
			"phone_number_sid":     number.SID,
			"phone_provisioned_at": number.ProvisionedAt,
			"updated_at":           time.Now().UTC(),
		}, true)
		if err != nil {
			return err
		}
		rows, err = decodeRows[profileRow](body)
		return err
	})
	if err != nil {
		return false, err
	}

	claimed := len(rows) > 0
	c.logger.Info("supabase: phone number claim",
		zap.String("user_id", userID),
		zap.String("number", number.Number),
		zap.Bool("claimed", claimed),
	)
	return claimed, nil
}

// ReleasePhoneNumber clears the number if it still carries sid.
func (c *Client) ReleasePhoneNumber(ctx context.Context, userID, sid string) error {
	ctx, span := tracer.Start(ctx, "Supabase.ReleasePhoneNumber")
	defer span.End()

	path := fmt.Sprintf("%s?%s&%s", tableProfiles, eq("user_id", userID), eq("phone_number_sid", sid))
	return c.call(ctx, func() error {
		_, err := c.doPatch(ctx, path, map[string]any{
			"phone_number":         nil,
			"phone_number_sid":     nil,
			"phone_provisioned_at": nil,
			"updated_at":           time.Now().UTC(),
		}, false)
		return err
	})
}

// AddCredits increments the balance server-side through the add_credits
// function (update ... set credits = credits + p_delta returning credits).
func (c *Client) AddCredits(ctx context.Context, userID string, delta int) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.AddCredits")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int("credits.delta", delta))

	var balance *int
	err := c.callOnce(ctx, func() error {
		body, err := c.doRPC(ctx, "add_credits", map[string]any{
			"p_user_id": userID,
			"p_delta":   delta,
		})
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &balance)
	})
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	return *balance, nil
}

// LinkCustomer stores the payment customer id on the profile.
func (c *Client) LinkCustomer(ctx context.Context, userID, customerID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.LinkCustomer")
	defer span.End()

	path := fmt.Sprintf("%s?%s", tableProfiles, eq("user_id", userID))
	return c.call(ctx, func() error {
		_, err := c.doPatch(ctx, path, map[string]any{
			"stripe_customer_id": customerID,
			"updated_at":         time.Now().UTC(),
		}, false)
		return err
	})
}

// ListProfilesReferredBy lists profiles that signed up with code.
func (c *Client) ListProfilesReferredBy(ctx context.Context, code string) ([]domain.UserProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProfilesReferredBy")
	defer span.End()

	var rows []profileRow
	err := c.call(ctx, func() error {
		body, err := c.doRequest(ctx, http.MethodGet,
			fmt.Sprintf("%s?%s&order=created_at.asc", tableProfiles, eq("referred_by", code)))
		if err != nil {
			return err
		}
		rows, err = decodeRows[profileRow](body)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.UserProfile, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}
