package service

import (
	"context"
	"fmt"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/observability"
	"github.com/boddenberg/assistant-manager-bfa/internal/port"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Provisioning outcomes.
const (
	ProvisionCreated  = "provisioned"
	ProvisionExisting = "already_provisioned"
)

// ProvisionResult is the number held by the user after Provision.
type ProvisionResult struct {
	Number  domain.PhoneNumber
	Outcome string
}

// Provisioner buys at most one number per user. Concurrent calls for the
// same user share one attempt in-process; across processes the store's
// conditional claim decides, and a purchase that loses the claim is
// cancelled at the provider.
type Provisioner struct {
	profiles port.ProfileStore
	phones   port.PhoneProvider
	country  string
	group    singleflight.Group
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewProvisioner creates a Provisioner searching numbers in country.
func NewProvisioner(profiles port.ProfileStore, phones port.PhoneProvider, country string, metrics *observability.Metrics, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		profiles: profiles,
		phones:   phones,
		country:  country,
		metrics:  metrics,
		logger:   logger,
	}
}

// ProvisionRequest narrows the number search. Number, when set, is bought
// as is.
type ProvisionRequest struct {
	Number   string
	Country  string
	AreaCode string
}

// Provision makes sure userID holds a number. Only the caller that
// performed a purchase sees ProvisionCreated; callers that joined it see
// ProvisionExisting.
func (p *Provisioner) Provision(ctx context.Context, userID string, req ProvisionRequest) (*ProvisionResult, error) {
	leader := false
	v, err, shared := p.group.Do(userID, func() (any, error) {
		leader = true
		return p.provision(ctx, userID, req)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*ProvisionResult)
	if shared && !leader {
		p.logger.Debug("provisioning shared with concurrent caller", zap.String("user_id", userID))
		res.Outcome = ProvisionExisting
	}
	return &res, nil
}

func (p *Provisioner) provision(ctx context.Context, userID string, req ProvisionRequest) (*ProvisionResult, error) {
	profile, err := p.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("profile fetch: %w", err)
	}
	if profile.HasPhoneNumber() {
		p.metrics.IncrPhoneNumber("existing")
		return &ProvisionResult{Number: *profile.PhoneNumber, Outcome: ProvisionExisting}, nil
	}

	number := req.Number
	if number == "" {
		country := req.Country
		if country == "" {
			country = p.country
		}
		available, err := p.phones.SearchNumbers(ctx, country, req.AreaCode, 1)
		if err != nil {
			p.metrics.IncrExternalError("messaging")
			return nil, fmt.Errorf("number search: %w", err)
		}
		if len(available) == 0 {
			return nil, &domain.ErrConflict{Message: "no phone numbers available for the requested area"}
		}
		number = available[0].Number
	}

	bought, err := p.phones.PurchaseNumber(ctx, number)
	if err != nil {
		p.metrics.IncrExternalError("messaging")
		p.metrics.IncrPhoneNumber("purchase_failed")
		return nil, fmt.Errorf("number purchase: %w", err)
	}

	won, err := p.profiles.ClaimPhoneNumber(ctx, userID, *bought)
	if err != nil {
		// The write may have landed; keep the number and let a replay decide.
		p.logger.Error("phone claim failed after purchase",
			zap.String("user_id", userID),
			zap.String("sid", bought.SID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("number claim: %w", err)
	}
	if !won {
		// A retried claim may report false for a write that did land.
		current, err := p.profiles.GetProfile(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("profile fetch after claim: %w", err)
		}
		if current.PhoneNumber == nil || current.PhoneNumber.SID != bought.SID {
			p.cancel(ctx, userID, bought.SID)
			p.metrics.IncrPhoneNumber("duplicate_cancelled")
			if !current.HasPhoneNumber() {
				return nil, &domain.ErrConflict{Message: "phone number claim was not applied"}
			}
			return &ProvisionResult{Number: *current.PhoneNumber, Outcome: ProvisionExisting}, nil
		}
	}

	p.metrics.IncrPhoneNumber("provisioned")
	p.logger.Info("phone number provisioned",
		zap.String("user_id", userID),
		zap.String("number", bought.Number),
		zap.String("sid", bought.SID),
	)
	return &ProvisionResult{Number: *bought, Outcome: ProvisionCreated}, nil
}

func (p *Provisioner) cancel(ctx context.Context, userID, sid string) {
	if err := p.phones.CancelNumber(ctx, sid); err != nil {
		p.metrics.IncrExternalError("messaging")
		p.logger.Error("failed to cancel surplus number",
			zap.String("user_id", userID),
			zap.String("sid", sid),
			zap.Error(err),
		)
		return
	}
	p.logger.Warn("surplus number cancelled after losing the claim",
		zap.String("user_id", userID),
		zap.String("sid", sid),
	)
}

// Release cancels the user's number at the provider and clears it from the
// profile. It returns the released number, or nil when none was held.
func (p *Provisioner) Release(ctx context.Context, userID string) (*domain.PhoneNumber, error) {
	profile, err := p.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("profile fetch: %w", err)
	}
	if !profile.HasPhoneNumber() {
		return nil, nil
	}
	number := *profile.PhoneNumber
	if err := p.phones.CancelNumber(ctx, number.SID); err != nil {
		p.metrics.IncrExternalError("messaging")
		return nil, fmt.Errorf("number cancel: %w", err)
	}
	if err := p.profiles.ReleasePhoneNumber(ctx, userID, number.SID); err != nil {
		return nil, fmt.Errorf("number release: %w", err)
	}
	if err := detachNumber(ctx, p.profiles, userID, number.Number); err != nil {
		p.logger.Warn("released number still shown on assistants", zap.String("user_id", userID), zap.Error(err))
	}
	p.metrics.IncrPhoneNumber("released")
	return &number, nil
}
