package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var collaboratorTracer = otel.Tracer("service/collaborator")

const (
	bcryptCost            = 12
	minPasswordLength     = 8
	defaultCommissionRate = 0.10
	referralCodeLength    = 8
	referralAlphabet      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// CollaboratorTokenIssuer signs collaborator session tokens.
type CollaboratorTokenIssuer interface {
	Sign(id, email string) (string, error)
	TTL() time.Duration
}

// CollaboratorService runs the referral program: registration, login and
// the collaborator dashboard.
type CollaboratorService struct {
	store    port.CollaboratorStore
	profiles port.ProfileStore
	tokens   CollaboratorTokenIssuer
	logger   *zap.Logger
}

// NewCollaboratorService creates the collaborator service.
func NewCollaboratorService(store port.CollaboratorStore, profiles port.ProfileStore, tokens CollaboratorTokenIssuer, logger *zap.Logger) *CollaboratorService {
	return &CollaboratorService{store: store, profiles: profiles, tokens: tokens, logger: logger}
}

// ============================================================
// Register: POST /api/collaborators/register
// ============================================================

func (s *CollaboratorService) Register(ctx context.Context, req *domain.CollaboratorRegisterRequest) (*domain.Collaborator, error) {
	ctx, span := collaboratorTracer.Start(ctx, "CollaboratorService.Register")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &domain.ErrValidation{Field: "email", Message: "invalid email"}
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "name is required"}
	}
	if len(req.Password) < minPasswordLength {
		return nil, &domain.ErrValidation{
			Field:   "password",
			Message: fmt.Sprintf("password must have at least %d characters", minPasswordLength),
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	code, err := newReferralCode()
	if err != nil {
		return nil, err
	}

	c, err := s.store.CreateCollaborator(ctx, &domain.Collaborator{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(req.Name),
		Email:          email,
		PasswordHash:   string(hash),
		ReferralCode:   code,
		PayoutKey:      req.PayoutKey,
		CommissionRate: defaultCommissionRate,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("collaborator registered",
		zap.String("collaborator_id", c.ID),
		zap.String("referral_code", c.ReferralCode),
	)
	return c, nil
}

// ============================================================
// Login: POST /api/collaborators/login
// ============================================================

func (s *CollaboratorService) Login(ctx context.Context, req *domain.CollaboratorLoginRequest) (*domain.CollaboratorLoginResponse, error) {
	ctx, span := collaboratorTracer.Start(ctx, "CollaboratorService.Login")
	defer span.End()

	c, err := s.store.GetCollaboratorByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
		}
		return nil, fmt.Errorf("get collaborator: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("collaborator login: wrong password", zap.String("collaborator_id", c.ID))
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}

	token, err := s.tokens.Sign(c.ID, c.Email)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &domain.CollaboratorLoginResponse{
		AccessToken:  token,
		ExpiresIn:    int(s.tokens.TTL().Seconds()),
		Collaborator: c,
	}, nil
}

// Me returns the collaborator with the users that signed up with their code.
func (s *CollaboratorService) Me(ctx context.Context, id string) (*domain.CollaboratorDashboard, error) {
	ctx, span := collaboratorTracer.Start(ctx, "CollaboratorService.Me")
	defer span.End()

	c, err := s.store.GetCollaboratorByID(ctx, id)
	if err != nil {
		return nil, err
	}
	profiles, err := s.profiles.ListProfilesReferredBy(ctx, c.ReferralCode)
	if err != nil {
		return nil, fmt.Errorf("referrals fetch: %w", err)
	}

	dash := &domain.CollaboratorDashboard{Collaborator: c, Referrals: make([]domain.Referral, 0, len(profiles))}
	total := 0
	for _, p := range profiles {
		dash.Referrals = append(dash.Referrals, domain.Referral{
			UserID:    p.UserID,
			Name:      p.Name,
			Credits:   p.Credits,
			CreatedAt: p.CreatedAt,
		})
		total += p.Credits
	}
	dash.EstimatedCommission = c.CommissionRate * float64(total)
	return dash, nil
}

func newReferralCode() (string, error) {
	buf := make([]byte, referralCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("referral code: %w", err)
	}
	for i, b := range buf {
		buf[i] = referralAlphabet[int(b)%len(referralAlphabet)]
	}
	return string(buf), nil
}
