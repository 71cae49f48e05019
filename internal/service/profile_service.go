package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/observability"
	"github.com/boddenberg/assistant-manager-bfa/internal/port"
	"github.com/boddenberg/assistant-manager-bfa/internal/wizard"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/profile")

// ProfileService owns reads and writes of the user profile document.
type ProfileService struct {
	store         port.ProfileStore
	notifications port.NotificationStore
	credit        port.CreditStore
	collaborators port.CollaboratorStore
	publisher     port.EventPublisher
	cache         port.Cache[*domain.UserProfile]
	metrics       *observability.Metrics
	logger        *zap.Logger
	now           func() time.Time
	newID         func() string
}

// NewProfileService creates the profile service with all dependencies injected.
func NewProfileService(
	store port.ProfileStore,
	notifications port.NotificationStore,
	credit port.CreditStore,
	collaborators port.CollaboratorStore,
	publisher port.EventPublisher,
	cache port.Cache[*domain.UserProfile],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ProfileService {
	return &ProfileService{
		store:         store,
		notifications: notifications,
		credit:        credit,
		collaborators: collaborators,
		publisher:     publisher,
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
}

func profileKey(userID string) string {
	return "profile:" + userID
}

// Get returns the normalized profile of userID. The result is a copy the
// caller may modify.
func (s *ProfileService) Get(ctx context.Context, userID string) (*domain.UserProfile, error) {
	ctx, span := tracer.Start(ctx, "ProfileService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if p, ok := s.cache.Get(profileKey(userID)); ok {
		s.metrics.IncrCacheHit("profile")
		return p.Clone(), nil
	}
	s.metrics.IncrCacheMiss("profile")

	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("profile fetch: %w", err)
	}
	p.Normalize()
	s.cache.Set(profileKey(userID), p)
	return p.Clone(), nil
}

// Save merges incoming onto the stored document of req.UserID. The caller
// must be that user.
func (s *ProfileService) Save(ctx context.Context, subject string, req *domain.ProfileWriteRequest) (*domain.UserProfile, error) {
	ctx, span := tracer.Start(ctx, "ProfileService.Save")
	defer span.End()

	if req.UserID == "" {
		return nil, &domain.ErrValidation{Field: "userId", Message: "userId is required"}
	}
	if subject != req.UserID {
		s.logger.Warn("profile write for another user rejected",
			zap.String("subject", subject),
			zap.String("user_id", req.UserID),
		)
		s.metrics.IncrProfileWrite("forbidden")
		return nil, &domain.ErrForbidden{Action: "write another user's profile"}
	}
	if req.UserProfile == nil {
		return nil, &domain.ErrValidation{Field: "userProfile", Message: "userProfile is required"}
	}

	existing, err := s.store.GetProfile(ctx, req.UserID)
	var nf *domain.ErrNotFound
	switch {
	case errors.As(err, &nf):
		existing = domain.NewProfile(req.UserID, s.now())
		if err := s.applyReferral(ctx, existing, req.ReferralCode); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("profile fetch: %w", err)
	}

	merged := s.merge(existing, req.UserProfile)
	if err := validateDocument(merged); err != nil {
		s.metrics.IncrProfileWrite("invalid")
		return nil, err
	}
	return s.persist(ctx, merged)
}

func (s *ProfileService) applyReferral(ctx context.Context, p *domain.UserProfile, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	if _, err := s.collaborators.GetCollaboratorByCode(ctx, code); err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			return &domain.ErrValidation{Field: "referralCode", Message: "unknown referral code"}
		}
		return fmt.Errorf("referral lookup: %w", err)
	}
	p.ReferredBy = code
	return nil
}

// merge applies client-editable fields of in onto a copy of base.
func (s *ProfileService) merge(base, in *domain.UserProfile) *domain.UserProfile {
	out := *base
	now := s.now()

	if in.Authenticated {
		out.Authenticated = true
	}
	if in.Email != "" {
		out.Email = in.Email
	}
	if in.Name != "" {
		out.Name = in.Name
	}
	if in.Phone != "" {
		out.Phone = in.Phone
	}
	if in.TermsAcceptedAt != nil {
		out.TermsAcceptedAt = in.TermsAcceptedAt
	}
	if in.Databases != nil {
		out.Databases = make([]domain.DatabaseConfig, len(in.Databases))
		copy(out.Databases, in.Databases)
		for i := range out.Databases {
			d := &out.Databases[i]
			if d.ID == "" {
				d.ID = s.newID()
			}
			if d.CreatedAt.IsZero() {
				d.CreatedAt = now
			}
		}
	}
	if in.Assistants != nil {
		out.Assistants = make([]domain.AssistantConfig, len(in.Assistants))
		copy(out.Assistants, in.Assistants)
		for i := range out.Assistants {
			a := &out.Assistants[i]
			a.PhoneNumber = ""
			if a.ID == "" {
				a.ID = s.newID()
			} else if prev, ok := base.Assistant(a.ID); ok {
				a.PhoneNumber = prev.PhoneNumber
				a.CreatedAt = prev.CreatedAt
			}
			if a.CreatedAt.IsZero() {
				a.CreatedAt = now
			}
			if a.Purposes == nil {
				a.Purposes = domain.PurposeSet{}
			}
			if a.DatabaseID != nil && *a.DatabaseID == "" {
				a.DatabaseID = nil
			}
		}
	}
	if in.Contacts != nil {
		out.Contacts = make([]domain.Contact, len(in.Contacts))
		copy(out.Contacts, in.Contacts)
		for i := range out.Contacts {
			if out.Contacts[i].ID == "" {
				out.Contacts[i].ID = s.newID()
			}
			if out.Contacts[i].CreatedAt.IsZero() {
				out.Contacts[i].CreatedAt = now
			}
		}
	}
	out.UpdatedAt = now
	return &out
}

func validateDocument(p *domain.UserProfile) error {
	seen := make(map[string]bool, len(p.Databases))
	for i := range p.Databases {
		if err := domain.ValidateDatabase(&p.Databases[i]); err != nil {
			return err
		}
		if seen[p.Databases[i].ID] {
			return &domain.ErrValidation{Field: "database.id", Message: "duplicate database id"}
		}
		seen[p.Databases[i].ID] = true
	}
	ids := make(map[string]bool, len(p.Assistants))
	for i := range p.Assistants {
		if err := p.ValidateAssistant(&p.Assistants[i]); err != nil {
			return err
		}
		if ids[p.Assistants[i].ID] {
			return &domain.ErrValidation{Field: "assistant.id", Message: "duplicate assistant id"}
		}
		ids[p.Assistants[i].ID] = true
	}
	return nil
}

// persist writes p, refreshes the cache and announces the change.
func (s *ProfileService) persist(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	stored, err := s.store.UpsertProfile(ctx, p)
	if err != nil {
		s.metrics.IncrProfileWrite("error")
		s.metrics.IncrExternalError("profile_store")
		return nil, fmt.Errorf("profile upsert: %w", err)
	}
	stored.Normalize()
	s.cache.Delete(profileKey(p.UserID))
	s.metrics.IncrProfileWrite("ok")

	publish(ctx, s.publisher, s.logger, domain.DomainEvent{
		Type:   domain.DomainProfileUpdated,
		UserID: p.UserID,
		Payload: map[string]any{
			"assistants": len(stored.Assistants),
			"databases":  len(stored.Databases),
		},
		At: s.now().Unix(),
	})
	return stored, nil
}

// mutate loads the profile, applies fn and persists the result.
func (s *ProfileService) mutate(ctx context.Context, userID string, fn func(p *domain.UserProfile) error) (*domain.UserProfile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("profile fetch: %w", err)
	}
	p.Normalize()
	if err := fn(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now()
	return s.persist(ctx, p)
}

// CompleteWizard finishes w for the authenticated caller and stores the
// resulting profile.
func (s *ProfileService) CompleteWizard(ctx context.Context, id *domain.Identity, w *wizard.Wizard, referralCode string) (*domain.UserProfile, error) {
	ctx, span := tracer.Start(ctx, "ProfileService.CompleteWizard")
	defer span.End()

	w.SetIdentity(id.Subject, id.Email)
	if err := w.Complete(); err != nil {
		return nil, err
	}

	existing, err := s.store.GetProfile(ctx, id.Subject)
	var nf *domain.ErrNotFound
	switch {
	case errors.As(err, &nf):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("profile fetch: %w", err)
	}
	// The flow flags come from the client; a caller without a profile is a
	// new user whatever they claim.
	if existing == nil && !w.State().TermsAccepted {
		return nil, &domain.ErrValidation{Field: string(wizard.ScreenReview), Message: "Accept the terms of use."}
	}

	p, err := w.BuildProfile(existing, s.now(), s.newID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := s.applyReferral(ctx, p, referralCode); err != nil {
			return nil, err
		}
	}

	s.logger.Info("wizard completed",
		zap.String("user_id", id.Subject),
		zap.Int("assistants", len(p.Assistants)),
		zap.Bool("new_profile", existing == nil),
	)
	return s.persist(ctx, p)
}

// ============================================================
// Assistants
// ============================================================

func (s *ProfileService) AddAssistant(ctx context.Context, userID string, a domain.AssistantConfig) (*domain.AssistantConfig, error) {
	var created domain.AssistantConfig
	_, err := s.mutate(ctx, userID, func(p *domain.UserProfile) error {
		a.ID = s.newID()
		a.CreatedAt = s.now()
		a.PhoneNumber = ""
		if a.Purposes == nil {
			a.Purposes = domain.PurposeSet{}
		}
		if err := p.ValidateAssistant(&a); err != nil {
			return err
		}
		p.Assistants = append(p.Assistants, a)
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *ProfileService) UpdateAssistant(ctx context.Context, userID, id string, a domain.AssistantConfig) (*domain.AssistantConfig, error) {
	var updated domain.AssistantConfig
	_, err := s.mutate(ctx, userID, func(p *domain.UserProfile) error {
		current, ok := p.Assistant(id)
		if !ok {
			return &domain.ErrNotFound{Resource: "assistant", ID: id}
		}
		a.ID = current.ID
		a.CreatedAt = current.CreatedAt
		a.PhoneNumber = current.PhoneNumber
		if a.Purposes == nil {
			a.Purposes = domain.PurposeSet{}
		}
		if a.DatabaseID != nil && *a.DatabaseID == "" {
			a.DatabaseID = nil
		}
		if err := p.ValidateAssistant(&a); err != nil {
			return err
		}
		*current = a
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *ProfileService) DeleteAssistant(ctx context.Context, userID, id string) error {
	_, err := s.mutate(ctx, userID, func(p *domain.UserProfile) error {
		for i := range p.Assistants {
			if p.Assistants[i].ID == id {
				p.Assistants = append(p.Assistants[:i], p.Assistants[i+1:]...)
				return nil
			}
		}
		return &domain.ErrNotFound{Resource: "assistant", ID: id}
	})
	return err
}

// ============================================================
// Databases
// ============================================================

func (s *ProfileService) AddDatabase(ctx context.Context, userID string, d domain.DatabaseConfig) (*domain.DatabaseConfig, error) {
	if err := domain.ValidateDatabase(&d); err != nil {
		return nil, err
	}
	d.ID = s.newID()
	d.CreatedAt = s.now()
	_, err := s.mutate(ctx, userID, func(p *domain.UserProfile) error {
		p.Databases = append(p.Databases, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDatabase removes a database; assistants pointing at it are unlinked.
func (s *ProfileService) DeleteDatabase(ctx context.Context, userID, id string) error {
	_, err := s.mutate(ctx, userID, func(p *domain.UserProfile) error {
		if !p.UnlinkDatabase(id) {
			return &domain.ErrNotFound{Resource: "database", ID: id}
		}
		return nil
	})
	return err
}

// ============================================================
// Contacts
// ============================================================

func (s *ProfileService) ListContacts(ctx context.Context, userID string) ([]domain.Contact, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.Contacts, nil
}

func (s *ProfileService) AddContact(ctx context.Context, userID string, c domain.Contact) (*domain.Contact, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "name is required"}
	}
	if c.Phone == "" && c.Email == "" {
		return nil, &domain.ErrValidation{Field: "phone", Message: "phone or email is required"}
	}
	c.ID = s.newID()
	c.CreatedAt = s.now()
	_, err := s.mutate(ctx, userID, func(p *domain.UserProfile) error {
		p.Contacts = append(p.Contacts, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *ProfileService) DeleteContact(ctx context.Context, userID, id string) error {
	_, err := s.mutate(ctx, userID, func(p *domain.UserProfile) error {
		for i := range p.Contacts {
			if p.Contacts[i].ID == id {
				p.Contacts = append(p.Contacts[:i], p.Contacts[i+1:]...)
				return nil
			}
		}
		return &domain.ErrNotFound{Resource: "contact", ID: id}
	})
	return err
}

// ============================================================
// Dashboard
// ============================================================

// Dashboard loads the profile, unread notifications and credit lines
// concurrently.
func (s *ProfileService) Dashboard(ctx context.Context, userID string) (*domain.DashboardView, error) {
	ctx, span := tracer.Start(ctx, "ProfileService.Dashboard")
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("dashboard", time.Since(start))
	}()

	var view domain.DashboardView
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p, err := s.Get(gCtx, userID)
		if err != nil {
			return err
		}
		view.Profile = p
		return nil
	})
	g.Go(func() error {
		n, err := s.notifications.ListNotifications(gCtx, userID, true)
		if err != nil {
			s.metrics.IncrExternalError("notifications")
			return fmt.Errorf("notifications fetch: %w", err)
		}
		view.Notifications = n
		return nil
	})
	g.Go(func() error {
		l, err := s.credit.ListCreditLines(gCtx, userID)
		if err != nil {
			s.metrics.IncrExternalError("credit_lines")
			return fmt.Errorf("credit lines fetch: %w", err)
		}
		view.CreditLines = l
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &view, nil
}

// publish sends evt and only logs failures; events never fail a request.
func publish(ctx context.Context, p port.EventPublisher, logger *zap.Logger, evt domain.DomainEvent) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, evt); err != nil {
		logger.Warn("domain event not published",
			zap.String("event_type", evt.Type),
			zap.String("user_id", evt.UserID),
			zap.Error(err),
		)
	}
}
