// Package memory provides process-local implementations of the store ports.
// It backs local development and tests; data is lost on restart.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
)

// Store implements every persistence port over maps guarded by one mutex.
type Store struct {
	mu            sync.RWMutex
	profiles      map[string]*domain.UserProfile
	knowledge     map[string]domain.KnowledgeEntry
	notifications map[string]domain.Notification
	offers        map[string]domain.CreditOffer
	lines         map[string]domain.CreditLine
	collaborators map[string]domain.Collaborator
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		profiles:      make(map[string]*domain.UserProfile),
		knowledge:     make(map[string]domain.KnowledgeEntry),
		notifications: make(map[string]domain.Notification),
		offers:        make(map[string]domain.CreditOffer),
		lines:         make(map[string]domain.CreditLine),
		collaborators: make(map[string]domain.Collaborator),
	}
}

// cloneProfile deep-copies through the stored representation so callers
// never share slices with the map.
func cloneProfile(p *domain.UserProfile) (*domain.UserProfile, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out domain.UserProfile
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	out.Normalize()
	return &out, nil
}

// ============================================================
// port.ProfileStore
// ============================================================

func (s *Store) GetProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	return cloneProfile(p)
}

func (s *Store) FindProfileByCustomerID(_ context.Context, customerID string) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if customerID != "" && p.StripeCustomerID == customerID {
			return cloneProfile(p)
		}
	}
	return nil, &domain.ErrNotFound{Resource: "profile", ID: customerID}
}

func (s *Store) UpsertProfile(_ context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	stored, err := cloneProfile(p)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.profiles[p.UserID]; ok {
		stored.Credits = current.Credits
		stored.PhoneNumber = current.PhoneNumber
		stored.StripeCustomerID = current.StripeCustomerID
	}
	s.profiles[p.UserID] = stored
	return cloneProfile(stored)
}

func (s *Store) ClaimPhoneNumber(_ context.Context, userID string, number domain.PhoneNumber) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok || p.HasPhoneNumber() {
		return false, nil
	}
	n := number
	p.PhoneNumber = &n
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) ReleasePhoneNumber(_ context.Context, userID, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	if p.PhoneNumber != nil && p.PhoneNumber.SID == sid {
		p.PhoneNumber = nil
		p.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) AddCredits(_ context.Context, userID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return 0, &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	p.Credits += delta
	p.UpdatedAt = time.Now().UTC()
	return p.Credits, nil
}

func (s *Store) LinkCustomer(_ context.Context, userID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	p.StripeCustomerID = customerID
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListProfilesReferredBy(_ context.Context, code string) ([]domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.UserProfile{}
	for _, p := range s.profiles {
		if p.ReferredBy == code {
			c, err := cloneProfile(p)
			if err != nil {
				return nil, err
			}
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ============================================================
// port.KnowledgeStore / port.NotificationStore
// ============================================================

func (s *Store) ListKnowledge(_ context.Context, userID, databaseID string) ([]domain.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.KnowledgeEntry{}
	for _, e := range s.knowledge {
		if e.UserID == userID && (databaseID == "" || e.DatabaseID == databaseID) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateKnowledge(_ context.Context, e *domain.KnowledgeEntry) (*domain.KnowledgeEntry, error) {
	s.mu.Lock()
	s.knowledge[e.ID] = *e
	s.mu.Unlock()
	return e, nil
}

func (s *Store) DeleteKnowledge(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.knowledge[id]
	if !ok || e.UserID != userID {
		return &domain.ErrNotFound{Resource: "knowledge entry", ID: id}
	}
	delete(s.knowledge, id)
	return nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Notification{}
	for _, n := range s.notifications {
		if n.UserID == userID && (!unreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateNotification(_ context.Context, n *domain.Notification) error {
	s.mu.Lock()
	s.notifications[n.ID] = *n
	s.mu.Unlock()
	return nil
}

func (s *Store) MarkNotificationRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return &domain.ErrNotFound{Resource: "notification", ID: id}
	}
	n.Read = true
	s.notifications[id] = n
	return nil
}

// ============================================================
// port.CreditStore
// ============================================================

func (s *Store) ListOffers(_ context.Context, userID string) ([]domain.CreditOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.CreditOffer{}
	for _, o := range s.offers {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetOffer(_ context.Context, userID, id string) (*domain.CreditOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[id]
	if !ok || o.UserID != userID {
		return nil, &domain.ErrNotFound{Resource: "credit offer", ID: id}
	}
	return &o, nil
}

func (s *Store) CreateOffer(_ context.Context, o *domain.CreditOffer) (*domain.CreditOffer, error) {
	s.mu.Lock()
	s.offers[o.ID] = *o
	s.mu.Unlock()
	return o, nil
}

func (s *Store) DeleteOffer(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok || o.UserID != userID {
		return &domain.ErrNotFound{Resource: "credit offer", ID: id}
	}
	delete(s.offers, id)
	return nil
}

func (s *Store) ListCreditLines(_ context.Context, userID string) ([]domain.CreditLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.CreditLine{}
	for _, l := range s.lines {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetCreditLine(_ context.Context, userID, id string) (*domain.CreditLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lines[id]
	if !ok || l.UserID != userID {
		return nil, &domain.ErrNotFound{Resource: "credit line", ID: id}
	}
	return &l, nil
}

func (s *Store) CreateCreditLine(_ context.Context, l *domain.CreditLine) (*domain.CreditLine, error) {
	s.mu.Lock()
	s.lines[l.ID] = *l
	s.mu.Unlock()
	return l, nil
}

func (s *Store) UpdateCreditLineStatus(_ context.Context, id string, from, to domain.CreditLineStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[id]
	if !ok || l.Status != from {
		return false, nil
	}
	l.Status = to
	l.UpdatedAt = time.Now().UTC()
	s.lines[id] = l
	return true, nil
}

// ============================================================
// port.CollaboratorStore
// ============================================================

func (s *Store) CreateCollaborator(_ context.Context, c *domain.Collaborator) (*domain.Collaborator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.collaborators {
		if existing.Email == c.Email || existing.ReferralCode == c.ReferralCode {
			return nil, &domain.ErrConflict{Message: "collaborator already registered"}
		}
	}
	s.collaborators[c.ID] = *c
	return c, nil
}

func (s *Store) findCollaborator(match func(domain.Collaborator) bool, key string) (*domain.Collaborator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.collaborators {
		if match(c) {
			return &c, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "collaborator", ID: key}
}

func (s *Store) GetCollaboratorByEmail(_ context.Context, email string) (*domain.Collaborator, error) {
	return s.findCollaborator(func(c domain.Collaborator) bool { return c.Email == email }, email)
}

func (s *Store) GetCollaboratorByID(_ context.Context, id string) (*domain.Collaborator, error) {
	return s.findCollaborator(func(c domain.Collaborator) bool { return c.ID == id }, id)
}

func (s *Store) GetCollaboratorByCode(_ context.Context, code string) (*domain.Collaborator, error) {
	return s.findCollaborator(func(c domain.Collaborator) bool { return c.ReferralCode == code }, code)
}
