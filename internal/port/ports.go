// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
)

// ProfileStore persists user profile documents.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	FindProfileByCustomerID(ctx context.Context, customerID string) (*domain.UserProfile, error)
	// UpsertProfile inserts or replaces the client-editable part of the
	// document. Credits, phone number and customer id are only changed by
	// the calls below.
	UpsertProfile(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error)

	// ClaimPhoneNumber sets the profile's number only if none is stored yet.
	// It reports whether this call won.
	ClaimPhoneNumber(ctx context.Context, userID string, number domain.PhoneNumber) (bool, error)
	// ReleasePhoneNumber clears the number if its sid matches.
	ReleasePhoneNumber(ctx context.Context, userID, sid string) error
	// AddCredits atomically increments the balance and returns the new value.
	AddCredits(ctx context.Context, userID string, delta int) (int, error)
	LinkCustomer(ctx context.Context, userID, customerID string) error

	ListProfilesReferredBy(ctx context.Context, referralCode string) ([]domain.UserProfile, error)
}

// KnowledgeStore persists smart-database entries.
type KnowledgeStore interface {
	ListKnowledge(ctx context.Context, userID, databaseID string) ([]domain.KnowledgeEntry, error)
	CreateKnowledge(ctx context.Context, e *domain.KnowledgeEntry) (*domain.KnowledgeEntry, error)
	DeleteKnowledge(ctx context.Context, userID, id string) error
}

// NotificationStore persists user notifications.
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error)
	CreateNotification(ctx context.Context, n *domain.Notification) error
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// CreditStore persists credit offers and credit lines.
type CreditStore interface {
	ListOffers(ctx context.Context, userID string) ([]domain.CreditOffer, error)
	GetOffer(ctx context.Context, userID, id string) (*domain.CreditOffer, error)
	CreateOffer(ctx context.Context, o *domain.CreditOffer) (*domain.CreditOffer, error)
	DeleteOffer(ctx context.Context, userID, id string) error

	ListCreditLines(ctx context.Context, userID string) ([]domain.CreditLine, error)
	GetCreditLine(ctx context.Context, userID, id string) (*domain.CreditLine, error)
	CreateCreditLine(ctx context.Context, l *domain.CreditLine) (*domain.CreditLine, error)
	// UpdateCreditLineStatus moves the line from → to; it reports false when
	// the stored status was no longer from.
	UpdateCreditLineStatus(ctx context.Context, id string, from, to domain.CreditLineStatus) (bool, error)
}

// CollaboratorStore persists referral-program collaborators.
type CollaboratorStore interface {
	CreateCollaborator(ctx context.Context, c *domain.Collaborator) (*domain.Collaborator, error)
	GetCollaboratorByEmail(ctx context.Context, email string) (*domain.Collaborator, error)
	GetCollaboratorByID(ctx context.Context, id string) (*domain.Collaborator, error)
	GetCollaboratorByCode(ctx context.Context, code string) (*domain.Collaborator, error)
}

// IdentityVerifier validates bearer tokens from the identity provider.
type IdentityVerifier interface {
	Verify(token string) (*domain.Identity, error)
}

// PhoneProvider searches, buys and cancels numbers at the messaging provider.
type PhoneProvider interface {
	SearchNumbers(ctx context.Context, country, areaCode string, limit int) ([]domain.AvailableNumber, error)
	PurchaseNumber(ctx context.Context, number string) (*domain.PhoneNumber, error)
	CancelNumber(ctx context.Context, sid string) error
}

// SpreadsheetImporter converts an uploaded file into a cloud spreadsheet.
type SpreadsheetImporter interface {
	Import(ctx context.Context, fileName string, content []byte) (*domain.ImportedSpreadsheet, error)
}

// EventDeduper remembers processed webhook event ids.
type EventDeduper interface {
	// Reserve returns false if the key was already reserved.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.DomainEvent) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
