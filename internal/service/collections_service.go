package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/port"

	"github.com/google/uuid"
)

// CollectionService serves the knowledge and notification collections.
type CollectionService struct {
	knowledge     port.KnowledgeStore
	notifications port.NotificationStore
	profiles      *ProfileService
}

// NewCollectionService creates the collection service.
func NewCollectionService(knowledge port.KnowledgeStore, notifications port.NotificationStore, profiles *ProfileService) *CollectionService {
	return &CollectionService{knowledge: knowledge, notifications: notifications, profiles: profiles}
}

func (s *CollectionService) ListKnowledge(ctx context.Context, userID, databaseID string) ([]domain.KnowledgeEntry, error) {
	entries, err := s.knowledge.ListKnowledge(ctx, userID, databaseID)
	if err != nil {
		return nil, fmt.Errorf("knowledge fetch: %w", err)
	}
	return entries, nil
}

// CreateKnowledge adds an entry to one of the caller's smart databases.
func (s *CollectionService) CreateKnowledge(ctx context.Context, userID string, e domain.KnowledgeEntry) (*domain.KnowledgeEntry, error) {
	if strings.TrimSpace(e.Title) == "" || strings.TrimSpace(e.Content) == "" {
		return nil, &domain.ErrValidation{Field: "content", Message: "title and content are required"}
	}
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	db, ok := p.Database(e.DatabaseID)
	if !ok {
		return nil, &domain.ErrValidation{Field: "databaseId", Message: "database does not exist"}
	}
	if db.Kind != domain.DatabaseSmart {
		return nil, &domain.ErrValidation{Field: "databaseId", Message: "knowledge entries belong to smart databases"}
	}

	e.ID = uuid.NewString()
	e.UserID = userID
	e.CreatedAt = time.Now().UTC()
	return s.knowledge.CreateKnowledge(ctx, &e)
}

func (s *CollectionService) DeleteKnowledge(ctx context.Context, userID, id string) error {
	return s.knowledge.DeleteKnowledge(ctx, userID, id)
}

func (s *CollectionService) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	n, err := s.notifications.ListNotifications(ctx, userID, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("notifications fetch: %w", err)
	}
	return n, nil
}

func (s *CollectionService) MarkNotificationRead(ctx context.Context, userID, id string) error {
	return s.notifications.MarkNotificationRead(ctx, userID, id)
}
