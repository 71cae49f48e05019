package supabase

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
)

// ============================================================
// Knowledge entries & notifications
// ============================================================

type knowledgeRow struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	DatabaseID string    `json:"database_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r knowledgeRow) toDomain() domain.KnowledgeEntry {
	return domain.KnowledgeEntry{
		ID:         r.ID,
		UserID:     r.UserID,
		DatabaseID: r.DatabaseID,
		Title:      r.Title,
		Content:    r.Content,
		CreatedAt:  r.CreatedAt,
	}
}

// ListKnowledge lists entries of one smart database.
func (c *Client) ListKnowledge(ctx context.Context, userID, databaseID string) ([]domain.KnowledgeEntry, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListKnowledge")
	defer span.End()

	path := fmt.Sprintf("%s?%s&%s&order=created_at.desc", tableKnowledge, eq("user_id", userID), eq("database_id", databaseID))
	var rows []knowledgeRow
	err := c.call(ctx, func() error {
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		rows, err = decodeRows[knowledgeRow](body)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.KnowledgeEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// CreateKnowledge inserts an entry.
func (c *Client) CreateKnowledge(ctx context.Context, e *domain.KnowledgeEntry) (*domain.KnowledgeEntry, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateKnowledge")
	defer span.End()

	var rows []knowledgeRow
	err := c.callOnce(ctx, func() error {
		body, err := c.doPost(ctx, tableKnowledge, knowledgeRow{
			ID:         e.ID,
			UserID:     e.UserID,
			DatabaseID: e.DatabaseID,
			Title:      e.Title,
			Content:    e.Content,
			CreatedAt:  e.CreatedAt,
		})
		if err != nil {
			return err
		}
		rows, err = decodeRows[knowledgeRow](body)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return e, nil
	}
	created := rows[0].toDomain()
	return &created, nil
}

// DeleteKnowledge deletes an entry owned by userID.
func (c *Client) DeleteKnowledge(ctx context.Context, userID, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteKnowledge")
	defer span.End()

	return c.call(ctx, func() error {
		return c.doDelete(ctx, fmt.Sprintf("%s?%s&%s", tableKnowledge, eq("id", id), eq("user_id", userID)))
	})
}

type notificationRow struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// ListNotifications lists the newest notifications of userID.
func (c *Client) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListNotifications")
	defer span.End()

	path := fmt.Sprintf("%s?%s&order=created_at.desc&limit=50", tableNotifications, eq("user_id", userID))
	if unreadOnly {
		path += "&read=eq.false"
	}
	var rows []notificationRow
	err := c.call(ctx, func() error {
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		rows, err = decodeRows[notificationRow](body)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Notification(r))
	}
	return out, nil
}

// CreateNotification inserts a notification.
func (c *Client) CreateNotification(ctx context.Context, n *domain.Notification) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateNotification")
	defer span.End()

	return c.callOnce(ctx, func() error {
		_, err := c.doPost(ctx, tableNotifications, notificationRow(*n))
		return err
	})
}

// MarkNotificationRead flags one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, userID, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkNotificationRead")
	defer span.End()

	path := fmt.Sprintf("%s?%s&%s", tableNotifications, eq("id", id), eq("user_id", userID))
	var rows []notificationRow
	err := c.call(ctx, func() error {
		body, err := c.doPatch(ctx, path, map[string]any{"read": true}, true)
		if err != nil {
			return err
		}
		rows, err = decodeRows[notificationRow](body)
		return err
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return &domain.ErrNotFound{Resource: "notification", ID: id}
	}
	return nil
}
