package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnowledge_SmartDatabaseOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedProfile(t, "user-1")
	svc := service.NewCollectionService(h.store, h.store, h.profiles)

	smart, err := h.profiles.AddDatabase(ctx, "user-1", domain.DatabaseConfig{Name: "FAQ", Kind: domain.DatabaseSmart})
	require.NoError(t, err)
	sheet, err := h.profiles.AddDatabase(ctx, "user-1", domain.DatabaseConfig{Name: "Planilha", Kind: domain.DatabaseSpreadsheet, URL: "https://docs.google.com/spreadsheets/d/x"})
	require.NoError(t, err)

	_, err = svc.CreateKnowledge(ctx, "user-1", domain.KnowledgeEntry{DatabaseID: sheet.ID, Title: "Horário", Content: "9h às 18h"})
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr), "expected ErrValidation, got %v", err)

	_, err = svc.CreateKnowledge(ctx, "user-1", domain.KnowledgeEntry{DatabaseID: "missing", Title: "Horário", Content: "9h às 18h"})
	require.True(t, errors.As(err, &verr))

	e, err := svc.CreateKnowledge(ctx, "user-1", domain.KnowledgeEntry{DatabaseID: smart.ID, Title: "Horário", Content: "9h às 18h"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", e.UserID)

	list, err := svc.ListKnowledge(ctx, "user-1", smart.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.DeleteKnowledge(ctx, "user-1", e.ID))
	list, err = svc.ListKnowledge(ctx, "user-1", smart.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNotifications_MarkRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := service.NewCollectionService(h.store, h.store, h.profiles)
	require.NoError(t, h.store.CreateNotification(ctx, &domain.Notification{ID: "n-1", UserID: "user-1", Title: "Oi", CreatedAt: time.Now()}))

	unread, err := svc.ListNotifications(ctx, "user-1", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	require.NoError(t, svc.MarkNotificationRead(ctx, "user-1", "n-1"))
	unread, err = svc.ListNotifications(ctx, "user-1", true)
	require.NoError(t, err)
	assert.Empty(t, unread)

	all, err := svc.ListNotifications(ctx, "user-1", false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
