package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/wizard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_RejectsOtherUser(t *testing.T) {
	h := newHarness(t)

	_, err := h.profiles.Save(context.Background(), "user-a", &domain.ProfileWriteRequest{
		UserID:      "user-b",
		UserProfile: &domain.UserProfile{Name: "intruder"},
	})

	var forbidden *domain.ErrForbidden
	require.True(t, errors.As(err, &forbidden), "expected ErrForbidden, got %v", err)
	_, err = h.store.GetProfile(context.Background(), "user-b")
	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf), "nothing must be written")
}

func TestSave_CreatesAndMergesDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var incoming domain.UserProfile
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "Padaria Sol",
		"credits": 9999,
		"phoneNumber": {"number": "+5511999999999", "sid": "PNfake"},
		"databases": [{"id": "db-1", "name": "Produtos", "kind": "smart"}],
		"assistants": [{
			"name": "Vendas",
			"type": "whatsapp",
			"purposes": {"sales": true, "scheduling": false},
			"databaseId": "db-1",
			"phoneNumber": "+5511999999999"
		}]
	}`), &incoming))

	saved, err := h.profiles.Save(ctx, "user-1", &domain.ProfileWriteRequest{UserID: "user-1", UserProfile: &incoming})
	require.NoError(t, err)

	assert.Equal(t, "Padaria Sol", saved.Name)
	assert.Zero(t, saved.Credits, "credits are server-owned")
	assert.Nil(t, saved.PhoneNumber, "phone number is server-owned")
	require.Len(t, saved.Assistants, 1)
	a := saved.Assistants[0]
	assert.NotEmpty(t, a.ID)
	assert.Empty(t, a.PhoneNumber)
	assert.True(t, a.Purposes.Has(domain.PurposeSales))
	require.NotNil(t, a.DatabaseID)
	assert.Equal(t, "db-1", *a.DatabaseID)

	// Purposes always serialize as an array.
	raw, err := json.Marshal(saved)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"purposes":["sales"]`)

	// A later write without assistants keeps them.
	saved, err = h.profiles.Save(ctx, "user-1", &domain.ProfileWriteRequest{
		UserID:      "user-1",
		UserProfile: &domain.UserProfile{Phone: "+5511888887777"},
	})
	require.NoError(t, err)
	assert.Equal(t, "+5511888887777", saved.Phone)
	assert.Len(t, saved.Assistants, 1)
	assert.Contains(t, h.publisher.Types(), domain.DomainProfileUpdated)
}

func TestSave_RejectsDanglingDatabase(t *testing.T) {
	h := newHarness(t)
	missing := "db-missing"

	_, err := h.profiles.Save(context.Background(), "user-1", &domain.ProfileWriteRequest{
		UserID: "user-1",
		UserProfile: &domain.UserProfile{Assistants: []domain.AssistantConfig{{
			Name:       "Suporte",
			Type:       domain.AssistantDesktop,
			DatabaseID: &missing,
		}}},
	})
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr), "expected ErrValidation, got %v", err)
	assert.Equal(t, "assistant.databaseId", verr.Field)
}

func TestSave_UnknownReferralCode(t *testing.T) {
	h := newHarness(t)

	_, err := h.profiles.Save(context.Background(), "user-1", &domain.ProfileWriteRequest{
		UserID:       "user-1",
		UserProfile:  &domain.UserProfile{Name: "Oficina"},
		ReferralCode: "NOPE1234",
	})
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr), "expected ErrValidation, got %v", err)
	assert.Equal(t, "referralCode", verr.Field)
}

func TestSave_ReferralRecordedOnCreate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.CreateCollaborator(ctx, &domain.Collaborator{ID: "col-1", Email: "c@x.com", ReferralCode: "REF12345"})
	require.NoError(t, err)

	saved, err := h.profiles.Save(ctx, "user-1", &domain.ProfileWriteRequest{
		UserID:       "user-1",
		UserProfile:  &domain.UserProfile{Name: "Oficina"},
		ReferralCode: "REF12345",
	})
	require.NoError(t, err)
	assert.Equal(t, "REF12345", saved.ReferredBy)
}

func TestDeleteDatabase_UnlinksAssistants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedProfile(t, "user-1")

	db, err := h.profiles.AddDatabase(ctx, "user-1", domain.DatabaseConfig{Name: "Estoque", Kind: domain.DatabaseSmart})
	require.NoError(t, err)
	_, err = h.profiles.UpdateAssistant(ctx, "user-1", "asst-wa", domain.AssistantConfig{
		Name:       "Atendimento",
		Type:       domain.AssistantWhatsApp,
		Purposes:   domain.PurposeSet{domain.PurposeCustomerSupport: {}},
		DatabaseID: &db.ID,
	})
	require.NoError(t, err)

	require.NoError(t, h.profiles.DeleteDatabase(ctx, "user-1", db.ID))

	p, err := h.profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, p.Databases)
	assert.Nil(t, p.Assistants[0].DatabaseID)

	err = h.profiles.DeleteDatabase(ctx, "user-1", db.ID)
	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}

func TestContacts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedProfile(t, "user-1")

	_, err := h.profiles.AddContact(ctx, "user-1", domain.Contact{Name: "Sem contato"})
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr))

	c, err := h.profiles.AddContact(ctx, "user-1", domain.Contact{Name: "Maria", Phone: "+5511977776666"})
	require.NoError(t, err)

	list, err := h.profiles.ListContacts(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)

	require.NoError(t, h.profiles.DeleteContact(ctx, "user-1", c.ID))
	list, err = h.profiles.ListContacts(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCompleteWizard_NewUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w := wizard.New(wizard.Flags{})
	w.SetAssistant("Planilhas", domain.AssistantDesktop)
	require.NoError(t, w.Next())
	w.SetPurposes("Responda sobre o estoque.", domain.PurposeSet{domain.PurposeImportSpreadsheet: {}})
	require.NoError(t, w.Next())
	w.SetDatabase(wizard.DatabaseDraft{Name: "Estoque", Kind: domain.DatabaseSpreadsheet, URL: "https://docs.google.com/spreadsheets/d/abc"})
	require.NoError(t, w.Next())
	w.SetIdentity("user-1", "ana@example.com")
	require.NoError(t, w.Next())
	w.AcceptTerms(true)

	p, err := h.profiles.CompleteWizard(ctx, &domain.Identity{Subject: "user-1", Email: "ana@example.com"}, w, "")
	require.NoError(t, err)

	assert.True(t, p.Authenticated)
	assert.NotNil(t, p.TermsAcceptedAt)
	require.Len(t, p.Assistants, 1)
	require.Len(t, p.Databases, 1)
	require.NotNil(t, p.Assistants[0].DatabaseID)
	assert.Equal(t, p.Databases[0].ID, *p.Assistants[0].DatabaseID)
}

func TestCompleteWizard_NotOnLastStep(t *testing.T) {
	h := newHarness(t)
	w := wizard.New(wizard.Flags{IsAddingForExistingUser: true})
	w.SetAssistant("Vendas", domain.AssistantWhatsApp)

	_, err := h.profiles.CompleteWizard(context.Background(), &domain.Identity{Subject: "user-1"}, w, "")
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr), "expected ErrValidation, got %v", err)
}

func TestCompleteWizard_UnknownUserMustAcceptTerms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w := wizard.New(wizard.Flags{IsAddingForExistingUser: true})
	w.SetAssistant("Vendas", domain.AssistantWhatsApp)
	require.NoError(t, w.Next())
	w.SetPurposes("Atenda clientes.", domain.PurposeSet{domain.PurposeSales: {}})
	require.NoError(t, w.Next())

	_, err := h.profiles.CompleteWizard(ctx, &domain.Identity{Subject: "brand-new"}, w, "")
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr), "expected ErrValidation, got %v", err)
	assert.Equal(t, string(wizard.ScreenReview), verr.Field)

	_, err = h.store.GetProfile(ctx, "brand-new")
	var nf *domain.ErrNotFound
	require.True(t, errors.As(err, &nf), "nothing must be written")

	w.AcceptTerms(true)
	p, err := h.profiles.CompleteWizard(ctx, &domain.Identity{Subject: "brand-new"}, w, "")
	require.NoError(t, err)
	assert.NotNil(t, p.TermsAcceptedAt)
}

func TestCompleteWizard_ExistingUserSkipsTerms(t *testing.T) {
	h := newHarness(t)
	h.seedProfile(t, "user-1")

	w := wizard.New(wizard.Flags{IsAddingForExistingUser: true})
	w.SetAssistant("Agenda", domain.AssistantDesktop)
	require.NoError(t, w.Next())
	w.SetPurposes("Marque horarios.", domain.PurposeSet{domain.PurposeScheduling: {}})
	require.NoError(t, w.Next())

	p, err := h.profiles.CompleteWizard(context.Background(), &domain.Identity{Subject: "user-1"}, w, "")
	require.NoError(t, err)
	assert.Len(t, p.Assistants, 2)
}

func TestGet_ReturnsCopy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedProfile(t, "user-1")

	first, err := h.profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	first.Assistants[0].Name = "changed"
	first.Assistants[0].Purposes[domain.PurposeSales] = struct{}{}

	second, err := h.profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Atendimento", second.Assistants[0].Name)
	assert.False(t, second.Assistants[0].Purposes.Has(domain.PurposeSales))
}

func TestDashboard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedProfile(t, "user-1")
	require.NoError(t, h.store.CreateNotification(ctx, &domain.Notification{
		ID: "n-1", UserID: "user-1", Title: "Oi", Kind: domain.NotificationCredits, CreatedAt: time.Now(),
	}))
	_, err := h.store.CreateCreditLine(ctx, &domain.CreditLine{ID: "cl-1", UserID: "user-1", Status: domain.CreditPending})
	require.NoError(t, err)

	view, err := h.profiles.Dashboard(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", view.Profile.UserID)
	assert.Len(t, view.Notifications, 1)
	assert.Len(t, view.CreditLines, 1)

	_, err = h.profiles.Dashboard(ctx, "nobody")
	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}
