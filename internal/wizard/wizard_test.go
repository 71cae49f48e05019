package wizard_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/wizard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveMaxSteps(t *testing.T) {
	cases := []struct {
		name  string
		flags wizard.Flags
		want  int
	}{
		{"reconfiguring, no db", wizard.Flags{IsReconfiguring: true}, 3},
		{"reconfiguring, db", wizard.Flags{IsReconfiguring: true, NeedsDatabase: true}, 4},
		{"adding for existing user, no db", wizard.Flags{IsAddingForExistingUser: true}, 3},
		{"adding for existing user, db", wizard.Flags{IsAddingForExistingUser: true, NeedsDatabase: true}, 4},
		{"new user, no db", wizard.Flags{}, 4},
		{"new user, db", wizard.Flags{NeedsDatabase: true}, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, wizard.EffectiveMaxSteps(tc.flags))
		})
	}
}

func TestScreens_Order(t *testing.T) {
	assert.Equal(t,
		[]wizard.Screen{wizard.ScreenAssistant, wizard.ScreenPurposes, wizard.ScreenDatabase, wizard.ScreenAuth, wizard.ScreenReview},
		wizard.Screens(wizard.Flags{NeedsDatabase: true}))
	assert.Equal(t,
		[]wizard.Screen{wizard.ScreenAssistant, wizard.ScreenPurposes, wizard.ScreenReview},
		wizard.Screens(wizard.Flags{IsReconfiguring: true}))
}

func TestPurposeImpliesDatabase(t *testing.T) {
	w := wizard.New(wizard.Flags{})
	assert.Equal(t, 4, w.MaxSteps())

	w.SetPurposes("help", domain.NewPurposeSet(domain.PurposeImportSpreadsheet))
	assert.True(t, w.Flags().NeedsDatabase)
	assert.Equal(t, 5, w.MaxSteps())
	screen, ok := w.ScreenAt(3)
	require.True(t, ok)
	assert.Equal(t, wizard.ScreenDatabase, screen)
}

func TestNext_BlocksOnInvalidStep(t *testing.T) {
	w := wizard.New(wizard.Flags{})

	err := w.Next()
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "assistant", verr.Field)
	assert.Equal(t, 1, w.Step())

	w.SetAssistant("Ana", domain.AssistantWhatsApp)
	require.NoError(t, w.Next())
	assert.Equal(t, wizard.ScreenPurposes, w.Screen())
	assert.NotEmpty(t, w.Validate(2))
}

func TestBack_KeepsData(t *testing.T) {
	w := wizard.New(wizard.Flags{IsAddingForExistingUser: true})
	w.SetAssistant("Ana", domain.AssistantDesktop)
	require.NoError(t, w.Next())
	w.SetPurposes("be nice", domain.NewPurposeSet(domain.PurposeSales))
	require.NoError(t, w.Next())
	assert.Equal(t, wizard.ScreenReview, w.Screen())

	w.Back()
	w.Back()
	w.Back()
	assert.Equal(t, 1, w.Step())
	assert.Equal(t, "Ana", w.State().Assistant.Name)
	assert.True(t, w.State().Assistant.Purposes.Has(domain.PurposeSales))
}

func TestComplete_RequiresLastStep(t *testing.T) {
	w := wizard.New(wizard.Flags{IsReconfiguring: true})
	w.SetAssistant("Ana", domain.AssistantDesktop)
	assert.Error(t, w.Complete())
}

func TestSnapshot_RoundTrip(t *testing.T) {
	w := wizard.New(wizard.Flags{})
	w.SetAssistant("Ana", domain.AssistantDesktop)
	require.NoError(t, w.Next())
	w.SetPurposes("hi", domain.NewPurposeSet(domain.PurposeSmartDatabase, domain.PurposeSales))

	raw, err := w.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version":1`)
	assert.Contains(t, string(raw), `"purposes":["sales","smart_database"]`)

	restored, err := wizard.Restore(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Step())
	assert.True(t, restored.Flags().NeedsDatabase)
}

func TestRestore_RejectsUnknownVersion(t *testing.T) {
	_, err := wizard.Restore([]byte(`{"version":2,"step":1}`))
	var verr *domain.ErrValidation
	assert.True(t, errors.As(err, &verr))
}

func TestRestore_RejectsUnknownPurpose(t *testing.T) {
	_, err := wizard.Restore([]byte(`{"version":1,"assistant":{"purposes":["telepathy"]}}`))
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "purposes", verr.Field)
}

func idSeq() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

// New user picks import_spreadsheet: the database step appears, auth is
// completed, and the resulting profile holds one assistant linked to one
// spreadsheet with no credits.
func TestNewUserImportSpreadsheet_EndToEnd(t *testing.T) {
	w := wizard.New(wizard.Flags{})

	w.SetAssistant("Sales bot", domain.AssistantWhatsApp)
	require.NoError(t, w.Next())

	w.SetPurposes("Answer price questions", domain.NewPurposeSet(domain.PurposeImportSpreadsheet))
	require.NoError(t, w.Next())
	require.Equal(t, wizard.ScreenDatabase, w.Screen())
	require.Error(t, w.Next(), "database step must be filled")

	w.SetDatabase(wizard.DatabaseDraft{Kind: domain.DatabaseSpreadsheet, URL: "https://docs.google.com/spreadsheets/d/abc"})
	require.NoError(t, w.Next())
	require.Equal(t, wizard.ScreenAuth, w.Screen())

	w.SetIdentity("user-1", "u@x.io")
	require.NoError(t, w.Next())
	require.Equal(t, wizard.ScreenReview, w.Screen())
	require.Error(t, w.Complete(), "terms must be accepted")

	w.AcceptTerms(true)
	require.NoError(t, w.Complete())

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p, err := w.BuildProfile(nil, now, idSeq())
	require.NoError(t, err)

	assert.Equal(t, "user-1", p.UserID)
	assert.True(t, p.Authenticated)
	assert.Equal(t, 0, p.Credits)
	require.Len(t, p.Databases, 1)
	require.Len(t, p.Assistants, 1)
	assert.Equal(t, domain.DatabaseSpreadsheet, p.Databases[0].Kind)
	require.NotNil(t, p.Assistants[0].DatabaseID)
	assert.Equal(t, p.Databases[0].ID, *p.Assistants[0].DatabaseID)
	require.NotNil(t, p.TermsAcceptedAt)
}

func TestBuildProfile_Reconfigure(t *testing.T) {
	now := time.Now().UTC()
	existing := domain.NewProfile("user-1", now)
	existing.Credits = 40
	existing.Assistants = []domain.AssistantConfig{{
		ID: "a1", Name: "Old", Type: domain.AssistantWhatsApp, Purposes: domain.NewPurposeSet(domain.PurposeSales),
		PhoneNumber: "+5511", CreatedAt: now.Add(-time.Hour),
	}}

	restored, err := wizard.FromState(wizard.State{
		Version: wizard.SnapshotVersion,
		Flags:   wizard.Flags{IsReconfiguring: true},
		Step:    3,
		Assistant: wizard.AssistantDraft{
			ID: "a1", Name: "New", Type: domain.AssistantWhatsApp, Prompt: "p",
			Purposes: domain.NewPurposeSet(domain.PurposeScheduling),
		},
	})
	require.NoError(t, err)
	require.NoError(t, restored.Complete())

	p, err := restored.BuildProfile(existing, now, idSeq())
	require.NoError(t, err)
	require.Len(t, p.Assistants, 1)
	assert.Equal(t, "New", p.Assistants[0].Name)
	assert.Equal(t, "+5511", p.Assistants[0].PhoneNumber)
	assert.Equal(t, 40, p.Credits)
}

func TestBuildProfile_NotCompleted(t *testing.T) {
	_, err := wizard.New(wizard.Flags{}).BuildProfile(nil, time.Now(), idSeq())
	assert.Error(t, err)
}
