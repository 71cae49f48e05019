// Package wizard sequences the assistant setup flow. The number of steps
// depends on who is running it and whether a data source is needed; a
// completed wizard is turned into a profile by BuildProfile.
package wizard

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
)

// SnapshotVersion is the only snapshot layout Restore accepts.
const SnapshotVersion = 1

// Screen is one page of the wizard.
type Screen string

const (
	ScreenAssistant Screen = "assistant"
	ScreenPurposes  Screen = "purposes"
	ScreenDatabase  Screen = "database"
	ScreenAuth      Screen = "auth"
	ScreenReview    Screen = "review"
)

// Flags decide which screens are shown.
type Flags struct {
	IsReconfiguring         bool `json:"isReconfiguring"`
	IsAddingForExistingUser bool `json:"isAddingForExistingUser"`
	NeedsDatabase           bool `json:"needsDatabase"`
}

func (f Flags) existingUser() bool {
	return f.IsReconfiguring || f.IsAddingForExistingUser
}

// Screens lists the screens shown for f, in order.
func Screens(f Flags) []Screen {
	screens := []Screen{ScreenAssistant, ScreenPurposes}
	if f.NeedsDatabase {
		screens = append(screens, ScreenDatabase)
	}
	if !f.existingUser() {
		screens = append(screens, ScreenAuth)
	}
	return append(screens, ScreenReview)
}

// EffectiveMaxSteps is the number of steps for f: 3 or 4 for existing
// users, 4 or 5 for new users, depending on the database step.
func EffectiveMaxSteps(f Flags) int {
	return len(Screens(f))
}

// AssistantDraft collects the assistant and purposes screens.
type AssistantDraft struct {
	ID       string               `json:"id,omitempty"`
	Name     string               `json:"name"`
	Type     domain.AssistantType `json:"type"`
	Prompt   string               `json:"prompt"`
	Purposes domain.PurposeSet    `json:"purposes"`
}

// DatabaseDraft collects the database screen.
type DatabaseDraft struct {
	Name string              `json:"name"`
	Kind domain.DatabaseKind `json:"kind"`
	URL  string              `json:"url,omitempty"`
}

// State is the serializable wizard state.
type State struct {
	Version       int            `json:"version"`
	Flags         Flags          `json:"flags"`
	Step          int            `json:"step"`
	Assistant     AssistantDraft `json:"assistant"`
	Database      *DatabaseDraft `json:"database,omitempty"`
	Subject       string         `json:"subject,omitempty"`
	Email         string         `json:"email,omitempty"`
	TermsAccepted bool           `json:"termsAccepted"`
	Completed     bool           `json:"completed"`
}

// Wizard is the setup flow for one user.
type Wizard struct {
	state State
}

// New starts a wizard at step 1.
func New(f Flags) *Wizard {
	return &Wizard{state: State{
		Version:   SnapshotVersion,
		Flags:     f,
		Step:      1,
		Assistant: AssistantDraft{Purposes: domain.PurposeSet{}},
	}}
}

// Flags returns the effective flags: NeedsDatabase is also set when a
// selected purpose requires a database.
func (w *Wizard) Flags() Flags {
	f := w.state.Flags
	f.NeedsDatabase = f.NeedsDatabase || w.state.Assistant.Purposes.RequiresDatabase()
	return f
}

// MaxSteps is EffectiveMaxSteps of the effective flags.
func (w *Wizard) MaxSteps() int {
	return EffectiveMaxSteps(w.Flags())
}

// Step is the current 1-based step.
func (w *Wizard) Step() int {
	if last := w.MaxSteps(); w.state.Step > last {
		return last
	}
	return w.state.Step
}

// ScreenAt maps a 1-based step to its screen.
func (w *Wizard) ScreenAt(step int) (Screen, bool) {
	screens := Screens(w.Flags())
	if step < 1 || step > len(screens) {
		return "", false
	}
	return screens[step-1], true
}

// Screen is the current screen.
func (w *Wizard) Screen() Screen {
	s, _ := w.ScreenAt(w.Step())
	return s
}

// State returns a copy of the current state.
func (w *Wizard) State() State {
	s := w.state
	s.Step = w.Step()
	return s
}

func (w *Wizard) SetAssistant(name string, t domain.AssistantType) {
	w.state.Assistant.Name = name
	w.state.Assistant.Type = t
}

func (w *Wizard) SetPurposes(prompt string, purposes domain.PurposeSet) {
	w.state.Assistant.Prompt = prompt
	w.state.Assistant.Purposes = purposes
}

func (w *Wizard) SetDatabase(d DatabaseDraft) {
	w.state.Database = &d
}

// SetIdentity records the authenticated caller.
func (w *Wizard) SetIdentity(subject, email string) {
	w.state.Subject = subject
	w.state.Email = email
}

func (w *Wizard) AcceptTerms(accepted bool) {
	w.state.TermsAccepted = accepted
}

// Validate returns a message describing what is missing on step, or ""
// when the step is complete.
func (w *Wizard) Validate(step int) string {
	screen, ok := w.ScreenAt(step)
	if !ok {
		return fmt.Sprintf("step %d does not exist", step)
	}
	a := w.state.Assistant

	switch screen {
	case ScreenAssistant:
		if !a.Type.Valid() {
			return "Choose where the assistant will run."
		}
		if strings.TrimSpace(a.Name) == "" {
			return "Give the assistant a name."
		}
	case ScreenPurposes:
		if len(a.Purposes) == 0 {
			return "Select at least one purpose."
		}
		if strings.TrimSpace(a.Prompt) == "" {
			return "Describe how the assistant should behave."
		}
	case ScreenDatabase:
		d := w.state.Database
		if d == nil || !d.Kind.Valid() {
			return "Choose a spreadsheet or a smart database."
		}
		if d.Kind == domain.DatabaseSpreadsheet && strings.TrimSpace(d.URL) == "" {
			return "Upload or link a spreadsheet."
		}
		if d.Kind == domain.DatabaseSmart && strings.TrimSpace(d.Name) == "" {
			return "Name the smart database."
		}
	case ScreenAuth:
		if w.state.Subject == "" {
			return "Sign in to continue."
		}
	case ScreenReview:
		if !w.state.Flags.existingUser() && !w.state.TermsAccepted {
			return "Accept the terms of use."
		}
	}
	return ""
}

// Next advances when the current step validates.
func (w *Wizard) Next() error {
	step := w.Step()
	if msg := w.Validate(step); msg != "" {
		return &domain.ErrValidation{Field: string(w.Screen()), Message: msg}
	}
	if step >= w.MaxSteps() {
		return &domain.ErrValidation{Field: "step", Message: "already on the last step"}
	}
	w.state.Step = step + 1
	return nil
}

// Back moves one step back, keeping everything entered.
func (w *Wizard) Back() {
	if step := w.Step(); step > 1 {
		w.state.Step = step - 1
	}
}

// Complete finishes the wizard. It must be on the last step and every step
// must validate.
func (w *Wizard) Complete() error {
	last := w.MaxSteps()
	if w.Step() != last {
		return &domain.ErrValidation{Field: "step", Message: "the wizard is not on its last step"}
	}
	for step := 1; step <= last; step++ {
		if msg := w.Validate(step); msg != "" {
			screen, _ := w.ScreenAt(step)
			return &domain.ErrValidation{Field: string(screen), Message: msg}
		}
	}
	w.state.Completed = true
	return nil
}

// Snapshot serializes the wizard.
func (w *Wizard) Snapshot() ([]byte, error) {
	return json.Marshal(w.State())
}

// Restore rebuilds a wizard from a snapshot.
func Restore(data []byte) (*Wizard, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		var verr *domain.ErrValidation
		if errors.As(err, &verr) {
			return nil, verr
		}
		return nil, &domain.ErrValidation{Field: "snapshot", Message: "malformed wizard snapshot"}
	}
	return FromState(s)
}

// FromState rebuilds a wizard from decoded state.
func FromState(s State) (*Wizard, error) {
	if s.Version != SnapshotVersion {
		return nil, &domain.ErrValidation{Field: "version", Message: fmt.Sprintf("unsupported wizard snapshot version %d", s.Version)}
	}
	if s.Step < 1 {
		s.Step = 1
	}
	if s.Assistant.Purposes == nil {
		s.Assistant.Purposes = domain.PurposeSet{}
	}
	s.Completed = false
	return &Wizard{state: s}, nil
}

// BuildProfile applies a completed wizard to existing, or to a new profile
// when existing is nil. The assistant is linked to the database entered in
// the wizard when one was needed.
func (w *Wizard) BuildProfile(existing *domain.UserProfile, now time.Time, newID func() string) (*domain.UserProfile, error) {
	if !w.state.Completed {
		return nil, &domain.ErrValidation{Field: "wizard", Message: "the wizard is not complete"}
	}

	var p *domain.UserProfile
	if existing == nil {
		p = domain.NewProfile(w.state.Subject, now)
		p.Email = w.state.Email
		if w.state.TermsAccepted {
			p.TermsAcceptedAt = &now
		}
	} else {
		p = existing
		p.Normalize()
	}
	p.Authenticated = true
	p.UpdatedAt = now

	draft := w.state.Assistant
	assistant := domain.AssistantConfig{
		ID:        newID(),
		Name:      strings.TrimSpace(draft.Name),
		Type:      draft.Type,
		Prompt:    draft.Prompt,
		Purposes:  draft.Purposes,
		Active:    true,
		CreatedAt: now,
	}

	if w.Flags().NeedsDatabase && w.state.Database != nil {
		d := *w.state.Database
		name := strings.TrimSpace(d.Name)
		if name == "" {
			name = assistant.Name + " data"
		}
		db := domain.DatabaseConfig{ID: newID(), Name: name, Kind: d.Kind, URL: d.URL, CreatedAt: now}
		p.Databases = append(p.Databases, db)
		assistant.DatabaseID = &db.ID
	}

	if w.state.Flags.IsReconfiguring && draft.ID != "" {
		current, ok := p.Assistant(draft.ID)
		if !ok {
			return nil, &domain.ErrNotFound{Resource: "assistant", ID: draft.ID}
		}
		assistant.ID = current.ID
		assistant.CreatedAt = current.CreatedAt
		assistant.PhoneNumber = current.PhoneNumber
		if assistant.DatabaseID == nil {
			assistant.DatabaseID = current.DatabaseID
		}
		if err := p.ValidateAssistant(&assistant); err != nil {
			return nil, err
		}
		*current = assistant
		return p, nil
	}

	if err := p.ValidateAssistant(&assistant); err != nil {
		return nil, err
	}
	p.Assistants = append(p.Assistants, assistant)
	return p, nil
}
