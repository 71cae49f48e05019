package domain

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// ============================================================
// User profile document
// ============================================================

// AssistantType is where an assistant is deployed.
type AssistantType string

const (
	AssistantDesktop  AssistantType = "desktop"
	AssistantWhatsApp AssistantType = "whatsapp"
)

// Valid reports whether t is a known assistant type.
func (t AssistantType) Valid() bool {
	return t == AssistantDesktop || t == AssistantWhatsApp
}

// DatabaseKind distinguishes linked spreadsheets from smart knowledge stores.
type DatabaseKind string

const (
	DatabaseSpreadsheet DatabaseKind = "spreadsheet"
	DatabaseSmart       DatabaseKind = "smart"
)

// Valid reports whether k is a known database kind.
func (k DatabaseKind) Valid() bool {
	return k == DatabaseSpreadsheet || k == DatabaseSmart
}

// PhoneNumber is a number provisioned at the messaging provider.
type PhoneNumber struct {
	Number        string    `json:"number"`
	SID           string    `json:"sid"`
	ProvisionedAt time.Time `json:"provisionedAt"`
}

// AssistantConfig is one configured assistant. It belongs to exactly one profile.
type AssistantConfig struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        AssistantType `json:"type"`
	Prompt      string        `json:"prompt"`
	Purposes    PurposeSet    `json:"purposes"`
	DatabaseID  *string       `json:"databaseId"`
	PhoneNumber string        `json:"phoneNumber,omitempty"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// DatabaseConfig is a data source an assistant can read from.
type DatabaseConfig struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Kind      DatabaseKind `json:"kind"`
	URL       string       `json:"url,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Contact is an entry in the user's address book.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserProfile is the per-user document keyed by the identity subject.
type UserProfile struct {
	UserID           string            `json:"userId"`
	Authenticated    bool              `json:"authenticated"`
	Email            string            `json:"email,omitempty"`
	Name             string            `json:"name,omitempty"`
	Phone            string            `json:"phone,omitempty"`
	Credits          int               `json:"credits"`
	StripeCustomerID string            `json:"stripeCustomerId,omitempty"`
	PhoneNumber      *PhoneNumber      `json:"phoneNumber,omitempty"`
	Assistants       []AssistantConfig `json:"assistants"`
	Databases        []DatabaseConfig  `json:"databases"`
	Contacts         []Contact         `json:"contacts"`
	ReferredBy       string            `json:"referredBy,omitempty"`
	TermsAcceptedAt  *time.Time        `json:"termsAcceptedAt,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// NewProfile returns an empty profile for userID.
func NewProfile(userID string, now time.Time) *UserProfile {
	return &UserProfile{
		UserID:     userID,
		Assistants: []AssistantConfig{},
		Databases:  []DatabaseConfig{},
		Contacts:   []Contact{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy of p.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	if p.PhoneNumber != nil {
		n := *p.PhoneNumber
		c.PhoneNumber = &n
	}
	if p.TermsAcceptedAt != nil {
		t := *p.TermsAcceptedAt
		c.TermsAcceptedAt = &t
	}
	c.Assistants = slices.Clone(p.Assistants)
	for i := range c.Assistants {
		a := &c.Assistants[i]
		a.Purposes = maps.Clone(a.Purposes)
		if a.DatabaseID != nil {
			id := *a.DatabaseID
			a.DatabaseID = &id
		}
	}
	c.Databases = slices.Clone(p.Databases)
	c.Contacts = slices.Clone(p.Contacts)
	for i := range c.Contacts {
		c.Contacts[i].Tags = slices.Clone(c.Contacts[i].Tags)
	}
	return &c
}

// Database returns the database with the given id.
func (p *UserProfile) Database(id string) (*DatabaseConfig, bool) {
	for i := range p.Databases {
		if p.Databases[i].ID == id {
			return &p.Databases[i], true
		}
	}
	return nil, false
}

// Assistant returns the assistant with the given id.
func (p *UserProfile) Assistant(id string) (*AssistantConfig, bool) {
	for i := range p.Assistants {
		if p.Assistants[i].ID == id {
			return &p.Assistants[i], true
		}
	}
	return nil, false
}

// HasPhoneNumber reports whether a number was provisioned.
func (p *UserProfile) HasPhoneNumber() bool {
	return p.PhoneNumber != nil && p.PhoneNumber.Number != ""
}

// Normalize fixes up a document read from storage: nil lists become empty,
// purpose sets are never nil and dangling database references are cleared.
func (p *UserProfile) Normalize() {
	if p.Assistants == nil {
		p.Assistants = []AssistantConfig{}
	}
	if p.Databases == nil {
		p.Databases = []DatabaseConfig{}
	}
	if p.Contacts == nil {
		p.Contacts = []Contact{}
	}
	for i := range p.Assistants {
		a := &p.Assistants[i]
		if a.Purposes == nil {
			a.Purposes = PurposeSet{}
		}
		if a.DatabaseID != nil {
			if *a.DatabaseID == "" {
				a.DatabaseID = nil
			} else if _, ok := p.Database(*a.DatabaseID); !ok {
				a.DatabaseID = nil
			}
		}
	}
}

// UnlinkDatabase removes the database and clears every assistant reference
// to it. It reports whether the database existed.
func (p *UserProfile) UnlinkDatabase(id string) bool {
	idx := -1
	for i := range p.Databases {
		if p.Databases[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	p.Databases = append(p.Databases[:idx], p.Databases[idx+1:]...)
	for i := range p.Assistants {
		if ref := p.Assistants[i].DatabaseID; ref != nil && *ref == id {
			p.Assistants[i].DatabaseID = nil
		}
	}
	return true
}

// ValidateAssistant checks one assistant against the databases of p.
func (p *UserProfile) ValidateAssistant(a *AssistantConfig) error {
	if strings.TrimSpace(a.Name) == "" {
		return &ErrValidation{Field: "assistant.name", Message: "name is required"}
	}
	if !a.Type.Valid() {
		return &ErrValidation{Field: "assistant.type", Message: "type must be desktop or whatsapp"}
	}
	if a.DatabaseID != nil {
		if _, ok := p.Database(*a.DatabaseID); !ok {
			return &ErrValidation{Field: "assistant.databaseId", Message: "database does not exist"}
		}
	}
	if a.Purposes.RequiresDatabase() && a.DatabaseID == nil {
		return &ErrValidation{Field: "assistant.databaseId", Message: "selected purposes require a database"}
	}
	return nil
}

// ValidateDatabase checks a database config.
func ValidateDatabase(d *DatabaseConfig) error {
	if !d.Kind.Valid() {
		return &ErrValidation{Field: "database.kind", Message: "kind must be spreadsheet or smart"}
	}
	if d.Kind == DatabaseSpreadsheet && strings.TrimSpace(d.URL) == "" {
		return &ErrValidation{Field: "database.url", Message: "spreadsheet url is required"}
	}
	if strings.TrimSpace(d.Name) == "" {
		return &ErrValidation{Field: "database.name", Message: "name is required"}
	}
	return nil
}

// ============================================================
// Profile API request bodies
// ============================================================

// ProfileWriteRequest is the body of POST /api/user-profile.
type ProfileWriteRequest struct {
	UserID       string       `json:"userId"`
	UserProfile  *UserProfile `json:"userProfile"`
	ReferralCode string       `json:"referralCode,omitempty"`
}

// DashboardView aggregates what the dashboard screen shows.
type DashboardView struct {
	Profile       *UserProfile   `json:"profile"`
	Notifications []Notification `json:"notifications"`
	CreditLines   []CreditLine   `json:"creditLines"`
}
