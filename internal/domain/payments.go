package domain

import "strconv"

// ============================================================
// Payment provider webhook events
// ============================================================

// Checkout kinds carried in metadata.kind.
const (
	CheckoutCredits  = "credits"
	CheckoutWhatsApp = "whatsapp"
)

// PaymentMetadata is the metadata attached to checkout sessions, invoices
// and subscriptions at the payment provider.
type PaymentMetadata map[string]string

// Credits parses metadata.credits; zero when absent or malformed.
func (m PaymentMetadata) Credits() int {
	n, err := strconv.Atoi(m["credits"])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Kind returns metadata.kind.
func (m PaymentMetadata) Kind() string {
	return m["kind"]
}

// WebhookAck is the body returned to the payment provider.
type WebhookAck struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// DomainEvent is published on the event bus after a state change.
type DomainEvent struct {
	Type    string         `json:"type"`
	UserID  string         `json:"userId"`
	Payload map[string]any `json:"payload,omitempty"`
	At      int64          `json:"at"`
}

// Domain event types.
const (
	DomainProfileUpdated   = "profile.updated"
	DomainCreditsGranted   = "credits.granted"
	DomainPhoneProvisioned = "phone.provisioned"
	DomainPhoneReleased    = "phone.released"
)
