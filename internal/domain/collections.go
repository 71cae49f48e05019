package domain

import "time"

// KnowledgeEntry is a document stored in a smart database.
type KnowledgeEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	DatabaseID string    `json:"databaseId"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Notification kinds.
const (
	NotificationCredits       = "credits"
	NotificationPhoneNumber   = "phone_number"
	NotificationPhoneReleased = "phone_released"
)

// Notification is a message shown in the user's inbox.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
