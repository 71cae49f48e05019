package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// storedAssistant mirrors AssistantConfig as persisted. Purposes stay raw so
// documents written by older clients (objects, unknown names) still load.
type storedAssistant struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        AssistantType   `json:"type"`
	Prompt      string          `json:"prompt"`
	Purposes    json.RawMessage `json:"purposes"`
	DatabaseID  *string         `json:"databaseId"`
	PhoneNumber string          `json:"phoneNumber,omitempty"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// DecodeStoredAssistants decodes a persisted assistants array. Unknown
// purpose names are dropped instead of failing the read.
func DecodeStoredAssistants(data []byte) ([]AssistantConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return []AssistantConfig{}, nil
	}
	var rows []storedAssistant
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	out := make([]AssistantConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, AssistantConfig{
			ID:          r.ID,
			Name:        r.Name,
			Type:        r.Type,
			Prompt:      r.Prompt,
			Purposes:    lenientPurposes(r.Purposes),
			DatabaseID:  r.DatabaseID,
			PhoneNumber: r.PhoneNumber,
			Active:      r.Active,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}

func lenientPurposes(raw json.RawMessage) PurposeSet {
	set := PurposeSet{}
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		for _, n := range names {
			if p, err := ParsePurpose(n); err == nil {
				set[p] = struct{}{}
			}
		}
		return set
	}
	var flags map[string]bool
	if err := json.Unmarshal(raw, &flags); err == nil {
		for n, on := range flags {
			if p, err := ParsePurpose(n); err == nil && on {
				set[p] = struct{}{}
			}
		}
	}
	return set
}
