package types

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// GraphRelationship is a typed, weighted, directed edge between two
// memorygrams. Its ID is independent of the backing store's own edge
// identity. Properties is an opaque JSON blob for type-specific metadata,
// e.g. HAS_CHAT_ID relationships store {"chatId":"..."} there.
//
// ASSOCIATED_WITH edges are upserted per (from,to) pair; every other type is
// created fresh on each call and may legitimately duplicate.
type GraphRelationship struct {
	ID               string    `json:"id"`
	FromMemorygramID string    `json:"from_memorygram_id"`
	ToMemorygramID   string    `json:"to_memorygram_id"`
	RelationshipType string    `json:"relationship_type"`
	Weight           float64   `json:"weight"`
	Properties       string    `json:"properties,omitempty"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Validate checks the construction-time invariants for relationship creation.
func (r *GraphRelationship) Validate() error {
	if strings.TrimSpace(r.FromMemorygramID) == "" {
		return errors.New("relationship source id must not be empty")
	}
	if strings.TrimSpace(r.ToMemorygramID) == "" {
		return errors.New("relationship target id must not be empty")
	}
	if strings.TrimSpace(r.RelationshipType) == "" {
		return errors.New("relationship type must not be empty")
	}
	return nil
}

// ChatIDProperty decodes the {"chatId":"..."} properties blob used by
// HAS_CHAT_ID relationships. Returns an empty string when the blob is
// missing, malformed, or carries no chat id.
func (r *GraphRelationship) ChatIDProperty() string {
	if r.Properties == "" {
		return ""
	}
	var props struct {
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal([]byte(r.Properties), &props); err != nil {
		return ""
	}
	return props.ChatID
}

// ChatIDProperties encodes a chat id into the properties blob format used by
// HAS_CHAT_ID relationships.
func ChatIDProperties(chatID string) string {
	b, _ := json.Marshal(map[string]string{"chatId": chatID})
	return string(b)
}
