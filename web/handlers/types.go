package handlers

import (
	"github.com/mnemograph/mnemo/internal/chat"
	"github.com/mnemograph/mnemo/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// CreateMemorygramRequest is the request body for POST /api/memorygrams.
type CreateMemorygramRequest struct {
	Content   string `json:"content"`
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	Source    string `json:"source,omitempty"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// UpdateMemorygramRequest is the request body for PATCH /api/memorygrams/{id}.
// All fields are optional for partial updates.
type UpdateMemorygramRequest struct {
	Content *string `json:"content,omitempty"`
	Type    *string `json:"type,omitempty"`
	Subtype *string `json:"subtype,omitempty"`
	Source  *string `json:"source,omitempty"`
}

// SearchRequest is the request body for POST /api/memorygrams/search.
type SearchRequest struct {
	Text          string `json:"text"`
	Space         string `json:"space,omitempty"`
	TopK          int    `json:"top_k,omitempty"`
	ExcludeChatID string `json:"exclude_chat_id,omitempty"`
}

// SearchResponse is the response format for POST /api/memorygrams/search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}

// SearchResult is a single similarity hit with its cosine score.
type SearchResult struct {
	Memorygram types.Memorygram `json:"memorygram"`
	Score      float64          `json:"score"`
}

// AssociateRequest is the request body for POST /api/memorygrams/{id}/associate.
type AssociateRequest struct {
	ToMemorygramID string  `json:"to_memorygram_id"`
	Weight         float64 `json:"weight"`
}

// CreateRelationshipRequest is the request body for POST /api/relationships.
type CreateRelationshipRequest struct {
	FromMemorygramID string  `json:"from_memorygram_id"`
	ToMemorygramID   string  `json:"to_memorygram_id"`
	RelationshipType string  `json:"relationship_type"`
	Weight           float64 `json:"weight"`
	Properties       string  `json:"properties,omitempty"`
}

// UpdateRelationshipRequest is the request body for PATCH /api/relationships/{id}.
// All fields are optional; at least one must be set.
type UpdateRelationshipRequest struct {
	Weight     *float64 `json:"weight,omitempty"`
	Properties *string  `json:"properties,omitempty"`
	IsActive   *bool    `json:"is_active,omitempty"`
}

// ChatMessageRequest is the request body for POST /api/chats/{chatId}/messages.
type ChatMessageRequest struct {
	Message string `json:"message"`
}

// ChatMessageResponse is the response format for a processed chat turn.
type ChatMessageResponse struct {
	ChatID   string              `json:"chat_id"`
	Response string              `json:"response"`
	Sources  []chat.MemorySource `json:"sources,omitempty"`
}

// ChatHistoryResponse is the response format for GET /api/chats/{chatId}/history.
type ChatHistoryResponse struct {
	ChatID   string             `json:"chat_id"`
	Messages []types.Memorygram `json:"messages"`
}
