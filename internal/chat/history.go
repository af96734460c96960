// Package chat derives chat threads from the memory graph. A chat has no
// first-class entity: it is rooted at an Experience memorygram with
// Subtype "Chat", tied to its chat id through a HAS_CHAT_ID relationship,
// and its messages hang off the root via ROOT_OF relationships. This
// package computes that view on demand; nothing here persists a redundant
// chat record.
package chat

import (
	"context"
	"sort"

	"github.com/mnemograph/mnemo/internal/storage"
	"github.com/mnemograph/mnemo/pkg/types"
)

// HistoryService reconstructs ordered conversation transcripts by walking
// the relationship graph.
type HistoryService struct {
	store storage.GraphStore
}

// NewHistoryService creates a history reconstructor over the given store.
func NewHistoryService(store storage.GraphStore) *HistoryService {
	return &HistoryService{store: store}
}

// GetChatExperience finds the root Experience memorygram for a chat id by
// scanning HAS_CHAT_ID relationships for one whose properties decode to the
// requested id. A chat with no experience yet yields (nil, nil): absence is
// an expected outcome here, not an error.
func (h *HistoryService) GetChatExperience(ctx context.Context, chatID string) (*types.Memorygram, error) {
	rels, err := h.store.GetRelationshipsByType(ctx, types.RelHasChatID)
	if err != nil {
		return nil, err
	}

	for _, rel := range rels {
		if rel.ChatIDProperty() != chatID {
			continue
		}
		return h.store.GetMemorygramByID(ctx, rel.FromMemorygramID)
	}
	return nil, nil
}

// GetChatHistory returns the chat's transcript: every UserInput and
// AssistantResponse reachable from the root Experience via ROOT_OF, sorted
// by Timestamp ascending. Experience and Reflection nodes reachable the
// same way are excluded. A chat with no experience yields an empty slice.
func (h *HistoryService) GetChatHistory(ctx context.Context, chatID string) ([]types.Memorygram, error) {
	experience, err := h.GetChatExperience(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if experience == nil {
		return []types.Memorygram{}, nil
	}

	rels, err := h.store.GetRelationshipsByMemorygramID(ctx, experience.ID, false, true)
	if err != nil {
		return nil, err
	}

	history := []types.Memorygram{}
	for _, rel := range rels {
		if rel.RelationshipType != types.RelRootOf {
			continue
		}
		m, err := h.store.GetMemorygramByID(ctx, rel.ToMemorygramID)
		if err != nil {
			return nil, err
		}
		if m.Type != types.TypeUserInput && m.Type != types.TypeAssistantResponse {
			continue
		}
		history = append(history, *m)
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp < history[j].Timestamp
	})
	return history, nil
}

// GetAllChatExperiences enumerates every HAS_CHAT_ID relationship and loads
// each source Experience, ordered by CreatedAt descending. Chat listing is
// recency-first, unlike the chronological transcript.
func (h *HistoryService) GetAllChatExperiences(ctx context.Context) ([]types.Memorygram, error) {
	rels, err := h.store.GetRelationshipsByType(ctx, types.RelHasChatID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	experiences := []types.Memorygram{}
	for _, rel := range rels {
		if seen[rel.FromMemorygramID] {
			continue
		}
		seen[rel.FromMemorygramID] = true

		m, err := h.store.GetMemorygramByID(ctx, rel.FromMemorygramID)
		if err != nil {
			return nil, err
		}
		experiences = append(experiences, *m)
	}

	sort.SliceStable(experiences, func(i, j int) bool {
		return experiences[i].CreatedAt.After(experiences[j].CreatedAt)
	})
	return experiences, nil
}
