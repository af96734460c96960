package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mnemograph/mnemo/internal/llm"
	"github.com/mnemograph/mnemo/internal/memory"
	"github.com/mnemograph/mnemo/internal/storage"
	"github.com/mnemograph/mnemo/pkg/types"
)

// assistantRole frames completions generated on behalf of the agent.
const assistantRole = "You are a helpful assistant with access to a long-term memory of past conversations and experiences."

// retrievalTopK bounds how many memories inform one reply.
const retrievalTopK = 5

// MemorySource identifies one memorygram whose content informed a reply.
type MemorySource struct {
	MemorygramID string  `json:"memorygram_id"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
}

// Reply is the outcome of processing one user message.
type Reply struct {
	Response string         `json:"response"`
	Sources  []MemorySource `json:"sources"`
}

// Processor handles one user message end to end: it persists the message
// into the chat graph, retrieves relevant memories, generates a completion,
// and persists the assistant's response.
type Processor struct {
	memories  *memory.Service
	history   *HistoryService
	generator llm.TextGenerator
}

// NewProcessor creates a chat processor.
func NewProcessor(memories *memory.Service, history *HistoryService, generator llm.TextGenerator) *Processor {
	return &Processor{memories: memories, history: history, generator: generator}
}

// ProcessUserMessage runs the full exchange for one message and returns the
// generated response plus which memory content informed it.
func (p *Processor) ProcessUserMessage(ctx context.Context, chatID, text string) (*Reply, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, fmt.Errorf("%w: chat id must not be empty", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text must not be empty", storage.ErrInvalidInput)
	}

	root, err := p.ensureChatRoot(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if _, err := p.persistMessage(ctx, root.ID, text, types.TypeUserInput, "User"); err != nil {
		return nil, err
	}

	// Memories from other chats inform the reply; the current chat's own
	// messages arrive through the transcript instead.
	hits, err := p.memories.FindSimilarToText(ctx, text, types.SpaceContent, retrievalTopK, chatID)
	if err != nil {
		// Degraded but answerable: reply without memory context.
		log.Printf("chat: memory retrieval failed for chat %s, replying without context: %v", chatID, err)
		hits = nil
	}

	history, err := p.history.GetChatHistory(ctx, chatID)
	if err != nil {
		return nil, err
	}

	response, err := p.generator.Complete(ctx, buildPrompt(history, hits, text), assistantRole)
	if err != nil {
		return nil, err
	}

	if _, err := p.persistMessage(ctx, root.ID, response, types.TypeAssistantResponse, "Assistant"); err != nil {
		return nil, err
	}

	sources := make([]MemorySource, 0, len(hits))
	for _, hit := range hits {
		sources = append(sources, MemorySource{
			MemorygramID: hit.Memorygram.ID,
			Content:      hit.Memorygram.Content,
			Score:        hit.Score,
		})
	}
	return &Reply{Response: response, Sources: sources}, nil
}

// ensureChatRoot returns the chat's root Experience, creating the root, its
// chat-id metadata node, and the HAS_CHAT_ID relationship on first contact.
func (p *Processor) ensureChatRoot(ctx context.Context, chatID string) (*types.Memorygram, error) {
	root, err := p.history.GetChatExperience(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if root != nil {
		return root, nil
	}

	root, err = p.memories.CreateMemorygram(ctx, &types.Memorygram{
		Content:   "Chat " + chatID,
		Type:      types.TypeExperience,
		Subtype:   types.SubtypeChat,
		Source:    "system",
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}

	meta, err := p.memories.CreateMemorygram(ctx, &types.Memorygram{
		Content:   chatID,
		Type:      types.TypeExperience,
		Source:    "system",
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}

	_, err = p.memories.CreateRelationship(ctx, root.ID, meta.ID,
		types.RelHasChatID, 1.0, types.ChatIDProperties(chatID))
	if err != nil {
		return nil, err
	}
	return root, nil
}

// persistMessage stores one message memorygram and hangs it off the chat
// root via ROOT_OF.
func (p *Processor) persistMessage(ctx context.Context, rootID, content string, msgType types.MemorygramType, source string) (*types.Memorygram, error) {
	m, err := p.memories.CreateMemorygram(ctx, &types.Memorygram{
		Content:   content,
		Type:      msgType,
		Source:    source,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}
	if _, err := p.memories.CreateRelationship(ctx, rootID, m.ID, types.RelRootOf, 1.0, ""); err != nil {
		return nil, err
	}
	return m, nil
}

// buildPrompt assembles the completion prompt from retrieved memories, the
// transcript so far, and the new message.
func buildPrompt(history []types.Memorygram, hits []storage.MemorygramWithScore, text string) string {
	var b strings.Builder

	if len(hits) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, hit := range hits {
			fmt.Fprintf(&b, "- %s\n", hit.Memorygram.Content)
		}
		b.WriteString("\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			speaker := "User"
			if m.Type == types.TypeAssistantResponse {
				speaker = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User: %s\nAssistant:", text)
	return b.String()
}
