package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mnemograph/mnemo/pkg/types"
)

// Built-in stage type tags.
const (
	StageTypeNull            = "null"
	StageTypeMemoryRetrieval = "memory_retrieval"
	StageTypeChatHistory     = "chat_history"
	StageTypeCompletion      = "completion"
)

// sessionChatIDKey is the session metadata key carrying the current chat id.
const sessionChatIDKey = "chatId"

// NullStage simulates work: it sleeps for a fixed artificial delay and
// appends one Simulation-type context chunk. Exists purely for testing and
// pipeline plumbing verification.
type NullStage struct {
	delay time.Duration
}

// NewNullStage builds a null stage; the "delay" setting overrides the
// default 100ms artificial delay.
func NewNullStage(cfg types.ComponentConfiguration, _ Dependencies) (Stage, error) {
	return &NullStage{delay: settingDuration(cfg, "delay", 100*time.Millisecond)}, nil
}

func (s *NullStage) Name() string { return StageTypeNull }

func (s *NullStage) Execute(ctx context.Context, state *types.PipelineExecutionState) (*types.PipelineExecutionState, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return state, ctx.Err()
	}

	state.AddChunk(types.ContextChunk{
		Type:    types.ChunkSimulation,
		Content: "Simulated processing output",
		Provenance: types.ChunkProvenance{
			Source:    s.Name(),
			Timestamp: time.Now(),
		},
	})
	return state, nil
}

// MemoryRetrievalStage embeds the request's user input and pulls similar
// memorygrams into the context as Memory-type chunks, optionally filtered
// by a minimum similarity threshold. Settings: "space" (default Content),
// "top_k" (default 5), "min_similarity" (default 0). The current chat, when
// named in the session metadata, is excluded from retrieval.
type MemoryRetrievalStage struct {
	deps          Dependencies
	space         types.EmbeddingSpace
	topK          int
	minSimilarity float64
}

// NewMemoryRetrievalStage builds a memory retrieval stage.
func NewMemoryRetrievalStage(cfg types.ComponentConfiguration, deps Dependencies) (Stage, error) {
	if deps.Memories == nil {
		return nil, fmt.Errorf("memory retrieval stage requires a memory service")
	}
	space := types.EmbeddingSpace(settingString(cfg, "space", string(types.SpaceContent)))
	if !space.IsValid() {
		return nil, fmt.Errorf("memory retrieval stage: unknown embedding space %q", space)
	}
	return &MemoryRetrievalStage{
		deps:          deps,
		space:         space,
		topK:          settingInt(cfg, "top_k", 5),
		minSimilarity: settingFloat(cfg, "min_similarity", 0),
	}, nil
}

func (s *MemoryRetrievalStage) Name() string { return StageTypeMemoryRetrieval }

func (s *MemoryRetrievalStage) Execute(ctx context.Context, state *types.PipelineExecutionState) (*types.PipelineExecutionState, error) {
	text := strings.TrimSpace(state.Request.UserInput)
	if text == "" {
		return state, nil
	}

	excludeChatID := state.Request.SessionMetadata[sessionChatIDKey]
	hits, err := s.deps.Memories.FindSimilarToText(ctx, text, s.space, s.topK, excludeChatID)
	if err != nil {
		// Absorbed at the stage boundary; the run continues without memory
		// context and the missing chunks are the signal.
		log.Printf("pipeline: memory retrieval failed, continuing without context: %v", err)
		return state, nil
	}

	for _, hit := range hits {
		if hit.Score < s.minSimilarity {
			continue
		}
		m := hit.Memorygram
		state.AddChunk(types.ContextChunk{
			Type:      types.ChunkMemory,
			Content:   m.Content,
			Relevance: hit.Score,
			Provenance: types.ChunkProvenance{
				Source:     s.Name(),
				OriginalID: m.ID,
				Timestamp:  time.Unix(m.Timestamp, 0),
				Metadata: map[string]string{
					"source": m.Source,
					"type":   string(m.Type),
				},
			},
		})
	}
	return state, nil
}

// ChatHistoryStage loads the current chat's transcript and appends its most
// recent messages as History-type chunks. Settings: "max_messages"
// (default 10). Without a chat id in the session metadata it is a no-op.
type ChatHistoryStage struct {
	deps        Dependencies
	maxMessages int
}

// NewChatHistoryStage builds a chat history stage.
func NewChatHistoryStage(cfg types.ComponentConfiguration, deps Dependencies) (Stage, error) {
	if deps.History == nil {
		return nil, fmt.Errorf("chat history stage requires a history service")
	}
	return &ChatHistoryStage{
		deps:        deps,
		maxMessages: settingInt(cfg, "max_messages", 10),
	}, nil
}

func (s *ChatHistoryStage) Name() string { return StageTypeChatHistory }

func (s *ChatHistoryStage) Execute(ctx context.Context, state *types.PipelineExecutionState) (*types.PipelineExecutionState, error) {
	chatID := state.Request.SessionMetadata[sessionChatIDKey]
	if chatID == "" {
		return state, nil
	}

	history, err := s.deps.History.GetChatHistory(ctx, chatID)
	if err != nil {
		log.Printf("pipeline: chat history load failed for %s, continuing without transcript: %v", chatID, err)
		return state, nil
	}
	if len(history) > s.maxMessages {
		history = history[len(history)-s.maxMessages:]
	}

	for _, m := range history {
		state.AddChunk(types.ContextChunk{
			Type:    types.ChunkHistory,
			Content: m.Content,
			Provenance: types.ChunkProvenance{
				Source:     s.Name(),
				OriginalID: m.ID,
				Timestamp:  time.Unix(m.Timestamp, 0),
				Metadata: map[string]string{
					"source": m.Source,
					"type":   string(m.Type),
				},
			},
		})
	}
	return state, nil
}

// CompletionStage composes the accumulated context chunks and the user
// input into a prompt and appends the generated completion as a
// Completion-type chunk. Settings: "role" (system framing for the
// completion provider).
type CompletionStage struct {
	deps Dependencies
	role string
}

// NewCompletionStage builds a completion stage.
func NewCompletionStage(cfg types.ComponentConfiguration, deps Dependencies) (Stage, error) {
	if deps.Generator == nil {
		return nil, fmt.Errorf("completion stage requires a text generator")
	}
	return &CompletionStage{
		deps: deps,
		role: settingString(cfg, "role", ""),
	}, nil
}

func (s *CompletionStage) Name() string { return StageTypeCompletion }

func (s *CompletionStage) Execute(ctx context.Context, state *types.PipelineExecutionState) (*types.PipelineExecutionState, error) {
	text := strings.TrimSpace(state.Request.UserInput)
	if text == "" {
		return state, nil
	}

	response, err := s.deps.Generator.Complete(ctx, s.buildPrompt(state, text), s.role)
	if err != nil {
		log.Printf("pipeline: completion failed, continuing without response chunk: %v", err)
		return state, nil
	}

	state.AddChunk(types.ContextChunk{
		Type:    types.ChunkCompletion,
		Content: response,
		Provenance: types.ChunkProvenance{
			Source:    s.Name(),
			Timestamp: time.Now(),
		},
	})
	return state, nil
}

func (s *CompletionStage) buildPrompt(state *types.PipelineExecutionState, text string) string {
	var b strings.Builder

	memories := state.ChunksOfType(types.ChunkMemory)
	if len(memories) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, c := range memories {
			b.WriteString("- " + c.Content + "\n")
		}
		b.WriteString("\n")
	}

	history := state.ChunksOfType(types.ChunkHistory)
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, c := range history {
			speaker := c.Provenance.Metadata["type"]
			if speaker == "" {
				speaker = "Message"
			}
			b.WriteString(speaker + ": " + c.Content + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("User: " + text + "\nAssistant:")
	return b.String()
}
