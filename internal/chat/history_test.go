package chat

import (
	"context"
	"testing"
	"time"

	"github.com/mnemograph/mnemo/internal/storage/sqlite"
	"github.com/mnemograph/mnemo/pkg/types"
)

func newTestStore(t *testing.T) *sqlite.GraphStore {
	t.Helper()
	store, err := sqlite.NewGraphStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustUpsert(t *testing.T, store *sqlite.GraphStore, m *types.Memorygram) *types.Memorygram {
	t.Helper()
	stored, err := store.UpsertMemorygram(context.Background(), m)
	if err != nil {
		t.Fatalf("UpsertMemorygram() failed: %v", err)
	}
	return stored
}

// buildChat assembles the standard chat shape: a root Experience with
// Subtype Chat, a metadata node holding the chat id, a HAS_CHAT_ID edge
// between them, and ROOT_OF edges to each message.
func buildChat(t *testing.T, store *sqlite.GraphStore, chatID string, messages ...*types.Memorygram) *types.Memorygram {
	t.Helper()
	ctx := context.Background()

	root := mustUpsert(t, store, &types.Memorygram{
		Content: "Chat " + chatID,
		Type:    types.TypeExperience,
		Subtype: types.SubtypeChat,
	})
	meta := mustUpsert(t, store, &types.Memorygram{
		Content: chatID,
		Type:    types.TypeExperience,
	})
	if _, err := store.CreateRelationship(ctx, root.ID, meta.ID, types.RelHasChatID, 1.0, types.ChatIDProperties(chatID)); err != nil {
		t.Fatalf("CreateRelationship(HAS_CHAT_ID) failed: %v", err)
	}

	for _, msg := range messages {
		stored := mustUpsert(t, store, msg)
		if _, err := store.CreateRelationship(ctx, root.ID, stored.ID, types.RelRootOf, 1.0, ""); err != nil {
			t.Fatalf("CreateRelationship(ROOT_OF) failed: %v", err)
		}
	}
	return root
}

func TestGetChatExperience(t *testing.T) {
	store := newTestStore(t)
	svc := NewHistoryService(store)
	ctx := context.Background()

	root := buildChat(t, store, "chat-1")

	got, err := svc.GetChatExperience(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetChatExperience() failed: %v", err)
	}
	if got == nil || got.ID != root.ID {
		t.Errorf("got %v, want root %s", got, root.ID)
	}

	missing, err := svc.GetChatExperience(ctx, "no-such-chat")
	if err != nil {
		t.Fatalf("GetChatExperience() failed: %v", err)
	}
	if missing != nil {
		t.Errorf("unknown chat: got %v, want nil", missing)
	}
}

func TestGetChatHistoryOrderAndFiltering(t *testing.T) {
	store := newTestStore(t)
	svc := NewHistoryService(store)

	// Messages stored out of timestamp order; a Reflection hangs off the
	// same root and must not appear in the transcript.
	buildChat(t, store, "chat-1",
		&types.Memorygram{Content: "second", Type: types.TypeAssistantResponse, Timestamp: 200},
		&types.Memorygram{Content: "first", Type: types.TypeUserInput, Timestamp: 100},
		&types.Memorygram{Content: "an aside", Type: types.TypeReflection, Timestamp: 150},
	)

	history, err := svc.GetChatHistory(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("GetChatHistory() failed: %v", err)
	}

	if len(history) != 2 {
		t.Fatalf("got %d messages, want 2", len(history))
	}
	if history[0].Content != "first" || history[1].Content != "second" {
		t.Errorf("transcript order: got [%s, %s]", history[0].Content, history[1].Content)
	}
	for _, m := range history {
		if m.Type == types.TypeReflection {
			t.Error("Reflection leaked into the transcript")
		}
	}
}

func TestGetChatHistoryUnknownChat(t *testing.T) {
	store := newTestStore(t)
	svc := NewHistoryService(store)

	history, err := svc.GetChatHistory(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetChatHistory() failed: %v", err)
	}
	if history == nil || len(history) != 0 {
		t.Errorf("unknown chat: got %v, want empty slice", history)
	}
}

func TestGetChatHistoryIsolatesChats(t *testing.T) {
	store := newTestStore(t)
	svc := NewHistoryService(store)

	buildChat(t, store, "chat-a",
		&types.Memorygram{Content: "a message", Type: types.TypeUserInput, Timestamp: 100},
	)
	buildChat(t, store, "chat-b",
		&types.Memorygram{Content: "b message", Type: types.TypeUserInput, Timestamp: 100},
	)

	history, err := svc.GetChatHistory(context.Background(), "chat-a")
	if err != nil {
		t.Fatalf("GetChatHistory() failed: %v", err)
	}
	if len(history) != 1 || history[0].Content != "a message" {
		t.Errorf("chat-a transcript: got %v", history)
	}
}

func TestGetAllChatExperiences(t *testing.T) {
	store := newTestStore(t)
	svc := NewHistoryService(store)
	ctx := context.Background()

	first := buildChat(t, store, "chat-old")
	time.Sleep(10 * time.Millisecond)
	second := buildChat(t, store, "chat-new")

	// A second HAS_CHAT_ID edge from the same root must not duplicate it.
	meta := mustUpsert(t, store, &types.Memorygram{Content: "chat-old", Type: types.TypeExperience})
	if _, err := store.CreateRelationship(ctx, first.ID, meta.ID, types.RelHasChatID, 1.0, types.ChatIDProperties("chat-old")); err != nil {
		t.Fatalf("CreateRelationship() failed: %v", err)
	}

	chats, err := svc.GetAllChatExperiences(ctx)
	if err != nil {
		t.Fatalf("GetAllChatExperiences() failed: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].ID != second.ID || chats[1].ID != first.ID {
		t.Errorf("not ordered newest first: got [%s, %s]", chats[0].ID, chats[1].ID)
	}
}
