package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mnemograph/mnemo/internal/storage"
	"github.com/mnemograph/mnemo/pkg/types"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) *GraphStore {
	t.Helper()
	store, err := NewGraphStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// mustUpsert stores a memorygram or fails the test.
func mustUpsert(t *testing.T, store *GraphStore, m *types.Memorygram) *types.Memorygram {
	t.Helper()
	stored, err := store.UpsertMemorygram(context.Background(), m)
	if err != nil {
		t.Fatalf("UpsertMemorygram() failed: %v", err)
	}
	return stored
}

func TestUpsertMemorygramRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := &types.Memorygram{
		Content:          "the user prefers dark roast coffee",
		Type:             types.TypeUserInput,
		Subtype:          "Preference",
		Source:           "chat",
		Timestamp:        1700000000,
		ContentEmbedding: []float32{0.1, 0.2, 0.3},
		TopicalEmbedding: []float32{0.9, 0.8},
	}

	stored := mustUpsert(t, store, m)

	if stored.ID == "" {
		t.Fatal("stored memorygram has no generated ID")
	}
	if stored.Content != m.Content {
		t.Errorf("Content: got %q, want %q", stored.Content, m.Content)
	}
	if stored.Type != types.TypeUserInput {
		t.Errorf("Type: got %q, want %q", stored.Type, types.TypeUserInput)
	}
	if stored.Timestamp != 1700000000 {
		t.Errorf("Timestamp: got %d, want 1700000000", stored.Timestamp)
	}
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Error("audit timestamps must be set")
	}

	got, err := store.GetMemorygramByID(ctx, stored.ID)
	if err != nil {
		t.Fatalf("GetMemorygramByID() failed: %v", err)
	}
	if len(got.ContentEmbedding) != 3 || got.ContentEmbedding[1] != 0.2 {
		t.Errorf("ContentEmbedding: got %v", got.ContentEmbedding)
	}
	if len(got.TopicalEmbedding) != 2 {
		t.Errorf("TopicalEmbedding: got %v", got.TopicalEmbedding)
	}
	// Unset spaces come back as empty slices, never nil.
	if got.ContextEmbedding == nil || got.MetadataEmbedding == nil {
		t.Error("unset embeddings must round-trip as empty slices")
	}
}

func TestUpsertMemorygramPreservesCreatedAt(t *testing.T) {
	store := newTestStore(t)

	first := mustUpsert(t, store, &types.Memorygram{
		Content: "original content",
		Type:    types.TypeExperience,
	})

	time.Sleep(10 * time.Millisecond)

	first.Content = "revised content"
	second := mustUpsert(t, store, first)

	if second.ID != first.ID {
		t.Fatalf("upsert changed the id: %s -> %s", first.ID, second.ID)
	}
	if second.Content != "revised content" {
		t.Errorf("Content: got %q, want %q", second.Content, "revised content")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on update: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt not bumped: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestUpsertMemorygramRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cases := []*types.Memorygram{
		{Content: "  ", Type: types.TypeUserInput},
		{Content: "ok", Type: types.TypeInvalid},
		{Content: "ok", Type: types.MemorygramType("Bogus")},
	}
	for i, m := range cases {
		_, err := store.UpsertMemorygram(ctx, m)
		if !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("case %d: got %v, want ErrInvalidInput", i, err)
		}
	}
}

func TestGetMemorygramByIDNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetMemorygramByID(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestFindSimilarOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	near := mustUpsert(t, store, &types.Memorygram{
		Content:          "espresso brewing notes",
		Type:             types.TypeExperience,
		ContentEmbedding: []float32{1, 0, 0},
	})
	mid := mustUpsert(t, store, &types.Memorygram{
		Content:          "morning routine",
		Type:             types.TypeExperience,
		ContentEmbedding: []float32{0.7, 0.7, 0},
	})
	mustUpsert(t, store, &types.Memorygram{
		Content:          "unrelated topic",
		Type:             types.TypeExperience,
		ContentEmbedding: []float32{0, 0, 1},
	})

	hits, err := store.FindSimilar(ctx, storage.SimilarityQuery{
		Vector: []float32{1, 0, 0},
		Space:  types.SpaceContent,
		TopK:   2,
	})
	if err != nil {
		t.Fatalf("FindSimilar() failed: %v", err)
	}

	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Memorygram.ID != near.ID {
		t.Errorf("first hit: got %s, want %s", hits[0].Memorygram.ID, near.ID)
	}
	if hits[1].Memorygram.ID != mid.ID {
		t.Errorf("second hit: got %s, want %s", hits[1].Memorygram.ID, mid.ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("scores not descending: %v then %v", hits[0].Score, hits[1].Score)
	}
}

func TestFindSimilarValidatesQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cases := []storage.SimilarityQuery{
		{Vector: nil, Space: types.SpaceContent, TopK: 5},
		{Vector: []float32{1}, Space: types.EmbeddingSpace("Bogus"), TopK: 5},
		{Vector: []float32{1}, Space: types.SpaceContent, TopK: 0},
	}
	for i, q := range cases {
		_, err := store.FindSimilar(ctx, q)
		if !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("case %d: got %v, want ErrInvalidInput", i, err)
		}
	}
}

func TestFindSimilarExcludesChatMembers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Chat graph: root Experience -> message, tagged with HAS_CHAT_ID.
	root := mustUpsert(t, store, &types.Memorygram{
		Content: "chat session",
		Type:    types.TypeExperience,
		Subtype: types.SubtypeChat,
	})
	meta := mustUpsert(t, store, &types.Memorygram{
		Content: "chat-7",
		Type:    types.TypeExperience,
	})
	msg := mustUpsert(t, store, &types.Memorygram{
		Content:          "what is the weather",
		Type:             types.TypeUserInput,
		ContentEmbedding: []float32{1, 0},
	})
	if _, err := store.CreateRelationship(ctx, root.ID, meta.ID, types.RelHasChatID, 1.0, types.ChatIDProperties("chat-7")); err != nil {
		t.Fatalf("CreateRelationship(HAS_CHAT_ID) failed: %v", err)
	}
	if _, err := store.CreateRelationship(ctx, root.ID, msg.ID, types.RelRootOf, 1.0, ""); err != nil {
		t.Fatalf("CreateRelationship(ROOT_OF) failed: %v", err)
	}

	// An unrelated memorygram in the same space.
	other := mustUpsert(t, store, &types.Memorygram{
		Content:          "weather trivia from another context",
		Type:             types.TypeExperience,
		ContentEmbedding: []float32{0.9, 0.1},
	})

	hits, err := store.FindSimilar(ctx, storage.SimilarityQuery{
		Vector:        []float32{1, 0},
		Space:         types.SpaceContent,
		TopK:          5,
		ExcludeChatID: "chat-7",
	})
	if err != nil {
		t.Fatalf("FindSimilar() failed: %v", err)
	}

	for _, h := range hits {
		if h.Memorygram.ID == msg.ID {
			t.Error("excluded chat's message leaked into the results")
		}
	}
	if len(hits) != 1 || hits[0].Memorygram.ID != other.ID {
		t.Errorf("got %d hits, want only %s", len(hits), other.ID)
	}
}

func TestGetBySubtype(t *testing.T) {
	store := newTestStore(t)

	mustUpsert(t, store, &types.Memorygram{
		Content: "a", Type: types.TypeExperience, Subtype: "Chat", Timestamp: 100,
	})
	mustUpsert(t, store, &types.Memorygram{
		Content: "b", Type: types.TypeExperience, Subtype: "Chat", Timestamp: 200,
	})
	mustUpsert(t, store, &types.Memorygram{
		Content: "c", Type: types.TypeExperience, Subtype: "Other", Timestamp: 300,
	})

	got, err := store.GetBySubtype(context.Background(), "Chat")
	if err != nil {
		t.Fatalf("GetBySubtype() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d memorygrams, want 2", len(got))
	}
	if got[0].Timestamp != 200 || got[1].Timestamp != 100 {
		t.Errorf("not ordered by timestamp descending: %d, %d", got[0].Timestamp, got[1].Timestamp)
	}

	empty, err := store.GetBySubtype(context.Background(), "Nope")
	if err != nil {
		t.Fatalf("GetBySubtype() failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("unknown subtype: got %v, want empty slice", empty)
	}
}

func TestGetAllChats(t *testing.T) {
	store := newTestStore(t)

	head := mustUpsert(t, store, &types.Memorygram{
		Content: "thread head", Type: types.TypeExperience, Subtype: "Chat", Timestamp: 100,
	})
	mustUpsert(t, store, &types.Memorygram{
		Content: "threaded follower", Type: types.TypeExperience, Subtype: "Chat",
		Timestamp: 200, PreviousMemorygramID: head.ID,
	})
	mustUpsert(t, store, &types.Memorygram{
		Content: "no subtype", Type: types.TypeExperience, Timestamp: 300,
	})

	got, err := store.GetAllChats(context.Background())
	if err != nil {
		t.Fatalf("GetAllChats() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != head.ID {
		t.Errorf("got %v, want only the thread head", got)
	}
}

func TestCreateRelationshipChecksEndpoints(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustUpsert(t, store, &types.Memorygram{Content: "a", Type: types.TypeExperience})

	_, err := store.CreateRelationship(ctx, a.ID, "missing", "RELATES_TO", 1.0, "")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing target: got %v, want ErrNotFound", err)
	}
	_, err = store.CreateRelationship(ctx, "missing", a.ID, "RELATES_TO", 1.0, "")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing source: got %v, want ErrNotFound", err)
	}
	_, err = store.CreateRelationship(ctx, a.ID, a.ID, "", 1.0, "")
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("empty type: got %v, want ErrInvalidInput", err)
	}
}

func TestCreateRelationshipDuplicatesAreFresh(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustUpsert(t, store, &types.Memorygram{Content: "a", Type: types.TypeExperience})
	b := mustUpsert(t, store, &types.Memorygram{Content: "b", Type: types.TypeExperience})

	first, err := store.CreateRelationship(ctx, a.ID, b.ID, "RELATES_TO", 0.5, "")
	if err != nil {
		t.Fatalf("CreateRelationship() failed: %v", err)
	}
	second, err := store.CreateRelationship(ctx, a.ID, b.ID, "RELATES_TO", 0.9, "")
	if err != nil {
		t.Fatalf("CreateRelationship() failed: %v", err)
	}

	if first.ID == second.ID {
		t.Error("repeated creation must produce distinct edge instances")
	}
	if !second.IsActive {
		t.Error("new relationships must start active")
	}

	relType := "RELATES_TO"
	all, err := store.FindRelationships(ctx, storage.RelationshipFilter{RelationshipType: &relType})
	if err != nil {
		t.Fatalf("FindRelationships() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d edges, want 2", len(all))
	}
}

func TestAssociationUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustUpsert(t, store, &types.Memorygram{Content: "a", Type: types.TypeExperience})
	b := mustUpsert(t, store, &types.Memorygram{Content: "b", Type: types.TypeExperience})

	src, err := store.CreateOrUpdateAssociation(ctx, a.ID, b.ID, 0.3)
	if err != nil {
		t.Fatalf("CreateOrUpdateAssociation() failed: %v", err)
	}
	if src.ID != a.ID {
		t.Errorf("returned memorygram: got %s, want source %s", src.ID, a.ID)
	}

	if _, err := store.CreateOrUpdateAssociation(ctx, a.ID, b.ID, 0.8); err != nil {
		t.Fatalf("second CreateOrUpdateAssociation() failed: %v", err)
	}

	relType := types.RelAssociatedWith
	edges, err := store.FindRelationships(ctx, storage.RelationshipFilter{RelationshipType: &relType})
	if err != nil {
		t.Fatalf("FindRelationships() failed: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("got %d association edges, want 1", len(edges))
	}
	if edges[0].Weight != 0.8 {
		t.Errorf("association weight: got %v, want 0.8", edges[0].Weight)
	}

	// The reverse direction is an independent edge.
	if _, err := store.CreateOrUpdateAssociation(ctx, b.ID, a.ID, 0.1); err != nil {
		t.Fatalf("reverse CreateOrUpdateAssociation() failed: %v", err)
	}
	edges, err = store.FindRelationships(ctx, storage.RelationshipFilter{RelationshipType: &relType})
	if err != nil {
		t.Fatalf("FindRelationships() failed: %v", err)
	}
	if len(edges) != 2 {
		t.Errorf("got %d association edges after reverse, want 2", len(edges))
	}
}

func TestUpdateRelationship(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustUpsert(t, store, &types.Memorygram{Content: "a", Type: types.TypeExperience})
	b := mustUpsert(t, store, &types.Memorygram{Content: "b", Type: types.TypeExperience})
	rel, err := store.CreateRelationship(ctx, a.ID, b.ID, "RELATES_TO", 0.5, "")
	if err != nil {
		t.Fatalf("CreateRelationship() failed: %v", err)
	}

	_, err = store.UpdateRelationship(ctx, rel.ID, storage.RelationshipUpdate{})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("empty update: got %v, want ErrInvalidInput", err)
	}

	weight := 0.75
	active := false
	updated, err := store.UpdateRelationship(ctx, rel.ID, storage.RelationshipUpdate{
		Weight:   &weight,
		IsActive: &active,
	})
	if err != nil {
		t.Fatalf("UpdateRelationship() failed: %v", err)
	}
	if updated.Weight != 0.75 {
		t.Errorf("Weight: got %v, want 0.75", updated.Weight)
	}
	if updated.IsActive {
		t.Error("IsActive: got true, want false")
	}

	_, err = store.UpdateRelationship(ctx, "missing", storage.RelationshipUpdate{Weight: &weight})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing relationship: got %v, want ErrNotFound", err)
	}
}

func TestDeleteRelationship(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustUpsert(t, store, &types.Memorygram{Content: "a", Type: types.TypeExperience})
	b := mustUpsert(t, store, &types.Memorygram{Content: "b", Type: types.TypeExperience})
	rel, err := store.CreateRelationship(ctx, a.ID, b.ID, "RELATES_TO", 0.5, "")
	if err != nil {
		t.Fatalf("CreateRelationship() failed: %v", err)
	}

	if err := store.DeleteRelationship(ctx, rel.ID); err != nil {
		t.Fatalf("DeleteRelationship() failed: %v", err)
	}
	if _, err := store.GetRelationshipByID(ctx, rel.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("after delete: got %v, want ErrNotFound", err)
	}
	if err := store.DeleteRelationship(ctx, rel.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}
}

func TestGetRelationshipsByMemorygramIDDirections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustUpsert(t, store, &types.Memorygram{Content: "a", Type: types.TypeExperience})
	b := mustUpsert(t, store, &types.Memorygram{Content: "b", Type: types.TypeExperience})
	c := mustUpsert(t, store, &types.Memorygram{Content: "c", Type: types.TypeExperience})

	out, err := store.CreateRelationship(ctx, a.ID, b.ID, "OUT", 1, "")
	if err != nil {
		t.Fatalf("CreateRelationship() failed: %v", err)
	}
	in, err := store.CreateRelationship(ctx, c.ID, a.ID, "IN", 1, "")
	if err != nil {
		t.Fatalf("CreateRelationship() failed: %v", err)
	}

	both, err := store.GetRelationshipsByMemorygramID(ctx, a.ID, true, true)
	if err != nil {
		t.Fatalf("GetRelationshipsByMemorygramID() failed: %v", err)
	}
	if len(both) != 2 {
		t.Errorf("both directions: got %d, want 2", len(both))
	}

	onlyOut, err := store.GetRelationshipsByMemorygramID(ctx, a.ID, false, true)
	if err != nil {
		t.Fatalf("GetRelationshipsByMemorygramID() failed: %v", err)
	}
	if len(onlyOut) != 1 || onlyOut[0].ID != out.ID {
		t.Errorf("outgoing only: got %v", onlyOut)
	}

	onlyIn, err := store.GetRelationshipsByMemorygramID(ctx, a.ID, true, false)
	if err != nil {
		t.Fatalf("GetRelationshipsByMemorygramID() failed: %v", err)
	}
	if len(onlyIn) != 1 || onlyIn[0].ID != in.ID {
		t.Errorf("incoming only: got %v", onlyIn)
	}

	neither, err := store.GetRelationshipsByMemorygramID(ctx, a.ID, false, false)
	if err != nil {
		t.Fatalf("GetRelationshipsByMemorygramID() failed: %v", err)
	}
	if len(neither) != 0 {
		t.Errorf("neither direction: got %v, want empty", neither)
	}
}

func TestFindRelationshipsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustUpsert(t, store, &types.Memorygram{Content: "a", Type: types.TypeExperience})
	b := mustUpsert(t, store, &types.Memorygram{Content: "b", Type: types.TypeExperience})

	if _, err := store.CreateRelationship(ctx, a.ID, b.ID, "LIGHT", 0.2, ""); err != nil {
		t.Fatalf("CreateRelationship() failed: %v", err)
	}
	heavy, err := store.CreateRelationship(ctx, a.ID, b.ID, "HEAVY", 0.9, "")
	if err != nil {
		t.Fatalf("CreateRelationship() failed: %v", err)
	}

	min := 0.5
	got, err := store.FindRelationships(ctx, storage.RelationshipFilter{MinWeight: &min})
	if err != nil {
		t.Fatalf("FindRelationships() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != heavy.ID {
		t.Errorf("min weight filter: got %v", got)
	}

	max := 0.5
	relType := "HEAVY"
	got, err = store.FindRelationships(ctx, storage.RelationshipFilter{MaxWeight: &max, RelationshipType: &relType})
	if err != nil {
		t.Fatalf("FindRelationships() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("conflicting filters: got %v, want empty", got)
	}

	// Empty filter returns everything.
	got, err = store.FindRelationships(ctx, storage.RelationshipFilter{})
	if err != nil {
		t.Fatalf("FindRelationships() failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("empty filter: got %d, want 2", len(got))
	}
}
