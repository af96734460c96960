package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemograph/mnemo/internal/chat"
	"github.com/mnemograph/mnemo/internal/config"
	"github.com/mnemograph/mnemo/internal/memory"
	"github.com/mnemograph/mnemo/internal/pipeline"
	"github.com/mnemograph/mnemo/internal/storage/sqlite"
	"github.com/mnemograph/mnemo/pkg/types"
)

type fakeEmbedder struct {
	vec []float32
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vec, nil
}

func (e *fakeEmbedder) GetModel() string { return "fake-embedder" }

type fakeGenerator struct {
	reply string
}

func (g *fakeGenerator) Complete(ctx context.Context, prompt, role string) (string, error) {
	return g.reply, nil
}

func (g *fakeGenerator) GetModel() string { return "fake-generator" }

// newTestHandlers wires the full handler stack against an in-memory SQLite
// store and canned LLM providers.
func newTestHandlers(t *testing.T) *APIHandlers {
	t.Helper()

	store, err := sqlite.NewGraphStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	memories := memory.NewService(store, &fakeEmbedder{vec: []float32{1, 0, 0}}, config.MemoryConfig{EmbedAllSpaces: true})
	history := chat.NewHistoryService(store)
	chats := chat.NewProcessor(memories, history, &fakeGenerator{reply: "the answer"})

	manifests, err := pipeline.NewFileManifestStore(t.TempDir())
	require.NoError(t, err)
	executor := pipeline.NewExecutor(manifests, pipeline.NewDefaultRegistry(), pipeline.Dependencies{
		Memories:  memories,
		History:   history,
		Generator: &fakeGenerator{reply: "done"},
	}, config.PipelineConfig{RunTimeout: 30 * time.Second})

	return NewAPIHandlers(memories, history, chats, manifests, executor)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func createMemorygram(t *testing.T, h *APIHandlers, body CreateMemorygramRequest) types.Memorygram {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/memorygrams", jsonBody(t, body))
	w := httptest.NewRecorder()
	h.CreateMemorygram(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var m types.Memorygram
	decodeInto(t, w, &m)
	return m
}

func TestCreateAndGetMemorygram(t *testing.T) {
	h := newTestHandlers(t)

	created := createMemorygram(t, h, CreateMemorygramRequest{
		Content: "the sky was orange that evening",
		Type:    "Experience",
		Subtype: "observation",
		Source:  "api",
	})
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, types.TypeExperience, created.Type)
	assert.NotEmpty(t, created.ContentEmbedding)

	req := httptest.NewRequest(http.MethodGet, "/api/memorygrams/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	w := httptest.NewRecorder()
	h.GetMemorygram(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got types.Memorygram
	decodeInto(t, w, &got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.Content, got.Content)
}

func TestCreateMemorygramBadBody(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/memorygrams", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.CreateMemorygram(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateMemorygramEmptyContent(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/memorygrams", jsonBody(t, CreateMemorygramRequest{Type: "Experience"}))
	w := httptest.NewRecorder()
	h.CreateMemorygram(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMemorygramNotFound(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/memorygrams/absent", nil)
	req.SetPathValue("id", "absent")
	w := httptest.NewRecorder()
	h.GetMemorygram(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListMemorygramsRequiresSubtype(t *testing.T) {
	h := newTestHandlers(t)

	w := httptest.NewRecorder()
	h.ListMemorygrams(w, httptest.NewRequest(http.MethodGet, "/api/memorygrams", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMemorygramsBySubtype(t *testing.T) {
	h := newTestHandlers(t)

	createMemorygram(t, h, CreateMemorygramRequest{Content: "note one", Type: "Experience", Subtype: "journal"})
	createMemorygram(t, h, CreateMemorygramRequest{Content: "note two", Type: "Experience", Subtype: "other"})

	w := httptest.NewRecorder()
	h.ListMemorygrams(w, httptest.NewRequest(http.MethodGet, "/api/memorygrams?subtype=journal", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var grams []types.Memorygram
	decodeInto(t, w, &grams)
	require.Len(t, grams, 1)
	assert.Equal(t, "note one", grams[0].Content)
}

func TestUpdateMemorygramPartial(t *testing.T) {
	h := newTestHandlers(t)

	created := createMemorygram(t, h, CreateMemorygramRequest{
		Content: "original content", Type: "Experience", Source: "api",
	})

	newContent := "revised content"
	req := httptest.NewRequest(http.MethodPatch, "/api/memorygrams/"+created.ID,
		jsonBody(t, UpdateMemorygramRequest{Content: &newContent}))
	req.SetPathValue("id", created.ID)
	w := httptest.NewRecorder()
	h.UpdateMemorygram(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated types.Memorygram
	decodeInto(t, w, &updated)
	assert.Equal(t, newContent, updated.Content)
	assert.Equal(t, created.Type, updated.Type)
	assert.Equal(t, created.Source, updated.Source)
}

func TestSearchMemorygrams(t *testing.T) {
	h := newTestHandlers(t)

	created := createMemorygram(t, h, CreateMemorygramRequest{Content: "coffee preferences", Type: "Experience"})

	req := httptest.NewRequest(http.MethodPost, "/api/memorygrams/search",
		jsonBody(t, SearchRequest{Text: "what coffee do I like"}))
	w := httptest.NewRecorder()
	h.SearchMemorygrams(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp SearchResponse
	decodeInto(t, w, &resp)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, created.ID, resp.Results[0].Memorygram.ID)
	assert.Greater(t, resp.Results[0].Score, 0.9)
}

func TestSearchMemorygramsUnknownSpace(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/memorygrams/search",
		jsonBody(t, SearchRequest{Text: "anything", Space: "Sideways"}))
	w := httptest.NewRecorder()
	h.SearchMemorygrams(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssociateMemorygrams(t *testing.T) {
	h := newTestHandlers(t)

	a := createMemorygram(t, h, CreateMemorygramRequest{Content: "first", Type: "Experience"})
	b := createMemorygram(t, h, CreateMemorygramRequest{Content: "second", Type: "Experience"})

	req := httptest.NewRequest(http.MethodPost, "/api/memorygrams/"+a.ID+"/associate",
		jsonBody(t, AssociateRequest{ToMemorygramID: b.ID, Weight: 0.7}))
	req.SetPathValue("id", a.ID)
	w := httptest.NewRecorder()
	h.AssociateMemorygrams(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	relReq := httptest.NewRequest(http.MethodGet, "/api/memorygrams/"+a.ID+"/relationships?incoming=false", nil)
	relReq.SetPathValue("id", a.ID)
	w = httptest.NewRecorder()
	h.GetMemorygramRelationships(w, relReq)

	require.Equal(t, http.StatusOK, w.Code)
	var rels []types.GraphRelationship
	decodeInto(t, w, &rels)
	require.Len(t, rels, 1)
	assert.Equal(t, types.RelAssociatedWith, rels[0].RelationshipType)
	assert.InDelta(t, 0.7, rels[0].Weight, 1e-9)
}

func TestAssociateRequiresTarget(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/memorygrams/x/associate",
		jsonBody(t, AssociateRequest{Weight: 0.5}))
	req.SetPathValue("id", "x")
	w := httptest.NewRecorder()
	h.AssociateMemorygrams(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRelationshipLifecycle(t *testing.T) {
	h := newTestHandlers(t)

	a := createMemorygram(t, h, CreateMemorygramRequest{Content: "from", Type: "Experience"})
	b := createMemorygram(t, h, CreateMemorygramRequest{Content: "to", Type: "Experience"})

	// Create.
	req := httptest.NewRequest(http.MethodPost, "/api/relationships", jsonBody(t, CreateRelationshipRequest{
		FromMemorygramID: a.ID,
		ToMemorygramID:   b.ID,
		RelationshipType: "REFERENCES",
		Weight:           0.4,
	}))
	w := httptest.NewRecorder()
	h.CreateRelationship(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rel types.GraphRelationship
	decodeInto(t, w, &rel)
	require.NotEmpty(t, rel.ID)

	// Filtered listing.
	w = httptest.NewRecorder()
	h.ListRelationships(w, httptest.NewRequest(http.MethodGet, "/api/relationships?type=REFERENCES&min_weight=0.3", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var listed []types.GraphRelationship
	decodeInto(t, w, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, rel.ID, listed[0].ID)

	// Re-weight.
	weight := 0.9
	patch := httptest.NewRequest(http.MethodPatch, "/api/relationships/"+rel.ID,
		jsonBody(t, UpdateRelationshipRequest{Weight: &weight}))
	patch.SetPathValue("id", rel.ID)
	w = httptest.NewRecorder()
	h.UpdateRelationship(w, patch)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var patched types.GraphRelationship
	decodeInto(t, w, &patched)
	assert.InDelta(t, 0.9, patched.Weight, 1e-9)

	// Delete, then confirm it is gone.
	del := httptest.NewRequest(http.MethodDelete, "/api/relationships/"+rel.ID, nil)
	del.SetPathValue("id", rel.ID)
	w = httptest.NewRecorder()
	h.DeleteRelationship(w, del)
	require.Equal(t, http.StatusNoContent, w.Code)

	get := httptest.NewRequest(http.MethodGet, "/api/relationships/"+rel.ID, nil)
	get.SetPathValue("id", rel.ID)
	w = httptest.NewRecorder()
	h.GetRelationship(w, get)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRelationshipsRejectsBadWeight(t *testing.T) {
	h := newTestHandlers(t)

	w := httptest.NewRecorder()
	h.ListRelationships(w, httptest.NewRequest(http.MethodGet, "/api/relationships?min_weight=heavy", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostChatMessageAndHistory(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chats/chat-1/messages",
		jsonBody(t, ChatMessageRequest{Message: "hello there"}))
	req.SetPathValue("chatId", "chat-1")
	w := httptest.NewRecorder()
	h.PostChatMessage(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reply ChatMessageResponse
	decodeInto(t, w, &reply)
	assert.Equal(t, "chat-1", reply.ChatID)
	assert.Equal(t, "the answer", reply.Response)

	// The turn persists both sides of the exchange.
	hist := httptest.NewRequest(http.MethodGet, "/api/chats/chat-1/history", nil)
	hist.SetPathValue("chatId", "chat-1")
	w = httptest.NewRecorder()
	h.GetChatHistory(w, hist)

	require.Equal(t, http.StatusOK, w.Code)
	var histResp ChatHistoryResponse
	decodeInto(t, w, &histResp)
	require.Len(t, histResp.Messages, 2)
	assert.Equal(t, types.TypeUserInput, histResp.Messages[0].Type)
	assert.Equal(t, types.TypeAssistantResponse, histResp.Messages[1].Type)

	// And the chat shows up in the listing.
	w = httptest.NewRecorder()
	h.ListChats(w, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var chatList []types.Memorygram
	decodeInto(t, w, &chatList)
	require.Len(t, chatList, 1)
	assert.Equal(t, types.SubtypeChat, chatList[0].Subtype)
}

func TestPostChatMessageRequiresText(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chats/chat-1/messages",
		jsonBody(t, ChatMessageRequest{Message: "   "}))
	req.SetPathValue("chatId", "chat-1")
	w := httptest.NewRecorder()
	h.PostChatMessage(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetChatHistoryUnknownChatIsEmpty(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/chats/nope/history", nil)
	req.SetPathValue("chatId", "nope")
	w := httptest.NewRecorder()
	h.GetChatHistory(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp ChatHistoryResponse
	decodeInto(t, w, &resp)
	assert.Empty(t, resp.Messages)
}

func TestPipelineLifecycle(t *testing.T) {
	h := newTestHandlers(t)

	manifest := types.PipelineManifest{
		ID:   "echo",
		Name: "Echo pipeline",
		Components: []types.ComponentConfiguration{
			{Type: "null", Settings: map[string]string{"delay": "1ms"}},
		},
	}

	// Create.
	w := httptest.NewRecorder()
	h.CreatePipeline(w, httptest.NewRequest(http.MethodPost, "/api/pipelines", jsonBody(t, manifest)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Duplicate create conflicts.
	w = httptest.NewRecorder()
	h.CreatePipeline(w, httptest.NewRequest(http.MethodPost, "/api/pipelines", jsonBody(t, manifest)))
	assert.Equal(t, http.StatusConflict, w.Code)

	// List.
	w = httptest.NewRecorder()
	h.ListPipelines(w, httptest.NewRequest(http.MethodGet, "/api/pipelines", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var all []types.PipelineManifest
	decodeInto(t, w, &all)
	require.Len(t, all, 1)

	// Replace; the path id wins over the body id.
	renamed := manifest
	renamed.ID = "something-else"
	renamed.Name = "Renamed pipeline"
	put := httptest.NewRequest(http.MethodPut, "/api/pipelines/echo", jsonBody(t, renamed))
	put.SetPathValue("id", "echo")
	w = httptest.NewRecorder()
	h.UpdatePipeline(w, put)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var replaced types.PipelineManifest
	decodeInto(t, w, &replaced)
	assert.Equal(t, "echo", replaced.ID)
	assert.Equal(t, "Renamed pipeline", replaced.Name)

	// Delete, then 404 on get.
	del := httptest.NewRequest(http.MethodDelete, "/api/pipelines/echo", nil)
	del.SetPathValue("id", "echo")
	w = httptest.NewRecorder()
	h.DeletePipeline(w, del)
	require.Equal(t, http.StatusNoContent, w.Code)

	get := httptest.NewRequest(http.MethodGet, "/api/pipelines/echo", nil)
	get.SetPathValue("id", "echo")
	w = httptest.NewRecorder()
	h.GetPipeline(w, get)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecutePipelineAndPollStatus(t *testing.T) {
	h := newTestHandlers(t)

	manifest := types.PipelineManifest{
		ID:   "quick",
		Name: "Quick run",
		Components: []types.ComponentConfiguration{
			{Type: "null", Settings: map[string]string{"delay": "1ms"}},
			{Type: "completion"},
		},
	}
	w := httptest.NewRecorder()
	h.CreatePipeline(w, httptest.NewRequest(http.MethodPost, "/api/pipelines", jsonBody(t, manifest)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	exec := httptest.NewRequest(http.MethodPost, "/api/pipelines/quick/execute",
		jsonBody(t, types.PipelineExecutionRequest{UserInput: "hello"}))
	exec.SetPathValue("id", "quick")
	w = httptest.NewRecorder()
	h.ExecutePipeline(w, exec)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var status types.PipelineExecutionStatus
	decodeInto(t, w, &status)
	require.NotEmpty(t, status.RunID)
	assert.Equal(t, "quick", status.PipelineID)

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/pipelines/runs/"+status.RunID, nil)
		req.SetPathValue("runId", status.RunID)
		rec := httptest.NewRecorder()
		h.GetRunStatus(rec, req)
		if rec.Code != http.StatusOK {
			return false
		}
		var s types.PipelineExecutionStatus
		if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
			return false
		}
		status = s
		return s.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, types.StatusCompleted, status.Status)
	require.NotNil(t, status.Result)
	assert.Len(t, status.Result.ChunksOfType(types.ChunkSimulation), 1)
	assert.Len(t, status.Result.ChunksOfType(types.ChunkCompletion), 1)
}

func TestExecuteUnknownPipeline(t *testing.T) {
	h := newTestHandlers(t)

	exec := httptest.NewRequest(http.MethodPost, "/api/pipelines/ghost/execute",
		jsonBody(t, types.PipelineExecutionRequest{UserInput: "hi"}))
	exec.SetPathValue("id", "ghost")
	w := httptest.NewRecorder()
	h.ExecutePipeline(w, exec)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRunStatusUnknownRun(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/pipelines/runs/nope", nil)
	req.SetPathValue("runId", "nope")
	w := httptest.NewRecorder()
	h.GetRunStatus(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
