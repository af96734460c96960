// Package handlers provides HTTP handlers and middleware for the Mnemo API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mnemograph/mnemo/internal/chat"
	"github.com/mnemograph/mnemo/internal/llm"
	"github.com/mnemograph/mnemo/internal/memory"
	"github.com/mnemograph/mnemo/internal/pipeline"
	"github.com/mnemograph/mnemo/internal/storage"
	"github.com/mnemograph/mnemo/pkg/types"
)

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	memories  *memory.Service
	history   *chat.HistoryService
	chats     *chat.Processor
	manifests pipeline.ManifestStore
	executor  *pipeline.Executor
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(memories *memory.Service, history *chat.HistoryService, chats *chat.Processor, manifests pipeline.ManifestStore, executor *pipeline.Executor) *APIHandlers {
	return &APIHandlers{
		memories:  memories,
		history:   history,
		chats:     chats,
		manifests: manifests,
		executor:  executor,
	}
}

// ListMemorygrams handles GET /api/memorygrams - list memorygrams by subtype.
func (h *APIHandlers) ListMemorygrams(w http.ResponseWriter, r *http.Request) {
	subtype := r.URL.Query().Get("subtype")
	if subtype == "" {
		respondError(w, http.StatusBadRequest, "subtype query parameter is required", nil)
		return
	}

	grams, err := h.memories.GetBySubtype(r.Context(), subtype)
	if err != nil {
		respondServiceError(w, "failed to list memorygrams", err)
		return
	}
	respondJSON(w, http.StatusOK, grams)
}

// CreateMemorygram handles POST /api/memorygrams - create a memorygram.
// Embeddings are generated synchronously before the memorygram is stored.
func (h *APIHandlers) CreateMemorygram(w http.ResponseWriter, r *http.Request) {
	var req CreateMemorygramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	m := &types.Memorygram{
		Content: req.Content,
		Type:    types.ParseMemorygramType(req.Type),
		Subtype: req.Subtype,
		Source:  req.Source,
	}
	if req.Timestamp != nil {
		m.Timestamp = *req.Timestamp
	}

	stored, err := h.memories.CreateMemorygram(r.Context(), m)
	if err != nil {
		respondServiceError(w, "failed to create memorygram", err)
		return
	}
	respondJSON(w, http.StatusCreated, stored)
}

// GetMemorygram handles GET /api/memorygrams/{id}.
func (h *APIHandlers) GetMemorygram(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memorygram ID is required", nil)
		return
	}

	m, err := h.memories.GetMemorygram(r.Context(), id)
	if err != nil {
		respondServiceError(w, "failed to get memorygram", err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// UpdateMemorygram handles PATCH /api/memorygrams/{id} - partial update.
// Changing content re-embeds the memorygram.
func (h *APIHandlers) UpdateMemorygram(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memorygram ID is required", nil)
		return
	}

	var req UpdateMemorygramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	m, err := h.memories.GetMemorygram(r.Context(), id)
	if err != nil {
		respondServiceError(w, "failed to get memorygram", err)
		return
	}

	if req.Content != nil {
		m.Content = *req.Content
	}
	if req.Type != nil {
		m.Type = types.ParseMemorygramType(*req.Type)
	}
	if req.Subtype != nil {
		m.Subtype = *req.Subtype
	}
	if req.Source != nil {
		m.Source = *req.Source
	}

	updated, err := h.memories.UpdateMemorygram(r.Context(), m)
	if err != nil {
		respondServiceError(w, "failed to update memorygram", err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// SearchMemorygrams handles POST /api/memorygrams/search - similarity search
// over one embedding space, with optional chat exclusion.
func (h *APIHandlers) SearchMemorygrams(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	space := types.EmbeddingSpace(req.Space)
	if req.Space == "" {
		space = types.SpaceContent
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	hits, err := h.memories.FindSimilarToText(r.Context(), req.Text, space, topK, req.ExcludeChatID)
	if err != nil {
		respondServiceError(w, "search failed", err)
		return
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, SearchResult{Memorygram: hit.Memorygram, Score: hit.Score})
	}
	respondJSON(w, http.StatusOK, SearchResponse{Results: results, Total: len(results)})
}

// AssociateMemorygrams handles POST /api/memorygrams/{id}/associate - create
// or re-weight the association edge from this memorygram to another.
func (h *APIHandlers) AssociateMemorygrams(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memorygram ID is required", nil)
		return
	}

	var req AssociateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.ToMemorygramID == "" {
		respondError(w, http.StatusBadRequest, "to_memorygram_id is required", nil)
		return
	}

	source, err := h.memories.Associate(r.Context(), id, req.ToMemorygramID, req.Weight)
	if err != nil {
		respondServiceError(w, "failed to associate memorygrams", err)
		return
	}
	respondJSON(w, http.StatusOK, source)
}

// GetMemorygramRelationships handles GET /api/memorygrams/{id}/relationships.
// Direction is controlled with the incoming/outgoing query parameters, both
// defaulting to true.
func (h *APIHandlers) GetMemorygramRelationships(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memorygram ID is required", nil)
		return
	}

	incoming := parseBool(r.URL.Query().Get("incoming"), true)
	outgoing := parseBool(r.URL.Query().Get("outgoing"), true)

	rels, err := h.memories.GetRelationships(r.Context(), id, incoming, outgoing)
	if err != nil {
		respondServiceError(w, "failed to get relationships", err)
		return
	}
	respondJSON(w, http.StatusOK, rels)
}

// CreateRelationship handles POST /api/relationships.
func (h *APIHandlers) CreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req CreateRelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	rel, err := h.memories.CreateRelationship(r.Context(), req.FromMemorygramID, req.ToMemorygramID, req.RelationshipType, req.Weight, req.Properties)
	if err != nil {
		respondServiceError(w, "failed to create relationship", err)
		return
	}
	respondJSON(w, http.StatusCreated, rel)
}

// ListRelationships handles GET /api/relationships - filtered relationship
// listing. All query parameters are optional and combine with AND.
func (h *APIHandlers) ListRelationships(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.RelationshipFilter{}

	if v := q.Get("from"); v != "" {
		filter.FromMemorygramID = &v
	}
	if v := q.Get("to"); v != "" {
		filter.ToMemorygramID = &v
	}
	if v := q.Get("type"); v != "" {
		filter.RelationshipType = &v
	}
	if v := q.Get("min_weight"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid min_weight", err)
			return
		}
		filter.MinWeight = &f
	}
	if v := q.Get("max_weight"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid max_weight", err)
			return
		}
		filter.MaxWeight = &f
	}
	if v := q.Get("active"); v != "" {
		b := parseBool(v, true)
		filter.IsActive = &b
	}

	rels, err := h.memories.FindRelationships(r.Context(), filter)
	if err != nil {
		respondServiceError(w, "failed to list relationships", err)
		return
	}
	respondJSON(w, http.StatusOK, rels)
}

// GetRelationship handles GET /api/relationships/{id}.
func (h *APIHandlers) GetRelationship(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "relationship ID is required", nil)
		return
	}

	rel, err := h.memories.GetRelationship(r.Context(), id)
	if err != nil {
		respondServiceError(w, "failed to get relationship", err)
		return
	}
	respondJSON(w, http.StatusOK, rel)
}

// UpdateRelationship handles PATCH /api/relationships/{id} - partial update
// of weight, properties, or active flag.
func (h *APIHandlers) UpdateRelationship(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "relationship ID is required", nil)
		return
	}

	var req UpdateRelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	upd := storage.RelationshipUpdate{
		Weight:     req.Weight,
		Properties: req.Properties,
		IsActive:   req.IsActive,
	}
	rel, err := h.memories.UpdateRelationship(r.Context(), id, upd)
	if err != nil {
		respondServiceError(w, "failed to update relationship", err)
		return
	}
	respondJSON(w, http.StatusOK, rel)
}

// DeleteRelationship handles DELETE /api/relationships/{id}.
func (h *APIHandlers) DeleteRelationship(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "relationship ID is required", nil)
		return
	}

	if err := h.memories.DeleteRelationship(r.Context(), id); err != nil {
		respondServiceError(w, "failed to delete relationship", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListChats handles GET /api/chats - list chat experience memorygrams,
// newest first.
func (h *APIHandlers) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.history.GetAllChatExperiences(r.Context())
	if err != nil {
		respondServiceError(w, "failed to list chats", err)
		return
	}
	respondJSON(w, http.StatusOK, chats)
}

// GetChatHistory handles GET /api/chats/{chatId}/history - reconstruct the
// transcript for one chat. An unknown chat yields an empty transcript.
func (h *APIHandlers) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")
	if chatID == "" {
		respondError(w, http.StatusBadRequest, "chat ID is required", nil)
		return
	}

	messages, err := h.history.GetChatHistory(r.Context(), chatID)
	if err != nil {
		respondServiceError(w, "failed to get chat history", err)
		return
	}
	respondJSON(w, http.StatusOK, ChatHistoryResponse{ChatID: chatID, Messages: messages})
}

// PostChatMessage handles POST /api/chats/{chatId}/messages - process one
// user turn: persist it, retrieve related memories, and generate a reply.
func (h *APIHandlers) PostChatMessage(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")
	if chatID == "" {
		respondError(w, http.StatusBadRequest, "chat ID is required", nil)
		return
	}

	var req ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required", nil)
		return
	}

	reply, err := h.chats.ProcessUserMessage(r.Context(), chatID, req.Message)
	if err != nil {
		respondServiceError(w, "failed to process message", err)
		return
	}
	respondJSON(w, http.StatusOK, ChatMessageResponse{
		ChatID:   chatID,
		Response: reply.Response,
		Sources:  reply.Sources,
	})
}

// ListPipelines handles GET /api/pipelines.
func (h *APIHandlers) ListPipelines(w http.ResponseWriter, r *http.Request) {
	manifests, err := h.manifests.GetAll(r.Context())
	if err != nil {
		respondServiceError(w, "failed to list pipelines", err)
		return
	}
	respondJSON(w, http.StatusOK, manifests)
}

// CreatePipeline handles POST /api/pipelines.
func (h *APIHandlers) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var m types.PipelineManifest
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	if err := h.manifests.Create(r.Context(), &m); err != nil {
		respondServiceError(w, "failed to create pipeline", err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

// GetPipeline handles GET /api/pipelines/{id}.
func (h *APIHandlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "pipeline ID is required", nil)
		return
	}

	m, err := h.manifests.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, "failed to get pipeline", err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// UpdatePipeline handles PUT /api/pipelines/{id} - full manifest replacement.
// The path id wins over any id in the request body.
func (h *APIHandlers) UpdatePipeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "pipeline ID is required", nil)
		return
	}

	var m types.PipelineManifest
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	m.ID = id

	if err := h.manifests.Update(r.Context(), &m); err != nil {
		respondServiceError(w, "failed to update pipeline", err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// DeletePipeline handles DELETE /api/pipelines/{id}.
func (h *APIHandlers) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "pipeline ID is required", nil)
		return
	}

	if err := h.manifests.Delete(r.Context(), id); err != nil {
		respondServiceError(w, "failed to delete pipeline", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExecutePipeline handles POST /api/pipelines/{id}/execute - launch an
// asynchronous run and return its initial status with 202.
func (h *APIHandlers) ExecutePipeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "pipeline ID is required", nil)
		return
	}

	var req types.PipelineExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	status, err := h.executor.ExecutePipeline(r.Context(), id, req)
	if err != nil {
		respondServiceError(w, "failed to execute pipeline", err)
		return
	}
	respondJSON(w, http.StatusAccepted, status)
}

// GetRunStatus handles GET /api/pipelines/runs/{runId} - poll run status.
func (h *APIHandlers) GetRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if runID == "" {
		respondError(w, http.StatusBadRequest, "run ID is required", nil)
		return
	}

	status, err := h.executor.GetExecutionStatus(runID)
	if err != nil {
		respondServiceError(w, "failed to get run status", err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Helper functions

// parseBool parses a boolean query parameter, returning defaultValue when
// absent or unparseable.
func parseBool(s string, defaultValue bool) bool {
	if s == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue
	}
	return v
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent, nothing more we can do here.
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}
	respondJSON(w, statusCode, errResp)
}

// respondServiceError maps sentinel errors from the service layer onto HTTP
// status codes.
func respondServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, storage.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, storage.ErrAlreadyExists):
		respondError(w, http.StatusConflict, message, err)
	case errors.Is(err, llm.ErrUpstream), errors.Is(err, llm.ErrCircuitOpen):
		respondError(w, http.StatusBadGateway, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}
