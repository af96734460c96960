package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ComponentConfiguration selects and configures one processing stage inside
// a pipeline manifest. Type is the registry key of the concrete stage;
// Settings carries stage-specific options.
type ComponentConfiguration struct {
	Type     string            `json:"type"`
	Settings map[string]string `json:"settings,omitempty"`
}

// PipelineManifest is a named, ordered list of configured processing stages.
// Manifests are created once, replaced wholesale on update, and removed on
// delete; identity is the ID.
type PipelineManifest struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Components  []ComponentConfiguration `json:"components"`
}

// Validate checks the manifest invariants for create/update.
func (m *PipelineManifest) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("manifest id must not be empty")
	}
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("manifest name must not be empty")
	}
	for i, c := range m.Components {
		if strings.TrimSpace(c.Type) == "" {
			return fmt.Errorf("manifest component %d has an empty type", i)
		}
	}
	return nil
}

// PipelineExecutionRequest is the input to one pipeline run: the user's text
// plus free-form session and response-channel metadata.
type PipelineExecutionRequest struct {
	UserInput       string            `json:"user_input"`
	SessionMetadata map[string]string `json:"session_metadata,omitempty"`
	ChannelMetadata map[string]string `json:"channel_metadata,omitempty"`
}

// ChunkType classifies one accumulated unit of pipeline context.
type ChunkType string

const (
	ChunkMemory     ChunkType = "Memory"
	ChunkHistory    ChunkType = "History"
	ChunkSimulation ChunkType = "Simulation"
	ChunkCompletion ChunkType = "Completion"
)

// ChunkProvenance records where a context chunk came from.
type ChunkProvenance struct {
	Source     string            `json:"source"` // name of the stage that produced the chunk
	OriginalID string            `json:"original_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ContextChunk is one unit of accumulated pipeline context with provenance.
// Relevance is a similarity score where applicable; zero otherwise.
type ContextChunk struct {
	Type       ChunkType       `json:"type"`
	Content    string          `json:"content"`
	Provenance ChunkProvenance `json:"provenance"`
	Relevance  float64         `json:"relevance,omitempty"`
}

// PipelineExecutionState is the mutable, run-scoped aggregate threaded
// through the stage sequence. It is owned exclusively by one run and never
// shared across runs.
type PipelineExecutionState struct {
	Request       PipelineExecutionRequest `json:"request"`
	ContextChunks []ContextChunk           `json:"context_chunks"`
}

// AddChunk appends one context chunk to the state.
func (s *PipelineExecutionState) AddChunk(c ContextChunk) {
	s.ContextChunks = append(s.ContextChunks, c)
}

// ChunksOfType returns the chunks matching the given type, in order.
func (s *PipelineExecutionState) ChunksOfType(t ChunkType) []ContextChunk {
	var out []ContextChunk
	for _, c := range s.ContextChunks {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// ExecutionStatusValue is the lifecycle status of one pipeline run.
type ExecutionStatusValue string

const (
	StatusPending   ExecutionStatusValue = "Pending"
	StatusRunning   ExecutionStatusValue = "Running"
	StatusCompleted ExecutionStatusValue = "Completed"
	StatusFailed    ExecutionStatusValue = "Failed"
)

// Terminal reports whether the status value is a terminal state.
func (v ExecutionStatusValue) Terminal() bool {
	return v == StatusCompleted || v == StatusFailed
}

// PipelineExecutionStatus is one run's queryable progress record. The
// executor publishes a fresh copy on every transition (copy-on-write), so a
// concurrent reader always observes an internally consistent snapshot.
type PipelineExecutionStatus struct {
	RunID      string               `json:"run_id"`
	PipelineID string               `json:"pipeline_id"`
	Status     ExecutionStatusValue `json:"status"`

	CurrentStageName      string     `json:"current_stage_name,omitempty"`
	CurrentStageStartTime *time.Time `json:"current_stage_start_time,omitempty"`

	OverallStartTime time.Time  `json:"overall_start_time"`
	OverallEndTime   *time.Time `json:"overall_end_time,omitempty"`

	Message string                  `json:"message,omitempty"`
	Result  *PipelineExecutionState `json:"result,omitempty"`
}

// Clone returns a deep-enough copy for publication to concurrent readers:
// timestamps are copied, and the result state (if any) gets its own chunk
// slice so later runs of the writer cannot mutate a published snapshot.
func (s *PipelineExecutionStatus) Clone() *PipelineExecutionStatus {
	out := *s
	if s.CurrentStageStartTime != nil {
		t := *s.CurrentStageStartTime
		out.CurrentStageStartTime = &t
	}
	if s.OverallEndTime != nil {
		t := *s.OverallEndTime
		out.OverallEndTime = &t
	}
	if s.Result != nil {
		res := *s.Result
		res.ContextChunks = append([]ContextChunk(nil), s.Result.ContextChunks...)
		out.Result = &res
	}
	return &out
}
