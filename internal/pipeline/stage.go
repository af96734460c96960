// Package pipeline implements the cognitive processing engine: named
// manifests of configured stages, a registry resolving stage type tags to
// constructors, and an executor running manifests as independent
// asynchronous tasks with queryable status.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mnemograph/mnemo/internal/chat"
	"github.com/mnemograph/mnemo/internal/llm"
	"github.com/mnemograph/mnemo/internal/memory"
	"github.com/mnemograph/mnemo/pkg/types"
)

// Stage is one processing step of a pipeline run. Execute threads the
// execution state through: it may mutate the context chunk list and returns
// the (possibly same) state.
//
// Stages absorb their own failures: missing required input or a failed
// upstream call must leave the state unchanged and return a nil error; the
// absence of new context chunks is the signal. A returned error or panic is
// treated by the executor as an unhandled failure and fails the whole run.
type Stage interface {
	Name() string
	Execute(ctx context.Context, state *types.PipelineExecutionState) (*types.PipelineExecutionState, error)
}

// Dependencies bundles the collaborators stage constructors may draw on.
type Dependencies struct {
	Memories  *memory.Service
	History   *chat.HistoryService
	Generator llm.TextGenerator
}

// StageFactory builds one stage instance from its manifest configuration.
type StageFactory func(cfg types.ComponentConfiguration, deps Dependencies) (Stage, error)

// Registry maps a fixed set of stage type tags to constructors. Resolution
// happens once, when a run starts: an unknown tag is a configuration error,
// not a runtime dispatch failure.
type Registry struct {
	factories map[string]StageFactory
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]StageFactory)}
}

// NewDefaultRegistry creates a registry with the built-in stage library.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(StageTypeNull, NewNullStage)
	r.Register(StageTypeMemoryRetrieval, NewMemoryRetrievalStage)
	r.Register(StageTypeChatHistory, NewChatHistoryStage)
	r.Register(StageTypeCompletion, NewCompletionStage)
	return r
}

// Register adds (or replaces) a stage factory under the given type tag.
func (r *Registry) Register(stageType string, factory StageFactory) {
	r.factories[stageType] = factory
}

// Resolve builds the stage instance selected by cfg.Type.
func (r *Registry) Resolve(cfg types.ComponentConfiguration, deps Dependencies) (Stage, error) {
	factory, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown stage type %q", cfg.Type)
	}
	return factory(cfg, deps)
}

// ResolveAll builds every stage of a manifest up front, so configuration
// errors surface before the run launches.
func (r *Registry) ResolveAll(manifest *types.PipelineManifest, deps Dependencies) ([]Stage, error) {
	stages := make([]Stage, 0, len(manifest.Components))
	for i, cfg := range manifest.Components {
		stage, err := r.Resolve(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s component %d: %w", manifest.ID, i, err)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// Setting accessors. Manifest settings are strings; these parse them with
// defaults for absent or malformed values.

func settingString(cfg types.ComponentConfiguration, key, def string) string {
	if v, ok := cfg.Settings[key]; ok && v != "" {
		return v
	}
	return def
}

func settingInt(cfg types.ComponentConfiguration, key string, def int) int {
	if v, ok := cfg.Settings[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func settingFloat(cfg types.ComponentConfiguration, key string, def float64) float64 {
	if v, ok := cfg.Settings[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func settingDuration(cfg types.ComponentConfiguration, key string, def time.Duration) time.Duration {
	if v, ok := cfg.Settings[key]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
