package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnemograph/mnemo/internal/config"
	"github.com/mnemograph/mnemo/internal/storage"
	"github.com/mnemograph/mnemo/pkg/types"
)

const zeroStageMessage = "Pipeline completed: No components to execute."

// Executor launches pipeline runs and tracks their status. Each run executes
// in its own goroutine; callers poll GetExecutionStatus with the returned run
// id. Status snapshots are published copy-on-write, so a snapshot handed to a
// caller is never mutated afterwards.
type Executor struct {
	manifests ManifestStore
	registry  *Registry
	deps      Dependencies
	timeout   time.Duration

	mu   sync.RWMutex
	runs map[string]*types.PipelineExecutionStatus
}

// NewExecutor wires the executor against a manifest store and stage registry.
func NewExecutor(manifests ManifestStore, registry *Registry, deps Dependencies, cfg config.PipelineConfig) *Executor {
	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Executor{
		manifests: manifests,
		registry:  registry,
		deps:      deps,
		timeout:   timeout,
		runs:      make(map[string]*types.PipelineExecutionStatus),
	}
}

// ExecutePipeline starts an asynchronous run of the named pipeline and
// returns the initial Pending status. Manifest lookup and stage resolution
// happen synchronously so callers get storage.ErrNotFound for an unknown
// pipeline and storage.ErrInvalidInput for an unresolvable component before
// any run state is created.
func (e *Executor) ExecutePipeline(ctx context.Context, pipelineID string, req types.PipelineExecutionRequest) (*types.PipelineExecutionStatus, error) {
	manifest, err := e.manifests.Get(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	stages, err := e.registry.ResolveAll(manifest, e.deps)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	runID := uuid.NewString()
	status := &types.PipelineExecutionStatus{
		RunID:            runID,
		PipelineID:       pipelineID,
		Status:           types.StatusPending,
		OverallStartTime: time.Now().UTC(),
		Message:          "Pipeline execution accepted",
	}
	e.publish(status)

	go e.run(runID, pipelineID, stages, req)

	return status.Clone(), nil
}

// GetExecutionStatus returns a snapshot of the run's current status.
// Run records are retained after completion so late pollers still see the
// terminal state.
func (e *Executor) GetExecutionStatus(runID string) (*types.PipelineExecutionStatus, error) {
	e.mu.RLock()
	status, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, storage.ErrNotFound)
	}
	return status.Clone(), nil
}

// publish installs a fresh snapshot for the run. The stored value is never
// mutated in place; run goroutines clone, modify, and re-publish.
func (e *Executor) publish(status *types.PipelineExecutionStatus) {
	e.mu.Lock()
	e.runs[status.RunID] = status
	e.mu.Unlock()
}

func (e *Executor) run(runID, pipelineID string, stages []Stage, req types.PipelineExecutionRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("pipeline: run %s panicked: %v", runID, r)
			e.finish(runID, types.StatusFailed, fmt.Sprintf("Pipeline failed: internal error in stage execution: %v", r), nil)
		}
	}()

	if len(stages) == 0 {
		e.finish(runID, types.StatusCompleted, zeroStageMessage, &types.PipelineExecutionState{Request: req})
		return
	}

	e.transition(runID, func(s *types.PipelineExecutionStatus) {
		s.Status = types.StatusRunning
		s.Message = fmt.Sprintf("Executing pipeline %s", pipelineID)
	})

	state := &types.PipelineExecutionState{Request: req}
	for _, stage := range stages {
		stageStart := time.Now().UTC()
		e.transition(runID, func(s *types.PipelineExecutionStatus) {
			s.CurrentStageName = stage.Name()
			s.CurrentStageStartTime = &stageStart
		})

		next, err := stage.Execute(ctx, state)
		if err != nil {
			log.Printf("pipeline: run %s stage %s failed: %v", runID, stage.Name(), err)
			e.finish(runID, types.StatusFailed, fmt.Sprintf("Pipeline failed at stage %s: %v", stage.Name(), err), nil)
			return
		}
		if next != nil {
			state = next
		}
	}

	e.finish(runID, types.StatusCompleted, fmt.Sprintf("Pipeline %s completed", pipelineID), state)
}

// transition clones the current snapshot, applies mutate, and re-publishes.
func (e *Executor) transition(runID string, mutate func(*types.PipelineExecutionStatus)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.runs[runID]
	if !ok {
		return
	}
	next := current.Clone()
	mutate(next)
	e.runs[runID] = next
}

func (e *Executor) finish(runID string, final types.ExecutionStatusValue, message string, result *types.PipelineExecutionState) {
	end := time.Now().UTC()
	e.transition(runID, func(s *types.PipelineExecutionStatus) {
		s.Status = final
		s.Message = message
		s.OverallEndTime = &end
		s.CurrentStageName = ""
		s.CurrentStageStartTime = nil
		s.Result = result
	})
}
