// Package cascade recomputes Step, Stage and Process aggregates bottom-up
// after a Field changes. Each level is read, rolled up and written before
// the next level is touched; there is no surrounding transaction.
package cascade

import (
	"context"
	"errors"
	"fmt"

	"procline/internal/workflow"
)

// Store is the persistence contract the cascade reads and writes through.
type Store interface {
	GetField(ctx context.Context, id string) (workflow.Field, error)
	GetStep(ctx context.Context, id string) (workflow.Step, error)
	GetStage(ctx context.Context, id string) (workflow.Stage, error)
	GetProcess(ctx context.Context, id string) (workflow.Process, error)
	ListSiblingFields(ctx context.Context, stepID string) ([]workflow.Field, error)
	ListSiblingSteps(ctx context.Context, stageID string) ([]workflow.Step, error)
	ListSiblingStages(ctx context.Context, processID string) ([]workflow.Stage, error)
	ListProcessFields(ctx context.Context, processID string) ([]workflow.Field, error)
	UpdateStepStatus(ctx context.Context, id string, a workflow.Aggregate) error
	UpdateStageStatus(ctx context.Context, id string, a workflow.Aggregate) error
	UpdateProcessStatus(ctx context.Context, id string, a workflow.Aggregate) error
}

type Level string

const (
	LevelField   Level = "field"
	LevelStep    Level = "step"
	LevelStage   Level = "stage"
	LevelProcess Level = "process"
)

type Phase string

const (
	PhaseRead  Phase = "read"
	PhaseWrite Phase = "write"
)

// BreakError reports where a cascade stopped. Levels below it were written
// and stay written.
type BreakError struct {
	Level Level
	ID    string
	Phase Phase
	Err   error
}

func (e *BreakError) Error() string {
	return fmt.Sprintf("cascade stopped at %s %s (%s): %v", e.Level, e.ID, e.Phase, e.Err)
}

func (e *BreakError) Unwrap() []error {
	if e.Phase == PhaseWrite {
		return []error{workflow.ErrPersistence, e.Err}
	}
	return []error{e.Err}
}

// Result describes one cascade run. Aggregates are zero for levels that
// were not reached.
type Result struct {
	FieldID   string             `json:"field_id,omitempty"`
	StepID    string             `json:"step_id"`
	StageID   string             `json:"stage_id,omitempty"`
	ProcessID string             `json:"process_id,omitempty"`
	Step      workflow.Aggregate `json:"step"`
	Stage     workflow.Aggregate `json:"stage"`
	Process   workflow.Aggregate `json:"process"`
	Persisted []Level            `json:"persisted"`
}

type Engine struct {
	Store Store
}

func New(store Store) *Engine {
	return &Engine{Store: store}
}

type run struct {
	ctx   context.Context
	store Store
	res   Result
}

func (r *run) fail(level Level, id string, phase Phase, err error) (Result, error) {
	return r.res, &BreakError{Level: level, ID: id, Phase: phase, Err: err}
}

// Recalculate runs the full upward path starting at the step that holds
// fieldID.
func (e *Engine) Recalculate(ctx context.Context, fieldID string) (Result, error) {
	r := &run{ctx: ctx, store: e.Store, res: Result{FieldID: fieldID}}
	f, err := e.Store.GetField(ctx, fieldID)
	if err != nil {
		return r.fail(LevelField, fieldID, PhaseRead, err)
	}
	return r.fromStep(f.StepID)
}

// RecalculateStep starts the walk at a step, for structural changes that
// alter a step's field set without touching a particular field.
func (e *Engine) RecalculateStep(ctx context.Context, stepID string) (Result, error) {
	r := &run{ctx: ctx, store: e.Store}
	return r.fromStep(stepID)
}

// RecalculateStage starts the walk at a stage.
func (e *Engine) RecalculateStage(ctx context.Context, stageID string) (Result, error) {
	r := &run{ctx: ctx, store: e.Store}
	return r.fromStage(stageID, nil)
}

// RecalculateProcess rolls up only the process, after lifecycle changes or
// stage reorders.
func (e *Engine) RecalculateProcess(ctx context.Context, processID string) (Result, error) {
	r := &run{ctx: ctx, store: e.Store}
	return r.fromProcess(processID, nil)
}

func (r *run) fromStep(stepID string) (Result, error) {
	r.res.StepID = stepID
	step, err := r.store.GetStep(r.ctx, stepID)
	if err != nil {
		return r.fail(LevelStep, stepID, PhaseRead, err)
	}
	fields, err := r.store.ListSiblingFields(r.ctx, stepID)
	if err != nil {
		return r.fail(LevelStep, stepID, PhaseRead, err)
	}
	lookup, err := r.processLookup(step.StageID, fields)
	if err != nil {
		return r.fail(LevelStep, stepID, PhaseRead, err)
	}
	agg := workflow.RollupStep(fields, lookup)
	if err := r.store.UpdateStepStatus(r.ctx, stepID, agg); err != nil {
		return r.fail(LevelStep, stepID, PhaseWrite, err)
	}
	r.res.Step = agg
	r.res.Persisted = append(r.res.Persisted, LevelStep)
	step.State = agg
	return r.fromStage(step.StageID, &step)
}

// fromStage rolls up a stage. fresh, when set, replaces the stored copy of
// that step in the sibling list so the just-computed aggregate is used even
// if the store serves stale reads.
func (r *run) fromStage(stageID string, fresh *workflow.Step) (Result, error) {
	r.res.StageID = stageID
	stage, err := r.store.GetStage(r.ctx, stageID)
	if err != nil {
		return r.fail(LevelStage, stageID, PhaseRead, err)
	}
	steps, err := r.store.ListSiblingSteps(r.ctx, stageID)
	if err != nil {
		return r.fail(LevelStage, stageID, PhaseRead, err)
	}
	if fresh != nil {
		for i := range steps {
			if steps[i].ID == fresh.ID {
				steps[i].State = fresh.State
			}
		}
	}
	agg := workflow.RollupStage(steps)
	if err := r.store.UpdateStageStatus(r.ctx, stageID, agg); err != nil {
		return r.fail(LevelStage, stageID, PhaseWrite, err)
	}
	r.res.Stage = agg
	r.res.Persisted = append(r.res.Persisted, LevelStage)
	stage.State = agg
	return r.fromProcess(stage.ProcessID, &stage)
}

func (r *run) fromProcess(processID string, fresh *workflow.Stage) (Result, error) {
	r.res.ProcessID = processID
	proc, err := r.store.GetProcess(r.ctx, processID)
	if err != nil {
		return r.fail(LevelProcess, processID, PhaseRead, err)
	}
	stages, err := r.store.ListSiblingStages(r.ctx, processID)
	if err != nil {
		return r.fail(LevelProcess, processID, PhaseRead, err)
	}
	if fresh != nil {
		for i := range stages {
			if stages[i].ID == fresh.ID {
				stages[i].State = fresh.State
			}
		}
	}
	fields, err := r.store.ListProcessFields(r.ctx, processID)
	if err != nil {
		return r.fail(LevelProcess, processID, PhaseRead, err)
	}
	agg := workflow.RollupProcess(proc.State.Status(), stages, fields, workflow.NewFieldIndex(fields))
	if err := r.store.UpdateProcessStatus(r.ctx, processID, agg); err != nil {
		return r.fail(LevelProcess, processID, PhaseWrite, err)
	}
	r.res.Process = agg
	r.res.Persisted = append(r.res.Persisted, LevelProcess)
	return r.res, nil
}

// processLookup resolves dossier references across the whole process. It is
// loaded only when the step holds a dossier field.
func (r *run) processLookup(stageID string, fields []workflow.Field) (workflow.FieldLookup, error) {
	need := false
	for _, f := range fields {
		if f.Type == workflow.FieldDossier {
			need = true
			break
		}
	}
	if !need {
		return workflow.NewFieldIndex(fields), nil
	}
	stage, err := r.store.GetStage(r.ctx, stageID)
	if err != nil {
		return nil, err
	}
	all, err := r.store.ListProcessFields(r.ctx, stage.ProcessID)
	if err != nil {
		return nil, err
	}
	return workflow.NewFieldIndex(all), nil
}

// AsBreak returns the BreakError in err's chain, if any.
func AsBreak(err error) (*BreakError, bool) {
	var be *BreakError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
