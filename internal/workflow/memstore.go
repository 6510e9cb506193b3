package workflow

import (
	"context"
	"fmt"
)

// MemStore serves a Tree through the same read/write contract as the SQLite
// repository. It backs the pure-package tests and offline tools.
type MemStore struct {
	Tree *Tree
}

func NewMemStore(t *Tree) *MemStore {
	return &MemStore{Tree: t}
}

func (m *MemStore) GetField(ctx context.Context, id string) (Field, error) {
	f, ok := m.Tree.Field(id)
	if !ok {
		return Field{}, fmt.Errorf("field %s: %w", id, ErrNotFound)
	}
	return f, nil
}

func (m *MemStore) GetStep(ctx context.Context, id string) (Step, error) {
	s, ok := m.Tree.Step(id)
	if !ok {
		return Step{}, fmt.Errorf("step %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *MemStore) GetStage(ctx context.Context, id string) (Stage, error) {
	s, ok := m.Tree.Stage(id)
	if !ok {
		return Stage{}, fmt.Errorf("stage %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *MemStore) GetProcess(ctx context.Context, id string) (Process, error) {
	if m.Tree.Process().ID != id {
		return Process{}, fmt.Errorf("process %s: %w", id, ErrNotFound)
	}
	return m.Tree.Process(), nil
}

func (m *MemStore) ListSiblingFields(ctx context.Context, stepID string) ([]Field, error) {
	if _, ok := m.Tree.Step(stepID); !ok {
		return nil, fmt.Errorf("step %s: %w", stepID, ErrNotFound)
	}
	return m.Tree.FieldsOf(stepID), nil
}

func (m *MemStore) ListSiblingSteps(ctx context.Context, stageID string) ([]Step, error) {
	if _, ok := m.Tree.Stage(stageID); !ok {
		return nil, fmt.Errorf("stage %s: %w", stageID, ErrNotFound)
	}
	return m.Tree.StepsOf(stageID), nil
}

func (m *MemStore) ListSiblingStages(ctx context.Context, processID string) ([]Stage, error) {
	if m.Tree.Process().ID != processID {
		return nil, fmt.Errorf("process %s: %w", processID, ErrNotFound)
	}
	return m.Tree.Stages(), nil
}

func (m *MemStore) ListProcessFields(ctx context.Context, processID string) ([]Field, error) {
	if m.Tree.Process().ID != processID {
		return nil, fmt.Errorf("process %s: %w", processID, ErrNotFound)
	}
	return m.Tree.ProcessFields(), nil
}

func (m *MemStore) UpdateStepStatus(ctx context.Context, id string, a Aggregate) error {
	return m.Tree.SetStepState(id, a)
}

func (m *MemStore) UpdateStageStatus(ctx context.Context, id string, a Aggregate) error {
	return m.Tree.SetStageState(id, a)
}

func (m *MemStore) UpdateProcessStatus(ctx context.Context, id string, a Aggregate) error {
	if m.Tree.Process().ID != id {
		return fmt.Errorf("process %s: %w", id, ErrNotFound)
	}
	m.Tree.SetProcessState(a)
	return nil
}

func (m *MemStore) RewriteOrderIndices(ctx context.Context, kind ItemKind, containerID string, orderedIDs []string) error {
	return m.Tree.SetOrder(kind, containerID, orderedIDs)
}

func (m *MemStore) Reparent(ctx context.Context, kind ItemKind, itemID, newContainerID string) error {
	if kind == KindStage && newContainerID != m.Tree.Process().ID {
		return fmt.Errorf("%w: stages cannot leave process %s", ErrInconsistentTree, m.Tree.Process().ID)
	}
	return m.Tree.Relocate(kind, itemID, newContainerID, -1)
}
