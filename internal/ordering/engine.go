// Package ordering rewrites sibling order and moves items between
// containers. Every commit renumbers the touched containers to 0..n-1.
package ordering

import (
	"context"
	"errors"
	"fmt"

	"procline/internal/workflow"
)

var (
	ErrGestureInFlight = errors.New("a drag gesture is already in flight")
	ErrNoGesture       = errors.New("no drag gesture in progress")
)

// Persister writes structural changes.
type Persister interface {
	RewriteOrderIndices(ctx context.Context, kind workflow.ItemKind, containerID string, orderedIDs []string) error
	Reparent(ctx context.Context, kind workflow.ItemKind, itemID, newContainerID string) error
}

type Op string

const (
	OpMove    Op = "move"
	OpReorder Op = "reorder"
)

// Call is one persistence call of a commit plan. For a move, ContainerID is
// the target and OrderedIDs its full new order.
type Call struct {
	Op          Op                `json:"op"`
	Kind        workflow.ItemKind `json:"kind"`
	ItemID      string            `json:"item_id,omitempty"`
	From        string            `json:"from,omitempty"`
	ContainerID string            `json:"container_id"`
	OrderedIDs  []string          `json:"ordered_ids"`
}

func (c Call) String() string {
	if c.Op == OpMove {
		return fmt.Sprintf("move %s %s %s -> %s %v", c.Kind, c.ItemID, c.From, c.ContainerID, c.OrderedIDs)
	}
	return fmt.Sprintf("reorder %s in %s %v", c.Kind, c.ContainerID, c.OrderedIDs)
}

type Plan []Call

// Committer persists a plan produced by a drag gesture.
type Committer interface {
	Commit(ctx context.Context, plan Plan) error
}

// Engine validates mutations against Tree, persists them through Store and
// then applies them to Tree. A nil Tree skips validation.
type Engine struct {
	Tree  *workflow.Tree
	Store Persister
}

func New(tree *workflow.Tree, store Persister) *Engine {
	return &Engine{Tree: tree, Store: store}
}

// Reorder rewrites the order of one container. orderedIDs must be a
// permutation of its current members.
func (e *Engine) Reorder(ctx context.Context, kind workflow.ItemKind, containerID string, orderedIDs []string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: item kind %q", workflow.ErrInvalidInput, kind)
	}
	if e.Tree != nil {
		if err := e.Tree.Clone().SetOrder(kind, containerID, orderedIDs); err != nil {
			return err
		}
	}
	if err := e.Store.RewriteOrderIndices(ctx, kind, containerID, orderedIDs); err != nil {
		return fmt.Errorf("%w: reorder %s %s: %w", workflow.ErrPersistence, kind.ContainerKind(), containerID, err)
	}
	if e.Tree != nil {
		return e.Tree.SetOrder(kind, containerID, orderedIDs)
	}
	return nil
}

// Move reparents itemID from fromID to toID and rewrites the target order to
// targetIDs, which must be the target's members plus the item. The source
// container is left with a gap; callers compact it with Reorder.
func (e *Engine) Move(ctx context.Context, kind workflow.ItemKind, itemID, fromID, toID string, targetIDs []string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: item kind %q", workflow.ErrInvalidInput, kind)
	}
	if e.Tree != nil {
		if err := e.validateMove(kind, itemID, fromID, toID, targetIDs); err != nil {
			return err
		}
	}
	if err := e.Store.Reparent(ctx, kind, itemID, toID); err != nil {
		return fmt.Errorf("%w: reparent %s %s: %w", workflow.ErrPersistence, kind, itemID, err)
	}
	if err := e.Store.RewriteOrderIndices(ctx, kind, toID, targetIDs); err != nil {
		return fmt.Errorf("%w: reorder %s %s: %w", workflow.ErrPersistence, kind.ContainerKind(), toID, err)
	}
	if e.Tree == nil {
		return nil
	}
	if err := e.Tree.Relocate(kind, itemID, toID, -1); err != nil {
		return err
	}
	return e.Tree.SetOrder(kind, toID, targetIDs)
}

func (e *Engine) validateMove(kind workflow.ItemKind, itemID, fromID, toID string, targetIDs []string) error {
	cur, ok := e.Tree.ContainerOf(kind, itemID)
	if !ok {
		return fmt.Errorf("%w: %s %s not in tree", workflow.ErrInconsistentTree, kind, itemID)
	}
	if cur != fromID {
		return fmt.Errorf("%w: %s %s is in %s, not %s", workflow.ErrInconsistentTree, kind, itemID, cur, fromID)
	}
	probe := e.Tree.Clone()
	if err := probe.Relocate(kind, itemID, toID, -1); err != nil {
		return err
	}
	return probe.SetOrder(kind, toID, targetIDs)
}

// Commit issues the calls of a plan in order and stops at the first failure.
// The tree is not touched: a gesture has already applied the plan in memory.
func (e *Engine) Commit(ctx context.Context, plan Plan) error {
	for _, c := range plan {
		switch c.Op {
		case OpMove:
			if err := e.Store.Reparent(ctx, c.Kind, c.ItemID, c.ContainerID); err != nil {
				return fmt.Errorf("%w: %s: %w", workflow.ErrPersistence, c, err)
			}
			if err := e.Store.RewriteOrderIndices(ctx, c.Kind, c.ContainerID, c.OrderedIDs); err != nil {
				return fmt.Errorf("%w: %s: %w", workflow.ErrPersistence, c, err)
			}
		case OpReorder:
			if err := e.Store.RewriteOrderIndices(ctx, c.Kind, c.ContainerID, c.OrderedIDs); err != nil {
				return fmt.Errorf("%w: %s: %w", workflow.ErrPersistence, c, err)
			}
		default:
			return fmt.Errorf("%w: unknown op %q", workflow.ErrInvalidInput, c.Op)
		}
	}
	return nil
}
