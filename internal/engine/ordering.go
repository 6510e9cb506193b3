package engine

import (
	"context"
	"fmt"

	"procline/internal/cascade"
	"procline/internal/events"
	"procline/internal/ordering"
	"procline/internal/workflow"
)

// processOfContainer resolves the process owning a container of kind items.
func (e Engine) processOfContainer(ctx context.Context, kind workflow.ItemKind, containerID string) (string, error) {
	switch kind {
	case workflow.KindStage:
		p, err := e.Repo.GetProcess(ctx, containerID)
		return p.ID, err
	case workflow.KindStep:
		s, err := e.Repo.GetStage(ctx, containerID)
		return s.ProcessID, err
	case workflow.KindField:
		return e.Repo.ProcessOfStep(ctx, containerID)
	}
	return "", fmt.Errorf("%w: item kind %q", workflow.ErrInvalidInput, kind)
}

func (e Engine) processOfItem(ctx context.Context, kind workflow.ItemKind, itemID string) (string, error) {
	switch kind {
	case workflow.KindStage:
		s, err := e.Repo.GetStage(ctx, itemID)
		return s.ProcessID, err
	case workflow.KindStep:
		return e.Repo.ProcessOfStep(ctx, itemID)
	case workflow.KindField:
		return e.Repo.ProcessOfField(ctx, itemID)
	}
	return "", fmt.Errorf("%w: item kind %q", workflow.ErrInvalidInput, kind)
}

// Reorder rewrites the sibling order of one container. ids must list its
// current members exactly once.
func (e Engine) Reorder(ctx context.Context, kind workflow.ItemKind, containerID string, ids []string, actorID string) (*workflow.Tree, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: item kind %q", workflow.ErrInvalidInput, kind)
	}
	processID, err := e.processOfContainer(ctx, kind, containerID)
	if err != nil {
		return nil, err
	}
	tree, err := e.Repo.LoadTree(ctx, processID)
	if err != nil {
		return nil, err
	}
	if err := ordering.New(tree, e.Repo).Reorder(ctx, kind, containerID, ids); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, nil, events.TreeReordered, processID, kind.ContainerKind(), containerID, actorOr(actorID), events.EventPayload{"kind": kind, "ordered_ids": ids}); err != nil {
		return nil, err
	}
	return tree, nil
}

// MoveResult reports the tree after a move and the cascades it triggered.
type MoveResult struct {
	Tree     *workflow.Tree   `json:"-"`
	From     string           `json:"from"`
	To       string           `json:"to"`
	Cascades []cascade.Result `json:"cascades,omitempty"`
}

// Move reparents an item into toContainerID with ids as the target's new
// order, compacts the source container and recalculates both paths.
func (e Engine) Move(ctx context.Context, kind workflow.ItemKind, itemID, toContainerID string, ids []string, actorID string) (MoveResult, error) {
	if !kind.Valid() {
		return MoveResult{}, fmt.Errorf("%w: item kind %q", workflow.ErrInvalidInput, kind)
	}
	processID, err := e.processOfItem(ctx, kind, itemID)
	if err != nil {
		return MoveResult{}, err
	}
	tree, err := e.Repo.LoadTree(ctx, processID)
	if err != nil {
		return MoveResult{}, err
	}
	from, ok := tree.ContainerOf(kind, itemID)
	if !ok {
		return MoveResult{}, fmt.Errorf("%w: %s %s not in process %s", workflow.ErrInconsistentTree, kind, itemID, processID)
	}
	if !tree.HasContainer(kind, toContainerID) {
		return MoveResult{}, fmt.Errorf("%w: no %s %s in process %s", workflow.ErrInconsistentTree, kind.ContainerKind(), toContainerID, processID)
	}
	res := MoveResult{Tree: tree, From: from, To: toContainerID}
	oe := ordering.New(tree, e.Repo)
	if from == toContainerID {
		if err := oe.Reorder(ctx, kind, from, ids); err != nil {
			return res, err
		}
	} else {
		if err := oe.Move(ctx, kind, itemID, from, toContainerID, ids); err != nil {
			return res, err
		}
		if err := oe.Reorder(ctx, kind, from, tree.Children(kind, from)); err != nil {
			return res, err
		}
	}
	if err := e.Events.Append(ctx, nil, events.TreeMoved, processID, string(kind), itemID, actorOr(actorID), events.EventPayload{"from": from, "to": toContainerID, "ordered_ids": ids}); err != nil {
		return res, err
	}
	if from != toContainerID {
		res.Cascades, err = e.recalculateContainers(ctx, processID, kind, actorID, from, toContainerID)
	}
	return res, err
}

// recalculateContainers re-derives the aggregates of containers whose
// membership changed. Field moves touch steps, step moves touch stages, and
// stage moves only reorder the process.
func (e Engine) recalculateContainers(ctx context.Context, processID string, kind workflow.ItemKind, actorID string, containers ...string) ([]cascade.Result, error) {
	var out []cascade.Result
	for _, id := range containers {
		var run func(*cascade.Engine) (cascade.Result, error)
		switch kind {
		case workflow.KindField:
			run = func(c *cascade.Engine) (cascade.Result, error) { return c.RecalculateStep(ctx, id) }
		case workflow.KindStep:
			run = func(c *cascade.Engine) (cascade.Result, error) { return c.RecalculateStage(ctx, id) }
		default:
			continue
		}
		res, err := e.settle(ctx, processID, actorID, run)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Committer persists drag gesture plans for one process on behalf of actorID.
func (e Engine) Committer(processID, actorID string) ordering.Committer {
	return planCommitter{engine: e, processID: processID, actorID: actorID}
}

type planCommitter struct {
	engine    Engine
	processID string
	actorID   string
}

func (c planCommitter) Commit(ctx context.Context, plan ordering.Plan) error {
	return c.engine.CommitPlan(ctx, c.processID, plan, c.actorID)
}

// CommitPlan persists a gesture plan, records it and recalculates the
// containers a move touched. Persistence failures are logged; the caller
// reloads the tree.
func (e Engine) CommitPlan(ctx context.Context, processID string, plan ordering.Plan, actorID string) error {
	if err := ordering.New(nil, e.Repo).Commit(ctx, plan); err != nil {
		e.logf("commit plan for process %s: %v", processID, err)
		return err
	}
	for _, call := range plan {
		evtType := events.TreeReordered
		entityKind, entityID := call.Kind.ContainerKind(), call.ContainerID
		payload := events.EventPayload{"kind": call.Kind, "ordered_ids": call.OrderedIDs}
		if call.Op == ordering.OpMove {
			evtType = events.TreeMoved
			entityKind, entityID = string(call.Kind), call.ItemID
			payload["from"] = call.From
			payload["to"] = call.ContainerID
		}
		if err := e.Events.Append(ctx, nil, evtType, processID, entityKind, entityID, actorOr(actorID), payload); err != nil {
			return err
		}
	}
	for _, call := range plan {
		if call.Op != ordering.OpMove {
			continue
		}
		if _, err := e.recalculateContainers(ctx, processID, call.Kind, actorID, call.From, call.ContainerID); err != nil {
			return err
		}
	}
	return nil
}
