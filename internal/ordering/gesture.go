package ordering

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"procline/internal/workflow"
)

type State int

const (
	Idle State = iota
	Dragging
	Committing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Committing:
		return "committing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Gesture tracks one drag at a time over a tree. While dragging, crossing
// into another container reparents the item in memory only; the plan is
// persisted on drop.
//
// The tree is only touched by Start, Over, Release and Cancel. Finish talks
// to the committer alone, so it may run on another goroutine.
type Gesture struct {
	mu        sync.Mutex
	tree      *workflow.Tree
	committer Committer

	state       State
	kind        workflow.ItemKind
	itemID      string
	origin      string
	originIndex int
	originOrder []string
	overIndex   int
	plan        Plan
}

func NewGesture(tree *workflow.Tree, committer Committer) *Gesture {
	return &Gesture{tree: tree, committer: committer, overIndex: -1}
}

func (g *Gesture) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Dragged returns the item being dragged, if any.
func (g *Gesture) Dragged() (workflow.ItemKind, string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Idle {
		return "", "", false
	}
	return g.kind, g.itemID, true
}

// Start records the dragged item and its originating container.
func (g *Gesture) Start(kind workflow.ItemKind, itemID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Idle {
		return ErrGestureInFlight
	}
	origin, ok := g.tree.ContainerOf(kind, itemID)
	if !ok {
		return fmt.Errorf("%w: %s %s not in tree", workflow.ErrInconsistentTree, kind, itemID)
	}
	g.state = Dragging
	g.kind = kind
	g.itemID = itemID
	g.origin = origin
	g.originIndex = g.tree.IndexOf(kind, itemID)
	g.originOrder = g.tree.Children(kind, origin)
	g.overIndex = -1
	g.plan = nil
	return nil
}

// Over handles a drag-over event. index is the hovered sibling position, or
// negative when hovering the container itself. Containers that cannot hold
// the dragged kind are ignored. Hovering inside the origin container only
// records the drop index; hovering inside any other container it already
// sits in changes nothing.
func (g *Gesture) Over(containerID string, index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Dragging {
		return ErrNoGesture
	}
	if !g.tree.HasContainer(g.kind, containerID) {
		return nil
	}
	current, _ := g.tree.ContainerOf(g.kind, g.itemID)
	if containerID != current {
		if err := g.tree.Relocate(g.kind, g.itemID, containerID, index); err != nil {
			return err
		}
		g.overIndex = -1
		return nil
	}
	// Outside the origin the last reparent fixed the position.
	if current != g.origin {
		return nil
	}
	n := len(g.tree.Children(g.kind, current))
	if index < 0 || index >= n {
		index = n - 1
	}
	g.overIndex = index
	return nil
}

// Release ends the drag and computes the commit plan. An empty plan means
// nothing changed and the gesture is already idle again.
func (g *Gesture) Release() (Plan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Dragging {
		return nil, ErrNoGesture
	}
	current, _ := g.tree.ContainerOf(g.kind, g.itemID)
	if g.overIndex >= 0 {
		ids := g.tree.Children(g.kind, current)
		from := g.tree.IndexOf(g.kind, g.itemID)
		if err := g.tree.SetOrder(g.kind, current, workflow.MoveID(ids, from, g.overIndex)); err != nil {
			g.reset()
			return nil, err
		}
	}
	final := g.tree.Children(g.kind, current)
	var plan Plan
	if current == g.origin {
		if !slices.Equal(final, g.originOrder) {
			plan = Plan{{Op: OpReorder, Kind: g.kind, ContainerID: current, OrderedIDs: final}}
		}
	} else {
		plan = Plan{{Op: OpMove, Kind: g.kind, ItemID: g.itemID, From: g.origin, ContainerID: current, OrderedIDs: final}}
		if rest := g.tree.Children(g.kind, g.origin); len(rest) > 0 {
			plan = append(plan, Call{Op: OpReorder, Kind: g.kind, ContainerID: g.origin, OrderedIDs: rest})
		}
	}
	if len(plan) == 0 {
		g.reset()
		return nil, nil
	}
	g.state = Committing
	g.plan = plan
	return plan, nil
}

// Finish hands the released plan to the committer and returns to Idle
// whatever the outcome.
func (g *Gesture) Finish(ctx context.Context) error {
	g.mu.Lock()
	if g.state != Committing {
		g.mu.Unlock()
		return ErrNoGesture
	}
	plan := g.plan
	g.mu.Unlock()

	err := g.committer.Commit(ctx, plan)

	g.mu.Lock()
	g.reset()
	g.mu.Unlock()
	return err
}

// Drop is Release followed by Finish.
func (g *Gesture) Drop(ctx context.Context) (Plan, error) {
	plan, err := g.Release()
	if err != nil || len(plan) == 0 {
		return plan, err
	}
	return plan, g.Finish(ctx)
}

// Cancel abandons the drag, putting the item back where it started. No
// persistence call is made.
func (g *Gesture) Cancel() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case Idle:
		return nil
	case Committing:
		return ErrGestureInFlight
	}
	defer g.reset()
	current, _ := g.tree.ContainerOf(g.kind, g.itemID)
	if current != g.origin {
		if err := g.tree.Relocate(g.kind, g.itemID, g.origin, g.originIndex); err != nil {
			return err
		}
	}
	return g.tree.SetOrder(g.kind, g.origin, g.originOrder)
}

func (g *Gesture) reset() {
	g.state = Idle
	g.kind = ""
	g.itemID = ""
	g.origin = ""
	g.originIndex = 0
	g.originOrder = nil
	g.overIndex = -1
	g.plan = nil
}
