package workflow

import (
	"fmt"
	"sort"
)

type containerRef struct {
	kind ItemKind
	id   string
}

// Tree is the in-memory arena for one Process: flat id maps plus one ordered
// child list per container. The slice order is the display order and
// OrderIndex always equals the slice position.
//
// A Tree is not safe for concurrent use.
type Tree struct {
	process  Process
	stages   map[string]Stage
	steps    map[string]Step
	fields   map[string]Field
	children map[containerRef][]string
}

func NewTree(p Process) *Tree {
	return &Tree{
		process:  p,
		stages:   map[string]Stage{},
		steps:    map[string]Step{},
		fields:   map[string]Field{},
		children: map[containerRef][]string{},
	}
}

func (t *Tree) Process() Process { return t.process }

func (t *Tree) Stage(id string) (Stage, bool) {
	s, ok := t.stages[id]
	return s, ok
}

func (t *Tree) Step(id string) (Step, bool) {
	s, ok := t.steps[id]
	return s, ok
}

func (t *Tree) Field(id string) (Field, bool) {
	f, ok := t.fields[id]
	return f, ok
}

// LookupField makes the tree a FieldLookup for the whole process.
func (t *Tree) LookupField(id string) (Field, bool) {
	return t.Field(id)
}

// AddStage appends s to the process. Stages added to a tree are renumbered,
// so callers loading stored rows must add them in order_index order.
func (t *Tree) AddStage(s Stage) error {
	if s.ProcessID != t.process.ID {
		return fmt.Errorf("%w: stage %s belongs to process %s", ErrInconsistentTree, s.ID, s.ProcessID)
	}
	if _, ok := t.stages[s.ID]; ok {
		return fmt.Errorf("%w: duplicate stage %s", ErrInconsistentTree, s.ID)
	}
	ref := containerRef{KindStage, s.ProcessID}
	s.OrderIndex = len(t.children[ref])
	t.children[ref] = append(t.children[ref], s.ID)
	t.stages[s.ID] = s
	return nil
}

func (t *Tree) AddStep(s Step) error {
	if _, ok := t.stages[s.StageID]; !ok {
		return fmt.Errorf("%w: stage %s not in tree", ErrInconsistentTree, s.StageID)
	}
	if _, ok := t.steps[s.ID]; ok {
		return fmt.Errorf("%w: duplicate step %s", ErrInconsistentTree, s.ID)
	}
	ref := containerRef{KindStep, s.StageID}
	s.OrderIndex = len(t.children[ref])
	t.children[ref] = append(t.children[ref], s.ID)
	t.steps[s.ID] = s
	return nil
}

func (t *Tree) AddField(f Field) error {
	if _, ok := t.steps[f.StepID]; !ok {
		return fmt.Errorf("%w: step %s not in tree", ErrInconsistentTree, f.StepID)
	}
	if _, ok := t.fields[f.ID]; ok {
		return fmt.Errorf("%w: duplicate field %s", ErrInconsistentTree, f.ID)
	}
	ref := containerRef{KindField, f.StepID}
	f.OrderIndex = len(t.children[ref])
	t.children[ref] = append(t.children[ref], f.ID)
	t.fields[f.ID] = f
	return nil
}

// RemoveField drops a field and compacts its step.
func (t *Tree) RemoveField(id string) error {
	f, ok := t.fields[id]
	if !ok {
		return fmt.Errorf("field %s: %w", id, ErrNotFound)
	}
	ref := containerRef{KindField, f.StepID}
	t.children[ref] = removeID(t.children[ref], id)
	delete(t.fields, id)
	t.renumber(ref)
	return nil
}

// Stages returns the stages of the process in order.
func (t *Tree) Stages() []Stage {
	ids := t.children[containerRef{KindStage, t.process.ID}]
	out := make([]Stage, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.stages[id])
	}
	return out
}

func (t *Tree) StepsOf(stageID string) []Step {
	ids := t.children[containerRef{KindStep, stageID}]
	out := make([]Step, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.steps[id])
	}
	return out
}

func (t *Tree) FieldsOf(stepID string) []Field {
	ids := t.children[containerRef{KindField, stepID}]
	out := make([]Field, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.fields[id])
	}
	return out
}

// ProcessFields returns every field of the process in display order.
func (t *Tree) ProcessFields() []Field {
	var out []Field
	for _, st := range t.Stages() {
		for _, sp := range t.StepsOf(st.ID) {
			out = append(out, t.FieldsOf(sp.ID)...)
		}
	}
	return out
}

// Children returns a copy of the ordered ids of kind held by containerID.
func (t *Tree) Children(kind ItemKind, containerID string) []string {
	return append([]string(nil), t.children[containerRef{kind, containerID}]...)
}

// HasContainer reports whether containerID can hold items of kind.
func (t *Tree) HasContainer(kind ItemKind, containerID string) bool {
	switch kind {
	case KindStage:
		return containerID == t.process.ID
	case KindStep:
		_, ok := t.stages[containerID]
		return ok
	case KindField:
		_, ok := t.steps[containerID]
		return ok
	}
	return false
}

// ContainerOf returns the id of the container currently holding an item.
func (t *Tree) ContainerOf(kind ItemKind, itemID string) (string, bool) {
	switch kind {
	case KindStage:
		s, ok := t.stages[itemID]
		return s.ProcessID, ok
	case KindStep:
		s, ok := t.steps[itemID]
		return s.StageID, ok
	case KindField:
		f, ok := t.fields[itemID]
		return f.StepID, ok
	}
	return "", false
}

// IndexOf returns the position of an item within its container, or -1.
func (t *Tree) IndexOf(kind ItemKind, itemID string) int {
	parent, ok := t.ContainerOf(kind, itemID)
	if !ok {
		return -1
	}
	for i, id := range t.children[containerRef{kind, parent}] {
		if id == itemID {
			return i
		}
	}
	return -1
}

// SetOrder replaces the order of a container. ids must be a permutation of
// the container's current members.
func (t *Tree) SetOrder(kind ItemKind, containerID string, ids []string) error {
	if !t.HasContainer(kind, containerID) {
		return fmt.Errorf("%w: no %s container %s", ErrInconsistentTree, kind.ContainerKind(), containerID)
	}
	ref := containerRef{kind, containerID}
	if !samePermutation(t.children[ref], ids) {
		return fmt.Errorf("%w: ids are not the members of %s %s", ErrInconsistentTree, kind.ContainerKind(), containerID)
	}
	t.children[ref] = append([]string(nil), ids...)
	t.renumber(ref)
	return nil
}

// Relocate detaches an item and inserts it into toContainer at index. An
// index below zero or past the end appends. Both containers are renumbered.
func (t *Tree) Relocate(kind ItemKind, itemID, toContainer string, index int) error {
	from, ok := t.ContainerOf(kind, itemID)
	if !ok {
		return fmt.Errorf("%w: %s %s not in tree", ErrInconsistentTree, kind, itemID)
	}
	if !t.HasContainer(kind, toContainer) {
		return fmt.Errorf("%w: no %s container %s", ErrInconsistentTree, kind.ContainerKind(), toContainer)
	}
	src := containerRef{kind, from}
	dst := containerRef{kind, toContainer}
	t.children[src] = removeID(t.children[src], itemID)
	t.children[dst] = insertID(t.children[dst], itemID, index)
	switch kind {
	case KindStep:
		s := t.steps[itemID]
		s.StageID = toContainer
		t.steps[itemID] = s
	case KindField:
		f := t.fields[itemID]
		f.StepID = toContainer
		t.fields[itemID] = f
	}
	t.renumber(src)
	if src != dst {
		t.renumber(dst)
	}
	return nil
}

func (t *Tree) SetProcessState(a Aggregate) { t.process.State = a }

func (t *Tree) SetProcessLifecycle(status string) {
	t.process.State = RestoreAggregate(status, t.process.State.Progress())
}

func (t *Tree) SetStageState(id string, a Aggregate) error {
	s, ok := t.stages[id]
	if !ok {
		return fmt.Errorf("stage %s: %w", id, ErrNotFound)
	}
	s.State = a
	t.stages[id] = s
	return nil
}

func (t *Tree) SetStepState(id string, a Aggregate) error {
	s, ok := t.steps[id]
	if !ok {
		return fmt.Errorf("step %s: %w", id, ErrNotFound)
	}
	s.State = a
	t.steps[id] = s
	return nil
}

// ReplaceField stores new leaf data for an existing field. Placement
// (StepID, OrderIndex) is owned by the tree and kept as is.
func (t *Tree) ReplaceField(f Field) error {
	cur, ok := t.fields[f.ID]
	if !ok {
		return fmt.Errorf("field %s: %w", f.ID, ErrNotFound)
	}
	f.StepID = cur.StepID
	f.OrderIndex = cur.OrderIndex
	t.fields[f.ID] = f
	return nil
}

// CheckInvariants verifies parent links, dense indices and that every
// entity sits in exactly one container.
func (t *Tree) CheckInvariants() error {
	placed := map[string]int{}
	for ref, ids := range t.children {
		for i, id := range ids {
			placed[string(ref.kind)+":"+id]++
			var parent string
			var idx int
			var ok bool
			switch ref.kind {
			case KindStage:
				var s Stage
				s, ok = t.stages[id]
				parent, idx = s.ProcessID, s.OrderIndex
			case KindStep:
				var s Step
				s, ok = t.steps[id]
				parent, idx = s.StageID, s.OrderIndex
			case KindField:
				var f Field
				f, ok = t.fields[id]
				parent, idx = f.StepID, f.OrderIndex
			}
			if !ok {
				return fmt.Errorf("%w: %s %s listed but missing", ErrInconsistentTree, ref.kind, id)
			}
			if parent != ref.id {
				return fmt.Errorf("%w: %s %s listed under %s but points at %s", ErrInconsistentTree, ref.kind, id, ref.id, parent)
			}
			if idx != i {
				return fmt.Errorf("%w: %s %s has order_index %d at position %d", ErrInconsistentTree, ref.kind, id, idx, i)
			}
		}
	}
	check := func(kind ItemKind, ids []string) error {
		for _, id := range ids {
			if n := placed[string(kind)+":"+id]; n != 1 {
				return fmt.Errorf("%w: %s %s placed %d times", ErrInconsistentTree, kind, id, n)
			}
		}
		return nil
	}
	if err := check(KindStage, keys(t.stages)); err != nil {
		return err
	}
	if err := check(KindStep, keys(t.steps)); err != nil {
		return err
	}
	if err := check(KindField, keys(t.fields)); err != nil {
		return err
	}
	for _, f := range t.fields {
		if f.Type != FieldDossier {
			continue
		}
		for _, ref := range f.DossierFieldIDs {
			if _, ok := t.fields[ref]; !ok {
				return fmt.Errorf("%w: dossier %s references %s outside the process", ErrInconsistentTree, f.ID, ref)
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t *Tree) Clone() *Tree {
	c := NewTree(t.process)
	for id, s := range t.stages {
		c.stages[id] = s
	}
	for id, s := range t.steps {
		c.steps[id] = s
	}
	for id, f := range t.fields {
		f.DossierFieldIDs = append([]string(nil), f.DossierFieldIDs...)
		f.Items = append([]TaskListItem(nil), f.Items...)
		c.fields[id] = f
	}
	for ref, ids := range t.children {
		c.children[ref] = append([]string(nil), ids...)
	}
	return c
}

func (t *Tree) renumber(ref containerRef) {
	ids := t.children[ref]
	if len(ids) == 0 {
		delete(t.children, ref)
		return
	}
	for i, id := range ids {
		switch ref.kind {
		case KindStage:
			s := t.stages[id]
			s.OrderIndex = i
			t.stages[id] = s
		case KindStep:
			s := t.steps[id]
			s.OrderIndex = i
			t.steps[id] = s
		case KindField:
			f := t.fields[id]
			f.OrderIndex = i
			t.fields[id] = f
		}
	}
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func insertID(ids []string, id string, index int) []string {
	if index < 0 || index > len(ids) {
		index = len(ids)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	return append(out, ids[index:]...)
}

// MoveID returns a copy of ids with the element at from moved to to.
func MoveID(ids []string, from, to int) []string {
	out := append([]string(nil), ids...)
	if from < 0 || from >= len(out) || to < 0 || to >= len(out) || from == to {
		return out
	}
	id := out[from]
	out = append(out[:from], out[from+1:]...)
	out = append(out[:to], append([]string{id}, out[to:]...)...)
	return out
}

func samePermutation(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	count := map[string]int{}
	for _, id := range a {
		count[id]++
	}
	for _, id := range b {
		count[id]--
		if count[id] < 0 {
			return false
		}
	}
	return true
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
