package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"procline/internal/config"
	"procline/internal/db"
	"procline/internal/engine"
	"procline/internal/events"
	"procline/internal/migrate"
	"procline/internal/ordering"
	"procline/internal/repo"
	"procline/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("test"))
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: ctx}
}

// layout describes a process: stage id -> step ids, step id -> field types.
type layout struct {
	stages map[string][]string
	order  []string
	fields map[string][]workflow.FieldType
}

// build creates process p and the given layout. Field ids are <step>.<n>.
func (env testEnv) build(t *testing.T, l layout, active bool) {
	t.Helper()
	e := env.Engine
	if _, err := e.CreateProcess(env.Ctx, engine.ProcessCreateOptions{ID: "p", Name: "Onboarding", Active: active, ActorID: "tester"}); err != nil {
		t.Fatalf("create process: %v", err)
	}
	for _, stage := range l.order {
		if _, err := e.AddStage(env.Ctx, engine.StageCreateOptions{ID: stage, ProcessID: "p", Name: stage}); err != nil {
			t.Fatalf("add stage %s: %v", stage, err)
		}
		for _, step := range l.stages[stage] {
			if _, err := e.AddStep(env.Ctx, engine.StepCreateOptions{ID: step, StageID: stage, Name: step}); err != nil {
				t.Fatalf("add step %s: %v", step, err)
			}
			for i, ft := range l.fields[step] {
				id := fmt.Sprintf("%s.%d", step, i)
				if _, err := e.AddField(env.Ctx, engine.FieldCreateOptions{ID: id, StepID: step, Name: id, Type: ft}); err != nil {
					t.Fatalf("add field %s: %v", id, err)
				}
			}
		}
	}
}

func (env testEnv) setStatus(t *testing.T, fieldID string, s workflow.FieldStatus) engine.Change {
	t.Helper()
	ch, err := env.Engine.SetFieldStatus(env.Ctx, fieldID, s, "tester")
	if err != nil {
		t.Fatalf("set %s %s: %v", fieldID, s, err)
	}
	return ch
}

func text(n int) []workflow.FieldType {
	out := make([]workflow.FieldType, n)
	for i := range out {
		out[i] = workflow.FieldText
	}
	return out
}

func TestFieldStatusCascadesToProcess(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{
		order:  []string{"s"},
		stages: map[string][]string{"s": {"S", "other"}},
		fields: map[string][]workflow.FieldType{"S": text(3), "other": text(1)},
	}, true)
	env.setStatus(t, "S.0", workflow.FieldClosed)
	env.setStatus(t, "S.1", workflow.FieldSkipped)
	ch := env.setStatus(t, "S.2", workflow.FieldOpen)
	if ch.Cascade.Step.Status() != workflow.StatusInProgress {
		t.Fatalf("step with two done fields = %v", ch.Cascade.Step)
	}

	ch = env.setStatus(t, "S.2", workflow.FieldClosed)
	if !ch.Cascade.Step.Completed() || ch.Cascade.Step.Progress() != 100 {
		t.Fatalf("step = %v", ch.Cascade.Step)
	}
	if ch.Cascade.Stage.Status() != workflow.StatusInProgress || ch.Cascade.Stage.Progress() != 50 {
		t.Fatalf("stage = %v", ch.Cascade.Stage)
	}
	if ch.Field.Status != workflow.FieldClosed {
		t.Fatalf("field = %+v", ch.Field)
	}
	p, err := env.Engine.Repo.GetProcess(env.Ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if p.State.Status() != workflow.ProcessActive || p.State.Progress() != 75 {
		t.Fatalf("process = %v", p.State)
	}

	env.setStatus(t, "other.0", workflow.FieldClosed)
	p, _ = env.Engine.Repo.GetProcess(env.Ctx, "p")
	if p.State.Status() != workflow.ProcessCompleted || p.State.Progress() != 100 {
		t.Fatalf("process should complete: %v", p.State)
	}

	// reopening walks back down
	env.setStatus(t, "S.0", workflow.FieldOpen)
	p, _ = env.Engine.Repo.GetProcess(env.Ctx, "p")
	if p.State.Status() != workflow.ProcessActive {
		t.Fatalf("process after reopen = %v", p.State)
	}
}

func TestSetFieldStatusRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{order: []string{"s"}, stages: map[string][]string{"s": {"a"}}, fields: map[string][]workflow.FieldType{"a": text(1)}}, true)
	if _, err := env.Engine.SetFieldStatus(env.Ctx, "a.0", "finished", "tester"); !errors.Is(err, workflow.ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if _, err := env.Engine.SetFieldStatus(env.Ctx, "ghost", workflow.FieldClosed, "tester"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateFieldContentTogglesEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{order: []string{"s"}, stages: map[string][]string{"s": {"a"}}, fields: map[string][]workflow.FieldType{"a": text(1)}}, true)
	ch, err := env.Engine.UpdateFieldContent(env.Ctx, "a.0", "hello", "tester")
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if ch.Field.Status != workflow.FieldOpen || ch.Field.Content != "hello" {
		t.Fatalf("field = %+v", ch.Field)
	}
	if ch.Cascade.Step.Status() != workflow.StatusInProgress {
		t.Fatalf("an open field starts the step: %v", ch.Cascade.Step)
	}
	ch, err = env.Engine.UpdateFieldContent(env.Ctx, "a.0", "", "tester")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ch.Field.Status != workflow.FieldEmpty || ch.Cascade.Step.Status() != workflow.StatusOpen {
		t.Fatalf("cleared field = %+v step = %v", ch.Field, ch.Cascade.Step)
	}

	env.setStatus(t, "a.0", workflow.FieldClosed)
	ch, _ = env.Engine.UpdateFieldContent(env.Ctx, "a.0", "", "tester")
	if ch.Field.Status != workflow.FieldClosed {
		t.Fatalf("closed fields keep their status: %+v", ch.Field)
	}
}

func TestDossierFollowsReferencedFields(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{
		order:  []string{"s0", "s1"},
		stages: map[string][]string{"s0": {"a"}, "s1": {"b"}},
		fields: map[string][]workflow.FieldType{"a": text(2), "b": {workflow.FieldDossier}},
	}, true)
	ch, err := env.Engine.SetDossierFields(env.Ctx, "b.0", []string{"a.0", "a.1", "a.0"}, "tester")
	if err != nil {
		t.Fatalf("dossier: %v", err)
	}
	if fmt.Sprint(ch.Field.DossierFieldIDs) != "[a.0 a.1]" {
		t.Fatalf("refs should be deduplicated: %v", ch.Field.DossierFieldIDs)
	}
	if ch.Cascade.Step.Status() != workflow.StatusInProgress {
		t.Fatalf("a dossier with references starts its step: %v", ch.Cascade.Step)
	}

	env.setStatus(t, "a.0", workflow.FieldClosed)
	ch = env.setStatus(t, "a.1", workflow.FieldSkipped)
	if len(ch.Dependents) != 1 || ch.Dependents[0].StepID != "b" || !ch.Dependents[0].Step.Completed() {
		t.Fatalf("dependents = %+v", ch.Dependents)
	}
	p, _ := env.Engine.Repo.GetProcess(env.Ctx, "p")
	if p.State.Status() != workflow.ProcessCompleted {
		t.Fatalf("process = %v", p.State)
	}
}

func TestDossierWithoutFollowingDependents(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Cascade.FollowDossierDependents = false
	env.build(t, layout{
		order:  []string{"s0"},
		stages: map[string][]string{"s0": {"a", "b"}},
		fields: map[string][]workflow.FieldType{"a": text(1), "b": {workflow.FieldDossier}},
	}, true)
	if _, err := env.Engine.SetDossierFields(env.Ctx, "b.0", []string{"a.0"}, "tester"); err != nil {
		t.Fatal(err)
	}
	ch := env.setStatus(t, "a.0", workflow.FieldClosed)
	if len(ch.Dependents) != 0 {
		t.Fatalf("dependents should not run: %+v", ch.Dependents)
	}
	step, _ := env.Engine.Repo.GetStep(env.Ctx, "b")
	if step.State.Completed() {
		t.Fatalf("step b should stay stale until recalculated")
	}
	ch, err := env.Engine.Recalculate(env.Ctx, "b.0", "tester")
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if !ch.Cascade.Step.Completed() {
		t.Fatalf("manual recalculation should heal step b: %v", ch.Cascade.Step)
	}
}

func TestSetDossierFieldsRejectsBadReferences(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{
		order:  []string{"s0"},
		stages: map[string][]string{"s0": {"a"}},
		fields: map[string][]workflow.FieldType{"a": {workflow.FieldDossier, workflow.FieldDossier, workflow.FieldText}},
	}, true)
	e := env.Engine
	if _, err := e.SetDossierFields(env.Ctx, "a.0", []string{"a.0"}, "tester"); !errors.Is(err, workflow.ErrCyclicDossierReference) {
		t.Fatalf("self reference: %v", err)
	}
	if _, err := e.SetDossierFields(env.Ctx, "a.0", []string{"a.1"}, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SetDossierFields(env.Ctx, "a.1", []string{"a.0"}, "tester"); !errors.Is(err, workflow.ErrCyclicDossierReference) {
		t.Fatalf("cycle: %v", err)
	}
	if _, err := e.SetDossierFields(env.Ctx, "a.2", []string{"a.0"}, "tester"); !errors.Is(err, workflow.ErrInvalidFieldType) {
		t.Fatalf("non-dossier field: %v", err)
	}

	if _, err := e.CreateProcess(env.Ctx, engine.ProcessCreateOptions{ID: "q", Name: "Other", Active: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddStage(env.Ctx, engine.StageCreateOptions{ID: "qs", ProcessID: "q", Name: "qs"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddStep(env.Ctx, engine.StepCreateOptions{ID: "qa", StageID: "qs", Name: "qa"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddField(env.Ctx, engine.FieldCreateOptions{ID: "qa.0", StepID: "qa", Name: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SetDossierFields(env.Ctx, "a.0", []string{"qa.0"}, "tester"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("foreign reference: %v", err)
	}
}

func TestTaskListAndTaskFields(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{
		order:  []string{"s"},
		stages: map[string][]string{"s": {"a"}},
		fields: map[string][]workflow.FieldType{"a": {workflow.FieldTaskList, workflow.FieldTask}},
	}, true)
	e := env.Engine
	i1, err := e.AddTaskListItem(env.Ctx, engine.ItemCreateOptions{FieldID: "a.0", Title: "collect ID"})
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	i2, err := e.AddTaskListItem(env.Ctx, engine.ItemCreateOptions{FieldID: "a.0", Title: "sign contract"})
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	if i2.OrderIndex != 1 {
		t.Fatalf("items append: %+v", i2)
	}
	if _, err := e.AddTaskListItem(env.Ctx, engine.ItemCreateOptions{FieldID: "a.1", Title: "nope"}); !errors.Is(err, workflow.ErrInvalidFieldType) {
		t.Fatalf("item on task field: %v", err)
	}
	if _, err := e.SetTaskListItemStatus(env.Ctx, i1.ID, workflow.ItemDone, "tester"); err != nil {
		t.Fatal(err)
	}
	ch, err := e.SetTaskListItemStatus(env.Ctx, i2.ID, workflow.ItemWontDo, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if ch.Cascade.Step.Progress() != 50 {
		t.Fatalf("task list done, task pending: %v", ch.Cascade.Step)
	}

	task, err := e.AttachTask(env.Ctx, engine.TaskAttachOptions{FieldID: "a.1", AssigneeID: "alice"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if task.Title != "a.1" || task.Status != workflow.TaskOpen {
		t.Fatalf("task = %+v", task)
	}
	if _, err := e.AttachTask(env.Ctx, engine.TaskAttachOptions{FieldID: "a.1"}); !errors.Is(err, workflow.ErrInvalidInput) {
		t.Fatalf("second task: %v", err)
	}
	ch, err = e.SetTaskStatus(env.Ctx, task.ID, workflow.TaskSubmitted, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if ch.Cascade.Step.Completed() {
		t.Fatalf("submitted is not accepted")
	}
	ch, err = e.SetTaskStatus(env.Ctx, task.ID, workflow.TaskAccepted, "reviewer")
	if err != nil {
		t.Fatal(err)
	}
	if !ch.Cascade.Step.Completed() || ch.Field.TaskStatus != workflow.TaskAccepted {
		t.Fatalf("accepted task completes the step: %v %+v", ch.Cascade.Step, ch.Field)
	}
}

func TestSeedingIsStickyUntilActivated(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{order: []string{"s"}, stages: map[string][]string{"s": {"a"}}, fields: map[string][]workflow.FieldType{"a": text(1)}}, false)
	env.setStatus(t, "a.0", workflow.FieldClosed)
	p, _ := env.Engine.Repo.GetProcess(env.Ctx, "p")
	if p.State.Status() != workflow.ProcessSeeding || p.State.Progress() != 100 {
		t.Fatalf("seeding process = %v", p.State)
	}
	p, err := env.Engine.ActivateProcess(env.Ctx, "p", "tester")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if p.State.Status() != workflow.ProcessCompleted {
		t.Fatalf("activated process = %v", p.State)
	}
	if _, err := env.Engine.ActivateProcess(env.Ctx, "p", "tester"); !errors.Is(err, workflow.ErrInvalidInput) {
		t.Fatalf("second activation: %v", err)
	}
	p, err = env.Engine.ArchiveProcess(env.Ctx, "p", "tester")
	if err != nil || p.State.Status() != workflow.ProcessArchived {
		t.Fatalf("archive: %v %v", p.State, err)
	}
	env.setStatus(t, "a.0", workflow.FieldOpen)
	p, _ = env.Engine.Repo.GetProcess(env.Ctx, "p")
	if p.State.Status() != workflow.ProcessArchived || p.State.Progress() != 0 {
		t.Fatalf("archived process = %v", p.State)
	}
}

func TestAddFieldHonoursAllowedTypes(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Fields.AllowedTypes = []string{"text"}
	env.build(t, layout{order: []string{"s"}, stages: map[string][]string{"s": {"a"}}}, true)
	if _, err := env.Engine.AddField(env.Ctx, engine.FieldCreateOptions{StepID: "a", Name: "f", Type: workflow.FieldDossier}); !errors.Is(err, workflow.ErrInvalidFieldType) {
		t.Fatalf("disabled type: %v", err)
	}
	if _, err := env.Engine.AddField(env.Ctx, engine.FieldCreateOptions{StepID: "a", Name: "f", Type: "spreadsheet"}); !errors.Is(err, workflow.ErrInvalidFieldType) {
		t.Fatalf("unknown type: %v", err)
	}
	f, err := env.Engine.AddField(env.Ctx, engine.FieldCreateOptions{StepID: "a", Name: "f", Content: "prefilled"})
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != workflow.FieldText || f.Status != workflow.FieldOpen {
		t.Fatalf("field = %+v", f)
	}
}

func TestMoveFieldRecalculatesBothSteps(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{
		order:  []string{"s"},
		stages: map[string][]string{"s": {"a", "b"}},
		fields: map[string][]workflow.FieldType{"a": text(2), "b": text(1)},
	}, true)
	env.setStatus(t, "a.0", workflow.FieldClosed)
	env.setStatus(t, "b.0", workflow.FieldClosed)

	res, err := env.Engine.Move(env.Ctx, workflow.KindField, "a.1", "b", []string{"a.1", "b.0"}, "tester")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.From != "a" || res.To != "b" || len(res.Cascades) != 2 {
		t.Fatalf("result = %+v", res)
	}
	tree, err := env.Engine.Tree(env.Ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if err := tree.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	if got := tree.Children(workflow.KindField, "b"); fmt.Sprint(got) != "[a.1 b.0]" {
		t.Fatalf("target = %v", got)
	}
	a, _ := tree.Step("a")
	b, _ := tree.Step("b")
	if !a.State.Completed() || b.State.Status() != workflow.StatusInProgress || b.State.Progress() != 50 {
		t.Fatalf("a = %v b = %v", a.State, b.State)
	}
}

func TestMoveRejectsForeignContainer(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{order: []string{"s0", "s1"}, stages: map[string][]string{"s0": {"a"}, "s1": {"b"}}}, true)
	if _, err := env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{ID: "q", Name: "Other"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Move(env.Ctx, workflow.KindStage, "s0", "q", []string{"s0"}, "tester"); !errors.Is(err, workflow.ErrInconsistentTree) {
		t.Fatalf("stage across processes: %v", err)
	}
	if _, err := env.Engine.Move(env.Ctx, workflow.KindStep, "a", "s1", []string{"b"}, "tester"); !errors.Is(err, workflow.ErrInconsistentTree) {
		t.Fatalf("target order missing the item: %v", err)
	}
	tree, _ := env.Engine.Tree(env.Ctx, "p")
	if got := tree.Children(workflow.KindStep, "s0"); fmt.Sprint(got) != "[a]" {
		t.Fatalf("rejected move must not persist: %v", got)
	}
}

func TestReorderStages(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{order: []string{"s0", "s1", "s2"}, stages: map[string][]string{}}, true)
	tree, err := env.Engine.Reorder(env.Ctx, workflow.KindStage, "p", []string{"s2", "s0", "s1"}, "tester")
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got := tree.Children(workflow.KindStage, "p"); fmt.Sprint(got) != "[s2 s0 s1]" {
		t.Fatalf("order = %v", got)
	}
	if _, err := env.Engine.Reorder(env.Ctx, workflow.KindStage, "p", []string{"s2", "s0"}, "tester"); !errors.Is(err, workflow.ErrInconsistentTree) {
		t.Fatalf("partial order: %v", err)
	}
	stages, _ := env.Engine.Repo.ListSiblingStages(env.Ctx, "p")
	for i, s := range stages {
		if s.OrderIndex != i {
			t.Fatalf("indices not dense: %+v", stages)
		}
	}
}

func TestGestureCommitsThroughEngine(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{
		order:  []string{"s0", "s1"},
		stages: map[string][]string{"s0": {"a", "b"}, "s1": {"c"}},
		fields: map[string][]workflow.FieldType{"a": text(1), "c": text(1)},
	}, true)
	env.setStatus(t, "c.0", workflow.FieldClosed)
	tree, err := env.Engine.Tree(env.Ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	g := ordering.NewGesture(tree, env.Engine.Committer("p", "tester"))
	if err := g.Start(workflow.KindStep, "b"); err != nil {
		t.Fatal(err)
	}
	if err := g.Over("s1", 0); err != nil {
		t.Fatal(err)
	}
	plan, err := g.Drop(env.Ctx)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if len(plan) != 2 || plan[0].Op != ordering.OpMove {
		t.Fatalf("plan = %v", plan)
	}
	stored, err := env.Engine.Tree(env.Ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if got := stored.Children(workflow.KindStep, "s1"); fmt.Sprint(got) != fmt.Sprint(tree.Children(workflow.KindStep, "s1")) {
		t.Fatalf("stored %v, in memory %v", got, tree.Children(workflow.KindStep, "s1"))
	}
	s1, _ := stored.Stage("s1")
	if s1.State.Progress() != 50 {
		t.Fatalf("s1 gained an open step: %v", s1.State)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{ProcessID: "p", Type: events.TreeMoved})
	if err != nil || len(evts) != 1 || evts[0].EntityID != "b" {
		t.Fatalf("move events = %+v, %v", evts, err)
	}
}

func TestRemoveFieldCompactsAndRecalculates(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{
		order:  []string{"s"},
		stages: map[string][]string{"s": {"a", "b"}},
		fields: map[string][]workflow.FieldType{"a": text(3), "b": {workflow.FieldDossier}},
	}, true)
	env.setStatus(t, "a.0", workflow.FieldClosed)
	env.setStatus(t, "a.2", workflow.FieldClosed)
	if _, err := env.Engine.SetDossierFields(env.Ctx, "b.0", []string{"a.1"}, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveField(env.Ctx, "a.1", "tester"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	fields, _ := env.Engine.Repo.ListSiblingFields(env.Ctx, "a")
	if len(fields) != 2 || fields[1].ID != "a.2" || fields[1].OrderIndex != 1 {
		t.Fatalf("fields = %+v", fields)
	}
	a, _ := env.Engine.Repo.GetStep(env.Ctx, "a")
	if !a.State.Completed() {
		t.Fatalf("remaining fields are done: %v", a.State)
	}
	b, _ := env.Engine.Repo.GetStep(env.Ctx, "b")
	if b.State.Status() != workflow.StatusOpen {
		t.Fatalf("dossier lost its only reference: %v", b.State)
	}
}

func TestCascadeEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.build(t, layout{order: []string{"s"}, stages: map[string][]string{"s": {"a"}}, fields: map[string][]workflow.FieldType{"a": text(1)}}, true)
	env.setStatus(t, "a.0", workflow.FieldClosed)
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{ProcessID: "p", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 || evts[0].Type != events.CascadeApplied || evts[1].Type != events.FieldStatus {
		t.Fatalf("events = %+v", evts)
	}
}
