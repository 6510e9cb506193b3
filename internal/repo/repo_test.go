package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"procline/internal/cascade"
	"procline/internal/db"
	"procline/internal/migrate"
	"procline/internal/workflow"
)

const ts = "2026-01-02T03:04:05Z"

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

// seed creates process p, stages s0,s1, steps a,b in s0 and c in s1, and
// fields a.0,a.1 in a, b.0 in b.
func seed(t *testing.T, r Repo) {
	t.Helper()
	ctx := context.Background()
	open := workflow.RestoreAggregate(workflow.StatusOpen, 0)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(r.InsertProcess(ctx, nil, workflow.Process{ID: "p", Name: "P", State: workflow.RestoreAggregate(workflow.ProcessActive, 0), CreatedAt: ts, UpdatedAt: ts}))
	for i, id := range []string{"s0", "s1"} {
		must(r.InsertStage(ctx, nil, workflow.Stage{ID: id, ProcessID: "p", Name: id, OrderIndex: i, State: open, CreatedAt: ts}))
	}
	for i, id := range []string{"a", "b"} {
		must(r.InsertStep(ctx, nil, workflow.Step{ID: id, StageID: "s0", Name: id, OrderIndex: i, State: open, CreatedAt: ts}))
	}
	must(r.InsertStep(ctx, nil, workflow.Step{ID: "c", StageID: "s1", Name: "c", State: open, CreatedAt: ts}))
	for step, n := range map[string]int{"a": 2, "b": 1} {
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("%s.%d", step, i)
			must(r.InsertField(ctx, nil, workflow.Field{ID: id, StepID: step, Name: id, Type: workflow.FieldText, Status: workflow.FieldEmpty, OrderIndex: i, CreatedAt: ts, UpdatedAt: ts}))
		}
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.GetProcess(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("process: %v", err)
	}
	if _, err := r.GetField(ctx, "x"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("field: %v", err)
	}
	if err := r.UpdateStepStatus(ctx, "x", workflow.RestoreAggregate(workflow.StatusOpen, 0)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update step: %v", err)
	}
}

func TestLoadTreeMatchesRows(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r)
	tree, err := r.LoadTree(context.Background(), "p")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := tree.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	if got := tree.Children(workflow.KindStep, "s0"); fmt.Sprint(got) != "[a b]" {
		t.Fatalf("steps of s0 = %v", got)
	}
	if got := len(tree.ProcessFields()); got != 3 {
		t.Fatalf("fields = %d", got)
	}
}

func TestFieldHydration(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()
	if err := r.InsertField(ctx, nil, workflow.Field{ID: "d", StepID: "c", Type: workflow.FieldDossier, Status: workflow.FieldEmpty, CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("insert dossier: %v", err)
	}
	if err := r.SetDossierRefs(ctx, nil, "d", []string{"b.0", "a.1"}, ts); err != nil {
		t.Fatalf("refs: %v", err)
	}
	if err := r.InsertField(ctx, nil, workflow.Field{ID: "tl", StepID: "c", Type: workflow.FieldTaskList, Status: workflow.FieldEmpty, OrderIndex: 1, CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("insert task list: %v", err)
	}
	if err := r.InsertTaskListItem(ctx, nil, workflow.TaskListItem{ID: "i1", FieldID: "tl", Title: "one", Status: workflow.ItemDone}); err != nil {
		t.Fatalf("item: %v", err)
	}
	if err := r.InsertField(ctx, nil, workflow.Field{ID: "tk", StepID: "c", Type: workflow.FieldTask, Status: workflow.FieldEmpty, OrderIndex: 2, CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("insert task field: %v", err)
	}
	if err := r.InsertTask(ctx, nil, workflow.Task{ID: "t1", FieldID: "tk", Title: "review", Status: workflow.TaskAccepted, CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("task: %v", err)
	}

	d, err := r.GetField(ctx, "d")
	if err != nil {
		t.Fatalf("get dossier: %v", err)
	}
	if fmt.Sprint(d.DossierFieldIDs) != "[b.0 a.1]" {
		t.Fatalf("refs = %v", d.DossierFieldIDs)
	}
	fields, err := r.ListSiblingFields(ctx, "c")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fields) != 3 || len(fields[1].Items) != 1 || fields[2].TaskStatus != workflow.TaskAccepted || fields[2].TaskID != "t1" {
		t.Fatalf("unexpected hydration: %+v", fields)
	}
	all, err := r.ListProcessFields(ctx, "p")
	if err != nil {
		t.Fatalf("process fields: %v", err)
	}
	if len(all) != 6 || all[0].ID != "a.0" {
		t.Fatalf("process fields order: %v", all)
	}
}

func TestRewriteOrderIndices(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()
	if err := r.RewriteOrderIndices(ctx, workflow.KindField, "a", []string{"a.1", "a.0"}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	fields, _ := r.ListSiblingFields(ctx, "a")
	if fields[0].ID != "a.1" || fields[0].OrderIndex != 0 || fields[1].OrderIndex != 1 {
		t.Fatalf("order = %+v", fields)
	}
	cases := [][]string{{"a.1"}, {"a.1", "b.0"}, {"a.1", "a.1"}}
	for _, ids := range cases {
		if err := r.RewriteOrderIndices(ctx, workflow.KindField, "a", ids); !errors.Is(err, workflow.ErrInconsistentTree) {
			t.Fatalf("ids %v: expected inconsistent tree, got %v", ids, err)
		}
	}
	// a failed rewrite leaves the previous order intact
	fields, _ = r.ListSiblingFields(ctx, "a")
	if fields[0].ID != "a.1" {
		t.Fatalf("order changed by failed rewrite: %+v", fields)
	}
}

func TestReparent(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()
	if err := r.Reparent(ctx, workflow.KindStep, "b", "s1"); err != nil {
		t.Fatalf("reparent: %v", err)
	}
	if err := r.RewriteOrderIndices(ctx, workflow.KindStep, "s1", []string{"b", "c"}); err != nil {
		t.Fatalf("rewrite target: %v", err)
	}
	if err := r.RewriteOrderIndices(ctx, workflow.KindStep, "s0", []string{"a"}); err != nil {
		t.Fatalf("compact source: %v", err)
	}
	tree, err := r.LoadTree(ctx, "p")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := tree.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	if got := tree.Children(workflow.KindField, "b"); fmt.Sprint(got) != "[b.0]" {
		t.Fatalf("fields should travel with the step: %v", got)
	}
	if err := r.Reparent(ctx, workflow.KindField, "a.0", "nowhere"); !errors.Is(err, workflow.ErrInconsistentTree) {
		t.Fatalf("missing container: %v", err)
	}
	if err := r.Reparent(ctx, workflow.KindField, "ghost", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing item: %v", err)
	}
}

func TestReparentStageStaysInProcess(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()
	if err := r.InsertProcess(ctx, nil, workflow.Process{ID: "q", Name: "Q", State: workflow.RestoreAggregate(workflow.ProcessActive, 0), CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.Reparent(ctx, workflow.KindStage, "s0", "q"); !errors.Is(err, workflow.ErrInconsistentTree) {
		t.Fatalf("expected inconsistent tree, got %v", err)
	}
}

func TestCascadeOverSQLite(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()
	for _, id := range []string{"a.0", "a.1"} {
		if err := r.UpdateFieldStatus(ctx, nil, id, workflow.FieldClosed, ts); err != nil {
			t.Fatalf("status: %v", err)
		}
	}
	res, err := cascade.New(r).Recalculate(ctx, "a.1")
	if err != nil {
		t.Fatalf("cascade: %v", err)
	}
	if !res.Step.Completed() || res.Stage.Progress() != 50 || res.Process.Progress() != 66 {
		t.Fatalf("unexpected result: %+v", res)
	}
	step, _ := r.GetStep(ctx, "a")
	if !step.State.Completed() || step.State.Progress() != 100 {
		t.Fatalf("step not persisted: %+v", step.State)
	}
	p, _ := r.GetProcess(ctx, "p")
	if p.State.Status() != workflow.ProcessActive || p.State.Progress() != 66 {
		t.Fatalf("process = %v", p.State)
	}
}

func TestSingleProcess(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.SingleProcess(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty workspace: %v", err)
	}
	seed(t, r)
	p, err := r.SingleProcess(ctx)
	if err != nil || p.ID != "p" {
		t.Fatalf("single: %v %v", p, err)
	}
}

func TestDeleteFieldCascadesRefs(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()
	if err := r.InsertField(ctx, nil, workflow.Field{ID: "d", StepID: "c", Type: workflow.FieldDossier, Status: workflow.FieldEmpty, CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.SetDossierRefs(ctx, nil, "d", []string{"a.0"}, ts); err != nil {
		t.Fatalf("refs: %v", err)
	}
	if err := r.DeleteField(ctx, nil, "a.0"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	d, _ := r.GetField(ctx, "d")
	if len(d.DossierFieldIDs) != 0 {
		t.Fatalf("refs should be dropped with the field: %v", d.DossierFieldIDs)
	}
	if err := r.DeleteField(ctx, nil, "a.0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}
