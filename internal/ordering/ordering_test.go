package ordering

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"procline/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture returns a tree with stages s0,s1 in process p. s0 holds steps
// a,b,c; s1 holds d. Step a holds fields a0,a1,a2; step d holds d0.
func fixture(t *testing.T) *workflow.Tree {
	t.Helper()
	tr := workflow.NewTree(workflow.Process{ID: "p"})
	require.NoError(t, tr.AddStage(workflow.Stage{ID: "s0", ProcessID: "p"}))
	require.NoError(t, tr.AddStage(workflow.Stage{ID: "s1", ProcessID: "p"}))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, tr.AddStep(workflow.Step{ID: id, StageID: "s0"}))
	}
	require.NoError(t, tr.AddStep(workflow.Step{ID: "d", StageID: "s1"}))
	for _, id := range []string{"a0", "a1", "a2"} {
		require.NoError(t, tr.AddField(workflow.Field{ID: id, StepID: "a", Type: workflow.FieldText}))
	}
	require.NoError(t, tr.AddField(workflow.Field{ID: "d0", StepID: "d", Type: workflow.FieldText}))
	return tr
}

// recorder is a Persister and Committer that logs calls.
type recorder struct {
	calls []string
	fail  error
	store *workflow.MemStore
}

func (r *recorder) RewriteOrderIndices(ctx context.Context, kind workflow.ItemKind, containerID string, ids []string) error {
	r.calls = append(r.calls, fmt.Sprintf("reorder %s %s %v", kind, containerID, ids))
	if r.fail != nil {
		return r.fail
	}
	if r.store != nil {
		return r.store.RewriteOrderIndices(ctx, kind, containerID, ids)
	}
	return nil
}

func (r *recorder) Reparent(ctx context.Context, kind workflow.ItemKind, itemID, to string) error {
	r.calls = append(r.calls, fmt.Sprintf("reparent %s %s %s", kind, itemID, to))
	if r.fail != nil {
		return r.fail
	}
	if r.store != nil {
		return r.store.Reparent(ctx, kind, itemID, to)
	}
	return nil
}

func assertDense(t *testing.T, tr *workflow.Tree) {
	t.Helper()
	require.NoError(t, tr.CheckInvariants())
}

func TestReorderRewritesIndices(t *testing.T) {
	tr := fixture(t)
	rec := &recorder{}
	eng := New(tr, rec)
	require.NoError(t, eng.Reorder(context.Background(), workflow.KindStep, "s0", []string{"c", "a", "b"}))
	assert.Equal(t, []string{"reorder step s0 [c a b]"}, rec.calls)
	assert.Equal(t, []string{"c", "a", "b"}, tr.Children(workflow.KindStep, "s0"))
	// fields untouched
	assert.Equal(t, []string{"a0", "a1", "a2"}, tr.Children(workflow.KindField, "a"))
	assertDense(t, tr)
}

func TestReorderRejectsNonPermutation(t *testing.T) {
	tr := fixture(t)
	rec := &recorder{}
	eng := New(tr, rec)
	err := eng.Reorder(context.Background(), workflow.KindStep, "s0", []string{"a", "b"})
	assert.ErrorIs(t, err, workflow.ErrInconsistentTree)
	err = eng.Reorder(context.Background(), workflow.KindStep, "ghost", nil)
	assert.ErrorIs(t, err, workflow.ErrInconsistentTree)
	assert.Empty(t, rec.calls)
}

func TestReorderPersistenceFailureLeavesTree(t *testing.T) {
	tr := fixture(t)
	boom := errors.New("boom")
	eng := New(tr, &recorder{fail: boom})
	err := eng.Reorder(context.Background(), workflow.KindStage, "p", []string{"s1", "s0"})
	assert.ErrorIs(t, err, workflow.ErrPersistence)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"s0", "s1"}, tr.Children(workflow.KindStage, "p"))
}

func TestStageReorderLeavesChildren(t *testing.T) {
	tr := fixture(t)
	eng := New(tr, &recorder{})
	require.NoError(t, eng.Reorder(context.Background(), workflow.KindStage, "p", []string{"s1", "s0"}))
	assert.Equal(t, []string{"a", "b", "c"}, tr.Children(workflow.KindStep, "s0"))
	assert.Equal(t, []string{"d"}, tr.Children(workflow.KindStep, "s1"))
}

func TestMoveThenCompactSource(t *testing.T) {
	tr := fixture(t)
	rec := &recorder{}
	eng := New(tr, rec)
	ctx := context.Background()
	require.NoError(t, eng.Move(ctx, workflow.KindStep, "b", "s0", "s1", []string{"b", "d"}))
	require.NoError(t, eng.Reorder(ctx, workflow.KindStep, "s0", tr.Children(workflow.KindStep, "s0")))
	assert.Equal(t, []string{
		"reparent step b s1",
		"reorder step s1 [b d]",
		"reorder step s0 [a c]",
	}, rec.calls)
	assertDense(t, tr)
}

func TestMoveStepCarriesFields(t *testing.T) {
	tr := fixture(t)
	eng := New(tr, &recorder{})
	require.NoError(t, eng.Move(context.Background(), workflow.KindStep, "a", "s0", "s1", []string{"d", "a"}))
	assert.Equal(t, []string{"a0", "a1", "a2"}, tr.Children(workflow.KindField, "a"))
	f, _ := tr.Field("a1")
	assert.Equal(t, "a", f.StepID)
}

func TestMoveValidation(t *testing.T) {
	tr := fixture(t)
	rec := &recorder{}
	eng := New(tr, rec)
	ctx := context.Background()
	err := eng.Move(ctx, workflow.KindStep, "b", "s1", "s1", []string{"b", "d"})
	assert.ErrorIs(t, err, workflow.ErrInconsistentTree, "wrong source")
	err = eng.Move(ctx, workflow.KindStep, "b", "s0", "s1", []string{"d"})
	assert.ErrorIs(t, err, workflow.ErrInconsistentTree, "target list misses the item")
	err = eng.Move(ctx, workflow.KindField, "a0", "a", "nowhere", []string{"a0"})
	assert.ErrorIs(t, err, workflow.ErrInconsistentTree)
	err = eng.Move(ctx, workflow.ItemKind("bogus"), "a0", "a", "d", nil)
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)
	assert.Empty(t, rec.calls)
}

func TestReorderRoundTrip(t *testing.T) {
	tr := fixture(t)
	eng := New(tr, &recorder{})
	ctx := context.Background()
	before := snapshot(tr)
	require.NoError(t, eng.Reorder(ctx, workflow.KindField, "a", []string{"a2", "a0", "a1"}))
	require.NoError(t, eng.Reorder(ctx, workflow.KindField, "a", []string{"a0", "a1", "a2"}))
	assert.Equal(t, before, snapshot(tr))
}

func TestMoveRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ctx := context.Background()
	for iter := 0; iter < 50; iter++ {
		tr := fixture(t)
		eng := New(tr, &recorder{})
		before := snapshot(tr)

		src := tr.Children(workflow.KindField, "a")
		item := src[rng.Intn(len(src))]
		origIdx := tr.IndexOf(workflow.KindField, item)

		target := tr.Children(workflow.KindField, "d")
		pos := rng.Intn(len(target) + 1)
		target = append(target[:pos], append([]string{item}, target[pos:]...)...)
		require.NoError(t, eng.Move(ctx, workflow.KindField, item, "a", "d", target))
		require.NoError(t, eng.Reorder(ctx, workflow.KindField, "a", tr.Children(workflow.KindField, "a")))

		back := tr.Children(workflow.KindField, "a")
		back = append(back[:origIdx], append([]string{item}, back[origIdx:]...)...)
		require.NoError(t, eng.Move(ctx, workflow.KindField, item, "d", "a", back))
		require.NoError(t, eng.Reorder(ctx, workflow.KindField, "d", tr.Children(workflow.KindField, "d")))

		assert.Equal(t, before, snapshot(tr), "iteration %d", iter)
	}
}

func TestRandomMutationsKeepIndicesDense(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	ctx := context.Background()
	tr := fixture(t)
	eng := New(tr, &recorder{})
	steps := []string{"a", "b", "c", "d"}
	for iter := 0; iter < 300; iter++ {
		if rng.Intn(2) == 0 {
			st := steps[rng.Intn(len(steps))]
			ids := tr.Children(workflow.KindField, st)
			rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
			require.NoError(t, eng.Reorder(ctx, workflow.KindField, st, ids))
		} else {
			fields := tr.ProcessFields()
			f := fields[rng.Intn(len(fields))]
			to := steps[rng.Intn(len(steps))]
			if to == f.StepID {
				continue
			}
			target := tr.Children(workflow.KindField, to)
			pos := rng.Intn(len(target) + 1)
			target = append(target[:pos], append([]string{f.ID}, target[pos:]...)...)
			require.NoError(t, eng.Move(ctx, workflow.KindField, f.ID, f.StepID, to, target))
			require.NoError(t, eng.Reorder(ctx, workflow.KindField, f.StepID, tr.Children(workflow.KindField, f.StepID)))
		}
		assertDense(t, tr)
	}
	assert.Len(t, tr.ProcessFields(), 4)
}

func TestCommitStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{fail: boom}
	eng := New(nil, rec)
	err := eng.Commit(context.Background(), Plan{
		{Op: OpMove, Kind: workflow.KindField, ItemID: "x", From: "a", ContainerID: "b", OrderedIDs: []string{"x"}},
		{Op: OpReorder, Kind: workflow.KindField, ContainerID: "a", OrderedIDs: []string{"y"}},
	})
	assert.ErrorIs(t, err, workflow.ErrPersistence)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"reparent field x b"}, rec.calls)
}

// snapshot maps every step and field to "parent/index".
func snapshot(tr *workflow.Tree) map[string]string {
	out := map[string]string{}
	for _, st := range tr.Stages() {
		out[st.ID] = fmt.Sprintf("%s/%d", st.ProcessID, st.OrderIndex)
		for _, sp := range tr.StepsOf(st.ID) {
			out[sp.ID] = fmt.Sprintf("%s/%d", sp.StageID, sp.OrderIndex)
			for _, f := range tr.FieldsOf(sp.ID) {
				out[f.ID] = fmt.Sprintf("%s/%d", f.StepID, f.OrderIndex)
			}
		}
	}
	return out
}
