package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procline/internal/engine"
	"procline/internal/ordering"
	"procline/internal/workflow"
)

type fakeBackend struct {
	tree     *workflow.Tree
	plans    []ordering.Plan
	statuses []string
	fail     error
}

func (f *fakeBackend) Tree(ctx context.Context, processID string) (*workflow.Tree, error) {
	return f.tree.Clone(), nil
}

func (f *fakeBackend) SetFieldStatus(ctx context.Context, fieldID string, status workflow.FieldStatus, actorID string) (engine.Change, error) {
	f.statuses = append(f.statuses, fieldID+"="+string(status)+"@"+actorID)
	fl, _ := f.tree.Field(fieldID)
	fl.Status = status
	if err := f.tree.ReplaceField(fl); err != nil {
		return engine.Change{}, err
	}
	return engine.Change{Field: fl}, nil
}

func (f *fakeBackend) Committer(processID, actorID string) ordering.Committer {
	return committerFunc(func(ctx context.Context, plan ordering.Plan) error {
		f.plans = append(f.plans, plan)
		return f.fail
	})
}

type committerFunc func(ctx context.Context, plan ordering.Plan) error

func (c committerFunc) Commit(ctx context.Context, plan ordering.Plan) error { return c(ctx, plan) }

func newBoard(t *testing.T) (*Board, *fakeBackend) {
	t.Helper()
	tr := workflow.NewTree(workflow.Process{ID: "p", Name: "Hiring", State: workflow.RestoreAggregate(workflow.ProcessActive, 0)})
	require.NoError(t, tr.AddStage(workflow.Stage{ID: "s", ProcessID: "p", Name: "Screen"}))
	require.NoError(t, tr.AddStep(workflow.Step{ID: "a", StageID: "s", Name: "Call"}))
	require.NoError(t, tr.AddStep(workflow.Step{ID: "b", StageID: "s", Name: "Review"}))
	for _, id := range []string{"a0", "a1"} {
		require.NoError(t, tr.AddField(workflow.Field{ID: id, StepID: "a", Name: id, Type: workflow.FieldText, Status: workflow.FieldEmpty}))
	}
	require.NoError(t, tr.AddField(workflow.Field{ID: "b0", StepID: "b", Name: "b0", Type: workflow.FieldText, Status: workflow.FieldEmpty}))
	backend := &fakeBackend{tree: tr}
	b := NewBoard(context.Background(), backend, "p", "tester")
	run(t, b, b.Init())
	return b, backend
}

// run feeds commands back into the board until none are left.
func run(t *testing.T, b *Board, cmd tea.Cmd) {
	t.Helper()
	for cmd != nil {
		msg := cmd()
		if msg == nil {
			return
		}
		model, next := b.Update(msg)
		require.Same(t, b, model)
		cmd = next
	}
}

func press(t *testing.T, b *Board, keys ...string) tea.Cmd {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		_, cmd = b.Update(msg)
	}
	return cmd
}

// selectRow moves the cursor onto id.
func selectRow(t *testing.T, b *Board, id string) {
	t.Helper()
	for i, r := range b.rows {
		if r.id == id {
			b.cursor = i
			return
		}
	}
	t.Fatalf("row %s not found", id)
}

func TestBoardRendersTree(t *testing.T) {
	b, _ := newBoard(t)
	ids := make([]string, 0, len(b.rows))
	for _, r := range b.rows {
		ids = append(ids, r.id)
	}
	assert.Equal(t, []string{"s", "a", "a0", "a1", "b", "b0"}, ids)
	view := b.View()
	assert.Contains(t, view, "Hiring")
	assert.Contains(t, view, "Review")
}

func TestBoardDragsFieldIntoNextStep(t *testing.T) {
	b, backend := newBoard(t)
	selectRow(t, b, "a0")
	assert.Nil(t, press(t, b, "m"))
	assert.Equal(t, ordering.Dragging, b.gesture.State())

	// a0 -> after a1 -> top of b
	press(t, b, "j", "j")
	assert.Equal(t, []string{"a0", "b0"}, b.tree.Children(workflow.KindField, "b"))
	assert.True(t, strings.Contains(b.View(), "≡"))

	cmd := press(t, b, "enter")
	require.NotNil(t, cmd)
	run(t, b, cmd)
	require.Len(t, backend.plans, 1)
	assert.Equal(t, ordering.Plan{
		{Op: ordering.OpMove, Kind: workflow.KindField, ItemID: "a0", From: "a", ContainerID: "b", OrderedIDs: []string{"a0", "b0"}},
		{Op: ordering.OpReorder, Kind: workflow.KindField, ContainerID: "a", OrderedIDs: []string{"a1"}},
	}, backend.plans[0])
	assert.Equal(t, ordering.Idle, b.gesture.State())
	assert.Equal(t, "saved 2 change(s)", b.status)
}

func TestBoardReordersWithinStep(t *testing.T) {
	b, backend := newBoard(t)
	selectRow(t, b, "a0")
	press(t, b, "m", "j")
	run(t, b, press(t, b, "enter"))
	require.Len(t, backend.plans, 1)
	assert.Equal(t, ordering.Plan{
		{Op: ordering.OpReorder, Kind: workflow.KindField, ContainerID: "a", OrderedIDs: []string{"a1", "a0"}},
	}, backend.plans[0])
}

func TestBoardCancelRestoresOrigin(t *testing.T) {
	b, backend := newBoard(t)
	selectRow(t, b, "a1")
	press(t, b, "m", "j")
	assert.Equal(t, []string{"a1", "b0"}, b.tree.Children(workflow.KindField, "b"))
	assert.Nil(t, press(t, b, "esc"))
	assert.Equal(t, []string{"a0", "a1"}, b.tree.Children(workflow.KindField, "a"))
	assert.Equal(t, []string{"b0"}, b.tree.Children(workflow.KindField, "b"))
	assert.Empty(t, backend.plans)
	assert.Equal(t, ordering.Idle, b.gesture.State())
}

func TestBoardDropInPlaceSavesNothing(t *testing.T) {
	b, backend := newBoard(t)
	selectRow(t, b, "b0")
	press(t, b, "m")
	assert.Nil(t, press(t, b, "enter"))
	assert.Empty(t, backend.plans)
	assert.Equal(t, "nothing moved", b.status)
}

func TestBoardReportsFailedCommit(t *testing.T) {
	b, backend := newBoard(t)
	backend.fail = errors.New("disk full")
	selectRow(t, b, "a0")
	press(t, b, "m", "j")
	run(t, b, press(t, b, "enter"))
	assert.Contains(t, b.status, "disk full")
	// reloaded from the backend, which never changed
	assert.Equal(t, []string{"a0", "a1"}, b.tree.Children(workflow.KindField, "a"))
}

func TestBoardClosesSelectedField(t *testing.T) {
	b, backend := newBoard(t)
	selectRow(t, b, "b0")
	run(t, b, press(t, b, "c"))
	assert.Equal(t, []string{"b0=closed@tester"}, backend.statuses)
	assert.Contains(t, b.status, "b0 is closed")

	selectRow(t, b, "b")
	assert.Nil(t, press(t, b, "s"))
	assert.Equal(t, "select a field first", b.status)
}

func TestBoardHoldsReloadWhileSaving(t *testing.T) {
	b, backend := newBoard(t)
	selectRow(t, b, "a0")
	press(t, b, "m", "j")
	commit := press(t, b, "enter")
	require.NotNil(t, commit)
	assert.Equal(t, ordering.Committing, b.gesture.State())

	// reload key and a late tree both wait for the commit
	assert.Nil(t, press(t, b, "r"))
	live := b.tree
	_, cmd := b.Update(treeMsg{tree: backend.tree.Clone()})
	assert.Nil(t, cmd)
	assert.Same(t, live, b.tree)
	assert.Equal(t, ordering.Committing, b.gesture.State())

	// no second drag before the first one lands
	selectRow(t, b, "b0")
	assert.Nil(t, press(t, b, "m"))
	_, dragged, _ := b.gesture.Dragged()
	assert.Equal(t, "a0", dragged)

	run(t, b, commit)
	require.Len(t, backend.plans, 1)
	assert.Equal(t, ordering.Idle, b.gesture.State())
	assert.NotSame(t, live, b.tree)

	selectRow(t, b, "b0")
	press(t, b, "m")
	assert.Equal(t, ordering.Dragging, b.gesture.State())
}

func TestBoardKeepsDragAcrossLateReload(t *testing.T) {
	b, backend := newBoard(t)
	selectRow(t, b, "b0")
	closed := press(t, b, "c")
	require.NotNil(t, closed)

	selectRow(t, b, "a1")
	press(t, b, "m", "j")
	run(t, b, closed)
	assert.Equal(t, ordering.Dragging, b.gesture.State())
	assert.Equal(t, []string{"a1", "b0"}, b.tree.Children(workflow.KindField, "b"))

	assert.Nil(t, press(t, b, "esc"))
	assert.Equal(t, ordering.Idle, b.gesture.State())
	f, ok := b.tree.Field("b0")
	require.True(t, ok)
	assert.Equal(t, workflow.FieldClosed, f.Status, "held tree applied after cancel")
	assert.Equal(t, []string{"a0", "a1"}, b.tree.Children(workflow.KindField, "a"))
	assert.Empty(t, backend.plans)
}
