// Package tui renders a process as a terminal board. Items are rearranged
// with a keyboard drag: grab a row, walk it through the tree, drop it.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"procline/internal/engine"
	"procline/internal/ordering"
	"procline/internal/workflow"
)

// Backend is what the board needs from the engine.
type Backend interface {
	Tree(ctx context.Context, processID string) (*workflow.Tree, error)
	SetFieldStatus(ctx context.Context, fieldID string, status workflow.FieldStatus, actorID string) (engine.Change, error)
	Committer(processID, actorID string) ordering.Committer
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	stageStyle     = lipgloss.NewStyle().Bold(true)
	cursorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	draggedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	progressStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Grab   key.Binding
	Drop   key.Binding
	Cancel key.Binding
	Close  key.Binding
	Skip   key.Binding
	Reopen key.Binding
	Reload key.Binding
	Help   key.Binding
	Quit   key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Grab:   key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "grab")),
		Drop:   key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "drop")),
		Cancel: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel drag")),
		Close:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "close field")),
		Skip:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "skip field")),
		Reopen: key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "reopen field")),
		Reload: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Grab, k.Drop, k.Close, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Reload},
		{k.Grab, k.Drop, k.Cancel},
		{k.Close, k.Skip, k.Reopen},
		{k.Help, k.Quit},
	}
}

type row struct {
	kind  workflow.ItemKind
	id    string
	depth int
}

type treeMsg struct {
	tree *workflow.Tree
	err  error
}

type changedMsg struct {
	fieldID string
	change  engine.Change
	err     error
}

type committedMsg struct {
	plan ordering.Plan
	err  error
}

// Board is the bubbletea model of one process.
type Board struct {
	ctx       context.Context
	backend   Backend
	processID string
	actorID   string

	tree    *workflow.Tree
	gesture *ordering.Gesture
	rows    []row
	cursor  int
	// dragIndex is where the dragged item would land in its current
	// container; within one container the tree is only reordered on drop.
	dragIndex  int
	dragOrigin string
	// saving is set from drop until the commit result arrives. Reloads
	// landing while a gesture or a save is in flight wait in pending.
	saving  bool
	pending *workflow.Tree

	status string
	err    error
	keys   keyMap
	help   help.Model
}

func NewBoard(ctx context.Context, backend Backend, processID, actorID string) *Board {
	return &Board{
		ctx:       ctx,
		backend:   backend,
		processID: processID,
		actorID:   actorID,
		keys:      defaultKeys(),
		help:      help.New(),
	}
}

func (b *Board) Init() tea.Cmd {
	return b.load()
}

func (b *Board) load() tea.Cmd {
	return func() tea.Msg {
		tree, err := b.backend.Tree(b.ctx, b.processID)
		return treeMsg{tree: tree, err: err}
	}
}

func (b *Board) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case treeMsg:
		if m.err != nil {
			b.err = m.err
			return b, nil
		}
		b.err = nil
		if b.busy() {
			b.pending = m.tree
			return b, nil
		}
		b.setTree(m.tree)
		return b, nil
	case changedMsg:
		if m.err != nil {
			b.status = fmt.Sprintf("update %s failed: %v", m.fieldID, m.err)
		} else {
			c := m.change.Cascade
			b.status = fmt.Sprintf("%s is %s · step %s · process %s", m.fieldID, m.change.Field.Status, c.Step, c.Process)
		}
		return b, b.load()
	case committedMsg:
		b.saving = false
		b.pending = nil
		if m.err != nil {
			b.status = fmt.Sprintf("move not saved: %v", m.err)
		} else {
			b.status = fmt.Sprintf("saved %d change(s)", len(m.plan))
		}
		return b, b.load()
	case tea.WindowSizeMsg:
		b.help.Width = m.Width
		return b, nil
	case tea.KeyMsg:
		return b.handleKey(m)
	}
	return b, nil
}

func (b *Board) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, b.keys.Quit) {
		return b, tea.Quit
	}
	if key.Matches(msg, b.keys.Help) {
		b.help.ShowAll = !b.help.ShowAll
		return b, nil
	}
	if b.tree == nil {
		return b, nil
	}
	if b.saving {
		b.status = "saving, wait for the move to land"
		return b, nil
	}
	if b.gesture.State() == ordering.Dragging {
		return b.handleDragKey(msg)
	}
	switch {
	case key.Matches(msg, b.keys.Up):
		if b.cursor > 0 {
			b.cursor--
		}
	case key.Matches(msg, b.keys.Down):
		if b.cursor < len(b.rows)-1 {
			b.cursor++
		}
	case key.Matches(msg, b.keys.Reload):
		b.status = "reloading"
		return b, b.load()
	case key.Matches(msg, b.keys.Grab):
		r, ok := b.selected()
		if !ok {
			return b, nil
		}
		if err := b.gesture.Start(r.kind, r.id); err != nil {
			b.status = err.Error()
			return b, nil
		}
		b.dragIndex = b.tree.IndexOf(r.kind, r.id)
		b.dragOrigin, _ = b.tree.ContainerOf(r.kind, r.id)
		b.status = fmt.Sprintf("dragging %s %s", r.kind, r.id)
	case key.Matches(msg, b.keys.Close):
		return b, b.setFieldStatus(workflow.FieldClosed)
	case key.Matches(msg, b.keys.Skip):
		return b, b.setFieldStatus(workflow.FieldSkipped)
	case key.Matches(msg, b.keys.Reopen):
		return b, b.setFieldStatus(workflow.FieldOpen)
	}
	return b, nil
}

func (b *Board) handleDragKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, b.keys.Up):
		b.step(-1)
	case key.Matches(msg, b.keys.Down):
		b.step(1)
	case key.Matches(msg, b.keys.Cancel):
		if err := b.gesture.Cancel(); err != nil {
			b.status = err.Error()
			b.pending = nil
			return b, b.load()
		}
		b.status = "drag cancelled"
		b.rebuild()
		b.applyPending()
	case key.Matches(msg, b.keys.Drop):
		plan, err := b.gesture.Release()
		if err != nil {
			b.status = err.Error()
			b.pending = nil
			return b, b.load()
		}
		b.rebuild()
		if len(plan) == 0 {
			b.status = "nothing moved"
			b.applyPending()
			return b, nil
		}
		b.saving = true
		b.status = "saving"
		g, ctx := b.gesture, b.ctx
		return b, func() tea.Msg {
			return committedMsg{plan: plan, err: g.Finish(ctx)}
		}
	}
	return b, nil
}

// step walks the dragged item one slot inside its origin container. Past
// either end, or from any other container, it crosses into the neighbouring
// container that can hold it.
func (b *Board) step(delta int) {
	kind, itemID, ok := b.gesture.Dragged()
	if !ok {
		return
	}
	current, _ := b.tree.ContainerOf(kind, itemID)
	size := len(b.tree.Children(kind, current))
	next := b.dragIndex + delta
	if current == b.dragOrigin && next >= 0 && next < size {
		if err := b.gesture.Over(current, next); err != nil {
			b.status = err.Error()
			return
		}
		b.dragIndex = next
		return
	}
	containers := b.containers(kind)
	at := indexOf(containers, current)
	target := at + delta
	if at < 0 || target < 0 || target >= len(containers) {
		return
	}
	index := 0
	if delta < 0 {
		index = -1
	}
	if err := b.gesture.Over(containers[target], index); err != nil {
		b.status = err.Error()
		return
	}
	b.dragIndex = b.tree.IndexOf(kind, itemID)
	b.rebuild()
	b.status = fmt.Sprintf("dragging %s %s into %s %s", kind, itemID, kind.ContainerKind(), containers[target])
}

// containers lists, in display order, every container of the tree that can
// hold items of kind.
func (b *Board) containers(kind workflow.ItemKind) []string {
	var out []string
	switch kind {
	case workflow.KindStage:
		out = append(out, b.tree.Process().ID)
	case workflow.KindStep:
		for _, st := range b.tree.Stages() {
			out = append(out, st.ID)
		}
	case workflow.KindField:
		for _, st := range b.tree.Stages() {
			for _, sp := range b.tree.StepsOf(st.ID) {
				out = append(out, sp.ID)
			}
		}
	}
	return out
}

func (b *Board) setFieldStatus(status workflow.FieldStatus) tea.Cmd {
	r, ok := b.selected()
	if !ok || r.kind != workflow.KindField {
		b.status = "select a field first"
		return nil
	}
	backend, ctx, actorID := b.backend, b.ctx, b.actorID
	return func() tea.Msg {
		ch, err := backend.SetFieldStatus(ctx, r.id, status, actorID)
		return changedMsg{fieldID: r.id, change: ch, err: err}
	}
}

func (b *Board) busy() bool {
	return b.saving || (b.gesture != nil && b.gesture.State() != ordering.Idle)
}

func (b *Board) applyPending() {
	if b.pending == nil {
		return
	}
	tree := b.pending
	b.pending = nil
	b.setTree(tree)
}

func (b *Board) selected() (row, bool) {
	if b.cursor < 0 || b.cursor >= len(b.rows) {
		return row{}, false
	}
	return b.rows[b.cursor], true
}

func (b *Board) setTree(tree *workflow.Tree) {
	var keep string
	if r, ok := b.selected(); ok {
		keep = r.id
	}
	b.tree = tree
	b.gesture = ordering.NewGesture(tree, b.backend.Committer(b.processID, b.actorID))
	b.rebuild()
	for i, r := range b.rows {
		if r.id == keep {
			b.cursor = i
			return
		}
	}
	if b.cursor >= len(b.rows) {
		b.cursor = max(0, len(b.rows)-1)
	}
}

// rebuild flattens the tree into rows and keeps the cursor on the dragged
// item while a drag is in flight.
func (b *Board) rebuild() {
	b.rows = b.rows[:0]
	for _, st := range b.tree.Stages() {
		b.rows = append(b.rows, row{kind: workflow.KindStage, id: st.ID})
		for _, sp := range b.tree.StepsOf(st.ID) {
			b.rows = append(b.rows, row{kind: workflow.KindStep, id: sp.ID, depth: 1})
			for _, f := range b.tree.FieldsOf(sp.ID) {
				b.rows = append(b.rows, row{kind: workflow.KindField, id: f.ID, depth: 2})
			}
		}
	}
	if b.gesture == nil {
		return
	}
	if kind, id, ok := b.gesture.Dragged(); ok {
		for i, r := range b.rows {
			if r.kind == kind && r.id == id {
				b.cursor = i
				break
			}
		}
	}
}

func (b *Board) View() string {
	if b.err != nil {
		return errorStyle.Render(fmt.Sprintf("Board error: %v", b.err)) + "\n"
	}
	if b.tree == nil {
		return "Loading process…\n"
	}
	p := b.tree.Process()
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s · %s", p.Name, p.State)))
	sb.WriteString("\n\n")
	kind, dragged, dragging := b.gesture.Dragged()
	for i, r := range b.rows {
		line := strings.Repeat("  ", r.depth) + b.label(r)
		switch {
		case dragging && r.kind == kind && r.id == dragged:
			line = draggedStyle.Render("≡ "+line) + mutedStyle.Render(fmt.Sprintf("  → position %d", b.dragIndex+1))
		case i == b.cursor:
			line = cursorStyle.Render("› " + line)
		default:
			line = "  " + line
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if len(b.rows) == 0 {
		sb.WriteString(mutedStyle.Render("  no stages yet"))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	if b.status != "" {
		sb.WriteString(mutedStyle.Render(b.status))
		sb.WriteString("\n")
	}
	sb.WriteString(b.help.View(b.keys))
	sb.WriteString("\n")
	return sb.String()
}

func (b *Board) label(r row) string {
	switch r.kind {
	case workflow.KindStage:
		st, _ := b.tree.Stage(r.id)
		return stageStyle.Render(st.Name) + " " + aggregateLabel(st.State)
	case workflow.KindStep:
		sp, _ := b.tree.Step(r.id)
		return sp.Name + " " + aggregateLabel(sp.State)
	default:
		f, _ := b.tree.Field(r.id)
		mark := "[ ]"
		if workflow.IsDone(f, b.tree) {
			mark = completedStyle.Render("[x]")
		}
		return fmt.Sprintf("%s %s %s", mark, f.Name, mutedStyle.Render(fmt.Sprintf("(%s, %s)", f.Type, f.Status)))
	}
}

func aggregateLabel(a workflow.Aggregate) string {
	if a.Completed() {
		return completedStyle.Render("completed")
	}
	return progressStyle.Render(fmt.Sprintf("%s %d%%", a.Status(), a.Progress()))
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
