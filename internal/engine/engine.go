package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"procline/internal/cascade"
	"procline/internal/config"
	"procline/internal/events"
	"procline/internal/repo"
	"procline/internal/workflow"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Logger *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (e Engine) cascade() *cascade.Engine {
	return cascade.New(e.Repo)
}

func actorOr(actorID string) string {
	if actorID == "" {
		return "local-user"
	}
	return actorID
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", workflow.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ProcessCreateOptions are parameters for creating a process.
type ProcessCreateOptions struct {
	ID      string
	Name    string
	Active  bool
	ActorID string
}

// CreateProcess starts a process in seeding, or active when opts.Active is set.
func (e Engine) CreateProcess(ctx context.Context, opts ProcessCreateOptions) (workflow.Process, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return workflow.Process{}, invalid("name is required")
	}
	now := e.stamp()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := workflow.ProcessSeeding
	if opts.Active {
		status = workflow.ProcessActive
	}
	p := workflow.Process{ID: id, Name: name, State: workflow.RestoreAggregate(status, 0), CreatedAt: now, UpdatedAt: now}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Process{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProcess(ctx, tx, p); err != nil {
		return workflow.Process{}, fmt.Errorf("insert process: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProcessCreated, p.ID, "process", p.ID, actorOr(opts.ActorID), events.EventPayload{"name": p.Name, "status": status}); err != nil {
		return workflow.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Process{}, err
	}
	return p, nil
}

type StageCreateOptions struct {
	ID        string
	ProcessID string
	Name      string
	ActorID   string
}

// AddStage appends a stage to its process and rolls the process up again.
func (e Engine) AddStage(ctx context.Context, opts StageCreateOptions) (workflow.Stage, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return workflow.Stage{}, invalid("name is required")
	}
	if _, err := e.Repo.GetProcess(ctx, opts.ProcessID); err != nil {
		return workflow.Stage{}, err
	}
	s := workflow.Stage{
		ID:        opts.ID,
		ProcessID: opts.ProcessID,
		Name:      strings.TrimSpace(opts.Name),
		State:     workflow.RestoreAggregate(workflow.StatusOpen, 0),
		CreatedAt: e.stamp(),
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Stage{}, err
	}
	defer tx.Rollback()
	if s.OrderIndex, err = e.Repo.CountChildren(ctx, tx, workflow.KindStage, s.ProcessID); err != nil {
		return workflow.Stage{}, err
	}
	if err := e.Repo.InsertStage(ctx, tx, s); err != nil {
		return workflow.Stage{}, fmt.Errorf("insert stage: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.StageCreated, s.ProcessID, "stage", s.ID, actorOr(opts.ActorID), events.EventPayload{"name": s.Name, "order_index": s.OrderIndex}); err != nil {
		return workflow.Stage{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Stage{}, err
	}
	_, err = e.settle(ctx, s.ProcessID, opts.ActorID, func(c *cascade.Engine) (cascade.Result, error) {
		return c.RecalculateStage(ctx, s.ID)
	})
	return s, err
}

type StepCreateOptions struct {
	ID      string
	StageID string
	Name    string
	ActorID string
}

func (e Engine) AddStep(ctx context.Context, opts StepCreateOptions) (workflow.Step, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return workflow.Step{}, invalid("name is required")
	}
	stage, err := e.Repo.GetStage(ctx, opts.StageID)
	if err != nil {
		return workflow.Step{}, err
	}
	s := workflow.Step{
		ID:        opts.ID,
		StageID:   stage.ID,
		Name:      strings.TrimSpace(opts.Name),
		State:     workflow.RestoreAggregate(workflow.StatusOpen, 0),
		CreatedAt: e.stamp(),
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Step{}, err
	}
	defer tx.Rollback()
	if s.OrderIndex, err = e.Repo.CountChildren(ctx, tx, workflow.KindStep, s.StageID); err != nil {
		return workflow.Step{}, err
	}
	if err := e.Repo.InsertStep(ctx, tx, s); err != nil {
		return workflow.Step{}, fmt.Errorf("insert step: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.StepCreated, stage.ProcessID, "step", s.ID, actorOr(opts.ActorID), events.EventPayload{"name": s.Name, "stage_id": s.StageID}); err != nil {
		return workflow.Step{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Step{}, err
	}
	_, err = e.settle(ctx, stage.ProcessID, opts.ActorID, func(c *cascade.Engine) (cascade.Result, error) {
		return c.RecalculateStep(ctx, s.ID)
	})
	return s, err
}

type FieldCreateOptions struct {
	ID      string
	StepID  string
	Name    string
	Type    workflow.FieldType
	Content string
	ActorID string
}

// AddField appends a field to its step. Content makes a new field open.
func (e Engine) AddField(ctx context.Context, opts FieldCreateOptions) (workflow.Field, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return workflow.Field{}, invalid("name is required")
	}
	if opts.Type == "" {
		opts.Type = workflow.FieldText
	}
	if !opts.Type.Valid() {
		return workflow.Field{}, fmt.Errorf("%w %q", workflow.ErrInvalidFieldType, opts.Type)
	}
	if e.Config != nil && !e.Config.AllowsFieldType(opts.Type) {
		return workflow.Field{}, fmt.Errorf("%w %q is disabled in this workspace", workflow.ErrInvalidFieldType, opts.Type)
	}
	processID, err := e.Repo.ProcessOfStep(ctx, opts.StepID)
	if err != nil {
		return workflow.Field{}, err
	}
	now := e.stamp()
	f := workflow.Field{
		ID:        opts.ID,
		StepID:    opts.StepID,
		Name:      strings.TrimSpace(opts.Name),
		Type:      opts.Type,
		Status:    workflow.FieldEmpty,
		Content:   opts.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if strings.TrimSpace(f.Content) != "" {
		f.Status = workflow.FieldOpen
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Field{}, err
	}
	defer tx.Rollback()
	if f.OrderIndex, err = e.Repo.CountChildren(ctx, tx, workflow.KindField, f.StepID); err != nil {
		return workflow.Field{}, err
	}
	if err := e.Repo.InsertField(ctx, tx, f); err != nil {
		return workflow.Field{}, fmt.Errorf("insert field: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.FieldCreated, processID, "field", f.ID, actorOr(opts.ActorID), events.EventPayload{"name": f.Name, "type": f.Type, "step_id": f.StepID}); err != nil {
		return workflow.Field{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Field{}, err
	}
	_, err = e.recalculate(ctx, processID, f.ID, opts.ActorID)
	return f, err
}

// RemoveField deletes a field, compacts its step and recalculates the step
// and every dossier that referenced the field.
func (e Engine) RemoveField(ctx context.Context, fieldID, actorID string) error {
	f, err := e.Repo.GetField(ctx, fieldID)
	if err != nil {
		return err
	}
	processID, err := e.Repo.ProcessOfField(ctx, fieldID)
	if err != nil {
		return err
	}
	all, err := e.Repo.ListProcessFields(ctx, processID)
	if err != nil {
		return err
	}
	var referrers []string
	for _, other := range all {
		for _, ref := range other.DossierFieldIDs {
			if ref == fieldID {
				referrers = append(referrers, other.ID)
				break
			}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteField(ctx, tx, fieldID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.FieldRemoved, processID, "field", fieldID, actorOr(actorID), events.EventPayload{"step_id": f.StepID, "name": f.Name}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	siblings, err := e.Repo.ListSiblingFields(ctx, f.StepID)
	if err != nil {
		return err
	}
	ids := make([]string, len(siblings))
	for i, s := range siblings {
		ids[i] = s.ID
	}
	if err := e.Repo.RewriteOrderIndices(ctx, workflow.KindField, f.StepID, ids); err != nil {
		return fmt.Errorf("%w: compact step %s: %w", workflow.ErrPersistence, f.StepID, err)
	}
	if _, err := e.settle(ctx, processID, actorID, func(c *cascade.Engine) (cascade.Result, error) {
		return c.RecalculateStep(ctx, f.StepID)
	}); err != nil {
		return err
	}
	for _, id := range referrers {
		if _, err := e.recalculate(ctx, processID, id, actorID); err != nil {
			return err
		}
	}
	return nil
}

type ItemCreateOptions struct {
	ID      string
	FieldID string
	Title   string
	Status  workflow.ItemStatus
	ActorID string
}

// AddTaskListItem appends an item to a task_list field.
func (e Engine) AddTaskListItem(ctx context.Context, opts ItemCreateOptions) (workflow.TaskListItem, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return workflow.TaskListItem{}, invalid("title is required")
	}
	if opts.Status == "" {
		opts.Status = workflow.ItemNotStarted
	}
	if !opts.Status.Valid() {
		return workflow.TaskListItem{}, fmt.Errorf("%w %q", workflow.ErrInvalidStatus, opts.Status)
	}
	f, err := e.Repo.GetField(ctx, opts.FieldID)
	if err != nil {
		return workflow.TaskListItem{}, err
	}
	if f.Type != workflow.FieldTaskList {
		return workflow.TaskListItem{}, fmt.Errorf("%w: field %s is %s, not task_list", workflow.ErrInvalidFieldType, f.ID, f.Type)
	}
	processID, err := e.Repo.ProcessOfField(ctx, f.ID)
	if err != nil {
		return workflow.TaskListItem{}, err
	}
	it := workflow.TaskListItem{ID: opts.ID, FieldID: f.ID, Title: strings.TrimSpace(opts.Title), Status: opts.Status}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return workflow.TaskListItem{}, err
	}
	defer tx.Rollback()
	if it.OrderIndex, err = e.Repo.CountTaskListItems(ctx, tx, f.ID); err != nil {
		return workflow.TaskListItem{}, err
	}
	if err := e.Repo.InsertTaskListItem(ctx, tx, it); err != nil {
		return workflow.TaskListItem{}, fmt.Errorf("insert task list item: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskListItem, processID, "field", f.ID, actorOr(opts.ActorID), events.EventPayload{"item_id": it.ID, "title": it.Title, "status": it.Status}); err != nil {
		return workflow.TaskListItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.TaskListItem{}, err
	}
	_, err = e.recalculate(ctx, processID, f.ID, opts.ActorID)
	return it, err
}

// SetTaskListItemStatus updates one item and recalculates its field.
func (e Engine) SetTaskListItemStatus(ctx context.Context, itemID string, status workflow.ItemStatus, actorID string) (Change, error) {
	if !status.Valid() {
		return Change{}, fmt.Errorf("%w %q", workflow.ErrInvalidStatus, status)
	}
	it, err := e.Repo.GetTaskListItem(ctx, itemID)
	if err != nil {
		return Change{}, err
	}
	processID, err := e.Repo.ProcessOfField(ctx, it.FieldID)
	if err != nil {
		return Change{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskListItemStatus(ctx, tx, itemID, status); err != nil {
		return Change{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskListItem, processID, "field", it.FieldID, actorOr(actorID), events.EventPayload{"item_id": itemID, "from": it.Status, "to": status}); err != nil {
		return Change{}, err
	}
	if err := tx.Commit(); err != nil {
		return Change{}, err
	}
	return e.recalculate(ctx, processID, it.FieldID, actorID)
}

type TaskAttachOptions struct {
	ID         string
	FieldID    string
	Title      string
	AssigneeID string
	ActorID    string
}

// AttachTask links the single task behind a task field.
func (e Engine) AttachTask(ctx context.Context, opts TaskAttachOptions) (workflow.Task, error) {
	f, err := e.Repo.GetField(ctx, opts.FieldID)
	if err != nil {
		return workflow.Task{}, err
	}
	if f.Type != workflow.FieldTask {
		return workflow.Task{}, fmt.Errorf("%w: field %s is %s, not task", workflow.ErrInvalidFieldType, f.ID, f.Type)
	}
	if f.TaskID != "" {
		return workflow.Task{}, invalid("field %s already has task %s", f.ID, f.TaskID)
	}
	processID, err := e.Repo.ProcessOfField(ctx, f.ID)
	if err != nil {
		return workflow.Task{}, err
	}
	now := e.stamp()
	t := workflow.Task{
		ID:         opts.ID,
		FieldID:    f.ID,
		Title:      strings.TrimSpace(opts.Title),
		AssigneeID: opts.AssigneeID,
		Status:     workflow.TaskOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if t.Title == "" {
		t.Title = f.Name
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return workflow.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskStatus, processID, "task", t.ID, actorOr(opts.ActorID), events.EventPayload{"field_id": f.ID, "to": t.Status, "assignee_id": t.AssigneeID}); err != nil {
		return workflow.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Task{}, err
	}
	_, err = e.recalculate(ctx, processID, f.ID, opts.ActorID)
	return t, err
}

// SetTaskStatus moves a task through its workflow and recalculates the field
// behind it. Only accepted counts as done.
func (e Engine) SetTaskStatus(ctx context.Context, taskID string, status workflow.TaskStatus, actorID string) (Change, error) {
	if !status.Valid() {
		return Change{}, fmt.Errorf("%w %q", workflow.ErrInvalidStatus, status)
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return Change{}, err
	}
	processID, err := e.Repo.ProcessOfField(ctx, t.FieldID)
	if err != nil {
		return Change{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskStatus(ctx, tx, taskID, status, e.stamp()); err != nil {
		return Change{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskStatus, processID, "task", taskID, actorOr(actorID), events.EventPayload{"field_id": t.FieldID, "from": t.Status, "to": status}); err != nil {
		return Change{}, err
	}
	if err := tx.Commit(); err != nil {
		return Change{}, err
	}
	return e.recalculate(ctx, processID, t.FieldID, actorID)
}

// SetFieldStatus records a user close, reopen or skip and cascades it.
func (e Engine) SetFieldStatus(ctx context.Context, fieldID string, status workflow.FieldStatus, actorID string) (Change, error) {
	if !status.Valid() {
		return Change{}, fmt.Errorf("%w %q", workflow.ErrInvalidStatus, status)
	}
	f, err := e.Repo.GetField(ctx, fieldID)
	if err != nil {
		return Change{}, err
	}
	processID, err := e.Repo.ProcessOfField(ctx, fieldID)
	if err != nil {
		return Change{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateFieldStatus(ctx, tx, fieldID, status, e.stamp()); err != nil {
		return Change{}, err
	}
	if err := e.Events.Append(ctx, tx, events.FieldStatus, processID, "field", fieldID, actorOr(actorID), events.EventPayload{"from": f.Status, "to": status}); err != nil {
		return Change{}, err
	}
	if err := tx.Commit(); err != nil {
		return Change{}, err
	}
	return e.recalculate(ctx, processID, fieldID, actorID)
}

// UpdateFieldContent stores opaque content. An empty field with content
// becomes open and an open field whose content is cleared becomes empty.
func (e Engine) UpdateFieldContent(ctx context.Context, fieldID, content, actorID string) (Change, error) {
	f, err := e.Repo.GetField(ctx, fieldID)
	if err != nil {
		return Change{}, err
	}
	processID, err := e.Repo.ProcessOfField(ctx, fieldID)
	if err != nil {
		return Change{}, err
	}
	status := f.Status
	switch {
	case status == workflow.FieldEmpty && strings.TrimSpace(content) != "":
		status = workflow.FieldOpen
	case status == workflow.FieldOpen && strings.TrimSpace(content) == "":
		status = workflow.FieldEmpty
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateFieldContent(ctx, tx, fieldID, content, status, e.stamp()); err != nil {
		return Change{}, err
	}
	if err := e.Events.Append(ctx, tx, events.FieldContent, processID, "field", fieldID, actorOr(actorID), events.EventPayload{"bytes": len(content), "status": status}); err != nil {
		return Change{}, err
	}
	if err := tx.Commit(); err != nil {
		return Change{}, err
	}
	return e.recalculate(ctx, processID, fieldID, actorID)
}

// SetDossierFields replaces the references of a dossier field. References
// must stay inside the process and may not lead back to the field.
func (e Engine) SetDossierFields(ctx context.Context, fieldID string, refs []string, actorID string) (Change, error) {
	f, err := e.Repo.GetField(ctx, fieldID)
	if err != nil {
		return Change{}, err
	}
	if f.Type != workflow.FieldDossier {
		return Change{}, fmt.Errorf("%w: field %s is %s, not dossier", workflow.ErrInvalidFieldType, f.ID, f.Type)
	}
	processID, err := e.Repo.ProcessOfField(ctx, fieldID)
	if err != nil {
		return Change{}, err
	}
	refs = workflow.DedupeIDs(refs)
	all, err := e.Repo.ListProcessFields(ctx, processID)
	if err != nil {
		return Change{}, err
	}
	if err := workflow.CheckDossierReferences(fieldID, refs, workflow.NewFieldIndex(all)); err != nil {
		return Change{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetDossierRefs(ctx, tx, fieldID, refs, e.stamp()); err != nil {
		return Change{}, err
	}
	if err := e.Events.Append(ctx, tx, events.FieldDossier, processID, "field", fieldID, actorOr(actorID), events.EventPayload{"refs": refs}); err != nil {
		return Change{}, err
	}
	if err := tx.Commit(); err != nil {
		return Change{}, err
	}
	return e.recalculate(ctx, processID, fieldID, actorID)
}

// ActivateProcess ends seeding. The process status is rolled up right away,
// so a fully done process completes on activation.
func (e Engine) ActivateProcess(ctx context.Context, processID, actorID string) (workflow.Process, error) {
	p, err := e.Repo.GetProcess(ctx, processID)
	if err != nil {
		return workflow.Process{}, err
	}
	if p.State.Status() != workflow.ProcessSeeding {
		return workflow.Process{}, invalid("process %s is %s, only seeding processes can be activated", processID, p.State.Status())
	}
	if err := e.setLifecycle(ctx, p, workflow.ProcessActive, actorID); err != nil {
		return workflow.Process{}, err
	}
	res, err := e.settle(ctx, processID, actorID, func(c *cascade.Engine) (cascade.Result, error) {
		return c.RecalculateProcess(ctx, processID)
	})
	if err != nil {
		return workflow.Process{}, err
	}
	p.State = res.Process
	p.UpdatedAt = e.stamp()
	return p, nil
}

// ArchiveProcess freezes the process status. Progress keeps rolling up.
func (e Engine) ArchiveProcess(ctx context.Context, processID, actorID string) (workflow.Process, error) {
	p, err := e.Repo.GetProcess(ctx, processID)
	if err != nil {
		return workflow.Process{}, err
	}
	if p.State.Status() == workflow.ProcessArchived {
		return p, nil
	}
	if err := e.setLifecycle(ctx, p, workflow.ProcessArchived, actorID); err != nil {
		return workflow.Process{}, err
	}
	return e.Repo.GetProcess(ctx, processID)
}

func (e Engine) setLifecycle(ctx context.Context, p workflow.Process, status, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetProcessLifecycle(ctx, tx, p.ID, status, e.stamp()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ProcessLifecycle, p.ID, "process", p.ID, actorOr(actorID), events.EventPayload{"from": p.State.Status(), "to": status}); err != nil {
		return err
	}
	return tx.Commit()
}

// Tree loads the whole process.
func (e Engine) Tree(ctx context.Context, processID string) (*workflow.Tree, error) {
	return e.Repo.LoadTree(ctx, processID)
}

// Recalculate re-runs the cascade from a field. It is idempotent and heals
// ancestors left stale by an interrupted cascade.
func (e Engine) Recalculate(ctx context.Context, fieldID, actorID string) (Change, error) {
	processID, err := e.Repo.ProcessOfField(ctx, fieldID)
	if err != nil {
		return Change{}, err
	}
	return e.recalculate(ctx, processID, fieldID, actorID)
}

func (e Engine) ListProcesses(ctx context.Context, f repo.ProcessFilters) ([]workflow.Process, error) {
	if f.Status != "" && !workflow.ValidProcessStatus(f.Status) {
		return nil, fmt.Errorf("%w %q", workflow.ErrInvalidStatus, f.Status)
	}
	return e.Repo.ListProcesses(ctx, f)
}

// Change is the outcome of a field-level mutation.
type Change struct {
	Field      workflow.Field   `json:"field"`
	Cascade    cascade.Result   `json:"cascade"`
	Dependents []cascade.Result `json:"dependents,omitempty"`
}

// recalculate runs the cascade for fieldID, then once per dossier field that
// transitively references it when the workspace asks for that.
func (e Engine) recalculate(ctx context.Context, processID, fieldID, actorID string) (Change, error) {
	var ch Change
	res, err := e.settle(ctx, processID, actorID, func(c *cascade.Engine) (cascade.Result, error) {
		return c.Recalculate(ctx, fieldID)
	})
	ch.Cascade = res
	if err != nil {
		return ch, err
	}
	if ch.Field, err = e.Repo.GetField(ctx, fieldID); err != nil {
		return ch, err
	}
	if e.Config == nil || !e.Config.Cascade.FollowDossierDependents {
		return ch, nil
	}
	all, err := e.Repo.ListProcessFields(ctx, processID)
	if err != nil {
		return ch, err
	}
	for _, dep := range workflow.DossierDependents(fieldID, all) {
		dres, err := e.settle(ctx, processID, actorID, func(c *cascade.Engine) (cascade.Result, error) {
			return c.Recalculate(ctx, dep)
		})
		if err != nil {
			return ch, err
		}
		ch.Dependents = append(ch.Dependents, dres)
	}
	return ch, nil
}

// settle runs one cascade and records its outcome in the event log. A broken
// cascade is logged and returned as is; the caller may retry Recalculate.
func (e Engine) settle(ctx context.Context, processID, actorID string, run func(*cascade.Engine) (cascade.Result, error)) (cascade.Result, error) {
	res, err := run(e.cascade())
	if err != nil {
		payload := events.EventPayload{"error": err.Error(), "persisted": res.Persisted}
		entityKind, entityID := "process", processID
		if be, ok := cascade.AsBreak(err); ok {
			payload["level"] = be.Level
			payload["phase"] = be.Phase
			entityKind, entityID = string(be.Level), be.ID
		}
		e.logf("cascade broken in process %s: %v", processID, err)
		if appendErr := e.Events.Append(ctx, nil, events.CascadeBroken, processID, entityKind, entityID, actorOr(actorID), payload); appendErr != nil {
			e.logf("record cascade break: %v", appendErr)
		}
		return res, err
	}
	payload := events.EventPayload{"process": res.Process}
	if res.StepID != "" {
		payload["step_id"] = res.StepID
		payload["step"] = res.Step
	}
	if res.StageID != "" {
		payload["stage_id"] = res.StageID
		payload["stage"] = res.Stage
	}
	if res.FieldID != "" {
		payload["field_id"] = res.FieldID
	}
	if err := e.Events.Append(ctx, nil, events.CascadeApplied, processID, "process", processID, actorOr(actorID), payload); err != nil {
		return res, fmt.Errorf("record cascade: %w", err)
	}
	return res, nil
}
