package server

import (
	"encoding/json"

	"procline/internal/cascade"
	"procline/internal/engine"
	"procline/internal/events"
	"procline/internal/ordering"
	"procline/internal/workflow"
)

// Request payloads

type CreateProcessRequest struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name" minLength:"1"`
	Active bool   `json:"active,omitempty" doc:"Skip seeding and start active"`
}

type CreateNodeRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name" minLength:"1"`
}

type CreateFieldRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name" minLength:"1"`
	Type    string `json:"type,omitempty" enum:"text,long_text,file,file_list,task,task_list,dossier"`
	Content string `json:"content,omitempty"`
}

type FieldStatusRequest struct {
	Status string `json:"status" enum:"empty,open,closed,skipped"`
}

type FieldContentRequest struct {
	Content string `json:"content"`
}

type DossierRequest struct {
	FieldIDs []string `json:"field_ids"`
}

type CreateItemRequest struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title" minLength:"1"`
	Status string `json:"status,omitempty" enum:"not_started,planned,in_progress,done,wont_do"`
}

type ItemStatusRequest struct {
	Status string `json:"status" enum:"not_started,planned,in_progress,done,wont_do"`
}

type AttachTaskRequest struct {
	ID         string `json:"id,omitempty"`
	Title      string `json:"title,omitempty"`
	AssigneeID string `json:"assignee_id,omitempty"`
}

type TaskStatusRequest struct {
	Status string `json:"status" enum:"open,in_progress,submitted,accepted,rejected"`
}

type ReorderRequest struct {
	OrderedIDs []string `json:"ordered_ids" minItems:"1"`
}

type MoveRequest struct {
	To         string   `json:"to" minLength:"1" doc:"Target container id"`
	OrderedIDs []string `json:"ordered_ids" minItems:"1" doc:"Full order of the target container including the moved item"`
}

type CommitRequest struct {
	Calls []ordering.Call `json:"calls" minItems:"1"`
}

// Responses

type StateResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress" minimum:"0" maximum:"100"`
}

type ProcessResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"seeding,active,completed,archived"`
	Progress  int    `json:"progress" minimum:"0" maximum:"100"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type StageResponse struct {
	ID         string         `json:"id"`
	ProcessID  string         `json:"process_id"`
	Name       string         `json:"name"`
	OrderIndex int            `json:"order_index"`
	Status     string         `json:"status" enum:"open,in_progress,completed"`
	Progress   int            `json:"progress" minimum:"0" maximum:"100"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
	Steps      []StepResponse `json:"steps,omitempty"`
}

type StepResponse struct {
	ID         string          `json:"id"`
	StageID    string          `json:"stage_id"`
	Name       string          `json:"name"`
	OrderIndex int             `json:"order_index"`
	Status     string          `json:"status" enum:"open,in_progress,completed"`
	Progress   int             `json:"progress" minimum:"0" maximum:"100"`
	CreatedAt  string          `json:"created_at" format:"date-time"`
	Fields     []FieldResponse `json:"fields,omitempty"`
}

type FieldResponse struct {
	ID              string         `json:"id"`
	StepID          string         `json:"step_id"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	Status          string         `json:"status"`
	OrderIndex      int            `json:"order_index"`
	Content         string         `json:"content,omitempty"`
	DossierFieldIDs []string       `json:"dossier_field_ids,omitempty"`
	TaskID          string         `json:"task_id,omitempty"`
	TaskStatus      string         `json:"task_status,omitempty"`
	Items           []ItemResponse `json:"items,omitempty"`
	Done            *bool          `json:"done,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

type ItemResponse struct {
	ID         string `json:"id"`
	FieldID    string `json:"field_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	OrderIndex int    `json:"order_index"`
}

type TaskResponse struct {
	ID         string `json:"id"`
	FieldID    string `json:"field_id"`
	Title      string `json:"title"`
	AssigneeID string `json:"assignee_id,omitempty"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type TreeResponse struct {
	Process ProcessResponse `json:"process"`
	Stages  []StageResponse `json:"stages"`
}

type CascadeResponse struct {
	FieldID   string        `json:"field_id,omitempty"`
	StepID    string        `json:"step_id,omitempty"`
	StageID   string        `json:"stage_id,omitempty"`
	ProcessID string        `json:"process_id,omitempty"`
	Step      StateResponse `json:"step"`
	Stage     StateResponse `json:"stage"`
	Process   StateResponse `json:"process"`
	Persisted []string      `json:"persisted"`
}

type ChangeResponse struct {
	Field      FieldResponse     `json:"field"`
	Cascade    CascadeResponse   `json:"cascade"`
	Dependents []CascadeResponse `json:"dependents,omitempty"`
}

type MoveResponse struct {
	From     string            `json:"from"`
	To       string            `json:"to"`
	Cascades []CascadeResponse `json:"cascades,omitempty"`
	Tree     TreeResponse      `json:"tree"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProcessID  string         `json:"process_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedProcesses struct {
	Items      []ProcessResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// Conversion helpers

func stateResponse(a workflow.Aggregate) StateResponse {
	return StateResponse{Status: a.Status(), Progress: a.Progress()}
}

func processResponse(p workflow.Process) ProcessResponse {
	return ProcessResponse{
		ID:        p.ID,
		Name:      p.Name,
		Status:    p.State.Status(),
		Progress:  p.State.Progress(),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func mapProcesses(items []workflow.Process) []ProcessResponse {
	out := make([]ProcessResponse, 0, len(items))
	for _, p := range items {
		out = append(out, processResponse(p))
	}
	return out
}

func stageResponse(s workflow.Stage) StageResponse {
	return StageResponse{
		ID:         s.ID,
		ProcessID:  s.ProcessID,
		Name:       s.Name,
		OrderIndex: s.OrderIndex,
		Status:     s.State.Status(),
		Progress:   s.State.Progress(),
		CreatedAt:  s.CreatedAt,
	}
}

func stepResponse(s workflow.Step) StepResponse {
	return StepResponse{
		ID:         s.ID,
		StageID:    s.StageID,
		Name:       s.Name,
		OrderIndex: s.OrderIndex,
		Status:     s.State.Status(),
		Progress:   s.State.Progress(),
		CreatedAt:  s.CreatedAt,
	}
}

// fieldResponse converts f; Done is filled in when lookup is given.
func fieldResponse(f workflow.Field, lookup workflow.FieldLookup) FieldResponse {
	out := FieldResponse{
		ID:              f.ID,
		StepID:          f.StepID,
		Name:            f.Name,
		Type:            string(f.Type),
		Status:          string(f.Status),
		OrderIndex:      f.OrderIndex,
		Content:         f.Content,
		DossierFieldIDs: f.DossierFieldIDs,
		TaskID:          f.TaskID,
		TaskStatus:      string(f.TaskStatus),
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
	for _, it := range f.Items {
		out.Items = append(out.Items, itemResponse(it))
	}
	if lookup != nil {
		done := workflow.IsDone(f, lookup)
		out.Done = &done
	}
	return out
}

func itemResponse(it workflow.TaskListItem) ItemResponse {
	return ItemResponse{ID: it.ID, FieldID: it.FieldID, Title: it.Title, Status: string(it.Status), OrderIndex: it.OrderIndex}
}

func taskResponse(t workflow.Task) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		FieldID:    t.FieldID,
		Title:      t.Title,
		AssigneeID: t.AssigneeID,
		Status:     string(t.Status),
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func treeResponse(tree *workflow.Tree) TreeResponse {
	out := TreeResponse{Process: processResponse(tree.Process()), Stages: []StageResponse{}}
	for _, st := range tree.Stages() {
		sr := stageResponse(st)
		for _, sp := range tree.StepsOf(st.ID) {
			pr := stepResponse(sp)
			for _, f := range tree.FieldsOf(sp.ID) {
				pr.Fields = append(pr.Fields, fieldResponse(f, tree))
			}
			sr.Steps = append(sr.Steps, pr)
		}
		out.Stages = append(out.Stages, sr)
	}
	return out
}

func cascadeResponse(r cascade.Result) CascadeResponse {
	out := CascadeResponse{
		FieldID:   r.FieldID,
		StepID:    r.StepID,
		StageID:   r.StageID,
		ProcessID: r.ProcessID,
		Step:      stateResponse(r.Step),
		Stage:     stateResponse(r.Stage),
		Process:   stateResponse(r.Process),
		Persisted: []string{},
	}
	for _, l := range r.Persisted {
		out.Persisted = append(out.Persisted, string(l))
	}
	return out
}

func changeResponse(ch engine.Change) ChangeResponse {
	out := ChangeResponse{Field: fieldResponse(ch.Field, nil), Cascade: cascadeResponse(ch.Cascade)}
	for _, d := range ch.Dependents {
		out.Dependents = append(out.Dependents, cascadeResponse(d))
	}
	return out
}

func eventResponse(e events.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProcessID:  e.ProcessID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
