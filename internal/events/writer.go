package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ProcessCreated   = "process.created"
	ProcessLifecycle = "process.lifecycle"
	StageCreated     = "stage.created"
	StepCreated      = "step.created"
	FieldCreated     = "field.created"
	FieldStatus      = "field.status"
	FieldContent     = "field.content"
	FieldDossier     = "field.dossier"
	FieldRemoved     = "field.removed"
	TaskListItem     = "tasklist.item"
	TaskStatus       = "task.status"
	TreeReordered    = "tree.reordered"
	TreeMoved        = "tree.moved"
	CascadeApplied   = "cascade.applied"
	CascadeBroken    = "cascade.broken"
)

// Event is one row of the operational log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProcessID  string `json:"process_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes through ex, or through w.DB when ex is nil.
func (w Writer) Append(ctx context.Context, ex Execer, evtType, processID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if ex == nil {
		ex = w.DB
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,process_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(processID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
