// Package workflow holds the Process → Stage → Step → Field tree, the pure
// status roll-up rules and the dossier done-ness resolver. Nothing in this
// package performs I/O.
package workflow

import "fmt"

// ItemKind names one of the three drag-reorderable item classes.
type ItemKind string

const (
	KindStage ItemKind = "stage"
	KindStep  ItemKind = "step"
	KindField ItemKind = "field"
)

// ContainerKind is the entity kind that owns items of kind k.
func (k ItemKind) ContainerKind() string {
	switch k {
	case KindStage:
		return "process"
	case KindStep:
		return "stage"
	case KindField:
		return "step"
	}
	return ""
}

func (k ItemKind) Valid() bool {
	return k == KindStage || k == KindStep || k == KindField
}

// ParseItemKind accepts the item kind names used on the wire and in the CLI.
func ParseItemKind(s string) (ItemKind, error) {
	k := ItemKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: item kind %q", ErrInvalidInput, s)
	}
	return k, nil
}

// Aggregate status values shared by Step, Stage and Process.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Process lifecycle values. Seeding and archived are set by lifecycle
// operations only; the cascade never leaves or enters them.
const (
	ProcessSeeding   = "seeding"
	ProcessActive    = "active"
	ProcessCompleted = StatusCompleted
	ProcessArchived  = "archived"
)

func ValidProcessStatus(s string) bool {
	switch s {
	case ProcessSeeding, ProcessActive, ProcessCompleted, ProcessArchived:
		return true
	}
	return false
}

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldLongText FieldType = "long_text"
	FieldFile     FieldType = "file"
	FieldFileList FieldType = "file_list"
	FieldTask     FieldType = "task"
	FieldTaskList FieldType = "task_list"
	FieldDossier  FieldType = "dossier"
)

var FieldTypes = []FieldType{FieldText, FieldLongText, FieldFile, FieldFileList, FieldTask, FieldTaskList, FieldDossier}

func (t FieldType) Valid() bool {
	for _, ft := range FieldTypes {
		if ft == t {
			return true
		}
	}
	return false
}

type FieldStatus string

const (
	FieldEmpty   FieldStatus = "empty"
	FieldOpen    FieldStatus = "open"
	FieldClosed  FieldStatus = "closed"
	FieldSkipped FieldStatus = "skipped"
)

func (s FieldStatus) Valid() bool {
	switch s {
	case FieldEmpty, FieldOpen, FieldClosed, FieldSkipped:
		return true
	}
	return false
}

type ItemStatus string

const (
	ItemNotStarted ItemStatus = "not_started"
	ItemPlanned    ItemStatus = "planned"
	ItemInProgress ItemStatus = "in_progress"
	ItemDone       ItemStatus = "done"
	ItemWontDo     ItemStatus = "wont_do"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemNotStarted, ItemPlanned, ItemInProgress, ItemDone, ItemWontDo:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskSubmitted  TaskStatus = "submitted"
	TaskAccepted   TaskStatus = "accepted"
	TaskRejected   TaskStatus = "rejected"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskOpen, TaskInProgress, TaskSubmitted, TaskAccepted, TaskRejected:
		return true
	}
	return false
}

type Process struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     Aggregate `json:"state"`
	CreatedAt string    `json:"created_at" format:"date-time"`
	UpdatedAt string    `json:"updated_at" format:"date-time"`
}

type Stage struct {
	ID         string    `json:"id"`
	ProcessID  string    `json:"process_id"`
	Name       string    `json:"name"`
	OrderIndex int       `json:"order_index"`
	State      Aggregate `json:"state"`
	CreatedAt  string    `json:"created_at" format:"date-time"`
}

type Step struct {
	ID         string    `json:"id"`
	StageID    string    `json:"stage_id"`
	Name       string    `json:"name"`
	OrderIndex int       `json:"order_index"`
	State      Aggregate `json:"state"`
	CreatedAt  string    `json:"created_at" format:"date-time"`
}

// Field is a leaf. TaskStatus mirrors the linked Task for task fields and
// Items carries the task_list composition, so done-ness can be decided
// without further reads.
type Field struct {
	ID              string         `json:"id"`
	StepID          string         `json:"step_id"`
	Name            string         `json:"name"`
	Type            FieldType      `json:"type"`
	Status          FieldStatus    `json:"status"`
	OrderIndex      int            `json:"order_index"`
	Content         string         `json:"content,omitempty"`
	DossierFieldIDs []string       `json:"dossier_field_ids,omitempty"`
	TaskID          string         `json:"task_id,omitempty"`
	TaskStatus      TaskStatus     `json:"task_status,omitempty"`
	Items           []TaskListItem `json:"items,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

type TaskListItem struct {
	ID         string     `json:"id"`
	FieldID    string     `json:"field_id"`
	Title      string     `json:"title"`
	Status     ItemStatus `json:"status"`
	OrderIndex int        `json:"order_index"`
}

// Task is the single delegated (or self-assigned) task behind a task field.
type Task struct {
	ID         string     `json:"id"`
	FieldID    string     `json:"field_id"`
	Title      string     `json:"title"`
	AssigneeID string     `json:"assignee_id,omitempty"`
	Status     TaskStatus `json:"status"`
	CreatedAt  string     `json:"created_at" format:"date-time"`
	UpdatedAt  string     `json:"updated_at" format:"date-time"`
}
