package workflow

import (
	"encoding/json"
	"fmt"
)

// Aggregate is the derived status/progress pair of a Step, Stage or Process.
// Its fields are unexported: values come from the Rollup functions or from
// RestoreAggregate when hydrating stored rows, never from user input.
type Aggregate struct {
	status   string
	progress int
}

// RestoreAggregate rebuilds an aggregate read back from storage.
func RestoreAggregate(status string, progress int) Aggregate {
	return Aggregate{status: status, progress: clampPercent(progress)}
}

func (a Aggregate) Status() string { return a.status }
func (a Aggregate) Progress() int  { return a.progress }
func (a Aggregate) Completed() bool {
	return a.status == StatusCompleted
}

func (a Aggregate) String() string {
	return fmt.Sprintf("%s %d%%", a.status, a.progress)
}

type aggregateJSON struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

func (a Aggregate) MarshalJSON() ([]byte, error) {
	return json.Marshal(aggregateJSON{Status: a.status, Progress: a.progress})
}

// UnmarshalJSON lets API clients decode snapshots; the server never accepts
// aggregates as input.
func (a *Aggregate) UnmarshalJSON(data []byte) error {
	var tmp aggregateJSON
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*a = RestoreAggregate(tmp.Status, tmp.Progress)
	return nil
}

// Percent returns n/total as an integer percentage, floored, 0 when total is 0.
func Percent(n, total int) int {
	if total <= 0 {
		return 0
	}
	return clampPercent(n * 100 / total)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Started reports whether a field counts as begun for the open/in_progress
// distinction of its Step.
func Started(f Field) bool {
	if f.Status != FieldEmpty && f.Status != "" {
		return true
	}
	switch f.Type {
	case FieldDossier:
		return len(f.DossierFieldIDs) > 0
	case FieldTaskList:
		return len(f.Items) > 0
	case FieldTask:
		return f.TaskStatus != "" && f.TaskStatus != TaskOpen
	}
	return false
}

// RollupStep derives a Step aggregate from all of its fields. Progress is
// the share of done fields. A step without fields stays open.
func RollupStep(fields []Field, lookup FieldLookup) Aggregate {
	done, started := 0, false
	for _, f := range fields {
		if IsDone(f, lookup) {
			done++
			started = true
			continue
		}
		if Started(f) {
			started = true
		}
	}
	switch {
	case len(fields) > 0 && done == len(fields):
		return Aggregate{status: StatusCompleted, progress: 100}
	case started:
		return Aggregate{status: StatusInProgress, progress: Percent(done, len(fields))}
	default:
		return Aggregate{status: StatusOpen, progress: Percent(done, len(fields))}
	}
}

// RollupStage derives a Stage aggregate from its steps.
func RollupStage(steps []Step) Aggregate {
	completed, active := 0, false
	for _, s := range steps {
		switch s.State.Status() {
		case StatusCompleted:
			completed++
			active = true
		case StatusInProgress:
			active = true
		}
	}
	progress := Percent(completed, len(steps))
	switch {
	case len(steps) > 0 && completed == len(steps):
		return Aggregate{status: StatusCompleted, progress: progress}
	case active:
		return Aggregate{status: StatusInProgress, progress: progress}
	default:
		return Aggregate{status: StatusOpen, progress: progress}
	}
}

// RollupProcess derives the Process aggregate. Progress is the share of done
// fields across the whole process. current is the stored status: seeding and
// archived are kept as they are.
func RollupProcess(current string, stages []Stage, fields []Field, lookup FieldLookup) Aggregate {
	done := 0
	for _, f := range fields {
		if IsDone(f, lookup) {
			done++
		}
	}
	progress := Percent(done, len(fields))
	if current == ProcessSeeding || current == ProcessArchived {
		return Aggregate{status: current, progress: progress}
	}
	completed := 0
	for _, s := range stages {
		if s.State.Completed() {
			completed++
		}
	}
	if len(stages) > 0 && completed == len(stages) {
		return Aggregate{status: ProcessCompleted, progress: progress}
	}
	return Aggregate{status: ProcessActive, progress: progress}
}
