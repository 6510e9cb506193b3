package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"procline/internal/events"
)

type EventFilters struct {
	ProcessID  string
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	// Before returns events with ids lower than the cursor, newest first.
	Before int64
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]events.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProcessID != "" {
		clauses = append(clauses, "process_id=?")
		args = append(args, f.ProcessID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,process_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with ids greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, processID string) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if processID != "" {
		clauses = append(clauses, "process_id=?")
		args = append(args, processID)
	}
	query := `SELECT id,ts,type,process_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]events.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []events.Event
	for rows.Next() {
		var e events.Event
		var processID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &processID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.ProcessID = processID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}
