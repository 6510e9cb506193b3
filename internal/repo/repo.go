package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"procline/internal/workflow"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = workflow.ErrNotFound

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when set, else the pooled DB.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}

func mustAffect(res sql.Result, kind, id string) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// Processes

const processCols = `id,name,status,progress,created_at,updated_at`

func scanProcess(sc interface{ Scan(...any) error }) (workflow.Process, error) {
	var p workflow.Process
	var status string
	var progress int
	err := sc.Scan(&p.ID, &p.Name, &status, &progress, &p.CreatedAt, &p.UpdatedAt)
	p.State = workflow.RestoreAggregate(status, progress)
	return p, err
}

func (r Repo) InsertProcess(ctx context.Context, tx *sql.Tx, p workflow.Process) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO processes(id,name,status,progress,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, p.State.Status(), p.State.Progress(), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProcess(ctx context.Context, id string) (workflow.Process, error) {
	p, err := scanProcess(r.DB.QueryRowContext(ctx, `SELECT `+processCols+` FROM processes WHERE id=?`, id))
	return p, notFound(err, "process", id)
}

type ProcessFilters struct {
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProcesses(ctx context.Context, f ProcessFilters) ([]workflow.Process, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + processCols + ` FROM processes ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []workflow.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SingleProcess returns the only process of the workspace.
func (r Repo) SingleProcess(ctx context.Context) (workflow.Process, error) {
	ps, err := r.ListProcesses(ctx, ProcessFilters{Limit: 2})
	if err != nil {
		return workflow.Process{}, err
	}
	if len(ps) == 0 {
		return workflow.Process{}, fmt.Errorf("process: %w", ErrNotFound)
	}
	if len(ps) > 1 {
		return workflow.Process{}, fmt.Errorf("multiple processes exist; specify --process")
	}
	return ps[0], nil
}

// SetProcessLifecycle overrides the process status outside the cascade.
func (r Repo) SetProcessLifecycle(ctx context.Context, tx *sql.Tx, id, status, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE processes SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "process", id)
}

// Stages

const stageCols = `id,process_id,name,order_index,status,progress,created_at`

func scanStage(sc interface{ Scan(...any) error }) (workflow.Stage, error) {
	var s workflow.Stage
	var status string
	var progress int
	err := sc.Scan(&s.ID, &s.ProcessID, &s.Name, &s.OrderIndex, &status, &progress, &s.CreatedAt)
	s.State = workflow.RestoreAggregate(status, progress)
	return s, err
}

func (r Repo) InsertStage(ctx context.Context, tx *sql.Tx, s workflow.Stage) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO stages(id,process_id,name,order_index,status,progress,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.ProcessID, s.Name, s.OrderIndex, s.State.Status(), s.State.Progress(), s.CreatedAt)
	return err
}

func (r Repo) GetStage(ctx context.Context, id string) (workflow.Stage, error) {
	s, err := scanStage(r.DB.QueryRowContext(ctx, `SELECT `+stageCols+` FROM stages WHERE id=?`, id))
	return s, notFound(err, "stage", id)
}

func (r Repo) ListSiblingStages(ctx context.Context, processID string) ([]workflow.Stage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stageCols+` FROM stages WHERE process_id=? ORDER BY order_index, id`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []workflow.Stage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Steps

const stepCols = `id,stage_id,name,order_index,status,progress,created_at`

func scanStep(sc interface{ Scan(...any) error }) (workflow.Step, error) {
	var s workflow.Step
	var status string
	var progress int
	err := sc.Scan(&s.ID, &s.StageID, &s.Name, &s.OrderIndex, &status, &progress, &s.CreatedAt)
	s.State = workflow.RestoreAggregate(status, progress)
	return s, err
}

func (r Repo) InsertStep(ctx context.Context, tx *sql.Tx, s workflow.Step) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO steps(id,stage_id,name,order_index,status,progress,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.StageID, s.Name, s.OrderIndex, s.State.Status(), s.State.Progress(), s.CreatedAt)
	return err
}

func (r Repo) GetStep(ctx context.Context, id string) (workflow.Step, error) {
	s, err := scanStep(r.DB.QueryRowContext(ctx, `SELECT `+stepCols+` FROM steps WHERE id=?`, id))
	return s, notFound(err, "step", id)
}

func (r Repo) ListSiblingSteps(ctx context.Context, stageID string) ([]workflow.Step, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepCols+` FROM steps WHERE stage_id=? ORDER BY order_index, id`, stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []workflow.Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ProcessOfStep resolves the process that owns a step.
func (r Repo) ProcessOfStep(ctx context.Context, stepID string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT st.process_id FROM steps sp JOIN stages st ON st.id=sp.stage_id WHERE sp.id=?`, stepID).Scan(&id)
	return id, notFound(err, "step", stepID)
}

// ProcessOfField resolves the process that owns a field.
func (r Repo) ProcessOfField(ctx context.Context, fieldID string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT st.process_id FROM fields f JOIN steps sp ON sp.id=f.step_id JOIN stages st ON st.id=sp.stage_id WHERE f.id=?`, fieldID).Scan(&id)
	return id, notFound(err, "field", fieldID)
}

// CountChildren returns how many items of kind containerID holds, which is
// also the next free order_index.
func (r Repo) CountChildren(ctx context.Context, tx *sql.Tx, kind workflow.ItemKind, containerID string) (int, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t.name+` WHERE `+t.parent+`=?`, containerID).Scan(&n)
	return n, err
}

type itemTable struct {
	name, parent, parentTable string
}

func tableFor(kind workflow.ItemKind) (itemTable, error) {
	switch kind {
	case workflow.KindStage:
		return itemTable{"stages", "process_id", "processes"}, nil
	case workflow.KindStep:
		return itemTable{"steps", "stage_id", "stages"}, nil
	case workflow.KindField:
		return itemTable{"fields", "step_id", "steps"}, nil
	}
	return itemTable{}, fmt.Errorf("%w: item kind %q", workflow.ErrInvalidInput, kind)
}
