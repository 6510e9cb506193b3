package repo

import (
	"context"
	"database/sql"
	"fmt"

	"procline/internal/workflow"
)

const fieldSelect = `SELECT f.id,f.step_id,f.name,f.type,f.status,f.order_index,f.content,f.created_at,f.updated_at,
COALESCE(t.id,''),COALESCE(t.status,'')
FROM fields f LEFT JOIN tasks t ON t.field_id=f.id `

func scanField(sc interface{ Scan(...any) error }) (workflow.Field, error) {
	var f workflow.Field
	err := sc.Scan(&f.ID, &f.StepID, &f.Name, &f.Type, &f.Status, &f.OrderIndex, &f.Content, &f.CreatedAt, &f.UpdatedAt, &f.TaskID, &f.TaskStatus)
	return f, err
}

func (r Repo) InsertField(ctx context.Context, tx *sql.Tx, f workflow.Field) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO fields(id,step_id,name,type,status,order_index,content,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		f.ID, f.StepID, f.Name, f.Type, f.Status, f.OrderIndex, f.Content, f.CreatedAt, f.UpdatedAt)
	return err
}

// GetField returns a field with its dossier references, task-list items and
// task status filled in.
func (r Repo) GetField(ctx context.Context, id string) (workflow.Field, error) {
	f, err := scanField(r.DB.QueryRowContext(ctx, fieldSelect+`WHERE f.id=?`, id))
	if err != nil {
		return f, notFound(err, "field", id)
	}
	fields := []workflow.Field{f}
	if err := r.hydrate(ctx, fields, `SELECT ?`, id); err != nil {
		return f, err
	}
	return fields[0], nil
}

func (r Repo) ListSiblingFields(ctx context.Context, stepID string) ([]workflow.Field, error) {
	fields, err := r.listFields(ctx, fieldSelect+`WHERE f.step_id=? ORDER BY f.order_index, f.id`, stepID)
	if err != nil {
		return nil, err
	}
	return fields, r.hydrate(ctx, fields, `SELECT id FROM fields WHERE step_id=?`, stepID)
}

// ListProcessFields returns every field of a process in display order.
func (r Repo) ListProcessFields(ctx context.Context, processID string) ([]workflow.Field, error) {
	fields, err := r.listFields(ctx, fieldSelect+`JOIN steps sp ON sp.id=f.step_id JOIN stages st ON st.id=sp.stage_id
WHERE st.process_id=? ORDER BY st.order_index, sp.order_index, f.order_index, f.id`, processID)
	if err != nil {
		return nil, err
	}
	return fields, r.hydrate(ctx, fields, processFieldIDs, processID)
}

const processFieldIDs = `SELECT f.id FROM fields f JOIN steps sp ON sp.id=f.step_id JOIN stages st ON st.id=sp.stage_id WHERE st.process_id=?`

func (r Repo) listFields(ctx context.Context, query string, args ...any) ([]workflow.Field, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []workflow.Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// hydrate loads dossier refs and task-list items for fields. scope is a
// subquery yielding the ids of those fields.
func (r Repo) hydrate(ctx context.Context, fields []workflow.Field, scope string, args ...any) error {
	if len(fields) == 0 {
		return nil
	}
	byID := make(map[string]int, len(fields))
	for i, f := range fields {
		byID[f.ID] = i
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT field_id,ref_field_id FROM field_dossier_refs WHERE field_id IN (`+scope+`) ORDER BY field_id, position`, args...)
	if err != nil {
		return err
	}
	for rows.Next() {
		var fieldID, ref string
		if err := rows.Scan(&fieldID, &ref); err != nil {
			rows.Close()
			return err
		}
		if i, ok := byID[fieldID]; ok {
			fields[i].DossierFieldIDs = append(fields[i].DossierFieldIDs, ref)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.DB.QueryContext(ctx, `SELECT id,field_id,title,status,order_index FROM task_list_items WHERE field_id IN (`+scope+`) ORDER BY field_id, order_index, id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it workflow.TaskListItem
		if err := rows.Scan(&it.ID, &it.FieldID, &it.Title, &it.Status, &it.OrderIndex); err != nil {
			return err
		}
		if i, ok := byID[it.FieldID]; ok {
			fields[i].Items = append(fields[i].Items, it)
		}
	}
	return rows.Err()
}

func (r Repo) UpdateFieldStatus(ctx context.Context, tx *sql.Tx, id string, status workflow.FieldStatus, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE fields SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "field", id)
}

func (r Repo) UpdateFieldContent(ctx context.Context, tx *sql.Tx, id, content string, status workflow.FieldStatus, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE fields SET content=?, status=?, updated_at=? WHERE id=?`, content, status, now, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "field", id)
}

// SetDossierRefs replaces the reference set of a dossier field.
func (r Repo) SetDossierRefs(ctx context.Context, tx *sql.Tx, fieldID string, refs []string, now string) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM field_dossier_refs WHERE field_id=?`, fieldID); err != nil {
		return err
	}
	for i, ref := range refs {
		if _, err := q.ExecContext(ctx, `INSERT INTO field_dossier_refs(field_id,ref_field_id,position) VALUES (?,?,?)`, fieldID, ref, i); err != nil {
			return fmt.Errorf("insert dossier ref %s: %w", ref, err)
		}
	}
	res, err := q.ExecContext(ctx, `UPDATE fields SET updated_at=? WHERE id=?`, now, fieldID)
	if err != nil {
		return err
	}
	return mustAffect(res, "field", fieldID)
}

// DeleteField removes a field; the caller compacts the step.
func (r Repo) DeleteField(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM fields WHERE id=?`, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "field", id)
}

// Task-list items

func (r Repo) InsertTaskListItem(ctx context.Context, tx *sql.Tx, it workflow.TaskListItem) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO task_list_items(id,field_id,title,status,order_index) VALUES (?,?,?,?,?)`,
		it.ID, it.FieldID, it.Title, it.Status, it.OrderIndex)
	return err
}

func (r Repo) GetTaskListItem(ctx context.Context, id string) (workflow.TaskListItem, error) {
	var it workflow.TaskListItem
	err := r.DB.QueryRowContext(ctx, `SELECT id,field_id,title,status,order_index FROM task_list_items WHERE id=?`, id).
		Scan(&it.ID, &it.FieldID, &it.Title, &it.Status, &it.OrderIndex)
	return it, notFound(err, "task list item", id)
}

func (r Repo) CountTaskListItems(ctx context.Context, tx *sql.Tx, fieldID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM task_list_items WHERE field_id=?`, fieldID).Scan(&n)
	return n, err
}

func (r Repo) UpdateTaskListItemStatus(ctx context.Context, tx *sql.Tx, id string, status workflow.ItemStatus) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE task_list_items SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "task list item", id)
}

// Tasks

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t workflow.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,field_id,title,assignee_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.FieldID, t.Title, nullable(t.AssigneeID), t.Status, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (workflow.Task, error) {
	var t workflow.Task
	var assignee sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,field_id,title,assignee_id,status,created_at,updated_at FROM tasks WHERE id=?`, id).
		Scan(&t.ID, &t.FieldID, &t.Title, &assignee, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, notFound(err, "task", id)
	}
	if assignee.Valid {
		t.AssigneeID = assignee.String
	}
	return t, nil
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, id string, status workflow.TaskStatus, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "task", id)
}
