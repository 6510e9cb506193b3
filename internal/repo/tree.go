package repo

import (
	"context"
	"fmt"
	"time"

	"procline/internal/workflow"
)

// Aggregate writes used by the cascade. Each is a single statement.

func (r Repo) UpdateStepStatus(ctx context.Context, id string, a workflow.Aggregate) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE steps SET status=?, progress=? WHERE id=?`, a.Status(), a.Progress(), id)
	if err != nil {
		return err
	}
	return mustAffect(res, "step", id)
}

func (r Repo) UpdateStageStatus(ctx context.Context, id string, a workflow.Aggregate) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE stages SET status=?, progress=? WHERE id=?`, a.Status(), a.Progress(), id)
	if err != nil {
		return err
	}
	return mustAffect(res, "stage", id)
}

func (r Repo) UpdateProcessStatus(ctx context.Context, id string, a workflow.Aggregate) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := r.DB.ExecContext(ctx, `UPDATE processes SET status=?, progress=?, updated_at=? WHERE id=?`, a.Status(), a.Progress(), now, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "process", id)
}

// RewriteOrderIndices assigns order_index 0..n-1 following orderedIDs. The
// list must hold exactly the container's current members.
func (r Repo) RewriteOrderIndices(ctx context.Context, kind workflow.ItemKind, containerID string, orderedIDs []string) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t.name+` WHERE `+t.parent+`=?`, containerID).Scan(&n); err != nil {
		return err
	}
	if n != len(orderedIDs) {
		return fmt.Errorf("%w: %s %s holds %d items, got %d ids", workflow.ErrInconsistentTree, kind.ContainerKind(), containerID, n, len(orderedIDs))
	}
	seen := make(map[string]bool, len(orderedIDs))
	for i, id := range orderedIDs {
		if seen[id] {
			return fmt.Errorf("%w: duplicate id %s", workflow.ErrInconsistentTree, id)
		}
		seen[id] = true
		res, err := tx.ExecContext(ctx, `UPDATE `+t.name+` SET order_index=? WHERE id=? AND `+t.parent+`=?`, i, id, containerID)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: %s %s is not in %s %s", workflow.ErrInconsistentTree, kind, id, kind.ContainerKind(), containerID)
		}
	}
	return tx.Commit()
}

// Reparent attaches an item to a new container at the end. Stages stay in
// their process.
func (r Repo) Reparent(ctx context.Context, kind workflow.ItemKind, itemID, newContainerID string) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t.parentTable+` WHERE id=?`, newContainerID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: no %s %s", workflow.ErrInconsistentTree, kind.ContainerKind(), newContainerID)
	}
	var current string
	if err := tx.QueryRowContext(ctx, `SELECT `+t.parent+` FROM `+t.name+` WHERE id=?`, itemID).Scan(&current); err != nil {
		return notFound(err, string(kind), itemID)
	}
	if current == newContainerID {
		return tx.Commit()
	}
	if kind == workflow.KindStage {
		return fmt.Errorf("%w: stage %s cannot leave process %s", workflow.ErrInconsistentTree, itemID, current)
	}
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t.name+` WHERE `+t.parent+`=?`, newContainerID).Scan(&n); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE `+t.name+` SET `+t.parent+`=?, order_index=? WHERE id=?`, newContainerID, n, itemID); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadTree reads a whole process into an arena. Rows are added in stored
// order, so a tree with sparse indices comes back dense.
func (r Repo) LoadTree(ctx context.Context, processID string) (*workflow.Tree, error) {
	p, err := r.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	tree := workflow.NewTree(p)
	stages, err := r.ListSiblingStages(ctx, processID)
	if err != nil {
		return nil, err
	}
	for _, st := range stages {
		if err := tree.AddStage(st); err != nil {
			return nil, err
		}
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT sp.id,sp.stage_id,sp.name,sp.order_index,sp.status,sp.progress,sp.created_at
FROM steps sp JOIN stages st ON st.id=sp.stage_id WHERE st.process_id=? ORDER BY st.order_index, sp.order_index, sp.id`, processID)
	if err != nil {
		return nil, err
	}
	var steps []workflow.Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		steps = append(steps, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, s := range steps {
		if err := tree.AddStep(s); err != nil {
			return nil, err
		}
	}
	fields, err := r.ListProcessFields(ctx, processID)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if err := tree.AddField(f); err != nil {
			return nil, err
		}
	}
	return tree, nil
}
