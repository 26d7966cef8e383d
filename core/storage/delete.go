package storage

import (
	"context"
	"fmt"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/schema"
)

// Delete removes the record with id. Dependents are handled in the same
// transaction: cascading relations delete their rows (has-many) or links
// (many-to-many) first, non-cascading relations with rows abort the whole
// delete with a ConflictError.
func (m *Mapper) Delete(ctx context.Context, e *entity.Compiled, id string) error {
	return m.inTx(ctx, "delete", e.Name, func(ctx context.Context, tx querier) error {
		if err := m.exists(ctx, tx, e, id); err != nil {
			return err
		}
		return m.deleteRow(ctx, tx, e, id, map[string]bool{})
	})
}

// deleteRow deletes one row after its dependents. visited holds the rows
// already being deleted so that reference cycles terminate.
func (m *Mapper) deleteRow(ctx context.Context, tx querier, e *entity.Compiled, id string, visited map[string]bool) error {
	key := e.Table + "/" + id
	if visited[key] {
		return nil
	}
	visited[key] = true

	for _, r := range e.Dependents() {
		var err error
		if r.Kind == schema.HasMany {
			err = m.deleteChildren(ctx, tx, r, id, visited)
		} else {
			err = m.deleteLinks(ctx, tx, r, id)
		}
		if err != nil {
			return err
		}
	}

	b := &builder{d: m.dialect}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", Quote(e.Table), Quote(schema.FieldID), b.bind(id))
	_, err := tx.ExecContext(ctx, stmt, b.args...)
	return err
}

func (m *Mapper) deleteChildren(ctx context.Context, tx querier, r *entity.Relation, id string, visited map[string]bool) error {
	b := &builder{d: m.dialect}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		Quote(schema.FieldID), Quote(r.Target.Table), Quote(r.ForeignKey), b.bind(id))
	rows, err := tx.QueryContext(ctx, stmt, b.args...)
	if err != nil {
		return err
	}
	var pending []string
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			rows.Close()
			return err
		}
		if !visited[r.Target.Table+"/"+child] {
			pending = append(pending, child)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(pending) == 0 {
		return nil
	}
	if !r.Cascade {
		return &apierror.ConflictError{
			Entity: r.Owner.Name,
			Field:  r.Name,
			Reason: fmt.Sprintf("%d %s record(s) still reference it", len(pending), r.Target.Name),
		}
	}
	for _, child := range pending {
		if err := m.deleteRow(ctx, tx, r.Target, child, visited); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapper) deleteLinks(ctx context.Context, tx querier, r *entity.Relation, id string) error {
	j := r.Through
	self := r.Owner == r.Target

	b := &builder{d: m.dialect}
	where := Quote(j.OwnerColumn) + " = " + b.bind(id)
	if self {
		where += " OR " + Quote(j.TargetColumn) + " = " + b.bind(id)
	}

	if !r.Cascade {
		var n int
		stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", Quote(j.Table), where)
		if err := tx.QueryRowContext(ctx, stmt, b.args...).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return &apierror.ConflictError{
				Entity: r.Owner.Name,
				Field:  r.Name,
				Reason: fmt.Sprintf("%d %s link(s) still exist", n, r.Target.Name),
			}
		}
		return nil
	}

	_, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", Quote(j.Table), where), b.args...)
	return err
}
