package storage

import (
	"context"
	"fmt"

	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/schema"
	"github.com/artpar/apiforge/core/validation"
)

// batchSize bounds the number of ids bound in one IN list.
const batchSize = 500

// Related loads relation r for every parent in one query per batch of
// parents. The result maps parent ids to their related records; parents
// without related records are absent. Has-many and many-to-many results
// are in creation order.
func (m *Mapper) Related(ctx context.Context, r *entity.Relation, parents []Record) (map[string][]Record, error) {
	ctx, cancel := m.bound(ctx)
	defer cancel()

	out := map[string][]Record{}
	if len(parents) == 0 {
		return out, nil
	}

	var keys []string
	seen := map[string]bool{}
	for _, p := range parents {
		k := p.ID()
		if r.Kind == schema.BelongsTo {
			k = asString(p[r.ForeignKey])
		}
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	for start := 0; start < len(keys); start += batchSize {
		end := min(start+batchSize, len(keys))
		if err := m.related(ctx, r, keys[start:end], out); err != nil {
			return nil, translate("load", r.Owner.Name, err)
		}
	}

	if r.Kind == schema.BelongsTo {
		// Loaded by target id; rekey by parent.
		byTarget := out
		out = map[string][]Record{}
		for _, p := range parents {
			if recs, ok := byTarget[asString(p[r.ForeignKey])]; ok {
				out[p.ID()] = recs
			}
		}
	}
	return out, nil
}

func (m *Mapper) related(ctx context.Context, r *entity.Relation, keys []string, out map[string][]Record) error {
	cols := exposed(r.Target)
	b := &builder{d: m.dialect}

	switch r.Kind {
	case schema.BelongsTo:
		stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
			selectList("", cols), Quote(r.Target.Table), Quote(schema.FieldID), b.list(keys))
		rows, err := m.db.QueryContext(ctx, stmt, b.args...)
		if err != nil {
			return err
		}
		recs, err := m.scan(rows, cols, false)
		if err != nil {
			return err
		}
		for _, s := range recs {
			out[s.rec.ID()] = []Record{s.rec}
		}

	case schema.HasMany:
		stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s) ORDER BY %s",
			selectList("", cols), Quote(r.Target.Table), Quote(r.ForeignKey), b.list(keys), orderBy("", nil))
		rows, err := m.db.QueryContext(ctx, stmt, b.args...)
		if err != nil {
			return err
		}
		recs, err := m.scan(rows, cols, false)
		if err != nil {
			return err
		}
		for _, s := range recs {
			parent := asString(s.rec[r.ForeignKey])
			out[parent] = append(out[parent], s.rec)
		}

	case schema.ManyToMany:
		j := r.Through
		stmt := fmt.Sprintf("SELECT j.%s, %s FROM %s t JOIN %s j ON j.%s = t.%s WHERE j.%s IN (%s) ORDER BY %s",
			Quote(j.OwnerColumn), selectList("t", cols),
			Quote(r.Target.Table), Quote(j.Table), Quote(j.TargetColumn), Quote(schema.FieldID),
			Quote(j.OwnerColumn), b.list(keys), orderBy("t", nil))
		rows, err := m.db.QueryContext(ctx, stmt, b.args...)
		if err != nil {
			return err
		}
		recs, err := m.scan(rows, cols, true)
		if err != nil {
			return err
		}
		for _, s := range recs {
			out[s.owner] = append(out[s.owner], s.rec)
		}
	}
	return nil
}

// ListRelated returns one page of the records related to the parent row
// parentID through a has-many or many-to-many relation.
func (m *Mapper) ListRelated(ctx context.Context, r *entity.Relation, parentID string, lq validation.ListQuery) ([]Record, int, error) {
	if !r.Many() {
		return nil, 0, fmt.Errorf("relation %s.%s is not a list", r.Owner.Name, r.Name)
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()

	if err := m.exists(ctx, m.db, r.Owner, parentID); err != nil {
		return nil, 0, translate("list", r.Owner.Name, err)
	}

	var sc scope
	if r.Kind == schema.HasMany {
		sc = func(b *builder) string {
			return Quote(r.ForeignKey) + " = " + b.bind(parentID)
		}
	} else {
		j := r.Through
		sc = func(b *builder) string {
			return fmt.Sprintf("%s IN (SELECT %s FROM %s WHERE %s = %s)",
				Quote(schema.FieldID), Quote(j.TargetColumn), Quote(j.Table), Quote(j.OwnerColumn), b.bind(parentID))
		}
	}

	recs, total, err := m.findMany(ctx, m.db, r.Target, lq, sc)
	if err != nil {
		return nil, 0, translate("list", r.Target.Name, err)
	}
	return recs, total, nil
}
