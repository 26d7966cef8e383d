package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/schema"
)

const (
	uniqueIndexPrefix = "uq_"
	indexPrefix       = "ix_"
)

// BuildCreateTableSQL generates CREATE TABLE SQL for an entity. Foreign
// keys are plain indexed columns: referential checks and cascades run in
// the mapper so both engines behave the same.
func BuildCreateTableSQL(d Dialect, e *entity.Compiled) string {
	cols := make([]string, len(e.Columns))
	for i, col := range e.Columns {
		cols[i] = columnDef(d, col, true)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", Quote(e.Table), strings.Join(cols, ",\n  "))
}

// columnDef builds a column definition. NOT NULL is only emitted in
// CREATE TABLE; columns added to existing tables stay nullable so that
// existing rows remain valid.
func columnDef(d Dialect, col entity.Column, create bool) string {
	parts := []string{Quote(col.Name), d.ColumnType(col.Kind)}
	if col.Name == schema.FieldID {
		parts = append(parts, "PRIMARY KEY")
	} else if create && !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	return strings.Join(parts, " ")
}

// BuildIndexSQL generates the unique indexes of unique properties and the
// plain indexes of key columns.
func BuildIndexSQL(e *entity.Compiled) []string {
	var out []string
	for _, col := range e.Columns {
		switch {
		case col.Unique:
			out = append(out, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
				Quote(uniqueIndexPrefix+e.Table+"_"+col.Name), Quote(e.Table), Quote(col.Name)))
		case col.IsKey():
			out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				Quote(indexPrefix+e.Table+"_"+col.Name), Quote(e.Table), Quote(col.Name)))
		}
	}
	return out
}

// BuildJoinTableSQL generates the link table of a many-to-many relation
// and the index of its second column.
func BuildJoinTableSQL(j *entity.JoinTable) []string {
	cols := []string{j.OwnerColumn, j.TargetColumn}
	sort.Strings(cols)
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s TEXT NOT NULL,\n  %s TEXT NOT NULL,\n  PRIMARY KEY (%s, %s)\n)",
			Quote(j.Table), Quote(cols[0]), Quote(cols[1]), Quote(cols[0]), Quote(cols[1])),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			Quote(indexPrefix+j.Table+"_"+cols[1]), Quote(j.Table), Quote(cols[1])),
	}
}

// Migrate brings the database in line with entities in one transaction:
// missing tables, columns, indexes and join tables are created. Nothing is
// dropped, so the schema stays usable by the previously active entities
// until the new ones are published.
func (m *Mapper) Migrate(ctx context.Context, entities []*entity.Compiled) error {
	return m.inTx(ctx, "migrate", "", func(ctx context.Context, tx querier) error {
		joins := map[string]bool{}
		for _, e := range entities {
			if _, err := tx.ExecContext(ctx, BuildCreateTableSQL(m.dialect, e)); err != nil {
				return fmt.Errorf("create table %s: %w", e.Table, err)
			}

			existing, err := m.dialect.Columns(ctx, tx, e.Table)
			if err != nil {
				return fmt.Errorf("inspect table %s: %w", e.Table, err)
			}
			for _, col := range e.Columns {
				if existing[col.Name] {
					continue
				}
				stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", Quote(e.Table), columnDef(m.dialect, col, false))
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("add column %s.%s: %w", e.Table, col.Name, err)
				}
			}

			for _, stmt := range BuildIndexSQL(e) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("create index on %s: %w", e.Table, err)
				}
			}

			for _, r := range e.Relations {
				if r.Through == nil || joins[r.Through.Table] {
					continue
				}
				joins[r.Through.Table] = true
				for _, stmt := range BuildJoinTableSQL(r.Through) {
					if _, err := tx.ExecContext(ctx, stmt); err != nil {
						return fmt.Errorf("create join table %s: %w", r.Through.Table, err)
					}
				}
			}
		}
		return nil
	})
}
