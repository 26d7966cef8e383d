// Package storage persists entity records through database/sql. The
// Mapper derives every statement from compiled entities: tables, columns,
// indexes, list queries, relation loading and cascading deletes. Engine
// errors are translated into the apierror taxonomy before they leave the
// package.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/schema"
	"github.com/artpar/apiforge/core/validation"
)

// querier is satisfied by *sql.DB and *sql.Tx. Statements of one
// transaction must all go through the transaction: in-memory databases
// have a single connection.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Record is one stored row keyed by column name. Only exposed columns are
// present.
type Record map[string]any

// ID returns the record id.
func (r Record) ID() string {
	id, _ := r[schema.FieldID].(string)
	return id
}

// Mapper executes entity operations against one database.
type Mapper struct {
	db         *sql.DB
	dialect    Dialect
	timeout    time.Duration
	now        func() time.Time
	newID      func() string
	bcryptCost int
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithQueryTimeout bounds every mapper call. Zero disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(m *Mapper) { m.timeout = d }
}

// WithClock replaces the clock used for createdAt and updatedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) { m.now = now }
}

// WithBcryptCost sets the cost used to hash password values.
func WithBcryptCost(cost int) Option {
	return func(m *Mapper) { m.bcryptCost = cost }
}

// New creates a Mapper over db.
func New(db *sql.DB, d Dialect, opts ...Option) *Mapper {
	m := &Mapper{
		db:         db,
		dialect:    d,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dialect returns the dialect the mapper generates SQL for.
func (m *Mapper) Dialect() Dialect { return m.dialect }

// Ping checks that the database is reachable.
func (m *Mapper) Ping(ctx context.Context) error {
	ctx, cancel := m.bound(ctx)
	defer cancel()
	return translate("ping", "", m.db.PingContext(ctx))
}

// Close closes the database.
func (m *Mapper) Close() error {
	return m.db.Close()
}

func (m *Mapper) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout > 0 {
		return context.WithTimeout(ctx, m.timeout)
	}
	return context.WithCancel(ctx)
}

func (m *Mapper) stamp() string {
	return m.now().UTC().Format(validation.TimestampLayout)
}

// inTx runs fn in a transaction, rolling back on error. The returned error
// is translated.
func (m *Mapper) inTx(ctx context.Context, op, name string, fn func(ctx context.Context, tx querier) error) error {
	ctx, cancel := m.bound(ctx)
	defer cancel()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(op, name, err)
	}
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return translate(op, name, err)
	}
	if err := tx.Commit(); err != nil {
		return translate(op, name, err)
	}
	return nil
}

// Insert stores a new record built from validated values and returns it
// as stored. Absent properties take their declared default. Many-to-many link fields replace the links of the new row.
func (m *Mapper) Insert(ctx context.Context, e *entity.Compiled, values map[string]any) (Record, error) {
	var rec Record
	err := m.inTx(ctx, "insert", e.Name, func(ctx context.Context, tx querier) error {
		links, err := m.checkWrite(ctx, tx, e, values)
		if err != nil {
			return err
		}

		id := m.newID()
		now := m.stamp()
		b := &builder{d: m.dialect}
		var cols, marks []string
		add := func(name string, v any) {
			cols = append(cols, Quote(name))
			marks = append(marks, b.bind(v))
		}

		add(schema.FieldID, id)
		for _, col := range e.Columns {
			if col.Implicit {
				continue
			}
			v, ok := values[col.Name]
			if !ok {
				if v, ok = defaultOf(col); !ok {
					continue
				}
			}
			enc, err := m.encode(col, v)
			if err != nil {
				return err
			}
			add(col.Name, enc)
		}
		add(schema.FieldCreatedAt, now)
		add(schema.FieldUpdatedAt, now)

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", Quote(e.Table), strings.Join(cols, ", "), strings.Join(marks, ", "))
		if _, err := tx.ExecContext(ctx, stmt, b.args...); err != nil {
			return err
		}
		if err := m.replaceLinks(ctx, tx, id, links); err != nil {
			return err
		}

		rec, err = m.findOne(ctx, tx, e, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// defaultOf returns the declared default of col in its canonical form.
func defaultOf(col entity.Column) (any, bool) {
	p := col.Property
	if p == nil || p.Default == nil {
		return nil, false
	}
	v, msg := validation.Coerce(p.Kind, p.Values, p.Default)
	return v, msg == ""
}

// FindOne returns the record with id.
func (m *Mapper) FindOne(ctx context.Context, e *entity.Compiled, id string) (Record, error) {
	ctx, cancel := m.bound(ctx)
	defer cancel()
	rec, err := m.findOne(ctx, m.db, e, id)
	if err != nil {
		return nil, translate("find", e.Name, err)
	}
	return rec, nil
}

// FindMany returns one page of the records matching lq and the total
// number of matching records.
func (m *Mapper) FindMany(ctx context.Context, e *entity.Compiled, lq validation.ListQuery) ([]Record, int, error) {
	ctx, cancel := m.bound(ctx)
	defer cancel()
	recs, total, err := m.findMany(ctx, m.db, e, lq, nil)
	if err != nil {
		return nil, 0, translate("list", e.Name, err)
	}
	return recs, total, nil
}

// Update applies validated values to the record with id and returns the
// record as stored. Absent fields keep their values.
func (m *Mapper) Update(ctx context.Context, e *entity.Compiled, id string, values map[string]any) (Record, error) {
	var rec Record
	err := m.inTx(ctx, "update", e.Name, func(ctx context.Context, tx querier) error {
		if err := m.exists(ctx, tx, e, id); err != nil {
			return err
		}
		links, err := m.checkWrite(ctx, tx, e, values)
		if err != nil {
			return err
		}

		b := &builder{d: m.dialect}
		var sets []string
		for _, col := range e.Columns {
			if col.Implicit {
				continue
			}
			v, ok := values[col.Name]
			if !ok {
				if v, ok = defaultOf(col); !ok {
					continue
				}
			}
			enc, err := m.encode(col, v)
			if err != nil {
				return err
			}
			sets = append(sets, Quote(col.Name)+" = "+b.bind(enc))
		}
		sets = append(sets, Quote(schema.FieldUpdatedAt)+" = "+b.bind(m.stamp()))

		stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", Quote(e.Table), strings.Join(sets, ", "), Quote(schema.FieldID), b.bind(id))
		if _, err := tx.ExecContext(ctx, stmt, b.args...); err != nil {
			return err
		}
		if err := m.replaceLinks(ctx, tx, id, links); err != nil {
			return err
		}

		rec, err = m.findOne(ctx, tx, e, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// checkWrite verifies that every key and link value references an
// existing row. Missing rows are validation errors on the field that names
// them. It returns the link sets to store, by relation.
func (m *Mapper) checkWrite(ctx context.Context, q querier, e *entity.Compiled, values map[string]any) (map[*entity.Relation][]string, error) {
	errs := &apierror.ValidationError{}

	for _, col := range e.Columns {
		if !col.IsKey() {
			continue
		}
		id, ok := values[col.Name].(string)
		if !ok {
			continue
		}
		missing, err := m.missing(ctx, q, col.References, []string{id})
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			errs.Addf(col.Name, "reference", "references a %s that does not exist", col.References.Name)
		}
	}

	links := map[*entity.Relation][]string{}
	for _, r := range e.Relations {
		if r.Kind != schema.ManyToMany {
			continue
		}
		field := entity.LinkField(r)
		v, ok := values[field]
		if !ok {
			continue
		}
		ids, _ := v.([]string)
		missing, err := m.missing(ctx, q, r.Target, ids)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			errs.Addf(field, "reference", "references %s that do not exist: %s", r.Target.Name, strings.Join(missing, ", "))
			continue
		}
		links[r] = ids
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

// missing returns the ids that have no row in target, in input order.
func (m *Mapper) missing(ctx context.Context, q querier, target *entity.Compiled, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	b := &builder{d: m.dialect}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		Quote(schema.FieldID), Quote(target.Table), Quote(schema.FieldID), b.list(ids))
	rows, err := q.QueryContext(ctx, stmt, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []string
	for _, id := range ids {
		if !found[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// replaceLinks makes links the complete link sets of the row ownerID.
func (m *Mapper) replaceLinks(ctx context.Context, tx querier, ownerID string, links map[*entity.Relation][]string) error {
	for r, ids := range links {
		j := r.Through
		b := &builder{d: m.dialect}
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", Quote(j.Table), Quote(j.OwnerColumn), b.bind(ownerID))
		if _, err := tx.ExecContext(ctx, stmt, b.args...); err != nil {
			return err
		}
		for _, id := range ids {
			b := &builder{d: m.dialect}
			stmt := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
				Quote(j.Table), Quote(j.OwnerColumn), Quote(j.TargetColumn), b.bind(ownerID), b.bind(id))
			if _, err := tx.ExecContext(ctx, stmt, b.args...); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Mapper) exists(ctx context.Context, q querier, e *entity.Compiled, id string) error {
	b := &builder{d: m.dialect}
	stmt := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s", Quote(e.Table), Quote(schema.FieldID), b.bind(id))
	var one int
	if err := q.QueryRowContext(ctx, stmt, b.args...).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return &apierror.NotFoundError{Entity: e.Name, ID: id}
		}
		return err
	}
	return nil
}

func (m *Mapper) findOne(ctx context.Context, q querier, e *entity.Compiled, id string) (Record, error) {
	cols := exposed(e)
	b := &builder{d: m.dialect}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", selectList("", cols), Quote(e.Table), Quote(schema.FieldID), b.bind(id))
	rows, err := q.QueryContext(ctx, stmt, b.args...)
	if err != nil {
		return nil, err
	}
	recs, err := m.scan(rows, cols, false)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &apierror.NotFoundError{Entity: e.Name, ID: id}
	}
	return recs[0].rec, nil
}

// scope restricts a list to the rows related to one parent.
type scope func(b *builder) string

func (m *Mapper) findMany(ctx context.Context, q querier, e *entity.Compiled, lq validation.ListQuery, sc scope) ([]Record, int, error) {
	b := &builder{d: m.dialect}
	var conds []string
	if sc != nil {
		conds = append(conds, sc(b))
	}
	for _, f := range lq.Filters {
		conds = append(conds, b.filter(f))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	count := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", Quote(e.Table), where)
	if err := q.QueryRowContext(ctx, count, b.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	cols := exposed(e)
	stmt := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s", selectList("", cols), Quote(e.Table), where, orderBy("", lq.Sort))
	if lq.PerPage > 0 {
		stmt += fmt.Sprintf(" LIMIT %s OFFSET %s", b.bind(lq.PerPage), b.bind(lq.Offset()))
	}
	rows, err := q.QueryContext(ctx, stmt, b.args...)
	if err != nil {
		return nil, 0, err
	}
	scanned, err := m.scan(rows, cols, false)
	if err != nil {
		return nil, 0, err
	}

	recs := make([]Record, len(scanned))
	for i, s := range scanned {
		recs[i] = s.rec
	}
	return recs, total, nil
}

// exposed returns the columns that appear in records.
func exposed(e *entity.Compiled) []entity.Column {
	var out []entity.Column
	for _, col := range e.Columns {
		if col.Exposed() {
			out = append(out, col)
		}
	}
	return out
}

func selectList(alias string, cols []entity.Column) string {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = qualify(alias, col.Name)
	}
	return strings.Join(names, ", ")
}

func qualify(alias, name string) string {
	if alias == "" {
		return Quote(name)
	}
	return alias + "." + Quote(name)
}

// orderBy sorts by the requested column, then by id so that pages are
// stable. Without a sort, records come in creation order.
func orderBy(alias string, s *validation.Sort) string {
	field, dir := schema.FieldCreatedAt, "ASC"
	if s != nil {
		field = s.Field
		if s.Desc {
			dir = "DESC"
		}
	}
	if field == schema.FieldID {
		return qualify(alias, field) + " " + dir
	}
	return qualify(alias, field) + " " + dir + ", " + qualify(alias, schema.FieldID) + " ASC"
}

type scanned struct {
	// owner is the leading owner column of many-to-many loads.
	owner string
	rec   Record
}

// scan reads rows into records. With withOwner the first column is the
// owning id of a join.
func (m *Mapper) scan(rows *sql.Rows, cols []entity.Column, withOwner bool) ([]scanned, error) {
	defer rows.Close()

	n := len(cols)
	if withOwner {
		n++
	}
	var out []scanned
	for rows.Next() {
		raw := make([]any, n)
		ptrs := make([]any, n)
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		var s scanned
		values := raw
		if withOwner {
			s.owner = asString(raw[0])
			values = raw[1:]
		}
		s.rec = make(Record, len(cols))
		for i, col := range cols {
			s.rec[col.Name] = decode(col, values[i])
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// builder accumulates bind arguments and numbers their placeholders.
type builder struct {
	d    Dialect
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

func (b *builder) list(ids []string) string {
	marks := make([]string, len(ids))
	for i, id := range ids {
		marks[i] = b.bind(id)
	}
	return strings.Join(marks, ", ")
}

func (b *builder) filter(f validation.Filter) string {
	col := Quote(f.Field)
	switch f.Op {
	case validation.OpNeq:
		return fmt.Sprintf("(%s <> %s OR %s IS NULL)", col, b.bind(f.Value), col)
	case validation.OpGt:
		return col + " > " + b.bind(f.Value)
	case validation.OpGte:
		return col + " >= " + b.bind(f.Value)
	case validation.OpLt:
		return col + " < " + b.bind(f.Value)
	case validation.OpLte:
		return col + " <= " + b.bind(f.Value)
	case validation.OpLike:
		pattern := fmt.Sprint(f.Value)
		if !strings.Contains(pattern, "%") {
			pattern = "%" + pattern + "%"
		}
		return col + " " + b.d.LikeOperator() + " " + b.bind(pattern)
	case validation.OpIn:
		marks := make([]string, len(f.Values))
		for i, v := range f.Values {
			marks[i] = b.bind(v)
		}
		return col + " IN (" + strings.Join(marks, ", ") + ")"
	}
	return col + " = " + b.bind(f.Value)
}
