package datum

import (
	"github.com/google/uuid"

	"github.com/leengari/joydb/internal/dberrors"
	"github.com/leengari/joydb/internal/dbschema"
)

// Table is one table's current rows plus a back-pointer to its schema.
//
// Grounded on schema.Table's locking shape, simplified to the spec's
// single-threaded cooperative model: no sync.RWMutex.
type Table struct {
	Schema *dbschema.Table
	Rows   map[uuid.UUID]*Row
}

func newTable(schema *dbschema.Table) *Table {
	return &Table{Schema: schema, Rows: make(map[uuid.UUID]*Row)}
}

// Get returns the row with the given UUID, if present.
func (t *Table) Get(id uuid.UUID) (*Row, bool) {
	r, ok := t.Rows[id]
	return r, ok
}

// insert validates and fills in a complete row from the given partial
// column set, defaulting everything not explicitly given, then stores it.
// Fails with KindConflict if id already exists.
func (t *Table) insert(id uuid.UUID, given map[int]Datum) (*Row, error) {
	if _, exists := t.Rows[id]; exists {
		return nil, dberrors.New(dberrors.KindConflict, "insert: row %s already exists in table %s", id, t.Schema.Name)
	}
	cols := make(map[int]Datum, len(t.Schema.Columns))
	for _, c := range t.Schema.Columns {
		kind, err := KindForColumnType(c.Type)
		if err != nil {
			return nil, dberrors.Wrap(dberrors.KindState, err, "table %s", t.Schema.Name)
		}
		cols[c.Index] = Default(kind)
	}
	for idx, d := range given {
		col, err := t.columnByIndex(idx)
		if err != nil {
			return nil, err
		}
		if err := t.validate(col, d); err != nil {
			return nil, err
		}
		cols[idx] = d
	}
	row := NewRow(id, cols)
	t.Rows[id] = row
	return row, nil
}

// modify overwrites the given columns of an existing row in place (as a
// fresh Row value; the previous Row pointer is left untouched for the
// caller's before-image). Fails with KindConflict if id does not exist.
func (t *Table) modify(id uuid.UUID, given map[int]Datum) (before, after *Row, err error) {
	existing, ok := t.Rows[id]
	if !ok {
		return nil, nil, dberrors.New(dberrors.KindConflict, "modify: row %s does not exist in table %s", id, t.Schema.Name)
	}
	before = existing.Copy()
	after = existing.Copy()
	for idx, d := range given {
		col, cerr := t.columnByIndex(idx)
		if cerr != nil {
			return nil, nil, cerr
		}
		if verr := t.validate(col, d); verr != nil {
			return nil, nil, verr
		}
		after.Cols[idx] = d
	}
	t.Rows[id] = after
	return before, after, nil
}

// delete removes a row. Fails with KindConflict if id does not exist.
func (t *Table) delete(id uuid.UUID) (*Row, error) {
	existing, ok := t.Rows[id]
	if !ok {
		return nil, dberrors.New(dberrors.KindConflict, "delete: row %s does not exist in table %s", id, t.Schema.Name)
	}
	delete(t.Rows, id)
	return existing, nil
}

func (t *Table) columnByIndex(idx int) (dbschema.Column, error) {
	for _, c := range t.Schema.Columns {
		if c.Index == idx {
			return c, nil
		}
	}
	return dbschema.Column{}, dberrors.New(dberrors.KindSyntax, "table %s: no column at index %d", t.Schema.Name, idx)
}

func (t *Table) validate(col dbschema.Column, d Datum) error {
	kind, err := KindForColumnType(col.Type)
	if err != nil {
		return dberrors.Wrap(dberrors.KindState, err, "table %s", t.Schema.Name)
	}
	if d.Kind != kind {
		return dberrors.New(dberrors.KindConstraint, "table %s: column %s expects %s, got %s", t.Schema.Name, col.Name, kind, d.Kind)
	}
	return nil
}
