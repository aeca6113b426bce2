package datum

import (
	"github.com/google/uuid"

	"github.com/leengari/joydb/internal/dberrors"
	"github.com/leengari/joydb/internal/dbschema"
)

// Database is the in-memory image: one Table per schema table, plus the
// schema itself. The File that loaded it does not own it -- the owning
// scope does (spec's ownership note), so Database has no back-reference.
//
// Grounded on engine.Database, re-keyed from SQL tables-with-indexes to the
// schema-driven table set this format implies.
type Database struct {
	Schema *dbschema.Schema
	Tables map[string]*Table
}

// NewDatabase builds an empty image for schema: one empty Table per
// schema table, no rows.
func NewDatabase(schema *dbschema.Schema) *Database {
	db := &Database{Schema: schema, Tables: make(map[string]*Table, len(schema.Tables))}
	for name, t := range schema.Tables {
		db.Tables[name] = newTable(t)
	}
	return db
}

// Table looks up a table by name.
func (db *Database) Table(name string) (*Table, bool) {
	t, ok := db.Tables[name]
	return t, ok
}

// Begin starts a new transaction against db.
func (db *Database) Begin() *Txn {
	return &Txn{db: db}
}

// Txn accumulates row mutations against one Database. Insert/Modify/Delete
// apply immediately (the engine is single-threaded cooperative, so there is
// no reason to stage them); Changes/Commit compute the pull-style change
// list lazily, once, so a transaction that mutates nothing allocates none.
type Txn struct {
	db      *Database
	comment string
	ops     []pendingOp
	changes []Change
	done    bool
}

// SetComment attaches a human comment, carried through to the serialized
// record's _comment field.
func (t *Txn) SetComment(c string) { t.comment = c }

// Comment returns the transaction's comment, if any.
func (t *Txn) Comment() string { return t.comment }

// Insert creates row id in table with the given columns; columns the
// caller omits take their type's default. Fails if the table is unknown to
// the schema or id already exists.
func (t *Txn) Insert(table string, id uuid.UUID, cols map[int]Datum) error {
	if t.done {
		return dberrors.New(dberrors.KindState, "transaction already committed")
	}
	tbl, ok := t.db.Tables[table]
	if !ok {
		return dberrors.New(dberrors.KindSyntax, "unknown table %q", table)
	}
	row, err := tbl.insert(id, cols)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, pendingOp{table: table, row: id, old: nil, new: row})
	t.changes = nil
	return nil
}

// Modify overwrites the given columns of an existing row. Fails if the
// table is unknown or id does not exist.
func (t *Txn) Modify(table string, id uuid.UUID, cols map[int]Datum) error {
	if t.done {
		return dberrors.New(dberrors.KindState, "transaction already committed")
	}
	tbl, ok := t.db.Tables[table]
	if !ok {
		return dberrors.New(dberrors.KindSyntax, "unknown table %q", table)
	}
	before, after, err := tbl.modify(id, cols)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, pendingOp{table: table, row: id, old: before, new: after})
	t.changes = nil
	return nil
}

// Delete removes row id from table. Fails if the table is unknown or id
// does not exist.
func (t *Txn) Delete(table string, id uuid.UUID) error {
	if t.done {
		return dberrors.New(dberrors.KindState, "transaction already committed")
	}
	tbl, ok := t.db.Tables[table]
	if !ok {
		return dberrors.New(dberrors.KindSyntax, "unknown table %q", table)
	}
	old, err := tbl.delete(id)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, pendingOp{table: table, row: id, old: old, new: nil})
	t.changes = nil
	return nil
}

// Changes computes the pull-style change list, one entry per mutated row,
// collapsing an insert-then-modify-then-delete of the same row within one
// transaction down to its net effect. Computed lazily and cached.
func (t *Txn) Changes() []Change {
	if t.changes != nil || len(t.ops) == 0 {
		if t.changes == nil {
			t.changes = []Change{}
		}
		return t.changes
	}

	type key struct {
		table string
		row   uuid.UUID
	}
	netOld := make(map[key]*Row)
	netNew := make(map[key]*Row)
	order := make([]key, 0, len(t.ops))

	for _, op := range t.ops {
		k := key{table: op.table, row: op.row}
		if _, seen := netOld[k]; !seen {
			netOld[k] = op.old
			order = append(order, k)
		}
		netNew[k] = op.new
	}

	changes := make([]Change, 0, len(order))
	for _, k := range order {
		old, new_ := netOld[k], netNew[k]
		if old == nil && new_ == nil {
			continue // inserted then deleted within the same txn: no net change
		}
		c := Change{Table: k.table, Schema: t.db.Tables[k.table].Schema, Row: k.row, Old: old, New: new_}
		if old != nil && new_ != nil {
			c.Changed = changedBitset(old, new_)
		}
		changes = append(changes, c)
	}
	t.changes = changes
	return t.changes
}

// Commit finalizes the transaction and returns its change list. The rows
// were already applied to db as each op ran; Commit's only remaining job is
// exposing Changes() to the serializer.
func (t *Txn) Commit() []Change {
	t.done = true
	return t.Changes()
}

// Abort undoes every op applied so far, in reverse order, restoring the
// database to its pre-transaction state. Ops apply immediately (this is a
// single-threaded cooperative engine, not a staged one), so callers that
// need all-or-nothing replay -- the transaction serializer chief among them
// -- call Abort on the first error instead of leaving a partial mutation
// in place.
func (t *Txn) Abort() {
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		table := t.db.Tables[op.table]
		if op.old == nil {
			delete(table.Rows, op.row)
		} else {
			table.Rows[op.row] = op.old
		}
	}
	t.ops = nil
	t.changes = nil
	t.done = true
}
