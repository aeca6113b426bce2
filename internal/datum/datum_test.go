package datum

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"github.com/leengari/joydb/internal/dbschema"
)

func testSchema(t *testing.T) *dbschema.Schema {
	t.Helper()
	s, err := dbschema.FromJSON([]byte(`{
		"name": "demo",
		"version": "1.0.0",
		"tables": {
			"widgets": {
				"columns": [
					{"name": "label", "type": "string"},
					{"name": "count", "type": "integer"}
				]
			}
		}
	}`))
	if err != nil {
		t.Fatalf("failed to parse test schema: %v", err)
	}
	return s
}

// =============================================================================
// SUITE 1: DATUM PARSE / TOJSON
// =============================================================================

func TestParseAndToJSONRoundTripAtoms(t *testing.T) {
	cases := []struct {
		kind Kind
		raw  string
	}{
		{KindInteger, `42`},
		{KindReal, `3.5`},
		{KindBoolean, `true`},
		{KindString, `"hello"`},
	}
	for _, c := range cases {
		d, err := Parse(c.kind, json.RawMessage(c.raw))
		assert.NilError(t, err)
		out, err := d.ToJSON()
		assert.NilError(t, err)
		assert.Equal(t, string(out), c.raw)
	}
}

func TestParseAndToJSONRoundTripUUID(t *testing.T) {
	id := uuid.New()
	raw, err := json.Marshal([2]interface{}{"uuid", id.String()})
	assert.NilError(t, err)

	d, err := Parse(KindUUID, raw)
	assert.NilError(t, err)
	assert.Equal(t, d.UUID, id)

	out, err := d.ToJSON()
	assert.NilError(t, err)
	assert.Equal(t, string(out), string(raw))
}

func TestDefaultIsDefault(t *testing.T) {
	assert.Equal(t, Default(KindInteger).IsDefault(), true)
	assert.Equal(t, Integer(1).IsDefault(), false)
	assert.Equal(t, Default(KindString).IsDefault(), true)
	assert.Equal(t, String("x").IsDefault(), false)
}

// =============================================================================
// SUITE 2: TXN INSERT / MODIFY / DELETE
// =============================================================================

func TestInsertFillsOmittedColumnsWithDefaults(t *testing.T) {
	db := NewDatabase(testSchema(t))
	txn := db.Begin()
	id := uuid.New()

	assert.NilError(t, txn.Insert("widgets", id, map[int]Datum{0: String("widget-a")}))

	table, _ := db.Table("widgets")
	row, ok := table.Get(id)
	assert.Equal(t, ok, true)
	label, _ := row.Get(0)
	assert.Equal(t, label.Str, "widget-a")
	count, _ := row.Get(1)
	assert.Equal(t, count.IsDefault(), true)
}

func TestInsertOverExistingUUIDIsConflict(t *testing.T) {
	db := NewDatabase(testSchema(t))
	txn := db.Begin()
	id := uuid.New()

	assert.NilError(t, txn.Insert("widgets", id, map[int]Datum{0: String("a")}))
	err := txn.Insert("widgets", id, map[int]Datum{0: String("b")})
	if err == nil {
		t.Fatal("expected inserting over an existing uuid to fail")
	}
}

func TestDeleteMissingRowIsConflict(t *testing.T) {
	db := NewDatabase(testSchema(t))
	txn := db.Begin()
	err := txn.Delete("widgets", uuid.New())
	if err == nil {
		t.Fatal("expected deleting a missing row to fail")
	}
}

func TestModifyOverwritesOnlyGivenColumns(t *testing.T) {
	db := NewDatabase(testSchema(t))
	txn := db.Begin()
	id := uuid.New()
	assert.NilError(t, txn.Insert("widgets", id, map[int]Datum{0: String("a"), 1: Integer(1)}))

	assert.NilError(t, txn.Modify("widgets", id, map[int]Datum{1: Integer(9)}))

	table, _ := db.Table("widgets")
	row, _ := table.Get(id)
	label, _ := row.Get(0)
	assert.Equal(t, label.Str, "a")
	count, _ := row.Get(1)
	assert.Equal(t, count.Int, int64(9))
}

func TestColumnTypeMismatchIsConstraintError(t *testing.T) {
	db := NewDatabase(testSchema(t))
	txn := db.Begin()
	err := txn.Insert("widgets", uuid.New(), map[int]Datum{0: Integer(1)})
	if err == nil {
		t.Fatal("expected a constraint error for a string column given an integer")
	}
}

// =============================================================================
// SUITE 3: CHANGES (PULL-STYLE ITERATOR)
// =============================================================================

func TestChangesEmptyForNoOpTransaction(t *testing.T) {
	db := NewDatabase(testSchema(t))
	txn := db.Begin()
	assert.Equal(t, len(txn.Commit()), 0)
}

func TestChangesReportsInsertAndModify(t *testing.T) {
	db := NewDatabase(testSchema(t))

	seed := db.Begin()
	existing := uuid.New()
	assert.NilError(t, seed.Insert("widgets", existing, map[int]Datum{0: String("seed")}))
	seed.Commit()

	txn := db.Begin()
	inserted := uuid.New()
	assert.NilError(t, txn.Insert("widgets", inserted, map[int]Datum{0: String("new")}))
	assert.NilError(t, txn.Modify("widgets", existing, map[int]Datum{1: Integer(5)}))

	changes := txn.Commit()
	assert.Equal(t, len(changes), 2)

	var sawInsert, sawModify bool
	for _, c := range changes {
		switch {
		case c.Row == inserted:
			sawInsert = c.IsInsert()
		case c.Row == existing:
			sawModify = c.IsModify()
			assert.Equal(t, c.Changed.Bit(1), uint(1))
		}
	}
	assert.Equal(t, sawInsert, true)
	assert.Equal(t, sawModify, true)
}

func TestChangesCollapsesInsertThenDeleteToNoOp(t *testing.T) {
	db := NewDatabase(testSchema(t))
	txn := db.Begin()
	id := uuid.New()
	assert.NilError(t, txn.Insert("widgets", id, map[int]Datum{0: String("transient")}))
	assert.NilError(t, txn.Delete("widgets", id))

	assert.Equal(t, len(txn.Commit()), 0)
}

// =============================================================================
// SUITE 4: EXECUTE (JSON OP GRAMMAR)
// =============================================================================

func TestExecuteInsertThenSelect(t *testing.T) {
	db := NewDatabase(testSchema(t))
	txn := db.Begin()

	_, err := Execute(txn, json.RawMessage(`["n",{"op":"insert","table":"widgets","row":{"label":"a","count":1}}]`))
	assert.NilError(t, err)
	txn.Commit()

	query := db.Begin()
	out, err := Execute(query, json.RawMessage(`["n",{"op":"select","table":"widgets","columns":["label","count"]}]`))
	assert.NilError(t, err)

	var results []map[string]interface{}
	assert.NilError(t, json.Unmarshal(out, &results))
	assert.Equal(t, len(results), 1)
	rows := results[0]["rows"].([]interface{})
	assert.Equal(t, len(rows), 1)
	row := rows[0].(map[string]interface{})
	assert.Equal(t, row["label"], "a")
}

func TestExecuteUUIDNameResolvesAcrossOps(t *testing.T) {
	schema, err := dbschema.FromJSON([]byte(`{
		"name": "graph",
		"tables": {
			"nodes": {"columns": [{"name": "name", "type": "string"}]},
			"edges": {"columns": [{"name": "to", "type": "uuid"}]}
		}
	}`))
	assert.NilError(t, err)
	db := NewDatabase(schema)
	txn := db.Begin()

	trns := `["n",
		{"op":"insert","table":"nodes","row":{"name":"target"},"uuid-name":"n1"},
		{"op":"insert","table":"edges","row":{"to":["named-uuid","n1"]}}
	]`
	_, err = Execute(txn, json.RawMessage(trns))
	assert.NilError(t, err)

	edges, _ := db.Table("edges")
	assert.Equal(t, len(edges.Rows), 1)
	nodes, _ := db.Table("nodes")
	assert.Equal(t, len(nodes.Rows), 1)

	var nodeID uuid.UUID
	for id := range nodes.Rows {
		nodeID = id
	}
	for _, row := range edges.Rows {
		to, _ := row.Get(0)
		assert.Equal(t, to.UUID, nodeID)
	}
}
