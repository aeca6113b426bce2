package txn

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"github.com/leengari/joydb/internal/datum"
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
// SUITE 1: RECORD -> TXN
// =============================================================================

func TestRecordToTxnInsertsNewRow(t *testing.T) {
	db := datum.NewDatabase(testSchema(t))
	id := uuid.New()
	rec := json.RawMessage(`{"widgets":{"` + id.String() + `":{"label":"a","count":3}}}`)

	txn, err := RecordToTxn(db, rec, false)
	assert.NilError(t, err)
	txn.Commit()

	table, _ := db.Table("widgets")
	row, ok := table.Get(id)
	assert.Equal(t, ok, true)
	label, _ := row.Get(0)
	assert.Equal(t, label.Str, "a")
}

func TestRecordToTxnDeleteOfMissingRowIsSyntaxError(t *testing.T) {
	db := datum.NewDatabase(testSchema(t))
	id := uuid.New()
	rec := json.RawMessage(`{"widgets":{"` + id.String() + `":null}}`)

	_, err := RecordToTxn(db, rec, false)
	if err == nil {
		t.Fatal("expected deleting a missing row to be a syntax error")
	}
}

func TestRecordToTxnUnknownTableErrorsWhenNotConverting(t *testing.T) {
	db := datum.NewDatabase(testSchema(t))
	rec := json.RawMessage(`{"ghosts":{"` + uuid.New().String() + `":{}}}`)

	_, err := RecordToTxn(db, rec, false)
	if err == nil {
		t.Fatal("expected an unknown table to be a syntax error outside converting mode")
	}
}

func TestRecordToTxnUnknownTableSkippedWhenConverting(t *testing.T) {
	db := datum.NewDatabase(testSchema(t))
	rec := json.RawMessage(`{"ghosts":{"` + uuid.New().String() + `":{}}}`)

	txn, err := RecordToTxn(db, rec, true)
	assert.NilError(t, err)
	assert.Equal(t, len(txn.Commit()), 0)
}

func TestRecordToTxnUnknownColumnSkippedWhenConverting(t *testing.T) {
	db := datum.NewDatabase(testSchema(t))
	id := uuid.New()
	rec := json.RawMessage(`{"widgets":{"` + id.String() + `":{"label":"a","obsolete":true}}}`)

	txn, err := RecordToTxn(db, rec, true)
	assert.NilError(t, err)
	txn.Commit()

	table, _ := db.Table("widgets")
	row, _ := table.Get(id)
	label, _ := row.Get(0)
	assert.Equal(t, label.Str, "a")
}

// TestRecordToTxnPartialFailureLeavesNoMutation verifies that an error
// partway through a multi-row record unwinds every op already applied.
func TestRecordToTxnPartialFailureLeavesNoMutation(t *testing.T) {
	db := datum.NewDatabase(testSchema(t))
	good := uuid.New()
	rec := json.RawMessage(`{"widgets":{"` +
		good.String() + `":{"label":"ok","count":1},` +
		`"not-a-uuid":{"label":"bad"}}}`)

	_, err := RecordToTxn(db, rec, false)
	if err == nil {
		t.Fatal("expected an invalid uuid to fail the whole record")
	}

	table, _ := db.Table("widgets")
	_, exists := table.Get(good)
	if exists {
		t.Fatal("expected the partially-applied insert to have been unwound")
	}
}

// =============================================================================
// SUITE 2: TXN -> RECORD
// =============================================================================

func TestTxnToRecordNoOpProducesNoRecord(t *testing.T) {
	db := datum.NewDatabase(testSchema(t))
	txn := db.Begin()
	txn.Commit()

	_, ok := TxnToRecord(txn, "")
	assert.Equal(t, ok, false)
}

func TestTxnToRecordInsertOmitsDefaultsAndUUID(t *testing.T) {
	db := datum.NewDatabase(testSchema(t))
	txn := db.Begin()
	id := uuid.New()
	assert.NilError(t, txn.Insert("widgets", id, map[int]datum.Datum{0: datum.String("a")}))
	txn.Commit()

	rec, ok := TxnToRecord(txn, "")
	assert.Equal(t, ok, true)

	var doc map[string]json.RawMessage
	assert.NilError(t, json.Unmarshal(rec, &doc))
	if _, present := doc["_date"]; !present {
		t.Fatal("expected _date to be stamped")
	}

	var widgets map[string]map[string]json.RawMessage
	assert.NilError(t, json.Unmarshal(doc["widgets"], &widgets))
	row := widgets[id.String()]
	if _, present := row["count"]; present {
		t.Fatal("expected the default-valued count column to be omitted")
	}
	if _, present := row["_uuid"]; present {
		t.Fatal("expected _uuid to never be serialized as a column")
	}
}

func TestTxnToRecordRoundTripsThroughRecordToTxn(t *testing.T) {
	schema := testSchema(t)
	db := datum.NewDatabase(schema)
	txn := db.Begin()
	id := uuid.New()
	assert.NilError(t, txn.Insert("widgets", id, map[int]datum.Datum{0: datum.String("a"), 1: datum.Integer(7)}))
	rec, ok := TxnToRecord(txn, "seed")
	assert.Equal(t, ok, true)

	db2 := datum.NewDatabase(schema)
	replay, err := RecordToTxn(db2, rec, false)
	assert.NilError(t, err)
	replay.Commit()

	table, _ := db2.Table("widgets")
	row, exists := table.Get(id)
	assert.Equal(t, exists, true)
	label, _ := row.Get(0)
	assert.Equal(t, label.Str, "a")
	count, _ := row.Get(1)
	assert.Equal(t, count.Int, int64(7))
}

func TestTxnToRecordDeleteEmitsNull(t *testing.T) {
	schema := testSchema(t)
	db := datum.NewDatabase(schema)
	seed := db.Begin()
	id := uuid.New()
	assert.NilError(t, seed.Insert("widgets", id, map[int]datum.Datum{0: datum.String("a")}))
	seed.Commit()

	txn := db.Begin()
	assert.NilError(t, txn.Delete("widgets", id))
	rec, ok := TxnToRecord(txn, "")
	assert.Equal(t, ok, true)

	var doc map[string]json.RawMessage
	assert.NilError(t, json.Unmarshal(rec, &doc))
	var widgets map[string]json.RawMessage
	assert.NilError(t, json.Unmarshal(doc["widgets"], &widgets))
	assert.Equal(t, string(widgets[id.String()]), "null")
}
