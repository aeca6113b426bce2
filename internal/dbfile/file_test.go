package dbfile

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"github.com/leengari/joydb/internal/datum"
	"github.com/leengari/joydb/internal/dbschema"
	"github.com/leengari/joydb/internal/jlog"
)

func testSchema(t *testing.T) *dbschema.Schema {
	t.Helper()
	s, err := dbschema.FromJSON([]byte(`{
		"name": "demo",
		"version": "1.0.0",
		"tables": {
			"widgets": {
				"columns": [
					{"name": "label", "type": "string"}
				]
			}
		}
	}`))
	assert.NilError(t, err)
	return s
}

func TestCreateThenOpenYieldsEmptyImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.db")
	schema := testSchema(t)
	assert.NilError(t, Create(path, schema))

	f, db, err := Open(path, nil, false, jlog.LockForce)
	assert.NilError(t, err)
	defer f.Close()

	assert.Equal(t, f.NTransactions(), int64(0))
	table, _ := db.Table("widgets")
	assert.Equal(t, len(table.Rows), 0)
}

func TestCommitThenReopenReplaysRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.db")
	schema := testSchema(t)
	assert.NilError(t, Create(path, schema))

	f, db, err := Open(path, nil, false, jlog.LockForce)
	assert.NilError(t, err)

	id := uuid.New()
	txn := db.Begin()
	assert.NilError(t, txn.Insert("widgets", id, map[int]datum.Datum{0: datum.String("a")}))
	txn.Commit()
	assert.NilError(t, f.Commit(txn, true))
	assert.NilError(t, f.Close())

	f2, db2, err := Open(path, nil, false, jlog.LockForce)
	assert.NilError(t, err)
	defer f2.Close()

	assert.Equal(t, f2.NTransactions(), int64(1))
	table, _ := db2.Table("widgets")
	row, ok := table.Get(id)
	assert.Equal(t, ok, true)
	label, _ := row.Get(0)
	assert.Equal(t, label.Str, "a")
}

func TestNoOpCommitAppendsNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.db")
	schema := testSchema(t)
	assert.NilError(t, Create(path, schema))

	f, db, err := Open(path, nil, false, jlog.LockForce)
	assert.NilError(t, err)

	txn := db.Begin()
	txn.Commit()
	assert.NilError(t, f.Commit(txn, true))
	assert.NilError(t, f.Close())

	f2, _, err := Open(path, nil, false, jlog.LockForce)
	assert.NilError(t, err)
	defer f2.Close()
	assert.Equal(t, f2.NTransactions(), int64(0))
}

func TestSaveCopyThenOpenYieldsEquivalentImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.db")
	schema := testSchema(t)
	db := datum.NewDatabase(schema)
	txn := db.Begin()
	id := uuid.New()
	assert.NilError(t, txn.Insert("widgets", id, map[int]datum.Datum{0: datum.String("copied")}))
	txn.Commit()

	assert.NilError(t, SaveCopy(path, "seed", db))

	f, db2, err := Open(path, nil, false, jlog.LockForce)
	assert.NilError(t, err)
	defer f.Close()

	table, _ := db2.Table("widgets")
	row, ok := table.Get(id)
	assert.Equal(t, ok, true)
	label, _ := row.Get(0)
	assert.Equal(t, label.Str, "copied")
}

func TestCompactCollapsesToTwoRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.db")
	schema := testSchema(t)
	assert.NilError(t, Create(path, schema))

	f, db, err := Open(path, nil, false, jlog.LockForce)
	assert.NilError(t, err)

	for i := 0; i < 5; i++ {
		txn := db.Begin()
		assert.NilError(t, txn.Insert("widgets", uuid.New(), map[int]datum.Datum{0: datum.String("row")}))
		txn.Commit()
		assert.NilError(t, f.Commit(txn, true))
	}

	assert.NilError(t, f.Compact())
	assert.Equal(t, f.NTransactions(), int64(1))
	assert.NilError(t, f.Close())

	f2, db2, err := Open(path, nil, false, jlog.LockForce)
	assert.NilError(t, err)
	defer f2.Close()
	assert.Equal(t, f2.NTransactions(), int64(1))
	table, _ := db2.Table("widgets")
	assert.Equal(t, len(table.Rows), 5)
}

func TestReadSchemaDoesNotRequireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.db")
	schema := testSchema(t)
	assert.NilError(t, Create(path, schema))

	f, _, err := Open(path, nil, false, jlog.LockForce)
	assert.NilError(t, err)
	defer f.Close()

	got, err := ReadSchema(path)
	assert.NilError(t, err)
	assert.Equal(t, got.Name, "demo")
}

func TestOpenWithAlternateSchemaConvertsAndDropsUnknownColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.db")
	schema := testSchema(t)
	assert.NilError(t, Create(path, schema))

	f, db, err := Open(path, nil, false, jlog.LockForce)
	assert.NilError(t, err)
	id := uuid.New()
	txn := db.Begin()
	assert.NilError(t, txn.Insert("widgets", id, map[int]datum.Datum{0: datum.String("a")}))
	txn.Commit()
	assert.NilError(t, f.Commit(txn, true))
	assert.NilError(t, f.Close())

	altSchema, err := dbschema.FromJSON([]byte(`{
		"name": "demo",
		"version": "2.0.0",
		"tables": {
			"widgets": {
				"columns": []
			}
		}
	}`))
	assert.NilError(t, err)

	f2, db2, err := Open(path, altSchema, false, jlog.LockForce)
	assert.NilError(t, err)
	defer f2.Close()

	table, _ := db2.Table("widgets")
	row, ok := table.Get(id)
	assert.Equal(t, ok, true)
	assert.Equal(t, len(row.Cols), 0)
}
