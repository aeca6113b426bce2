// Package txn converts between a committed in-memory datum.Txn and the
// JSON transaction-record shape a log stores.
//
// Grounded on storage/manager/wal_manager.go's DatabaseReplayTarget
// (ReplayInsert/ReplayUpdate/ReplayDelete), generalized from WAL-replay
// targeting append-only row storage to full record-to-transaction decoding
// against a datum.Database image.
package txn

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leengari/joydb/internal/dberrors"
	"github.com/leengari/joydb/internal/datum"
	"github.com/leengari/joydb/internal/dbschema"
)

const (
	metaDate    = "_date"
	metaComment = "_comment"
)

// RecordToTxn decodes rec against db, applying one row op per table entry.
// converting relaxes unknown tables/columns from a hard syntax error to a
// silent skip; it never relaxes a bad datum value, per the open question
// this spec resolves explicitly: an unparseable value under the alternate
// schema aborts the transaction rather than being dropped.
//
// Any error aborts the whole transaction: on the way out, every op already
// applied to db is unwound via txn.Abort() so a partially-decoded record
// never leaves the image mutated.
func RecordToTxn(db *datum.Database, rec json.RawMessage, converting bool) (*datum.Txn, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(rec, &doc); err != nil {
		return nil, dberrors.Wrap(dberrors.KindSyntax, err, "transaction record is not a JSON object")
	}

	txn := db.Begin()

	for tableName, delta := range doc {
		if tableName == metaDate || tableName == metaComment {
			continue
		}

		table, ok := db.Table(tableName)
		if !ok {
			if converting {
				slog.Debug("txn: dropping unknown table while converting", "table", tableName)
				continue
			}
			txn.Abort()
			return nil, dberrors.New(dberrors.KindSyntax, "unknown table %q", tableName)
		}

		var rowOps map[string]json.RawMessage
		if err := json.Unmarshal(delta, &rowOps); err != nil {
			txn.Abort()
			return nil, dberrors.Wrap(dberrors.KindSyntax, err, "table %q delta is not a JSON object", tableName)
		}

		for uuidKey, op := range rowOps {
			id, err := uuid.Parse(uuidKey)
			if err != nil {
				txn.Abort()
				return nil, dberrors.Wrap(dberrors.KindSyntax, err, "table %q: invalid row uuid %q", tableName, uuidKey)
			}

			if isJSONNull(op) {
				if _, exists := table.Get(id); !exists {
					txn.Abort()
					return nil, dberrors.New(dberrors.KindSyntax, "table %q: delete of missing row %s", tableName, uuidKey)
				}
				if err := txn.Delete(tableName, id); err != nil {
					txn.Abort()
					return nil, err
				}
				continue
			}

			cols, err := decodeRowOp(table, op, converting)
			if err != nil {
				txn.Abort()
				return nil, err
			}

			if _, exists := table.Get(id); exists {
				if err := txn.Modify(tableName, id, cols); err != nil {
					txn.Abort()
					return nil, err
				}
			} else {
				if err := txn.Insert(tableName, id, cols); err != nil {
					txn.Abort()
					return nil, err
				}
			}
		}
	}

	return txn, nil
}

func isJSONNull(raw json.RawMessage) bool {
	var v interface{}
	return json.Unmarshal(raw, &v) == nil && v == nil
}

// decodeRowOp parses a row op's column values against table's schema.
// Unknown columns are dropped when converting, else a syntax error; a
// value that fails to parse under the target column's type is always a
// syntax error, converting or not.
func decodeRowOp(table *datum.Table, op json.RawMessage, converting bool) (map[int]datum.Datum, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(op, &fields); err != nil {
		return nil, dberrors.Wrap(dberrors.KindSyntax, err, "row op is neither null nor a JSON object")
	}

	cols := make(map[int]datum.Datum, len(fields))
	for name, raw := range fields {
		if name == "_uuid" {
			continue
		}
		col, ok := table.Schema.Column(name)
		if !ok {
			if converting {
				slog.Debug("txn: dropping unknown column while converting", "table", table.Schema.Name, "column", name)
				continue
			}
			return nil, dberrors.New(dberrors.KindSyntax, "table %q: unknown column %q", table.Schema.Name, name)
		}
		kind, err := datum.KindForColumnType(col.Type)
		if err != nil {
			return nil, dberrors.Wrap(dberrors.KindState, err, "table %q", table.Schema.Name)
		}
		d, err := datum.Parse(kind, raw)
		if err != nil {
			return nil, dberrors.Wrap(dberrors.KindSyntax, err, "table %q: column %q", table.Schema.Name, name)
		}
		cols[col.Index] = d
	}
	return cols, nil
}

// TxnToRecord builds the JSON transaction document for txn's accumulated
// changes. ok is false when there is nothing to record -- the idempotent
// no-op commit case -- and the caller must not append anything.
func TxnToRecord(txn *datum.Txn, comment string) (rec json.RawMessage, ok bool) {
	changes := txn.Changes()
	if len(changes) == 0 {
		return nil, false
	}

	byTable := make(map[string]map[string]json.RawMessage)
	for _, c := range changes {
		rowOp, err := changeToRowOp(c)
		if err != nil {
			// A change the engine itself produced failing to re-serialize
			// indicates a datum this package does not know how to encode;
			// that is a programming error, not a runtime condition to
			// recover from.
			panic("txn: change failed to serialize: " + err.Error())
		}
		if byTable[c.Table] == nil {
			byTable[c.Table] = make(map[string]json.RawMessage)
		}
		byTable[c.Table][c.Row.String()] = rowOp
	}

	doc := make(map[string]json.RawMessage, len(byTable)+2)
	for table, rows := range byTable {
		raw, _ := json.Marshal(rows)
		doc[table] = raw
	}

	if comment != "" {
		raw, _ := json.Marshal(comment)
		doc[metaComment] = raw
	}
	dateRaw, _ := json.Marshal(time.Now().UnixMilli())
	doc[metaDate] = dateRaw

	out, err := json.Marshal(doc)
	if err != nil {
		panic("txn: transaction document failed to marshal: " + err.Error())
	}
	return out, true
}

// changeToRowOp renders one Change as its row-op JSON: null for a delete,
// the full persistent-and-non-default column set for an insert, and just
// the changed columns for a modify.
func changeToRowOp(c datum.Change) (json.RawMessage, error) {
	if c.IsDelete() {
		return json.RawMessage("null"), nil
	}

	fields := make(map[string]json.RawMessage)
	if c.IsInsert() {
		for idx, d := range c.New.Cols {
			col, ok := columnByIndex(c.Schema, idx)
			if !ok || !col.Persistent || d.IsDefault() {
				continue
			}
			raw, err := d.ToJSON()
			if err != nil {
				return nil, err
			}
			fields[col.Name] = raw
		}
	} else { // modify
		for idx, d := range c.New.Cols {
			if c.Changed == nil || c.Changed.Bit(idx) == 0 {
				continue
			}
			col, ok := columnByIndex(c.Schema, idx)
			if !ok {
				continue
			}
			raw, err := d.ToJSON()
			if err != nil {
				return nil, err
			}
			fields[col.Name] = raw
		}
	}
	return json.Marshal(fields)
}

func columnByIndex(schema *dbschema.Table, idx int) (dbschema.Column, bool) {
	for _, c := range schema.Columns {
		if c.Index == idx {
			return c, true
		}
	}
	return dbschema.Column{}, false
}
