package datum

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/leengari/joydb/internal/dberrors"
)

// Execute is the query/transact entry point: it applies each operation of
// trns to txn in order and returns one JSON result object per operation.
//
// trns is a JSON array whose first element is an arbitrary label (used as
// the transaction's comment) and whose remaining elements are operation
// objects: {"op": "insert"|"select"|"update"|"delete", "table": ..., ...}.
// This grammar is deliberately minimal -- full relational query planning is
// out of scope; see executeOp and the execute* functions below for exactly
// what each op accepts.
func Execute(txn *Txn, trns json.RawMessage) (json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(trns, &elems); err != nil {
		return nil, dberrors.Wrap(dberrors.KindSyntax, err, "transaction must be a JSON array")
	}
	if len(elems) == 0 {
		return nil, dberrors.New(dberrors.KindSyntax, "transaction array must have at least a label")
	}

	var comment string
	if err := json.Unmarshal(elems[0], &comment); err == nil {
		txn.SetComment(comment)
	}

	names := make(map[string]uuid.UUID)
	results := make([]json.RawMessage, 0, len(elems)-1)
	for _, raw := range elems[1:] {
		var op opEnvelope
		if err := json.Unmarshal(raw, &op); err != nil {
			txn.Abort()
			return nil, dberrors.Wrap(dberrors.KindSyntax, err, "malformed operation %s", raw)
		}
		result, err := executeOp(txn, op, names)
		if err != nil {
			txn.Abort()
			return nil, err
		}
		results = append(results, result)
	}
	return json.Marshal(results)
}

type opEnvelope struct {
	Op       string            `json:"op"`
	Table    string            `json:"table"`
	Row      json.RawMessage   `json:"row"`
	UUID     *string           `json:"uuid"`
	UUIDName *string           `json:"uuid-name"`
	Columns  []string          `json:"columns"`
	Where    [][3]json.RawMessage `json:"where"`
}

func executeOp(txn *Txn, op opEnvelope, names map[string]uuid.UUID) (json.RawMessage, error) {
	switch op.Op {
	case "insert":
		return executeInsert(txn, op, names)
	case "select":
		return executeSelect(txn, op)
	case "update":
		return executeUpdate(txn, op)
	case "delete":
		return executeDelete(txn, op)
	default:
		return nil, dberrors.New(dberrors.KindSyntax, "unrecognized op %q", op.Op)
	}
}

func executeInsert(txn *Txn, op opEnvelope, names map[string]uuid.UUID) (json.RawMessage, error) {
	table, ok := txn.db.Table(op.Table)
	if !ok {
		return nil, dberrors.New(dberrors.KindSyntax, "unknown table %q", op.Table)
	}

	id := uuid.New()
	if op.UUID != nil {
		parsed, err := uuid.Parse(*op.UUID)
		if err != nil {
			return nil, dberrors.Wrap(dberrors.KindSyntax, err, "invalid uuid %q", *op.UUID)
		}
		id = parsed
	}
	if op.UUIDName != nil {
		names[*op.UUIDName] = id
	}

	cols, err := parseRowColumns(table, op.Row, names)
	if err != nil {
		return nil, err
	}
	if err := txn.Insert(op.Table, id, cols); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"uuid": id.String()})
}

func executeUpdate(txn *Txn, op opEnvelope) (json.RawMessage, error) {
	table, ok := txn.db.Table(op.Table)
	if !ok {
		return nil, dberrors.New(dberrors.KindSyntax, "unknown table %q", op.Table)
	}
	matches, err := matchingRows(table, op.Where)
	if err != nil {
		return nil, err
	}
	cols, err := parseRowColumns(table, op.Row, nil)
	if err != nil {
		return nil, err
	}
	count := 0
	for _, row := range matches {
		if err := txn.Modify(op.Table, row.UUID, cols); err != nil {
			return nil, err
		}
		count++
	}
	return json.Marshal(map[string]int{"count": count})
}

func executeDelete(txn *Txn, op opEnvelope) (json.RawMessage, error) {
	table, ok := txn.db.Table(op.Table)
	if !ok {
		return nil, dberrors.New(dberrors.KindSyntax, "unknown table %q", op.Table)
	}
	matches, err := matchingRows(table, op.Where)
	if err != nil {
		return nil, err
	}
	count := 0
	for _, row := range matches {
		if err := txn.Delete(op.Table, row.UUID); err != nil {
			return nil, err
		}
		count++
	}
	return json.Marshal(map[string]int{"count": count})
}

func executeSelect(txn *Txn, op opEnvelope) (json.RawMessage, error) {
	table, ok := txn.db.Table(op.Table)
	if !ok {
		return nil, dberrors.New(dberrors.KindSyntax, "unknown table %q", op.Table)
	}
	matches, err := matchingRows(table, op.Where)
	if err != nil {
		return nil, err
	}

	columns := op.Columns
	if len(columns) == 0 {
		for _, c := range table.Schema.Columns {
			columns = append(columns, c.Name)
		}
	}

	rows := make([]map[string]json.RawMessage, 0, len(matches))
	for _, row := range matches {
		projected := map[string]json.RawMessage{"_uuid": mustMarshal(row.UUID.String())}
		for _, name := range columns {
			col, ok := table.Schema.Column(name)
			if !ok {
				return nil, dberrors.New(dberrors.KindSyntax, "table %s: unknown column %q", op.Table, name)
			}
			d, _ := row.Get(col.Index)
			raw, err := d.ToJSON()
			if err != nil {
				return nil, err
			}
			projected[name] = raw
		}
		rows = append(rows, projected)
	}

	return json.Marshal(map[string]interface{}{"rows": rows})
}

func mustMarshal(v interface{}) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

// matchingRows applies a conjunction of equality filters [col, "==", value]
// over table's rows. An empty filter list matches every row.
func matchingRows(table *Table, where [][3]json.RawMessage) ([]*Row, error) {
	type filter struct {
		index int
		want  Datum
	}
	filters := make([]filter, 0, len(where))
	for _, clause := range where {
		var colName, operator string
		if err := json.Unmarshal(clause[0], &colName); err != nil {
			return nil, dberrors.Wrap(dberrors.KindSyntax, err, "malformed where clause column")
		}
		if err := json.Unmarshal(clause[1], &operator); err != nil {
			return nil, dberrors.Wrap(dberrors.KindSyntax, err, "malformed where clause operator")
		}
		if operator != "==" {
			return nil, dberrors.New(dberrors.KindSyntax, "unsupported where operator %q", operator)
		}
		col, ok := table.Schema.Column(colName)
		if !ok {
			return nil, dberrors.New(dberrors.KindSyntax, "table %s: unknown column %q", table.Schema.Name, colName)
		}
		kind, err := KindForColumnType(col.Type)
		if err != nil {
			return nil, dberrors.Wrap(dberrors.KindState, err, "table %s", table.Schema.Name)
		}
		want, err := Parse(kind, clause[2])
		if err != nil {
			return nil, err
		}
		filters = append(filters, filter{index: col.Index, want: want})
	}

	var matches []*Row
	for _, row := range table.Rows {
		ok := true
		for _, f := range filters {
			got, present := row.Get(f.index)
			if !present || !Equal(got, f.want) {
				ok = false
				break
			}
		}
		if ok {
			matches = append(matches, row)
		}
	}
	return matches, nil
}

// parseRowColumns decodes a JSON object of column name -> value into the
// index-keyed map the table engine operates on, resolving ["named-uuid",
// "r1"]-tagged uuid values against names (nil disables resolution, e.g. for
// update row bodies that never reference a fresh insert's name).
func parseRowColumns(table *Table, row json.RawMessage, names map[string]uuid.UUID) (map[int]Datum, error) {
	if len(row) == 0 {
		return map[int]Datum{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(row, &fields); err != nil {
		return nil, dberrors.Wrap(dberrors.KindSyntax, err, "row must be a JSON object")
	}
	cols := make(map[int]Datum, len(fields))
	for name, raw := range fields {
		col, ok := table.Schema.Column(name)
		if !ok {
			return nil, dberrors.New(dberrors.KindSyntax, "table %s: unknown column %q", table.Schema.Name, name)
		}
		kind, err := KindForColumnType(col.Type)
		if err != nil {
			return nil, dberrors.Wrap(dberrors.KindState, err, "table %s", table.Schema.Name)
		}
		if kind == KindUUID && names != nil {
			if id, ok := resolveNamedUUID(raw, names); ok {
				cols[col.Index] = UUIDValue(id)
				continue
			}
		}
		d, err := Parse(kind, raw)
		if err != nil {
			return nil, err
		}
		cols[col.Index] = d
	}
	return cols, nil
}

func resolveNamedUUID(raw json.RawMessage, names map[string]uuid.UUID) (uuid.UUID, bool) {
	var pair [2]string
	if err := json.Unmarshal(raw, &pair); err != nil || pair[0] != "named-uuid" {
		return uuid.Nil, false
	}
	id, ok := names[pair[1]]
	return id, ok
}
