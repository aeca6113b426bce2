package datum

import "github.com/google/uuid"

// Row is one table row: its identity plus one Datum per schema column,
// keyed by the column's declaration-order index rather than its name.
//
// Grounded on internal/domain/data/row.go's Copy()-before-mutate discipline.
type Row struct {
	UUID uuid.UUID
	Cols map[int]Datum
}

// NewRow builds a row with every given column set; callers (Table.insert)
// are responsible for filling in defaults for columns cols omits.
func NewRow(id uuid.UUID, cols map[int]Datum) *Row {
	return &Row{UUID: id, Cols: cols}
}

// Copy returns a deep copy so a caller holding the transaction's Old/New
// row pointers never observes a later mutation.
func (r *Row) Copy() *Row {
	cols := make(map[int]Datum, len(r.Cols))
	for idx, d := range r.Cols {
		cols[idx] = d
	}
	return &Row{UUID: r.UUID, Cols: cols}
}

// Get returns the datum at column index idx.
func (r *Row) Get(idx int) (Datum, bool) {
	d, ok := r.Cols[idx]
	return d, ok
}
