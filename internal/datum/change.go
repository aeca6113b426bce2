package datum

import (
	"math/big"

	"github.com/google/uuid"

	"github.com/leengari/joydb/internal/dbschema"
)

// Change describes one mutated row for the transaction serializer to turn
// into a row op. Delete -> (Old, nil, nil). Insert -> (nil, New, nil).
// Modify -> (Old, New, Changed), Changed a bitset over column index. Schema
// is carried along so the serializer can resolve column index -> name
// without needing its own reference to the database.
//
// Grounded on internal/engine/observer.go's Observer/Event shape,
// specialized here from query-lifecycle events to row-change events.
type Change struct {
	Table   string
	Schema  *dbschema.Table
	Row     uuid.UUID
	Old     *Row
	New     *Row
	Changed *big.Int
}

// IsInsert, IsDelete and IsModify classify a Change by which of Old/New are
// present.
func (c Change) IsInsert() bool { return c.Old == nil && c.New != nil }
func (c Change) IsDelete() bool { return c.Old != nil && c.New == nil }
func (c Change) IsModify() bool { return c.Old != nil && c.New != nil }

type pendingOp struct {
	table string
	row   uuid.UUID
	old   *Row
	new   *Row
}

// changedBitset computes which column indices differ between old and new,
// used only for the modify case.
func changedBitset(old, new_ *Row) *big.Int {
	bits := new(big.Int)
	for idx, nv := range new_.Cols {
		if ov, ok := old.Cols[idx]; !ok || !Equal(ov, nv) {
			bits.SetBit(bits, idx, 1)
		}
	}
	return bits
}
