// Package datum implements the row/datum engine: typed columns, datum
// validation, and the minimal JSON transaction grammar the query/transact
// commands execute against an in-memory database image.
//
// Grounded on internal/engine/column.go (the tagged column-type idea,
// generalized from SQL's seven ad-hoc types to OVSDB's atomic type set) and
// internal/domain/data/row.go (the copy-on-write Row discipline).
package datum

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/leengari/joydb/internal/dberrors"
	"github.com/leengari/joydb/internal/dbschema"
)

// Kind tags which field of a Datum holds its value. Dispatch throughout the
// engine switches on Kind, never on Go type assertions.
type Kind int

const (
	KindInteger Kind = iota
	KindReal
	KindBoolean
	KindString
	KindUUID
	KindSet
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindUUID:
		return "uuid"
	case KindSet:
		return "set"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// KindForColumnType maps a schema column type to its engine Kind. The two
// enums are declared separately (dbschema must not depend on datum) but are
// kept in lockstep by this one function.
func KindForColumnType(t dbschema.ColumnType) (Kind, error) {
	switch t {
	case dbschema.TypeInteger:
		return KindInteger, nil
	case dbschema.TypeReal:
		return KindReal, nil
	case dbschema.TypeBoolean:
		return KindBoolean, nil
	case dbschema.TypeString:
		return KindString, nil
	case dbschema.TypeUUID:
		return KindUUID, nil
	case dbschema.TypeSet:
		return KindSet, nil
	case dbschema.TypeMap:
		return KindMap, nil
	default:
		return 0, fmt.Errorf("datum: unknown column type %q", t)
	}
}

// MapEntry is one key/value pair of a KindMap datum.
type MapEntry struct {
	Key   Datum
	Value Datum
}

// Datum is a tagged-variant column value: exactly one of the typed fields
// below is meaningful, selected by Kind.
type Datum struct {
	Kind Kind
	Int  int64
	Real float64
	Bool bool
	Str  string
	UUID uuid.UUID
	Set  []Datum
	Map  []MapEntry
}

func Integer(n int64) Datum  { return Datum{Kind: KindInteger, Int: n} }
func Real(f float64) Datum   { return Datum{Kind: KindReal, Real: f} }
func Boolean(b bool) Datum   { return Datum{Kind: KindBoolean, Bool: b} }
func String(s string) Datum  { return Datum{Kind: KindString, Str: s} }
func UUIDValue(u uuid.UUID) Datum { return Datum{Kind: KindUUID, UUID: u} }
func SetOf(items ...Datum) Datum  { return Datum{Kind: KindSet, Set: items} }
func MapOf(entries ...MapEntry) Datum { return Datum{Kind: KindMap, Map: entries} }

// Default returns the type's zero value, used to fill columns a row op
// omits and to decide which columns a snapshot insert must serialize.
func Default(kind Kind) Datum {
	switch kind {
	case KindInteger:
		return Integer(0)
	case KindReal:
		return Real(0)
	case KindBoolean:
		return Boolean(false)
	case KindString:
		return String("")
	case KindUUID:
		return UUIDValue(uuid.Nil)
	case KindSet:
		return Datum{Kind: KindSet, Set: nil}
	case KindMap:
		return Datum{Kind: KindMap, Map: nil}
	default:
		return Datum{Kind: kind}
	}
}

// IsDefault reports whether d equals its type's default value.
func (d Datum) IsDefault() bool {
	return Equal(d, Default(d.Kind))
}

// Equal reports whether a and b are the same tagged value.
func Equal(a, b Datum) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindInteger:
		return a.Int == b.Int
	case KindReal:
		return a.Real == b.Real
	case KindBoolean:
		return a.Bool == b.Bool
	case KindString:
		return a.Str == b.Str
	case KindUUID:
		return a.UUID == b.UUID
	case KindSet:
		if len(a.Set) != len(b.Set) {
			return false
		}
		for i := range a.Set {
			if !Equal(a.Set[i], b.Set[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for i := range a.Map {
			if !Equal(a.Map[i].Key, b.Map[i].Key) || !Equal(a.Map[i].Value, b.Map[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Wire shapes for the tagged, non-atomic kinds: ["uuid", "<36-char>"],
// ["set", [atom, ...]], ["map", [[key, value], ...]]. Plain integer, real,
// boolean and string values encode as their natural JSON literal.

// Parse decodes raw as a datum of the given kind, per the wire shapes above.
func Parse(kind Kind, raw json.RawMessage) (Datum, error) {
	switch kind {
	case KindInteger:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return Datum{}, dberrors.Wrap(dberrors.KindConstraint, err, "expected integer, got %s", raw)
		}
		return Integer(n), nil
	case KindReal:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Datum{}, dberrors.Wrap(dberrors.KindConstraint, err, "expected real, got %s", raw)
		}
		return Real(f), nil
	case KindBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Datum{}, dberrors.Wrap(dberrors.KindConstraint, err, "expected boolean, got %s", raw)
		}
		return Boolean(b), nil
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Datum{}, dberrors.Wrap(dberrors.KindConstraint, err, "expected string, got %s", raw)
		}
		return String(s), nil
	case KindUUID:
		id, err := parseUUIDTag(raw)
		if err != nil {
			return Datum{}, err
		}
		return UUIDValue(id), nil
	case KindSet:
		items, err := parseSetTag(raw)
		if err != nil {
			return Datum{}, err
		}
		return Datum{Kind: KindSet, Set: items}, nil
	case KindMap:
		entries, err := parseMapTag(raw)
		if err != nil {
			return Datum{}, err
		}
		return Datum{Kind: KindMap, Map: entries}, nil
	default:
		return Datum{}, dberrors.New(dberrors.KindConstraint, "unknown column kind %v", kind)
	}
}

func parseTagged(raw json.RawMessage) (tag string, payload json.RawMessage, ok bool) {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return "", nil, false
	}
	if err := json.Unmarshal(pair[0], &tag); err != nil {
		return "", nil, false
	}
	return tag, pair[1], true
}

func parseUUIDTag(raw json.RawMessage) (uuid.UUID, error) {
	tag, payload, ok := parseTagged(raw)
	if !ok || tag != "uuid" {
		return uuid.Nil, dberrors.New(dberrors.KindConstraint, `expected ["uuid", "<id>"], got %s`, raw)
	}
	var s string
	if err := json.Unmarshal(payload, &s); err != nil {
		return uuid.Nil, dberrors.Wrap(dberrors.KindConstraint, err, "malformed uuid atom %s", payload)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dberrors.Wrap(dberrors.KindConstraint, err, "invalid uuid %q", s)
	}
	return id, nil
}

func parseSetTag(raw json.RawMessage) ([]Datum, error) {
	tag, payload, ok := parseTagged(raw)
	if !ok || tag != "set" {
		return nil, dberrors.New(dberrors.KindConstraint, `expected ["set", [...]], got %s`, raw)
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(payload, &elems); err != nil {
		return nil, dberrors.Wrap(dberrors.KindConstraint, err, "malformed set payload %s", payload)
	}
	items := make([]Datum, 0, len(elems))
	for _, e := range elems {
		d, err := parseSetElement(e)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, nil
}

// parseSetElement accepts any atomic member kind by sniffing its shape;
// sets are homogeneous in practice but the engine does not enforce a
// member kind beyond what Parse itself accepts.
func parseSetElement(raw json.RawMessage) (Datum, error) {
	if tag, _, ok := parseTagged(raw); ok && tag == "uuid" {
		return Parse(KindUUID, raw)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return String(s), nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return Boolean(b), nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return Integer(n), nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return Real(f), nil
	}
	return Datum{}, dberrors.New(dberrors.KindConstraint, "unrecognized set member %s", raw)
}

func parseMapTag(raw json.RawMessage) ([]MapEntry, error) {
	tag, payload, ok := parseTagged(raw)
	if !ok || tag != "map" {
		return nil, dberrors.New(dberrors.KindConstraint, `expected ["map", [[k,v],...]], got %s`, raw)
	}
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(payload, &pairs); err != nil {
		return nil, dberrors.Wrap(dberrors.KindConstraint, err, "malformed map payload %s", payload)
	}
	entries := make([]MapEntry, 0, len(pairs))
	for _, p := range pairs {
		k, err := parseSetElement(p[0])
		if err != nil {
			return nil, err
		}
		v, err := parseSetElement(p[1])
		if err != nil {
			return nil, err
		}
		entries = append(entries, MapEntry{Key: k, Value: v})
	}
	return entries, nil
}

// ToJSON encodes d per the wire shapes Parse accepts.
func (d Datum) ToJSON() (json.RawMessage, error) {
	switch d.Kind {
	case KindInteger:
		return json.Marshal(d.Int)
	case KindReal:
		return json.Marshal(d.Real)
	case KindBoolean:
		return json.Marshal(d.Bool)
	case KindString:
		return json.Marshal(d.Str)
	case KindUUID:
		return json.Marshal([2]interface{}{"uuid", d.UUID.String()})
	case KindSet:
		items := make([]json.RawMessage, len(d.Set))
		for i, e := range d.Set {
			raw, err := e.ToJSON()
			if err != nil {
				return nil, err
			}
			items[i] = raw
		}
		return json.Marshal([2]interface{}{"set", items})
	case KindMap:
		pairs := make([][2]json.RawMessage, len(d.Map))
		for i, e := range d.Map {
			k, err := e.Key.ToJSON()
			if err != nil {
				return nil, err
			}
			v, err := e.Value.ToJSON()
			if err != nil {
				return nil, err
			}
			pairs[i] = [2]json.RawMessage{k, v}
		}
		return json.Marshal([2]interface{}{"map", pairs})
	default:
		return nil, dberrors.New(dberrors.KindConstraint, "unknown datum kind %v", d.Kind)
	}
}
