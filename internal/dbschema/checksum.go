package dbschema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// checksumColumn, checksumTable and checksumDoc are the stable encoding used
// by Checksum: table names are sorted and columns keep their declaration
// order, so two schemas that differ only in map iteration order or JSON
// whitespace hash equal.
type checksumColumn struct {
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	Persistent bool       `json:"persistent"`
	Index      int        `json:"index"`
}

type checksumTable struct {
	Name    string           `json:"name"`
	Columns []checksumColumn `json:"columns"`
}

type checksumDoc struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Tables  []checksumTable `json:"tables"`
}

// Checksum computes a stable textual checksum over the schema's canonical
// form: tables sorted by name, columns kept in declaration order (already
// significant), cksum itself excluded. No library in the retrieval pack
// does canonical-JSON hashing, so this one concern stays on crypto/sha256 +
// encoding/json rather than a third-party canonicalizer.
func Checksum(s *Schema) string {
	doc := checksumDoc{Name: s.Name, Version: s.Version}
	for _, name := range s.canonicalTableNames() {
		t := s.Tables[name]
		ct := checksumTable{Name: name, Columns: make([]checksumColumn, len(t.Columns))}
		for i, c := range t.Columns {
			ct.Columns[i] = checksumColumn{Name: c.Name, Type: c.Type, Persistent: c.Persistent, Index: c.Index}
		}
		doc.Tables = append(doc.Tables, ct)
	}

	// json.Marshal is deterministic for this shape: struct fields encode in
	// declaration order and the only map we walked (s.Tables) was already
	// flattened into a sorted slice above.
	canonical, err := json.Marshal(doc)
	if err != nil {
		// doc is built entirely from already-validated fields; Marshal can
		// only fail on unsupported types, which checksumDoc does not have.
		panic("dbschema: canonical form failed to marshal: " + err.Error())
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
