package dbschema

import (
	"testing"

	"gotest.tools/v3/assert"
)

const sampleSchemaJSON = `{
	"name": "demo",
	"version": "1.0.0",
	"tables": {
		"widgets": {
			"columns": [
				{"name": "label", "type": "string"},
				{"name": "count", "type": "integer", "persistent": false}
			]
		}
	}
}`

func TestFromJSONAssignsDeclarationOrderIndex(t *testing.T) {
	s, err := FromJSON([]byte(sampleSchemaJSON))
	assert.NilError(t, err)
	assert.Equal(t, s.Name, "demo")

	table, ok := s.Table("widgets")
	assert.Equal(t, ok, true)
	assert.Equal(t, len(table.Columns), 2)

	label, ok := table.Column("label")
	assert.Equal(t, ok, true)
	assert.Equal(t, label.Index, 0)
	assert.Equal(t, label.Persistent, true)

	count, ok := table.Column("count")
	assert.Equal(t, ok, true)
	assert.Equal(t, count.Index, 1)
	assert.Equal(t, count.Persistent, false)
}

func TestFromJSONRejectsExplicitUUIDColumn(t *testing.T) {
	_, err := FromJSON([]byte(`{"name":"d","tables":{"t":{"columns":[{"name":"_uuid","type":"uuid"}]}}}`))
	if err == nil {
		t.Fatal("expected an error declaring _uuid explicitly")
	}
}

func TestFromJSONRejectsUnknownType(t *testing.T) {
	_, err := FromJSON([]byte(`{"name":"d","tables":{"t":{"columns":[{"name":"x","type":"bignum"}]}}}`))
	if err == nil {
		t.Fatal("expected an error for an unrecognized column type")
	}
}

func TestToJSONRoundTripsThroughFromJSON(t *testing.T) {
	s, err := FromJSON([]byte(sampleSchemaJSON))
	assert.NilError(t, err)

	out, err := s.ToJSON()
	assert.NilError(t, err)

	s2, err := FromJSON(out)
	assert.NilError(t, err)

	if !Equal(s, s2) {
		t.Fatal("round-tripped schema is not structurally equal to the original")
	}
}

func TestEqualIsReflexiveSymmetricTransitive(t *testing.T) {
	a, err := FromJSON([]byte(sampleSchemaJSON))
	assert.NilError(t, err)
	b, err := FromJSON([]byte(sampleSchemaJSON))
	assert.NilError(t, err)
	c := a.Clone()

	if !Equal(a, a) {
		t.Fatal("Equal is not reflexive")
	}
	if Equal(a, b) != Equal(b, a) {
		t.Fatal("Equal is not symmetric")
	}
	if Equal(a, b) && Equal(b, c) && !Equal(a, c) {
		t.Fatal("Equal is not transitive")
	}
}

func TestEqualIgnoresCksum(t *testing.T) {
	a, err := FromJSON([]byte(sampleSchemaJSON))
	assert.NilError(t, err)
	b := a.Clone()
	b.Cksum = "different"

	if !Equal(a, b) {
		t.Fatal("Equal must ignore cksum per needs-conversion semantics")
	}
}

func TestChecksumIsDeterministicAndOrderIndependent(t *testing.T) {
	a, err := FromJSON([]byte(sampleSchemaJSON))
	assert.NilError(t, err)
	b, err := FromJSON([]byte(sampleSchemaJSON))
	assert.NilError(t, err)

	assert.Equal(t, Checksum(a), Checksum(b))
}

func TestChecksumChangesWithStructure(t *testing.T) {
	a, err := FromJSON([]byte(sampleSchemaJSON))
	assert.NilError(t, err)
	b := a.Clone()
	b.Tables["widgets"].Columns[0].Type = TypeReal

	if Checksum(a) == Checksum(b) {
		t.Fatal("expected checksum to change when a column's type changes")
	}
}
