package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weaveql/weave"
	"github.com/weaveql/weave/schema"
)

func TestParseArgPairs(t *testing.T) {
	out, err := parseArgPairs([]string{"name=Alice", "age=30"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "Alice", "age": "30"}, out)
}

func TestParseArgPairs_MalformedPairIsError(t *testing.T) {
	_, err := parseArgPairs([]string{"noequalssign"})
	require.Error(t, err)
}

func TestParseArgPairs_ValueContainingEqualsIsKeptWhole(t *testing.T) {
	out, err := parseArgPairs([]string{"filter=a=b"})
	require.NoError(t, err)
	require.Equal(t, "a=b", out["filter"])
}

func itemEntity() *schema.EntityDef {
	e := &schema.EntityDef{
		Name:   "Item",
		Fields: map[string]*schema.FieldDef{},
	}
	id := &schema.FieldDef{Name: "id", Kind: weave.KindNumber, Primary: true}
	name := &schema.FieldDef{Name: "name", Kind: weave.KindString, NotNull: true}
	e.Fields["id"] = id
	e.Fields["name"] = name
	e.FieldOrder = []string{"id", "name"}
	e.Relations = []schema.RelationDef{{Field: "children", Target: "Item"}}
	return e
}

func TestDescribeEntity_ListsFieldsRelationsAndOwners(t *testing.T) {
	e := itemEntity()
	e.Owners = []string{"Folder"}

	desc := describeEntity(e)
	fields := desc["fields"].([]map[string]any)
	require.Len(t, fields, 2)
	require.Equal(t, "id", fields[0]["name"])
	require.Equal(t, true, fields[0]["primary"])
	require.Equal(t, "name", fields[1]["name"])
	require.Equal(t, true, fields[1]["notNull"])

	relations := desc["relations"].([]map[string]any)
	require.Len(t, relations, 1)
	require.Equal(t, "children", relations[0]["field"])
	require.Equal(t, "Item", relations[0]["target"])

	require.Equal(t, []string{"Folder"}, desc["owners"])
}

func TestBuildJSONSchema_ResolvesWithoutError(t *testing.T) {
	e := itemEntity()

	sch, err := buildJSONSchema(e)
	require.NoError(t, err)
	require.NotNil(t, sch)
}

func TestFieldSchema_NumberWithScaleSetsMultipleOf(t *testing.T) {
	scale := 2
	f := &schema.FieldDef{Kind: weave.KindNumber, Scale: &scale}
	out := fieldSchema(f)
	require.Equal(t, "number", out["type"])
	require.InDelta(t, 0.01, out["multipleOf"].(float64), 1e-9)
}

func TestFieldSchema_StringWithMaxLenSetsMaxLength(t *testing.T) {
	maxLen := 10
	f := &schema.FieldDef{Kind: weave.KindString, MaxLen: &maxLen}
	out := fieldSchema(f)
	require.Equal(t, "string", out["type"])
	require.Equal(t, 10, out["maxLength"])
}

func TestFieldSchema_BoolAndDateTime(t *testing.T) {
	b := fieldSchema(&schema.FieldDef{Kind: weave.KindBool})
	require.Equal(t, "boolean", b["type"])

	dt := fieldSchema(&schema.FieldDef{Kind: weave.KindDateTime})
	require.Equal(t, "string", dt["type"])
	require.Equal(t, "date-time", dt["format"])
}

func TestPow10Inverse(t *testing.T) {
	require.InDelta(t, 1.0, pow10Inverse(0), 1e-9)
	require.InDelta(t, 0.1, pow10Inverse(1), 1e-9)
	require.InDelta(t, 0.001, pow10Inverse(3), 1e-9)
}
