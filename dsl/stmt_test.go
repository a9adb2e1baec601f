package dsl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseParams_ScalarAndListAndDefault(t *testing.T) {
	params, err := ParseParams("number:id, str[50]:name, List[Tag]:tags, number[10.2]:price(0.00)")
	require.NoError(t, err)
	require.Len(t, params, 4)

	require.Equal(t, "id", params[0].Name)
	require.False(t, params[0].IsList)

	require.Equal(t, "name", params[1].Name)
	require.Equal(t, 50, *params[1].MaxLen)

	require.Equal(t, "tags", params[2].Name)
	require.True(t, params[2].IsList)
	require.Equal(t, "Tag", params[2].Target)

	require.Equal(t, "price", params[3].Name)
	require.True(t, params[3].HasDefault)
	require.Equal(t, "0.00", params[3].Default)
	require.Equal(t, 10, *params[3].Precision)
	require.Equal(t, 2, *params[3].Scale)
}

const procSource = `CreateOrder(number:id, number:amount):
	Create an Order with id of {id} and amount of {amount} as order
	If {amount} is greater than 100:
		Set {discount} = {amount} * 0.1
	For Each item in {order.items}:
		Set {total} = {total} + {item}
	return {order}
`

func TestParseProcedure_NestedIndentStructure(t *testing.T) {
	proc, err := ParseProcedure(procSource)
	require.NoError(t, err)
	require.Equal(t, "CreateOrder", proc.Name)
	require.Len(t, proc.Params, 2)
	require.Len(t, proc.Body, 4)

	require.Equal(t, StmtCreate, proc.Body[0].Kind)
	require.Equal(t, "Order", proc.Body[0].CreateEntity)
	require.Equal(t, "order", proc.Body[0].CreateAlias)
	require.Len(t, proc.Body[0].CreateAssigns, 2)

	ifStmt := proc.Body[1]
	require.Equal(t, StmtIf, ifStmt.Kind)
	require.Len(t, ifStmt.Body, 1)
	require.Equal(t, StmtSet, ifStmt.Body[0].Kind)

	forStmt := proc.Body[2]
	require.Equal(t, StmtForEach, forStmt.Kind)
	require.Equal(t, "item", forStmt.Item)
	require.Len(t, forStmt.Body, 1)

	require.Equal(t, StmtReturn, proc.Body[3].Kind)
}

func TestParseProcedure_MalformedHeaderErrors(t *testing.T) {
	_, err := ParseProcedure("NotAHeader\n\tSet {x} = 1\n")
	require.Error(t, err)
}

func TestParseAssignments_UpdateSplitsOnComma(t *testing.T) {
	assigns, err := parseAssignments("price = {p}, tags = {t}", ",")
	require.NoError(t, err)
	require.Len(t, assigns, 2)
	require.Equal(t, "price", assigns[0].Field)
	require.Equal(t, "tags", assigns[1].Field)
}
