package dsl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weaveql/weave"
)

func TestParseCondition_NaturalLanguagePhrases(t *testing.T) {
	cases := map[string]string{
		"{age} is greater than or equal to {min}": ">=",
		"{age} is less than or equal to {max}":     "<=",
		"{age} is not equal to {other}":            "!=",
		"{age} is equal to {other}":                "==",
		"{age} is greater than {min}":               ">",
		"{age} is less than {max}":                   "<",
	}
	for text, wantOp := range cases {
		cond, err := ParseCondition(text)
		require.NoError(t, err, text)
		require.Equal(t, wantOp, cond.Op, text)
	}
}

func TestParseCondition_LongestPhraseWinsFirst(t *testing.T) {
	cond, err := ParseCondition("{a} is greater than or equal to {b}")
	require.NoError(t, err)
	require.Equal(t, ">=", cond.Op, "must not match the shorter 'is greater than' first")
}

func TestEvalCondition_NumericComparison(t *testing.T) {
	a, _ := weave.NewNumber("10", nil, nil)
	b, _ := weave.NewNumber("5", nil, nil)
	scope := Scope{"a": a, "b": b}

	cond, err := ParseCondition("{a} is greater than {b}")
	require.NoError(t, err)
	ok, err := EvalCondition(context.Background(), cond, scope)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvalCondition_BareBoolean(t *testing.T) {
	scope := Scope{"active": weave.NewBool(true)}
	cond, err := ParseCondition("{active}")
	require.NoError(t, err)
	require.Empty(t, cond.Op)

	ok, err := EvalCondition(context.Background(), cond, scope)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvalCondition_BareNonBooleanIsError(t *testing.T) {
	scope := Scope{"n": must(weave.NewNumber("1", nil, nil))}
	cond, err := ParseCondition("{n}")
	require.NoError(t, err)
	_, err = EvalCondition(context.Background(), cond, scope)
	require.Error(t, err)
	require.True(t, weave.IsResolutionError(err))
}

func must(v weave.Value, err error) weave.Value {
	if err != nil {
		panic(err)
	}
	return v
}
