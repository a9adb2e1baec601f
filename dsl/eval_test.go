package dsl_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weaveql/weave"
	"github.com/weaveql/weave/adapter/snapshot"
	"github.com/weaveql/weave/dsl"
	"github.com/weaveql/weave/schema"
)

func newEvaluator(t *testing.T, source string) (*dsl.Evaluator, *schema.Schema) {
	t.Helper()
	ad := snapshot.New(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, ad.Init(context.Background()))
	t.Cleanup(func() { _ = ad.Close(context.Background()) })

	sch, err := schema.Parse(context.Background(), source, ad)
	require.NoError(t, err)
	return dsl.NewEvaluator(sch, ad), sch
}

const authorPostSource = `
Author {
	number:id [primary]
	str[100]:name
	list[Post]:posts
}

Post (Author) {
	number:id [primary]
	str[200]:title
}
`

func TestEvaluator_CreateAndGetRoundTrip(t *testing.T) {
	ev, _ := newEvaluator(t, authorPostSource)

	createProc, err := dsl.ParseProcedure(`CreateAuthor(number:id, str:name):
	Create an Author with id of {id} and name of {name} as author
	return {author}
`)
	require.NoError(t, err)

	result, err := ev.Invoke(context.Background(), createProc, map[string]any{"id": "1", "name": "Ada"})
	require.NoError(t, err)
	tree := result.(map[string]any)
	require.Equal(t, "Ada", tree["name"])

	getProc, err := dsl.ParseProcedure(`GetAuthor(number:id):
	Get the Author by id of {id} as author
	return {author}
`)
	require.NoError(t, err)
	result, err = ev.Invoke(context.Background(), getProc, map[string]any{"id": "1"})
	require.NoError(t, err)
	tree = result.(map[string]any)
	require.Equal(t, "Ada", tree["name"])
}

func TestEvaluator_IfBranchGatesSet(t *testing.T) {
	ev, _ := newEvaluator(t, authorPostSource)

	proc, err := dsl.ParseProcedure(`Classify(number:score):
	Set {label} = "low"
	If {score} is greater than 50:
		Set {label} = "high"
	return {label}
`)
	require.NoError(t, err)

	result, err := ev.Invoke(context.Background(), proc, map[string]any{"score": "10"})
	require.NoError(t, err)
	require.Equal(t, "low", result)

	result, err = ev.Invoke(context.Background(), proc, map[string]any{"score": "90"})
	require.NoError(t, err)
	require.Equal(t, "high", result)
}

func TestEvaluator_MissingProcedureArgumentIsResolutionError(t *testing.T) {
	ev, _ := newEvaluator(t, authorPostSource)
	proc, err := dsl.ParseProcedure(`NeedsID(number:id):
	return {id}
`)
	require.NoError(t, err)

	_, err = ev.Invoke(context.Background(), proc, map[string]any{})
	require.Error(t, err)
	require.True(t, weave.IsResolutionError(err))
}

func TestEvaluator_UpdateThenGetReflectsChange(t *testing.T) {
	ev, _ := newEvaluator(t, authorPostSource)

	create, err := dsl.ParseProcedure(`CreateAuthor(number:id, str:name):
	Create an Author with id of {id} and name of {name} as author
	return {author}
`)
	require.NoError(t, err)
	_, err = ev.Invoke(context.Background(), create, map[string]any{"id": "1", "name": "Ada"})
	require.NoError(t, err)

	rename, err := dsl.ParseProcedure(`RenameAuthor(number:id, str:name):
	Get the Author by id of {id} as author
	Update author to set name = {name}
`)
	require.NoError(t, err)
	_, err = ev.Invoke(context.Background(), rename, map[string]any{"id": "1", "name": "Grace"})
	require.NoError(t, err)

	get, err := dsl.ParseProcedure(`GetAuthor(number:id):
	Get the Author by id of {id} as author
	return {author}
`)
	require.NoError(t, err)
	result, err := ev.Invoke(context.Background(), get, map[string]any{"id": "1"})
	require.NoError(t, err)
	require.Equal(t, "Grace", result.(map[string]any)["name"])
}
