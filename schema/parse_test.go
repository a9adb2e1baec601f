package schema_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weaveql/weave"
	"github.com/weaveql/weave/adapter/snapshot"
	"github.com/weaveql/weave/schema"
)

func newAdapter(t *testing.T) *snapshot.Adapter {
	t.Helper()
	ad := snapshot.New(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, ad.Init(context.Background()))
	t.Cleanup(func() { _ = ad.Close(context.Background()) })
	return ad
}

const blogSource = `
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

func TestParse_EntitiesAndRelations(t *testing.T) {
	ad := newAdapter(t)
	sch, err := schema.Parse(context.Background(), blogSource, ad)
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"Author", "Post"}, sch.Order)

	author, ok := sch.Lookup("author")
	require.True(t, ok, "entity lookup is case-insensitive")
	require.Equal(t, "Author", author.Name)

	entry, ok := sch.Registry.Lookup("Post", "Author")
	require.True(t, ok, "relation is visible from both directions even though only Author declared it")
	require.Equal(t, "author_post", entry.Table)
}

func TestParse_OwnedEntityGetsOrphanTrigger(t *testing.T) {
	ad := newAdapter(t)
	sch, err := schema.Parse(context.Background(), blogSource, ad)
	require.NoError(t, err)

	require.Len(t, sch.Triggers, 1)
	trig := sch.Triggers[0]
	require.Equal(t, "Post", trig.Entity)
	require.Equal(t, "auto_gc_post_from_author_post", trig.Name)
}

func TestParse_DuplicateEntityNameIsSchemaError(t *testing.T) {
	ad := newAdapter(t)
	_, err := schema.Parse(context.Background(), `
Thing {
	number:id [primary]
}
Thing {
	number:id [primary]
}
`, ad)
	require.Error(t, err)
	require.True(t, weave.IsSchemaError(err))
}

func TestParse_UnknownRelationTargetIsSchemaError(t *testing.T) {
	ad := newAdapter(t)
	_, err := schema.Parse(context.Background(), `
Orphaned {
	number:id [primary]
	list[Ghost]:ghosts
}
`, ad)
	require.Error(t, err)
	require.True(t, weave.IsSchemaError(err))
}

func TestParse_MoreThanOnePrimaryIsSchemaError(t *testing.T) {
	ad := newAdapter(t)
	_, err := schema.Parse(context.Background(), `
Bad {
	number:id [primary]
	number:other [primary]
}
`, ad)
	require.Error(t, err)
	require.True(t, weave.IsSchemaError(err))
}
