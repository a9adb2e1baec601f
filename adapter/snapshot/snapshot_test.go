package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weaveql/weave"
)

func newAdapter(t *testing.T) (*Adapter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.json")
	ad := New(path)
	require.NoError(t, ad.Init(context.Background()))
	return ad, path
}

func itemColumns() []weave.ColumnSpec {
	return []weave.ColumnSpec{
		{Name: "id", Kind: weave.KindNumber, Primary: true},
		{Name: "name", Kind: weave.KindString, NotNull: true},
		{Name: "email", Kind: weave.KindString, Unique: true},
	}
}

func TestAdapter_InsertFindOne(t *testing.T) {
	ad, _ := newAdapter(t)
	ctx := context.Background()
	require.NoError(t, ad.EnsureTable(ctx, "Item", itemColumns(), "id"))

	require.NoError(t, ad.Insert(ctx, "Item", weave.Record{"id": "1", "name": "widget", "email": "a@b.com"}))

	rec, found, err := ad.FindOne(ctx, "Item", weave.Criteria{"id": "1"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "widget", rec["name"])
}

func TestAdapter_Insert_NotNullViolation(t *testing.T) {
	ad, _ := newAdapter(t)
	ctx := context.Background()
	require.NoError(t, ad.EnsureTable(ctx, "Item", itemColumns(), "id"))

	err := ad.Insert(ctx, "Item", weave.Record{"id": "1"})
	require.Error(t, err)
	require.True(t, weave.IsValidationError(err))
}

func TestAdapter_Insert_UniqueViolation(t *testing.T) {
	ad, _ := newAdapter(t)
	ctx := context.Background()
	require.NoError(t, ad.EnsureTable(ctx, "Item", itemColumns(), "id"))
	require.NoError(t, ad.Insert(ctx, "Item", weave.Record{"id": "1", "name": "a", "email": "x@y.com"}))

	err := ad.Insert(ctx, "Item", weave.Record{"id": "2", "name": "b", "email": "x@y.com"})
	require.Error(t, err)
	require.True(t, weave.IsValidationError(err))
}

func TestAdapter_Update(t *testing.T) {
	ad, _ := newAdapter(t)
	ctx := context.Background()
	require.NoError(t, ad.EnsureTable(ctx, "Item", itemColumns(), "id"))
	require.NoError(t, ad.Insert(ctx, "Item", weave.Record{"id": "1", "name": "a", "email": "x@y.com"}))

	require.NoError(t, ad.Update(ctx, "Item", weave.Criteria{"id": "1"}, weave.Record{"name": "b"}))
	rec, _, _ := ad.FindOne(ctx, "Item", weave.Criteria{"id": "1"})
	require.Equal(t, "b", rec["name"])

	err := ad.Update(ctx, "Item", weave.Criteria{"id": "nope"}, weave.Record{"name": "c"})
	require.Error(t, err)
	require.True(t, weave.IsResolutionError(err))
}

func TestAdapter_TransactionCommitAndRollback(t *testing.T) {
	ad, path := newAdapter(t)
	ctx := context.Background()
	require.NoError(t, ad.EnsureTable(ctx, "Item", itemColumns(), "id"))

	require.NoError(t, ad.BeginTransaction(ctx))
	require.NoError(t, ad.Insert(ctx, "Item", weave.Record{"id": "1", "name": "a", "email": "x@y.com"}))
	_, found, _ := ad.FindOne(ctx, "Item", weave.Criteria{"id": "1"})
	require.True(t, found, "reads inside a transaction see its own writes")
	require.NoError(t, ad.Rollback(ctx))

	_, found, _ = ad.FindOne(ctx, "Item", weave.Criteria{"id": "1"})
	require.False(t, found, "rollback must discard the insert")

	require.NoError(t, ad.BeginTransaction(ctx))
	require.NoError(t, ad.Insert(ctx, "Item", weave.Record{"id": "2", "name": "b", "email": "z@y.com"}))
	require.NoError(t, ad.Commit(ctx))

	ad2 := New(path)
	require.NoError(t, ad2.Init(ctx))
	_, found, _ = ad2.FindOne(ctx, "Item", weave.Criteria{"id": "2"})
	require.True(t, found, "commit must flush to disk for the next Init to see")
}

func TestAdapter_BeginTransaction_RejectsNesting(t *testing.T) {
	ad, _ := newAdapter(t)
	ctx := context.Background()
	require.NoError(t, ad.BeginTransaction(ctx))
	err := ad.BeginTransaction(ctx)
	require.Error(t, err)
	require.True(t, weave.IsTransactionError(err))
}

func TestAdapter_EnsureOrphanTrigger_IsANoOp(t *testing.T) {
	ad, _ := newAdapter(t)
	err := ad.EnsureOrphanTrigger(context.Background(), "trig", "Item", "id", "owner_item", "item_id", nil)
	require.NoError(t, err)
}
