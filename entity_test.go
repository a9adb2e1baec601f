package weave

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubType struct {
	name      string
	fields    map[string]FieldInfo
	relations map[string]string
}

func (s *stubType) EntityName() string { return s.name }
func (s *stubType) Field(name string) (FieldInfo, bool) {
	fi, ok := s.fields[name]
	return fi, ok
}
func (s *stubType) Relation(name string) (string, bool) {
	target, ok := s.relations[name]
	return target, ok
}

func itemType() *stubType {
	return &stubType{
		name: "Item",
		fields: map[string]FieldInfo{
			"id":    {Kind: KindNumber},
			"name":  {Kind: KindString},
			"tags":  {Kind: KindString},
		},
		relations: map[string]string{"children": "Item"},
	}
}

func TestEntity_GetAndSet(t *testing.T) {
	typ := itemType()
	e := NewEntity(typ, map[string]any{"id": "1", "name": "widget"}, nil)

	v, ok, err := e.Get("name")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "widget", v.Raw())

	require.False(t, e.Dirty())
	require.NoError(t, e.Set("name", must2(NewString("gadget", nil))))
	require.True(t, e.Dirty())

	v, ok, err = e.Get("name")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "gadget", v.Raw())

	_, _, err = e.Get("nope")
	require.Error(t, err)
	require.True(t, IsResolutionError(err))
}

func TestEntity_GetMissingFieldIsNilNotError(t *testing.T) {
	typ := itemType()
	e := NewEntity(typ, map[string]any{"id": "1"}, nil)

	v, ok, err := e.Get("name")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, Value{}, v)
}

func TestEntity_GetRelation_LoadsOnceAndCaches(t *testing.T) {
	var calls int32
	var loader RelationLoader = func(ctx context.Context, e *Entity, field string) ([]*Entity, error) {
		atomic.AddInt32(&calls, 1)
		return []*Entity{NewEntity(itemType(), map[string]any{"id": "2"}, nil)}, nil
	}

	typ := itemType()
	e := NewEntity(typ, map[string]any{"id": "1"}, loader)

	children, err := e.GetRelation(context.Background(), "children")
	require.NoError(t, err)
	require.Len(t, children, 1)

	children2, err := e.GetRelation(context.Background(), "children")
	require.NoError(t, err)
	require.Len(t, children2, 1)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "loader must run at most once")

	_, err = e.GetRelation(context.Background(), "nope")
	require.Error(t, err)
	require.True(t, IsResolutionError(err))
}

func TestEntity_GetRelation_FailureClearsSlotForRetry(t *testing.T) {
	attempt := 0
	var loader RelationLoader = func(ctx context.Context, e *Entity, field string) ([]*Entity, error) {
		attempt++
		if attempt == 1 {
			return nil, NewStorageError("boom")
		}
		return []*Entity{}, nil
	}

	e := NewEntity(itemType(), map[string]any{"id": "1"}, loader)

	_, err := e.GetRelation(context.Background(), "children")
	require.Error(t, err)

	children, err := e.GetRelation(context.Background(), "children")
	require.NoError(t, err)
	require.NotNil(t, children)
	require.Equal(t, 2, attempt)
}

func TestEntity_ToTree_OnlyIncludesMaterializedRelations(t *testing.T) {
	var loader RelationLoader = func(ctx context.Context, e *Entity, field string) ([]*Entity, error) {
		return []*Entity{NewEntity(itemType(), map[string]any{"id": "2", "name": "child"}, nil)}, nil
	}
	e := NewEntity(itemType(), map[string]any{"id": "1", "name": "parent"}, loader)

	tree := e.ToTree()
	require.Equal(t, "1", tree["id"])
	require.NotContains(t, tree, "children")

	_, err := e.GetRelation(context.Background(), "children")
	require.NoError(t, err)

	tree = e.ToTree()
	require.Contains(t, tree, "children")
	list, ok := tree["children"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	require.Equal(t, "2", list[0]["id"])
}

func must2(v Value, err error) Value {
	if err != nil {
		panic(err)
	}
	return v
}
