package weave

import (
	"context"
	"sync"
)

// RelationLoader fetches the target list for one relation field of an
// Entity. A successful result is cached in the Entity's relation slot, so
// the loader runs again for that field only after a failed load.
type RelationLoader func(ctx context.Context, e *Entity, field string) ([]*Entity, error)

// FieldInfo is the subset of schema.FieldDef the Entity runtime needs,
// duplicated here (rather than importing schema) to keep this package the
// leaf of the dependency graph schema and dsl both build on.
type FieldInfo struct {
	Kind      Kind
	Precision *int
	Scale     *int
	MaxLen    *int
}

// EntityType is the minimal entity-shape contract an Entity needs: which
// fields are plain columns (and their type constraints) and which are
// relations (and to what target).
type EntityType interface {
	EntityName() string
	Field(name string) (FieldInfo, bool)
	Relation(name string) (target string, ok bool)
}

type relationState int

const (
	relationEmpty relationState = iota
	relationInFlight
	relationResolved
)

type relationSlot struct {
	state  relationState
	ready  chan struct{}
	result []*Entity
	err    error
}

// Entity is one row in memory: a typed record with lazily-loaded relation
// slots. It is created by the evaluator on Get/Create, mutated only
// through Set (which revalidates), and never persists itself — all
// persistence happens through explicit adapter calls made by the caller.
type Entity struct {
	typ    EntityType
	data   map[string]any // raw storage values, unwrapped scalars
	loader RelationLoader

	mu        sync.Mutex
	relations map[string]*relationSlot
	dirty     bool
}

// NewEntity wraps a raw record (as read from an adapter) into an Entity of
// the given type, bound to loader for relation traversal.
func NewEntity(typ EntityType, data map[string]any, loader RelationLoader) *Entity {
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	return &Entity{typ: typ, data: cp, loader: loader, relations: make(map[string]*relationSlot)}
}

// Type returns the entity's declared type.
func (e *Entity) Type() EntityType { return e.typ }

// Dirty reports whether Set has been called since creation.
func (e *Entity) Dirty() bool { return e.dirty }

// Get reads a non-relation field, wrapping the current raw datum as a
// typed Value. A nil raw value (SQL NULL) returns the zero Value and ok=false.
func (e *Entity) Get(field string) (Value, bool, error) {
	fi, ok := e.typ.Field(field)
	if !ok {
		return Value{}, false, NewResolutionError("entity %s has no field %q", e.typ.EntityName(), field).WithEntity(e.typ.EntityName()).WithField(field)
	}
	raw, present := e.data[field]
	if !present || raw == nil {
		return Value{}, false, nil
	}
	v, err := WrapRaw(fi.Kind, raw, fi.Precision, fi.Scale, fi.MaxLen)
	if err != nil {
		return Value{}, false, err.(*WeaveError).WithEntity(e.typ.EntityName()).WithField(field)
	}
	return v, true, nil
}

// GetRelation resolves a relation field, invoking the loader exactly once
// and caching the in-flight fetch so concurrent readers share it. On
// failure the slot clears back to empty so a later call may retry.
func (e *Entity) GetRelation(ctx context.Context, field string) ([]*Entity, error) {
	if _, ok := e.typ.Relation(field); !ok {
		return nil, NewResolutionError("entity %s has no relation %q", e.typ.EntityName(), field).WithEntity(e.typ.EntityName()).WithField(field)
	}

	e.mu.Lock()
	slot, ok := e.relations[field]
	if !ok {
		slot = &relationSlot{}
		e.relations[field] = slot
	}
	switch slot.state {
	case relationResolved:
		e.mu.Unlock()
		return slot.result, nil
	case relationInFlight:
		ready := slot.ready
		e.mu.Unlock()
		<-ready
		if slot.err != nil {
			return nil, slot.err
		}
		return slot.result, nil
	default: // relationEmpty
		slot.state = relationInFlight
		slot.ready = make(chan struct{})
		e.mu.Unlock()

		result, err := e.loader(ctx, e, field)

		e.mu.Lock()
		if err != nil {
			slot.err = err
			slot.state = relationEmpty // clear so a later call can retry
		} else {
			slot.result = result
			slot.state = relationResolved
		}
		close(slot.ready)
		e.mu.Unlock()

		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// Set coerces value to field's declared kind (validating it) and stores
// the raw form, marking the entity dirty. Set only applies to plain
// fields, never relations.
func (e *Entity) Set(field string, value Value) error {
	fi, ok := e.typ.Field(field)
	if !ok {
		return NewResolutionError("entity %s has no field %q", e.typ.EntityName(), field).WithEntity(e.typ.EntityName()).WithField(field)
	}
	coerced, err := WrapRaw(fi.Kind, value.Raw(), fi.Precision, fi.Scale, fi.MaxLen)
	if err != nil {
		return err.(*WeaveError).WithEntity(e.typ.EntityName()).WithField(field)
	}
	e.mu.Lock()
	e.data[field] = coerced.Raw()
	e.dirty = true
	e.mu.Unlock()
	return nil
}

// Raw returns a shallow copy of the entity's raw storage map, suitable
// for passing to Adapter.Insert/Update.
func (e *Entity) Raw() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make(map[string]any, len(e.data))
	for k, v := range e.data {
		cp[k] = v
	}
	return cp
}

// ToTree serializes the entity to a plain mapping: every declared field to
// its raw scalar, every already-materialized relation recursively
// serialized, and unresolved relation slots omitted entirely. This rule
// (only already-materialized relations ever serialize) is what keeps
// cyclic entity graphs from expanding without bound.
func (e *Entity) ToTree() map[string]any {
	out := make(map[string]any)
	e.mu.Lock()
	for k, v := range e.data {
		out[k] = v
	}
	e.mu.Unlock()

	for field, slot := range func() map[string]*relationSlot {
		e.mu.Lock()
		defer e.mu.Unlock()
		cp := make(map[string]*relationSlot, len(e.relations))
		for k, v := range e.relations {
			cp[k] = v
		}
		return cp
	}() {
		if slot.state != relationResolved {
			continue
		}
		list := make([]map[string]any, 0, len(slot.result))
		for _, child := range slot.result {
			list = append(list, child.ToTree())
		}
		out[field] = list
	}
	return out
}
