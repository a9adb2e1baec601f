// Package schema ingests the schema portion of a weave source document:
// entity definitions, their fields, relations, and owner-based lifecycle
// annotations, synthesizing the relation registry and orphan-removal
// triggers a storage adapter needs.
package schema

import "github.com/weaveql/weave"

// FieldDef describes one declared column of an entity.
type FieldDef struct {
	Name      string
	Kind      weave.Kind
	Precision *int
	Scale     *int
	MaxLen    *int
	Primary   bool
	NotNull   bool
	Unique    bool
	Default   string // raw literal text as declared; Create does not apply it
	HasDefault bool
}

// RelationDef is one List[Target] declaration on an entity.
type RelationDef struct {
	Field  string // the declared field name, e.g. "posts"
	Target string // the target entity name, as written
}

// EntityDef is one schema type: its fields, its many-to-many relations,
// and (if non-empty) the owners that make it subject to orphan removal.
type EntityDef struct {
	Name       string
	Fields     map[string]*FieldDef
	FieldOrder []string
	Relations  []RelationDef
	Owners     []string
}

// IsOwned reports whether this entity has at least one owner (and is thus
// subject to orphan-removal GC rather than having an independent lifetime).
func (e *EntityDef) IsOwned() bool { return len(e.Owners) > 0 }

// PrimaryField returns the entity's sole primary-key field, if declared.
func (e *EntityDef) PrimaryField() (*FieldDef, bool) {
	for _, name := range e.FieldOrder {
		if f := e.Fields[name]; f.Primary {
			return f, true
		}
	}
	return nil, false
}

// RelationField reports whether name is a declared relation (not a plain
// column) on this entity, and if so its target entity name.
func (e *EntityDef) RelationField(name string) (string, bool) {
	for _, r := range e.Relations {
		if r.Field == name {
			return r.Target, true
		}
	}
	return "", false
}

// EntityName, Field, and Relation implement weave.EntityType, letting an
// *EntityDef be used directly wherever the Entity runtime needs a type
// descriptor.
func (e *EntityDef) EntityName() string { return e.Name }

// Field implements weave.EntityType.
func (e *EntityDef) Field(name string) (weave.FieldInfo, bool) {
	f, ok := e.Fields[name]
	if !ok {
		return weave.FieldInfo{}, false
	}
	return weave.FieldInfo{Kind: f.Kind, Precision: f.Precision, Scale: f.Scale, MaxLen: f.MaxLen}, true
}

// Relation implements weave.EntityType.
func (e *EntityDef) Relation(name string) (string, bool) {
	return e.RelationField(name)
}
