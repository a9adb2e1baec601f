package weave

import "context"

// Criteria is an equality-match filter: every key/value pair must match a
// row's column for find/find_one, or identify the row for update.
// Values are raw (unwrapped) scalars, the same shape Value.Raw() returns.
type Criteria map[string]any

// Record is a raw row: column name to raw (unwrapped) scalar, exactly the
// shape an Entity's in-memory data takes.
type Record map[string]any

// OrphanCheckSpec is one NOT EXISTS clause of an orphan-removal trigger
// body, passed to EnsureOrphanTrigger. Kept as a plain structural type
// (rather than importing the schema package here) since schema depends on
// weave, not the other way around.
type OrphanCheckSpec struct {
	JunctionTable string
	Col           string
}

// Adapter is the storage back end contract (§4.3): two interchangeable
// implementations — a relational engine and a JSON snapshot store — share
// this interface. Implementers of a new back end must supply every
// method; EnsureOrphanTrigger may be a documented no-op.
type Adapter interface {
	// Init opens or creates the store.
	Init(ctx context.Context) error
	// Close flushes and finalizes the store.
	Close(ctx context.Context) error

	// EnsureTable idempotently creates a table for the given entity.
	// columns describes each declared field; primaryKey names the zero or
	// one primary-key column.
	EnsureTable(ctx context.Context, name string, columns []ColumnSpec, primaryKey string) error

	// EnsureRelationTable idempotently creates a junction table. table,
	// col1, col2 are already lex-ordered per schema.JunctionTable.
	EnsureRelationTable(ctx context.Context, table, col1, col2 string) error

	// EnsureOrphanTrigger synthesizes the AFTER DELETE trigger described
	// in §4.4. The snapshot back end treats this as a documented no-op.
	EnsureOrphanTrigger(ctx context.Context, name, entity, entityPK, triggerTable, triggerCol string, checks []OrphanCheckSpec) error

	// FindOne returns the first row matching criteria, or (nil, false).
	FindOne(ctx context.Context, entity string, criteria Criteria) (Record, bool, error)
	// Find returns every row matching criteria.
	Find(ctx context.Context, entity string, criteria Criteria) ([]Record, error)

	// Insert validates and persists a new row.
	Insert(ctx context.Context, entity string, record Record) error
	// Update updates at most one row matching criteria.
	Update(ctx context.Context, entity string, criteria Criteria, updates Record) error

	// FindRelation returns the raw junction rows linking source to target
	// through table, where sourceCol/targetCol name the two id columns.
	FindRelation(ctx context.Context, table, sourceCol, targetCol string, sourceID any) ([]Record, error)

	BeginTransaction(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ColumnSpec describes one physical column an adapter must create for an
// entity's field.
type ColumnSpec struct {
	Name     string
	Kind     Kind
	NotNull  bool
	Unique   bool
	Primary  bool
}
