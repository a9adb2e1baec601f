// Package snapshot implements weave.Adapter against a single JSON
// document on disk: a lightweight back end for tests, demos, and
// environments without a database.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/weaveql/weave"
)

// fieldEcho mirrors the subset of a FieldDef the snapshot back end needs
// to re-validate rows after a restart, without importing schema (which
// depends on weave, not the other way around).
type fieldEcho struct {
	Kind    weave.Kind `json:"kind"`
	NotNull bool       `json:"not_null"`
	Unique  bool       `json:"unique"`
	Primary bool       `json:"primary"`
}

type document struct {
	Data    map[string][]weave.Record    `json:"data"`
	Schemas map[string][]fieldEcho       `json:"schemas"`
	cols    map[string][]string          // entity -> column order, not persisted
}

// Adapter is the snapshot weave.Adapter implementation: one in-memory
// document, flushed to dbPath on Close and on every successful Commit.
// Transactions are implemented by deep-copying the document to a shadow
// on Begin and restoring it on Rollback.
type Adapter struct {
	dbPath string

	mu   sync.Mutex
	doc  document
	txn  *document // non-nil while a transaction is open
}

// New returns an unopened Adapter backed by the JSON document at dbPath.
func New(dbPath string) *Adapter {
	return &Adapter{dbPath: dbPath}
}

// Init loads the on-disk tree into memory, or starts with an empty
// document if dbPath does not yet exist.
func (a *Adapter) Init(ctx context.Context) error {
	a.doc = document{Data: make(map[string][]weave.Record), Schemas: make(map[string][]fieldEcho), cols: make(map[string][]string)}
	b, err := os.ReadFile(a.dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			zap.S().Infow("snapshot adapter starting fresh", "path", a.dbPath)
			return nil
		}
		return weave.NewStorageError("read snapshot %s: %v", a.dbPath, err).WithCause(err)
	}
	var onDisk document
	if err := json.Unmarshal(b, &onDisk); err != nil {
		return weave.NewStorageError("parse snapshot %s: %v", a.dbPath, err).WithCause(err)
	}
	if onDisk.Data != nil {
		a.doc.Data = onDisk.Data
	}
	if onDisk.Schemas != nil {
		a.doc.Schemas = onDisk.Schemas
	}
	zap.S().Infow("snapshot adapter loaded", "path", a.dbPath, "entities", len(a.doc.Data))
	return nil
}

// Close flushes the current document to disk.
func (a *Adapter) Close(ctx context.Context) error {
	return a.flush()
}

func (a *Adapter) flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, err := json.MarshalIndent(a.doc, "", "  ")
	if err != nil {
		return weave.NewStorageError("marshal snapshot: %v", err).WithCause(err)
	}
	if err := os.WriteFile(a.dbPath, b, 0o644); err != nil {
		return weave.NewStorageError("write snapshot %s: %v", a.dbPath, err).WithCause(err)
	}
	return nil
}

// active returns the document transactional writes and reads should use:
// the shadow copy if a transaction is open, else the live document.
func (a *Adapter) active() *document {
	if a.txn != nil {
		return a.txn
	}
	return &a.doc
}

// EnsureTable registers (or re-registers, idempotently) an entity's
// column order and field-def echo, and its row list if not yet present.
func (a *Adapter) EnsureTable(ctx context.Context, name string, columns []weave.ColumnSpec, primaryKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.active()
	var echoes []fieldEcho
	var colNames []string
	for _, c := range columns {
		echoes = append(echoes, fieldEcho{Kind: c.Kind, NotNull: c.NotNull, Unique: c.Unique, Primary: c.Primary})
		colNames = append(colNames, c.Name)
	}
	d.Schemas[name] = echoes
	d.cols[name] = colNames
	if _, ok := d.Data[name]; !ok {
		d.Data[name] = []weave.Record{}
	}
	return nil
}

// EnsureRelationTable registers a junction "table" as its own row list,
// named identically to table, with two plain columns and a create_time.
func (a *Adapter) EnsureRelationTable(ctx context.Context, table, col1, col2 string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.active()
	if _, ok := d.Data[table]; !ok {
		d.Data[table] = []weave.Record{}
	}
	d.cols[table] = []string{col1, col2, "create_time"}
	return nil
}

// EnsureOrphanTrigger is a documented no-op: orphan GC is not available
// on the snapshot back end, since it has no database-level trigger
// mechanism to hook into junction-row deletion.
func (a *Adapter) EnsureOrphanTrigger(ctx context.Context, name, entity, entityPK, triggerTable, triggerCol string, checks []weave.OrphanCheckSpec) error {
	zap.S().Warnw("orphan GC unavailable on snapshot back end", "entity", entity, "trigger", name)
	return nil
}

func matches(rec weave.Record, criteria weave.Criteria) bool {
	for k, v := range criteria {
		if fmt.Sprint(rec[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// FindOne returns the first row matching criteria.
func (a *Adapter) FindOne(ctx context.Context, entity string, criteria weave.Criteria) (weave.Record, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range a.active().Data[entity] {
		if matches(rec, criteria) {
			return cloneRecord(rec), true, nil
		}
	}
	return nil, false, nil
}

// Find returns every row matching criteria.
func (a *Adapter) Find(ctx context.Context, entity string, criteria weave.Criteria) ([]weave.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []weave.Record
	for _, rec := range a.active().Data[entity] {
		if matches(rec, criteria) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func cloneRecord(rec weave.Record) weave.Record {
	cp := make(weave.Record, len(rec))
	for k, v := range rec {
		cp[k] = v
	}
	return cp
}

// Insert validates declared not-null/unique/type-tag constraints itself
// (the snapshot back end has no underlying store to delegate to) and
// appends the row.
func (a *Adapter) Insert(ctx context.Context, entity string, record weave.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.active()
	echoes, ok := d.Schemas[entity]
	if !ok {
		return weave.NewSchemaError("unknown entity %q", entity)
	}
	cols := d.cols[entity]
	for i, echo := range echoes {
		if i >= len(cols) {
			break
		}
		col := cols[i]
		val, present := record[col]
		if echo.NotNull && (!present || val == nil) {
			return weave.NewValidationError("field %q of entity %q violates not null", col, entity).WithEntity(entity).WithField(col)
		}
		if present && val != nil {
			if _, err := weave.WrapRaw(echo.Kind, val, nil, nil, nil); err != nil {
				return weave.NewValidationError("field %q of entity %q has wrong type for %v", col, entity, echo.Kind).WithEntity(entity).WithField(col)
			}
		}
		if echo.Unique && present && val != nil {
			for _, existing := range d.Data[entity] {
				if fmt.Sprint(existing[col]) == fmt.Sprint(val) {
					return weave.NewValidationError("field %q of entity %q violates unique", col, entity).WithEntity(entity).WithField(col)
				}
			}
		}
	}
	d.Data[entity] = append(d.Data[entity], cloneRecord(record))
	return nil
}

// Update updates at most one row matching criteria.
func (a *Adapter) Update(ctx context.Context, entity string, criteria weave.Criteria, updates weave.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.active()
	rows := d.Data[entity]
	for i, rec := range rows {
		if matches(rec, criteria) {
			for k, v := range updates {
				rows[i][k] = v
			}
			return nil
		}
	}
	return weave.NewResolutionError("update %s: no row matches criteria", entity)
}

// FindRelation returns the raw junction rows linking sourceID to its
// targets through table.
func (a *Adapter) FindRelation(ctx context.Context, table, sourceCol, targetCol string, sourceID any) ([]weave.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []weave.Record
	for _, rec := range a.active().Data[table] {
		if fmt.Sprint(rec[sourceCol]) == fmt.Sprint(sourceID) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

// BeginTransaction deep-copies the live document into a shadow. Nested
// transactions are not supported and fail with a TransactionError.
func (a *Adapter) BeginTransaction(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.txn != nil {
		return weave.NewTransactionError("begin_transaction called with a transaction already open")
	}
	a.txn = deepCopy(&a.doc)
	return nil
}

// Commit replaces the live document with the shadow and flushes to disk.
func (a *Adapter) Commit(ctx context.Context) error {
	a.mu.Lock()
	if a.txn == nil {
		a.mu.Unlock()
		return weave.NewTransactionError("commit called without an open transaction")
	}
	a.doc = *a.txn
	a.txn = nil
	a.mu.Unlock()
	return a.flush()
}

// Rollback discards the shadow, restoring the pre-transaction state.
func (a *Adapter) Rollback(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.txn == nil {
		return weave.NewTransactionError("rollback called without an open transaction")
	}
	a.txn = nil
	return nil
}

func deepCopy(d *document) *document {
	cp := &document{
		Data:    make(map[string][]weave.Record, len(d.Data)),
		Schemas: make(map[string][]fieldEcho, len(d.Schemas)),
		cols:    make(map[string][]string, len(d.cols)),
	}
	for entity, rows := range d.Data {
		rowsCp := make([]weave.Record, len(rows))
		for i, r := range rows {
			rowsCp[i] = cloneRecord(r)
		}
		cp.Data[entity] = rowsCp
	}
	for entity, echoes := range d.Schemas {
		cp.Schemas[entity] = append([]fieldEcho(nil), echoes...)
	}
	for entity, cols := range d.cols {
		cp.cols[entity] = append([]string(nil), cols...)
	}
	return cp
}
