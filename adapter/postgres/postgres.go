// Package postgres implements weave.Adapter against a relational
// PostgreSQL back end via pgx/pgxpool.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/weaveql/weave"
)

// Config holds the connection parameters for the relational back end.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// IsolationLevel names the isolation every BeginTransaction call opens
	// under: "serializable" (the default when empty), "repeatable_read",
	// or "read_committed".
	IsolationLevel string
}

// txIsoLevel maps a weave.Config transaction.isolation_level string to its
// pgx.TxIsoLevel, defaulting to the strictest level when unset.
func txIsoLevel(level string) pgx.TxIsoLevel {
	switch level {
	case "repeatable_read":
		return pgx.RepeatableRead
	case "read_committed":
		return pgx.ReadCommitted
	default:
		return pgx.Serializable
	}
}

// ConnString builds the postgres:// DSN for Config, omitting a trailing
// empty sslmode query parameter.
func (c Config) ConnString() string {
	hostPort := fmt.Sprintf("%s:%d", c.Host, c.Port)
	var userInfo *url.Userinfo
	if c.Password != "" {
		userInfo = url.UserPassword(c.User, c.Password)
	} else {
		userInfo = url.User(c.User)
	}
	u := &url.URL{Scheme: "postgres", User: userInfo, Host: hostPort, Path: "/" + c.Database}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// pgxIface is the subset of pgxpool.Pool this adapter needs: plain query
// execution plus transaction start. Keeping it as an interface (rather
// than a concrete *pgxpool.Pool field) lets tests substitute a pgxmock
// pool without a live database.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// Adapter is the relational weave.Adapter implementation. A single
// Adapter holds at most one open transaction at a time; BeginTransaction
// on top of an already-open one is a TransactionError.
type Adapter struct {
	cfg  Config
	pool pgxIface
	tx   pgx.Tx
}

// New returns an unopened Adapter; call Init before use.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// NewWithPool returns an Adapter already bound to pool, skipping Init's
// pgxpool.New dial — used by tests to inject a pgxmock pool.
func NewWithPool(pool pgxIface) *Adapter {
	return &Adapter{pool: pool}
}

func quoteIdentifier(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// Init opens the connection pool; the configured isolation level is
// applied per-transaction in BeginTransaction, since pgx has no pool-wide
// isolation setting.
func (a *Adapter) Init(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, a.cfg.ConnString())
	if err != nil {
		return weave.NewStorageError("open connection pool: %v", err).WithCause(err)
	}
	a.pool = pool
	zap.S().Infow("postgres adapter initialized", "host", a.cfg.Host, "database", a.cfg.Database)
	return nil
}

// Close releases the connection pool.
func (a *Adapter) Close(ctx context.Context) error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

// conn returns the active transaction if one is open, else the pool
// itself — both implement the subset of pgx's querier interface this
// adapter needs.
func (a *Adapter) conn() interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
} {
	if a.tx != nil {
		return a.tx
	}
	return a.pool
}

func columnType(k weave.Kind) string {
	switch k {
	case weave.KindNumber, weave.KindDateTime:
		return "TEXT"
	case weave.KindString:
		return "TEXT"
	case weave.KindBool:
		return "SMALLINT"
	default:
		return "TEXT"
	}
}

// EnsureTable idempotently creates an entity's table: decimals and
// datetimes stored as text for exact fidelity, bools as 0/1, strings as
// text, with NOT NULL/UNIQUE/PRIMARY KEY applied per field.
func (a *Adapter) EnsureTable(ctx context.Context, name string, columns []weave.ColumnSpec, primaryKey string) error {
	var cols []string
	for _, c := range columns {
		col := fmt.Sprintf("%s %s", quoteIdentifier(c.Name), columnType(c.Kind))
		if c.NotNull {
			col += " NOT NULL"
		}
		if c.Unique {
			col += " UNIQUE"
		}
		cols = append(cols, col)
	}
	if primaryKey != "" {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", quoteIdentifier(primaryKey)))
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quoteIdentifier(name), strings.Join(cols, ",\n\t"))
	if _, err := a.conn().Exec(ctx, ddl); err != nil {
		return weave.NewStorageError("ensure_table %s: %v", name, err).WithCause(err)
	}
	return nil
}

// EnsureRelationTable idempotently creates a junction table with a
// composite primary key on both id columns, a create_time default of
// now(), foreign keys to both parent tables with ON DELETE CASCADE, and a
// secondary index on each id column. table/col1/col2 are already
// lex-ordered by the caller.
func (a *Adapter) EnsureRelationTable(ctx context.Context, table, col1, col2 string) error {
	parent1, parent2 := relationParents(table, col1, col2)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s TEXT NOT NULL REFERENCES %s ON DELETE CASCADE,
	%s TEXT NOT NULL REFERENCES %s ON DELETE CASCADE,
	create_time TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (%s, %s)
)`, quoteIdentifier(table),
		quoteIdentifier(col1), quoteIdentifier(parent1),
		quoteIdentifier(col2), quoteIdentifier(parent2),
		quoteIdentifier(col1), quoteIdentifier(col2))
	if _, err := a.conn().Exec(ctx, ddl); err != nil {
		return weave.NewStorageError("ensure_relation_table %s: %v", table, err).WithCause(err)
	}
	for _, col := range []string{col1, col2} {
		idx := fmt.Sprintf("%s_%s_idx", table, col)
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", quoteIdentifier(idx), quoteIdentifier(table), quoteIdentifier(col))
		if _, err := a.conn().Exec(ctx, stmt); err != nil {
			return weave.NewStorageError("create index %s: %v", idx, err).WithCause(err)
		}
	}
	return nil
}

// relationParents recovers the two parent table names from the junction
// columns "{e1}_{pk1}", "{e2}_{pk2}": each column's entity prefix is the
// parent table name (lower-cased per schema.JunctionTable).
func relationParents(table, col1, col2 string) (string, string) {
	return colEntityPrefix(col1), colEntityPrefix(col2)
}

func colEntityPrefix(col string) string {
	idx := strings.Index(col, "_")
	if idx < 0 {
		return col
	}
	return col[:idx]
}

// EnsureOrphanTrigger synthesizes the AFTER DELETE trigger described in
// §4.4: one per owner-junction, each with a NOT EXISTS clause over every
// owner-junction (including the one that fired it).
func (a *Adapter) EnsureOrphanTrigger(ctx context.Context, name, entity, entityPK, triggerTable, triggerCol string, checks []weave.OrphanCheckSpec) error {
	var existsClauses []string
	for _, c := range checks {
		existsClauses = append(existsClauses, fmt.Sprintf(
			"NOT EXISTS (SELECT 1 FROM %s WHERE %s = OLD.%s)",
			quoteIdentifier(c.JunctionTable), quoteIdentifier(c.Col), quoteIdentifier(triggerCol),
		))
	}
	fnName := quoteIdentifier(name + "_fn")
	triggerName := quoteIdentifier(name)

	fnDDL := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS TRIGGER AS $$
BEGIN
	IF %s THEN
		DELETE FROM %s WHERE %s = OLD.%s;
	END IF;
	RETURN OLD;
END;
$$ LANGUAGE plpgsql`, fnName, strings.Join(existsClauses, " AND "), quoteIdentifier(entity), quoteIdentifier(entityPK), quoteIdentifier(triggerCol))
	if _, err := a.conn().Exec(ctx, fnDDL); err != nil {
		return weave.NewStorageError("ensure_orphan_trigger function %s: %v", name, err).WithCause(err)
	}

	dropDDL := fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", triggerName, quoteIdentifier(triggerTable))
	if _, err := a.conn().Exec(ctx, dropDDL); err != nil {
		return weave.NewStorageError("ensure_orphan_trigger drop %s: %v", name, err).WithCause(err)
	}
	triggerDDL := fmt.Sprintf("CREATE TRIGGER %s AFTER DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s()", triggerName, quoteIdentifier(triggerTable), fnName)
	if _, err := a.conn().Exec(ctx, triggerDDL); err != nil {
		return weave.NewStorageError("ensure_orphan_trigger create %s: %v", name, err).WithCause(err)
	}
	return nil
}

func criteriaClause(criteria weave.Criteria, startIdx int) (string, []any) {
	var clauses []string
	var args []any
	i := startIdx
	for col, val := range criteria {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", quoteIdentifier(col), i))
		args = append(args, val)
		i++
	}
	if len(clauses) == 0 {
		return "TRUE", args
	}
	return strings.Join(clauses, " AND "), args
}

// FindOne returns the first row matching criteria.
func (a *Adapter) FindOne(ctx context.Context, entity string, criteria weave.Criteria) (weave.Record, bool, error) {
	cols, colNames, err := a.describeColumns(ctx, entity)
	if err != nil {
		return nil, false, err
	}
	where, args := criteriaClause(criteria, 1)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1", strings.Join(cols, ", "), quoteIdentifier(entity), where)
	row := a.conn().QueryRow(ctx, q, args...)
	vals := make([]any, len(colNames))
	ptrs := make([]any, len(colNames))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := row.Scan(ptrs...); err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, weave.NewStorageError("find_one %s: %v", entity, err).WithCause(err)
	}
	rec := make(weave.Record, len(colNames))
	for i, c := range colNames {
		rec[c] = vals[i]
	}
	return rec, true, nil
}

// Find returns every row matching criteria.
func (a *Adapter) Find(ctx context.Context, entity string, criteria weave.Criteria) ([]weave.Record, error) {
	cols, colNames, err := a.describeColumns(ctx, entity)
	if err != nil {
		return nil, err
	}
	where, args := criteriaClause(criteria, 1)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(cols, ", "), quoteIdentifier(entity), where)
	rows, err := a.conn().Query(ctx, q, args...)
	if err != nil {
		return nil, weave.NewStorageError("find %s: %v", entity, err).WithCause(err)
	}
	defer rows.Close()

	var out []weave.Record
	for rows.Next() {
		vals := make([]any, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, weave.NewStorageError("find %s: scan: %v", entity, err).WithCause(err)
		}
		rec := make(weave.Record, len(colNames))
		for i, c := range colNames {
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// describeColumns reads back the column names information_schema reports
// for entity, in ordinal order, so Find/FindOne need no separate schema
// cache of their own.
func (a *Adapter) describeColumns(ctx context.Context, entity string) ([]string, []string, error) {
	q := `SELECT column_name FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`
	rows, err := a.conn().Query(ctx, q, entity)
	if err != nil {
		return nil, nil, weave.NewStorageError("describe %s: %v", entity, err).WithCause(err)
	}
	defer rows.Close()
	var quoted, plain []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, nil, weave.NewStorageError("describe %s: scan: %v", entity, err).WithCause(err)
		}
		quoted = append(quoted, quoteIdentifier(name))
		plain = append(plain, name)
	}
	return quoted, plain, rows.Err()
}

// Insert validates and persists a new row; the store surfaces any
// not-null/unique/check violation as a driver error, wrapped here.
func (a *Adapter) Insert(ctx context.Context, entity string, record weave.Record) error {
	var cols, placeholders []string
	var args []any
	i := 1
	for col, val := range record {
		cols = append(cols, quoteIdentifier(col))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		args = append(args, val)
		i++
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdentifier(entity), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := a.conn().Exec(ctx, q, args...); err != nil {
		return weave.NewConstraintError("insert %s: %v", entity, err).WithCause(err)
	}
	return nil
}

// Update updates at most one row matching criteria.
func (a *Adapter) Update(ctx context.Context, entity string, criteria weave.Criteria, updates weave.Record) error {
	var sets []string
	var args []any
	i := 1
	for col, val := range updates {
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdentifier(col), i))
		args = append(args, val)
		i++
	}
	where, whereArgs := criteriaClause(criteria, i)
	args = append(args, whereArgs...)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s", quoteIdentifier(entity), strings.Join(sets, ", "), where)
	if _, err := a.conn().Exec(ctx, q, args...); err != nil {
		return weave.NewConstraintError("update %s: %v", entity, err).WithCause(err)
	}
	return nil
}

// FindRelation returns the raw junction rows linking sourceID to its
// targets through table.
func (a *Adapter) FindRelation(ctx context.Context, table, sourceCol, targetCol string, sourceID any) ([]weave.Record, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = $1", quoteIdentifier(sourceCol), quoteIdentifier(targetCol), quoteIdentifier(table), quoteIdentifier(sourceCol))
	rows, err := a.conn().Query(ctx, q, sourceID)
	if err != nil {
		return nil, weave.NewStorageError("find_relation %s: %v", table, err).WithCause(err)
	}
	defer rows.Close()
	var out []weave.Record
	for rows.Next() {
		var src, tgt any
		if err := rows.Scan(&src, &tgt); err != nil {
			return nil, weave.NewStorageError("find_relation %s: scan: %v", table, err).WithCause(err)
		}
		out = append(out, weave.Record{sourceCol: src, targetCol: tgt})
	}
	return out, rows.Err()
}

// BeginTransaction opens a transaction under the configured isolation
// level (Config.IsolationLevel, serializable by default). A second call
// before Commit/Rollback is a TransactionError: nested transactions are
// not supported.
func (a *Adapter) BeginTransaction(ctx context.Context) error {
	if a.tx != nil {
		return weave.NewTransactionError("begin_transaction called with a transaction already open")
	}
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: txIsoLevel(a.cfg.IsolationLevel)})
	if err != nil {
		return weave.NewStorageError("begin transaction: %v", err).WithCause(err)
	}
	a.tx = tx
	return nil
}

// Commit commits the open transaction.
func (a *Adapter) Commit(ctx context.Context) error {
	if a.tx == nil {
		return weave.NewTransactionError("commit called without an open transaction")
	}
	tx := a.tx
	a.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return weave.NewStorageError("commit: %v", err).WithCause(err)
	}
	return nil
}

// Rollback rolls back the open transaction.
func (a *Adapter) Rollback(ctx context.Context) error {
	if a.tx == nil {
		return weave.NewTransactionError("rollback called without an open transaction")
	}
	tx := a.tx
	a.tx = nil
	if err := tx.Rollback(ctx); err != nil {
		return weave.NewStorageError("rollback: %v", err).WithCause(err)
	}
	return nil
}
