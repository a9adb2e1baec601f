package weave

import "time"

// Config consolidates every ambient setting the engine needs to run:
// which back end to open, how transactions behave, and how to log.
type Config struct {
	Database    DatabaseConfig    `toml:"database"`
	Snapshot    SnapshotConfig    `toml:"snapshot"`
	Schema      SchemaConfig      `toml:"schema"`
	Transaction TransactionConfig `toml:"transaction"`
	Logging     LoggingConfig     `toml:"logging"`
}

// DatabaseConfig configures the relational (Postgres) back end.
type DatabaseConfig struct {
	DSN             string        `toml:"dsn"`
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	Database        string        `toml:"database"`
	Username        string        `toml:"username"`
	Password        string        `toml:"password"`
	SSLMode         string        `toml:"ssl_mode"`
	MaxConns        int32         `toml:"max_conns"`
	MinConns        int32         `toml:"min_conns"`
	MaxConnLifetime time.Duration `toml:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `toml:"connect_timeout"`
}

// SnapshotConfig configures the JSON snapshot back end.
type SnapshotConfig struct {
	Path       string `toml:"path"`
	SyncWrites bool   `toml:"sync_writes"`
}

// SchemaConfig names the schema/procedure DSL source. Exactly one of
// SourcePath or SourceText must be set.
type SchemaConfig struct {
	SourcePath string `toml:"source_path"`
	SourceText string `toml:"-"`
}

// TransactionConfig governs the adapter transaction boundary every
// procedure invocation opens and closes.
type TransactionConfig struct {
	IsolationLevel string        `toml:"isolation_level"`
	Timeout        time.Duration `toml:"timeout"`
}

// LoggingConfig holds logger settings loaded from the config file. Neither
// the engine nor cmd/weave reads them; cmd/weave installs zap's production
// logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Backend selects which storage adapter a Config targets.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSnapshot Backend = "snapshot"
)

// Backend reports which back end this config is configured for, inferred
// from whichever of Database/Snapshot carries a non-zero value.
func (c *Config) Backend() Backend {
	if c.Snapshot.Path != "" {
		return BackendSnapshot
	}
	return BackendPostgres
}

// DefaultConfig returns an engine configuration with the strictest
// transaction isolation and console logging, suitable for local
// development against a Postgres instance on localhost.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			ConnectTimeout:  5 * time.Second,
		},
		Transaction: TransactionConfig{
			IsolationLevel: "serializable",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks internal consistency of the configuration. It is called
// before the engine opens any adapter, so a validation failure leaves no
// engine state behind — it surfaces as a SchemaError, the same bucket as
// other boot-time schema problems.
func (c *Config) Validate() error {
	if c.Schema.SourcePath == "" && c.Schema.SourceText == "" {
		return NewSchemaError("config: schema.source_path or an in-memory source text must be set")
	}
	if c.Schema.SourcePath != "" && c.Schema.SourceText != "" {
		return NewSchemaError("config: schema.source_path and in-memory source text are mutually exclusive")
	}
	if c.Snapshot.Path != "" && c.Database.DSN != "" {
		return NewSchemaError("config: snapshot.path and database.dsn are mutually exclusive")
	}
	if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
		return NewSchemaError("config: database.min_conns must be <= database.max_conns")
	}
	switch c.Transaction.IsolationLevel {
	case "", "serializable", "repeatable_read", "read_committed":
	default:
		return NewSchemaError("config: unknown transaction.isolation_level %q", c.Transaction.IsolationLevel)
	}
	return nil
}

// LoadConfigFile reads a TOML configuration file into a Config, applying
// DefaultConfig as the base so unset fields keep their sensible defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := decodeTOMLFile(path, cfg); err != nil {
		return nil, NewSchemaError("config: failed to load %s: %v", path, err).WithCause(err)
	}
	return cfg, nil
}
