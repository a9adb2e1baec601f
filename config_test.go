package weave

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_ValidateRequiresExactlyOneSchemaSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Snapshot.Path = "db.json"
	require.True(t, IsSchemaError(cfg.Validate()), "neither source_path nor source text set")

	cfg.Schema.SourceText = "Item { number:id [primary] }"
	require.NoError(t, cfg.Validate())

	cfg.Schema.SourcePath = "schema.weave"
	require.True(t, IsSchemaError(cfg.Validate()), "both sources set is ambiguous")
}

func TestConfig_Backend(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, BackendPostgres, cfg.Backend())

	cfg.Snapshot.Path = "db.json"
	require.Equal(t, BackendSnapshot, cfg.Backend())
}

func TestLoadConfigFile_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[snapshot]
path = "db.json"

[schema]
source_path = "app.weave"

[logging]
level = "debug"
`), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "db.json", cfg.Snapshot.Path)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format, "unset fields keep DefaultConfig's value")
	require.Equal(t, 10, int(cfg.Database.MaxConns), "default-config values survive when the file doesn't mention them")
}
