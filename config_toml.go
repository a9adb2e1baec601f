package weave

import "github.com/BurntSushi/toml"

// decodeTOMLFile decodes a TOML file into dst, leaving fields absent from
// the file at whatever value dst already held (DefaultConfig's values).
func decodeTOMLFile(path string, dst *Config) error {
	_, err := toml.DecodeFile(path, dst)
	return err
}
