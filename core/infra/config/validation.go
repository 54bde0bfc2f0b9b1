package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	configschema "github.com/weftworks/weft/core/infra/schema"
)

// validateConfigSchema checks YAML config bytes against one of the embedded
// JSON schemas before the typed unmarshal, so operators get schema errors
// instead of silent zero values.
func validateConfigSchema(name, schemaPath string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	schemaBytes, err := configSchemaFS.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("load %s schema: %w", name, err)
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse %s config: %w", name, err)
	}
	if err := configschema.ValidateSchema(name, schemaBytes, payload); err != nil {
		return fmt.Errorf("validate %s config: %w", name, err)
	}
	return nil
}
