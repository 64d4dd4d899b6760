package cmd

import (
	"embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schemas/config.cue
var schemaFS embed.FS

// validateConfigFile checks a YAML configuration file against the
// #Config definition of the embedded schema.
func validateConfigFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return validateConfigBytes(path, content)
}

func validateConfigBytes(name string, content []byte) error {
	var data map[string]any
	if err := yaml.Unmarshal(content, &data); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if data == nil {
		data = map[string]any{}
	}

	schema, err := schemaFS.ReadFile("schemas/config.cue")
	if err != nil {
		return fmt.Errorf("failed to read config schema: %w", err)
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(schema, cue.Filename("config.cue"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}

	def := value.LookupPath(cue.ParsePath("#Config"))
	unified := def.Unify(ctx.Encode(data))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", name, err)
	}
	return nil
}
