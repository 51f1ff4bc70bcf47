package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoadAssemblyFile loads and validates an assembly file using Koanf.
//
// Error cases:
//   - File not found or cannot be read
//   - Invalid YAML syntax
//   - Schema validation failure (unsupported version, duplicate names,
//     unknown lifestyles, bad pool bounds, malformed versions or constraints)
func LoadAssemblyFile(filepath string) (*Assembly, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(filepath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load assembly from %q: %w", filepath, err)
	}

	var assembly Assembly
	if err := k.UnmarshalWithConf("", &assembly, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse assembly from %q: %w", filepath, err)
	}

	if err := assembly.Validate(); err != nil {
		return nil, fmt.Errorf("assembly validation failed for %q: %w", filepath, err)
	}

	return &assembly, nil
}
