package descriptor

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// BuiltinCatalog returns the curated model catalog compiled into the binary.
func BuiltinCatalog() []byte {
	return builtinCatalog
}

// catalogFile is the YAML layout of a model catalog.
type catalogFile struct {
	Models []Definition `yaml:"models"`
}

// LoadCatalog parses a YAML catalog and registers every model in it.
// Registration stops at the first invalid model.
func (r *Registry) LoadCatalog(data []byte) error {
	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("parsing catalog: %w", err)
	}

	for _, def := range cat.Models {
		if err := r.RegisterModel(def); err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}
	}

	r.mu.RLock()
	r.logger.Info("model catalog loaded", "models", len(cat.Models))
	r.mu.RUnlock()
	return nil
}
