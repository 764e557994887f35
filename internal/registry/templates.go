package registry

import (
	"embed"
	"fmt"
)

// Manifest templates ship inside the binary so deploys do not depend on a
// checkout being present.
//
//go:embed templates/*.yaml
var templatesFS embed.FS

// Template returns the raw manifest template for a module
func (r *Registry) Template(m *Module) (string, error) {
	data, err := templatesFS.ReadFile("templates/" + m.SpecFile)
	if err != nil {
		return "", fmt.Errorf("loading template for module %s: %w", m.Name, err)
	}
	return string(data), nil
}
