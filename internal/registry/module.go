// Package registry provides module definitions for the lab environment
package registry

import (
	"time"
)

// Module represents a deployable unit of the lab: a named set of cluster
// resources rendered from one manifest template.
type Module struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	SpecFile    string         `json:"spec_file"`
	DependsOn   []string       `json:"depends_on"`
	Defaults    map[string]any `json:"defaults,omitempty"`
	RequiresGPU bool           `json:"requires_gpu"`
	Timeout     time.Duration  `json:"timeout"`
}

// GetTimeout returns the readiness timeout for this module
func (m *Module) GetTimeout() time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}
	// Default timeout
	return 5 * time.Minute
}
