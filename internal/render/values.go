package render

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadValuesFile reads a YAML values file. An empty path yields nil values.
// Unknown keys are carried through untouched so older CLIs accept newer
// values files.
func LoadValuesFile(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading values file: %w", err)
	}
	var vals map[string]any
	if err := yaml.Unmarshal(data, &vals); err != nil {
		return nil, fmt.Errorf("parsing values file %s: %w", path, err)
	}
	return vals, nil
}

// ModuleOverrides extracts the modules.<name> subtree from a values file,
// or nil when absent
func ModuleOverrides(vals map[string]any, module string) map[string]any {
	mods, ok := vals["modules"].(map[string]any)
	if !ok {
		return nil
	}
	m, _ := mods[module].(map[string]any)
	return m
}

// deepMerge merges overlay into base without mutating either: nested maps
// merge recursively, anything else in overlay replaces the base value
func deepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				out[k] = deepMerge(bm, om)
				continue
			}
		}
		out[k] = v
	}
	return out
}
