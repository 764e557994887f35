package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/jrgochan/labctl/internal/health"
	"github.com/jrgochan/labctl/internal/registry"
	"github.com/jrgochan/labctl/internal/state"
)

// ModuleStatus combines a module's registry entry, its deployment record,
// and optionally a live readiness probe.
type ModuleStatus struct {
	Module      string           `json:"module"`
	Description string           `json:"description,omitempty"`
	Record      *state.Record    `json:"record,omitempty"`
	Resources   []string         `json:"resources,omitempty"`
	Health      *health.Snapshot `json:"health,omitempty"`
}

// Status reports the state of the named modules, or of every registered
// module when names is empty. With probe set, modules that have a
// deployment record are also checked live against the cluster.
func (e *Engine) Status(ctx context.Context, names []string, probe bool) ([]ModuleStatus, error) {
	var modules []*registry.Module
	if len(names) == 0 {
		modules = e.registry.All()
	} else {
		seen := map[string]bool{}
		for _, n := range names {
			if seen[n] {
				continue
			}
			seen[n] = true
			m, ok := e.registry.Get(n)
			if !ok {
				return nil, &ModuleError{Module: n, Kind: KindUnknownModule, Err: fmt.Errorf("unknown module %q", n)}
			}
			modules = append(modules, m)
		}
		sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })
	}

	statuses := make([]ModuleStatus, 0, len(modules))
	for _, m := range modules {
		st := ModuleStatus{Module: m.Name, Description: m.Description}
		if rec, err := e.store.Get(ctx, m.Name); err == nil {
			st.Record = rec
		}
		if rd, err := e.renderer.Render(m); err == nil {
			refs := refsOf(rd)
			for _, ref := range refs {
				st.Resources = append(st.Resources, ref.String())
			}
			if probe && st.Record != nil {
				snap := e.health.Probe(ctx, refs)
				st.Health = &snap
			}
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
