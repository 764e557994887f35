package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jrgochan/labctl/internal/cluster"
	"github.com/jrgochan/labctl/internal/registry"
	"github.com/jrgochan/labctl/internal/state"
)

// UninstallRequest describes one uninstall invocation. Only the named
// modules are removed; dependencies are never pulled in implicitly.
// WithDependents additionally removes every module that depends on a
// named one, directly or transitively.
type UninstallRequest struct {
	Modules        []string
	All            bool
	WithDependents bool
	Force          bool
}

// Uninstall removes the named modules in reverse dependency order,
// deleting their cluster resources and then their deployment records.
// Modules without a record are reported as absent, which makes repeated
// uninstalls idempotent.
func (e *Engine) Uninstall(ctx context.Context, req UninstallRequest) (*Result, error) {
	names := req.Modules
	if req.All {
		names = e.registry.Names()
	}
	if len(names) == 0 {
		return nil, &ModuleError{Kind: KindUnknownModule, Err: errors.New("no modules requested")}
	}
	if req.WithDependents {
		names = e.resolver.WithDependents(names)
	}
	order, err := e.resolver.OrderForRemoval(names)
	if err != nil {
		return nil, &ModuleError{Kind: KindUnknownModule, Err: err}
	}

	op := uuid.NewString()
	planNames := make([]string, 0, len(order))
	for _, m := range order {
		planNames = append(planNames, m.Name)
	}
	res := newResult(op, planNames)
	log := e.logger.With("operation", op)
	log.Info("uninstall plan resolved", "modules", planNames)

	if merr := e.uninstallPreflight(ctx, order, req); merr != nil {
		res.failure = merr
		return res, merr
	}

	attempted := map[string]bool{}
	for _, m := range order {
		attempted[m.Name] = true
		outcome, merr := e.uninstallModule(ctx, m, op, req, log)
		res.record(outcome)
		if merr != nil {
			res.failure = merr
			break
		}
	}
	if res.failure != nil {
		for _, m := range order {
			if !attempted[m.Name] {
				res.record(e.skippedOutcome(ctx, m.Name))
			}
		}
		return res, res.failure
	}

	log.Info("uninstall complete", "modules", len(order))
	return res, nil
}

// uninstallPreflight refuses to remove a module that a deployed module
// outside the removal set still depends on.
func (e *Engine) uninstallPreflight(ctx context.Context, order []*registry.Module, req UninstallRequest) *ModuleError {
	if req.Force {
		return nil
	}
	removing := make(map[string]bool, len(order))
	for _, m := range order {
		removing[m.Name] = true
	}
	for _, m := range order {
		for _, dep := range e.resolver.Dependents(m.Name) {
			if removing[dep.Name] {
				continue
			}
			rec, err := e.store.Get(ctx, dep.Name)
			if err != nil {
				continue
			}
			if rec.Status == state.StatusDeployed || rec.Status.Locked() {
				return &ModuleError{Module: m.Name, Kind: KindConflict, Err: fmt.Errorf(
					"%s is still required by deployed module %s; remove it too, use --with-dependents, or --force",
					m.Name, dep.Name)}
			}
		}
	}
	return nil
}

func (e *Engine) uninstallModule(ctx context.Context, m *registry.Module, op string, req UninstallRequest, log *slog.Logger) (ModuleOutcome, *ModuleError) {
	rec, err := e.store.Get(ctx, m.Name)
	if errors.Is(err, state.ErrNotFound) {
		return ModuleOutcome{
			Module: m.Name,
			Action: ActionAbsent,
			Status: state.StatusNotDeployed,
			Detail: "no deployment record",
		}, nil
	}
	if err != nil {
		merr := &ModuleError{Module: m.Name, Kind: KindApplyError, Err: err}
		return failedOutcome(m.Name, nil, merr), merr
	}

	// deletion targets come from a defaults-only render: resource names
	// and kinds do not depend on user values
	rd, err := e.renderer.Render(m)
	if err != nil {
		merr := &ModuleError{Module: m.Name, Kind: KindRenderError, Err: err}
		return failedOutcome(m.Name, rec, merr), merr
	}

	if _, err := e.store.Acquire(ctx, m.Name, op, state.StatusRollingBack, req.Force); err != nil {
		kind := KindApplyError
		if errors.Is(err, state.ErrConflict) {
			kind = KindConflict
		}
		merr := &ModuleError{Module: m.Name, Kind: kind, Err: err}
		return failedOutcome(m.Name, rec, merr), merr
	}

	log.Info("removing module", "module", m.Name, "resources", len(rd.Objects))
	var firstErr error
	for j := len(rd.Objects) - 1; j >= 0; j-- {
		ref := cluster.RefFor(rd.Objects[j])
		if err := e.plane.Delete(ctx, ref); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("deleting %s: %w", ref, err)
		}
	}
	if firstErr != nil {
		failedRec, _ := e.store.Transition(ctx, m.Name, op, state.StatusFailed, func(r *state.Record) {
			r.LastError = firstErr.Error()
		})
		merr := &ModuleError{Module: m.Name, Kind: KindApplyError, Err: firstErr}
		return failedOutcome(m.Name, failedRec, merr), merr
	}

	if err := e.store.Delete(ctx, m.Name); err != nil {
		merr := &ModuleError{Module: m.Name, Kind: KindApplyError, Err: err}
		return failedOutcome(m.Name, rec, merr), merr
	}

	log.Info("module removed", "module", m.Name)
	return ModuleOutcome{
		Module: m.Name,
		Action: ActionRemoved,
		Status: state.StatusNotDeployed,
		Detail: fmt.Sprintf("%d resources removed", len(rd.Objects)),
	}, nil
}
