// Package engine orchestrates module deployments against the cluster
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jrgochan/labctl/internal/cluster"
	"github.com/jrgochan/labctl/internal/health"
	"github.com/jrgochan/labctl/internal/plan"
	"github.com/jrgochan/labctl/internal/registry"
	"github.com/jrgochan/labctl/internal/render"
	"github.com/jrgochan/labctl/internal/state"
)

// Store is the slice of the state tracker the engine needs.
type Store interface {
	Get(ctx context.Context, module string) (*state.Record, error)
	List(ctx context.Context) ([]*state.Record, error)
	Acquire(ctx context.Context, module, operation string, to state.Status, force bool) (*state.Record, error)
	Transition(ctx context.Context, module, operation string, to state.Status, apply func(*state.Record)) (*state.Record, error)
	Delete(ctx context.Context, module string) error
}

// HealthChecker waits for and inspects resource readiness.
type HealthChecker interface {
	WaitReady(ctx context.Context, module string, refs []cluster.ResourceRef, timeout time.Duration) error
	Probe(ctx context.Context, refs []cluster.ResourceRef) health.Snapshot
}

// Params collects the engine's collaborators.
type Params struct {
	Registry  *registry.Registry
	Renderer  *render.Renderer
	Plane     cluster.ControlPlane
	Store     Store
	Health    HealthChecker
	Logger    *slog.Logger
	Namespace string
}

// Engine runs deploy and uninstall operations over the module registry.
// Every operation gets a unique id that doubles as the lock holder in
// the state store.
type Engine struct {
	registry  *registry.Registry
	resolver  *plan.Resolver
	renderer  *render.Renderer
	plane     cluster.ControlPlane
	store     Store
	health    HealthChecker
	logger    *slog.Logger
	namespace string
}

func New(p Params) *Engine {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:  p.Registry,
		resolver:  plan.NewResolver(p.Registry),
		renderer:  p.Renderer,
		plane:     p.Plane,
		store:     p.Store,
		health:    p.Health,
		logger:    logger,
		namespace: p.Namespace,
	}
}

// DeployRequest describes one deploy invocation. An empty Modules slice
// targets every registered module. Overrides carries per-module values
// from the config file; Values is the parsed --values document.
type DeployRequest struct {
	Modules   []string
	Overrides map[string]map[string]any
	Values    map[string]any
	Timeouts  map[string]time.Duration
	Timeout   time.Duration
	DryRun    bool
	Force     bool
	Wait      bool
}

// Deploy resolves the request into a dependency-ordered plan and applies
// each module in turn. The first failure stops the walk, marks the module
// Failed, and rolls back everything this operation deployed, newest
// first. Modules skipped as unchanged belong to earlier operations and
// are never rolled back.
func (e *Engine) Deploy(ctx context.Context, req DeployRequest) (*Result, error) {
	p, merr := e.resolvePlan(req.Modules)
	if merr != nil {
		return nil, merr
	}
	op := uuid.NewString()
	res := newResult(op, p.Names())
	log := e.logger.With("operation", op)
	log.Info("deployment plan resolved", "modules", p.Names(), "dry_run", req.DryRun)

	if req.DryRun {
		return e.dryRun(ctx, p, req, res)
	}

	if merr := e.preflight(ctx, p, req); merr != nil {
		res.failure = merr
		return res, merr
	}

	if err := e.plane.EnsureNamespace(ctx, e.namespace); err != nil {
		merr := &ModuleError{Kind: KindApplyError, Err: fmt.Errorf("ensuring namespace %s: %w", e.namespace, err)}
		res.failure = merr
		return res, merr
	}

	var deployed []*render.Rendered
	attempted := map[string]bool{}
	for _, m := range p.Modules {
		attempted[m.Name] = true
		outcome, rd, merr := e.deployModule(ctx, m, op, req, log)
		res.record(outcome)
		if rd != nil {
			deployed = append(deployed, rd)
		}
		if merr != nil {
			res.failure = merr
			break
		}
	}

	if res.failure != nil {
		for _, m := range p.Modules {
			if !attempted[m.Name] {
				res.record(e.skippedOutcome(ctx, m.Name))
			}
		}
		e.rollback(ctx, op, deployed, res, log)
		return res, res.failure
	}

	log.Info("deployment complete", "modules", len(p.Modules))
	return res, nil
}

// deployModule runs the per-module pipeline. The returned Rendered is
// non-nil only when this operation changed the module on the cluster, so
// the caller knows what a rollback must undo.
func (e *Engine) deployModule(ctx context.Context, m *registry.Module, op string, req DeployRequest, log *slog.Logger) (ModuleOutcome, *render.Rendered, *ModuleError) {
	rd, err := e.renderModule(m, req)
	if err != nil {
		merr := &ModuleError{Module: m.Name, Kind: KindRenderError, Err: err}
		rec := e.markFailed(ctx, m.Name, op, merr)
		return failedOutcome(m.Name, rec, merr), nil, merr
	}

	rec, err := e.store.Get(ctx, m.Name)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		merr := &ModuleError{Module: m.Name, Kind: KindApplyError, Err: err}
		return failedOutcome(m.Name, nil, merr), nil, merr
	}
	if rec != nil && !req.Force && rec.Status == state.StatusDeployed && rec.ConfigHash == rd.Hash {
		log.Info("module unchanged", "module", m.Name, "revision", rec.Revision)
		return ModuleOutcome{
			Module:   m.Name,
			Action:   ActionUnchanged,
			Status:   rec.Status,
			Revision: rec.Revision,
			Detail:   "configuration unchanged",
		}, nil, nil
	}

	if _, err := e.store.Acquire(ctx, m.Name, op, state.StatusDeploying, req.Force); err != nil {
		kind := KindApplyError
		if errors.Is(err, state.ErrConflict) {
			kind = KindConflict
		}
		merr := &ModuleError{Module: m.Name, Kind: kind, Err: err}
		return failedOutcome(m.Name, rec, merr), nil, merr
	}

	log.Info("applying module", "module", m.Name, "resources", len(rd.Objects))
	var failure *ModuleError
	for _, obj := range rd.Objects {
		if err := e.plane.Apply(ctx, obj); err != nil {
			failure = &ModuleError{
				Module: m.Name,
				Kind:   KindApplyError,
				Err:    fmt.Errorf("applying %s: %w", cluster.RefFor(obj), err),
			}
			break
		}
	}

	if failure == nil && req.Wait {
		timeout := e.timeoutFor(m, req)
		log.Info("waiting for module health", "module", m.Name, "timeout", timeout)
		if err := e.health.WaitReady(ctx, m.Name, refsOf(rd), timeout); err != nil {
			failure = &ModuleError{Module: m.Name, Kind: KindHealthTimeout, Err: err}
		}
	}

	if failure != nil {
		failedRec, _ := e.store.Transition(ctx, m.Name, op, state.StatusFailed, func(r *state.Record) {
			r.LastError = failure.Err.Error()
		})
		return failedOutcome(m.Name, failedRec, failure), nil, failure
	}

	newRec, err := e.store.Transition(ctx, m.Name, op, state.StatusDeployed, func(r *state.Record) {
		r.Revision++
		r.ConfigHash = rd.Hash
		r.LastError = ""
	})
	if err != nil {
		// resources are on the cluster, so hand them to the rollback sweep
		merr := &ModuleError{Module: m.Name, Kind: KindApplyError, Err: err}
		return failedOutcome(m.Name, nil, merr), rd, merr
	}

	log.Info("module deployed", "module", m.Name, "revision", newRec.Revision)
	return ModuleOutcome{
		Module:   m.Name,
		Action:   ActionApplied,
		Status:   newRec.Status,
		Revision: newRec.Revision,
		Detail:   fmt.Sprintf("%d resources applied", len(rd.Objects)),
	}, rd, nil
}

// preflight rejects plans that would touch a locked module or silently
// retry a failed one. Redeploying a failed module is an explicit
// decision: name it in the request, target everything, or pass force.
func (e *Engine) preflight(ctx context.Context, p *plan.Plan, req DeployRequest) *ModuleError {
	if req.Force {
		return nil
	}
	named := make(map[string]bool, len(req.Modules))
	for _, n := range req.Modules {
		named[n] = true
	}
	everything := len(req.Modules) == 0
	for _, m := range p.Modules {
		rec, err := e.store.Get(ctx, m.Name)
		if err != nil {
			continue
		}
		if rec.Status.Locked() {
			return &ModuleError{Module: m.Name, Kind: KindConflict, Err: fmt.Errorf(
				"module %s is %s under operation %s", m.Name, rec.Status, rec.Operation)}
		}
		if rec.Status == state.StatusFailed && !everything && !named[m.Name] {
			return &ModuleError{Module: m.Name, Kind: KindConflict, Err: fmt.Errorf(
				"dependency %s previously failed; redeploy it explicitly or use --force", m.Name)}
		}
	}
	return nil
}

// dryRun renders every module and reports what a real run would do
// without acquiring locks or touching the cluster.
func (e *Engine) dryRun(ctx context.Context, p *plan.Plan, req DeployRequest, res *Result) (*Result, error) {
	for _, m := range p.Modules {
		rd, err := e.renderModule(m, req)
		if err != nil {
			merr := &ModuleError{Module: m.Name, Kind: KindRenderError, Err: err}
			res.record(ModuleOutcome{
				Module: m.Name,
				Action: ActionFailed,
				Status: state.StatusNotDeployed,
				Error:  merr.Error(),
			})
			res.failure = merr
			return res, merr
		}
		rec, err := e.store.Get(ctx, m.Name)
		if err != nil {
			rec = nil
		}
		if rec != nil && !req.Force && rec.Status == state.StatusDeployed && rec.ConfigHash == rd.Hash {
			res.record(ModuleOutcome{
				Module:   m.Name,
				Action:   ActionUnchanged,
				Status:   rec.Status,
				Revision: rec.Revision,
				Detail:   "configuration unchanged",
			})
			continue
		}
		o := ModuleOutcome{
			Module: m.Name,
			Action: ActionPlanned,
			Status: state.StatusNotDeployed,
			Detail: fmt.Sprintf("%d resources to apply", len(rd.Objects)),
		}
		if rec != nil {
			o.Status = rec.Status
			o.Revision = rec.Revision
		}
		res.record(o)
	}
	return res, nil
}

func (e *Engine) resolvePlan(names []string) (*plan.Plan, *ModuleError) {
	p, err := e.resolver.Resolve(names)
	if err != nil {
		var cerr *plan.CycleError
		if errors.As(err, &cerr) {
			return nil, &ModuleError{Kind: KindDependencyCycle, Err: err}
		}
		return nil, &ModuleError{Kind: KindUnknownModule, Err: err}
	}
	return p, nil
}

func (e *Engine) renderModule(m *registry.Module, req DeployRequest) (*render.Rendered, error) {
	overlays := make([]map[string]any, 0, 2)
	if o := req.Overrides[m.Name]; o != nil {
		overlays = append(overlays, o)
	}
	if o := render.ModuleOverrides(req.Values, m.Name); o != nil {
		overlays = append(overlays, o)
	}
	return e.renderer.Render(m, overlays...)
}

func (e *Engine) timeoutFor(m *registry.Module, req DeployRequest) time.Duration {
	if t, ok := req.Timeouts[m.Name]; ok && t > 0 {
		return t
	}
	if req.Timeout > 0 {
		return req.Timeout
	}
	return m.GetTimeout()
}

// markFailed writes a Failed record for a module whose pipeline broke
// before the cluster was touched. A module that is still Deployed keeps
// its record: the cluster runs the previous revision untouched.
func (e *Engine) markFailed(ctx context.Context, module, op string, cause *ModuleError) *state.Record {
	if rec, err := e.store.Get(ctx, module); err == nil && rec.Status == state.StatusDeployed {
		return rec
	}
	if _, err := e.store.Acquire(ctx, module, op, state.StatusDeploying, false); err != nil {
		return nil
	}
	rec, err := e.store.Transition(ctx, module, op, state.StatusFailed, func(r *state.Record) {
		r.LastError = cause.Err.Error()
	})
	if err != nil {
		return nil
	}
	return rec
}

func (e *Engine) skippedOutcome(ctx context.Context, name string) ModuleOutcome {
	o := ModuleOutcome{
		Module: name,
		Action: ActionSkipped,
		Status: state.StatusNotDeployed,
		Detail: "not attempted",
	}
	if rec, err := e.store.Get(ctx, name); err == nil {
		o.Status = rec.Status
		o.Revision = rec.Revision
	}
	return o
}

func failedOutcome(name string, rec *state.Record, merr *ModuleError) ModuleOutcome {
	o := ModuleOutcome{
		Module: name,
		Action: ActionFailed,
		Status: state.StatusNotDeployed,
		Error:  merr.Error(),
	}
	if rec != nil {
		o.Status = rec.Status
		o.Revision = rec.Revision
	}
	return o
}

func refsOf(rd *render.Rendered) []cluster.ResourceRef {
	refs := make([]cluster.ResourceRef, 0, len(rd.Objects))
	for _, obj := range rd.Objects {
		refs = append(refs, cluster.RefFor(obj))
	}
	return refs
}
