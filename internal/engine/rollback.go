package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jrgochan/labctl/internal/cluster"
	"github.com/jrgochan/labctl/internal/render"
	"github.com/jrgochan/labctl/internal/state"
)

// rollback removes the resources of every module this operation
// deployed, newest first, and marks each record RolledBack. A module
// whose resources cannot be removed is marked Failed instead, the
// operation error is promoted to a rollback error, and the sweep
// continues with the remaining modules.
func (e *Engine) rollback(ctx context.Context, op string, deployed []*render.Rendered, res *Result, log *slog.Logger) {
	for i := len(deployed) - 1; i >= 0; i-- {
		rd := deployed[i]
		log.Warn("rolling back module", "module", rd.Module)

		if _, err := e.store.Acquire(ctx, rd.Module, op, state.StatusRollingBack, false); err != nil {
			e.noteRollbackFailure(ctx, res, rd.Module, op, err, false)
			continue
		}

		var firstErr error
		for j := len(rd.Objects) - 1; j >= 0; j-- {
			ref := cluster.RefFor(rd.Objects[j])
			if err := e.plane.Delete(ctx, ref); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("deleting %s: %w", ref, err)
			}
		}
		if firstErr != nil {
			e.noteRollbackFailure(ctx, res, rd.Module, op, firstErr, true)
			continue
		}

		rec, err := e.store.Transition(ctx, rd.Module, op, state.StatusRolledBack, func(r *state.Record) {
			r.ConfigHash = ""
		})
		if err != nil {
			e.noteRollbackFailure(ctx, res, rd.Module, op, err, true)
			continue
		}
		res.update(rd.Module, func(o *ModuleOutcome) {
			o.Action = ActionRolledBack
			o.Status = rec.Status
			o.Revision = rec.Revision
		})
		log.Info("module rolled back", "module", rd.Module)
	}
}

// noteRollbackFailure marks a module's record and outcome Failed and
// promotes the result failure to a rollback error, preserving the
// original cause in the message. holdsLock distinguishes failures after
// the rollback lock was taken, which must be released into Failed.
func (e *Engine) noteRollbackFailure(ctx context.Context, res *Result, module, op string, err error, holdsLock bool) {
	if holdsLock {
		_, _ = e.store.Transition(ctx, module, op, state.StatusFailed, func(r *state.Record) {
			r.LastError = err.Error()
		})
	}
	res.update(module, func(o *ModuleOutcome) {
		o.Action = ActionFailed
		o.Status = state.StatusFailed
		o.Error = err.Error()
	})
	if res.failure != nil && res.failure.Kind == KindRollbackError {
		return
	}
	res.failure = &ModuleError{Module: module, Kind: KindRollbackError, Err: fmt.Errorf(
		"rollback incomplete: %v (original failure: %v)", err, res.failure)}
}
