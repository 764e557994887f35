// Package health waits for applied resources to report ready
package health

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/jrgochan/labctl/internal/cluster"
)

// maxParallelChecks bounds how many resources are polled at once.
const maxParallelChecks = 4

// CheckError reports a resource that failed its readiness check, either
// by running out of time or by reaching a state it cannot recover from.
type CheckError struct {
	Module   string
	Ref      cluster.ResourceRef
	Reason   string
	Terminal bool
}

func (e *CheckError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("module %s: %s failed permanently: %s", e.Module, e.Ref, e.Reason)
	}
	return fmt.Sprintf("module %s: timed out waiting for %s: %s", e.Module, e.Ref, e.Reason)
}

// Snapshot is a point-in-time readiness summary for a set of resources.
type Snapshot struct {
	Ready    int    `json:"ready"`
	Total    int    `json:"total"`
	Blocking string `json:"blocking,omitempty"`
}

// Checker polls the control plane until resources become ready.
type Checker struct {
	plane   cluster.ControlPlane
	logger  *slog.Logger
	backoff wait.Backoff
}

// NewChecker creates a checker with the default poll backoff.
func NewChecker(plane cluster.ControlPlane, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		plane:  plane,
		logger: logger,
		backoff: wait.Backoff{
			Duration: 2 * time.Second,
			Factor:   1.6,
			Jitter:   0.1,
			Steps:    math.MaxInt32,
			Cap:      30 * time.Second,
		},
	}
}

// WaitReady blocks until every resource of a module reports ready, a
// resource fails permanently, or the timeout elapses. The first failing
// resource wins; remaining polls are cancelled.
func (c *Checker) WaitReady(ctx context.Context, module string, refs []cluster.ResourceRef, timeout time.Duration) error {
	if len(refs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChecks)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			return c.waitResource(ctx, module, ref)
		})
	}
	return g.Wait()
}

func (c *Checker) waitResource(ctx context.Context, module string, ref cluster.ResourceRef) error {
	backoff := c.backoff
	lastReason := "no status reported yet"
	for {
		cond, err := c.plane.Ready(ctx, ref)
		switch {
		case err != nil:
			// transient API errors keep the poll alive
			lastReason = err.Error()
		case cond.Ready:
			c.logger.Debug("resource ready", "module", module, "resource", ref.String())
			return nil
		case cond.Terminal:
			return &CheckError{Module: module, Ref: ref, Reason: cond.Reason, Terminal: true}
		case cond.Reason != "":
			lastReason = cond.Reason
		}

		select {
		case <-ctx.Done():
			return &CheckError{Module: module, Ref: ref, Reason: lastReason}
		case <-time.After(backoff.Step()):
		}
	}
}

// Probe reports the current readiness of each resource without waiting.
// Resources that cannot be read count as not ready.
func (c *Checker) Probe(ctx context.Context, refs []cluster.ResourceRef) Snapshot {
	snap := Snapshot{Total: len(refs)}
	for _, ref := range refs {
		cond, err := c.plane.Ready(ctx, ref)
		if err != nil {
			if snap.Blocking == "" {
				snap.Blocking = fmt.Sprintf("%s: %v", ref.String(), err)
			}
			continue
		}
		if cond.Ready {
			snap.Ready++
			continue
		}
		if snap.Blocking == "" {
			snap.Blocking = fmt.Sprintf("%s: %s", ref.String(), cond.Reason)
		}
	}
	return snap
}
