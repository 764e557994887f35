package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/jrgochan/labctl/internal/cluster"
)

// fakePlane serves canned readiness conditions, optionally flipping a
// resource to ready after a number of polls.
type fakePlane struct {
	mu         sync.Mutex
	conds      map[string]cluster.ReadyCondition
	readyAfter map[string]int
	calls      map[string]int
}

func newFakePlane() *fakePlane {
	return &fakePlane{
		conds:      map[string]cluster.ReadyCondition{},
		readyAfter: map[string]int{},
		calls:      map[string]int{},
	}
}

func (f *fakePlane) EnsureNamespace(context.Context, string) error { return nil }

func (f *fakePlane) Apply(context.Context, *unstructured.Unstructured) error { return nil }

func (f *fakePlane) Delete(context.Context, cluster.ResourceRef) error { return nil }

func (f *fakePlane) Ready(_ context.Context, ref cluster.ResourceRef) (cluster.ReadyCondition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ref.String()
	f.calls[key]++
	if after, ok := f.readyAfter[key]; ok && f.calls[key] > after {
		return cluster.ReadyCondition{Ready: true}, nil
	}
	cond, ok := f.conds[key]
	if !ok {
		return cluster.ReadyCondition{Ready: true}, nil
	}
	return cond, nil
}

func deployRef(name string) cluster.ResourceRef {
	return cluster.ResourceRef{
		GroupVersionKind: schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"},
		Namespace:        "lab",
		Name:             name,
	}
}

func fastChecker(plane cluster.ControlPlane) *Checker {
	c := NewChecker(plane, nil)
	c.backoff = wait.Backoff{Duration: time.Millisecond, Factor: 1.0, Steps: 1 << 30}
	return c
}

func TestWaitReady_AllReady(t *testing.T) {
	plane := newFakePlane()
	checker := fastChecker(plane)

	err := checker.WaitReady(context.Background(), "base",
		[]cluster.ResourceRef{deployRef("a"), deployRef("b")}, time.Second)

	assert.NoError(t, err)
}

func TestWaitReady_NoResources(t *testing.T) {
	checker := fastChecker(newFakePlane())

	assert.NoError(t, checker.WaitReady(context.Background(), "base", nil, time.Second))
}

func TestWaitReady_BecomesReadyAfterRetries(t *testing.T) {
	plane := newFakePlane()
	plane.conds["Deployment/slow"] = cluster.ReadyCondition{Reason: "0/1 replicas ready"}
	plane.readyAfter["Deployment/slow"] = 3
	checker := fastChecker(plane)

	err := checker.WaitReady(context.Background(), "llamacpp",
		[]cluster.ResourceRef{deployRef("slow")}, 5*time.Second)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, plane.calls["Deployment/slow"], 4)
}

func TestWaitReady_NeverReadyTimesOut(t *testing.T) {
	plane := newFakePlane()
	plane.conds["Deployment/stuck"] = cluster.ReadyCondition{Reason: "0/1 replicas ready"}
	checker := fastChecker(plane)

	start := time.Now()
	err := checker.WaitReady(context.Background(), "llamacpp",
		[]cluster.ResourceRef{deployRef("stuck")}, 50*time.Millisecond)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "timeout must not hang")
	var checkErr *CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.False(t, checkErr.Terminal)
	assert.Equal(t, "llamacpp", checkErr.Module)
	assert.Contains(t, checkErr.Error(), "Deployment/stuck")
	assert.Contains(t, checkErr.Error(), "0/1 replicas ready")
}

func TestWaitReady_TerminalFailureStopsEarly(t *testing.T) {
	plane := newFakePlane()
	plane.conds["Deployment/doomed"] = cluster.ReadyCondition{
		Terminal: true,
		Reason:   "job failed: BackoffLimitExceeded",
	}
	checker := fastChecker(plane)

	start := time.Now()
	err := checker.WaitReady(context.Background(), "mpi",
		[]cluster.ResourceRef{deployRef("doomed")}, 30*time.Second)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "terminal failures must not wait for the timeout")
	var checkErr *CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.True(t, checkErr.Terminal)
}

func TestWaitReady_FirstFailureCancelsSiblings(t *testing.T) {
	plane := newFakePlane()
	plane.conds["Deployment/doomed"] = cluster.ReadyCondition{Terminal: true, Reason: "failed"}
	plane.conds["Deployment/stuck"] = cluster.ReadyCondition{Reason: "waiting"}
	checker := fastChecker(plane)

	start := time.Now()
	err := checker.WaitReady(context.Background(), "mpi",
		[]cluster.ResourceRef{deployRef("doomed"), deployRef("stuck")}, 30*time.Second)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitReady_ParentCancellation(t *testing.T) {
	plane := newFakePlane()
	plane.conds["Deployment/stuck"] = cluster.ReadyCondition{Reason: "waiting"}
	checker := fastChecker(plane)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := checker.WaitReady(ctx, "base",
		[]cluster.ResourceRef{deployRef("stuck")}, time.Minute)

	assert.Error(t, err)
}

func TestProbe_MixedReadiness(t *testing.T) {
	plane := newFakePlane()
	plane.conds["Deployment/stuck"] = cluster.ReadyCondition{Reason: "0/1 replicas ready"}
	checker := fastChecker(plane)

	snap := checker.Probe(context.Background(),
		[]cluster.ResourceRef{deployRef("ok"), deployRef("stuck")})

	assert.Equal(t, 1, snap.Ready)
	assert.Equal(t, 2, snap.Total)
	assert.Contains(t, snap.Blocking, "Deployment/stuck")
}

func TestCheckErrorMessages(t *testing.T) {
	timeoutErr := &CheckError{Module: "chat", Ref: deployRef("chat"), Reason: "waiting"}
	terminalErr := &CheckError{Module: "mpi", Ref: deployRef("mpi-smoke"), Reason: "failed", Terminal: true}

	assert.Contains(t, timeoutErr.Error(), "timed out")
	assert.Contains(t, terminalErr.Error(), "failed permanently")
	assert.True(t, errors.As(error(timeoutErr), new(*CheckError)))
}
