package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kerrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func TestGet_MissingRecord(t *testing.T) {
	store := NewConfigMapStore(fake.NewSimpleClientset(), "lab", nil)

	_, err := store.Get(context.Background(), "llamacpp")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcquire_CreatesRecord(t *testing.T) {
	store := NewConfigMapStore(fake.NewSimpleClientset(), "lab", nil)

	rec, err := store.Acquire(context.Background(), "base", "op-1", StatusDeploying, false)

	require.NoError(t, err)
	assert.Equal(t, StatusDeploying, rec.Status)
	assert.Equal(t, "op-1", rec.Operation)
	assert.Equal(t, int64(0), rec.Revision)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestAcquire_LockedByOtherOperation(t *testing.T) {
	// Setup: op-1 holds the lock on base
	store := NewConfigMapStore(fake.NewSimpleClientset(), "lab", nil)
	ctx := context.Background()
	_, err := store.Acquire(ctx, "base", "op-1", StatusDeploying, false)
	require.NoError(t, err)

	// Test: op-2 tries to take it
	_, err = store.Acquire(ctx, "base", "op-2", StatusDeploying, false)

	// Assertions: fail fast, record untouched
	assert.ErrorIs(t, err, ErrConflict)
	rec, err := store.Get(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, "op-1", rec.Operation)
}

func TestAcquire_ForceStealsLock(t *testing.T) {
	store := NewConfigMapStore(fake.NewSimpleClientset(), "lab", nil)
	ctx := context.Background()
	_, err := store.Acquire(ctx, "base", "op-1", StatusDeploying, false)
	require.NoError(t, err)

	rec, err := store.Acquire(ctx, "base", "op-2", StatusDeploying, true)

	require.NoError(t, err)
	assert.Equal(t, "op-2", rec.Operation)
}

func TestAcquire_ReentrantForSameOperation(t *testing.T) {
	store := NewConfigMapStore(fake.NewSimpleClientset(), "lab", nil)
	ctx := context.Background()
	_, err := store.Acquire(ctx, "base", "op-1", StatusDeploying, false)
	require.NoError(t, err)

	rec, err := store.Acquire(ctx, "base", "op-1", StatusRollingBack, false)

	require.NoError(t, err)
	assert.Equal(t, StatusRollingBack, rec.Status)
}

func TestAcquire_RejectsUnlockedTarget(t *testing.T) {
	store := NewConfigMapStore(fake.NewSimpleClientset(), "lab", nil)

	_, err := store.Acquire(context.Background(), "base", "op-1", StatusDeployed, false)

	assert.Error(t, err)
}

func TestTransition_HolderCompletesDeploy(t *testing.T) {
	store := NewConfigMapStore(fake.NewSimpleClientset(), "lab", nil)
	ctx := context.Background()
	_, err := store.Acquire(ctx, "base", "op-1", StatusDeploying, false)
	require.NoError(t, err)

	rec, err := store.Transition(ctx, "base", "op-1", StatusDeployed, func(r *Record) {
		r.Revision++
		r.ConfigHash = "abc123"
	})

	require.NoError(t, err)
	assert.Equal(t, StatusDeployed, rec.Status)
	assert.Equal(t, int64(1), rec.Revision)
	assert.Equal(t, "abc123", rec.ConfigHash)
	assert.Empty(t, rec.Operation, "completed records carry no operation")
}

func TestTransition_NonHolderRejected(t *testing.T) {
	store := NewConfigMapStore(fake.NewSimpleClientset(), "lab", nil)
	ctx := context.Background()
	_, err := store.Acquire(ctx, "base", "op-1", StatusDeploying, false)
	require.NoError(t, err)

	_, err = store.Transition(ctx, "base", "op-2", StatusDeployed, nil)

	assert.ErrorIs(t, err, ErrConflict)
}

func TestRecords_SurviveRestart(t *testing.T) {
	// Setup: write records through one store instance
	clientset := fake.NewSimpleClientset()
	ctx := context.Background()
	first := NewConfigMapStore(clientset, "lab", nil)
	_, err := first.Acquire(ctx, "base", "op-1", StatusDeploying, false)
	require.NoError(t, err)
	_, err = first.Transition(ctx, "base", "op-1", StatusDeployed, func(r *Record) {
		r.Revision = 3
		r.ConfigHash = "cafe"
	})
	require.NoError(t, err)

	// Test: a fresh instance reads the same cluster
	second := NewConfigMapStore(clientset, "lab", nil)
	rec, err := second.Get(ctx, "base")

	// Assertions
	require.NoError(t, err)
	assert.Equal(t, StatusDeployed, rec.Status)
	assert.Equal(t, int64(3), rec.Revision)
	assert.Equal(t, "cafe", rec.ConfigHash)
}

func TestList_SortedByModule(t *testing.T) {
	store := NewConfigMapStore(fake.NewSimpleClientset(), "lab", nil)
	ctx := context.Background()
	for _, module := range []string{"mpi", "base", "chat"} {
		_, err := store.Acquire(ctx, module, "op-1", StatusDeploying, false)
		require.NoError(t, err)
	}

	records, err := store.List(ctx)

	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "base", records[0].Module)
	assert.Equal(t, "chat", records[1].Module)
	assert.Equal(t, "mpi", records[2].Module)
}

func TestList_EmptyCluster(t *testing.T) {
	store := NewConfigMapStore(fake.NewSimpleClientset(), "lab", nil)

	records, err := store.List(context.Background())

	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDelete_Idempotent(t *testing.T) {
	store := NewConfigMapStore(fake.NewSimpleClientset(), "lab", nil)
	ctx := context.Background()
	_, err := store.Acquire(ctx, "base", "op-1", StatusDeploying, false)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "base"))
	require.NoError(t, store.Delete(ctx, "base"))

	_, err = store.Get(ctx, "base")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMutate_RetriesOnWriteConflict(t *testing.T) {
	// Setup: the first update loses a compare-and-set race
	clientset := fake.NewSimpleClientset()
	store := NewConfigMapStore(clientset, "lab", nil)
	ctx := context.Background()
	_, err := store.Acquire(ctx, "base", "op-1", StatusDeploying, false)
	require.NoError(t, err)

	conflicts := 0
	clientset.PrependReactor("update", "configmaps", func(k8stesting.Action) (bool, runtime.Object, error) {
		if conflicts == 0 {
			conflicts++
			return true, nil, kerrors.NewConflict(
				schema.GroupResource{Resource: "configmaps"}, ConfigMapName, errors.New("stale"))
		}
		return false, nil, nil
	})

	rec, err := store.Transition(ctx, "base", "op-1", StatusDeployed, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, conflicts, "expected exactly one retried write")
	assert.Equal(t, StatusDeployed, rec.Status)
}

func TestStatusLocked(t *testing.T) {
	assert.True(t, StatusDeploying.Locked())
	assert.True(t, StatusRollingBack.Locked())
	assert.False(t, StatusNotDeployed.Locked())
	assert.False(t, StatusDeployed.Locked())
	assert.False(t, StatusFailed.Locked())
	assert.False(t, StatusRolledBack.Locked())
}
