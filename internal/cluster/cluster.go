// Package cluster provides access to the lab cluster control plane
package cluster

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// ResourceRef identifies one cluster resource managed by a module
type ResourceRef struct {
	GroupVersionKind schema.GroupVersionKind
	Namespace        string
	Name             string
}

func (r ResourceRef) String() string {
	return fmt.Sprintf("%s/%s", r.GroupVersionKind.Kind, r.Name)
}

// RefFor extracts the resource reference from a rendered object
func RefFor(obj *unstructured.Unstructured) ResourceRef {
	return ResourceRef{
		GroupVersionKind: obj.GroupVersionKind(),
		Namespace:        obj.GetNamespace(),
		Name:             obj.GetName(),
	}
}

// ReadyCondition is the outcome of one readiness probe. Terminal marks
// resources that can no longer become ready (for example a failed Job), so
// callers stop polling early.
type ReadyCondition struct {
	Ready    bool
	Terminal bool
	Reason   string
}

// ControlPlane is the narrow interface the deployment engine needs from the
// cluster. The production implementation talks to the Kubernetes API; tests
// substitute an in-memory fake.
type ControlPlane interface {
	EnsureNamespace(ctx context.Context, name string) error
	Apply(ctx context.Context, obj *unstructured.Unstructured) error
	Delete(ctx context.Context, ref ResourceRef) error
	Ready(ctx context.Context, ref ResourceRef) (ReadyCondition, error)
}
