package cluster

import (
	"context"
	"fmt"
	"log/slog"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	kerrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
)

const fieldManager = "labctl"

// Client implements ControlPlane against a real Kubernetes API server
type Client struct {
	typed   kubernetes.Interface
	dynamic dynamic.Interface
	mapper  meta.RESTMapper
	logger  *slog.Logger
}

// NewClient connects using the standard kubeconfig loading rules. An empty
// kubeconfig path falls back to KUBECONFIG / ~/.kube/config, an empty context
// uses the current one.
func NewClient(kubeconfig, kubecontext string, logger *slog.Logger) (*Client, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{}
	if kubecontext != "" {
		overrides.CurrentContext = kubecontext
	}

	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}

	typed, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating clientset: %w", err)
	}
	dyn, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating dynamic client: %w", err)
	}
	disco, err := discovery.NewDiscoveryClientForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating discovery client: %w", err)
	}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(disco))

	return &Client{typed: typed, dynamic: dyn, mapper: mapper, logger: logger}, nil
}

// NewClientWithInterfaces creates a client from pre-built interfaces.
// Used by tests with fake clients.
func NewClientWithInterfaces(typed kubernetes.Interface, dyn dynamic.Interface, mapper meta.RESTMapper, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{typed: typed, dynamic: dyn, mapper: mapper, logger: logger}
}

// Clientset exposes the typed clientset for collaborators that share the
// connection, like the state tracker.
func (c *Client) Clientset() kubernetes.Interface {
	return c.typed
}

// EnsureNamespace creates the namespace if it does not exist
func (c *Client) EnsureNamespace(ctx context.Context, name string) error {
	_, err := c.typed.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !kerrors.IsNotFound(err) {
		return fmt.Errorf("getting namespace %s: %w", name, err)
	}

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{"app.kubernetes.io/managed-by": fieldManager},
		},
	}
	if _, err := c.typed.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil && !kerrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating namespace %s: %w", name, err)
	}
	c.logger.Info("created namespace", "namespace", name)
	return nil
}

// Apply upserts one rendered object: create when absent, update carrying the
// live resourceVersion otherwise
func (c *Client) Apply(ctx context.Context, obj *unstructured.Unstructured) error {
	gvk := obj.GroupVersionKind()
	ri, err := c.resourceFor(gvk, obj.GetNamespace())
	if err != nil {
		return err
	}

	existing, err := ri.Get(ctx, obj.GetName(), metav1.GetOptions{})
	if kerrors.IsNotFound(err) {
		if _, err := ri.Create(ctx, obj, metav1.CreateOptions{FieldManager: fieldManager}); err != nil {
			return fmt.Errorf("creating %s %s: %w", gvk.Kind, obj.GetName(), err)
		}
		c.logger.Debug("created resource", "kind", gvk.Kind, "name", obj.GetName())
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting %s %s: %w", gvk.Kind, obj.GetName(), err)
	}

	obj = obj.DeepCopy()
	obj.SetResourceVersion(existing.GetResourceVersion())
	if gvk.Group == "" && gvk.Kind == "Service" {
		preserveServiceFields(obj, existing)
	}

	if _, err := ri.Update(ctx, obj, metav1.UpdateOptions{FieldManager: fieldManager}); err != nil {
		return fmt.Errorf("updating %s %s: %w", gvk.Kind, obj.GetName(), err)
	}
	c.logger.Debug("updated resource", "kind", gvk.Kind, "name", obj.GetName())
	return nil
}

// Delete removes one resource, tolerating resources that are already gone
func (c *Client) Delete(ctx context.Context, ref ResourceRef) error {
	ri, err := c.resourceFor(ref.GroupVersionKind, ref.Namespace)
	if err != nil {
		return err
	}

	err = ri.Delete(ctx, ref.Name, metav1.DeleteOptions{})
	if err != nil && !kerrors.IsNotFound(err) {
		return fmt.Errorf("deleting %s: %w", ref, err)
	}
	c.logger.Debug("deleted resource", "kind", ref.GroupVersionKind.Kind, "name", ref.Name)
	return nil
}

// Ready probes one resource's readiness, with per-kind rules for the
// workload kinds the lab deploys. Anything without a specific rule is ready
// as soon as it exists.
func (c *Client) Ready(ctx context.Context, ref ResourceRef) (ReadyCondition, error) {
	gvk := ref.GroupVersionKind
	switch {
	case gvk.Group == "apps" && gvk.Kind == "Deployment":
		return c.deploymentReady(ctx, ref)
	case gvk.Group == "apps" && gvk.Kind == "StatefulSet":
		return c.statefulSetReady(ctx, ref)
	case gvk.Group == "apps" && gvk.Kind == "DaemonSet":
		return c.daemonSetReady(ctx, ref)
	case gvk.Group == "batch" && gvk.Kind == "Job":
		return c.jobReady(ctx, ref)
	case gvk.Group == "" && gvk.Kind == "Service":
		return c.serviceReady(ctx, ref)
	default:
		return c.existsReady(ctx, ref)
	}
}

func (c *Client) deploymentReady(ctx context.Context, ref ResourceRef) (ReadyCondition, error) {
	dep, err := c.typed.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return ReadyCondition{}, fmt.Errorf("getting %s: %w", ref, err)
	}

	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}
	if dep.Status.ObservedGeneration < dep.Generation {
		return ReadyCondition{Reason: "rollout not observed yet"}, nil
	}
	if dep.Status.ReadyReplicas < desired {
		return ReadyCondition{Reason: fmt.Sprintf("%d/%d replicas ready", dep.Status.ReadyReplicas, desired)}, nil
	}
	return ReadyCondition{Ready: true}, nil
}

func (c *Client) statefulSetReady(ctx context.Context, ref ResourceRef) (ReadyCondition, error) {
	sts, err := c.typed.AppsV1().StatefulSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return ReadyCondition{}, fmt.Errorf("getting %s: %w", ref, err)
	}

	desired := int32(1)
	if sts.Spec.Replicas != nil {
		desired = *sts.Spec.Replicas
	}
	if sts.Status.ReadyReplicas < desired {
		return ReadyCondition{Reason: fmt.Sprintf("%d/%d replicas ready", sts.Status.ReadyReplicas, desired)}, nil
	}
	return ReadyCondition{Ready: true}, nil
}

func (c *Client) daemonSetReady(ctx context.Context, ref ResourceRef) (ReadyCondition, error) {
	ds, err := c.typed.AppsV1().DaemonSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return ReadyCondition{}, fmt.Errorf("getting %s: %w", ref, err)
	}

	if ds.Status.NumberReady < ds.Status.DesiredNumberScheduled {
		return ReadyCondition{Reason: fmt.Sprintf("%d/%d pods ready", ds.Status.NumberReady, ds.Status.DesiredNumberScheduled)}, nil
	}
	return ReadyCondition{Ready: true}, nil
}

func (c *Client) jobReady(ctx context.Context, ref ResourceRef) (ReadyCondition, error) {
	job, err := c.typed.BatchV1().Jobs(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return ReadyCondition{}, fmt.Errorf("getting %s: %w", ref, err)
	}

	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return ReadyCondition{Ready: true}, nil
		case batchv1.JobFailed:
			// A failed job never recovers, stop polling
			return ReadyCondition{Terminal: true, Reason: fmt.Sprintf("job failed: %s", cond.Reason)}, nil
		}
	}
	return ReadyCondition{Reason: fmt.Sprintf("%d succeeded, %d active", job.Status.Succeeded, job.Status.Active)}, nil
}

func (c *Client) serviceReady(ctx context.Context, ref ResourceRef) (ReadyCondition, error) {
	ep, err := c.typed.CoreV1().Endpoints(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if kerrors.IsNotFound(err) {
		return ReadyCondition{Reason: "no endpoints yet"}, nil
	}
	if err != nil {
		return ReadyCondition{}, fmt.Errorf("getting endpoints for %s: %w", ref, err)
	}

	for _, subset := range ep.Subsets {
		if len(subset.Addresses) > 0 {
			return ReadyCondition{Ready: true}, nil
		}
	}
	return ReadyCondition{Reason: "no ready endpoint addresses"}, nil
}

func (c *Client) existsReady(ctx context.Context, ref ResourceRef) (ReadyCondition, error) {
	ri, err := c.resourceFor(ref.GroupVersionKind, ref.Namespace)
	if err != nil {
		return ReadyCondition{}, err
	}
	if _, err := ri.Get(ctx, ref.Name, metav1.GetOptions{}); err != nil {
		if kerrors.IsNotFound(err) {
			return ReadyCondition{Reason: "not found"}, nil
		}
		return ReadyCondition{}, fmt.Errorf("getting %s: %w", ref, err)
	}
	return ReadyCondition{Ready: true}, nil
}

// resourceFor maps a GVK to a namespaced or cluster-scoped dynamic resource
func (c *Client) resourceFor(gvk schema.GroupVersionKind, namespace string) (dynamic.ResourceInterface, error) {
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", gvk.Kind, err)
	}
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		return c.dynamic.Resource(mapping.Resource).Namespace(namespace), nil
	}
	return c.dynamic.Resource(mapping.Resource), nil
}

// preserveServiceFields copies allocation fields the API server owns from
// the live Service so updates do not try to clear them
func preserveServiceFields(obj, existing *unstructured.Unstructured) {
	if ip, ok, _ := unstructured.NestedString(existing.Object, "spec", "clusterIP"); ok && ip != "" {
		_ = unstructured.SetNestedField(obj.Object, ip, "spec", "clusterIP")
	}
	if ips, ok, _ := unstructured.NestedStringSlice(existing.Object, "spec", "clusterIPs"); ok && len(ips) > 0 {
		_ = unstructured.SetNestedStringSlice(obj.Object, ips, "spec", "clusterIPs")
	}
}
