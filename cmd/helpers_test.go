package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/jrgochan/labctl/internal/cluster"
	"github.com/jrgochan/labctl/internal/engine"
	"github.com/jrgochan/labctl/internal/health"
	"github.com/jrgochan/labctl/internal/registry"
	"github.com/jrgochan/labctl/internal/render"
	"github.com/jrgochan/labctl/internal/state"
)

// stubPlane accepts every operation and reports every resource ready.
type stubPlane struct {
	mu      sync.Mutex
	applied []string
	deleted []string
}

func (p *stubPlane) EnsureNamespace(ctx context.Context, name string) error { return nil }

func (p *stubPlane) Apply(ctx context.Context, obj *unstructured.Unstructured) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, cluster.RefFor(obj).String())
	return nil
}

func (p *stubPlane) Delete(ctx context.Context, ref cluster.ResourceRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, ref.String())
	return nil
}

func (p *stubPlane) Ready(ctx context.Context, ref cluster.ResourceRef) (cluster.ReadyCondition, error) {
	return cluster.ReadyCondition{Ready: true}, nil
}

func (p *stubPlane) appliedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.applied)
}

func (p *stubPlane) appliedRefs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied...)
}

func (p *stubPlane) deletedRefs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

// setupCmdTest resets CLI globals and points newEngine at an engine backed
// by in-memory fakes. The returned plane records every apply and delete.
// State lives in a fake clientset shared by all engine instances built
// during the test, so multi-command scenarios see consistent records.
func setupCmdTest(t *testing.T) *stubPlane {
	t.Helper()

	resetFlags(rootCmd.PersistentFlags())
	for _, c := range rootCmd.Commands() {
		resetFlags(c.Flags())
	}

	cfgFile = ""
	verbose = false
	quiet = false
	colorFlag = "never"
	namespace = ""
	kubeconfig = ""
	kubectx = ""

	plane := &stubPlane{}
	clientset := k8sfake.NewSimpleClientset()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	prev := newEngine
	newEngine = func() (*engine.Engine, error) {
		reg := registry.NewRegistry()
		return engine.New(engine.Params{
			Registry:  reg,
			Renderer:  render.New(reg, "lab", "apps-crc.testing"),
			Plane:     plane,
			Store:     state.NewConfigMapStore(clientset, "lab", logger),
			Health:    health.NewChecker(plane, logger),
			Logger:    logger,
			Namespace: "lab",
		}), nil
	}
	t.Cleanup(func() { newEngine = prev })

	return plane
}

// resetFlags restores every flag to its default between test runs. Slice
// values accumulate across Execute calls unless replaced outright.
func resetFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCommand(t, args...)
	if err != nil {
		t.Fatalf("%v failed: %v", args, err)
	}
	return out
}
