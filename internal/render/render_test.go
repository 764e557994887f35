package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrgochan/labctl/internal/registry"
)

func newTestRenderer(t *testing.T) (*Renderer, *registry.Registry) {
	t.Helper()
	reg := registry.NewRegistry()
	return New(reg, "lab", "apps-crc.testing"), reg
}

func TestRender_AllModuleDefaults(t *testing.T) {
	r, reg := newTestRenderer(t)

	for _, m := range reg.All() {
		rendered, err := r.Render(m)
		require.NoError(t, err, "module %s should render with defaults alone", m.Name)
		require.NotEmpty(t, rendered.Objects, "module %s", m.Name)
		assert.NotEmpty(t, rendered.Hash, "module %s", m.Name)

		for _, obj := range rendered.Objects {
			assert.NotEmpty(t, obj.GetKind(), "module %s has object without kind", m.Name)
			assert.NotEmpty(t, obj.GetName(), "module %s has object without name", m.Name)
			assert.Equal(t, "lab", obj.GetNamespace(), "module %s object %s", m.Name, obj.GetName())
		}
	}
}

func TestRender_Deterministic(t *testing.T) {
	r, reg := newTestRenderer(t)
	m, _ := reg.Get("llamacpp")

	first, err := r.Render(m)
	require.NoError(t, err)
	second, err := r.Render(m)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.Raw, second.Raw)
}

func TestRender_OverridesChangeHash(t *testing.T) {
	r, reg := newTestRenderer(t)
	m, _ := reg.Get("llamacpp")

	base, err := r.Render(m)
	require.NoError(t, err)

	overridden, err := r.Render(m, map[string]any{"ctx": 8192})
	require.NoError(t, err)

	assert.NotEqual(t, base.Hash, overridden.Hash)
	assert.Contains(t, string(overridden.Raw), "8192")
}

func TestRender_UnknownValuesKeyAccepted(t *testing.T) {
	r, reg := newTestRenderer(t)
	m, _ := reg.Get("chat")

	rendered, err := r.Render(m, map[string]any{"flavor": "extra-spicy"})
	require.NoError(t, err, "unknown values keys must not fail rendering")
	assert.NotEmpty(t, rendered.Objects)
}

func TestRender_BrokenValuesShapeFails(t *testing.T) {
	r, reg := newTestRenderer(t)
	m, _ := reg.Get("llamacpp")

	// Replacing the model map with a scalar breaks .Values.model.file lookup
	_, err := r.Render(m, map[string]any{"model": "oops"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llamacpp")
}

func TestRender_DocumentOrderPreserved(t *testing.T) {
	r, reg := newTestRenderer(t)
	m, _ := reg.Get("llamacpp")

	rendered, err := r.Render(m)
	require.NoError(t, err)
	require.Len(t, rendered.Objects, 3)

	kinds := make([]string, len(rendered.Objects))
	for i, obj := range rendered.Objects {
		kinds[i] = obj.GetKind()
	}
	assert.Equal(t, []string{"Deployment", "Service", "Ingress"}, kinds)
}

func TestLoadValuesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "values.yaml")
	content := strings.Join([]string{
		"modules:",
		"  llamacpp:",
		"    ctx: 8192",
		"    model:",
		"      file: custom.gguf",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	vals, err := LoadValuesFile(path)
	require.NoError(t, err)

	overrides := ModuleOverrides(vals, "llamacpp")
	require.NotNil(t, overrides)
	assert.Equal(t, 8192, overrides["ctx"])

	model, ok := overrides["model"].(map[string]any)
	require.True(t, ok, "nested maps should decode as map[string]any")
	assert.Equal(t, "custom.gguf", model["file"])
}

func TestLoadValuesFile_Missing(t *testing.T) {
	_, err := LoadValuesFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadValuesFile_EmptyPath(t *testing.T) {
	vals, err := LoadValuesFile("")
	require.NoError(t, err)
	assert.Nil(t, vals)
}

func TestModuleOverrides_Absent(t *testing.T) {
	assert.Nil(t, ModuleOverrides(nil, "llamacpp"))
	assert.Nil(t, ModuleOverrides(map[string]any{"modules": map[string]any{}}, "llamacpp"))
}

func TestDeepMerge(t *testing.T) {
	base := map[string]any{
		"image": "a",
		"model": map[string]any{"url": "u1", "file": "f1"},
	}
	overlay := map[string]any{
		"model": map[string]any{"file": "f2"},
		"ctx":   4096,
	}

	merged := deepMerge(base, overlay)

	assert.Equal(t, "a", merged["image"])
	assert.Equal(t, 4096, merged["ctx"])
	model := merged["model"].(map[string]any)
	assert.Equal(t, "u1", model["url"])
	assert.Equal(t, "f2", model["file"])

	// Inputs stay untouched
	assert.Equal(t, "f1", base["model"].(map[string]any)["file"])
	assert.NotContains(t, base, "ctx")
}
