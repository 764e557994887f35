package registry

import (
	"sort"
	"time"
)

// Registry holds all available module definitions
type Registry struct {
	modules map[string]*Module
}

// defaultModules contains the predefined lab modules
var defaultModules = []Module{
	{
		Name:        "base",
		Description: "Shared lab resources (environment ConfigMap, model cache volume)",
		SpecFile:    "base.yaml",
		DependsOn:   []string{},
		Defaults: map[string]any{
			"cache": map[string]any{"size": "20Gi"},
		},
	},
	{
		Name:        "llamacpp",
		Description: "llama.cpp inference server with model fetch init container",
		SpecFile:    "llamacpp.yaml",
		DependsOn:   []string{"base"},
		Defaults: map[string]any{
			"image":     "ghcr.io/ggml-org/llama.cpp:server",
			"replicas":  1,
			"ctx":       4096,
			"gpuLayers": 0,
			"model": map[string]any{
				"url":  "https://huggingface.co/Qwen/Qwen2.5-0.5B-Instruct-GGUF/resolve/main/qwen2.5-0.5b-instruct-q5_k_m.gguf",
				"file": "qwen2.5-0.5b-instruct-q5_k_m.gguf",
			},
		},
		RequiresGPU: true,
		Timeout:     10 * time.Minute, // model download dominates startup
	},
	{
		Name:        "chat",
		Description: "Chat web UI wired to the llama.cpp OpenAI-compatible API",
		SpecFile:    "chat.yaml",
		DependsOn:   []string{"base", "llamacpp"},
		Defaults: map[string]any{
			"image":    "ghcr.io/open-webui/open-webui:main",
			"replicas": 1,
		},
	},
	{
		Name:        "jupyter",
		Description: "JupyterHub for notebook-based lab exercises",
		SpecFile:    "jupyter.yaml",
		DependsOn:   []string{"base"},
		Defaults: map[string]any{
			"image":     "quay.io/jupyterhub/jupyterhub:5.2",
			"storage":   "1Gi",
			"adminUser": "labadmin",
			"apiToken":  "lab-insecure-token",
		},
	},
	{
		Name:        "inference",
		Description: "Demo inference API service",
		SpecFile:    "inference.yaml",
		DependsOn:   []string{"base"},
		Defaults: map[string]any{
			"image":     "ghcr.io/jrgochan/lab-inference:latest",
			"replicas":  1,
			"modelName": "demo-classifier",
			"service":   map[string]any{"type": "ClusterIP"},
		},
	},
	{
		Name:        "mpi",
		Description: "MPI exercise smoke job",
		SpecFile:    "mpi.yaml",
		DependsOn:   []string{"base"},
		Defaults: map[string]any{
			"image": "ghcr.io/jrgochan/lab-mpi:latest",
			"procs": 2,
		},
	},
}

// NewRegistry creates a new module registry with the default lab modules
func NewRegistry() *Registry {
	r := &Registry{
		modules: make(map[string]*Module),
	}
	for i := range defaultModules {
		r.modules[defaultModules[i].Name] = &defaultModules[i]
	}
	return r
}

// Get returns a module by name
func (r *Registry) Get(name string) (*Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// All returns all registered modules
func (r *Registry) All() []*Module {
	result := make([]*Module, 0, len(r.modules))
	for _, m := range r.modules {
		result = append(result, m)
	}
	// Sort by name for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Names returns all module names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GPUModules returns modules that prefer a GPU node
func (r *Registry) GPUModules() []*Module {
	var gpu []*Module
	for _, m := range r.All() {
		if m.RequiresGPU {
			gpu = append(gpu, m)
		}
	}
	return gpu
}

// Register adds or updates a module in the registry
func (r *Registry) Register(m *Module) {
	r.modules[m.Name] = m
}
