// Package render turns module templates and values into cluster manifests
package render

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/jrgochan/labctl/internal/registry"
)

// Context is the data available to module templates
type Context struct {
	Module    string
	Namespace string
	Domain    string
	Values    map[string]any
}

// Rendered is the output of rendering one module: the raw manifest stream,
// the parsed objects in document order, and the content hash used for
// idempotency checks.
type Rendered struct {
	Module  string
	Raw     []byte
	Objects []*unstructured.Unstructured
	Hash    string
}

// Renderer renders module manifests for one target environment
type Renderer struct {
	registry  *registry.Registry
	namespace string
	domain    string
}

// New creates a renderer targeting the given namespace and ingress domain
func New(reg *registry.Registry, namespace, domain string) *Renderer {
	return &Renderer{registry: reg, namespace: namespace, domain: domain}
}

// Render renders a module's manifest template. Value overlays are merged
// over the module defaults left to right, later overlays winning. Rendering
// is deterministic: identical inputs produce identical bytes and hash.
func (r *Renderer) Render(m *registry.Module, overlays ...map[string]any) (*Rendered, error) {
	tmplText, err := r.registry.Template(m)
	if err != nil {
		return nil, err
	}

	values := deepMerge(nil, m.Defaults)
	for _, o := range overlays {
		values = deepMerge(values, o)
	}

	tmpl, err := template.New(m.SpecFile).
		Funcs(funcMap()).
		Option("missingkey=error").
		Parse(tmplText)
	if err != nil {
		return nil, fmt.Errorf("parsing template for module %s: %w", m.Name, err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, Context{
		Module:    m.Name,
		Namespace: r.namespace,
		Domain:    r.domain,
		Values:    values,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering module %s: %w", m.Name, err)
	}

	objs, err := parseObjects(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("parsing rendered manifests for module %s: %w", m.Name, err)
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("module %s rendered no resources", m.Name)
	}

	sum := sha256.Sum256(buf.Bytes())
	return &Rendered{
		Module:  m.Name,
		Raw:     buf.Bytes(),
		Objects: objs,
		Hash:    hex.EncodeToString(sum[:]),
	}, nil
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"indent": func(n int, s string) string {
			pad := strings.Repeat(" ", n)
			return pad + strings.ReplaceAll(s, "\n", "\n"+pad)
		},
		"b64enc": func(s string) string {
			return base64.StdEncoding.EncodeToString([]byte(s))
		},
		"default": func(def, val any) any {
			if val == nil || val == "" {
				return def
			}
			return val
		},
	}
}

var docSeparator = regexp.MustCompile(`(?m)^---\s*$`)

// parseObjects splits a rendered multi-document YAML stream and parses each
// document, preserving order. Empty documents are skipped.
func parseObjects(raw []byte) ([]*unstructured.Unstructured, error) {
	var objs []*unstructured.Unstructured
	for _, doc := range docSeparator.Split(string(raw), -1) {
		if strings.TrimSpace(doc) == "" {
			continue
		}
		var m map[string]any
		if err := sigsyaml.Unmarshal([]byte(doc), &m); err != nil {
			return nil, err
		}
		if len(m) == 0 {
			continue
		}
		obj := &unstructured.Unstructured{Object: m}
		if obj.GetKind() == "" || obj.GetName() == "" {
			return nil, fmt.Errorf("manifest document missing kind or metadata.name")
		}
		objs = append(objs, obj)
	}
	return objs, nil
}
