// Package manifest parses declarative hook manifests.
//
// A manifest maps lifecycle phase names to ordered lists of hook bindings:
//
//	{"onInit": [{"module": "pages", "role": "admin", "action": "./seed"}]}
//
// JSON, YAML and TOML are accepted, selected by file extension. Phase order
// is the document order of the top-level keys.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jvs-project/hookctl/internal/hooks"
	"github.com/jvs-project/hookctl/pkg/errclass"
)

// Format is a manifest encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Declaration binds one hook action to a phase.
type Declaration struct {
	Phase  string `json:"-" yaml:"-" toml:"-"`
	Module string `json:"module" yaml:"module" toml:"module"`
	Role   string `json:"role" yaml:"role" toml:"role"`
	Action string `json:"action" yaml:"action" toml:"action"`
}

// Phase is one top-level manifest key with its declarations in array order.
type Phase struct {
	Name         string
	Declarations []Declaration
}

// Manifest is a parsed manifest file.
type Manifest struct {
	Path   string
	Phases []Phase
}

// Declarations flattens the manifest in execution order.
func (m *Manifest) Declarations() []Declaration {
	var out []Declaration
	for _, p := range m.Phases {
		out = append(out, p.Declarations...)
	}
	return out
}

// Roles returns the distinct declared roles, sorted.
func (m *Manifest) Roles() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range m.Declarations() {
		if d.Role != "" && !seen[d.Role] {
			seen[d.Role] = true
			out = append(out, d.Role)
		}
	}
	sort.Strings(out)
	return out
}

// Stages returns the phase names in document order.
func (m *Manifest) Stages() []string {
	out := make([]string, 0, len(m.Phases))
	for _, p := range m.Phases {
		out = append(out, p.Name)
	}
	return out
}

// FormatFor maps a file extension to a Format.
func FormatFor(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	}
	return "", false
}

// Load reads and parses the manifest at path. Phases must satisfy known
// (hooks.IsBuiltin when nil). Every failure is an errclass.ErrConfig.
func Load(path string, known func(string) bool) (*Manifest, error) {
	format, ok := FormatFor(path)
	if !ok {
		return nil, errclass.ErrConfig.WithMessagef("unsupported manifest extension: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errclass.ErrConfig.WithMessagef("read manifest: %v", err)
	}

	m, err := Parse(data, format, known)
	if err != nil {
		return nil, errclass.ErrConfig.WithMessagef("%s: %v", path, err)
	}
	m.Path = path
	return m, nil
}

// Parse decodes data in the given format and validates it.
func Parse(data []byte, format Format, known func(string) bool) (*Manifest, error) {
	if known == nil {
		known = hooks.IsBuiltin
	}

	var (
		phases []Phase
		err    error
	)
	switch format {
	case FormatJSON:
		phases, err = parseJSON(data)
	case FormatYAML:
		phases, err = parseYAML(data)
	case FormatTOML:
		phases, err = parseTOML(data)
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for i := range phases {
		p := &phases[i]
		if !known(p.Name) {
			return nil, fmt.Errorf("unknown lifecycle phase %q", p.Name)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate lifecycle phase %q", p.Name)
		}
		seen[p.Name] = true
		for j := range p.Declarations {
			d := &p.Declarations[j]
			d.Phase = p.Name
			if strings.TrimSpace(d.Action) == "" {
				return nil, fmt.Errorf("%s[%d]: action is required", p.Name, j)
			}
		}
	}

	return &Manifest{Phases: phases}, nil
}

func parseJSON(data []byte) ([]Phase, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("parse json: top level must be an object")
	}

	var phases []Phase
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		name, _ := tok.(string)

		var decls []Declaration
		if err := dec.Decode(&decls); err != nil {
			return nil, fmt.Errorf("parse json phase %q: %w", name, err)
		}
		phases = append(phases, Phase{Name: name, Declarations: decls})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse json: trailing data after manifest object")
	}
	return phases, nil
}

func parseYAML(data []byte) ([]Phase, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse yaml: top level must be a mapping")
	}

	var phases []Phase
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		var decls []Declaration
		if err := val.Decode(&decls); err != nil {
			return nil, fmt.Errorf("parse yaml phase %q: %w", key.Value, err)
		}
		phases = append(phases, Phase{Name: key.Value, Declarations: decls})
	}
	return phases, nil
}

func parseTOML(data []byte) ([]Phase, error) {
	var raw map[string][]Declaration
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse toml: unknown keys %v", undecoded)
	}

	var phases []Phase
	seen := map[string]bool{}
	for _, key := range md.Keys() {
		if len(key) == 0 || seen[key[0]] {
			continue
		}
		seen[key[0]] = true
		phases = append(phases, Phase{Name: key[0], Declarations: raw[key[0]]})
	}
	return phases, nil
}
