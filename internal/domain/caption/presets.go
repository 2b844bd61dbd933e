package caption

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var builtinPresets []byte

// DefaultPreset is applied to captions created without an explicit look.
const DefaultPreset = "modern"

type Preset struct {
	Name  string `yaml:"name"`
	Style Style  `yaml:"style"`
}

// Presets maps a preset id to its look.
type Presets map[string]Preset

// BuiltinPresets returns the embedded preset table.
func BuiltinPresets() Presets {
	p, err := parsePresets(builtinPresets)
	if err != nil {
		// embedded file is part of the build
		panic(fmt.Sprintf("caption: builtin presets: %v", err))
	}
	return p
}

// LoadPresets returns the builtin presets overlaid with the entries of a user YAML file.
// An empty path returns the builtins.
func LoadPresets(path string) (Presets, error) {
	out := BuiltinPresets()
	if strings.TrimSpace(path) == "" {
		return out, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	user, err := parsePresets(b)
	if err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	for id, p := range user {
		out[id] = p
	}
	return out, nil
}

func parsePresets(b []byte) (Presets, error) {
	raw := map[string]Preset{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(Presets, len(raw))
	for id, p := range raw {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if p.Name == "" {
			p.Name = id
		}
		out[id] = p
	}
	return out, nil
}

// IDs returns preset ids in stable order.
func (p Presets) IDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Apply replaces the look of s with preset id. Position and width overrides survive,
// so switching looks never moves a caption the user has placed.
func (p Presets) Apply(id string, s Style) (Style, error) {
	pr, ok := p[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return s, fmt.Errorf("unknown style preset %q (have %s)", id, strings.Join(p.IDs(), ", "))
	}
	out := pr.Style.clone()
	out.CustomXPercent = clonePtr(s.CustomXPercent)
	out.CustomYPercent = clonePtr(s.CustomYPercent)
	out.MaxWidthPercent = clonePtr(s.MaxWidthPercent)
	return out, nil
}
