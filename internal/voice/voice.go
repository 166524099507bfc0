// Package voice holds the declarative per-entity profiles: which entries an
// entity owns, what it detects, when it may speak and how it sounds.
package voice

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stellarlinkco/resonance/internal/gate"
	"github.com/stellarlinkco/resonance/internal/mode"
	"github.com/stellarlinkco/resonance/internal/pattern"
)

//go:embed voices.yaml
var builtinYAML []byte

// EntityType classifies a voice.
type EntityType string

const (
	Archetype EntityType = "archetype"
	Substance EntityType = "substance"
)

// Profile is one voice as declared in YAML.
type Profile struct {
	ID          string         `yaml:"id"`
	DisplayName string         `yaml:"displayName,omitempty"`
	Type        EntityType     `yaml:"type"`
	Persona     string         `yaml:"persona"`
	Vocabulary  []string       `yaml:"vocabulary,omitempty"`
	Pattern     pattern.Config `yaml:"pattern"`
	ChangeFlags []string       `yaml:"changeFlags,omitempty"`
	Gate        gate.Params    `yaml:"gate,omitempty"`
	Modes       []mode.Mode    `yaml:"modes"`
	DefaultMode string         `yaml:"defaultMode"`
}

// ModeTable returns the profile's modes in priority order.
func (p Profile) ModeTable() mode.Table {
	return mode.Table{Modes: p.Modes, Default: p.DefaultMode}
}

// Name returns the display name, falling back to the ID.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// Voice is a validated profile with its analyzer.
type Voice struct {
	Profile
	Analyzer *pattern.Analyzer
}

// compile validates p and builds its analyzer.
func compile(p Profile) (*Voice, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return nil, fmt.Errorf("voice id is required")
	}
	switch p.Type {
	case Archetype, Substance:
	default:
		return nil, fmt.Errorf("voice %q: unknown type %q", p.ID, p.Type)
	}
	a, err := pattern.New(p.Pattern)
	if err != nil {
		return nil, fmt.Errorf("voice %q: pattern: %w", p.ID, err)
	}
	p.Pattern = a.Config()

	declared := make(map[string]bool, len(p.Pattern.Rules))
	for _, r := range p.Pattern.Rules {
		declared[r.Name] = true
	}
	for _, f := range p.ChangeFlags {
		if !declared[f] {
			return nil, fmt.Errorf("voice %q: change flag %q is not a declared detector", p.ID, f)
		}
	}
	tbl := p.ModeTable()
	if err := tbl.Validate(); err != nil {
		return nil, fmt.Errorf("voice %q: %w", p.ID, err)
	}
	for _, m := range p.Modes {
		for _, group := range [][]string{m.When.Any, m.When.All, m.When.None} {
			for _, f := range group {
				if !declared[f] {
					return nil, fmt.Errorf("voice %q: mode %q references unknown detector %q", p.ID, m.Name, f)
				}
			}
		}
	}
	p.Gate = p.Gate.WithDefaults()
	return &Voice{Profile: p, Analyzer: a}, nil
}

// ConfigurationError reports a voice that is referenced but cannot be used.
type ConfigurationError struct {
	ID     string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("voice %q: %s", e.ID, e.Reason)
}

// Registry holds voices in declaration order.
type Registry struct {
	voices []*Voice
	byID   map[string]*Voice
}

type document struct {
	Voices []Profile `yaml:"voices"`
}

// Load parses a YAML voice document.
func Load(r io.Reader) (*Registry, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse voices: %w", err)
	}
	reg := &Registry{byID: make(map[string]*Voice, len(doc.Voices))}
	for _, p := range doc.Voices {
		v, err := compile(p)
		if err != nil {
			return nil, err
		}
		if _, dup := reg.byID[v.ID]; dup {
			return nil, fmt.Errorf("voice %q declared twice", v.ID)
		}
		reg.voices = append(reg.voices, v)
		reg.byID[v.ID] = v
	}
	return reg, nil
}

// LoadFile reads voices from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voices: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// BuiltinYAML returns the source of the built-in voices.
func BuiltinYAML() []byte {
	return append([]byte(nil), builtinYAML...)
}

// Builtin returns the voices shipped with the binary.
func Builtin() (*Registry, error) {
	return Load(bytes.NewReader(builtinYAML))
}

// All returns every voice in declaration order.
func (r *Registry) All() []*Voice {
	out := make([]*Voice, len(r.voices))
	copy(out, r.voices)
	return out
}

// Lookup returns the voice with id.
func (r *Registry) Lookup(id string) (*Voice, error) {
	v, ok := r.byID[id]
	if !ok {
		return nil, &ConfigurationError{ID: id, Reason: "unknown voice profile"}
	}
	return v, nil
}

// Select resolves ids in order. An empty list selects every voice. Unknown
// ids are reported, not fatal.
func (r *Registry) Select(ids []string) ([]*Voice, []error) {
	if len(ids) == 0 {
		return r.All(), nil
	}
	var (
		out  []*Voice
		errs []error
	)
	for _, id := range ids {
		v, err := r.Lookup(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, v)
	}
	return out, errs
}
