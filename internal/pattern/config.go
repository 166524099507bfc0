package pattern

import (
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/resonance/internal/event"
)

// DefaultWindow is the recent-window length used when a profile sets none.
const DefaultWindow = 14 * 24 * time.Hour

// MatchMode controls how entry entity names are compared with aliases.
type MatchMode string

const (
	MatchSubstring MatchMode = "substring"
	MatchExact     MatchMode = "exact"
)

// Kind names a detector implementation.
type Kind string

const (
	KindFrequencyIncrease Kind = "frequency_increase"
	KindFrequencyDecrease Kind = "frequency_decrease"
	KindCluster           Kind = "cluster"
	KindAbsence           Kind = "absence"
	KindBucketShift       Kind = "bucket_shift"
	KindBucketDominance   Kind = "bucket_dominance"
	KindAnchorDropOff     Kind = "anchor_dropoff"
	KindRhythmBroken      Kind = "rhythm_broken"
	KindRigidity          Kind = "rigidity"
	KindBurstCrash        Kind = "burst_crash"
	KindReflectionDensity Kind = "reflection_density"
)

// Rule is one named detector with its thresholds. Unused parameters for a
// kind are ignored; zero values pick the kind's defaults.
type Rule struct {
	Name      string           `yaml:"name"`
	Kind      Kind             `yaml:"kind"`
	Factor    float64          `yaml:"factor,omitempty"`
	Fraction  float64          `yaml:"fraction,omitempty"`
	Ratio     float64          `yaml:"ratio,omitempty"`
	MinCount  int              `yaml:"minCount,omitempty"`
	Size      int              `yaml:"size,omitempty"`
	Span      time.Duration    `yaml:"span,omitempty"`
	Bucket    event.TimeBucket `yaml:"bucket,omitempty"`
	MinChars  int              `yaml:"minChars,omitempty"`
	Narrative string           `yaml:"narrative,omitempty"`
}

// AnchorFilter selects the anchor completions that corroborate an entity.
// An empty filter selects every anchor.
type AnchorFilter struct {
	IDs   []string `yaml:"ids,omitempty"`
	Names []string `yaml:"names,omitempty"`
}

// Config declares how one entity's entries are turned into a Signal.
type Config struct {
	Aliases []string      `yaml:"aliases"`
	Match   MatchMode     `yaml:"match,omitempty"`
	Window  time.Duration `yaml:"window,omitempty"`
	Anchors AnchorFilter  `yaml:"anchors,omitempty"`
	Rules   []Rule        `yaml:"detectors"`
}

// Matches reports whether an entry's entity name belongs to this config.
func (c Config) Matches(entityName string) bool {
	name := strings.ToLower(strings.TrimSpace(entityName))
	if name == "" {
		return false
	}
	for _, alias := range c.Aliases {
		a := strings.ToLower(strings.TrimSpace(alias))
		if a == "" {
			continue
		}
		if c.Match == MatchExact {
			if name == a {
				return true
			}
			continue
		}
		if strings.Contains(name, a) {
			return true
		}
	}
	return false
}

func (f AnchorFilter) matches(a event.AnchorCompletion) bool {
	if len(f.IDs) == 0 && len(f.Names) == 0 {
		return true
	}
	for _, id := range f.IDs {
		if strings.EqualFold(id, a.AnchorID) {
			return true
		}
	}
	name := strings.ToLower(a.AnchorName)
	for _, n := range f.Names {
		if n != "" && strings.Contains(name, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// Validate checks the config and fills defaults in place.
func (c *Config) Validate() error {
	if len(c.Aliases) == 0 {
		return fmt.Errorf("at least one alias is required")
	}
	switch c.Match {
	case "":
		c.Match = MatchSubstring
	case MatchSubstring, MatchExact:
	default:
		return fmt.Errorf("unknown match mode %q", c.Match)
	}
	if c.Window < 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}

	seen := make(map[string]bool, len(c.Rules))
	for i := range c.Rules {
		r := &c.Rules[i]
		if r.Name == "" {
			return fmt.Errorf("detector %d: name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("detector %q declared twice", r.Name)
		}
		seen[r.Name] = true
		if _, ok := detectors[r.Kind]; !ok {
			return fmt.Errorf("detector %q: unknown kind %q", r.Name, r.Kind)
		}
		if r.Kind == KindBucketDominance {
			if _, err := event.ParseTimeBucket(string(r.Bucket)); err != nil {
				return fmt.Errorf("detector %q: %w", r.Name, err)
			}
		}
		r.applyDefaults()
	}
	return nil
}

func (r *Rule) applyDefaults() {
	switch r.Kind {
	case KindFrequencyIncrease:
		setFloat(&r.Factor, 1.5)
		setInt(&r.MinCount, 1)
	case KindFrequencyDecrease:
		setFloat(&r.Factor, 0.5)
	case KindCluster:
		setInt(&r.Size, 3)
		if r.Span <= 0 {
			r.Span = 48 * time.Hour
		}
	case KindBucketDominance:
		setFloat(&r.Ratio, 0.6)
		setInt(&r.MinCount, 3)
	case KindAnchorDropOff:
		setFloat(&r.Fraction, 0.5)
	case KindRhythmBroken:
		setFloat(&r.Factor, 3)
		setInt(&r.MinCount, 4)
	case KindRigidity:
		setFloat(&r.Ratio, 0.15)
		setInt(&r.MinCount, 5)
	case KindBurstCrash:
		setFloat(&r.Fraction, 0.25)
		setInt(&r.MinCount, 4)
	case KindReflectionDensity:
		setFloat(&r.Ratio, 0.5)
		setInt(&r.MinCount, 2)
		setInt(&r.MinChars, 80)
	}
}

func setFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}
