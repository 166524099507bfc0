// Package mode maps a pattern signal to one of an entity's declared message
// modes.
package mode

import (
	"fmt"
	"sync"

	"github.com/stellarlinkco/resonance/internal/pattern"
)

// Trigger is a boolean expression over detector flags. Every non-empty
// clause must hold; an empty trigger is always true.
type Trigger struct {
	Any  []string `yaml:"any,omitempty"`
	All  []string `yaml:"all,omitempty"`
	None []string `yaml:"none,omitempty"`
}

// Eval evaluates t against sig.
func (t Trigger) Eval(sig pattern.Signal) bool {
	if len(t.Any) > 0 && !sig.Any(t.Any...) {
		return false
	}
	for _, n := range t.All {
		if !sig.Flag(n) {
			return false
		}
	}
	for _, n := range t.None {
		if sig.Flag(n) {
			return false
		}
	}
	return true
}

// Mode is a named category of message with its trigger, style guidance and
// fallback exemplars.
type Mode struct {
	Name      string   `yaml:"name"`
	When      Trigger  `yaml:"when,omitempty"`
	Style     string   `yaml:"style"`
	Exemplars []string `yaml:"exemplars"`
}

// Table is a priority-ordered list of modes plus the last-resort default.
type Table struct {
	Modes   []Mode `yaml:"modes"`
	Default string `yaml:"default"`
}

// Validate checks that mode names are unique, every mode has an exemplar
// and the default mode is declared.
func (t Table) Validate() error {
	if len(t.Modes) == 0 {
		return fmt.Errorf("at least one mode is required")
	}
	seen := make(map[string]bool, len(t.Modes))
	for _, m := range t.Modes {
		if m.Name == "" {
			return fmt.Errorf("mode name is required")
		}
		if seen[m.Name] {
			return fmt.Errorf("mode %q declared twice", m.Name)
		}
		seen[m.Name] = true
		if len(m.Exemplars) == 0 {
			return fmt.Errorf("mode %q: at least one exemplar is required", m.Name)
		}
	}
	if !seen[t.Default] {
		return fmt.Errorf("default mode %q is not declared", t.Default)
	}
	return nil
}

// Lookup returns the named mode.
func (t Table) Lookup(name string) (Mode, bool) {
	for _, m := range t.Modes {
		if m.Name == name {
			return m, true
		}
	}
	return Mode{}, false
}

// Select returns the first mode, in declared order, whose trigger holds for
// sig. The default mode is never matched by its own trigger; it is returned
// when nothing else matches.
func (t Table) Select(sig pattern.Signal) Mode {
	for _, m := range t.Modes {
		if m.Name == t.Default {
			continue
		}
		if m.When.Eval(sig) {
			return m
		}
	}
	m, _ := t.Lookup(t.Default)
	return m
}

// Rotation tracks which fallback exemplar each mode hands out next. The
// zero value is ready to use and safe for concurrent use.
type Rotation struct {
	mu   sync.Mutex
	next map[string]int
}

// Next returns the mode's next exemplar, cycling through the list. key
// scopes the counter, usually "<voice>/<mode>".
func (r *Rotation) Next(key string, m Mode) string {
	if len(m.Exemplars) == 0 {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next == nil {
		r.next = make(map[string]int)
	}
	i := r.next[key] % len(m.Exemplars)
	r.next[key] = i + 1
	return m.Exemplars[i]
}
