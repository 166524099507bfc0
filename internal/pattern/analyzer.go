// Package pattern turns raw entries and anchor completions into a Signal for
// one entity. Detectors are declared as data in a Config; the analyzer holds
// no state between runs.
package pattern

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/stellarlinkco/resonance/internal/event"
)

// Signal is the derived snapshot for one entity at one instant.
type Signal struct {
	TotalCount      int             `json:"totalCount"`
	RecentCount     int             `json:"recentCount"`
	PreviousCount   int             `json:"previousCount"`
	RecentAnchors   int             `json:"recentAnchors"`
	PreviousAnchors int             `json:"previousAnchors"`
	MeanGapHours    float64         `json:"meanGapHours"`
	MinGapHours     float64         `json:"minGapHours"`
	MaxGapHours     float64         `json:"maxGapHours"`
	GapVariance     float64         `json:"gapVariance"`
	Flags           map[string]bool `json:"flags"`
	Detectors       []string        `json:"detectors"`
	Narrative       []string        `json:"narrative,omitempty"`
}

// Flag returns a detector's result. Unknown names are false.
func (s Signal) Flag(name string) bool {
	return s.Flags[name]
}

// Any reports whether any of the named detectors fired.
func (s Signal) Any(names ...string) bool {
	for _, n := range names {
		if s.Flags[n] {
			return true
		}
	}
	return false
}

// Fired lists the detectors that evaluated true, in declaration order.
func (s Signal) Fired() []string {
	var out []string
	for _, n := range s.Detectors {
		if s.Flags[n] {
			out = append(out, n)
		}
	}
	return out
}

// Context flattens the narrative for storage next to a transmission.
func (s Signal) Context() string {
	return strings.Join(s.Narrative, "; ")
}

// Analyzer computes signals for one configured entity.
type Analyzer struct {
	cfg        Config
	narratives []*template.Template
}

// New validates cfg and prepares narrative templates.
func New(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{cfg: cfg, narratives: make([]*template.Template, len(cfg.Rules))}
	for i, r := range cfg.Rules {
		text := r.Narrative
		if text == "" {
			text = r.Name
		}
		tmpl, err := template.New(r.Name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("detector %q narrative: %w", r.Name, err)
		}
		if err := tmpl.Execute(io.Discard, narrativeData{}); err != nil {
			return nil, fmt.Errorf("detector %q narrative: %w", r.Name, err)
		}
		a.narratives[i] = tmpl
	}
	return a, nil
}

// Config returns the validated configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Matches reports whether an entry belongs to this analyzer's entity.
func (a *Analyzer) Matches(e event.Entry) bool {
	return a.cfg.Matches(e.EntityName)
}

// Analyze computes the signal at now. Entries of other entities are ignored,
// so callers may pass the whole event history.
func (a *Analyzer) Analyze(now time.Time, entries []event.Entry, anchors []event.AnchorCompletion) Signal {
	recentW, previousW := event.Windows(now, a.cfg.Window)

	var in Input
	in.RecentWindow = recentW
	total := 0
	for _, e := range entries {
		if !a.cfg.Matches(e.EntityName) || e.Timestamp.After(now) {
			continue
		}
		total++
		switch {
		case recentW.Contains(e.Timestamp):
			in.Recent = append(in.Recent, e)
		case previousW.Contains(e.Timestamp):
			in.Previous = append(in.Previous, e)
		}
	}
	for _, c := range anchors {
		if !a.cfg.Anchors.matches(c) {
			continue
		}
		switch {
		case recentW.Contains(c.Timestamp):
			in.RecentAnchors = append(in.RecentAnchors, c)
		case previousW.Contains(c.Timestamp):
			in.PreviousAnchors = append(in.PreviousAnchors, c)
		}
	}
	in.Recent = sortedByTime(in.Recent)
	in.Previous = sortedByTime(in.Previous)
	in.Gaps = GapStats(in.Recent)

	sig := Signal{
		TotalCount:      total,
		RecentCount:     len(in.Recent),
		PreviousCount:   len(in.Previous),
		RecentAnchors:   len(in.RecentAnchors),
		PreviousAnchors: len(in.PreviousAnchors),
		MeanGapHours:    in.Gaps.Mean,
		MinGapHours:     in.Gaps.Min,
		MaxGapHours:     in.Gaps.Max,
		GapVariance:     in.Gaps.Variance,
		Flags:           make(map[string]bool, len(a.cfg.Rules)),
		Detectors:       make([]string, 0, len(a.cfg.Rules)),
	}

	for i, r := range a.cfg.Rules {
		fired := detectors[r.Kind](r, in)
		sig.Flags[r.Name] = fired
		sig.Detectors = append(sig.Detectors, r.Name)
		if fired {
			sig.Narrative = append(sig.Narrative, a.render(i, r, sig, in))
		}
	}
	return sig
}

type narrativeData struct {
	Name            string
	Recent          int
	Previous        int
	Total           int
	RecentAnchors   int
	PreviousAnchors int
	MeanGapHours    float64
	MaxGapHours     float64
	WindowDays      int
	Bucket          string
	Dominant        string
}

func (a *Analyzer) render(i int, r Rule, sig Signal, in Input) string {
	data := narrativeData{
		Name:            r.Name,
		Recent:          sig.RecentCount,
		Previous:        sig.PreviousCount,
		Total:           sig.TotalCount,
		RecentAnchors:   sig.RecentAnchors,
		PreviousAnchors: sig.PreviousAnchors,
		MeanGapHours:    sig.MeanGapHours,
		MaxGapHours:     sig.MaxGapHours,
		WindowDays:      int(a.cfg.Window / (24 * time.Hour)),
		Bucket:          string(r.Bucket),
		Dominant:        string(dominantBucket(in.Recent)),
	}
	var sb strings.Builder
	if err := a.narratives[i].Execute(&sb, data); err != nil {
		return r.Name
	}
	return sb.String()
}
