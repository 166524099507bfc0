package scheduler

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/resonance/internal/mode"
	"github.com/stellarlinkco/resonance/internal/pattern"
	"github.com/stellarlinkco/resonance/internal/voice"
)

// Describe builds the generation request for one voice in one mode.
func Describe(v *voice.Voice, sig pattern.Signal, m mode.Mode) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, a %s voice.\n", v.Name(), v.Type)
	if v.Persona != "" {
		fmt.Fprintf(&sb, "Persona: %s\n", strings.TrimSpace(v.Persona))
	}
	if len(v.Vocabulary) > 0 {
		fmt.Fprintf(&sb, "Favour these words: %s\n", strings.Join(v.Vocabulary, ", "))
	}

	fmt.Fprintf(&sb, "\nMode: %s\n", m.Name)
	if m.Style != "" {
		fmt.Fprintf(&sb, "Style: %s\n", m.Style)
	}

	days := int(v.Analyzer.Config().Window.Hours() / 24)
	sb.WriteString("\nWhat has been observed:\n")
	fmt.Fprintf(&sb, "- %d entries in the last %d days, %d in the %d days before\n",
		sig.RecentCount, days, sig.PreviousCount, days)
	if sig.RecentCount >= 2 {
		fmt.Fprintf(&sb, "- about %.1f hours between entries (shortest %.1f, longest %.1f)\n",
			sig.MeanGapHours, sig.MinGapHours, sig.MaxGapHours)
	}
	if sig.RecentAnchors > 0 || sig.PreviousAnchors > 0 {
		fmt.Fprintf(&sb, "- %d anchor completions recently, %d before\n", sig.RecentAnchors, sig.PreviousAnchors)
	}
	for _, n := range sig.Narrative {
		fmt.Fprintf(&sb, "- %s\n", n)
	}

	sb.WriteString("\nWrite one short message to the person, in character. Do not mention numbers or tracking.")
	return sb.String()
}
