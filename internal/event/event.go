// Package event holds the read-side shapes of logged activity: entries for
// tracked entities and completions of scheduled anchor tasks.
package event

import (
	"fmt"
	"strings"
	"time"
)

// TimeBucket is the coarse part of day an event was logged in.
type TimeBucket string

const (
	Morning   TimeBucket = "morning"
	Afternoon TimeBucket = "afternoon"
	Evening   TimeBucket = "evening"
	Late      TimeBucket = "late"
)

// Buckets lists every bucket in declaration order. Argmax ties resolve in this order.
var Buckets = []TimeBucket{Morning, Afternoon, Evening, Late}

// ParseTimeBucket normalizes s into a known bucket.
func ParseTimeBucket(s string) (TimeBucket, error) {
	b := TimeBucket(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Buckets {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown time bucket %q", s)
}

// BucketFor derives the bucket of an instant in its own location.
func BucketFor(t time.Time) TimeBucket {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return Morning
	case h >= 12 && h < 17:
		return Afternoon
	case h >= 17 && h < 22:
		return Evening
	default:
		return Late
	}
}

// Entry is one logged activity instance for a trackable entity.
type Entry struct {
	ID         string     `json:"id"`
	EntityName string     `json:"entityName"`
	Timestamp  time.Time  `json:"timestamp"`
	Intention  string     `json:"intention,omitempty"`
	Sensation  string     `json:"sensation,omitempty"`
	Reflection string     `json:"reflection,omitempty"`
	TimeBucket TimeBucket `json:"timeBucket"`
}

// AnchorCompletion is one completion of a scheduled anchor task. Only used as
// corroborating signal.
type AnchorCompletion struct {
	AnchorID   string     `json:"anchorId"`
	AnchorName string     `json:"anchorName,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	TimeBucket TimeBucket `json:"timeBucket"`
}

// Source gives read access to every recorded entry and anchor completion.
type Source interface {
	Entries() ([]Entry, error)
	AnchorCompletions() ([]AnchorCompletion, error)
}

// Window is the half-open interval (Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// Windows returns the recent window ending at now and the equal-length
// window immediately preceding it.
func Windows(now time.Time, length time.Duration) (recent, previous Window) {
	recent = Window{Start: now.Add(-length), End: now}
	previous = Window{Start: now.Add(-2 * length), End: recent.Start}
	return recent, previous
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return t.After(w.Start) && !t.After(w.End)
}

// Split cuts the window at its midpoint.
func (w Window) Split() (early, late Window) {
	mid := w.Start.Add(w.End.Sub(w.Start) / 2)
	return Window{Start: w.Start, End: mid}, Window{Start: mid, End: w.End}
}
