package pattern

import (
	"sort"

	"github.com/stellarlinkco/resonance/internal/event"
)

// Gaps summarizes the spacing between consecutive entries, in hours.
type Gaps struct {
	Mean     float64
	Min      float64
	Max      float64
	Variance float64
}

// GapStats computes gap statistics over entries sorted by time. Every field
// is zero when fewer than two entries exist. Variance is the population
// variance of the gap list.
func GapStats(entries []event.Entry) Gaps {
	if len(entries) < 2 {
		return Gaps{}
	}
	sorted := sortedByTime(entries)

	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].Timestamp.Sub(sorted[i-1].Timestamp).Hours())
	}

	g := Gaps{Min: gaps[0], Max: gaps[0]}
	var sum float64
	for _, v := range gaps {
		sum += v
		if v < g.Min {
			g.Min = v
		}
		if v > g.Max {
			g.Max = v
		}
	}
	g.Mean = sum / float64(len(gaps))
	for _, v := range gaps {
		d := v - g.Mean
		g.Variance += d * d
	}
	g.Variance /= float64(len(gaps))
	return g
}

func sortedByTime(entries []event.Entry) []event.Entry {
	out := make([]event.Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
