package pattern

import (
	"math"
	"unicode/utf8"

	"github.com/stellarlinkco/resonance/internal/event"
)

// Input is everything a detector may look at. Entries are sorted ascending
// by timestamp.
type Input struct {
	Recent          []event.Entry
	Previous        []event.Entry
	RecentAnchors   []event.AnchorCompletion
	PreviousAnchors []event.AnchorCompletion
	RecentWindow    event.Window
	Gaps            Gaps
}

// Detector evaluates one rule against an input.
type Detector func(r Rule, in Input) bool

var detectors = map[Kind]Detector{
	KindFrequencyIncrease: frequencyIncrease,
	KindFrequencyDecrease: frequencyDecrease,
	KindCluster:           cluster,
	KindAbsence:           absence,
	KindBucketShift:       bucketShift,
	KindBucketDominance:   bucketDominance,
	KindAnchorDropOff:     anchorDropOff,
	KindRhythmBroken:      rhythmBroken,
	KindRigidity:          rigidity,
	KindBurstCrash:        burstCrash,
	KindReflectionDensity: reflectionDensity,
}

func frequencyIncrease(r Rule, in Input) bool {
	recent, previous := len(in.Recent), len(in.Previous)
	return recent > previous && recent >= r.MinCount && float64(recent) >= float64(previous)*r.Factor
}

func frequencyDecrease(r Rule, in Input) bool {
	previous := len(in.Previous)
	if previous == 0 {
		return false
	}
	return float64(len(in.Recent)) <= float64(previous)*r.Factor
}

func cluster(r Rule, in Input) bool {
	if r.Size < 2 || len(in.Recent) < r.Size {
		return false
	}
	for i := 0; i+r.Size-1 < len(in.Recent); i++ {
		first := in.Recent[i].Timestamp
		last := in.Recent[i+r.Size-1].Timestamp
		if last.Sub(first) <= r.Span {
			return true
		}
	}
	return false
}

func absence(_ Rule, in Input) bool {
	return len(in.Recent) == 0 && len(in.Previous) > 0
}

func bucketShift(_ Rule, in Input) bool {
	if len(in.Recent) == 0 || len(in.Previous) == 0 {
		return false
	}
	return dominantBucket(in.Recent) != dominantBucket(in.Previous)
}

func bucketDominance(r Rule, in Input) bool {
	total := len(in.Recent)
	if total == 0 || total < r.MinCount {
		return false
	}
	n := 0
	for _, e := range in.Recent {
		if e.TimeBucket == r.Bucket {
			n++
		}
	}
	return float64(n)/float64(total) >= r.Ratio
}

func anchorDropOff(r Rule, in Input) bool {
	previous := len(in.PreviousAnchors)
	if previous == 0 {
		return false
	}
	dropped := float64(len(in.RecentAnchors)) < float64(previous)*r.Fraction
	return dropped && len(in.Recent) >= len(in.Previous)
}

func rhythmBroken(r Rule, in Input) bool {
	if len(in.Recent) < r.MinCount || in.Gaps.Mean <= 0 {
		return false
	}
	return in.Gaps.Max >= in.Gaps.Mean*r.Factor
}

func rigidity(r Rule, in Input) bool {
	if len(in.Recent) < r.MinCount || in.Gaps.Mean <= 0 {
		return false
	}
	return math.Sqrt(in.Gaps.Variance)/in.Gaps.Mean <= r.Ratio
}

func burstCrash(r Rule, in Input) bool {
	early, late := in.RecentWindow.Split()
	var nEarly, nLate int
	for _, e := range in.Recent {
		switch {
		case early.Contains(e.Timestamp):
			nEarly++
		case late.Contains(e.Timestamp):
			nLate++
		}
	}
	if nEarly == 0 || nEarly < r.MinCount {
		return false
	}
	return float64(nLate) <= float64(nEarly)*r.Fraction
}

func reflectionDensity(r Rule, in Input) bool {
	total := len(in.Recent)
	if total == 0 || total < r.MinCount {
		return false
	}
	n := 0
	for _, e := range in.Recent {
		if utf8.RuneCountInString(e.Reflection) >= r.MinChars {
			n++
		}
	}
	return float64(n)/float64(total) >= r.Ratio
}

// dominantBucket returns the most frequent bucket; ties go to the earlier
// bucket in event.Buckets.
func dominantBucket(entries []event.Entry) event.TimeBucket {
	counts := make(map[event.TimeBucket]int, len(event.Buckets))
	for _, e := range entries {
		counts[e.TimeBucket]++
	}
	var best event.TimeBucket
	bestN := 0
	for _, b := range event.Buckets {
		if counts[b] > bestN {
			best, bestN = b, counts[b]
		}
	}
	return best
}
