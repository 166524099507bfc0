// Package gate decides whether an entity may emit a transmission in the
// current sweep. Decide is a pure function of its arguments and one draw
// from the injected random source.
package gate

import (
	"time"

	"github.com/stellarlinkco/resonance/internal/pattern"
)

const (
	DefaultMinimumInterval   = 48 * time.Hour
	DefaultMaxPerRollingWeek = 2
	DefaultBaseProbability   = 0.2
	DefaultChangeMultiplier  = 2.0

	// RollingWeek is the quota window.
	RollingWeek = 7 * 24 * time.Hour
)

// Rand is the random source for the admission roll. *math/rand/v2.Rand
// satisfies it.
type Rand interface {
	Float64() float64
}

// Params are the per-entity gating parameters.
type Params struct {
	MinimumInterval   time.Duration `yaml:"minimumInterval,omitempty" json:"minimumInterval,omitempty"`
	MaxPerRollingWeek int           `yaml:"maxPerRollingWeek,omitempty" json:"maxPerRollingWeek,omitempty"`
	BaseProbability   float64       `yaml:"baseProbability,omitempty" json:"baseProbability,omitempty"`
	ChangeMultiplier  float64       `yaml:"changeMultiplier,omitempty" json:"changeMultiplier,omitempty"`
}

// WithDefaults fills unset parameters.
func (p Params) WithDefaults() Params {
	if p.MinimumInterval <= 0 {
		p.MinimumInterval = DefaultMinimumInterval
	}
	if p.MaxPerRollingWeek <= 0 {
		p.MaxPerRollingWeek = DefaultMaxPerRollingWeek
	}
	if p.BaseProbability <= 0 {
		p.BaseProbability = DefaultBaseProbability
	}
	if p.ChangeMultiplier <= 0 {
		p.ChangeMultiplier = DefaultChangeMultiplier
	}
	return p
}

// State is what the gate needs to know about an entity's history.
// CountInRollingWeek is derived from the transmission log at query time.
type State struct {
	LastEmittedAt      time.Time `json:"lastEmittedAt,omitempty"`
	CountInRollingWeek int       `json:"-"`
}

// Options relax the gate for manual triggers.
type Options struct {
	SkipQuota    bool
	SkipRoll     bool
	SkipCooldown bool
}

// Reason names the step that produced a decision.
type Reason string

const (
	Admitted Reason = "admitted"
	Cooldown Reason = "cooldown"
	Quota    Reason = "quota"
	NoChange Reason = "no_change"
	RollLost Reason = "roll"
	NoRandom Reason = "no_random_source"
)

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Admit       bool
	Reason      Reason
	Probability float64
	Draw        float64
}

// HasSignificantChange reports whether any of changeFlags fired. An empty
// list counts every detector of the signal.
func HasSignificantChange(sig pattern.Signal, changeFlags []string) bool {
	if len(changeFlags) == 0 {
		return len(sig.Fired()) > 0
	}
	return sig.Any(changeFlags...)
}

// Decide runs cooldown, weekly quota, change requirement and the
// probabilistic roll in that order, stopping at the first denial.
func Decide(now time.Time, sig pattern.Signal, changeFlags []string, st State, p Params, rnd Rand, opts Options) Decision {
	p = p.WithDefaults()

	if !opts.SkipCooldown && !st.LastEmittedAt.IsZero() && now.Sub(st.LastEmittedAt) < p.MinimumInterval {
		return Decision{Reason: Cooldown}
	}
	if !opts.SkipQuota && st.CountInRollingWeek >= p.MaxPerRollingWeek {
		return Decision{Reason: Quota}
	}
	if !HasSignificantChange(sig, changeFlags) {
		return Decision{Reason: NoChange}
	}

	// Reaching the roll implies a significant change, so the boosted
	// probability always applies.
	prob := p.BaseProbability * p.ChangeMultiplier
	if prob > 1 {
		prob = 1
	}
	if opts.SkipRoll {
		return Decision{Admit: true, Reason: Admitted, Probability: prob}
	}
	if rnd == nil {
		return Decision{Reason: NoRandom, Probability: prob}
	}
	draw := rnd.Float64()
	if draw < prob {
		return Decision{Admit: true, Reason: Admitted, Probability: prob, Draw: draw}
	}
	return Decision{Reason: RollLost, Probability: prob, Draw: draw}
}
