package gate

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stellarlinkco/resonance/internal/pattern"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func changed() pattern.Signal {
	return pattern.Signal{
		Flags:     map[string]bool{"clusterDetected": true, "stable": false},
		Detectors: []string{"clusterDetected", "stable"},
	}
}

func stable() pattern.Signal {
	return pattern.Signal{
		Flags:     map[string]bool{"clusterDetected": false, "stable": true},
		Detectors: []string{"clusterDetected", "stable"},
	}
}

var changeFlags = []string{"clusterDetected"}

func TestDecide_Cooldown(t *testing.T) {
	st := State{LastEmittedAt: now.Add(-47 * time.Hour)}
	d := Decide(now, changed(), changeFlags, st, Params{}, fixedRand(0), Options{})
	assert.False(t, d.Admit)
	assert.Equal(t, Cooldown, d.Reason)

	st.LastEmittedAt = now.Add(-48 * time.Hour)
	d = Decide(now, changed(), changeFlags, st, Params{}, fixedRand(0), Options{})
	assert.True(t, d.Admit, "exactly the minimum interval has elapsed")

	st.LastEmittedAt = now.Add(-time.Hour)
	d = Decide(now, changed(), changeFlags, st, Params{}, fixedRand(0), Options{SkipCooldown: true})
	assert.True(t, d.Admit)
}

func TestDecide_Quota(t *testing.T) {
	st := State{CountInRollingWeek: 2}
	d := Decide(now, changed(), changeFlags, st, Params{}, fixedRand(0), Options{})
	assert.Equal(t, Quota, d.Reason)

	d = Decide(now, changed(), changeFlags, st, Params{MaxPerRollingWeek: 3}, fixedRand(0), Options{})
	assert.True(t, d.Admit)

	d = Decide(now, changed(), changeFlags, st, Params{}, fixedRand(0), Options{SkipQuota: true})
	assert.True(t, d.Admit)
}

func TestDecide_NoSignalNoSpeak(t *testing.T) {
	for _, opts := range []Options{{}, {SkipQuota: true, SkipRoll: true, SkipCooldown: true}} {
		d := Decide(now, stable(), changeFlags, State{}, Params{}, fixedRand(0), opts)
		assert.False(t, d.Admit)
		assert.Equal(t, NoChange, d.Reason)
	}

	d := Decide(now, pattern.Signal{}, nil, State{}, Params{}, fixedRand(0), Options{})
	assert.Equal(t, NoChange, d.Reason, "an empty signal never speaks")
}

func TestDecide_BoostedRoll(t *testing.T) {
	d := Decide(now, changed(), changeFlags, State{}, Params{}, fixedRand(0.39), Options{})
	assert.True(t, d.Admit)
	assert.InDelta(t, 0.4, d.Probability, 1e-9)

	d = Decide(now, changed(), changeFlags, State{}, Params{}, fixedRand(0.4), Options{})
	assert.False(t, d.Admit)
	assert.Equal(t, RollLost, d.Reason)

	d = Decide(now, changed(), changeFlags, State{}, Params{BaseProbability: 0.8, ChangeMultiplier: 3}, fixedRand(0.99), Options{})
	assert.True(t, d.Admit)
	assert.Equal(t, 1.0, d.Probability)
}

func TestDecide_EmptyChangeFlagsUseEveryDetector(t *testing.T) {
	d := Decide(now, stable(), nil, State{}, Params{}, fixedRand(0), Options{})
	assert.True(t, d.Admit)
}

func TestDecide_DeterministicUnderSeed(t *testing.T) {
	run := func() []bool {
		rnd := rand.New(rand.NewPCG(7, 11))
		var out []bool
		for i := 0; i < 50; i++ {
			out = append(out, Decide(now, changed(), changeFlags, State{}, Params{}, rnd, Options{}).Admit)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestDecide_NilRand(t *testing.T) {
	d := Decide(now, changed(), changeFlags, State{}, Params{}, nil, Options{})
	assert.False(t, d.Admit)
	assert.Equal(t, NoRandom, d.Reason)
}
