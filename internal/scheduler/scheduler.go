// Package scheduler runs sweeps: for each registered voice it analyzes recent
// events, consults the gate, and emits at most a few transmissions. It is the
// only writer of the transmission log and of per-voice gate state.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/resonance/internal/event"
	"github.com/stellarlinkco/resonance/internal/gate"
	"github.com/stellarlinkco/resonance/internal/generate"
	"github.com/stellarlinkco/resonance/internal/mode"
	"github.com/stellarlinkco/resonance/internal/pattern"
	"github.com/stellarlinkco/resonance/internal/translog"
	"github.com/stellarlinkco/resonance/internal/voice"
)

const (
	DefaultGlobalCheckInterval = 2 * time.Hour
	DefaultMaxPerSweep         = 2
	DefaultForcedMaxPerSweep   = 1
	DefaultWorkers             = 4

	lastCheckKey  = "scheduler/last_global_check"
	gateKeyPrefix = "gate/"
)

// Rand is the random source for admission rolls and for choosing among
// eligible voices. *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

// Options tune a Scheduler. Zero fields take defaults.
type Options struct {
	GlobalCheckInterval time.Duration
	MaxPerSweep         int
	ForcedMaxPerSweep   int
	GenerationTimeout   time.Duration
	Workers             int
	Capacity            int

	Rand   Rand
	Now    func() time.Time
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.GlobalCheckInterval <= 0 {
		o.GlobalCheckInterval = DefaultGlobalCheckInterval
	}
	if o.MaxPerSweep <= 0 {
		o.MaxPerSweep = DefaultMaxPerSweep
	}
	if o.ForcedMaxPerSweep <= 0 {
		o.ForcedMaxPerSweep = DefaultForcedMaxPerSweep
	}
	if o.GenerationTimeout <= 0 {
		o.GenerationTimeout = generate.DefaultTimeout
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// SweepOptions select a forced sweep. A forced sweep ignores the global
// interval, the weekly quota and the probability roll, and admits at most
// ForcedMaxPerSweep voices. The cooldown still applies unless
// OverrideCooldown is set.
type SweepOptions struct {
	Force            bool
	OverrideCooldown bool
}

// Outcome is what happened to one voice during a sweep.
type Outcome struct {
	Voice    string
	Signal   pattern.Signal
	Decision gate.Decision
	Selected bool
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	At       time.Time
	Skipped  bool
	Outcomes []Outcome
	Emitted  []translog.Transmission
	Errors   []error
}

// Scheduler owns the sweep. Sweeps are serialized by an internal lock.
type Scheduler struct {
	voices []*voice.Voice
	source event.Source
	kv     translog.KV
	log    *translog.Log
	gen    generate.Generator
	opts   Options
	logger *zap.Logger

	rotation mode.Rotation
	mu       sync.Mutex
	vmu      sync.RWMutex

	// OnTransmission is called after each transmission is persisted.
	OnTransmission func(t translog.Transmission)
}

// New builds a scheduler over the given voices. kv backs both the
// transmission log and the scheduler's own state.
func New(voices []*voice.Voice, source event.Source, kv translog.KV, gen generate.Generator, opts Options) *Scheduler {
	opts = opts.withDefaults()
	return &Scheduler{
		voices: voices,
		source: source,
		kv:     kv,
		log:    translog.New(kv, opts.Capacity, opts.Logger.Named("translog")),
		gen:    gen,
		opts:   opts,
		logger: opts.Logger.Named("scheduler"),
	}
}

// Log exposes the transmission log for queries.
func (s *Scheduler) Log() *translog.Log {
	return s.log
}

// Voices returns the registered voices.
func (s *Scheduler) Voices() []*voice.Voice {
	s.vmu.RLock()
	defer s.vmu.RUnlock()
	return s.voices
}

// SetVoices replaces the registered voices. A running sweep finishes with
// the set it started with.
func (s *Scheduler) SetVoices(voices []*voice.Voice) {
	s.vmu.Lock()
	defer s.vmu.Unlock()
	s.voices = voices
}

// Sweep runs one pass over every registered voice. Failures of one voice
// are recorded in the result and never stop the others. The returned error
// is non-nil only when ctx ended before the sweep completed, in which case
// the global check time is left untouched so the next trigger is due.
func (s *Scheduler) Sweep(ctx context.Context, so SweepOptions) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	voices := s.Voices()
	res := SweepResult{At: now}

	if !so.Force {
		if last, ok := s.LastGlobalCheck(); ok && now.Sub(last) < s.opts.GlobalCheckInterval {
			res.Skipped = true
			return res, nil
		}
	}

	entries, err := s.source.Entries()
	if err != nil {
		s.logger.Warn("read entries, analyzing as empty", zap.Error(err))
		res.Errors = append(res.Errors, fmt.Errorf("read entries: %w", err))
		entries = nil
	}
	anchors, err := s.source.AnchorCompletions()
	if err != nil {
		s.logger.Warn("read anchor completions, analyzing as empty", zap.Error(err))
		res.Errors = append(res.Errors, fmt.Errorf("read anchor completions: %w", err))
		anchors = nil
	}

	signals, err := s.analyze(ctx, voices, now, entries, anchors)
	if err != nil {
		return res, err
	}

	gateOpts := gate.Options{
		SkipQuota:    so.Force,
		SkipRoll:     so.Force,
		SkipCooldown: so.Force && so.OverrideCooldown,
	}
	var eligible []int
	res.Outcomes = make([]Outcome, len(voices))
	for i, v := range voices {
		st := s.gateState(v.ID, now)
		d := gate.Decide(now, signals[i], v.ChangeFlags, st, v.Gate, s.opts.Rand, gateOpts)
		res.Outcomes[i] = Outcome{Voice: v.ID, Signal: signals[i], Decision: d}
		s.logger.Debug("gate decision",
			zap.String("voice", v.ID),
			zap.String("reason", string(d.Reason)),
			zap.Float64("probability", d.Probability),
			zap.Strings("fired", signals[i].Fired()))
		if d.Admit {
			eligible = append(eligible, i)
		}
	}

	limit := s.opts.MaxPerSweep
	if so.Force {
		limit = s.opts.ForcedMaxPerSweep
	}
	s.opts.Rand.Shuffle(len(eligible), func(a, b int) {
		eligible[a], eligible[b] = eligible[b], eligible[a]
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	for _, i := range eligible {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Outcomes[i].Selected = true
		t, err := s.emit(ctx, now, voices[i], signals[i], so.Force)
		if err != nil {
			s.logger.Error("drop transmission", zap.String("voice", voices[i].ID), zap.Error(err))
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Emitted = append(res.Emitted, t)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := s.setLastGlobalCheck(now); err != nil {
		s.logger.Warn("persist last global check", zap.Error(err))
		res.Errors = append(res.Errors, err)
	}

	s.logger.Info("sweep complete",
		zap.Bool("forced", so.Force),
		zap.Int("voices", len(voices)),
		zap.Int("eligible", len(eligible)),
		zap.Int("emitted", len(res.Emitted)))
	return res, nil
}

// analyze computes every voice's signal concurrently. Analysis only reads
// its arguments.
func (s *Scheduler) analyze(ctx context.Context, voices []*voice.Voice, now time.Time, entries []event.Entry, anchors []event.AnchorCompletion) ([]pattern.Signal, error) {
	signals := make([]pattern.Signal, len(voices))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.opts.Workers)
	for i, v := range voices {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			signals[i] = v.Analyzer.Analyze(now, entries, anchors)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return signals, nil
}

func (s *Scheduler) emit(ctx context.Context, now time.Time, v *voice.Voice, sig pattern.Signal, forced bool) (translog.Transmission, error) {
	m := v.ModeTable().Select(sig)

	content, err := generate.WithTimeout(ctx, s.gen, Describe(v, sig, m), s.opts.GenerationTimeout)
	fallback := false
	if err != nil {
		var genErr *generate.Error
		timedOut := errors.As(err, &genErr) && genErr.Timeout
		s.logger.Warn("generation failed, using exemplar",
			zap.String("voice", v.ID), zap.String("mode", m.Name),
			zap.Bool("timeout", timedOut), zap.Error(err))
		content = s.rotation.Next(v.ID+"/"+m.Name, m)
		fallback = true
	}

	t := translog.Transmission{
		ID:             newID(),
		EntityType:     string(v.Type),
		EntityName:     v.ID,
		DisplayName:    v.Name(),
		Content:        content,
		Timestamp:      now,
		Mode:           m.Name,
		PatternContext: sig.Context(),
		Fallback:       fallback,
		Forced:         forced,
	}
	if err := s.log.Append(t); err != nil {
		return translog.Transmission{}, fmt.Errorf("voice %s: append transmission: %w", v.ID, err)
	}
	if err := s.saveGateState(v.ID, gate.State{LastEmittedAt: now}); err != nil {
		// The log already records the emission, and gateState reads it back.
		s.logger.Warn("persist gate state", zap.String("voice", v.ID), zap.Error(err))
	}
	if s.OnTransmission != nil {
		s.OnTransmission(t)
	}
	return t, nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GateState returns a voice's gate state as the next sweep would see it.
func (s *Scheduler) GateState(voiceID string) gate.State {
	return s.gateState(voiceID, s.opts.Now())
}

// gateState reads persisted state and the log. The last emission is the
// later of the persisted value and the newest logged transmission.
func (s *Scheduler) gateState(voiceID string, now time.Time) gate.State {
	var st gate.State
	data, ok, err := s.kv.Get(gateKeyPrefix + voiceID)
	switch {
	case err != nil:
		s.logger.Warn("read gate state, using default", zap.String("voice", voiceID), zap.Error(err))
	case ok:
		if err := json.Unmarshal(data, &st); err != nil {
			s.logger.Warn("decode gate state, using default", zap.String("voice", voiceID), zap.Error(err))
			st = gate.State{}
		}
	}
	if latest, found := s.log.LatestFor(voiceID); found && latest.Timestamp.After(st.LastEmittedAt) {
		st.LastEmittedAt = latest.Timestamp
	}
	st.CountInRollingWeek = s.log.CountSince(voiceID, now.Add(-gate.RollingWeek))
	return st
}

func (s *Scheduler) saveGateState(voiceID string, st gate.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal gate state: %w", err)
	}
	return s.kv.Set(gateKeyPrefix+voiceID, data)
}

type lastCheck struct {
	At time.Time `json:"at"`
}

// LastGlobalCheck returns the time of the last completed sweep.
func (s *Scheduler) LastGlobalCheck() (time.Time, bool) {
	data, ok, err := s.kv.Get(lastCheckKey)
	if err != nil {
		s.logger.Warn("read last global check", zap.Error(err))
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	var lc lastCheck
	if err := json.Unmarshal(data, &lc); err != nil || lc.At.IsZero() {
		return time.Time{}, false
	}
	return lc.At, true
}

func (s *Scheduler) setLastGlobalCheck(at time.Time) error {
	data, err := json.Marshal(lastCheck{At: at})
	if err != nil {
		return fmt.Errorf("marshal last global check: %w", err)
	}
	if err := s.kv.Set(lastCheckKey, data); err != nil {
		return fmt.Errorf("write last global check: %w", err)
	}
	return nil
}
