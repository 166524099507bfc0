// Package daemon wires configuration, storage, voices, the scheduler and
// notifiers into one process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/resonance/internal/config"
	"github.com/stellarlinkco/resonance/internal/generate"
	"github.com/stellarlinkco/resonance/internal/notify"
	"github.com/stellarlinkco/resonance/internal/scheduler"
	"github.com/stellarlinkco/resonance/internal/store"
	"github.com/stellarlinkco/resonance/internal/voice"
)

// GeneratorFactory creates the text generator. A nil generator means every
// transmission uses fallback exemplars.
type GeneratorFactory func(cfg *config.Config) (generate.Generator, error)

// Options for creating a Daemon
type Options struct {
	GeneratorFactory GeneratorFactory
	Notifiers        []notify.Notifier // replaces the configured notifiers when non-nil
	Logger           *zap.Logger
	Now              func() time.Time
	Rand             scheduler.Rand
	SignalChan       chan os.Signal // for testing signal handling
}

// DefaultGeneratorFactory builds a model-backed generator, or none when no
// API key is configured.
func DefaultGeneratorFactory(cfg *config.Config) (generate.Generator, error) {
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return nil, nil
	}
	return generate.NewModelGenerator(cfg.Provider.Type, cfg.Provider.APIKey, cfg.Provider.BaseURL,
		cfg.Model.Name, cfg.Model.MaxTokens), nil
}

type Daemon struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *store.Store
	registry   *voice.Registry
	sched      *scheduler.Scheduler
	svc        *scheduler.Service
	dispatch   *notify.Dispatcher
	watcher    *voice.Watcher
	signalChan chan os.Signal
	mu         sync.Mutex
}

// New creates a Daemon with default options
func New(cfg *config.Config) (*Daemon, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Daemon with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Daemon{cfg: cfg, logger: logger.Named("daemon"), signalChan: opts.SignalChan}

	registry, err := loadRegistry(cfg.Voices)
	if err != nil {
		return nil, err
	}
	d.registry = registry
	voices, errs := registry.Select(cfg.Voices.Enabled)
	for _, err := range errs {
		d.logger.Warn("skip voice", zap.Error(err))
	}
	if len(voices) == 0 {
		return nil, errors.New("no voices enabled")
	}

	interval, err := cfg.Scheduler.Interval()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Scheduler.Timeout()
	if err != nil {
		return nil, err
	}

	factory := opts.GeneratorFactory
	if factory == nil {
		factory = DefaultGeneratorFactory
	}
	gen, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}
	if gen == nil {
		d.logger.Warn("no API key configured, transmissions will use exemplars")
	}

	notifiers := opts.Notifiers
	if notifiers == nil && cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram)
		if err != nil {
			return nil, fmt.Errorf("create telegram notifier: %w", err)
		}
		notifiers = append(notifiers, tg)
	}

	st, err := store.Open(cfg.Store.DBPath, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.store = st

	d.sched = scheduler.New(voices, st, st, gen, scheduler.Options{
		GlobalCheckInterval: interval,
		MaxPerSweep:         cfg.Scheduler.MaxPerSweep,
		ForcedMaxPerSweep:   cfg.Scheduler.ForcedMaxPerSweep,
		GenerationTimeout:   timeout,
		Workers:             cfg.Scheduler.Workers,
		Capacity:            cfg.Log.Capacity,
		Rand:                opts.Rand,
		Now:                 opts.Now,
		Logger:              logger,
	})
	d.dispatch = notify.NewDispatcher(logger, notifiers...)
	d.sched.OnTransmission = d.dispatch.Enqueue
	d.svc = scheduler.NewService(d.sched, cfg.Scheduler.Schedule, logger)

	d.logger.Info("ready",
		zap.Int("voices", len(voices)),
		zap.Int("notifiers", len(notifiers)),
		zap.String("db", cfg.Store.DBPath))
	return d, nil
}

func loadRegistry(cfg config.VoicesConfig) (*voice.Registry, error) {
	if cfg.Path == "" {
		reg, err := voice.Builtin()
		if err != nil {
			return nil, fmt.Errorf("load builtin voices: %w", err)
		}
		return reg, nil
	}
	reg, err := voice.LoadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("load voices %s: %w", cfg.Path, err)
	}
	return reg, nil
}

func (d *Daemon) Store() *store.Store             { return d.store }
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.sched }
func (d *Daemon) Service() *scheduler.Service     { return d.svc }

// Registry returns the current voice registry.
func (d *Daemon) Registry() *voice.Registry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry
}

// reloadVoices swaps in a freshly parsed registry. A registry that enables
// no voice is rejected.
func (d *Daemon) reloadVoices(reg *voice.Registry) {
	voices, errs := reg.Select(d.cfg.Voices.Enabled)
	for _, err := range errs {
		d.logger.Warn("skip voice", zap.Error(err))
	}
	if len(voices) == 0 {
		d.logger.Warn("reloaded voices enable nothing, keeping previous set")
		return
	}
	d.mu.Lock()
	d.registry = reg
	d.mu.Unlock()
	d.sched.SetVoices(voices)
}

// Sweep runs one sweep outside the timer.
func (d *Daemon) Sweep(ctx context.Context, opts scheduler.SweepOptions) (scheduler.SweepResult, error) {
	return d.sched.Sweep(ctx, opts)
}

// Run starts the timer and blocks until a signal arrives or ctx ends.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.cfg.Voices.Path != "" {
		w, err := voice.NewWatcher(d.cfg.Voices.Path, d.reloadVoices, d.logger)
		if err != nil {
			d.closeAfterFailedStart()
			return fmt.Errorf("watch voices: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			d.logger.Warn("voice reload disabled", zap.Error(err))
			w.Stop()
		} else {
			d.watcher = w
		}
	}

	if err := d.svc.Start(ctx); err != nil {
		d.closeAfterFailedStart()
		return fmt.Errorf("start scheduler: %w", err)
	}
	d.logger.Info("running", zap.String("schedule", d.cfg.Scheduler.Schedule), zap.Time("next", d.svc.Next()))

	// Use injected signal channel for testing, or create default
	sigCh := d.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	d.logger.Info("shutting down")
	return d.Shutdown()
}

func (d *Daemon) closeAfterFailedStart() {
	if err := d.Shutdown(); err != nil {
		d.logger.Warn("shutdown after failed start", zap.Error(err))
	}
}

// Shutdown stops the timer, flushes pending notifications and closes the
// store.
func (d *Daemon) Shutdown() error {
	if d.watcher != nil {
		d.watcher.Stop()
		d.watcher = nil
	}
	d.svc.Stop()
	d.dispatch.Close()
	if err := d.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
