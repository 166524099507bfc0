// Package notify forwards new transmissions to outside channels.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/stellarlinkco/resonance/internal/translog"
)

// Notifier delivers one transmission.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, t translog.Transmission) error
}

// DefaultQueueSize bounds pending deliveries.
const DefaultQueueSize = 32

// Dispatcher queues transmissions and delivers them from a single goroutine
// so a slow channel never holds up a sweep. When the queue is full the
// transmission is dropped from delivery; it stays in the log.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan translog.Transmission
	logger    *zap.Logger

	once sync.Once
	done chan struct{}
	ctx  context.Context
	stop context.CancelFunc
}

// NewDispatcher starts a dispatcher over notifiers.
func NewDispatcher(logger *zap.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan translog.Transmission, DefaultQueueSize),
		logger:    logger.Named("notify"),
		done:      make(chan struct{}),
		ctx:       ctx,
		stop:      cancel,
	}
	go d.loop()
	return d
}

// Enqueue schedules delivery. It never blocks.
func (d *Dispatcher) Enqueue(t translog.Transmission) {
	if len(d.notifiers) == 0 {
		return
	}
	select {
	case <-d.done:
		return
	default:
	}
	select {
	case d.queue <- t:
	default:
		d.logger.Warn("queue full, skipping delivery", zap.String("id", t.ID))
	}
}

func (d *Dispatcher) loop() {
	for {
		select {
		case t := <-d.queue:
			d.deliver(t)
		case <-d.ctx.Done():
			// Drain what is already queued.
			for {
				select {
				case t := <-d.queue:
					d.deliver(t)
				default:
					close(d.done)
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(t translog.Transmission) {
	for _, n := range d.notifiers {
		if err := n.Notify(context.Background(), t); err != nil {
			d.logger.Warn("deliver transmission",
				zap.String("notifier", n.Name()), zap.String("id", t.ID), zap.Error(err))
			continue
		}
		d.logger.Debug("delivered", zap.String("notifier", n.Name()), zap.String("id", t.ID))
	}
}

// Close delivers anything still queued and stops the dispatcher.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.stop()
		<-d.done
	})
}
