package events

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
	"github.com/haramshield/haramshield-go/internal/observability/metrics"
)

// Config tunes a Bus.
type Config struct {
	BufferSize int // pending signals before TryPublish starts dropping
	Workers    int // delivery goroutines; 1 keeps signal order
	// DedupWindows overrides DefaultDedupWindows. An empty non-nil map
	// disables deduplication.
	DedupWindows map[Kind]time.Duration
}

// DefaultConfig returns the bus defaults.
func DefaultConfig() Config {
	return Config{BufferSize: 256, Workers: 1}
}

// Stats is a point-in-time view of bus counters.
type Stats struct {
	Published  uint64
	Delivered  uint64
	Dropped    uint64
	Suppressed uint64
	Errors     uint64
	Panics     uint64
	Consumers  int
}

// Bus fans signals out to registered consumers. Publishing never blocks the
// caller; a full buffer drops the signal and counts it.
type Bus struct {
	ch      chan Signal
	workers int
	dedup   *Deduplicator
	metrics *metrics.PipelineMetrics

	mu        sync.RWMutex
	consumers []Consumer

	running  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	errs      atomic.Uint64
	panics    atomic.Uint64

	dropLog *rate.Limiter
	log     logger.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusMetrics records sent and dropped signals.
func WithBusMetrics(m *metrics.PipelineMetrics) BusOption {
	return func(b *Bus) { b.metrics = m }
}

// NewBus creates a stopped bus.
func NewBus(cfg Config, opts ...BusOption) *Bus {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	b := &Bus{
		ch:      make(chan Signal, cfg.BufferSize),
		workers: cfg.Workers,
		dedup:   NewDeduplicator(cfg.DedupWindows),
		done:    make(chan struct{}),
		dropLog: rate.NewLimiter(rate.Every(10*time.Second), 1),
		log:     GetLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a consumer. Consumers must be registered before Start.
func (b *Bus) Register(c Consumer) error {
	if c == nil {
		return errors.Newf("nil consumer").
			Component("events").
			Category(errors.CategoryValidation).
			Build()
	}
	if b.running.Load() {
		return errors.Newf("cannot register consumer %s on a running bus", c.Name()).
			Component("events").
			Category(errors.CategoryState).
			Build()
	}
	b.mu.Lock()
	b.consumers = append(b.consumers, c)
	b.mu.Unlock()
	b.log.Debug("consumer registered", logger.String("consumer", c.Name()))
	return nil
}

// Start launches the workers. It is a no-op on a running bus.
func (b *Bus) Start() {
	if !b.running.CompareAndSwap(false, true) {
		return
	}
	for i := range b.workers {
		b.wg.Go(func() { b.worker(i) })
	}
	b.log.Info("signal bus started",
		logger.Int("workers", b.workers),
		logger.Int("buffer", cap(b.ch)))
}

// TryPublish queues s and reports whether it was accepted. Duplicates inside
// their window count as accepted.
func (b *Bus) TryPublish(s Signal) bool {
	if b == nil || b.stopping.Load() {
		return false
	}
	if s.At.IsZero() {
		s.At = time.Now()
	}
	if !b.dedup.ShouldDeliver(s) {
		return true
	}

	select {
	case b.ch <- s:
		b.published.Add(1)
		b.metrics.RecordSignal(string(s.Kind), false)
		return true
	default:
		b.dropped.Add(1)
		b.metrics.RecordSignal(string(s.Kind), true)
		if b.dropLog.Allow() {
			b.log.Warn("signal buffer full, dropping signal",
				logger.String("signal", s.String()),
				logger.Uint64("dropped_total", b.dropped.Load()))
		}
		return false
	}
}

func (b *Bus) worker(id int) {
	prune := time.NewTicker(time.Minute)
	defer prune.Stop()

	for {
		select {
		case <-b.done:
			// deliver what is already queued
			for {
				select {
				case s := <-b.ch:
					b.deliver(id, s)
				default:
					return
				}
			}
		case s := <-b.ch:
			b.deliver(id, s)
		case <-prune.C:
			b.dedup.Prune()
		}
	}
}

func (b *Bus) deliver(worker int, s Signal) {
	b.mu.RLock()
	consumers := b.consumers
	b.mu.RUnlock()

	for _, c := range consumers {
		b.consume(worker, c, s)
	}
	b.delivered.Add(1)
}

func (b *Bus) consume(worker int, c Consumer, s Signal) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.log.Error("consumer panicked",
				logger.String("consumer", c.Name()),
				logger.Int("worker", worker),
				logger.String("signal", s.String()),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
	}()

	if err := c.Consume(s); err != nil {
		b.errs.Add(1)
		b.log.Warn("consumer failed",
			logger.String("consumer", c.Name()),
			logger.String("signal", s.String()),
			logger.Error(err))
	}
}

// Shutdown stops accepting signals, drains the buffer and waits up to timeout
// for the workers to exit.
func (b *Bus) Shutdown(timeout time.Duration) error {
	if !b.stopping.CompareAndSwap(false, true) {
		return nil
	}
	if !b.running.Load() {
		return nil
	}
	close(b.done)

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		b.log.Info("signal bus stopped",
			logger.Uint64("delivered", b.delivered.Load()),
			logger.Uint64("dropped", b.dropped.Load()))
		return nil
	case <-time.After(timeout):
		return errors.New(fmt.Errorf("signal bus shutdown timed out after %s", timeout)).
			Component("events").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// Stats returns the current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.consumers)
	b.mu.RUnlock()
	return Stats{
		Published:  b.published.Load(),
		Delivered:  b.delivered.Load(),
		Dropped:    b.dropped.Load(),
		Suppressed: b.dedup.Suppressed(),
		Errors:     b.errs.Load(),
		Panics:     b.panics.Load(),
		Consumers:  n,
	}
}

var _ Publisher = (*Bus)(nil)
