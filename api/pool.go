package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

const (
	minWorkers      = 32
	maxWorkers      = 192
	workersPerQueue = 4
	workersPerCPU   = 24
	bufferPerWorker = 128
)

// computeWorkerDefaults sizes the dispatcher from the downstream queue
// concurrency and the CPU count.
func computeWorkerDefaults(queueConcurrency, cpu int) (workers, buffer int) {
	workers = max(queueConcurrency*workersPerQueue, cpu*workersPerCPU)
	workers = min(max(workers, minWorkers), maxWorkers)
	return workers, workers * bufferPerWorker
}

// DispatcherConfig sizes a Dispatcher.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	PublishTimeout time.Duration
	HandoffTimeout time.Duration
}

// DispatcherConfigFromEnv reads EVENT_WORKERS, EVENT_BUFFER,
// EVENT_PUBLISH_TIMEOUT and EVENT_HANDOFF_TIMEOUT on top of computed defaults.
func DispatcherConfigFromEnv(queueConcurrency, cpu int) DispatcherConfig {
	workers, buffer := computeWorkerDefaults(queueConcurrency, cpu)
	return DispatcherConfig{
		Workers:        envInt("EVENT_WORKERS", workers),
		Buffer:         envInt("EVENT_BUFFER", buffer),
		PublishTimeout: envDur("EVENT_PUBLISH_TIMEOUT", 10*time.Second),
		HandoffTimeout: envDur("EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
}

// Dispatcher publishes change events off the request path. When the buffer
// stays full for HandoffTimeout the event is published inline instead.
type Dispatcher struct {
	pub    Publisher
	logger *log.Logger
	cfg    DispatcherConfig

	mu     sync.RWMutex
	jobs   chan domain.Event
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts cfg.Workers goroutines publishing to pub.
func NewDispatcher(pub Publisher, cfg DispatcherConfig, logger *log.Logger) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	cfg.Workers = max(cfg.Workers, 1)
	cfg.Buffer = max(cfg.Buffer, 0)
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		pub:    pub,
		logger: logger,
		cfg:    cfg,
		jobs:   make(chan domain.Event, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		cfg.Workers, cfg.Buffer, cfg.PublishTimeout, cfg.HandoffTimeout)
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		if err := d.publish(ev); err != nil {
			d.logger.WithFields(log.Fields{
				"worker":  id,
				"event":   ev.ID,
				"task_id": ev.TaskID,
				"type":    ev.Type,
			}).WithError(err).Error("event publish failed")
		}
	}
}

func (d *Dispatcher) publish(ev domain.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
	defer cancel()
	return d.pub.Publish(ctx, ev)
}

// Dispatch hands ev to a worker, or publishes it inline when the workers are
// saturated. Events dispatched after Close are dropped.
func (d *Dispatcher) Dispatch(ev domain.Event) {
	if d.tryEnqueue(ev) {
		return
	}
	if d.isClosed() {
		d.logger.WithField("event", ev.ID).Warn("dispatcher closed; dropping event")
		return
	}
	d.logger.Warn("event buffer saturated; publishing inline")
	if err := d.publish(ev); err != nil {
		d.logger.WithField("event", ev.ID).WithError(err).Error("inline event publish failed")
	}
}

func (d *Dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

func (d *Dispatcher) tryEnqueue(ev domain.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.jobs <- ev:
		return true
	default:
	}

	if d.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()

	select {
	case d.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting events and waits until buffered events are published.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}
