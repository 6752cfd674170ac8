// Package callback delivers asynchronous events between the task layer, the
// pipeline executor and pipeline owners.
//
// Fire only records the event; delivery happens later on a consumer goroutine.
// Events are sharded by ObjectID so that all events addressed to one object are
// delivered in the order they were fired.
package callback

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/assetflow/internal/metrics"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

var (
	ErrUnknownListener = errors.New("unknown callback listener")
	ErrStopped         = errors.New("callback dispatcher stopped")
)

// Listener ids used across the service.
const (
	ListenerPipeline = "pipeline"
	ListenerJob      = "job"
)

// Listener receives events addressed to it.
type Listener interface {
	HandleEvent(ctx context.Context, ev models.Event) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev models.Event) error

func (f ListenerFunc) HandleEvent(ctx context.Context, ev models.Event) error {
	return f(ctx, ev)
}

// Firer is the sending half of the dispatcher.
type Firer interface {
	Fire(ctx context.Context, listenerID string, ev models.Event) error
}

// DelayedFirer can also hold an event back before queueing it.
type DelayedFirer interface {
	Firer
	FireAfter(ctx context.Context, listenerID string, ev models.Event, delay time.Duration) error
}

type delivery struct {
	listenerID string
	event      models.Event
}

// shard is an unbounded FIFO. Fire is called from inside store transactions
// and from listeners themselves, so it must never block on a slow consumer.
type shard struct {
	mu     sync.Mutex
	items  []delivery
	signal chan struct{}
}

func (s *shard) push(d delivery) {
	s.mu.Lock()
	s.items = append(s.items, d)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *shard) pop() (delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return delivery{}, false
	}
	d := s.items[0]
	s.items[0] = delivery{}
	s.items = s.items[1:]
	return d, true
}

type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string]Listener

	shards []*shard

	// pending counts fired but undelivered events; idle is closed while it is zero.
	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}

	// delayed holds events scheduled by FireAfter. They count as pending.
	delayMu sync.Mutex
	delayed map[*time.Timer]struct{}
	stopped bool

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher with the given number of shards. buffer
// sizes the initial capacity of each shard.
func NewDispatcher(shards, buffer int, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if shards < 1 {
		shards = 1
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		listeners: make(map[string]Listener),
		idle:      make(chan struct{}),
		delayed:   make(map[*time.Timer]struct{}),
		metrics:   m,
		logger:    logger.With("component", "callback"),
	}
	close(d.idle)
	for i := 0; i < shards; i++ {
		d.shards = append(d.shards, &shard{
			items:  make([]delivery, 0, buffer),
			signal: make(chan struct{}, 1),
		})
	}
	return d
}

// Register binds a listener id. Registering an id twice replaces the listener.
func (d *Dispatcher) Register(id string, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[id] = l
}

func (d *Dispatcher) listener(id string) (Listener, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.listeners[id]
	return l, ok
}

// Fire queues ev for the listener registered under listenerID.
func (d *Dispatcher) Fire(_ context.Context, listenerID string, ev models.Event) error {
	if _, ok := d.listener(listenerID); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownListener, listenerID)
	}
	d.addPending(1)
	d.metrics.CallbackQueueDepth.Inc()
	d.shardFor(ev).push(delivery{listenerID: listenerID, event: ev})
	return nil
}

// FireAfter queues ev for listenerID once delay has passed. The event is
// pending from the moment it is scheduled, so Wait covers it. Events still
// scheduled when Run returns are discarded.
func (d *Dispatcher) FireAfter(_ context.Context, listenerID string, ev models.Event, delay time.Duration) error {
	if _, ok := d.listener(listenerID); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownListener, listenerID)
	}
	d.delayMu.Lock()
	defer d.delayMu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	d.addPending(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		d.delayMu.Lock()
		_, live := d.delayed[timer]
		delete(d.delayed, timer)
		d.delayMu.Unlock()
		if !live {
			return
		}
		d.metrics.CallbackQueueDepth.Inc()
		d.shardFor(ev).push(delivery{listenerID: listenerID, event: ev})
	})
	d.delayed[timer] = struct{}{}
	return nil
}

// discardDelayed drops every scheduled event and refuses new ones.
func (d *Dispatcher) discardDelayed() {
	d.delayMu.Lock()
	defer d.delayMu.Unlock()
	d.stopped = true
	for timer := range d.delayed {
		timer.Stop()
		delete(d.delayed, timer)
		d.addPending(-1)
	}
}

func (d *Dispatcher) addPending(delta int) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if d.pending == 0 && delta > 0 {
		d.idle = make(chan struct{})
	}
	d.pending += delta
	if d.pending == 0 {
		close(d.idle)
	}
}

func (d *Dispatcher) shardFor(ev models.Event) *shard {
	h := fnv.New32a()
	_, _ = h.Write(ev.ObjectID[:])
	return d.shards[h.Sum32()%uint32(len(d.shards))]
}

// Run consumes all shards until ctx is cancelled. Events still queued or
// scheduled at that point are dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.discardDelayed()
	var wg sync.WaitGroup
	for _, s := range d.shards {
		wg.Add(1)
		go func(s *shard) {
			defer wg.Done()
			d.consume(ctx, s)
		}(s)
	}
	wg.Wait()
}

func (d *Dispatcher) consume(ctx context.Context, s *shard) {
	for {
		for {
			if ctx.Err() != nil {
				return
			}
			item, ok := s.pop()
			if !ok {
				break
			}
			d.deliver(ctx, item)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.signal:
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, item delivery) {
	defer d.addPending(-1)
	defer d.metrics.CallbackQueueDepth.Dec()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in callback listener",
				"listener", item.listenerID, "object_id", item.event.ObjectID, "error", r)
			d.metrics.CallbackEvents.WithLabelValues(item.listenerID, "panic").Inc()
		}
	}()

	l, ok := d.listener(item.listenerID)
	if !ok {
		d.metrics.CallbackEvents.WithLabelValues(item.listenerID, "dropped").Inc()
		return
	}
	if err := l.HandleEvent(ctx, item.event); err != nil {
		d.logger.Error("callback listener failed",
			"listener", item.listenerID, "object_id", item.event.ObjectID, "error", err)
		d.metrics.CallbackEvents.WithLabelValues(item.listenerID, "error").Inc()
		return
	}
	d.metrics.CallbackEvents.WithLabelValues(item.listenerID, "ok").Inc()
}

// Wait blocks until every fired event has been handled, including events fired
// by listeners while Wait is in progress, or until ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.pendingMu.Lock()
	idle := d.idle
	d.pendingMu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settle is Wait with a timeout, for tests and shutdown paths.
func (d *Dispatcher) Settle(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.Wait(ctx)
}
