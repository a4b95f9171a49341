// Package observer implements a multi-observer fan-out with weak-handle
// subscriptions and asynchronous, isolated dispatch.
//
// Register returns a Subscription token. The registry itself only holds a
// weak pointer to that token, so the caller owns the subscription: dropping
// the token (or calling Unsubscribe) stops delivery. Events are delivered on a
// dispatcher goroutine, in the order they were notified, to a snapshot of the
// live subscribers in registration order. A panicking or failing observer does
// not prevent delivery to the others; the first failure is recorded.
package observer

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/google/uuid"
	"github.com/pion/logging"
	mlogging "github.com/pion/mediatrack/internal/logging"
)

// Subscription is the token returned by Register. Keep it for as long as the
// observer should receive events.
type Subscription[O any] struct {
	id       uuid.UUID
	observer O
	active   atomic.Bool
	registry *Registry[O]
}

// ID returns the unique id of this subscription.
func (s *Subscription[O]) ID() uuid.UUID {
	return s.id
}

// Observer returns the subscribed observer.
func (s *Subscription[O]) Observer() O {
	return s.observer
}

// Active reports whether the subscription still receives events.
func (s *Subscription[O]) Active() bool {
	return s.active.Load()
}

// Unsubscribe stops delivery to this subscription. It is safe to call from
// inside a callback, and more than once.
func (s *Subscription[O]) Unsubscribe() {
	if s.active.Swap(false) {
		s.registry.remove(s)
	}
}

type item[O any] struct {
	fn       func(O) error
	done     chan struct{}
	shutdown bool
}

// Registry fans events out to subscribed observers of type O.
type Registry[O any] struct {
	mu       sync.Mutex
	subs     []weak.Pointer[Subscription[O]]
	queue    []item[O]
	running  bool
	closed   bool
	firstErr error
	failures atomic.Uint64

	log logging.LeveledLogger
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	loggerFactory logging.LoggerFactory
}

// WithLoggerFactory sets the logger factory used to report observer failures.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(o *options) {
		o.loggerFactory = f
	}
}

// NewRegistry creates an empty registry.
func NewRegistry[O any](opts ...Option) *Registry[O] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &Registry[O]{log: mlogging.FromFactory(o.loggerFactory, "observer")}
}

func sameObserver(a, b any) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Register subscribes o. Registering an observer that is already subscribed
// returns the existing subscription.
//
// The registry only holds the returned subscription weakly. The caller must
// keep it: once it is unreachable o is unsubscribed at the next garbage
// collection, even if o itself is still referenced elsewhere.
func (r *Registry[O]) Register(o O) *Subscription[O] {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, wp := range r.subs {
		if s := wp.Value(); s != nil && s.Active() && sameObserver(s.observer, o) {
			return s
		}
	}

	s := &Subscription[O]{id: uuid.New(), observer: o, registry: r}
	if r.closed {
		return s
	}

	s.active.Store(true)
	r.subs = append(r.subs, weak.Make(s))
	return s
}

// Unregister unsubscribes o. It returns false if o was not subscribed.
func (r *Registry[O]) Unregister(o O) bool {
	r.mu.Lock()
	var found *Subscription[O]
	for _, wp := range r.subs {
		if s := wp.Value(); s != nil && s.Active() && sameObserver(s.observer, o) {
			found = s
			break
		}
	}
	r.mu.Unlock()

	if found == nil {
		return false
	}

	found.Unsubscribe()
	return true
}

func (r *Registry[O]) remove(s *Subscription[O]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.subs[:0]
	for _, wp := range r.subs {
		if v := wp.Value(); v != nil && v != s {
			kept = append(kept, wp)
		}
	}
	clear(r.subs[len(kept):])
	r.subs = kept
}

// snapshot returns the live subscriptions and prunes collected ones. Must be
// called with mu held.
func (r *Registry[O]) snapshot() []*Subscription[O] {
	live := make([]*Subscription[O], 0, len(r.subs))
	kept := r.subs[:0]
	for _, wp := range r.subs {
		if s := wp.Value(); s != nil && s.Active() {
			live = append(live, s)
			kept = append(kept, wp)
		}
	}
	clear(r.subs[len(kept):])
	r.subs = kept
	return live
}

// Len returns the number of live subscriptions.
func (r *Registry[O]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshot())
}

// Notify queues fn for delivery to every subscriber. It never blocks on
// observer code.
func (r *Registry[O]) Notify(fn func(O)) {
	r.NotifyErr(func(o O) error {
		fn(o)
		return nil
	})
}

// NotifyErr is like Notify, for callbacks that can fail. Failures are
// recorded and logged, never returned to the notifier.
func (r *Registry[O]) NotifyErr(fn func(O) error) {
	r.enqueue(item[O]{fn: fn})
}

func (r *Registry[O]) enqueue(it item[O]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		if it.done != nil {
			close(it.done)
		}
		return
	}

	r.queue = append(r.queue, it)
	if !r.running {
		r.running = true
		go r.run()
	}
}

func (r *Registry[O]) run() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 || r.closed {
			r.running = false
			r.mu.Unlock()
			return
		}

		it := r.queue[0]
		r.queue[0] = item[O]{}
		r.queue = r.queue[1:]

		if it.shutdown {
			r.running = false
			r.closeLocked()
			r.mu.Unlock()
			return
		}

		var subs []*Subscription[O]
		if it.fn != nil {
			subs = r.snapshot()
		}
		r.mu.Unlock()

		if it.done != nil {
			close(it.done)
			continue
		}

		for _, s := range subs {
			if !s.Active() {
				continue
			}
			r.call(s, it.fn)
		}
	}
}

func (r *Registry[O]) call(s *Subscription[O], fn func(O) error) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(s, fmt.Errorf("observer: panic: %v", p))
		}
	}()

	if err := fn(s.observer); err != nil {
		r.fail(s, err)
	}
}

func (r *Registry[O]) fail(s *Subscription[O], err error) {
	r.failures.Add(1)
	r.log.Warnf("observer %s failed: %v", s.id, err)

	r.mu.Lock()
	if r.firstErr == nil {
		r.firstErr = err
	}
	r.mu.Unlock()
}

// Err returns the first failure recorded during dispatch, if any.
func (r *Registry[O]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstErr
}

// Failures returns the number of failed deliveries.
func (r *Registry[O]) Failures() uint64 {
	return r.failures.Load()
}

// Flush waits until every event queued before the call has been delivered.
// Calling Flush from inside a callback deadlocks until ctx is done.
func (r *Registry[O]) Flush(ctx context.Context) error {
	done := make(chan struct{})
	r.enqueue(item[O]{done: done})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown closes the registry once every event queued before the call has
// been delivered. Unlike Flush it does not block, so it may be called from
// inside a callback.
func (r *Registry[O]) Shutdown() {
	r.enqueue(item[O]{shutdown: true})
}

// Close drops pending events and deactivates all subscriptions. Further
// notifications are ignored.
func (r *Registry[O]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *Registry[O]) closeLocked() {
	r.closed = true
	for _, s := range r.snapshot() {
		s.active.Store(false)
	}
	r.subs = nil

	for _, it := range r.queue {
		if it.done != nil {
			close(it.done)
		}
	}
	r.queue = nil
}
