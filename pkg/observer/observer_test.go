package observer

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	name   string
	events []int
}

func (r *recorder) got() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.events...)
}

func (r *recorder) add(v int) {
	r.mu.Lock()
	r.events = append(r.events, v)
	r.mu.Unlock()
}

func flush(t *testing.T, r *Registry[*recorder]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Flush(ctx))
}

func TestDispatchOrder(t *testing.T) {
	r := NewRegistry[*recorder]()
	var order []string
	var mu sync.Mutex

	a, b := &recorder{name: "a"}, &recorder{name: "b"}
	subA := r.Register(a)
	subB := r.Register(b)
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	for i := 0; i < 3; i++ {
		i := i
		r.Notify(func(o *recorder) {
			o.add(i)
			mu.Lock()
			order = append(order, o.name)
			mu.Unlock()
		})
	}
	flush(t, r)

	assert.Equal(t, []int{0, 1, 2}, a.got())
	assert.Equal(t, []int{0, 1, 2}, b.got())
	assert.Equal(t, []string{"a", "b", "a", "b", "a", "b"}, order)
}

func TestDuplicateRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry[*recorder]()
	a := &recorder{}

	s1 := r.Register(a)
	s2 := r.Register(a)
	defer s1.Unsubscribe()

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, r.Len())

	r.Notify(func(o *recorder) { o.add(1) })
	flush(t, r)
	assert.Equal(t, []int{1}, a.got())
}

func TestUnsubscribeInsideCallback(t *testing.T) {
	r := NewRegistry[*recorder]()
	a, b := &recorder{}, &recorder{}

	var subA *Subscription[*recorder]
	subA = r.Register(a)
	subB := r.Register(b)
	defer subB.Unsubscribe()

	r.Notify(func(o *recorder) {
		o.add(1)
		if o == a {
			subA.Unsubscribe()
		}
	})
	r.Notify(func(o *recorder) { o.add(2) })
	flush(t, r)

	assert.Equal(t, []int{1}, a.got())
	assert.Equal(t, []int{1, 2}, b.got())
	assert.False(t, subA.Active())
	assert.Equal(t, 1, r.Len())
}

func TestUnregisterInsideCallbackByObserver(t *testing.T) {
	r := NewRegistry[*recorder]()
	a := &recorder{}
	sub := r.Register(a)
	defer sub.Unsubscribe()

	r.Notify(func(o *recorder) {
		o.add(1)
		assert.True(t, r.Unregister(o))
	})
	r.Notify(func(o *recorder) { o.add(2) })
	flush(t, r)

	assert.Equal(t, []int{1}, a.got())
	assert.False(t, r.Unregister(a))
}

func TestIsolatedDispatch(t *testing.T) {
	r := NewRegistry[*recorder]()
	a, b, c := &recorder{name: "a"}, &recorder{name: "b"}, &recorder{name: "c"}
	subs := []*Subscription[*recorder]{r.Register(a), r.Register(b), r.Register(c)}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	errFirst := errors.New("first")
	r.NotifyErr(func(o *recorder) error {
		switch o.name {
		case "a":
			return errFirst
		case "b":
			panic("b is broken")
		}
		o.add(1)
		return nil
	})
	flush(t, r)

	assert.Equal(t, []int{1}, c.got())
	assert.ErrorIs(t, r.Err(), errFirst)
	assert.Equal(t, uint64(2), r.Failures())
}

func TestDroppedSubscriptionIsCollected(t *testing.T) {
	r := NewRegistry[*recorder]()
	a := &recorder{}
	kept := &recorder{}

	r.Register(a)
	sub := r.Register(kept)
	runtime.GC()

	r.Notify(func(o *recorder) { o.add(1) })
	flush(t, r)

	assert.Empty(t, a.got())
	assert.Equal(t, []int{1}, kept.got())
	assert.Equal(t, 1, r.Len())
	runtime.KeepAlive(sub)
}

func TestNotifyDoesNotBlock(t *testing.T) {
	r := NewRegistry[*recorder]()
	release := make(chan struct{})
	sub := r.Register(&recorder{})
	defer sub.Unsubscribe()

	r.Notify(func(*recorder) { <-release })

	done := make(chan struct{})
	go func() {
		r.Notify(func(*recorder) {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow observer")
	}
	close(release)
	flush(t, r)
}

func TestClose(t *testing.T) {
	r := NewRegistry[*recorder]()
	a := &recorder{}
	sub := r.Register(a)

	r.Close()
	assert.False(t, sub.Active())

	r.Notify(func(o *recorder) { o.add(1) })
	require.NoError(t, r.Flush(context.Background()))
	assert.Empty(t, a.got())
	assert.False(t, r.Register(&recorder{}).Active())
}

func TestFlushContext(t *testing.T) {
	r := NewRegistry[*recorder]()
	release := make(chan struct{})
	sub := r.Register(&recorder{})
	defer sub.Unsubscribe()

	r.Notify(func(*recorder) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Flush(ctx), context.DeadlineExceeded)
	close(release)
}

func TestShutdownDeliversQueued(t *testing.T) {
	r := NewRegistry[*recorder]()
	a := &recorder{}
	sub := r.Register(a)

	r.Notify(func(o *recorder) { o.add(1) })
	r.Notify(func(o *recorder) { o.add(2) })
	r.Shutdown()
	r.Notify(func(o *recorder) { o.add(3) })

	require.NoError(t, r.Flush(context.Background()))
	assert.Equal(t, []int{1, 2}, a.got())
	assert.False(t, sub.Active())
}
