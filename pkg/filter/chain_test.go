package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tracer appends its name to the frame's Data so traversal order is visible.
type tracer struct {
	name string
	drop bool
}

func (f *tracer) Process(fr *frame.Frame) (*frame.Frame, error) {
	if f.drop {
		return nil, nil
	}
	out := fr.Clone()
	out.Data = append(out.Data, f.name...)
	return out, nil
}

type propFilter struct {
	tracer
	level int
}

func (f *propFilter) SetProperty(key string, value []byte) error {
	if key != "level" {
		return fmt.Errorf("unknown key %q", key)
	}
	return json.Unmarshal(value, &f.level)
}

func (f *propFilter) Property(key string) ([]byte, error) {
	if key != "level" {
		return nil, fmt.Errorf("unknown key %q", key)
	}
	return json.Marshal(f.level)
}

func TestAddRemoveRoundTrip(t *testing.T) {
	c := NewChain()
	require.NoError(t, c.Add(&tracer{name: "X"}, PositionPostCapturer, "x"))
	before := c.IDs(PositionPostCapturer)

	a := &tracer{name: "A"}
	require.NoError(t, c.Add(a, PositionPostCapturer, "a"))
	require.NoError(t, c.Remove(a, PositionPostCapturer))

	assert.Equal(t, before, c.IDs(PositionPostCapturer))
	assert.False(t, c.Has("a", PositionPostCapturer))
}

func TestAddInvalid(t *testing.T) {
	c := NewChain()
	assert.ErrorIs(t, c.Add(nil, PositionPreEncoder, "a"), status.ErrInvalidArgument)
	assert.ErrorIs(t, c.Add(&tracer{}, PositionPreEncoder, ""), status.ErrInvalidArgument)
	assert.ErrorIs(t, c.Add(&tracer{}, Position(42), "a"), status.ErrInvalidArgument)
}

func TestDuplicateID(t *testing.T) {
	t.Run("Reject", func(t *testing.T) {
		c := NewChain()
		require.NoError(t, c.Add(&tracer{name: "A"}, PositionPostCapturer, "a"))
		err := c.Add(&tracer{name: "B"}, PositionPostCapturer, "a")
		assert.ErrorIs(t, err, status.ErrDuplicateID)
		assert.Equal(t, []string{"a"}, c.IDs(PositionPostCapturer))

		// the same id at another position is a different registration
		require.NoError(t, c.Add(&tracer{name: "A"}, PositionPreEncoder, "a"))
	})

	t.Run("Replace", func(t *testing.T) {
		c := NewChain(WithReplaceOnDuplicate())
		require.NoError(t, c.Add(&tracer{name: "A"}, PositionPostCapturer, "a"))
		require.NoError(t, c.Add(&tracer{name: "Z"}, PositionPostCapturer, "z"))
		require.NoError(t, c.Add(&tracer{name: "B"}, PositionPostCapturer, "a"))

		assert.Equal(t, []string{"a", "z"}, c.IDs(PositionPostCapturer))
		res := c.Process(&frame.Frame{}, PositionPostCapturer)
		assert.Equal(t, "BZ", string(res.Frame.Data))
	})
}

func TestTraversalOrder(t *testing.T) {
	c := NewChain()
	require.NoError(t, c.Add(&tracer{name: "A"}, PositionPostCapturer, "a"))
	require.NoError(t, c.Add(&tracer{name: "B"}, PositionPostCapturer, "b"))
	require.NoError(t, c.Add(&tracer{name: "E"}, PositionPreEncoder, "e"))
	require.NoError(t, c.Add(&tracer{name: "O"}, PositionPostCapturerOrigin, "o"))

	res := c.Process(&frame.Frame{}, LocalPositions...)
	require.False(t, res.Dropped())
	assert.Equal(t, "OABE", string(res.Frame.Data))

	// disabling A is a pass-through, not a drop
	require.NoError(t, c.Enable("a", PositionPostCapturer, false))
	res = c.Process(&frame.Frame{}, PositionPostCapturer)
	require.False(t, res.Dropped())
	assert.Equal(t, "B", string(res.Frame.Data))

	enabled, err := c.Enabled("a", PositionPostCapturer)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, c.Enable("a", PositionPostCapturer, true))
	res = c.Process(&frame.Frame{}, PositionPostCapturer)
	assert.Equal(t, "AB", string(res.Frame.Data))

	assert.ErrorIs(t, c.Enable("nope", PositionPostCapturer, false), status.ErrNotFound)
}

func TestDropStopsTraversal(t *testing.T) {
	c := NewChain()
	after := &tracer{name: "C"}
	require.NoError(t, c.Add(&tracer{name: "A"}, PositionPostCapturer, "a"))
	require.NoError(t, c.Add(&tracer{drop: true}, PositionPostCapturer, "dropper"))
	require.NoError(t, c.Add(after, PositionPostCapturer, "c"))
	require.NoError(t, c.Add(&tracer{name: "E"}, PositionPreEncoder, "e"))

	res := c.Process(&frame.Frame{}, LocalPositions...)
	assert.True(t, res.Dropped())
	assert.Equal(t, "dropper", res.DroppedBy)
	assert.Equal(t, PositionPostCapturer, res.Position)
	assert.NoError(t, res.Err)

	for _, s := range c.Stats() {
		switch s.ID {
		case "dropper":
			assert.Equal(t, uint64(1), s.Dropped)
		case "c", "e":
			assert.Zero(t, s.Processed)
		}
	}
}

func TestFilterError(t *testing.T) {
	errBoom := errors.New("boom")
	c := NewChain()
	require.NoError(t, c.Add(Func(func(*frame.Frame) (*frame.Frame, error) {
		return nil, errBoom
	}), PositionPreRenderer, "bad"))

	res := c.Process(&frame.Frame{}, RemotePositions...)
	assert.True(t, res.Dropped())
	assert.ErrorIs(t, res.Err, errBoom)
	assert.Equal(t, "bad", res.DroppedBy)
}

func TestRemoveDrainsInFlightFrame(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	slow := &blocking{entered: entered, release: release, calls: &calls, mu: &mu}
	c := NewChain()
	require.NoError(t, c.Add(slow, PositionPreEncoder, "slow"))

	processed := make(chan Result, 1)
	go func() {
		processed <- c.Process(&frame.Frame{}, PositionPreEncoder)
	}()
	<-entered

	removed := make(chan error, 1)
	go func() {
		removed <- c.Remove(slow, PositionPreEncoder)
	}()

	select {
	case <-removed:
		t.Fatal("Remove returned while a frame was inside the filter")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-removed)
	assert.False(t, (<-processed).Dropped())

	// no further calls once Remove returned
	c.Process(&frame.Frame{}, PositionPreEncoder)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

type blocking struct {
	entered chan struct{}
	release chan struct{}
	calls   *int
	mu      *sync.Mutex
}

func (b *blocking) Process(f *frame.Frame) (*frame.Frame, error) {
	b.mu.Lock()
	*b.calls++
	b.mu.Unlock()
	close(b.entered)
	<-b.release
	return f, nil
}

func TestRemoveByIDAndFunc(t *testing.T) {
	c := NewChain()
	fn := Func(func(f *frame.Frame) (*frame.Frame, error) { return f, nil })
	require.NoError(t, c.Add(fn, PositionPostDecoder, "fn"))

	// Func values have no identity
	assert.ErrorIs(t, c.Remove(fn, PositionPostDecoder), status.ErrNotFound)
	require.NoError(t, c.RemoveByID("fn", PositionPostDecoder))
	assert.Zero(t, c.Len())
	assert.ErrorIs(t, c.RemoveByID("fn", PositionPostDecoder), status.ErrNotFound)
}

func TestSameInstanceAtSeveralPositions(t *testing.T) {
	c := NewChain()
	a := &tracer{name: "A"}
	require.NoError(t, c.Add(a, PositionPostCapturer, "a"))
	require.NoError(t, c.Add(a, PositionPreEncoder, "a"))

	require.NoError(t, c.Remove(a, PositionPostCapturer))
	assert.True(t, c.Has("a", PositionPreEncoder))
	assert.Equal(t, 1, c.Len())
}

func TestProperties(t *testing.T) {
	c := NewChain()
	pf := &propFilter{}
	require.NoError(t, c.Add(pf, PositionPreEncoder, "p"))
	require.NoError(t, c.Add(&tracer{}, PositionPreEncoder, "plain"))

	require.NoError(t, c.SetProperty("p", PositionPreEncoder, "level", []byte("3")))
	v, err := c.Property("p", PositionPreEncoder, "level")
	require.NoError(t, err)
	assert.JSONEq(t, "3", string(v))

	assert.ErrorIs(t, c.SetProperty("p", PositionPostCapturer, "level", []byte("3")), status.ErrNotFound)
	assert.ErrorIs(t, c.SetProperty("p", PositionPreEncoder, "other", []byte("3")), status.ErrPropertyRejected)
	assert.ErrorIs(t, c.SetProperty("plain", PositionPreEncoder, "level", []byte("3")), status.ErrPropertyRejected)

	_, err = c.Property("p", PositionPreEncoder, "other")
	assert.ErrorIs(t, err, status.ErrPropertyRejected)
	_, err = c.Property("missing", PositionPreEncoder, "level")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestMove(t *testing.T) {
	c := NewChain()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.Add(&tracer{name: id}, PositionPostCapturer, id))
	}

	require.NoError(t, c.Move("c", PositionPostCapturer, 0))
	assert.Equal(t, []string{"c", "a", "b"}, c.IDs(PositionPostCapturer))

	require.NoError(t, c.Move("c", PositionPostCapturer, 2))
	assert.Equal(t, []string{"a", "b", "c"}, c.IDs(PositionPostCapturer))

	assert.ErrorIs(t, c.Move("c", PositionPostCapturer, 3), status.ErrInvalidArgument)
	assert.ErrorIs(t, c.Move("x", PositionPostCapturer, 0), status.ErrNotFound)
}

func TestOnChange(t *testing.T) {
	var changes []Change
	c := NewChain(WithOnChange(func(ch Change) { changes = append(changes, ch) }))

	require.NoError(t, c.Add(&tracer{}, PositionPreRenderer, "a"))
	require.NoError(t, c.Enable("a", PositionPreRenderer, false))
	require.NoError(t, c.Enable("a", PositionPreRenderer, false))
	require.NoError(t, c.RemoveByID("a", PositionPreRenderer))

	require.Len(t, changes, 3)
	assert.Equal(t, ChangeAdded, changes[0].Kind)
	assert.Equal(t, ChangeEnabled, changes[1].Kind)
	assert.False(t, changes[1].Enabled)
	assert.Equal(t, ChangeRemoved, changes[2].Kind)
}

func TestClear(t *testing.T) {
	c := NewChain()
	require.NoError(t, c.Add(&tracer{}, PositionPreRenderer, "a"))
	require.NoError(t, c.Add(&tracer{}, PositionPreEncoder, "b"))
	c.Clear()
	assert.Zero(t, c.Len())
}

func TestConcurrentMutationAndTraversal(t *testing.T) {
	c := NewChain()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res := c.Process(&frame.Frame{}, LocalPositions...)
				if res.Dropped() {
					t.Error("unexpected drop")
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("f%d", i%5)
		f := &tracer{name: "x"}
		if err := c.Add(f, PositionPostCapturer, id); err == nil {
			require.NoError(t, c.Remove(f, PositionPostCapturer))
		}
	}

	close(stop)
	wg.Wait()
	assert.Zero(t, c.Len())
}

func TestPositionString(t *testing.T) {
	for _, p := range append(append([]Position(nil), LocalPositions...), RemotePositions...) {
		parsed, ok := ParsePosition(p.String())
		require.True(t, ok)
		assert.Equal(t, p, parsed)
	}
	assert.Equal(t, "position(99)", Position(99).String())
}
