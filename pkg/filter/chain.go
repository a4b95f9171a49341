package filter

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
	mlogging "github.com/pion/mediatrack/internal/logging"
	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/status"
)

// ChangeKind describes a mutation of the chain.
type ChangeKind int

const (
	// ChangeAdded reports a filter appended by Add.
	ChangeAdded ChangeKind = iota + 1
	// ChangeReplaced reports Add replacing an existing (id, position).
	ChangeReplaced
	// ChangeRemoved reports Remove or RemoveByID.
	ChangeRemoved
	// ChangeEnabled reports Enable toggling bypass; Change.Enabled holds
	// the new value.
	ChangeEnabled
	// ChangeMoved reports Move.
	ChangeMoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeReplaced:
		return "replaced"
	case ChangeRemoved:
		return "removed"
	case ChangeEnabled:
		return "enabled"
	case ChangeMoved:
		return "moved"
	}
	return "unknown"
}

// Change is reported to the OnChange hook after every successful mutation.
type Change struct {
	Kind     ChangeKind
	ID       string
	Position Position
	Enabled  bool
}

// Stats is a point-in-time view of a single installed filter.
type Stats struct {
	ID        string
	Position  Position
	Enabled   bool
	Processed uint64
	Dropped   uint64
}

// Result is the outcome of running a frame through the chain.
type Result struct {
	// Frame is nil when the frame was dropped.
	Frame *frame.Frame
	// DroppedBy and Position name the filter that dropped the frame.
	DroppedBy string
	Position  Position
	// Err is the error returned by the dropping filter, if any.
	Err error
}

// Dropped reports whether a filter dropped the frame.
func (r Result) Dropped() bool {
	return r.Frame == nil
}

type entry struct {
	id     string
	pos    Position
	filter Filter

	enabled atomic.Bool

	// mu is held shared for the duration of a single Process call, and
	// exclusively to retire the entry or update its properties.
	mu      sync.RWMutex
	retired bool

	processed atomic.Uint64
	dropped   atomic.Uint64
}

func newEntry(f Filter, pos Position, id string) *entry {
	e := &entry{id: id, pos: pos, filter: f}
	e.enabled.Store(true)
	return e
}

func (e *entry) process(f *frame.Frame) (*frame.Frame, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.retired || !e.enabled.Load() {
		return f, nil
	}

	out, err := e.filter.Process(f)
	e.processed.Add(1)
	if out == nil || err != nil {
		e.dropped.Add(1)
		return nil, err
	}

	return out, nil
}

// retire waits for the frame currently inside the filter, if any, and makes
// sure the filter is never called again.
func (e *entry) retire() {
	e.mu.Lock()
	e.retired = true
	e.mu.Unlock()
}

type snapshot map[Position][]*entry

// Chain is an ordered, position keyed collection of filters. Mutations are
// serialized and published as immutable snapshots, so the frame path never
// takes the chain lock and never sees a half-installed filter.
type Chain struct {
	mu       sync.Mutex
	current  atomic.Pointer[snapshot]
	replace  bool
	onChange func(Change)
	log      logging.LeveledLogger
}

// Option configures a Chain.
type Option func(*Chain)

// WithReplaceOnDuplicate makes Add replace an existing filter registered with
// the same (id, position) instead of failing with status.ErrDuplicateID.
func WithReplaceOnDuplicate() Option {
	return func(c *Chain) {
		c.replace = true
	}
}

// WithLoggerFactory sets the logger factory used by the chain.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(c *Chain) {
		c.log = mlogging.FromFactory(f, "filter")
	}
}

// WithOnChange registers a hook called after every successful mutation. The
// hook runs on the mutating goroutine, after the chain lock is released.
func WithOnChange(fn func(Change)) Option {
	return func(c *Chain) {
		c.onChange = fn
	}
}

// NewChain creates an empty chain.
func NewChain(opts ...Option) *Chain {
	c := &Chain{}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = mlogging.NewLogger("filter")
	}

	empty := snapshot{}
	c.current.Store(&empty)
	return c
}

func (c *Chain) load() snapshot {
	return *c.current.Load()
}

// clone copies the slot map so that pos can be modified. Other slots keep
// sharing their slices since they are never mutated in place.
func (c *Chain) clone(pos Position) snapshot {
	old := c.load()
	next := make(snapshot, len(old)+1)
	for p, entries := range old {
		next[p] = entries
	}
	next[pos] = append([]*entry(nil), old[pos]...)
	return next
}

func (c *Chain) publish(s snapshot) {
	for p, entries := range s {
		if len(entries) == 0 {
			delete(s, p)
		}
	}
	c.current.Store(&s)
}

func (c *Chain) notify(ch Change) {
	if c.onChange != nil {
		c.onChange(ch)
	}
}

func indexOf(entries []*entry, id string) int {
	for i, e := range entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

// Add installs f at the tail of pos under id.
func (c *Chain) Add(f Filter, pos Position, id string) error {
	if f == nil || id == "" || !pos.Valid() {
		return fmt.Errorf("filter: add %q at %s: %w", id, pos, status.ErrInvalidArgument)
	}

	c.mu.Lock()
	next := c.clone(pos)
	e := newEntry(f, pos, id)

	var replaced *entry
	if i := indexOf(next[pos], id); i >= 0 {
		if !c.replace {
			c.mu.Unlock()
			return fmt.Errorf("filter: add %q at %s: %w", id, pos, status.ErrDuplicateID)
		}
		replaced = next[pos][i]
		next[pos][i] = e
	} else {
		next[pos] = append(next[pos], e)
	}
	c.publish(next)
	c.mu.Unlock()

	if replaced != nil {
		replaced.retire()
		c.log.Debugf("replaced filter %s at %s", id, pos)
		c.notify(Change{Kind: ChangeReplaced, ID: id, Position: pos, Enabled: true})
		return nil
	}

	c.log.Debugf("added filter %s at %s", id, pos)
	c.notify(Change{Kind: ChangeAdded, ID: id, Position: pos, Enabled: true})
	return nil
}

// Remove uninstalls every entry at pos whose filter is f. It returns once no
// frame is inside those entries anymore.
func (c *Chain) Remove(f Filter, pos Position) error {
	return c.remove(pos, func(e *entry) bool { return sameFilter(e.filter, f) })
}

// RemoveByID uninstalls the filter registered as (id, pos).
func (c *Chain) RemoveByID(id string, pos Position) error {
	return c.remove(pos, func(e *entry) bool { return e.id == id })
}

func (c *Chain) remove(pos Position, match func(*entry) bool) error {
	c.mu.Lock()
	next := c.clone(pos)

	var removed []*entry
	kept := next[pos][:0]
	for _, e := range next[pos] {
		if match(e) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}

	if len(removed) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("filter: remove at %s: %w", pos, status.ErrNotFound)
	}

	next[pos] = kept
	c.publish(next)
	c.mu.Unlock()

	for _, e := range removed {
		e.retire()
		c.log.Debugf("removed filter %s at %s", e.id, pos)
		c.notify(Change{Kind: ChangeRemoved, ID: e.id, Position: pos, Enabled: e.enabled.Load()})
	}

	return nil
}

// Clear uninstalls all filters at every position.
func (c *Chain) Clear() {
	c.mu.Lock()
	old := c.load()
	empty := snapshot{}
	c.current.Store(&empty)
	c.mu.Unlock()

	for _, entries := range old {
		for _, e := range entries {
			e.retire()
		}
	}
}

func (c *Chain) find(id string, pos Position) (*entry, error) {
	entries := c.load()[pos]
	if i := indexOf(entries, id); i >= 0 {
		return entries[i], nil
	}
	return nil, fmt.Errorf("filter: %q at %s: %w", id, pos, status.ErrNotFound)
}

// Enable toggles bypass for (id, pos). A disabled filter stays installed and
// keeps its state, frames simply pass it unchanged.
func (c *Chain) Enable(id string, pos Position, enabled bool) error {
	c.mu.Lock()
	e, err := c.find(id, pos)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	changed := e.enabled.Swap(enabled) != enabled
	c.mu.Unlock()

	if changed {
		c.notify(Change{Kind: ChangeEnabled, ID: id, Position: pos, Enabled: enabled})
	}
	return nil
}

// Enabled reports whether (id, pos) is enabled.
func (c *Chain) Enabled(id string, pos Position) (bool, error) {
	e, err := c.find(id, pos)
	if err != nil {
		return false, err
	}
	return e.enabled.Load(), nil
}

// Move places (id, pos) at index within its position.
func (c *Chain) Move(id string, pos Position, index int) error {
	c.mu.Lock()
	next := c.clone(pos)
	entries := next[pos]

	i := indexOf(entries, id)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("filter: move %q at %s: %w", id, pos, status.ErrNotFound)
	}
	if index < 0 || index >= len(entries) {
		c.mu.Unlock()
		return fmt.Errorf("filter: move %q to %d: %w", id, index, status.ErrInvalidArgument)
	}

	e := entries[i]
	entries = append(entries[:i], entries[i+1:]...)
	entries = append(entries[:index], append([]*entry{e}, entries[index:]...)...)
	next[pos] = entries
	c.publish(next)
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeMoved, ID: id, Position: pos, Enabled: e.enabled.Load()})
	return nil
}

// Has reports whether a filter is registered as (id, pos).
func (c *Chain) Has(id string, pos Position) bool {
	_, err := c.find(id, pos)
	return err == nil
}

// Filter returns the filter registered as (id, pos).
func (c *Chain) Filter(id string, pos Position) (Filter, bool) {
	e, err := c.find(id, pos)
	if err != nil {
		return nil, false
	}
	return e.filter, true
}

// IDs returns the ids installed at pos in traversal order.
func (c *Chain) IDs(pos Position) []string {
	entries := c.load()[pos]
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id)
	}
	return ids
}

// Len returns the number of installed filters across all positions.
func (c *Chain) Len() int {
	n := 0
	for _, entries := range c.load() {
		n += len(entries)
	}
	return n
}

// SetProperty forwards key/value to the filter at (id, pos). The update is
// applied between frames, never while the filter is processing one.
func (c *Chain) SetProperty(id string, pos Position, key string, value []byte) error {
	e, err := c.find(id, pos)
	if err != nil {
		return err
	}

	pf, ok := e.filter.(PropertyFilter)
	if !ok {
		return fmt.Errorf("filter: %q has no properties: %w", id, status.ErrPropertyRejected)
	}

	e.mu.Lock()
	err = pf.SetProperty(key, value)
	e.mu.Unlock()

	return rejected(id, key, err)
}

// Property reads key from the filter at (id, pos).
func (c *Chain) Property(id string, pos Position, key string) ([]byte, error) {
	e, err := c.find(id, pos)
	if err != nil {
		return nil, err
	}

	pf, ok := e.filter.(PropertyFilter)
	if !ok {
		return nil, fmt.Errorf("filter: %q has no properties: %w", id, status.ErrPropertyRejected)
	}

	e.mu.RLock()
	value, err := pf.Property(key)
	e.mu.RUnlock()

	return value, rejected(id, key, err)
}

func rejected(id, key string, err error) error {
	if err == nil || errors.Is(err, status.ErrPropertyRejected) {
		return err
	}
	return fmt.Errorf("filter: %q rejected %q: %w: %v", id, key, status.ErrPropertyRejected, err)
}

// Stats returns counters for every installed filter, grouped by position in
// the order given. With no positions, all positions are reported.
func (c *Chain) Stats(positions ...Position) []Stats {
	snap := c.load()
	if len(positions) == 0 {
		positions = append(append([]Position(nil), LocalPositions...), RemotePositions...)
	}

	var stats []Stats
	for _, pos := range positions {
		for _, e := range snap[pos] {
			stats = append(stats, Stats{
				ID:        e.id,
				Position:  pos,
				Enabled:   e.enabled.Load(),
				Processed: e.processed.Load(),
				Dropped:   e.dropped.Load(),
			})
		}
	}
	return stats
}

// Process runs f through the filters at positions, in the order given and in
// insertion order within each position. Filters added or removed while the
// frame is in flight take effect from the next frame.
func (c *Chain) Process(f *frame.Frame, positions ...Position) Result {
	snap := c.load()

	for _, pos := range positions {
		for _, e := range snap[pos] {
			out, err := e.process(f)
			if out == nil {
				if err != nil {
					c.log.Debugf("filter %s at %s failed: %v", e.id, pos, err)
				}
				return Result{DroppedBy: e.id, Position: pos, Err: err}
			}
			f = out
		}
	}

	return Result{Frame: f}
}
