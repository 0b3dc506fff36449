// Package events implements the status/event channel (C10): a bounded,
// latest-wins transport from the worker to whatever shell or CLI is
// watching. One slot per event kind, so a burst of matches never
// backs up into the hot path.
package events

import (
	"sync"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

// Kind identifies one of the five event kinds this channel carries.
type Kind string

const (
	KindStatusChanged Kind = "StatusChanged"
	KindMatch         Kind = "Match"
	KindClick         Kind = "Click"
	KindError         Kind = "Error"
	KindPerfTick      Kind = "PerfTick"
)

// Event is one typed payload tagged with its kind and sequence number.
// Seq lets a receiver detect that it missed an intermediate update for
// a kind without that affecting delivery order across kinds.
type Event struct {
	Kind    Kind
	Seq     uint64
	Status  types.ScannerState
	Match   *types.MatchResult
	Click   *types.ClickResult
	ErrKind string
	ErrInfo string
	Perf    *types.PerfSample
}

// Channel holds at most one pending event per kind. Emit overwrites
// any undelivered event of the same kind; Drain returns and clears
// every kind with a pending event, in the order they were most
// recently emitted (ties broken by kind declaration order below),
// satisfying §5's "preserves order among distinct kinds" rule.
type Channel struct {
	mu      sync.Mutex
	pending map[Kind]Event
	order   []Kind // emission order of currently-pending kinds
	seq     uint64
	subs    []chan Event
}

func New() *Channel {
	return &Channel{pending: make(map[Kind]Event)}
}

// Emit publishes an event, replacing any undelivered event of the same
// kind. Never blocks: this is the guarantee that capture/scanner
// threads never experience back-pressure from a slow shell.
func (c *Channel) Emit(e Event) {
	c.mu.Lock()
	c.seq++
	e.Seq = c.seq
	if _, pending := c.pending[e.Kind]; !pending {
		c.order = append(c.order, e.Kind)
	}
	c.pending[e.Kind] = e
	subs := append([]chan Event(nil), c.subs...)
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default: // subscriber's own buffer is a latest-wins slot too
		}
	}
}

// Drain returns every currently pending event, oldest-emission-order
// first, and clears the pending set.
func (c *Channel) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.pending[k])
	}
	c.pending = make(map[Kind]Event)
	c.order = nil
	return out
}

// Subscribe registers a 1-deep latest-wins channel per subscriber,
// used by the diagnostics WebSocket surface to push events live.
func (c *Channel) Subscribe() <-chan Event {
	ch := make(chan Event, 1)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}
