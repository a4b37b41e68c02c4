package app

import (
	"sync"
	"time"

	"taskmark/api/internal/note"
)

// pendingWrite is one scheduled durable write: the latest version of a note
// plus the backend it was aimed at when scheduled.
type pendingWrite struct {
	note  note.Note
	mode  note.Mode
	owner string
	timer *time.Timer
}

// coalescer batches high-frequency saves into one durable write per note id:
// an explicit pending slot plus a timer, cancel-and-reschedule on new input,
// flush on teardown. The in-memory collection is updated before scheduling,
// so only the durable write is deferred.
type coalescer struct {
	window time.Duration
	write  func(pendingWrite)

	mu      sync.Mutex
	pending map[string]*pendingWrite
}

func newCoalescer(window time.Duration, write func(pendingWrite)) *coalescer {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	return &coalescer{
		window:  window,
		write:   write,
		pending: make(map[string]*pendingWrite),
	}
}

// schedule replaces any pending write for the note's id and restarts the
// window. The newest version always wins the slot.
func (c *coalescer) schedule(n note.Note, mode note.Mode, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[n.ID]; ok {
		p.timer.Stop()
	}
	p := &pendingWrite{note: n, mode: mode, owner: owner}
	id := n.ID
	p.timer = time.AfterFunc(c.window, func() { c.fire(id) })
	c.pending[id] = p
}

func (c *coalescer) fire(id string) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		c.write(*p)
	}
}

// cancel drops a pending write without performing it. Used when the note is
// removed before the window elapses.
func (c *coalescer) cancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[id]; ok {
		p.timer.Stop()
		delete(c.pending, id)
	}
}

// flush performs a pending write for id immediately, if one exists.
func (c *coalescer) flush(id string) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		p.timer.Stop()
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		c.write(*p)
	}
}

// flushAll drains every pending slot. Called before mode switches and on
// shutdown so no typed content is lost.
func (c *coalescer) flushAll() {
	c.mu.Lock()
	drained := make([]*pendingWrite, 0, len(c.pending))
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
		drained = append(drained, p)
	}
	c.mu.Unlock()
	for _, p := range drained {
		c.write(*p)
	}
}

// pendingCount reports outstanding slots. Test hook.
func (c *coalescer) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
