// Package editor bridges an editing surface and the note store. It batches
// keystroke bursts into debounced saves and suppresses feedback loops when a
// store change it caused is pushed back at it.
package editor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log"
	"sync"
	"time"

	"taskmark/api/internal/note"
)

// Widget is the editing surface the adapter drives.
type Widget interface {
	SetDocument(blocks []note.Block)
}

// Saver is the store-side write path.
type Saver interface {
	Save(ctx context.Context, n note.Note) error
}

// Adapter connects one widget to the store for one note at a time.
type Adapter struct {
	widget   Widget
	saver    Saver
	debounce time.Duration

	mu          sync.Mutex
	current     note.Note
	open        bool
	lastApplied string
	dirty       bool
	timer       *time.Timer
}

func NewAdapter(widget Widget, saver Saver, debounce time.Duration) *Adapter {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &Adapter{widget: widget, saver: saver, debounce: debounce}
}

// fingerprint identifies document content, so that an echoed update can be
// told apart from a real external change.
func fingerprint(blocks []note.Block) string {
	payload, err := json.Marshal(blocks)
	if err != nil {
		return ""
	}
	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:])
}

// Open loads a note into the widget and resets edit state. Any pending save
// for the previously open note is flushed first.
func (a *Adapter) Open(ctx context.Context, n note.Note) {
	a.Flush(ctx)

	a.mu.Lock()
	a.current = n
	a.open = true
	a.lastApplied = fingerprint(n.Blocks)
	a.dirty = false
	a.mu.Unlock()

	a.widget.SetDocument(n.Blocks)
}

// OnEdit receives the widget's document after a keystroke. Content identical
// to what the adapter last applied is an echo of its own SetDocument and is
// ignored; everything else restarts the debounce window.
func (a *Adapter) OnEdit(blocks []note.Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return
	}

	fp := fingerprint(blocks)
	if fp == a.lastApplied {
		return
	}

	a.current.Blocks = blocks
	a.lastApplied = fp
	a.dirty = true

	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.debounce, a.saveNow)
}

// SetTitle updates the open note's title through the same debounce window.
func (a *Adapter) SetTitle(title string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open || a.current.Title == title {
		return
	}
	a.current.Title = title
	a.dirty = true

	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.debounce, a.saveNow)
}

// ApplyExternal pushes a store-side change into the widget. A change whose
// content matches what the widget already shows is dropped, which breaks the
// save -> push -> re-apply feedback cycle.
func (a *Adapter) ApplyExternal(n note.Note) {
	a.mu.Lock()
	if !a.open || n.ID != a.current.ID {
		a.mu.Unlock()
		return
	}
	fp := fingerprint(n.Blocks)
	if fp == a.lastApplied {
		a.current.Updated = n.Updated
		a.mu.Unlock()
		return
	}
	a.current = n
	a.lastApplied = fp
	a.dirty = false
	a.mu.Unlock()

	a.widget.SetDocument(n.Blocks)
}

func (a *Adapter) saveNow() {
	a.mu.Lock()
	if !a.dirty {
		a.mu.Unlock()
		return
	}
	n := a.current
	a.dirty = false
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.saver.Save(ctx, n); err != nil {
		log.Printf("editor: save note %s: %v", n.ID, err)
		a.mu.Lock()
		a.dirty = true
		a.mu.Unlock()
	}
}

// Flush saves any pending edits immediately.
func (a *Adapter) Flush(ctx context.Context) {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if !a.dirty {
		a.mu.Unlock()
		return
	}
	n := a.current
	a.dirty = false
	a.mu.Unlock()

	if err := a.saver.Save(ctx, n); err != nil {
		log.Printf("editor: flush note %s: %v", n.ID, err)
	}
}

// Close flushes and detaches from the current note.
func (a *Adapter) Close(ctx context.Context) {
	a.Flush(ctx)
	a.mu.Lock()
	a.open = false
	a.mu.Unlock()
}
