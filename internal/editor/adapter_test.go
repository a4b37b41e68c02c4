package editor

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskmark/api/internal/note"
)

type fakeWidget struct {
	mu   sync.Mutex
	sets [][]note.Block
}

func (w *fakeWidget) SetDocument(blocks []note.Block) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sets = append(w.sets, blocks)
}

func (w *fakeWidget) setCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sets)
}

type fakeSaver struct {
	mu    sync.Mutex
	saves []note.Note
	err   error
}

func (s *fakeSaver) Save(_ context.Context, n note.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves = append(s.saves, n)
	return nil
}

func (s *fakeSaver) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *fakeSaver) last() note.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[len(s.saves)-1]
}

func doc(text string) []note.Block {
	return []note.Block{{Type: "paragraph", Content: []note.InlineSpan{{Type: "text", Text: text}}}}
}

func openNote(t *testing.T, a *Adapter, id string) note.Note {
	t.Helper()
	n := note.Note{ID: id, Blocks: doc("initial")}
	a.Open(context.Background(), n)
	return n
}

func TestOpenLoadsWidget(t *testing.T) {
	widget := &fakeWidget{}
	saver := &fakeSaver{}
	a := NewAdapter(widget, saver, 20*time.Millisecond)

	openNote(t, a, "n1")
	if widget.setCount() != 1 {
		t.Errorf("SetDocument calls = %d, want 1", widget.setCount())
	}
}

func TestKeystrokesBatchIntoOneSave(t *testing.T) {
	widget := &fakeWidget{}
	saver := &fakeSaver{}
	a := NewAdapter(widget, saver, 20*time.Millisecond)
	openNote(t, a, "n1")

	// A typing burst: each keystroke hands the whole document back.
	a.OnEdit(doc("h"))
	a.OnEdit(doc("he"))
	a.OnEdit(doc("hel"))
	a.OnEdit(doc("hello"))

	time.Sleep(100 * time.Millisecond)
	if saver.saveCount() != 1 {
		t.Fatalf("saves = %d, want 1 batched save", saver.saveCount())
	}
	if got := saver.last().Blocks[0].Content[0].Text; got != "hello" {
		t.Errorf("saved text = %q, want the final burst state", got)
	}
}

func TestEchoedContentIsSuppressed(t *testing.T) {
	widget := &fakeWidget{}
	saver := &fakeSaver{}
	a := NewAdapter(widget, saver, 20*time.Millisecond)
	n := openNote(t, a, "n1")

	// The widget echoes exactly what Open applied; no save may result.
	a.OnEdit(n.Blocks)
	time.Sleep(100 * time.Millisecond)
	if saver.saveCount() != 0 {
		t.Errorf("echo produced %d saves", saver.saveCount())
	}
}

func TestApplyExternalUpdatesWidget(t *testing.T) {
	widget := &fakeWidget{}
	saver := &fakeSaver{}
	a := NewAdapter(widget, saver, 20*time.Millisecond)
	openNote(t, a, "n1")

	external := note.Note{ID: "n1", Blocks: doc("changed elsewhere")}
	a.ApplyExternal(external)
	if widget.setCount() != 2 {
		t.Fatalf("SetDocument calls = %d, want 2", widget.setCount())
	}

	// Applying the same content again must not re-set the widget: this is
	// the feedback-cycle breaker.
	a.ApplyExternal(external)
	if widget.setCount() != 2 {
		t.Errorf("identical external change re-applied")
	}

	// And the widget echoing that applied content must not save.
	a.OnEdit(external.Blocks)
	time.Sleep(100 * time.Millisecond)
	if saver.saveCount() != 0 {
		t.Errorf("echo of external change produced %d saves", saver.saveCount())
	}
}

func TestApplyExternalIgnoresOtherNotes(t *testing.T) {
	widget := &fakeWidget{}
	saver := &fakeSaver{}
	a := NewAdapter(widget, saver, 20*time.Millisecond)
	openNote(t, a, "n1")

	a.ApplyExternal(note.Note{ID: "other", Blocks: doc("unrelated")})
	if widget.setCount() != 1 {
		t.Errorf("change for another note reached the widget")
	}
}

func TestFlushSavesPendingEdits(t *testing.T) {
	widget := &fakeWidget{}
	saver := &fakeSaver{}
	a := NewAdapter(widget, saver, time.Hour) // window never elapses on its own
	openNote(t, a, "n1")

	a.OnEdit(doc("unsaved"))
	a.Flush(context.Background())

	if saver.saveCount() != 1 {
		t.Fatalf("saves = %d, want 1", saver.saveCount())
	}
	// Flushing again with nothing pending is a no-op.
	a.Flush(context.Background())
	if saver.saveCount() != 1 {
		t.Errorf("idle flush saved again")
	}
}

func TestOpenFlushesPreviousNote(t *testing.T) {
	widget := &fakeWidget{}
	saver := &fakeSaver{}
	a := NewAdapter(widget, saver, time.Hour)
	openNote(t, a, "n1")

	a.OnEdit(doc("edited first note"))
	a.Open(context.Background(), note.Note{ID: "n2", Blocks: doc("second")})

	if saver.saveCount() != 1 {
		t.Fatalf("saves = %d, want 1 flush before switching", saver.saveCount())
	}
	if saver.last().ID != "n1" {
		t.Errorf("flushed note = %s, want n1", saver.last().ID)
	}
}

func TestSetTitleDebounces(t *testing.T) {
	widget := &fakeWidget{}
	saver := &fakeSaver{}
	a := NewAdapter(widget, saver, 20*time.Millisecond)
	openNote(t, a, "n1")

	a.SetTitle("d")
	a.SetTitle("dr")
	a.SetTitle("draft")

	time.Sleep(100 * time.Millisecond)
	if saver.saveCount() != 1 {
		t.Fatalf("saves = %d, want 1", saver.saveCount())
	}
	if saver.last().Title != "draft" {
		t.Errorf("saved title = %q", saver.last().Title)
	}
}

func TestCloseDetaches(t *testing.T) {
	widget := &fakeWidget{}
	saver := &fakeSaver{}
	a := NewAdapter(widget, saver, time.Hour)
	openNote(t, a, "n1")

	a.OnEdit(doc("pending"))
	a.Close(context.Background())
	if saver.saveCount() != 1 {
		t.Fatalf("Close should flush, saves = %d", saver.saveCount())
	}

	// Edits after Close are ignored.
	a.OnEdit(doc("after close"))
	a.Flush(context.Background())
	if saver.saveCount() != 1 {
		t.Errorf("edit after Close produced a save")
	}
}
