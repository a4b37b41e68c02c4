package search

import (
	"context"
	"testing"
	"time"

	"taskmark/api/internal/note"
)

func record(id, title, content string, tags ...string) NoteRecord {
	return NoteRecord{ID: id, Title: title, Content: content, Tags: tags, Updated: time.Now().UnixMilli()}
}

func TestMemoryMatchesTitleContentAndTags(t *testing.T) {
	m := NewMemory()
	_ = m.IndexNote(record("n1", "Meeting notes", "quarterly planning agenda"))
	_ = m.IndexNote(record("n2", "Groceries", "milk and eggs", "errands"))

	cases := []struct {
		q    string
		want string
	}{
		{"meeting", "n1"},   // title, case-insensitive
		{"quarterly", "n1"}, // content
		{"errands", "n2"},   // tag
	}
	for _, c := range cases {
		results, err := m.Search(c.q, 10)
		if err != nil {
			t.Fatalf("Search(%q): %v", c.q, err)
		}
		if len(results) != 1 || results[0].ID != c.want {
			t.Errorf("Search(%q) = %+v, want single hit %s", c.q, results, c.want)
		}
	}
}

func TestMemoryEmptyQueryMatchesAll(t *testing.T) {
	m := NewMemory()
	_ = m.IndexNote(record("n1", "a", "x"))
	_ = m.IndexNote(record("n2", "b", "y"))

	results, err := m.Search("", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("len(results) = %d, want 2", len(results))
	}
}

func TestMemoryOrdersNewestFirstAndLimits(t *testing.T) {
	m := NewMemory()
	old := record("old", "note", "same words")
	old.Updated = 100
	fresh := record("fresh", "note", "same words")
	fresh.Updated = 200
	_ = m.IndexNote(old)
	_ = m.IndexNote(fresh)

	results, err := m.Search("note", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "fresh" {
		t.Errorf("results = %+v, want [fresh]", results)
	}
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	_ = m.IndexNote(record("n1", "hello", "world"))
	_ = m.DeleteNote("n1")

	results, err := m.Search("hello", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("deleted record still matches: %+v", results)
	}
}

func TestMemorySnippetWindowsLongContent(t *testing.T) {
	m := NewMemory()
	long := "padding before the interesting part "
	for i := 0; i < 10; i++ {
		long += "filler words here "
	}
	long += "needle in the middle "
	for i := 0; i < 10; i++ {
		long += "more filler after "
	}
	_ = m.IndexNote(record("n1", "t", long))

	results, err := m.Search("needle", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	snippet := results[0].Snippet
	if len(snippet) > 100 {
		t.Errorf("snippet too long: %d bytes", len(snippet))
	}
	if snippet == "" {
		t.Errorf("snippet empty")
	}
}

func TestRecordFromNote(t *testing.T) {
	n := note.Note{
		ID:    "n1",
		Title: "Plans",
		Blocks: []note.Block{
			{Type: "paragraph", Content: []note.InlineSpan{{Type: "text", Text: "first"}}},
			{Type: "paragraph", Content: []note.InlineSpan{{Type: "text", Text: "second"}}},
		},
		Tags:    []string{"work"},
		Updated: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	r := RecordFromNote(n)
	if r.ID != "n1" || r.Title != "Plans" {
		t.Errorf("record = %+v", r)
	}
	if r.Content != "first\n\nsecond" {
		t.Errorf("Content = %q", r.Content)
	}
	if r.Updated != n.Updated.UnixMilli() {
		t.Errorf("Updated = %d", r.Updated)
	}
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	s := NewService(nil)

	n := note.Note{ID: "n1", Title: "Fallback works", Updated: time.Now()}
	n.Normalize()
	s.Index(n)

	results, err := s.Search(context.Background(), "fallback", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "n1" {
		t.Errorf("results = %+v", results)
	}

	s.Remove("n1")
	results, _ = s.Search(context.Background(), "fallback", 10)
	if len(results) != 0 {
		t.Errorf("removed note still indexed: %+v", results)
	}
}
