// Package search provides full-text search over notes, backed by
// Meilisearch with an in-memory fallback.
package search

import "taskmark/api/internal/note"

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Snippet string   `json:"snippet"`
	Tags    []string `json:"tags,omitempty"`
}

// NoteRecord is the flat projection we index for a note.
type NoteRecord struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
	Updated int64    `json:"updated"`
}

// RecordFromNote projects a note into its indexable form.
func RecordFromNote(n note.Note) NoteRecord {
	return NoteRecord{
		ID:      n.ID,
		Title:   n.Title,
		Content: note.FlatText(n.Blocks),
		Tags:    n.Tags,
		Updated: n.Updated.UnixMilli(),
	}
}
