package search

import (
	"context"
	"log"

	"taskmark/api/internal/note"
)

// Service is the facade that tries Meilisearch first and falls back to the
// in-memory scan. meili may be nil when Meilisearch is not configured.
type Service struct {
	meili  *Meili
	memory *Memory
}

func NewService(meili *Meili) *Service {
	return &Service{meili: meili, memory: NewMemory()}
}

// Index mirrors a note into both backends (fire-and-forget to Meilisearch).
func (s *Service) Index(n note.Note) {
	record := RecordFromNote(n)
	_ = s.memory.IndexNote(record)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexNote(record); err != nil {
			log.Printf("search: index note %s: %v", record.ID, err)
		}
	}()
}

// Remove drops a note from both backends.
func (s *Service) Remove(id string) {
	_ = s.memory.DeleteNote(id)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteNote(id); err != nil {
			log.Printf("search: delete note %s: %v", id, err)
		}
	}()
}

// Search tries Meilisearch if healthy, otherwise falls back to the memory
// scan. Search never fails: a broken backend degrades to the fallback.
func (s *Service) Search(ctx context.Context, q string, limit int) ([]Result, error) {
	if s.meili != nil && s.meili.Healthy() {
		results, err := s.meili.Search(q, limit)
		if err == nil {
			return nonNil(results), nil
		}
		log.Printf("search: meilisearch error, falling back to memory scan: %v", err)
	}
	results, err := s.memory.Search(q, limit)
	if err != nil {
		return []Result{}, nil
	}
	return nonNil(results), nil
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
