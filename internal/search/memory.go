package search

import (
	"sort"
	"strings"
	"sync"
)

// Memory is the fallback index: a substring scan over the flat-text
// projection of every note. It mirrors the full collection so search keeps
// working when Meilisearch is down or not configured, which is the normal
// case for local-only deployments.
type Memory struct {
	mu      sync.RWMutex
	records map[string]NoteRecord
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]NoteRecord)}
}

func (m *Memory) IndexNote(record NoteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record
	return nil
}

func (m *Memory) DeleteNote(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// Search matches case-insensitively against title, content, and tags, newest
// first. An empty query matches everything.
func (m *Memory) Search(q string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(q))

	m.mu.RLock()
	matched := make([]NoteRecord, 0, len(m.records))
	for _, record := range m.records {
		if needle == "" || recordMatches(record, needle) {
			matched = append(matched, record)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Updated > matched[j].Updated })
	if len(matched) > limit {
		matched = matched[:limit]
	}

	results := make([]Result, 0, len(matched))
	for _, record := range matched {
		results = append(results, Result{
			ID:      record.ID,
			Title:   record.Title,
			Snippet: snippetAround(record.Content, needle),
			Tags:    record.Tags,
		})
	}
	return results, nil
}

func recordMatches(record NoteRecord, needle string) bool {
	if strings.Contains(strings.ToLower(record.Title), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(record.Content), needle) {
		return true
	}
	for _, tag := range record.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// snippetAround cuts a window of the content around the first match.
func snippetAround(content, needle string) string {
	const window = 80
	if needle == "" || len(content) <= window {
		return truncate(content, window)
	}
	at := strings.Index(strings.ToLower(content), needle)
	if at < 0 {
		return truncate(content, window)
	}
	start := at - window/2
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
