// Package note defines the taskmark note model: the block document tree,
// tags, derived projections, and the schema upgrade path for legacy notes.
package note

import (
	"strings"
	"time"
)

// SchemaVersion is the current note schema. Version 1 notes carried only a
// flat content string and a checklist; version 2 notes carry a block tree as
// the source of truth with content/checklist kept as derived projections.
const SchemaVersion = 2

// MaxTags is the hard cap on tags per note.
const MaxTags = 4

type Mode string

const (
	ModeLocal Mode = "LOCAL"
	ModeCloud Mode = "CLOUD"
)

// ParseMode returns the mode named by s, defaulting to LOCAL.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeCloud)) {
		return ModeCloud
	}
	return ModeLocal
}

// InlineSpan is a run of text inside a block, with optional style marks.
type InlineSpan struct {
	Type   string         `json:"type,omitempty"`
	Text   string         `json:"text"`
	Styles map[string]any `json:"styles,omitempty"`
	Marks  []string       `json:"marks,omitempty"`
	Href   string         `json:"href,omitempty"`
}

// Block is one node of the document tree. Type tags the node kind
// (paragraph, heading, bulletListItem, checkListItem, quote, ...); Props
// carries type-specific attributes such as heading level.
type Block struct {
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type"`
	Props    map[string]any `json:"props,omitempty"`
	Content  []InlineSpan   `json:"content,omitempty"`
	Children []Block        `json:"children,omitempty"`
}

// ChecklistItem is the derived checklist projection entry.
type ChecklistItem struct {
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// Note is the central entity. Blocks is the canonical content; Content and
// Checklist are derived projections kept for search indexing and for clients
// predating the block document.
type Note struct {
	ID            string          `json:"id"`
	SchemaVersion int             `json:"schemaVersion"`
	Title         string          `json:"title"`
	Blocks        []Block         `json:"blocks"`
	Tags          []string        `json:"tags"`
	Content       string          `json:"content"`
	Checklist     []ChecklistItem `json:"checklist"`
	Created       time.Time       `json:"created"`
	Updated       time.Time       `json:"updated"`
}

// Deleted is a note in the trash.
type Deleted struct {
	Note
	DeletedAt time.Time `json:"deletedAt"`
}

// Stats are derived word and line counts over the flat-text projection.
type Stats struct {
	Words int `json:"words"`
	Lines int `json:"lines"`
}

// EmptyDocument returns the document of a note with no content: exactly one
// empty paragraph block.
func EmptyDocument() []Block {
	return []Block{{Type: "paragraph"}}
}

// Normalize fills type-correct defaults in place and recomputes the derived
// projections. A note never leaves the store with a nil document or nil tag
// set.
func (n *Note) Normalize() {
	if n.SchemaVersion == 0 {
		n.SchemaVersion = SchemaVersion
	}
	if len(n.Blocks) == 0 {
		n.Blocks = EmptyDocument()
	}
	n.Tags = normalizeTags(n.Tags)
	n.Content = FlatText(n.Blocks)
	n.Checklist = ChecklistItems(n.Blocks)
	if n.Updated.IsZero() {
		n.Updated = n.Created
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}

// AddTag adds a lower-cased tag preserving insertion order. Duplicates and
// additions beyond MaxTags leave the tag set unchanged; the return reports
// whether the tag was added.
func (n *Note) AddTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || len(n.Tags) >= MaxTags {
		return false
	}
	for _, t := range n.Tags {
		if t == tag {
			return false
		}
	}
	n.Tags = append(n.Tags, tag)
	return true
}

// RemoveTag removes a tag; absent tags are a no-op.
func (n *Note) RemoveTag(tag string) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	out := n.Tags[:0]
	for _, t := range n.Tags {
		if t != tag {
			out = append(out, t)
		}
	}
	n.Tags = out
}

// FlatText projects a block tree onto plain text: the text of each top-level
// block on its own paragraph, blocks separated by blank lines.
func FlatText(blocks []Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if t := blockText(b); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

func blockText(b Block) string {
	var sb strings.Builder
	for _, span := range b.Content {
		sb.WriteString(span.Text)
	}
	for _, child := range b.Children {
		if t := blockText(child); t != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(t)
		}
	}
	return sb.String()
}

// ChecklistItems projects checkListItem blocks onto the legacy checklist
// shape, in document order.
func ChecklistItems(blocks []Block) []ChecklistItem {
	items := make([]ChecklistItem, 0)
	var walk func([]Block)
	walk = func(bs []Block) {
		for _, b := range bs {
			if b.Type == "checkListItem" {
				checked, _ := b.Props["checked"].(bool)
				items = append(items, ChecklistItem{Text: spanText(b.Content), Checked: checked})
			}
			walk(b.Children)
		}
	}
	walk(blocks)
	return items
}

func spanText(spans []InlineSpan) string {
	var sb strings.Builder
	for _, s := range spans {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// ComputeStats counts words and lines across the block tree.
func (n *Note) ComputeStats() Stats {
	text := FlatText(n.Blocks)
	var s Stats
	for _, line := range strings.Split(text, "\n") {
		s.Lines++
		if fields := strings.Fields(line); len(fields) > 0 {
			s.Words += len(fields)
		}
	}
	if text == "" {
		s.Lines = 0
	}
	return s
}

// Upgrade brings a note loaded from storage to the current schema. Version 1
// notes (flat content plus checklist, no block tree) gain a block document
// built from their legacy fields; the upgrade runs once at load, not at
// every access site.
func (n *Note) Upgrade() {
	if n.SchemaVersion >= SchemaVersion && len(n.Blocks) > 0 {
		n.Normalize()
		return
	}
	if len(n.Blocks) == 0 && (n.Content != "" || len(n.Checklist) > 0) {
		n.Blocks = blocksFromLegacy(n.Content, n.Checklist)
	}
	n.SchemaVersion = SchemaVersion
	n.Normalize()
}

func blocksFromLegacy(content string, checklist []ChecklistItem) []Block {
	var blocks []Block
	for _, para := range strings.Split(content, "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		blocks = append(blocks, Block{
			Type:    "paragraph",
			Content: []InlineSpan{{Type: "text", Text: para}},
		})
	}
	for _, item := range checklist {
		blocks = append(blocks, Block{
			Type:    "checkListItem",
			Props:   map[string]any{"checked": item.Checked},
			Content: []InlineSpan{{Type: "text", Text: item.Text}},
		})
	}
	if len(blocks) == 0 {
		blocks = EmptyDocument()
	}
	return blocks
}
